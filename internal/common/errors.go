// Package common defines shared constants and sentinel errors used across
// the Inspectra client layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Sign-in errors, surfaced at the sign-in form and never retried silently.
	ErrInvalidCredential = errors.New("invalid account or credential")
	ErrNetworkFailure    = errors.New("network failure")

	// ErrLockNotConfirmed means the session lock upsert could not be read
	// back under our own token: the sign-in is void and the account is
	// signed back out rather than left without an enforceable lock.
	ErrLockNotConfirmed = errors.New("session lock not confirmed")

	// ErrSignInInProgress rejects a second concurrent sign-in attempt.
	ErrSignInInProgress = errors.New("sign-in already in progress")

	// ErrNotSignedIn is returned by operations that require an active session.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrCommitInFlight rejects a commit while another commit of the same
	// batch has not yet settled.
	ErrCommitInFlight = errors.New("commit already in flight")
)
