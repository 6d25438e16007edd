// Package services contains the application services of the capture client:
// session gating (single active session per account, idle logout), durable
// draft persistence, the bounded-concurrency upload pipeline, and
// submission reentrancy protection.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"inspectra/internal/client/models"
	"inspectra/internal/client/remote"
	"inspectra/internal/common"
	"inspectra/internal/logging"
)

// SessionState is the lifecycle state of the local session.
type SessionState int

const (
	StateSignedOut SessionState = iota
	StateSigningIn
	StateSignedIn
)

// LogoutReason explains why a session ended. Superseded and Idle are
// surfaced to the user distinctly from a voluntary logout.
type LogoutReason string

const (
	ReasonNone       LogoutReason = ""
	ReasonVoluntary  LogoutReason = "voluntary"
	ReasonSuperseded LogoutReason = "superseded"
	ReasonIdle       LogoutReason = "idle"
)

// SessionGuardConfig carries the timing knobs of the guard.
type SessionGuardConfig struct {
	// PollInterval is how often the remote session lock is compared against
	// the local token.
	PollInterval time.Duration

	// GraceWindow is the period after our own sign-in during which a
	// mismatched lock read is treated as replication lag, not supersession.
	GraceWindow time.Duration

	// IdleThreshold is how long the operator may stay inactive before the
	// session is terminated.
	IdleThreshold time.Duration
}

// SessionGuard gates the client behind a single valid, non-superseded
// session. The remote lock row is an eventually-consistent broadcast of
// "who holds the session now", never a strict mutex: the guard detects that
// it lost a sign-in race, it never tries to win one.
type SessionGuard struct {
	store remote.Store
	log   logging.Logger
	cfg   SessionGuardConfig

	now func() time.Time

	mu            sync.Mutex
	state         SessionState
	session       *models.Session
	lastSignIn    time.Time
	lastActivity  time.Time
	graceMismatch bool
	logoutReason  LogoutReason
	onForced      []func(LogoutReason, string)
}

func NewSessionGuard(store remote.Store, cfg SessionGuardConfig, log logging.Logger) *SessionGuard {
	return &SessionGuard{
		store: store,
		cfg:   cfg,
		log:   log.With("component", "session_guard"),
		now:   time.Now,
	}
}

// OnForcedLogout registers a callback fired after a supersession or idle
// logout. Dependents (draft cleanup, navigation reset) subscribe here
// instead of polling shared flags. Not safe to call after Run has started.
func (g *SessionGuard) OnForcedLogout(fn func(LogoutReason, string)) {
	g.onForced = append(g.onForced, fn)
}

// SignIn authenticates the account, claims the remote session lock with a
// fresh opaque token, and confirms the claim with a read-your-write check.
// A claim that cannot be read back under our own token voids the sign-in:
// the account is signed back out and ErrLockNotConfirmed is returned rather
// than leaving the user logged in without an enforceable lock.
func (g *SessionGuard) SignIn(ctx context.Context, identity string, secret []byte) (*models.Session, error) {
	g.mu.Lock()
	switch g.state {
	case StateSigningIn:
		g.mu.Unlock()
		return nil, common.ErrSignInInProgress
	case StateSignedIn:
		g.mu.Unlock()
		return nil, common.ErrSignInInProgress
	}
	g.state = StateSigningIn
	g.mu.Unlock()

	session, err := g.signIn(ctx, identity, secret)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.state = StateSignedOut
		return nil, err
	}

	now := g.now()
	g.state = StateSignedIn
	g.session = session
	g.lastSignIn = now
	g.lastActivity = now
	g.graceMismatch = false
	g.logoutReason = ReasonNone
	return session, nil
}

func (g *SessionGuard) signIn(ctx context.Context, identity string, secret []byte) (*models.Session, error) {
	auth, err := g.store.SignIn(ctx, identity, secret)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredential) || errors.Is(err, common.ErrNetworkFailure) {
			return nil, err
		}
		return nil, common.ErrNetworkFailure
	}

	token, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, err
	}

	now := g.now()
	if err := g.claimLock(ctx, auth.AccountID, token); err != nil {
		_ = g.store.SignOut(ctx)
		return nil, err
	}

	return &models.Session{
		AccountID:   auth.AccountID,
		Token:       token,
		AccessToken: auth.AccessToken,
		Admin:       auth.Admin,
		CreatedAt:   now,
	}, nil
}

// claimLock upserts the lock row and re-reads it to confirm the write is
// visible under our own token.
func (g *SessionGuard) claimLock(ctx context.Context, accountID, token string) error {
	err := g.store.UpsertRow(ctx, common.TableSessionLocks, accountID, map[string]any{
		"session_token": token,
		"updated_at":    g.now().UTC(),
	})
	if err != nil {
		return common.ErrNetworkFailure
	}

	row, err := g.store.SelectRow(ctx, common.TableSessionLocks, accountID)
	if err != nil || row == nil {
		return common.ErrLockNotConfirmed
	}
	if remoteToken, _ := row["session_token"].(string); remoteToken != token {
		return common.ErrLockNotConfirmed
	}
	return nil
}

// SignOut ends the session voluntarily, releasing the remote lock if this
// client still holds it.
func (g *SessionGuard) SignOut(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateSignedIn {
		g.mu.Unlock()
		return common.ErrNotSignedIn
	}
	session := g.session
	g.state = StateSignedOut
	g.session = nil
	g.logoutReason = ReasonVoluntary
	g.mu.Unlock()

	// Best effort: clear the lock only if it is still ours. Losing the race
	// here just means a newer session already owns the row.
	row, err := g.store.SelectRow(ctx, common.TableSessionLocks, session.AccountID)
	if err == nil && row != nil {
		if token, _ := row["session_token"].(string); token == session.Token {
			err := g.store.UpsertRow(ctx, common.TableSessionLocks, session.AccountID, map[string]any{
				"session_token": "",
				"updated_at":    g.now().UTC(),
			})
			if err != nil {
				g.log.Warn(ctx, "failed to release session lock", "error", err)
			}
		}
	}

	return g.store.SignOut(ctx)
}

// Touch records user interaction, resetting the idle countdown.
func (g *SessionGuard) Touch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateSignedIn {
		g.lastActivity = g.now()
	}
}

// Run polls the remote session lock and the idle clock until ctx is
// cancelled. Checks are strictly periodic and independent of UI timing.
func (g *SessionGuard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (g *SessionGuard) tick(ctx context.Context) {
	if !g.IsSignedIn() {
		return
	}
	if g.checkIdle(ctx) {
		return
	}
	g.pollLock(ctx)
}

// checkIdle compares elapsed time against the stored last-activity
// timestamp, so it fires correctly even after a period where timers did not
// run. Returns true when the session was terminated.
func (g *SessionGuard) checkIdle(ctx context.Context) bool {
	g.mu.Lock()
	idle := g.state == StateSignedIn && g.now().Sub(g.lastActivity) > g.cfg.IdleThreshold
	g.mu.Unlock()

	if !idle {
		return false
	}
	g.forceLogout(ctx, ReasonIdle)
	return true
}

// pollLock compares the remote lock token against ours. A network failure
// is silently retried on the next tick. A mismatch strictly within the
// grace window after our own sign-in is treated as a write race: the token
// is re-asserted once and polling continues. A mismatch after the window,
// or seen a second time, is a genuine supersession.
func (g *SessionGuard) pollLock(ctx context.Context) {
	g.mu.Lock()
	session := g.session
	g.mu.Unlock()
	if session == nil {
		return
	}

	row, err := g.store.SelectRow(ctx, common.TableSessionLocks, session.AccountID)
	if err != nil {
		g.log.Warn(ctx, "session lock poll failed", "error", err)
		return
	}

	var remoteToken string
	if row != nil {
		remoteToken, _ = row["session_token"].(string)
	}

	g.mu.Lock()
	if g.state != StateSignedIn || g.session != session {
		g.mu.Unlock()
		return
	}
	if remoteToken == session.Token {
		g.graceMismatch = false
		g.mu.Unlock()
		return
	}

	withinGrace := g.now().Sub(g.lastSignIn) <= g.cfg.GraceWindow
	if withinGrace && !g.graceMismatch {
		g.graceMismatch = true
		g.mu.Unlock()

		g.log.Info(ctx, "stale lock read inside grace window, re-asserting token",
			"account_id", session.AccountID)
		err := g.store.UpsertRow(ctx, common.TableSessionLocks, session.AccountID, map[string]any{
			"session_token": session.Token,
			"updated_at":    g.now().UTC(),
		})
		if err != nil {
			g.log.Warn(ctx, "failed to re-assert session lock", "error", err)
		}
		return
	}
	g.mu.Unlock()

	g.forceLogout(ctx, ReasonSuperseded)
}

func (g *SessionGuard) forceLogout(ctx context.Context, reason LogoutReason) {
	g.mu.Lock()
	if g.state != StateSignedIn {
		g.mu.Unlock()
		return
	}
	accountID := g.session.AccountID
	g.state = StateSignedOut
	g.session = nil
	g.logoutReason = reason
	callbacks := g.onForced
	g.mu.Unlock()

	g.log.Info(ctx, "session terminated", "account_id", accountID, "reason", string(reason))

	if err := g.store.SignOut(ctx); err != nil {
		g.log.Warn(ctx, "remote sign-out failed", "error", err)
	}
	for _, fn := range callbacks {
		fn(reason, accountID)
	}
}

// State returns the current lifecycle state.
func (g *SessionGuard) State() SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *SessionGuard) IsSignedIn() bool {
	return g.State() == StateSignedIn
}

// IsAdmin reports whether the signed-in account carries the admin claim.
func (g *SessionGuard) IsAdmin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session != nil && g.session.Admin
}

// Session returns a copy of the current session, or nil when signed out.
func (g *SessionGuard) Session() *models.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	s := *g.session
	return &s
}

// LastLogoutReason reports why the most recent session ended.
func (g *SessionGuard) LastLogoutReason() LogoutReason {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.logoutReason
}
