package models

import "time"

// Session is the client-side view of a signed-in account. Token is the
// opaque lock token this client generated at sign-in and upserted into the
// remote session lock row; AccessToken is the bearer token minted by the
// remote store for subsequent calls.
type Session struct {
	AccountID   string
	Token       string
	AccessToken string
	Admin       bool
	CreatedAt   time.Time
}

// SessionLock mirrors the single remote row per account recording which
// session token is currently authoritative.
type SessionLock struct {
	AccountID string
	Token     string
	UpdatedAt time.Time
}
