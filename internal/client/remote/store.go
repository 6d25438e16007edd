// Package remote defines the contracts the capture client consumes from the
// backend: an authenticated row store for domain entities and the session
// lock, and an object store for photo payloads. The backend is treated as
// an opaque remote with eventual read-after-write visibility and no
// server-side locking primitives beyond single-row upsert.
package remote

import (
	"context"
	"time"
)

// Auth is the result of a successful sign-in.
type Auth struct {
	AccountID   string
	AccessToken string
	Admin       bool
}

// Store is the row-level contract.
//
// Contract:
//   - SignIn: verify the credential, return account identity and a bearer token.
//   - SignOut: invalidate the local bearer token; best effort remotely.
//   - UpsertRow: blind last-writer-wins insert-or-update of one row by key.
//   - SelectRow: fetch one row by key; (nil, nil) when absent.
//   - InsertRow / UpdateRow: plain single-row writes.
//
// All methods must honor context cancellation/timeouts.
type Store interface {
	SignIn(ctx context.Context, identity string, secret []byte) (*Auth, error)
	SignOut(ctx context.Context) error
	UpsertRow(ctx context.Context, table string, key string, fields map[string]any) error
	SelectRow(ctx context.Context, table string, key string) (map[string]any, error)
	InsertRow(ctx context.Context, table string, fields map[string]any) error
	UpdateRow(ctx context.Context, table string, key string, fields map[string]any) error
	Close()
}

// ObjectStore is the binary payload contract.
type ObjectStore interface {
	// Put stores data at path and returns the stored path.
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// SignedURL returns a time-limited download URL for a stored object.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}
