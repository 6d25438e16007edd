// Package drafts persists the single in-progress draft per account,
// including attachment payloads, in the client's local SQLite database.
package drafts

import (
	"context"

	"inspectra/internal/client/models"
)

type Repository interface {
	// Save replaces the stored draft for draft.AccountID atomically.
	Save(ctx context.Context, draft *models.Draft) error

	// Get loads the stored draft for the account; (nil, nil) when none.
	Get(ctx context.Context, accountID string) (*models.Draft, error)

	// Delete removes the stored draft for the account. Deleting a missing
	// draft is not an error.
	Delete(ctx context.Context, accountID string) error
}
