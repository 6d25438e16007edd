package drafts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inspectra/internal/client/models"
	"inspectra/internal/dbx"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save replaces the whole stored draft in one transaction: scalar fields as
// a JSON document, item markers and attachment payloads as separate rows so
// binary data is stored side-by-side with its metadata, not serialized as
// text.
func (r *SQLiteRepository) Save(ctx context.Context, draft *models.Draft) error {
	fields, err := json.Marshal(draft.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal draft fields: %w", err)
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := deleteAll(ctx, tx, draft.AccountID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO drafts (account_id, page, updated_at, fields) VALUES (?, ?, ?, ?)`,
			draft.AccountID, string(draft.Page), draft.UpdatedAt.UTC().Format(time.RFC3339Nano), string(fields))
		if err != nil {
			return fmt.Errorf("failed to insert draft: %w", err)
		}

		for item, st := range draft.Items {
			if !st.Touched() {
				continue
			}
			na := 0
			if st.NotApplicable {
				na = 1
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO draft_items (account_id, item, not_applicable) VALUES (?, ?, ?)`,
				draft.AccountID, item, na)
			if err != nil {
				return fmt.Errorf("failed to insert draft item: %w", err)
			}

			for seq, a := range st.Attachments {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO draft_attachments (account_id, item, seq, filename, mime_type, captured_at, bytes)
					 VALUES (?, ?, ?, ?, ?, ?, ?)`,
					draft.AccountID, item, seq, a.Filename, a.MimeType,
					a.CapturedAt.UTC().Format(time.RFC3339Nano), a.Bytes)
				if err != nil {
					return fmt.Errorf("failed to insert draft attachment: %w", err)
				}
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) Get(ctx context.Context, accountID string) (*models.Draft, error) {
	var page, updatedAt, fields string
	err := r.db.QueryRowContext(ctx,
		`SELECT page, updated_at, fields FROM drafts WHERE account_id = ?`, accountID).
		Scan(&page, &updatedAt, &fields)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	draft := models.NewDraft(accountID, models.Page(page))
	if draft.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse draft timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &draft.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft fields: %w", err)
	}

	if err := r.loadItems(ctx, draft); err != nil {
		return nil, err
	}
	if err := r.loadAttachments(ctx, draft); err != nil {
		return nil, err
	}

	// A restored draft carries meaningful work by definition.
	draft.MarkDirty()
	return draft, nil
}

func (r *SQLiteRepository) loadItems(ctx context.Context, draft *models.Draft) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item, not_applicable FROM draft_items WHERE account_id = ?`, draft.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load draft items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item string
		var na int
		if err := rows.Scan(&item, &na); err != nil {
			return fmt.Errorf("failed to scan draft item: %w", err)
		}
		if na != 0 {
			draft.MarkNotApplicable(item)
		}
	}
	return rows.Err()
}

func (r *SQLiteRepository) loadAttachments(ctx context.Context, draft *models.Draft) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item, filename, mime_type, captured_at, bytes
		 FROM draft_attachments WHERE account_id = ? ORDER BY item, seq`, draft.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load draft attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item, filename, mimeType, capturedAt string
		var data []byte
		if err := rows.Scan(&item, &filename, &mimeType, &capturedAt, &data); err != nil {
			return fmt.Errorf("failed to scan draft attachment: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, capturedAt)
		if err != nil {
			return fmt.Errorf("failed to parse attachment timestamp: %w", err)
		}
		draft.AddAttachment(item, models.Attachment{
			Bytes:      data,
			Filename:   filename,
			MimeType:   mimeType,
			CapturedAt: ts,
		})
	}
	return rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, accountID string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return deleteAll(ctx, tx, accountID)
	})
}

func deleteAll(ctx context.Context, tx dbx.DBTX, accountID string) error {
	for _, table := range []string{"draft_attachments", "draft_items", "drafts"} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE account_id = ?`, table)
		if _, err := tx.ExecContext(ctx, query, accountID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
