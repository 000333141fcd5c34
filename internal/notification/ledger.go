package notification

import (
	"context"
	"database/sql"
	"fmt"
)

// PGLedger is the Postgres-backed delivery ledger. Rows are append-only;
// there is no deletion path.
type PGLedger struct {
	db *sql.DB
}

// NewPGLedger wraps an open database handle.
func NewPGLedger(db *sql.DB) *PGLedger {
	return &PGLedger{db: db}
}

// Exists reports whether a delivery with the exact idempotency key has
// already been recorded.
func (l *PGLedger) Exists(ctx context.Context, key Key) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM owasp_notifications
		WHERE recipient_id = $1
		  AND notification_type = $2
		  AND related_link = $3
		  AND message = $4
	)`

	var exists bool
	err := l.db.QueryRowContext(ctx, q, key.RecipientID, key.Type, key.RelatedLink, key.Message).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query notification ledger: %w", err)
	}
	return exists, nil
}

// Record appends one delivery receipt.
func (l *PGLedger) Record(ctx context.Context, r Receipt) error {
	const q = `INSERT INTO owasp_notifications
		(recipient_id, notification_type, title, message, related_link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := l.db.ExecContext(ctx, q, r.RecipientID, r.Type, r.Title, r.Message, r.RelatedLink, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger row: %w", err)
	}
	return nil
}
