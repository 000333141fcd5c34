package notification

import (
	"context"
	"database/sql"
	"fmt"
)

// PGDirectory resolves subscribers from the shared subscription table. The
// object_id = 0 convention for global subscriptions lives entirely in the
// query here; callers only ever see Scope.
type PGDirectory struct {
	db *sql.DB
}

// NewPGDirectory wraps an open database handle.
func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

// ActiveSubscribers returns the active users subscribed to the given target.
func (d *PGDirectory) ActiveSubscribers(ctx context.Context, kind EntityKind, scope Scope) ([]User, error) {
	const q = `SELECT u.id, u.email
		FROM owasp_subscriptions s
		JOIN auth_user u ON u.id = s.user_id
		WHERE s.content_type = $1
		  AND s.object_id = $2
		  AND u.is_active`

	rows, err := d.db.QueryContext(ctx, q, string(kind), scope.ObjectID())
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscribers: %w", err)
	}
	return users, nil
}

var _ SubscriberDirectory = (*PGDirectory)(nil)
