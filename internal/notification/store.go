package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/owasp/nest-notifications/internal/events"
)

// PGEntityStore loads chapters, events and snapshots from the shared
// Postgres schema. It also backs the change detector's prior-value loads
// and the deadline scanner's date query.
type PGEntityStore struct {
	db *sql.DB
}

// NewPGEntityStore wraps an open database handle.
func NewPGEntityStore(db *sql.DB) *PGEntityStore {
	return &PGEntityStore{db: db}
}

// Chapter loads one chapter row.
func (s *PGEntityStore) Chapter(ctx context.Context, id int64) (*Chapter, error) {
	var c Chapter
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM owasp_chapters WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter %d: %w", id, err)
	}
	return &c, nil
}

// Event loads one event row.
func (s *PGEntityStore) Event(ctx context.Context, id int64) (*Event, error) {
	var e Event
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, start_date FROM owasp_events WHERE id = $1`, id).Scan(&e.ID, &e.Name, &e.StartDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %d: %w", id, err)
	}
	return &e, nil
}

// Snapshot loads one snapshot row.
func (s *PGEntityStore) Snapshot(ctx context.Context, id int64) (*Snapshot, error) {
	var sn Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, key FROM owasp_snapshots WHERE id = $1`, id).Scan(&sn.ID, &sn.Title, &sn.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %d: %w", id, err)
	}
	return &sn, nil
}

// StartingOn returns the events whose start date falls on the given
// calendar day.
func (s *PGEntityStore) StartingOn(ctx context.Context, day time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, start_date FROM owasp_events WHERE start_date = $1`,
		day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query events starting on %s: %w", day.Format("2006-01-02"), err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Name, &e.StartDate); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

// chapterPriorLoader adapts the store to the change detector for chapters.
type chapterPriorLoader struct {
	store *PGEntityStore
}

// eventPriorLoader adapts the store to the change detector for events.
type eventPriorLoader struct {
	store *PGEntityStore
}

// ChapterPriorLoader returns a loader for the chapter observer.
func (s *PGEntityStore) ChapterPriorLoader() events.PriorLoader {
	return chapterPriorLoader{store: s}
}

// EventPriorLoader returns a loader for the event observer.
func (s *PGEntityStore) EventPriorLoader() events.PriorLoader {
	return eventPriorLoader{store: s}
}

func (l chapterPriorLoader) PriorValues(ctx context.Context, id int64, fields []string) (events.FieldValues, error) {
	return l.store.priorValues(ctx, "owasp_chapters", id, fields)
}

func (l eventPriorLoader) PriorValues(ctx context.Context, id int64, fields []string) (events.FieldValues, error) {
	return l.store.priorValues(ctx, "owasp_events", id, fields)
}

// priorValues reads the current stored values of the whitelisted fields for
// one row, or nil when the row does not exist. Field names come from the
// fixed whitelists, never from user input; quoting is still applied.
func (s *PGEntityStore) priorValues(ctx context.Context, table string, id int64, fields []string) (events.FieldValues, error) {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = pq.QuoteIdentifier(f)
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
		strings.Join(cols, ", "), pq.QuoteIdentifier(table))

	dest := make([]sql.NullString, len(fields))
	scan := make([]interface{}, len(fields))
	for i := range dest {
		scan[i] = &dest[i]
	}

	err := s.db.QueryRowContext(ctx, q, id).Scan(scan...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prior values from %s: %w", table, err)
	}

	values := events.FieldValues{}
	for i, f := range fields {
		if dest[i].Valid {
			values[f] = dest[i].String
		}
	}
	return values, nil
}

var _ EntityStore = (*PGEntityStore)(nil)
