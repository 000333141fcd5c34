// Package notification implements the fan-out side of the pipeline: routing
// decoded stream entries to entity handlers, resolving subscribers, and
// delivering per-recipient emails with retry and an idempotency ledger.
package notification

import (
	"context"
	"errors"
	"time"
)

// EntityKind identifies the three notifiable entity kinds.
type EntityKind string

const (
	KindChapter  EntityKind = "chapter"
	KindEvent    EntityKind = "event"
	KindSnapshot EntityKind = "snapshot"
)

// Chapter is the slice of a chapter row the pipeline needs.
type Chapter struct {
	ID   int64
	Name string
}

// Event is the slice of an event row the pipeline needs.
type Event struct {
	ID        int64
	Name      string
	StartDate time.Time
}

// Snapshot is the slice of a snapshot row the pipeline needs. Key is the
// URL slug used in related links.
type Snapshot struct {
	ID    int64
	Title string
	Key   string
}

// User is a notification recipient.
type User struct {
	ID    int64
	Email string
}

// Scope is a subscription target: every entity of a kind, or one specific
// entity. The subscription store encodes the global case as object_id = 0;
// that sentinel is translated at the storage boundary, never used here.
type Scope struct {
	entityID int64
}

// GlobalScope targets every entity of a kind.
func GlobalScope() Scope {
	return Scope{}
}

// EntityScope targets one specific entity.
func EntityScope(id int64) Scope {
	return Scope{entityID: id}
}

// IsGlobal reports whether the scope covers every entity of the kind.
func (s Scope) IsGlobal() bool {
	return s.entityID == 0
}

// ObjectID returns the collaborator encoding of the scope (0 = global).
func (s Scope) ObjectID() int64 {
	return s.entityID
}

// ErrEntityNotFound is returned by EntityStore lookups for stale references.
// The router swallows it: a deleted entity must not block the pipeline.
var ErrEntityNotFound = errors.New("entity not found")

// EntityStore loads entities from the authoritative persistence store.
type EntityStore interface {
	Chapter(ctx context.Context, id int64) (*Chapter, error)
	Event(ctx context.Context, id int64) (*Event, error)
	Snapshot(ctx context.Context, id int64) (*Snapshot, error)
}

// SubscriberDirectory resolves the active users subscribed to a target.
type SubscriberDirectory interface {
	ActiveSubscribers(ctx context.Context, kind EntityKind, scope Scope) ([]User, error)
}

// Mailer is the outbound email transport.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Key is the idempotency tuple: at most one delivery exists per key.
type Key struct {
	RecipientID int64
	Type        string
	RelatedLink string
	Message     string
}

// Receipt is a ledger row recording one successful delivery.
type Receipt struct {
	RecipientID int64
	Type        string
	Title       string
	Message     string
	RelatedLink string
	CreatedAt   time.Time
}

// Ledger is the append-only record of successful deliveries and the source
// of truth for the idempotency check. No deletion path is exposed.
type Ledger interface {
	Exists(ctx context.Context, key Key) (bool, error)
	Record(ctx context.Context, r Receipt) error
}

// Note is the composed human-readable payload handed to the delivery
// engine for each recipient.
type Note struct {
	Type        string
	Title       string
	Message     string
	RelatedLink string
}
