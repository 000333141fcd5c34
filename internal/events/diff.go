package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Whitelisted fields that trigger update notifications when they change.
var (
	ChapterFields = []string{"name", "country", "region", "suggested_location", "description"}
	EventFields   = []string{"name", "start_date", "end_date", "suggested_location", "url", "description"}
)

// FieldValues holds the whitelisted field values of an entity row. Absent
// keys and empty strings both mean "no value".
type FieldValues map[string]string

// Diff computes the change set between prior and current values over the
// given field whitelist. Empty strings and absent keys are unified with the
// null sentinel, so "" -> "x" records old=nil, new="x". Unchanged fields
// are omitted.
func Diff(fields []string, prior, current FieldValues) ChangedFields {
	changes := make(ChangedFields)
	for _, field := range fields {
		oldVal := normalize(prior[field])
		newVal := normalize(current[field])
		if equalValues(oldVal, newVal) {
			continue
		}
		changes[field] = FieldChange{Old: oldVal, New: newVal}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

func normalize(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func equalValues(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// PriorLoader reads the whitelisted fields of an entity row from the
// authoritative store. It returns nil (no error) when the row does not
// exist.
type PriorLoader interface {
	PriorValues(ctx context.Context, id int64, fields []string) (FieldValues, error)
}

// Observer hooks an entity store's commit path. BeforeSave captures the
// prior row, AfterSave publishes created/updated events. The prior snapshot
// is passed back explicitly rather than stashed on the entity.
type Observer struct {
	fields  []string
	loader  PriorLoader
	log     *logrus.Logger
	created func(ctx context.Context, id int64)
	updated func(ctx context.Context, id int64, changes ChangedFields)
}

// NewChapterObserver observes chapter commits.
func NewChapterObserver(loader PriorLoader, pub *Publisher, log *logrus.Logger) *Observer {
	return &Observer{
		fields:  ChapterFields,
		loader:  loader,
		log:     log,
		created: pub.ChapterCreated,
		updated: pub.ChapterUpdated,
	}
}

// NewEventObserver observes event commits.
func NewEventObserver(loader PriorLoader, pub *Publisher, log *logrus.Logger) *Observer {
	return &Observer{
		fields:  EventFields,
		loader:  loader,
		log:     log,
		created: pub.EventCreated,
		updated: pub.EventUpdated,
	}
}

// BeforeSave captures the prior whitelisted values of the row about to be
// written. For a new entity (id == 0) it returns an empty snapshot; when
// the row is missing it returns nil, which suppresses the update event.
func (o *Observer) BeforeSave(ctx context.Context, id int64) (FieldValues, error) {
	if id == 0 {
		return FieldValues{}, nil
	}
	prior, err := o.loader.PriorValues(ctx, id, o.fields)
	if err != nil {
		return nil, err
	}
	return prior, nil
}

// AfterSave runs after the commit. Creations publish a created event;
// updates publish an updated event only when the diff against the prior
// snapshot is non-empty. A nil prior snapshot (row was absent before the
// commit, e.g. a replayed signal) suppresses the event entirely.
func (o *Observer) AfterSave(ctx context.Context, id int64, created bool, prior, current FieldValues) {
	if created {
		o.created(ctx, id)
		return
	}
	if prior == nil {
		o.log.WithField("id", id).Debug("No prior snapshot for update, skipping event")
		return
	}
	changes := Diff(o.fields, prior, current)
	if len(changes) == 0 {
		return
	}
	o.updated(ctx, id, changes)
}
