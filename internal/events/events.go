// Package events defines the domain-event publication contract: the wire
// format of main-stream entries, the producers that append them, and the
// pre/post-commit change detection that drives update events.
package events

import "encoding/json"

// MainStream is the append-only log of domain events.
const MainStream = "owasp_notifications"

// Event type tags carried in the "type" field of every main-stream entry.
const (
	TypeSnapshotPublished     = "snapshot_published"
	TypeChapterCreated        = "chapter_created"
	TypeChapterUpdated        = "chapter_updated"
	TypeEventCreated          = "event_created"
	TypeEventUpdated          = "event_updated"
	TypeEventDeadlineReminder = "event_deadline_reminder"
)

// Well-known record keys.
const (
	KeyType          = "type"
	KeyTimestamp     = "timestamp"
	KeySnapshotID    = "snapshot_id"
	KeyChapterID     = "chapter_id"
	KeyEventID       = "event_id"
	KeyChangedFields = "changed_fields"
	KeyDaysRemaining = "days_remaining"
)

// FieldChange holds the prior and current value of one changed field.
// Empty and absent values are normalized to nil before comparison, so a
// nil pointer here means "was empty".
type FieldChange struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

// ChangedFields maps a field name to its old/new values. It travels on the
// stream as a JSON-encoded string under the changed_fields key.
type ChangedFields map[string]FieldChange

// Encode serializes the change set for the stream record.
func (c ChangedFields) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeChangedFields parses the JSON-encoded change set carried by
// *_updated entries.
func DecodeChangedFields(s string) (ChangedFields, error) {
	var c ChangedFields
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	return c, nil
}
