package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/owasp/nest-notifications/internal/dlq"
	"github.com/owasp/nest-notifications/internal/events"
	"github.com/owasp/nest-notifications/internal/metrics"
	"github.com/owasp/nest-notifications/internal/stream"
)

// Sender delivers one composed note to one recipient. Satisfied by
// *Deliverer; tests substitute fakes.
type Sender interface {
	Deliver(ctx context.Context, user User, note Note) error
}

// Router maps decoded main-stream entries to entity handlers, resolves
// subscribers, composes the human-readable payload and hands each
// (recipient, note) pair to the delivery engine. Terminal delivery
// failures become DLQ entries.
type Router struct {
	store     EntityStore
	directory SubscriberDirectory
	deliverer Sender
	streams   *stream.Client
	siteURL   string
	log       *logrus.Logger
	now       func() time.Time
}

// NewRouter creates a dispatch router. siteURL is the base for related
// links.
func NewRouter(store EntityStore, directory SubscriberDirectory, deliverer Sender, streams *stream.Client, siteURL string, log *logrus.Logger) *Router {
	return &Router{
		store:     store,
		directory: directory,
		deliverer: deliverer,
		streams:   streams,
		siteURL:   strings.TrimRight(siteURL, "/"),
		log:       log,
		now:       time.Now,
	}
}

// dispatchRule describes how one event type is dispatched.
type dispatchRule struct {
	kind   EntityKind
	idKey  string
	global bool
}

var handlers = map[string]dispatchRule{
	events.TypeSnapshotPublished:     {kind: KindSnapshot, idKey: events.KeySnapshotID, global: true},
	events.TypeChapterCreated:        {kind: KindChapter, idKey: events.KeyChapterID, global: true},
	events.TypeChapterUpdated:        {kind: KindChapter, idKey: events.KeyChapterID},
	events.TypeEventCreated:          {kind: KindEvent, idKey: events.KeyEventID, global: true},
	events.TypeEventUpdated:          {kind: KindEvent, idKey: events.KeyEventID},
	events.TypeEventDeadlineReminder: {kind: KindEvent, idKey: events.KeyEventID},
}

// Handle dispatches a single decoded stream entry. A nil return means the
// entry is handled and must be acked: that includes unknown types, missing
// IDs and stale entity references. A non-nil return means the entry stays
// pending for later recovery.
func (r *Router) Handle(ctx context.Context, rec stream.Record) error {
	eventType := rec[events.KeyType]
	rule, ok := handlers[eventType]
	if !ok {
		r.log.WithField("type", eventType).Warn("Unknown message type")
		return nil
	}
	metrics.MessagesConsumed.WithLabelValues(eventType).Inc()

	rawID := rec[rule.idKey]
	if rawID == "" {
		return nil
	}
	entityID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		r.log.WithFields(logrus.Fields{"type": eventType, "id": rawID}).Warn("Malformed entity id")
		return nil
	}

	entity, err := r.loadEntity(ctx, rule.kind, entityID)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			r.log.WithFields(logrus.Fields{
				"kind": rule.kind,
				"id":   entityID,
			}).Error("Entity matching ID not found")
			return nil
		}
		return fmt.Errorf("failed to load %s %d: %w", rule.kind, entityID, err)
	}

	scope := GlobalScope()
	if !rule.global {
		scope = EntityScope(entityID)
	}
	users, err := r.directory.ActiveSubscribers(ctx, rule.kind, scope)
	if err != nil {
		return fmt.Errorf("failed to resolve subscribers: %w", err)
	}
	if len(users) == 0 {
		r.log.WithField("type", eventType).Info("No recipients found")
		return nil
	}

	r.log.WithFields(logrus.Fields{
		"type":  eventType,
		"users": len(users),
	}).Info("Sending notifications")

	note := r.composeNote(eventType, entity, rec)

	var failed []User
	for _, user := range users {
		if err := r.deliverer.Deliver(ctx, user, note); err != nil {
			r.log.WithError(err).WithField("email", user.Email).Error("Delivery failed terminally")
			failed = append(failed, user)
		}
	}

	if len(failed) == 0 {
		return nil
	}
	return r.quarantine(ctx, failed, note, entity, entityID)
}

// quarantine writes one DLQ entry per failed recipient. A failed DLQ write
// leaves the stream entry unacked so it can be recovered later.
func (r *Router) quarantine(ctx context.Context, failed []User, note Note, entity entityInfo, entityID int64) error {
	ts := strconv.FormatFloat(float64(r.now().UnixMilli())/1000.0, 'f', 3, 64)

	var writeErr error
	for _, user := range failed {
		entry := dlq.Entry{
			Type:             dlq.TypeFailedNotification,
			NotificationType: note.Type,
			UserID:           strconv.FormatInt(user.ID, 10),
			UserEmail:        user.Email,
			EntityType:       string(entity.kind),
			EntityID:         strconv.FormatInt(entityID, 10),
			EntityName:       entity.name,
			Title:            note.Title,
			Message:          note.Message,
			RelatedLink:      note.RelatedLink,
			Timestamp:        ts,
		}
		if _, err := r.streams.Append(ctx, dlq.Stream, entry.Record()); err != nil {
			writeErr = err
			continue
		}
		metrics.DLQMessages.WithLabelValues(dlq.TypeFailedNotification).Inc()
	}

	r.log.WithField("count", len(failed)).Warn("Sent failed notifications to DLQ")

	if writeErr != nil {
		return fmt.Errorf("failed to write DLQ entry: %w", writeErr)
	}
	return nil
}

// entityInfo is the display slice of a loaded entity.
type entityInfo struct {
	kind  EntityKind
	name  string
	title string
	path  string
}

func (r *Router) loadEntity(ctx context.Context, kind EntityKind, id int64) (entityInfo, error) {
	switch kind {
	case KindChapter:
		c, err := r.store.Chapter(ctx, id)
		if err != nil {
			return entityInfo{}, err
		}
		return entityInfo{kind: kind, name: c.Name, title: c.Name, path: fmt.Sprintf("chapters/%d", c.ID)}, nil
	case KindEvent:
		e, err := r.store.Event(ctx, id)
		if err != nil {
			return entityInfo{}, err
		}
		return entityInfo{kind: kind, name: e.Name, title: e.Name, path: fmt.Sprintf("events/%d", e.ID)}, nil
	case KindSnapshot:
		s, err := r.store.Snapshot(ctx, id)
		if err != nil {
			return entityInfo{}, err
		}
		return entityInfo{kind: kind, name: s.Title, title: s.Title, path: "community/snapshots/" + s.Key}, nil
	default:
		return entityInfo{}, ErrEntityNotFound
	}
}

// composeNote builds the title, message and related link for an event type
// per the notification templates.
func (r *Router) composeNote(eventType string, entity entityInfo, rec stream.Record) Note {
	daysInfo := ""
	if days := rec[events.KeyDaysRemaining]; days != "" {
		daysInfo = fmt.Sprintf(" (%s days left)", days)
	}

	changes := ""
	if encoded := rec[events.KeyChangedFields]; encoded != "" {
		if decoded, err := events.DecodeChangedFields(encoded); err != nil {
			r.log.WithError(err).Warn("Failed to decode changed fields")
		} else {
			changes = renderChanges(decoded)
		}
	}

	var title, message string
	switch eventType {
	case events.TypeSnapshotPublished:
		title = fmt.Sprintf("New Snapshot Published: %s", entity.title)
		message = fmt.Sprintf("Check out the latest OWASP snapshot: %s", entity.title)
	case events.TypeChapterCreated:
		title = fmt.Sprintf("New Chapter Created: %s", entity.name)
		message = fmt.Sprintf("A new OWASP chapter has been created: %s", entity.name)
	case events.TypeChapterUpdated:
		title = fmt.Sprintf("Chapter Updated: %s", entity.name)
		message = fmt.Sprintf("The OWASP chapter '%s' has been updated.", entity.name)
		if changes != "" {
			message += " Changes: " + changes
		}
	case events.TypeEventCreated:
		title = fmt.Sprintf("New Event Published: %s", entity.name)
		message = fmt.Sprintf("A new OWASP event has been published: %s", entity.name)
	case events.TypeEventUpdated:
		title = fmt.Sprintf("Event Updated: %s", entity.name)
		message = fmt.Sprintf("The OWASP event '%s' has been updated.", entity.name)
		if changes != "" {
			message += " Changes: " + changes
		}
	case events.TypeEventDeadlineReminder:
		title = fmt.Sprintf("Event Deadline Approaching%s: %s", daysInfo, entity.name)
		message = fmt.Sprintf("Reminder: The OWASP event '%s' deadline is approaching%s.", entity.name, daysInfo)
	default:
		title = fmt.Sprintf("Notification: %s", entity.name)
		message = fmt.Sprintf("Update for %s", entity.name)
	}

	related := r.siteURL
	if entity.path != "" {
		related = r.siteURL + "/" + entity.path
	}

	return Note{
		Type:        eventType,
		Title:       title,
		Message:     message,
		RelatedLink: related,
	}
}

// renderChanges formats a change set as "Field: old → new | ..." with the
// empty sentinel for null values and field names in space-separated title
// case. Fields are sorted for stable output.
func renderChanges(changes events.ChangedFields) string {
	fields := make([]string, 0, len(changes))
	for field := range changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		change := changes[field]
		parts = append(parts, fmt.Sprintf("%s: %s → %s",
			displayField(field), valueOrEmpty(change.Old), valueOrEmpty(change.New)))
	}
	return strings.Join(parts, " | ")
}

func valueOrEmpty(v *string) string {
	if v == nil || *v == "" {
		return "empty"
	}
	return *v
}

// displayField converts underscore form to space-separated title case
// ("suggested_location" → "Suggested Location").
func displayField(field string) string {
	words := strings.Split(field, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
