package events

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/owasp/nest-notifications/internal/stream"
)

// Publisher appends domain events to the main stream. Publish failures are
// logged and swallowed: a missed notification is acceptable, failing the
// caller's commit path is not.
type Publisher struct {
	streams *stream.Client
	log     *logrus.Logger
	now     func() time.Time
}

// NewPublisher creates an event publisher on the shared stream client.
func NewPublisher(streams *stream.Client, log *logrus.Logger) *Publisher {
	return &Publisher{
		streams: streams,
		log:     log,
		now:     time.Now,
	}
}

// SnapshotPublished announces a newly published snapshot.
func (p *Publisher) SnapshotPublished(ctx context.Context, snapshotID int64) {
	p.publish(ctx, TypeSnapshotPublished, stream.Record{
		KeySnapshotID: strconv.FormatInt(snapshotID, 10),
	})
}

// ChapterCreated announces a new chapter.
func (p *Publisher) ChapterCreated(ctx context.Context, chapterID int64) {
	p.publish(ctx, TypeChapterCreated, stream.Record{
		KeyChapterID: strconv.FormatInt(chapterID, 10),
	})
}

// ChapterUpdated announces a chapter update carrying the field diff.
func (p *Publisher) ChapterUpdated(ctx context.Context, chapterID int64, changes ChangedFields) {
	rec := stream.Record{
		KeyChapterID: strconv.FormatInt(chapterID, 10),
	}
	if !p.attachChanges(rec, TypeChapterUpdated, changes) {
		return
	}
	p.publish(ctx, TypeChapterUpdated, rec)
}

// EventCreated announces a new event.
func (p *Publisher) EventCreated(ctx context.Context, eventID int64) {
	p.publish(ctx, TypeEventCreated, stream.Record{
		KeyEventID: strconv.FormatInt(eventID, 10),
	})
}

// EventUpdated announces an event update carrying the field diff.
func (p *Publisher) EventUpdated(ctx context.Context, eventID int64, changes ChangedFields) {
	rec := stream.Record{
		KeyEventID: strconv.FormatInt(eventID, 10),
	}
	if !p.attachChanges(rec, TypeEventUpdated, changes) {
		return
	}
	p.publish(ctx, TypeEventUpdated, rec)
}

// EventDeadlineReminder announces that an event starts in daysRemaining days.
func (p *Publisher) EventDeadlineReminder(ctx context.Context, eventID int64, daysRemaining int) {
	p.publish(ctx, TypeEventDeadlineReminder, stream.Record{
		KeyEventID:       strconv.FormatInt(eventID, 10),
		KeyDaysRemaining: strconv.Itoa(daysRemaining),
	})
}

func (p *Publisher) attachChanges(rec stream.Record, eventType string, changes ChangedFields) bool {
	if len(changes) == 0 {
		return true
	}
	encoded, err := changes.Encode()
	if err != nil {
		p.log.WithError(err).WithField("type", eventType).Error("Failed to encode changed fields")
		return false
	}
	rec[KeyChangedFields] = encoded
	return true
}

func (p *Publisher) publish(ctx context.Context, eventType string, rec stream.Record) {
	rec[KeyType] = eventType
	rec[KeyTimestamp] = strconv.FormatFloat(float64(p.now().UnixMilli())/1000.0, 'f', 3, 64)

	id, err := p.streams.Append(ctx, MainStream, rec)
	if err != nil {
		p.log.WithError(err).WithField("type", eventType).Error("Failed to publish notification event")
		return
	}

	p.log.WithFields(logrus.Fields{
		"type": eventType,
		"id":   id,
	}).Info("Published notification event")
}
