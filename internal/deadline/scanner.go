// Package deadline implements the daily scan that reminds subscribers of
// upcoming event start dates.
package deadline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/owasp/nest-notifications/internal/notification"
)

// Reminder horizons in days before an event's start date.
var Horizons = []int{7, 3, 1}

// EventFinder looks up events by calendar start date.
type EventFinder interface {
	StartingOn(ctx context.Context, day time.Time) ([]notification.Event, error)
}

// ReminderPublisher queues one deadline reminder. Satisfied by
// *events.Publisher.
type ReminderPublisher interface {
	EventDeadlineReminder(ctx context.Context, eventID int64, daysRemaining int)
}

// Scanner queues deadline reminders for events starting at each horizon.
// It is run once per day by the scheduler; re-runs are harmless because
// the delivery ledger deduplicates downstream.
type Scanner struct {
	events    EventFinder
	publisher ReminderPublisher
	log       *logrus.Logger
	out       io.Writer
}

// NewScanner creates a scanner. out receives the per-event progress lines
// of the CLI.
func NewScanner(events EventFinder, publisher ReminderPublisher, log *logrus.Logger, out io.Writer) *Scanner {
	return &Scanner{
		events:    events,
		publisher: publisher,
		log:       log,
		out:       out,
	}
}

// Run scans all horizons relative to today and returns the number of
// reminders queued.
func (s *Scanner) Run(ctx context.Context, today time.Time) (int, error) {
	queued := 0
	for _, days := range Horizons {
		target := today.AddDate(0, 0, days)
		matched, err := s.events.StartingOn(ctx, target)
		if err != nil {
			return queued, fmt.Errorf("failed to scan events starting in %d days: %w", days, err)
		}
		for _, ev := range matched {
			fmt.Fprintf(s.out, "Event '%s' starts in %d days\n", ev.Name, days)
			s.publisher.EventDeadlineReminder(ctx, ev.ID, days)
			queued++
		}
	}

	s.log.WithField("queued", queued).Info("Deadline scan complete")
	return queued, nil
}
