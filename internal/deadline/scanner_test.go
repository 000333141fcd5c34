package deadline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owasp/nest-notifications/internal/notification"
)

type fakeFinder struct {
	byDay map[string][]notification.Event
	err   error
}

func (f *fakeFinder) StartingOn(ctx context.Context, day time.Time) ([]notification.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byDay[day.Format("2006-01-02")], nil
}

type reminderCall struct {
	eventID int64
	days    int
}

type fakePublisher struct {
	calls []reminderCall
}

func (p *fakePublisher) EventDeadlineReminder(ctx context.Context, eventID int64, daysRemaining int) {
	p.calls = append(p.calls, reminderCall{eventID: eventID, days: daysRemaining})
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestScannerQueuesRemindersPerHorizon(t *testing.T) {
	today := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	finder := &fakeFinder{byDay: map[string][]notification.Event{
		"2026-03-10": {{ID: 10, Name: "Global AppSec"}},
		"2026-03-06": {{ID: 11, Name: "Chapter Meetup"}, {ID: 12, Name: "Training Day"}},
		"2026-03-04": {{ID: 13, Name: "CTF Night"}},
	}}
	pub := &fakePublisher{}
	var out bytes.Buffer

	scanner := NewScanner(finder, pub, quietLogger(), &out)
	queued, err := scanner.Run(context.Background(), today)
	require.NoError(t, err)

	assert.Equal(t, 4, queued)
	assert.Equal(t, []reminderCall{
		{eventID: 10, days: 7},
		{eventID: 11, days: 3},
		{eventID: 12, days: 3},
		{eventID: 13, days: 1},
	}, pub.calls)

	assert.Contains(t, out.String(), "Event 'Global AppSec' starts in 7 days")
	assert.Contains(t, out.String(), "Event 'CTF Night' starts in 1 days")
}

func TestScannerNoMatches(t *testing.T) {
	pub := &fakePublisher{}
	scanner := NewScanner(&fakeFinder{}, pub, quietLogger(), io.Discard)

	queued, err := scanner.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.Empty(t, pub.calls)
}

func TestScannerFinderError(t *testing.T) {
	scanner := NewScanner(&fakeFinder{err: errors.New("db down")}, &fakePublisher{}, quietLogger(), io.Discard)

	_, err := scanner.Run(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "7 days")
}
