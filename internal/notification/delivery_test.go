package notification

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeMailer struct {
	failures int // first N sends fail
	sent     []string
	err      error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.failures > 0 {
		m.failures--
		if m.err != nil {
			return m.err
		}
		return errors.New("smtp timeout")
	}
	m.sent = append(m.sent, to)
	return nil
}

type fakeLedger struct {
	rows      map[Key]Receipt
	existsErr error
	recordErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[Key]Receipt)}
}

func (l *fakeLedger) Exists(ctx context.Context, key Key) (bool, error) {
	if l.existsErr != nil {
		return false, l.existsErr
	}
	_, ok := l.rows[key]
	return ok, nil
}

func (l *fakeLedger) Record(ctx context.Context, r Receipt) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	l.rows[Key{RecipientID: r.RecipientID, Type: r.Type, RelatedLink: r.RelatedLink, Message: r.Message}] = r
	return nil
}

func newTestDeliverer(mailer Mailer, ledger Ledger) (*Deliverer, *[]time.Duration) {
	d := NewDeliverer(mailer, ledger, quietLogger())
	var slept []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return d, &slept
}

var testNote = Note{
	Type:        "chapter_updated",
	Title:       "Chapter Updated: B",
	Message:     "The OWASP chapter 'B' has been updated.",
	RelatedLink: "https://nest.owasp.org/chapters/5",
}

var testUser = User{ID: 7, Email: "user@example.org"}

func TestDeliverFirstAttempt(t *testing.T) {
	mailer := &fakeMailer{}
	ledger := newFakeLedger()
	d, slept := newTestDeliverer(mailer, ledger)

	require.NoError(t, d.Deliver(context.Background(), testUser, testNote))

	assert.Equal(t, []string{"user@example.org"}, mailer.sent)
	assert.Empty(t, *slept)
	assert.Len(t, ledger.rows, 1)

	row := ledger.rows[Key{RecipientID: 7, Type: testNote.Type, RelatedLink: testNote.RelatedLink, Message: testNote.Message}]
	assert.Equal(t, testNote.Title, row.Title)
	assert.False(t, row.CreatedAt.IsZero())
}

func TestDeliverSkipsDuplicates(t *testing.T) {
	mailer := &fakeMailer{}
	ledger := newFakeLedger()
	d, _ := newTestDeliverer(mailer, ledger)

	require.NoError(t, d.Deliver(context.Background(), testUser, testNote))
	require.NoError(t, d.Deliver(context.Background(), testUser, testNote))

	// One email, one ledger row, no matter how often the same entry arrives.
	assert.Len(t, mailer.sent, 1)
	assert.Len(t, ledger.rows, 1)
}

func TestDeliverBackoffSchedule(t *testing.T) {
	mailer := &fakeMailer{failures: 3}
	ledger := newFakeLedger()
	d, slept := newTestDeliverer(mailer, ledger)

	require.NoError(t, d.Deliver(context.Background(), testUser, testNote))

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *slept)
	assert.Len(t, mailer.sent, 1)
	assert.Len(t, ledger.rows, 1)
}

func TestDeliverTerminalFailure(t *testing.T) {
	mailer := &fakeMailer{failures: 10}
	ledger := newFakeLedger()
	d, slept := newTestDeliverer(mailer, ledger)

	err := d.Deliver(context.Background(), testUser, testNote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 5 retries")

	// First attempt plus five retries, with the full backoff ladder.
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second,
	}, *slept)
	assert.Empty(t, mailer.sent)
	assert.Empty(t, ledger.rows)
}

func TestDeliverLedgerCheckError(t *testing.T) {
	mailer := &fakeMailer{}
	ledger := newFakeLedger()
	ledger.existsErr = errors.New("db down")
	d, _ := newTestDeliverer(mailer, ledger)

	err := d.Deliver(context.Background(), testUser, testNote)
	require.Error(t, err)
	assert.Empty(t, mailer.sent)
}

func TestDeliverHonorsContextCancellation(t *testing.T) {
	mailer := &fakeMailer{failures: 10}
	d := NewDeliverer(mailer, newFakeLedger(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Deliver(ctx, testUser, testNote)
	require.ErrorIs(t, err, context.Canceled)
}
