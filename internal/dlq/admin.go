package dlq

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/owasp/nest-notifications/internal/metrics"
	"github.com/owasp/nest-notifications/internal/stream"
)

// Mailer is the transport used for manual retries.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Admin is the operator surface over the dead-letter stream.
type Admin struct {
	streams *stream.Client
	mailer  Mailer
	log     *logrus.Logger
	out     io.Writer

	now func() time.Time
}

// NewAdmin creates a DLQ administrator writing its reports to out.
func NewAdmin(streams *stream.Client, mailer Mailer, log *logrus.Logger, out io.Writer) *Admin {
	return &Admin{
		streams: streams,
		mailer:  mailer,
		log:     log,
		out:     out,
		now:     time.Now,
	}
}

// List prints a table of all quarantined entries.
func (a *Admin) List(ctx context.Context) error {
	entries, err := a.all(ctx)
	if err != nil {
		return err
	}

	ruler := strings.Repeat("=", 100)
	fmt.Fprintln(a.out, ruler)
	fmt.Fprintf(a.out, "%-20s %-25s %-18s %-15s %-8s\n", "ID", "Email", "Type", "Entity", "Retries")
	fmt.Fprintln(a.out, ruler)
	for _, e := range entries {
		fmt.Fprintf(a.out, "%-20s %-25s %-18s %-15s %-8d\n",
			e.ID, e.UserEmail, e.NotificationType, truncate(e.EntityName, 15), e.Retries)
	}
	fmt.Fprintln(a.out, ruler)
	fmt.Fprintf(a.out, "Total: %d\n", len(entries))
	return nil
}

// Retry re-sends one entry by its stream ID.
func (a *Admin) Retry(ctx context.Context, id string) error {
	msgs, err := a.streams.Range(ctx, Stream, id, id)
	if err != nil {
		return fmt.Errorf("failed to read DLQ entry %s: %w", id, err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no DLQ entry with id %s", id)
	}
	sent, skipped := a.retryEntries(ctx, msgs)
	fmt.Fprintf(a.out, "Retried 1 entry: %d sent, %d failed, %d skipped\n", sent, 1-sent-skipped, skipped)
	return nil
}

// RetryAll re-sends every entry in the DLQ.
func (a *Admin) RetryAll(ctx context.Context) error {
	msgs, err := a.streams.Range(ctx, Stream, "-", "+")
	if err != nil {
		return fmt.Errorf("failed to scan DLQ: %w", err)
	}
	sent, skipped := a.retryEntries(ctx, msgs)
	fmt.Fprintf(a.out, "Retried %d entries: %d sent, %d failed, %d skipped\n",
		len(msgs), sent, len(msgs)-sent-skipped, skipped)
	return nil
}

// retryEntries attempts each entry once. A successful send deletes the
// entry; a failed send replaces it with a copy whose retry count is
// incremented, so the broker ID always identifies one attempt generation.
// Entries missing the fields needed to compose an email are left in place.
func (a *Admin) retryEntries(ctx context.Context, msgs []stream.Message) (sent, skipped int) {
	for _, msg := range msgs {
		entry := ParseEntry(msg)
		if entry.UserEmail == "" || entry.Title == "" || entry.Message == "" {
			fmt.Fprintf(a.out, "Skipping %s: missing notification fields\n", entry.ID)
			skipped++
			continue
		}

		body := entry.Message
		if entry.RelatedLink != "" {
			body += "\n\nView: " + entry.RelatedLink
		}

		if err := a.mailer.Send(ctx, entry.UserEmail, entry.Title, body); err != nil {
			a.log.WithError(err).WithFields(logrus.Fields{
				"id":    entry.ID,
				"email": entry.UserEmail,
			}).Error("DLQ retry failed")
			a.requeue(ctx, entry)
			fmt.Fprintf(a.out, "Failed %s -> %s\n", entry.ID, entry.UserEmail)
			continue
		}

		if err := a.streams.Del(ctx, Stream, entry.ID); err != nil {
			a.log.WithError(err).WithField("id", entry.ID).Error("Failed to delete retried DLQ entry")
		}
		fmt.Fprintf(a.out, "Sent %s -> %s\n", entry.ID, entry.UserEmail)
		sent++
	}
	return sent, skipped
}

// requeue replaces a failed entry with a copy carrying retries + 1.
func (a *Admin) requeue(ctx context.Context, entry Entry) {
	if err := a.streams.Del(ctx, Stream, entry.ID); err != nil {
		a.log.WithError(err).WithField("id", entry.ID).Error("Failed to delete DLQ entry before requeue")
		return
	}

	next := entry
	next.Retries++
	next.Timestamp = strconv.FormatFloat(float64(a.now().UnixMilli())/1000.0, 'f', 3, 64)
	if _, err := a.streams.Append(ctx, Stream, next.Record()); err != nil {
		a.log.WithError(err).WithField("id", entry.ID).Error("Failed to requeue DLQ entry")
		return
	}
	metrics.DLQMessages.WithLabelValues(next.Type).Inc()
}

// Remove deletes one entry by its stream ID.
func (a *Admin) Remove(ctx context.Context, id string) error {
	if err := a.streams.Del(ctx, Stream, id); err != nil {
		return fmt.Errorf("failed to remove DLQ entry %s: %w", id, err)
	}
	fmt.Fprintf(a.out, "Removed %s\n", id)
	return nil
}

// RemoveAll deletes every entry in the DLQ.
func (a *Admin) RemoveAll(ctx context.Context) error {
	msgs, err := a.streams.Range(ctx, Stream, "-", "+")
	if err != nil {
		return fmt.Errorf("failed to scan DLQ: %w", err)
	}
	for _, msg := range msgs {
		if err := a.streams.Del(ctx, Stream, msg.ID); err != nil {
			return fmt.Errorf("failed to remove DLQ entry %s: %w", msg.ID, err)
		}
	}
	fmt.Fprintf(a.out, "Removed %d entries\n", len(msgs))
	return nil
}

func (a *Admin) all(ctx context.Context) ([]Entry, error) {
	msgs, err := a.streams.Range(ctx, Stream, "-", "+")
	if err != nil {
		return nil, fmt.Errorf("failed to scan DLQ: %w", err)
	}
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, ParseEntry(msg))
	}
	return entries, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
