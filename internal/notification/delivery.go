package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/owasp/nest-notifications/internal/metrics"
)

// Retry schedule: the first attempt plus up to MaxRetries retries, with
// delays BaseDelay * DelayMultiplier^(n-1) before retry n (2, 4, 8, 16, 32 s).
const (
	MaxRetries      = 5
	BaseDelay       = 2 * time.Second
	DelayMultiplier = 2
)

// Deliverer sends one notification to one recipient with retry and the
// ledger-backed idempotency check. It never writes to the DLQ itself;
// terminal failures are returned to the caller.
type Deliverer struct {
	mailer Mailer
	ledger Ledger
	log    *logrus.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDeliverer creates a delivery engine.
func NewDeliverer(mailer Mailer, ledger Ledger, log *logrus.Logger) *Deliverer {
	return &Deliverer{
		mailer: mailer,
		ledger: ledger,
		log:    log,
		sleep:  sleepCtx,
	}
}

// Deliver sends the note to the user, retrying transport failures per the
// backoff schedule. The idempotency check runs on every attempt so that a
// duplicate stream entry, or a retry racing a concurrent delivery, never
// produces a second email or ledger row.
func (d *Deliverer) Deliver(ctx context.Context, user User, note Note) error {
	timer := time.Now()
	defer func() {
		metrics.SendDuration.WithLabelValues(note.Type).Observe(time.Since(timer).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			d.log.WithFields(logrus.Fields{
				"email":   user.Email,
				"attempt": attempt,
				"max":     MaxRetries,
				"delay":   delay,
			}).WithError(lastErr).Warn("Email send failed, retrying")
			metrics.RetryAttempts.WithLabelValues(note.Type).Inc()
			if err := d.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := d.deliverOnce(ctx, user, note)
		if err == nil {
			if attempt > 0 {
				d.log.WithFields(logrus.Fields{
					"email":   user.Email,
					"retries": attempt,
				}).Info("Email succeeded after retries")
			}
			return nil
		}
		lastErr = err
	}

	d.log.WithFields(logrus.Fields{
		"email":   user.Email,
		"retries": MaxRetries,
	}).WithError(lastErr).Error("Email failed after all retries")

	return fmt.Errorf("delivery to %s failed after %d retries: %w", user.Email, MaxRetries, lastErr)
}

// deliverOnce performs a single attempt: idempotency check, send, ledger
// append.
func (d *Deliverer) deliverOnce(ctx context.Context, user User, note Note) error {
	key := Key{
		RecipientID: user.ID,
		Type:        note.Type,
		RelatedLink: note.RelatedLink,
		Message:     note.Message,
	}

	exists, err := d.ledger.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if exists {
		d.log.WithFields(logrus.Fields{
			"email": user.Email,
			"type":  note.Type,
		}).Info("Already notified, skipping")
		metrics.EmailsSkipped.WithLabelValues(note.Type).Inc()
		return nil
	}

	if err := d.mailer.Send(ctx, user.Email, note.Title, note.Message); err != nil {
		return err
	}

	d.log.WithFields(logrus.Fields{
		"email": user.Email,
		"type":  note.Type,
	}).Info("Sent notification email")
	metrics.EmailsSent.WithLabelValues(note.Type).Inc()

	if err := d.ledger.Record(ctx, Receipt{
		RecipientID: user.ID,
		Type:        note.Type,
		Title:       note.Title,
		Message:     note.Message,
		RelatedLink: note.RelatedLink,
		CreatedAt:   time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}

	return nil
}

func backoffDelay(attempt int) time.Duration {
	delay := BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= DelayMultiplier
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
