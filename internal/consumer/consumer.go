// Package consumer runs the long-lived consumer-group loop over the main
// notification stream.
package consumer

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/owasp/nest-notifications/internal/dlq"
	"github.com/owasp/nest-notifications/internal/events"
	"github.com/owasp/nest-notifications/internal/metrics"
	"github.com/owasp/nest-notifications/internal/stream"
)

// Group is the consumer group bound to the main stream.
const Group = "notification_group"

const (
	recoveryMinIdle = 5 * time.Minute
	recoveryCount   = 10
	readBlock       = 5 * time.Second
	readBackoff     = time.Second
)

// Handler dispatches one decoded stream entry. Satisfied by
// *notification.Router.
type Handler interface {
	Handle(ctx context.Context, rec stream.Record) error
}

// Consumer binds a handler to the consumer group. Entries are acked only
// after the handler returns nil, so a crash mid-dispatch leaves them
// recoverable through the pending-entry list.
type Consumer struct {
	streams *stream.Client
	handler Handler
	name    string
	log     *logrus.Logger
	out     io.Writer

	now func() time.Time
}

// New creates a consumer named {hostname}_{pid}.
func New(streams *stream.Client, handler Handler, log *logrus.Logger, out io.Writer) *Consumer {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return &Consumer{
		streams: streams,
		handler: handler,
		name:    fmt.Sprintf("%s_%d", host, os.Getpid()),
		log:     log,
		out:     out,
		now:     time.Now,
	}
}

// Run ensures the group exists, recovers stuck pending entries once, then
// consumes new entries until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Starting notification worker...")

	if err := c.streams.CreateGroup(ctx, events.MainStream, Group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	if err := c.recoverPending(ctx); err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{
		"group":    Group,
		"consumer": c.name,
	}).Info("Consuming notification stream")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := c.streams.ReadGroup(ctx, Group, c.name, events.MainStream, 1, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if stream.IsNoGroup(err) {
				c.log.Warn("Consumer group vanished, recreating")
				if cerr := c.streams.CreateGroup(ctx, events.MainStream, Group); cerr != nil {
					c.log.WithError(cerr).Error("Failed to recreate consumer group")
				}
			} else {
				c.log.WithError(err).Error("Stream read failed")
			}
			if serr := sleepCtx(ctx, readBackoff); serr != nil {
				return serr
			}
			continue
		}

		for _, msg := range msgs {
			c.handleOne(ctx, msg)
		}
	}
}

// handleOne dispatches a single entry; on success it acks, on failure it
// logs and leaves the entry pending for later recovery.
func (c *Consumer) handleOne(ctx context.Context, msg stream.Message) {
	if err := c.handler.Handle(ctx, msg.Values); err != nil {
		c.log.WithError(err).WithField("id", msg.ID).Error("Dispatch failed, leaving entry pending")
		return
	}
	if err := c.streams.Ack(ctx, events.MainStream, Group, msg.ID); err != nil {
		c.log.WithError(err).WithField("id", msg.ID).Error("Failed to ack entry")
	}
}

// recoverPending reclaims entries stuck in the pending-entry list for over
// five minutes. Entries whose dispatch fails again are moved to the DLQ as
// recovery_failed and acked, so the PEL cannot grow without bound.
func (c *Consumer) recoverPending(ctx context.Context) error {
	fmt.Fprintln(c.out, "Recovering pending messages...")

	_, msgs, err := c.streams.AutoClaim(ctx, events.MainStream, Group, c.name, recoveryMinIdle, "0-0", recoveryCount)
	if err != nil {
		if stream.IsNoGroup(err) {
			return nil
		}
		return fmt.Errorf("failed to claim pending entries: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	c.log.WithField("count", len(msgs)).Info("Recovering pending entries")

	recovered := 0
	for _, msg := range msgs {
		if err := c.handler.Handle(ctx, msg.Values); err != nil {
			c.log.WithError(err).WithField("id", msg.ID).Error("Recovery dispatch failed, moving to DLQ")
			rec := dlq.RecoveryFailed(msg.ID, err.Error(), c.now())
			if _, derr := c.streams.Append(ctx, dlq.Stream, rec); derr != nil {
				c.log.WithError(derr).WithField("id", msg.ID).Error("Failed to write recovery_failed DLQ entry")
				continue
			}
			metrics.DLQMessages.WithLabelValues(dlq.TypeRecoveryFailed).Inc()
		} else {
			recovered++
		}
		if aerr := c.streams.Ack(ctx, events.MainStream, Group, msg.ID); aerr != nil {
			c.log.WithError(aerr).WithField("id", msg.ID).Error("Failed to ack recovered entry")
		}
	}

	fmt.Fprintf(c.out, "Recovered %d of %d pending messages\n", recovered, len(msgs))
	return nil
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
