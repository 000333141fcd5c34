package consumer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owasp/nest-notifications/internal/dlq"
	"github.com/owasp/nest-notifications/internal/events"
	"github.com/owasp/nest-notifications/internal/stream"
)

type recordingHandler struct {
	mu      sync.Mutex
	records []stream.Record
	err     error
}

func (h *recordingHandler) Handle(ctx context.Context, rec stream.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type harness struct {
	consumer *Consumer
	handler  *recordingHandler
	streams  *stream.Client
	rdb      *redis.Client
	mr       *miniredis.Miniredis
	out      *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	streams := stream.NewClientFromRedis(rdb)
	handler := &recordingHandler{}
	out := &bytes.Buffer{}
	return &harness{
		consumer: New(streams, handler, quietLogger(), out),
		handler:  handler,
		streams:  streams,
		rdb:      rdb,
		mr:       mr,
		out:      out,
	}
}

func (h *harness) pendingCount(t *testing.T) int64 {
	t.Helper()
	p, err := h.rdb.XPending(context.Background(), events.MainStream, Group).Result()
	require.NoError(t, err)
	return p.Count
}

func TestRunConsumesAndAcks(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := h.streams.Append(ctx, events.MainStream, stream.Record{"type": "chapter_created", "chapter_id": "5"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return h.handler.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.pendingCount(t) == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	err = <-done
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, "5", h.handler.records[0]["chapter_id"])
	assert.Contains(t, h.out.String(), "Starting notification worker...")
}

func TestRunDispatchFailureLeavesEntryPending(t *testing.T) {
	h := newHarness(t)
	h.handler.err = errors.New("db down")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := h.streams.Append(ctx, events.MainStream, stream.Record{"type": "chapter_created", "chapter_id": "5"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return h.handler.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int64(1), h.pendingCount(t))
}

// seedPending appends an entry and reads it with a consumer that never acks,
// then advances broker time past the recovery idle threshold.
func seedPending(t *testing.T, h *harness) string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.streams.CreateGroup(ctx, events.MainStream, Group))
	id, err := h.streams.Append(ctx, events.MainStream, stream.Record{"type": "chapter_created", "chapter_id": "5"})
	require.NoError(t, err)

	msgs, err := h.streams.ReadGroup(ctx, Group, "crashed_worker", events.MainStream, 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	h.mr.SetTime(time.Now().Add(10 * time.Minute))
	return id
}

func TestRecoverPendingRedispatches(t *testing.T) {
	h := newHarness(t)
	seedPending(t, h)

	require.NoError(t, h.consumer.recoverPending(context.Background()))

	assert.Equal(t, 1, h.handler.count())
	assert.Equal(t, int64(0), h.pendingCount(t))
	assert.Contains(t, h.out.String(), "Recovered 1 of 1 pending messages")

	// Successful recovery leaves the DLQ empty.
	entries, err := h.streams.Range(context.Background(), dlq.Stream, "-", "+")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecoverPendingFailureMovesToDLQ(t *testing.T) {
	h := newHarness(t)
	h.handler.err = errors.New("handler exploded")
	id := seedPending(t, h)

	require.NoError(t, h.consumer.recoverPending(context.Background()))

	// The entry is acked anyway so the PEL cannot grow unboundedly.
	assert.Equal(t, int64(0), h.pendingCount(t))

	msgs, err := h.streams.Range(context.Background(), dlq.Stream, "-", "+")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, dlq.TypeRecoveryFailed, msgs[0].Values["type"])
	assert.Equal(t, id, msgs[0].Values["message_id"])
	assert.Contains(t, msgs[0].Values["error"], "handler exploded")
	assert.Equal(t, "0", msgs[0].Values["dlq_retries"])
}

func TestRecoverPendingWithoutGroup(t *testing.T) {
	h := newHarness(t)
	// No group exists yet; recovery is a no-op, not an error.
	require.NoError(t, h.consumer.recoverPending(context.Background()))
}
