// Package stream wraps the Redis Streams primitives the notification
// pipeline relies on: append, consumer-group reads, acknowledgement,
// range scans and pending-entry auto-claim.
package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is a flat string-keyed stream entry payload. Values are stored
// as strings on the wire; decoding from Redis' interface{} values happens
// here so callers never see the byte/text distinction.
type Record map[string]string

// Message is a single stream entry together with its broker-assigned ID.
type Message struct {
	ID     string
	Values Record
}

// Client provides stream operations over a shared Redis connection.
// The underlying go-redis client is safe for concurrent use.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a stream client from a Redis connection URL
// (redis://[:password@]host:port[/db]) and verifies connectivity.
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing go-redis client.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Append adds a record to the stream and returns the broker-assigned ID.
func (c *Client) Append(ctx context.Context, streamKey string, rec Record) (string, error) {
	values := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		values[k] = v
	}

	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", streamKey, err)
	}

	return id, nil
}

// CreateGroup ensures the consumer group exists, creating the stream if
// needed. A BUSYGROUP reply from Redis means the group already exists and
// is not treated as an error.
func (c *Client) CreateGroup(ctx context.Context, streamKey, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}
	return nil
}

// ReadGroup reads up to count undelivered entries (the ">" cursor) for the
// given consumer, blocking up to block. A timeout yields an empty slice.
func (c *Client) ReadGroup(ctx context.Context, group, consumer, streamKey string, count int64, block time.Duration) ([]Message, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []Message
	for _, s := range streams {
		for _, msg := range s.Messages {
			messages = append(messages, Message{ID: msg.ID, Values: decodeValues(msg.Values)})
		}
	}
	return messages, nil
}

// Ack acknowledges an entry, removing it from the group's pending list.
func (c *Client) Ack(ctx context.Context, streamKey, group, id string) error {
	if err := c.rdb.XAck(ctx, streamKey, group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack %s: %w", id, err)
	}
	return nil
}

// Del deletes an entry from the stream by its broker-assigned ID.
func (c *Client) Del(ctx context.Context, streamKey, id string) error {
	if err := c.rdb.XDel(ctx, streamKey, id).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	return nil
}

// Range scans entries between from and to inclusive ("-" and "+" cover the
// whole stream).
func (c *Client) Range(ctx context.Context, streamKey, from, to string) ([]Message, error) {
	msgs, err := c.rdb.XRange(ctx, streamKey, from, to).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to range stream %s: %w", streamKey, err)
	}

	messages := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		messages = append(messages, Message{ID: msg.ID, Values: decodeValues(msg.Values)})
	}
	return messages, nil
}

// AutoClaim reassigns up to count pending entries idle for at least minIdle
// to the given consumer, starting from start. Returns the next cursor and
// the claimed entries.
func (c *Client) AutoClaim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration, start string, count int64) (string, []Message, error) {
	msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return start, nil, nil
		}
		return "", nil, fmt.Errorf("failed to auto-claim from %s: %w", streamKey, err)
	}

	messages := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		messages = append(messages, Message{ID: msg.ID, Values: decodeValues(msg.Values)})
	}
	return next, messages, nil
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// IsNoGroup reports whether err is the NOGROUP reply Redis returns when the
// stream or consumer group does not exist.
func IsNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// decodeValues converts go-redis' map[string]interface{} entry values into
// a flat string record.
func decodeValues(values map[string]interface{}) Record {
	rec := make(Record, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			rec[k] = val
		case []byte:
			rec[k] = string(val)
		default:
			rec[k] = fmt.Sprint(val)
		}
	}
	return rec
}
