package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewClientFromRedis(rdb), mr
}

func TestAppendAndRange(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	id1, err := client.Append(ctx, "s", Record{"type": "a", "n": "1"})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := client.Append(ctx, "s", Record{"type": "b"})
	require.NoError(t, err)

	msgs, err := client.Range(ctx, "s", "-", "+")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id1, msgs[0].ID)
	assert.Equal(t, Record{"type": "a", "n": "1"}, msgs[0].Values)
	assert.Equal(t, id2, msgs[1].ID)
}

func TestCreateGroupIdempotent(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.CreateGroup(ctx, "s", "g"))
	// Second create hits BUSYGROUP and is still a success.
	require.NoError(t, client.CreateGroup(ctx, "s", "g"))
}

func TestReadGroupAndAck(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.CreateGroup(ctx, "s", "g"))
	id, err := client.Append(ctx, "s", Record{"type": "a"})
	require.NoError(t, err)

	msgs, err := client.ReadGroup(ctx, "g", "c1", "s", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "a", msgs[0].Values["type"])

	require.NoError(t, client.Ack(ctx, "s", "g", id))

	// Acked entries are no longer claimable.
	_, claimed, err := client.AutoClaim(ctx, "s", "g", "c2", 0, "0-0", 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestReadGroupEmpty(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.CreateGroup(ctx, "s", "g"))

	msgs, err := client.ReadGroup(ctx, "g", "c1", "s", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAutoClaimReassignsPending(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.CreateGroup(ctx, "s", "g"))
	id, err := client.Append(ctx, "s", Record{"type": "a"})
	require.NoError(t, err)

	// c1 reads but never acks, leaving the entry in the PEL.
	_, err = client.ReadGroup(ctx, "g", "c1", "s", 1, 10*time.Millisecond)
	require.NoError(t, err)

	mr.SetTime(time.Now().Add(10 * time.Minute))

	_, claimed, err := client.AutoClaim(ctx, "s", "g", "c2", 5*time.Minute, "0-0", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
}

func TestDel(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	id, err := client.Append(ctx, "s", Record{"type": "a"})
	require.NoError(t, err)
	require.NoError(t, client.Del(ctx, "s", id))

	msgs, err := client.Range(ctx, "s", "-", "+")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestIsNoGroup(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.ReadGroup(ctx, "missing", "c1", "nostream", 1, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsNoGroup(err))
	assert.False(t, IsNoGroup(nil))
}
