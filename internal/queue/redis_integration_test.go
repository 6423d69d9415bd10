//go:build integration

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisQueue_DeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := NewRedisQueue(client, "appointments-pe", DefaultPolicy())
	q.now = func() time.Time { return now }

	id, err := q.Send(ctx, []byte(`{"scheduleId":100}`))
	require.NoError(t, err)

	msgs, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, 1, msgs[0].ReceiveCount)
	assert.JSONEq(t, `{"scheduleId":100}`, string(msgs[0].Body))

	hidden, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, hidden)

	now = now.Add(181 * time.Second)
	again, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].ReceiveCount)

	assert.ErrorIs(t, q.Ack(ctx, msgs[0].ReceiptHandle), ErrReceiptInvalid)
	require.NoError(t, q.Ack(ctx, again[0].ReceiptHandle))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depth{}, depth)
}

func TestRedisQueue_DeadLettersAfterThreeReceives(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)
	dead := 0
	policy := DefaultPolicy()
	policy.OnDeadLetter = func(queue string, n int) {
		if queue == "appointments-cl" {
			dead += n
		}
	}
	q := NewRedisQueue(client, "appointments-cl", policy)

	_, err := q.Send(ctx, []byte(`poison`))
	require.NoError(t, err)

	for range 3 {
		msgs, err := q.Receive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.NoError(t, q.Nack(ctx, msgs[0].ReceiptHandle))
	}

	msgs, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 1, dead)

	dlq, err := q.DLQ().Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, "poison", string(dlq[0].Body))
	require.NoError(t, q.DLQ().Nack(ctx, dlq[0].ReceiptHandle))

	n, err := q.Redrive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth.Ready)
}

func TestRedisQueue_ExpiredVisibilityReportsDeadLetter(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	dead := 0
	policy := DefaultPolicy()
	policy.OnDeadLetter = func(_ string, n int) { dead += n }
	q := NewRedisQueue(client, "appointments-pe", policy)
	q.now = func() time.Time { return now }

	_, err := q.Send(ctx, []byte(`{}`))
	require.NoError(t, err)
	for range 3 {
		msgs, err := q.Receive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		now = now.Add(181 * time.Second)
	}

	moved, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, 1, dead)
}
