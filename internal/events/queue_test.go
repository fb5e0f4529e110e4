package events

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_PublishConsume(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := New(TripCompleted, "trip-1", time.Now())
	require.NoError(t, q.Publish(ctx, ev))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, TripCompleted, got.Type)
		assert.Equal(t, "trip-1", got.TripID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closes after cancel")
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemory_PublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), New(TripCompleted, "a", time.Now())))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, New(TripCompleted, "b", time.Now()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_AssignsUniqueIDs(t *testing.T) {
	a := New(TripCompleted, "x", time.Now())
	b := New(TripCompleted, "x", time.Now())
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.OccurredAt.Location())
}

func TestRedisQueue_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}

	key := "test:events:" + New("", "", time.Now()).ID
	defer client.Del(context.Background(), key)
	q := NewRedisQueue(client, key)

	ev := New(TripCompleted, "trip-9", time.Now())
	require.NoError(t, q.Publish(ctx, ev))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case got := <-ch:
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, "trip-9", got.TripID)
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}
}

func TestRun_HandsEveryEventToHandler(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	require.NoError(t, q.Publish(ctx, New(TripCompleted, "a", now)))
	require.NoError(t, q.Publish(ctx, New(TripCancelled, "b", now)))
	require.NoError(t, q.Publish(ctx, New(TripCompleted, "c", now)))

	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, q, func(_ context.Context, ev Event) error {
			seen = append(seen, ev.TripID)
			if ev.TripID == "b" {
				return errors.New("boom")
			}
			if ev.TripID == "c" {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}
