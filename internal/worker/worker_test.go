package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"task-market/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func sampleEvent() models.Event {
	amount := models.NewU128(50)
	return models.Event{
		Kind:   models.EventBidCompleted,
		TaskID: models.NewU128(9),
		Actor:  "bob",
		Amount: &amount,
		Block:  4,
	}
}

func TestQueuePublisher_EnqueuesMarketEvent(t *testing.T) {
	client, mr := setupRedis(t)
	queue := NewJobQueue(client, 3)

	require.NoError(t, NewQueuePublisher(queue).Publish(context.Background(), sampleEvent()))

	items, err := mr.List(QueueEvents)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	sizes, err := queue.QueueSizes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sizes["events"])
	assert.Equal(t, int64(0), sizes["dead"])
}

func TestWorker_DeliversEventToSinks(t *testing.T) {
	client, _ := setupRedis(t)
	queue := NewJobQueue(client, 3)
	ctx := context.Background()

	var delivered []models.Event
	w := NewWorker(WorkerConfig{RedisClient: client, PollInterval: 50 * time.Millisecond})
	w.RegisterHandler(JobTypeMarketEvent, MarketEventHandler(nil, func(_ context.Context, e models.Event) {
		delivered = append(delivered, e)
	}))

	require.NoError(t, NewQueuePublisher(queue).Publish(ctx, sampleEvent()))
	require.NoError(t, w.processNextJob(ctx))

	require.Len(t, delivered, 1)
	assert.Equal(t, models.EventBidCompleted, delivered[0].Kind)
	assert.Equal(t, "9", delivered[0].TaskID.String())
	assert.Equal(t, "50", delivered[0].Amount.String())
	assert.Equal(t, uint64(4), delivered[0].Block)
}

func TestWorker_RetriesThenDeadLetters(t *testing.T) {
	client, mr := setupRedis(t)
	queue := NewJobQueue(client, 2)
	ctx := context.Background()

	calls := 0
	w := NewWorker(WorkerConfig{RedisClient: client, PollInterval: 50 * time.Millisecond})
	w.RegisterHandler(JobTypeMarketEvent, func(context.Context, *Job) error {
		calls++
		return errors.New("sink unavailable")
	})

	_, err := queue.Enqueue(ctx, QueueEvents, JobTypeMarketEvent, sampleEvent())
	require.NoError(t, err)

	require.NoError(t, w.processNextJob(ctx))
	assert.Equal(t, 1, calls)

	delayed, err := mr.ZMembers(QueueDelayed)
	require.NoError(t, err)
	assert.Len(t, delayed, 1)

	moved, err := w.PromoteDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, moved, "retry is not due yet")

	moved, err = w.PromoteDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	require.NoError(t, w.processNextJob(ctx))
	assert.Equal(t, 2, calls)

	dead, err := mr.List(QueueDead)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestWorker_UnknownJobTypeIsDeadLettered(t *testing.T) {
	client, mr := setupRedis(t)
	queue := NewJobQueue(client, 3)
	ctx := context.Background()

	w := NewWorker(WorkerConfig{RedisClient: client})
	_, err := queue.Enqueue(ctx, QueueEvents, JobType("unknown"), map[string]string{})
	require.NoError(t, err)

	require.NoError(t, w.processNextJob(ctx))

	dead, err := mr.List(QueueDead)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestWorker_StartStop(t *testing.T) {
	client, _ := setupRedis(t)
	queue := NewJobQueue(client, 3)

	done := make(chan models.Event, 1)
	w := NewWorker(WorkerConfig{RedisClient: client, PollInterval: 20 * time.Millisecond})
	w.RegisterHandler(JobTypeMarketEvent, MarketEventHandler(nil, func(_ context.Context, e models.Event) {
		done <- e
	}))
	w.Start(2)

	require.NoError(t, NewQueuePublisher(queue).Publish(context.Background(), sampleEvent()))

	select {
	case e := <-done:
		assert.Equal(t, models.EventBidCompleted, e.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	w.Stop()
}
