package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

type JobType string

const JobTypeMarketEvent JobType = "market_event"

const (
	QueueEvents  = "taskmarket:queue:events"
	QueueDelayed = "taskmarket:queue:delayed"
	QueueDead    = "taskmarket:queue:dead"
)

type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	MaxTries  int             `json:"max_tries"`
	CreatedAt time.Time       `json:"created_at"`
	ProcessAt time.Time       `json:"process_at"`
}

type JobHandler func(ctx context.Context, job *Job) error

// Worker pops jobs from Redis lists and dispatches them by type. Failed jobs
// are parked in a sorted set keyed by their next attempt time and moved back
// to their queue once due; jobs out of attempts go to the dead queue.
type Worker struct {
	client       *redis.Client
	handlers     map[JobType]JobHandler
	queues       []string
	pollInterval time.Duration
	retryBackoff time.Duration
	jobTimeout   time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type WorkerConfig struct {
	RedisClient  *redis.Client
	Queues       []string
	PollInterval time.Duration
	RetryBackoff time.Duration
	JobTimeout   time.Duration
	Logger       *slog.Logger
}

func NewWorker(config WorkerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if len(config.Queues) == 0 {
		config.Queues = []string{QueueEvents}
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Worker{
		client:       config.RedisClient,
		handlers:     make(map[JobType]JobHandler),
		queues:       config.Queues,
		pollInterval: config.PollInterval,
		retryBackoff: config.RetryBackoff,
		jobTimeout:   config.JobTimeout,
		logger:       config.Logger.With(slog.String("component", "worker")),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

func (w *Worker) Start(concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.logger.Info("starting worker", slog.Int("concurrency", concurrency), slog.Any("queues", w.queues))

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop()
	}

	w.wg.Add(1)
	go w.promoteLoop()
}

func (w *Worker) Stop() {
	w.logger.Info("stopping worker")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) workerLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if err := w.processNextJob(w.ctx); err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.logger.Error("error processing job", slog.Any("error", err))
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

func (w *Worker) promoteLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.PromoteDue(w.ctx, time.Now()); err != nil && w.ctx.Err() == nil {
				w.logger.Error("error promoting delayed jobs", slog.Any("error", err))
			}
		}
	}
}

// processNextJob waits up to the poll interval for a job and runs it.
func (w *Worker) processNextJob(ctx context.Context) error {
	result, err := w.client.BLPop(ctx, w.pollInterval, w.queues...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to pop job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Queue == "" {
		job.Queue = result[0]
	}

	return w.executeJob(ctx, &job)
}

func (w *Worker) executeJob(ctx context.Context, job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	logger := w.logger.With(slog.String("job_id", job.ID), slog.String("job_type", string(job.Type)))

	if !exists {
		return w.moveToDeadQueue(ctx, job, fmt.Errorf("no handler registered for job type: %s", job.Type))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	if err := handler(jobCtx, job); err != nil {
		job.Attempts++
		if job.Attempts < job.MaxTries {
			logger.Warn("job failed, retrying",
				slog.Int("attempt", job.Attempts),
				slog.Int("max_tries", job.MaxTries),
				slog.Any("error", err),
			)
			return w.scheduleRetry(ctx, job)
		}

		logger.Error("job failed permanently", slog.Int("attempts", job.Attempts), slog.Any("error", err))
		return w.moveToDeadQueue(ctx, job, err)
	}

	logger.Debug("job completed")
	return nil
}

func (w *Worker) scheduleRetry(ctx context.Context, job *Job) error {
	delay := w.retryBackoff * time.Duration(1<<(job.Attempts-1))
	job.ProcessAt = time.Now().Add(delay)

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return w.client.ZAdd(ctx, QueueDelayed, redis.Z{
		Score:  float64(job.ProcessAt.UnixMilli()),
		Member: data,
	}).Err()
}

// PromoteDue moves delayed jobs whose time has come back to their queues and
// reports how many were moved.
func (w *Worker) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := w.client.ZRangeByScore(ctx, QueueDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, member := range due {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			w.client.ZRem(ctx, QueueDelayed, member)
			continue
		}
		queue := job.Queue
		if queue == "" {
			queue = QueueEvents
		}

		removed, err := w.client.ZRem(ctx, QueueDelayed, member).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			// Another worker promoted it first.
			continue
		}
		if err := w.client.RPush(ctx, queue, member).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (w *Worker) moveToDeadQueue(ctx context.Context, job *Job, jobErr error) error {
	deadJob := map[string]any{
		"original_job": job,
		"error":        jobErr.Error(),
		"failed_at":    time.Now(),
	}

	data, err := json.Marshal(deadJob)
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}
	return w.client.RPush(ctx, QueueDead, data).Err()
}

type JobQueue struct {
	client   *redis.Client
	maxTries int
}

func NewJobQueue(client *redis.Client, maxTries int) *JobQueue {
	if maxTries < 1 {
		maxTries = 3
	}
	return &JobQueue{client: client, maxTries: maxTries}
}

func (q *JobQueue) Enqueue(ctx context.Context, queue string, jobType JobType, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &Job{
		ID:        id.String(),
		Type:      jobType,
		Queue:     queue,
		Payload:   data,
		MaxTries:  q.maxTries,
		CreatedAt: now,
		ProcessAt: now,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := q.client.RPush(ctx, queue, jobData).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *JobQueue) QueueSizes(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := q.client.Pipeline()
	events := pipe.LLen(ctx, QueueEvents)
	delayed := pipe.ZCard(ctx, QueueDelayed)
	dead := pipe.LLen(ctx, QueueDead)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return map[string]int64{
		"events":  events.Val(),
		"delayed": delayed.Val(),
		"dead":    dead.Val(),
	}, nil
}
