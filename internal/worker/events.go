package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"task-market/internal/models"
	"task-market/internal/monitoring"
)

// QueuePublisher hands committed market events to the job queue.
type QueuePublisher struct {
	queue *JobQueue
}

func NewQueuePublisher(queue *JobQueue) *QueuePublisher {
	return &QueuePublisher{queue: queue}
}

func (p *QueuePublisher) Publish(ctx context.Context, event models.Event) error {
	_, err := p.queue.Enqueue(ctx, QueueEvents, JobTypeMarketEvent, event)
	return err
}

// EventSink receives every delivered market event, for example to drop
// cached reads the event invalidates.
type EventSink func(ctx context.Context, event models.Event)

// MarketEventHandler decodes market event jobs, logs them and passes them
// to each sink.
func MarketEventHandler(logger *slog.Logger, sinks ...EventSink) JobHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, job *Job) error {
		var event models.Event
		if err := json.Unmarshal(job.Payload, &event); err != nil {
			monitoring.ObserveEventDelivery("unknown", err)
			return fmt.Errorf("failed to decode market event: %w", err)
		}

		logger.InfoContext(ctx, "market event",
			slog.String("event_id", event.ID.String()),
			slog.String("kind", string(event.Kind)),
			slog.String("task_id", event.TaskID.String()),
			slog.String("actor", string(event.Actor)),
			slog.Uint64("block", event.Block),
		)

		for _, sink := range sinks {
			sink(ctx, event)
		}
		monitoring.ObserveEventDelivery(event.Kind, nil)
		return nil
	}
}
