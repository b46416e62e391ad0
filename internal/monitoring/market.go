package monitoring

import (
	"errors"
	"time"

	"task-market/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmarket",
		Subsystem: "market",
		Name:      "transitions_total",
		Help:      "Marketplace transitions by operation and outcome code.",
	}, []string{"operation", "outcome"})

	transitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskmarket",
		Subsystem: "market",
		Name:      "transition_duration_seconds",
		Help:      "Time spent applying a transition, including rejected ones.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmarket",
		Subsystem: "market",
		Name:      "events_delivered_total",
		Help:      "Market events handled by the event consumer by kind and result.",
	}, []string{"kind", "result"})
)

// ObserveTransition records one transition attempt. Rejections are labelled
// with their error code; infrastructure failures with "error".
func ObserveTransition(operation string, err error, elapsed time.Duration) {
	transitionDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	transitions.WithLabelValues(operation, outcome(err)).Inc()
}

func ObserveEventDelivery(kind models.EventKind, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	eventsDelivered.WithLabelValues(string(kind), result).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var me *models.MarketError
	if errors.As(err, &me) {
		return string(me.Code)
	}
	return "error"
}
