package cache

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskmarket",
	Subsystem: "cache",
	Name:      "operations_total",
	Help:      "Cache operations by level and outcome.",
}, []string{"level", "outcome"})

// CacheMetrics keeps local counters for the stats endpoint and mirrors them
// to Prometheus.
type CacheMetrics struct {
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	start   time.Time
}

type CacheMetricsSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	Sets    int64   `json:"sets"`
	Deletes int64   `json:"deletes"`
	HitRate float64 `json:"hit_rate"`
	Uptime  string  `json:"uptime"`
}

func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{start: time.Now()}
}

func (m *CacheMetrics) RecordHit(level string) {
	m.hits.Add(1)
	cacheOperations.WithLabelValues(level, "hit").Inc()
}

func (m *CacheMetrics) RecordMiss() {
	m.misses.Add(1)
	cacheOperations.WithLabelValues("all", "miss").Inc()
}

func (m *CacheMetrics) RecordError(level string) {
	m.errors.Add(1)
	cacheOperations.WithLabelValues(level, "error").Inc()
}

func (m *CacheMetrics) RecordSet() {
	m.sets.Add(1)
}

func (m *CacheMetrics) RecordDelete() {
	m.deletes.Add(1)
}

// HitRate is the percentage of lookups served from any level.
func (m *CacheMetrics) HitRate() float64 {
	hits := m.hits.Load()
	total := hits + m.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func (m *CacheMetrics) Snapshot() CacheMetricsSnapshot {
	return CacheMetricsSnapshot{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Errors:  m.errors.Load(),
		Sets:    m.sets.Load(),
		Deletes: m.deletes.Load(),
		HitRate: m.HitRate(),
		Uptime:  time.Since(m.start).Round(time.Second).String(),
	}
}
