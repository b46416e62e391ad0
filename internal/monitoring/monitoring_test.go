package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"task-market/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "NotOwner", outcome(models.ErrNotOwner))
	assert.Equal(t, "BidClosed", outcome(models.ErrBidClosed.With("closed")))
	assert.Equal(t, "error", outcome(errors.New("disk full")))
}

func TestObserveTransition(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("bid_task", "DuplicateBid"))

	ObserveTransition("bid_task", models.ErrDuplicateBid, time.Millisecond)

	after := testutil.ToFloat64(transitions.WithLabelValues("bid_task", "DuplicateBid"))
	assert.Equal(t, before+1, after)
}

func TestObserveEventDelivery(t *testing.T) {
	before := testutil.ToFloat64(eventsDelivered.WithLabelValues("TaskCreated", "failed"))

	ObserveEventDelivery(models.EventTaskCreated, errors.New("sink down"))

	after := testutil.ToFloat64(eventsDelivered.WithLabelValues("TaskCreated", "failed"))
	assert.Equal(t, before+1, after)
}

func TestHealthChecker(t *testing.T) {
	checker := NewHealthChecker()
	checker.Register("database", func(context.Context) error { return nil })
	checker.Register("cache", func(context.Context) error { return errors.New("connection refused") })

	results, healthy := checker.Run(context.Background())
	assert.False(t, healthy)
	require.Len(t, results, 2)

	assert.Equal(t, "cache", results[0].Name)
	assert.Equal(t, "unhealthy", results[0].Status)
	assert.Equal(t, "connection refused", results[0].Message)
	assert.Equal(t, "database", results[1].Name)
	assert.Equal(t, "healthy", results[1].Status)
}

func TestHealthHandlers(t *testing.T) {
	checker := NewHealthChecker()
	failing := false
	checker.Register("database", func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})

	router := gin.New()
	router.GET("/health", checker.HealthHandler())
	router.GET("/ready", checker.ReadinessHandler())
	router.GET("/live", LivenessHandler())

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	assert.Equal(t, http.StatusOK, get("/ready").Code)

	failing = true
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)
	assert.Equal(t, http.StatusOK, get("/live").Code)
}

func TestMetricsMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/tasks/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", MetricsHandler(func() gin.H { return gin.H{"cache": gin.H{"hits": 1}} }))

	before := GetMetrics()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/7", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	after := GetMetrics()
	assert.Equal(t, before.RequestCount+1, after.RequestCount)
	assert.Equal(t, before.ErrorCount+1, after.ErrorCount)
	assert.Equal(t, before.Endpoints["GET /tasks/:id"]+1, after.Endpoints["GET /tasks/:id"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "application")
	assert.Contains(t, body, "system")
	assert.Contains(t, body, "cache")
}
