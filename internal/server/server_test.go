package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"task-market/internal/cache"
	"task-market/internal/config"
	"task-market/internal/database"
	"task-market/internal/models"
	"task-market/internal/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"
)

func setupApp(t *testing.T) (*App, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	cfg.Auth.BCryptCost = bcrypt.MinCost
	cfg.RateLimit.Enabled = false
	cfg.Worker.PollInterval = 50 * time.Millisecond

	poolConfig := database.DefaultPoolConfig()
	poolConfig.Driver = database.DriverSQLite
	poolConfig.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.Must(uuid.NewV4()))
	poolConfig.LogLevel = logger.Silent
	pool, err := database.NewDatabasePool(poolConfig)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisConfig := cache.DefaultCacheConfig()
	redisConfig.Addr = mr.Addr()
	redisCache := cache.NewRedisCache(redisConfig)

	app, err := New(context.Background(), cfg, Deps{DB: pool, Redis: redisCache}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app, mr
}

type client struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func (c *client) do(method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func login(t *testing.T, router *gin.Engine, account string) *client {
	t.Helper()
	anon := &client{t: t, router: router}
	creds := gin.H{"account": account, "secret": "correct-horse"}

	w, _ := anon.do(http.MethodPost, "/auth/register", creds)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := anon.do(http.MethodPost, "/auth/token", creds)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return &client{t: t, router: router, token: body["access_token"].(string)}
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	app, mr := setupApp(t)
	ctx := context.Background()
	router := app.Router()

	for _, who := range []models.AccountID{"alice", "bob"} {
		_, err := app.Core.Fund(ctx, who, models.NewU128(10_000))
		require.NoError(t, err)
	}

	alice := login(t, router, "alice")
	bob := login(t, router, "bob")

	w, _ := alice.do(http.MethodPost, "/api/v1/tasks", gin.H{"task_id": "1", "stake": "1000", "detail": []byte("x")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = bob.do(http.MethodPost, "/api/v1/tasks/1/bids", gin.H{"stake": "50"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := bob.do(http.MethodPost, "/api/v1/tasks/1/bids", gin.H{"stake": "99"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DuplicateBid", body["error"])

	// Warm the cache so the delegation has something to invalidate.
	w, body = alice.do(http.MethodGet, "/api/v1/tasks/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["receiver"])

	w, _ = alice.do(http.MethodPost, "/api/v1/tasks/1/delegate", gin.H{"bidder": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = alice.do(http.MethodGet, "/api/v1/tasks/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", body["receiver"])
	assert.Equal(t, float64(models.StatusDoing), body["status"])

	w, _ = bob.do(http.MethodPatch, "/api/v1/tasks/1/status", gin.H{"status": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = alice.do(http.MethodPatch, "/api/v1/tasks/1/status", gin.H{"status": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = alice.do(http.MethodPatch, "/api/v1/tasks/1/status", gin.H{"status": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "InvalidStatus", body["error"])

	w, body = bob.do(http.MethodDelete, "/api/v1/tasks/1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NotOwner", body["error"])

	w, body = bob.do(http.MethodGet, "/api/v1/accounts/bob/tasks?kind=received", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"1"}, body["tasks"])

	w, body = bob.do(http.MethodGet, "/api/v1/events?since=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["events"], 5)

	queued, err := mr.List(worker.QueueEvents)
	require.NoError(t, err)
	assert.Len(t, queued, 5, "every committed transition is queued for delivery")
}

func TestAPIRequiresToken(t *testing.T) {
	app, _ := setupApp(t)
	anon := &client{t: t, router: app.Router()}

	w, body := anon.do(http.MethodGet, "/api/v1/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_token", body["error"])

	anon.token = "not-a-token"
	w, _ = anon.do(http.MethodGet, "/api/v1/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMonitoringRoutes(t *testing.T) {
	app, mr := setupApp(t)
	anon := &client{t: t, router: app.Router()}

	for _, path := range []string{"/health", "/ready", "/live", "/metrics", "/metrics/prometheus"} {
		w, _ := anon.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	mr.Close()
	w, body := anon.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestEventWorkerInvalidatesCache(t *testing.T) {
	app, _ := setupApp(t)
	ctx := context.Background()

	_, err := app.Core.Fund(ctx, "alice", models.NewU128(100))
	require.NoError(t, err)

	// A transition committed through the uncached core leaves a stale entry
	// that only the event consumer can drop.
	_, err = app.Core.CreateTask(ctx, "alice", models.NewU128(1), models.NewU128(10), nil)
	require.NoError(t, err)
	_, err = app.Market.GetTask(ctx, models.NewU128(1))
	require.NoError(t, err)
	_, err = app.Core.RevokeTask(ctx, "alice", models.NewU128(1))
	require.NoError(t, err)

	_, err = app.Market.GetTask(ctx, models.NewU128(1))
	require.NoError(t, err, "still served from cache")

	app.Worker.Start(1)
	defer app.Worker.Stop()

	assert.Eventually(t, func() bool {
		_, err := app.Market.GetTask(ctx, models.NewU128(1))
		return errors.Is(err, models.ErrNotFound)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNewRejectsBadRatio(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	cfg.Market.BidStakeRatio = "2"

	_, err = New(context.Background(), cfg, Deps{DB: &database.DatabasePool{}}, nil)
	assert.Error(t, err)
}
