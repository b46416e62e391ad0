package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"task-market/internal/cache"
	"task-market/internal/config"
	"task-market/internal/database"
	"task-market/internal/handlers"
	"task-market/internal/middleware"
	"task-market/internal/monitoring"
	"task-market/internal/repositories"
	"task-market/internal/services"
	"task-market/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sloghttp "github.com/samber/slog-http"
	"gorm.io/gorm/logger"
)

// App holds every long-lived component of a running marketplace node.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB     *database.DatabasePool
	Store  *repositories.GormMarketStore
	Redis  *cache.RedisCache
	Cache  *cache.MultiLevelCache
	Queue  *worker.JobQueue
	Worker *worker.Worker

	Core   *services.MarketServiceImpl
	Market *services.CachedMarketService
	Auth   *services.AuthServiceImpl
	Tokens *services.Tokens
	Health *monitoring.HealthChecker
}

// Deps are the external connections an App is built on. Redis may be nil,
// in which case the node runs with the in-memory cache only and without the
// event worker.
type Deps struct {
	DB    *database.DatabasePool
	Redis *cache.RedisCache
}

// Open connects to the database and, when enabled, to Redis.
func Open(ctx context.Context, cfg *config.Config) (Deps, error) {
	poolConfig := database.DefaultPoolConfig()
	poolConfig.Driver = cfg.Database.Driver
	poolConfig.DSN = cfg.GetDatabaseDSN()
	poolConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	poolConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	poolConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	poolConfig.ConnMaxIdleTime = cfg.Database.ConnMaxIdleTime
	if cfg.IsProduction() {
		poolConfig.LogLevel = logger.Warn
	}

	pool, err := database.NewDatabasePool(poolConfig)
	if err != nil {
		return Deps{}, err
	}

	deps := Deps{DB: pool}
	if !cfg.Redis.Enabled {
		return deps, nil
	}

	redisCache := cache.NewRedisCache(&cache.CacheConfig{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		Prefix:       cfg.Cache.Prefix,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err := redisCache.Health(ctx); err != nil {
		redisCache.Close()
		pool.Close()
		return Deps{}, fmt.Errorf("failed to connect to redis: %w", err)
	}
	deps.Redis = redisCache
	return deps, nil
}

// New migrates the schema and wires the services on top of deps.
func New(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.DB == nil {
		return nil, database.ErrNoConnection
	}

	ratio, err := services.ParseBidStakeRatio(cfg.Market.BidStakeRatio)
	if err != nil {
		return nil, err
	}

	store := repositories.NewMarketStore(deps.DB.DB)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	app := &App{
		Config: cfg,
		Logger: log,
		DB:     deps.DB,
		Store:  store,
		Redis:  deps.Redis,
		Cache:  cache.NewMultiLevelCache(deps.Redis, cfg.Cache.MemoryEntries),
		Tokens: services.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL),
		Health: monitoring.NewHealthChecker(),
	}

	var publisher services.EventPublisher
	if deps.Redis != nil {
		app.Queue = worker.NewJobQueue(deps.Redis.Client(), cfg.Worker.MaxTries)
		publisher = worker.NewQueuePublisher(app.Queue)
	}

	market := services.NewMarketService(store, services.MarketOptions{
		BidStakeRatio:  ratio,
		MaxDetailBytes: cfg.Market.MaxDetailBytes,
		Publisher:      publisher,
		Logger:         log.With(slog.String("component", "market")),
	})
	app.Core = market
	app.Market = services.NewCachedMarketService(market, app.Cache, log)
	app.Auth = services.NewAuthService(deps.DB.DB, app.Tokens, cfg.Auth.BCryptCost, cfg.Auth.RefreshTokenTTL)

	if deps.Redis != nil {
		app.Worker = worker.NewWorker(worker.WorkerConfig{
			RedisClient:  deps.Redis.Client(),
			PollInterval: cfg.Worker.PollInterval,
			RetryBackoff: cfg.Worker.RetryBackoff,
			Logger:       log,
		})
		app.Worker.RegisterHandler(worker.JobTypeMarketEvent,
			worker.MarketEventHandler(log, app.Market.Invalidate))
	}

	app.Health.Register("database", deps.DB.Health)
	if deps.Redis != nil {
		app.Health.Register("redis", deps.Redis.Health)
	}

	return app, nil
}

// Router builds the gin engine serving the market API.
func (a *App) Router() *gin.Engine {
	if a.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithLog())
	router.Use(monitoring.MetricsMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.Config.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.Health.HealthHandler())
	router.GET("/ready", a.Health.ReadinessHandler())
	router.GET("/live", monitoring.LivenessHandler())
	router.GET("/metrics", monitoring.MetricsHandler(a.metricsExtra))
	router.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))

	authn := middleware.AuthMiddleware(a.Tokens)
	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if a.Config.RateLimit.Enabled {
		limit = middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerMinute: a.Config.RateLimit.RequestsPerMin,
			Burst:             a.Config.RateLimit.BurstSize,
			TTL:               a.Config.RateLimit.CleanupInterval,
		})
	}

	authHandler := handlers.NewAuthHandler(a.Auth)
	auth := router.Group("/auth", limit)
	auth.POST("/register", authHandler.Register)
	auth.POST("/token", authHandler.Token)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", authn, authHandler.Logout)

	api := router.Group("/api/v1", authn, limit)
	handlers.NewMarketHandler(a.Market).Register(api)

	return router
}

func (a *App) metricsExtra() gin.H {
	extra := gin.H{
		"cache":    a.Market.CacheStats(),
		"database": a.DB.Stats(),
	}
	if a.Queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if sizes, err := a.Queue.QueueSizes(ctx); err == nil {
			extra["queues"] = sizes
		}
	}
	return extra
}

// Run serves HTTP and processes market events until ctx is cancelled, then
// shuts both down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a.Worker != nil {
		a.Worker.Start(a.Config.Worker.Concurrency)
		defer a.Worker.Stop()
	}

	if err := a.Market.Warm(ctx, a.Config.Cache.WarmPageSize); err != nil {
		a.Logger.WarnContext(ctx, "cache warm-up failed", slog.Any("error", err))
	}

	requestLog := sloghttp.NewWithConfig(a.Logger.With(slog.String("component", "http")), sloghttp.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	})

	srv := &http.Server{
		Addr:         a.Config.GetServerAddr(),
		Handler:      requestLog(a.Router()),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
