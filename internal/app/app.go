package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/akshay-ctas/server/internal/config"
	"github.com/akshay-ctas/server/internal/event"
	handler "github.com/akshay-ctas/server/internal/handler/http"
	"github.com/akshay-ctas/server/internal/repository/postgres"
	rediscache "github.com/akshay-ctas/server/internal/repository/redis"
	"github.com/akshay-ctas/server/internal/service"
	"github.com/akshay-ctas/server/internal/storage"
	"github.com/akshay-ctas/server/internal/storage/gcs"
	"github.com/akshay-ctas/server/internal/storage/memory"
	"github.com/akshay-ctas/server/migrations"
	"github.com/akshay-ctas/server/pkg/database"
	"github.com/akshay-ctas/server/pkg/health"
	pkgkafka "github.com/akshay-ctas/server/pkg/kafka"
	"github.com/akshay-ctas/server/pkg/middleware"
	"github.com/akshay-ctas/server/pkg/tracing"
)

const serviceName = "catalog"

// App wires together all dependencies and runs the catalog service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	gcs            *gcs.Backend
	httpServer     *http.Server
	stopBackground context.CancelFunc
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := prometheus.Register(database.NewPoolStatsCollector(pool, serviceName)); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)

	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	products := postgres.NewProductRepository(pool)
	categories := postgres.NewCategoryRepository(pool)
	deps := service.Deps{
		Products:   products,
		Categories: categories,
		Logger:     logger,
	}

	// Optional Redis read cache.
	if cfg.RedisEnabled {
		client, err := database.NewRedisClient(ctx, database.RedisConfig{
			Host:         cfg.RedisHost,
			Port:         cfg.RedisPort,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		deps.Cache = rediscache.NewProductCache(client, cfg.CacheTTL())
		healthHandler.RegisterOptional("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		logger.Info("redis product cache enabled",
			slog.String("addr", fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)),
			slog.Duration("ttl", cfg.CacheTTL()),
		)
	}

	// Optional Kafka producer.
	if len(cfg.KafkaBrokers) > 0 {
		producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		a.producer = producer
		if err := producer.Ping(ctx); err != nil {
			logger.Warn("kafka producer ping failed, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		deps.Events = event.NewProducer(producer, logger)
		healthHandler.RegisterOptional("kafka", producer.Ping)
	}

	// Blob storage.
	var (
		backend storage.Backend
		blobs   http.Handler
	)
	switch cfg.StorageBackend {
	case config.StorageGCS:
		b, err := gcs.New(ctx, gcs.Config{
			Bucket:        cfg.GCSBucket,
			CDNDomain:     cfg.GCSCDNDomain,
			PublicBaseURL: cfg.StoragePublicBaseURL,
			EmulatorHost:  cfg.GCSEmulatorHost,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.gcs = b
		backend = b
	default:
		b := memory.New(cfg.PublicBaseURL())
		backend = b
		blobs = b
		logger.Warn("using in-memory blob storage; uploads are lost on restart")
	}
	storeCfg := storage.DefaultConfig()
	storeCfg.MaxConcurrency = cfg.StorageMaxConcurrency
	store := storage.New(backend, storeCfg, logger)
	deps.Blobs = store
	healthHandler.RegisterOptional("storage", store.Ping)
	logger.Info("blob storage initialized", slog.String("backend", cfg.StorageBackend))

	// Build the dependency graph.
	validator := service.NewProductValidator(products, categories)
	productService := service.NewProductService(deps, validator)
	coordinator := service.NewVariantImageCoordinator(deps, validator)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	a.stopBackground = stopBackground

	var rateLimit func(http.Handler) http.Handler
	if cfg.RateLimitRPS > 0 {
		rateLimit = middleware.RateLimit(bgCtx, cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	}

	tokens := middleware.HS256Validator(cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; admin routes reject every request")
		tokens = func(string) (*middleware.Claims, error) {
			return nil, errors.New("token validation not configured")
		}
	}

	router := handler.NewRouter(handler.RouterConfig{
		ServiceName: serviceName,
		Products:    productService,
		Coordinator: coordinator,
		Categories:  categories,
		Health:      healthHandler,
		Tokens:      tokens,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			MaxAge:         300,
		},
		RateLimit:         rateLimit,
		Blobs:             blobs,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		ReadCacheMaxAge:   cfg.HTTPCacheMaxAgeSeconds,
		Logger:            logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return a, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.closeResources()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components: the HTTP server drains first so
// in-flight writes finish their side effects, then spans are flushed and the
// clients are closed.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases everything NewApp acquired. Nil members are skipped
// so it also serves a partially initialized App.
func (a *App) closeResources() error {
	var errs []error

	if a.stopBackground != nil {
		a.stopBackground()
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}

	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Error("gcs client close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.gcs = nil
	}

	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}

	return errors.Join(errs...)
}
