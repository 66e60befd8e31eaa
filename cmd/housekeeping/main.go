package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facilityops/housekeeping/internal/access"
	accesshttp "github.com/facilityops/housekeeping/internal/access/http"
	"github.com/facilityops/housekeeping/internal/app"
	"github.com/facilityops/housekeeping/internal/observability"
	"github.com/facilityops/housekeeping/internal/platform/cache"
	"github.com/facilityops/housekeeping/internal/platform/db"
	"github.com/facilityops/housekeeping/internal/rbac"
	"github.com/facilityops/housekeeping/internal/shared"
	"github.com/facilityops/housekeeping/jobs"
	"github.com/facilityops/housekeeping/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	catalog, err := loadCatalog(cfg)
	if err != nil {
		logger.Error("load page catalog", slog.Any("error", err))
		os.Exit(1)
	}

	readiness := map[string]app.ReadinessCheck{}

	var (
		store access.Store
		audit shared.AuditRecorder
		pool  *pgxpool.Pool
	)
	switch cfg.StoreDriver {
	case app.StoreDriverMemory:
		store = access.NewMemoryStore()
		audit = shared.NewMemoryAuditLogger()
		logger.Warn("using in-memory permission store; changes are lost on restart")
	default:
		if cfg.MigrateOnStart {
			applied, err := db.Migrate(cfg.PGDSN, migrations.FS)
			if err != nil {
				logger.Error("migrate database", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("database migrations checked", slog.Bool("applied", applied))
		}
		pool, err = db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		store = access.NewRepository(pool)
		audit = shared.NewAuditLogger(pool)
		readiness["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}

	ensured, err := access.Reconcile(ctx, store, catalog)
	if err != nil {
		logger.Error("reconcile permission matrix", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("permission matrix reconciled", slog.Int("entries", ensured))

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	redisReady := err == nil
	readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	metrics := observability.NewMetrics()
	hub := access.NewHub(access.HubConfig{OnDrop: metrics.ObservePropagationDrop})

	var broadcaster access.Broadcaster = hub
	if redisReady {
		if err := access.RelayFromRedis(ctx, redisClient, cfg.ChangeChannel, hub, logger); err != nil {
			logger.Warn("subscribe change channel; events stay local", slog.Any("error", err))
		} else {
			broadcaster = access.NewRedisBroadcaster(redisClient, cfg.ChangeChannel)
		}
	}

	var locker access.Locker = access.NewLocalLocker()
	if cfg.LockDriver == app.LockDriverRedis {
		if redisReady {
			locker = access.NewRedisLocker(redisClient, access.RedisLockerConfig{Logger: logger})
		} else {
			logger.Warn("redis unavailable; mutations serialise per instance only")
		}
	}

	query := access.NewQueryService(store)
	mutations := access.NewMutationService(access.MutationConfig{
		Store:       store,
		Locker:      locker,
		Broadcaster: broadcaster,
		Audit:       audit,
		Observer:    metrics,
		Logger:      logger,
	})
	guard := access.NewGuard(query, logger, metrics)

	authorizer, err := rbac.NewAuthorizer(nil)
	if err != nil {
		logger.Error("init authorizer", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Authorizer: authorizer, Logger: logger}

	asynqOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	var enqueuer accesshttp.ReconcileEnqueuer
	var inspector *asynq.Inspector
	if redisReady {
		jobClient, err := jobs.NewClient(asynqOpts, logger)
		if err != nil {
			logger.Warn("init job client", slog.Any("error", err))
		} else {
			defer func() {
				if err := jobClient.Close(); err != nil {
					logger.Warn("job client close", slog.Any("error", err))
				}
			}()
			enqueuer = jobClient
		}
		inspector = asynq.NewInspector(asynqOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
	}
	jobHandler := jobs.NewHandler(inspector, logger)

	permissionsHandler := accesshttp.NewHandler(accesshttp.Config{
		Logger:    logger,
		Query:     query,
		Mutations: mutations,
		Guard:     guard,
		Hub:       hub,
		Catalog:   catalog,
		Jobs:      enqueuer,
		RBAC:      rbacMiddleware,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Resolver:           access.NewClaimsResolver(cfg.ClaimsSigningKey),
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobHandler,
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
		Readiness:          readiness,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		// Event streams end with the signal context instead of holding shutdown open.
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func loadCatalog(cfg *app.Config) (*access.Catalog, error) {
	if cfg.CatalogPath != "" {
		return access.LoadCatalogFile(cfg.CatalogPath)
	}
	return access.DefaultCatalog()
}
