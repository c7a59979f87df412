package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/modhost/pkg/api"
	"github.com/platinummonkey/modhost/pkg/audit"
	"github.com/platinummonkey/modhost/pkg/config"
	"github.com/platinummonkey/modhost/pkg/contributions"
	"github.com/platinummonkey/modhost/pkg/discovery"
	"github.com/platinummonkey/modhost/pkg/host"
	"github.com/platinummonkey/modhost/pkg/httputil"
	"github.com/platinummonkey/modhost/pkg/jobs"
	"github.com/platinummonkey/modhost/pkg/lifecycle"
	"github.com/platinummonkey/modhost/pkg/loader"
	"github.com/platinummonkey/modhost/pkg/lock"
	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/middleware"
	"github.com/platinummonkey/modhost/pkg/migrations"
	"github.com/platinummonkey/modhost/pkg/observability"
	"github.com/platinummonkey/modhost/pkg/registry"
	"github.com/platinummonkey/modhost/pkg/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("modhost exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.WithField("service", "modhost")
	log.WithField("version", version).Info("Starting modhost")

	shutdown := observability.NewShutdownManager(log, cfg.Server.ShutdownTimeout)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, log)
	if err != nil {
		return err
	}

	// Database
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if err := storage.EnsureSchema(ctx, db.DB, db.Dialect); err != nil {
		db.Close()
		return err
	}
	log.WithField("driver", db.Dialect).Info("Connected to database")

	registryStore := storage.NewRegistryStore(db.DB, db.Dialect)
	migrationStore := storage.NewMigrationStore(db.DB, db.Dialect)

	// Metrics
	var metrics *observability.Metrics
	promRegistry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(promRegistry)
	}

	runnerOpts := []migrations.Option{migrations.WithLogger(log.WithField("component", "migrations"))}
	if metrics != nil {
		runnerOpts = append(runnerOpts, migrations.WithObserver(metrics))
	}
	runner := migrations.NewRunner(storage.NewSQLExecutor(db.DB), migrationStore, runnerOpts...)

	// Redis backs the lock and rate limiter when configured
	var (
		redisClient *redis.Client
		locker      lock.Locker = lock.NewLocal()
		limiter     middleware.Limiter
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = lock.NewRedis(redisClient, "modhost:lock", cfg.Redis.LockTTL, log)
		limiter = middleware.NewDistributedRateLimiter(redisClient, cfg.RateLimit, "")
		log.Info("Using Redis for module locks and rate limiting")
	} else {
		local := middleware.NewRateLimiter(cfg.RateLimit)
		local.StartCleanup(ctx)
		limiter = local
	}

	// Module code
	processLoader := loader.NewProcess(loader.ProcessConfig{
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:       "modhost-loader",
			Level:      hclog.LevelFromString(cfg.Observability.LogLevel),
			JSONFormat: cfg.Observability.LogFormat == observability.FormatJSON,
		}),
		StartTimeout: cfg.Modules.ProcessTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	resolver := loader.Chain{loader.NewSharedObject(), processLoader}

	scheduler := jobs.NewScheduler(jobs.NewHandlerDispatcher(resolver, log.WithField("component", "dispatcher")), log)

	caps, err := buildCapabilities(ctx, cfg, scheduler)
	if err != nil {
		return err
	}

	mounts := host.NewServer(log)
	rateLimit := middleware.RateLimit(limiter, middleware.RateLimitOptions{Logger: log})
	routeMiddleware := host.NewMiddlewareRegistry()
	routeMiddleware.Register("logging", httputil.LoggingMiddleware(log))
	routeMiddleware.Register("recover", httputil.RecoveryMiddleware(log))
	routeMiddleware.Register("cors", httputil.CORSMiddleware(cfg.Server.CORSOrigins))
	routeMiddleware.Register("json", httputil.ContentTypeMiddleware)

	ctrlCfg := lifecycle.Config{
		Store:             registryStore,
		Migrations:        runner,
		Resolver:          resolver,
		Mounter:           mounts,
		Jobs:              scheduler,
		Middleware:        routeMiddleware,
		Locker:            locker,
		DB:                db.DB,
		Capabilities:      caps,
		Logger:            log.WithField("component", "lifecycle"),
		TransitionTimeout: cfg.Modules.TransitionTimeout,
		ReloadConcurrency: cfg.Modules.ReloadConcurrency,
	}
	auditLogger, auditReader, err := buildAudit(cfg.Audit, db.DB, db.Dialect, log.WithField("component", "audit"))
	if err != nil {
		return err
	}
	var observers lifecycle.Observers
	if metrics != nil {
		observers = append(observers, metrics)
	}
	if auditLogger != nil {
		observers = append(observers, audit.NewRecorder(auditLogger, log.WithField("component", "audit")))
	}
	if len(observers) > 0 {
		ctrlCfg.Observer = observers
	}
	ctrl, err := lifecycle.New(ctrlCfg)
	if err != nil {
		return err
	}

	report, err := ctrl.Reconcile(ctx)
	if err != nil {
		return err
	}
	for name, reason := range report.Failed {
		log.WithFields(logrus.Fields{"module": name, "reason": reason}).Warn("Module did not come back")
	}

	// Discovery
	root, err := cfg.ModulesRoot()
	if err != nil {
		return err
	}
	cache := manifest.NewCache(cfg.Modules.ManifestCacheSize, cfg.Modules.ManifestCacheTTL)
	scanner := discovery.NewScanner(root, cache)
	if cfg.Modules.AutoRegister {
		if _, err := os.Stat(root); err == nil {
			if _, err := discovery.RegisterAll(ctx, scanner, ctrl, log); err != nil {
				log.WithError(err).Warn("Module discovery failed")
			}
		} else {
			log.WithField("root", root).Info("Modules root does not exist, skipping discovery")
		}
	}
	if cfg.Modules.Watch {
		watcherCfg := discovery.WatcherConfig{
			Scanner:  scanner,
			Cache:    cache,
			Debounce: cfg.Modules.WatchDebounce,
			OnEvent: func(ev discovery.Event) {
				log.WithFields(logrus.Fields{"event": ev.Kind, "dir": ev.Dir}).Info("Module directory changed")
			},
			Logger: log.WithField("component", "discovery"),
		}
		if cfg.Modules.AutoRegister {
			watcherCfg.Registrar = ctrl
		}
		watcher, err := discovery.NewWatcher(watcherCfg)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Module watcher stopped")
			}
		}()
	}

	scheduler.Start()

	// Admin API and module routes
	admin, err := api.NewServer(api.Config{
		Controller:    ctrl,
		History:       migrationStore,
		Contributions: contributions.NewAggregator(ctrl, lifecycle.RoutePrefix),
		Jobs:          scheduler,
		Audit:         auditReader,
		Logger:        log.WithField("component", "api"),
	})
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	router.PathPrefix(api.Prefix).Handler(httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes)(admin))
	router.PathPrefix(lifecycle.RoutePrefixRoot + "/").Handler(rateLimit(mounts))

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(log),
		httputil.LoggingMiddleware(log),
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
	)(router)

	mainServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(handler, "modhost"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics
	checker := observability.NewHealthChecker(version)
	checker.AddDatabase(db.DB)
	if redisClient != nil {
		checker.AddRedis(redisClient)
	}
	checker.AddCheck("modules", false, func(ctx context.Context) error {
		records, err := ctrl.List(ctx)
		if err != nil {
			return err
		}
		var failed int
		for _, rec := range records {
			if rec.Status == registry.StatusError {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d module(s) in ERROR", failed)
		}
		return nil
	})
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, checker)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthRouter, promRegistry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.HealthAddr(),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown.AddServer(mainServer)
	shutdown.AddServer(healthServer)
	shutdown.RegisterShutdownFunc("jobs", scheduler.Stop)
	shutdown.RegisterShutdownFunc("modules", ctrl.Shutdown)
	shutdown.RegisterShutdownFunc("module processes", func(context.Context) error {
		processLoader.Close()
		return nil
	})
	if auditLogger != nil {
		shutdown.RegisterShutdownFunc("audit", func(context.Context) error { return auditLogger.Close() })
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, log)
	})

	for _, srv := range []*http.Server{mainServer, healthServer} {
		srv := srv
		go func() {
			log.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).WithField("addr", srv.Addr).Error("Server failed")
				cancel()
			}
		}()
	}

	return shutdown.WaitForShutdown(ctx)
}
