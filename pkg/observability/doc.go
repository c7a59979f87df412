// Package observability wires logging, Prometheus metrics, OpenTelemetry,
// health probes and graceful shutdown for the host binary.
//
// # Logging
//
//	log, err := observability.NewLogger("info", "json")
//	observability.FromContext(ctx).Info("request handled")
//
// # Metrics
//
// Metrics implements the lifecycle and migration observers, so one value
// feeds both:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	runner := migrations.NewRunner(exec, store, migrations.WithObserver(metrics))
//	ctrl, err := lifecycle.New(lifecycle.Config{..., Observer: metrics})
//	observability.RegisterMetricsEndpoint(router, reg)
//
// # Health
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddDatabase(db)
//	checker.AddRedis(redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(log, 30*time.Second)
//	sm.AddServer(adminServer)
//	sm.RegisterShutdownFunc("modules", ctrl.Shutdown)
//	err := sm.WaitForShutdown(ctx)
package observability
