package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/modhost/pkg/lifecycle"
	"github.com/platinummonkey/modhost/pkg/registry"
)

const namespace = "modhost"

// Metrics holds the host's Prometheus collectors. It satisfies both
// lifecycle.Observer and migrations.Observer.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec

	MigrationsTotal   *prometheus.CounterVec
	MigrationDuration *prometheus.HistogramVec

	ModuleStatus  *prometheus.GaugeVec
	LoadedModules prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_transitions_total",
				Help:      "Lifecycle transitions by command and result",
			},
			[]string{"module", "command", "result"},
		),
		TransitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_transition_duration_seconds",
				Help:      "Lifecycle transition duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"command"},
		),
		MigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_migrations_total",
				Help:      "Migration files executed by result",
			},
			[]string{"module", "result"},
		),
		MigrationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_migration_duration_seconds",
				Help:      "Migration file execution time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"module"},
		),
		ModuleStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "module_status",
				Help:      "1 for the module's current lifecycle status, 0 otherwise",
			},
			[]string{"module", "status"},
		),
		LoadedModules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "modules_loaded",
				Help:      "Modules currently loaded with routes and jobs registered",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransitionsTotal,
		m.TransitionDuration,
		m.MigrationsTotal,
		m.MigrationDuration,
		m.ModuleStatus,
		m.LoadedModules,
	)
	return m
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// ObserveTransition implements lifecycle.Observer
func (m *Metrics) ObserveTransition(module string, cmd lifecycle.Command, success bool, elapsed time.Duration) {
	m.TransitionsTotal.WithLabelValues(module, string(cmd), result(success)).Inc()
	m.TransitionDuration.WithLabelValues(string(cmd)).Observe(elapsed.Seconds())
}

// SetModuleStatus implements lifecycle.Observer
func (m *Metrics) SetModuleStatus(module string, status registry.Status) {
	for _, s := range registry.AllStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.ModuleStatus.WithLabelValues(module, string(s)).Set(v)
	}
}

// RemoveModule implements lifecycle.Observer
func (m *Metrics) RemoveModule(module string) {
	m.ModuleStatus.DeletePartialMatch(prometheus.Labels{"module": module})
}

// SetLoadedModules implements lifecycle.Observer
func (m *Metrics) SetLoadedModules(n int) {
	m.LoadedModules.Set(float64(n))
}

// ObserveMigration implements migrations.Observer
func (m *Metrics) ObserveMigration(module string, success bool, elapsed time.Duration) {
	m.MigrationsTotal.WithLabelValues(module, result(success)).Inc()
	m.MigrationDuration.WithLabelValues(module).Observe(elapsed.Seconds())
}

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests. The route label is the mux
// path template when one matched, so module paths do not explode label
// cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "other"
}

// RegisterMetricsEndpoint serves the registry at /metrics
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
