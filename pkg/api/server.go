package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhost/pkg/audit"
	"github.com/platinummonkey/modhost/pkg/contributions"
	"github.com/platinummonkey/modhost/pkg/jobs"
	"github.com/platinummonkey/modhost/pkg/lifecycle"
	"github.com/platinummonkey/modhost/pkg/migrations"
	"github.com/platinummonkey/modhost/pkg/registry"
)

// Prefix is the mount point of the admin API
const Prefix = "/api/v1"

// Controller is the lifecycle surface the API drives
type Controller interface {
	Register(ctx context.Context, raw map[string]interface{}, installDir string) (*registry.Record, error)
	RegisterDir(ctx context.Context, installDir string) (*registry.Record, error)
	Submit(ctx context.Context, name string, cmd lifecycle.Command, req *lifecycle.UpdateRequest) error
	Get(ctx context.Context, name string) (*registry.Record, error)
	List(ctx context.Context) ([]*registry.Record, error)
	VerifyIntegrity(ctx context.Context, name string) ([]migrations.IntegrityError, error)
	IsLoaded(name string) bool
}

// MigrationHistory lists recorded migration attempts
type MigrationHistory interface {
	ListMigrations(ctx context.Context, module string) ([]*migrations.Record, error)
}

// Contributions aggregates UI contributions of loaded modules
type Contributions interface {
	Widgets() []contributions.Widget
	Navigation() contributions.Navigation
}

// Jobs exposes the job registry
type Jobs interface {
	List() []jobs.Definition
	NextRun(module, job string) (time.Time, bool)
	Trigger(ctx context.Context, module, job string) error
}

// Config wires the server. Jobs is optional.
type Config struct {
	Controller    Controller
	History       MigrationHistory
	Contributions Contributions
	Jobs          Jobs
	Audit         audit.Reader
	Logger        logrus.FieldLogger
}

// Server serves the admin API
type Server struct {
	router        *mux.Router
	ctrl          Controller
	history       MigrationHistory
	contributions Contributions
	jobs          Jobs
	audit         audit.Reader
	log           logrus.FieldLogger
}

// NewServer creates the API server and its routes
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil || cfg.History == nil || cfg.Contributions == nil {
		return nil, errors.New("controller, history and contributions are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		router:        mux.NewRouter(),
		ctrl:          cfg.Controller,
		history:       cfg.History,
		contributions: cfg.Contributions,
		jobs:          cfg.Jobs,
		audit:         cfg.Audit,
		log:           log.WithField("component", "api"),
	}
	s.setupRoutes(s.router.PathPrefix(Prefix).Subrouter())
	return s, nil
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/modules", s.listModules).Methods(http.MethodGet)
	r.HandleFunc("/modules", s.registerModule).Methods(http.MethodPost)
	r.HandleFunc("/modules/{name}", s.getModule).Methods(http.MethodGet)
	r.HandleFunc("/modules/{name}/migrations", s.listMigrations).Methods(http.MethodGet)
	r.HandleFunc("/modules/{name}/integrity", s.verifyIntegrity).Methods(http.MethodGet)
	r.HandleFunc("/modules/{name}/{command:install|enable|disable|update|uninstall}", s.submit).Methods(http.MethodPost)

	r.HandleFunc("/manifests/validate", s.validateManifest).Methods(http.MethodPost)

	r.HandleFunc("/contributions/widgets", s.widgets).Methods(http.MethodGet)
	r.HandleFunc("/contributions/navigation", s.navigation).Methods(http.MethodGet)

	if s.jobs != nil {
		r.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
		r.HandleFunc("/modules/{name}/jobs/{job}/run", s.runJob).Methods(http.MethodPost)
	}
	if s.audit != nil {
		r.HandleFunc("/events", s.listEvents).Methods(http.MethodGet)
		r.HandleFunc("/modules/{name}/events", s.listEvents).Methods(http.MethodGet)
	}
}

// Router exposes the router so callers can add middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
