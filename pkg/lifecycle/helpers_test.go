package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhost/pkg/host"
	"github.com/platinummonkey/modhost/pkg/jobs"
	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/migrations"
	"github.com/platinummonkey/modhost/pkg/registry"
	"github.com/platinummonkey/modhost/pkg/sdk"
)

const billingSync = `{
	"name": "billing-sync",
	"version": "1.0.0",
	"displayName": "Billing Sync",
	"author": "Platform Team",
	"entry": "dist/billing.so",
	"routes": [
		{"method": "get", "path": "/invoices", "handler": "handlers/invoices", "middleware": ["tag"]},
		{"method": "POST", "path": "/sync", "handler": "handlers/sync"}
	],
	"jobs": {
		"nightly-sync": {"description": "Pull invoices", "handler": "jobs/nightly", "schedule": "0 2 * * *", "timeout": "5m", "retries": 2}
	},
	"permissions": ["http:request"],
	"settings": {
		"apiKey": {"type": "secret", "label": "API key", "default": "sk-test"}
	}
}`

// testModule counts lifecycle calls and can block or fail on demand
type testModule struct {
	initCalls    atomic.Int32
	cleanupCalls atomic.Int32

	initErr    error
	cleanupErr error

	started chan struct{}
	release chan struct{}

	mu  sync.Mutex
	ctx *sdk.Context
}

func (m *testModule) Initialize(ctx *sdk.Context) error {
	m.initCalls.Add(1)
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	if m.started != nil {
		close(m.started)
		<-m.release
	}
	return m.initErr
}

func (m *testModule) Cleanup(ctx *sdk.Context) error {
	m.cleanupCalls.Add(1)
	return m.cleanupErr
}

func (m *testModule) context() *sdk.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// providerModule serves its own handlers
type providerModule struct {
	*testModule
	name string
}

func (p providerModule) Handler(ref sdk.HandlerRef) (http.Handler, error) {
	if ref.Declared != "handlers/x" {
		return nil, sdk.ErrNotResolvable
	}
	return text("served by " + p.name), nil
}

// fakeResolver resolves entries and handlers by file base name
type fakeResolver struct {
	mu       sync.Mutex
	modules  map[string]sdk.Module
	handlers map[string]http.Handler
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		modules:  make(map[string]sdk.Module),
		handlers: make(map[string]http.Handler),
	}
}

func (r *fakeResolver) addModule(entry string, m sdk.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[filepath.Base(entry)] = m
}

func (r *fakeResolver) addHandler(handler, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[filepath.Base(handler)] = text(body)
}

func (r *fakeResolver) Resolve(ctx context.Context, entryPath string) (sdk.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modules[filepath.Base(entryPath)]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("no module at %s", entryPath)
}

func (r *fakeResolver) ResolveHandler(ctx context.Context, handlerPath string) (http.Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handlers[filepath.Base(handlerPath)]; ok {
		return h, nil
	}
	return nil, errors.New("handler not found")
}

// recordingExecutor records every statement it is given and fails those
// containing the failOn fragment
type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	failOn   string
}

func (e *recordingExecutor) Execute(ctx context.Context, sql string) (migrations.ExecResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, sql)
	if e.failOn != "" && strings.Contains(sql, e.failOn) {
		return migrations.ExecResult{}, errors.New("relation already exists")
	}
	return migrations.ExecResult{}, nil
}

func (e *recordingExecutor) failWhen(fragment string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOn = fragment
}

func (e *recordingExecutor) statements() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

type recordingObserver struct {
	mu          sync.Mutex
	statuses    map[string]registry.Status
	transitions map[Command]int
	failures    int
	loaded      int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		statuses:    make(map[string]registry.Status),
		transitions: make(map[Command]int),
	}
}

func (o *recordingObserver) ObserveTransition(module string, cmd Command, success bool, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions[cmd]++
	if !success {
		o.failures++
	}
}

func (o *recordingObserver) SetModuleStatus(module string, status registry.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[module] = status
}

func (o *recordingObserver) RemoveModule(module string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.statuses, module)
}

func (o *recordingObserver) SetLoadedModules(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loaded = n
}

type testEnv struct {
	ctrl     *Controller
	store    *registry.MemoryStore
	server   *host.Server
	sched    *jobs.Scheduler
	exec     *recordingExecutor
	resolver *fakeResolver
	observer *recordingObserver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()

	middleware := host.NewMiddlewareRegistry()
	middleware.Register("tag", func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Tag", "tagged")
			next.ServeHTTP(w, r)
		})
	})

	env := &testEnv{
		store:    registry.NewMemoryStore(),
		server:   host.NewServer(logger),
		sched:    jobs.NewScheduler(jobs.DispatcherFunc(func(ctx context.Context, def jobs.Definition) error { return nil }), logger),
		exec:     &recordingExecutor{},
		resolver: newFakeResolver(),
		observer: newRecordingObserver(),
	}

	ctrl, err := New(Config{
		Store:      env.store,
		Migrations: migrations.NewRunner(env.exec, migrations.NewMemoryStore()),
		Resolver:   env.resolver,
		Mounter:    env.server,
		Jobs:       env.sched,
		Middleware: middleware,
		Capabilities: PermissionCapabilities{
			HTTP: func(module string) sdk.HTTPClient { return http.DefaultClient },
		},
		Observer: env.observer,
		Logger:   logger,
	})
	require.NoError(t, err)
	env.ctrl = ctrl
	return env
}

func parseManifest(t *testing.T, doc string) map[string]interface{} {
	t.Helper()
	raw, err := manifest.Parse([]byte(doc), "module.json")
	require.NoError(t, err)
	return raw
}

// writeModule lays out an install directory with a manifest and migrations
func writeModule(t *testing.T, doc string, migrationFiles map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.json"), []byte(doc), 0o644))
	if len(migrationFiles) > 0 {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "migrations"), 0o755))
		for name, content := range migrationFiles {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "migrations", name), []byte(content), 0o644))
		}
	}
	return dir
}

// withVersion rewrites the version of a JSON manifest
func withVersion(doc, version string) string {
	return strings.Replace(doc, `"version": "1.0.0"`, fmt.Sprintf(`"version": %q`, version), 1)
}

func text(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func (e *testEnv) status(t *testing.T, name string) *registry.Record {
	t.Helper()
	rec, err := e.store.Get(context.Background(), name)
	require.NoError(t, err)
	return rec
}
