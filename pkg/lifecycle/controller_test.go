package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhost/pkg/jobs"
	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/migrations"
	"github.com/platinummonkey/modhost/pkg/registry"
	"github.com/platinummonkey/modhost/pkg/sdk"
)

func setupBillingSync(t *testing.T, env *testEnv) (*testModule, string) {
	t.Helper()
	mod := &testModule{}
	env.resolver.addModule("dist/billing.so", mod)
	env.resolver.addHandler("handlers/invoices", "invoices")
	env.resolver.addHandler("handlers/sync", "synced")

	dir := writeModule(t, billingSync, map[string]string{
		"001_init.sql": "CREATE TABLE billing_invoices (id TEXT PRIMARY KEY);",
	})
	rec, err := env.ctrl.Register(context.Background(), parseManifest(t, billingSync), dir)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRegistered, rec.Status)
	return mod, dir
}

func TestController_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mod, _ := setupBillingSync(t, env)

	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))
	rec := env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusInstalled, rec.Status)
	assert.NotNil(t, rec.InstalledAt)
	assert.Equal(t, []string{"CREATE TABLE billing_invoices (id TEXT PRIMARY KEY)"}, env.exec.statements())
	assert.Zero(t, mod.initCalls.Load(), "install must not load code")

	require.NoError(t, env.ctrl.Enable(ctx, "billing-sync"))
	rec = env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusEnabled, rec.Status)
	assert.NotNil(t, rec.EnabledAt)
	assert.True(t, env.ctrl.IsLoaded("billing-sync"))

	resp := serve(env.server, http.MethodGet, "/modules/billing-sync/invoices")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "invoices", resp.Body.String())
	assert.Equal(t, "tagged", resp.Header().Get("X-Tag"))
	assert.Equal(t, "synced", serve(env.server, http.MethodPost, "/modules/billing-sync/sync").Body.String())

	def, ok := env.sched.Get("billing-sync", "nightly-sync")
	require.True(t, ok)
	assert.Equal(t, "0 2 * * *", *def.Schedule)
	assert.Equal(t, 2, def.Retries)
	assert.True(t, filepath.IsAbs(def.HandlerPath))

	mctx := mod.context()
	require.NotNil(t, mctx)
	assert.Equal(t, "billing-sync", mctx.Name)
	assert.Equal(t, "1.0.0", mctx.Version)
	v, _ := mctx.Setting("apiKey")
	assert.Equal(t, "sk-test", v)
	assert.NotNil(t, mctx.Capabilities.HTTP)
	assert.Nil(t, mctx.Capabilities.Files)

	require.NoError(t, env.ctrl.Disable(ctx, "billing-sync"))
	rec = env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusDisabled, rec.Status)
	assert.NotNil(t, rec.DisabledAt)
	assert.Equal(t, int32(1), mod.cleanupCalls.Load())
	assert.Equal(t, http.StatusNotFound, serve(env.server, http.MethodGet, "/modules/billing-sync/invoices").Code)
	_, ok = env.sched.Get("billing-sync", "nightly-sync")
	assert.False(t, ok)

	require.NoError(t, env.ctrl.Uninstall(ctx, "billing-sync"))
	_, err := env.store.Get(ctx, "billing-sync")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	assert.Equal(t, 1, env.observer.transitions[CommandEnable])
	assert.Zero(t, env.observer.failures)
	assert.NotContains(t, env.observer.statuses, "billing-sync")
}

func TestController_RegisterRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.ctrl.Register(ctx, map[string]interface{}{"name": "Bad Name", "version": "1"}, "/opt/modules/bad")
	var verr *manifest.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Issues)

	_, err = env.ctrl.Register(ctx, parseManifest(t, billingSync), "relative/dir")
	assert.ErrorContains(t, err, "absolute")

	_, err = env.ctrl.Register(ctx, parseManifest(t, billingSync), "/opt/modules/billing-sync")
	require.NoError(t, err)
	_, err = env.ctrl.Register(ctx, parseManifest(t, billingSync), "/opt/modules/billing-sync")
	assert.ErrorIs(t, err, registry.ErrAlreadyExists)
}

func TestController_RegisterDir(t *testing.T) {
	env := newTestEnv(t)
	dir := writeModule(t, billingSync, nil)

	rec, err := env.ctrl.RegisterDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "billing-sync", rec.Name)
	assert.Equal(t, dir, rec.InstallDir)

	t.Chdir(filepath.Dir(dir))
	_, err = env.ctrl.RegisterDir(context.Background(), filepath.Base(dir))
	assert.ErrorIs(t, err, ErrInvalidInstallDir)

	_, err = env.ctrl.RegisterDir(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, manifest.ErrNoManifest)
}

func TestController_InvalidTransitionLeavesStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	setupBillingSync(t, env)

	err := env.ctrl.Enable(ctx, "billing-sync")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = env.ctrl.Disable(ctx, "billing-sync")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, registry.StatusRegistered, env.status(t, "billing-sync").Status)

	assert.ErrorIs(t, env.ctrl.Install(ctx, "missing"), registry.ErrNotFound)
}

func TestController_EnableFailureUnwindsEverything(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	doc := `{
		"name": "reports",
		"version": "1.0.0",
		"entry": "reports.so",
		"routes": [
			{"method": "GET", "path": "/daily", "handler": "handlers/daily"},
			{"method": "GET", "path": "/weekly", "handler": "handlers/weekly"},
			{"method": "GET", "path": "/monthly", "handler": "handlers/monthly"}
		],
		"jobs": {"rollup": {"description": "Roll up", "handler": "jobs/rollup"}}
	}`
	mod := &testModule{}
	env.resolver.addModule("reports.so", mod)
	env.resolver.addHandler("handlers/daily", "daily")
	env.resolver.addHandler("handlers/weekly", "weekly")

	_, err := env.ctrl.Register(ctx, parseManifest(t, doc), writeModule(t, doc, nil))
	require.NoError(t, err)
	require.NoError(t, env.ctrl.Install(ctx, "reports"))

	err = env.ctrl.Enable(ctx, "reports")
	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CommandEnable, lerr.Command)

	rec := env.status(t, "reports")
	assert.Equal(t, registry.StatusError, rec.Status)
	assert.Contains(t, rec.LastError, "routes[2]")
	assert.Empty(t, env.server.Mounted())
	assert.Empty(t, env.sched.List())
	assert.Equal(t, int32(1), mod.initCalls.Load())
	assert.Equal(t, int32(1), mod.cleanupCalls.Load())
	assert.False(t, env.ctrl.IsLoaded("reports"))
	assert.Equal(t, http.StatusNotFound, serve(env.server, http.MethodGet, "/modules/reports/daily").Code)

	// ERROR is recoverable once the handler exists
	env.resolver.addHandler("handlers/monthly", "monthly")
	require.NoError(t, env.ctrl.Enable(ctx, "reports"))
	assert.Equal(t, "monthly", serve(env.server, http.MethodGet, "/modules/reports/monthly").Body.String())
	assert.Empty(t, env.status(t, "reports").LastError)
}

func TestController_JobFailureUnmountsRoutes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	doc := `{
		"name": "reports",
		"version": "1.0.0",
		"routes": [{"method": "GET", "path": "/daily", "handler": "handlers/daily"}],
		"jobs": {"rollup": {"description": "Roll up", "handler": "jobs/rollup"}}
	}`
	env.resolver.addHandler("handlers/daily", "daily")
	_, err := env.ctrl.Register(ctx, parseManifest(t, doc), writeModule(t, doc, nil))
	require.NoError(t, err)
	require.NoError(t, env.ctrl.Install(ctx, "reports"))

	// Occupy the job key so registration fails after the mount
	require.NoError(t, env.sched.Register(ctx, jobs.Definition{Module: "reports", Name: "rollup"}))

	err = env.ctrl.Enable(ctx, "reports")
	require.ErrorIs(t, err, jobs.ErrAlreadyRegistered)
	assert.Empty(t, env.server.Mounted())
	assert.Equal(t, registry.StatusError, env.status(t, "reports").Status)
}

func TestController_InitializeFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mod := &testModule{initErr: errors.New("missing credentials")}
	env.resolver.addModule("dist/billing.so", mod)
	dir := writeModule(t, billingSync, nil)
	_, err := env.ctrl.Register(ctx, parseManifest(t, billingSync), dir)
	require.NoError(t, err)
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))

	err = env.ctrl.Enable(ctx, "billing-sync")
	require.Error(t, err)
	rec := env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusError, rec.Status)
	assert.Contains(t, rec.LastError, "missing credentials")
	assert.Zero(t, mod.cleanupCalls.Load())
	assert.Empty(t, env.server.Mounted())

	// Migrations are complete, so enable itself is retried
	mod.initErr = nil
	require.NoError(t, env.ctrl.Enable(ctx, "billing-sync"))
	rec = env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusEnabled, rec.Status)
	assert.Empty(t, rec.LastError)
	assert.True(t, env.ctrl.IsLoaded("billing-sync"))
}

func TestController_FailedInstallMigration(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mod := &testModule{}
	env.resolver.addModule("dist/billing.so", mod)
	env.resolver.addHandler("handlers/invoices", "invoices")
	env.resolver.addHandler("handlers/sync", "synced")
	dir := writeModule(t, billingSync, map[string]string{
		"001_init.sql":   "CREATE TABLE billing_invoices (id TEXT PRIMARY KEY);",
		"002_ledger.sql": "CREATE TABLE billing_ledger (id TEXT PRIMARY KEY);",
		"003_index.sql":  "CREATE INDEX billing_invoices_created ON billing_invoices (id);",
	})
	_, err := env.ctrl.Register(ctx, parseManifest(t, billingSync), dir)
	require.NoError(t, err)

	env.exec.failWhen("billing_ledger")
	err = env.ctrl.Install(ctx, "billing-sync")
	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CommandInstall, lerr.Command)
	var merr *migrations.MigrationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "002_ledger.sql", merr.Filename)

	rec := env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusError, rec.Status)
	assert.Contains(t, rec.LastError, "002_ledger.sql")
	assert.Nil(t, rec.InstalledAt)
	assert.Equal(t, []string{
		"CREATE TABLE billing_invoices (id TEXT PRIMARY KEY)",
		"CREATE TABLE billing_ledger (id TEXT PRIMARY KEY)",
	}, env.exec.statements())

	// The schema is incomplete, so the module cannot be enabled
	assert.ErrorIs(t, env.ctrl.Enable(ctx, "billing-sync"), ErrInvalidTransition)
	assert.Equal(t, registry.StatusError, env.status(t, "billing-sync").Status)
	assert.False(t, env.ctrl.IsLoaded("billing-sync"))
	assert.Zero(t, mod.initCalls.Load())
	assert.Empty(t, env.server.Mounted())

	// Retrying install applies only the files that have not succeeded
	env.exec.failWhen("")
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))
	rec = env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusInstalled, rec.Status)
	assert.Empty(t, rec.LastError)
	assert.NotNil(t, rec.InstalledAt)
	assert.Equal(t, []string{
		"CREATE TABLE billing_ledger (id TEXT PRIMARY KEY)",
		"CREATE INDEX billing_invoices_created ON billing_invoices (id)",
	}, env.exec.statements()[2:])

	require.NoError(t, env.ctrl.Enable(ctx, "billing-sync"))
	assert.True(t, env.ctrl.IsLoaded("billing-sync"))
}

func TestController_FailedUpdateMigration(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mod, _ := setupBillingSync(t, env)
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))
	require.NoError(t, env.ctrl.Enable(ctx, "billing-sync"))

	next := withVersion(billingSync, "1.1.0")
	dir := writeModule(t, next, map[string]string{
		"001_init.sql":   "CREATE TABLE billing_invoices (id TEXT PRIMARY KEY);",
		"002_ledger.sql": "CREATE TABLE billing_ledger (id TEXT PRIMARY KEY);",
	})
	env.exec.failWhen("billing_ledger")
	err := env.ctrl.Update(ctx, "billing-sync", UpdateRequest{Raw: parseManifest(t, next), InstallDir: dir})
	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CommandUpdate, lerr.Command)

	rec := env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusError, rec.Status)
	assert.Equal(t, "1.1.0", rec.Version)
	assert.Contains(t, rec.LastError, "002_ledger.sql")
	assert.False(t, env.ctrl.IsLoaded("billing-sync"))
	assert.Equal(t, int32(1), mod.cleanupCalls.Load())
	assert.Empty(t, env.server.Mounted())
	_, ok := env.sched.Get("billing-sync", "nightly-sync")
	assert.False(t, ok)

	// Installed once, but 002 is still pending
	assert.ErrorIs(t, env.ctrl.Enable(ctx, "billing-sync"), ErrInvalidTransition)
	assert.Equal(t, int32(1), mod.initCalls.Load())

	env.exec.failWhen("")
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))
	assert.Equal(t, registry.StatusInstalled, env.status(t, "billing-sync").Status)
	require.NoError(t, env.ctrl.Enable(ctx, "billing-sync"))
	assert.True(t, env.ctrl.IsLoaded("billing-sync"))
	assert.Equal(t, int32(2), mod.initCalls.Load())
}

func TestController_SameRouteInTwoModules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, name := range []string{"alpha", "beta"} {
		doc := `{"name": "` + name + `", "version": "1.0.0", "entry": "` + name + `.so",
			"routes": [{"method": "GET", "path": "/x", "handler": "handlers/x"}]}`
		env.resolver.addModule(name+".so", providerModule{testModule: &testModule{}, name: name})
		_, err := env.ctrl.Register(ctx, parseManifest(t, doc), writeModule(t, doc, nil))
		require.NoError(t, err)
		require.NoError(t, env.ctrl.Install(ctx, name))
		require.NoError(t, env.ctrl.Enable(ctx, name))
	}

	assert.Equal(t, "served by alpha", serve(env.server, http.MethodGet, "/modules/alpha/x").Body.String())
	assert.Equal(t, "served by beta", serve(env.server, http.MethodGet, "/modules/beta/x").Body.String())
	assert.Equal(t, http.StatusNotFound, serve(env.server, http.MethodGet, "/x").Code)

	require.NoError(t, env.ctrl.Disable(ctx, "alpha"))
	assert.Equal(t, http.StatusNotFound, serve(env.server, http.MethodGet, "/modules/alpha/x").Code)
	assert.Equal(t, "served by beta", serve(env.server, http.MethodGet, "/modules/beta/x").Body.String())

	loaded := env.ctrl.Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, "beta", loaded[0].Name)
}

func TestController_ConcurrentTransitionIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mod := &testModule{started: make(chan struct{}), release: make(chan struct{})}
	env.resolver.addModule("dist/billing.so", mod)
	env.resolver.addHandler("handlers/invoices", "invoices")
	env.resolver.addHandler("handlers/sync", "synced")
	_, err := env.ctrl.Register(ctx, parseManifest(t, billingSync), writeModule(t, billingSync, nil))
	require.NoError(t, err)
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))

	errCh := make(chan error, 1)
	go func() { errCh <- env.ctrl.Enable(ctx, "billing-sync") }()
	<-mod.started

	assert.Equal(t, registry.StatusEnabling, env.status(t, "billing-sync").Status)
	assert.ErrorIs(t, env.ctrl.Enable(ctx, "billing-sync"), registry.ErrStatusConflict)
	assert.ErrorIs(t, env.ctrl.Uninstall(ctx, "billing-sync"), registry.ErrStatusConflict)

	close(mod.release)
	require.NoError(t, <-errCh)
	assert.Equal(t, registry.StatusEnabled, env.status(t, "billing-sync").Status)
	assert.Equal(t, int32(1), mod.initCalls.Load())
}

func TestController_DisableAlwaysCompletes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mod, _ := setupBillingSync(t, env)
	mod.cleanupErr = errors.New("connection reset")
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))
	require.NoError(t, env.ctrl.Enable(ctx, "billing-sync"))

	require.NoError(t, env.ctrl.Disable(ctx, "billing-sync"))
	rec := env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusDisabled, rec.Status)
	assert.Contains(t, rec.LastError, "connection reset")
	assert.Empty(t, env.server.Mounted())
}

func TestController_UninstallKeepsMigrationHistory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	setupBillingSync(t, env)
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))
	assert.ErrorIs(t, env.ctrl.Uninstall(ctx, "billing-sync"), ErrInvalidTransition, "an installed module is disabled first")
	require.NoError(t, env.ctrl.Enable(ctx, "billing-sync"))
	require.NoError(t, env.ctrl.Disable(ctx, "billing-sync"))

	require.NoError(t, env.ctrl.Uninstall(ctx, "billing-sync"))
	assert.Len(t, env.exec.statements(), 1, "uninstall runs no SQL")

	// Re-registering finds the migration already applied
	_, err := env.ctrl.Register(ctx, parseManifest(t, billingSync), writeModule(t, billingSync, map[string]string{
		"001_init.sql": "CREATE TABLE billing_invoices (id TEXT PRIMARY KEY);",
	}))
	require.NoError(t, err)
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))
	assert.Len(t, env.exec.statements(), 1)
}

func TestController_UpdateEnabledModule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mod, dir := setupBillingSync(t, env)
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))
	require.NoError(t, env.ctrl.Enable(ctx, "billing-sync"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "migrations", "002_status.sql"),
		[]byte("ALTER TABLE billing_invoices ADD COLUMN status TEXT;"), 0o644))
	updated := withVersion(billingSync, "1.1.0")
	env.resolver.addHandler("handlers/invoices", "invoices v2")

	require.NoError(t, env.ctrl.Update(ctx, "billing-sync", UpdateRequest{Raw: parseManifest(t, updated)}))

	rec := env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusEnabled, rec.Status)
	assert.Equal(t, "1.1.0", rec.Version)
	assert.Contains(t, env.exec.statements(), "ALTER TABLE billing_invoices ADD COLUMN status TEXT")
	assert.Equal(t, int32(2), mod.initCalls.Load())
	assert.Equal(t, int32(1), mod.cleanupCalls.Load())
	assert.Equal(t, "1.1.0", mod.context().Version)
	assert.Equal(t, "invoices v2", serve(env.server, http.MethodGet, "/modules/billing-sync/invoices").Body.String())
}

func TestController_UpdateKeepsPriorStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mod, _ := setupBillingSync(t, env)

	require.NoError(t, env.ctrl.Update(ctx, "billing-sync", UpdateRequest{Raw: parseManifest(t, withVersion(billingSync, "1.0.1"))}))
	rec := env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusRegistered, rec.Status)
	assert.Equal(t, "1.0.1", rec.Version)
	assert.Empty(t, env.exec.statements(), "registered modules are not migrated by update")
	assert.Zero(t, mod.initCalls.Load())

	other := `{"name": "other-module", "version": "2.0.0"}`
	err := env.ctrl.Update(ctx, "billing-sync", UpdateRequest{Raw: parseManifest(t, other)})
	assert.ErrorIs(t, err, ErrNameMismatch)

	err = env.ctrl.Update(ctx, "billing-sync", UpdateRequest{Raw: map[string]interface{}{"name": "billing-sync"}})
	var verr *manifest.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "1.0.1", env.status(t, "billing-sync").Version)
}

func TestController_Submit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	setupBillingSync(t, env)
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))

	assert.ErrorIs(t, env.ctrl.Submit(ctx, "billing-sync", CommandDisable, nil), ErrInvalidTransition)
	assert.ErrorIs(t, env.ctrl.Submit(ctx, "billing-sync", Command("explode"), nil), ErrInvalidTransition)
	assert.Error(t, env.ctrl.Submit(ctx, "billing-sync", CommandUpdate, nil))

	cctx, cancel := context.WithCancel(ctx)
	require.NoError(t, env.ctrl.Submit(cctx, "billing-sync", CommandEnable, nil))
	cancel()
	require.NoError(t, env.ctrl.Wait(ctx))

	assert.Equal(t, registry.StatusEnabled, env.status(t, "billing-sync").Status)
	assert.True(t, env.ctrl.IsLoaded("billing-sync"))
}

func TestController_SubmitFailureParksInError(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.ctrl.Register(ctx, parseManifest(t, billingSync), writeModule(t, billingSync, nil))
	require.NoError(t, err)
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))

	require.NoError(t, env.ctrl.Submit(ctx, "billing-sync", CommandEnable, nil))
	require.NoError(t, env.ctrl.Wait(ctx))

	rec := env.status(t, "billing-sync")
	assert.Equal(t, registry.StatusError, rec.Status)
	assert.Contains(t, rec.LastError, "failed to resolve entry")
}

func TestController_Shutdown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mod, _ := setupBillingSync(t, env)
	require.NoError(t, env.ctrl.Install(ctx, "billing-sync"))
	require.NoError(t, env.ctrl.Enable(ctx, "billing-sync"))

	require.NoError(t, env.ctrl.Shutdown(ctx))
	assert.Equal(t, int32(1), mod.cleanupCalls.Load())
	assert.Empty(t, env.server.Mounted())
	assert.Empty(t, env.ctrl.Loaded())
	assert.Equal(t, registry.StatusEnabled, env.status(t, "billing-sync").Status)
}

func TestPermissionCapabilities(t *testing.T) {
	notifier := notifierFunc(func(ctx context.Context, n sdk.Notification) error { return nil })
	provider := PermissionCapabilities{
		HTTP:     func(module string) sdk.HTTPClient { return http.DefaultClient },
		Notifier: notifier,
		Files:    func(module string) sdk.Files { return nil },
	}

	caps := provider.Capabilities(&manifest.Manifest{Name: "a", Permissions: []string{PermissionNotifications}})
	assert.Nil(t, caps.HTTP)
	assert.NotNil(t, caps.Notifier)
	assert.Nil(t, caps.Automation)

	caps = provider.Capabilities(&manifest.Manifest{Name: "a", Permissions: []string{PermissionHTTP, PermissionAutomation}})
	assert.NotNil(t, caps.HTTP)
	assert.Nil(t, caps.Notifier)
	assert.Nil(t, caps.Automation, "unconfigured capabilities stay nil")
}

type notifierFunc func(ctx context.Context, n sdk.Notification) error

func (f notifierFunc) Notify(ctx context.Context, n sdk.Notification) error { return f(ctx, n) }
