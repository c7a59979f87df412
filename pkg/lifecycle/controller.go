package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/modhost/pkg/async"
	"github.com/platinummonkey/modhost/pkg/lock"
	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/migrations"
	"github.com/platinummonkey/modhost/pkg/registry"
	"github.com/platinummonkey/modhost/pkg/sdk"
)

var tracer = otel.Tracer("modhost/lifecycle")

// RoutePrefixRoot is the path under which every module's routes are mounted
const RoutePrefixRoot = "/modules"

// RoutePrefix returns the mount prefix of a module
func RoutePrefix(name string) string {
	return RoutePrefixRoot + "/" + name
}

// Config wires a Controller to its collaborators
type Config struct {
	Store      registry.Store
	Migrations MigrationRunner
	Resolver   sdk.Resolver
	Mounter    Mounter
	Jobs       JobRegistrar

	// Optional
	Middleware   MiddlewareResolver
	Locker       lock.Locker
	DB           sdk.DB
	Capabilities CapabilityProvider
	Observer     Observer
	Logger       logrus.FieldLogger

	// TransitionTimeout bounds background transitions started by Submit.
	// Zero means no deadline.
	TransitionTimeout time.Duration
	// ReloadConcurrency bounds parallel reloads during Reconcile
	ReloadConcurrency int
}

// Controller owns every module state change and the in-memory table of
// loaded modules. The registry is authoritative; the table is rebuilt by
// Reconcile on start.
type Controller struct {
	store      registry.Store
	runner     MigrationRunner
	resolver   sdk.Resolver
	mounter    Mounter
	jobs       JobRegistrar
	middleware MiddlewareResolver
	locker     lock.Locker
	db         sdk.DB
	caps       CapabilityProvider
	observer   Observer
	log        logrus.FieldLogger

	timeout     time.Duration
	concurrency int
	background  async.Group
	now         func() time.Time

	mu      sync.RWMutex
	handles map[string]*handle
}

// New creates a controller
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("lifecycle: registry store is required")
	case cfg.Migrations == nil:
		return nil, fmt.Errorf("lifecycle: migration runner is required")
	case cfg.Resolver == nil:
		return nil, fmt.Errorf("lifecycle: resolver is required")
	case cfg.Mounter == nil:
		return nil, fmt.Errorf("lifecycle: mounter is required")
	case cfg.Jobs == nil:
		return nil, fmt.Errorf("lifecycle: job registrar is required")
	}

	c := &Controller{
		store:       cfg.Store,
		runner:      cfg.Migrations,
		resolver:    cfg.Resolver,
		mounter:     cfg.Mounter,
		jobs:        cfg.Jobs,
		middleware:  cfg.Middleware,
		locker:      cfg.Locker,
		db:          cfg.DB,
		caps:        cfg.Capabilities,
		observer:    cfg.Observer,
		log:         cfg.Logger,
		timeout:     cfg.TransitionTimeout,
		concurrency: cfg.ReloadConcurrency,
		now:         time.Now,
		handles:     make(map[string]*handle),
	}
	if c.locker == nil {
		c.locker = lock.NewLocal()
	}
	if c.caps == nil {
		c.caps = PermissionCapabilities{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.concurrency <= 0 {
		c.concurrency = 8
	}
	return c, nil
}

// Register validates raw and persists a new REGISTERED record. No code is
// loaded and no migration runs.
func (c *Controller) Register(ctx context.Context, raw map[string]interface{}, installDir string) (*registry.Record, error) {
	result := manifest.Validate(raw)
	if err := result.Err(); err != nil {
		return nil, err
	}
	if err := CheckInstallDir(installDir); err != nil {
		return nil, err
	}

	m, err := manifest.Decode(raw)
	if err != nil {
		return nil, err
	}
	stored, err := manifest.Encode(raw)
	if err != nil {
		return nil, err
	}

	rec := &registry.Record{
		ID:         uuid.New().String(),
		Name:       m.Name,
		Version:    m.Version,
		Manifest:   stored,
		Status:     registry.StatusRegistered,
		InstallDir: filepath.Clean(installDir),
	}
	if err := c.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	log := c.log.WithFields(logrus.Fields{"module": m.Name, "version": m.Version})
	for _, w := range result.Warnings {
		log.WithField("field", w.Field).Warn(w.Message)
	}
	log.Info("Registered module")
	c.observeStatus(m.Name, registry.StatusRegistered)

	return c.store.Get(ctx, m.Name)
}

// RegisterDir registers the module whose manifest lives in installDir
func (c *Controller) RegisterDir(ctx context.Context, installDir string) (*registry.Record, error) {
	if err := CheckInstallDir(installDir); err != nil {
		return nil, err
	}
	path, err := manifest.FindFile(installDir)
	if err != nil {
		return nil, err
	}
	doc, err := manifest.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Register(ctx, doc.Raw, installDir)
}

// Install runs the module's pending migrations
func (c *Controller) Install(ctx context.Context, name string) error {
	return c.runSync(ctx, name, CommandInstall, nil)
}

// Enable loads the module and registers its routes and jobs
func (c *Controller) Enable(ctx context.Context, name string) error {
	return c.runSync(ctx, name, CommandEnable, nil)
}

// Disable cleans up the module and removes its routes and jobs
func (c *Controller) Disable(ctx context.Context, name string) error {
	return c.runSync(ctx, name, CommandDisable, nil)
}

// Uninstall deletes the module record. Schema created by the module's
// migrations is left in place.
func (c *Controller) Uninstall(ctx context.Context, name string) error {
	return c.runSync(ctx, name, CommandUninstall, nil)
}

// UpdateRequest carries the new descriptor for an update
type UpdateRequest struct {
	Raw map[string]interface{}
	// InstallDir replaces the install directory when set
	InstallDir string
}

// Update replaces the module's manifest, applies newly pending migrations
// and reloads the module if it was enabled.
func (c *Controller) Update(ctx context.Context, name string, req UpdateRequest) error {
	if err := c.checkUpdate(name, req); err != nil {
		return err
	}
	return c.runSync(ctx, name, CommandUpdate, &req)
}

// Submit claims the transition now and runs it in the background. A
// conflicting or invalid command is rejected before Submit returns; the
// outcome of an accepted one is visible through the record's status.
func (c *Controller) Submit(ctx context.Context, name string, cmd Command, req *UpdateRequest) error {
	if _, ok := Transitions[cmd]; !ok {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidTransition, cmd)
	}
	if cmd == CommandUpdate {
		if req == nil {
			return fmt.Errorf("update requires a manifest")
		}
		if err := c.checkUpdate(name, *req); err != nil {
			return err
		}
	}

	cl, err := c.claim(ctx, name, cmd)
	if err != nil {
		return err
	}

	c.background.Go(context.WithoutCancel(ctx), c.timeout, fmt.Sprintf("%s %s", cmd, name), func(ctx context.Context) error {
		defer cl.release()
		return c.execute(ctx, cl, req)
	})
	return nil
}

// Get returns the module record
func (c *Controller) Get(ctx context.Context, name string) (*registry.Record, error) {
	return c.store.Get(ctx, name)
}

// List returns every module record
func (c *Controller) List(ctx context.Context) ([]*registry.Record, error) {
	return c.store.List(ctx)
}

// VerifyIntegrity checks the module's applied migrations against its files
func (c *Controller) VerifyIntegrity(ctx context.Context, name string) ([]migrations.IntegrityError, error) {
	rec, err := c.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	_, m, err := manifest.DecodeStored(rec.Manifest)
	if err != nil {
		return nil, err
	}
	return c.runner.VerifyMigrationIntegrity(ctx, name, filepath.Join(rec.InstallDir, m.MigrationsDir()))
}

// Loaded returns the manifests of loaded modules ordered by name
func (c *Controller) Loaded() []*manifest.Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*manifest.Manifest, 0, len(c.handles))
	for _, h := range c.handles {
		out = append(out, h.manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsLoaded reports whether the module currently has a loaded handle
func (c *Controller) IsLoaded(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.handles[name]
	return ok
}

// Wait blocks until background transitions started by Submit have finished
func (c *Controller) Wait(ctx context.Context) error {
	return c.background.Wait(ctx)
}

// claim is an exclusive, in-progress hold on one module
type claim struct {
	cmd     Command
	rec     *registry.Record
	prior   registry.Status
	release func()
	started time.Time
}

// claim takes the per-module lock and moves the record into the command's
// in-progress state. It fails fast; nothing waits for another transition.
func (c *Controller) claim(ctx context.Context, name string, cmd Command) (*claim, error) {
	t, ok := Transitions[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidTransition, cmd)
	}

	unlock, err := c.locker.TryLock(ctx, name)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("%w: %s has a transition in progress", registry.ErrStatusConflict, name)
		}
		return nil, err
	}

	rec, err := c.store.Get(ctx, name)
	if err != nil {
		unlock()
		return nil, err
	}
	if !Allowed(cmd, rec.Status) {
		unlock()
		if rec.Status.InProgress() {
			return nil, fmt.Errorf("%w: %s is %s", registry.ErrStatusConflict, name, rec.Status)
		}
		return nil, fmt.Errorf("%w: cannot %s %s while %s", ErrInvalidTransition, cmd, name, rec.Status)
	}
	if cmd == CommandEnable && rec.Status == registry.StatusError {
		if err := c.checkMigrated(ctx, rec); err != nil {
			unlock()
			return nil, err
		}
	}

	prior := rec.Status
	rec, err = c.store.TransitionStatus(ctx, name, []registry.Status{prior}, t.InProgress)
	if err != nil {
		unlock()
		return nil, err
	}
	c.observeStatus(name, t.InProgress)

	return &claim{cmd: cmd, rec: rec, prior: prior, release: unlock, started: c.now()}, nil
}

// checkMigrated guards enable out of ERROR. Only a module whose install
// finished and whose migrations are all applied may skip straight to
// ENABLED; after a failed install or update migration the operator retries
// install instead.
func (c *Controller) checkMigrated(ctx context.Context, rec *registry.Record) error {
	if rec.InstalledAt == nil {
		return fmt.Errorf("%w: %s was never installed, retry install", ErrInvalidTransition, rec.Name)
	}
	_, m, err := manifest.DecodeStored(rec.Manifest)
	if err != nil {
		return err
	}
	pending, err := c.runner.PendingMigrations(ctx, rec.Name, filepath.Join(rec.InstallDir, m.MigrationsDir()))
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %s has %d pending migrations starting at %s, retry install",
			ErrInvalidTransition, rec.Name, len(pending), pending[0].Name)
	}
	return nil
}

func (c *Controller) runSync(ctx context.Context, name string, cmd Command, req *UpdateRequest) error {
	cl, err := c.claim(ctx, name, cmd)
	if err != nil {
		return err
	}
	defer cl.release()
	return c.execute(ctx, cl, req)
}

// execute runs the body of a claimed transition and records its outcome
func (c *Controller) execute(ctx context.Context, cl *claim, req *UpdateRequest) error {
	name := cl.rec.Name
	ctx, span := tracer.Start(ctx, "lifecycle."+string(cl.cmd),
		trace.WithAttributes(
			attribute.String("module", name),
			attribute.String("from", string(cl.prior)),
		),
	)
	defer span.End()

	var err error
	switch cl.cmd {
	case CommandInstall:
		err = c.doInstall(ctx, cl.rec)
	case CommandEnable:
		err = c.doEnable(ctx, cl.rec)
	case CommandDisable:
		err = c.doDisable(ctx, cl.rec)
	case CommandUpdate:
		err = c.doUpdate(ctx, cl.rec, cl.prior, req)
	case CommandUninstall:
		err = c.doUninstall(ctx, cl.rec)
	}

	elapsed := c.now().Sub(cl.started)
	if c.observer != nil {
		c.observer.ObserveTransition(name, cl.cmd, err == nil, elapsed)
	}
	log := c.log.WithFields(logrus.Fields{"module": name, "command": cl.cmd, "duration": elapsed})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		log.WithError(err).Error("Lifecycle transition failed")
		return c.fail(ctx, cl.rec, cl.cmd, err)
	}
	log.Info("Lifecycle transition complete")
	return nil
}

// fail parks the module in ERROR with the cause retained
func (c *Controller) fail(ctx context.Context, rec *registry.Record, cmd Command, cause error) error {
	rec.Status = registry.StatusError
	rec.LastError = cause.Error()
	if err := c.store.Update(context.WithoutCancel(ctx), rec); err != nil {
		c.log.WithError(err).WithField("module", rec.Name).Error("Failed to record module error")
	}
	c.observeStatus(rec.Name, registry.StatusError)
	return &LifecycleError{Module: rec.Name, Command: cmd, Err: cause}
}

func (c *Controller) doInstall(ctx context.Context, rec *registry.Record) error {
	_, m, err := manifest.DecodeStored(rec.Manifest)
	if err != nil {
		return err
	}
	if _, err := c.runner.RunModuleMigrations(ctx, rec.Name, rec.Version, filepath.Join(rec.InstallDir, m.MigrationsDir())); err != nil {
		return err
	}

	now := c.now().UTC()
	rec.Status = registry.StatusInstalled
	rec.InstalledAt = &now
	rec.LastError = ""
	return c.save(ctx, rec)
}

func (c *Controller) doEnable(ctx context.Context, rec *registry.Record) error {
	_, m, err := manifest.DecodeStored(rec.Manifest)
	if err != nil {
		return err
	}
	h, err := c.load(ctx, rec, m)
	if err != nil {
		return err
	}

	now := c.now().UTC()
	rec.Status = registry.StatusEnabled
	rec.EnabledAt = &now
	rec.LastError = ""
	if err := c.save(ctx, rec); err != nil {
		c.unload(ctx, h)
		return err
	}
	c.attach(h)
	return nil
}

func (c *Controller) doDisable(ctx context.Context, rec *registry.Record) error {
	if h := c.detach(rec.Name); h != nil {
		if err := c.unload(ctx, h); err != nil {
			rec.LastError = err.Error()
		} else {
			rec.LastError = ""
		}
	}

	now := c.now().UTC()
	rec.Status = registry.StatusDisabled
	rec.DisabledAt = &now
	return c.save(ctx, rec)
}

func (c *Controller) doUninstall(ctx context.Context, rec *registry.Record) error {
	if h := c.detach(rec.Name); h != nil {
		_ = c.unload(ctx, h)
	}
	if err := c.store.Delete(context.WithoutCancel(ctx), rec.Name); err != nil {
		return err
	}
	if c.observer != nil {
		c.observer.RemoveModule(rec.Name)
	}
	return nil
}

func (c *Controller) doUpdate(ctx context.Context, rec *registry.Record, prior registry.Status, req *UpdateRequest) error {
	if req == nil {
		return fmt.Errorf("update requires a manifest")
	}
	m, err := manifest.Decode(req.Raw)
	if err != nil {
		return err
	}
	stored, err := manifest.Encode(req.Raw)
	if err != nil {
		return err
	}

	if prior == registry.StatusEnabled {
		if h := c.detach(rec.Name); h != nil {
			if err := c.unload(ctx, h); err != nil {
				c.log.WithError(err).WithField("module", rec.Name).Warn("Cleanup failed before update")
			}
		}
	}

	previousVersion := rec.Version
	rec.Version = m.Version
	rec.Manifest = stored
	if req.InstallDir != "" {
		rec.InstallDir = filepath.Clean(req.InstallDir)
	}
	if err := c.save(ctx, rec); err != nil {
		return err
	}

	if prior != registry.StatusRegistered {
		dir := filepath.Join(rec.InstallDir, m.MigrationsDir())
		if _, err := c.runner.RunModuleMigrations(ctx, rec.Name, rec.Version, dir); err != nil {
			return err
		}
	}

	var h *handle
	if prior == registry.StatusEnabled {
		if h, err = c.load(ctx, rec, m); err != nil {
			return err
		}
		now := c.now().UTC()
		rec.EnabledAt = &now
	}

	rec.Status = prior
	rec.LastError = ""
	if err := c.save(ctx, rec); err != nil {
		if h != nil {
			c.unload(ctx, h)
		}
		return err
	}
	if h != nil {
		c.attach(h)
	}
	c.log.WithFields(logrus.Fields{"module": rec.Name, "from": previousVersion, "to": rec.Version}).Info("Updated module")
	return nil
}

func (c *Controller) save(ctx context.Context, rec *registry.Record) error {
	if err := c.store.Update(context.WithoutCancel(ctx), rec); err != nil {
		return err
	}
	c.observeStatus(rec.Name, rec.Status)
	return nil
}

func (c *Controller) checkUpdate(name string, req UpdateRequest) error {
	if err := manifest.Validate(req.Raw).Err(); err != nil {
		return err
	}
	if n, _ := req.Raw["name"].(string); n != name {
		return fmt.Errorf("%w: %q is not %q", ErrNameMismatch, n, name)
	}
	if req.InstallDir != "" {
		return CheckInstallDir(req.InstallDir)
	}
	return nil
}

func (c *Controller) attach(h *handle) {
	c.mu.Lock()
	c.handles[h.name] = h
	n := len(c.handles)
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.SetLoadedModules(n)
	}
}

func (c *Controller) detach(name string) *handle {
	c.mu.Lock()
	h := c.handles[name]
	delete(c.handles, name)
	n := len(c.handles)
	c.mu.Unlock()
	if h != nil && c.observer != nil {
		c.observer.SetLoadedModules(n)
	}
	return h
}

func (c *Controller) observeStatus(name string, status registry.Status) {
	if c.observer != nil {
		c.observer.SetModuleStatus(name, status)
	}
}

// CheckInstallDir rejects an empty or relative install directory. Callers
// run it before reading anything from dir.
func CheckInstallDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: required", ErrInvalidInstallDir)
	}
	if !filepath.IsAbs(dir) {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidInstallDir, dir)
	}
	return nil
}
