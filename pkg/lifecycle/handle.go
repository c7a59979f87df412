package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/modhost/pkg/jobs"
	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/registry"
	"github.com/platinummonkey/modhost/pkg/sdk"
)

// handle is a loaded module: its code, its context and everything it
// registered with the host.
type handle struct {
	name     string
	manifest *manifest.Manifest
	module   sdk.Module
	ctx      *sdk.Context
	prefix   string
	mounted  bool
	jobs     []string
}

// load resolves and initializes the module, then registers its routes and
// jobs. On error everything registered so far is removed and Cleanup has
// run if Initialize succeeded.
func (c *Controller) load(ctx context.Context, rec *registry.Record, m *manifest.Manifest) (h *handle, err error) {
	ctx, span := tracer.Start(ctx, "lifecycle.load", trace.WithAttributes(
		attribute.String("module", rec.Name),
		attribute.String("version", rec.Version),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load failed")
		}
		span.End()
	}()

	mod := sdk.Noop
	if m.Entry != "" {
		mod, err = c.resolver.Resolve(ctx, filepath.Join(rec.InstallDir, m.Entry))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve entry %s: %w", m.Entry, err)
		}
	}

	h = &handle{
		name:     rec.Name,
		manifest: m,
		module:   mod,
		prefix:   RoutePrefix(rec.Name),
		ctx: &sdk.Context{
			Logger:       c.log.WithField("module", rec.Name),
			DB:           c.db,
			Name:         rec.Name,
			Version:      rec.Version,
			Settings:     m.SettingDefaults(),
			Capabilities: c.caps.Capabilities(m),
		},
	}

	if err := mod.Initialize(h.ctx); err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}

	if err := c.register(ctx, rec, h); err != nil {
		if cerr := c.unload(ctx, h); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	return h, nil
}

func (c *Controller) register(ctx context.Context, rec *registry.Record, h *handle) error {
	m := h.manifest

	// Resolve every handler before anything becomes reachable
	if len(m.Routes) > 0 {
		root := mux.NewRouter()
		sub := root.PathPrefix(h.prefix).Subrouter()
		for i, route := range m.Routes {
			handler, err := c.routeHandler(ctx, h.module, rec.InstallDir, route)
			if err != nil {
				return fmt.Errorf("routes[%d] %s %s: %w", i, route.Method, route.Path, err)
			}
			sub.Handle(route.Path, handler).Methods(route.Method)
		}
		if err := c.mounter.Mount(h.prefix, root); err != nil {
			return err
		}
		h.mounted = true
	}

	for _, name := range m.JobNames() {
		job := m.Jobs[name]
		def := jobs.Definition{
			Module:       rec.Name,
			Name:         name,
			HandlerPath:  filepath.Join(rec.InstallDir, job.Handler),
			Schedule:     job.Schedule,
			Timeout:      job.Timeout.Std(),
			Retries:      job.Retries,
			ConfigSchema: job.ConfigSchema,
		}
		if err := c.jobs.Register(ctx, def); err != nil {
			return fmt.Errorf("jobs.%s: %w", name, err)
		}
		h.jobs = append(h.jobs, name)
	}
	return nil
}

func (c *Controller) routeHandler(ctx context.Context, mod sdk.Module, installDir string, route manifest.Route) (http.Handler, error) {
	ref := sdk.HandlerRef{Declared: route.Handler, Path: filepath.Join(installDir, route.Handler)}

	var handler http.Handler
	if p, ok := mod.(sdk.HandlerProvider); ok {
		h, err := p.Handler(ref)
		switch {
		case err == nil:
			handler = h
		case !errors.Is(err, sdk.ErrNotResolvable):
			return nil, err
		}
	}
	if handler == nil {
		h, err := c.resolver.ResolveHandler(ctx, ref.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve handler %s: %w", route.Handler, err)
		}
		handler = h
	}

	for i := len(route.Middleware) - 1; i >= 0; i-- {
		name := route.Middleware[i]
		var mw func(http.Handler) http.Handler
		ok := false
		if c.middleware != nil {
			mw, ok = c.middleware.Lookup(name)
		}
		if !ok {
			return nil, fmt.Errorf("unknown middleware %q", name)
		}
		handler = mw(handler)
	}
	return handler, nil
}

// unload reverses load. Job and mount removal failures are logged; the
// Cleanup error is returned.
func (c *Controller) unload(ctx context.Context, h *handle) error {
	log := c.log.WithField("module", h.name)

	for i := len(h.jobs) - 1; i >= 0; i-- {
		if err := c.jobs.Unregister(h.name, h.jobs[i]); err != nil {
			log.WithError(err).WithField("job", h.jobs[i]).Warn("Failed to unregister job")
		}
	}
	h.jobs = nil

	if h.mounted {
		if err := c.mounter.Unmount(h.prefix); err != nil {
			log.WithError(err).Warn("Failed to unmount routes")
		}
		h.mounted = false
	}

	if err := h.module.Cleanup(h.ctx); err != nil {
		log.WithError(err).Warn("Module cleanup failed")
		return fmt.Errorf("cleanup failed: %w", err)
	}
	log.WithFields(logrus.Fields{"version": h.ctx.Version}).Debug("Unloaded module")
	return nil
}
