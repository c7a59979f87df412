package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/modhost/pkg/async"
	"github.com/platinummonkey/modhost/pkg/lock"
	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/registry"
)

// ReconcileReport summarizes what Reconcile did
type ReconcileReport struct {
	Interrupted []string          `json:"interrupted"`
	Reloaded    []string          `json:"reloaded"`
	Failed      map[string]string `json:"failed"`
}

// Reconcile brings the in-memory table in line with the registry after a
// restart. Modules left in an in-progress status are parked in ERROR and
// ENABLED modules are loaded again from their install directories.
func (c *Controller) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.reconcile")
	defer span.End()

	records, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}

	report := &ReconcileReport{Failed: make(map[string]string)}
	var enabled []*registry.Record
	for _, rec := range records {
		c.observeStatus(rec.Name, rec.Status)
		switch {
		case rec.Status.InProgress():
			if c.interrupt(ctx, rec) {
				report.Interrupted = append(report.Interrupted, rec.Name)
			}
		case rec.Status == registry.StatusEnabled && !c.IsLoaded(rec.Name):
			enabled = append(enabled, rec)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, rec := range enabled {
		rec := rec
		g.Go(func() error {
			err := c.reload(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[rec.Name] = err.Error()
				return nil
			}
			report.Reloaded = append(report.Reloaded, rec.Name)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Interrupted)
	sort.Strings(report.Reloaded)
	c.log.WithFields(logrus.Fields{
		"interrupted": len(report.Interrupted),
		"reloaded":    len(report.Reloaded),
		"failed":      len(report.Failed),
	}).Info("Reconciled modules")
	return report, nil
}

// interrupt parks a record whose transition died with the process. A record
// whose lock is still held belongs to a live transition elsewhere.
func (c *Controller) interrupt(ctx context.Context, rec *registry.Record) bool {
	log := c.log.WithFields(logrus.Fields{"module": rec.Name, "status": rec.Status})

	unlock, err := c.locker.TryLock(ctx, rec.Name)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			log.Info("Transition still running elsewhere, leaving module untouched")
		} else {
			log.WithError(err).Warn("Failed to lock module")
		}
		return false
	}
	defer unlock()

	parked, err := c.store.TransitionStatus(ctx, rec.Name, []registry.Status{rec.Status}, registry.StatusError)
	if err != nil {
		log.WithError(err).Warn("Failed to park interrupted module")
		return false
	}
	parked.LastError = fmt.Sprintf("interrupted during %s", rec.Status)
	if err := c.store.Update(ctx, parked); err != nil {
		log.WithError(err).Warn("Failed to record interruption")
	}
	c.observeStatus(rec.Name, registry.StatusError)
	log.Warn("Module transition was interrupted")
	return true
}

// reload loads an ENABLED module without changing its status unless the
// load fails. Declarations come from the stored manifest; the file on disk
// only has to exist and name the same module.
func (c *Controller) reload(ctx context.Context, rec *registry.Record) error {
	log := c.log.WithField("module", rec.Name)

	err := func() error {
		_, m, err := manifest.DecodeStored(rec.Manifest)
		if err != nil {
			return err
		}
		doc, err := manifest.LoadDir(rec.InstallDir)
		if err != nil {
			return err
		}
		if name, _ := doc.Raw["name"].(string); name != rec.Name {
			return fmt.Errorf("%w: %s declares %q", ErrNameMismatch, doc.Path, name)
		}
		if version, _ := doc.Raw["version"].(string); version != rec.Version {
			log.WithFields(logrus.Fields{"registered": rec.Version, "on_disk": version}).
				Warn("Manifest on disk differs from registered version")
		}

		h, err := c.load(ctx, rec, m)
		if err != nil {
			return err
		}
		c.attach(h)
		return nil
	}()
	if err == nil {
		log.Info("Reloaded module")
		return nil
	}

	log.WithError(err).Error("Failed to reload module")
	parked := rec.Clone()
	parked.Status = registry.StatusError
	parked.LastError = fmt.Sprintf("reload failed: %v", err)
	if uerr := c.store.Update(context.WithoutCancel(ctx), parked); uerr != nil {
		log.WithError(uerr).Error("Failed to record module error")
	}
	c.observeStatus(rec.Name, registry.StatusError)
	return err
}

// Shutdown waits for background transitions and cleans up every loaded
// module. Registry status is left as is so Reconcile restores the same set.
func (c *Controller) Shutdown(ctx context.Context) error {
	var errs []error
	if err := c.background.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("background transitions: %w", err))
	}

	c.mu.Lock()
	handles := make([]*handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.handles = make(map[string]*handle)
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.SetLoadedModules(0)
	}

	errs = append(errs, async.Batch(ctx, handles, c.concurrency, "module cleanup", 0, func(ctx context.Context, h *handle) error {
		return c.unload(ctx, h)
	})...)
	return errors.Join(errs...)
}
