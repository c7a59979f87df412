package lifecycle

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/modhost/pkg/jobs"
	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/migrations"
	"github.com/platinummonkey/modhost/pkg/registry"
	"github.com/platinummonkey/modhost/pkg/sdk"
)

// Mounter is the host HTTP server
type Mounter interface {
	Mount(prefix string, h http.Handler) error
	Unmount(prefix string) error
}

// JobRegistrar is the host job subsystem
type JobRegistrar interface {
	Register(ctx context.Context, def jobs.Definition) error
	Unregister(module, job string) error
}

// MiddlewareResolver resolves middleware names declared on routes
type MiddlewareResolver interface {
	Lookup(name string) (func(http.Handler) http.Handler, bool)
}

// MigrationRunner applies and verifies module migrations
type MigrationRunner interface {
	RunModuleMigrations(ctx context.Context, module, version, dir string) ([]migrations.Result, error)
	VerifyMigrationIntegrity(ctx context.Context, module, dir string) ([]migrations.IntegrityError, error)
	PendingMigrations(ctx context.Context, module, dir string) ([]migrations.File, error)
}

// CapabilityProvider decides which host capabilities a module receives
type CapabilityProvider interface {
	Capabilities(m *manifest.Manifest) sdk.Capabilities
}

// Observer receives lifecycle events, typically for metrics
type Observer interface {
	ObserveTransition(module string, cmd Command, success bool, elapsed time.Duration)
	SetModuleStatus(module string, status registry.Status)
	RemoveModule(module string)
	SetLoadedModules(n int)
}

// Observers fans every call out to each non-nil observer in order
type Observers []Observer

// ObserveTransition implements Observer
func (o Observers) ObserveTransition(module string, cmd Command, success bool, elapsed time.Duration) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveTransition(module, cmd, success, elapsed)
		}
	}
}

// SetModuleStatus implements Observer
func (o Observers) SetModuleStatus(module string, status registry.Status) {
	for _, obs := range o {
		if obs != nil {
			obs.SetModuleStatus(module, status)
		}
	}
}

// RemoveModule implements Observer
func (o Observers) RemoveModule(module string) {
	for _, obs := range o {
		if obs != nil {
			obs.RemoveModule(module)
		}
	}
}

// SetLoadedModules implements Observer
func (o Observers) SetLoadedModules(n int) {
	for _, obs := range o {
		if obs != nil {
			obs.SetLoadedModules(n)
		}
	}
}

// Permissions that gate capabilities
const (
	PermissionHTTP          = "http:request"
	PermissionNotifications = "notifications:send"
	PermissionAutomation    = "automation:run"
	PermissionFiles         = "files:write"
)

// PermissionCapabilities exposes a configured capability only to modules
// whose manifest declares the matching permission. HTTP and Files are built
// per module so they can be tagged or scoped to it.
type PermissionCapabilities struct {
	HTTP       func(module string) sdk.HTTPClient
	Notifier   sdk.Notifier
	Automation sdk.Automation
	Files      func(module string) sdk.Files
}

// Capabilities implements CapabilityProvider
func (p PermissionCapabilities) Capabilities(m *manifest.Manifest) sdk.Capabilities {
	granted := make(map[string]bool, len(m.Permissions))
	for _, perm := range m.Permissions {
		granted[perm] = true
	}

	var caps sdk.Capabilities
	if granted[PermissionHTTP] && p.HTTP != nil {
		caps.HTTP = p.HTTP(m.Name)
	}
	if granted[PermissionNotifications] {
		caps.Notifier = p.Notifier
	}
	if granted[PermissionAutomation] {
		caps.Automation = p.Automation
	}
	if granted[PermissionFiles] && p.Files != nil {
		caps.Files = p.Files(m.Name)
	}
	return caps
}
