package api

import (
	"encoding/json"
	"time"

	"github.com/platinummonkey/modhost/pkg/migrations"
	"github.com/platinummonkey/modhost/pkg/registry"
)

// RegisterRequest registers a module. With Manifest unset the manifest is
// read from InstallDir.
type RegisterRequest struct {
	InstallDir string                 `json:"install_dir"`
	Manifest   map[string]interface{} `json:"manifest,omitempty"`
}

// UpdateRequest carries the new manifest for an update command. With
// Manifest unset it is read from InstallDir.
type UpdateRequest struct {
	InstallDir string                 `json:"install_dir,omitempty"`
	Manifest   map[string]interface{} `json:"manifest,omitempty"`
}

// Module is the API view of a registry record
type Module struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Status      registry.Status `json:"status"`
	Loaded      bool            `json:"loaded"`
	InstallDir  string          `json:"install_dir"`
	Manifest    json.RawMessage `json:"manifest,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	InstalledAt *time.Time      `json:"installed_at,omitempty"`
	EnabledAt   *time.Time      `json:"enabled_at,omitempty"`
	DisabledAt  *time.Time      `json:"disabled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Accepted acknowledges a lifecycle command
type Accepted struct {
	Module  string          `json:"module"`
	Command string          `json:"command"`
	Status  registry.Status `json:"status"`
}

// Job is the API view of a registered job
type Job struct {
	Module   string     `json:"module"`
	Name     string     `json:"name"`
	Schedule string     `json:"schedule,omitempty"`
	Timeout  string     `json:"timeout,omitempty"`
	Retries  int        `json:"retries"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// IntegrityReport lists the applied migrations that no longer match disk
type IntegrityReport struct {
	Module string                      `json:"module"`
	OK     bool                        `json:"ok"`
	Issues []migrations.IntegrityError `json:"issues"`
}

func toModule(rec *registry.Record, loaded bool, withManifest bool) Module {
	m := Module{
		ID:          rec.ID,
		Name:        rec.Name,
		Version:     rec.Version,
		Status:      rec.Status,
		Loaded:      loaded,
		InstallDir:  rec.InstallDir,
		LastError:   rec.LastError,
		InstalledAt: rec.InstalledAt,
		EnabledAt:   rec.EnabledAt,
		DisabledAt:  rec.DisabledAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if withManifest {
		m.Manifest = rec.Manifest
	}
	return m
}
