package registry

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle status of a module
type Status string

const (
	StatusRegistered Status = "REGISTERED"
	StatusInstalling Status = "INSTALLING"
	StatusInstalled  Status = "INSTALLED"
	StatusEnabling   Status = "ENABLING"
	StatusEnabled    Status = "ENABLED"
	StatusDisabling  Status = "DISABLING"
	StatusDisabled   Status = "DISABLED"
	StatusUpdating   Status = "UPDATING"
	StatusRemoving   Status = "REMOVING"
	StatusError      Status = "ERROR"
)

// AllStatuses lists every status in declaration order
var AllStatuses = []Status{
	StatusRegistered,
	StatusInstalling,
	StatusInstalled,
	StatusEnabling,
	StatusEnabled,
	StatusDisabling,
	StatusDisabled,
	StatusUpdating,
	StatusRemoving,
	StatusError,
}

// InProgress reports whether the status marks a transition that is still running.
func (s Status) InProgress() bool {
	switch s {
	case StatusInstalling, StatusEnabling, StatusDisabling, StatusUpdating, StatusRemoving:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned when no record exists for a module name
	ErrNotFound = errors.New("module not found")
	// ErrAlreadyExists is returned when a module name is already registered
	ErrAlreadyExists = errors.New("module already registered")
	// ErrStatusConflict is returned when a compare-and-swap on status loses
	ErrStatusConflict = errors.New("module status changed concurrently")
)

// Record is the persisted identity and lifecycle state of a module
type Record struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Manifest    json.RawMessage `json:"manifest"`
	Status      Status          `json:"status"`
	InstallDir  string          `json:"install_dir"`
	InstalledAt *time.Time      `json:"installed_at,omitempty"`
	EnabledAt   *time.Time      `json:"enabled_at,omitempty"`
	DisabledAt  *time.Time      `json:"disabled_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate stored state
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Manifest != nil {
		out.Manifest = append(json.RawMessage(nil), r.Manifest...)
	}
	out.InstalledAt = cloneTime(r.InstalledAt)
	out.EnabledAt = cloneTime(r.EnabledAt)
	out.DisabledAt = cloneTime(r.DisabledAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
