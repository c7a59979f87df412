package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Manifest is the typed form of a module descriptor. It is only produced from
// a descriptor that passed Validate.
type Manifest struct {
	Name         string             `json:"name" yaml:"name"`
	Version      string             `json:"version" yaml:"version"`
	DisplayName  string             `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Description  string             `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string             `json:"author,omitempty" yaml:"author,omitempty"`
	Entry        string             `json:"entry,omitempty" yaml:"entry,omitempty"`
	Routes       []Route            `json:"routes,omitempty" yaml:"routes,omitempty"`
	Jobs         map[string]Job     `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	Migrations   string             `json:"migrations,omitempty" yaml:"migrations,omitempty"`
	UI           *UI                `json:"ui,omitempty" yaml:"ui,omitempty"`
	Dependencies map[string]string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Permissions  []string           `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Settings     map[string]Setting `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Route declares one HTTP endpoint contributed by a module
type Route struct {
	Method     string   `json:"method" yaml:"method"`
	Path       string   `json:"path" yaml:"path"`
	Handler    string   `json:"handler" yaml:"handler"`
	Middleware []string `json:"middleware,omitempty" yaml:"middleware,omitempty"`
}

// Job declares a background job. The host only registers metadata; the job
// subsystem executes the handler.
type Job struct {
	Description  string                 `json:"description" yaml:"description"`
	Handler      string                 `json:"handler" yaml:"handler"`
	Schedule     *string                `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Timeout      Duration               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries      int                    `json:"retries,omitempty" yaml:"retries,omitempty"`
	ConfigSchema map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// Setting declares one module setting
type Setting struct {
	Type        string                 `json:"type" yaml:"type"`
	Label       string                 `json:"label" yaml:"label"`
	Default     interface{}            `json:"default,omitempty" yaml:"default,omitempty"`
	Constraints map[string]interface{} `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// UI groups a module's UI contributions
type UI struct {
	Sidebar    *Sidebar        `json:"sidebar,omitempty" yaml:"sidebar,omitempty"`
	Routes     []UIRoute       `json:"routes,omitempty" yaml:"routes,omitempty"`
	Widgets    []Widget        `json:"widgets,omitempty" yaml:"widgets,omitempty"`
	Navigation NavigationItems `json:"navigation,omitempty" yaml:"navigation,omitempty"`
}

// Sidebar is the legacy sidebar block
type Sidebar struct {
	Label    string        `json:"label" yaml:"label"`
	Icon     string        `json:"icon" yaml:"icon"`
	Order    *int          `json:"order,omitempty" yaml:"order,omitempty"`
	Children []SidebarItem `json:"children" yaml:"children"`
}

// SidebarItem is a child link of a sidebar block
type SidebarItem struct {
	Label string `json:"label" yaml:"label"`
	Path  string `json:"path" yaml:"path"`
	Icon  string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// UIRoute maps a client-side path to a component
type UIRoute struct {
	Path      string `json:"path" yaml:"path"`
	Component string `json:"component,omitempty" yaml:"component,omitempty"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
}

// Widget is a dashboard widget contribution
type Widget struct {
	ID        string `json:"id" yaml:"id"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Component string `json:"component" yaml:"component"`
	Size      string `json:"size,omitempty" yaml:"size,omitempty"`
	Order     *int   `json:"order,omitempty" yaml:"order,omitempty"`
}

// NavItem is a navigation contribution
type NavItem struct {
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Label    string `json:"label" yaml:"label"`
	Path     string `json:"path" yaml:"path"`
	Icon     string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Order    *int   `json:"order,omitempty" yaml:"order,omitempty"`
}

// NavigationItems accepts either a single legacy object or a list of items
type NavigationItems []NavItem

// UnmarshalJSON implements json.Unmarshaler
func (n *NavigationItems) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*n = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var item NavItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		*n = NavigationItems{item}
		return nil
	}
	var items []NavItem
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*n = items
	return nil
}

// Duration is a job timeout. JSON numbers are milliseconds, strings use
// time.ParseDuration syntax.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func parseDuration(raw interface{}) (time.Duration, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return parsed, nil
	default:
		ms, ok := toInt(v)
		if !ok {
			return 0, fmt.Errorf("invalid duration %v", raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
}

// SettingDefaults returns the declared default of every setting
func (m *Manifest) SettingDefaults() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Settings))
	for key, setting := range m.Settings {
		out[key] = setting.Default
	}
	return out
}

// Title returns the display name, falling back to the module name
func (m *Manifest) Title() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}

// MigrationsDir returns the declared migrations path, defaulting to "migrations"
func (m *Manifest) MigrationsDir() string {
	if m.Migrations != "" {
		return m.Migrations
	}
	return DefaultMigrationsDir
}

// JobNames returns job names in sorted order
func (m *Manifest) JobNames() []string {
	return sortedKeys(m.Jobs)
}
