package contributions

import (
	"sort"

	"github.com/platinummonkey/modhost/pkg/manifest"
)

// DefaultOrder sorts entries without an explicit order last
const DefaultOrder = 9999

// CategoryUncategorized receives items with no or an unknown category
const CategoryUncategorized = "uncategorized"

// Source lists the manifests of loaded modules
type Source interface {
	Loaded() []*manifest.Manifest
}

// SourceFunc adapts a function to Source
type SourceFunc func() []*manifest.Manifest

// Loaded implements Source
func (f SourceFunc) Loaded() []*manifest.Manifest { return f() }

// Widget is a dashboard widget tagged with the module that declared it
type Widget struct {
	Module    string `json:"module"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	Component string `json:"component"`
	Size      string `json:"size,omitempty"`
	Order     int    `json:"order"`
}

// NavItem is a navigation entry tagged with its module
type NavItem struct {
	Module   string `json:"module"`
	Category string `json:"category"`
	Label    string `json:"label"`
	Path     string `json:"path"`
	Icon     string `json:"icon,omitempty"`
	Order    int    `json:"order"`
}

// Navigation maps every category to its items. All categories are present.
type Navigation map[string][]NavItem

// Aggregator projects UI contributions of loaded modules. It holds no state
// of its own; every call reads the current source.
type Aggregator struct {
	source     Source
	prefixFunc func(module string) string
}

// NewAggregator creates an aggregator. prefix maps a module name to the
// path its routes are served under.
func NewAggregator(source Source, prefix func(module string) string) *Aggregator {
	if prefix == nil {
		prefix = func(module string) string { return "/modules/" + module }
	}
	return &Aggregator{source: source, prefixFunc: prefix}
}

// Widgets returns every widget ordered by order, then by module load order
func (a *Aggregator) Widgets() []Widget {
	out := []Widget{}
	for _, m := range a.source.Loaded() {
		if m.UI == nil {
			continue
		}
		for _, w := range m.UI.Widgets {
			out = append(out, Widget{
				Module:    m.Name,
				ID:        w.ID,
				Title:     w.Title,
				Component: w.Component,
				Size:      w.Size,
				Order:     orderOf(w.Order),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Navigation buckets navigation items into the fixed categories
func (a *Aggregator) Navigation() Navigation {
	nav := make(Navigation, len(manifest.NavigationCategories))
	for _, c := range manifest.NavigationCategories {
		nav[c] = []NavItem{}
	}

	for _, m := range a.source.Loaded() {
		for _, item := range a.navItems(m) {
			if _, known := nav[item.Category]; !known {
				item.Category = CategoryUncategorized
			}
			nav[item.Category] = append(nav[item.Category], item)
		}
	}

	for c := range nav {
		items := nav[c]
		sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	}
	return nav
}

// navItems returns the declared items of m, or one derived from its sidebar
// or title when it declares none
func (a *Aggregator) navItems(m *manifest.Manifest) []NavItem {
	var out []NavItem
	if m.UI != nil {
		for _, n := range m.UI.Navigation {
			out = append(out, NavItem{
				Module:   m.Name,
				Category: n.Category,
				Label:    n.Label,
				Path:     n.Path,
				Icon:     n.Icon,
				Order:    orderOf(n.Order),
			})
		}
	}
	if len(out) > 0 {
		return out
	}

	item := NavItem{
		Module:   m.Name,
		Category: CategoryUncategorized,
		Label:    m.Title(),
		Path:     a.prefixFunc(m.Name),
		Order:    DefaultOrder,
	}
	if m.UI != nil && m.UI.Sidebar != nil {
		sb := m.UI.Sidebar
		if sb.Label != "" {
			item.Label = sb.Label
		}
		item.Icon = sb.Icon
		item.Order = orderOf(sb.Order)
	}
	return []NavItem{item}
}

func orderOf(o *int) int {
	if o == nil {
		return DefaultOrder
	}
	return *o
}
