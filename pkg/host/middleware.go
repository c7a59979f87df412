package host

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Middleware wraps a route handler
type Middleware func(http.Handler) http.Handler

// MiddlewareRegistry maps the middleware names modules may reference in
// their route declarations to host implementations.
type MiddlewareRegistry struct {
	mu      sync.RWMutex
	entries map[string]Middleware
}

// NewMiddlewareRegistry creates an empty registry
func NewMiddlewareRegistry() *MiddlewareRegistry {
	return &MiddlewareRegistry{entries: make(map[string]Middleware)}
}

// Register adds or replaces a named middleware
func (r *MiddlewareRegistry) Register(name string, mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = mw
}

// Lookup returns the middleware registered under name
func (r *MiddlewareRegistry) Lookup(name string) (func(http.Handler) http.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mw, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return mw, true
}

// Names lists registered middleware names
func (r *MiddlewareRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Apply wraps h with the named middleware, outermost first
func (r *MiddlewareRegistry) Apply(h http.Handler, names ...string) (http.Handler, error) {
	for i := len(names) - 1; i >= 0; i-- {
		mw, ok := r.Lookup(names[i])
		if !ok {
			return nil, fmt.Errorf("unknown middleware %q", names[i])
		}
		h = mw(h)
	}
	return h, nil
}
