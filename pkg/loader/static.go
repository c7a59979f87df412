package loader

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/platinummonkey/modhost/pkg/sdk"
)

// Static resolves modules and handlers linked into the host binary. Entries
// are matched by path suffix so "billing-sync/dist/index" matches any
// install root.
type Static struct {
	mu       sync.RWMutex
	modules  map[string]func() sdk.Module
	handlers map[string]http.Handler
}

// NewStatic creates an empty static resolver
func NewStatic() *Static {
	return &Static{
		modules:  make(map[string]func() sdk.Module),
		handlers: make(map[string]http.Handler),
	}
}

// AddModule registers a module factory. A fresh module is built on every
// Resolve so a re-enabled module starts from a clean state.
func (s *Static) AddModule(suffix string, factory func() sdk.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[cleanSuffix(suffix)] = factory
}

// AddHandler registers a route handler
func (s *Static) AddHandler(suffix string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[cleanSuffix(suffix)] = h
}

// Resolve implements sdk.Resolver
func (s *Static) Resolve(ctx context.Context, entryPath string) (sdk.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	suffix, ok := longestMatch(s.modules, entryPath)
	if !ok {
		return nil, sdk.ErrNotResolvable
	}
	m := s.modules[suffix]()
	if m == nil {
		return nil, fmt.Errorf("static module %s returned nil", suffix)
	}
	return m, nil
}

// ResolveHandler implements sdk.Resolver
func (s *Static) ResolveHandler(ctx context.Context, handlerPath string) (http.Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	suffix, ok := longestMatch(s.handlers, handlerPath)
	if !ok {
		return nil, sdk.ErrNotResolvable
	}
	return s.handlers[suffix], nil
}

func cleanSuffix(s string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(s)), "/")
}

// longestMatch picks the most specific registered suffix of path
func longestMatch[V any](entries map[string]V, path string) (string, bool) {
	best, found := "", false
	for suffix := range entries {
		if matchSuffix(path, suffix) && len(suffix) >= len(best) {
			best, found = suffix, true
		}
	}
	return best, found
}

func matchSuffix(path, suffix string) bool {
	path = filepath.ToSlash(path)
	return path == suffix || strings.HasSuffix(path, "/"+suffix)
}
