package loader

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/platinummonkey/modhost/pkg/sdk"
)

// Symbols looked up in shared objects
const (
	ModuleSymbol  = "NewModule"
	HandlerSymbol = "Handler"
)

// SharedObjectExt is the file extension handled by SharedObject
const SharedObjectExt = ".so"

// SharedObject opens Go plugins. The entry must export NewModule as
// func() sdk.Module or func() (sdk.Module, error); a handler object must
// export Handler as an http.Handler value or func() http.Handler.
//
// Go cannot unload a plugin, so an opened object stays mapped for the life
// of the process. Reinstalling a module under the same path keeps serving
// the first build until restart.
type SharedObject struct {
	mu   sync.Mutex
	open func(path string) (symbolTable, error)
}

type symbolTable interface {
	Lookup(name string) (plugin.Symbol, error)
}

// NewSharedObject creates a shared object resolver
func NewSharedObject() *SharedObject {
	return &SharedObject{
		open: func(path string) (symbolTable, error) {
			return plugin.Open(path)
		},
	}
}

// Resolve implements sdk.Resolver
func (s *SharedObject) Resolve(ctx context.Context, entryPath string) (sdk.Module, error) {
	if filepath.Ext(entryPath) != SharedObjectExt {
		return nil, sdk.ErrNotResolvable
	}
	sym, err := s.lookup(entryPath, ModuleSymbol)
	if err != nil {
		return nil, err
	}

	switch fn := sym.(type) {
	case func() sdk.Module:
		return fn(), nil
	case func() (sdk.Module, error):
		return fn()
	default:
		return nil, fmt.Errorf("%s: %s has unsupported type %T", entryPath, ModuleSymbol, sym)
	}
}

// ResolveHandler implements sdk.Resolver
func (s *SharedObject) ResolveHandler(ctx context.Context, handlerPath string) (http.Handler, error) {
	if filepath.Ext(handlerPath) != SharedObjectExt {
		return nil, sdk.ErrNotResolvable
	}
	sym, err := s.lookup(handlerPath, HandlerSymbol)
	if err != nil {
		return nil, err
	}

	// Exported variables arrive as pointers
	switch h := sym.(type) {
	case *http.Handler:
		return *h, nil
	case http.Handler:
		return h, nil
	case func() http.Handler:
		return h(), nil
	case func(http.ResponseWriter, *http.Request):
		return http.HandlerFunc(h), nil
	default:
		return nil, fmt.Errorf("%s: %s has unsupported type %T", handlerPath, HandlerSymbol, sym)
	}
}

func (s *SharedObject) lookup(path, symbol string) (plugin.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("plugin %s missing %s symbol: %w", path, symbol, err)
	}
	return sym, nil
}
