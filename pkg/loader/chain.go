package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/modhost/pkg/sdk"
)

// Chain tries each resolver in order until one accepts the path
type Chain []sdk.Resolver

// Resolve implements sdk.Resolver
func (c Chain) Resolve(ctx context.Context, entryPath string) (sdk.Module, error) {
	for _, r := range c {
		m, err := r.Resolve(ctx, entryPath)
		if errors.Is(err, sdk.ErrNotResolvable) {
			continue
		}
		return m, err
	}
	return nil, fmt.Errorf("%w: %s", sdk.ErrNotResolvable, entryPath)
}

// ResolveHandler implements sdk.Resolver
func (c Chain) ResolveHandler(ctx context.Context, handlerPath string) (http.Handler, error) {
	for _, r := range c {
		h, err := r.ResolveHandler(ctx, handlerPath)
		if errors.Is(err, sdk.ErrNotResolvable) {
			continue
		}
		return h, err
	}
	return nil, fmt.Errorf("%w: %s", sdk.ErrNotResolvable, handlerPath)
}
