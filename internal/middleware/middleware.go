package middleware

import (
	"context"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// Middleware transforms the server list mid-pipeline. Implementations must be
// stateless across invocations; per-run data travels in the pipeline context.
type Middleware interface {
	// Name identifies the middleware in chain configuration.
	Name() string
	// Process returns the (possibly empty) replacement list and may write
	// to pctx metadata. The input slice must not be retained.
	Process(ctx context.Context, pctx *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error)
}

// Chain applies middlewares in declaration order. A middleware error aborts
// the chain; the caller decides severity.
func Chain(ctx context.Context, pctx *pipeline.Context, servers []model.ParsedServer, middlewares []Middleware) ([]model.ParsedServer, error) {
	current := servers
	for _, mw := range middlewares {
		next, err := mw.Process(ctx, pctx, current)
		if err != nil {
			return current, err
		}
		current = next
	}
	return current, nil
}
