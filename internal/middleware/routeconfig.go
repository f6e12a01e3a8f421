package middleware

import (
	"context"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// MetaRoutingFinal is the context metadata key the routing stage reads to pick
// up the profile's final-route override.
const MetaRoutingFinal = "routing.final"

// RouteConfig carries the profile's routing.final value into the pipeline
// context for the exporter's routing stage.
type RouteConfig struct {
	final string
}

// NewRouteConfig constructs the middleware.
func NewRouteConfig(final string) *RouteConfig {
	return &RouteConfig{final: final}
}

// Name implements Middleware.
func (m *RouteConfig) Name() string { return "route-config" }

// Process implements Middleware.
func (m *RouteConfig) Process(_ context.Context, pctx *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	if m.final != "" {
		pctx.SetMetadata(MetaRoutingFinal, m.final)
	}
	return servers, nil
}
