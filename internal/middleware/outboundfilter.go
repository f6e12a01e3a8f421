package middleware

import (
	"context"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// OutboundFilter drops servers whose protocol appears in the profile's
// exclude_outbounds set.
type OutboundFilter struct {
	excluded map[string]struct{}
}

// NewOutboundFilter constructs the middleware from the excluded protocol list.
func NewOutboundFilter(excludeOutbounds []string) *OutboundFilter {
	excluded := make(map[string]struct{}, len(excludeOutbounds))
	for _, p := range excludeOutbounds {
		excluded[p] = struct{}{}
	}
	return &OutboundFilter{excluded: excluded}
}

// Name implements Middleware.
func (m *OutboundFilter) Name() string { return "outbound-filter" }

// Process implements Middleware.
func (m *OutboundFilter) Process(_ context.Context, _ *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	if len(m.excluded) == 0 {
		return servers, nil
	}
	out := make([]model.ParsedServer, 0, len(servers))
	for _, s := range servers {
		if _, drop := m.excluded[s.Protocol]; drop {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
