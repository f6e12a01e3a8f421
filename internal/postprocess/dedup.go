package postprocess

import (
	"context"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// Deduplicate removes servers sharing an identity (protocol, address, port),
// keeping the one from the highest-priority source (lowest meta.source_priority
// value, first occurrence on ties).
type Deduplicate struct{}

// NewDeduplicate constructs the processor.
func NewDeduplicate() *Deduplicate { return &Deduplicate{} }

// Name implements Processor.
func (p *Deduplicate) Name() string { return "deduplicate" }

// MergeRule implements Processor.
func (p *Deduplicate) MergeRule() MergeRule { return MergeIntersect }

// Process implements Processor.
func (p *Deduplicate) Process(_ context.Context, _ *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	best := make(map[string]int, len(servers))
	order := make([]string, 0, len(servers))

	for i, s := range servers {
		id := s.Identity()
		prev, exists := best[id]
		if !exists {
			best[id] = i
			order = append(order, id)
			continue
		}
		if priorityOf(&servers[i]) < priorityOf(&servers[prev]) {
			best[id] = i
		}
	}

	out := make([]model.ParsedServer, 0, len(order))
	for _, id := range order {
		out = append(out, servers[best[id]])
	}
	return out, nil
}

func priorityOf(s *model.ParsedServer) float64 {
	if prio, ok := s.MetaFloat(model.MetaSourcePrio); ok {
		return prio
	}
	// Unknown priority sorts last so explicit sources win.
	return 1 << 30
}
