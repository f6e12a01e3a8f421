package middleware

import (
	"context"
	"fmt"

	"github.com/kpblcaoo/sboxmgr/internal/event"
	"github.com/kpblcaoo/sboxmgr/internal/logger"
	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// Logging reports chain progress through the structured logger and the event
// bus. At debug level 2+ it logs per-server identity hashes; raw secrets never
// reach the log.
type Logging struct {
	log *logger.Logger
	bus *event.Bus
}

// NewLogging constructs the logging middleware.
func NewLogging(log *logger.Logger, bus *event.Bus) *Logging {
	return &Logging{log: log, bus: bus}
}

// Bind attaches the run-scoped logger and event bus. Registry factories
// construct the middleware without collaborators; the manager binds them
// before the chain runs.
func (m *Logging) Bind(log *logger.Logger, bus *event.Bus) {
	m.log = log
	m.bus = bus
}

// Name implements Middleware.
func (m *Logging) Name() string { return "logging" }

// Process implements Middleware.
func (m *Logging) Process(ctx context.Context, pctx *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	log := m.log.WithTrace(pctx.TraceID)
	log.WithFields(map[string]any{"count": len(servers)}).Info("middleware chain entered")

	if pctx.DebugLevel >= 2 {
		for _, s := range servers {
			log.WithFields(map[string]any{
				"protocol": s.Protocol,
				"identity": s.IdentityHash()[:12],
			}).Debug("server in chain")
		}
	}

	if m.bus != nil {
		m.bus.Emit(event.New(event.TypeDebugInfo, "middleware/logging", event.PriorityDebug, map[string]any{
			"stage": "middleware",
			"count": len(servers),
		}))
	}

	pctx.SetMetadata("middleware.logging.count", fmt.Sprintf("%d", len(servers)))
	return servers, nil
}
