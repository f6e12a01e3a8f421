package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// Priority grades an event for consumers; it does not affect dispatch order
// (handler priority does).
type Priority string

const (
	PriorityDebug    Priority = "debug"
	PriorityInfo     Priority = "info"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Event types emitted by the pipeline. Additional types may be emitted by
// plugins; subscribers match on the exact string.
const (
	TypeSubscriptionFetchStarted = "subscription.fetch.started"
	TypeSubscriptionFetched      = "subscription.fetched"
	TypeSubscriptionParsed       = "subscription.parsed"
	TypeSubscriptionValidated    = "subscription.validated"
	TypeSubscriptionProcessed    = "subscription.processed"
	TypeSubscriptionFailed       = "subscription.failed"

	TypeConfigBuilt     = "config.built"
	TypeConfigExported  = "config.exported"
	TypeConfigValidated = "config.validated"
	TypeConfigUpdated   = "config.updated"
	TypeConfigGenerated = "config.generated"

	TypeAgentValidationStarted   = "agent.validation_started"
	TypeAgentValidationCompleted = "agent.validation_completed"
	TypeAgentInstallationStarted = "agent.installation_started"
	TypeAgentUnavailable         = "agent.unavailable"

	TypeErrorOccurred      = "error.occurred"
	TypeWarningIssued      = "warning.issued"
	TypeDebugInfo          = "debug.info"
	TypeApplicationStarted = "application.started"
	TypeApplicationStopped = "application.stopped"
)

// Event is one typed occurrence flowing through the bus.
type Event struct {
	ID        string
	Type      string
	Source    string
	Timestamp time.Time
	Priority  Priority
	TraceID   string
	Data      map[string]any
}

// New builds an event, stamping an id, a UTC timestamp, and the ambient trace
// id when none is supplied.
func New(eventType, source string, priority Priority, data map[string]any) Event {
	if priority == "" {
		priority = PriorityNormal
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Priority:  priority,
		TraceID:   pipeline.CurrentTrace(),
		Data:      data,
	}
}
