package pipeline

import (
	"time"
)

// Kind categorises a pipeline error. These are the only categories the system
// recognises; collaborator failures are mapped onto one of them at the stage
// boundary.
type Kind string

const (
	KindValidation Kind = "validation"
	KindFetch      Kind = "fetch"
	KindParse      Kind = "parse"
	KindPlugin     Kind = "plugin"
	KindInternal   Kind = "internal"
	KindPolicy     Kind = "policy"
	KindExport     Kind = "export"
)

// Severity grades a pipeline error.
type Severity string

const (
	// SeverityWarning is advisory; it never affects the outcome.
	SeverityWarning Severity = "warning"
	// SeverityRecoverable lets the pipeline continue in tolerant mode.
	SeverityRecoverable Severity = "recoverable"
	// SeverityFatal aborts in strict mode and forces success=false in tolerant mode.
	SeverityFatal Severity = "fatal"
)

// Error is one recorded pipeline failure. Context values are redacted before
// storage; raw subscription bodies are never attached.
type Error struct {
	Kind      Kind              `json:"kind"`
	Severity  Severity          `json:"severity"`
	Stage     string            `json:"stage"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context,omitempty"`
}

// IsFatal reports whether this error forces a failed result.
func (e Error) IsFatal() bool {
	return e.Severity == SeverityFatal
}
