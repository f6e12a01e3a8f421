// Package policy evaluates declarative access rules against parsed servers.
// Each policy is a pure function from an evaluation context to a decision;
// the engine runs every enabled policy and reports the combined outcome.
package policy

import (
	"github.com/kpblcaoo/sboxmgr/internal/model"
)

// Decision is the outcome of one policy for one server.
type Decision string

const (
	// Allow lets the server through unchanged.
	Allow Decision = "allow"
	// Warn lets the server through but annotates it.
	Warn Decision = "warn"
	// Deny removes the server from the pipeline.
	Deny Decision = "deny"
	// Skip means the policy had nothing to say about this server.
	Skip Decision = "skip"
)

// Severity grades a decision for reporting purposes.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Group names the policy family, used by List filtering.
const (
	GroupSecurity = "security"
	GroupGeo      = "geo"
	GroupRuntime  = "runtime"
)

// Result is a single policy's verdict.
type Result struct {
	Policy   string
	Decision Decision
	Severity Severity
	Reason   string
	Metadata map[string]any
}

// Denied reports whether the result removes the server.
func (r Result) Denied() bool { return r.Decision == Deny }

// EvalContext carries everything a policy may inspect. Policies must not
// mutate it; the same context evaluated twice yields the same results.
type EvalContext struct {
	Server *model.ParsedServer

	// User and Capabilities scope permission checks.
	User         string
	Capabilities []string

	// ServerIndex and ServerCount position this server in the full list,
	// for count-based policies.
	ServerIndex int
	ServerCount int

	// DeclaredHash is the content hash the subscription source claims;
	// ContentHash is what was actually fetched. Both are sha256 hex.
	DeclaredHash string
	ContentHash  string

	Meta map[string]any
}

// Policy is one rule. Evaluate must be pure and must not panic; the engine
// still guards against panics by converting them into deny results.
type Policy interface {
	Name() string
	Group() string
	Evaluate(ctx EvalContext) Result
}

func allow(name, reason string) Result {
	return Result{Policy: name, Decision: Allow, Severity: SeverityInfo, Reason: reason}
}

func skip(name, reason string) Result {
	return Result{Policy: name, Decision: Skip, Severity: SeverityInfo, Reason: reason}
}

func deny(name, reason string) Result {
	return Result{Policy: name, Decision: Deny, Severity: SeverityCritical, Reason: reason}
}

func warn(name, reason string) Result {
	return Result{Policy: name, Decision: Warn, Severity: SeverityWarning, Reason: reason}
}
