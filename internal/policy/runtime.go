package policy

import (
	"fmt"
)

// IntegrityPolicy compares the declared content hash of a subscription against
// the hash of what was actually fetched. Sources without a declared hash are
// skipped.
type IntegrityPolicy struct{}

// NewIntegrityPolicy builds the policy.
func NewIntegrityPolicy() *IntegrityPolicy { return &IntegrityPolicy{} }

func (p *IntegrityPolicy) Name() string  { return "integrity" }
func (p *IntegrityPolicy) Group() string { return GroupRuntime }

func (p *IntegrityPolicy) Evaluate(ctx EvalContext) Result {
	if ctx.DeclaredHash == "" {
		return skip(p.Name(), "no declared hash")
	}
	if ctx.DeclaredHash != ctx.ContentHash {
		return deny(p.Name(), "content hash does not match the declared hash")
	}
	return allow(p.Name(), "")
}

// PermissionPolicy checks that the evaluating user holds every required
// capability. With nothing required it is a no-op.
type PermissionPolicy struct {
	Required []string
}

// NewPermissionPolicy builds the policy.
func NewPermissionPolicy(required []string) *PermissionPolicy {
	return &PermissionPolicy{Required: required}
}

func (p *PermissionPolicy) Name() string  { return "permission" }
func (p *PermissionPolicy) Group() string { return GroupRuntime }

func (p *PermissionPolicy) Evaluate(ctx EvalContext) Result {
	if len(p.Required) == 0 {
		return skip(p.Name(), "no capabilities required")
	}
	held := make(map[string]bool, len(ctx.Capabilities))
	for _, c := range ctx.Capabilities {
		held[c] = true
	}
	for _, need := range p.Required {
		if !held[need] {
			return deny(p.Name(), fmt.Sprintf("user %q lacks capability %q", ctx.User, need))
		}
	}
	return allow(p.Name(), "")
}

// LimitPolicy caps the server count per profile. Servers past the cap are
// denied with warning severity so the caller truncates the list and reports
// it, rather than failing the pipeline.
type LimitPolicy struct {
	MaxServers int
}

// NewLimitPolicy builds the policy; a non-positive cap disables it.
func NewLimitPolicy(maxServers int) *LimitPolicy {
	return &LimitPolicy{MaxServers: maxServers}
}

func (p *LimitPolicy) Name() string  { return "limit" }
func (p *LimitPolicy) Group() string { return GroupRuntime }

func (p *LimitPolicy) Evaluate(ctx EvalContext) Result {
	if p.MaxServers <= 0 {
		return skip(p.Name(), "no cap configured")
	}
	if ctx.ServerIndex < p.MaxServers {
		return allow(p.Name(), "")
	}
	r := deny(p.Name(), fmt.Sprintf("server count exceeds cap of %d", p.MaxServers))
	r.Severity = SeverityWarning
	r.Metadata = map[string]any{"truncated": true, "cap": p.MaxServers}
	return r
}
