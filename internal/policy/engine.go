package policy

import (
	"fmt"
	"sync"

	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// Engine holds registered policies and evaluates the enabled ones in
// registration order.
type Engine struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

type entry struct {
	policy  Policy
	enabled bool
}

// Info describes one registered policy for listing.
type Info struct {
	Name    string
	Group   string
	Enabled bool
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{entries: make(map[string]*entry)}
}

// Register adds a policy, enabled by default. Duplicate names are an error.
func (e *Engine) Register(p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.entries[p.Name()]; exists {
		return sboxerrors.NewPolicyError(p.Name(), fmt.Errorf("already registered"))
	}
	e.entries[p.Name()] = &entry{policy: p, enabled: true}
	e.order = append(e.order, p.Name())
	return nil
}

// Enable turns a policy on.
func (e *Engine) Enable(name string) error { return e.setEnabled(name, true) }

// Disable turns a policy off without unregistering it.
func (e *Engine) Disable(name string) error { return e.setEnabled(name, false) }

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[name]
	if !ok {
		return sboxerrors.NewPolicyError(name, fmt.Errorf("not registered"))
	}
	ent.enabled = enabled
	return nil
}

// List returns registered policies in registration order. A non-empty group
// restricts to that group; enabledOnly drops disabled entries.
func (e *Engine) List(group string, enabledOnly bool) []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Info, 0, len(e.order))
	for _, name := range e.order {
		ent := e.entries[name]
		if group != "" && ent.policy.Group() != group {
			continue
		}
		if enabledOnly && !ent.enabled {
			continue
		}
		out = append(out, Info{Name: name, Group: ent.policy.Group(), Enabled: ent.enabled})
	}
	return out
}

// EvaluateAll runs every enabled policy against the context and returns one
// result per policy, in registration order. A panicking policy fails closed:
// its result is a deny carrying the failure as reason.
func (e *Engine) EvaluateAll(ctx EvalContext) []Result {
	e.mu.RLock()
	policies := make([]Policy, 0, len(e.order))
	for _, name := range e.order {
		if ent := e.entries[name]; ent.enabled {
			policies = append(policies, ent.policy)
		}
	}
	e.mu.RUnlock()

	results := make([]Result, 0, len(policies))
	for _, p := range policies {
		results = append(results, safeEvaluate(p, ctx))
	}
	return results
}

// Verdict reduces a result set: any deny wins, then any warn, else allow.
func Verdict(results []Result) Decision {
	decision := Allow
	for _, r := range results {
		switch r.Decision {
		case Deny:
			return Deny
		case Warn:
			decision = Warn
		}
	}
	return decision
}

func safeEvaluate(p Policy, ctx EvalContext) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			err := sboxerrors.NewPolicyError(p.Name(), fmt.Errorf("panic: %v", r))
			result = deny(p.Name(), err.Error())
		}
	}()
	return p.Evaluate(ctx)
}
