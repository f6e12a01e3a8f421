package subscription

import (
	"fmt"

	"github.com/kpblcaoo/sboxmgr/internal/event"
	"github.com/kpblcaoo/sboxmgr/internal/logger"
	"github.com/kpblcaoo/sboxmgr/internal/middleware"
	"github.com/kpblcaoo/sboxmgr/internal/plugin"
	"github.com/kpblcaoo/sboxmgr/internal/plugin/builtin"
	"github.com/kpblcaoo/sboxmgr/internal/policy"
	"github.com/kpblcaoo/sboxmgr/internal/postprocess"
	"github.com/kpblcaoo/sboxmgr/internal/profile"
)

// binder is implemented by middleware that want the run-scoped logger and
// event bus on top of their profile configuration.
type binder interface {
	Bind(log *logger.Logger, bus *event.Bus)
}

// defaultMiddlewareChain applies when the profile declares no middleware.
var defaultMiddlewareChain = []string{"logging", "enrichment", "tag-normalize", "outbound-filter", "route-config"}

// defaultPolicyNames is the stock security set applied when the profile
// declares no policies.
var defaultPolicyNames = []string{"protocol", "encryption", "authentication"}

// buildMiddleware resolves profile middleware declarations through the plugin
// registry, so custom registrations and built-ins are looked up the same way.
func buildMiddleware(p *profile.FullProfile, log *logger.Logger, bus *event.Bus) ([]middleware.Middleware, error) {
	builtin.Register()

	decls := p.Middleware
	if len(decls) == 0 {
		decls = defaultDecls(defaultMiddlewareChain)
	}

	out := make([]middleware.Middleware, 0, len(decls))
	for _, decl := range decls {
		instance, err := plugin.New(plugin.KindMiddleware, decl.Name, middlewareConfig(decl, p))
		if err != nil {
			return nil, err
		}
		mw, ok := instance.(middleware.Middleware)
		if !ok {
			return nil, fmt.Errorf("plugin %q is not a middleware", decl.Name)
		}
		if b, ok := instance.(binder); ok {
			b.Bind(log, bus)
		}
		out = append(out, mw)
	}
	return out, nil
}

// middlewareConfig merges profile-level defaults into a declaration's config:
// outbound-filter falls back to export.exclude_outbounds, route-config to
// routing.final.
func middlewareConfig(decl profile.ComponentConfig, p *profile.FullProfile) map[string]any {
	cfg := make(map[string]any, len(decl.Config)+1)
	for k, v := range decl.Config {
		cfg[k] = v
	}
	switch decl.Name {
	case "outbound-filter":
		if len(stringList(cfg, "protocols")) == 0 {
			cfg["protocols"] = p.Export.ExcludeOutbounds
		}
	case "route-config":
		if stringValue(cfg, "final") == "" {
			cfg["final"] = p.Routing.Final
		}
	}
	return cfg
}

// buildPostprocessors resolves profile postprocessor declarations through the
// plugin registry. No declarations means an empty chain.
func buildPostprocessors(p *profile.FullProfile) ([]postprocess.Processor, error) {
	builtin.Register()

	out := make([]postprocess.Processor, 0, len(p.Postprocessors))
	for _, decl := range p.Postprocessors {
		instance, err := plugin.New(plugin.KindPostprocessor, decl.Name, decl.Config)
		if err != nil {
			return nil, err
		}
		proc, ok := instance.(postprocess.Processor)
		if !ok {
			return nil, fmt.Errorf("plugin %q is not a postprocessor", decl.Name)
		}
		out = append(out, proc)
	}
	return out, nil
}

// buildPolicyEngine registers the profile's policies, or the stock security
// set when the profile declares none.
func buildPolicyEngine(p *profile.FullProfile) (*policy.Engine, error) {
	builtin.Register()

	decls := p.Policies
	if len(decls) == 0 {
		decls = defaultDecls(defaultPolicyNames)
	}

	engine := policy.NewEngine()
	for _, decl := range decls {
		instance, err := plugin.New(plugin.KindPolicy, decl.Name, decl.Config)
		if err != nil {
			return nil, err
		}
		pol, ok := instance.(policy.Policy)
		if !ok {
			return nil, fmt.Errorf("plugin %q is not a policy", decl.Name)
		}
		if err := engine.Register(pol); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func defaultDecls(names []string) []profile.ComponentConfig {
	decls := make([]profile.ComponentConfig, 0, len(names))
	for _, name := range names {
		decls = append(decls, profile.ComponentConfig{Name: name})
	}
	return decls
}

func stringValue(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

func stringList(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
