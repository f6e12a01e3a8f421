// Package routing turns the surviving server list plus user route directives
// into the rule set and virtual outbounds the exporters consume.
package routing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kpblcaoo/sboxmgr/internal/middleware"
	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// AutoTag is the tag of the synthesized urltest group and the value of
// route.final when automatic selection is in effect.
const AutoTag = "auto"

// ActionHijackDNS is the modern rule action for DNS interception.
const ActionHijackDNS = "hijack-dns"

// Router produces a RouteSet for one pipeline run.
type Router interface {
	Name() string
	Route(pctx *pipeline.Context, servers []model.ParsedServer, client *model.ClientProfile) (*model.RouteSet, error)
}

// Default is the stock router. It emits a DNS hijack rule, appends the user's
// route directives in declaration order, resolves the final outbound from the
// client profile or the context metadata, and declares which virtual outbounds
// the exporter must synthesize.
type Default struct {
	// HijackDNS controls the leading DNS interception rule.
	HijackDNS bool
}

// NewDefault constructs the router with DNS hijacking on.
func NewDefault() *Default { return &Default{HijackDNS: true} }

// Name implements Router.
func (r *Default) Name() string { return "default" }

// Route implements Router.
func (r *Default) Route(pctx *pipeline.Context, servers []model.ParsedServer, client *model.ClientProfile) (*model.RouteSet, error) {
	set := &model.RouteSet{}

	if r.HijackDNS {
		set.Rules = append(set.Rules, model.RouteRule{
			Protocol: []string{"dns"},
			Action:   ActionHijackDNS,
		})
	}

	for _, raw := range pctx.UserRoutes {
		rule, err := ParseRoute(raw)
		if err != nil {
			return nil, err
		}
		set.Rules = append(set.Rules, rule)
	}

	final := finalOf(pctx, client)
	set.Final = final
	set.AutoDetect = final == AutoTag

	set.VirtualOutbounds = append(set.VirtualOutbounds, model.ProtocolDirect)
	if set.AutoDetect || concreteCount(servers) > 1 {
		set.VirtualOutbounds = append(set.VirtualOutbounds, model.ProtocolURLTest)
	}
	return set, nil
}

// ParseRoute parses one user route directive of the compact form
// "<matcher>:<value>=<outbound>", e.g. "domain:example.com=direct",
// "geoip:ru=block", "port:8443=auto". The outbound "hijack-dns" becomes a
// rule action rather than an outbound reference.
func ParseRoute(raw string) (model.RouteRule, error) {
	matcher, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return model.RouteRule{}, sboxerrors.NewValidationError("route",
			fmt.Sprintf("directive %q lacks a matcher", raw), nil)
	}
	value, target, ok := strings.Cut(rest, "=")
	if !ok || value == "" || target == "" {
		return model.RouteRule{}, sboxerrors.NewValidationError("route",
			fmt.Sprintf("directive %q lacks a target outbound", raw), nil)
	}

	rule := model.RouteRule{}
	if target == ActionHijackDNS {
		rule.Action = ActionHijackDNS
	} else {
		rule.Outbound = target
	}

	switch strings.ToLower(matcher) {
	case "domain":
		rule.Domain = splitList(value)
	case "geoip":
		rule.GeoIP = splitList(value)
	case "protocol":
		rule.Protocol = splitList(value)
	case "network":
		rule.Network = splitList(value)
	case "port":
		for _, p := range splitList(value) {
			port, err := strconv.Atoi(p)
			if err != nil || port < 1 || port > 65535 {
				return model.RouteRule{}, sboxerrors.NewValidationError("route",
					fmt.Sprintf("directive %q has invalid port %q", raw, p), nil)
			}
			rule.Port = append(rule.Port, port)
		}
	default:
		return model.RouteRule{}, sboxerrors.NewValidationError("route",
			fmt.Sprintf("directive %q uses unknown matcher %q", raw, matcher), nil)
	}
	return rule, nil
}

func finalOf(pctx *pipeline.Context, client *model.ClientProfile) string {
	if client != nil && client.FinalRoute != "" {
		return client.FinalRoute
	}
	if v, ok := pctx.Metadata(middleware.MetaRoutingFinal); ok && v != "" {
		return v
	}
	return AutoTag
}

func concreteCount(servers []model.ParsedServer) int {
	n := 0
	for _, s := range servers {
		if !s.IsVirtual() {
			n++
		}
	}
	return n
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
