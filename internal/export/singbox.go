package export

import (
	"bytes"
	"errors"

	"github.com/goccy/go-json"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/routing"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// Singbox renders sing-box configuration documents. The modern dialect uses
// rule actions and omits the block and dns outbounds; the legacy dialect
// retains both and rewrites rule actions into dns-out references.
type Singbox struct {
	legacy bool
}

// NewSingbox constructs the exporter.
func NewSingbox(legacy bool) *Singbox { return &Singbox{legacy: legacy} }

// Name implements Exporter.
func (e *Singbox) Name() string {
	if e.legacy {
		return FormatSingboxLegacy
	}
	return FormatSingbox
}

type singboxRule struct {
	Protocol []string `json:"protocol,omitempty"`
	Domain   []string `json:"domain,omitempty"`
	GeoIP    []string `json:"geoip,omitempty"`
	Network  []string `json:"network,omitempty"`
	Port     []int    `json:"port,omitempty"`
	Outbound string   `json:"outbound,omitempty"`
	Action   string   `json:"action,omitempty"`
}

type singboxRoute struct {
	Rules []singboxRule `json:"rules"`
	Final string        `json:"final,omitempty"`
}

type singboxInbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag,omitempty"`
	Listen     string `json:"listen,omitempty"`
	ListenPort int    `json:"listen_port,omitempty"`
}

type singboxDocument struct {
	Inbounds  []singboxInbound  `json:"inbounds"`
	Outbounds []json.RawMessage `json:"outbounds"`
	Route     singboxRoute      `json:"route"`
}

// Export implements Exporter.
func (e *Singbox) Export(in Input) (*Result, error) {
	if in.Routes == nil {
		return nil, sboxerrors.NewExportError(e.Name(), errNoRoutes)
	}

	servers := concrete(in.Servers, in.Client)
	doc := singboxDocument{
		Inbounds:  e.inbounds(in.Client),
		Outbounds: make([]json.RawMessage, 0, len(servers)+3),
	}

	tags := make([]string, 0, len(servers))
	for i := range servers {
		outbound, err := serverOutbound(&servers[i])
		if err != nil {
			return nil, sboxerrors.NewExportError(e.Name(), err)
		}
		doc.Outbounds = append(doc.Outbounds, outbound)
		tags = append(tags, servers[i].Tag)
	}

	for _, virtual := range e.virtualOutbounds(in, tags) {
		doc.Outbounds = append(doc.Outbounds, virtual)
	}

	doc.Route = e.route(in)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, sboxerrors.NewExportError(e.Name(), err)
	}
	return &Result{Document: buf.Bytes()}, nil
}

var errNoRoutes = errors.New("nil route set")

func (e *Singbox) inbounds(client *model.ClientProfile) []singboxInbound {
	if client == nil {
		return []singboxInbound{}
	}
	out := make([]singboxInbound, 0, len(client.Inbounds))
	for _, in := range client.Inbounds {
		out = append(out, singboxInbound{
			Type:       in.Type,
			Tag:        in.Type + "-in",
			Listen:     in.Listen,
			ListenPort: in.Port,
		})
	}
	return out
}

// serverOutbound renders one concrete server, copying every non-annotation
// meta field so a re-parse of the document recovers the original record.
func serverOutbound(s *model.ParsedServer) (json.RawMessage, error) {
	outbound := exportableMeta(s)
	outbound["type"] = s.Protocol
	outbound["tag"] = s.Tag
	outbound["server"] = s.Address
	outbound["server_port"] = s.Port
	// Map marshaling sorts keys, keeping the document deterministic.
	return json.Marshal(outbound)
}

func (e *Singbox) virtualOutbounds(in Input, memberTags []string) []json.RawMessage {
	var out []json.RawMessage
	for _, virtual := range in.Routes.VirtualOutbounds {
		switch virtual {
		case model.ProtocolDirect:
			out = append(out, mustJSON(map[string]any{"type": "direct", "tag": "direct"}))
		case model.ProtocolURLTest:
			out = append(out, mustJSON(map[string]any{
				"type":      "urltest",
				"tag":       routing.AutoTag,
				"outbounds": memberTags,
			}))
		case model.ProtocolBlock, model.ProtocolDNS:
			// Legacy-only; handled below so modern documents omit them.
		}
	}
	if e.legacy {
		out = append(out,
			mustJSON(map[string]any{"type": "block", "tag": "block"}),
			mustJSON(map[string]any{"type": "dns", "tag": "dns-out"}),
		)
	}
	return out
}

func (e *Singbox) route(in Input) singboxRoute {
	route := singboxRoute{Rules: make([]singboxRule, 0, len(in.Routes.Rules))}
	for _, r := range in.Routes.Rules {
		rule := singboxRule{
			Protocol: r.Protocol,
			Domain:   r.Domain,
			GeoIP:    r.GeoIP,
			Network:  r.Network,
			Port:     r.Port,
			Outbound: r.Outbound,
			Action:   r.Action,
		}
		if e.legacy && rule.Action == routing.ActionHijackDNS {
			rule.Action = ""
			rule.Outbound = "dns-out"
		}
		route.Rules = append(route.Rules, rule)
	}

	final := in.Routes.Final
	if final == routing.AutoTag || final == "" {
		final = routing.AutoTag
	}
	route.Final = final
	return route
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
