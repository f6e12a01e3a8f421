package export

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/routing"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// Clash renders a Clash configuration. Protocol adaptation is best-effort:
// servers Clash cannot express are skipped with a warning instead of failing
// the export.
type Clash struct{}

// NewClash constructs the exporter.
func NewClash() *Clash { return &Clash{} }

// Name implements Exporter.
func (e *Clash) Name() string { return FormatClash }

// clashTypes maps pipeline protocol tokens to Clash proxy types.
var clashTypes = map[string]string{
	model.ProtocolShadowsocks: "ss",
	model.ProtocolVMess:       "vmess",
	model.ProtocolVLESS:       "vless",
	model.ProtocolTrojan:      "trojan",
	model.ProtocolHysteria2:   "hysteria2",
	model.ProtocolTUIC:        "tuic",
	model.ProtocolSOCKS:       "socks5",
	model.ProtocolHTTP:        "http",
}

type clashDocument struct {
	Proxies     []map[string]any `yaml:"proxies"`
	ProxyGroups []map[string]any `yaml:"proxy-groups"`
	Rules       []string         `yaml:"rules"`
}

// Export implements Exporter.
func (e *Clash) Export(in Input) (*Result, error) {
	if in.Routes == nil {
		return nil, sboxerrors.NewExportError(e.Name(), errNoRoutes)
	}

	result := &Result{}
	servers := concrete(in.Servers, in.Client)
	doc := clashDocument{
		Proxies: make([]map[string]any, 0, len(servers)),
		Rules:   []string{},
	}

	names := make([]string, 0, len(servers))
	for i := range servers {
		proxy, ok := e.proxy(&servers[i])
		if !ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("clash cannot express protocol %q, skipping %q", servers[i].Protocol, servers[i].Tag))
			continue
		}
		doc.Proxies = append(doc.Proxies, proxy)
		names = append(names, servers[i].Tag)
	}

	doc.ProxyGroups = e.groups(in, names)
	doc.Rules = e.rules(in)

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, sboxerrors.NewExportError(e.Name(), err)
	}
	result.Document = data
	return result, nil
}

func (e *Clash) proxy(s *model.ParsedServer) (map[string]any, bool) {
	clashType, ok := clashTypes[s.Protocol]
	if !ok {
		return nil, false
	}

	proxy := map[string]any{
		"name":   s.Tag,
		"type":   clashType,
		"server": s.Address,
		"port":   s.Port,
	}
	switch s.Protocol {
	case model.ProtocolShadowsocks:
		copyMeta(proxy, s, "method", "cipher")
		copyMeta(proxy, s, "password", "password")
	case model.ProtocolVMess, model.ProtocolVLESS, model.ProtocolTUIC:
		copyMeta(proxy, s, "uuid", "uuid")
		copyMeta(proxy, s, "password", "password")
	case model.ProtocolTrojan, model.ProtocolHysteria2:
		copyMeta(proxy, s, "password", "password")
	case model.ProtocolSOCKS, model.ProtocolHTTP:
		copyMeta(proxy, s, "username", "username")
		copyMeta(proxy, s, "password", "password")
	}
	if v, ok := s.MetaString("sni"); ok {
		proxy["sni"] = v
	}
	if tls, ok := s.Meta["tls"].(bool); ok && tls {
		proxy["tls"] = true
	}
	return proxy, true
}

func copyMeta(proxy map[string]any, s *model.ParsedServer, metaKey, proxyKey string) {
	if v, ok := s.MetaString(metaKey); ok && v != "" {
		proxy[proxyKey] = v
	}
}

func (e *Clash) groups(in Input, names []string) []map[string]any {
	groups := make([]map[string]any, 0, 2)
	selectorMembers := append([]string{}, names...)

	if in.Routes.AutoDetect {
		groups = append(groups, map[string]any{
			"name":     routing.AutoTag,
			"type":     "url-test",
			"proxies":  names,
			"url":      "https://www.gstatic.com/generate_204",
			"interval": 300,
		})
		selectorMembers = append([]string{routing.AutoTag}, selectorMembers...)
	}

	groups = append(groups, map[string]any{
		"name":    "PROXY",
		"type":    "select",
		"proxies": append(selectorMembers, "DIRECT"),
	})
	return groups
}

// rules renders route directives Clash understands; rule actions and matchers
// without a Clash equivalent are dropped.
func (e *Clash) rules(in Input) []string {
	rules := []string{}
	for _, r := range in.Routes.Rules {
		target := strings.ToUpper(r.Outbound)
		switch target {
		case "":
			continue
		case "DIRECT", "REJECT":
		case "BLOCK":
			target = "REJECT"
		case strings.ToUpper(routing.AutoTag):
			target = routing.AutoTag
		default:
			target = r.Outbound
		}
		for _, d := range r.Domain {
			rules = append(rules, fmt.Sprintf("DOMAIN-SUFFIX,%s,%s", d, target))
		}
		for _, g := range r.GeoIP {
			rules = append(rules, fmt.Sprintf("GEOIP,%s,%s", strings.ToUpper(g), target))
		}
		for _, p := range r.Port {
			rules = append(rules, fmt.Sprintf("DST-PORT,%d,%s", p, target))
		}
	}

	final := in.Routes.Final
	switch final {
	case routing.AutoTag, "":
		final = "PROXY"
	case "direct":
		final = "DIRECT"
	case "block":
		final = "REJECT"
	}
	return append(rules, "MATCH,"+final)
}
