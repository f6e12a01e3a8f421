package export

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/parse"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
	"github.com/kpblcaoo/sboxmgr/internal/routing"
)

func fixtureInput() Input {
	fast := model.ParsedServer{Protocol: "vless", Address: "host1", Port: 443, Tag: "Fast"}
	fast.SetMeta("uuid", "0e2d55e1-64a5-4f0a-9d5c-51296885bce1")
	fast.SetMeta("sni", "x.example.com")
	fast.SetMeta(model.MetaLatencyMS, 40.0)
	slow := model.ParsedServer{Protocol: "trojan", Address: "host2", Port: 443, Tag: "Slow"}
	slow.SetMeta("password", "hunter22-hunter22")

	return Input{
		Servers: []model.ParsedServer{fast, slow},
		Routes: &model.RouteSet{
			Rules:            []model.RouteRule{{Protocol: []string{"dns"}, Action: routing.ActionHijackDNS}},
			Final:            routing.AutoTag,
			VirtualOutbounds: []string{"direct", "urltest"},
			AutoDetect:       true,
		},
		Context: pipeline.NewContext("", "", ""),
	}
}

func decodeSingbox(t *testing.T, doc []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(doc, &out))
	return out
}

func outboundByTag(t *testing.T, doc map[string]any, tag string) map[string]any {
	t.Helper()
	for _, raw := range doc["outbounds"].([]any) {
		outbound := raw.(map[string]any)
		if outbound["tag"] == tag {
			return outbound
		}
	}
	return nil
}

func TestSingboxModern(t *testing.T) {
	t.Parallel()

	result, err := NewSingbox(false).Export(fixtureInput())
	require.NoError(t, err)
	require.Empty(t, result.Warnings)

	doc := decodeSingbox(t, result.Document)

	require.NotNil(t, outboundByTag(t, doc, "Fast"))
	require.NotNil(t, outboundByTag(t, doc, "Slow"))
	require.Nil(t, outboundByTag(t, doc, "block"), "modern dialect omits the block outbound")
	require.Nil(t, outboundByTag(t, doc, "dns-out"))

	group := outboundByTag(t, doc, routing.AutoTag)
	require.NotNil(t, group)
	require.Equal(t, "urltest", group["type"])
	require.Equal(t, []any{"Fast", "Slow"}, group["outbounds"])

	route := doc["route"].(map[string]any)
	require.Equal(t, routing.AutoTag, route["final"])
	rule := route["rules"].([]any)[0].(map[string]any)
	require.Equal(t, routing.ActionHijackDNS, rule["action"])

	fast := outboundByTag(t, doc, "Fast")
	require.Equal(t, "x.example.com", fast["sni"], "parser meta survives export")
	_, hasLatency := fast["latency_ms"]
	require.False(t, hasLatency, "pipeline annotations stay out of the document")
}

func TestSingboxLegacy(t *testing.T) {
	t.Parallel()

	result, err := NewSingbox(true).Export(fixtureInput())
	require.NoError(t, err)
	doc := decodeSingbox(t, result.Document)

	require.NotNil(t, outboundByTag(t, doc, "block"))
	dnsOut := outboundByTag(t, doc, "dns-out")
	require.NotNil(t, dnsOut)
	require.Equal(t, "dns", dnsOut["type"])

	rule := doc["route"].(map[string]any)["rules"].([]any)[0].(map[string]any)
	require.Equal(t, "dns-out", rule["outbound"])
	_, hasAction := rule["action"]
	require.False(t, hasAction, "legacy dialect rewrites rule actions")
}

func TestSingboxExcludedOutbounds(t *testing.T) {
	t.Parallel()

	in := fixtureInput()
	in.Client = &model.ClientProfile{ExcludeOutbounds: []string{"vless"}}

	result, err := NewSingbox(false).Export(in)
	require.NoError(t, err)
	doc := decodeSingbox(t, result.Document)

	require.Nil(t, outboundByTag(t, doc, "Fast"))
	group := outboundByTag(t, doc, routing.AutoTag)
	require.Equal(t, []any{"Slow"}, group["outbounds"], "excluded types leave the urltest group too")
}

func TestSingboxDeterministic(t *testing.T) {
	t.Parallel()

	first, err := NewSingbox(false).Export(fixtureInput())
	require.NoError(t, err)
	second, err := NewSingbox(false).Export(fixtureInput())
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(string(first.Document), string(second.Document)))
}

func TestSingboxRoundTrip(t *testing.T) {
	t.Parallel()

	result, err := NewSingbox(false).Export(fixtureInput())
	require.NoError(t, err)

	servers, errs := parse.NewSingboxParser().Parse(result.Document)
	require.Empty(t, errs)

	byAddress := make(map[string]model.ParsedServer)
	for _, s := range servers {
		byAddress[s.Address] = s
	}
	fast, ok := byAddress["host1"]
	require.True(t, ok)
	require.Equal(t, "vless", fast.Protocol)
	require.Equal(t, 443, fast.Port)
	uuid, _ := fast.MetaString("uuid")
	require.Equal(t, "0e2d55e1-64a5-4f0a-9d5c-51296885bce1", uuid)
}

func TestClashExport(t *testing.T) {
	t.Parallel()

	in := fixtureInput()
	wg := model.ParsedServer{Protocol: "wireguard", Address: "host3", Port: 51820, Tag: "WG"}
	in.Servers = append(in.Servers, wg)

	result, err := NewClash().Export(in)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "wireguard")

	var doc struct {
		Proxies     []map[string]any `yaml:"proxies"`
		ProxyGroups []map[string]any `yaml:"proxy-groups"`
		Rules       []string         `yaml:"rules"`
	}
	require.NoError(t, yaml.Unmarshal(result.Document, &doc))

	require.Len(t, doc.Proxies, 2, "unsupported server skipped")
	require.Equal(t, "Fast", doc.Proxies[0]["name"])
	require.Equal(t, "vless", doc.Proxies[0]["type"])

	require.Len(t, doc.ProxyGroups, 2)
	require.Equal(t, routing.AutoTag, doc.ProxyGroups[0]["name"])
	require.Equal(t, "PROXY", doc.ProxyGroups[1]["name"])

	require.Equal(t, "MATCH,PROXY", doc.Rules[len(doc.Rules)-1])
	require.False(t, strings.Contains(strings.Join(doc.Rules, "\n"), "hijack"),
		"rule actions have no clash equivalent")
}

func TestByName(t *testing.T) {
	t.Parallel()

	require.Equal(t, FormatSingbox, ByName("").Name())
	require.Equal(t, FormatSingboxLegacy, ByName("singbox-legacy").Name())
	require.Equal(t, FormatClash, ByName("clash").Name())
	require.Nil(t, ByName("xray"))
}
