package parse

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// ClashParser extracts the proxies list from a Clash YAML document.
type ClashParser struct{}

// NewClashParser constructs the parser.
func NewClashParser() *ClashParser { return &ClashParser{} }

// Name implements Parser.
func (p *ClashParser) Name() string { return "clash" }

// Detect implements Parser.
func (p *ClashParser) Detect(prefix []byte) float64 {
	if bytes.Contains(prefix, []byte("proxies:")) {
		return 0.9
	}
	return 0
}

// Parse implements Parser.
func (p *ClashParser) Parse(data []byte) ([]model.ParsedServer, []error) {
	var doc struct {
		Proxies []map[string]any `yaml:"proxies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, []error{sboxerrors.NewParseError("clash", 0, err)}
	}
	if len(doc.Proxies) == 0 {
		return nil, []error{sboxerrors.NewParseError("clash", 0, fmt.Errorf("no proxies section"))}
	}

	var servers []model.ParsedServer
	var errs []error
	for i, proxy := range doc.Proxies {
		server, err := serverFromGenericJSON(normalizeYAMLKeys(proxy))
		if err != nil {
			errs = append(errs, sboxerrors.NewParseError("clash", i+1, err))
			continue
		}
		servers = append(servers, server)
	}
	return servers, errs
}

// normalizeYAMLKeys rewrites yaml.v3's map[any]any values into map[string]any
// so the generic record mapper can consume them. yaml.v3 decodes mappings
// into map[string]any at the top level but nested maps may need conversion.
func normalizeYAMLKeys(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeYAMLKeys(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAMLValue(val)
		}
		return m
	case []any:
		for i, item := range t {
			t[i] = normalizeYAMLValue(item)
		}
		return t
	case int:
		// yaml decodes integers as int; the JSON path produces float64.
		// Keep ints as-is: MetaFloat accepts both.
		return t
	default:
		return v
	}
}
