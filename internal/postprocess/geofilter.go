package postprocess

import (
	"context"
	"errors"
	"strings"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// FallbackMode controls servers whose country cannot be determined.
type FallbackMode string

const (
	FallbackAllowAll FallbackMode = "allow_all"
	FallbackDenyAll  FallbackMode = "deny_all"
)

// GeoFilter includes or excludes servers by country. Country extraction order:
// meta.country, meta.geo.country, tag-prefix token, TLD of the address; all
// normalized to upper-case two-letter codes.
type GeoFilter struct {
	Include  []string
	Exclude  []string
	Fallback FallbackMode
}

// NewGeoFilter constructs the processor; country codes are normalized once.
func NewGeoFilter(include, exclude []string, fallback FallbackMode) *GeoFilter {
	if fallback == "" {
		fallback = FallbackAllowAll
	}
	return &GeoFilter{
		Include:  upperAll(include),
		Exclude:  upperAll(exclude),
		Fallback: fallback,
	}
}

// Name implements Processor.
func (p *GeoFilter) Name() string { return "geo-filter" }

// MergeRule implements Processor.
func (p *GeoFilter) MergeRule() MergeRule { return MergeIntersect }

// Precondition implements Conditional: without any configured country list the
// filter has nothing to do.
func (p *GeoFilter) Precondition(*pipeline.Context, []model.ParsedServer) error {
	if len(p.Include) == 0 && len(p.Exclude) == 0 {
		return errNoCountryLists
	}
	return nil
}

var errNoCountryLists = errors.New("no country lists configured")

// Process implements Processor.
func (p *GeoFilter) Process(_ context.Context, _ *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	out := make([]model.ParsedServer, 0, len(servers))
	for _, s := range servers {
		country := CountryOf(&s)
		if country == "" {
			if p.Fallback == FallbackAllowAll {
				out = append(out, s)
			}
			continue
		}
		if len(p.Exclude) > 0 && contains(p.Exclude, country) {
			continue
		}
		if len(p.Include) > 0 && !contains(p.Include, country) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// CountryOf extracts the normalized country code for a server, or "".
func CountryOf(s *model.ParsedServer) string {
	if c, ok := s.MetaString(model.MetaCountry); ok && c != "" {
		return normalizeCountry(c)
	}
	if geo, ok := s.Meta[model.MetaGeo].(map[string]any); ok {
		if c, ok := geo["country"].(string); ok && c != "" {
			return normalizeCountry(c)
		}
	}
	if token := tagPrefixToken(s.Tag); token != "" {
		return token
	}
	if idx := strings.LastIndex(s.Address, "."); idx >= 0 {
		tld := s.Address[idx+1:]
		if len(tld) == 2 && alphaOnly(tld) {
			return strings.ToUpper(tld)
		}
	}
	return ""
}

func tagPrefixToken(tag string) string {
	token := tag
	for _, sep := range []string{"-", "_", " "} {
		if idx := strings.Index(token, sep); idx >= 0 {
			token = token[:idx]
		}
	}
	if len(token) == 2 && alphaOnly(token) {
		return strings.ToUpper(token)
	}
	return ""
}

func normalizeCountry(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if len(c) == 2 && alphaOnly(c) {
		return c
	}
	return ""
}

func alphaOnly(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(strings.TrimSpace(s)))
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
