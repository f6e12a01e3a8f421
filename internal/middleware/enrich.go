package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/kpblcaoo/sboxmgr/internal/event"
	"github.com/kpblcaoo/sboxmgr/internal/logger"
	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// Geo is the enrichment product attached under meta.geo.
type Geo struct {
	Country string
	Region  string
	City    string
}

// GeoResolver looks up location data for one server. Implementations must
// honour the context deadline and must not shell out or execute code.
type GeoResolver interface {
	Resolve(ctx context.Context, server model.ParsedServer) (Geo, error)
}

// DefaultEnrichDeadline bounds all resolver calls of one invocation.
const DefaultEnrichDeadline = time.Second

// Enrichment annotates servers with meta.geo and meta.country. On deadline
// expiry the servers enriched so far keep their annotations and the rest pass
// through untouched.
type Enrichment struct {
	resolver GeoResolver
	deadline time.Duration
	log      *logger.Logger
}

// NewEnrichment constructs the middleware. A nil resolver falls back to the
// static resolver, which derives countries from tags and addresses without
// network access.
func NewEnrichment(resolver GeoResolver, deadline time.Duration, log *logger.Logger) *Enrichment {
	if resolver == nil {
		resolver = StaticGeoResolver{}
	}
	if deadline <= 0 {
		deadline = DefaultEnrichDeadline
	}
	return &Enrichment{resolver: resolver, deadline: deadline, log: log}
}

// Bind attaches the run-scoped logger.
func (m *Enrichment) Bind(log *logger.Logger, _ *event.Bus) {
	m.log = log
}

// Name implements Middleware.
func (m *Enrichment) Name() string { return "enrichment" }

// Process implements Middleware.
func (m *Enrichment) Process(ctx context.Context, pctx *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	deadline, cancel := context.WithTimeout(ctx, m.deadline)
	defer cancel()

	out := make([]model.ParsedServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if deadline.Err() != nil {
			m.log.WithTrace(pctx.TraceID).Warn("enrichment deadline exceeded, returning partial results")
			pctx.SetMetadata("middleware.enrichment.partial", "true")
			copy(out[i:], servers[i:])
			return out, nil
		}
		geo, err := m.resolver.Resolve(deadline, server)
		if err != nil || geo.Country == "" {
			continue
		}
		enriched := server.Clone()
		enriched.SetMeta(model.MetaCountry, geo.Country)
		enriched.SetMeta(model.MetaGeo, map[string]any{
			"country": geo.Country,
			"region":  geo.Region,
			"city":    geo.City,
		})
		out[i] = enriched
	}
	return out, nil
}

// StaticGeoResolver derives a country code without any network access: a flag
// emoji in the original name, a two-letter tag prefix, or a country-code TLD
// on the address.
type StaticGeoResolver struct{}

// Resolve implements GeoResolver.
func (StaticGeoResolver) Resolve(_ context.Context, server model.ParsedServer) (Geo, error) {
	if name, ok := server.MetaString(model.MetaName); ok {
		if cc := flagCountry(name); cc != "" {
			return Geo{Country: cc}, nil
		}
		if cc := prefixCountry(name); cc != "" {
			return Geo{Country: cc}, nil
		}
	}
	if cc := tldCountry(server.Address); cc != "" {
		return Geo{Country: cc}, nil
	}
	return Geo{}, nil
}

// flagCountry decodes a regional-indicator pair (🇳🇱 -> NL).
func flagCountry(s string) string {
	const base = 0x1F1E6
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		a, b := runes[i], runes[i+1]
		if a >= base && a <= base+25 && b >= base && b <= base+25 {
			return string([]rune{'A' + (a - base), 'A' + (b - base)})
		}
	}
	return ""
}

// prefixCountry picks up tags like "NL-1" or "de_frankfurt".
func prefixCountry(s string) string {
	token := s
	for _, sep := range []string{"-", "_", " "} {
		if idx := strings.Index(token, sep); idx >= 0 {
			token = token[:idx]
		}
	}
	if len(token) == 2 && isAlpha(token) {
		return strings.ToUpper(token)
	}
	return ""
}

func tldCountry(address string) string {
	idx := strings.LastIndex(address, ".")
	if idx < 0 {
		return ""
	}
	tld := address[idx+1:]
	if len(tld) == 2 && isAlpha(tld) {
		return strings.ToUpper(tld)
	}
	return ""
}

func isAlpha(s string) bool {
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}
