package policy

import (
	"fmt"
	"strings"

	"github.com/kpblcaoo/sboxmgr/internal/postprocess"
)

// CountryPolicy denies servers by country code. Servers whose country cannot
// be determined are skipped rather than denied.
type CountryPolicy struct {
	Allow map[string]bool
	Deny  map[string]bool
}

// NewCountryPolicy builds the policy from upper-cased two-letter codes.
func NewCountryPolicy(allowList, denyList []string) *CountryPolicy {
	return &CountryPolicy{Allow: upperSet(allowList), Deny: upperSet(denyList)}
}

func (p *CountryPolicy) Name() string  { return "country" }
func (p *CountryPolicy) Group() string { return GroupGeo }

func (p *CountryPolicy) Evaluate(ctx EvalContext) Result {
	if ctx.Server == nil || ctx.Server.IsVirtual() {
		return skip(p.Name(), "virtual outbound")
	}
	country := postprocess.CountryOf(ctx.Server)
	if country == "" {
		return skip(p.Name(), "country unknown")
	}
	if p.Deny[country] {
		return deny(p.Name(), fmt.Sprintf("country %s is deny-listed", country))
	}
	if len(p.Allow) > 0 && !p.Allow[country] {
		return deny(p.Name(), fmt.Sprintf("country %s is not allow-listed", country))
	}
	return allow(p.Name(), "")
}

// GeoASNPolicy raises warnings for servers in watched countries or autonomous
// systems. It never denies; routing around a flagged server is the operator's
// call.
type GeoASNPolicy struct {
	WarnCountries map[string]bool
	WarnASNs      map[string]bool
}

// NewGeoASNPolicy builds the warn-only policy.
func NewGeoASNPolicy(countries, asns []string) *GeoASNPolicy {
	return &GeoASNPolicy{WarnCountries: upperSet(countries), WarnASNs: upperSet(asns)}
}

func (p *GeoASNPolicy) Name() string  { return "geo-asn" }
func (p *GeoASNPolicy) Group() string { return GroupGeo }

func (p *GeoASNPolicy) Evaluate(ctx EvalContext) Result {
	s := ctx.Server
	if s == nil || s.IsVirtual() {
		return skip(p.Name(), "virtual outbound")
	}
	if country := postprocess.CountryOf(s); country != "" && p.WarnCountries[country] {
		return warn(p.Name(), fmt.Sprintf("country %s is on the watch list", country))
	}
	if asn, ok := s.MetaString("asn"); ok && p.WarnASNs[strings.ToUpper(asn)] {
		return warn(p.Name(), fmt.Sprintf("ASN %s is on the watch list", strings.ToUpper(asn)))
	}
	return allow(p.Name(), "")
}

func upperSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	return set
}
