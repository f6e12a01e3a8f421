package model

// Inbound describes one local listener the exported document exposes.
type Inbound struct {
	Type   string `yaml:"type" json:"type" toml:"type" validate:"required,oneof=tun socks http tproxy mixed"`
	Listen string `yaml:"listen,omitempty" json:"listen,omitempty" toml:"listen,omitempty"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty" toml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// ClientProfile is the target-engine-facing description derived during export:
// which inbounds to expose, the final route, which outbound types to exclude,
// and the DNS handling mode.
type ClientProfile struct {
	Inbounds         []Inbound `yaml:"inbounds,omitempty" json:"inbounds,omitempty" toml:"inbounds,omitempty" validate:"omitempty,dive"`
	FinalRoute       string    `yaml:"final_route,omitempty" json:"final_route,omitempty" toml:"final_route,omitempty"`
	ExcludeOutbounds []string  `yaml:"exclude_outbounds,omitempty" json:"exclude_outbounds,omitempty" toml:"exclude_outbounds,omitempty"`
	DNSMode          string    `yaml:"dns_mode,omitempty" json:"dns_mode,omitempty" toml:"dns_mode,omitempty"`
}

// Excludes reports whether the given protocol is in the excluded outbound set.
func (p *ClientProfile) Excludes(protocol string) bool {
	if p == nil {
		return false
	}
	for _, t := range p.ExcludeOutbounds {
		if t == protocol {
			return true
		}
	}
	return false
}

// RouteRule is one route-engine directive. Either Outbound or Action is set;
// Action covers rule actions such as "hijack-dns" on modern sing-box.
type RouteRule struct {
	Protocol []string `json:"protocol,omitempty"`
	Domain   []string `json:"domain,omitempty"`
	GeoIP    []string `json:"geoip,omitempty"`
	Network  []string `json:"network,omitempty"`
	Port     []int    `json:"port,omitempty"`
	Outbound string   `json:"outbound,omitempty"`
	Action   string   `json:"action,omitempty"`
}

// RouteSet is the routing plugin's product: the ordered rule list, the final
// outbound tag, and the virtual outbounds the exporter must synthesise.
type RouteSet struct {
	Rules            []RouteRule
	Final            string
	VirtualOutbounds []string
	AutoDetect       bool
}
