package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Protocol tokens recognised across parsers, policies, and exporters. The set
// is open: unknown lowercase tokens pass through untouched so new protocols do
// not require a code change in every stage.
const (
	ProtocolVLESS       = "vless"
	ProtocolVMess       = "vmess"
	ProtocolTrojan      = "trojan"
	ProtocolShadowsocks = "shadowsocks"
	ProtocolHysteria2   = "hysteria2"
	ProtocolTUIC        = "tuic"
	ProtocolWireGuard   = "wireguard"
	ProtocolHTTP        = "http"
	ProtocolSOCKS       = "socks"
	ProtocolDirect      = "direct"
	ProtocolBlock       = "block"
	ProtocolDNS         = "dns"
	ProtocolURLTest     = "urltest"
	ProtocolSelector    = "selector"
)

// Well-known meta keys. Parsers preserve original fields under these names so
// middleware and exporters can reach them without re-parsing.
const (
	MetaName         = "name"
	MetaTag          = "tag"
	MetaCountry      = "country"
	MetaGeo          = "geo"
	MetaLatencyMS    = "latency_ms"
	MetaHighLatency  = "high_latency"
	MetaTags         = "tags"
	MetaOriginalName = "original_name"
	MetaOriginalTag  = "original_tag"
	MetaWarnings     = "policy_warnings"
	MetaSourceID     = "source_id"
	MetaSourcePrio   = "source_priority"
)

var virtualProtocols = map[string]struct{}{
	ProtocolDirect:   {},
	ProtocolBlock:    {},
	ProtocolDNS:      {},
	ProtocolURLTest:  {},
	ProtocolSelector: {},
}

// ParsedServer is the canonical in-memory server record used throughout the
// pipeline. Parsers create it, middleware and postprocessors mutate it through
// the documented fields, exporters consume it.
type ParsedServer struct {
	Protocol string
	Address  string
	Port     int
	Tag      string
	Meta     map[string]any
}

// IsVirtual reports whether the protocol describes a synthetic outbound that
// carries no remote endpoint (direct, block, dns, urltest, selector).
func (s *ParsedServer) IsVirtual() bool {
	_, ok := virtualProtocols[s.Protocol]
	return ok
}

// Identity returns the stable server identifier used for exclusions and
// deduplication: "protocol|address|port".
func (s *ParsedServer) Identity() string {
	return fmt.Sprintf("%s|%s|%d", s.Protocol, s.Address, s.Port)
}

// IdentityHash returns the SHA-256 hex digest of Identity.
func (s *ParsedServer) IdentityHash() string {
	sum := sha256.Sum256([]byte(s.Identity()))
	return hex.EncodeToString(sum[:])
}

// Validate checks the structural invariants every non-virtual server must
// satisfy before it may enter the pipeline.
func (s *ParsedServer) Validate() error {
	if s.Protocol == "" {
		return fmt.Errorf("server has no protocol")
	}
	if s.IsVirtual() {
		return nil
	}
	if s.Address == "" {
		return fmt.Errorf("%s server has no address", s.Protocol)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%s server port %d out of range", s.Protocol, s.Port)
	}
	return nil
}

// MetaString fetches a string-valued meta field.
func (s *ParsedServer) MetaString(key string) (string, bool) {
	if s.Meta == nil {
		return "", false
	}
	v, ok := s.Meta[key].(string)
	return v, ok
}

// MetaFloat fetches a numeric meta field, accepting int and float encodings.
func (s *ParsedServer) MetaFloat(key string) (float64, bool) {
	if s.Meta == nil {
		return 0, false
	}
	switch v := s.Meta[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// SetMeta stores a meta field, allocating the map on first use.
func (s *ParsedServer) SetMeta(key string, value any) {
	if s.Meta == nil {
		s.Meta = make(map[string]any)
	}
	s.Meta[key] = value
}

// Clone returns a copy with a shallow-copied meta map. Nested values are
// shared; mutating stages must replace nested structures rather than edit
// them in place.
func (s *ParsedServer) Clone() ParsedServer {
	out := *s
	if s.Meta != nil {
		out.Meta = make(map[string]any, len(s.Meta))
		for k, v := range s.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// MetaKeys returns the sorted meta key set, used by logging middleware at high
// debug levels.
func (s *ParsedServer) MetaKeys() []string {
	keys := make([]string, 0, len(s.Meta))
	for k := range s.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
