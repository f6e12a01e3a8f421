package policy

import (
	"fmt"
	"strings"

	"github.com/kpblcaoo/sboxmgr/internal/model"
)

// ProtocolMode selects whitelist or blacklist matching.
type ProtocolMode string

const (
	ProtocolWhitelist ProtocolMode = "whitelist"
	ProtocolBlacklist ProtocolMode = "blacklist"
)

// DefaultAllowedProtocols is the stock whitelist.
var DefaultAllowedProtocols = []string{
	model.ProtocolVLESS,
	model.ProtocolTrojan,
	model.ProtocolShadowsocks,
	model.ProtocolHysteria2,
	model.ProtocolTUIC,
}

// ProtocolPolicy denies servers whose protocol falls outside the configured
// list. Virtual outbounds are never protocol-gated.
type ProtocolPolicy struct {
	Mode      ProtocolMode
	Protocols map[string]bool
}

// NewProtocolPolicy builds the policy; an empty list uses the defaults.
func NewProtocolPolicy(mode ProtocolMode, protocols []string) *ProtocolPolicy {
	if mode == "" {
		mode = ProtocolWhitelist
	}
	if len(protocols) == 0 {
		protocols = DefaultAllowedProtocols
	}
	set := make(map[string]bool, len(protocols))
	for _, p := range protocols {
		set[strings.ToLower(p)] = true
	}
	return &ProtocolPolicy{Mode: mode, Protocols: set}
}

func (p *ProtocolPolicy) Name() string  { return "protocol" }
func (p *ProtocolPolicy) Group() string { return GroupSecurity }

func (p *ProtocolPolicy) Evaluate(ctx EvalContext) Result {
	s := ctx.Server
	if s == nil || s.IsVirtual() {
		return skip(p.Name(), "virtual outbound")
	}
	listed := p.Protocols[strings.ToLower(s.Protocol)]
	switch p.Mode {
	case ProtocolBlacklist:
		if listed {
			return deny(p.Name(), fmt.Sprintf("protocol %q is blacklisted", s.Protocol))
		}
	default:
		if !listed {
			return deny(p.Name(), fmt.Sprintf("protocol %q is not whitelisted", s.Protocol))
		}
	}
	return allow(p.Name(), "")
}

// Default cipher classification. Unknown ciphers are allowed so new strong
// methods do not get rejected before this list catches up.
var (
	DefaultStrongEncryption = []string{"tls", "reality", "xtls", "aes-256-gcm", "chacha20-poly1305"}
	DefaultWeakEncryption   = []string{"none", "plain", "aes-128", "rc4"}
)

// EncryptionPolicy denies servers using a known-weak cipher or security layer.
type EncryptionPolicy struct {
	Strong map[string]bool
	Weak   map[string]bool
}

// NewEncryptionPolicy builds the policy; empty lists use the defaults.
func NewEncryptionPolicy(strong, weak []string) *EncryptionPolicy {
	if len(strong) == 0 {
		strong = DefaultStrongEncryption
	}
	if len(weak) == 0 {
		weak = DefaultWeakEncryption
	}
	return &EncryptionPolicy{Strong: toSet(strong), Weak: toSet(weak)}
}

func (p *EncryptionPolicy) Name() string  { return "encryption" }
func (p *EncryptionPolicy) Group() string { return GroupSecurity }

func (p *EncryptionPolicy) Evaluate(ctx EvalContext) Result {
	s := ctx.Server
	if s == nil || s.IsVirtual() {
		return skip(p.Name(), "virtual outbound")
	}
	enc := encryptionOf(s)
	if enc == "" {
		return skip(p.Name(), "no encryption metadata")
	}
	if p.Weak[enc] {
		return deny(p.Name(), fmt.Sprintf("weak encryption %q", enc))
	}
	// Strong or unrecognized both pass; forward compatibility over strictness.
	return allow(p.Name(), "")
}

func encryptionOf(s *model.ParsedServer) string {
	for _, key := range []string{"security", "encryption", "method", "cipher"} {
		if v, ok := s.MetaString(key); ok && v != "" {
			return strings.ToLower(v)
		}
	}
	if tls, ok := s.Meta["tls"].(bool); ok && tls {
		return "tls"
	}
	return ""
}

// DefaultAuthMethods are the credential kinds the authentication policy
// recognizes, checked against meta keys.
var DefaultAuthMethods = []string{"password", "uuid", "psk", "certificate"}

// MinCredentialLength is the default floor for credential material.
const MinCredentialLength = 8

// AuthenticationPolicy requires a credential on every concrete server and
// warns when the credential is shorter than the configured floor.
type AuthenticationPolicy struct {
	Methods   []string
	MinLength int
}

// NewAuthenticationPolicy builds the policy with defaults for empty fields.
func NewAuthenticationPolicy(methods []string, minLength int) *AuthenticationPolicy {
	if len(methods) == 0 {
		methods = DefaultAuthMethods
	}
	if minLength <= 0 {
		minLength = MinCredentialLength
	}
	return &AuthenticationPolicy{Methods: methods, MinLength: minLength}
}

func (p *AuthenticationPolicy) Name() string  { return "authentication" }
func (p *AuthenticationPolicy) Group() string { return GroupSecurity }

func (p *AuthenticationPolicy) Evaluate(ctx EvalContext) Result {
	s := ctx.Server
	if s == nil || s.IsVirtual() {
		return skip(p.Name(), "virtual outbound")
	}
	for _, method := range p.Methods {
		cred, ok := s.MetaString(method)
		if !ok || cred == "" {
			continue
		}
		if len(cred) < p.MinLength {
			return warn(p.Name(), fmt.Sprintf("%s shorter than %d characters", method, p.MinLength))
		}
		return allow(p.Name(), "")
	}
	return deny(p.Name(), "no credential present")
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}
