// Package profile defines the user-facing configuration document driving a
// pipeline run: subscription sources, filters, routing, export target, plugin
// chains, and agent integration.
package profile

import (
	"gopkg.in/yaml.v3"

	"github.com/kpblcaoo/sboxmgr/internal/model"
)

// FullProfile is one named configuration document.
type FullProfile struct {
	Name          string                     `yaml:"name,omitempty" json:"name,omitempty" toml:"name,omitempty" validate:"omitempty,profile_name"`
	Subscriptions []model.SubscriptionSource `yaml:"subscriptions" json:"subscriptions" toml:"subscriptions" validate:"required,min=1,dive"`

	// Dir is the directory the profile file was loaded from. Relative file
	// subscription paths resolve against it and may not escape it; empty
	// confines them to the working directory.
	Dir string `yaml:"-" json:"-" toml:"-"`

	Filters        FilterSection     `yaml:"filters,omitempty" json:"filters,omitempty" toml:"filters,omitempty"`
	Routing        RoutingSection    `yaml:"routing,omitempty" json:"routing,omitempty" toml:"routing,omitempty"`
	Export         ExportSection     `yaml:"export,omitempty" json:"export,omitempty" toml:"export,omitempty"`
	Middleware     []ComponentConfig `yaml:"middleware,omitempty" json:"middleware,omitempty" toml:"middleware,omitempty" validate:"omitempty,dive"`
	Postprocessors []ComponentConfig `yaml:"postprocessors,omitempty" json:"postprocessors,omitempty" toml:"postprocessors,omitempty" validate:"omitempty,dive"`
	Policies       []ComponentConfig `yaml:"policies,omitempty" json:"policies,omitempty" toml:"policies,omitempty" validate:"omitempty,dive"`
	Agent          AgentSection      `yaml:"agent,omitempty" json:"agent,omitempty" toml:"agent,omitempty"`
	Metadata       MetadataSection   `yaml:"metadata,omitempty" json:"metadata,omitempty" toml:"metadata,omitempty"`
}

// FilterSection narrows the server set before selection.
type FilterSection struct {
	ExcludeTags []string `yaml:"exclude_tags,omitempty" json:"exclude_tags,omitempty" toml:"exclude_tags,omitempty"`
	OnlyTags    []string `yaml:"only_tags,omitempty" json:"only_tags,omitempty" toml:"only_tags,omitempty"`
	// Exclusions points at the exclusion store file; empty uses the default.
	Exclusions string `yaml:"exclusions,omitempty" json:"exclusions,omitempty" toml:"exclusions,omitempty"`
}

// RoutingSection configures the routing stage.
type RoutingSection struct {
	BySource     map[string]string `yaml:"by_source,omitempty" json:"by_source,omitempty" toml:"by_source,omitempty"`
	DefaultRoute string            `yaml:"default_route,omitempty" json:"default_route,omitempty" toml:"default_route,omitempty"`
	CustomRoutes []string          `yaml:"custom_routes,omitempty" json:"custom_routes,omitempty" toml:"custom_routes,omitempty"`
	Final        string            `yaml:"final,omitempty" json:"final,omitempty" toml:"final,omitempty"`
}

// ExportSection selects the output document and its destination.
type ExportSection struct {
	Format     string          `yaml:"format,omitempty" json:"format,omitempty" toml:"format,omitempty" validate:"omitempty,oneof=singbox singbox-legacy clash"`
	OutputFile string          `yaml:"output_file,omitempty" json:"output_file,omitempty" toml:"output_file,omitempty"`
	Inbounds   []model.Inbound `yaml:"inbounds,omitempty" json:"inbounds,omitempty" toml:"inbounds,omitempty" validate:"omitempty,dive"`
	// ExcludeOutbounds lists protocol types kept out of the document.
	ExcludeOutbounds []string `yaml:"exclude_outbounds,omitempty" json:"exclude_outbounds,omitempty" toml:"exclude_outbounds,omitempty"`
	DNSMode          string   `yaml:"dns_mode,omitempty" json:"dns_mode,omitempty" toml:"dns_mode,omitempty"`
}

// ClientProfile derives the exporter-facing view of the export section.
func (s *ExportSection) ClientProfile() *model.ClientProfile {
	return &model.ClientProfile{
		Inbounds:         s.Inbounds,
		FinalRoute:       "",
		ExcludeOutbounds: s.ExcludeOutbounds,
		DNSMode:          s.DNSMode,
	}
}

// ComponentConfig declares one middleware, postprocessor, or policy by
// registry name plus its free-form configuration.
type ComponentConfig struct {
	Name   string         `yaml:"name" json:"name" toml:"name" validate:"required,component_name"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty" toml:"config,omitempty"`
}

// AgentSection configures the optional sboxagent integration.
type AgentSection struct {
	Enabled        bool   `yaml:"enabled,omitempty" json:"enabled,omitempty" toml:"enabled,omitempty"`
	SocketPath     string `yaml:"socket_path,omitempty" json:"socket_path,omitempty" toml:"socket_path,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty" validate:"omitempty,min=1"`
}

// MetadataSection carries bookkeeping the pipeline reads and rewrites:
// component versions, the last run timestamp, and per-URL content hashes.
// Sibling keys it does not recognize are kept and written back verbatim.
type MetadataSection struct {
	Versions    map[string]string `yaml:"versions,omitempty" json:"versions,omitempty" toml:"versions,omitempty"`
	Timestamp   string            `yaml:"timestamp,omitempty" json:"timestamp,omitempty" toml:"timestamp,omitempty"`
	CacheHashes map[string]string `yaml:"cache_hashes,omitempty" json:"cache_hashes,omitempty" toml:"cache_hashes,omitempty"`

	Extra map[string]any `yaml:"-" json:"-" toml:"-"`
}

// metadataKnownKeys are the fields decoded into typed members.
var metadataKnownKeys = map[string]bool{"versions": true, "timestamp": true, "cache_hashes": true}

// UnmarshalYAML decodes the known fields and retains unknown siblings.
func (m *MetadataSection) UnmarshalYAML(value *yaml.Node) error {
	type known struct {
		Versions    map[string]string `yaml:"versions"`
		Timestamp   string            `yaml:"timestamp"`
		CacheHashes map[string]string `yaml:"cache_hashes"`
	}
	var k known
	if err := value.Decode(&k); err != nil {
		return err
	}
	var all map[string]any
	if err := value.Decode(&all); err != nil {
		return err
	}

	m.Versions = k.Versions
	m.Timestamp = k.Timestamp
	m.CacheHashes = k.CacheHashes
	for key, v := range all {
		if !metadataKnownKeys[key] {
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[key] = v
		}
	}
	return nil
}

// MarshalYAML writes the typed fields plus retained siblings.
func (m MetadataSection) MarshalYAML() (any, error) {
	out := make(map[string]any, 3+len(m.Extra))
	if len(m.Versions) > 0 {
		out["versions"] = m.Versions
	}
	if m.Timestamp != "" {
		out["timestamp"] = m.Timestamp
	}
	if len(m.CacheHashes) > 0 {
		out["cache_hashes"] = m.CacheHashes
	}
	for key, v := range m.Extra {
		out[key] = v
	}
	return out, nil
}
