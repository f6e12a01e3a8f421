package model

import "sort"

// SubscriptionSource identifies one remote or local subscription document.
// Identity is ID; URL may carry an http(s) or file scheme, or Path may point
// at a local file directly.
type SubscriptionSource struct {
	ID          string   `yaml:"id" json:"id" toml:"id" validate:"required"`
	URL         string   `yaml:"url,omitempty" json:"url,omitempty" toml:"url,omitempty"`
	Path        string   `yaml:"path,omitempty" json:"path,omitempty" toml:"path,omitempty"`
	Type        string   `yaml:"type,omitempty" json:"type,omitempty" toml:"type,omitempty"`
	Enabled     bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	Priority    int      `yaml:"priority,omitempty" json:"priority,omitempty" toml:"priority,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty" toml:"tags,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty" toml:"description,omitempty"`
}

// Location returns the fetchable location: URL when set, otherwise Path.
func (s SubscriptionSource) Location() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// SortSources orders sources by ascending priority, stable on input order for
// equal priorities, which is the merge order when a profile lists multiple
// subscriptions.
func SortSources(sources []SubscriptionSource) []SubscriptionSource {
	out := make([]SubscriptionSource, len(sources))
	copy(out, sources)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
