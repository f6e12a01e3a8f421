package postprocess

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// TagFilter whitelists or blacklists servers by tag tokens. Patterns are glob
// expressions; the token source is the union of the tag itself, meta.tags, and
// the tag split on '-', '_', and whitespace.
type TagFilter struct {
	whitelist     []glob.Glob
	blacklist     []glob.Glob
	caseSensitive bool
}

// NewTagFilter compiles the pattern lists. Invalid patterns are a construction
// error so a typo surfaces at profile load, not mid-pipeline.
func NewTagFilter(whitelist, blacklist []string, caseSensitive bool) (*TagFilter, error) {
	compile := func(patterns []string) ([]glob.Glob, error) {
		out := make([]glob.Glob, 0, len(patterns))
		for _, p := range patterns {
			if !caseSensitive {
				p = strings.ToLower(p)
			}
			g, err := glob.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("tag pattern %q: %w", p, err)
			}
			out = append(out, g)
		}
		return out, nil
	}

	wl, err := compile(whitelist)
	if err != nil {
		return nil, err
	}
	bl, err := compile(blacklist)
	if err != nil {
		return nil, err
	}
	return &TagFilter{whitelist: wl, blacklist: bl, caseSensitive: caseSensitive}, nil
}

// Name implements Processor.
func (p *TagFilter) Name() string { return "tag-filter" }

// MergeRule implements Processor.
func (p *TagFilter) MergeRule() MergeRule { return MergeIntersect }

// Process implements Processor.
func (p *TagFilter) Process(_ context.Context, _ *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	out := make([]model.ParsedServer, 0, len(servers))
	for _, s := range servers {
		tokens := p.tokensOf(&s)
		if len(p.blacklist) > 0 && matchAny(p.blacklist, tokens) {
			continue
		}
		if len(p.whitelist) > 0 && !matchAny(p.whitelist, tokens) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *TagFilter) tokensOf(s *model.ParsedServer) []string {
	var tokens []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if !p.caseSensitive {
			t = strings.ToLower(t)
		}
		tokens = append(tokens, t)
	}

	add(s.Tag)
	switch metaTags := s.Meta[model.MetaTags].(type) {
	case []string:
		for _, t := range metaTags {
			add(t)
		}
	case []any:
		for _, t := range metaTags {
			if str, ok := t.(string); ok {
				add(str)
			}
		}
	}
	for _, t := range strings.FieldsFunc(s.Tag, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '\t'
	}) {
		add(t)
	}
	return tokens
}

func matchAny(patterns []glob.Glob, tokens []string) bool {
	for _, g := range patterns {
		for _, t := range tokens {
			if g.Match(t) {
				return true
			}
		}
	}
	return false
}
