package middleware

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// TagMaxGraphemes caps the length of a normalized tag.
const TagMaxGraphemes = 64

// TagNormalize assigns each server its single canonical display tag. The
// candidate chain is meta.name, meta.tag, the pre-existing Tag field,
// "<protocol>-<address>", then "<protocol>-<ordinal>". Duplicates within one
// invocation get "#2", "#3", ... suffixes in stable order. Original name/tag
// values are kept under meta so consumers can recover them.
type TagNormalize struct{}

// NewTagNormalize constructs the middleware.
func NewTagNormalize() *TagNormalize { return &TagNormalize{} }

// Name implements Middleware.
func (m *TagNormalize) Name() string { return "tag-normalize" }

// Process implements Middleware. Running it twice is a no-op: the first pass
// records originals in meta and the second pass reproduces identical tags.
func (m *TagNormalize) Process(_ context.Context, _ *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	out := make([]model.ParsedServer, len(servers))
	seen := make(map[string]int, len(servers))

	for i, server := range servers {
		s := server.Clone()
		base := candidateTag(&s, i)
		tag := base
		if n := seen[base]; n > 0 {
			tag = fmt.Sprintf("%s#%d", base, n+1)
		}
		seen[base]++

		if orig, ok := s.MetaString(model.MetaName); ok {
			s.SetMeta(model.MetaOriginalName, orig)
		}
		if orig, ok := s.MetaString(model.MetaTag); ok {
			s.SetMeta(model.MetaOriginalTag, orig)
		}
		s.Tag = tag
		out[i] = s
	}
	return out, nil
}

func candidateTag(s *model.ParsedServer, ordinal int) string {
	if name, ok := s.MetaString(model.MetaName); ok {
		if cleaned := SanitizeTag(name); cleaned != "" {
			return cleaned
		}
	}
	if tag, ok := s.MetaString(model.MetaTag); ok {
		if cleaned := SanitizeTag(tag); cleaned != "" {
			return cleaned
		}
	}
	if cleaned := SanitizeTag(s.Tag); cleaned != "" {
		return cleaned
	}
	if s.Address != "" {
		return SanitizeTag(s.Protocol + "-" + s.Address)
	}
	return fmt.Sprintf("%s-%d", s.Protocol, ordinal+1)
}

// SanitizeTag strips control characters, collapses internal whitespace, trims,
// preserves Unicode, and caps the result at TagMaxGraphemes grapheme clusters.
func SanitizeTag(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	collapsed := strings.Join(strings.Fields(b.String()), " ")

	if uniseg.GraphemeClusterCount(collapsed) <= TagMaxGraphemes {
		return collapsed
	}
	gr := uniseg.NewGraphemes(collapsed)
	var out strings.Builder
	for i := 0; i < TagMaxGraphemes && gr.Next(); i++ {
		out.WriteString(gr.Str())
	}
	return strings.TrimSpace(out.String())
}
