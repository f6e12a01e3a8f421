// Package selector narrows the parsed server list to the servers the user
// asked for, by explicit index, tag or name match, or automatic criteria.
package selector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// Criteria describes one selection. Exactly one of Index, Tags, Names, or
// Auto is meant to be set; an empty Criteria selects every server.
type Criteria struct {
	// Index picks a single server by zero-based position.
	Index *int
	// Tags keeps servers whose normalized tag matches any entry,
	// case-insensitively.
	Tags []string
	// Names keeps servers whose original name (meta.name) matches any
	// entry, case-insensitively.
	Names []string
	// Auto orders the survivors by measured latency, lowest first, so the
	// exporter's primary outbound is the best-performing server.
	Auto bool
}

// Empty reports whether the criteria select everything.
func (c Criteria) Empty() bool {
	return c.Index == nil && len(c.Tags) == 0 && len(c.Names) == 0 && !c.Auto
}

// Select applies the criteria. Virtual outbounds always survive selection so
// a narrow pick cannot strip the direct or urltest plumbing.
func Select(servers []model.ParsedServer, c Criteria) ([]model.ParsedServer, error) {
	if c.Empty() {
		return servers, nil
	}

	if c.Index != nil {
		return selectByIndex(servers, *c.Index)
	}

	out := make([]model.ParsedServer, 0, len(servers))
	for _, s := range servers {
		if s.IsVirtual() || matches(&s, c) {
			out = append(out, s)
		}
	}
	if c.Auto {
		sort.SliceStable(out, func(i, j int) bool {
			return latencyOf(&out[i]) < latencyOf(&out[j])
		})
	}
	if onlyVirtual(out) && !onlyVirtual(servers) {
		return nil, sboxerrors.NewValidationError("selector", "no server matches the selection", nil)
	}
	return out, nil
}

func selectByIndex(servers []model.ParsedServer, index int) ([]model.ParsedServer, error) {
	concrete := make([]model.ParsedServer, 0, len(servers))
	virtual := make([]model.ParsedServer, 0)
	for _, s := range servers {
		if s.IsVirtual() {
			virtual = append(virtual, s)
		} else {
			concrete = append(concrete, s)
		}
	}
	if index < 0 || index >= len(concrete) {
		return nil, sboxerrors.NewValidationError("selector",
			fmt.Sprintf("index %d out of range, have %d servers", index, len(concrete)), nil)
	}
	return append([]model.ParsedServer{concrete[index]}, virtual...), nil
}

func matches(s *model.ParsedServer, c Criteria) bool {
	if c.Auto && len(c.Tags) == 0 && len(c.Names) == 0 {
		return true
	}
	for _, t := range c.Tags {
		if strings.EqualFold(s.Tag, t) {
			return true
		}
	}
	if name, ok := s.MetaString(model.MetaName); ok {
		for _, n := range c.Names {
			if strings.EqualFold(name, n) {
				return true
			}
		}
	}
	return false
}

func latencyOf(s *model.ParsedServer) float64 {
	if l, ok := s.MetaFloat(model.MetaLatencyMS); ok {
		return l
	}
	// Unmeasured servers sort last.
	return 1 << 30
}

func onlyVirtual(servers []model.ParsedServer) bool {
	for _, s := range servers {
		if !s.IsVirtual() {
			return false
		}
	}
	return true
}
