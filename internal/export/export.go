// Package export renders the selected server set plus routing into a
// target-engine document. Exporters are deterministic: identical inputs
// produce byte-identical output.
package export

import (
	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// Input bundles everything an exporter consumes.
type Input struct {
	Servers []model.ParsedServer
	Routes  *model.RouteSet
	Client  *model.ClientProfile
	Context *pipeline.Context
}

// Result is the rendered document plus any per-server warnings the exporter
// raised while skipping records it cannot express.
type Result struct {
	Document []byte
	Warnings []string
}

// Exporter renders one target format.
type Exporter interface {
	Name() string
	Export(in Input) (*Result, error)
}

// Format tokens accepted on the command line and in profiles.
const (
	FormatSingbox       = "singbox"
	FormatSingboxLegacy = "singbox-legacy"
	FormatClash         = "clash"
)

// ByName resolves a format token to an exporter; unknown tokens yield nil.
func ByName(name string) Exporter {
	switch name {
	case FormatSingbox, "":
		return NewSingbox(false)
	case FormatSingboxLegacy:
		return NewSingbox(true)
	case FormatClash:
		return NewClash()
	}
	return nil
}

// annotationKeys are pipeline-internal meta entries that never belong in an
// exported document.
var annotationKeys = map[string]bool{
	model.MetaName:         true,
	model.MetaTag:          true,
	model.MetaCountry:      true,
	model.MetaGeo:          true,
	model.MetaLatencyMS:    true,
	model.MetaHighLatency:  true,
	model.MetaTags:         true,
	model.MetaOriginalName: true,
	model.MetaOriginalTag:  true,
	model.MetaWarnings:     true,
	model.MetaSourceID:     true,
	model.MetaSourcePrio:   true,
}

// exportableMeta copies a server's meta minus pipeline annotations.
func exportableMeta(s *model.ParsedServer) map[string]any {
	out := make(map[string]any, len(s.Meta))
	for k, v := range s.Meta {
		if !annotationKeys[k] {
			out[k] = v
		}
	}
	return out
}

// concrete filters out virtual outbounds and the client profile's excluded
// types, preserving input order.
func concrete(servers []model.ParsedServer, client *model.ClientProfile) []model.ParsedServer {
	out := make([]model.ParsedServer, 0, len(servers))
	for _, s := range servers {
		if s.IsVirtual() || client.Excludes(s.Protocol) {
			continue
		}
		out = append(out, s)
	}
	return out
}
