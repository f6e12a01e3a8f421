package parse

import (
	"fmt"

	"github.com/kpblcaoo/sboxmgr/internal/model"
)

// Parser turns raw subscription bytes into servers. Parsers are pure functions
// of their input: no I/O, no retained state. Per-record failures are collected
// and the partial server list is returned, so one corrupt record never sinks a
// subscription.
//
// Parsers preserve the original name/tag verbatim in meta and never assign the
// Tag field; canonical tags are the tag-normalization middleware's job.
type Parser interface {
	// Name is the format token usable as a --format override.
	Name() string
	// Detect returns the probability [0,1] that the payload is this
	// parser's format, judged from a bounded prefix.
	Detect(prefix []byte) float64
	// Parse decodes the payload.
	Parse(data []byte) ([]model.ParsedServer, []error)
}

// DetectPrefix bounds how much of the payload format detection examines.
const DetectPrefix = 4096

// Default returns the built-in parser chain in detection order:
// base64, json, clash yaml, sing-box native, uri list.
func Default() []Parser {
	return []Parser{
		NewBase64Parser(),
		NewSingboxParser(),
		NewJSONParser(),
		NewClashParser(),
		NewURIListParser(),
	}
}

// Detect picks the highest-probability parser for the payload. Ties resolve
// in chain order. A zero best probability means no parser claims the payload.
func Detect(parsers []Parser, data []byte) (Parser, error) {
	prefix := data
	if len(prefix) > DetectPrefix {
		prefix = prefix[:DetectPrefix]
	}

	var best Parser
	bestScore := 0.0
	for _, p := range parsers {
		if score := p.Detect(prefix); score > bestScore {
			best = p
			bestScore = score
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no parser recognises the payload")
	}
	return best, nil
}

// ByName finds a parser for an explicit format override.
func ByName(parsers []Parser, name string) (Parser, error) {
	for _, p := range parsers {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown format: %s", name)
}
