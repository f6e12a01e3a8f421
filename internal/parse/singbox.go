package parse

import (
	"bytes"
	"fmt"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// SingboxParser extracts the outbounds array from a sing-box native document.
// Virtual outbounds (direct, block, urltest, ...) are preserved so exported
// documents re-parse into an equivalent server set.
type SingboxParser struct{}

// NewSingboxParser constructs the parser.
func NewSingboxParser() *SingboxParser { return &SingboxParser{} }

// Name implements Parser.
func (p *SingboxParser) Name() string { return "singbox" }

// Detect implements Parser: a JSON object carrying an "outbounds" key.
func (p *SingboxParser) Detect(prefix []byte) float64 {
	trimmed := bytes.TrimLeft(prefix, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return 0
	}
	if bytes.Contains(prefix, []byte(`"outbounds"`)) {
		return 0.92
	}
	return 0
}

// Parse implements Parser.
func (p *SingboxParser) Parse(data []byte) ([]model.ParsedServer, []error) {
	var doc struct {
		Outbounds []map[string]any `json:"outbounds"`
	}
	if err := decodeTolerantJSON(data, &doc); err != nil {
		return nil, []error{sboxerrors.NewParseError("singbox", 0, err)}
	}
	if doc.Outbounds == nil {
		return nil, []error{sboxerrors.NewParseError("singbox", 0, fmt.Errorf("no outbounds array"))}
	}

	var servers []model.ParsedServer
	var errs []error
	for i, outbound := range doc.Outbounds {
		fields, _ := dropCommentKeys(outbound).(map[string]any)
		server, err := serverFromGenericJSON(fields)
		if err != nil {
			errs = append(errs, sboxerrors.NewParseError("singbox", i+1, err))
			continue
		}
		servers = append(servers, server)
	}
	return servers, errs
}
