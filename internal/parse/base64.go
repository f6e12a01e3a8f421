package parse

import (
	"fmt"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// maxBase64Depth bounds recursive delegation for nested base64 payloads.
const maxBase64Depth = 4

// Base64Parser decodes a base64 document and delegates the decoded content to
// the best-matching parser.
type Base64Parser struct {
	depth int
}

// NewBase64Parser constructs the parser.
func NewBase64Parser() *Base64Parser { return &Base64Parser{} }

// Name implements Parser.
func (p *Base64Parser) Name() string { return "base64" }

// Detect implements Parser: every character must belong to a base64 alphabet
// and the prefix must actually decode.
func (p *Base64Parser) Detect(prefix []byte) float64 {
	trimmed := 0
	for _, c := range prefix {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '-', c == '_':
		case c == '\n', c == '\r', c == ' ', c == '\t':
			continue
		default:
			return 0
		}
		trimmed++
	}
	if trimmed < 16 {
		return 0
	}
	return 0.9
}

// Parse implements Parser.
func (p *Base64Parser) Parse(data []byte) ([]model.ParsedServer, []error) {
	if p.depth >= maxBase64Depth {
		return nil, []error{sboxerrors.NewParseError("base64", 0, fmt.Errorf("nesting too deep"))}
	}

	decoded, err := decodeBase64Loose(string(data))
	if err != nil {
		return nil, []error{sboxerrors.NewParseError("base64", 0, err)}
	}

	inner := []Parser{
		&Base64Parser{depth: p.depth + 1},
		NewSingboxParser(),
		NewJSONParser(),
		NewClashParser(),
		NewURIListParser(),
	}
	delegate, err := Detect(inner, decoded)
	if err != nil {
		return nil, []error{sboxerrors.NewParseError("base64", 0, err)}
	}
	return delegate.Parse(decoded)
}
