package parse

import (
	"bytes"
	"fmt"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// JSONParser decodes structured JSON subscriptions: either a top-level array
// of proxy objects or an object with a "proxies" or "servers" array.
type JSONParser struct{}

// NewJSONParser constructs the parser.
func NewJSONParser() *JSONParser { return &JSONParser{} }

// Name implements Parser.
func (p *JSONParser) Name() string { return "json" }

// Detect implements Parser.
func (p *JSONParser) Detect(prefix []byte) float64 {
	trimmed := bytes.TrimLeft(prefix, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return 0.8
	}
	return 0
}

// Parse implements Parser.
func (p *JSONParser) Parse(data []byte) ([]model.ParsedServer, []error) {
	var root any
	if err := decodeTolerantJSON(data, &root); err != nil {
		return nil, []error{sboxerrors.NewParseError("json", 0, err)}
	}
	root = dropCommentKeys(root)

	records := extractRecords(root)
	if records == nil {
		return nil, []error{sboxerrors.NewParseError("json", 0, fmt.Errorf("no proxy array found"))}
	}

	var servers []model.ParsedServer
	var errs []error
	for i, rec := range records {
		fields, ok := rec.(map[string]any)
		if !ok {
			errs = append(errs, sboxerrors.NewParseError("json", i+1, fmt.Errorf("record is not an object")))
			continue
		}
		server, err := serverFromGenericJSON(fields)
		if err != nil {
			errs = append(errs, sboxerrors.NewParseError("json", i+1, err))
			continue
		}
		servers = append(servers, server)
	}
	return servers, errs
}

func extractRecords(root any) []any {
	switch t := root.(type) {
	case []any:
		return t
	case map[string]any:
		for _, key := range []string{"proxies", "servers", "outbounds"} {
			if arr, ok := t[key].([]any); ok {
				return arr
			}
		}
	}
	return nil
}

// serverFromGenericJSON maps a loosely shaped proxy object onto a
// ParsedServer, preserving every original field in meta. Falsy values
// (mtu=0, keepalive=false) survive verbatim.
func serverFromGenericJSON(fields map[string]any) (model.ParsedServer, error) {
	protocol := firstString(fields, "protocol", "type")
	if protocol == "" {
		return model.ParsedServer{}, fmt.Errorf("record has no protocol")
	}
	address := firstString(fields, "address", "server", "add", "host")

	port := 0
	for _, key := range []string{"port", "server_port"} {
		if raw, ok := fields[key]; ok {
			parsed, err := anyPort(raw)
			if err != nil {
				return model.ParsedServer{}, fmt.Errorf("port: %w", err)
			}
			port = parsed
			break
		}
	}

	server := model.ParsedServer{
		Protocol: normalizeProtocol(protocol),
		Address:  address,
		Port:     port,
	}
	for k, v := range fields {
		server.SetMeta(k, v)
	}
	if name := firstString(fields, "name", "ps", "remarks"); name != "" {
		server.SetMeta(model.MetaName, name)
	}
	if tag := firstString(fields, "tag"); tag != "" {
		server.SetMeta(model.MetaTag, tag)
	}
	return server, nil
}

func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func normalizeProtocol(p string) string {
	switch p {
	case "ss":
		return model.ProtocolShadowsocks
	case "socks5":
		return model.ProtocolSOCKS
	default:
		return p
	}
}
