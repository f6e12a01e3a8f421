package parse

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

var uriSchemes = []string{"ss://", "vmess://", "vless://", "trojan://", "hysteria2://", "tuic://"}

// URIListParser decodes one proxy URI per line. Blank lines and lines starting
// with '#' are skipped.
type URIListParser struct{}

// NewURIListParser constructs the parser.
func NewURIListParser() *URIListParser { return &URIListParser{} }

// Name implements Parser.
func (p *URIListParser) Name() string { return "uri-list" }

// Detect implements Parser: the share of non-empty lines carrying a known
// proxy scheme.
func (p *URIListParser) Detect(prefix []byte) float64 {
	lines := strings.Split(string(prefix), "\n")
	total, matched := 0, 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		total++
		for _, scheme := range uriSchemes {
			if strings.HasPrefix(line, scheme) {
				matched++
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total) * 0.95
}

// Parse implements Parser.
func (p *URIListParser) Parse(data []byte) ([]model.ParsedServer, []error) {
	var servers []model.ParsedServer
	var errs []error

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		server, err := ParseURI(line)
		if err != nil {
			errs = append(errs, sboxerrors.NewParseError("uri-list", i+1, err))
			continue
		}
		servers = append(servers, server)
	}
	return servers, errs
}

// ParseURI decodes a single proxy URI of any supported scheme.
func ParseURI(raw string) (model.ParsedServer, error) {
	switch {
	case strings.HasPrefix(raw, "ss://"):
		return parseShadowsocksURI(raw)
	case strings.HasPrefix(raw, "vmess://"):
		return parseVMessURI(raw)
	case strings.HasPrefix(raw, "vless://"):
		return parseUserinfoURI(raw, model.ProtocolVLESS, "uuid")
	case strings.HasPrefix(raw, "trojan://"):
		return parseUserinfoURI(raw, model.ProtocolTrojan, "password")
	case strings.HasPrefix(raw, "hysteria2://"):
		return parseUserinfoURI(raw, model.ProtocolHysteria2, "password")
	case strings.HasPrefix(raw, "tuic://"):
		return parseTUICURI(raw)
	}
	return model.ParsedServer{}, fmt.Errorf("unrecognised proxy scheme in %q", schemeOf(raw))
}

func schemeOf(raw string) string {
	if idx := strings.Index(raw, "://"); idx > 0 {
		return raw[:idx]
	}
	return raw
}

// parseUserinfoURI handles the vless/trojan/hysteria2 family:
// scheme://credential@host:port?params#name
func parseUserinfoURI(raw, protocol, credentialKey string) (model.ParsedServer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return model.ParsedServer{}, err
	}
	port, err := portOf(u)
	if err != nil {
		return model.ParsedServer{}, err
	}

	server := model.ParsedServer{
		Protocol: protocol,
		Address:  u.Hostname(),
		Port:     port,
	}
	if u.User != nil {
		server.SetMeta(credentialKey, u.User.Username())
	}
	applyQuery(&server, u.Query())
	if u.Fragment != "" {
		server.SetMeta(model.MetaName, u.Fragment)
	}
	return server, nil
}

func parseTUICURI(raw string) (model.ParsedServer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return model.ParsedServer{}, err
	}
	port, err := portOf(u)
	if err != nil {
		return model.ParsedServer{}, err
	}

	server := model.ParsedServer{
		Protocol: model.ProtocolTUIC,
		Address:  u.Hostname(),
		Port:     port,
	}
	if u.User != nil {
		server.SetMeta("uuid", u.User.Username())
		if pw, ok := u.User.Password(); ok {
			server.SetMeta("password", pw)
		}
	}
	applyQuery(&server, u.Query())
	if u.Fragment != "" {
		server.SetMeta(model.MetaName, u.Fragment)
	}
	return server, nil
}

// parseShadowsocksURI handles both URI forms:
//
//	ss://base64(method:password)@host:port#name
//	ss://base64(method:password@host:port)#name
func parseShadowsocksURI(raw string) (model.ParsedServer, error) {
	body := strings.TrimPrefix(raw, "ss://")

	name := ""
	if idx := strings.Index(body, "#"); idx >= 0 {
		frag, err := url.PathUnescape(body[idx+1:])
		if err != nil {
			frag = body[idx+1:]
		}
		name = frag
		body = body[:idx]
	}

	query := url.Values{}
	if idx := strings.Index(body, "?"); idx >= 0 {
		parsed, err := url.ParseQuery(body[idx+1:])
		if err == nil {
			query = parsed
		}
		body = body[:idx]
	}

	var method, password, hostport string
	if idx := strings.LastIndex(body, "@"); idx >= 0 {
		userinfo := body[:idx]
		hostport = body[idx+1:]
		decoded, err := decodeBase64Loose(userinfo)
		if err != nil {
			// Plain (possibly percent-encoded) method:password.
			unescaped, uerr := url.PathUnescape(userinfo)
			if uerr != nil {
				return model.ParsedServer{}, fmt.Errorf("shadowsocks userinfo: %w", err)
			}
			decoded = []byte(unescaped)
		}
		method, password, err = splitMethodPassword(string(decoded))
		if err != nil {
			return model.ParsedServer{}, err
		}
	} else {
		decoded, err := decodeBase64Loose(body)
		if err != nil {
			return model.ParsedServer{}, fmt.Errorf("shadowsocks body: %w", err)
		}
		idx := strings.LastIndex(string(decoded), "@")
		if idx < 0 {
			return model.ParsedServer{}, fmt.Errorf("shadowsocks uri missing host")
		}
		hostport = string(decoded)[idx+1:]
		var serr error
		method, password, serr = splitMethodPassword(string(decoded)[:idx])
		if serr != nil {
			return model.ParsedServer{}, serr
		}
	}

	host, portStr, err := splitHostPort(hostport)
	if err != nil {
		return model.ParsedServer{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return model.ParsedServer{}, fmt.Errorf("shadowsocks port %q: %w", portStr, err)
	}
	if err := checkPort(port); err != nil {
		return model.ParsedServer{}, fmt.Errorf("shadowsocks: %w", err)
	}

	server := model.ParsedServer{
		Protocol: model.ProtocolShadowsocks,
		Address:  host,
		Port:     port,
	}
	server.SetMeta("method", method)
	server.SetMeta("password", password)
	applyQuery(&server, query)
	if name != "" {
		server.SetMeta(model.MetaName, name)
	}
	return server, nil
}

func parseVMessURI(raw string) (model.ParsedServer, error) {
	body := strings.TrimPrefix(raw, "vmess://")
	decoded, err := decodeBase64Loose(body)
	if err != nil {
		return model.ParsedServer{}, fmt.Errorf("vmess body: %w", err)
	}

	var fields map[string]any
	if err := decodeTolerantJSON(decoded, &fields); err != nil {
		return model.ParsedServer{}, fmt.Errorf("vmess json: %w", err)
	}
	fields, _ = dropCommentKeys(fields).(map[string]any)

	address, _ := fields["add"].(string)
	port, err := anyPort(fields["port"])
	if err != nil {
		return model.ParsedServer{}, fmt.Errorf("vmess port: %w", err)
	}

	server := model.ParsedServer{
		Protocol: model.ProtocolVMess,
		Address:  address,
		Port:     port,
	}
	for k, v := range fields {
		server.SetMeta(k, v)
	}
	if ps, ok := fields["ps"].(string); ok && ps != "" {
		server.SetMeta(model.MetaName, ps)
	}
	if id, ok := fields["id"].(string); ok {
		server.SetMeta("uuid", id)
	}
	return server, nil
}

func applyQuery(server *model.ParsedServer, query url.Values) {
	for key, values := range query {
		if len(values) == 1 {
			server.SetMeta(key, values[0])
		} else {
			server.SetMeta(key, values)
		}
	}
}

func portOf(u *url.URL) (int, error) {
	portStr := u.Port()
	if portStr == "" {
		return 0, fmt.Errorf("%s uri missing port", u.Scheme)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	return port, checkPort(port)
}

func checkPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

func splitHostPort(hostport string) (string, string, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 || idx == len(hostport)-1 {
		return "", "", fmt.Errorf("missing port in %q", hostport)
	}
	return hostport[:idx], hostport[idx+1:], nil
}

func splitMethodPassword(s string) (string, string, error) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("shadowsocks credential %q missing method", s)
	}
	return s[:idx], s[idx+1:], nil
}

func anyPort(v any) (int, error) {
	var port int
	switch t := v.(type) {
	case float64:
		port = int(t)
	case int:
		port = t
	case int64:
		port = int(t)
	case uint64:
		port = int(t)
	case string:
		p, err := strconv.Atoi(t)
		if err != nil {
			return 0, err
		}
		port = p
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unsupported port type %T", v)
	}
	return port, checkPort(port)
}

// decodeBase64Loose accepts standard and URL-safe alphabets, with or without
// padding, tolerating surrounding whitespace.
func decodeBase64Loose(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		decoded, err := enc.DecodeString(s)
		if err == nil {
			return decoded, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
