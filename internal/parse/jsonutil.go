package parse

import (
	"strings"

	"github.com/goccy/go-json"
)

// decodeTolerantJSON accepts the JSON dialect found in the wild in
// subscription documents: // and /* */ comments, trailing commas, and
// "_comment" keys. Comments and trailing commas are stripped before decoding;
// _comment keys are removed from the result.
func decodeTolerantJSON(data []byte, out any) error {
	cleaned := stripJSONComments(data)
	cleaned = stripTrailingCommas(cleaned)
	return json.Unmarshal(cleaned, out)
}

func stripJSONComments(data []byte) []byte {
	var out []byte
	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			out = append(out, c)
		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out = append(out, '\n')
			}
		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			i++
		default:
			out = append(out, c)
		}
	}
	return out
}

func stripTrailingCommas(data []byte) []byte {
	var out []byte
	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(data) && (data[j] == ' ' || data[j] == '\t' || data[j] == '\n' || data[j] == '\r') {
				j++
			}
			if j < len(data) && (data[j] == '}' || data[j] == ']') {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// dropCommentKeys removes "_comment" entries, recursively.
func dropCommentKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if strings.HasPrefix(k, "_comment") {
				delete(t, k)
				continue
			}
			t[k] = dropCommentKeys(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = dropCommentKeys(val)
		}
		return t
	default:
		return v
	}
}
