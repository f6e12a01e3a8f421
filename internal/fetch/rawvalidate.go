package fetch

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// rawCheckWindow bounds how much of a body the raw validator inspects. Every
// supported payload encoding is textual, so sampling the prefix is enough to
// reject binary garbage before a parser wastes time on it.
const rawCheckWindow = 4096

// ValidateRawBody rejects bodies that cannot possibly hold a supported
// subscription encoding: empty input, NUL bytes, and non-UTF-8 prefixes. It
// runs between fetch and format detection.
func ValidateRawBody(body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("empty body")
	}

	window := body
	if len(window) > rawCheckWindow {
		window = window[:rawCheckWindow]
	}
	if bytes.IndexByte(window, 0) >= 0 {
		return fmt.Errorf("body contains NUL bytes, not a text subscription")
	}

	// A truncated multi-byte rune at the window edge is fine; only reject
	// when the prefix proper is invalid.
	for len(window) > 0 {
		r, size := utf8.DecodeRune(window)
		if r == utf8.RuneError && size == 1 {
			if len(window) < utf8.UTFMax && len(body) > rawCheckWindow {
				break
			}
			return fmt.Errorf("body is not valid UTF-8")
		}
		window = window[size:]
	}
	return nil
}
