package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults applied when the profile does not override them.
const (
	DefaultBodyCap   = 2 << 20 // 2 MiB
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "ClashMeta/1.0"
)

// ErrOversize marks a body that exceeded the configured cap. The fetcher
// returns the truncated prefix alongside this error; the pipeline treats the
// fetch as empty and records a recoverable error.
var ErrOversize = errors.New("oversize")

// Fetcher retrieves the raw bytes of one subscription source.
type Fetcher interface {
	// Name identifies the fetcher for cache keys and diagnostics.
	Name() string
	// Fetch returns the raw document. Implementations honour ctx deadlines
	// and never return more than the configured cap.
	Fetch(ctx context.Context, location string) ([]byte, error)
}

var allowedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"file":  {},
}

// CheckScheme enforces the scheme whitelist for URL-bearing sources before any
// I/O happens. Bare paths (no scheme) are treated as file locations and pass.
func CheckScheme(location string) error {
	idx := strings.Index(location, "://")
	if idx < 0 {
		return nil
	}
	scheme := strings.ToLower(location[:idx])
	if _, ok := allowedSchemes[scheme]; !ok {
		return fmt.Errorf("unsupported scheme: %s", scheme)
	}
	return nil
}

// SchemeOf returns the lowercase scheme of a location, or "file" for bare
// paths.
func SchemeOf(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}
