package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// URLOptions configures a URLFetcher.
type URLOptions struct {
	// UserAgent replaces the default. SuppressUserAgent omits the header
	// entirely and wins over UserAgent.
	UserAgent         string
	SuppressUserAgent bool
	Timeout           time.Duration
	BodyCap           int64
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// URLFetcher retrieves subscriptions over http(s) with a hard body cap and
// transparent gzip/deflate decompression.
type URLFetcher struct {
	opts   URLOptions
	client *http.Client
}

// NewURLFetcher builds a URL fetcher, applying defaults for unset options.
func NewURLFetcher(opts URLOptions) *URLFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BodyCap <= 0 {
		opts.BodyCap = DefaultBodyCap
	}
	client := opts.Client
	if client == nil {
		// DisableCompression keeps decompression under the fetcher's
		// control so the cap applies to decoded bytes.
		client = &http.Client{
			Timeout:   opts.Timeout,
			Transport: &http.Transport{DisableCompression: true},
		}
	}
	return &URLFetcher{opts: opts, client: client}
}

// Name implements Fetcher.
func (f *URLFetcher) Name() string { return "url" }

// Fetch implements Fetcher.
func (f *URLFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := CheckScheme(location); err != nil {
		return nil, err
	}
	scheme := SchemeOf(location)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, sboxerrors.NewFetchError(location, 0, err)
	}
	if !f.opts.SuppressUserAgent {
		ua := f.opts.UserAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, sboxerrors.NewFetchError(location, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, sboxerrors.NewFetchError(location, resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	reader, err := decodeBody(resp)
	if err != nil {
		return nil, sboxerrors.NewFetchError(location, 0, err)
	}

	return readCapped(reader, f.opts.BodyCap)
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return gz, nil
	case "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// readCapped reads at most cap bytes. When the source holds more, the prefix
// is returned together with ErrOversize.
func readCapped(r io.Reader, bodyCap int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, bodyCap+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > bodyCap {
		return data[:bodyCap], fmt.Errorf("body exceeds %d bytes: %w", bodyCap, ErrOversize)
	}
	return data, nil
}
