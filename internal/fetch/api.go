package fetch

import (
	"context"
	"net/http"
)

// APIFetcher is the URL fetcher plus a bearer token. The token is attached to
// the request and nowhere else; it never reaches logs or error messages.
type APIFetcher struct {
	inner *URLFetcher
	token string
}

// NewAPIFetcher builds a token-authenticated fetcher.
func NewAPIFetcher(token string, opts URLOptions) *APIFetcher {
	base := opts.Client
	if base == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		base = &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{DisableCompression: true},
		}
	}
	opts.Client = &http.Client{
		Timeout:   base.Timeout,
		Transport: &bearerTransport{token: token, next: transportOf(base)},
	}
	return &APIFetcher{inner: NewURLFetcher(opts), token: token}
}

// Name implements Fetcher.
func (f *APIFetcher) Name() string { return "api" }

// Fetch implements Fetcher.
func (f *APIFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	return f.inner.Fetch(ctx, location)
}

type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(clone)
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}
