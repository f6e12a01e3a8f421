package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func TestCheckScheme(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckScheme("https://example.com/sub"))
	require.NoError(t, CheckScheme("http://example.com/sub"))
	require.NoError(t, CheckScheme("file:///tmp/sub.txt"))
	require.NoError(t, CheckScheme("relative/path.txt"))

	err := CheckScheme("ftp://example.com/sub")
	require.EqualError(t, err, "unsupported scheme: ftp")
}

func TestURLFetcherUserAgent(t *testing.T) {
	t.Parallel()

	var gotUA string
	var uaPresent bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, uaPresent = r.Header["User-Agent"]
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewURLFetcher(URLOptions{})
	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), body)
	require.Equal(t, DefaultUserAgent, gotUA)

	custom := NewURLFetcher(URLOptions{UserAgent: "sboxmgr/1.0"})
	_, err = custom.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "sboxmgr/1.0", gotUA)

	suppressed := NewURLFetcher(URLOptions{SuppressUserAgent: true})
	_, err = suppressed.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.False(t, uaPresent)
}

func TestURLFetcherStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewURLFetcher(URLOptions{})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorContains(t, err, "HTTP 502")
}

func TestURLFetcherOversize(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("a"), 1025)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	f := NewURLFetcher(URLOptions{BodyCap: 1024})
	body, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrOversize)
	require.Len(t, body, 1024)
}

func TestURLFetcherGzip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("compressed payload"))
		gz.Close()
	}))
	defer srv.Close()

	f := NewURLFetcher(URLOptions{})
	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "compressed payload", string(body))
}

func TestURLFetcherRejectsNonHTTP(t *testing.T) {
	t.Parallel()

	f := NewURLFetcher(URLOptions{})
	_, err := f.Fetch(context.Background(), "file:///etc/passwd")
	require.ErrorContains(t, err, "unsupported scheme: file")
}

func TestAPIFetcherBearerToken(t *testing.T) {
	t.Parallel()

	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewAPIFetcher("sekrit-token", URLOptions{})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Bearer sekrit-token", auth)
}

func TestFileFetcherReadsWithinBase(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	path := filepath.Join(base, "sub.txt")
	require.NoError(t, os.WriteFile(path, []byte("servers"), 0o644))

	f, err := NewFileFetcher(base, 0)
	require.NoError(t, err)

	body, err := f.Fetch(context.Background(), "sub.txt")
	require.NoError(t, err)
	require.Equal(t, "servers", string(body))

	body, err = f.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	require.Equal(t, "servers", string(body))
}

func TestFileFetcherRefusesEscape(t *testing.T) {
	t.Parallel()

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))

	base := t.TempDir()
	link := filepath.Join(base, "link.txt")
	require.NoError(t, os.Symlink(secret, link))

	f, err := NewFileFetcher(base, 0)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), secret)
	require.ErrorContains(t, err, "escapes base directory")

	_, err = f.Fetch(context.Background(), "link.txt")
	require.ErrorContains(t, err, "escapes base directory")
}

func TestCache(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	key := Key("url", "https://example.com/sub", DefaultUserAgent, nil)

	_, ok := cache.Get(key, false)
	require.False(t, ok)

	cache.Put(key, []byte("body"))
	body, ok := cache.Get(key, false)
	require.True(t, ok)
	require.Equal(t, "body", string(body))

	_, ok = cache.Get(key, true)
	require.False(t, ok, "force reload bypasses the read")

	withHeaders := Key("url", "https://example.com/sub", DefaultUserAgent, map[string]string{"X-A": "1"})
	require.NotEqual(t, key, withHeaders)
}

func TestReadCappedErrors(t *testing.T) {
	t.Parallel()

	_, err := readCapped(strings.NewReader("1234567890"), 5)
	require.True(t, errors.Is(err, ErrOversize))
}

func TestValidateRawBody(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateRawBody([]byte("vless://uuid@host:443#tag\n")))
	require.NoError(t, ValidateRawBody([]byte("🇳🇱 unicode is fine")))

	require.ErrorContains(t, ValidateRawBody(nil), "empty body")
	require.ErrorContains(t, ValidateRawBody([]byte("abc\x00def")), "NUL")
	require.ErrorContains(t, ValidateRawBody([]byte{0xff, 0xfe, 0x41}), "not valid UTF-8")

	// Only the prefix window is inspected; junk past it is a parser problem.
	tail := append(bytes.Repeat([]byte("a"), rawCheckWindow), 0x00)
	require.NoError(t, ValidateRawBody(tail))
}
