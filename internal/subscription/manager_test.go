package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/kpblcaoo/sboxmgr/internal/agent"
	"github.com/kpblcaoo/sboxmgr/internal/event"
	"github.com/kpblcaoo/sboxmgr/internal/exclusions"
	"github.com/kpblcaoo/sboxmgr/internal/fetch"
	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
	"github.com/kpblcaoo/sboxmgr/internal/plugin"
	"github.com/kpblcaoo/sboxmgr/internal/profile"
)

const uriListBody = "vless://0e2d55e1-64a5-4f0a-9d5c-51296885bce1@host1:443?sni=x.example.com#Fast\n" +
	"trojan://pw-long-enough@host2:443#Slow\n"

func subscriptionServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testProfile(url string) *profile.FullProfile {
	return &profile.FullProfile{
		Name: "test",
		Subscriptions: []model.SubscriptionSource{
			{ID: "main", URL: url, Enabled: true, Priority: 1},
		},
		Export: profile.ExportSection{Format: "singbox"},
	}
}

func newManager(p *profile.FullProfile, bus *event.Bus, excl *exclusions.Store) *Manager {
	return NewManager(p, nil, bus, fetch.NewCache(), excl, nil)
}

func decodeArtifact(t *testing.T, artifact []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(artifact, &doc))
	return doc
}

func outboundTags(doc map[string]any) []string {
	var tags []string
	for _, raw := range doc["outbounds"].([]any) {
		tags = append(tags, raw.(map[string]any)["tag"].(string))
	}
	return tags
}

func urltestMembers(t *testing.T, doc map[string]any) []any {
	t.Helper()
	for _, raw := range doc["outbounds"].([]any) {
		outbound := raw.(map[string]any)
		if outbound["type"] == "urltest" {
			return outbound["outbounds"].([]any)
		}
	}
	t.Fatal("no urltest group in document")
	return nil
}

func TestRunModernExport(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, uriListBody)
	m := newManager(testProfile(srv.URL), nil, nil)

	result := m.Run(context.Background(), Options{})
	require.True(t, result.Success)
	require.False(t, result.PartialSuccess)
	require.Empty(t, result.Errors)

	doc := decodeArtifact(t, result.Artifact)
	tags := outboundTags(doc)
	require.Contains(t, tags, "Fast")
	require.Contains(t, tags, "Slow")
	require.NotContains(t, tags, "block")
	require.NotContains(t, tags, "dns-out")
	require.Equal(t, []any{"Fast", "Slow"}, urltestMembers(t, doc))

	route := doc["route"].(map[string]any)
	require.Equal(t, "auto", route["final"])
	rule := route["rules"].([]any)[0].(map[string]any)
	require.Equal(t, "hijack-dns", rule["action"])
}

func TestRunExclusionFlow(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, uriListBody)
	store, err := exclusions.Open(filepath.Join(t.TempDir(), "exclusions.json"), nil)
	require.NoError(t, err)

	fast := &model.ParsedServer{Protocol: "vless", Address: "host1", Port: 443}
	added, err := store.Add(fast, "too far away")
	require.NoError(t, err)
	require.True(t, added)

	m := newManager(testProfile(srv.URL), nil, store)
	result := m.Run(context.Background(), Options{})
	require.True(t, result.Success)

	doc := decodeArtifact(t, result.Artifact)
	require.NotContains(t, outboundTags(doc), "Fast")
	require.Equal(t, []any{"Slow"}, urltestMembers(t, doc))

	added, err = store.Add(fast, "again")
	require.NoError(t, err)
	require.False(t, added, "re-excluding is a no-op")
}

func TestRunPolicyDeny(t *testing.T) {
	t.Parallel()

	body := `{"proxies": [
		{"type": "http", "server": "plain", "port": 8080, "security": "none", "password": "abc", "name": "Leaky"},
		{"type": "vless", "server": "good", "port": 443, "uuid": "0e2d55e1-64a5-4f0a-9d5c-51296885bce1", "name": "Good"}
	]}`
	srv := subscriptionServer(t, body)

	bus := event.NewBus(nil)
	var denies []event.Event
	bus.Subscribe(event.TypeErrorOccurred, func(ev event.Event) error {
		denies = append(denies, ev)
		return nil
	}, 0)

	m := newManager(testProfile(srv.URL), bus, nil)
	result := m.Run(context.Background(), Options{})
	require.True(t, result.Success)
	require.True(t, result.PartialSuccess, "denied server leaves recoverable errors behind")

	doc := decodeArtifact(t, result.Artifact)
	require.NotContains(t, outboundTags(doc), "Leaky")
	require.Contains(t, outboundTags(doc), "Good")

	require.GreaterOrEqual(t, len(denies), 2, "protocol and encryption policies both deny")
	for _, ev := range denies {
		require.Equal(t, "deny", ev.Data["severity"])
		require.NotEmpty(t, ev.Data["reason"])
	}
}

func TestRunEmptyAfterPolicies(t *testing.T) {
	t.Parallel()

	body := `{"proxies": [{"type": "http", "server": "plain", "port": 8080, "password": "password1"}]}`
	srv := subscriptionServer(t, body)

	m := newManager(testProfile(srv.URL), nil, nil)

	result := m.Run(context.Background(), Options{Mode: pipeline.ModeTolerant})
	require.False(t, result.Success)
	require.False(t, result.PartialSuccess)
	require.Nil(t, result.Artifact)

	strict := m.Run(context.Background(), Options{Mode: pipeline.ModeStrict})
	require.False(t, strict.Success)
	hasFatal := false
	for _, e := range strict.Errors {
		if e.IsFatal() {
			hasFatal = true
		}
	}
	require.True(t, hasFatal, "strict mode records the empty list as fatal")
}

func TestRunFetchFailureTolerantVsStrict(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	m := newManager(testProfile(srv.URL), nil, nil)

	tolerant := m.Run(context.Background(), Options{Mode: pipeline.ModeTolerant})
	require.False(t, tolerant.Success, "no servers, no artifact")

	strict := m.Run(context.Background(), Options{Mode: pipeline.ModeStrict})
	require.False(t, strict.Success)
}

func TestRunUnsupportedScheme(t *testing.T) {
	t.Parallel()

	m := newManager(testProfile("ftp://example.com/sub"), nil, nil)
	result := m.Run(context.Background(), Options{})
	require.False(t, result.Success)

	found := false
	for _, e := range result.Errors {
		if strings.Contains(e.Message, "unsupported scheme: ftp") {
			found = true
		}
	}
	require.True(t, found)
}

func TestRunOversizeBody(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, strings.Repeat("a", fetch.DefaultBodyCap+1))
	m := newManager(testProfile(srv.URL), nil, nil)

	result := m.Run(context.Background(), Options{})
	require.False(t, result.Success)

	found := false
	for _, e := range result.Errors {
		if e.Kind == pipeline.KindFetch && strings.Contains(e.Message, "oversize") {
			found = true
		}
	}
	require.True(t, found)
}

func TestRunWritesArtifactWithBackup(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, uriListBody)
	output := filepath.Join(t.TempDir(), "config.json")

	p := testProfile(srv.URL)
	p.Export.OutputFile = output
	m := newManager(p, nil, nil)

	result := m.Run(context.Background(), Options{})
	require.True(t, result.Success)

	first, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, result.Artifact, first)

	result = m.Run(context.Background(), Options{ForceReload: true})
	require.True(t, result.Success)

	backup, err := os.ReadFile(output + ".bak")
	require.NoError(t, err)
	require.Equal(t, first, backup, "previous artifact preserved as .bak")
}

func TestRunDryRunNeverWrites(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, uriListBody)
	output := filepath.Join(t.TempDir(), "config.json")

	p := testProfile(srv.URL)
	p.Export.OutputFile = output
	m := newManager(p, nil, nil)

	result := m.Run(context.Background(), Options{DryRun: true})
	require.True(t, result.Success)
	require.NotEmpty(t, result.Artifact)

	_, err := os.Stat(output)
	require.True(t, os.IsNotExist(err))
}

func TestRunAgentOffline(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, uriListBody)
	output := filepath.Join(t.TempDir(), "config.json")

	bus := event.NewBus(nil)
	unavailable := 0
	bus.Subscribe(event.TypeAgentUnavailable, func(event.Event) error {
		unavailable++
		return nil
	}, 0)

	p := testProfile(srv.URL)
	p.Export.OutputFile = output
	offline := agent.NewClient(agent.ClientOptions{SocketPath: filepath.Join(t.TempDir(), "absent.sock")})
	m := NewManager(p, nil, bus, fetch.NewCache(), nil, offline)

	result := m.Run(context.Background(), Options{WithAgentCheck: true})
	require.True(t, result.Success, "agent unavailability never fails the run")
	require.Equal(t, 1, unavailable)
}

func TestRunCacheHashesRecorded(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, uriListBody)
	p := testProfile(srv.URL)
	m := newManager(p, nil, nil)

	result := m.Run(context.Background(), Options{})
	require.True(t, result.Success)

	hash, ok := p.Metadata.CacheHashes[srv.URL]
	require.True(t, ok)
	require.Equal(t, fetch.ContentHash([]byte(uriListBody)), hash)
	require.NotEmpty(t, p.Metadata.Timestamp)
}

func TestRunFormatOverride(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, uriListBody)
	m := newManager(testProfile(srv.URL), nil, nil)

	result := m.Run(context.Background(), Options{Format: "uri-list"})
	require.True(t, result.Success)

	bad := m.Run(context.Background(), Options{Format: "nope"})
	require.False(t, bad.Success)
}

func TestRunClashExport(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, uriListBody)
	m := newManager(testProfile(srv.URL), nil, nil)

	result := m.Run(context.Background(), Options{ExportFormat: "clash"})
	require.True(t, result.Success)
	require.Contains(t, string(result.Artifact), "proxies:")
	require.Contains(t, string(result.Artifact), "MATCH,PROXY")
}

// nameDropper removes servers whose original name matches; it exists to prove
// custom registry entries resolve from profile declarations.
type nameDropper struct{ name string }

func (d *nameDropper) Name() string { return "name-dropper" }

func (d *nameDropper) Process(_ context.Context, _ *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	out := make([]model.ParsedServer, 0, len(servers))
	for i := range servers {
		if n, _ := servers[i].MetaString(model.MetaName); n != d.name {
			out = append(out, servers[i])
		}
	}
	return out, nil
}

func TestRunMiddlewareResolvedThroughRegistry(t *testing.T) {
	srv := subscriptionServer(t, uriListBody)

	require.NoError(t, plugin.Register(plugin.KindMiddleware, "name-dropper", func(config map[string]any) (any, error) {
		name, _ := config["name"].(string)
		return &nameDropper{name: name}, nil
	}))

	p := testProfile(srv.URL)
	p.Middleware = []profile.ComponentConfig{
		{Name: "name-dropper", Config: map[string]any{"name": "Slow"}},
		{Name: "tag-normalize"},
	}

	m := newManager(p, nil, nil)
	result := m.Run(context.Background(), Options{})
	require.True(t, result.Success)

	tags := outboundTags(decodeArtifact(t, result.Artifact))
	require.Contains(t, tags, "Fast")
	require.NotContains(t, tags, "Slow")
}

func TestRunUnknownMiddlewareIsReported(t *testing.T) {
	t.Parallel()

	srv := subscriptionServer(t, uriListBody)
	p := testProfile(srv.URL)
	p.Middleware = []profile.ComponentConfig{{Name: "does-not-exist"}}

	m := newManager(p, nil, nil)
	result := m.Run(context.Background(), Options{})

	found := false
	for _, e := range result.Errors {
		if e.Kind == pipeline.KindPlugin && strings.Contains(e.Message, "no plugin registered") {
			found = true
		}
	}
	require.True(t, found, "missing middleware must surface as a plugin error")
}

func TestRunFileSourceConfinedToProfileDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "subs.txt"), []byte(uriListBody), 0o600))
	outside := filepath.Join(t.TempDir(), "other.txt")
	require.NoError(t, os.WriteFile(outside, []byte(uriListBody), 0o600))

	p := testProfile("")
	p.Dir = dir
	p.Subscriptions = []model.SubscriptionSource{{ID: "local", Path: "subs.txt", Enabled: true}}

	m := newManager(p, nil, nil)
	result := m.Run(context.Background(), Options{})
	require.True(t, result.Success)
	require.Contains(t, outboundTags(decodeArtifact(t, result.Artifact)), "Fast")

	escaped := testProfile("")
	escaped.Dir = dir
	escaped.Subscriptions = []model.SubscriptionSource{{ID: "escape", Path: outside, Enabled: true}}

	m2 := newManager(escaped, nil, nil)
	bad := m2.Run(context.Background(), Options{})
	require.False(t, bad.Success)

	found := false
	for _, e := range bad.Errors {
		if strings.Contains(e.Message, "escapes base directory") {
			found = true
		}
	}
	require.True(t, found)
}
