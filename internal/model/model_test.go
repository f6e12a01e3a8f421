package model

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerIdentity(t *testing.T) {
	t.Parallel()

	srv := ParsedServer{Protocol: "vless", Address: "host1", Port: 443}
	require.Equal(t, "vless|host1|443", srv.Identity())

	sum := sha256.Sum256([]byte("vless|host1|443"))
	require.Equal(t, hex.EncodeToString(sum[:]), srv.IdentityHash())
}

func TestServerValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		server  ParsedServer
		wantErr bool
	}{
		{"valid", ParsedServer{Protocol: "trojan", Address: "h", Port: 443}, false},
		{"virtual no address", ParsedServer{Protocol: "direct"}, false},
		{"missing protocol", ParsedServer{Address: "h", Port: 1}, true},
		{"missing address", ParsedServer{Protocol: "vmess", Port: 443}, true},
		{"port zero", ParsedServer{Protocol: "vmess", Address: "h"}, true},
		{"port overflow", ParsedServer{Protocol: "vmess", Address: "h", Port: 70000}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.server.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestServerCloneIsolatesMeta(t *testing.T) {
	t.Parallel()

	srv := ParsedServer{Protocol: "vless", Address: "h", Port: 1}
	srv.SetMeta(MetaName, "original")

	clone := srv.Clone()
	clone.SetMeta(MetaName, "changed")

	name, ok := srv.MetaString(MetaName)
	require.True(t, ok)
	require.Equal(t, "original", name)
}

func TestMetaFloatAcceptsIntegerEncodings(t *testing.T) {
	t.Parallel()

	srv := ParsedServer{}
	srv.SetMeta(MetaLatencyMS, 42)
	v, ok := srv.MetaFloat(MetaLatencyMS)
	require.True(t, ok)
	require.Equal(t, 42.0, v)

	srv.SetMeta(MetaLatencyMS, 42.5)
	v, _ = srv.MetaFloat(MetaLatencyMS)
	require.Equal(t, 42.5, v)
}

func TestSortSourcesIsStable(t *testing.T) {
	t.Parallel()

	sources := []SubscriptionSource{
		{ID: "c", Priority: 2},
		{ID: "a", Priority: 1},
		{ID: "b", Priority: 1},
	}
	sorted := SortSources(sources)
	require.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	// input untouched
	require.Equal(t, "c", sources[0].ID)
}

func TestClientProfileExcludes(t *testing.T) {
	t.Parallel()

	cp := &ClientProfile{ExcludeOutbounds: []string{"vmess", "socks"}}
	require.True(t, cp.Excludes("vmess"))
	require.False(t, cp.Excludes("vless"))

	var nilProfile *ClientProfile
	require.False(t, nilProfile.Excludes("vmess"))
}
