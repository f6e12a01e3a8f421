package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

func server(protocol, address string, port int, name string) model.ParsedServer {
	s := model.ParsedServer{Protocol: protocol, Address: address, Port: port}
	if name != "" {
		s.SetMeta(model.MetaName, name)
	}
	return s
}

func TestTagNormalizeCandidateChain(t *testing.T) {
	t.Parallel()

	noName := model.ParsedServer{Protocol: "vless", Address: "host1", Port: 443}
	withTagMeta := model.ParsedServer{Protocol: "trojan", Address: "host2", Port: 443}
	withTagMeta.SetMeta(model.MetaTag, "kept-tag")
	virtual := model.ParsedServer{Protocol: "vmess"}

	out, err := NewTagNormalize().Process(context.Background(), pipeline.NewContext("", "", ""), []model.ParsedServer{
		server("vless", "h", 1, "Named"),
		withTagMeta,
		noName,
		virtual,
	})
	require.NoError(t, err)
	require.Equal(t, "Named", out[0].Tag)
	require.Equal(t, "kept-tag", out[1].Tag)
	require.Equal(t, "vless-host1", out[2].Tag)
	require.Equal(t, "vmess-4", out[3].Tag)
}

func TestTagNormalizeCollision(t *testing.T) {
	t.Parallel()

	a := server("vless", "h1", 1, "🇳🇱 NL-1")
	b := server("trojan", "h2", 2, "🇳🇱 NL-1")

	out, err := NewTagNormalize().Process(context.Background(), pipeline.NewContext("", "", ""), []model.ParsedServer{a, b})
	require.NoError(t, err)
	require.Equal(t, "🇳🇱 NL-1", out[0].Tag)
	require.Equal(t, "🇳🇱 NL-1#2", out[1].Tag)

	origA, _ := out[0].MetaString(model.MetaOriginalName)
	origB, _ := out[1].MetaString(model.MetaOriginalName)
	require.Equal(t, "🇳🇱 NL-1", origA)
	require.Equal(t, "🇳🇱 NL-1", origB)
}

func TestTagNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	servers := []model.ParsedServer{
		server("vless", "h1", 1, "Dup"),
		server("trojan", "h2", 2, "Dup"),
	}

	norm := NewTagNormalize()
	pctx := pipeline.NewContext("", "", "")
	once, err := norm.Process(context.Background(), pctx, servers)
	require.NoError(t, err)
	twice, err := norm.Process(context.Background(), pctx, once)
	require.NoError(t, err)

	for i := range once {
		require.Equal(t, once[i].Tag, twice[i].Tag)
	}
}

func TestSanitizeTag(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b", SanitizeTag("  a \t\n b  "))
	require.Equal(t, "ab", SanitizeTag("a\x00\x1fb"))
	require.Equal(t, "🇩🇪 Berlin", SanitizeTag("🇩🇪 Berlin"))

	long := strings.Repeat("x", 100)
	require.Len(t, SanitizeTag(long), TagMaxGraphemes)
}

func TestOutboundFilter(t *testing.T) {
	t.Parallel()

	servers := []model.ParsedServer{
		server("vless", "h1", 1, ""),
		server("vmess", "h2", 2, ""),
		server("socks", "h3", 3, ""),
	}
	out, err := NewOutboundFilter([]string{"vmess", "socks"}).Process(context.Background(), pipeline.NewContext("", "", ""), servers)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "vless", out[0].Protocol)
}

func TestRouteConfigWritesMetadata(t *testing.T) {
	t.Parallel()

	pctx := pipeline.NewContext("", "", "")
	_, err := NewRouteConfig("direct").Process(context.Background(), pctx, nil)
	require.NoError(t, err)
	final, ok := pctx.Metadata(MetaRoutingFinal)
	require.True(t, ok)
	require.Equal(t, "direct", final)
}

func TestStaticGeoResolver(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		server model.ParsedServer
		want   string
	}{
		{"flag emoji", server("vless", "h", 1, "🇳🇱 Amsterdam"), "NL"},
		{"tag prefix", server("vless", "h", 1, "de-frankfurt"), "DE"},
		{"cc tld", server("vless", "proxy.example.nl", 1, ""), "NL"},
		{"none", server("vless", "proxy.example.com", 1, "fast server"), ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			geo, err := StaticGeoResolver{}.Resolve(context.Background(), tc.server)
			require.NoError(t, err)
			require.Equal(t, tc.want, geo.Country)
		})
	}
}

func TestEnrichmentAnnotates(t *testing.T) {
	t.Parallel()

	servers := []model.ParsedServer{server("vless", "h", 1, "🇳🇱 NL-1")}
	mw := NewEnrichment(nil, 0, nil)
	out, err := mw.Process(context.Background(), pipeline.NewContext("", "", ""), servers)
	require.NoError(t, err)

	country, ok := out[0].MetaString(model.MetaCountry)
	require.True(t, ok)
	require.Equal(t, "NL", country)
	geo, ok := out[0].Meta[model.MetaGeo].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "NL", geo["country"])
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	pctx := pipeline.NewContext("", "", "")
	servers := []model.ParsedServer{
		server("vless", "h1", 1, "A"),
		server("vmess", "h2", 2, "B"),
	}
	out, err := Chain(context.Background(), pctx, servers, []Middleware{
		NewOutboundFilter([]string{"vmess"}),
		NewTagNormalize(),
		NewRouteConfig("auto"),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "A", out[0].Tag)
}
