package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kpblcaoo/sboxmgr/internal/middleware"
	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

func servers(n int) []model.ParsedServer {
	out := make([]model.ParsedServer, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.ParsedServer{Protocol: "vless", Address: "host", Port: 1000 + i})
	}
	return out
}

func TestDefaultRoute(t *testing.T) {
	t.Parallel()

	pctx := pipeline.NewContext("", "", "")
	set, err := NewDefault().Route(pctx, servers(2), nil)
	require.NoError(t, err)

	require.Equal(t, AutoTag, set.Final)
	require.True(t, set.AutoDetect)
	require.Equal(t, []string{"direct", "urltest"}, set.VirtualOutbounds)

	require.Len(t, set.Rules, 1)
	require.Equal(t, ActionHijackDNS, set.Rules[0].Action)
	require.Equal(t, []string{"dns"}, set.Rules[0].Protocol)
}

func TestRouteUserDirectivesInOrder(t *testing.T) {
	t.Parallel()

	pctx := pipeline.NewContext("", "", "")
	pctx.UserRoutes = []string{
		"domain:ads.example.com=block",
		"geoip:ru,by=direct",
		"port:8443=auto",
	}
	set, err := NewDefault().Route(pctx, servers(1), nil)
	require.NoError(t, err)
	require.Len(t, set.Rules, 4, "hijack rule plus three user rules")

	require.Equal(t, []string{"ads.example.com"}, set.Rules[1].Domain)
	require.Equal(t, "block", set.Rules[1].Outbound)
	require.Equal(t, []string{"ru", "by"}, set.Rules[2].GeoIP)
	require.Equal(t, []int{8443}, set.Rules[3].Port)
}

func TestRouteFinalResolution(t *testing.T) {
	t.Parallel()

	pctx := pipeline.NewContext("", "", "")
	pctx.SetMetadata(middleware.MetaRoutingFinal, "direct")
	set, err := NewDefault().Route(pctx, servers(1), nil)
	require.NoError(t, err)
	require.Equal(t, "direct", set.Final)
	require.False(t, set.AutoDetect)
	require.Equal(t, []string{"direct"}, set.VirtualOutbounds, "single server, no auto: no urltest group")

	client := &model.ClientProfile{FinalRoute: "block"}
	set, err = NewDefault().Route(pctx, servers(1), client)
	require.NoError(t, err)
	require.Equal(t, "block", set.Final, "client profile wins over context metadata")
}

func TestParseRouteErrors(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"no-matcher",
		"domain:example.com",
		"domain:=direct",
		"port:http=direct",
		"port:70000=direct",
		"magic:x=direct",
	} {
		_, err := ParseRoute(raw)
		require.Error(t, err, raw)
	}
}

func TestParseRouteHijackAction(t *testing.T) {
	t.Parallel()

	rule, err := ParseRoute("protocol:dns=hijack-dns")
	require.NoError(t, err)
	require.Equal(t, ActionHijackDNS, rule.Action)
	require.Empty(t, rule.Outbound)
}
