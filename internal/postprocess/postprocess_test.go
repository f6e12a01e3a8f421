package postprocess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

func srv(protocol, address string, port int) model.ParsedServer {
	return model.ParsedServer{Protocol: protocol, Address: address, Port: port}
}

func tagged(protocol, address string, port int, tag string) model.ParsedServer {
	s := srv(protocol, address, port)
	s.Tag = tag
	return s
}

type fnProcessor struct {
	name  string
	rule  MergeRule
	fn    func([]model.ParsedServer) ([]model.ParsedServer, error)
	cond  error
	calls int
}

func (p *fnProcessor) Name() string         { return p.name }
func (p *fnProcessor) MergeRule() MergeRule { return p.rule }
func (p *fnProcessor) Precondition(*pipeline.Context, []model.ParsedServer) error {
	return p.cond
}
func (p *fnProcessor) Process(_ context.Context, _ *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	p.calls++
	return p.fn(servers)
}

func TestChainSequentialOrder(t *testing.T) {
	t.Parallel()

	input := []model.ParsedServer{srv("vless", "a", 1), srv("vless", "b", 2)}
	dropFirst := &fnProcessor{name: "drop-first", rule: MergeIntersect, fn: func(s []model.ParsedServer) ([]model.ParsedServer, error) {
		return s[1:], nil
	}}
	count := &fnProcessor{name: "count", rule: MergeUnion, fn: func(s []model.ParsedServer) ([]model.ParsedServer, error) {
		require.Len(t, s, 1, "sequential mode feeds previous output")
		return s, nil
	}}

	chain := NewChain([]Processor{dropFirst, count}, Options{})
	out, meta, err := chain.Run(context.Background(), pipeline.NewContext("", "", ""), input)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []string{"drop-first", "count"}, meta.Executed)
	require.Equal(t, 2, meta.PerProcessor["drop-first"].InputCount)
	require.Equal(t, 1, meta.PerProcessor["drop-first"].OutputCount)
}

func TestChainContinueKeepsInputOnFailure(t *testing.T) {
	t.Parallel()

	input := []model.ParsedServer{srv("vless", "a", 1)}
	boom := &fnProcessor{name: "boom", rule: MergeIntersect, fn: func([]model.ParsedServer) ([]model.ParsedServer, error) {
		return nil, errors.New("kaput")
	}}
	chain := NewChain([]Processor{boom}, Options{Strategy: StrategyContinue})
	out, meta, err := chain.Run(context.Background(), pipeline.NewContext("", "", ""), input)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []string{"boom"}, meta.Failed)
}

func TestChainFailFast(t *testing.T) {
	t.Parallel()

	boom := &fnProcessor{name: "boom", rule: MergeIntersect, fn: func([]model.ParsedServer) ([]model.ParsedServer, error) {
		return nil, errors.New("kaput")
	}}
	after := &fnProcessor{name: "after", rule: MergeUnion, fn: func(s []model.ParsedServer) ([]model.ParsedServer, error) {
		return s, nil
	}}
	chain := NewChain([]Processor{boom, after}, Options{Strategy: StrategyFailFast})
	_, _, err := chain.Run(context.Background(), pipeline.NewContext("", "", ""), nil)
	require.Error(t, err)
	require.Equal(t, 0, after.calls)
}

func TestChainRetry(t *testing.T) {
	t.Parallel()

	attempts := 0
	flaky := &fnProcessor{name: "flaky", rule: MergeUnion, fn: func(s []model.ParsedServer) ([]model.ParsedServer, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return s, nil
	}}
	chain := NewChain([]Processor{flaky}, Options{Strategy: StrategyRetry, MaxRetries: 3})
	_, meta, err := chain.Run(context.Background(), pipeline.NewContext("", "", ""), []model.ParsedServer{srv("vless", "a", 1)})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, []string{"flaky"}, meta.Executed)
}

func TestChainConditionalSkip(t *testing.T) {
	t.Parallel()

	skipped := &fnProcessor{name: "skipped", rule: MergeUnion, cond: errors.New("unmet"), fn: func(s []model.ParsedServer) ([]model.ParsedServer, error) {
		return s, nil
	}}
	chain := NewChain([]Processor{skipped}, Options{Mode: ModeConditional})
	pctx := pipeline.NewContext("", "", "")
	_, meta, err := chain.Run(context.Background(), pctx, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"skipped"}, meta.Skipped)
	require.Equal(t, 0, skipped.calls)
	reason, ok := pctx.Metadata("postprocess.skipped.skipped")
	require.True(t, ok)
	require.Equal(t, "unmet", reason)
}

func TestChainParallelMerge(t *testing.T) {
	t.Parallel()

	a := srv("vless", "a", 1)
	b := srv("vless", "b", 2)
	c := srv("vless", "c", 3)
	input := []model.ParsedServer{a, b, c}

	keepAB := &fnProcessor{name: "keep-ab", rule: MergeIntersect, fn: func(s []model.ParsedServer) ([]model.ParsedServer, error) {
		return s[:2], nil
	}}
	keepBC := &fnProcessor{name: "keep-bc", rule: MergeIntersect, fn: func(s []model.ParsedServer) ([]model.ParsedServer, error) {
		return s[1:], nil
	}}
	annotate := &fnProcessor{name: "annotate", rule: MergeUnion, fn: func(s []model.ParsedServer) ([]model.ParsedServer, error) {
		out := make([]model.ParsedServer, len(s))
		for i, server := range s {
			enriched := server.Clone()
			enriched.SetMeta(model.MetaCountry, "NL")
			out[i] = enriched
		}
		return out, nil
	}}

	chain := NewChain([]Processor{keepAB, keepBC, annotate}, Options{Mode: ModeParallel})
	out, meta, err := chain.Run(context.Background(), pipeline.NewContext("", "", ""), input)
	require.NoError(t, err)

	// intersection keeps only b; the enricher's annotated copy replaces it
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].Address)
	country, _ := out[0].MetaString(model.MetaCountry)
	require.Equal(t, "NL", country)
	require.ElementsMatch(t, []string{"keep-ab", "keep-bc", "annotate"}, meta.Executed)
}

func TestGeoFilter(t *testing.T) {
	t.Parallel()

	nl := srv("vless", "a", 1)
	nl.SetMeta(model.MetaCountry, "nl")
	de := tagged("vless", "b", 2, "DE-frankfurt")
	unknown := srv("vless", "opaque", 3)

	include := NewGeoFilter([]string{"NL"}, nil, FallbackDenyAll)
	out, err := include.Process(context.Background(), nil, []model.ParsedServer{nl, de, unknown})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].Address)

	exclude := NewGeoFilter(nil, []string{"DE"}, FallbackAllowAll)
	out, err = exclude.Process(context.Background(), nil, []model.ParsedServer{nl, de, unknown})
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestGeoFilterExtractionOrder(t *testing.T) {
	t.Parallel()

	viaGeo := srv("vless", "x", 1)
	viaGeo.SetMeta(model.MetaGeo, map[string]any{"country": "se"})
	require.Equal(t, "SE", CountryOf(&viaGeo))

	viaTLD := srv("vless", "proxy.example.fr", 1)
	require.Equal(t, "FR", CountryOf(&viaTLD))

	metaWins := tagged("vless", "proxy.example.fr", 1, "DE-1")
	metaWins.SetMeta(model.MetaCountry, "NL")
	require.Equal(t, "NL", CountryOf(&metaWins))
}

func TestTagFilter(t *testing.T) {
	t.Parallel()

	fast := tagged("vless", "a", 1, "NL-fast")
	slow := tagged("vless", "b", 2, "DE-slow")
	premium := tagged("vless", "c", 3, "premium")
	premium.SetMeta(model.MetaTags, []string{"paid"})

	wl, err := NewTagFilter([]string{"fast", "paid"}, nil, false)
	require.NoError(t, err)
	out, err := wl.Process(context.Background(), nil, []model.ParsedServer{fast, slow, premium})
	require.NoError(t, err)
	require.Len(t, out, 2)

	bl, err := NewTagFilter(nil, []string{"de-*"}, false)
	require.NoError(t, err)
	out, err = bl.Process(context.Background(), nil, []model.ParsedServer{fast, slow, premium})
	require.NoError(t, err)
	require.Len(t, out, 2)

	_, err = NewTagFilter([]string{"[invalid"}, nil, false)
	require.Error(t, err)
}

func TestTagFilterCaseSensitivity(t *testing.T) {
	t.Parallel()

	s := tagged("vless", "a", 1, "Fast")

	insensitive, err := NewTagFilter([]string{"fast"}, nil, false)
	require.NoError(t, err)
	out, _ := insensitive.Process(context.Background(), nil, []model.ParsedServer{s})
	require.Len(t, out, 1)

	sensitive, err := NewTagFilter([]string{"fast"}, nil, true)
	require.NoError(t, err)
	out, _ = sensitive.Process(context.Background(), nil, []model.ParsedServer{s})
	require.Empty(t, out)
}

func TestLatencySort(t *testing.T) {
	t.Parallel()

	fast := srv("vless", "fast", 1)
	fast.SetMeta(model.MetaLatencyMS, 20.0)
	slow := srv("vless", "slow", 2)
	slow.SetMeta(model.MetaLatencyMS, 900.0)
	missing := srv("vless", "missing", 3)

	sorter := NewLatencySort(500, 100, false, MeasureCached, nil)
	out, err := sorter.Process(context.Background(), nil, []model.ParsedServer{slow, missing, fast})
	require.NoError(t, err)

	require.Equal(t, []string{"fast", "missing", "slow"}, addresses(out))
	require.Equal(t, true, out[2].Meta[model.MetaHighLatency])
	_, marked := out[0].Meta[model.MetaHighLatency]
	require.False(t, marked)

	remover := NewLatencySort(500, 100, true, MeasureCached, nil)
	out, err = remover.Process(context.Background(), nil, []model.ParsedServer{slow, missing, fast})
	require.NoError(t, err)
	require.Equal(t, []string{"fast", "missing"}, addresses(out))
}

type fixedProber struct{ rtt time.Duration }

func (f fixedProber) Probe(context.Context, string, int) (time.Duration, error) {
	return f.rtt, nil
}

func TestLatencySortActiveProbe(t *testing.T) {
	t.Parallel()

	s := srv("vless", "probe-me", 1)
	sorter := NewLatencySort(0, 0, false, MeasureActive, fixedProber{rtt: 55 * time.Millisecond})
	out, err := sorter.Process(context.Background(), nil, []model.ParsedServer{s})
	require.NoError(t, err)
	latency, _ := out[0].MetaFloat(model.MetaLatencyMS)
	require.Equal(t, 55.0, latency)
}

func TestDeduplicate(t *testing.T) {
	t.Parallel()

	primary := srv("vless", "dup", 1)
	primary.SetMeta(model.MetaSourcePrio, 1)
	secondary := srv("vless", "dup", 1)
	secondary.SetMeta(model.MetaSourcePrio, 5)
	other := srv("trojan", "dup", 1)

	out, err := NewDeduplicate().Process(context.Background(), nil, []model.ParsedServer{secondary, primary, other})
	require.NoError(t, err)
	require.Len(t, out, 2)
	prio, _ := out[0].MetaFloat(model.MetaSourcePrio)
	require.Equal(t, 1.0, prio, "highest-priority source wins")
}

func addresses(servers []model.ParsedServer) []string {
	out := make([]string, len(servers))
	for i, s := range servers {
		out[i] = s.Address
	}
	return out
}
