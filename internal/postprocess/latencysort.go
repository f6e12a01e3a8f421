package postprocess

import (
	"context"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
)

// MeasureMethod declares where latency numbers come from.
type MeasureMethod string

const (
	// MeasureCached trusts meta.latency_ms as provided upstream.
	MeasureCached MeasureMethod = "cached"
	// MeasureActive probes each server with a bounded TCP dial.
	MeasureActive MeasureMethod = "active"
)

// Prober measures round-trip latency to one server. The context bounds the
// probe; implementations return an error on unreachable targets.
type Prober interface {
	Probe(ctx context.Context, address string, port int) (time.Duration, error)
}

// LatencySort orders servers by meta.latency_ms ascending. Servers above
// MaxLatencyMS are marked high_latency and optionally removed; missing values
// use FallbackLatencyMS. Active measurement is off unless configured.
type LatencySort struct {
	MaxLatencyMS      float64
	FallbackLatencyMS float64
	RemoveHigh        bool
	Method            MeasureMethod
	ProbeTimeout      time.Duration
	prober            Prober
}

// NewLatencySort constructs the processor. A nil prober with MeasureActive
// uses a plain TCP dialer.
func NewLatencySort(maxMS, fallbackMS float64, removeHigh bool, method MeasureMethod, prober Prober) *LatencySort {
	if method == "" {
		method = MeasureCached
	}
	if prober == nil {
		prober = tcpProber{}
	}
	return &LatencySort{
		MaxLatencyMS:      maxMS,
		FallbackLatencyMS: fallbackMS,
		RemoveHigh:        removeHigh,
		Method:            method,
		ProbeTimeout:      3 * time.Second,
		prober:            prober,
	}
}

// Name implements Processor.
func (p *LatencySort) Name() string { return "latency-sort" }

// MergeRule implements Processor: a sorter contributes annotations, not
// membership decisions, unless RemoveHigh is set.
func (p *LatencySort) MergeRule() MergeRule {
	if p.RemoveHigh {
		return MergeIntersect
	}
	return MergeUnion
}

// Precondition implements Conditional.
func (p *LatencySort) Precondition(_ *pipeline.Context, servers []model.ParsedServer) error {
	if len(servers) < 2 && p.Method == MeasureCached {
		return errNothingToSort
	}
	return nil
}

var errNothingToSort = sortError("fewer than two servers")

type sortError string

func (e sortError) Error() string { return string(e) }

// Process implements Processor.
func (p *LatencySort) Process(ctx context.Context, _ *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error) {
	annotated := make([]model.ParsedServer, 0, len(servers))
	for _, server := range servers {
		s := server.Clone()
		latency := p.latencyOf(ctx, &s)
		s.SetMeta(model.MetaLatencyMS, latency)
		high := p.MaxLatencyMS > 0 && latency > p.MaxLatencyMS
		if high {
			if p.RemoveHigh {
				continue
			}
			s.SetMeta(model.MetaHighLatency, true)
		}
		annotated = append(annotated, s)
	}

	sort.SliceStable(annotated, func(i, j int) bool {
		li, _ := annotated[i].MetaFloat(model.MetaLatencyMS)
		lj, _ := annotated[j].MetaFloat(model.MetaLatencyMS)
		return li < lj
	})
	return annotated, nil
}

func (p *LatencySort) latencyOf(ctx context.Context, s *model.ParsedServer) float64 {
	if p.Method == MeasureActive && !s.IsVirtual() {
		probeCtx, cancel := context.WithTimeout(ctx, p.ProbeTimeout)
		defer cancel()
		if rtt, err := p.prober.Probe(probeCtx, s.Address, s.Port); err == nil {
			return float64(rtt.Milliseconds())
		}
		return p.FallbackLatencyMS
	}
	if latency, ok := s.MetaFloat(model.MetaLatencyMS); ok {
		return latency
	}
	return p.FallbackLatencyMS
}

type tcpProber struct{}

func (tcpProber) Probe(ctx context.Context, address string, port int) (time.Duration, error) {
	dialer := net.Dialer{}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return time.Since(start), nil
}
