package postprocess

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// MergeRule declares how a processor's output participates in parallel-mode
// merging: filters intersect, enrichers union.
type MergeRule string

const (
	MergeIntersect MergeRule = "intersect"
	MergeUnion     MergeRule = "union"
)

// Processor transforms the server list after the middleware chain.
type Processor interface {
	Name() string
	MergeRule() MergeRule
	Process(ctx context.Context, pctx *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, error)
}

// Conditional is an optional Processor extension announcing preconditions.
// A non-nil error skips the processor and records the reason.
type Conditional interface {
	Precondition(pctx *pipeline.Context, servers []model.ParsedServer) error
}

// ExecutionMode selects how the chain drives its processors.
type ExecutionMode string

const (
	ModeSequential  ExecutionMode = "sequential"
	ModeParallel    ExecutionMode = "parallel"
	ModeConditional ExecutionMode = "conditional"
)

// ErrorStrategy selects how a processor failure is handled.
type ErrorStrategy string

const (
	StrategyContinue ErrorStrategy = "continue"
	StrategyFailFast ErrorStrategy = "fail_fast"
	StrategyRetry    ErrorStrategy = "retry"
)

// DefaultWorkers caps parallel-mode concurrency.
const DefaultWorkers = 4

// Options configures a Chain.
type Options struct {
	Mode       ExecutionMode
	Strategy   ErrorStrategy
	MaxRetries int
	// RetryFallback applies after retries are exhausted: continue or
	// fail_fast.
	RetryFallback ErrorStrategy
	Workers       int
}

// ProcessorStats records one processor's contribution.
type ProcessorStats struct {
	InputCount  int
	OutputCount int
	Duration    time.Duration
}

// Metadata accumulates chain observability data.
type Metadata struct {
	Executed     []string
	Failed       []string
	Skipped      []string
	Duration     time.Duration
	PerProcessor map[string]ProcessorStats
}

// Chain runs processors under one execution mode and error strategy.
type Chain struct {
	processors []Processor
	opts       Options
}

// NewChain builds a chain, applying defaults for unset options.
func NewChain(processors []Processor, opts Options) *Chain {
	if opts.Mode == "" {
		opts.Mode = ModeSequential
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyContinue
	}
	if opts.RetryFallback == "" {
		opts.RetryFallback = StrategyContinue
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Chain{processors: processors, opts: opts}
}

// Run executes the chain. With StrategyContinue a failing processor keeps its
// input for that stage; with StrategyFailFast the first failure aborts.
func (c *Chain) Run(ctx context.Context, pctx *pipeline.Context, servers []model.ParsedServer) ([]model.ParsedServer, *Metadata, error) {
	meta := &Metadata{PerProcessor: make(map[string]ProcessorStats)}
	start := time.Now()
	defer func() { meta.Duration = time.Since(start) }()

	switch c.opts.Mode {
	case ModeParallel:
		out, err := c.runParallel(ctx, pctx, servers, meta)
		return out, meta, err
	case ModeConditional:
		out, err := c.runSequential(ctx, pctx, servers, meta, true)
		return out, meta, err
	default:
		out, err := c.runSequential(ctx, pctx, servers, meta, false)
		return out, meta, err
	}
}

func (c *Chain) runSequential(ctx context.Context, pctx *pipeline.Context, servers []model.ParsedServer, meta *Metadata, conditional bool) ([]model.ParsedServer, error) {
	current := servers
	for _, p := range c.processors {
		if conditional {
			if cond, ok := p.(Conditional); ok {
				if err := cond.Precondition(pctx, current); err != nil {
					meta.Skipped = append(meta.Skipped, p.Name())
					pctx.SetMetadata("postprocess.skipped."+p.Name(), err.Error())
					continue
				}
			}
		}
		out, err := c.invoke(ctx, pctx, p, current, meta)
		if err != nil {
			meta.Failed = append(meta.Failed, p.Name())
			if c.failFast() {
				return current, sboxerrors.NewPluginError(p.Name(), err)
			}
			continue
		}
		meta.Executed = append(meta.Executed, p.Name())
		current = out
	}
	return current, nil
}

func (c *Chain) runParallel(ctx context.Context, pctx *pipeline.Context, servers []model.ParsedServer, meta *Metadata) ([]model.ParsedServer, error) {
	outputs := make([][]model.ParsedServer, len(c.processors))
	failures := make([]error, len(c.processors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, p := range c.processors {
		i, p := i, p
		g.Go(func() error {
			out, err := c.invoke(gctx, pctx, p, servers, meta)
			if err != nil {
				failures[i] = err
				if c.failFast() {
					return sboxerrors.NewPluginError(p.Name(), err)
				}
				return nil
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return servers, err
	}

	// Deterministic merge by declaration index.
	for i, p := range c.processors {
		if failures[i] != nil {
			meta.Failed = append(meta.Failed, p.Name())
		} else {
			meta.Executed = append(meta.Executed, p.Name())
		}
	}
	return mergeOutputs(servers, c.processors, outputs, failures), nil
}

// mergeOutputs intersects filter outputs and unions enricher outputs, in
// declaration order. Enricher versions of a surviving server replace the
// original so annotations are kept.
func mergeOutputs(input []model.ParsedServer, processors []Processor, outputs [][]model.ParsedServer, failures []error) []model.ParsedServer {
	surviving := make(map[string]bool, len(input))
	for _, s := range input {
		surviving[s.Identity()] = true
	}
	for i, p := range processors {
		if failures[i] != nil || p.MergeRule() != MergeIntersect {
			continue
		}
		kept := make(map[string]bool, len(outputs[i]))
		for _, s := range outputs[i] {
			kept[s.Identity()] = true
		}
		for id := range surviving {
			if !kept[id] {
				delete(surviving, id)
			}
		}
	}

	result := make([]model.ParsedServer, 0, len(input))
	index := make(map[string]int, len(input))
	for _, s := range input {
		if surviving[s.Identity()] {
			index[s.Identity()] = len(result)
			result = append(result, s)
		}
	}
	for i, p := range processors {
		if failures[i] != nil || p.MergeRule() != MergeUnion {
			continue
		}
		for _, s := range outputs[i] {
			if pos, ok := index[s.Identity()]; ok {
				result[pos] = s
			} else if surviving[s.Identity()] || !knownIdentity(input, s.Identity()) {
				index[s.Identity()] = len(result)
				result = append(result, s)
			}
		}
	}
	return result
}

func knownIdentity(input []model.ParsedServer, id string) bool {
	for _, s := range input {
		if s.Identity() == id {
			return true
		}
	}
	return false
}

func (c *Chain) invoke(ctx context.Context, pctx *pipeline.Context, p Processor, servers []model.ParsedServer, meta *Metadata) ([]model.ParsedServer, error) {
	attempts := 1
	if c.opts.Strategy == StrategyRetry {
		attempts += c.opts.MaxRetries
	}

	var out []model.ParsedServer
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		out, err = p.Process(ctx, pctx, servers)
		stats := ProcessorStats{
			InputCount: len(servers),
			Duration:   time.Since(start),
		}
		if err == nil {
			stats.OutputCount = len(out)
			recordStats(meta, p.Name(), stats)
			return out, nil
		}
		recordStats(meta, p.Name(), stats)
	}
	return nil, fmt.Errorf("after %d attempt(s): %w", attempts, err)
}

// statsMu guards PerProcessor writes from parallel-mode goroutines.
var statsMu sync.Mutex

func recordStats(meta *Metadata, name string, stats ProcessorStats) {
	statsMu.Lock()
	defer statsMu.Unlock()
	meta.PerProcessor[name] = stats
}

func (c *Chain) failFast() bool {
	if c.opts.Strategy == StrategyFailFast {
		return true
	}
	return c.opts.Strategy == StrategyRetry && c.opts.RetryFallback == StrategyFailFast
}
