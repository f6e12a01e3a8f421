// Package subscription orchestrates one pipeline run: fetch, parse,
// middleware, postprocess, exclusion, selection, policy, routing, export,
// artifact write. It owns failure semantics: strict mode aborts on the first
// fatal error, tolerant mode accumulates and continues.
package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/kpblcaoo/sboxmgr/internal/agent"
	"github.com/kpblcaoo/sboxmgr/internal/event"
	"github.com/kpblcaoo/sboxmgr/internal/exclusions"
	"github.com/kpblcaoo/sboxmgr/internal/export"
	"github.com/kpblcaoo/sboxmgr/internal/fetch"
	"github.com/kpblcaoo/sboxmgr/internal/logger"
	"github.com/kpblcaoo/sboxmgr/internal/middleware"
	"github.com/kpblcaoo/sboxmgr/internal/model"
	"github.com/kpblcaoo/sboxmgr/internal/parse"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
	"github.com/kpblcaoo/sboxmgr/internal/policy"
	"github.com/kpblcaoo/sboxmgr/internal/postprocess"
	"github.com/kpblcaoo/sboxmgr/internal/profile"
	"github.com/kpblcaoo/sboxmgr/internal/routing"
	"github.com/kpblcaoo/sboxmgr/internal/selector"
)

// Options tune one Run invocation.
type Options struct {
	// Mode selects failure semantics; empty defaults to tolerant.
	Mode pipeline.Mode
	// TraceID is injected for correlation; empty generates a fresh one.
	TraceID string
	// Format overrides payload detection with an explicit parser name.
	Format string
	// ExportFormat overrides the profile's export.format.
	ExportFormat string
	// OutputFile overrides the profile's export.output_file.
	OutputFile string
	// DryRun renders the artifact but never touches the filesystem.
	DryRun bool
	// ForceReload bypasses the fetch cache read.
	ForceReload bool
	// UserAgent replaces the default; NoUserAgent omits the header entirely.
	UserAgent   string
	NoUserAgent bool
	// Select narrows the server set after exclusions.
	Select selector.Criteria
	// WithAgentCheck validates the written artifact through the agent.
	WithAgentCheck bool
}

// Manager wires the pipeline stages for a profile and runs them.
type Manager struct {
	profile    *profile.FullProfile
	log        *logger.Logger
	bus        *event.Bus
	cache      *fetch.Cache
	exclusions *exclusions.Store
	agent      *agent.Client
	parsers    []parse.Parser
	router     routing.Router
}

// NewManager builds a manager. Bus, cache, exclusions store, and agent client
// are optional; nil disables the corresponding integration.
func NewManager(p *profile.FullProfile, log *logger.Logger, bus *event.Bus, cache *fetch.Cache, excl *exclusions.Store, agentClient *agent.Client) *Manager {
	return &Manager{
		profile:    p,
		log:        log,
		bus:        bus,
		cache:      cache,
		exclusions: excl,
		agent:      agentClient,
		parsers:    parse.Default(),
		router:     routing.NewDefault(),
	}
}

// Run executes the full pipeline once and returns its result. Run never
// panics outward and never returns a raw collaborator error; everything is
// recorded on the result's error list.
func (m *Manager) Run(ctx context.Context, opts Options) *pipeline.Result {
	pctx := pipeline.NewContext(opts.TraceID, firstLocation(m.profile), opts.Mode)
	pctx.UserRoutes = m.profile.Routing.CustomRoutes
	if m.exclusions != nil {
		pctx.Exclusions = m.exclusions.Hashes()
	}
	restore := pipeline.PushTrace(pctx.TraceID)
	defer restore()

	reporter := pipeline.NewErrorReporter()
	log := m.log.WithTrace(pctx.TraceID)

	m.emit(event.TypeSubscriptionFetchStarted, event.PriorityInfo, map[string]any{
		"sources": len(m.profile.Subscriptions),
	})

	servers, fatal := m.fetchAndParse(ctx, pctx, reporter, opts)
	if fatal {
		m.emit(event.TypeSubscriptionFailed, event.PriorityHigh, nil)
		return pipeline.Finalize(pctx, nil, reporter)
	}

	servers = m.applyMiddleware(ctx, pctx, reporter, servers)
	servers = m.applyPostprocessors(ctx, pctx, reporter, servers)

	if m.exclusions != nil {
		servers = m.exclusions.Filter(servers)
	}

	selected, err := selector.Select(servers, opts.Select)
	if err != nil {
		reporter.ReportErr(pipeline.KindValidation, pipeline.SeverityFatal, "selector", err)
		m.emit(event.TypeSubscriptionFailed, event.PriorityHigh, nil)
		return pipeline.Finalize(pctx, nil, reporter)
	}
	servers = selected

	servers, fatal = m.applyPolicies(pctx, reporter, servers)
	if fatal {
		m.emit(event.TypeSubscriptionFailed, event.PriorityHigh, nil)
		return pipeline.Finalize(pctx, nil, reporter)
	}

	routes, err := m.router.Route(pctx, servers, m.clientProfile())
	if err != nil {
		reporter.ReportErr(pipeline.KindInternal, pipeline.SeverityFatal, "routing", err)
		m.emit(event.TypeSubscriptionFailed, event.PriorityHigh, nil)
		return pipeline.Finalize(pctx, nil, reporter)
	}

	artifact := m.export(pctx, reporter, servers, routes, opts)
	if artifact == nil {
		m.emit(event.TypeSubscriptionFailed, event.PriorityHigh, nil)
		return pipeline.Finalize(pctx, nil, reporter)
	}

	outputFile := opts.OutputFile
	if outputFile == "" {
		outputFile = m.profile.Export.OutputFile
	}
	if outputFile != "" && !opts.DryRun {
		if err := writeArtifact(outputFile, artifact); err != nil {
			reporter.ReportErr(pipeline.KindExport, pipeline.SeverityFatal, "artifact", err)
			m.emit(event.TypeSubscriptionFailed, event.PriorityHigh, nil)
			return pipeline.Finalize(pctx, nil, reporter)
		}
		log.WithFields(map[string]any{"path": outputFile, "bytes": len(artifact)}).Info("artifact written")
		m.emit(event.TypeConfigExported, event.PriorityNormal, map[string]any{"path": outputFile})

		if opts.WithAgentCheck {
			m.agentValidate(ctx, reporter, outputFile)
		}
	}

	m.emit(event.TypeSubscriptionProcessed, event.PriorityNormal, map[string]any{
		"servers": len(servers),
	})
	return pipeline.Finalize(pctx, artifact, reporter)
}

// fetchAndParse runs stages 3 through 7 for every enabled source in priority
// order, merging the parsed lists. The second return is true when strict mode
// must abort.
func (m *Manager) fetchAndParse(ctx context.Context, pctx *pipeline.Context, reporter *pipeline.ErrorReporter, opts Options) ([]model.ParsedServer, bool) {
	var merged []model.ParsedServer

	for _, source := range model.SortSources(m.profile.Subscriptions) {
		if !source.Enabled {
			continue
		}
		body, ok := m.fetchOne(ctx, reporter, source, opts)
		if !ok {
			if pctx.Strict() {
				return nil, true
			}
			continue
		}

		m.emit(event.TypeSubscriptionFetched, event.PriorityInfo, map[string]any{
			"source": source.ID,
			"bytes":  len(body),
		})

		servers, ok := m.parseOne(reporter, source, body, opts.Format)
		if !ok && pctx.Strict() {
			return nil, true
		}
		for i := range servers {
			servers[i].SetMeta(model.MetaSourceID, source.ID)
			servers[i].SetMeta(model.MetaSourcePrio, source.Priority)
		}
		merged = append(merged, servers...)

		if m.profile.Metadata.CacheHashes == nil {
			m.profile.Metadata.CacheHashes = make(map[string]string)
		}
		m.profile.Metadata.CacheHashes[source.Location()] = fetch.ContentHash(body)
	}

	m.profile.Metadata.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return merged, false
}

func (m *Manager) fetchOne(ctx context.Context, reporter *pipeline.ErrorReporter, source model.SubscriptionSource, opts Options) ([]byte, bool) {
	location := source.Location()
	if err := fetch.CheckScheme(location); err != nil {
		reporter.ReportErr(pipeline.KindFetch, pipeline.SeverityRecoverable, "fetch", err)
		m.emit(event.TypeSubscriptionFailed, event.PriorityHigh, map[string]any{"source": source.ID})
		return nil, false
	}

	fetcher, err := m.fetcherFor(location, opts)
	if err != nil {
		reporter.ReportErr(pipeline.KindFetch, pipeline.SeverityRecoverable, "fetch", err)
		return nil, false
	}

	key := fetch.Key(fetcher.Name(), location, m.userAgent(opts), nil)
	if body, ok := m.cache.Get(key, opts.ForceReload); ok {
		return body, true
	}

	body, err := fetcher.Fetch(ctx, location)
	if err != nil {
		// An oversize body comes back truncated; treat it as empty.
		reporter.ReportErr(pipeline.KindFetch, pipeline.SeverityRecoverable, "fetch", err)
		m.emit(event.TypeSubscriptionFailed, event.PriorityHigh, map[string]any{"source": source.ID})
		return nil, false
	}
	if err := fetch.ValidateRawBody(body); err != nil {
		reporter.Report(pipeline.KindValidation, pipeline.SeverityRecoverable, "raw-validate",
			fmt.Sprintf("source %s: %v", source.ID, err), nil)
		return nil, false
	}

	m.cache.Put(key, body)
	return body, true
}

func (m *Manager) fetcherFor(location string, opts Options) (fetch.Fetcher, error) {
	switch fetch.SchemeOf(location) {
	case "http", "https":
		return fetch.NewURLFetcher(fetch.URLOptions{
			UserAgent:         opts.UserAgent,
			SuppressUserAgent: opts.NoUserAgent,
		}), nil
	default:
		// File reads are confined to the profile's directory; with no
		// loaded profile the working directory is the base.
		return fetch.NewFileFetcher(m.profile.Dir, 0)
	}
}

func (m *Manager) parseOne(reporter *pipeline.ErrorReporter, source model.SubscriptionSource, body []byte, format string) ([]model.ParsedServer, bool) {
	var (
		parser parse.Parser
		err    error
	)
	if format != "" {
		parser, err = parse.ByName(m.parsers, format)
	} else {
		parser, err = parse.Detect(m.parsers, body)
	}
	if err != nil {
		reporter.ReportErr(pipeline.KindParse, pipeline.SeverityRecoverable, "detect", err)
		return nil, false
	}

	servers, errs := parser.Parse(body)
	for _, perr := range errs {
		reporter.ReportErr(pipeline.KindParse, pipeline.SeverityRecoverable, "parse", perr)
	}
	m.emit(event.TypeSubscriptionParsed, event.PriorityInfo, map[string]any{
		"source":  source.ID,
		"format":  parser.Name(),
		"servers": len(servers),
		"errors":  len(errs),
	})
	return servers, len(errs) == 0 || len(servers) > 0
}

func (m *Manager) applyMiddleware(ctx context.Context, pctx *pipeline.Context, reporter *pipeline.ErrorReporter, servers []model.ParsedServer) []model.ParsedServer {
	chain, err := buildMiddleware(m.profile, m.log, m.bus)
	if err != nil {
		reporter.ReportErr(pipeline.KindPlugin, pipeline.SeverityRecoverable, "middleware", err)
		return servers
	}
	out, err := middleware.Chain(ctx, pctx, servers, chain)
	if err != nil {
		reporter.ReportErr(pipeline.KindPlugin, pipeline.SeverityRecoverable, "middleware", err)
	}
	return out
}

func (m *Manager) applyPostprocessors(ctx context.Context, pctx *pipeline.Context, reporter *pipeline.ErrorReporter, servers []model.ParsedServer) []model.ParsedServer {
	processors, err := buildPostprocessors(m.profile)
	if err != nil {
		reporter.ReportErr(pipeline.KindPlugin, pipeline.SeverityRecoverable, "postprocess", err)
		return servers
	}
	if len(processors) == 0 {
		return servers
	}

	chain := postprocess.NewChain(processors, postprocess.Options{})
	out, _, err := chain.Run(ctx, pctx, servers)
	if err != nil {
		reporter.ReportErr(pipeline.KindPlugin, pipeline.SeverityRecoverable, "postprocess", err)
	}
	return out
}

// applyPolicies evaluates the engine per server: deny removes and emits an
// error event with the full reason, warn annotates meta. An empty post-policy
// list is fatal in strict mode and sinks success in tolerant mode.
func (m *Manager) applyPolicies(pctx *pipeline.Context, reporter *pipeline.ErrorReporter, servers []model.ParsedServer) ([]model.ParsedServer, bool) {
	engine, err := buildPolicyEngine(m.profile)
	if err != nil {
		reporter.ReportErr(pipeline.KindPolicy, pipeline.SeverityFatal, "policy", err)
		return nil, true
	}

	kept := make([]model.ParsedServer, 0, len(servers))
	for i := range servers {
		s := &servers[i]
		if s.IsVirtual() {
			kept = append(kept, *s)
			continue
		}

		results := engine.EvaluateAll(policy.EvalContext{
			Server:      s,
			ServerIndex: len(kept),
			ServerCount: len(servers),
		})

		denied := false
		var warnings []string
		for _, r := range results {
			switch r.Decision {
			case policy.Deny:
				denied = true
				reporter.Report(pipeline.KindPolicy, pipeline.SeverityRecoverable, "policy", r.Reason,
					map[string]string{"policy": r.Policy, "server": s.Identity()})
				m.emit(event.TypeErrorOccurred, event.PriorityHigh, map[string]any{
					"policy":   r.Policy,
					"severity": "deny",
					"reason":   r.Reason,
					"server":   s.Identity(),
				})
			case policy.Warn:
				warnings = append(warnings, r.Policy+": "+r.Reason)
				m.emit(event.TypeWarningIssued, event.PriorityNormal, map[string]any{
					"policy": r.Policy,
					"reason": r.Reason,
				})
			}
		}
		if denied {
			continue
		}
		if len(warnings) > 0 {
			s.SetMeta(model.MetaWarnings, warnings)
		}
		kept = append(kept, *s)
	}

	if concreteCount(kept) == 0 {
		severity := pipeline.SeverityRecoverable
		if pctx.Strict() {
			severity = pipeline.SeverityFatal
		}
		reporter.Report(pipeline.KindPolicy, severity, "policy", "no servers survived policy evaluation", nil)
		return kept, true
	}
	return kept, false
}

func (m *Manager) export(pctx *pipeline.Context, reporter *pipeline.ErrorReporter, servers []model.ParsedServer, routes *model.RouteSet, opts Options) []byte {
	format := opts.ExportFormat
	if format == "" {
		format = m.profile.Export.Format
	}
	exporter := export.ByName(format)
	if exporter == nil {
		reporter.Report(pipeline.KindExport, pipeline.SeverityFatal, "export",
			fmt.Sprintf("unknown export format %q", format), nil)
		return nil
	}

	result, err := exporter.Export(export.Input{
		Servers: servers,
		Routes:  routes,
		Client:  m.clientProfile(),
		Context: pctx,
	})
	if err != nil {
		reporter.ReportErr(pipeline.KindExport, pipeline.SeverityFatal, "export", err)
		return nil
	}
	for _, warning := range result.Warnings {
		reporter.Report(pipeline.KindExport, pipeline.SeverityWarning, "export", warning, nil)
		m.emit(event.TypeWarningIssued, event.PriorityNormal, map[string]any{"warning": warning})
	}
	m.emit(event.TypeConfigBuilt, event.PriorityNormal, map[string]any{
		"format": exporter.Name(),
		"bytes":  len(result.Document),
	})
	return result.Document
}

// agentValidate asks the agent to validate the written artifact. Agent
// unavailability downgrades to an event, never an error.
func (m *Manager) agentValidate(ctx context.Context, reporter *pipeline.ErrorReporter, path string) {
	if m.agent == nil {
		return
	}
	m.emit(event.TypeAgentValidationStarted, event.PriorityInfo, map[string]any{"path": path})
	resp, err := m.agent.Validate(ctx, path, "sing-box", false)
	if err != nil {
		if resp != nil {
			for _, msg := range resp.Errors {
				reporter.Report(pipeline.KindValidation, pipeline.SeverityRecoverable, "agent", msg, nil)
			}
		} else {
			m.emit(event.TypeAgentUnavailable, event.PriorityInfo, nil)
		}
		return
	}
	m.emit(event.TypeAgentValidationCompleted, event.PriorityInfo, map[string]any{"path": path})
}

func (m *Manager) clientProfile() *model.ClientProfile {
	client := m.profile.Export.ClientProfile()
	if m.profile.Routing.Final != "" {
		client.FinalRoute = m.profile.Routing.Final
	}
	return client
}

func (m *Manager) userAgent(opts Options) string {
	if opts.NoUserAgent {
		return ""
	}
	if opts.UserAgent != "" {
		return opts.UserAgent
	}
	return fetch.DefaultUserAgent
}

func (m *Manager) emit(eventType string, priority event.Priority, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(event.New(eventType, "subscription", priority, data))
}

func firstLocation(p *profile.FullProfile) string {
	for _, s := range p.Subscriptions {
		if s.Enabled {
			return s.Location()
		}
	}
	return ""
}

func concreteCount(servers []model.ParsedServer) int {
	n := 0
	for _, s := range servers {
		if !s.IsVirtual() {
			n++
		}
	}
	return n
}
