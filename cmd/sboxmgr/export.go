package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kpblcaoo/sboxmgr/internal/agent"
	"github.com/kpblcaoo/sboxmgr/internal/event"
	"github.com/kpblcaoo/sboxmgr/internal/exclusions"
	"github.com/kpblcaoo/sboxmgr/internal/fetch"
	"github.com/kpblcaoo/sboxmgr/internal/logger"
	"github.com/kpblcaoo/sboxmgr/internal/pipeline"
	"github.com/kpblcaoo/sboxmgr/internal/selector"
	"github.com/kpblcaoo/sboxmgr/internal/subscription"
)

type exportOptions struct {
	format         string
	parseFormat    string
	output         string
	dryRun         bool
	strict         bool
	forceReload    bool
	userAgent      string
	noUserAgent    bool
	withAgentCheck bool
	socket         string
	index          int
	tags           []string
	names          []string
	auto           bool
}

func newExportCmd(root *rootFlags) *cobra.Command {
	opts := exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch subscriptions and render a client configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria := selector.Criteria{
				Tags:  opts.tags,
				Names: opts.names,
				Auto:  opts.auto,
			}
			if cmd.Flags().Changed("index") {
				criteria.Index = &opts.index
			}
			return runExport(root, opts, criteria)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Export format: singbox, singbox-legacy, or clash")
	cmd.Flags().StringVar(&opts.parseFormat, "parse-format", "", "Force a payload parser instead of auto-detection")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Artifact path (default: the profile's output_file, or stdout)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Render the artifact without writing any file")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Abort on the first fatal error instead of accumulating")
	cmd.Flags().BoolVar(&opts.forceReload, "force-reload", false, "Bypass the fetch cache")
	cmd.Flags().StringVar(&opts.userAgent, "user-agent", "", "Override the subscription User-Agent header")
	cmd.Flags().BoolVar(&opts.noUserAgent, "no-user-agent", false, "Send no User-Agent header at all")
	cmd.Flags().BoolVar(&opts.withAgentCheck, "with-agent-check", false, "Validate the written artifact through the agent")
	cmd.Flags().StringVar(&opts.socket, "socket", "", "Agent socket path (default "+agent.DefaultSocketPath+")")
	cmd.Flags().IntVar(&opts.index, "index", 0, "Select a single server by position")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Select servers by tag (repeatable)")
	cmd.Flags().StringSliceVar(&opts.names, "name", nil, "Select servers by original name (repeatable)")
	cmd.Flags().BoolVar(&opts.auto, "auto", false, "Order selected servers by measured latency")

	return cmd
}

func runExport(root *rootFlags, opts exportOptions, criteria selector.Criteria) error {
	log, err := root.newLogger()
	if err != nil {
		return err
	}

	p, err := root.loadProfile(log)
	if err != nil {
		return err
	}

	exclusionsPath, err := root.exclusionsPath()
	if err != nil {
		return err
	}
	excl, err := exclusions.Open(exclusionsPath, log)
	if err != nil {
		return err
	}

	bus := event.NewBus(func(eventType string, err error) {
		log.WithFields(map[string]any{"event": eventType, "error": err.Error()}).
			Warn("event handler failed")
	})

	var agentClient *agent.Client
	if opts.withAgentCheck {
		agentClient = agent.NewClient(agent.ClientOptions{SocketPath: opts.socket, Log: log})
		defer agentClient.Close()
	}

	mode := pipeline.ModeTolerant
	if opts.strict {
		mode = pipeline.ModeStrict
	}

	manager := subscription.NewManager(p, log, bus, fetch.NewCache(), excl, agentClient)
	result := manager.Run(context.Background(), subscription.Options{
		Mode:           mode,
		Format:         opts.parseFormat,
		ExportFormat:   opts.format,
		OutputFile:     opts.output,
		DryRun:         opts.dryRun,
		ForceReload:    opts.forceReload,
		UserAgent:      opts.userAgent,
		NoUserAgent:    opts.noUserAgent,
		Select:         criteria,
		WithAgentCheck: opts.withAgentCheck,
	})

	reportErrors(log, result)

	if !result.Success {
		return fmt.Errorf("export failed with %d error(s)", len(result.Errors))
	}

	// With no file destination the artifact goes to stdout; logs stay on
	// stderr so the output remains pipeable.
	if opts.output == "" && p.Export.OutputFile == "" {
		os.Stdout.Write(result.Artifact)
	}
	if result.PartialSuccess {
		log.WithFields(map[string]any{"errors": len(result.Errors)}).
			Warn("export completed with recoverable errors")
	}
	return nil
}

func reportErrors(log *logger.Logger, result *pipeline.Result) {
	for _, e := range result.Errors {
		fields := map[string]any{
			"kind":  string(e.Kind),
			"stage": e.Stage,
		}
		switch e.Severity {
		case pipeline.SeverityFatal:
			log.WithFields(fields).Error(errors.New(e.Message), "pipeline stage failed")
		case pipeline.SeverityRecoverable:
			log.WithFields(fields).Warn(e.Message)
		default:
			log.WithFields(fields).Info(e.Message)
		}
	}
}
