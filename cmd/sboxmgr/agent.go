package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kpblcaoo/sboxmgr/internal/agent"
)

type agentFlags struct {
	socket string
	client string
}

func newAgentCmd(root *rootFlags) *cobra.Command {
	flags := &agentFlags{}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Talk to the local sboxagent daemon",
	}

	cmd.PersistentFlags().StringVar(&flags.socket, "socket", "", "Agent socket path (default "+agent.DefaultSocketPath+")")
	cmd.PersistentFlags().StringVar(&flags.client, "client", "sing-box", "Target client type")

	cmd.AddCommand(newAgentPingCmd(root, flags))
	cmd.AddCommand(newAgentCheckCmd(root, flags))
	cmd.AddCommand(newAgentValidateCmd(root, flags))
	cmd.AddCommand(newAgentInstallCmd(root, flags))

	return cmd
}

func (f *agentFlags) connect(root *rootFlags) (*agent.Client, error) {
	log, err := root.newLogger()
	if err != nil {
		return nil, err
	}
	return agent.NewClient(agent.ClientOptions{SocketPath: f.socket, Log: log}), nil
}

func newAgentPingCmd(root *rootFlags, flags *agentFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check whether the agent is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.connect(root)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "agent is alive")
			return nil
		},
	}
}

func newAgentCheckCmd(root *rootFlags, flags *agentFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report the installed client state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.connect(root)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Check(cmd.Context(), flags.client)
			if err != nil {
				return err
			}
			printResponse(cmd, resp)
			return nil
		},
	}
}

func newAgentValidateCmd(root *rootFlags, flags *agentFlags) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <config-path>",
		Short: "Ask the agent to validate a rendered configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.connect(root)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Validate(cmd.Context(), args[0], flags.client, strict)
			if err != nil {
				if resp != nil && len(resp.Errors) > 0 {
					return fmt.Errorf("validation failed:\n  %s", strings.Join(resp.Errors, "\n  "))
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	return cmd
}

func newAgentInstallCmd(root *rootFlags, flags *agentFlags) *cobra.Command {
	var (
		version string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Ask the agent to install a client binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.connect(root)
			if err != nil {
				return err
			}
			defer client.Close()

			// Install may download a binary; give it more room than the
			// default command timeout by leaving the context unbounded.
			resp, err := client.Install(context.Background(), flags.client, version, force)
			if err != nil {
				return err
			}
			printResponse(cmd, resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Client version to install (default: latest)")
	cmd.Flags().BoolVar(&force, "force", false, "Reinstall even when already present")
	return cmd
}

func printResponse(cmd *cobra.Command, resp *agent.ResponsePayload) {
	fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", resp.Status)
	for k, v := range resp.Data {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", k, v)
	}
	for _, e := range resp.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", e)
	}
}
