package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kpblcaoo/sboxmgr/internal/exclusions"
	"github.com/kpblcaoo/sboxmgr/internal/model"
)

func newExclusionsCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclusions",
		Short: "Manage the set of servers excluded from every export",
	}

	cmd.AddCommand(newExclusionsListCmd(root))
	cmd.AddCommand(newExclusionsAddCmd(root))
	cmd.AddCommand(newExclusionsRemoveCmd(root))
	cmd.AddCommand(newExclusionsClearCmd(root))

	return cmd
}

func openExclusions(root *rootFlags) (*exclusions.Store, error) {
	log, err := root.newLogger()
	if err != nil {
		return nil, err
	}
	path, err := root.exclusionsPath()
	if err != nil {
		return nil, err
	}
	return exclusions.Open(path, log)
}

func newExclusionsListCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show all excluded servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openExclusions(root)
			if err != nil {
				return err
			}
			entries := store.Entries()
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no exclusions")
				return nil
			}
			for _, e := range entries {
				line := e.IDSHA256[:12]
				if e.Name != "" {
					line += "  " + e.Name
				}
				if e.Reason != "" {
					line += "  (" + e.Reason + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newExclusionsAddCmd(root *rootFlags) *cobra.Command {
	var (
		protocol string
		address  string
		port     int
		name     string
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Exclude a server by its identity (protocol, address, port)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openExclusions(root)
			if err != nil {
				return err
			}
			server := &model.ParsedServer{
				Protocol: protocol,
				Address:  address,
				Port:     port,
				Tag:      name,
			}
			if err := server.Validate(); err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			added, err := store.Add(server, reason)
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintln(cmd.OutOrStdout(), "already excluded")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "excluded %s\n", server.Identity())
			return nil
		},
	}

	cmd.Flags().StringVar(&protocol, "protocol", "", "Server protocol, e.g. vless")
	cmd.Flags().StringVar(&address, "address", "", "Server address")
	cmd.Flags().IntVar(&port, "port", 0, "Server port")
	cmd.Flags().StringVar(&name, "name", "", "Display name stored with the entry")
	cmd.Flags().StringVar(&reason, "reason", "", "Why this server is excluded")
	cmd.MarkFlagRequired("protocol") //nolint:errcheck
	cmd.MarkFlagRequired("address")  //nolint:errcheck
	cmd.MarkFlagRequired("port")     //nolint:errcheck

	return cmd
}

func newExclusionsRemoveCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id-sha256>",
		Short: "Remove one exclusion by its identifier (prefixes accepted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openExclusions(root)
			if err != nil {
				return err
			}

			id := args[0]
			if len(id) < 64 {
				full, err := expandIDPrefix(store, id)
				if err != nil {
					return err
				}
				id = full
			}

			removed, err := store.Remove(id)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no exclusion with id %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed")
			return nil
		},
	}
}

func expandIDPrefix(store *exclusions.Store, prefix string) (string, error) {
	var match string
	for _, e := range store.Entries() {
		if len(e.IDSHA256) >= len(prefix) && e.IDSHA256[:len(prefix)] == prefix {
			if match != "" {
				return "", fmt.Errorf("id prefix %s is ambiguous", prefix)
			}
			match = e.IDSHA256
		}
	}
	if match == "" {
		return "", fmt.Errorf("no exclusion with id %s", prefix)
	}
	return match, nil
}

func newExclusionsClearCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every exclusion",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openExclusions(root)
			if err != nil {
				return err
			}
			n := store.Len()
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d exclusion(s)\n", n)
			return nil
		},
	}
}
