package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProfileCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage stored profiles and the active-profile pointer",
	}

	cmd.AddCommand(newProfileListCmd(root))
	cmd.AddCommand(newProfileActiveCmd(root))
	cmd.AddCommand(newProfileSwitchCmd(root))
	cmd.AddCommand(newProfileJournalCmd(root))

	return cmd
}

func newProfileListCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := root.newLogger()
			if err != nil {
				return err
			}
			store, err := root.profileStore(log)
			if err != nil {
				return err
			}
			names, err := store.List()
			if err != nil {
				return err
			}
			active, err := store.Active()
			if err != nil {
				return err
			}
			for _, name := range names {
				marker := "  "
				if name == active {
					marker = "* "
				}
				fmt.Fprintln(cmd.OutOrStdout(), marker+name)
			}
			return nil
		},
	}
}

func newProfileActiveCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Print the active profile name and its applied content hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := root.newLogger()
			if err != nil {
				return err
			}
			store, err := root.profileStore(log)
			if err != nil {
				return err
			}
			active, err := store.Active()
			if err != nil {
				return err
			}
			if active == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no active profile")
				return nil
			}
			hash, err := store.AppliedHash()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", active, hash)
			return nil
		},
	}
}

func newProfileSwitchCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <name>",
		Short: "Validate a profile and make it active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := root.newLogger()
			if err != nil {
				return err
			}
			store, err := root.profileStore(log)
			if err != nil {
				return err
			}
			if err := store.Switch(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "switched to %s\n", args[0])
			return nil
		},
	}
}

func newProfileJournalCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "journal",
		Short: "Show the profile activation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := root.newLogger()
			if err != nil {
				return err
			}
			store, err := root.profileStore(log)
			if err != nil {
				return err
			}
			records, err := store.Journal()
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%v  %v  %v\n", r["timestamp"], r["profile"], r["hash"])
			}
			return nil
		},
	}
}
