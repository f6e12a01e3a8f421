package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kpblcaoo/sboxmgr/internal/logger"
	"github.com/kpblcaoo/sboxmgr/internal/profile"
)

// errUsage marks invocation mistakes; main maps it to exit code 2 so scripts
// can tell "you called it wrong" from "the run failed".
var errUsage = errors.New("usage error")

type rootFlags struct {
	verbose bool
	profile string
	dataDir string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "sboxmgr",
		Short:         "sboxmgr turns proxy subscriptions into client configurations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringVarP(&flags.profile, "profile", "p", "", "Path to a profile file (default: the active profile)")
	cmd.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "State directory for profiles and exclusions")

	cmd.AddCommand(newExportCmd(flags))
	cmd.AddCommand(newExclusionsCmd(flags))
	cmd.AddCommand(newProfileCmd(flags))
	cmd.AddCommand(newAgentCmd(flags))
	cmd.AddCommand(newPluginsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (f *rootFlags) newLogger() (*logger.Logger, error) {
	level := "info"
	if f.verbose {
		level = "debug"
	}
	return logger.New(logger.Options{Level: level, HumanReadable: true})
}

func (f *rootFlags) resolveDataDir() (string, error) {
	if f.dataDir != "" {
		return f.dataDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, "sboxmgr"), nil
}

func (f *rootFlags) exclusionsPath() (string, error) {
	dir, err := f.resolveDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "exclusions.json"), nil
}

func (f *rootFlags) profileStore(log *logger.Logger) (*profile.Store, error) {
	dir, err := f.resolveDataDir()
	if err != nil {
		return nil, err
	}
	return profile.NewStore(filepath.Join(dir, "profiles"), log)
}

// loadProfile resolves the working profile: an explicit --profile path wins,
// otherwise the store's active profile is used.
func (f *rootFlags) loadProfile(log *logger.Logger) (*profile.FullProfile, error) {
	if f.profile != "" {
		return profile.Load(f.profile)
	}

	store, err := f.profileStore(log)
	if err != nil {
		return nil, err
	}
	active, err := store.Active()
	if err != nil {
		return nil, err
	}
	if active == "" {
		return nil, fmt.Errorf("%w: no --profile given and no active profile set (see \"sboxmgr profile switch\")", errUsage)
	}
	return store.Load(active)
}
