package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kpblcaoo/sboxmgr/internal/plugin"
	"github.com/kpblcaoo/sboxmgr/internal/plugin/builtin"
)

// registerBuiltins seeds the plugin registry so profile declarations and the
// plugins command can find every stock component by name.
func registerBuiltins() {
	builtin.Register()
}

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the registered pipeline components by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []plugin.Kind{
				plugin.KindFetcher,
				plugin.KindParser,
				plugin.KindMiddleware,
				plugin.KindPostprocessor,
				plugin.KindPolicy,
				plugin.KindExporter,
				plugin.KindRouter,
				plugin.KindRawValidator,
			}
			for _, kind := range kinds {
				names := plugin.Names(kind)
				if len(names) == 0 {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", kind)
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
				}
			}
			return nil
		},
	}
}
