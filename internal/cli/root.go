// Package cli defines the skimmer command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd builds the root command with its subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "skimmer",
		Short: "Polite, strategy-aware web data collection",
		Long: `skimmer fetches pages through rotating identities under adaptive rate
control, picks a static, rendered or API strategy per URL, follows
pagination, and streams extracted records into a configured sink.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newProbeCmd())
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}
