package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skimmer-dev/skimmer/internal/config"
	"github.com/skimmer-dev/skimmer/internal/engine"
	"github.com/skimmer-dev/skimmer/internal/selector"
)

// newProbeCmd reports which fetch strategy the selector would pick for a
// URL, without fetching it.
func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <url>",
		Short: "Show the fetch strategy the selector picks for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			overrides := make(map[string]engine.StrategyTag, len(cfg.Selector.Overrides))
			for target, tag := range cfg.Selector.Overrides {
				overrides[target] = engine.StrategyTag(tag)
			}
			sel, err := selector.New(selector.Config{
				Overrides:         overrides,
				APIPatterns:       cfg.Selector.APIPatterns,
				MinBodyBytes:      cfg.Selector.MinBodyBytes,
				ScriptCoveragePct: cfg.Selector.ScriptCoveragePct,
			})
			if err != nil {
				return fmt.Errorf("build selector: %w", err)
			}
			normalized, err := engine.NormalizeURL(args[0])
			if err != nil {
				return err
			}
			tag := sel.Select(normalized)
			fmt.Fprintf(os.Stdout, "%s\t%s\n", normalized, tag)
			return nil
		},
	}
}
