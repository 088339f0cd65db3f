// Package cli wires the scoter subcommands: running the relocation
// pipeline, harvesting a run directory into a cache, and exporting or
// plotting harvested results.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the scoter CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scoter",
		Short: "Multiple-event seismic relocation",
		Long: "Relocates event sets with iteratively refined station terms\n" +
			"(static and source-specific), keeping every iteration resumable\n" +
			"in a run directory and queryable through a harvested cache.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewGoCommand(opts))
	cmd.AddCommand(NewHarvestCommand(opts))
	cmd.AddCommand(NewExportEventsCommand(opts))
	cmd.AddCommand(NewExportResidualsCommand(opts))
	cmd.AddCommand(NewExportStaticCommand(opts))
	cmd.AddCommand(NewExportSSSTCommand(opts))
	cmd.AddCommand(NewPlotConvergenceCommand(opts))
	cmd.AddCommand(NewPlotResidualsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
