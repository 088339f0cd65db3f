package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/seismolab/scoter/internal/harvest"
	"github.com/seismolab/scoter/internal/model"
	"github.com/seismolab/scoter/internal/rundir"
)

// HarvestOptions holds flags for the harvest command.
type HarvestOptions struct {
	*RootOptions
	Database string
	Weed     bool
	LastIter bool
}

// NewHarvestCommand creates the harvest command.
func NewHarvestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HarvestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "harvest <run-dir>",
		Short: "Condense a run directory into a queryable cache",
		Long: `Rebuild the SQLite cache from a run directory's snapshots.

The cache is rebuilt wholesale on every invocation, so harvesting again
after further steps complete is always safe.

Example:
  scoter harvest ./runs/java2009
  scoter harvest --weed --db results.db ./runs/java2009`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "cache path (default <run-dir>/scoter.db)")
	cmd.Flags().BoolVar(&opts.Weed, "weed", false, "keep only each event's best iteration")
	cmd.Flags().BoolVar(&opts.LastIter, "last-iter", false, "keep only each step's final iteration")

	return cmd
}

func runHarvest(opts *HarvestOptions, runDir string, cmd *cobra.Command) error {
	store, err := rundir.Open(runDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open run directory", err)
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = filepath.Join(runDir, "scoter.db")
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	err = harvest.Build(store, dbPath, harvest.Options{
		Weed:     opts.Weed,
		LastIter: opts.LastIter,
		Progress: func(step model.Step, iteration int) {
			formatter.VerboseLog("harvested step %s iteration %d", step, iteration)
		},
	})
	if err != nil {
		return WrapExitError(ExitFailure, "harvest failed", err)
	}

	return formatter.Success(map[string]string{"cache": dbPath})
}
