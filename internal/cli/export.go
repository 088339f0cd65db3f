package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seismolab/scoter/internal/export"
	"github.com/seismolab/scoter/internal/harvest"
	"github.com/seismolab/scoter/internal/model"
)

// ExportOptions holds the flags shared by the export and plot commands.
type ExportOptions struct {
	*RootOptions
	Database string
	Step     string
	Style    string
}

func addExportFlags(cmd *cobra.Command, opts *ExportOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "harvest cache path (required)")
	cmd.Flags().StringVar(&opts.Step, "step", "", "step to query: A, B or C (required)")
	cmd.Flags().StringVar(&opts.Style, "style", "columns", "rendering (columns|pyrocko)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("step")
}

func (o *ExportOptions) open() (*harvest.Cache, model.Step, export.Format, error) {
	step := model.Step(strings.ToUpper(o.Step))
	if !model.ValidSteps[step] {
		return nil, "", "", NewExitError(ExitCommandError, fmt.Sprintf("unknown step %q", o.Step))
	}
	style, err := export.ParseFormat(o.Style)
	if err != nil {
		return nil, "", "", WrapExitError(ExitCommandError, "bad style", err)
	}
	cache, err := harvest.Open(o.Database)
	if err != nil {
		return nil, "", "", WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	return cache, step, style, nil
}

func (o *ExportOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// render runs one query-and-render against the cache and emits the
// result through the output formatter.
func render(opts *ExportOptions, cmd *cobra.Command, fn func(*harvest.Cache, model.Step, export.Format, *strings.Builder) error) error {
	cache, step, style, err := opts.open()
	if err != nil {
		return err
	}
	defer cache.Close()

	var buf strings.Builder
	if err := fn(cache, step, style, &buf); err != nil {
		return WrapExitError(ExitFailure, "export failed", err)
	}
	return opts.formatter(cmd).Raw(buf.String())
}

// NewExportEventsCommand creates the export-events command.
func NewExportEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}
	var iteration int

	cmd := &cobra.Command{
		Use:   "export-events",
		Short: "Export event states from a harvest cache",
		Long: `Export event states for one step.

With --iter 0 (the default) each event's latest harvested state is
exported; a positive --iter selects that exact iteration.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(opts, cmd, func(c *harvest.Cache, step model.Step, style export.Format, buf *strings.Builder) error {
				rows, err := c.Events(step, iteration)
				if err != nil {
					return err
				}
				return export.Events(buf, style, rows)
			})
		},
	}

	addExportFlags(cmd, opts)
	cmd.Flags().IntVar(&iteration, "iter", 0, "iteration to export, 0 for latest per event")
	return cmd
}

// NewExportResidualsCommand creates the export-residuals command.
func NewExportResidualsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}
	var station, phase string

	cmd := &cobra.Command{
		Use:           "export-residuals",
		Short:         "Export a station-phase residual history",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(opts, cmd, func(c *harvest.Cache, step model.Step, style export.Format, buf *strings.Builder) error {
				rows, err := c.Residuals(step, station, phase)
				if err != nil {
					return err
				}
				return export.Residuals(buf, style, rows)
			})
		},
	}

	addExportFlags(cmd, opts)
	cmd.Flags().StringVar(&station, "station", "", "station code (required)")
	cmd.Flags().StringVar(&phase, "phase", "", "phase label (required)")
	_ = cmd.MarkFlagRequired("station")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

// NewExportStaticCommand creates the export-static command.
func NewExportStaticCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "export-static",
		Short:         "Export a step's final static station terms",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(opts, cmd, func(c *harvest.Cache, step model.Step, style export.Format, buf *strings.Builder) error {
				rows, err := c.StaticTerms(step)
				if err != nil {
					return err
				}
				return export.Terms(buf, style, rows)
			})
		},
	}

	addExportFlags(cmd, opts)
	return cmd
}

// NewExportSSSTCommand creates the export-ssst command.
func NewExportSSSTCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}
	var station, phase string

	cmd := &cobra.Command{
		Use:           "export-ssst",
		Short:         "Export per-event terms for a station-phase pair",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(opts, cmd, func(c *harvest.Cache, step model.Step, style export.Format, buf *strings.Builder) error {
				rows, err := c.SSSTerms(step, station, phase)
				if err != nil {
					return err
				}
				return export.Terms(buf, style, rows)
			})
		},
	}

	addExportFlags(cmd, opts)
	cmd.Flags().StringVar(&station, "station", "", "station code (required)")
	cmd.Flags().StringVar(&phase, "phase", "", "phase label (required)")
	_ = cmd.MarkFlagRequired("station")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}
