package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/seismolab/scoter/internal/export"
	"github.com/seismolab/scoter/internal/harvest"
	"github.com/seismolab/scoter/internal/model"
)

// The plot commands emit the data an external plotter consumes: the
// dispersion curve for convergence and binned residual counts for
// distributions. No figures are drawn here.

// NewPlotConvergenceCommand creates the plot-convergence command.
func NewPlotConvergenceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "plot-convergence",
		Short:         "Emit a step's dispersion curve",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(opts, cmd, func(c *harvest.Cache, step model.Step, style export.Format, buf *strings.Builder) error {
				points, err := c.Convergence(step)
				if err != nil {
					return err
				}
				return export.Convergence(buf, style, points)
			})
		},
	}

	addExportFlags(cmd, opts)
	return cmd
}

// NewPlotResidualsCommand creates the plot-residuals command.
func NewPlotResidualsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}
	var binWidth, distWidth float64
	var heatmap bool

	cmd := &cobra.Command{
		Use:   "plot-residuals",
		Short: "Emit binned residual counts",
		Long: `Emit binned residual counts for a step's latest event states.

By default a one-dimensional histogram over residual values; with
--heatmap a two-dimensional binning over source-station distance and
residual value.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(opts, cmd, func(c *harvest.Cache, step model.Step, style export.Format, buf *strings.Builder) error {
				if heatmap {
					cells, err := c.ResidualHeatmap(step, distWidth, binWidth)
					if err != nil {
						return err
					}
					return export.Heatmap(buf, style, cells)
				}
				bins, err := c.ResidualHistogram(step, binWidth)
				if err != nil {
					return err
				}
				return export.Histogram(buf, style, bins)
			})
		},
	}

	addExportFlags(cmd, opts)
	cmd.Flags().Float64Var(&binWidth, "bin", 0.1, "residual bin width in seconds")
	cmd.Flags().Float64Var(&distWidth, "dist-bin", 50, "distance bin width in km (heatmap only)")
	cmd.Flags().BoolVar(&heatmap, "heatmap", false, "bin by distance and residual")
	return cmd
}
