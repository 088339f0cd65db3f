package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seismolab/scoter/internal/config"
	"github.com/seismolab/scoter/internal/locator"
	"github.com/seismolab/scoter/internal/model"
	"github.com/seismolab/scoter/internal/nlloc"
	"github.com/seismolab/scoter/internal/pipeline"
	"github.com/seismolab/scoter/internal/rundir"
)

// GoOptions holds flags for the go command.
type GoOptions struct {
	*RootOptions
	Config string
	Force  bool

	// Engine allows overriding the external locator (for testing).
	// If nil, an ExecEngine is built from the configuration.
	Engine locator.Engine
}

// NewGoCommand creates the go command.
func NewGoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "go <run-dir>",
		Short: "Run the relocation pipeline",
		Long: `Run the configured relocation steps against a run directory.

Events are ingested from the configured bulletin directory, one
NonLinLoc phase file per event. Completed steps already present in the
run directory are skipped unless --force is given.

Example:
  scoter go --config run.cue ./runs/java2009
  scoter go --config run.cue --force ./runs/java2009 --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to CUE run configuration (required)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "purge and rerun steps that already completed")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runPipeline(opts *GoOptions, runDir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(log)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	events, err := ingestBulletins(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to ingest bulletins", err)
	}
	log.Info("bulletins ingested", "events", len(events))

	store, err := rundir.Open(runDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open run directory", err)
	}
	if err := store.StampConfig(cfg); err != nil {
		return WrapExitError(ExitCommandError, "failed to stamp configuration", err)
	}
	log.Info("run directory ready", "dir", store.Dir(), "run_id", store.Meta().ID)

	engine := opts.Engine
	if engine == nil {
		if strings.TrimSpace(cfg.Locator) == "" {
			return NewExitError(ExitCommandError, "configuration sets no locator command")
		}
		engine = &locator.ExecEngine{Command: cfg.Locator, Delimiter: cfg.Delimiter}
	}

	p := pipeline.New(cfg, store, engine,
		pipeline.WithForce(opts.Force),
		pipeline.WithLogger(log),
		pipeline.WithReporter(pipeline.LogReporter{Log: log}),
	)

	results, err := p.Run(events)
	if err != nil {
		return WrapExitError(ExitFailure, "pipeline failed", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	return formatter.Success(summarize(results))
}

// ingestBulletins reads one event per phase file from the configured
// bulletin directory. The file base name, minus extension, names the
// event.
func ingestBulletins(cfg config.Config) ([]model.Event, error) {
	if cfg.Bulletins == "" {
		return nil, fmt.Errorf("configuration sets no bulletin directory")
	}

	entries, err := os.ReadDir(cfg.Bulletins)
	if err != nil {
		return nil, err
	}

	var events []model.Event
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(cfg.Bulletins, entry.Name())
		picks, err := nlloc.LoadObs(path, cfg.Delimiter)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		events = append(events, model.Event{
			Name:   name,
			Picks:  picks,
			Status: model.StatusPending,
		})
	}
	return events, nil
}

// StepSummary is the per-step payload reported after a run.
type StepSummary struct {
	Step        string `json:"step"`
	Termination string `json:"termination"`
	Iterations  int    `json:"iterations"`
	Located     int    `json:"located"`
	Failed      int    `json:"failed"`
}

func summarize(results map[model.Step]*model.StepResult) []StepSummary {
	steps := make([]model.Step, 0, len(results))
	for step := range results {
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })

	out := make([]StepSummary, 0, len(steps))
	for _, step := range steps {
		res := results[step]
		summary := StepSummary{
			Step:        string(step),
			Termination: string(res.Termination),
			Iterations:  len(res.Iterations),
		}
		if final := res.Final(); final != nil {
			for _, ev := range final.Events {
				switch ev.Status {
				case model.StatusLocated:
					summary.Located++
				case model.StatusFailed:
					summary.Failed++
				}
			}
		}
		out = append(out, summary)
	}
	return out
}
