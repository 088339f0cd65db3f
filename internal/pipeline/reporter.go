package pipeline

import (
	"log/slog"

	"github.com/seismolab/scoter/internal/model"
)

// Reporter observes pipeline progress. It is injected at construction;
// the pipeline itself holds no global mutable reporting state.
//
// Callbacks never influence results or ordering. Progress counts within
// an iteration are monotonic; no other timing guarantee is made.
type Reporter interface {
	StepStarted(step model.Step)
	Progress(step model.Step, iteration, completed, total int)
	IterationDone(step model.Step, iteration int, located, failed int, dispersion *float64)
	StepFinished(step model.Step, term model.Termination)
}

// NopReporter discards all notifications.
type NopReporter struct{}

func (NopReporter) StepStarted(model.Step) {}
func (NopReporter) Progress(model.Step, int, int, int) {}
func (NopReporter) IterationDone(model.Step, int, int, int, *float64) {}
func (NopReporter) StepFinished(model.Step, model.Termination) {}

// LogReporter forwards notifications to a slog logger. The CLI installs
// this as the process-wide default at the outermost entry point.
type LogReporter struct {
	Log *slog.Logger
}

func (r LogReporter) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r LogReporter) StepStarted(step model.Step) {
	r.logger().Info("step started", "step", step)
}

func (r LogReporter) Progress(step model.Step, iteration, completed, total int) {
	r.logger().Debug("relocation progress",
		"step", step, "iteration", iteration, "completed", completed, "total", total)
}

func (r LogReporter) IterationDone(step model.Step, iteration, located, failed int, dispersion *float64) {
	args := []any{"step", step, "iteration", iteration, "located", located, "failed", failed}
	if dispersion != nil {
		args = append(args, "smad", *dispersion)
	}
	r.logger().Info("iteration committed", args...)
}

func (r LogReporter) StepFinished(step model.Step, term model.Termination) {
	r.logger().Info("step finished", "step", step, "termination", term)
}
