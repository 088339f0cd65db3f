// Package pipeline sequences the relocation steps and drives the
// relocate / re-estimate / converge loop for the iterative ones.
//
// State machine per step:
//
//	NotStarted -> Running(step, iteration) -> Converged
//	                                        | MaxIterationsReached
//	                                        | SinglePass (step A)
//
// Per-event relocation failures never abort a step: the event is marked
// failed for the iteration, excluded from term estimation, and the step
// continues. Only store and configuration errors propagate.
package pipeline

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/seismolab/scoter/internal/config"
	"github.com/seismolab/scoter/internal/locator"
	"github.com/seismolab/scoter/internal/model"
	"github.com/seismolab/scoter/internal/rundir"
	"github.com/seismolab/scoter/internal/scheduler"
	"github.com/seismolab/scoter/internal/terms"
)

// Pipeline runs the configured steps against one run directory.
// Exactly one pipeline writes to a run directory at a time; preventing
// concurrent runs is the caller's responsibility.
type Pipeline struct {
	cfg    config.Config
	store  *rundir.Store
	pool   *scheduler.Pool
	worker *locator.Worker
	log    *slog.Logger
	rep    Reporter
	force  bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithForce discards existing on-disk results for each requested step and
// reruns it from iteration 1.
func WithForce(force bool) Option {
	return func(p *Pipeline) { p.force = force }
}

// WithReporter injects a progress observer.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) { p.rep = r }
}

// WithLogger injects the log sink.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New builds a pipeline. The configuration's worker count is resolved
// here, once: -1 becomes the machine's processor count before the pool
// is constructed.
func New(cfg config.Config, store *rundir.Store, engine locator.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:   cfg.Resolve(),
		store: store,
		log:   slog.Default(),
		rep:   NopReporter{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.pool = scheduler.New(p.cfg.Workers, p.log)
	p.worker = locator.NewWorker(engine, p.cfg.MinPicks)
	return p
}

// Run executes the configured steps in order over the input events and
// returns the per-step results, including results loaded from disk for
// steps that were skipped.
func (p *Pipeline) Run(events []model.Event) (map[model.Step]*model.StepResult, error) {
	if len(events) == 0 {
		return nil, &config.ConfigurationError{Message: "no input events"}
	}

	results := make(map[model.Step]*model.StepResult, len(p.cfg.Steps))
	current := cloneAll(events)

	for _, step := range p.cfg.Steps {
		if p.store.Exists(step) && !p.force {
			p.log.Info("step results exist, skipping (use force to rerun)", "step", step)
			existing, err := p.store.ReadStep(step)
			if err != nil {
				return results, fmt.Errorf("reading existing step %s: %w", step, err)
			}
			results[step] = existing
			current = nextInput(existing, current)
			continue
		}
		if p.force {
			if err := p.store.Purge(step); err != nil {
				return results, err
			}
		}

		p.rep.StepStarted(step)
		res, err := p.runStep(step, current, results)
		if err != nil {
			return results, err
		}
		p.rep.StepFinished(step, res.Termination)
		results[step] = res
		current = nextInput(res, current)
	}

	return results, nil
}

// runStep drives one step to a terminal state and persists every
// iteration through the run directory store.
func (p *Pipeline) runStep(step model.Step, events []model.Event, prior map[model.Step]*model.StepResult) (*model.StepResult, error) {
	result := &model.StepResult{Step: step}

	current := model.Identity()
	if step == model.StepC {
		current.Static = p.staticBaseline(prior)
	}

	var prevDispersion *float64
	staticTerms := current.Static

	maxIter := p.cfg.MaxIterations
	if !step.Iterative() {
		maxIter = 1
	}

	for i := 1; i <= maxIter; i++ {
		iterated := p.relocateAll(step, i, events, current)
		located := iterated.Located()

		var dispersion *float64
		if d, ok := terms.Dispersion(iterated.Events); ok {
			dispersion = &d
		} else {
			p.log.Warn("dispersion indeterminate: no residuals this iteration",
				"step", step, "iteration", i)
		}
		iterated.Dispersion = dispersion

		// Estimate the next correction model from this iteration's
		// residuals; failed events contribute nothing.
		switch step {
		case model.StepB:
			staticTerms = terms.Static(located, staticTerms)
			current = model.TermSet{Static: staticTerms}
		case model.StepC:
			current = model.TermSet{
				Static: staticTerms,
				PerEvent: terms.SSST(located, staticTerms, terms.Config{
					Neighbors:       p.cfg.SSST.Neighbors,
					MinNeighbors:    p.cfg.SSST.MinNeighbors,
					DistanceFloorKm: p.cfg.SSST.DistanceFloorKm,
				}),
			}
		}
		iterated.Terms = current

		if err := p.store.WriteIteration(step, iterated); err != nil {
			return nil, fmt.Errorf("step %s iteration %d: %w", step, i, err)
		}
		result.Iterations = append(result.Iterations, iterated)
		p.rep.IterationDone(step, i, len(located), len(iterated.Events)-len(located), dispersion)

		// Relocation input for the next iteration: located events carry
		// their new hypocenters, failed ones are retried from their last
		// known location.
		events = nextIterationInput(iterated, events)

		if !step.Iterative() {
			result.Termination = model.TermSinglePass
			break
		}
		if converged(prevDispersion, dispersion, p.cfg.Tolerance) {
			result.Termination = model.TermConverged
			break
		}
		if i == maxIter {
			result.Termination = model.TermMaxIterations
			break
		}
		prevDispersion = dispersion
	}

	if err := p.store.CommitStep(step, result.Termination); err != nil {
		return nil, err
	}
	return result, nil
}

// relocateAll runs one parallel relocation pass and produces the
// iteration snapshot with every event in a terminal status.
func (p *Pipeline) relocateAll(step model.Step, iteration int, events []model.Event, current model.TermSet) model.Iteration {
	progress := func(done, total int) {
		p.rep.Progress(step, iteration, done, total)
	}
	outcomes := p.pool.Run(events, current, p.worker, progress)

	snapshot := make([]model.Event, len(events))
	for i, ev := range events {
		next := ev.Clone()
		out := outcomes[ev.Name]
		if out.Located {
			next.Status = model.StatusLocated
			next.Hypo = out.Hypo
			next.Residuals = out.Residuals
			next.Distances = out.Distances
			next.FailReason = ""
		} else {
			next.Status = model.StatusFailed
			next.FailReason = out.Reason
			next.Residuals = nil
			next.Distances = nil
		}
		snapshot[i] = next
	}
	return model.Iteration{Index: iteration, Events: snapshot}
}

// staticBaseline returns step C's static term baseline: step B's final
// terms when B ran in this invocation or exists on disk, identity
// otherwise. Running C without B is the caller's configuration choice.
func (p *Pipeline) staticBaseline(prior map[model.Step]*model.StepResult) map[model.TermKey]model.Term {
	if res, ok := prior[model.StepB]; ok {
		if final := res.Final(); final != nil {
			return final.Terms.Static
		}
	}
	if p.store.Exists(model.StepB) {
		if res, err := p.store.ReadStep(model.StepB); err == nil {
			if final := res.Final(); final != nil {
				return final.Terms.Static
			}
		}
	}
	p.log.Info("no static terms available for step C, starting from identity")
	return map[model.TermKey]model.Term{}
}

// converged reports whether the relative change between consecutive
// dispersion statistics is below tolerance. An indeterminate statistic
// on either side means "not yet converged".
func converged(prev, cur *float64, tolerance float64) bool {
	if prev == nil || cur == nil {
		return false
	}
	if *prev == 0 {
		return *cur == 0
	}
	return math.Abs(*cur-*prev)/math.Abs(*prev) < tolerance
}

// nextIterationInput carries relocated hypocenters into the next
// iteration while resetting statuses to pending. Events are matched by
// name, not position: a resumed run may carry a different event set
// than the snapshot on disk.
func nextIterationInput(it model.Iteration, previous []model.Event) []model.Event {
	prior := make(map[string]model.Hypocenter, len(previous))
	for _, ev := range previous {
		prior[ev.Name] = ev.Hypo
	}

	out := make([]model.Event, len(it.Events))
	for i, ev := range it.Events {
		next := ev.Clone()
		if ev.Status == model.StatusFailed {
			// Retry from the last known location; an event absent from
			// the previous set keeps the snapshot's own hypocenter.
			if hypo, ok := prior[ev.Name]; ok {
				next.Hypo = hypo
			}
		}
		next.Status = model.StatusPending
		out[i] = next
	}
	return out
}

// nextInput derives the next step's input events from a finished (or
// loaded) step result, falling back to the current set when the result
// holds no iterations.
func nextInput(res *model.StepResult, current []model.Event) []model.Event {
	final := res.Final()
	if final == nil {
		return current
	}
	return nextIterationInput(*final, current)
}

func cloneAll(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
		out[i].Status = model.StatusPending
	}
	return out
}
