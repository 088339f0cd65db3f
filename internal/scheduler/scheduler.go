// Package scheduler fans one relocation iteration out over a bounded
// worker pool and collects per-event terminal outcomes.
//
// Thread-safety model:
//   - workers receive private event copies and the shared, read-only
//     term set; they never touch shared mutable state
//   - outcomes are collected by event identity in a single fan-in
//     goroutine, so the committed result is independent of completion
//     order
//   - one event's failure never affects another's: failures arrive as
//     locator.Outcome values, not errors
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/seismolab/scoter/internal/locator"
	"github.com/seismolab/scoter/internal/model"
)

// Progress receives monotonically increasing completion counts. It may be
// nil. Callbacks fire from the fan-in goroutine; their timing carries no
// guarantee beyond monotonic counts and they never affect results.
type Progress func(completed, total int)

// Pool runs per-event relocations with a fixed number of workers.
// The worker count is resolved by configuration before construction;
// the pool never inspects the machine.
type Pool struct {
	workers int
	log     *slog.Logger
}

// New returns a pool of the given size. Size 1 is the deterministic
// sequential baseline.
func New(workers int, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{workers: workers, log: log}
}

// Workers returns the resolved pool size.
func (p *Pool) Workers() int { return p.workers }

// Run relocates every event and returns a terminal outcome per event,
// keyed by event name. It always returns exactly len(events) outcomes.
func (p *Pool) Run(events []model.Event, terms model.TermSet, w *locator.Worker, progress Progress) map[string]locator.Outcome {
	total := len(events)
	outcomes := make(map[string]locator.Outcome, total)
	if total == 0 {
		return outcomes
	}

	jobs := make(chan model.Event, total)
	results := make(chan locator.Outcome, total)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range jobs {
				// Private copy: the worker owns its picks for the call.
				results <- w.Relocate(ev.Clone(), terms)
			}
		}()
	}

	for _, ev := range events {
		jobs <- ev
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single-threaded fan-in: all mutation of the outcome map and all
	// progress callbacks happen here.
	done := 0
	for out := range results {
		outcomes[out.EventName] = out
		done++
		if !out.Located {
			p.log.Debug("event relocation failed",
				"event", out.EventName,
				"reason", out.Reason,
			)
		}
		if progress != nil {
			progress(done, total)
		}
	}

	return outcomes
}
