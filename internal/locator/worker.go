package locator

import (
	"fmt"

	"github.com/seismolab/scoter/internal/model"
)

// Outcome is the explicit per-event result type: exactly one of a located
// event or a failure reason. Failure is data, never a control-flow error
// crossing the parallel boundary.
type Outcome struct {
	EventName string
	Located   bool
	Hypo      model.Hypocenter
	Residuals map[model.TermKey]float64
	Distances map[model.TermKey]float64
	Reason    string
}

// Worker relocates one event at a time against an Engine.
type Worker struct {
	engine   Engine
	minPicks int
}

// NewWorker returns a worker that fails events with fewer than minPicks
// usable picks instead of calling the engine.
func NewWorker(engine Engine, minPicks int) *Worker {
	return &Worker{engine: engine, minPicks: minPicks}
}

// Relocate runs one single-event location with the given correction
// model. The event is read-only; terms are shared and read-only. The
// returned outcome is always terminal.
func (w *Worker) Relocate(ev model.Event, terms model.TermSet) Outcome {
	corrected := make([]model.Pick, 0, len(ev.Picks))
	for _, p := range ev.Picks {
		// Station terms are additive corrections to the predicted travel
		// time; applying them to the observed arrival is equivalent and
		// keeps the engine contract untouched.
		p.Time -= terms.Lookup(ev.Name, p.Key())
		corrected = append(corrected, p)
	}

	if len(corrected) < w.minPicks {
		return Outcome{
			EventName: ev.Name,
			Reason:    fmt.Sprintf("only %d usable picks, need %d", len(corrected), w.minPicks),
		}
	}

	res, err := w.engine.Locate(Request{
		EventName: ev.Name,
		Picks:     corrected,
		Hint:      ev.Hypo,
	})
	if err != nil {
		return Outcome{EventName: ev.Name, Reason: err.Error()}
	}

	return Outcome{
		EventName: ev.Name,
		Located:   true,
		Hypo:      res.Hypo,
		Residuals: res.Residuals,
		Distances: res.Distances,
	}
}
