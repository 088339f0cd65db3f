// Package locator defines the boundary to the external single-event
// location engine and the per-event relocation worker built on it.
//
// The engine itself (travel-time computation, inversion) is an external
// collaborator; this package only honors its call contract.
package locator

import (
	"github.com/seismolab/scoter/internal/model"
)

// Request is one single-event location call: the event's picks with the
// current station corrections already applied as additive adjustments to
// the observed arrival times.
type Request struct {
	EventName string
	Picks     []model.Pick
	Hint      model.Hypocenter // previous location, engines may use it as a starting point
}

// Result is a successful location: the new hypocenter, the per-pick
// travel-time residuals (observed minus predicted, after corrections),
// and the source-station distance in kilometers for each pick used.
type Result struct {
	Hypo      model.Hypocenter
	Residuals map[model.TermKey]float64
	Distances map[model.TermKey]float64
}

// Engine is the external single-event locator.
//
// Implementations report non-convergence and engine faults through the
// error return; the worker converts those into per-event failures rather
// than letting them propagate.
type Engine interface {
	Locate(req Request) (Result, error)
}
