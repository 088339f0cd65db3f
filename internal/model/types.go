package model

import "fmt"

// Step names a phase of the relocation workflow.
//
// The three steps differ only in which station terms they apply:
//   - StepA: plain single-event location, no terms, single pass
//   - StepB: static per-(station, phase) terms, iterative
//   - StepC: source-specific (per-event) terms, iterative
type Step string

const (
	StepA Step = "A"
	StepB Step = "B"
	StepC Step = "C"
)

// ValidSteps defines the allowed step names.
var ValidSteps = map[Step]bool{StepA: true, StepB: true, StepC: true}

// Iterative reports whether the step runs the relocate/re-estimate loop.
// Step A is a single pass with empty terms.
func (s Step) Iterative() bool {
	return s == StepB || s == StepC
}

// Status is the per-event relocation state within an iteration.
//
// Every event in a committed iteration has exactly one terminal status:
// located or failed, never both, never pending.
type Status string

const (
	StatusPending Status = "pending"
	StatusLocated Status = "located"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusLocated || s == StatusFailed
}

// Termination records why a step's iteration loop stopped.
type Termination string

const (
	// TermConverged means the relative change in the dispersion statistic
	// fell below the configured tolerance.
	TermConverged Termination = "converged"

	// TermMaxIterations means the configured iteration cap was reached
	// before convergence. A successful stop, reported distinctly.
	TermMaxIterations Termination = "max-iterations"

	// TermSinglePass is the termination of step A, which has no loop.
	TermSinglePass Termination = "single-pass"
)

// Pick is one observed phase arrival at a station. Immutable once ingested.
type Pick struct {
	Station string  `yaml:"station"`
	Network string  `yaml:"network,omitempty"`
	Phase   string  `yaml:"phase"`
	Time    float64 `yaml:"time"` // epoch seconds
}

// Key returns the station-term key this pick contributes to.
func (p Pick) Key() TermKey {
	return TermKey{Station: p.Station, Phase: p.Phase}
}

// Hypocenter is an event location estimate.
type Hypocenter struct {
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	DepthKm float64 `yaml:"depth_km"`
	Time    float64 `yaml:"time"` // origin time, epoch seconds
}

// Event is one seismic event owned by a run. It is created from an input
// bulletin, mutated exactly once per relocation pass, and snapshotted into
// each committed iteration.
type Event struct {
	Name      string              `yaml:"name"`
	Hypo      Hypocenter          `yaml:"hypocenter"`
	Picks     []Pick              `yaml:"picks"`
	Residuals map[TermKey]float64 `yaml:"residuals,omitempty"`

	// Distances holds the source-station distance (km) reported by the
	// locator for each pick it used. Read by the harvest heat-map query.
	Distances map[TermKey]float64 `yaml:"distances,omitempty"`

	Status     Status `yaml:"status"`
	FailReason string `yaml:"fail_reason,omitempty"`
}

// Clone returns a deep copy. Workers receive private copies so the
// scheduler never shares mutable event state across goroutines.
func (e Event) Clone() Event {
	out := e
	out.Picks = make([]Pick, len(e.Picks))
	copy(out.Picks, e.Picks)
	if e.Residuals != nil {
		out.Residuals = make(map[TermKey]float64, len(e.Residuals))
		for k, v := range e.Residuals {
			out.Residuals[k] = v
		}
	}
	if e.Distances != nil {
		out.Distances = make(map[TermKey]float64, len(e.Distances))
		for k, v := range e.Distances {
			out.Distances[k] = v
		}
	}
	return out
}

// TermKey identifies a station correction term: one (station, phase) pair.
type TermKey struct {
	Station string `yaml:"station"`
	Phase   string `yaml:"phase"`
}

func (k TermKey) String() string {
	return fmt.Sprintf("%s/%s", k.Station, k.Phase)
}

// Term is a travel-time correction in seconds plus the number of residuals
// that produced it. Count zero means identity: no information, never
// "zero seconds with confidence".
type Term struct {
	Correction float64 `yaml:"correction"`
	Count      int     `yaml:"count"`
}

// TermSet is the correction model for one iteration.
//
// Static holds the per-(station, phase) terms shared by all events.
// PerEvent holds source-specific terms keyed by event name; it is nil
// except in step C. Workers treat a TermSet as read-only.
type TermSet struct {
	Static   map[TermKey]Term            `yaml:"static,omitempty"`
	PerEvent map[string]map[TermKey]Term `yaml:"per_event,omitempty"`
}

// Identity returns an empty term set (no corrections).
func Identity() TermSet {
	return TermSet{Static: map[TermKey]Term{}}
}

// Lookup returns the correction applied to (event, key): the event's
// source-specific term when one exists, otherwise the static term,
// otherwise zero.
func (t TermSet) Lookup(eventName string, key TermKey) float64 {
	if ev, ok := t.PerEvent[eventName]; ok {
		if term, ok := ev[key]; ok && term.Count > 0 {
			return term.Correction
		}
	}
	if term, ok := t.Static[key]; ok && term.Count > 0 {
		return term.Correction
	}
	return 0
}

// Iteration is the committed snapshot of one relocate-then-estimate cycle.
// Index is 1-based and contiguous within a step. Immutable once committed.
type Iteration struct {
	Index      int      `yaml:"index"`
	Events     []Event  `yaml:"events"`
	Terms      TermSet  `yaml:"terms"`
	Dispersion *float64 `yaml:"dispersion,omitempty"` // SMAD; nil when indeterminate
}

// Located returns the events with terminal status located.
func (it Iteration) Located() []Event {
	var out []Event
	for _, ev := range it.Events {
		if ev.Status == StatusLocated {
			out = append(out, ev)
		}
	}
	return out
}

// StepResult is a step's complete outcome: its ordered iterations and the
// termination record.
type StepResult struct {
	Step        Step        `yaml:"step"`
	Iterations  []Iteration `yaml:"-"`
	Termination Termination `yaml:"termination"`
}

// Final returns the last committed iteration, or nil if none exist.
func (r *StepResult) Final() *Iteration {
	if len(r.Iterations) == 0 {
		return nil
	}
	return &r.Iterations[len(r.Iterations)-1]
}
