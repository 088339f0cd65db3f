// Package testutil provides deterministic doubles for pipeline tests:
// a scriptable single-event locator and event fixtures.
package testutil

import (
	"fmt"
	"sync"

	"github.com/seismolab/scoter/internal/locator"
	"github.com/seismolab/scoter/internal/model"
)

// ScriptedEngine is a locator.Engine that answers from a per-event script.
//
// Events without a script entry fail with an engine error, so tests that
// forget a fixture fail loudly instead of silently locating at the origin.
//
// Thread-safe: the scheduler calls Locate from worker goroutines.
type ScriptedEngine struct {
	mu      sync.Mutex
	scripts map[string][]locator.Result // successive results per event
	fail    map[string]int              // remaining failures before success
	calls   []string
}

// NewScriptedEngine returns an empty scripted engine.
func NewScriptedEngine() *ScriptedEngine {
	return &ScriptedEngine{
		scripts: make(map[string][]locator.Result),
		fail:    make(map[string]int),
	}
}

// Script appends results returned for the named event, one per call.
// The last result repeats once the script is exhausted.
func (e *ScriptedEngine) Script(event string, results ...locator.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[event] = append(e.scripts[event], results...)
}

// FailNext makes the next n Locate calls for the event fail with a
// non-convergence error before any scripted results are served.
func (e *ScriptedEngine) FailNext(event string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail[event] = n
}

// Calls returns the event names in the order Locate was invoked.
func (e *ScriptedEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// Locate implements locator.Engine.
func (e *ScriptedEngine) Locate(req locator.Request) (locator.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, req.EventName)

	if n := e.fail[req.EventName]; n > 0 {
		e.fail[req.EventName] = n - 1
		return locator.Result{}, fmt.Errorf("locator did not converge for %s", req.EventName)
	}

	script := e.scripts[req.EventName]
	if len(script) == 0 {
		return locator.Result{}, fmt.Errorf("no scripted result for %s", req.EventName)
	}

	res := script[0]
	if len(script) > 1 {
		e.scripts[req.EventName] = script[1:]
	}
	return res, nil
}

// Result builds a scripted result with a hypocenter at (lat, lon) and the
// given residual per (station, phase) key. Source-station distances are
// synthesized at 50 km per key.
func Result(lat, lon float64, residuals map[model.TermKey]float64) locator.Result {
	distances := make(map[model.TermKey]float64, len(residuals))
	for k := range residuals {
		distances[k] = 50
	}
	return locator.Result{
		Hypo:      model.Hypocenter{Lat: lat, Lon: lon, DepthKm: 10},
		Residuals: residuals,
		Distances: distances,
	}
}

// Event builds an event fixture with picks for the given (station, phase)
// keys, spaced one second apart.
func Event(name string, lat, lon float64, keys ...model.TermKey) model.Event {
	picks := make([]model.Pick, len(keys))
	for i, k := range keys {
		picks[i] = model.Pick{Station: k.Station, Phase: k.Phase, Time: float64(i)}
	}
	return model.Event{
		Name:   name,
		Hypo:   model.Hypocenter{Lat: lat, Lon: lon, DepthKm: 10},
		Picks:  picks,
		Status: model.StatusPending,
	}
}

// Keys is shorthand for building term keys.
func Keys(pairs ...string) []model.TermKey {
	keys := make([]model.TermKey, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		keys = append(keys, model.TermKey{Station: pairs[i], Phase: pairs[i+1]})
	}
	return keys
}
