package pipeline_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seismolab/scoter/internal/config"
	"github.com/seismolab/scoter/internal/locator"
	"github.com/seismolab/scoter/internal/model"
	"github.com/seismolab/scoter/internal/pipeline"
	"github.com/seismolab/scoter/internal/rundir"
	"github.com/seismolab/scoter/internal/testutil"
)

var stationKeys = testutil.Keys("UGM", "P", "PMBI", "S", "SOCY", "P", "MDSI", "S")

// residualsSpread builds a residual set whose SMAD is spread * 1.4826:
// symmetric values around zero with median absolute deviation spread.
func residualsSpread(spread float64) map[model.TermKey]float64 {
	return map[model.TermKey]float64{
		stationKeys[0]: -spread,
		stationKeys[1]: 0,
		stationKeys[2]: spread,
	}
}

func baseConfig(steps ...model.Step) config.Config {
	cfg := config.Default()
	cfg.Steps = steps
	cfg.MinPicks = 1
	return cfg
}

func newStore(t *testing.T) *rundir.Store {
	t.Helper()
	s, err := rundir.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestRun_StepA_SinglePass(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	ev := testutil.Event("ev1", 0, 0, stationKeys...)
	eng.Script("ev1", testutil.Result(0.1, 0.1, residualsSpread(1)))

	store := newStore(t)
	p := pipeline.New(baseConfig(model.StepA), store, eng)

	results, err := p.Run([]model.Event{ev})
	require.NoError(t, err)

	res := results[model.StepA]
	require.NotNil(t, res)
	assert.Equal(t, model.TermSinglePass, res.Termination)
	require.Len(t, res.Iterations, 1)
	assert.Equal(t, []string{"ev1"}, eng.Calls(), "step A is one pass, no loop")

	onDisk, err := store.ReadStep(model.StepA)
	require.NoError(t, err)
	assert.Equal(t, model.TermSinglePass, onDisk.Termination)
}

func TestRun_StepB_ConvergesOnRelativeSMADChange(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	ev := testutil.Event("ev1", 0, 0, stationKeys...)
	// SMAD sequence S, S*1.005: relative change 0.005 < tolerance 0.01,
	// so the pipeline must report Converged after the second iteration.
	eng.Script("ev1",
		testutil.Result(0.1, 0.1, residualsSpread(1.00)),
		testutil.Result(0.1, 0.1, residualsSpread(1.005)),
	)

	cfg := baseConfig(model.StepB)
	cfg.Tolerance = 0.01
	store := newStore(t)

	results, err := pipeline.New(cfg, store, eng).Run([]model.Event{ev})
	require.NoError(t, err)

	res := results[model.StepB]
	assert.Equal(t, model.TermConverged, res.Termination)
	assert.Len(t, res.Iterations, 2)
}

func TestRun_StepB_MaxIterationsExactly(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	ev := testutil.Event("ev1", 0, 0, stationKeys...)
	// Dispersion alternates and never stabilizes.
	for i := 0; i < 10; i++ {
		spread := 1.0
		if i%2 == 1 {
			spread = 2.0
		}
		eng.Script("ev1", testutil.Result(0.1, 0.1, residualsSpread(spread)))
	}

	cfg := baseConfig(model.StepB)
	cfg.MaxIterations = 5
	store := newStore(t)

	results, err := pipeline.New(cfg, store, eng).Run([]model.Event{ev})
	require.NoError(t, err)

	res := results[model.StepB]
	assert.Equal(t, model.TermMaxIterations, res.Termination)
	assert.Len(t, res.Iterations, 5, "must stop at exactly the iteration cap")

	onDisk, err := store.ReadStep(model.StepB)
	require.NoError(t, err)
	assert.Len(t, onDisk.Iterations, 5, "iteration 6 must never exist")
}

func TestRun_IterationIndicesContiguousDespiteFailures(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	ev := testutil.Event("ev1", 0, 0, stationKeys...)
	eng.FailNext("ev1", 1) // iteration 1 fails, later ones succeed
	eng.Script("ev1", testutil.Result(0.1, 0.1, residualsSpread(1)))

	cfg := baseConfig(model.StepB)
	cfg.MaxIterations = 3
	store := newStore(t)

	_, err := pipeline.New(cfg, store, eng).Run([]model.Event{ev})
	require.NoError(t, err)

	onDisk, err := store.ReadStep(model.StepB)
	require.NoError(t, err)
	for i, it := range onDisk.Iterations {
		assert.Equal(t, i+1, it.Index)
	}
}

func TestRun_EveryEventTerminalEachIteration(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	events := make([]model.Event, 10)
	for i := range events {
		name := fmt.Sprintf("ev%d", i)
		events[i] = testutil.Event(name, float64(i), 0, stationKeys...)
		eng.Script(name, testutil.Result(float64(i), 0.1, residualsSpread(1)))
	}
	eng.FailNext("ev4", 100) // ev4 fails every iteration

	cfg := baseConfig(model.StepB)
	cfg.MaxIterations = 2
	store := newStore(t)

	_, err := pipeline.New(cfg, store, eng).Run(events)
	require.NoError(t, err)

	onDisk, err := store.ReadStep(model.StepB)
	require.NoError(t, err)
	for _, it := range onDisk.Iterations {
		located, failed := 0, 0
		for _, ev := range it.Events {
			require.True(t, ev.Status.Terminal(), "event %s not terminal", ev.Name)
			if ev.Status == model.StatusLocated {
				located++
			} else {
				failed++
			}
		}
		assert.Equal(t, 10, located+failed)
		assert.Equal(t, 9, located, "one failure must not block the other nine")
		assert.Equal(t, 1, failed)
	}
}

func TestRun_SkipsExistingStepWithoutForce(t *testing.T) {
	store := newStore(t)
	ev := testutil.Event("ev1", 0, 0, stationKeys...)

	eng1 := testutil.NewScriptedEngine()
	eng1.Script("ev1", testutil.Result(0.1, 0.1, residualsSpread(1)))
	_, err := pipeline.New(baseConfig(model.StepA), store, eng1).Run([]model.Event{ev})
	require.NoError(t, err)

	// Second run: results exist, the scheduler must never be invoked.
	eng2 := testutil.NewScriptedEngine()
	results, err := pipeline.New(baseConfig(model.StepA), store, eng2).Run([]model.Event{ev})
	require.NoError(t, err)

	assert.Empty(t, eng2.Calls(), "existing step must be skipped entirely")
	require.NotNil(t, results[model.StepA], "skipped step still reports its on-disk result")
	assert.Len(t, results[model.StepA].Iterations, 1)
}

func TestRun_ResumeWithFewerEvents(t *testing.T) {
	store := newStore(t)

	// First run: ev2 fails every iteration, both events committed.
	eng1 := testutil.NewScriptedEngine()
	eng1.Script("ev1", testutil.Result(0.1, 0.1, residualsSpread(1)))
	eng1.FailNext("ev2", 100)
	_, err := pipeline.New(baseConfig(model.StepA), store, eng1).Run([]model.Event{
		testutil.Event("ev1", 0, 0, stationKeys...),
		testutil.Event("ev2", 0, 0, stationKeys...),
	})
	require.NoError(t, err)

	// ev2's bulletin is gone on the rerun; the skipped step must still
	// be served from disk, matched by event name.
	eng2 := testutil.NewScriptedEngine()
	results, err := pipeline.New(baseConfig(model.StepA), store, eng2).Run([]model.Event{
		testutil.Event("ev1", 0, 0, stationKeys...),
	})
	require.NoError(t, err)

	assert.Empty(t, eng2.Calls())
	res := results[model.StepA]
	require.NotNil(t, res)
	final := res.Final()
	require.NotNil(t, final)
	assert.Len(t, final.Events, 2, "on-disk snapshot keeps its own event set")
}

func TestRun_ForceRerunsFromIterationOne(t *testing.T) {
	store := newStore(t)
	ev := testutil.Event("ev1", 0, 0, stationKeys...)

	eng1 := testutil.NewScriptedEngine()
	eng1.Script("ev1", testutil.Result(0.1, 0.1, residualsSpread(1)))
	_, err := pipeline.New(baseConfig(model.StepA), store, eng1).Run([]model.Event{ev})
	require.NoError(t, err)

	eng2 := testutil.NewScriptedEngine()
	eng2.Script("ev1", testutil.Result(0.2, 0.2, residualsSpread(1)))
	results, err := pipeline.New(baseConfig(model.StepA), store, eng2, pipeline.WithForce(true)).Run([]model.Event{ev})
	require.NoError(t, err)

	assert.Equal(t, []string{"ev1"}, eng2.Calls())
	final := results[model.StepA].Final()
	require.NotNil(t, final)
	assert.InDelta(t, 0.2, final.Events[0].Hypo.Lat, 1e-12)
}

func TestRun_IndeterminateDispersionKeepsIterating(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	ev := testutil.Event("ev1", 0, 0, stationKeys...)
	// Iteration 1: relocation fails -> no residuals -> indeterminate
	// dispersion, which must mean "continue", not "error" or "converged".
	eng.FailNext("ev1", 1)
	eng.Script("ev1", testutil.Result(0.1, 0.1, residualsSpread(1)))

	cfg := baseConfig(model.StepB)
	cfg.MaxIterations = 4
	store := newStore(t)

	results, err := pipeline.New(cfg, store, eng).Run([]model.Event{ev})
	require.NoError(t, err)

	res := results[model.StepB]
	// Iterations: 1 failed (nil), 2 S, 3 S -> converged at 3.
	assert.Equal(t, model.TermConverged, res.Termination)
	assert.Len(t, res.Iterations, 3)
	assert.Nil(t, res.Iterations[0].Dispersion)
}

func TestRun_StepC_UsesStaticBaselineFromB(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	events := make([]model.Event, 6)
	for i := range events {
		name := fmt.Sprintf("ev%d", i)
		events[i] = testutil.Event(name, float64(i)*0.1, 0, stationKeys...)
		eng.Script(name, testutil.Result(float64(i)*0.1, 0.1, residualsSpread(1)))
	}

	cfg := baseConfig(model.StepB, model.StepC)
	cfg.MaxIterations = 2
	cfg.SSST.MinNeighbors = 1
	cfg.SSST.Neighbors = 3
	store := newStore(t)

	results, err := pipeline.New(cfg, store, eng).Run(events)
	require.NoError(t, err)

	resB := results[model.StepB]
	resC := results[model.StepC]
	require.NotNil(t, resB)
	require.NotNil(t, resC)

	finalC := resC.Final()
	require.NotNil(t, finalC)
	// C's terms carry B's static baseline plus per-event SSST terms.
	assert.Equal(t, resB.Final().Terms.Static, finalC.Terms.Static)
	assert.NotEmpty(t, finalC.Terms.PerEvent)
}

func TestRun_NoEventsIsConfigurationError(t *testing.T) {
	store := newStore(t)
	_, err := pipeline.New(baseConfig(model.StepA), store, testutil.NewScriptedEngine()).Run(nil)
	var cerr *config.ConfigurationError
	require.ErrorAs(t, err, &cerr)
}

func TestRun_StaticTermsAppliedInLaterIterations(t *testing.T) {
	// One event whose residuals are constant 0.5 for a single station:
	// after iteration 1 the static term becomes 0.5 and must be applied
	// (subtracted from the observed pick time) in iteration 2.
	key := model.TermKey{Station: "UGM", Phase: "P"}
	eng := &pickCapture{inner: testutil.NewScriptedEngine()}
	eng.inner.Script("ev1", testutil.Result(0.1, 0.1, map[model.TermKey]float64{key: 0.5}))

	ev := model.Event{
		Name:   "ev1",
		Picks:  []model.Pick{{Station: "UGM", Phase: "P", Time: 100}},
		Status: model.StatusPending,
	}

	cfg := baseConfig(model.StepB)
	cfg.MaxIterations = 2
	store := newStore(t)

	_, err := pipeline.New(cfg, store, eng).Run([]model.Event{ev})
	require.NoError(t, err)

	require.Len(t, eng.picks, 2)
	assert.InDelta(t, 100.0, eng.picks[0], 1e-12, "iteration 1 runs with identity terms")
	assert.InDelta(t, 99.5, eng.picks[1], 1e-12, "iteration 2 applies the estimated static term")
}

// pickCapture records the first pick time of every Locate call.
type pickCapture struct {
	inner *testutil.ScriptedEngine
	picks []float64
}

func (c *pickCapture) Locate(req locator.Request) (locator.Result, error) {
	c.picks = append(c.picks, req.Picks[0].Time)
	return c.inner.Locate(req)
}
