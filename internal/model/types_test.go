package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyUGM = TermKey{Station: "UGM", Phase: "P"}

func TestStep_Iterative(t *testing.T) {
	assert.False(t, StepA.Iterative())
	assert.True(t, StepB.Iterative())
	assert.True(t, StepC.Iterative())
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusLocated.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestEvent_CloneIsIndependent(t *testing.T) {
	orig := Event{
		Name:      "ev1",
		Hypo:      Hypocenter{Lat: 1, Lon: 2, DepthKm: 3, Time: 4},
		Picks:     []Pick{{Station: "UGM", Phase: "P", Time: 100}},
		Residuals: map[TermKey]float64{keyUGM: 0.1},
		Distances: map[TermKey]float64{keyUGM: 40},
		Status:    StatusLocated,
	}

	clone := orig.Clone()
	clone.Picks[0].Time = 999
	clone.Residuals[keyUGM] = 9
	clone.Distances[keyUGM] = 9
	clone.Hypo.Lat = 9

	assert.Equal(t, 100.0, orig.Picks[0].Time)
	assert.Equal(t, 0.1, orig.Residuals[keyUGM])
	assert.Equal(t, 40.0, orig.Distances[keyUGM])
	assert.Equal(t, 1.0, orig.Hypo.Lat)
}

func TestTermSet_LookupPrecedence(t *testing.T) {
	ts := TermSet{
		Static: map[TermKey]Term{keyUGM: {Correction: 0.5, Count: 10}},
		PerEvent: map[string]map[TermKey]Term{
			"ev1": {keyUGM: {Correction: 0.2, Count: 3}},
		},
	}

	assert.Equal(t, 0.2, ts.Lookup("ev1", keyUGM), "per-event term wins")
	assert.Equal(t, 0.5, ts.Lookup("ev2", keyUGM), "no per-event entry falls back to static")
	assert.Equal(t, 0.0, ts.Lookup("ev1", TermKey{Station: "BKS", Phase: "P"}))
}

func TestTermSet_ZeroCountIsIdentity(t *testing.T) {
	ts := TermSet{
		Static: map[TermKey]Term{keyUGM: {Correction: 0.5, Count: 0}},
	}
	assert.Equal(t, 0.0, ts.Lookup("ev1", keyUGM), "a zero-count term never corrects")
}

func TestTermSet_Identity(t *testing.T) {
	ts := Identity()
	assert.Empty(t, ts.Static)
	assert.Empty(t, ts.PerEvent)
	assert.Equal(t, 0.0, ts.Lookup("ev1", keyUGM))
}

func TestIteration_Located(t *testing.T) {
	it := Iteration{
		Index: 1,
		Events: []Event{
			{Name: "ev1", Status: StatusLocated},
			{Name: "ev2", Status: StatusFailed},
			{Name: "ev3", Status: StatusLocated},
		},
	}

	located := it.Located()
	require.Len(t, located, 2)
	assert.Equal(t, "ev1", located[0].Name)
	assert.Equal(t, "ev3", located[1].Name)
}

func TestStepResult_Final(t *testing.T) {
	res := &StepResult{
		Step:        StepB,
		Iterations:  []Iteration{{Index: 1}, {Index: 2}},
		Termination: TermConverged,
	}
	require.NotNil(t, res.Final())
	assert.Equal(t, 2, res.Final().Index)

	empty := &StepResult{Step: StepB}
	assert.Nil(t, empty.Final())
}
