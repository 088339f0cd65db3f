package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

func digestFixture() Iteration {
	d := 0.8
	return Iteration{
		Index: 2,
		Events: []Event{{
			Name:      "ev1",
			Hypo:      Hypocenter{Lat: -7.5, Lon: 110.4, DepthKm: 10, Time: 1e9},
			Picks:     []Pick{{Station: "UGM", Network: "GE", Phase: "P", Time: 1e9 + 30}},
			Residuals: map[TermKey]float64{keyUGM: 0.1},
			Distances: map[TermKey]float64{keyUGM: 40},
			Status:    StatusLocated,
		}},
		Terms: TermSet{
			Static: map[TermKey]Term{keyUGM: {Correction: 0.1, Count: 1}},
		},
		Dispersion: &d,
	}
}

func TestDigest_Deterministic(t *testing.T) {
	a := digestFixture()
	b := digestFixture()
	assert.Equal(t, a.Digest(), b.Digest())
	assert.Len(t, a.Digest(), 64)
}

func TestDigest_SensitiveToContent(t *testing.T) {
	base := digestFixture().Digest()

	changed := digestFixture()
	changed.Events[0].Residuals[keyUGM] = 0.2
	assert.NotEqual(t, base, changed.Digest())

	changed = digestFixture()
	changed.Index = 3
	assert.NotEqual(t, base, changed.Digest())

	changed = digestFixture()
	changed.Dispersion = nil
	assert.NotEqual(t, base, changed.Digest())

	changed = digestFixture()
	changed.Events[0].Distances[keyUGM] = 41
	assert.NotEqual(t, base, changed.Digest())
}

func TestDigest_NormalizesStationLabels(t *testing.T) {
	// Same label, composed vs decomposed form.
	composed := digestFixture()
	composed.Events[0].Name = "év1"

	decomposed := digestFixture()
	decomposed.Events[0].Name = "év1"

	assert.Equal(t, composed.Digest(), decomposed.Digest())
}

func TestTermKey_YAMLRoundTrip(t *testing.T) {
	m := map[TermKey]float64{
		{Station: "UGM", Phase: "P"}: 0.125,
		{Station: "BKS", Phase: "S"}: -0.5,
	}

	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), "UGM/P")

	var back map[TermKey]float64
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, m, back)
}

func TestTermKey_String(t *testing.T) {
	key := TermKey{Station: "UGM", Phase: "P"}
	assert.Equal(t, "UGM/P", key.String())
}
