package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedian_Odd(t *testing.T) {
	m, ok := Median([]float64{0.9, -0.1, 0.2})
	require.True(t, ok)
	assert.InDelta(t, 0.2, m, 1e-12)
}

func TestMedian_Even(t *testing.T) {
	// The static-term example: residuals [0.1, 0.2, 0.9, -0.1] -> 0.15
	m, ok := Median([]float64{0.1, 0.2, 0.9, -0.1})
	require.True(t, ok)
	assert.InDelta(t, 0.15, m, 1e-12)
}

func TestMedian_Empty(t *testing.T) {
	_, ok := Median(nil)
	assert.False(t, ok)
}

func TestMedian_DoesNotMutateInput(t *testing.T) {
	xs := []float64{3, 1, 2}
	_, ok := Median(xs)
	require.True(t, ok)
	assert.Equal(t, []float64{3, 1, 2}, xs)
}

func TestMAD(t *testing.T) {
	// median = 3, deviations [2 1 0 1 2] -> MAD 1
	m, ok := MAD([]float64{1, 2, 3, 4, 5})
	require.True(t, ok)
	assert.InDelta(t, 1.0, m, 1e-12)
}

func TestMAD_Empty(t *testing.T) {
	_, ok := MAD([]float64{})
	assert.False(t, ok)
}

func TestSMAD(t *testing.T) {
	s, ok := SMAD([]float64{1, 2, 3, 4, 5})
	require.True(t, ok)
	assert.InDelta(t, SMADFactor, s, 1e-12)
}

func TestSMAD_Empty(t *testing.T) {
	_, ok := SMAD(nil)
	assert.False(t, ok, "empty residual set has undefined dispersion")
}

func TestWeightedMedian_EqualWeights(t *testing.T) {
	m, ok := WeightedMedian([]float64{0.9, -0.1, 0.2}, []float64{1, 1, 1})
	require.True(t, ok)
	assert.InDelta(t, 0.2, m, 1e-12)
}

func TestWeightedMedian_HeavyWeightDominates(t *testing.T) {
	m, ok := WeightedMedian([]float64{0.1, 5.0}, []float64{10, 0.1})
	require.True(t, ok)
	assert.InDelta(t, 0.1, m, 1e-12)
}

func TestWeightedMedian_Empty(t *testing.T) {
	_, ok := WeightedMedian(nil, nil)
	assert.False(t, ok)
}

func TestWeightedMedian_ZeroTotalWeight(t *testing.T) {
	_, ok := WeightedMedian([]float64{1, 2}, []float64{0, 0})
	assert.False(t, ok)
}

func TestWeightedMedian_MismatchedLengths(t *testing.T) {
	_, ok := WeightedMedian([]float64{1, 2}, []float64{1})
	assert.False(t, ok)
}
