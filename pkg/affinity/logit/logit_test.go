package logit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample builds n0 unexposed users (c0 converted) followed by n1 exposed users (c1 converted).
func sample(n0, c0, n1, c1 int) (x, y []bool) {
	for i := 0; i < n0; i++ {
		x = append(x, false)
		y = append(y, i < c0)
	}
	for i := 0; i < n1; i++ {
		x = append(x, true)
		y = append(y, i < c1)
	}
	return x, y
}

func logitOf(p float64) float64 { return math.Log(p / (1 - p)) }

func TestFitMatchesClosedForm(t *testing.T) {
	x, y := sample(10, 2, 10, 6)
	m := Fit(x, y)

	require.True(t, m.Converged)
	assert.False(t, m.Singular)
	assert.InDelta(t, logitOf(0.2), m.Intercept, 1e-5)
	assert.InDelta(t, logitOf(0.6)-logitOf(0.2), m.Slope, 1e-5)
	assert.InDelta(t, 0.6, m.Predict(true), 1e-6)
	assert.InDelta(t, 0.2, m.Predict(false), 1e-6)

	want := 2*math.Log(0.2) + 8*math.Log(0.8) + 6*math.Log(0.6) + 4*math.Log(0.4)
	assert.InDelta(t, want, m.LogLikelihood, 1e-6)
}

func TestFitPerfectSeparationTerminates(t *testing.T) {
	x, y := sample(5, 0, 5, 5)
	m := Fit(x, y)

	assert.LessOrEqual(t, m.Iterations, MaxIterations)
	assert.False(t, math.IsNaN(m.Slope) || math.IsInf(m.Slope, 0))
	assert.False(t, math.IsNaN(m.Intercept) || math.IsInf(m.Intercept, 0))
	assert.Greater(t, m.Slope, 5.0)
	assert.LessOrEqual(t, m.LogLikelihood, 0.0)
}

func TestFitConstantPredictorIsSingular(t *testing.T) {
	x, y := sample(6, 2, 0, 0)
	m := Fit(x, y)

	assert.True(t, m.Singular)
	assert.Equal(t, 0, m.Iterations)
	assert.Equal(t, 0.0, m.Intercept)
	assert.Equal(t, 0.0, m.Slope)
	assert.InDelta(t, 6*math.Log(0.5+LogEpsilon), m.LogLikelihood, 1e-9)
}

func TestFitAllExposedIsSingular(t *testing.T) {
	x, y := sample(0, 0, 4, 1)
	m := Fit(x, y)
	assert.True(t, m.Singular)
	assert.Equal(t, 0.0, m.Slope)
}

func TestFitEmpty(t *testing.T) {
	m := Fit(nil, nil)
	assert.True(t, m.Singular)
	assert.Equal(t, 0.0, m.LogLikelihood)
}

func TestFitMismatchedLengthsUsesPrefix(t *testing.T) {
	x, y := sample(10, 2, 10, 6)
	full := Fit(x, y)
	padded := Fit(append(x, true, true), y)
	assert.InDelta(t, full.Slope, padded.Slope, 1e-12)
}

func TestSigmoidExtremes(t *testing.T) {
	assert.Equal(t, 0.5, Sigmoid(0))
	assert.InDelta(t, 1.0, Sigmoid(1000), 1e-12)
	assert.InDelta(t, 0.0, Sigmoid(-1000), 1e-12)
	assert.False(t, math.IsNaN(Sigmoid(-1000)))
}
