package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/affinity/pkg/affinity/combos"
	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/logit"
)

func scenarioOutcomes(t *testing.T) Outcomes {
	t.Helper()
	var users []exposure.UserRecord
	add := func(id string, items []string, conversions int64) {
		rec, err := exposure.NewUserRecord(id, items, conversions > 0, conversions)
		require.NoError(t, err)
		users = append(users, rec)
	}
	add("u1", []string{"A", "B"}, 1)
	add("u2", []string{"A", "B"}, 1)
	add("u3", []string{"A", "B"}, 0)
	add("u4", []string{"C"}, 0)
	add("u5", []string{"C"}, 0)
	add("u6", []string{"C"}, 0)
	return NewOutcomes(users)
}

func TestScoreScenarioPair(t *testing.T) {
	out := scenarioOutcomes(t)
	exposed := []bool{true, true, true, false, false, false}
	c := combos.Combination{A: "A", B: "B"}
	m := logit.Fit(exposed, out.Converted)

	r := Score(c, m, exposed, out)

	assert.Equal(t, c, r.Combination)
	assert.Equal(t, Confusion{TP: 2, FP: 1, FN: 0, TN: 3}, r.Confusion)
	assert.Equal(t, 3, r.UsersWithExposure)
	assert.Equal(t, int64(2), r.TotalConversions)
	assert.InDelta(t, 2.0/3.0, r.ConversionRateInGroup, 1e-12)
	assert.InDelta(t, 2.0/6.0, r.OverallConversionRate, 1e-12)
	assert.InDelta(t, 2.0, r.Lift, 1e-12)
	assert.InDelta(t, 2.0/3.0, r.Precision, 1e-12)
	assert.InDelta(t, 1.0, r.Recall, 1e-12)
	assert.InDelta(t, 4.0, r.ExpectedValue(), 1e-12)
	assert.InDelta(t, 200.0/3.0, r.ConversionRatePct(), 1e-9)

	assert.InDelta(t, 2*NumParams-2*m.LogLikelihood, r.AIC, 1e-12)
	assert.InDelta(t, math.Exp(m.Slope), r.OddsRatio, 1e-9)
	assert.LessOrEqual(t, r.LogLikelihood, 0.0)
	assert.Greater(t, r.OddsRatio, 1.0)
}

func TestScoreUsesExposureNotProbability(t *testing.T) {
	out := scenarioOutcomes(t)
	exposed := []bool{true, true, true, false, false, false}
	// A model that predicts conversion for nobody still yields exposure-based precision.
	m := logit.Model{Intercept: -50, Slope: 0, LogLikelihood: -1}

	r := Score(combos.Combination{A: "A", B: "B"}, m, exposed, out)
	assert.InDelta(t, 2.0/3.0, r.Precision, 1e-12)
	assert.InDelta(t, 1.0, r.OddsRatio, 1e-12)
}

func TestScoreNoExposure(t *testing.T) {
	out := scenarioOutcomes(t)
	exposed := make([]bool, 6)
	r := Score(combos.Combination{A: "A", B: "C"}, logit.Fit(exposed, out.Converted), exposed, out)

	assert.Equal(t, 0, r.UsersWithExposure)
	assert.Equal(t, 0.0, r.Precision)
	assert.Equal(t, 0.0, r.Recall)
	assert.Equal(t, 0.0, r.ConversionRateInGroup)
	assert.Equal(t, 0.0, r.Lift)
	assert.Equal(t, int64(0), r.TotalConversions)
}

func TestScoreZeroBaseline(t *testing.T) {
	out := Outcomes{
		Converted:   []bool{false, false, false},
		Conversions: []int64{0, 0, 0},
	}
	exposed := []bool{true, true, false}
	r := Score(combos.Combination{A: "x", B: "y"}, logit.Fit(exposed, out.Converted), exposed, out)

	assert.Equal(t, 0.0, r.OverallConversionRate)
	assert.Equal(t, 0.0, r.Lift)
	assert.Equal(t, 0.0, r.Recall)
	assert.Equal(t, 0.0, r.Precision)
	assert.Equal(t, 2, r.UsersWithExposure)
}

func TestScoreSumsConversionMagnitude(t *testing.T) {
	out := Outcomes{
		Converted:   []bool{true, true, true},
		Conversions: []int64{3, 4, 10},
	}
	exposed := []bool{true, true, false}
	r := Score(combos.Combination{A: "x", B: "y"}, logit.Model{}, exposed, out)
	assert.Equal(t, int64(7), r.TotalConversions)
	assert.InDelta(t, 1.0, r.Lift, 1e-12)
}

func TestAssociation(t *testing.T) {
	strong := NewAssociation(1, Confusion{TP: 40, FP: 10, FN: 10, TN: 140})
	weak := NewAssociation(1, Confusion{TP: 5, FP: 45, FN: 45, TN: 105})

	assert.Greater(t, strong.PMI, 0.0)
	assert.Less(t, weak.PMI, 0.0)
	assert.GreaterOrEqual(t, strong.NPMI, -1.0)
	assert.LessOrEqual(t, strong.NPMI, 1.0)

	assert.Equal(t, Association{}, NewAssociation(1, Confusion{}))

	none := NewAssociation(0, Confusion{FP: 3, FN: 2, TN: 5})
	assert.Equal(t, 0.0, none.NPMI)
	assert.False(t, math.IsInf(none.PMI, 0))
}
