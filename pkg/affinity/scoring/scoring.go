package scoring

import (
	"math"

	"github.com/cognicore/affinity/pkg/affinity/combos"
	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/logit"
)

// NumParams is the parameter count of the fitted model (intercept + slope).
const NumParams = 2

// Outcomes holds the per-user outcome vectors shared by every combination of a run.
// Index i refers to the same user in every exposure vector built for the run.
type Outcomes struct {
	Converted   []bool
	Conversions []int64
}

// NewOutcomes extracts outcome vectors from a population in its stored order.
func NewOutcomes(users []exposure.UserRecord) Outcomes {
	out := Outcomes{
		Converted:   make([]bool, len(users)),
		Conversions: make([]int64, len(users)),
	}
	for i, u := range users {
		out.Converted[i] = u.Converted()
		out.Conversions[i] = u.ConversionCount()
	}
	return out
}

// Confusion is the exposure × conversion contingency table, with exposure used
// directly as the predicted label.
type Confusion struct {
	TP int // exposed, converted
	FP int // exposed, not converted
	FN int // not exposed, converted
	TN int // not exposed, not converted
}

// Precision is TP/(TP+FP), or 0 when nobody was exposed.
func (c Confusion) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

// Recall is TP/(TP+FN), or 0 when nobody converted.
func (c Confusion) Recall() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

// Total is the number of users tabulated.
func (c Confusion) Total() int {
	return c.TP + c.FP + c.FN + c.TN
}

// Result is the full metrics record for one combination.
type Result struct {
	Combination combos.Combination
	Model       logit.Model

	LogLikelihood float64
	AIC           float64
	OddsRatio     float64

	Confusion Confusion
	Precision float64
	Recall    float64

	UsersWithExposure     int
	ConversionRateInGroup float64
	OverallConversionRate float64
	Lift                  float64
	TotalConversions      int64

	Association Association
}

// ExpectedValue is the ranking score: lift weighted by the conversions it explains.
func (r Result) ExpectedValue() float64 {
	return r.Lift * float64(r.TotalConversions)
}

// ConversionRatePct is the in-group conversion rate as a percentage.
func (r Result) ConversionRatePct() float64 {
	return 100 * r.ConversionRateInGroup
}

// Score derives every metric for one combination from its fitted model and its
// exposure vector. exposed[i] must describe the same user as out.Converted[i].
func Score(c combos.Combination, m logit.Model, exposed []bool, out Outcomes) Result {
	n := min(len(exposed), len(out.Converted), len(out.Conversions))

	var cm Confusion
	var totalConversions int64
	for i := 0; i < n; i++ {
		switch {
		case exposed[i] && out.Converted[i]:
			cm.TP++
			totalConversions += out.Conversions[i]
		case exposed[i]:
			cm.FP++
		case out.Converted[i]:
			cm.FN++
		default:
			cm.TN++
		}
	}

	usersExposed := cm.TP + cm.FP
	inGroup := ratio(cm.TP, usersExposed)
	overall := ratio(cm.TP+cm.FN, n)
	lift := 0.0
	if overall > 0 {
		lift = inGroup / overall
	}

	return Result{
		Combination:           c,
		Model:                 m,
		LogLikelihood:         m.LogLikelihood,
		AIC:                   2*NumParams - 2*m.LogLikelihood,
		OddsRatio:             math.Exp(m.Slope),
		Confusion:             cm,
		Precision:             cm.Precision(),
		Recall:                cm.Recall(),
		UsersWithExposure:     usersExposed,
		ConversionRateInGroup: inGroup,
		OverallConversionRate: overall,
		Lift:                  lift,
		TotalConversions:      totalConversions,
		Association:           NewAssociation(DefaultEpsilon, cm),
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
