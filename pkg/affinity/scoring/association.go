package scoring

import "math"

// DefaultEpsilon is the additive smoothing constant for the association metrics.
const DefaultEpsilon = 1.0

// Association measures how much more often joint exposure and conversion occur
// together than independence would predict. It is diagnostic only and takes no
// part in filtering or ranking.
type Association struct {
	PMI  float64
	NPMI float64
}

// NewAssociation computes smoothed PMI and NPMI from a contingency table.
//
// PMI(e,c) = log((N_ec + ε) * N / ((N_e + ε)(N_c + ε)))
// NPMI     = PMI / -log((N_ec + ε) / N)
//
// Where:
//   - N_ec = users exposed to both items who converted (TP)
//   - N_e  = users exposed to both items
//   - N_c  = users who converted
//   - N    = all users
func NewAssociation(epsilon float64, cm Confusion) Association {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	n := float64(cm.Total())
	if n == 0 {
		return Association{}
	}

	nEC := float64(cm.TP)
	nE := float64(cm.TP + cm.FP)
	nC := float64(cm.TP + cm.FN)

	pmi := math.Log((nEC + epsilon) * n / ((nE + epsilon) * (nC + epsilon)))

	a := Association{PMI: pmi}
	if cm.TP == 0 {
		return a
	}
	logP := math.Log((nEC + epsilon) / n)
	if logP < 0 {
		a.NPMI = pmi / -logP
	}
	return a
}
