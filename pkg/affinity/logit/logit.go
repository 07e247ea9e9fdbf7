package logit

import "math"

const (
	// MaxIterations bounds the Newton-Raphson loop.
	MaxIterations = 20

	// Tolerance is the per-parameter step size below which the fit has converged.
	Tolerance = 1e-6

	// SingularDet is the Hessian determinant magnitude below which the system is
	// treated as singular and the current estimate is kept.
	SingularDet = 1e-10

	// LogEpsilon keeps log() away from zero in the log-likelihood.
	LogEpsilon = 1e-10
)

// Model is a fitted single-predictor logistic regression.
//
// P(y=1 | x) = sigmoid(Intercept + Slope·x), x ∈ {0,1}
type Model struct {
	Intercept     float64 // β0
	Slope         float64 // β1
	LogLikelihood float64
	Iterations    int  // Newton steps applied
	Converged     bool // both steps fell below Tolerance
	Singular      bool // stopped on a near-singular Hessian
}

// Predict returns the fitted probability for an exposure value.
func (m Model) Predict(exposed bool) float64 {
	return Sigmoid(m.Intercept + m.Slope*indicator(exposed))
}

// Sigmoid is the logistic function, evaluated without overflow for large |z|.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

// Fit runs Newton-Raphson on the Bernoulli log-likelihood starting from β = (0, 0).
//
// Each iteration solves the 2×2 system
//
//	| Σw    Σwx  | |Δβ0|   | Σ(y−p)  |
//	| Σwx   Σwx² | |Δβ1| = | Σ(y−p)x |,   w = p(1−p)
//
// in closed form. The loop stops once both |Δβ| < Tolerance, after MaxIterations,
// or as soon as |det| < SingularDet, in which case the last estimate is kept.
// Perfectly separated or constant predictors therefore terminate with finite
// coefficients. Fit never fails; only the first min(len(x), len(y)) users are used.
func Fit(x, y []bool) Model {
	n := min(len(x), len(y))
	var m Model

	for iter := 0; iter < MaxIterations; iter++ {
		var g0, g1, h00, h01, h11 float64
		for i := 0; i < n; i++ {
			xi := indicator(x[i])
			p := Sigmoid(m.Intercept + m.Slope*xi)
			r := indicator(y[i]) - p
			w := p * (1 - p)
			g0 += r
			g1 += r * xi
			h00 += w
			h01 += w * xi
			h11 += w * xi * xi
		}

		det := h00*h11 - h01*h01
		if math.Abs(det) < SingularDet {
			m.Singular = true
			break
		}

		d0 := (h11*g0 - h01*g1) / det
		d1 := (h00*g1 - h01*g0) / det
		m.Intercept += d0
		m.Slope += d1
		m.Iterations++

		if math.Abs(d0) < Tolerance && math.Abs(d1) < Tolerance {
			m.Converged = true
			break
		}
	}

	m.LogLikelihood = logLikelihood(m, x[:n], y[:n])
	return m
}

func logLikelihood(m Model, x, y []bool) float64 {
	var ll float64
	for i := range x {
		p := m.Predict(x[i])
		if y[i] {
			ll += math.Log(p + LogEpsilon)
		} else {
			ll += math.Log(1 - p + LogEpsilon)
		}
	}
	// The epsilon can push a perfect fit a hair above zero.
	if ll > 0 {
		ll = 0
	}
	return ll
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
