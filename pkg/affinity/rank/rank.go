package rank

import (
	"sort"
	"time"

	"github.com/cognicore/affinity/pkg/affinity/combos"
	"github.com/cognicore/affinity/pkg/affinity/scoring"
	"github.com/cognicore/affinity/pkg/affinity/store"
)

// Ranked is a retained combination with its 1-based position.
type Ranked struct {
	Rank int
	scoring.Result
}

// Actionable reports whether a result carries signal: some users saw both items
// and at least one of them converted.
func Actionable(r scoring.Result) bool {
	return r.UsersWithExposure > 0 && r.TotalConversions > 0
}

// Filter drops results without actionable signal, preserving order.
func Filter(results []scoring.Result) []scoring.Result {
	var out []scoring.Result
	for _, r := range results {
		if Actionable(r) {
			out = append(out, r)
		}
	}
	return out
}

// Rank filters results (given in enumeration order) and sorts the survivors by
// lift × total conversions, descending. Equal scores keep enumeration order.
func Rank(results []scoring.Result) []Ranked {
	kept := Filter(results)
	ranked := make([]Ranked, len(kept))
	for i, r := range kept {
		ranked[i] = Ranked{Result: r}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ExpectedValue() > ranked[j].ExpectedValue()
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// Truncate keeps the first limit entries; limit <= 0 keeps everything.
func Truncate(ranked []Ranked, limit int) []Ranked {
	if limit > 0 && len(ranked) > limit {
		return ranked[:limit]
	}
	return ranked
}

// Rows converts ranked results into persisted rows. names may be nil.
func Rows(analysisType, runID string, runAt time.Time, ranked []Ranked, names func(item string) string) []store.ResultRow {
	if names == nil {
		names = func(string) string { return "" }
	}
	rows := make([]store.ResultRow, len(ranked))
	for i, r := range ranked {
		row := toRow(analysisType, runID, r.Result)
		row.CombinationRank = r.Rank
		row.Name1 = names(r.Combination.A)
		row.Name2 = names(r.Combination.B)
		row.RunAt = runAt
		rows[i] = row
	}
	return rows
}

// Checkpoint converts results into unranked rows, keeping their order, so a
// later run can Restore them and rank them together with its own results.
func Checkpoint(analysisType, runID string, results []scoring.Result) []store.ResultRow {
	rows := make([]store.ResultRow, len(results))
	for i, r := range results {
		rows[i] = toRow(analysisType, runID, r)
	}
	return rows
}

// Restore rebuilds results from checkpointed rows in the same order. The
// fitted model, contingency table and NPMI are not persisted and come back zero.
func Restore(rows []store.ResultRow) []scoring.Result {
	out := make([]scoring.Result, len(rows))
	for i, r := range rows {
		out[i] = scoring.Result{
			Combination:           combos.Combination{A: r.Value1, B: r.Value2},
			LogLikelihood:         r.LogLikelihood,
			AIC:                   r.AIC,
			OddsRatio:             r.OddsRatio,
			Precision:             r.Precision,
			Recall:                r.Recall,
			UsersWithExposure:     r.UsersWithExposure,
			ConversionRateInGroup: r.ConversionRateInGroup,
			OverallConversionRate: r.OverallConversionRate,
			Lift:                  r.Lift,
			TotalConversions:      r.TotalConversions,
			Association:           scoring.Association{PMI: r.PMI},
		}
	}
	return out
}

func toRow(analysisType, runID string, r scoring.Result) store.ResultRow {
	return store.ResultRow{
		AnalysisType:          analysisType,
		RunID:                 runID,
		Value1:                r.Combination.A,
		Value2:                r.Combination.B,
		Lift:                  r.Lift,
		UsersWithExposure:     r.UsersWithExposure,
		ConversionRateInGroup: r.ConversionRateInGroup,
		OverallConversionRate: r.OverallConversionRate,
		TotalConversions:      r.TotalConversions,
		AIC:                   r.AIC,
		OddsRatio:             r.OddsRatio,
		LogLikelihood:         r.LogLikelihood,
		Precision:             r.Precision,
		Recall:                r.Recall,
		PMI:                   r.Association.PMI,
	}
}

// PreviewEntry is a display-ready summary line for a top-ranked combination.
type PreviewEntry struct {
	Rank              int     `json:"rank" yaml:"rank"`
	Value1            string  `json:"value_1" yaml:"value_1"`
	Value2            string  `json:"value_2" yaml:"value_2"`
	Name1             string  `json:"name_1,omitempty" yaml:"name_1,omitempty"`
	Name2             string  `json:"name_2,omitempty" yaml:"name_2,omitempty"`
	AIC               float64 `json:"aic" yaml:"aic"`
	OddsRatio         float64 `json:"odds_ratio" yaml:"odds_ratio"`
	Lift              float64 `json:"lift" yaml:"lift"`
	ConversionRatePct float64 `json:"conversion_rate_pct" yaml:"conversion_rate_pct"`
}

// Preview returns up to n entries from the head of ranked.
func Preview(ranked []Ranked, n int, names func(item string) string) []PreviewEntry {
	if names == nil {
		names = func(string) string { return "" }
	}
	ranked = Truncate(ranked, n)
	out := make([]PreviewEntry, len(ranked))
	for i, r := range ranked {
		out[i] = PreviewEntry{
			Rank:              r.Rank,
			Value1:            r.Combination.A,
			Value2:            r.Combination.B,
			Name1:             names(r.Combination.A),
			Name2:             names(r.Combination.B),
			AIC:               r.AIC,
			OddsRatio:         r.OddsRatio,
			Lift:              r.Lift,
			ConversionRatePct: r.ConversionRatePct(),
		}
	}
	return out
}
