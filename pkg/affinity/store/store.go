package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/internalerr"
)

// Store is the persistence contract for mined combinations, run bookkeeping and
// the engagement rows a run consumes.
type Store interface {
	Close() error

	// Results. ReplaceResults deletes every stored row of the analysis type and
	// inserts rows as one unit; on error the previous set is left intact.
	ReplaceResults(ctx context.Context, analysisType string, rows []ResultRow) error
	Results(ctx context.Context, analysisType string, limit int) ([]ResultRow, error)
	AnalysisTypes(ctx context.Context) ([]string, error)

	// Runs
	RecordRun(ctx context.Context, run Run) error
	LatestRun(ctx context.Context, analysisType string) (Run, bool, error)

	// Engagement input
	ReplaceEngagement(ctx context.Context, analysisType string, rows []EngagementRow) error
	Engagement(ctx context.Context, analysisType string) ([]EngagementRow, error)

	// Sweeps. SaveSweep replaces the checkpoint of the analysis type as one
	// unit; there is at most one per type.
	SaveSweep(ctx context.Context, sweep Sweep) error
	Sweep(ctx context.Context, analysisType string) (Sweep, bool, error)
	DeleteSweep(ctx context.Context, analysisType string) error
}

// EngagementRow is one raw user × item engagement record, stored as imported.
type EngagementRow = exposure.Row

// ResultRow is one persisted, ranked combination.
type ResultRow struct {
	AnalysisType          string    `json:"analysis_type"`
	RunID                 string    `json:"run_id"`
	CombinationRank       int       `json:"combination_rank"`
	Value1                string    `json:"value_1"`
	Value2                string    `json:"value_2"`
	Name1                 string    `json:"name_1,omitempty"`
	Name2                 string    `json:"name_2,omitempty"`
	Lift                  float64   `json:"lift"`
	UsersWithExposure     int       `json:"users_with_exposure"`
	ConversionRateInGroup float64   `json:"conversion_rate_in_group"`
	OverallConversionRate float64   `json:"overall_conversion_rate"`
	TotalConversions      int64     `json:"total_conversions"`
	AIC                   float64   `json:"aic"`
	OddsRatio             float64   `json:"odds_ratio"`
	LogLikelihood         float64   `json:"log_likelihood"`
	Precision             float64   `json:"precision"`
	Recall                float64   `json:"recall"`
	PMI                   float64   `json:"pmi"`
	RunAt                 time.Time `json:"run_at"`
}

// RunStatus is the outcome of a mining run.
type RunStatus string

const (
	RunRunning      RunStatus = "running"
	RunCompleted    RunStatus = "completed"
	RunPartial      RunStatus = "partial"
	RunInsufficient RunStatus = "insufficient_data"
	RunFailed       RunStatus = "failed"
)

// Run records one mining run.
type Run struct {
	ID           string    `json:"id"`
	AnalysisType string    `json:"analysis_type"`
	Status       RunStatus `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Users        int       `json:"users"`
	Candidates   int       `json:"candidates"`
	Evaluated    int       `json:"evaluated"`
	Retained     int       `json:"retained"`
	Error        string    `json:"error,omitempty"`
}

// Sweep checkpoints a pair enumeration that is spread over several budgeted
// runs. Pending holds the actionable rows scored so far, unranked and in
// enumeration order; the sweep's result set is ranked and stored once Cursor
// reaches Total.
type Sweep struct {
	AnalysisType string      `json:"analysis_type"`
	ID           string      `json:"id"` // run that opened the sweep
	Fingerprint  string      `json:"fingerprint"`
	Cursor       int         `json:"cursor"` // next enumeration position
	Total        int         `json:"total"`
	StartedAt    time.Time   `json:"started_at"`
	Pending      []ResultRow `json:"pending"`
}

// Done reports whether every pair of the sweep has been evaluated.
func (s Sweep) Done() bool { return s.Cursor >= s.Total }

// ValidateSweep checks that a checkpoint is self-consistent before it is saved.
func ValidateSweep(s Sweep) error {
	if s.AnalysisType == "" || s.ID == "" {
		return fmt.Errorf("%w: sweep requires id and analysis type", internalerr.ErrInvalidInput)
	}
	if s.Cursor < 0 || s.Cursor > s.Total {
		return fmt.Errorf("%w: sweep cursor %d outside 0..%d", internalerr.ErrInvalidInput, s.Cursor, s.Total)
	}
	for i, r := range s.Pending {
		if r.AnalysisType != s.AnalysisType {
			return fmt.Errorf("%w: pending row %d has analysis type %q, want %q",
				internalerr.ErrInvalidInput, i, r.AnalysisType, s.AnalysisType)
		}
		if r.Value1 == "" || r.Value2 == "" {
			return fmt.Errorf("%w: pending row %d is missing an item id", internalerr.ErrInvalidInput, i)
		}
	}
	return nil
}

// ValidateResults checks that rows form a complete ranked set for analysisType:
// every row carries that type and ranks run 1..len(rows) in order.
func ValidateResults(analysisType string, rows []ResultRow) error {
	if analysisType == "" {
		return fmt.Errorf("%w: empty analysis type", internalerr.ErrInvalidInput)
	}
	for i, r := range rows {
		if r.AnalysisType != analysisType {
			return fmt.Errorf("%w: row %d has analysis type %q, want %q",
				internalerr.ErrInvalidInput, i, r.AnalysisType, analysisType)
		}
		if r.CombinationRank != i+1 {
			return fmt.Errorf("%w: row %d has rank %d, want %d",
				internalerr.ErrInvalidInput, i, r.CombinationRank, i+1)
		}
		if r.Value1 == "" || r.Value2 == "" {
			return fmt.Errorf("%w: row %d is missing an item id", internalerr.ErrInvalidInput, i)
		}
	}
	return nil
}
