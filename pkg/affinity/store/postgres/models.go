package postgres

import (
	"time"

	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/store"
)

// resultModel is one ranked combination.
type resultModel struct {
	AnalysisType          string `gorm:"primaryKey;type:text"`
	CombinationRank       int    `gorm:"primaryKey"`
	RunID                 string `gorm:"type:text;not null;index"`
	Value1                string `gorm:"column:value_1;type:text;not null"`
	Value2                string `gorm:"column:value_2;type:text;not null"`
	Name1                 string `gorm:"column:name_1;type:text"`
	Name2                 string `gorm:"column:name_2;type:text"`
	Lift                  float64
	UsersWithExposure     int
	ConversionRateInGroup float64
	OverallConversionRate float64
	TotalConversions      int64
	AIC                   float64 `gorm:"column:aic"`
	OddsRatio             float64
	LogLikelihood         float64
	Precision             float64
	Recall                float64
	PMI                   float64   `gorm:"column:pmi"`
	RunAt                 time.Time `gorm:"not null"`
}

func (resultModel) TableName() string { return "affinity_results" }

type runModel struct {
	ID           string    `gorm:"primaryKey;type:text"`
	AnalysisType string    `gorm:"type:text;not null;index:idx_affinity_runs_type,priority:1"`
	Status       string    `gorm:"type:text;not null"`
	StartedAt    time.Time `gorm:"not null;index:idx_affinity_runs_type,priority:2"`
	FinishedAt   *time.Time
	Users        int
	Candidates   int
	Evaluated    int
	Retained     int
	Error        string `gorm:"type:text"`
}

func (runModel) TableName() string { return "affinity_runs" }

type engagementModel struct {
	AnalysisType string `gorm:"primaryKey;type:text"`
	Seq          int    `gorm:"primaryKey"`
	UserID       string `gorm:"type:text;not null"`
	ItemID       string `gorm:"type:text"`
	ItemName     string `gorm:"type:text"`
	Views        int64
	Converted    bool
	Conversions  int64
}

func (engagementModel) TableName() string { return "engagement" }

// sweepModel is the checkpoint header of a multi-run sweep.
type sweepModel struct {
	AnalysisType string `gorm:"primaryKey;type:text"`
	SweepID      string `gorm:"type:text;not null"`
	Fingerprint  string `gorm:"type:text;not null"`
	Cursor       int    `gorm:"column:cursor_pos;not null"`
	Total        int    `gorm:"not null"`
	StartedAt    time.Time
}

func (sweepModel) TableName() string { return "affinity_sweeps" }

// sweepRowModel is one pending, unranked row of a sweep.
type sweepRowModel struct {
	AnalysisType          string `gorm:"primaryKey;type:text"`
	Ordinal               int    `gorm:"primaryKey"`
	RunID                 string `gorm:"type:text;not null"`
	Value1                string `gorm:"column:value_1;type:text;not null"`
	Value2                string `gorm:"column:value_2;type:text;not null"`
	Lift                  float64
	UsersWithExposure     int
	ConversionRateInGroup float64
	OverallConversionRate float64
	TotalConversions      int64
	AIC                   float64 `gorm:"column:aic"`
	OddsRatio             float64
	LogLikelihood         float64
	Precision             float64
	Recall                float64
	PMI                   float64 `gorm:"column:pmi"`
}

func (sweepRowModel) TableName() string { return "affinity_sweep_rows" }

func toResultModel(r store.ResultRow) resultModel {
	return resultModel{
		AnalysisType:          r.AnalysisType,
		CombinationRank:       r.CombinationRank,
		RunID:                 r.RunID,
		Value1:                r.Value1,
		Value2:                r.Value2,
		Name1:                 r.Name1,
		Name2:                 r.Name2,
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
		PMI:                   r.PMI,
		RunAt:                 r.RunAt.UTC(),
	}
}

func (m resultModel) row() store.ResultRow {
	return store.ResultRow{
		AnalysisType:          m.AnalysisType,
		RunID:                 m.RunID,
		CombinationRank:       m.CombinationRank,
		Value1:                m.Value1,
		Value2:                m.Value2,
		Name1:                 m.Name1,
		Name2:                 m.Name2,
		Lift:                  m.Lift,
		UsersWithExposure:     m.UsersWithExposure,
		ConversionRateInGroup: m.ConversionRateInGroup,
		OverallConversionRate: m.OverallConversionRate,
		TotalConversions:      m.TotalConversions,
		AIC:                   m.AIC,
		OddsRatio:             m.OddsRatio,
		LogLikelihood:         m.LogLikelihood,
		Precision:             m.Precision,
		Recall:                m.Recall,
		PMI:                   m.PMI,
		RunAt:                 m.RunAt.UTC(),
	}
}

func toRunModel(r store.Run) runModel {
	m := runModel{
		ID:           r.ID,
		AnalysisType: r.AnalysisType,
		Status:       string(r.Status),
		StartedAt:    r.StartedAt.UTC(),
		Users:        r.Users,
		Candidates:   r.Candidates,
		Evaluated:    r.Evaluated,
		Retained:     r.Retained,
		Error:        r.Error,
	}
	if !r.FinishedAt.IsZero() {
		f := r.FinishedAt.UTC()
		m.FinishedAt = &f
	}
	return m
}

func (m runModel) run() store.Run {
	r := store.Run{
		ID:           m.ID,
		AnalysisType: m.AnalysisType,
		Status:       store.RunStatus(m.Status),
		StartedAt:    m.StartedAt.UTC(),
		Users:        m.Users,
		Candidates:   m.Candidates,
		Evaluated:    m.Evaluated,
		Retained:     m.Retained,
		Error:        m.Error,
	}
	if m.FinishedAt != nil {
		r.FinishedAt = m.FinishedAt.UTC()
	}
	return r
}

func (m engagementModel) row() exposure.Row {
	return exposure.Row{
		UserID:      m.UserID,
		ItemID:      m.ItemID,
		ItemName:    m.ItemName,
		Views:       m.Views,
		Converted:   m.Converted,
		Conversions: m.Conversions,
	}
}

func toSweepRowModel(analysisType string, ordinal int, r store.ResultRow) sweepRowModel {
	return sweepRowModel{
		AnalysisType:          analysisType,
		Ordinal:               ordinal,
		RunID:                 r.RunID,
		Value1:                r.Value1,
		Value2:                r.Value2,
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
		PMI:                   r.PMI,
	}
}

func (m sweepRowModel) row() store.ResultRow {
	return store.ResultRow{
		AnalysisType:          m.AnalysisType,
		RunID:                 m.RunID,
		Value1:                m.Value1,
		Value2:                m.Value2,
		Lift:                  m.Lift,
		UsersWithExposure:     m.UsersWithExposure,
		ConversionRateInGroup: m.ConversionRateInGroup,
		OverallConversionRate: m.OverallConversionRate,
		TotalConversions:      m.TotalConversions,
		AIC:                   m.AIC,
		OddsRatio:             m.OddsRatio,
		LogLikelihood:         m.LogLikelihood,
		Precision:             m.Precision,
		Recall:                m.Recall,
		PMI:                   m.PMI,
	}
}
