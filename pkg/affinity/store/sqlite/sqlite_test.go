package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/internalerr"
	"github.com/cognicore/affinity/pkg/affinity/store"
)

func openTest(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "affinity.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func resultRows(analysisType, runID string, pairs ...[2]string) []store.ResultRow {
	runAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := make([]store.ResultRow, len(pairs))
	for i, p := range pairs {
		rows[i] = store.ResultRow{
			AnalysisType:      analysisType,
			RunID:             runID,
			CombinationRank:   i + 1,
			Value1:            p[0],
			Value2:            p[1],
			Lift:              2,
			UsersWithExposure: 3,
			TotalConversions:  2,
			RunAt:             runAt,
		}
	}
	return rows
}

func TestSchemaCreationIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open database: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := initSchema(ctx, db); err != nil {
			t.Fatalf("initSchema iteration %d: %v", i, err)
		}
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&count)
	if err != nil {
		t.Fatalf("Count tables: %v", err)
	}
	if count != 5 { // affinity_results, affinity_runs, engagement, affinity_sweeps, affinity_sweep_rows
		t.Errorf("Expected 5 tables, got %d", count)
	}
}

func TestReplaceResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	rows := resultRows("creator", "run-1", [2]string{"a", "b"}, [2]string{"a", "c"})
	rows[0].Name1 = "Alpha"
	if err := st.ReplaceResults(ctx, "creator", rows); err != nil {
		t.Fatalf("ReplaceResults: %v", err)
	}

	got, err := st.Results(ctx, "creator", 0)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0] != rows[0] {
		t.Errorf("row mismatch:\n got %+v\nwant %+v", got[0], rows[0])
	}
	if got[1].CombinationRank != 2 || got[1].Value2 != "c" {
		t.Errorf("unexpected second row %+v", got[1])
	}

	limited, err := st.Results(ctx, "creator", 1)
	if err != nil {
		t.Fatalf("Results limit: %v", err)
	}
	if len(limited) != 1 || limited[0].CombinationRank != 1 {
		t.Errorf("expected only rank 1, got %+v", limited)
	}
}

func TestReplaceResultsReplacesOnlyItsType(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	if err := st.ReplaceResults(ctx, "creator", resultRows("creator", "r1", [2]string{"a", "b"}, [2]string{"a", "c"})); err != nil {
		t.Fatal(err)
	}
	if err := st.ReplaceResults(ctx, "category", resultRows("category", "r2", [2]string{"x", "y"})); err != nil {
		t.Fatal(err)
	}
	if err := st.ReplaceResults(ctx, "creator", resultRows("creator", "r3", [2]string{"b", "c"})); err != nil {
		t.Fatal(err)
	}

	creator, _ := st.Results(ctx, "creator", 0)
	if len(creator) != 1 || creator[0].RunID != "r3" {
		t.Errorf("expected only the r3 row for creator, got %+v", creator)
	}
	category, _ := st.Results(ctx, "category", 0)
	if len(category) != 1 || category[0].RunID != "r2" {
		t.Errorf("category rows should be untouched, got %+v", category)
	}

	types, err := st.AnalysisTypes(ctx)
	if err != nil {
		t.Fatalf("AnalysisTypes: %v", err)
	}
	if len(types) != 2 || types[0] != "category" || types[1] != "creator" {
		t.Errorf("expected [category creator], got %v", types)
	}
}

func TestReplaceResultsEmptyClears(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	if err := st.ReplaceResults(ctx, "creator", resultRows("creator", "r1", [2]string{"a", "b"})); err != nil {
		t.Fatal(err)
	}
	if err := st.ReplaceResults(ctx, "creator", nil); err != nil {
		t.Fatal(err)
	}
	rows, _ := st.Results(ctx, "creator", 0)
	if len(rows) != 0 {
		t.Errorf("expected empty result set, got %d rows", len(rows))
	}
}

func TestReplaceResultsRejectsInvalidRowsAndKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	if err := st.ReplaceResults(ctx, "creator", resultRows("creator", "r1", [2]string{"a", "b"})); err != nil {
		t.Fatal(err)
	}

	bad := resultRows("creator", "r2", [2]string{"a", "c"}, [2]string{"b", "c"})
	bad[1].CombinationRank = 5
	err := st.ReplaceResults(ctx, "creator", bad)
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	wrongType := resultRows("category", "r2", [2]string{"a", "c"})
	if err := st.ReplaceResults(ctx, "creator", wrongType); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for mismatched type, got %v", err)
	}

	rows, _ := st.Results(ctx, "creator", 0)
	if len(rows) != 1 || rows[0].RunID != "r1" {
		t.Errorf("previous result set should survive a rejected replace, got %+v", rows)
	}
}

func TestReplaceResultsCanceledContext(t *testing.T) {
	st := openTest(t)
	if err := st.ReplaceResults(context.Background(), "creator", resultRows("creator", "r1", [2]string{"a", "b"})); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := st.ReplaceResults(ctx, "creator", resultRows("creator", "r2", [2]string{"c", "d"}))
	if !errors.Is(err, internalerr.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}

	rows, _ := st.Results(context.Background(), "creator", 0)
	if len(rows) != 1 || rows[0].RunID != "r1" {
		t.Errorf("previous result set should survive a failed replace, got %+v", rows)
	}
}

func TestRecordRunAndLatest(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	if _, ok, err := st.LatestRun(ctx, "creator"); err != nil || ok {
		t.Fatalf("expected no run, got ok=%v err=%v", ok, err)
	}

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := store.Run{ID: "01A", AnalysisType: "creator", Status: store.RunRunning, StartedAt: t0}
	if err := st.RecordRun(ctx, first); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	first.Status = store.RunCompleted
	first.FinishedAt = t0.Add(time.Second)
	first.Users, first.Candidates, first.Evaluated, first.Retained = 6, 3, 3, 1
	if err := st.RecordRun(ctx, first); err != nil {
		t.Fatalf("RecordRun update: %v", err)
	}

	second := store.Run{ID: "01B", AnalysisType: "creator", Status: store.RunFailed, StartedAt: t0.Add(time.Minute), Error: "boom"}
	if err := st.RecordRun(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, ok, err := st.LatestRun(ctx, "creator")
	if err != nil || !ok {
		t.Fatalf("LatestRun: ok=%v err=%v", ok, err)
	}
	if got.ID != "01B" || got.Status != store.RunFailed || got.Error != "boom" {
		t.Errorf("unexpected latest run %+v", got)
	}
	if !got.FinishedAt.IsZero() {
		t.Errorf("unfinished run should have zero FinishedAt, got %v", got.FinishedAt)
	}

	if err := st.RecordRun(ctx, store.Run{AnalysisType: "creator"}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for run without id, got %v", err)
	}
}

func TestEngagementRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	rows := []exposure.Row{
		{UserID: "u2", ItemID: "b", ItemName: "Bravo", Views: 3, Converted: true, Conversions: 2},
		{UserID: "u1", ItemID: "a", Views: 1},
		{UserID: "u3", Views: 0},
	}
	if err := st.ReplaceEngagement(ctx, "creator", rows); err != nil {
		t.Fatalf("ReplaceEngagement: %v", err)
	}

	got, err := st.Engagement(ctx, "creator")
	if err != nil {
		t.Fatalf("Engagement: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}
	for i := range rows {
		if got[i] != rows[i] {
			t.Errorf("row %d: got %+v want %+v", i, got[i], rows[i])
		}
	}

	if err := st.ReplaceEngagement(ctx, "creator", rows[:1]); err != nil {
		t.Fatal(err)
	}
	got, _ = st.Engagement(ctx, "creator")
	if len(got) != 1 {
		t.Errorf("expected replace to leave 1 row, got %d", len(got))
	}
}

func TestReopenPreservesResults(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "affinity.db")

	st, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.ReplaceResults(ctx, "creator", resultRows("creator", "r1", [2]string{"a", "b"})); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st2, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("Reopen database: %v", err)
	}
	defer st2.Close()

	rows, err := st2.Results(ctx, "creator", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("expected results preserved after reopen, got %d", len(rows))
	}
}

func pendingRows(analysisType string, pairs ...[2]string) []store.ResultRow {
	rows := make([]store.ResultRow, len(pairs))
	for i, p := range pairs {
		rows[i] = store.ResultRow{
			AnalysisType:          analysisType,
			RunID:                 "run-1",
			Value1:                p[0],
			Value2:                p[1],
			Lift:                  1.5 + float64(i),
			UsersWithExposure:     4,
			ConversionRateInGroup: 0.5,
			OverallConversionRate: 0.25,
			TotalConversions:      int64(i + 1),
			AIC:                   7.5,
			OddsRatio:             3,
			LogLikelihood:         -1.75,
			Precision:             0.5,
			Recall:                0.75,
			PMI:                   0.4,
		}
	}
	return rows
}

func TestSweepRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	if _, ok, err := st.Sweep(ctx, "creator"); err != nil || ok {
		t.Fatalf("expected no sweep, got ok=%v err=%v", ok, err)
	}

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sweep := store.Sweep{
		AnalysisType: "creator",
		ID:           "run-1",
		Fingerprint:  "abc",
		Cursor:       2,
		Total:        6,
		StartedAt:    started,
		Pending:      pendingRows("creator", [2]string{"b", "c"}, [2]string{"a", "b"}),
	}
	if err := st.SaveSweep(ctx, sweep); err != nil {
		t.Fatalf("SaveSweep: %v", err)
	}

	got, ok, err := st.Sweep(ctx, "creator")
	if err != nil || !ok {
		t.Fatalf("Sweep: ok=%v err=%v", ok, err)
	}
	if got.ID != "run-1" || got.Fingerprint != "abc" || got.Cursor != 2 || got.Total != 6 || !got.StartedAt.Equal(started) {
		t.Errorf("unexpected sweep header %+v", got)
	}
	if len(got.Pending) != 2 {
		t.Fatalf("expected 2 pending rows, got %d", len(got.Pending))
	}
	for i := range sweep.Pending {
		if got.Pending[i] != sweep.Pending[i] {
			t.Errorf("pending %d: got %+v want %+v", i, got.Pending[i], sweep.Pending[i])
		}
	}

	// advancing the cursor replaces the pending set
	sweep.Cursor = 4
	sweep.Pending = append(sweep.Pending, pendingRows("creator", [2]string{"c", "d"})...)
	if err := st.SaveSweep(ctx, sweep); err != nil {
		t.Fatalf("SaveSweep: %v", err)
	}
	got, _, _ = st.Sweep(ctx, "creator")
	if got.Cursor != 4 || len(got.Pending) != 3 || got.Pending[2].Value1 != "c" {
		t.Errorf("unexpected advanced sweep %+v", got)
	}

	if err := st.DeleteSweep(ctx, "creator"); err != nil {
		t.Fatalf("DeleteSweep: %v", err)
	}
	if _, ok, _ := st.Sweep(ctx, "creator"); ok {
		t.Error("expected sweep to be deleted")
	}
}

func TestSaveSweepRejectsCursorPastTotal(t *testing.T) {
	st := openTest(t)
	err := st.SaveSweep(context.Background(), store.Sweep{AnalysisType: "creator", ID: "r", Cursor: 3, Total: 2})
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
