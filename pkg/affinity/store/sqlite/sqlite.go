package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/internalerr"
	"github.com/cognicore/affinity/pkg/affinity/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS affinity_results (
	analysis_type TEXT NOT NULL,
	combination_rank INTEGER NOT NULL,
	run_id TEXT NOT NULL,
	value_1 TEXT NOT NULL,
	value_2 TEXT NOT NULL,
	name_1 TEXT,
	name_2 TEXT,
	lift REAL NOT NULL,
	users_with_exposure INTEGER NOT NULL,
	conversion_rate_in_group REAL NOT NULL,
	overall_conversion_rate REAL NOT NULL,
	total_conversions INTEGER NOT NULL,
	aic REAL NOT NULL,
	odds_ratio REAL NOT NULL,
	log_likelihood REAL NOT NULL,
	precision REAL NOT NULL,
	recall REAL NOT NULL,
	pmi REAL NOT NULL,
	run_at TEXT NOT NULL,
	PRIMARY KEY(analysis_type, combination_rank)
);

CREATE TABLE IF NOT EXISTS affinity_runs (
	id TEXT PRIMARY KEY,
	analysis_type TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	users INTEGER DEFAULT 0,
	candidates INTEGER DEFAULT 0,
	evaluated INTEGER DEFAULT 0,
	retained INTEGER DEFAULT 0,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_affinity_runs_type ON affinity_runs(analysis_type, started_at);

CREATE TABLE IF NOT EXISTS engagement (
	analysis_type TEXT NOT NULL,
	seq INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	item_id TEXT,
	item_name TEXT,
	views INTEGER NOT NULL,
	converted INTEGER NOT NULL,
	conversions INTEGER NOT NULL,
	PRIMARY KEY(analysis_type, seq)
);

CREATE TABLE IF NOT EXISTS affinity_sweeps (
	analysis_type TEXT PRIMARY KEY,
	sweep_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	cursor_pos INTEGER NOT NULL,
	total INTEGER NOT NULL,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS affinity_sweep_rows (
	analysis_type TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	run_id TEXT NOT NULL,
	value_1 TEXT NOT NULL,
	value_2 TEXT NOT NULL,
	lift REAL NOT NULL,
	users_with_exposure INTEGER NOT NULL,
	conversion_rate_in_group REAL NOT NULL,
	overall_conversion_rate REAL NOT NULL,
	total_conversions INTEGER NOT NULL,
	aic REAL NOT NULL,
	odds_ratio REAL NOT NULL,
	log_likelihood REAL NOT NULL,
	precision REAL NOT NULL,
	recall REAL NOT NULL,
	pmi REAL NOT NULL,
	PRIMARY KEY(analysis_type, ordinal)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: init schema: %v", internalerr.ErrStoreUnavailable, err)
	}
	return nil
}

// ReplaceResults swaps the stored result set of analysisType in a single transaction.
func (s *sqliteStore) ReplaceResults(ctx context.Context, analysisType string, rows []store.ResultRow) error {
	if err := store.ValidateResults(analysisType, rows); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM affinity_results WHERE analysis_type = ?`, analysisType); err != nil {
		return fmt.Errorf("%w: delete %s: %v", internalerr.ErrPersist, analysisType, err)
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO affinity_results (
	analysis_type, combination_rank, run_id, value_1, value_2, name_1, name_2,
	lift, users_with_exposure, conversion_rate_in_group, overall_conversion_rate,
	total_conversions, aic, odds_ratio, log_likelihood, precision, recall, pmi, run_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				r.AnalysisType, r.CombinationRank, r.RunID, r.Value1, r.Value2, r.Name1, r.Name2,
				r.Lift, r.UsersWithExposure, r.ConversionRateInGroup, r.OverallConversionRate,
				r.TotalConversions, r.AIC, r.OddsRatio, r.LogLikelihood, r.Precision, r.Recall, r.PMI,
				formatTime(r.RunAt),
			); err != nil {
				return fmt.Errorf("%w: insert rank %d: %v", internalerr.ErrPersist, r.CombinationRank, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", internalerr.ErrPersist, err)
	}
	return nil
}

// Results returns stored rows for analysisType by rank. limit <= 0 returns all rows.
func (s *sqliteStore) Results(ctx context.Context, analysisType string, limit int) ([]store.ResultRow, error) {
	query := `
SELECT analysis_type, combination_rank, run_id, value_1, value_2, COALESCE(name_1, ''), COALESCE(name_2, ''),
	lift, users_with_exposure, conversion_rate_in_group, overall_conversion_rate,
	total_conversions, aic, odds_ratio, log_likelihood, precision, recall, pmi, run_at
FROM affinity_results
WHERE analysis_type = ?
ORDER BY combination_rank`
	args := []any{analysisType}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ResultRow
	for rows.Next() {
		var r store.ResultRow
		var runAt string
		if err := rows.Scan(
			&r.AnalysisType, &r.CombinationRank, &r.RunID, &r.Value1, &r.Value2, &r.Name1, &r.Name2,
			&r.Lift, &r.UsersWithExposure, &r.ConversionRateInGroup, &r.OverallConversionRate,
			&r.TotalConversions, &r.AIC, &r.OddsRatio, &r.LogLikelihood, &r.Precision, &r.Recall, &r.PMI,
			&runAt,
		); err != nil {
			return nil, err
		}
		r.RunAt = parseTime(runAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AnalysisTypes lists every analysis type with stored results or runs.
func (s *sqliteStore) AnalysisTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT analysis_type FROM affinity_results
UNION
SELECT analysis_type FROM affinity_runs
ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordRun inserts or updates a run keyed by its ID.
func (s *sqliteStore) RecordRun(ctx context.Context, run store.Run) error {
	if run.ID == "" || run.AnalysisType == "" {
		return fmt.Errorf("%w: run requires id and analysis type", internalerr.ErrInvalidInput)
	}
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = formatTime(run.FinishedAt)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO affinity_runs (id, analysis_type, status, started_at, finished_at, users, candidates, evaluated, retained, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status=excluded.status,
	finished_at=excluded.finished_at,
	users=excluded.users,
	candidates=excluded.candidates,
	evaluated=excluded.evaluated,
	retained=excluded.retained,
	error=excluded.error;
`, run.ID, run.AnalysisType, string(run.Status), formatTime(run.StartedAt), finished,
		run.Users, run.Candidates, run.Evaluated, run.Retained, run.Error)
	return err
}

// LatestRun returns the most recently started run of analysisType.
func (s *sqliteStore) LatestRun(ctx context.Context, analysisType string) (store.Run, bool, error) {
	var (
		run      store.Run
		status   string
		started  string
		finished sql.NullString
		errText  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, analysis_type, status, started_at, finished_at, users, candidates, evaluated, retained, error
FROM affinity_runs
WHERE analysis_type = ?
ORDER BY started_at DESC, id DESC
LIMIT 1`, analysisType).Scan(
		&run.ID, &run.AnalysisType, &status, &started, &finished,
		&run.Users, &run.Candidates, &run.Evaluated, &run.Retained, &errText,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, false, nil
	}
	if err != nil {
		return store.Run{}, false, err
	}
	run.Status = store.RunStatus(status)
	run.StartedAt = parseTime(started)
	if finished.Valid {
		run.FinishedAt = parseTime(finished.String)
	}
	run.Error = errText.String
	return run, true, nil
}

// ReplaceEngagement swaps the stored engagement rows of analysisType, keeping input order.
func (s *sqliteStore) ReplaceEngagement(ctx context.Context, analysisType string, rows []exposure.Row) error {
	if analysisType == "" {
		return fmt.Errorf("%w: empty analysis type", internalerr.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM engagement WHERE analysis_type = ?`, analysisType); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO engagement (analysis_type, seq, user_id, item_id, item_name, views, converted, conversions)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
		}
		defer stmt.Close()
		for i, r := range rows {
			if _, err := stmt.ExecContext(ctx, analysisType, i, r.UserID, r.ItemID, r.ItemName,
				r.Views, boolToInt(r.Converted), r.Conversions); err != nil {
				return fmt.Errorf("%w: insert row %d: %v", internalerr.ErrPersist, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", internalerr.ErrPersist, err)
	}
	return nil
}

// Engagement returns stored engagement rows of analysisType in insertion order.
func (s *sqliteStore) Engagement(ctx context.Context, analysisType string) ([]exposure.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, COALESCE(item_id, ''), COALESCE(item_name, ''), views, converted, conversions
FROM engagement
WHERE analysis_type = ?
ORDER BY seq`, analysisType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []exposure.Row
	for rows.Next() {
		var r exposure.Row
		var converted int
		if err := rows.Scan(&r.UserID, &r.ItemID, &r.ItemName, &r.Views, &converted, &r.Conversions); err != nil {
			return nil, err
		}
		r.Converted = converted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveSweep replaces the sweep checkpoint of its analysis type in a single transaction.
func (s *sqliteStore) SaveSweep(ctx context.Context, sweep store.Sweep) error {
	if err := store.ValidateSweep(sweep); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO affinity_sweeps (analysis_type, sweep_id, fingerprint, cursor_pos, total, started_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(analysis_type) DO UPDATE SET
	sweep_id=excluded.sweep_id,
	fingerprint=excluded.fingerprint,
	cursor_pos=excluded.cursor_pos,
	total=excluded.total,
	started_at=excluded.started_at;
`, sweep.AnalysisType, sweep.ID, sweep.Fingerprint, sweep.Cursor, sweep.Total, formatTime(sweep.StartedAt)); err != nil {
		return fmt.Errorf("%w: save sweep %s: %v", internalerr.ErrPersist, sweep.AnalysisType, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM affinity_sweep_rows WHERE analysis_type = ?`, sweep.AnalysisType); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}

	if len(sweep.Pending) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO affinity_sweep_rows (
	analysis_type, ordinal, run_id, value_1, value_2,
	lift, users_with_exposure, conversion_rate_in_group, overall_conversion_rate,
	total_conversions, aic, odds_ratio, log_likelihood, precision, recall, pmi
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
		}
		defer stmt.Close()
		for i, r := range sweep.Pending {
			if _, err := stmt.ExecContext(ctx,
				sweep.AnalysisType, i, r.RunID, r.Value1, r.Value2,
				r.Lift, r.UsersWithExposure, r.ConversionRateInGroup, r.OverallConversionRate,
				r.TotalConversions, r.AIC, r.OddsRatio, r.LogLikelihood, r.Precision, r.Recall, r.PMI,
			); err != nil {
				return fmt.Errorf("%w: insert pending row %d: %v", internalerr.ErrPersist, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", internalerr.ErrPersist, err)
	}
	return nil
}

// Sweep returns the checkpoint of analysisType with its pending rows in enumeration order.
func (s *sqliteStore) Sweep(ctx context.Context, analysisType string) (store.Sweep, bool, error) {
	var (
		sweep   store.Sweep
		started string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT analysis_type, sweep_id, fingerprint, cursor_pos, total, started_at
FROM affinity_sweeps
WHERE analysis_type = ?`, analysisType).Scan(
		&sweep.AnalysisType, &sweep.ID, &sweep.Fingerprint, &sweep.Cursor, &sweep.Total, &started,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Sweep{}, false, nil
	}
	if err != nil {
		return store.Sweep{}, false, err
	}
	sweep.StartedAt = parseTime(started)

	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, value_1, value_2,
	lift, users_with_exposure, conversion_rate_in_group, overall_conversion_rate,
	total_conversions, aic, odds_ratio, log_likelihood, precision, recall, pmi
FROM affinity_sweep_rows
WHERE analysis_type = ?
ORDER BY ordinal`, analysisType)
	if err != nil {
		return store.Sweep{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		r := store.ResultRow{AnalysisType: analysisType}
		if err := rows.Scan(
			&r.RunID, &r.Value1, &r.Value2,
			&r.Lift, &r.UsersWithExposure, &r.ConversionRateInGroup, &r.OverallConversionRate,
			&r.TotalConversions, &r.AIC, &r.OddsRatio, &r.LogLikelihood, &r.Precision, &r.Recall, &r.PMI,
		); err != nil {
			return store.Sweep{}, false, err
		}
		sweep.Pending = append(sweep.Pending, r)
	}
	if err := rows.Err(); err != nil {
		return store.Sweep{}, false, err
	}
	return sweep, true, nil
}

// DeleteSweep drops the checkpoint of analysisType and its pending rows.
func (s *sqliteStore) DeleteSweep(ctx context.Context, analysisType string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM affinity_sweep_rows WHERE analysis_type = ?`, analysisType); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM affinity_sweeps WHERE analysis_type = ?`, analysisType); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", internalerr.ErrPersist, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
