package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/internalerr"
	"github.com/cognicore/affinity/pkg/affinity/store"
)

// Store is an in-memory implementation of store.Store for tests and dry runs.
type Store struct {
	mu         sync.RWMutex
	results    map[string][]store.ResultRow
	runs       map[string][]store.Run // by analysis type, in insertion order
	engagement map[string][]exposure.Row
	sweeps     map[string]store.Sweep
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		results:    make(map[string][]store.ResultRow),
		runs:       make(map[string][]store.Run),
		engagement: make(map[string][]exposure.Row),
		sweeps:     make(map[string]store.Sweep),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// ReplaceResults swaps the result set of analysisType.
func (s *Store) ReplaceResults(ctx context.Context, analysisType string, rows []store.ResultRow) error {
	if err := store.ValidateResults(analysisType, rows); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rows) == 0 {
		delete(s.results, analysisType)
		return nil
	}
	s.results[analysisType] = append([]store.ResultRow(nil), rows...)
	return nil
}

// Results returns stored rows by rank. limit <= 0 returns all rows.
func (s *Store) Results(ctx context.Context, analysisType string, limit int) ([]store.ResultRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.results[analysisType]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return append([]store.ResultRow(nil), rows...), nil
}

// AnalysisTypes lists every analysis type with stored results or runs.
func (s *Store) AnalysisTypes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for t := range s.results {
		seen[t] = struct{}{}
	}
	for t := range s.runs {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// RecordRun inserts or updates a run keyed by its ID.
func (s *Store) RecordRun(ctx context.Context, run store.Run) error {
	if run.ID == "" || run.AnalysisType == "" {
		return fmt.Errorf("%w: run requires id and analysis type", internalerr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.runs[run.AnalysisType]
	for i := range runs {
		if runs[i].ID == run.ID {
			runs[i] = run
			return nil
		}
	}
	s.runs[run.AnalysisType] = append(runs, run)
	return nil
}

// LatestRun returns the most recently started run of analysisType.
func (s *Store) LatestRun(ctx context.Context, analysisType string) (store.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.runs[analysisType]
	if len(runs) == 0 {
		return store.Run{}, false, nil
	}
	latest := runs[0]
	for _, r := range runs[1:] {
		if r.StartedAt.After(latest.StartedAt) || (r.StartedAt.Equal(latest.StartedAt) && r.ID > latest.ID) {
			latest = r
		}
	}
	return latest, true, nil
}

// ReplaceEngagement swaps the stored engagement rows of analysisType.
func (s *Store) ReplaceEngagement(ctx context.Context, analysisType string, rows []exposure.Row) error {
	if analysisType == "" {
		return fmt.Errorf("%w: empty analysis type", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engagement[analysisType] = append([]exposure.Row(nil), rows...)
	return nil
}

// Engagement returns stored engagement rows in insertion order.
func (s *Store) Engagement(ctx context.Context, analysisType string) ([]exposure.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]exposure.Row(nil), s.engagement[analysisType]...), nil
}

// SaveSweep replaces the sweep checkpoint of its analysis type.
func (s *Store) SaveSweep(ctx context.Context, sweep store.Sweep) error {
	if err := store.ValidateSweep(sweep); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
	}

	sweep.Pending = append([]store.ResultRow(nil), sweep.Pending...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps[sweep.AnalysisType] = sweep
	return nil
}

// Sweep returns the checkpoint of analysisType, if any.
func (s *Store) Sweep(ctx context.Context, analysisType string) (store.Sweep, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sweep, ok := s.sweeps[analysisType]
	if !ok {
		return store.Sweep{}, false, nil
	}
	sweep.Pending = append([]store.ResultRow(nil), sweep.Pending...)
	return sweep, true, nil
}

// DeleteSweep drops the checkpoint of analysisType.
func (s *Store) DeleteSweep(ctx context.Context, analysisType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sweeps, analysisType)
	return nil
}

var _ store.Store = (*Store)(nil)
