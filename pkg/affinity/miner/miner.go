// Package miner runs the full pair-mining pipeline for one analysis type:
// index engagement rows, select candidate items, fit and score every pair,
// rank, and replace the stored result set.
package miner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/affinity/internal/metrics"
	"github.com/cognicore/affinity/pkg/affinity/candidates"
	"github.com/cognicore/affinity/pkg/affinity/combos"
	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/internalerr"
	"github.com/cognicore/affinity/pkg/affinity/logit"
	"github.com/cognicore/affinity/pkg/affinity/rank"
	"github.com/cognicore/affinity/pkg/affinity/scoring"
	"github.com/cognicore/affinity/pkg/affinity/store"
)

// DefaultMinPopulation is the smallest user population worth analysing.
const DefaultMinPopulation = 50

// DefaultPreviewSize is the number of top combinations echoed in a Summary.
const DefaultPreviewSize = 10

// Options tunes a run. Zero values fall back to defaults where noted.
type Options struct {
	MinUsers        int // per candidate item; default 1
	MaxCandidates   int // default 200
	MinPopulation   int // users required to run at all; 0 disables the check
	Workers         int // default GOMAXPROCS
	MaxCombinations int // pairs evaluated per run; 0 is unlimited, otherwise later runs resume the sweep
	MaxResults      int // rows persisted; 0 keeps every ranked pair
	PreviewSize     int // default 10
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MinUsers:      candidates.DefaultMinUsers,
		MaxCandidates: candidates.DefaultMaxCandidates,
		MinPopulation: DefaultMinPopulation,
		Workers:       runtime.GOMAXPROCS(0),
		PreviewSize:   DefaultPreviewSize,
	}
}

// Summary describes a finished run.
type Summary struct {
	RunID                 string              `json:"run_id" yaml:"run_id"`
	AnalysisType          string              `json:"analysis_type" yaml:"analysis_type"`
	Status                store.RunStatus     `json:"status" yaml:"status"`
	Users                 int                 `json:"users" yaml:"users"`
	CandidatesConsidered  int                 `json:"candidates_considered" yaml:"candidates_considered"`
	CombinationsTotal     int                 `json:"combinations_total" yaml:"combinations_total"`
	CombinationsEvaluated int                 `json:"combinations_evaluated" yaml:"combinations_evaluated"`
	CombinationsRetained  int                 `json:"combinations_retained" yaml:"combinations_retained"`
	DegenerateFits        int                 `json:"degenerate_fits" yaml:"degenerate_fits"`
	Partial               bool                `json:"partial" yaml:"partial"`
	SweepID               string              `json:"sweep_id" yaml:"sweep_id"`
	Resumed               bool                `json:"resumed" yaml:"resumed"`
	Cursor                int                 `json:"cursor" yaml:"cursor"`
	RunAt                 time.Time           `json:"run_at" yaml:"run_at"`
	DurationMS            int64               `json:"duration_ms" yaml:"duration_ms"`
	Top                   []rank.PreviewEntry `json:"top" yaml:"top"`
}

// Miner executes runs against a store. Runs of different analysis types may
// proceed concurrently; a second run of a type already in progress is refused.
type Miner struct {
	store store.Store
	opts  Options
	now   func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a Miner. Non-positive options fall back to defaults.
func New(st store.Store, opts Options) *Miner {
	def := DefaultOptions()
	if opts.MinUsers <= 0 {
		opts.MinUsers = def.MinUsers
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = def.MaxCandidates
	}
	if opts.MinPopulation < 0 {
		opts.MinPopulation = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.PreviewSize <= 0 {
		opts.PreviewSize = def.PreviewSize
	}
	return &Miner{
		store:  st,
		opts:   opts,
		now:    time.Now,
		active: make(map[string]struct{}),
	}
}

// Options returns the effective options.
func (m *Miner) Options() Options { return m.opts }

// Running reports whether a run of analysisType is in progress.
func (m *Miner) Running(analysisType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[analysisType]
	return ok
}

func (m *Miner) acquire(analysisType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[analysisType]; ok {
		return false
	}
	m.active[analysisType] = struct{}{}
	return true
}

func (m *Miner) release(analysisType string) {
	m.mu.Lock()
	delete(m.active, analysisType)
	m.mu.Unlock()
}

// Run mines rows for analysisType and replaces its stored result set.
//
// With MaxCombinations set, a run evaluates at most that many pairs and
// checkpoints the sweep; the next run over the same population and candidates
// resumes where it stopped, and the stored result set is replaced only once
// the sweep has covered every pair. Insufficient input yields a Summary with
// status insufficient_data and leaves stored results untouched. Persistence
// failures and cancellation return an error and leave the previous result set
// and checkpoint intact.
func (m *Miner) Run(ctx context.Context, analysisType string, rows []exposure.Row) (Summary, error) {
	if analysisType == "" {
		return Summary{}, fmt.Errorf("%w: empty analysis type", internalerr.ErrInvalidInput)
	}
	if !m.acquire(analysisType) {
		return Summary{}, fmt.Errorf("%w: %s", internalerr.ErrRunInProgress, analysisType)
	}
	defer m.release(analysisType)

	started := m.now().UTC()
	runID := ulid.MustNew(ulid.Timestamp(started), ulid.DefaultEntropy()).String()
	logger := log.With().Str("analysis_type", analysisType).Str("run_id", runID).Logger()

	run := store.Run{ID: runID, AnalysisType: analysisType, Status: store.RunRunning, StartedAt: started}
	if err := m.store.RecordRun(ctx, run); err != nil {
		return Summary{}, fmt.Errorf("record run: %w", err)
	}

	sum := Summary{RunID: runID, AnalysisType: analysisType, RunAt: started, Top: []rank.PreviewEntry{}}

	pop := exposure.Build(rows)
	sum.Users = pop.Size()
	logger.Debug().Str("stage", "index").
		Int64("rows", pop.Stats.Rows).Int64("skipped", pop.Stats.Skipped).Int("users", pop.Size()).
		Msg("population built")

	if m.opts.MinPopulation > 0 && pop.Size() < m.opts.MinPopulation {
		logger.Info().Str("stage", "index").Int("users", pop.Size()).Int("min_population", m.opts.MinPopulation).
			Msg("insufficient data: population too small")
		return m.finish(ctx, logger, run, sum, store.RunInsufficient, nil)
	}

	sel := candidates.Select(pop.Users, m.opts.MinUsers, m.opts.MaxCandidates)
	sum.CandidatesConsidered = len(sel.Items)
	if !sel.Sufficient() {
		logger.Info().Str("stage", "select").Int("candidates", len(sel.Items)).
			Msg("insufficient data: fewer than 2 candidate items")
		return m.finish(ctx, logger, run, sum, store.RunInsufficient, nil)
	}
	if sel.Truncated {
		logger.Warn().Str("stage", "select").Int("qualified", sel.Qualified).Int("max_candidates", m.opts.MaxCandidates).
			Msg("candidate list truncated")
	}

	sum.CombinationsTotal = combos.Count(len(sel.Items))
	sweep, stored, err := m.openSweep(ctx, logger, analysisType, runID, started, fingerprint(pop, sel.Items), sum.CombinationsTotal)
	if err != nil {
		return m.fail(ctx, logger, run, sum, fmt.Errorf("%w: load sweep: %v", internalerr.ErrPersist, err))
	}
	sum.SweepID = sweep.ID
	sum.Resumed = sweep.ID != runID

	from, to := sweep.Cursor, sum.CombinationsTotal
	if m.opts.MaxCombinations > 0 && from+m.opts.MaxCombinations < to {
		to = from + m.opts.MaxCombinations
	}

	results, degenerate, err := m.evaluate(ctx, logger, pop, sel.Items, from, to)
	if err != nil {
		return m.fail(ctx, logger, run, sum, fmt.Errorf("evaluate: %w", err))
	}
	sum.CombinationsEvaluated = len(results)
	sum.DegenerateFits = degenerate

	sweep.Cursor = to
	sweep.Pending = append(sweep.Pending, rank.Checkpoint(analysisType, runID, rank.Filter(results))...)
	sum.Cursor = sweep.Cursor

	ranked := rank.Rank(rank.Restore(sweep.Pending))
	sum.CombinationsRetained = len(ranked)
	logger.Debug().Str("stage", "rank").Int("retained", len(ranked)).
		Int("cursor", sweep.Cursor).Int("total", sweep.Total).Msg("ranked")

	if !sweep.Done() {
		if err := m.store.SaveSweep(ctx, sweep); err != nil {
			if !errors.Is(err, internalerr.ErrPersist) {
				err = fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
			}
			return m.fail(ctx, logger, run, sum, err)
		}
		sum.Partial = true
		sum.Top = rank.Preview(ranked, m.opts.PreviewSize, pop.Name)
		logger.Warn().Str("stage", "fit").Int("cursor", sweep.Cursor).Int("total", sweep.Total).
			Int("budget", m.opts.MaxCombinations).Msg("combination budget reached, sweep checkpointed")
		return m.finish(ctx, logger, run, sum, store.RunPartial, nil)
	}

	kept := rank.Truncate(ranked, m.opts.MaxResults)
	out := rank.Rows(analysisType, runID, started, kept, pop.Name)
	if err := m.store.ReplaceResults(ctx, analysisType, out); err != nil {
		if !errors.Is(err, internalerr.ErrPersist) {
			err = fmt.Errorf("%w: %v", internalerr.ErrPersist, err)
		}
		return m.fail(ctx, logger, run, sum, err)
	}
	if stored {
		// a finished checkpoint left behind is discarded by the next run
		if err := m.store.DeleteSweep(ctx, analysisType); err != nil {
			logger.Warn().Err(err).Str("stage", "persist").Msg("delete finished sweep")
		}
	}
	sum.Top = rank.Preview(kept, m.opts.PreviewSize, pop.Name)
	return m.finish(ctx, logger, run, sum, store.RunCompleted, nil)
}

// openSweep resumes the stored sweep of analysisType when it enumerates the
// same population and candidates and has pairs left; otherwise it starts a new
// sweep owned by runID. stored reports whether a checkpoint existed.
func (m *Miner) openSweep(ctx context.Context, logger zerolog.Logger, analysisType, runID string, started time.Time, fp string, total int) (store.Sweep, bool, error) {
	fresh := store.Sweep{AnalysisType: analysisType, ID: runID, Fingerprint: fp, Total: total, StartedAt: started}

	prev, ok, err := m.store.Sweep(ctx, analysisType)
	if err != nil {
		return store.Sweep{}, false, err
	}
	if !ok {
		return fresh, false, nil
	}
	if prev.Fingerprint != fp || prev.Total != total || prev.Done() {
		logger.Info().Str("stage", "select").Str("sweep_id", prev.ID).Int("cursor", prev.Cursor).
			Msg("discarding stale sweep")
		return fresh, true, nil
	}
	logger.Info().Str("stage", "select").Str("sweep_id", prev.ID).Int("cursor", prev.Cursor).Int("total", total).
		Msg("resuming sweep")
	return prev, true, nil
}

// fingerprint identifies the enumeration a sweep walks: the candidate list in
// order and every user's exposures and conversions.
func fingerprint(pop exposure.Population, items []string) string {
	h := sha256.New()
	for _, it := range items {
		io.WriteString(h, it)
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	for _, u := range pop.Users {
		fmt.Fprintf(h, "%s\x00%d\x00", u.ID(), u.ConversionCount())
		for _, it := range u.Items() {
			io.WriteString(h, it)
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// evaluate fits and scores the pairs of items at enumeration positions
// [from, to). Each worker owns a stride of result slots, so results stay in
// enumeration order.
func (m *Miner) evaluate(ctx context.Context, logger zerolog.Logger, pop exposure.Population, items []string, from, to int) ([]scoring.Result, int, error) {
	e := combos.NewEnumerator(items)
	e.Skip(from)
	pairs := make([]combos.Combination, 0, max(to-from, 0))
	for e.Position() < to {
		c, ok := e.Next()
		if !ok {
			break
		}
		pairs = append(pairs, c)
	}

	n := pop.Size()
	columns := make(map[string][]bool, len(items))
	for _, item := range items {
		col := make([]bool, n)
		for i, u := range pop.Users {
			col[i] = u.Exposed(item)
		}
		columns[item] = col
	}
	outcomes := scoring.NewOutcomes(pop.Users)

	workers := min(m.opts.Workers, len(pairs))
	results := make([]scoring.Result, len(pairs))
	var degenerate atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			exposed := make([]bool, n)
			for k := w; k < len(pairs); k += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				c := pairs[k]
				colA, colB := columns[c.A], columns[c.B]
				for i := range exposed {
					exposed[i] = colA[i] && colB[i]
				}

				model := logit.Fit(exposed, outcomes.Converted)
				if model.Singular || !model.Converged {
					degenerate.Add(1)
					logger.Debug().Str("stage", "fit").Str("combination", c.Key()).
						Int("iterations", model.Iterations).Bool("singular", model.Singular).
						Msg("fit did not converge, using last estimate")
				}
				results[k] = scoring.Score(c, model, exposed, outcomes)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return results, int(degenerate.Load()), nil
}

func (m *Miner) fail(ctx context.Context, logger zerolog.Logger, run store.Run, sum Summary, cause error) (Summary, error) {
	stage := "fit"
	if errors.Is(cause, internalerr.ErrPersist) {
		stage = "persist"
	}
	logger.Error().Err(cause).Str("stage", stage).Msg("run failed")
	return m.finish(ctx, logger, run, sum, store.RunFailed, cause)
}

func (m *Miner) finish(ctx context.Context, logger zerolog.Logger, run store.Run, sum Summary, status store.RunStatus, cause error) (Summary, error) {
	finished := m.now().UTC()
	sum.Status = status
	sum.DurationMS = finished.Sub(sum.RunAt).Milliseconds()

	run.Status = status
	run.FinishedAt = finished
	run.Users = sum.Users
	run.Candidates = sum.CandidatesConsidered
	run.Evaluated = sum.CombinationsEvaluated
	run.Retained = sum.CombinationsRetained
	if cause != nil {
		run.Error = cause.Error()
	}
	// the run record outlives a canceled request
	if err := m.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn().Err(err).Msg("record run outcome")
	}

	metrics.RecordRun(run.AnalysisType, string(status), finished.Sub(sum.RunAt),
		sum.CombinationsEvaluated, sum.CombinationsRetained, sum.DegenerateFits)

	if cause != nil {
		return sum, cause
	}
	logger.Info().Str("status", string(status)).
		Int("users", sum.Users).Int("candidates", sum.CandidatesConsidered).
		Int("evaluated", sum.CombinationsEvaluated).Int("retained", sum.CombinationsRetained).
		Int64("duration_ms", sum.DurationMS).Msg("run finished")
	return sum, nil
}
