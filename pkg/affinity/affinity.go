package affinity

import (
	"context"
	"fmt"

	"github.com/cognicore/affinity/pkg/affinity/config"
	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/internalerr"
	"github.com/cognicore/affinity/pkg/affinity/miner"
	"github.com/cognicore/affinity/pkg/affinity/store"
	"github.com/cognicore/affinity/pkg/affinity/store/memstore"
	"github.com/cognicore/affinity/pkg/affinity/store/postgres"
	"github.com/cognicore/affinity/pkg/affinity/store/sqlite"
)

// Engine is the main facade: it owns a store and mines engagement into it.
type Engine struct {
	store store.Store
	miner *miner.Miner
}

// Options configures an Engine
type Options struct {
	Store  store.Store
	Mining miner.Options
}

// New creates an Engine with the given dependencies
func New(opts Options) *Engine {
	return &Engine{
		store: opts.Store,
		miner: miner.New(opts.Store, opts.Mining),
	}
}

// Open builds an Engine from configuration, opening the configured store.
func Open(ctx context.Context, cfg config.Config) (*Engine, error) {
	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	return New(Options{Store: st, Mining: cfg.Analysis.Options()}), nil
}

// OpenStore opens the store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return sqlite.OpenSQLite(ctx, cfg.Path)
	case "postgres":
		return postgres.Open(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", internalerr.ErrInvalidConfig, cfg.Driver)
	}
}

// Close cleanly shuts down the Engine
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store exposes the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Import replaces the stored engagement rows of analysisType.
func (e *Engine) Import(ctx context.Context, analysisType string, rows []exposure.Row) error {
	return e.store.ReplaceEngagement(ctx, analysisType, rows)
}

// Mine runs the pipeline over rows and replaces the stored results.
func (e *Engine) Mine(ctx context.Context, analysisType string, rows []exposure.Row) (miner.Summary, error) {
	return e.miner.Run(ctx, analysisType, rows)
}

// MineStored runs the pipeline over the engagement rows previously imported
// for analysisType.
func (e *Engine) MineStored(ctx context.Context, analysisType string) (miner.Summary, error) {
	if e.miner.Running(analysisType) {
		return miner.Summary{}, fmt.Errorf("%w: %s", internalerr.ErrRunInProgress, analysisType)
	}
	rows, err := e.store.Engagement(ctx, analysisType)
	if err != nil {
		return miner.Summary{}, fmt.Errorf("load engagement: %w", err)
	}
	if len(rows) == 0 {
		return miner.Summary{}, fmt.Errorf("%w: no engagement imported for %s", internalerr.ErrNotFound, analysisType)
	}
	return e.miner.Run(ctx, analysisType, rows)
}

// Results returns the ranked combinations of analysisType.
func (e *Engine) Results(ctx context.Context, analysisType string, limit int) ([]store.ResultRow, error) {
	return e.store.Results(ctx, analysisType, limit)
}

// LatestRun returns the most recent run of analysisType.
func (e *Engine) LatestRun(ctx context.Context, analysisType string) (store.Run, bool, error) {
	return e.store.LatestRun(ctx, analysisType)
}

// AnalysisTypes lists the analysis types known to the store.
func (e *Engine) AnalysisTypes(ctx context.Context) ([]string, error) {
	return e.store.AnalysisTypes(ctx)
}

// Running reports whether a run of analysisType is in progress.
func (e *Engine) Running(analysisType string) bool {
	return e.miner.Running(analysisType)
}
