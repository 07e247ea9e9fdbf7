package affinity

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/affinity/pkg/affinity/config"
	"github.com/cognicore/affinity/pkg/affinity/exposure"
	"github.com/cognicore/affinity/pkg/affinity/internalerr"
	"github.com/cognicore/affinity/pkg/affinity/miner"
	"github.com/cognicore/affinity/pkg/affinity/store"
	"github.com/cognicore/affinity/pkg/affinity/store/memstore"
)

// population builds n users: every third user watches a and b and converts,
// the rest watch c only.
func population(n int) []exposure.Row {
	var rows []exposure.Row
	for i := 0; i < n; i++ {
		user := fmt.Sprintf("u%03d", i)
		if i%3 == 0 {
			rows = append(rows,
				exposure.Row{UserID: user, ItemID: "a", ItemName: "Alpha", Views: 2, Converted: true, Conversions: 1},
				exposure.Row{UserID: user, ItemID: "b", ItemName: "Bravo", Views: 1, Converted: true, Conversions: 1},
			)
			continue
		}
		rows = append(rows, exposure.Row{UserID: user, ItemID: "c", Views: 1})
	}
	return rows
}

func TestEngineImportAndMineStored(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "affinity.db")

	eng, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer eng.Close()

	require.NoError(t, eng.Import(ctx, "creator", population(60)))

	sum, err := eng.MineStored(ctx, "creator")
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, sum.Status)
	assert.Equal(t, 60, sum.Users)
	assert.Equal(t, 1, sum.CombinationsRetained)

	rows, err := eng.Results(ctx, "creator", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alpha", rows[0].Name1)
	assert.Equal(t, "Bravo", rows[0].Name2)
	assert.InDelta(t, 3.0, rows[0].Lift, 1e-9)

	run, ok, err := eng.LatestRun(ctx, "creator")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sum.RunID, run.ID)

	types, err := eng.AnalysisTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"creator"}, types)
}

func TestEngineMineStoredWithoutImport(t *testing.T) {
	eng := New(Options{Store: memstore.New(), Mining: miner.Options{MinPopulation: 1}})
	_, err := eng.MineStored(context.Background(), "creator")
	assert.ErrorIs(t, err, internalerr.ErrNotFound)
}

func TestEngineMineDefaultPopulationGate(t *testing.T) {
	eng := New(Options{Store: memstore.New(), Mining: miner.DefaultOptions()})
	sum, err := eng.Mine(context.Background(), "creator", population(30))
	require.NoError(t, err)
	assert.Equal(t, store.RunInsufficient, sum.Status)
	assert.False(t, eng.Running("creator"))
}

func TestOpenStoreDrivers(t *testing.T) {
	ctx := context.Background()

	st, err := OpenStore(ctx, config.Store{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, st)

	_, err = OpenStore(ctx, config.Store{Driver: "mysql"})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}
