package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{"analysis_type":"creator","user_id":"u1","item_id":"a","item_name":"Alpha","views":2,"converted":true,"conversions":1}
{"analysis_type":"category","user_id":"u1","item_id":"cooking","views":1}

not json
{"user_id":"u2","item_id":"b","views":1}
`

func TestRead(t *testing.T) {
	records, skipped, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, "creator", first.AnalysisType)
	assert.Equal(t, "u1", first.UserID)
	assert.Equal(t, "a", first.ItemID)
	assert.Equal(t, "Alpha", first.ItemName)
	assert.Equal(t, int64(2), first.Views)
	assert.True(t, first.Converted)
	assert.Equal(t, int64(1), first.Conversions)

	assert.Empty(t, records[2].AnalysisType)
}

func TestRowsAndTypes(t *testing.T) {
	records, _, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	creator := Rows(records, "creator", "creator")
	require.Len(t, creator, 2)
	assert.Equal(t, "a", creator[0].ItemID)
	assert.Equal(t, "b", creator[1].ItemID)

	assert.Len(t, Rows(records, "category", "creator"), 1)
	assert.Len(t, Rows(records, "creator", ""), 1)

	assert.Equal(t, []string{"category", "creator"}, Types(records, ""))
	assert.Equal(t, []string{"category", "creator", "other"}, Types(records, "other"))
}

func TestLoadFromJSONL(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.jsonl")
	require.NoError(t, os.WriteFile(good, []byte(sample), 0o644))

	records, err := LoadFromJSONL(good)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("nope\n\n"), 0o644))
	_, err = LoadFromJSONL(bad)
	assert.Error(t, err)

	_, err = LoadFromJSONL(filepath.Join(dir, "missing.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadSkipsOversizedLine(t *testing.T) {
	huge := `{"user_id":"u9","item_id":"` + strings.Repeat("x", maxLine) + `","views":1}`
	input := `{"user_id":"u1","item_id":"a","views":1}` + "\n" +
		huge + "\n" +
		`{"user_id":"u2","item_id":"b","views":1}`

	records, skipped, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, records, 2)
	assert.Equal(t, "u1", records[0].UserID)
	assert.Equal(t, "u2", records[1].UserID)
}

func TestReadLineAtLimit(t *testing.T) {
	// a line of exactly maxLine bytes is still decoded
	pad := maxLine - len(`{"user_id":"u1","item_id":"","views":1}`)
	line := `{"user_id":"u1","item_id":"` + strings.Repeat("y", pad) + `","views":1}`
	require.Len(t, line, maxLine)

	records, skipped, err := Read(strings.NewReader(line))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 1)
	assert.Len(t, records[0].ItemID, pad)
}
