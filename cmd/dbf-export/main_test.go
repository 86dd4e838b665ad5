package main

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicdeploy/dbf-export/pkg/converter"
	"github.com/atomicdeploy/dbf-export/pkg/datasource"
	"github.com/atomicdeploy/dbf-export/pkg/dbase"
	"github.com/atomicdeploy/dbf-export/pkg/dbase/dbasetest"
)

func writeSample(t *testing.T) string {
	t.Helper()
	table, memo := dbasetest.Sample()
	path, err := dbasetest.WriteFiles(t.TempDir(), "ITEMS", table, memo, ".DBT")
	require.NoError(t, err)
	return path
}

func TestConvertFileJSON(t *testing.T) {
	path := writeSample(t)
	out := t.TempDir()

	file, stats, err := convertFile(path, out, converter.FormatJSON, datasource.Options{
		Table:  dbase.DefaultConfig(),
		Export: converter.Options{KeyField: "CODE"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "ITEMS.json"), file)
	assert.Equal(t, converter.Stats{Written: 2, Deleted: 1}, stats)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var records map[string]map[string]any
	require.NoError(t, jsoniter.Unmarshal(data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "Widget", records["A1"]["NAME"])
	assert.Equal(t, "Second note\r\nspans lines", records["A3"]["NOTES"])
}

func TestConvertFileCSV(t *testing.T) {
	path := writeSample(t)
	out := t.TempDir()

	file, stats, err := convertFile(path, out, converter.FormatCSV, datasource.Options{
		Table:  dbase.DefaultConfig(),
		Export: converter.Options{IncludeDeleted: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Written)

	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()
	lines, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"CODE", "NAME", "PRICE", "SOLD", "ACTIVE", "NOTES"}, lines[0][:6])
	assert.Equal(t, "A2", lines[2][0])
}

func TestConvertFileMissing(t *testing.T) {
	_, _, err := convertFile(filepath.Join(t.TempDir(), "none.dbf"), t.TempDir(), converter.FormatJSON, datasource.Options{})
	assert.Error(t, err)
}

func TestDumpRows(t *testing.T) {
	path := writeSample(t)

	t.Run("limit", func(t *testing.T) {
		tbl, done, _, err := openTable(path, datasource.Options{Table: dbase.DefaultConfig()})
		require.NoError(t, err)
		defer done()
		rows, err := tbl.Rows()
		require.NoError(t, err)

		var buf bytes.Buffer
		printed, err := dumpRows(&buf, rows, 2, false)
		require.NoError(t, err)
		assert.Equal(t, 2, printed)
		assert.Contains(t, buf.String(), "Widget")
		assert.Contains(t, buf.String(), "deleted")
		assert.NotContains(t, buf.String(), "Gizmo")
	})

	t.Run("skip deleted", func(t *testing.T) {
		cfg := dbase.DefaultConfig()
		cfg.SkipDeleted = true
		tbl, done, _, err := openTable(path, datasource.Options{Table: cfg})
		require.NoError(t, err)
		defer done()
		rows, err := tbl.Rows()
		require.NoError(t, err)

		var buf bytes.Buffer
		printed, err := dumpRows(&buf, rows, 0, true)
		require.NoError(t, err)
		assert.Equal(t, 2, printed)
		assert.NotContains(t, buf.String(), "Gadget")
		assert.Contains(t, buf.String(), "Gizmo")
	})
}

func TestSplitRepo(t *testing.T) {
	owner, name, ok := splitRepo("atomicdeploy/dbf-export")
	assert.True(t, ok)
	assert.Equal(t, "atomicdeploy", owner)
	assert.Equal(t, "dbf-export", name)

	for _, bad := range []string{"", "dbf-export", "/x", "a/", "a/b/c"} {
		_, _, ok := splitRepo(bad)
		assert.False(t, ok, bad)
	}
}
