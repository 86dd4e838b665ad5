package dbase_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicdeploy/dbf-export/pkg/dbase"
	"github.com/atomicdeploy/dbf-export/pkg/dbase/dbasetest"
)

func memoTable(version byte, pointers ...string) []byte {
	b := dbasetest.New(version, dbasetest.Field{Name: "NOTES", Type: 'M', Length: 10})
	for _, p := range pointers {
		b.Add(p)
	}
	return b.Bytes()
}

func nextMemoErr(t *testing.T, rows *dbase.Rows) *dbase.MemoError {
	t.Helper()
	_, err := rows.Next()
	var me *dbase.MemoError
	require.True(t, errors.As(err, &me), "want *MemoError, got %v", err)
	return me
}

func TestDBase3Memo(t *testing.T) {
	dbt := dbasetest.NewDBT()
	short := dbt.Add("hello")
	long := dbt.Add(strings.Repeat("x", 1500))
	// 511 bytes put the terminator across the first 512-byte read.
	split := dbt.Add(strings.Repeat("y", 511))

	table := memoTable(0x83,
		dbasetest.Pointer(short, 10),
		dbasetest.Pointer(long, 10),
		dbasetest.Pointer(split, 10),
		"",
		"0000000000",
	)
	tbl := openBytes(t, table, dbt.Bytes(), dbase.DefaultConfig())
	records := readAll(t, tbl)
	require.Len(t, records, 5)

	assert.Equal(t, "hello", records[0].Value(0).Text())
	assert.Equal(t, strings.Repeat("x", 1500), records[1].Value(0).Text())
	assert.Equal(t, strings.Repeat("y", 511), records[2].Value(0).Text())
	for _, rec := range records[3:] {
		v := rec.Value(0)
		assert.Equal(t, dbase.KindMemo, v.Kind())
		assert.False(t, v.IsBinary())
		assert.Equal(t, "", v.Text())
	}
}

func TestDBase4Memo(t *testing.T) {
	dbt := dbasetest.NewDBase4DBT(1024)
	text := dbt.Add("dBASE IV memo")
	blob := dbt.Add("\x00\x01\x02\xff")

	b := dbasetest.New(0xCB,
		dbasetest.Field{Name: "NOTES", Type: 'M', Length: 10},
		dbasetest.Field{Name: "BLOB", Type: 'B', Length: 10},
	)
	b.Add(dbasetest.Pointer(text, 10), dbasetest.Pointer(blob, 10))
	tbl := openBytes(t, b.Bytes(), dbt.Bytes(), dbase.DefaultConfig())

	mh, ok := tbl.MemoHeader()
	require.True(t, ok)
	assert.Equal(t, uint16(1024), mh.BlockSize)

	rec := readAll(t, tbl)[0]
	assert.Equal(t, "dBASE IV memo", mustGet(t, rec, "NOTES").Text())
	v := mustGet(t, rec, "BLOB")
	assert.True(t, v.IsBinary())
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0xff}, v.Bytes())
}

func TestFoxProMemo(t *testing.T) {
	fpt := dbasetest.NewFPT(64)
	text := fpt.AddText("short")
	// Spans three 64-byte blocks.
	long := fpt.AddText(strings.Repeat("z", 150))
	picture := fpt.Add(0, []byte{0x89, 'P', 'N', 'G'})
	object := fpt.Add(2, []byte{0xd0, 0xcf})

	b := dbasetest.New(0xF5,
		dbasetest.Field{Name: "NOTES", Type: 'M', Length: 10},
		dbasetest.Field{Name: "OBJ", Type: 'G', Length: 10},
	)
	b.Add(dbasetest.Pointer(text, 10), dbasetest.Pointer(object, 10))
	b.Add(dbasetest.Pointer(long, 10), dbasetest.Pointer(text, 10))
	b.Add(dbasetest.Pointer(picture, 10), "")
	tbl := openBytes(t, b.Bytes(), fpt.Bytes(), dbase.DefaultConfig())

	assert.Equal(t, dbase.MemoFoxPro, tbl.MemoDialect())
	mh, ok := tbl.MemoHeader()
	require.True(t, ok)
	assert.Equal(t, uint16(64), mh.BlockSize)
	assert.Equal(t, uint32(8), text)

	records := readAll(t, tbl)
	require.Len(t, records, 3)

	assert.Equal(t, "short", records[0].Value(0).Text())
	obj := records[0].Value(1)
	assert.True(t, obj.IsBinary())
	assert.Equal(t, []byte{0xd0, 0xcf}, obj.Bytes())

	assert.Equal(t, strings.Repeat("z", 150), records[1].Value(0).Text())
	// A text block behind a general field is still binary content.
	assert.True(t, records[1].Value(1).IsBinary())
	assert.Equal(t, []byte("short"), records[1].Value(1).Bytes())

	pic := records[2].Value(0)
	assert.True(t, pic.IsBinary())
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, pic.Bytes())
	empty := records[2].Value(1)
	assert.True(t, empty.IsBinary())
	assert.Empty(t, empty.Bytes())
}

func TestVisualFoxProMemoPointer(t *testing.T) {
	fpt := dbasetest.NewFPT(64)
	block := fpt.AddText("binary pointer")

	b := dbasetest.New(0x30, dbasetest.Field{Name: "NOTES", Type: 'M', Length: 4})
	b.TableFlags = 0x02
	b.HeaderPad = 263
	b.AddRaw(' ', []byte(dbasetest.LE32(block)))
	b.AddRaw(' ', []byte(dbasetest.LE32(0)))
	tbl := openBytes(t, b.Bytes(), fpt.Bytes(), dbase.DefaultConfig())

	records := readAll(t, tbl)
	assert.Equal(t, "binary pointer", records[0].Value(0).Text())
	assert.Equal(t, "", records[1].Value(0).Text())
}

func TestMemoOutOfRange(t *testing.T) {
	dbt := dbasetest.NewDBT()
	dbt.Add("only")
	tbl := openBytes(t, memoTable(0x83, dbasetest.Pointer(99, 10), dbasetest.Pointer(1, 10)), dbt.Bytes(), dbase.DefaultConfig())
	rows, err := tbl.Rows()
	require.NoError(t, err)

	me := nextMemoErr(t, rows)
	assert.Equal(t, 0, me.Record)
	assert.Equal(t, "NOTES", me.Field)
	assert.Equal(t, uint32(99), me.Block)
	assert.ErrorIs(t, me, dbase.ErrMemoOutOfRange)

	// The failure does not end iteration.
	rec, err := rows.Next()
	require.NoError(t, err)
	assert.Equal(t, "only", rec.Value(0).Text())
}

func TestMemoFileMissing(t *testing.T) {
	tbl := openBytes(t, memoTable(0x83, dbasetest.Pointer(1, 10), ""), nil, dbase.DefaultConfig())
	assert.Equal(t, dbase.MemoDBase, tbl.MemoDialect())
	_, ok := tbl.MemoHeader()
	assert.False(t, ok)

	rows, err := tbl.Rows()
	require.NoError(t, err)

	me := nextMemoErr(t, rows)
	assert.ErrorIs(t, me, dbase.ErrMemoFileMissing)

	// An empty pointer needs no memo file.
	rec, err := rows.Next()
	require.NoError(t, err)
	assert.Equal(t, dbase.KindMemo, rec.Value(0).Kind())
	assert.Equal(t, "", rec.Value(0).Text())
}

func TestMemoFileMissingOnDisk(t *testing.T) {
	table, _ := dbasetest.Sample()
	path, err := dbasetest.WriteFiles(t.TempDir(), "items", table, nil, "")
	require.NoError(t, err)

	cfg := dbase.DefaultConfig()
	cfg.FieldErrors = dbase.MarkInvalid
	tbl, err := dbase.OpenWithConfig(path, cfg)
	require.NoError(t, err)
	defer tbl.Close()
	assert.Empty(t, tbl.MemoPath())

	records := readAll(t, tbl)
	require.Len(t, records, 3)
	assert.Equal(t, dbase.KindInvalid, mustGet(t, records[0], "NOTES").Kind())
	require.Len(t, records[0].Errors(), 1)
	assert.ErrorIs(t, records[0].Errors()[0], dbase.ErrMemoFileMissing)
	assert.Empty(t, records[1].Errors())
}

func TestMemoInvalidPointer(t *testing.T) {
	dbt := dbasetest.NewDBT()
	tbl := openBytes(t, memoTable(0x83, "     12x  "), dbt.Bytes(), dbase.DefaultConfig())
	rows, err := tbl.Rows()
	require.NoError(t, err)

	_, err = rows.Next()
	var fe *dbase.FieldError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, dbase.ErrInvalidPointer)
}

func TestMemoTruncated(t *testing.T) {
	dbt := dbasetest.NewDBT()
	block := dbt.AddRaw([]byte("no terminator"))
	tbl := openBytes(t, memoTable(0x83, dbasetest.Pointer(block, 10)), dbt.Bytes(), dbase.DefaultConfig())
	rows, err := tbl.Rows()
	require.NoError(t, err)

	assert.ErrorIs(t, nextMemoErr(t, rows), dbase.ErrMemoTruncated)
}

func TestMemoUnterminated(t *testing.T) {
	dbt := dbasetest.NewDBT()
	block := dbt.AddRaw(bytes.Repeat([]byte("x"), 2048))
	cfg := dbase.DefaultConfig()
	cfg.MaxMemoSize = 600
	tbl := openBytes(t, memoTable(0x83, dbasetest.Pointer(block, 10)), dbt.Bytes(), cfg)
	rows, err := tbl.Rows()
	require.NoError(t, err)

	assert.ErrorIs(t, nextMemoErr(t, rows), dbase.ErrMemoUnterminated)
}

func TestFoxProMemoBounds(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		fpt := dbasetest.NewFPT(64)
		block := fpt.AddText(strings.Repeat("a", 100))
		cfg := dbase.DefaultConfig()
		cfg.MaxMemoSize = 50
		tbl := openBytes(t, memoTable(0xF5, dbasetest.Pointer(block, 10)), fpt.Bytes(), cfg)
		rows, err := tbl.Rows()
		require.NoError(t, err)

		assert.ErrorIs(t, nextMemoErr(t, rows), dbase.ErrMemoTooLarge)
	})

	t.Run("declared length past end", func(t *testing.T) {
		fpt := dbasetest.NewFPT(64)
		block := fpt.AddText("tiny")
		raw := fpt.Bytes()
		binary.BigEndian.PutUint32(raw[int(block)*64+4:], 1000)
		tbl := openBytes(t, memoTable(0xF5, dbasetest.Pointer(block, 10)), raw, dbase.DefaultConfig())
		rows, err := tbl.Rows()
		require.NoError(t, err)

		assert.ErrorIs(t, nextMemoErr(t, rows), dbase.ErrMemoTruncated)
	})

	t.Run("zero block size", func(t *testing.T) {
		raw := dbasetest.NewFPT(64).Bytes()
		binary.BigEndian.PutUint16(raw[6:8], 0)
		_, err := dbase.NewTable(bytesReader(memoTable(0xF5)), bytesReader(raw), dbase.DefaultConfig())
		var se *dbase.StructuralError
		require.True(t, errors.As(err, &se))
		assert.ErrorIs(t, err, dbase.ErrMemoHeader)
	})
}

func TestMemoCache(t *testing.T) {
	dbt := dbasetest.NewDBT()
	block := dbt.Add("shared")
	cfg := dbase.DefaultConfig()
	cfg.MemoCacheSize = 4
	table := memoTable(0x83, dbasetest.Pointer(block, 10), dbasetest.Pointer(block, 10), dbasetest.Pointer(99, 10))
	tbl := openBytes(t, table, dbt.Bytes(), cfg)
	rows, err := tbl.Rows()
	require.NoError(t, err)

	for range 2 {
		rec, err := rows.Next()
		require.NoError(t, err)
		assert.Equal(t, "shared", rec.Value(0).Text())
	}
	assert.ErrorIs(t, nextMemoErr(t, rows), dbase.ErrMemoOutOfRange)
}

func TestMemoDialectGuessed(t *testing.T) {
	// A FoxPro 2 table without the memo version bit still has memo fields.
	fpt := dbasetest.NewFPT(64)
	block := fpt.AddText("guessed")
	tbl := openBytes(t, memoTable(0xFB, dbasetest.Pointer(block, 10)), fpt.Bytes(), dbase.DefaultConfig())

	assert.Equal(t, dbase.MemoFoxPro, tbl.MemoDialect())
	assert.Equal(t, "guessed", readAll(t, tbl)[0].Value(0).Text())
}
