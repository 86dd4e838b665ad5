package dbase_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicdeploy/dbf-export/pkg/dbase"
	"github.com/atomicdeploy/dbf-export/pkg/dbase/dbasetest"
)

// decodeOne builds a single-field, single-record table and decodes it.
func decodeOne(t *testing.T, version byte, f dbasetest.Field, raw string, cfg dbase.Config) (*dbase.Record, error) {
	t.Helper()
	b := dbasetest.New(version, f)
	b.AddRaw(' ', []byte(raw))
	tbl := openBytes(t, b.Bytes(), nil, cfg)
	rows, err := tbl.Rows()
	require.NoError(t, err)
	return rows.Next()
}

func TestDecodeCharacter(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"ABC  ", "ABC"},
		{"     ", ""},
		{"  AB ", "  AB"},
		{"AB\x00\x00\x00", "AB"},
		{"A B C", "A B C"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rec, err := decodeOne(t, 0x03, dbasetest.Field{Name: "S", Type: 'C', Length: 5}, tt.raw, dbase.DefaultConfig())
			require.NoError(t, err)
			v := rec.Value(0)
			assert.Equal(t, dbase.KindCharacter, v.Kind())
			assert.Equal(t, tt.want, v.Text())
		})
	}
}

func TestDecodeNumeric(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  12.50", "12.5"},
		{"     -3", "-3"},
		{"   +0.5", "0.5"},
		{"       ", "0"},
		{"1234567", "1234567"},
		{"  .25  ", "0.25"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rec, err := decodeOne(t, 0x03, dbasetest.Field{Name: "N", Type: 'N', Length: 7, Decimals: 2}, tt.raw, dbase.DefaultConfig())
			require.NoError(t, err)
			v := rec.Value(0)
			assert.Equal(t, dbase.KindNumeric, v.Kind())
			assert.True(t, v.Decimal().Equal(decimal.RequireFromString(tt.want)), "got %s want %s", v.Decimal(), tt.want)
		})
	}
}

func TestDecodeNumericInvalid(t *testing.T) {
	for _, raw := range []string{"  12a  ", "1.2.3  ", "   -   ", "1 2    ", "***    "} {
		t.Run(raw, func(t *testing.T) {
			_, err := decodeOne(t, 0x03, dbasetest.Field{Name: "N", Type: 'N', Length: 7}, raw, dbase.DefaultConfig())
			var fe *dbase.FieldError
			require.True(t, errors.As(err, &fe), "want *FieldError, got %v", err)
			assert.Equal(t, "N", fe.Field)
			assert.Equal(t, dbase.TypeNumeric, fe.Type)
			assert.Equal(t, []byte(raw), fe.Raw)
			assert.ErrorIs(t, err, dbase.ErrInvalidNumber)
		})
	}
}

func TestDecodeFloat(t *testing.T) {
	rec, err := decodeOne(t, 0x03, dbasetest.Field{Name: "F", Type: 'F', Length: 8}, "  1.5e3 ", dbase.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, dbase.KindFloat, rec.Value(0).Kind())
	assert.Equal(t, 1500.0, rec.Value(0).Float())

	_, err = decodeOne(t, 0x03, dbasetest.Field{Name: "F", Type: 'F', Length: 8}, "  x.5   ", dbase.DefaultConfig())
	assert.ErrorIs(t, err, dbase.ErrInvalidNumber)
}

func TestDecodeDate(t *testing.T) {
	rec, err := decodeOne(t, 0x03, dbasetest.Field{Name: "D", Type: 'D', Length: 8}, "20230115", dbase.DefaultConfig())
	require.NoError(t, err)
	got, set := rec.Value(0).Time()
	require.True(t, set)
	assert.Equal(t, time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, "2023-01-15", rec.Value(0).String())

	for _, blank := range []string{"        ", "00000000", "\x00\x00\x00\x00\x00\x00\x00\x00"} {
		rec, err := decodeOne(t, 0x03, dbasetest.Field{Name: "D", Type: 'D', Length: 8}, blank, dbase.DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, dbase.KindDate, rec.Value(0).Kind())
		assert.True(t, rec.Value(0).IsNull())
	}

	for _, bad := range []string{"20230230", "2023011X", "20231301", "2023 1 5"} {
		_, err := decodeOne(t, 0x03, dbasetest.Field{Name: "D", Type: 'D', Length: 8}, bad, dbase.DefaultConfig())
		assert.ErrorIs(t, err, dbase.ErrInvalidDate, bad)
	}
}

func TestDecodeLogical(t *testing.T) {
	tests := []struct {
		raw  string
		want dbase.Logical
	}{
		{"T", dbase.True},
		{"t", dbase.True},
		{"Y", dbase.True},
		{"y", dbase.True},
		{"F", dbase.False},
		{"f", dbase.False},
		{"N", dbase.False},
		{"n", dbase.False},
		{"?", dbase.Unknown},
		{" ", dbase.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rec, err := decodeOne(t, 0x03, dbasetest.Field{Name: "L", Type: 'L', Length: 1}, tt.raw, dbase.DefaultConfig())
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Value(0).Logical())
		})
	}

	_, err := decodeOne(t, 0x03, dbasetest.Field{Name: "L", Type: 'L', Length: 1}, "X", dbase.DefaultConfig())
	assert.ErrorIs(t, err, dbase.ErrInvalidLogical)
}

func TestDecodeVisualFoxProTypes(t *testing.T) {
	b := dbasetest.New(0x30,
		dbasetest.Field{Name: "ID", Type: 'I', Length: 4},
		dbasetest.Field{Name: "STAMP", Type: 'T', Length: 8},
		dbasetest.Field{Name: "PRICE", Type: 'Y', Length: 8, Decimals: 4},
		dbasetest.Field{Name: "RATIO", Type: 'B', Length: 8},
		dbasetest.Field{Name: "LABEL", Type: 'V', Length: 6},
		dbasetest.Field{Name: "_NullFlags", Type: '0', Length: 1},
	)
	b.HeaderPad = 263
	negOne := int32(-1)
	b.AddRaw(' ', []byte(
		dbasetest.LE32(uint32(negOne))+
			"\xB8\x83\x25\x00\x80\xEE\x36\x00"+
			dbasetest.LE64(123450)+
			dbasetest.Double(0.25)+
			"hi    "+
			"\x03"))
	tbl := openBytes(t, b.Bytes(), nil, dbase.DefaultConfig())
	rec := readAll(t, tbl)[0]

	assert.Equal(t, int64(-1), mustGet(t, rec, "ID").Int())

	stamp, set := mustGet(t, rec, "STAMP").Time()
	require.True(t, set)
	assert.Equal(t, time.Date(2019, 3, 9, 1, 0, 0, 0, time.UTC), stamp)

	price := mustGet(t, rec, "PRICE")
	assert.Equal(t, dbase.KindCurrency, price.Kind())
	assert.True(t, price.Decimal().Equal(decimal.RequireFromString("12.345")))

	ratio := mustGet(t, rec, "RATIO")
	assert.Equal(t, dbase.KindDouble, ratio.Kind())
	assert.Equal(t, 0.25, ratio.Float())

	assert.Equal(t, "hi", mustGet(t, rec, "LABEL").Text())

	flags := mustGet(t, rec, "_NullFlags")
	assert.Equal(t, dbase.KindRaw, flags.Kind())
	assert.Equal(t, []byte{0x03}, flags.Bytes())
}

func TestDecodeDateTime(t *testing.T) {
	field := dbasetest.Field{Name: "T", Type: 'T', Length: 8}

	// Julian day 2458730 is 2019-09-03.
	rec, err := decodeOne(t, 0x30, field, dbasetest.LE32(2458730)+dbasetest.LE32(0), dbase.DefaultConfig())
	require.NoError(t, err)
	got, set := rec.Value(0).Time()
	require.True(t, set)
	assert.Equal(t, time.Date(2019, 9, 3, 0, 0, 0, 0, time.UTC), got)

	want := time.Date(2024, 2, 29, 23, 59, 58, 500*int(time.Millisecond), time.UTC)
	rec, err = decodeOne(t, 0x30, field, dbasetest.DateTime(want), dbase.DefaultConfig())
	require.NoError(t, err)
	got, _ = rec.Value(0).Time()
	assert.Equal(t, want, got)

	rec, err = decodeOne(t, 0x30, field, "        ", dbase.DefaultConfig())
	require.NoError(t, err)
	assert.True(t, rec.Value(0).IsNull())

	_, err = decodeOne(t, 0x30, field, dbasetest.LE32(2458730)+dbasetest.LE32(86400000), dbase.DefaultConfig())
	assert.ErrorIs(t, err, dbase.ErrInvalidDate)
}

func TestMarkInvalid(t *testing.T) {
	b := dbasetest.New(0x03,
		dbasetest.Field{Name: "CODE", Type: 'C', Length: 3},
		dbasetest.Field{Name: "QTY", Type: 'N', Length: 4},
		dbasetest.Field{Name: "OK", Type: 'L', Length: 1},
	)
	b.Add("abc", "12a", "Q")
	b.Add("def", "7", "T")
	cfg := dbase.DefaultConfig()
	cfg.FieldErrors = dbase.MarkInvalid
	tbl := openBytes(t, b.Bytes(), nil, cfg)

	records := readAll(t, tbl)
	require.Len(t, records, 2)

	bad := records[0]
	assert.Equal(t, "abc", bad.Value(0).Text())
	assert.Equal(t, dbase.KindInvalid, bad.Value(1).Kind())
	assert.Equal(t, []byte(" 12a"), bad.Value(1).Bytes())
	assert.True(t, bad.Value(1).IsNull())
	assert.Equal(t, dbase.KindInvalid, bad.Value(2).Kind())
	require.Len(t, bad.Errors(), 2)
	assert.ErrorIs(t, bad.Errors()[0], dbase.ErrInvalidNumber)
	assert.ErrorIs(t, bad.Errors()[1], dbase.ErrInvalidLogical)

	assert.Empty(t, records[1].Errors())
	assert.Equal(t, int64(7), records[1].Value(1).Decimal().IntPart())
}

func TestFailRecordContinues(t *testing.T) {
	b := dbasetest.New(0x03, dbasetest.Field{Name: "QTY", Type: 'N', Length: 4})
	b.Add("x").Add("5")
	tbl := openBytes(t, b.Bytes(), nil, dbase.DefaultConfig())
	rows, err := tbl.Rows()
	require.NoError(t, err)

	_, err = rows.Next()
	var fe *dbase.FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 0, fe.Record)
	assert.NoError(t, rows.Err())

	rec, err := rows.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Index())
}

func TestInvalidDeletionFlag(t *testing.T) {
	b := dbasetest.New(0x03, dbasetest.Field{Name: "A", Type: 'C', Length: 2})
	b.AddRaw('X', []byte("ab"))
	b.Add("cd")
	tbl := openBytes(t, b.Bytes(), nil, dbase.DefaultConfig())
	rows, err := tbl.Rows()
	require.NoError(t, err)

	_, err = rows.Next()
	var fe *dbase.FieldError
	require.True(t, errors.As(err, &fe))
	assert.Empty(t, fe.Field)
	assert.ErrorIs(t, err, dbase.ErrDeletionFlag)

	rec, err := rows.Next()
	require.NoError(t, err)
	assert.Equal(t, "cd", rec.Value(0).Text())
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "12.5", dbase.NumericValue(decimal.RequireFromString("12.50")).String())
	assert.Equal(t, "", dbase.UnsetDate().String())
	assert.Equal(t, "unknown", dbase.LogicalValue(dbase.Unknown).String())
	assert.Equal(t, "0.25", dbase.DoubleValue(0.25).String())
	assert.Equal(t, "0a0b", dbase.RawValue([]byte{0x0a, 0x0b}).String())
	assert.Equal(t, "2019-03-09T01:00:00Z", dbase.DateTimeValue(time.Date(2019, 3, 9, 1, 0, 0, 0, time.UTC)).String())
}
