package dbase_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atomicdeploy/dbf-export/pkg/dbase"
)

func openBytes(t *testing.T, table, memo []byte, cfg dbase.Config) *dbase.Table {
	t.Helper()
	var m dbase.File
	if memo != nil {
		m = bytes.NewReader(memo)
	}
	tbl, err := dbase.NewTable(bytes.NewReader(table), m, cfg)
	require.NoError(t, err)
	return tbl
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

func readAll(t *testing.T, tbl *dbase.Table) []*dbase.Record {
	t.Helper()
	rows, err := tbl.Rows()
	require.NoError(t, err)
	var out []*dbase.Record
	for {
		rec, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func mustGet(t *testing.T, rec *dbase.Record, name string) dbase.Value {
	t.Helper()
	v, ok := rec.Get(name)
	require.True(t, ok, "field %s not found", name)
	return v
}
