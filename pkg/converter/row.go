package converter

import (
	"encoding/base64"
	stdjson "encoding/json"
	"io"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/atomicdeploy/dbf-export/pkg/dbase"
)

// Field is one named output value.
type Field struct {
	Name  string
	Value any
}

// Row is an exported record: its fields in table order.
type Row []Field

// Get returns the value of the named field.
func (r Row) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Map returns the row as a map, losing field order.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r))
	for _, f := range r {
		m[f.Name] = f.Value
	}
	return m
}

// MarshalJSON writes the row as an object in field order.
func (r Row) MarshalJSON() ([]byte, error) {
	stream := jsonAPI.BorrowStream(nil)
	defer jsonAPI.ReturnStream(stream)
	writeRow(stream, r)
	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// UnmarshalJSON reads a JSON object keeping its field order.
func (r *Row) UnmarshalJSON(data []byte) error {
	iter := jsonAPI.BorrowIterator(data)
	defer jsonAPI.ReturnIterator(iter)

	if iter.WhatIsNext() == jsoniter.NilValue {
		iter.ReadNil()
		*r = nil
		return nil
	}
	row := Row{}
	iter.ReadObjectCB(func(it *jsoniter.Iterator, name string) bool {
		row = append(row, Field{Name: name, Value: it.Read()})
		return true
	})
	if iter.Error != nil && iter.Error != io.EOF {
		return iter.Error
	}
	*r = row
	return nil
}

// RowFromMap builds a row from a decoded JSON object. Go maps carry no order,
// so fields are sorted by name.
func RowFromMap(m map[string]any) Row {
	row := make(Row, 0, len(m))
	for name, v := range m {
		row = append(row, Field{Name: name, Value: v})
	}
	sortFields(row)
	return row
}

func sortFields(row Row) {
	sort.Slice(row, func(i, j int) bool { return row[i].Name < row[j].Name })
}

// RecordToRow converts every value of rec with ValueToInterface.
func RecordToRow(rec *dbase.Record) Row {
	row := make(Row, rec.Len())
	for i := range row {
		row[i] = Field{Name: rec.Field(i).Name, Value: ValueToInterface(rec.Value(i))}
	}
	return row
}

// RecordToMap converts rec to a name -> value map.
func RecordToMap(rec *dbase.Record) map[string]any {
	return RecordToRow(rec).Map()
}

// ValueToInterface maps a decoded value to a JSON-friendly Go value:
//   - Numeric and Currency become json.Number, keeping every digit
//   - unset dates and unknown logicals become nil
//   - binary memos become []byte (base64 in JSON)
//   - Raw values become lowercase hex strings
func ValueToInterface(v dbase.Value) any {
	switch v.Kind() {
	case dbase.KindCharacter:
		return v.Text()
	case dbase.KindMemo:
		if v.IsBinary() {
			return v.Bytes()
		}
		return v.Text()
	case dbase.KindNumeric, dbase.KindCurrency:
		return stdjson.Number(v.Decimal().String())
	case dbase.KindFloat, dbase.KindDouble:
		return v.Float()
	case dbase.KindInteger:
		return v.Int()
	case dbase.KindDate:
		if t, ok := v.Time(); ok {
			return t.Format(time.DateOnly)
		}
		return nil
	case dbase.KindDateTime:
		if t, ok := v.Time(); ok {
			return t.Format(time.RFC3339Nano)
		}
		return nil
	case dbase.KindLogical:
		switch v.Logical() {
		case dbase.True:
			return true
		case dbase.False:
			return false
		}
		return nil
	case dbase.KindRaw:
		return v.String()
	}
	return nil
}

// FormatValue renders a value as a CSV cell. Null values are empty.
func FormatValue(v dbase.Value) string {
	if v.IsNull() {
		return ""
	}
	switch v.Kind() {
	case dbase.KindMemo:
		if v.IsBinary() {
			return base64.StdEncoding.EncodeToString(v.Bytes())
		}
	case dbase.KindLogical:
		if v.Logical() == dbase.True {
			return "T"
		}
		return "F"
	case dbase.KindDateTime:
		t, _ := v.Time()
		return t.Format(time.RFC3339Nano)
	}
	return v.String()
}
