// Package dbasetest builds dbf tables and dbt/fpt memo files byte by byte for
// tests.
package dbasetest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Field is a column of a table under construction.
type Field struct {
	Name     string
	Type     byte
	Length   int
	Decimals int
}

// Table accumulates a header, descriptors and records.
type Table struct {
	Version    byte
	Year       byte // offset from 1900
	Month      byte
	Day        byte
	TableFlags byte
	CodePage   byte
	// HeaderPad adds bytes after the descriptor terminator, like the 263-byte
	// backlink area of Visual FoxPro tables.
	HeaderPad int
	// RecordCount overrides the declared record count when non-negative.
	RecordCount int
	// NoEOF drops the trailing 0x1A end-of-file marker.
	NoEOF bool

	Fields  []Field
	records [][]byte
}

// New returns a table of the given version with a 2023-01-15 update date.
func New(version byte, fields ...Field) *Table {
	return &Table{
		Version:     version,
		Year:        123,
		Month:       1,
		Day:         15,
		RecordCount: -1,
		Fields:      fields,
	}
}

// RecordLength is one deletion flag byte plus the field lengths.
func (t *Table) RecordLength() int {
	n := 1
	for _, f := range t.Fields {
		n += f.Length
	}
	return n
}

// HeaderLength is the header, descriptors, terminator and padding.
func (t *Table) HeaderLength() int {
	return 32 + 32*len(t.Fields) + 1 + t.HeaderPad
}

// Add appends an active record. Values shorter than their field are padded
// with spaces: on the left for N and F fields, on the right otherwise.
func (t *Table) Add(values ...string) *Table {
	return t.AddRaw(' ', t.encode(values))
}

// AddDeleted appends a record flagged deleted.
func (t *Table) AddDeleted(values ...string) *Table {
	return t.AddRaw('*', t.encode(values))
}

// AddRaw appends a record from its flag byte and field bytes.
func (t *Table) AddRaw(flag byte, fields []byte) *Table {
	rec := append([]byte{flag}, fields...)
	t.records = append(t.records, rec)
	return t
}

func (t *Table) encode(values []string) []byte {
	if len(values) != len(t.Fields) {
		panic(fmt.Sprintf("dbasetest: %d values for %d fields", len(values), len(t.Fields)))
	}
	var buf bytes.Buffer
	for i, f := range t.Fields {
		v := values[i]
		if len(v) > f.Length {
			panic(fmt.Sprintf("dbasetest: value %q longer than field %s (%d)", v, f.Name, f.Length))
		}
		pad := bytes.Repeat([]byte{' '}, f.Length-len(v))
		if f.Type == 'N' || f.Type == 'F' {
			buf.Write(pad)
			buf.WriteString(v)
		} else {
			buf.WriteString(v)
			buf.Write(pad)
		}
	}
	return buf.Bytes()
}

// Header returns the 32-byte table header.
func (t *Table) Header() []byte {
	h := make([]byte, 32)
	h[0] = t.Version
	h[1], h[2], h[3] = t.Year, t.Month, t.Day
	count := len(t.records)
	if t.RecordCount >= 0 {
		count = t.RecordCount
	}
	binary.LittleEndian.PutUint32(h[4:8], uint32(count))
	binary.LittleEndian.PutUint16(h[8:10], uint16(t.HeaderLength()))
	binary.LittleEndian.PutUint16(h[10:12], uint16(t.RecordLength()))
	h[28] = t.TableFlags
	h[29] = t.CodePage
	return h
}

// Descriptor returns the 32-byte descriptor of f.
func Descriptor(f Field) []byte {
	d := make([]byte, 32)
	copy(d[0:11], f.Name)
	d[11] = f.Type
	d[16] = byte(f.Length)
	d[17] = byte(f.Decimals)
	return d
}

// Bytes renders the complete table file.
func (t *Table) Bytes() []byte {
	var buf bytes.Buffer
	buf.Write(t.Header())
	for _, f := range t.Fields {
		buf.Write(Descriptor(f))
	}
	buf.WriteByte(0x0D)
	buf.Write(make([]byte, t.HeaderPad))
	for _, r := range t.records {
		buf.Write(r)
	}
	if !t.NoEOF {
		buf.WriteByte(0x1A)
	}
	return buf.Bytes()
}

// Pointer renders a memo block index as a right-aligned ASCII number.
func Pointer(block uint32, width int) string {
	return fmt.Sprintf("%*d", width, block)
}

// LE32 renders v as 4 little-endian bytes.
func LE32(v uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return string(b[:])
}

// LE64 renders v as 8 little-endian bytes.
func LE64(v uint64) string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return string(b[:])
}

// Double renders a Visual FoxPro B field.
func Double(f float64) string { return LE64(math.Float64bits(f)) }

// DateTime renders a T field: Julian day number and milliseconds since midnight.
func DateTime(t time.Time) string {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	day := uint32(midnight.Unix()/86400 + 2440588)
	ms := uint32(t.Sub(midnight) / time.Millisecond)
	return LE32(day) + LE32(ms)
}

// DBT builds a .dbt memo file.
type DBT struct {
	BlockSize int
	dbase4    bool
	data      []byte
}

// NewDBT returns a dBASE III memo file with 512-byte blocks.
func NewDBT() *DBT {
	return &DBT{BlockSize: 512, data: make([]byte, 512)}
}

// NewDBase4DBT returns a dBASE IV memo file with the given block size, whose
// blocks carry an FF FF 08 00 length prefix.
func NewDBase4DBT(blockSize int) *DBT {
	return &DBT{BlockSize: blockSize, dbase4: true, data: make([]byte, blockSize)}
}

// Add stores text and returns its block index.
func (d *DBT) Add(text string) uint32 {
	if d.dbase4 {
		content := make([]byte, 8, 8+len(text))
		binary.LittleEndian.PutUint32(content[0:4], 0x0008FFFF)
		binary.LittleEndian.PutUint32(content[4:8], uint32(8+len(text)))
		return d.AddRaw(append(content, text...))
	}
	return d.AddRaw(append([]byte(text), 0x1A, 0x1A))
}

// AddRaw stores content as-is, padded to whole blocks, and returns its block index.
func (d *DBT) AddRaw(content []byte) uint32 {
	block := uint32(len(d.data) / d.BlockSize)
	d.data = append(d.data, content...)
	if rem := len(d.data) % d.BlockSize; rem != 0 {
		d.data = append(d.data, make([]byte, d.BlockSize-rem)...)
	}
	return block
}

// NextFree is the block index following the last stored block.
func (d *DBT) NextFree() uint32 { return uint32(len(d.data) / d.BlockSize) }

// Bytes renders the memo file.
func (d *DBT) Bytes() []byte {
	out := bytes.Clone(d.data)
	binary.LittleEndian.PutUint32(out[0:4], d.NextFree())
	if d.dbase4 {
		binary.LittleEndian.PutUint16(out[20:22], uint16(d.BlockSize))
	}
	return out
}

// FPT builds an .fpt memo file.
type FPT struct {
	BlockSize int
	data      []byte
}

// NewFPT returns a FoxPro memo file. The 512-byte header occupies the first
// blocks.
func NewFPT(blockSize int) *FPT {
	size := 512
	if rem := size % blockSize; rem != 0 {
		size += blockSize - rem
	}
	return &FPT{BlockSize: blockSize, data: make([]byte, size)}
}

// AddText stores a text block and returns its block index.
func (f *FPT) AddText(text string) uint32 { return f.Add(1, []byte(text)) }

// Add stores a block of the given type (0 picture, 1 text, 2 object).
func (f *FPT) Add(kind uint32, payload []byte) uint32 {
	block := uint32(len(f.data) / f.BlockSize)
	var prefix [8]byte
	binary.BigEndian.PutUint32(prefix[0:4], kind)
	binary.BigEndian.PutUint32(prefix[4:8], uint32(len(payload)))
	f.data = append(f.data, prefix[:]...)
	f.data = append(f.data, payload...)
	if rem := len(f.data) % f.BlockSize; rem != 0 {
		f.data = append(f.data, make([]byte, f.BlockSize-rem)...)
	}
	return block
}

// NextFree is the block index following the last stored block.
func (f *FPT) NextFree() uint32 { return uint32(len(f.data) / f.BlockSize) }

// Bytes renders the memo file.
func (f *FPT) Bytes() []byte {
	out := bytes.Clone(f.data)
	binary.BigEndian.PutUint32(out[0:4], f.NextFree())
	binary.BigEndian.PutUint16(out[6:8], uint16(f.BlockSize))
	return out
}

// WriteFiles writes table (and memo, when non-nil) into dir as name.dbf and
// name+memoExt. It returns the table path.
func WriteFiles(dir, name string, table, memo []byte, memoExt string) (string, error) {
	path := filepath.Join(dir, name+".dbf")
	if err := os.WriteFile(path, table, 0644); err != nil {
		return "", err
	}
	if memo != nil {
		if err := os.WriteFile(filepath.Join(dir, name+memoExt), memo, 0644); err != nil {
			return "", err
		}
	}
	return path, nil
}

// Sample returns a small dBASE III table with a memo file: three records, the
// second of them deleted.
func Sample() (table, memo []byte) {
	dbt := NewDBT()
	first := dbt.Add("First note")
	second := dbt.Add("Second note\r\nspans lines")

	t := New(0x83,
		Field{Name: "CODE", Type: 'C', Length: 6},
		Field{Name: "NAME", Type: 'C', Length: 12},
		Field{Name: "PRICE", Type: 'N', Length: 8, Decimals: 2},
		Field{Name: "SOLD", Type: 'D', Length: 8},
		Field{Name: "ACTIVE", Type: 'L', Length: 1},
		Field{Name: "NOTES", Type: 'M', Length: 10},
	)
	t.Add("A1", "Widget", "12.50", "20230115", "T", Pointer(first, 10))
	t.AddDeleted("A2", "Gadget", "3", "", "F", "")
	t.Add("A3", "Gizmo", "-0.75", "19991231", "?", Pointer(second, 10))
	return t.Bytes(), dbt.Bytes()
}
