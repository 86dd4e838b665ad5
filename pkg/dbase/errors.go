package dbase

import (
	"errors"
	"fmt"
	"io"
)

// Sentinel causes wrapped by the typed errors below. Match them with errors.Is.
var (
	// ErrShortHeader is returned when the table is shorter than its header.
	ErrShortHeader = errors.New("header is truncated")

	// ErrUnknownVersion is returned for a version byte outside the supported dialects.
	ErrUnknownVersion = errors.New("unknown version byte")

	// ErrHeaderLength is returned when the declared header length cannot hold a descriptor table.
	ErrHeaderLength = errors.New("invalid header length")

	// ErrMissingTerminator is returned when the descriptor table has no 0x0D terminator.
	ErrMissingTerminator = errors.New("field descriptor terminator not found")

	// ErrRecordLength is returned when the field lengths do not add up to the record length.
	ErrRecordLength = errors.New("record length does not match field descriptors")

	// ErrMalformedFieldName is returned for empty names or names with embedded NUL bytes.
	ErrMalformedFieldName = errors.New("malformed field name")

	// ErrFieldLength is returned for a zero-length field.
	ErrFieldLength = errors.New("invalid field length")

	// ErrUnknownFieldType is returned for an unrecognized type tag.
	ErrUnknownFieldType = errors.New("unknown field type")

	// ErrDuplicateField is returned when two descriptors share a name.
	ErrDuplicateField = errors.New("duplicate field name")

	// ErrMemoHeader is returned when the memo file header cannot be parsed.
	ErrMemoHeader = errors.New("invalid memo file header")

	ErrInvalidNumber  = errors.New("invalid numeric value")
	ErrInvalidDate    = errors.New("invalid date value")
	ErrInvalidLogical = errors.New("invalid logical value")
	ErrInvalidPointer = errors.New("invalid memo block pointer")

	// ErrDeletionFlag is returned when a record starts with neither 0x20 nor 0x2A.
	ErrDeletionFlag = errors.New("invalid deletion flag")

	// ErrMemoFileMissing is returned when a memo field points into a memo file that was not opened.
	ErrMemoFileMissing = errors.New("memo file missing")

	// ErrMemoOutOfRange is returned for a block pointer past the memo file's extent.
	ErrMemoOutOfRange = errors.New("memo block out of range")

	// ErrMemoTruncated is returned when a memo payload ends before its declared length.
	ErrMemoTruncated = errors.New("memo block truncated")

	// ErrMemoUnterminated is returned when no 0x1A 0x1A terminator is found within the scan bound.
	ErrMemoUnterminated = errors.New("memo terminator not found")

	// ErrMemoTooLarge is returned when a memo declares more bytes than Config.MaxMemoSize.
	ErrMemoTooLarge = errors.New("memo block exceeds size bound")

	// ErrRowsInUse is returned when Rows is requested twice from the same table.
	ErrRowsInUse = errors.New("rows already requested for this table")

	// ErrClosed is returned when operating on a closed table.
	ErrClosed = errors.New("table is closed")
)

// StructuralError reports a malformed header or descriptor table. No table is
// returned alongside it.
type StructuralError struct {
	Offset int64
	Field  string
	Err    error
}

func (e *StructuralError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("dbase: structural error at offset %d (field %q): %v", e.Offset, e.Field, e.Err)
	}
	return fmt.Sprintf("dbase: structural error at offset %d: %v", e.Offset, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// FieldError reports a field whose raw bytes do not match its type grammar.
// An empty Field means the record's deletion flag byte was invalid.
type FieldError struct {
	Record int
	Field  string
	Type   FieldType
	Raw    []byte
	Err    error
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("dbase: record %d: %v", e.Record, e.Err)
	}
	return fmt.Sprintf("dbase: record %d field %q (%c): %v (raw %q)", e.Record, e.Field, byte(e.Type), e.Err, e.Raw)
}

func (e *FieldError) Unwrap() error { return e.Err }

// MemoError reports a memo pointer that could not be resolved.
type MemoError struct {
	Record int
	Field  string
	Block  uint32
	Err    error
}

func (e *MemoError) Error() string {
	return fmt.Sprintf("dbase: record %d field %q: memo block %d: %v", e.Record, e.Field, e.Block, e.Err)
}

func (e *MemoError) Unwrap() error { return e.Err }

// TruncationError reports that the table ended inside a record the header
// declares. Records before Record were read in full.
type TruncationError struct {
	Record int
	Offset int64
	Want   int
	Got    int
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("dbase: table truncated at record %d (offset %d): read %d of %d bytes", e.Record, e.Offset, e.Got, e.Want)
}

func (e *TruncationError) Unwrap() error { return io.ErrUnexpectedEOF }
