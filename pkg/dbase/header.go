package dbase

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	headerSize     = 32
	descriptorSize = 32
	terminator     = 0x0D

	flagActive  = 0x20
	flagDeleted = 0x2A

	// Visual FoxPro table flag: the table has an associated memo file.
	tableFlagMemo = 0x02
)

// Version is the dialect tag stored in the first byte of a table.
type Version byte

const (
	VersionFoxBase                Version = 0x02
	VersionDBase3                 Version = 0x03
	VersionVisualFoxPro           Version = 0x30
	VersionVisualFoxProAutoInc    Version = 0x31
	VersionVisualFoxProVarchar    Version = 0x32
	VersionVisualFoxProAutoIncVar Version = 0x33
	VersionDBase4Table            Version = 0x43
	VersionDBase4System           Version = 0x63
	VersionDBase3Memo             Version = 0x83
	VersionDBase4SystemMemo       Version = 0x8B
	VersionDBase4TableMemo        Version = 0xCB
	VersionFoxPro2Memo            Version = 0xF5
	VersionFoxPro2                Version = 0xFB
)

var versionNames = map[Version]string{
	VersionFoxBase:                "FoxBase",
	VersionDBase3:                 "dBASE III",
	VersionVisualFoxPro:           "Visual FoxPro",
	VersionVisualFoxProAutoInc:    "Visual FoxPro (autoincrement)",
	VersionVisualFoxProVarchar:    "Visual FoxPro (varchar)",
	VersionVisualFoxProAutoIncVar: "Visual FoxPro (autoincrement, varchar)",
	VersionDBase4Table:            "dBASE IV table",
	VersionDBase4System:           "dBASE IV system",
	VersionDBase3Memo:             "dBASE III with memo",
	VersionDBase4SystemMemo:       "dBASE IV system with memo",
	VersionDBase4TableMemo:        "dBASE IV table with memo",
	VersionFoxPro2Memo:            "FoxPro 2 with memo",
	VersionFoxPro2:                "FoxPro 2",
}

// Known reports whether v is one of the supported dialects.
func (v Version) Known() bool {
	_, ok := versionNames[v]
	return ok
}

func (v Version) String() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(v))
}

// VisualFoxPro reports whether v belongs to the Visual FoxPro family.
func (v Version) VisualFoxPro() bool {
	return v >= VersionVisualFoxPro && v <= VersionVisualFoxProAutoIncVar
}

// FoxPro reports whether v uses FoxPro conventions (FoxBase, FoxPro 2, Visual FoxPro).
func (v Version) FoxPro() bool {
	return v.VisualFoxPro() || v == VersionFoxPro2 || v == VersionFoxPro2Memo || v == VersionFoxBase
}

// DBase4 reports whether v is a dBASE IV dialect.
func (v Version) DBase4() bool {
	switch v {
	case VersionDBase4Table, VersionDBase4System, VersionDBase4SystemMemo, VersionDBase4TableMemo:
		return true
	}
	return false
}

// MemoDialect selects the memo file layout a table uses.
type MemoDialect int

const (
	MemoNone MemoDialect = iota
	// MemoDBase is the block-sequential .dbt layout.
	MemoDBase
	// MemoFoxPro is the block-typed .fpt layout.
	MemoFoxPro
)

func (d MemoDialect) String() string {
	switch d {
	case MemoDBase:
		return "dbt"
	case MemoFoxPro:
		return "fpt"
	}
	return "none"
}

// Extension returns the conventional memo file extension, or "" for MemoNone.
func (d MemoDialect) Extension() string {
	switch d {
	case MemoDBase:
		return ".dbt"
	case MemoFoxPro:
		return ".fpt"
	}
	return ""
}

// Header is the fixed 32-byte table header.
type Header struct {
	Version      Version
	Year         uint8 // offset from 1900
	Month        uint8
	Day          uint8
	RecordCount  uint32
	HeaderLength uint16
	RecordLength uint16
	Incomplete   bool
	Encrypted    bool
	TableFlags   byte
	CodePage     byte
	Memo         MemoDialect
}

// LastUpdate returns the last-update date, or false when the stored date is
// not a calendar date.
func (h Header) LastUpdate() (time.Time, bool) {
	y, m, d := 1900+int(h.Year), time.Month(h.Month), int(h.Day)
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if t.Month() != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// CodePageName returns a description of the language driver id, or "" if unknown.
func (h Header) CodePageName() string {
	return codePages[h.CodePage]
}

var codePages = map[byte]string{
	0x01: "437 US MS-DOS",
	0x02: "850 International MS-DOS",
	0x03: "1252 Windows ANSI",
	0x04: "10000 Standard Macintosh",
	0x64: "852 Eastern European MS-DOS",
	0x65: "866 Russian MS-DOS",
	0x66: "865 Nordic MS-DOS",
	0x67: "861 Icelandic MS-DOS",
	0x6A: "737 Greek MS-DOS",
	0x6B: "857 Turkish MS-DOS",
	0x78: "950 Chinese (Big5) Windows",
	0x79: "949 Korean Windows",
	0x7A: "936 Chinese (GBK) Windows",
	0x7B: "932 Japanese Shift-JIS",
	0x7C: "874 Thai Windows",
	0x7D: "1255 Hebrew Windows",
	0x7E: "1256 Arabic Windows",
	0x96: "10007 Russian Macintosh",
	0x97: "10029 Macintosh EE",
	0x98: "10006 Greek Macintosh",
	0xC8: "1250 Eastern European Windows",
	0xC9: "1251 Russian Windows",
	0xCA: "1254 Turkish Windows",
	0xCB: "1253 Greek Windows",
	0xCC: "1257 Baltic Windows",
}

// readHeader reads and decodes the first 32 bytes of a table.
func readHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, &StructuralError{Offset: 0, Err: ErrShortHeader}
		}
		return Header{}, fmt.Errorf("failed to read header: %w", err)
	}
	return parseHeader(buf[:])
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, &StructuralError{Offset: int64(len(b)), Err: ErrShortHeader}
	}
	h := Header{
		Version:      Version(b[0]),
		Year:         b[1],
		Month:        b[2],
		Day:          b[3],
		RecordCount:  binary.LittleEndian.Uint32(b[4:8]),
		HeaderLength: binary.LittleEndian.Uint16(b[8:10]),
		RecordLength: binary.LittleEndian.Uint16(b[10:12]),
		Incomplete:   b[14] != 0,
		Encrypted:    b[15] != 0,
		TableFlags:   b[28],
		CodePage:     b[29],
	}
	if !h.Version.Known() {
		return Header{}, &StructuralError{Offset: 0, Err: fmt.Errorf("%w 0x%02X", ErrUnknownVersion, b[0])}
	}
	// The descriptor table needs at least the terminator byte after the header.
	if h.HeaderLength < headerSize+1 {
		return Header{}, &StructuralError{Offset: 8, Err: fmt.Errorf("%w %d", ErrHeaderLength, h.HeaderLength)}
	}
	if h.RecordLength < 1 {
		return Header{}, &StructuralError{Offset: 10, Err: ErrRecordLength}
	}
	h.Memo = memoDialectFor(h.Version, h.TableFlags)
	return h, nil
}

func memoDialectFor(v Version, flags byte) MemoDialect {
	switch {
	case v == VersionDBase3Memo || v == VersionDBase4SystemMemo || v == VersionDBase4TableMemo:
		return MemoDBase
	case v == VersionFoxPro2Memo:
		return MemoFoxPro
	case v.VisualFoxPro() && flags&tableFlagMemo != 0:
		return MemoFoxPro
	}
	return MemoNone
}
