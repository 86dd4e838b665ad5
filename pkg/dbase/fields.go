package dbase

import (
	"bytes"
	"fmt"
	"strings"
)

// FieldType is the single-character type tag of a field descriptor.
type FieldType byte

const (
	TypeCharacter FieldType = 'C'
	TypeNumeric   FieldType = 'N'
	TypeFloat     FieldType = 'F'
	TypeDate      FieldType = 'D'
	TypeLogical   FieldType = 'L'
	TypeMemo      FieldType = 'M'
	TypeInteger   FieldType = 'I'
	TypeDateTime  FieldType = 'T'
	TypeCurrency  FieldType = 'Y'
	TypeBinary    FieldType = 'B' // double in Visual FoxPro, binary memo in dBASE
	TypeGeneral   FieldType = 'G'
	TypePicture   FieldType = 'P'
	TypeVarchar   FieldType = 'V'
	TypeNullFlags FieldType = '0'
)

var fieldTypeNames = map[FieldType]string{
	TypeCharacter: "character",
	TypeNumeric:   "numeric",
	TypeFloat:     "float",
	TypeDate:      "date",
	TypeLogical:   "logical",
	TypeMemo:      "memo",
	TypeInteger:   "integer",
	TypeDateTime:  "datetime",
	TypeCurrency:  "currency",
	TypeBinary:    "binary",
	TypeGeneral:   "general",
	TypePicture:   "picture",
	TypeVarchar:   "varchar",
	TypeNullFlags: "nullflags",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%q)", rune(t))
}

// Known reports whether t is a recognized type tag.
func (t FieldType) Known() bool {
	_, ok := fieldTypeNames[t]
	return ok
}

// FieldDescriptor describes one column of a table.
type FieldDescriptor struct {
	Name     string
	Type     FieldType
	Length   int
	Decimals int
	// Offset is the byte position inside a record; offset 0 holds the deletion flag.
	Offset int
	Flags  byte
}

// IsMemo reports whether values of the field live in the memo file under the
// given table version.
func (f FieldDescriptor) IsMemo(v Version) bool {
	switch f.Type {
	case TypeMemo, TypeGeneral, TypePicture:
		return true
	case TypeBinary:
		return !v.VisualFoxPro()
	}
	return false
}

// schema is the decoded descriptor table with its name index.
type schema struct {
	fields []FieldDescriptor
	byName map[string]int
	folded map[string]int
}

func (s *schema) lookup(name string) (int, bool) {
	if i, ok := s.byName[name]; ok {
		return i, true
	}
	i, ok := s.folded[strings.ToUpper(name)]
	return i, ok
}

// parseDescriptors decodes the descriptor table in region, which holds the
// header bytes following the 32-byte table header up to the declared header
// length. It stops at the 0x0D terminator.
func parseDescriptors(region []byte, h Header, cfg Config) (*schema, error) {
	s := &schema{
		byName: make(map[string]int),
		folded: make(map[string]int),
	}
	offset := 1
	pos := 0
	for {
		at := int64(headerSize + pos)
		if pos >= len(region) {
			return nil, &StructuralError{Offset: at, Err: ErrMissingTerminator}
		}
		if region[pos] == terminator {
			break
		}
		if len(region)-pos < descriptorSize {
			return nil, &StructuralError{Offset: at, Err: ErrMissingTerminator}
		}
		f, err := parseDescriptor(region[pos:pos+descriptorSize], cfg)
		if err != nil {
			err.Offset = at
			return nil, err
		}
		f.Offset = offset
		offset += f.Length

		if _, dup := s.folded[strings.ToUpper(f.Name)]; dup && !cfg.AllowDuplicateNames {
			return nil, &StructuralError{Offset: at, Field: f.Name, Err: ErrDuplicateField}
		}
		s.byName[f.Name] = len(s.fields)
		s.folded[strings.ToUpper(f.Name)] = len(s.fields)
		s.fields = append(s.fields, f)
		pos += descriptorSize
	}

	if offset != int(h.RecordLength) {
		return nil, &StructuralError{
			Offset: 10,
			Err:    fmt.Errorf("%w: header declares %d bytes, fields need %d", ErrRecordLength, h.RecordLength, offset),
		}
	}
	return s, nil
}

func parseDescriptor(b []byte, cfg Config) (FieldDescriptor, *StructuralError) {
	name, ok := parseFieldName(b[0:11])
	if !ok {
		return FieldDescriptor{}, &StructuralError{Field: string(bytes.TrimRight(b[0:11], "\x00 ")), Err: ErrMalformedFieldName}
	}
	f := FieldDescriptor{
		Name:     name,
		Type:     FieldType(b[11]),
		Length:   int(b[16]),
		Decimals: int(b[17]),
		Flags:    b[18],
	}
	if !f.Type.Known() && !cfg.PassThroughUnknown {
		return FieldDescriptor{}, &StructuralError{Field: name, Err: fmt.Errorf("%w %q", ErrUnknownFieldType, rune(b[11]))}
	}
	if f.Length == 0 {
		return FieldDescriptor{}, &StructuralError{Field: name, Err: ErrFieldLength}
	}
	return f, nil
}

// parseFieldName trims NUL/space padding from an 11-byte name. A NUL followed
// by anything other than padding is malformed.
func parseFieldName(b []byte) (string, bool) {
	end := bytes.IndexByte(b, 0)
	if end < 0 {
		end = len(b)
	}
	for _, c := range b[end:] {
		if c != 0 && c != ' ' {
			return "", false
		}
	}
	name := strings.TrimRight(string(b[:end]), " ")
	if name == "" {
		return "", false
	}
	return name, true
}
