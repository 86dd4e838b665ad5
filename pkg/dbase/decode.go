package dbase

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	julianUnixEpoch = 2440588 // Julian day number of 1970-01-01
	msPerDay        = 24 * 60 * 60 * 1000
)

// recordDecoder turns raw record bytes into Records.
type recordDecoder struct {
	schema  *schema
	version Version
	memo    memoResolver
	policy  FieldErrorPolicy
}

func (d *recordDecoder) decode(raw []byte, index int) (*Record, error) {
	rec := &Record{
		index:  index,
		schema: d.schema,
		values: make([]Value, len(d.schema.fields)),
	}
	switch raw[0] {
	case flagActive:
	case flagDeleted:
		rec.deleted = true
	default:
		return nil, &FieldError{Record: index, Raw: []byte{raw[0]}, Err: ErrDeletionFlag}
	}

	for i, f := range d.schema.fields {
		b := raw[f.Offset : f.Offset+f.Length]
		v, err := d.decodeField(f, b, index)
		if err != nil {
			if d.policy == FailRecord {
				return nil, err
			}
			v = invalidValue(bytes.Clone(b))
			rec.errs = append(rec.errs, err)
		}
		rec.values[i] = v
	}
	return rec, nil
}

func (d *recordDecoder) decodeField(f FieldDescriptor, b []byte, index int) (Value, error) {
	fail := func(err error) (Value, error) {
		return Value{}, &FieldError{Record: index, Field: f.Name, Type: f.Type, Raw: bytes.Clone(b), Err: err}
	}

	if f.IsMemo(d.version) {
		return d.decodeMemo(f, b, index)
	}

	switch f.Type {
	case TypeCharacter, TypeVarchar:
		return CharacterValue(decodeCharacter(b)), nil

	case TypeNumeric:
		n, err := decodeNumeric(b)
		if err != nil {
			return fail(err)
		}
		return NumericValue(n), nil

	case TypeFloat:
		x, err := decodeFloat(b)
		if err != nil {
			return fail(err)
		}
		return FloatValue(x), nil

	case TypeDate:
		v, err := decodeDate(b)
		if err != nil {
			return fail(err)
		}
		return v, nil

	case TypeLogical:
		l, err := decodeLogical(b)
		if err != nil {
			return fail(err)
		}
		return LogicalValue(l), nil

	case TypeInteger:
		if len(b) != 4 {
			return fail(ErrFieldLength)
		}
		return IntegerValue(int64(int32(binary.LittleEndian.Uint32(b)))), nil

	case TypeDateTime:
		v, err := decodeDateTime(b)
		if err != nil {
			return fail(err)
		}
		return v, nil

	case TypeCurrency:
		if len(b) != 8 {
			return fail(ErrFieldLength)
		}
		return CurrencyValue(decimal.New(int64(binary.LittleEndian.Uint64(b)), -4)), nil

	case TypeBinary:
		// Only reached for Visual FoxPro, where B is an 8-byte double.
		if len(b) != 8 {
			return fail(ErrFieldLength)
		}
		return DoubleValue(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	}

	// _NullFlags and unknown types admitted by PassThroughUnknown.
	return RawValue(bytes.Clone(b)), nil
}

func (d *recordDecoder) decodeMemo(f FieldDescriptor, b []byte, index int) (Value, error) {
	block, err := d.memoPointer(f, b)
	if err != nil {
		return Value{}, &FieldError{Record: index, Field: f.Name, Type: f.Type, Raw: bytes.Clone(b), Err: err}
	}
	textField := f.Type == TypeMemo
	if block == 0 {
		if textField {
			return MemoText(""), nil
		}
		return MemoBinary(nil), nil
	}
	if d.memo == nil {
		return Value{}, &MemoError{Record: index, Field: f.Name, Block: block, Err: ErrMemoFileMissing}
	}
	blk, err := d.memo.resolve(block)
	if err != nil {
		return Value{}, &MemoError{Record: index, Field: f.Name, Block: block, Err: err}
	}
	if blk.text && textField {
		return MemoText(string(blk.data)), nil
	}
	return MemoBinary(blk.data), nil
}

// memoPointer reads the block index from a memo field: ASCII digits, or a
// little-endian uint32 in 4-byte Visual FoxPro fields.
func (d *recordDecoder) memoPointer(f FieldDescriptor, b []byte) (uint32, error) {
	if d.version.VisualFoxPro() && len(b) == 4 {
		return binary.LittleEndian.Uint32(b), nil
	}
	s := strings.Trim(string(b), " \x00")
	if s == "" {
		return 0, nil
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, ErrInvalidPointer
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPointer, err)
	}
	return uint32(n), nil
}

func decodeCharacter(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}

func decodeNumeric(b []byte) (decimal.Decimal, error) {
	s := strings.Trim(string(b), " \x00")
	if s == "" {
		return decimal.Zero, nil
	}
	if !validNumber(s, false) {
		return decimal.Decimal{}, ErrInvalidNumber
	}
	d, err := decimal.NewFromString(strings.TrimPrefix(s, "+"))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return d, nil
}

func decodeFloat(b []byte) (float64, error) {
	s := strings.Trim(string(b), " \x00")
	if s == "" {
		return 0, nil
	}
	if !validNumber(s, true) {
		return 0, ErrInvalidNumber
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return x, nil
}

// validNumber accepts [+-]digits[.digits], with an optional exponent when
// allowExp is set. At least one digit is required.
func validNumber(s string, allowExp bool) bool {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if allowExp && i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		exp := 0
		for i < len(s) && isDigit(s[i]) {
			i++
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == len(s)
}

func decodeDate(b []byte) (Value, error) {
	s := strings.Trim(string(b), " \x00")
	if s == "" || strings.Trim(s, "0") == "" {
		return UnsetDate(), nil
	}
	if len(s) != 8 {
		return Value{}, ErrInvalidDate
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return Value{}, ErrInvalidDate
		}
	}
	year, _ := strconv.Atoi(s[0:4])
	month, _ := strconv.Atoi(s[4:6])
	day, _ := strconv.Atoi(s[6:8])
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return Value{}, fmt.Errorf("%w: %s is not a calendar date", ErrInvalidDate, s)
	}
	return DateValue(year, time.Month(month), day), nil
}

func decodeLogical(b []byte) (Logical, error) {
	switch b[0] {
	case 'T', 't', 'Y', 'y':
		return True, nil
	case 'F', 'f', 'N', 'n':
		return False, nil
	case '?', ' ':
		return Unknown, nil
	}
	return Unknown, ErrInvalidLogical
}

// decodeDateTime reads a T field: a little-endian Julian day number followed
// by milliseconds since midnight.
func decodeDateTime(b []byte) (Value, error) {
	if len(b) != 8 {
		return Value{}, ErrFieldLength
	}
	if len(bytes.Trim(b, " \x00")) == 0 {
		return UnsetDateTime(), nil
	}
	day := int64(binary.LittleEndian.Uint32(b[0:4]))
	ms := int64(binary.LittleEndian.Uint32(b[4:8]))
	if day == 0 {
		return UnsetDateTime(), nil
	}
	if ms >= msPerDay {
		return Value{}, fmt.Errorf("%w: %d ms past midnight", ErrInvalidDate, ms)
	}
	t := time.Unix((day-julianUnixEpoch)*86400, 0).UTC().Add(time.Duration(ms) * time.Millisecond)
	return DateTimeValue(t), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
