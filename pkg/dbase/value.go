package dbase

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindCharacter
	KindNumeric
	KindFloat
	KindDate
	KindLogical
	KindMemo
	KindInteger
	KindDateTime
	KindCurrency
	KindDouble
	KindRaw
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindCharacter: "character",
	KindNumeric:   "numeric",
	KindFloat:     "float",
	KindDate:      "date",
	KindLogical:   "logical",
	KindMemo:      "memo",
	KindInteger:   "integer",
	KindDateTime:  "datetime",
	KindCurrency:  "currency",
	KindDouble:    "double",
	KindRaw:       "raw",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Logical is the tri-state value of an L field.
type Logical int8

const (
	Unknown Logical = iota
	False
	True
)

func (l Logical) String() string {
	switch l {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

// Value is one decoded field. The accessor matching Kind returns the payload;
// the others return zero values.
type Value struct {
	kind    Kind
	text    string
	num     decimal.Decimal
	float   float64
	integer int64
	time    time.Time
	set     bool
	logical Logical
	raw     []byte
	binary  bool
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Text returns the Character/Memo text. Binary memos return their bytes as a string.
func (v Value) Text() string {
	if v.kind == KindMemo && v.binary {
		return string(v.raw)
	}
	return v.text
}

// Decimal returns the Numeric or Currency value.
func (v Value) Decimal() decimal.Decimal { return v.num }

// Float returns the Float or Double value.
func (v Value) Float() float64 { return v.float }

// Int returns the Integer value.
func (v Value) Int() int64 { return v.integer }

// Time returns the Date/DateTime value and false when it is unset.
func (v Value) Time() (time.Time, bool) { return v.time, v.set }

// Logical returns the tri-state Logical value.
func (v Value) Logical() Logical { return v.logical }

// Bytes returns binary memo content, Raw pass-through bytes, or the raw bytes
// of an Invalid value.
func (v Value) Bytes() []byte { return v.raw }

// IsBinary reports whether a Memo value holds binary content rather than text.
func (v Value) IsBinary() bool { return v.binary }

// IsNull reports whether the value is the "unset" state of its type: an unset
// date, an unknown logical, or an Invalid value.
func (v Value) IsNull() bool {
	switch v.kind {
	case KindDate, KindDateTime:
		return !v.set
	case KindLogical:
		return v.logical == Unknown
	case KindInvalid:
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindCharacter:
		return v.text
	case KindMemo:
		return v.Text()
	case KindNumeric, KindCurrency:
		return v.num.String()
	case KindFloat, KindDouble:
		return strconv.FormatFloat(v.float, 'f', -1, 64)
	case KindInteger:
		return strconv.FormatInt(v.integer, 10)
	case KindDate:
		if !v.set {
			return ""
		}
		return v.time.Format("2006-01-02")
	case KindDateTime:
		if !v.set {
			return ""
		}
		return v.time.Format(time.RFC3339)
	case KindLogical:
		return v.logical.String()
	case KindRaw:
		return fmt.Sprintf("%x", v.raw)
	}
	return ""
}

// Constructors used by the decoder and by tests building expected values.

func CharacterValue(s string) Value { return Value{kind: KindCharacter, text: s} }

func NumericValue(d decimal.Decimal) Value { return Value{kind: KindNumeric, num: d} }

func FloatValue(f float64) Value { return Value{kind: KindFloat, float: f} }

func IntegerValue(i int64) Value { return Value{kind: KindInteger, integer: i} }

func CurrencyValue(d decimal.Decimal) Value { return Value{kind: KindCurrency, num: d} }

func DoubleValue(f float64) Value { return Value{kind: KindDouble, float: f} }

func LogicalValue(l Logical) Value { return Value{kind: KindLogical, logical: l} }

// DateValue returns a set date at midnight UTC.
func DateValue(year int, month time.Month, day int) Value {
	return Value{kind: KindDate, time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), set: true}
}

// UnsetDate is the value of a blank D field.
func UnsetDate() Value { return Value{kind: KindDate} }

func DateTimeValue(t time.Time) Value { return Value{kind: KindDateTime, time: t.UTC(), set: true} }

func UnsetDateTime() Value { return Value{kind: KindDateTime} }

func MemoText(s string) Value { return Value{kind: KindMemo, text: s} }

func MemoBinary(b []byte) Value { return Value{kind: KindMemo, raw: b, binary: true} }

func RawValue(b []byte) Value { return Value{kind: KindRaw, raw: b} }

func invalidValue(raw []byte) Value { return Value{kind: KindInvalid, raw: raw} }
