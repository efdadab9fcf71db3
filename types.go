package fhirpath

import (
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/probemed/fhirpath/internal/overflow"
)

// Boolean is the FHIRPath System.Boolean type.
type Boolean bool

func (b Boolean) Children(name ...string) Collection { return nil }

func (b Boolean) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	return b, true, nil
}
func (b Boolean) ToString(explicit bool) (v String, ok bool, err error) {
	if explicit {
		return String(b.String()), true, nil
	}
	return "", false, implicitConversionError[Boolean, String](b)
}
func (b Boolean) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if explicit {
		if b {
			return 1, true, nil
		}
		return 0, true, nil
	}
	return 0, false, implicitConversionError[Boolean, Integer](b)
}
func (b Boolean) ToLong(explicit bool) (v Long, ok bool, err error) {
	if explicit {
		if b {
			return 1, true, nil
		}
		return 0, true, nil
	}
	return 0, false, implicitConversionError[Boolean, Long](b)
}
func (b Boolean) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	if explicit {
		if b {
			return Decimal{Value: apd.New(10, -1)}, true, nil
		}
		return Decimal{Value: apd.New(0, -1)}, true, nil
	}
	return Decimal{}, false, implicitConversionError[Boolean, Decimal](b)
}
func (b Boolean) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[Boolean, Date]()
}
func (b Boolean) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[Boolean, Time]()
}
func (b Boolean) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[Boolean, DateTime]()
}
func (b Boolean) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	if explicit {
		var magnitude int64
		if b {
			magnitude = 10
		}
		return Quantity{Value: Decimal{Value: apd.New(magnitude, -1)}, Unit: "1"}, true, nil
	}
	return Quantity{}, false, conversionError[Boolean, Quantity]()
}
func (b Boolean) Equal(other Element) (eq bool, ok bool) {
	o, ok, err := other.ToBoolean(false)
	if err == nil && ok {
		return b == o, true
	}
	if isStringish(other) {
		return other.Equal(b)
	}
	return false, true
}
func (b Boolean) Equivalent(other Element) bool {
	eq, ok := b.Equal(other)
	return ok && eq
}
func (b Boolean) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "Boolean",
		BaseType:  TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}
func (b Boolean) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}
func (b Boolean) String() string {
	return strconv.FormatBool(bool(b))
}

// String is the FHIRPath System.String type.
type String string

func (s String) Children(name ...string) Collection { return nil }

var (
	truthyStrings = []string{"true", "t", "yes", "y", "1", "1.0"}
	falsyStrings  = []string{"false", "f", "no", "n", "0", "0.0"}
)

func (s String) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if explicit {
		lower := strings.ToLower(string(s))
		if slices.Contains(truthyStrings, lower) {
			return true, true, nil
		}
		if slices.Contains(falsyStrings, lower) {
			return false, true, nil
		}
		return false, false, nil
	}
	return false, false, implicitConversionError[String, Boolean](s)
}
func (s String) ToString(explicit bool) (v String, ok bool, err error) {
	return s, true, nil
}
func (s String) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if explicit {
		val, err := strconv.ParseInt(string(s), 10, 32)
		if err != nil {
			return 0, false, nil
		}
		return Integer(val), true, nil
	}
	return 0, false, implicitConversionError[String, Integer](s)
}
func (s String) ToLong(explicit bool) (v Long, ok bool, err error) {
	if explicit {
		val, err := strconv.ParseInt(string(s), 10, 64)
		if err != nil {
			return 0, false, nil
		}
		return Long(val), true, nil
	}
	return 0, false, implicitConversionError[String, Long](s)
}
func (s String) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	if explicit {
		d, _, err := apd.NewFromString(string(s))
		if err != nil {
			return Decimal{}, false, nil
		}
		return Decimal{Value: d}, true, nil
	}
	return Decimal{}, false, implicitConversionError[String, Decimal](s)
}
func (s String) ToDate(explicit bool) (v Date, ok bool, err error) {
	if explicit {
		d, err := ParseDate(string(s))
		if err != nil {
			return Date{}, false, nil
		}
		return d, true, nil
	}
	return Date{}, false, implicitConversionError[String, Date](s)
}
func (s String) ToTime(explicit bool) (v Time, ok bool, err error) {
	if explicit {
		t, err := parseTimeLiteral(string(s), false)
		if err != nil {
			return Time{}, false, nil
		}
		return t, true, nil
	}
	return Time{}, false, implicitConversionError[String, Time](s)
}
func (s String) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	if explicit {
		dt, err := ParseDateTime(string(s))
		if err != nil {
			return DateTime{}, false, nil
		}
		return dt, true, nil
	}
	return DateTime{}, false, implicitConversionError[String, DateTime](s)
}
func (s String) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	q, err := ParseQuantity(string(s))
	if err != nil {
		return Quantity{}, false, nil
	}
	return q, true, nil
}
func (s String) Equal(other Element) (eq bool, ok bool) {
	o, ok, err := other.ToString(false)
	if err == nil && ok {
		return s == o, true
	}
	return false, ok && err == nil
}

var equivalenceWhitespace = regexp.MustCompile("[\t\r\n]")

func normalizeForEquivalence(s string) string {
	return equivalenceWhitespace.ReplaceAllString(strings.ToLower(s), " ")
}

func (s String) Equivalent(other Element) bool {
	o, ok, err := other.ToString(false)
	if err == nil && ok {
		return normalizeForEquivalence(string(s)) == normalizeForEquivalence(string(o))
	}
	return false
}
func (s String) Cmp(other Element) (cmp int, ok bool, err error) {
	o, ok, err := other.ToString(false)
	if err != nil || !ok {
		return 0, false, evalErrorf(ErrTypeMismatch, "can not compare String %v to %T %v", s, other, other)
	}
	return strings.Compare(string(s), string(o)), true, nil
}
func (s String) Add(ctx *evalCtx, other Element) (Element, error) {
	o, ok, err := other.ToString(false)
	if err != nil {
		return nil, evalErrorf(ErrTypeMismatch, "can not add %T to String: %v + %v", other, s, other)
	}
	if !ok {
		return nil, nil
	}
	return s + o, nil
}
func (s String) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "String",
		BaseType:  TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}
func (s String) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}
func (s String) String() string {
	return "'" + string(s) + "'"
}

// Integer is the FHIRPath System.Integer type, 32 bits per the FHIRPath specification.
type Integer int32

func (i Integer) Children(name ...string) Collection { return nil }

func (i Integer) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if explicit {
		switch i {
		case 0:
			return false, true, nil
		case 1:
			return true, true, nil
		default:
			return false, false, nil
		}
	}
	return false, false, implicitConversionError[Integer, Boolean](i)
}
func (i Integer) ToString(explicit bool) (v String, ok bool, err error) {
	return String(i.String()), true, nil
}
func (i Integer) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	return i, true, nil
}
func (i Integer) ToLong(explicit bool) (v Long, ok bool, err error) {
	return Long(i), true, nil
}
func (i Integer) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return Decimal{Value: apd.New(int64(i), 0)}, true, nil
}
func (i Integer) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[Integer, Date]()
}
func (i Integer) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[Integer, Time]()
}
func (i Integer) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[Integer, DateTime]()
}
func (i Integer) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{Value: Decimal{Value: apd.New(int64(i), 0)}, Unit: "1"}, true, nil
}
func (i Integer) Equal(other Element) (eq bool, ok bool) {
	o, ok, err := other.ToInteger(false)
	if err == nil && ok {
		return i == o, true
	}
	if canDelegateNumeric(other) {
		return other.Equal(i)
	}
	return false, true
}
func (i Integer) Equivalent(other Element) bool {
	eq, ok := i.Equal(other)
	return ok && eq
}
func (i Integer) Cmp(other Element) (cmp int, ok bool, err error) {
	if _, isLong := other.(Long); isLong {
		return Long(i).Cmp(other)
	}
	d, _, _ := i.ToDecimal(false)
	cmp, ok, err = d.Cmp(other)
	if err != nil || !ok {
		return 0, false, evalErrorf(ErrTypeMismatch, "can not compare Integer %v to %T %v", i, other, other)
	}
	return cmp, true, nil
}
func (i Integer) Multiply(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		result, ok := overflow.Mul(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(result), nil
	case Long:
		return Long(i).Multiply(ctx, o)
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Multiply(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not multiply Integer with %T: %v * %v", other, i, other)
}
func (i Integer) Divide(ctx *evalCtx, other Element) (Element, error) {
	d, _, _ := i.ToDecimal(false)
	return d.Divide(ctx, other)
}
func (i Integer) Div(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		result, ok := overflow.Div(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(result), nil
	case Long:
		return Long(i).Div(ctx, o)
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Div(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not div Integer with %T: %v div %v", other, i, other)
}
func (i Integer) Mod(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		result, ok := overflow.Mod(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(result), nil
	case Long:
		return Long(i).Mod(ctx, o)
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Mod(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not mod Integer with %T: %v mod %v", other, i, other)
}
func (i Integer) Add(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		result, ok := overflow.Add(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(result), nil
	case Long:
		return Long(i).Add(ctx, o)
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Add(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not add Integer and %T: %v + %v", other, i, other)
}
func (i Integer) Subtract(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		result, ok := overflow.Sub(int32(i), int32(o))
		if !ok {
			return nil, nil
		}
		return Integer(result), nil
	case Long:
		return Long(i).Subtract(ctx, o)
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Subtract(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not subtract %T from Integer: %v - %v", other, i, other)
}
func (i Integer) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "Integer",
		BaseType:  TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}
func (i Integer) MarshalJSON() ([]byte, error) {
	return json.Marshal(int32(i))
}
func (i Integer) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// Long is the 64-bit integer type introduced by FHIRPath for
// L-suffixed literals.
type Long int64

func (l Long) Children(name ...string) Collection { return nil }

func (l Long) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if explicit {
		switch l {
		case 0:
			return false, true, nil
		case 1:
			return true, true, nil
		default:
			return false, false, nil
		}
	}
	return false, false, implicitConversionError[Long, Boolean](l)
}
func (l Long) ToString(explicit bool) (v String, ok bool, err error) {
	return String(l.String()), true, nil
}
func (l Long) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if l >= -1<<31 && l < 1<<31 {
		return Integer(l), true, nil
	}
	return 0, false, nil
}
func (l Long) ToLong(explicit bool) (v Long, ok bool, err error) {
	return l, true, nil
}
func (l Long) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return Decimal{Value: apd.New(int64(l), 0)}, true, nil
}
func (l Long) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[Long, Date]()
}
func (l Long) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[Long, Time]()
}
func (l Long) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[Long, DateTime]()
}
func (l Long) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{Value: Decimal{Value: apd.New(int64(l), 0)}, Unit: "1"}, true, nil
}
func (l Long) Equal(other Element) (eq bool, ok bool) {
	switch o := other.(type) {
	case Long:
		return l == o, true
	case Integer:
		return l == Long(o), true
	}
	o, ok, err := other.ToLong(false)
	if err == nil && ok {
		return l == o, true
	}
	if canDelegateNumeric(other) {
		return other.Equal(l)
	}
	return false, true
}
func (l Long) Equivalent(other Element) bool {
	eq, ok := l.Equal(other)
	return ok && eq
}
func (l Long) Cmp(other Element) (cmp int, ok bool, err error) {
	switch o := other.(type) {
	case Long:
		switch {
		case l < o:
			return -1, true, nil
		case l > o:
			return 1, true, nil
		default:
			return 0, true, nil
		}
	case Integer:
		return l.Cmp(Long(o))
	}
	d, _, _ := l.ToDecimal(false)
	cmp, ok, err = d.Cmp(other)
	if err != nil || !ok {
		return 0, false, evalErrorf(ErrTypeMismatch, "can not compare Long %v to %T %v", l, other, other)
	}
	return cmp, true, nil
}
func (l Long) Multiply(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		return l.Multiply(ctx, Long(o))
	case Long:
		result, ok := overflow.Mul(int64(l), int64(o))
		if !ok {
			return nil, nil
		}
		return Long(result), nil
	case Decimal:
		d, _, _ := l.ToDecimal(false)
		return d.Multiply(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not multiply Long with %T: %v * %v", other, l, other)
}
func (l Long) Divide(ctx *evalCtx, other Element) (Element, error) {
	d, _, _ := l.ToDecimal(false)
	return d.Divide(ctx, other)
}
func (l Long) Div(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		return l.Div(ctx, Long(o))
	case Long:
		result, ok := overflow.Div(int64(l), int64(o))
		if !ok {
			return nil, nil
		}
		return Long(result), nil
	case Decimal:
		d, _, _ := l.ToDecimal(false)
		return d.Div(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not div Long with %T: %v div %v", other, l, other)
}
func (l Long) Mod(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		return l.Mod(ctx, Long(o))
	case Long:
		result, ok := overflow.Mod(int64(l), int64(o))
		if !ok {
			return nil, nil
		}
		return Long(result), nil
	case Decimal:
		d, _, _ := l.ToDecimal(false)
		return d.Mod(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not mod Long with %T: %v mod %v", other, l, other)
}
func (l Long) Add(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		return l.Add(ctx, Long(o))
	case Long:
		result, ok := overflow.Add(int64(l), int64(o))
		if !ok {
			return nil, nil
		}
		return Long(result), nil
	case Decimal:
		d, _, _ := l.ToDecimal(false)
		return d.Add(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not add Long and %T: %v + %v", other, l, other)
}
func (l Long) Subtract(ctx *evalCtx, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		return l.Subtract(ctx, Long(o))
	case Long:
		result, ok := overflow.Sub(int64(l), int64(o))
		if !ok {
			return nil, nil
		}
		return Long(result), nil
	case Decimal:
		d, _, _ := l.ToDecimal(false)
		return d.Subtract(ctx, o)
	}
	return nil, evalErrorf(ErrTypeMismatch, "can not subtract %T from Long: %v - %v", other, l, other)
}
func (l Long) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "Long",
		BaseType:  TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}
func (l Long) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(l))
}
func (l Long) String() string {
	return strconv.FormatInt(int64(l), 10)
}

// Decimal is the FHIRPath System.Decimal type, backed by arbitrary
// precision decimals so comparisons do not drift the way binary floats
// would.
type Decimal struct {
	noChildren
	Value *apd.Decimal
}

func (d Decimal) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if explicit {
		if d.Value.Cmp(apd.New(1, 0)) == 0 {
			return true, true, nil
		}
		if d.Value.IsZero() {
			return false, true, nil
		}
		return false, false, nil
	}
	return false, false, implicitConversionError[Decimal, Boolean](d)
}
func (d Decimal) ToString(explicit bool) (v String, ok bool, err error) {
	return String(d.String()), true, nil
}
func (d Decimal) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	return 0, false, conversionError[Decimal, Integer]()
}
func (d Decimal) ToLong(explicit bool) (v Long, ok bool, err error) {
	return 0, false, conversionError[Decimal, Long]()
}
func (d Decimal) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return d, true, nil
}
func (d Decimal) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[Decimal, Date]()
}
func (d Decimal) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[Decimal, Time]()
}
func (d Decimal) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[Decimal, DateTime]()
}
func (d Decimal) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{Value: d, Unit: "1"}, true, nil
}
func (d Decimal) Equal(other Element) (eq bool, ok bool) {
	o, ok, err := other.ToDecimal(false)
	if err == nil && ok {
		return d.Value.Cmp(o.Value) == 0, true
	}
	return false, true
}

// Equivalent compares decimals after rounding both to the precision of
// the least precise operand.
func (d Decimal) Equivalent(other Element) bool {
	o, ok, err := other.ToDecimal(false)
	if err != nil || !ok {
		return false
	}
	exponent := d.Value.Exponent
	if o.Value.Exponent > exponent {
		exponent = o.Value.Exponent
	}
	var left, right apd.Decimal
	roundCtx := apd.BaseContext.WithPrecision(uint32(defaultDecimalPrecision))
	roundCtx.Rounding = apd.RoundHalfUp
	if _, err := roundCtx.Quantize(&left, d.Value, exponent); err != nil {
		return false
	}
	if _, err := roundCtx.Quantize(&right, o.Value, exponent); err != nil {
		return false
	}
	return left.Cmp(&right) == 0
}
func (d Decimal) Cmp(other Element) (cmp int, ok bool, err error) {
	o, ok, err := other.ToDecimal(false)
	if err != nil || !ok {
		return 0, false, evalErrorf(ErrTypeMismatch, "can not compare Decimal %v to %T %v", d, other, other)
	}
	return d.Value.Cmp(o.Value), true, nil
}
func (d Decimal) Multiply(ctx *evalCtx, other Element) (Element, error) {
	o, ok, err := other.ToDecimal(false)
	if err != nil || !ok {
		return nil, evalErrorf(ErrTypeMismatch, "can not multiply Decimal with %T: %v * %v", other, d, other)
	}
	var res apd.Decimal
	if _, err := apdContextOf(ctx).Mul(&res, d.Value, o.Value); err != nil {
		return nil, err
	}
	return Decimal{Value: &res}, nil
}
func (d Decimal) Divide(ctx *evalCtx, other Element) (Element, error) {
	o, ok, err := other.ToDecimal(false)
	if err != nil || !ok {
		return nil, evalErrorf(ErrTypeMismatch, "can not divide Decimal with %T: %v / %v", other, d, other)
	}
	if o.Value.IsZero() {
		return nil, nil
	}
	var res apd.Decimal
	if _, err := apdContextOf(ctx).Quo(&res, d.Value, o.Value); err != nil {
		return nil, err
	}
	return Decimal{Value: &res}, nil
}
func (d Decimal) Div(ctx *evalCtx, other Element) (Element, error) {
	o, ok, err := other.ToDecimal(false)
	if err != nil || !ok {
		return nil, evalErrorf(ErrTypeMismatch, "can not div Decimal with %T: %v div %v", other, d, other)
	}
	if o.Value.IsZero() {
		return nil, nil
	}
	var res apd.Decimal
	if _, err := apdContextOf(ctx).QuoInteger(&res, d.Value, o.Value); err != nil {
		return nil, err
	}
	return Decimal{Value: &res}, nil
}
func (d Decimal) Mod(ctx *evalCtx, other Element) (Element, error) {
	o, ok, err := other.ToDecimal(false)
	if err != nil || !ok {
		return nil, evalErrorf(ErrTypeMismatch, "can not mod Decimal with %T: %v mod %v", other, d, other)
	}
	if o.Value.IsZero() {
		return nil, nil
	}
	var res apd.Decimal
	if _, err := apdContextOf(ctx).Rem(&res, d.Value, o.Value); err != nil {
		return nil, err
	}
	return Decimal{Value: &res}, nil
}
func (d Decimal) Add(ctx *evalCtx, other Element) (Element, error) {
	o, ok, err := other.ToDecimal(false)
	if err != nil || !ok {
		return nil, evalErrorf(ErrTypeMismatch, "can not add Decimal and %T: %v + %v", other, d, other)
	}
	var res apd.Decimal
	if _, err := apdContextOf(ctx).Add(&res, d.Value, o.Value); err != nil {
		return nil, err
	}
	return Decimal{Value: &res}, nil
}
func (d Decimal) Subtract(ctx *evalCtx, other Element) (Element, error) {
	o, ok, err := other.ToDecimal(false)
	if err != nil || !ok {
		return nil, evalErrorf(ErrTypeMismatch, "can not subtract %T from Decimal: %v - %v", other, d, other)
	}
	var res apd.Decimal
	if _, err := apdContextOf(ctx).Sub(&res, d.Value, o.Value); err != nil {
		return nil, err
	}
	return Decimal{Value: &res}, nil
}

// Precision returns the number of fractional digits in the written form.
func (d Decimal) Precision() int {
	if d.Value.Exponent < 0 {
		return int(-d.Value.Exponent)
	}
	return 0
}

// LowBoundary returns the least value the written form could stand
// for, at outputPrecision fractional digits (default 8).
func (d Decimal) LowBoundary(ctx *evalCtx, outputPrecision *int) (Decimal, error) {
	return d.boundary(ctx, outputPrecision, apd.RoundFloor, -1)
}

// HighBoundary returns the greatest value the written form could stand
// for, at outputPrecision fractional digits (default 8).
func (d Decimal) HighBoundary(ctx *evalCtx, outputPrecision *int) (Decimal, error) {
	return d.boundary(ctx, outputPrecision, apd.RoundCeiling, 1)
}

func (d Decimal) boundary(ctx *evalCtx, outputPrecision *int, rounding apd.Rounder, sign int64) (Decimal, error) {
	targetPrecision := 8
	if outputPrecision != nil {
		targetPrecision = *outputPrecision
	}
	originalPrecision := d.Precision()

	calcCtx := *apdContextOf(ctx)
	calcCtx.Rounding = rounding
	// Intermediate values need room for both scales plus the rounding
	// guard digit.
	if min := uint32(originalPrecision + targetPrecision + 2); calcCtx.Precision < min {
		calcCtx.Precision = min
	}

	// Half the width of the precision interval: 0.5 * 10^-originalPrecision.
	var halfWidth apd.Decimal
	halfWidth.SetFinite(5*sign, -1-int32(originalPrecision))

	var shifted apd.Decimal
	if _, err := calcCtx.Add(&shifted, d.Value, &halfWidth); err != nil {
		return Decimal{}, err
	}

	var formatted apd.Decimal
	if _, err := calcCtx.Quantize(&formatted, &shifted, -int32(targetPrecision)); err != nil {
		return Decimal{}, err
	}
	return Decimal{Value: &formatted}, nil
}

func (d Decimal) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "Decimal",
		BaseType:  TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Value)
}
func (d Decimal) String() string {
	if d.Value == nil {
		return "0"
	}
	return d.Value.Text('f')
}
