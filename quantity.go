package fhirpath

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/probemed/fhirpath/internal/parser"
)

// Quantity is the FHIRPath System.Quantity type: a decimal magnitude
// with a unit. Units are compared after canonicalization; quantities
// with unrelated units are incomparable and comparisons on them
// evaluate to empty.
type Quantity struct {
	defaultConversions[Quantity]
	noChildren
	Value Decimal
	Unit  String
}

func (q Quantity) ToString(explicit bool) (v String, ok bool, err error) {
	return String(q.String()), true, nil
}
func (q Quantity) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return q, true, nil
}
func (q Quantity) Equal(other Element) (eq bool, ok bool) {
	o, ok, err := other.ToQuantity(false)
	if err == nil && ok {
		leftOrigUnit := q.Unit
		rightOrigUnit := o.Unit
		left := q.canonicalizeUnit()
		right := o.canonicalizeUnit()
		if calendarEqualityRestricted(leftOrigUnit, rightOrigUnit, left.Unit) {
			// Calendar duration quantities in years or months are not
			// comparable to the corresponding definite UCUM durations, so
			// equality evaluates to empty.
			return false, false
		}
		converted, convErr := convertQuantityToUnit(right, left.Unit)
		if convErr != nil {
			return false, false
		}
		eq, eqOK := left.Value.Equal(converted.Value)
		return eq && eqOK, true
	}
	if isStringish(other) {
		return other.Equal(q)
	}
	return false, true
}
func (q Quantity) Equivalent(other Element) bool {
	o, ok, err := other.ToQuantity(false)
	if err != nil || !ok {
		return false
	}

	left := q.canonicalizeUnit()
	right := o.canonicalizeUnit()
	converted, convErr := convertQuantityToUnit(right, left.Unit)
	if convErr != nil {
		return false
	}
	return left.Value.Equivalent(converted.Value)
}
func (q Quantity) Cmp(other Element) (cmp int, ok bool, err error) {
	o, ok, err := other.ToQuantity(false)
	if err != nil || !ok {
		return 0, false, evalErrorf(ErrTypeMismatch, "can not compare Quantity %v to %T %v", q, other, other)
	}
	left := q.canonicalizeUnit()
	right := o.canonicalizeUnit()
	converted, convErr := convertQuantityToUnit(right, left.Unit)
	if convErr != nil {
		return 0, false, nil
	}
	return left.Value.Cmp(converted.Value)
}
func (q Quantity) Multiply(ctx *evalCtx, other Element) (Element, error) {
	o, ok, err := other.ToQuantity(false)
	if err != nil || !ok {
		return nil, evalErrorf(ErrTypeMismatch, "can not multiply Quantity with %T: %v * %v", other, q, other)
	}
	left := q.canonicalizeUnit()
	right := o.canonicalizeUnit()

	value, err := left.Value.Multiply(ctx, right.Value)
	if err != nil {
		return nil, err
	}
	return Quantity{Value: value.(Decimal), Unit: formatProductUnit(left.Unit, right.Unit)}, nil
}
func (q Quantity) Divide(ctx *evalCtx, other Element) (Element, error) {
	o, ok, err := other.ToQuantity(false)
	if err != nil || !ok {
		return nil, evalErrorf(ErrTypeMismatch, "can not divide Quantity with %T: %v / %v", other, q, other)
	}
	left := q.canonicalizeUnit()
	right := o.canonicalizeUnit()

	value, err := left.Value.Divide(ctx, right.Value)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	return Quantity{Value: value.(Decimal), Unit: formatDivisionUnit(left.Unit, right.Unit)}, nil
}
func (q Quantity) Add(ctx *evalCtx, other Element) (Element, error) {
	return q.addSub(ctx, other, "+")
}
func (q Quantity) Subtract(ctx *evalCtx, other Element) (Element, error) {
	return q.addSub(ctx, other, "-")
}

func (q Quantity) addSub(ctx *evalCtx, other Element, op string) (Element, error) {
	o, ok, err := other.ToQuantity(false)
	if err != nil || !ok {
		return nil, fnErrorf(ErrTypeMismatch, op, "operation not defined between Quantity and %T: %v, %v", other, q, other)
	}
	left := q.canonicalizeUnit()
	right := o.canonicalizeUnit()

	converted, convErr := convertQuantityToUnit(right, left.Unit)
	if convErr != nil {
		return nil, fnErrorf(ErrTypeMismatch, op, "quantity units do not match, left: %v right: %v", left, right)
	}

	var res apd.Decimal
	if op == "+" {
		_, err = apdContextOf(ctx).Add(&res, left.Value.Value, converted.Value.Value)
	} else {
		_, err = apdContextOf(ctx).Sub(&res, left.Value.Value, converted.Value.Value)
	}
	if err != nil {
		return nil, err
	}
	return Quantity{Value: Decimal{Value: &res}, Unit: left.Unit}, nil
}

func (q Quantity) canonicalizeUnit() Quantity {
	q.Unit = canonicalQuantityUnit(q.Unit)
	return q
}

func canonicalQuantityUnit(unit String) String {
	if unit == "" || unit == "1" {
		return "1"
	}
	if normalized := normalizeTimeUnit(string(unit)); isTimeUnit(normalized) {
		return String(normalized)
	}
	// UCUM annotations carry no meaning for comparison.
	if s := string(unit); strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return "1"
	}
	return unit
}

// calendarEqualityRestricted reports whether the equality operator must
// treat the operands as non-comparable. Variable-length calendar units
// (years, months) written as keywords are not the same measurement as
// the definite UCUM durations 'a' and 'mo'.
func calendarEqualityRestricted(leftOriginal, rightOriginal, canonicalUnit String) bool {
	leftLiteral := isCalendarLiteralUnit(leftOriginal)
	rightLiteral := isCalendarLiteralUnit(rightOriginal)
	if leftLiteral == rightLiteral {
		return false
	}
	return isVariableLengthCalendarUnit(canonicalUnit)
}

func isCalendarLiteralUnit(unit String) bool {
	switch strings.ToLower(string(unit)) {
	case UnitYear, UnitYears, UnitMonth, UnitMonths, UnitWeek, UnitWeeks, UnitDay, UnitDays,
		UnitHour, UnitHours, UnitMinute, UnitMinutes, UnitSecond, UnitSeconds,
		UnitMillisecond, UnitMilliseconds:
		return true
	default:
		return false
	}
}

func isVariableLengthCalendarUnit(unit String) bool {
	switch strings.ToLower(string(unit)) {
	case "a", "mo", UnitYear, UnitMonth:
		return true
	default:
		return false
	}
}

// durationMillis gives the definite length of the fixed-length duration
// units in milliseconds. Years and months are variable length and are
// deliberately absent.
var durationMillis = map[String]int64{
	UnitWeek:        7 * 24 * 60 * 60 * 1000,
	UnitDay:         24 * 60 * 60 * 1000,
	UnitHour:        60 * 60 * 1000,
	UnitMinute:      60 * 1000,
	UnitSecond:      1000,
	UnitMillisecond: 1,
}

// convertQuantityToUnit rescales a quantity to the target unit. Only
// fixed-length duration conversions and the year/month pair are
// supported; anything else requires identical units.
func convertQuantityToUnit(q Quantity, unit String) (Quantity, error) {
	target := canonicalQuantityUnit(unit)
	q = q.canonicalizeUnit()

	if q.Unit == target {
		return q, nil
	}

	factor, err := unitConversionFactor(q.Unit, target)
	if err != nil {
		return Quantity{}, err
	}

	var converted apd.Decimal
	convCtx := apd.BaseContext.WithPrecision(uint32(defaultDecimalPrecision))
	if _, err := convCtx.Mul(&converted, q.Value.Value, factor); err != nil {
		return Quantity{}, err
	}
	return Quantity{
		Value: Decimal{Value: &converted},
		Unit:  target,
	}, nil
}

func unitConversionFactor(from, to String) (*apd.Decimal, error) {
	if (from == UnitYear || from == "a") && (to == UnitMonth || to == "mo") {
		return apd.New(12, 0), nil
	}
	if (from == UnitMonth || from == "mo") && (to == UnitYear || to == "a") {
		var factor apd.Decimal
		convCtx := apd.BaseContext.WithPrecision(uint32(defaultDecimalPrecision))
		if _, err := convCtx.Quo(&factor, apd.New(1, 0), apd.New(12, 0)); err != nil {
			return nil, err
		}
		return &factor, nil
	}

	fromMillis, fromOK := durationMillis[from]
	toMillis, toOK := durationMillis[to]
	if !fromOK || !toOK {
		return nil, unitMismatch(from, to)
	}

	var factor apd.Decimal
	convCtx := apd.BaseContext.WithPrecision(uint32(defaultDecimalPrecision))
	if _, err := convCtx.Quo(&factor, apd.New(fromMillis, 0), apd.New(toMillis, 0)); err != nil {
		return nil, err
	}
	return &factor, nil
}

func unitMismatch(from, to String) error {
	return fmt.Errorf("no conversion from unit %q to %q", from, to)
}

func formatProductUnit(left, right String) String {
	switch {
	case left == "1":
		return right
	case right == "1":
		return left
	}
	return String(fmt.Sprintf("%s.%s", wrapNumerator(left), wrapNumerator(right)))
}

func formatDivisionUnit(numerator, denominator String) String {
	switch {
	case numerator == denominator:
		return "1"
	case denominator == "1":
		return numerator
	case numerator == "1":
		return String(fmt.Sprintf("1/%s", wrapDenominator(denominator)))
	}
	return String(fmt.Sprintf("%s/%s", wrapNumerator(numerator), wrapDenominator(denominator)))
}

func wrapNumerator(u String) string {
	s := string(u)
	if strings.ContainsRune(s, '/') {
		return fmt.Sprintf("(%s)", s)
	}
	return s
}

func wrapDenominator(u String) string {
	s := string(u)
	if strings.ContainsAny(s, "./") {
		return fmt.Sprintf("(%s)", s)
	}
	return s
}

func (q Quantity) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "Quantity",
		BaseType:  TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}
func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}
func (q Quantity) String() string {
	u := strings.TrimSpace(string(q.Unit))
	if u == "" {
		return q.Value.String()
	}
	if isCalendarLiteralUnit(q.Unit) {
		return fmt.Sprintf("%s %s", q.Value.String(), u)
	}
	return fmt.Sprintf("%s '%s'", q.Value.String(), u)
}

// ParseQuantity parses a quantity literal like "4.5 'mg'" or "2 years".
// A bare number parses as a unitless quantity.
func ParseQuantity(s string) (Quantity, error) {
	node, err := parser.Parse(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("can not parse quantity %q: %w", s, err)
	}

	switch lit := node.(type) {
	case parser.QuantityLit:
		v, _, err := apd.NewFromString(lit.Value)
		if err != nil {
			return Quantity{}, err
		}
		return Quantity{Value: Decimal{Value: v}, Unit: String(lit.Unit)}, nil
	case parser.NumberLit:
		v, _, err := apd.NewFromString(lit.Text)
		if err != nil {
			return Quantity{}, err
		}
		return Quantity{Value: Decimal{Value: v}, Unit: "1"}, nil
	default:
		return Quantity{}, fmt.Errorf("can not parse quantity %q", s)
	}
}
