package fhirpath

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Temporal values carry the precision they were written with. Comparison
// walks the precision levels both operands share; once one side runs out
// of precision the result is empty rather than a guess.

const (
	maxMillisecondNanoseconds = int(time.Millisecond * 999)
	minTimeZoneOffsetHours    = -12
	maxTimeZoneOffsetHours    = 14
	maxDateDigits             = 8
	maxDateTimeDigits         = 17
	maxTimeDigits             = 9
)

// Date is the FHIRPath System.Date type: a calendar date with year,
// year-month or full precision.
type Date struct {
	defaultConversions[Date]
	noChildren
	Value     time.Time
	Precision DatePrecision
}

type DatePrecision string

const (
	DatePrecisionYear  DatePrecision = "year"
	DatePrecisionMonth DatePrecision = "month"
	DatePrecisionFull  DatePrecision = "full"
)

func datePrecisionOrder(p DatePrecision) int {
	switch p {
	case DatePrecisionYear:
		return 0
	case DatePrecisionMonth:
		return 1
	default:
		return 2
	}
}

var dateComparisonLevels = []DatePrecision{
	DatePrecisionYear,
	DatePrecisionMonth,
	DatePrecisionFull,
}

func hasDatePrecisionLevel(current, level DatePrecision) bool {
	return datePrecisionOrder(current) >= datePrecisionOrder(level)
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareDatesAtLevel(a, b time.Time, level DatePrecision) int {
	switch level {
	case DatePrecisionYear:
		return compareInts(a.Year(), b.Year())
	case DatePrecisionMonth:
		if cmp := compareInts(a.Year(), b.Year()); cmp != 0 {
			return cmp
		}
		return compareInts(int(a.Month()), int(b.Month()))
	default:
		if cmp := compareInts(a.Year(), b.Year()); cmp != 0 {
			return cmp
		}
		if cmp := compareInts(int(a.Month()), int(b.Month())); cmp != 0 {
			return cmp
		}
		return compareInts(a.Day(), b.Day())
	}
}

func datePrecisionToDateTimePrecision(p DatePrecision) DateTimePrecision {
	switch p {
	case DatePrecisionYear:
		return DateTimePrecisionYear
	case DatePrecisionMonth:
		return DateTimePrecisionMonth
	default:
		return DateTimePrecisionDay
	}
}

func (d Date) PrecisionDigits() int {
	return dateDigitsForPrecision(d.Precision)
}
func (d Date) ToString(explicit bool) (v String, ok bool, err error) {
	return String(d.String()), true, nil
}
func (d Date) ToDate(explicit bool) (v Date, ok bool, err error) {
	return d, true, nil
}
func (d Date) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{
		Value:       d.Value,
		Precision:   datePrecisionToDateTimePrecision(d.Precision),
		HasTimeZone: false,
	}, true, nil
}
func (d Date) Equal(other Element) (eq bool, ok bool) {
	o, ok, err := other.ToDate(false)
	if err == nil && ok {
		cmp, cmpOK, err := d.Cmp(o)
		if err == nil {
			return cmp == 0, cmpOK
		}
	}
	if delegatesToDateTime(other) || isStringish(other) {
		return other.Equal(d)
	}
	return false, true
}
func (d Date) Equivalent(other Element) bool {
	o, ok, err := other.ToDate(false)
	if err == nil && ok {
		cmp, cmpOK, err := d.Cmp(o)
		if err == nil && cmpOK {
			return cmp == 0
		}
		return false
	}
	if delegatesToDateTime(other) || isStringish(other) {
		return other.Equivalent(d)
	}
	return false
}

// Cmp compares precision level by precision level. When one side has a
// level the other lacks the comparison is indeterminate and evaluates to
// empty.
func (d Date) Cmp(other Element) (cmp int, ok bool, err error) {
	o, ok, err := other.ToDate(false)
	if err != nil || !ok {
		return 0, false, evalErrorf(ErrTypeMismatch, "can not compare Date %v to %T %v", d, other, other)
	}
	right := o.Value.In(d.Value.Location())
	for _, level := range dateComparisonLevels {
		leftHas := hasDatePrecisionLevel(d.Precision, level)
		rightHas := hasDatePrecisionLevel(o.Precision, level)

		if !leftHas && !rightHas {
			break
		}
		if leftHas && rightHas {
			cmp = compareDatesAtLevel(d.Value, right, level)
			if cmp != 0 {
				return cmp, true, nil
			}
			continue
		}
		return 0, false, nil
	}
	return 0, true, nil
}

func (d Date) Add(ctx *evalCtx, other Element) (Element, error) {
	return dateCalendarArith(d, other, "+", 1)
}

func (d Date) Subtract(ctx *evalCtx, other Element) (Element, error) {
	return dateCalendarArith(d, other, "-", -1)
}

// dateCalendarArith shifts a date by a calendar duration. Fractional
// quantities are truncated, and day overflow clamps to the last day of
// the resulting month.
func dateCalendarArith(d Date, other Element, op string, sign int64) (Element, error) {
	if d.Value.IsZero() {
		return nil, fnErrorf(ErrInvalidArgument, op, "can not perform arithmetic on zero date")
	}

	q, ok, err := other.ToQuantity(false)
	if err != nil || !ok {
		return nil, fnErrorf(ErrTypeMismatch, op, "Date arithmetic requires a duration quantity, got %T", other)
	}

	unit := normalizeTimeUnit(string(q.Unit))
	if !isTimeUnit(unit) {
		return nil, fnErrorf(ErrInvalidArgument, op, "invalid time unit %v", q.Unit)
	}

	value, err := truncatedQuantityValue(q)
	if err != nil {
		return nil, fnErrorf(ErrInvalidArgument, op, "invalid quantity value for date arithmetic: %v", err)
	}
	value *= sign

	var result time.Time
	switch unit {
	case UnitYear:
		result = d.Value.AddDate(int(value), 0, 0)
		result = clampToMonthEnd(result, d.Value)
	case UnitMonth:
		years, months := value/12, value%12
		result = d.Value.AddDate(int(years), int(months), 0)
		result = clampToMonthEnd(result, d.Value)
	case UnitWeek:
		result = d.Value.AddDate(0, 0, int(value)*7)
	case UnitDay:
		result = d.Value.AddDate(0, 0, int(value))
	default:
		return nil, fnErrorf(ErrInvalidArgument, op, "invalid time unit for Date: %v", q.Unit)
	}

	return Date{Value: result, Precision: d.Precision}, nil
}

// clampToMonthEnd pins day overflow introduced by AddDate to the last
// day of the intended month, e.g. Jan 31 + 1 month is Feb 28/29.
func clampToMonthEnd(result, original time.Time) time.Time {
	if result.Day() < original.Day() {
		return result.AddDate(0, 0, -result.Day())
	}
	return result
}

func truncatedQuantityValue(q Quantity) (int64, error) {
	var integ, frac apd.Decimal
	q.Value.Value.Modf(&integ, &frac)
	return integ.Int64()
}

func (d Date) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "Date",
		BaseType:  TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
func (d Date) String() string {
	switch d.Precision {
	case DatePrecisionYear:
		return d.Value.Format(DateFormatOnlyYear)
	case DatePrecisionMonth:
		return d.Value.Format(DateFormatUpToMonth)
	default:
		return d.Value.Format(DateFormatFull)
	}
}

func (d Date) LowBoundary(precisionDigits *int) (Date, bool) {
	digits := maxDateDigits
	if precisionDigits != nil {
		digits = *precisionDigits
	}
	if digits < 0 {
		return Date{}, false
	}
	return buildDateBoundary(d, digits, false)
}

func (d Date) HighBoundary(precisionDigits *int) (Date, bool) {
	digits := maxDateDigits
	if precisionDigits != nil {
		digits = *precisionDigits
	}
	if digits < 0 {
		return Date{}, false
	}
	return buildDateBoundary(d, digits, true)
}

func dateDigitsForPrecision(p DatePrecision) int {
	switch p {
	case DatePrecisionYear:
		return 4
	case DatePrecisionMonth:
		return 6
	default:
		return 8
	}
}

func datePrecisionFromDigits(d int) (DatePrecision, bool) {
	switch d {
	case 4:
		return DatePrecisionYear, true
	case 6:
		return DatePrecisionMonth, true
	case 8:
		return DatePrecisionFull, true
	default:
		return "", false
	}
}

func dateRangeEndpoints(d Date) (time.Time, time.Time) {
	loc := d.Value.Location()
	year, month, day := d.Value.Date()
	switch d.Precision {
	case DatePrecisionYear:
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
		end := time.Date(year, time.December, 31, 23, 59, 59, maxMillisecondNanoseconds, loc)
		return start, end
	case DatePrecisionMonth:
		start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
		end := time.Date(year, month, lastDay, 23, 59, 59, maxMillisecondNanoseconds, loc)
		return start, end
	default:
		start := time.Date(year, month, day, 0, 0, 0, 0, loc)
		end := time.Date(year, month, day, 23, 59, 59, maxMillisecondNanoseconds, loc)
		return start, end
	}
}

func buildDateFromTime(t time.Time, precision DatePrecision) Date {
	loc := t.Location()
	year, month, day := t.Date()
	switch precision {
	case DatePrecisionYear:
		month = time.January
		day = 1
	case DatePrecisionMonth:
		day = 1
	}
	return Date{
		Value:     time.Date(year, month, day, 0, 0, 0, 0, loc),
		Precision: precision,
	}
}

func buildDateBoundary(value Date, digits int, useUpper bool) (Date, bool) {
	precision, ok := datePrecisionFromDigits(digits)
	if !ok {
		return Date{}, false
	}
	start, end := dateRangeEndpoints(value)
	anchor := start
	if useUpper {
		anchor = end
	}
	return buildDateFromTime(anchor, precision), true
}

// Time is the FHIRPath System.Time type: a time of day without a date
// or timezone.
type Time struct {
	defaultConversions[Time]
	noChildren
	Value     time.Time
	Precision TimePrecision
}

type TimePrecision string

const (
	TimePrecisionHour        TimePrecision = "hour"
	TimePrecisionMinute      TimePrecision = "minute"
	TimePrecisionSecond      TimePrecision = "second"
	TimePrecisionMillisecond TimePrecision = "millisecond"
	TimePrecisionFull                      = TimePrecisionMillisecond
)

var timeComparisonLevels = []TimePrecision{
	TimePrecisionHour,
	TimePrecisionMinute,
	TimePrecisionSecond,
}

// Seconds and milliseconds count as one precision level for comparison.
func hasTimePrecisionLevel(current, level TimePrecision) bool {
	return timePrecisionOrder(current) >= timePrecisionOrder(level)
}

func compareTimesAtLevel(a, b time.Time, level TimePrecision) int {
	switch level {
	case TimePrecisionHour:
		return compareInts(a.Hour(), b.Hour())
	case TimePrecisionMinute:
		if cmp := compareInts(a.Hour(), b.Hour()); cmp != 0 {
			return cmp
		}
		return compareInts(a.Minute(), b.Minute())
	default:
		if cmp := compareInts(a.Hour(), b.Hour()); cmp != 0 {
			return cmp
		}
		if cmp := compareInts(a.Minute(), b.Minute()); cmp != 0 {
			return cmp
		}
		if cmp := compareInts(a.Second(), b.Second()); cmp != 0 {
			return cmp
		}
		return compareMillisWithinSecond(a, b)
	}
}

func timePrecisionOrder(p TimePrecision) int {
	switch p {
	case TimePrecisionHour:
		return 0
	case TimePrecisionMinute:
		return 1
	default:
		return 2
	}
}

func (t Time) PrecisionDigits() int {
	return timeDigitsForPrecision(t.Precision)
}
func (t Time) ToString(explicit bool) (v String, ok bool, err error) {
	return String(t.String()), true, nil
}
func (t Time) ToTime(explicit bool) (v Time, ok bool, err error) {
	return t, true, nil
}
func (t Time) Equal(other Element) (eq bool, ok bool) {
	o, ok, err := other.ToTime(false)
	if err == nil && ok {
		cmp, cmpOK, err := t.Cmp(o)
		if err == nil {
			return cmp == 0, cmpOK
		}
	}
	if isStringish(other) {
		return other.Equal(t)
	}
	return false, true
}
func (t Time) Equivalent(other Element) bool {
	o, ok, err := other.ToTime(false)
	if err == nil && ok {
		cmp, cmpOK, err := t.Cmp(o)
		if err == nil && cmpOK {
			return cmp == 0
		}
		return false
	}
	if isStringish(other) {
		return other.Equivalent(t)
	}
	return false
}
func (t Time) Cmp(other Element) (cmp int, ok bool, err error) {
	o, ok, err := other.ToTime(false)
	if err != nil || !ok {
		return 0, false, evalErrorf(ErrTypeMismatch, "can not compare Time %v to %T %v", t, other, other)
	}
	right := o.Value.In(t.Value.Location())
	for _, level := range timeComparisonLevels {
		leftHas := hasTimePrecisionLevel(t.Precision, level)
		rightHas := hasTimePrecisionLevel(o.Precision, level)

		if !leftHas && !rightHas {
			break
		}
		if leftHas && rightHas {
			cmp = compareTimesAtLevel(t.Value, right, level)
			if cmp != 0 {
				return cmp, true, nil
			}
			continue
		}
		return 0, false, nil
	}
	return 0, true, nil
}

func (t Time) Add(ctx *evalCtx, other Element) (Element, error) {
	return timeArith(t, other, "+", 1)
}

func (t Time) Subtract(ctx *evalCtx, other Element) (Element, error) {
	return timeArith(t, other, "-", -1)
}

func timeArith(t Time, other Element, op string, sign float64) (Element, error) {
	if t.Value.IsZero() {
		return nil, fnErrorf(ErrInvalidArgument, op, "can not perform arithmetic on zero time")
	}

	q, ok, err := other.ToQuantity(false)
	if err != nil || !ok {
		return nil, fnErrorf(ErrTypeMismatch, op, "Time arithmetic requires a duration quantity, got %T", other)
	}

	unit := normalizeTimeUnit(string(q.Unit))
	if !isTimeUnit(unit) {
		return nil, fnErrorf(ErrInvalidArgument, op, "invalid time unit %v", q.Unit)
	}

	var result time.Time
	switch unit {
	case UnitHour, UnitMinute:
		value, err := truncatedQuantityValue(q)
		if err != nil {
			return nil, fnErrorf(ErrInvalidArgument, op, "invalid quantity value for time arithmetic: %v", err)
		}
		d := time.Minute
		if unit == UnitHour {
			d = time.Hour
		}
		result = t.Value.Add(time.Duration(sign * float64(value) * float64(d)))
	case UnitSecond, UnitMillisecond:
		value, err := q.Value.Value.Float64()
		if err != nil {
			return nil, fnErrorf(ErrInvalidArgument, op, "invalid quantity value for time arithmetic: %v", err)
		}
		d := time.Millisecond
		if unit == UnitSecond {
			d = time.Second
		}
		result = t.Value.Add(time.Duration(sign * value * float64(d)))
	default:
		return nil, fnErrorf(ErrInvalidArgument, op, "invalid time unit for Time: %v", q.Unit)
	}

	// Time arithmetic wraps around 24 hours; keep the time-of-day only.
	year, month, day := result.Date()
	if year != 0 || month != 1 || day != 1 {
		hour, min, sec := result.Clock()
		nsec := result.Nanosecond()
		result = time.Date(0, 1, 1, hour, min, sec, nsec, result.Location())
	}

	return Time{Value: result, Precision: t.Precision}, nil
}

func (t Time) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "Time",
		BaseType:  TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}
func (t Time) String() string {
	var ts string
	switch t.Precision {
	case TimePrecisionHour:
		ts = t.Value.Format(TimeFormatOnlyHour)
	case TimePrecisionMinute:
		ts = t.Value.Format(TimeFormatUpToMinute)
	case TimePrecisionSecond:
		ts = t.Value.Format(TimeFormatUpToSecond)
	default:
		ts = t.Value.Format(TimeFormatFull)
	}
	return "@T" + ts
}

func (t Time) LowBoundary(precisionDigits *int) (Time, bool) {
	digits := maxTimeDigits
	if precisionDigits != nil {
		digits = *precisionDigits
	}
	if digits < 0 {
		return Time{}, false
	}
	return buildTimeBoundary(t, digits, false)
}

func (t Time) HighBoundary(precisionDigits *int) (Time, bool) {
	digits := maxTimeDigits
	if precisionDigits != nil {
		digits = *precisionDigits
	}
	if digits < 0 {
		return Time{}, false
	}
	return buildTimeBoundary(t, digits, true)
}

func timeDigitsForPrecision(p TimePrecision) int {
	switch p {
	case TimePrecisionHour:
		return 2
	case TimePrecisionMinute:
		return 4
	case TimePrecisionSecond:
		return 6
	default:
		return 9
	}
}

func timePrecisionFromDigits(d int) (TimePrecision, bool) {
	switch d {
	case 2:
		return TimePrecisionHour, true
	case 4:
		return TimePrecisionMinute, true
	case 6:
		return TimePrecisionSecond, true
	case 9:
		return TimePrecisionMillisecond, true
	default:
		return "", false
	}
}

func timeRangeEndpoints(t Time) (time.Time, time.Time) {
	loc := t.Value.Location()
	hour, min, sec := t.Value.Clock()
	nsec := t.Value.Nanosecond()
	switch t.Precision {
	case TimePrecisionHour:
		start := time.Date(0, 1, 1, hour, 0, 0, 0, loc)
		end := time.Date(0, 1, 1, hour, 59, 59, maxMillisecondNanoseconds, loc)
		return start, end
	case TimePrecisionMinute:
		start := time.Date(0, 1, 1, hour, min, 0, 0, loc)
		end := time.Date(0, 1, 1, hour, min, 59, maxMillisecondNanoseconds, loc)
		return start, end
	case TimePrecisionSecond:
		moment := time.Date(0, 1, 1, hour, min, sec, 0, loc)
		return moment, moment
	default:
		aligned := alignToMillisecond(nsec)
		moment := time.Date(0, 1, 1, hour, min, sec, aligned, loc)
		return moment, moment
	}
}

func buildTimeFromTime(t time.Time, precision TimePrecision) Time {
	loc := t.Location()
	hour, min, sec := t.Clock()
	nsec := t.Nanosecond()
	switch precision {
	case TimePrecisionHour:
		min, sec, nsec = 0, 0, 0
	case TimePrecisionMinute:
		sec, nsec = 0, 0
	case TimePrecisionSecond:
		nsec = 0
	case TimePrecisionMillisecond:
		nsec = alignToMillisecond(nsec)
	}
	return Time{
		Value:     time.Date(0, 1, 1, hour, min, sec, nsec, loc),
		Precision: precision,
	}
}

func buildTimeBoundary(value Time, digits int, useUpper bool) (Time, bool) {
	precision, ok := timePrecisionFromDigits(digits)
	if !ok {
		return Time{}, false
	}
	start, end := timeRangeEndpoints(value)
	anchor := start
	if useUpper {
		anchor = end
	}
	return buildTimeFromTime(anchor, precision), true
}

func alignToMillisecond(nsec int) int {
	ms := int(time.Millisecond)
	return (nsec / ms) * ms
}

// DateTime is the FHIRPath System.DateTime type. HasTimeZone records
// whether the written literal carried an offset; values with and
// without a timezone are incomparable once a time component is present.
type DateTime struct {
	defaultConversions[DateTime]
	noChildren
	Value       time.Time
	Precision   DateTimePrecision
	HasTimeZone bool
}

type DateTimePrecision string

const (
	DateTimePrecisionYear        DateTimePrecision = "year"
	DateTimePrecisionMonth       DateTimePrecision = "month"
	DateTimePrecisionDay         DateTimePrecision = "day"
	DateTimePrecisionHour        DateTimePrecision = "hour"
	DateTimePrecisionMinute      DateTimePrecision = "minute"
	DateTimePrecisionSecond      DateTimePrecision = "second"
	DateTimePrecisionMillisecond DateTimePrecision = "millisecond"
	DateTimePrecisionFull                          = DateTimePrecisionMillisecond
)

func (dt DateTime) PrecisionDigits() int {
	return dateTimeDigitsForPrecision(dt.Precision)
}

func dateTimePrecisionOrder(p DateTimePrecision) int {
	switch p {
	case DateTimePrecisionYear:
		return 0
	case DateTimePrecisionMonth:
		return 1
	case DateTimePrecisionDay:
		return 2
	case DateTimePrecisionHour:
		return 3
	case DateTimePrecisionMinute:
		return 4
	case DateTimePrecisionSecond:
		return 5
	default:
		return 6
	}
}

var dateTimeComparisonLevels = []DateTimePrecision{
	DateTimePrecisionYear,
	DateTimePrecisionMonth,
	DateTimePrecisionDay,
	DateTimePrecisionHour,
	DateTimePrecisionMinute,
	DateTimePrecisionSecond,
}

func hasDateTimePrecisionLevel(current, level DateTimePrecision) bool {
	return dateTimePrecisionOrder(current) >= dateTimePrecisionOrder(level)
}

func compareDateTimesAtLevel(a, b time.Time, level DateTimePrecision) int {
	switch level {
	case DateTimePrecisionYear:
		return compareInts(a.Year(), b.Year())
	case DateTimePrecisionMonth:
		if cmp := compareInts(a.Year(), b.Year()); cmp != 0 {
			return cmp
		}
		return compareInts(int(a.Month()), int(b.Month()))
	case DateTimePrecisionDay:
		if cmp := compareInts(a.Year(), b.Year()); cmp != 0 {
			return cmp
		}
		if cmp := compareInts(int(a.Month()), int(b.Month())); cmp != 0 {
			return cmp
		}
		return compareInts(a.Day(), b.Day())
	case DateTimePrecisionHour:
		return compareInts(a.Hour(), b.Hour())
	case DateTimePrecisionMinute:
		if cmp := compareInts(a.Hour(), b.Hour()); cmp != 0 {
			return cmp
		}
		return compareInts(a.Minute(), b.Minute())
	case DateTimePrecisionSecond:
		if cmp := compareInts(a.Hour(), b.Hour()); cmp != 0 {
			return cmp
		}
		if cmp := compareInts(a.Minute(), b.Minute()); cmp != 0 {
			return cmp
		}
		if cmp := compareInts(a.Second(), b.Second()); cmp != 0 {
			return cmp
		}
		return compareMillisWithinSecond(a, b)
	default:
		return 0
	}
}

func compareMillisWithinSecond(a, b time.Time) int {
	aMillis := a.Nanosecond() / int(time.Millisecond)
	bMillis := b.Nanosecond() / int(time.Millisecond)
	return compareInts(aMillis, bMillis)
}

func (dt DateTime) ToString(explicit bool) (v String, ok bool, err error) {
	return String(dt.String()), true, nil
}
func (dt DateTime) ToDate(explicit bool) (v Date, ok bool, err error) {
	if explicit {
		var precision DatePrecision
		switch dt.Precision {
		case DateTimePrecisionYear, DateTimePrecisionMonth:
			precision = DatePrecision(dt.Precision)
		default:
			precision = DatePrecisionFull
		}
		return Date{
			Value:     dt.Value,
			Precision: precision,
		}, true, nil
	}
	return Date{}, false, implicitConversionError[DateTime, Date](dt)
}
func (dt DateTime) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return dt, true, nil
}
func (dt DateTime) Equal(other Element) (eq bool, ok bool) {
	o, ok, err := other.ToDateTime(false)
	if err == nil && ok {
		cmp, cmpOK, err := dt.Cmp(o)
		if err == nil {
			return cmp == 0, cmpOK
		}
	}
	if isStringish(other) {
		return other.Equal(dt)
	}
	return false, true
}
func (dt DateTime) Equivalent(other Element) bool {
	o, ok, err := other.ToDateTime(false)
	if err == nil && ok {
		cmp, cmpOK, err := dt.Cmp(o)
		if err == nil && cmpOK {
			return cmp == 0
		}
		return false
	}
	if isStringish(other) {
		return other.Equivalent(dt)
	}
	return false
}
func (dt DateTime) Cmp(other Element) (cmp int, ok bool, err error) {
	o, ok, err := other.ToDateTime(false)
	if err != nil || !ok {
		return 0, false, evalErrorf(ErrTypeMismatch, "can not compare DateTime %v to %T %v", dt, other, other)
	}

	// Two values that both carry a time component but differ in timezone
	// awareness are indeterminate.
	leftHasTime := hasDateTimePrecisionLevel(dt.Precision, DateTimePrecisionHour)
	rightHasTime := hasDateTimePrecisionLevel(o.Precision, DateTimePrecisionHour)
	if leftHasTime && rightHasTime && dt.HasTimeZone != o.HasTimeZone {
		return 0, false, nil
	}

	compareTarget := o.Value.In(dt.Value.Location())

	for _, level := range dateTimeComparisonLevels {
		leftHas := hasDateTimePrecisionLevel(dt.Precision, level)
		rightHas := hasDateTimePrecisionLevel(o.Precision, level)

		if !leftHas && !rightHas {
			break
		}
		if leftHas && rightHas {
			cmp = compareDateTimesAtLevel(dt.Value, compareTarget, level)
			if cmp != 0 {
				return cmp, true, nil
			}
			continue
		}
		return 0, false, nil
	}
	return 0, true, nil
}

func (dt DateTime) Add(ctx *evalCtx, other Element) (Element, error) {
	return dateTimeArith(dt, other, "+", 1)
}

func (dt DateTime) Subtract(ctx *evalCtx, other Element) (Element, error) {
	return dateTimeArith(dt, other, "-", -1)
}

func dateTimeArith(dt DateTime, other Element, op string, sign float64) (Element, error) {
	if dt.Value.IsZero() {
		return nil, fnErrorf(ErrInvalidArgument, op, "can not perform arithmetic on zero datetime")
	}

	q, ok, err := other.ToQuantity(false)
	if err != nil || !ok {
		return nil, fnErrorf(ErrTypeMismatch, op, "DateTime arithmetic requires a duration quantity, got %T", other)
	}

	unit := normalizeTimeUnit(string(q.Unit))
	if !isTimeUnit(unit) {
		return nil, fnErrorf(ErrInvalidArgument, op, "invalid time unit %v", q.Unit)
	}

	var result time.Time
	switch unit {
	case UnitYear, UnitMonth, UnitWeek, UnitDay:
		value, err := truncatedQuantityValue(q)
		if err != nil {
			return nil, fnErrorf(ErrInvalidArgument, op, "invalid quantity value for datetime arithmetic: %v", err)
		}
		value *= int64(sign)
		switch unit {
		case UnitYear:
			result = clampToMonthEnd(dt.Value.AddDate(int(value), 0, 0), dt.Value)
		case UnitMonth:
			years, months := value/12, value%12
			result = clampToMonthEnd(dt.Value.AddDate(int(years), int(months), 0), dt.Value)
		case UnitWeek:
			result = dt.Value.AddDate(0, 0, int(value)*7)
		case UnitDay:
			result = dt.Value.AddDate(0, 0, int(value))
		}
	case UnitHour, UnitMinute:
		value, err := truncatedQuantityValue(q)
		if err != nil {
			return nil, fnErrorf(ErrInvalidArgument, op, "invalid quantity value for datetime arithmetic: %v", err)
		}
		d := time.Minute
		if unit == UnitHour {
			d = time.Hour
		}
		result = dt.Value.Add(time.Duration(sign * float64(value) * float64(d)))
	case UnitSecond, UnitMillisecond:
		value, err := q.Value.Value.Float64()
		if err != nil {
			return nil, fnErrorf(ErrInvalidArgument, op, "invalid quantity value for datetime arithmetic: %v", err)
		}
		d := time.Millisecond
		if unit == UnitSecond {
			d = time.Second
		}
		result = dt.Value.Add(time.Duration(sign * value * float64(d)))
	}

	return DateTime{Value: result, Precision: dt.Precision, HasTimeZone: dt.HasTimeZone}, nil
}

func (dt DateTime) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "DateTime",
		BaseType:  TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}
func (dt DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}
func (dt DateTime) String() string {
	var ds, ts string
	switch dt.Precision {
	case DateTimePrecisionYear:
		return dt.Value.Format(DateFormatOnlyYear)
	case DateTimePrecisionMonth:
		return dt.Value.Format(DateFormatUpToMonth)
	case DateTimePrecisionDay:
		return dt.Value.Format(DateFormatFull)
	case DateTimePrecisionHour:
		ds = dt.Value.Format(DateFormatFull)
		ts = dt.Value.Format(TimeFormatOnlyHourTZ)
	case DateTimePrecisionMinute:
		ds = dt.Value.Format(DateFormatFull)
		ts = dt.Value.Format(TimeFormatUpToMinuteTZ)
	case DateTimePrecisionSecond:
		ds = dt.Value.Format(DateFormatFull)
		ts = dt.Value.Format(TimeFormatUpToSecondTZ)
	default:
		ds = dt.Value.Format(DateFormatFull)
		ts = dt.Value.Format(TimeFormatFullTZ)
	}
	return fmt.Sprintf("%sT%s", ds, ts)
}

func (dt DateTime) LowBoundary(precisionDigits *int) (DateTime, bool) {
	digits := maxDateTimeDigits
	if precisionDigits != nil {
		digits = *precisionDigits
	}
	if digits < 0 {
		return DateTime{}, false
	}
	return buildDateTimeBoundary(dt, digits, false)
}

func (dt DateTime) HighBoundary(precisionDigits *int) (DateTime, bool) {
	digits := maxDateTimeDigits
	if precisionDigits != nil {
		digits = *precisionDigits
	}
	if digits < 0 {
		return DateTime{}, false
	}
	return buildDateTimeBoundary(dt, digits, true)
}

func dateTimeDigitsForPrecision(p DateTimePrecision) int {
	switch p {
	case DateTimePrecisionYear:
		return 4
	case DateTimePrecisionMonth:
		return 6
	case DateTimePrecisionDay:
		return 8
	case DateTimePrecisionHour:
		return 10
	case DateTimePrecisionMinute:
		return 12
	case DateTimePrecisionSecond:
		return 14
	default:
		return 17
	}
}

func dateTimePrecisionFromDigits(d int) (DateTimePrecision, bool) {
	switch d {
	case 4:
		return DateTimePrecisionYear, true
	case 6:
		return DateTimePrecisionMonth, true
	case 8:
		return DateTimePrecisionDay, true
	case 10:
		return DateTimePrecisionHour, true
	case 12:
		return DateTimePrecisionMinute, true
	case 14:
		return DateTimePrecisionSecond, true
	case 17:
		return DateTimePrecisionMillisecond, true
	default:
		return "", false
	}
}

func dateTimeRangeEndpoints(dt DateTime) (time.Time, time.Time) {
	loc := dt.Value.Location()
	value := dt.Value.In(loc)
	year, month, day := value.Date()
	hour, min, sec := value.Clock()
	nsec := value.Nanosecond()
	switch dt.Precision {
	case DateTimePrecisionYear:
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
		end := time.Date(year, time.December, 31, 23, 59, 59, maxMillisecondNanoseconds, loc)
		return start, end
	case DateTimePrecisionMonth:
		start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
		end := time.Date(year, month, lastDay, 23, 59, 59, maxMillisecondNanoseconds, loc)
		return start, end
	case DateTimePrecisionDay:
		start := time.Date(year, month, day, 0, 0, 0, 0, loc)
		end := time.Date(year, month, day, 23, 59, 59, maxMillisecondNanoseconds, loc)
		return start, end
	case DateTimePrecisionHour:
		start := time.Date(year, month, day, hour, 0, 0, 0, loc)
		end := time.Date(year, month, day, hour, 59, 59, maxMillisecondNanoseconds, loc)
		return start, end
	case DateTimePrecisionMinute:
		start := time.Date(year, month, day, hour, min, 0, 0, loc)
		end := time.Date(year, month, day, hour, min, 59, maxMillisecondNanoseconds, loc)
		return start, end
	case DateTimePrecisionSecond:
		moment := time.Date(year, month, day, hour, min, sec, 0, loc)
		return moment, moment
	default:
		aligned := alignToMillisecond(nsec)
		moment := time.Date(year, month, day, hour, min, sec, aligned, loc)
		return moment, moment
	}
}

func buildDateTimeFromTime(t time.Time, precision DateTimePrecision) DateTime {
	loc := t.Location()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	nsec := t.Nanosecond()
	switch precision {
	case DateTimePrecisionYear:
		month = time.January
		day = 1
		hour, min, sec, nsec = 0, 0, 0, 0
	case DateTimePrecisionMonth:
		day = 1
		hour, min, sec, nsec = 0, 0, 0, 0
	case DateTimePrecisionDay:
		hour, min, sec, nsec = 0, 0, 0, 0
	case DateTimePrecisionHour:
		min, sec, nsec = 0, 0, 0
	case DateTimePrecisionMinute:
		sec, nsec = 0, 0
	case DateTimePrecisionSecond:
		nsec = 0
	case DateTimePrecisionMillisecond:
		nsec = alignToMillisecond(nsec)
	}
	return DateTime{
		Value:     time.Date(year, month, day, hour, min, sec, nsec, loc),
		Precision: precision,
	}
}

func buildDateTimeBoundary(value DateTime, digits int, useUpper bool) (DateTime, bool) {
	precision, ok := dateTimePrecisionFromDigits(digits)
	if !ok {
		return DateTime{}, false
	}
	start, end := dateTimeRangeEndpoints(value)
	anchor := start
	if useUpper {
		anchor = end
	}
	// A floating datetime covers the full range of possible offsets,
	// -12h through +14h, at the requested precision.
	if !value.HasTimeZone && includesTimeComponent(precision) {
		offset := maxTimeZoneOffsetHours
		if useUpper {
			offset = minTimeZoneOffsetHours
		}
		adjHour := adjustHourForOffset(anchor.Hour(), offset)
		anchor = time.Date(anchor.Year(), anchor.Month(), anchor.Day(), adjHour, anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
	}

	result := buildDateTimeFromTime(anchor, precision)
	if !value.HasTimeZone && includesTimeComponent(result.Precision) {
		result.HasTimeZone = true
	} else {
		result.HasTimeZone = value.HasTimeZone
	}
	return result, true
}

func includesTimeComponent(p DateTimePrecision) bool {
	switch p {
	case DateTimePrecisionHour, DateTimePrecisionMinute, DateTimePrecisionSecond, DateTimePrecisionMillisecond:
		return true
	default:
		return false
	}
}

func adjustHourForOffset(hour, offset int) int {
	adj := hour - offset
	adj %= 24
	if adj < 0 {
		adj += 24
	}
	return adj
}

// Reference time layouts for each temporal precision.
const (
	DateFormatOnlyYear     = "2006"
	DateFormatUpToMonth    = "2006-01"
	DateFormatFull         = "2006-01-02"
	TimeFormatOnlyHour     = "15"
	TimeFormatOnlyHourTZ   = "15Z07:00"
	TimeFormatUpToMinute   = "15:04"
	TimeFormatUpToMinuteTZ = "15:04Z07:00"
	TimeFormatUpToSecond   = "15:04:05"
	TimeFormatUpToSecondTZ = "15:04:05Z07:00"
	TimeFormatFull         = "15:04:05.999999999"
	TimeFormatFullTZ       = "15:04:05.999999999Z07:00"
)

// ParseDate parses a date literal, with or without the leading @, at any
// of the three supported precisions.
func ParseDate(s string) (Date, error) {
	ds := strings.TrimPrefix(s, "@")

	d, err := time.Parse(DateFormatOnlyYear, ds)
	if err == nil {
		return Date{Value: d, Precision: DatePrecisionYear}, nil
	}
	d, err = time.Parse(DateFormatUpToMonth, ds)
	if err == nil {
		return Date{Value: d, Precision: DatePrecisionMonth}, nil
	}
	d, err = time.Parse(DateFormatFull, ds)
	if err == nil {
		return Date{Value: d, Precision: DatePrecisionFull}, nil
	}

	return Date{}, fmt.Errorf("invalid Date format: %s", s)
}

// ParseTime parses a time literal, with or without the leading @T.
func ParseTime(s string) (Time, error) {
	return parseTimeLiteral(s, false)
}

func parseTimeLiteral(s string, withTZ bool) (Time, error) {
	ts := strings.TrimPrefix(s, "@")
	ts = strings.TrimPrefix(ts, "T")
	timePart := ts
	if idx := strings.IndexAny(timePart, "Z+-"); idx != -1 {
		timePart = timePart[:idx]
	}
	hasFraction := strings.Contains(timePart, ".")

	t, err := time.Parse(TimeFormatOnlyHour, ts)
	if err == nil {
		return Time{Value: t, Precision: TimePrecisionHour}, nil
	}
	if withTZ {
		t, err = time.Parse(TimeFormatOnlyHourTZ, ts)
		if err == nil {
			return Time{Value: t, Precision: TimePrecisionHour}, nil
		}
	}
	t, err = time.Parse(TimeFormatUpToMinute, ts)
	if err == nil {
		return Time{Value: t, Precision: TimePrecisionMinute}, nil
	}
	if withTZ {
		t, err = time.Parse(TimeFormatUpToMinuteTZ, ts)
		if err == nil {
			return Time{Value: t, Precision: TimePrecisionMinute}, nil
		}
	}
	if !hasFraction {
		t, err = time.Parse(TimeFormatUpToSecond, ts)
		if err == nil {
			return Time{Value: t, Precision: TimePrecisionSecond}, nil
		}
		if withTZ {
			t, err = time.Parse(TimeFormatUpToSecondTZ, ts)
			if err == nil {
				return Time{Value: t, Precision: TimePrecisionSecond}, nil
			}
		}
	}
	t, err = time.Parse(TimeFormatFull, ts)
	if err == nil {
		return Time{Value: t, Precision: TimePrecisionMillisecond}, nil
	}
	if withTZ {
		t, err = time.Parse(TimeFormatFullTZ, ts)
		if err == nil {
			return Time{Value: t, Precision: TimePrecisionMillisecond}, nil
		}
	}

	return Time{}, fmt.Errorf("invalid Time format: %s", s)
}

// ParseDateTime parses a datetime literal. The date part is required;
// the time part and timezone offset are optional and determine the
// resulting precision and timezone awareness.
func ParseDateTime(s string) (DateTime, error) {
	ds := strings.TrimPrefix(s, "@")
	splits := strings.SplitN(ds, "T", 2)

	d, err := ParseDate(splits[0])
	if err != nil {
		return DateTime{}, fmt.Errorf("invalid DateTime format (date part): %s", s)
	}

	if len(splits) == 1 || splits[1] == "" {
		if d.Precision == DatePrecisionFull {
			return DateTime{Value: d.Value, Precision: DateTimePrecisionDay}, nil
		}
		return DateTime{Value: d.Value, Precision: DateTimePrecision(d.Precision)}, nil
	}

	ts := splits[1]
	hasTimeZone := strings.ContainsAny(ts, "Zz+-")

	t, err := parseTimeLiteral(ts, true)
	if err != nil {
		return DateTime{}, fmt.Errorf("invalid DateTime format (time part): %s", s)
	}

	tv := t.Value.In(d.Value.Location())
	dt := d.Value.Add(
		time.Hour*time.Duration(tv.Hour()) +
			time.Minute*time.Duration(tv.Minute()) +
			time.Second*time.Duration(tv.Second()) +
			time.Nanosecond*time.Duration(tv.Nanosecond()),
	)
	return DateTime{Value: dt, Precision: DateTimePrecision(t.Precision), HasTimeZone: hasTimeZone}, nil
}

// Calendar duration units accepted in quantity literals and date/time
// arithmetic.
const (
	UnitYear         = "year"
	UnitYears        = "years"
	UnitMonth        = "month"
	UnitMonths       = "months"
	UnitWeek         = "week"
	UnitWeeks        = "weeks"
	UnitDay          = "day"
	UnitDays         = "days"
	UnitHour         = "hour"
	UnitHours        = "hours"
	UnitMinute       = "minute"
	UnitMinutes      = "minutes"
	UnitSecond       = "second"
	UnitSeconds      = "seconds"
	UnitS            = "s"
	UnitMillisecond  = "millisecond"
	UnitMilliseconds = "milliseconds"
	UnitMs           = "ms"
)

func isTimeUnit(unit string) bool {
	switch unit {
	case UnitYear, UnitYears,
		UnitMonth, UnitMonths,
		UnitWeek, UnitWeeks,
		UnitDay, UnitDays,
		UnitHour, UnitHours,
		UnitMinute, UnitMinutes,
		UnitSecond, UnitSeconds, UnitS,
		UnitMillisecond, UnitMilliseconds, UnitMs:
		return true
	}
	return false
}

// normalizeTimeUnit maps plural calendar keywords and the definite UCUM
// duration codes onto the singular canonical unit.
func normalizeTimeUnit(unit string) string {
	if len(unit) >= 2 && unit[0] == '\'' && unit[len(unit)-1] == '\'' {
		unit = unit[1 : len(unit)-1]
	}

	switch unit {
	case UnitYear, UnitYears:
		return UnitYear
	case UnitMonth, UnitMonths:
		return UnitMonth
	case UnitWeek, UnitWeeks, "wk":
		return UnitWeek
	case UnitDay, UnitDays, "d":
		return UnitDay
	case UnitHour, UnitHours, "h":
		return UnitHour
	case UnitMinute, UnitMinutes, "min":
		return UnitMinute
	case UnitSecond, UnitSeconds, UnitS:
		return UnitSecond
	case UnitMillisecond, UnitMilliseconds, UnitMs:
		return UnitMillisecond
	}
	return unit
}
