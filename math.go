package fhirpath

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/apd/v3"
)

var mathBuiltins = []builtin{
	{"abs", 0, 0, fnAbs},
	{"ceiling", 0, 0, fnCeiling},
	{"floor", 0, 0, fnFloor},
	{"truncate", 0, 0, fnTruncate},
	{"round", 0, 1, fnRound},
	{"exp", 0, 0, fnExp},
	{"ln", 0, 0, fnLn},
	{"log", 1, 1, fnLog},
	{"power", 1, 1, fnPower},
	{"sqrt", 0, 0, fnSqrt},
	{"lowBoundary", 0, 1, fnLowBoundary},
	{"highBoundary", 0, 1, fnHighBoundary},
	{"precision", 0, 0, fnPrecision},
	{"duration", 2, 2, fnDuration},
	{"difference", 2, 2, fnDifference},
}

func fnAbs(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, "abs", "expected single input element, got %d items", len(target))
	}

	if i, ok, err := Singleton[Integer](target); err == nil && ok {
		if i < 0 {
			return Collection{-i}, true, nil
		}
		return Collection{i}, true, nil
	}
	if d, ok, err := Singleton[Decimal](target); err == nil && ok {
		var abs apd.Decimal
		abs.Abs(d.Value)
		return Collection{Decimal{Value: &abs}}, true, nil
	}
	if q, ok, err := Singleton[Quantity](target); err == nil && ok {
		var abs apd.Decimal
		abs.Abs(q.Value.Value)
		return Collection{Quantity{Value: Decimal{Value: &abs}, Unit: q.Unit}}, true, nil
	}
	return nil, false, fnErrorf(ErrTypeMismatch, "abs", "expected Integer, Decimal or Quantity, got %T", target[0])
}

// integerPart is the shared core of ceiling(), floor() and truncate().
// rounding picks the apd operation applied to a Decimal input.
func integerPart(ctx context.Context, target Collection, fn string, rounding func(apdCtx *apd.Context, res, d *apd.Decimal) error) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, fn, "expected single input element, got %d items", len(target))
	}

	if i, ok, err := Singleton[Integer](target); err == nil && ok {
		return Collection{i}, true, nil
	}
	d, ok, err := Singleton[Decimal](target)
	if err != nil || !ok {
		return nil, false, fnErrorf(ErrTypeMismatch, fn, "expected Integer or Decimal, got %T", target[0])
	}

	var intPart apd.Decimal
	if err := rounding(apdContextOf(evalCtxFrom(ctx)), &intPart, d.Value); err != nil {
		return nil, false, err
	}
	intVal, err := intPart.Int64()
	if err != nil {
		return nil, false, fnErrorf(ErrInvalidArgument, fn, "result out of integer range: %s", err)
	}
	return Collection{Integer(intVal)}, true, nil
}

func fnCeiling(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	return integerPart(ctx, target, "ceiling", func(apdCtx *apd.Context, res, d *apd.Decimal) error {
		_, err := apdCtx.Ceil(res, d)
		return err
	})
}

func fnFloor(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	return integerPart(ctx, target, "floor", func(apdCtx *apd.Context, res, d *apd.Decimal) error {
		_, err := apdCtx.Floor(res, d)
		return err
	})
}

func fnTruncate(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	return integerPart(ctx, target, "truncate", func(apdCtx *apd.Context, res, d *apd.Decimal) error {
		// Truncation rounds towards zero.
		var err error
		if d.Negative {
			_, err = apdCtx.Ceil(res, d)
		} else {
			_, err = apdCtx.Floor(res, d)
		}
		return err
	})
}

func fnRound(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, "round", "expected single input element, got %d items", len(target))
	}

	decimalPlaces := int64(0)
	if len(parameters) == 1 {
		prec, err := integerParameter(ctx, parameters[0], evaluate, "round")
		if err != nil {
			return nil, false, err
		}
		if prec < 0 {
			return nil, false, fnErrorf(ErrInvalidArgument, "round", "precision must be >= 0, got %d", prec)
		}
		decimalPlaces = int64(prec)
	}

	var dec *apd.Decimal
	if i, ok, _ := Singleton[Integer](target); ok {
		dec = apd.New(int64(i), 0)
	} else if d, ok, _ := Singleton[Decimal](target); ok {
		dec = d.Value
	} else {
		return nil, false, fnErrorf(ErrTypeMismatch, "round", "expected Integer or Decimal, got %T", target[0])
	}

	// Quantize needs enough working precision to keep all integer digits.
	apdCtx := apdContextOf(evalCtxFrom(ctx)).WithPrecision(uint32(dec.NumDigits() + decimalPlaces))
	var rounded apd.Decimal
	if _, err := apdCtx.Quantize(&rounded, dec, int32(-decimalPlaces)); err != nil {
		return nil, false, err
	}
	return Collection{Decimal{Value: &rounded}}, true, nil
}

// decimalOperand extracts the single Decimal input of a math function,
// accepting Integer via implicit conversion.
func decimalOperand(target Collection, fn string) (Decimal, bool, error) {
	if len(target) == 0 {
		return Decimal{}, false, nil
	}
	if len(target) > 1 {
		return Decimal{}, false, fnErrorf(ErrNotSingleton, fn, "expected single input element, got %d items", len(target))
	}
	d, ok, err := Singleton[Decimal](target)
	if err != nil || !ok {
		return Decimal{}, false, fnErrorf(ErrTypeMismatch, fn, "expected Integer or Decimal, got %T", target[0])
	}
	return d, true, nil
}

func fnExp(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	d, ok, err := decimalOperand(target, "exp")
	if err != nil || !ok {
		return nil, true, err
	}
	var res apd.Decimal
	if _, err := apdContextOf(evalCtxFrom(ctx)).Exp(&res, d.Value); err != nil {
		return nil, false, err
	}
	return Collection{Decimal{Value: &res}}, true, nil
}

func fnLn(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	d, ok, err := decimalOperand(target, "ln")
	if err != nil || !ok {
		return nil, true, err
	}
	if d.Value.Sign() <= 0 {
		return nil, true, nil
	}
	var res apd.Decimal
	if _, err := apdContextOf(evalCtxFrom(ctx)).Ln(&res, d.Value); err != nil {
		return nil, false, err
	}
	return Collection{Decimal{Value: &res}}, true, nil
}

func fnLog(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	d, ok, err := decimalOperand(target, "log")
	if err != nil || !ok {
		return nil, true, err
	}

	baseCollection, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	if len(baseCollection) == 0 {
		return nil, true, nil
	}
	base, ok, err := Singleton[Decimal](baseCollection)
	if err != nil || !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "log", "expected Integer or Decimal base parameter, got %T", baseCollection[0])
	}
	if d.Value.Sign() <= 0 || base.Value.Sign() <= 0 {
		return nil, true, nil
	}

	apdCtx := apdContextOf(evalCtxFrom(ctx))
	var lnX, lnBase, res apd.Decimal
	if _, err := apdCtx.Ln(&lnX, d.Value); err != nil {
		return nil, false, err
	}
	if _, err := apdCtx.Ln(&lnBase, base.Value); err != nil {
		return nil, false, err
	}
	if lnBase.IsZero() {
		return nil, true, nil
	}
	if _, err := apdCtx.Quo(&res, &lnX, &lnBase); err != nil {
		return nil, false, err
	}
	return Collection{Decimal{Value: &res}}, true, nil
}

func fnPower(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, "power", "expected single input element, got %d items", len(target))
	}

	exponentCollection, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	if len(exponentCollection) == 0 {
		return nil, true, nil
	}

	// Integer base with Integer exponent stays an Integer when the result
	// is exactly representable.
	if exponent, ok, err := Singleton[Integer](exponentCollection); err == nil && ok {
		if base, ok, err := Singleton[Integer](target); err == nil && ok {
			f := math.Pow(float64(base), float64(exponent))
			if f == float64(int64(f)) {
				return Collection{Integer(int64(f))}, true, nil
			}
			res := apd.New(0, 0)
			if _, err := res.SetFloat64(f); err != nil {
				return nil, false, err
			}
			return Collection{Decimal{Value: res}}, true, nil
		}
	}

	exponent, ok, err := Singleton[Decimal](exponentCollection)
	if err != nil || !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "power", "expected Integer or Decimal exponent parameter, got %T", exponentCollection[0])
	}
	d, ok, err := Singleton[Decimal](target)
	if err != nil || !ok {
		return nil, false, fnErrorf(ErrTypeMismatch, "power", "expected Integer or Decimal, got %T", target[0])
	}
	// A negative base with a fractional exponent has no real result.
	if d.Value.Negative {
		return nil, true, nil
	}

	var res apd.Decimal
	if _, err := apdContextOf(evalCtxFrom(ctx)).Pow(&res, d.Value, exponent.Value); err != nil {
		return nil, false, err
	}
	return Collection{Decimal{Value: &res}}, true, nil
}

func fnSqrt(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	d, ok, err := decimalOperand(target, "sqrt")
	if err != nil || !ok {
		return nil, true, err
	}
	if d.Value.Negative {
		return nil, true, nil
	}
	var res apd.Decimal
	if _, err := apdContextOf(evalCtxFrom(ctx)).Sqrt(&res, d.Value); err != nil {
		return nil, false, err
	}
	return Collection{Decimal{Value: &res}}, true, nil
}

func fnLowBoundary(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	return boundary(ctx, target, parameters, evaluate, "lowBoundary", false)
}

func fnHighBoundary(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	return boundary(ctx, target, parameters, evaluate, "highBoundary", true)
}

// boundary implements lowBoundary() and highBoundary(). The written
// precision of the input defines an interval of values it could stand
// for; the result is the least or greatest value of that interval.
func boundary(ctx context.Context, target Collection, parameters []Expression, evaluate EvaluateFunc, fn string, upper bool) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, fn, "expected single input element, got %d items", len(target))
	}

	var precision *int
	if len(parameters) == 1 {
		prec, err := integerParameter(ctx, parameters[0], evaluate, fn)
		if err != nil {
			return nil, false, err
		}
		p := int(prec)
		precision = &p
	}

	ec := evalCtxFrom(ctx)

	decimalBoundary := func(d Decimal) (Decimal, bool, error) {
		if precision != nil && (*precision < 0 || *precision > 31) {
			return Decimal{}, false, nil
		}
		var b Decimal
		var err error
		if upper {
			b, err = d.HighBoundary(ec, precision)
		} else {
			b, err = d.LowBoundary(ec, precision)
		}
		return b, err == nil, err
	}

	if d, ok, err := Singleton[Decimal](target); err == nil && ok {
		b, ok, err := decimalBoundary(d)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, true, nil
		}
		return Collection{b}, true, nil
	}
	if q, ok, err := Singleton[Quantity](target); err == nil && ok {
		b, ok, err := decimalBoundary(q.Value)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, true, nil
		}
		q.Value = b
		return Collection{q}, true, nil
	}
	if d, ok, err := Singleton[Date](target); err == nil && ok {
		var b Date
		if upper {
			b, ok = d.HighBoundary(precision)
		} else {
			b, ok = d.LowBoundary(precision)
		}
		if !ok {
			return nil, true, nil
		}
		return Collection{b}, true, nil
	}
	if dt, ok, err := Singleton[DateTime](target); err == nil && ok {
		var b DateTime
		if upper {
			b, ok = dt.HighBoundary(precision)
		} else {
			b, ok = dt.LowBoundary(precision)
		}
		if !ok {
			return nil, true, nil
		}
		return Collection{b}, true, nil
	}
	if t, ok, err := Singleton[Time](target); err == nil && ok {
		var b Time
		if upper {
			b, ok = t.HighBoundary(precision)
		} else {
			b, ok = t.LowBoundary(precision)
		}
		if !ok {
			return nil, true, nil
		}
		return Collection{b}, true, nil
	}
	return nil, false, fnErrorf(ErrTypeMismatch, fn, "expected Decimal, Quantity, Date, DateTime or Time, got %T", target[0])
}

func fnPrecision(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, "precision", "expected single input element, got %d items", len(target))
	}

	switch v := target[0].(type) {
	case Decimal:
		return Collection{Integer(v.Precision())}, true, nil
	case Date:
		return Collection{Integer(v.PrecisionDigits())}, true, nil
	case DateTime:
		return Collection{Integer(v.PrecisionDigits())}, true, nil
	case Time:
		return Collection{Integer(v.PrecisionDigits())}, true, nil
	}
	return nil, false, fnErrorf(ErrTypeMismatch, "precision", "expected Decimal, Date, DateTime or Time, got %T", target[0])
}

func fnDuration(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	return temporalDistance(ctx, target, parameters, evaluate, "duration", false)
}

func fnDifference(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	return temporalDistance(ctx, target, parameters, evaluate, "difference", true)
}

// temporalDistance implements duration() and difference(). duration()
// counts whole calendar periods between the input and the value;
// difference() counts calendar boundaries crossed.
func temporalDistance(ctx context.Context, target Collection, parameters []Expression, evaluate EvaluateFunc, fn string, boundaries bool) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, fn, "expected single input element, got %d items", len(target))
	}

	valueResult, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	if len(valueResult) == 0 {
		return nil, true, nil
	}
	if len(valueResult) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, fn, "value parameter yielded %d items", len(valueResult))
	}

	precisionResult, _, err := evaluate(ctx, nil, parameters[1], nil)
	if err != nil {
		return nil, false, err
	}
	if len(precisionResult) == 0 {
		return nil, true, nil
	}
	precisionStr, ok, err := precisionResult[0].ToString(false)
	if err != nil || !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, fn, "expected string precision parameter, got %T", precisionResult[0])
	}
	precision := normalizeTimeUnit(string(precisionStr))

	if start, ok, _ := Singleton[Date](target); ok {
		end, ok, _ := Singleton[Date](valueResult)
		if !ok {
			return nil, false, fnErrorf(ErrTypeMismatch, fn, "expected Date value to match Date input, got %T", valueResult[0])
		}
		return dateDistance(start, end, precision, fn, boundaries)
	}
	if start, ok, _ := Singleton[DateTime](target); ok {
		end, ok, _ := Singleton[DateTime](valueResult)
		if !ok {
			return nil, false, fnErrorf(ErrTypeMismatch, fn, "expected DateTime value to match DateTime input, got %T", valueResult[0])
		}
		return dateTimeDistance(start, end, precision, fn, boundaries)
	}
	if start, ok, _ := Singleton[Time](target); ok {
		end, ok, _ := Singleton[Time](valueResult)
		if !ok {
			return nil, false, fnErrorf(ErrTypeMismatch, fn, "expected Time value to match Time input, got %T", valueResult[0])
		}
		return timeDistance(start, end, precision, fn, boundaries)
	}
	return nil, false, fnErrorf(ErrTypeMismatch, fn, "expected Date, DateTime or Time input, got %T", target[0])
}

func dateDistance(start, end Date, precision, fn string, boundaries bool) (Collection, bool, error) {
	switch precision {
	case UnitYear, UnitMonth, UnitWeek, UnitDay:
	default:
		return nil, false, fnErrorf(ErrInvalidArgument, fn, "invalid precision for Date: %s", precision)
	}
	if !dateHasUnit(start, precision) || !dateHasUnit(end, precision) {
		return nil, true, nil
	}

	startTime := start.Value
	endTime := end.Value
	sign := int64(1)
	if endTime.Before(startTime) {
		startTime, endTime = endTime, startTime
		sign = -1
	}

	var count int64
	switch precision {
	case UnitYear:
		count = int64(endTime.Year() - startTime.Year())
		if !boundaries && beforeAnniversary(startTime, endTime) {
			count--
		}
	case UnitMonth:
		count = monthsBetween(startTime, endTime)
		if !boundaries && endTime.Day() < startTime.Day() {
			count--
		}
	case UnitWeek:
		if boundaries {
			count = weekBoundariesCrossed(startTime, endTime)
		} else {
			count = int64(endTime.Sub(startTime).Hours() / 24 / 7)
		}
	case UnitDay:
		if boundaries {
			count = int64(startOfDay(endTime).Sub(startOfDay(startTime)).Hours() / 24)
		} else {
			count = int64(endTime.Sub(startTime).Hours() / 24)
		}
	}
	return Collection{Integer(count * sign)}, true, nil
}

func dateTimeDistance(start, end DateTime, precision, fn string, boundaries bool) (Collection, bool, error) {
	switch precision {
	case UnitYear, UnitMonth, UnitWeek, UnitDay,
		UnitHour, UnitMinute, UnitSecond, UnitMillisecond:
	default:
		return nil, false, fnErrorf(ErrInvalidArgument, fn, "invalid precision for DateTime: %s", precision)
	}
	if !dateTimeHasUnit(start, precision) || !dateTimeHasUnit(end, precision) {
		return nil, true, nil
	}

	startTime := start.Value
	endTime := end.Value
	sign := int64(1)
	if endTime.Before(startTime) {
		startTime, endTime = endTime, startTime
		sign = -1
	}

	var count int64
	switch precision {
	case UnitYear:
		count = int64(endTime.Year() - startTime.Year())
		if !boundaries && beforeAnniversary(startTime, endTime) {
			count--
		}
	case UnitMonth:
		count = monthsBetween(startTime, endTime)
		if !boundaries && beforeMonthMark(startTime, endTime) {
			count--
		}
	case UnitWeek:
		if boundaries {
			count = weekBoundariesCrossed(startTime, endTime)
		} else {
			count = int64(endTime.Sub(startTime).Hours() / 24 / 7)
		}
	case UnitDay:
		if boundaries {
			count = int64(startOfDay(endTime).Sub(startOfDay(startTime)).Hours() / 24)
		} else {
			count = int64(endTime.Sub(startTime).Hours() / 24)
		}
	case UnitHour:
		if boundaries {
			count = int64(endTime.Truncate(time.Hour).Sub(startTime.Truncate(time.Hour)).Hours())
		} else {
			count = int64(endTime.Sub(startTime).Hours())
		}
	case UnitMinute:
		if boundaries {
			count = int64(endTime.Truncate(time.Minute).Sub(startTime.Truncate(time.Minute)).Minutes())
		} else {
			count = int64(endTime.Sub(startTime).Minutes())
		}
	case UnitSecond:
		if boundaries {
			count = int64(endTime.Truncate(time.Second).Sub(startTime.Truncate(time.Second)).Seconds())
		} else {
			count = int64(endTime.Sub(startTime).Seconds())
		}
	case UnitMillisecond:
		count = endTime.Sub(startTime).Milliseconds()
	}
	return Collection{Integer(count * sign)}, true, nil
}

func timeDistance(start, end Time, precision, fn string, boundaries bool) (Collection, bool, error) {
	switch precision {
	case UnitHour, UnitMinute, UnitSecond, UnitMillisecond:
	default:
		return nil, false, fnErrorf(ErrInvalidArgument, fn, "invalid precision for Time: %s", precision)
	}
	if !timeHasUnit(start, precision) || !timeHasUnit(end, precision) {
		return nil, true, nil
	}

	startTime := start.Value
	endTime := end.Value
	sign := int64(1)
	if endTime.Before(startTime) {
		startTime, endTime = endTime, startTime
		sign = -1
	}

	var count int64
	switch precision {
	case UnitHour:
		if boundaries {
			count = int64(endTime.Truncate(time.Hour).Sub(startTime.Truncate(time.Hour)).Hours())
		} else {
			count = int64(endTime.Sub(startTime).Hours())
		}
	case UnitMinute:
		if boundaries {
			count = int64(endTime.Truncate(time.Minute).Sub(startTime.Truncate(time.Minute)).Minutes())
		} else {
			count = int64(endTime.Sub(startTime).Minutes())
		}
	case UnitSecond:
		if boundaries {
			count = int64(endTime.Truncate(time.Second).Sub(startTime.Truncate(time.Second)).Seconds())
		} else {
			count = int64(endTime.Sub(startTime).Seconds())
		}
	case UnitMillisecond:
		count = endTime.Sub(startTime).Milliseconds()
	}
	return Collection{Integer(count * sign)}, true, nil
}

// beforeAnniversary reports whether end falls before the month and day
// of start within its year, meaning the last year is not yet complete.
func beforeAnniversary(start, end time.Time) bool {
	if end.Month() != start.Month() {
		return end.Month() < start.Month()
	}
	return end.Day() < start.Day()
}

// beforeMonthMark reports whether end falls before the day-of-month and
// time-of-day of start, meaning the last month is not yet complete.
func beforeMonthMark(start, end time.Time) bool {
	if end.Day() != start.Day() {
		return end.Day() < start.Day()
	}
	if end.Hour() != start.Hour() {
		return end.Hour() < start.Hour()
	}
	if end.Minute() != start.Minute() {
		return end.Minute() < start.Minute()
	}
	return end.Second() < start.Second()
}

func monthsBetween(start, end time.Time) int64 {
	years := end.Year() - start.Year()
	months := int(end.Month()) - int(start.Month())
	return int64(years*12 + months)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// weekBoundariesCrossed counts week boundaries between two instants.
// Week boundaries fall on Sundays.
func weekBoundariesCrossed(start, end time.Time) int64 {
	days := startOfDay(end.AddDate(0, 0, -int(end.Weekday()))).
		Sub(startOfDay(start.AddDate(0, 0, -int(start.Weekday())))).Hours() / 24
	return int64(days / 7)
}

// dateHasUnit reports whether the written precision of d covers the
// requested calendar unit.
func dateHasUnit(d Date, unit string) bool {
	switch unit {
	case UnitYear:
		return true
	case UnitMonth:
		return datePrecisionOrder(d.Precision) >= datePrecisionOrder(DatePrecisionMonth)
	default:
		return d.Precision == DatePrecisionFull
	}
}

func dateTimeHasUnit(dt DateTime, unit string) bool {
	var level DateTimePrecision
	switch unit {
	case UnitYear:
		return true
	case UnitMonth:
		level = DateTimePrecisionMonth
	case UnitWeek, UnitDay:
		level = DateTimePrecisionDay
	case UnitHour:
		level = DateTimePrecisionHour
	case UnitMinute:
		level = DateTimePrecisionMinute
	case UnitSecond:
		level = DateTimePrecisionSecond
	default:
		level = DateTimePrecisionMillisecond
	}
	return dateTimePrecisionOrder(dt.Precision) >= dateTimePrecisionOrder(level)
}

func timeHasUnit(t Time, unit string) bool {
	switch unit {
	case UnitHour:
		return true
	case UnitMinute:
		return timePrecisionOrder(t.Precision) >= timePrecisionOrder(TimePrecisionMinute)
	case UnitSecond:
		return timePrecisionOrder(t.Precision) >= timePrecisionOrder(TimePrecisionSecond)
	default:
		return t.Precision == TimePrecisionMillisecond
	}
}
