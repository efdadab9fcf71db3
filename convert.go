package fhirpath

import (
	"context"
)

var conversionBuiltins = []builtin{
	{"toBoolean", 0, 0, convertTo[Boolean]("toBoolean")},
	{"convertsToBoolean", 0, 0, convertsTo[Boolean]("convertsToBoolean")},
	{"toInteger", 0, 0, convertTo[Integer]("toInteger")},
	{"convertsToInteger", 0, 0, convertsTo[Integer]("convertsToInteger")},
	{"toLong", 0, 0, convertTo[Long]("toLong")},
	{"convertsToLong", 0, 0, convertsTo[Long]("convertsToLong")},
	{"toDecimal", 0, 0, convertTo[Decimal]("toDecimal")},
	{"convertsToDecimal", 0, 0, convertsTo[Decimal]("convertsToDecimal")},
	{"toString", 0, 0, convertTo[String]("toString")},
	{"convertsToString", 0, 0, convertsTo[String]("convertsToString")},
	{"toDate", 0, 0, convertTo[Date]("toDate")},
	{"convertsToDate", 0, 0, convertsTo[Date]("convertsToDate")},
	{"toDateTime", 0, 0, convertTo[DateTime]("toDateTime")},
	{"convertsToDateTime", 0, 0, convertsTo[DateTime]("convertsToDateTime")},
	{"toTime", 0, 0, convertTo[Time]("toTime")},
	{"convertsToTime", 0, 0, convertsTo[Time]("convertsToTime")},
	{"toQuantity", 0, 1, fnToQuantity},
	{"convertsToQuantity", 0, 1, fnConvertsToQuantity},
}

// conversionOperand extracts the single element a conversion function
// operates on. ok is false for the empty input, which propagates as an
// empty result; more than one element is an error.
func conversionOperand(target Collection, fn string) (Element, bool, error) {
	if len(target) == 0 {
		return nil, false, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, fn, "expected single input element, got %d items", len(target))
	}
	return target[0], true, nil
}

// convertTo builds a toX() conversion function. An inconvertible value
// yields the empty collection, never an error.
func convertTo[T Element](fn string) Function {
	return func(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
		elem, ok, err := conversionOperand(target, fn)
		if err != nil || !ok {
			return nil, true, err
		}
		v, ok, err := elementTo[T](elem, true)
		if err != nil || !ok {
			return nil, true, nil
		}
		return Collection{v}, true, nil
	}
}

// convertsTo builds a convertsToX() predicate mirroring convertTo.
func convertsTo[T Element](fn string) Function {
	return func(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
		elem, ok, err := conversionOperand(target, fn)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return Collection{Boolean(false)}, true, nil
		}
		_, ok, err = elementTo[T](elem, true)
		return Collection{Boolean(err == nil && ok)}, true, nil
	}
}

// toQuantity takes an optional target unit that overrides the unit of
// the converted quantity.
func fnToQuantity(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	elem, ok, err := conversionOperand(target, "toQuantity")
	if err != nil || !ok {
		return nil, true, err
	}
	q, ok, err := elementTo[Quantity](elem, true)
	if err != nil || !ok {
		return nil, true, nil
	}

	if len(parameters) == 1 {
		unit, ok, err := stringParameter(ctx, parameters[0], evaluate)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, fnErrorf(ErrInvalidArgument, "toQuantity", "expected string unit parameter")
		}
		q.Unit = unit
	}
	return Collection{q}, true, nil
}

func fnConvertsToQuantity(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	elem, ok, err := conversionOperand(target, "convertsToQuantity")
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return Collection{Boolean(false)}, true, nil
	}
	if _, ok, err := elementTo[Quantity](elem, true); err != nil || !ok {
		return Collection{Boolean(false)}, true, nil
	}

	if len(parameters) == 1 {
		unit, ok, err := stringParameter(ctx, parameters[0], evaluate)
		if err != nil {
			return nil, false, err
		}
		if !ok || unit == "" {
			return nil, false, fnErrorf(ErrInvalidArgument, "convertsToQuantity", "expected string unit parameter")
		}
	}
	return Collection{Boolean(true)}, true, nil
}
