package fhirpath

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/probemed/fhirpath/internal/parser"
)

// The builtin library is split by concern: type inspection, existence,
// collection manipulation and utility functions live here, string
// handling in strings.go, arithmetic in math.go and the to*/convertsTo*
// family in convert.go. The registry enforces arity before dispatch, so
// implementations can index parameters without re-checking counts.

var typeBuiltins = []builtin{
	{"type", 0, 0, fnType},
	{"is", 1, 1, fnIs},
	{"as", 1, 1, fnAs},
	{"ofType", 1, 1, fnOfType},
}

var existenceBuiltins = []builtin{
	{"not", 0, 0, fnNot},
	{"empty", 0, 0, fnEmpty},
	{"exists", 0, 1, fnExists},
	{"all", 1, 1, fnAll},
	{"allTrue", 0, 0, fnAllTrue},
	{"anyTrue", 0, 0, fnAnyTrue},
	{"allFalse", 0, 0, fnAllFalse},
	{"anyFalse", 0, 0, fnAnyFalse},
	{"subsetOf", 1, 1, fnSubsetOf},
	{"supersetOf", 1, 1, fnSupersetOf},
	{"count", 0, 0, fnCount},
	{"distinct", 0, 0, fnDistinct},
	{"isDistinct", 0, 0, fnIsDistinct},
}

var collectionBuiltins = []builtin{
	{"where", 1, 1, fnWhere},
	{"select", 1, 1, fnSelect},
	{"sort", 0, -1, fnSort},
	{"repeat", 1, 1, fnRepeat},
	{"repeatAll", 1, 1, fnRepeatAll},
	{"single", 0, 0, fnSingle},
	{"first", 0, 0, fnFirst},
	{"last", 0, 0, fnLast},
	{"tail", 0, 0, fnTail},
	{"skip", 1, 1, fnSkip},
	{"take", 1, 1, fnTake},
	{"intersect", 1, 1, fnIntersect},
	{"exclude", 1, 1, fnExclude},
	{"union", 1, 1, fnUnion},
	{"combine", 1, 1, fnCombine},
	{"coalesce", 1, -1, fnCoalesce},
	{"children", 0, 0, fnChildren},
	{"descendants", 0, 0, fnDescendants},
	{"extension", 1, 1, fnExtension},
}

var utilityBuiltins = []builtin{
	{"trace", 1, 2, fnTrace},
	{"aggregate", 1, 2, fnAggregate},
	{"iif", 2, 3, fnIif},
	{"defineVariable", 1, 2, fnDefineVariable},
	{"now", 0, 0, fnNow},
	{"timeOfDay", 0, 0, fnTimeOfDay},
	{"today", 0, 0, fnToday},
	{"resolve", 0, 0, fnResolve},
	{"yearOf", 0, 0, fnYearOf},
	{"monthOf", 0, 0, fnMonthOf},
	{"dayOf", 0, 0, fnDayOf},
	{"hourOf", 0, 0, fnHourOf},
	{"minuteOf", 0, 0, fnMinuteOf},
	{"secondOf", 0, 0, fnSecondOf},
	{"millisecondOf", 0, 0, fnMillisecondOf},
	{"timezoneOffsetOf", 0, 0, fnTimezoneOffsetOf},
	{"dateOf", 0, 0, fnDateOf},
	{"timeOf", 0, 0, fnTimeOf},
}

func fnType(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	result := make(Collection, 0, len(target))
	for _, elem := range target {
		result = append(result, elem.TypeInfo())
	}
	return result, inputOrdered, nil
}

func fnIs(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	switch len(target) {
	case 0:
		return nil, true, nil
	case 1:
	default:
		return nil, false, fnErrorf(ErrNotSingleton, "is", "expected single input element, got %d", len(target))
	}
	typeSpec := ParseTypeSpecifier(parameters[0].String())

	r, err := evalCtxFrom(ctx).isType(target[0], typeSpec)
	if err != nil {
		return nil, false, err
	}
	return Collection{r}, true, nil
}

func fnAs(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	switch len(target) {
	case 0:
		return nil, true, nil
	case 1:
	default:
		return nil, false, fnErrorf(ErrNotSingleton, "as", "expected single input element, got %d", len(target))
	}
	typeSpec := ParseTypeSpecifier(parameters[0].String())

	c, err := evalCtxFrom(ctx).asType(target[0], typeSpec)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func fnOfType(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	typeSpec := ParseTypeSpecifier(parameters[0].String())

	ec := evalCtxFrom(ctx)
	var result Collection
	for _, elem := range target {
		isOfType, err := ec.isType(elem, typeSpec)
		if err != nil {
			return nil, false, err
		}
		if b, ok := isOfType.(Boolean); ok && bool(b) {
			result = append(result, elem)
		}
	}
	return result, inputOrdered, nil
}

func fnNot(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	b, ok, err := Singleton[Boolean](target)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, true, nil
	}
	return Collection{!b}, true, nil
}

func fnEmpty(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	return Collection{Boolean(len(target) == 0)}, true, nil
}

func fnExists(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(parameters) == 0 {
		return Collection{Boolean(len(target) > 0)}, true, nil
	}

	// With criteria this behaves as where(criteria).exists().
	for i, elem := range target {
		criteria, _, err := evaluate(ctx, Collection{elem}, parameters[0], &FunctionScope{Index: i})
		if err != nil {
			return nil, false, err
		}
		b, ok, err := Singleton[Boolean](criteria)
		if err != nil {
			return nil, false, err
		}
		if ok && bool(b) {
			return Collection{Boolean(true)}, true, nil
		}
	}
	return Collection{Boolean(false)}, true, nil
}

func fnAll(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	// Vacuously true on empty input.
	for i, elem := range target {
		criteria, _, err := evaluate(ctx, Collection{elem}, parameters[0], &FunctionScope{Index: i})
		if err != nil {
			return nil, false, err
		}
		b, ok, err := Singleton[Boolean](criteria)
		if err != nil {
			return nil, false, err
		}
		if !ok || !bool(b) {
			return Collection{Boolean(false)}, true, nil
		}
	}
	return Collection{Boolean(true)}, true, nil
}

func fnAllTrue(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	for _, elem := range target {
		b, ok, err := elem.ToBoolean(false)
		if err != nil {
			return nil, false, err
		}
		if !ok || !bool(b) {
			return Collection{Boolean(false)}, true, nil
		}
	}
	return Collection{Boolean(true)}, true, nil
}

func fnAnyTrue(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	for _, elem := range target {
		b, ok, err := elem.ToBoolean(false)
		if err != nil {
			return nil, false, err
		}
		if ok && bool(b) {
			return Collection{Boolean(true)}, true, nil
		}
	}
	return Collection{Boolean(false)}, true, nil
}

func fnAllFalse(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	for _, elem := range target {
		b, ok, err := elem.ToBoolean(false)
		if err != nil {
			return nil, false, err
		}
		if !ok || bool(b) {
			return Collection{Boolean(false)}, true, nil
		}
	}
	return Collection{Boolean(true)}, true, nil
}

func fnAnyFalse(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	for _, elem := range target {
		b, ok, err := elem.ToBoolean(false)
		if err != nil {
			return nil, false, err
		}
		if ok && !bool(b) {
			return Collection{Boolean(true)}, true, nil
		}
	}
	return Collection{Boolean(false)}, true, nil
}

func fnSubsetOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return Collection{Boolean(true)}, true, nil
	}

	other, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	if len(other) == 0 {
		return Collection{Boolean(false)}, true, nil
	}

	for _, elem := range target {
		if !other.Contains(elem) {
			return Collection{Boolean(false)}, true, nil
		}
	}
	return Collection{Boolean(true)}, true, nil
}

func fnSupersetOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	other, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	if len(other) == 0 {
		return Collection{Boolean(true)}, true, nil
	}
	if len(target) == 0 {
		return Collection{Boolean(false)}, true, nil
	}

	for _, otherElem := range other {
		if !target.Contains(otherElem) {
			return Collection{Boolean(false)}, true, nil
		}
	}
	return Collection{Boolean(true)}, true, nil
}

func fnCount(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	return Collection{Integer(len(target))}, true, nil
}

func fnDistinct(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	var result Collection
	for _, elem := range target {
		if !result.Contains(elem) {
			result = append(result, elem)
		}
	}
	return result, false, nil
}

func fnIsDistinct(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	for i := 0; i < len(target); i++ {
		for j := i + 1; j < len(target); j++ {
			eq, ok := target[i].Equal(target[j])
			if ok && eq {
				return Collection{Boolean(false)}, true, nil
			}
		}
	}
	return Collection{Boolean(true)}, true, nil
}

func fnWhere(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	var result Collection
	for i, elem := range target {
		criteria, _, err := evaluate(ctx, Collection{elem}, parameters[0], &FunctionScope{Index: i})
		if err != nil {
			return nil, false, err
		}
		b, ok, err := Singleton[Boolean](criteria)
		if err != nil {
			return nil, false, err
		}
		if ok && bool(b) {
			result = append(result, elem)
		}
	}
	return result, inputOrdered, nil
}

func fnSelect(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	var result Collection
	resultOrdered := inputOrdered
	for i, elem := range target {
		projection, ordered, err := evaluate(ctx, Collection{elem}, parameters[0], &FunctionScope{Index: i})
		if err != nil {
			return nil, false, err
		}
		result = append(result, projection...)
		if !ordered {
			resultOrdered = false
		}
	}
	return result, resultOrdered, nil
}

func fnSort(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	type sortKey struct {
		empty bool
		value Element
	}
	type sortItem struct {
		elem Element
		keys []sortKey
	}

	items := make([]sortItem, len(target))
	for i, elem := range target {
		items[i].elem = elem
		if len(parameters) == 0 {
			continue
		}
		items[i].keys = make([]sortKey, len(parameters))
		for j, param := range parameters {
			keyResult, _, err := evaluate(ctx, Collection{elem}, param, &FunctionScope{Index: i})
			if err != nil {
				return nil, false, err
			}
			switch len(keyResult) {
			case 0:
				items[i].keys[j] = sortKey{empty: true}
			case 1:
				items[i].keys[j] = sortKey{value: keyResult[0]}
			default:
				return nil, false, fnErrorf(ErrNotSingleton, "sort",
					"key %d evaluated to %d items, expected 0 or 1", j+1, len(keyResult))
			}
		}
	}

	var sortErr error
	slices.SortStableFunc(items, func(a, b sortItem) int {
		if sortErr != nil {
			return 0
		}

		if len(parameters) == 0 {
			cmp, err := compareForSort(a.elem, b.elem)
			if err != nil {
				sortErr = err
				return 0
			}
			return cmp
		}

		for idx, param := range parameters {
			av, bv := a.keys[idx], b.keys[idx]
			// Empty keys sort first regardless of direction.
			if av.empty && bv.empty {
				continue
			}
			if av.empty {
				return -1
			}
			if bv.empty {
				return 1
			}

			cmp, err := compareForSort(av.value, bv.value)
			if err != nil {
				sortErr = err
				return 0
			}
			if cmp != 0 {
				if param.sortDir == parser.SortDesc {
					cmp = -cmp
				}
				return cmp
			}
		}
		return 0
	})
	if sortErr != nil {
		return nil, false, sortErr
	}

	result := make(Collection, len(items))
	for i, item := range items {
		result[i] = item.elem
	}
	return result, true, nil
}

func compareForSort(a, b Element) (int, error) {
	cmp, ok, err := Collection{a}.Cmp(Collection{b})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fnErrorf(ErrTypeMismatch, "sort", "elements %T and %T are not comparable", a, b)
	}
	return cmp, nil
}

func fnRepeat(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	var result Collection
	current := target
	for {
		var newItems Collection
		for i, elem := range current {
			projection, _, err := evaluate(ctx, Collection{elem}, parameters[0], &FunctionScope{Index: i})
			if err != nil {
				return nil, false, err
			}
			for _, item := range projection {
				if result.Contains(item) || newItems.Contains(item) {
					continue
				}
				newItems = append(newItems, item)
			}
		}
		if len(newItems) == 0 {
			return result, false, nil
		}
		result = append(result, newItems...)
		current = newItems
	}
}

func fnRepeatAll(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	var result Collection
	queue := slices.Clone(target)
	for len(queue) > 0 {
		var next Collection
		for i, elem := range queue {
			projection, _, err := evaluate(ctx, Collection{elem}, parameters[0], &FunctionScope{Index: i})
			if err != nil {
				return nil, false, err
			}
			if len(projection) == 0 {
				continue
			}
			result = append(result, projection...)
			next = append(next, projection...)
		}
		queue = next
	}
	return result, false, nil
}

func fnSingle(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, "single", "expected single item, got %d", len(target))
	}
	return Collection{target[0]}, true, nil
}

func fnFirst(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if !inputOrdered {
		return nil, false, fnErrorf(ErrInvalidArgument, "first", "expected ordered input")
	}
	return Collection{target[0]}, true, nil
}

func fnLast(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if !inputOrdered {
		return nil, false, fnErrorf(ErrInvalidArgument, "last", "expected ordered input")
	}
	return Collection{target[len(target)-1]}, true, nil
}

func fnTail(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) <= 1 {
		return nil, true, nil
	}
	if !inputOrdered {
		return nil, false, fnErrorf(ErrInvalidArgument, "tail", "expected ordered input")
	}
	return target[1:], inputOrdered, nil
}

func fnSkip(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if !inputOrdered {
		return nil, false, fnErrorf(ErrInvalidArgument, "skip", "expected ordered input")
	}

	num, err := integerParameter(ctx, parameters[0], evaluate, "skip")
	if err != nil {
		return nil, false, err
	}
	switch {
	case num <= 0:
		return target, inputOrdered, nil
	case int(num) >= len(target):
		return nil, true, nil
	}
	return target[num:], inputOrdered, nil
}

func fnTake(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if !inputOrdered {
		return nil, false, fnErrorf(ErrInvalidArgument, "take", "expected ordered input")
	}

	num, err := integerParameter(ctx, parameters[0], evaluate, "take")
	if err != nil {
		return nil, false, err
	}
	switch {
	case num <= 0:
		return nil, true, nil
	case int(num) >= len(target):
		return target, inputOrdered, nil
	}
	return target[:num], inputOrdered, nil
}

func integerParameter(ctx context.Context, param Expression, evaluate EvaluateFunc, fn string) (Integer, error) {
	c, _, err := evaluate(ctx, nil, param, nil)
	if err != nil {
		return 0, err
	}
	num, ok, err := Singleton[Integer](c)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fnErrorf(ErrInvalidArgument, fn, "expected integer parameter")
	}
	return num, nil
}

func fnIntersect(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	other, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	if len(other) == 0 {
		return nil, true, nil
	}

	var result Collection
	for _, elem := range target {
		if other.Contains(elem) && !result.Contains(elem) {
			result = append(result, elem)
		}
	}
	return result, false, nil
}

func fnExclude(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	other, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	if len(other) == 0 {
		return target, inputOrdered, nil
	}

	var result Collection
	for _, elem := range target {
		if !other.Contains(elem) {
			result = append(result, elem)
		}
	}
	return result, inputOrdered, nil
}

func fnUnion(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	other, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	return target.Union(other), false, nil
}

func fnCombine(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	other, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	return target.Combine(other), false, nil
}

func fnCoalesce(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	for _, param := range parameters {
		value, ordered, err := evaluate(ctx, nil, param, nil)
		if err != nil {
			return nil, false, err
		}
		if len(value) > 0 {
			return value, ordered, nil
		}
	}
	return nil, true, nil
}

func fnChildren(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	var result Collection
	for _, elem := range target {
		result = append(result, elem.Children()...)
	}
	return result, false, nil
}

func fnDescendants(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	// Shorthand for repeat(children()), without the projection overhead.
	var result Collection
	current := target
	for {
		var newItems Collection
		for _, elem := range current {
			for _, child := range elem.Children() {
				if result.Contains(child) || newItems.Contains(child) {
					continue
				}
				newItems = append(newItems, child)
			}
		}
		if len(newItems) == 0 {
			return result, false, nil
		}
		result = append(result, newItems...)
		current = newItems
	}
}

func fnExtension(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	url, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "extension", "expected single string url parameter")
	}

	var result Collection
	for _, elem := range target {
		for _, ext := range elem.Children("extension") {
			extURL, ok, err := Singleton[String](ext.Children("url"))
			if err == nil && ok && extURL == url {
				result = append(result, ext)
			}
		}
	}
	return result, inputOrdered, nil
}

func fnTrace(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	nameParam, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	name, ok, err := Singleton[String](nameParam)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "trace", "expected single string name parameter")
	}

	logCollection := target
	if len(parameters) == 2 {
		logCollection = nil
		for i, elem := range target {
			projection, _, err := evaluate(ctx, Collection{elem}, parameters[1], &FunctionScope{Index: i})
			if err != nil {
				return nil, false, err
			}
			logCollection = append(logCollection, projection...)
		}
	}

	if err := evalCtxFrom(ctx).tracer.Log(string(name), logCollection); err != nil {
		return nil, false, err
	}
	return target, inputOrdered, nil
}

func fnAggregate(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	total := Collection{}
	totalOrdered := inputOrdered
	if len(parameters) == 2 {
		var err error
		total, totalOrdered, err = evaluate(ctx, nil, parameters[1], nil)
		if err != nil {
			return nil, false, err
		}
	}

	for i, elem := range target {
		var err error
		total, _, err = evaluate(ctx, Collection{elem}, parameters[0], &FunctionScope{Index: i, Total: total})
		if err != nil {
			return nil, false, err
		}
	}
	return total, totalOrdered, nil
}

func fnIif(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, "iif", "expected input with 0 or 1 items, got %d", len(target))
	}

	// $this and $index inside the branches refer to the caller's scope.
	scope := &FunctionScope{}
	if parent := evalCtxFrom(ctx).scope; parent != nil {
		scope.Index = parent.index
	}

	criterion, _, err := evaluate(ctx, target, parameters[0], scope)
	if err != nil {
		return nil, false, err
	}
	b, ok, err := Singleton[Boolean](criterion)
	if err != nil {
		return nil, false, err
	}

	// Only the taken branch evaluates.
	if ok && bool(b) {
		return evaluate(ctx, target, parameters[1], scope)
	}
	if len(parameters) == 3 {
		return evaluate(ctx, target, parameters[2], scope)
	}
	return nil, true, nil
}

func fnDefineVariable(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	nameParam, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	name, ok, err := Singleton[String](nameParam)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "defineVariable", "expected string name parameter")
	}
	if _, isSystem := systemVariables[string(name)]; isSystem {
		return nil, false, fnErrorf(ErrInvalidArgument, "defineVariable", "can not redefine system variable %%%s", name)
	}

	value := target
	if len(parameters) == 2 {
		value, _, err = evaluate(ctx, target, parameters[1], nil)
		if err != nil {
			return nil, false, err
		}
	}

	// The variable stays bound for the rest of the current scope and is
	// dropped when the enclosing frame ends.
	evalCtxFrom(ctx).setEnv(string(name), value)
	return target, inputOrdered, nil
}

func fnNow(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	instant := evalCtxFrom(ctx).now
	dt := DateTime{Value: instant, Precision: DateTimePrecisionFull, HasTimeZone: true}
	return Collection{dt}, true, nil
}

func fnTimeOfDay(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	instant := evalCtxFrom(ctx).now
	tod := time.Date(0, 1, 1, instant.Hour(), instant.Minute(), instant.Second(), instant.Nanosecond(), instant.Location())
	return Collection{Time{Value: tod, Precision: TimePrecisionFull}}, true, nil
}

func fnToday(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	instant := evalCtxFrom(ctx).now
	day := time.Date(instant.Year(), instant.Month(), instant.Day(), 0, 0, 0, 0, instant.Location())
	return Collection{Date{Value: day, Precision: DatePrecisionFull}}, true, nil
}

// fnResolve dereferences references through the configured Resolver.
// Elements that are not references, or that the resolver can not turn
// into a resource, are skipped rather than failing the evaluation.
func fnResolve(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	resolver := evalCtxFrom(ctx).resolver
	if resolver == nil {
		return nil, true, nil
	}

	var result Collection
	for _, elem := range target {
		uri, ok := referenceURI(elem)
		if !ok {
			continue
		}
		resolved, err := resolver.Resolve(uri)
		if err != nil {
			return nil, false, fnErrorf(ErrInvalidArgument, "resolve", "resolving %q: %s", uri, err)
		}
		if resolved != nil {
			result = append(result, resolved)
		}
	}
	return result, inputOrdered, nil
}

// referenceURI extracts the reference target from either a plain string
// or a complex element with a "reference" child.
func referenceURI(elem Element) (string, bool) {
	if s, ok, err := elem.ToString(false); err == nil && ok {
		return string(s), true
	}
	ref, ok, err := Singleton[String](elem.Children("reference"))
	if err != nil || !ok {
		return "", false
	}
	return string(ref), true
}

// singleTemporal coerces a single-element collection to a DateTime,
// accepting Date input, for the component extraction functions.
func singleTemporal(target Collection, fn string) (DateTime, bool, error) {
	if len(target) == 0 {
		return DateTime{}, false, nil
	}
	if len(target) > 1 {
		return DateTime{}, false, fnErrorf(ErrNotSingleton, fn, "expected single Date or DateTime, got %d items", len(target))
	}

	dt, ok, err := target[0].ToDateTime(false)
	if err == nil && ok {
		return dt, true, nil
	}
	d, ok, err := target[0].ToDate(false)
	if err != nil || !ok {
		return DateTime{}, false, fnErrorf(ErrTypeMismatch, fn, "expected Date or DateTime, got %T", target[0])
	}
	return DateTime{Value: d.Value, Precision: datePrecisionToDateTimePrecision(d.Precision)}, true, nil
}

// singleClock coerces a single-element collection to a wall-clock value
// with its precision, accepting DateTime, Date or Time input.
func singleClock(target Collection, fn string) (time.Time, DateTimePrecision, bool, error) {
	if len(target) == 0 {
		return time.Time{}, "", false, nil
	}
	if len(target) > 1 {
		return time.Time{}, "", false, fnErrorf(ErrNotSingleton, fn, "expected single Date, DateTime or Time, got %d items", len(target))
	}

	if dt, ok, err := target[0].ToDateTime(false); err == nil && ok {
		return dt.Value, dt.Precision, true, nil
	}
	if d, ok, err := target[0].ToDate(false); err == nil && ok {
		return d.Value, datePrecisionToDateTimePrecision(d.Precision), true, nil
	}
	if t, ok, err := target[0].ToTime(false); err == nil && ok {
		return t.Value, DateTimePrecision(t.Precision), true, nil
	}
	return time.Time{}, "", false, fnErrorf(ErrTypeMismatch, fn, "expected Date, DateTime or Time, got %T", target[0])
}

func fnYearOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	dt, ok, err := singleTemporal(target, "yearOf")
	if err != nil || !ok {
		return nil, true, err
	}
	return Collection{Integer(dt.Value.Year())}, true, nil
}

func fnMonthOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	dt, ok, err := singleTemporal(target, "monthOf")
	if err != nil || !ok {
		return nil, true, err
	}
	if dt.Precision == DateTimePrecisionYear {
		return nil, true, nil
	}
	return Collection{Integer(dt.Value.Month())}, true, nil
}

func fnDayOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	dt, ok, err := singleTemporal(target, "dayOf")
	if err != nil || !ok {
		return nil, true, err
	}
	if dt.Precision == DateTimePrecisionYear || dt.Precision == DateTimePrecisionMonth {
		return nil, true, nil
	}
	return Collection{Integer(dt.Value.Day())}, true, nil
}

func fnHourOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	t, precision, ok, err := singleClock(target, "hourOf")
	if err != nil || !ok {
		return nil, true, err
	}
	if dateTimePrecisionOrder(precision) < dateTimePrecisionOrder(DateTimePrecisionHour) {
		return nil, true, nil
	}
	return Collection{Integer(t.Hour())}, true, nil
}

func fnMinuteOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	t, precision, ok, err := singleClock(target, "minuteOf")
	if err != nil || !ok {
		return nil, true, err
	}
	if dateTimePrecisionOrder(precision) < dateTimePrecisionOrder(DateTimePrecisionMinute) {
		return nil, true, nil
	}
	return Collection{Integer(t.Minute())}, true, nil
}

func fnSecondOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	t, precision, ok, err := singleClock(target, "secondOf")
	if err != nil || !ok {
		return nil, true, err
	}
	if dateTimePrecisionOrder(precision) < dateTimePrecisionOrder(DateTimePrecisionSecond) {
		return nil, true, nil
	}
	return Collection{Integer(t.Second())}, true, nil
}

func fnMillisecondOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	t, precision, ok, err := singleClock(target, "millisecondOf")
	if err != nil || !ok {
		return nil, true, err
	}
	if dateTimePrecisionOrder(precision) < dateTimePrecisionOrder(DateTimePrecisionMillisecond) {
		return nil, true, nil
	}
	return Collection{Integer(t.Nanosecond() / int(time.Millisecond))}, true, nil
}

func fnTimezoneOffsetOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, "timezoneOffsetOf", "expected single DateTime, got %d items", len(target))
	}
	dt, ok, err := target[0].ToDateTime(false)
	if err != nil || !ok {
		return nil, false, fnErrorf(ErrTypeMismatch, "timezoneOffsetOf", "expected DateTime, got %T", target[0])
	}
	if !dt.HasTimeZone {
		return nil, true, nil
	}

	_, offset := dt.Value.Zone()
	var hours apd.Decimal
	if _, err := defaultAPDContext.Quo(&hours, apd.New(int64(offset), 0), apd.New(3600, 0)); err != nil {
		return nil, false, err
	}
	return Collection{Decimal{Value: &hours}}, true, nil
}

func fnDateOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, "dateOf", "expected single Date or DateTime, got %d items", len(target))
	}

	if d, ok, err := target[0].ToDate(false); err == nil && ok {
		return Collection{d}, true, nil
	}
	dt, ok, err := target[0].ToDateTime(false)
	if err != nil || !ok {
		return nil, false, fnErrorf(ErrTypeMismatch, "dateOf", "expected Date or DateTime, got %T", target[0])
	}

	var precision DatePrecision
	switch dt.Precision {
	case DateTimePrecisionYear:
		precision = DatePrecisionYear
	case DateTimePrecisionMonth:
		precision = DatePrecisionMonth
	default:
		precision = DatePrecisionFull
	}
	day := time.Date(dt.Value.Year(), dt.Value.Month(), dt.Value.Day(), 0, 0, 0, 0, dt.Value.Location())
	return Collection{Date{Value: day, Precision: precision}}, true, nil
}

func fnTimeOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}
	if len(target) > 1 {
		return nil, false, fnErrorf(ErrNotSingleton, "timeOf", "expected single DateTime, got %d items", len(target))
	}
	dt, ok, err := target[0].ToDateTime(false)
	if err != nil || !ok {
		return nil, false, fnErrorf(ErrTypeMismatch, "timeOf", "expected DateTime, got %T", target[0])
	}
	if dateTimePrecisionOrder(dt.Precision) < dateTimePrecisionOrder(DateTimePrecisionHour) {
		return nil, true, nil
	}

	var precision TimePrecision
	switch dt.Precision {
	case DateTimePrecisionHour:
		precision = TimePrecisionHour
	case DateTimePrecisionMinute:
		precision = TimePrecisionMinute
	case DateTimePrecisionSecond:
		precision = TimePrecisionSecond
	default:
		precision = TimePrecisionFull
	}
	tod := time.Date(0, 1, 1, dt.Value.Hour(), dt.Value.Minute(), dt.Value.Second(), dt.Value.Nanosecond(), dt.Value.Location())
	return Collection{Time{Value: tod, Precision: precision}}, true, nil
}
