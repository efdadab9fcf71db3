package fhirpath

import (
	"fmt"
	"slices"
	"strings"
)

// Collection is the sole value representation of FHIRPath: an ordered,
// possibly empty sequence of typed elements. Order is significant and
// reflects document order or evaluation order.
type Collection []Element

// Equal implements the = operator over whole collections: element-wise,
// order-sensitive and type-aware. ok=false means the comparison evaluates
// to empty, which happens when either side is empty or an element pair is
// not comparable.
func (c Collection) Equal(other Collection) (eq bool, ok bool) {
	if len(c) == 0 || len(other) == 0 {
		return false, false
	}
	if len(c) != len(other) {
		return false, true
	}
	for i, e := range c {
		eq, ok := e.Equal(other[i])
		if !ok || !eq {
			return false, ok
		}
	}
	return true, true
}

// Equivalent implements the ~ operator. Unlike Equal it is always
// defined, ignores element order and treats two empty collections as
// equivalent.
func (c Collection) Equivalent(other Collection) bool {
	if len(c) == 0 && len(other) == 0 {
		return true
	}
	if len(c) != len(other) {
		return false
	}
outer:
	for _, e := range c {
		for _, o := range other {
			if e.Equivalent(o) {
				continue outer
			}
		}
		return false
	}
	return true
}

// Cmp orders two singleton collections. Empty on either side evaluates to
// empty (ok=false); more than one element on either side is a singleton
// violation.
func (c Collection) Cmp(other Collection) (cmp int, ok bool, err error) {
	if len(c) == 0 || len(other) == 0 {
		return 0, false, nil
	}
	if len(c) != 1 || len(other) != 1 {
		return 0, false, evalErrorf(ErrNotSingleton, "can not compare collections %v and %v", c, other)
	}

	left, ok := c[0].(cmpElement)
	if !ok {
		primitive, _ := toPrimitive(c[0])
		left, ok = primitive.(cmpElement)
	}
	if !ok {
		return 0, false, evalErrorf(ErrTypeMismatch,
			"only strings, numbers, quantities, dates, datetimes and times have an ordering, got %T", c[0])
	}
	return left.Cmp(other[0])
}

// Union concatenates both collections and eliminates duplicates by value
// equality, preserving first-seen order.
func (c Collection) Union(other Collection) Collection {
	if len(c) == 0 && len(other) == 0 {
		return nil
	}

	union := make(Collection, 0, len(c)+len(other))
	for _, e := range c {
		if !union.Contains(e) {
			union = append(union, e)
		}
	}
	for _, e := range other {
		if !union.Contains(e) {
			union = append(union, e)
		}
	}
	return union
}

// Combine concatenates both collections without eliminating duplicates.
func (c Collection) Combine(other Collection) Collection {
	if len(c) == 0 {
		return slices.Clone(other)
	}
	if len(other) == 0 {
		return slices.Clone(c)
	}
	combined := slices.Clone(c)
	return append(combined, other...)
}

// Contains reports whether the collection holds an element equal to the
// given one.
func (c Collection) Contains(element Element) bool {
	for _, e := range c {
		if eq, ok := e.Equal(element); ok && eq {
			return true
		}
	}
	return false
}

// binaryScalarOp factors the shared shape of the arithmetic collection
// operations: empty operands propagate to empty, multi-element operands
// violate the singleton rule, and the left element must support the
// operation, possibly after unwrapping a document node to its primitive.
func binaryScalarOp[T Element](c, other Collection, op string, apply func(left T, right Element) (Element, error)) (Collection, error) {
	if len(c) == 0 || len(other) == 0 {
		return nil, nil
	}
	if len(c) != 1 {
		return nil, fnErrorf(ErrNotSingleton, op, "left operand has %d items: %v", len(c), c)
	}
	if len(other) != 1 {
		return nil, fnErrorf(ErrNotSingleton, op, "right operand has %d items: %v", len(other), other)
	}

	left, ok := c[0].(T)
	if !ok {
		primitive, _ := toPrimitive(c[0])
		left, ok = primitive.(T)
	}
	if !ok {
		return nil, fnErrorf(ErrTypeMismatch, op, "operation not defined for %T", c[0])
	}

	res, err := apply(left, other[0])
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return Collection{res}, nil
}

func (c Collection) Multiply(ctx *evalCtx, other Collection) (Collection, error) {
	return binaryScalarOp(c, other, "*", func(left multiplyElement, right Element) (Element, error) {
		return left.Multiply(ctx, right)
	})
}

func (c Collection) Divide(ctx *evalCtx, other Collection) (Collection, error) {
	return binaryScalarOp(c, other, "/", func(left divideElement, right Element) (Element, error) {
		return left.Divide(ctx, right)
	})
}

func (c Collection) Div(ctx *evalCtx, other Collection) (Collection, error) {
	return binaryScalarOp(c, other, "div", func(left divElement, right Element) (Element, error) {
		return left.Div(ctx, right)
	})
}

func (c Collection) Mod(ctx *evalCtx, other Collection) (Collection, error) {
	return binaryScalarOp(c, other, "mod", func(left modElement, right Element) (Element, error) {
		return left.Mod(ctx, right)
	})
}

func (c Collection) Add(ctx *evalCtx, other Collection) (Collection, error) {
	return binaryScalarOp(c, other, "+", func(left addElement, right Element) (Element, error) {
		return left.Add(ctx, right)
	})
}

func (c Collection) Subtract(ctx *evalCtx, other Collection) (Collection, error) {
	return binaryScalarOp(c, other, "-", func(left subtractElement, right Element) (Element, error) {
		return left.Subtract(ctx, right)
	})
}

// Concat implements the & operator. Unlike +, an empty operand is
// treated as the empty string instead of propagating.
func (c Collection) Concat(other Collection) (Collection, error) {
	if len(c) > 1 {
		return nil, fnErrorf(ErrNotSingleton, "&", "left operand has %d items: %v", len(c), c)
	}
	if len(other) > 1 {
		return nil, fnErrorf(ErrNotSingleton, "&", "right operand has %d items: %v", len(other), other)
	}

	var left, right String
	if len(c) == 1 {
		s, ok, err := elementTo[String](c[0], false)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fnErrorf(ErrTypeMismatch, "&", "can only concatenate strings, got %T", c[0])
		}
		left = s
	}
	if len(other) == 1 {
		s, ok, err := elementTo[String](other[0], false)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fnErrorf(ErrTypeMismatch, "&", "can only concatenate strings, got %T", other[0])
		}
		right = s
	}
	return Collection{left + right}, nil
}

func (c Collection) String() string {
	if len(c) == 0 {
		return "{ }"
	}

	var b strings.Builder
	b.WriteString("{ ")
	for i, e := range c {
		if i > 0 {
			b.WriteString(", ")
		}
		_, _ = fmt.Fprint(&b, e)
	}
	b.WriteString(" }")
	return b.String()
}
