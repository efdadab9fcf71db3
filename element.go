package fhirpath

import (
	"encoding/json"
	"fmt"
)

// Element is one item of a FHIRPath collection.
//
// The engine treats the host document as an opaque typed tree exposed
// through this navigation capability: resolve children by name, report a
// dynamic type tag, and convert to the system primitives where a
// conversion is defined. Implementations must be immutable or at least
// safe for concurrent reads, because collections are shared freely
// between evaluations.
//
// There is no null element. Absence is always represented by an empty
// collection.
type Element interface {
	// Children returns the child elements with the given names, in
	// document order. With no name, all children are returned. A name
	// that does not resolve on this element contributes nothing; it is
	// never an error.
	Children(name ...string) Collection

	// The To* conversions implement the FHIRPath conversion matrix.
	// explicit selects the wider set of conversions available to the
	// to*() functions; implicit conversions are the ones operators may
	// apply silently. ok=false with a nil error means "not convertible,
	// evaluate to empty"; a non-nil error means the conversion is
	// undefined for the type pair.
	ToBoolean(explicit bool) (v Boolean, ok bool, err error)
	ToString(explicit bool) (v String, ok bool, err error)
	ToInteger(explicit bool) (v Integer, ok bool, err error)
	ToLong(explicit bool) (v Long, ok bool, err error)
	ToDecimal(explicit bool) (v Decimal, ok bool, err error)
	ToDate(explicit bool) (v Date, ok bool, err error)
	ToTime(explicit bool) (v Time, ok bool, err error)
	ToDateTime(explicit bool) (v DateTime, ok bool, err error)
	ToQuantity(explicit bool) (v Quantity, ok bool, err error)

	// Equal implements the = operator for a single pair. ok=false means
	// the pair is not comparable and the comparison evaluates to empty.
	Equal(other Element) (eq bool, ok bool)
	// Equivalent implements the ~ operator; it is always defined.
	Equivalent(other Element) bool

	// TypeInfo reports the dynamic type tag used for polymorphic
	// property resolution and the is/as operators.
	TypeInfo() TypeInfo

	json.Marshaler
	fmt.Stringer
}

// cmpElement is implemented by elements with a defined ordering.
type cmpElement interface {
	Element
	// Cmp may report ok=false: comparing quantities with unrelated units
	// or temporals with mismatched precision evaluates to empty.
	Cmp(other Element) (cmp int, ok bool, err error)
}

// arithElement is implemented by elements supporting the arithmetic
// operators. Operations that a type does not support return an error;
// a nil result with nil error means the operation evaluates to empty
// (overflow, division by zero).
type multiplyElement interface {
	Element
	Multiply(ctx *evalCtx, other Element) (Element, error)
}

type divideElement interface {
	Element
	Divide(ctx *evalCtx, other Element) (Element, error)
}

type divElement interface {
	Element
	Div(ctx *evalCtx, other Element) (Element, error)
}

type modElement interface {
	Element
	Mod(ctx *evalCtx, other Element) (Element, error)
}

type addElement interface {
	Element
	Add(ctx *evalCtx, other Element) (Element, error)
}

type subtractElement interface {
	Element
	Subtract(ctx *evalCtx, other Element) (Element, error)
}

// elementTo converts an element to the requested system type using the
// conversion matrix.
func elementTo[T Element](e Element, explicit bool) (v T, ok bool, err error) {
	switch any(v).(type) {
	case Boolean:
		c, ok, err := e.ToBoolean(explicit)
		return any(c).(T), ok, err
	case String:
		c, ok, err := e.ToString(explicit)
		return any(c).(T), ok, err
	case Integer:
		c, ok, err := e.ToInteger(explicit)
		return any(c).(T), ok, err
	case Long:
		c, ok, err := e.ToLong(explicit)
		return any(c).(T), ok, err
	case Decimal:
		c, ok, err := e.ToDecimal(explicit)
		return any(c).(T), ok, err
	case Date:
		c, ok, err := e.ToDate(explicit)
		return any(c).(T), ok, err
	case Time:
		c, ok, err := e.ToTime(explicit)
		return any(c).(T), ok, err
	case DateTime:
		c, ok, err := e.ToDateTime(explicit)
		return any(c).(T), ok, err
	case Quantity:
		c, ok, err := e.ToQuantity(explicit)
		return any(c).(T), ok, err
	default:
		return v, false, evalErrorf(ErrTypeMismatch, "no conversion to %T", v)
	}
}

// toPrimitive unwraps a document node to the system primitive it
// represents, if any. Node adapters delegate their value semantics this
// way so operators see the underlying primitive.
func toPrimitive(e Element) (Element, bool) {
	if p, ok, err := e.ToBoolean(false); err == nil && ok {
		return p, true
	}
	if p, ok, err := e.ToString(false); err == nil && ok {
		return p, true
	}
	if p, ok, err := e.ToInteger(false); err == nil && ok {
		return p, true
	}
	if p, ok, err := e.ToLong(false); err == nil && ok {
		return p, true
	}
	if p, ok, err := e.ToDecimal(false); err == nil && ok {
		return p, true
	}
	if p, ok, err := e.ToDateTime(false); err == nil && ok {
		return p, true
	}
	if p, ok, err := e.ToDate(false); err == nil && ok {
		return p, true
	}
	if p, ok, err := e.ToTime(false); err == nil && ok {
		return p, true
	}
	if p, ok, err := e.ToQuantity(false); err == nil && ok {
		return p, true
	}
	return nil, false
}

// Singleton applies the singleton evaluation rule: an empty collection
// reports ok=false, a single convertible element converts, and more than
// one element is an ErrNotSingleton failure. A single element that is not
// convertible to Boolean still evaluates to true in boolean context, per
// the singleton rule.
func Singleton[T Element](c Collection) (v T, ok bool, err error) {
	switch len(c) {
	case 0:
		return v, false, nil
	case 1:
		// continue below
	default:
		return v, false, evalErrorf(ErrNotSingleton, "collection has %d items, expected at most one", len(c))
	}

	v, ok, err = elementTo[T](c[0], false)
	if _, wantBool := any(v).(Boolean); err != nil && wantBool {
		return any(Boolean(true)).(T), true, nil
	}
	return v, ok, err
}

// noChildren is embedded by the system primitives, which are leaves.
type noChildren struct{}

func (noChildren) Children(name ...string) Collection { return nil }

// defaultConversions supplies "undefined conversion" behavior for the
// conversions a type does not override.
type defaultConversions[F any] struct{}

func (defaultConversions[F]) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	return false, false, conversionError[F, Boolean]()
}
func (defaultConversions[F]) ToString(explicit bool) (v String, ok bool, err error) {
	return "", false, conversionError[F, String]()
}
func (defaultConversions[F]) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	return 0, false, conversionError[F, Integer]()
}
func (defaultConversions[F]) ToLong(explicit bool) (v Long, ok bool, err error) {
	return 0, false, conversionError[F, Long]()
}
func (defaultConversions[F]) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return Decimal{}, false, conversionError[F, Decimal]()
}
func (defaultConversions[F]) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[F, Date]()
}
func (defaultConversions[F]) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[F, Time]()
}
func (defaultConversions[F]) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[F, DateTime]()
}
func (defaultConversions[F]) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{}, false, conversionError[F, Quantity]()
}

func conversionError[F any, T Element]() error {
	var (
		f F
		t T
	)
	return evalErrorf(ErrTypeMismatch, "%T can not be converted to %T", f, t)
}

func implicitConversionError[F Element, T Element](f F) error {
	var t T
	return evalErrorf(ErrTypeMismatch, "%T %v can not be implicitly converted to %T", f, f, t)
}

func isStringish(e Element) bool {
	switch e.(type) {
	case String, *String:
		return true
	default:
		return false
	}
}

func canDelegateNumeric(e Element) bool {
	switch e.(type) {
	case Decimal, *Decimal, Quantity, *Quantity, String, *String, Long, *Long:
		return true
	default:
		return false
	}
}

func delegatesToDateTime(e Element) bool {
	switch e.(type) {
	case DateTime, *DateTime:
		return true
	default:
		return false
	}
}
