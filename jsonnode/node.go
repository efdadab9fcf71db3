// Package jsonnode adapts raw FHIR JSON documents to the fhirpath
// element model.
//
// Nodes navigate the JSON tree lazily with jsonparser instead of
// deserializing into typed structs, so evaluating a path against a
// large resource touches only the properties the expression names. The
// dynamic type tag comes from the resourceType property and from
// choice-element suffixes (valueQuantity carries a Quantity).
package jsonnode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/buger/jsonparser"
	"github.com/cockroachdb/apd/v3"
	"github.com/iancoleman/strcase"

	"github.com/probemed/fhirpath"
)

// Node is one JSON value of a FHIR document. The zero Node is invalid;
// use Parse. Nodes are immutable views into the parsed document and
// safe for concurrent reads.
type Node struct {
	raw  []byte
	kind jsonparser.ValueType
	// typeName is the FHIR type tag: the resourceType for resources,
	// the choice-element suffix for choice children, empty otherwise.
	typeName string
}

// Parse wraps a JSON document. The document must be a JSON object; the
// resourceType property, when present, becomes the node's type tag.
func Parse(data []byte) (Node, error) {
	value, kind, _, err := jsonparser.Get(data)
	if err != nil {
		return Node{}, fmt.Errorf("parse document: %w", err)
	}
	if kind != jsonparser.Object {
		return Node{}, fmt.Errorf("parse document: expected JSON object, got %s", kind)
	}
	n := Node{raw: value, kind: kind}
	if resourceType, err := jsonparser.GetString(value, "resourceType"); err == nil {
		n.typeName = resourceType
	}
	return n, nil
}

// Context prepares an evaluation context for expressions over n:
// the FHIR namespace becomes the default for unqualified type names and
// the node's own type is registered so a leading type identifier
// (e.g. Patient.name) resolves.
func Context(ctx context.Context, n Node) context.Context {
	ctx = fhirpath.WithNamespace(ctx, "FHIR")
	return fhirpath.WithTypes(ctx, []fhirpath.TypeInfo{n.TypeInfo()})
}

// Children implements fhirpath.Element. Only object nodes have named
// children. A requested name also matches choice elements by prefix:
// asking for "value" finds "valueQuantity", and the matched child
// carries the suffix as its type tag.
func (n Node) Children(name ...string) fhirpath.Collection {
	if n.kind != jsonparser.Object {
		return nil
	}

	var children fhirpath.Collection
	_ = jsonparser.ObjectEach(n.raw, func(key, value []byte, kind jsonparser.ValueType, _ int) error {
		k := string(key)
		// resourceType is the type tag, not an element; underscore
		// properties hold primitive extensions which have no value.
		if k == "resourceType" || strings.HasPrefix(k, "_") {
			return nil
		}

		if len(name) == 0 {
			children = appendValue(children, value, kind, "")
			return nil
		}
		for _, want := range name {
			want = strcase.ToLowerCamel(want)
			if k == want {
				children = appendValue(children, value, kind, "")
				return nil
			}
			if suffix, ok := choiceSuffix(k, want); ok {
				children = appendValue(children, value, kind, suffix)
				return nil
			}
		}
		return nil
	})
	return children
}

// choiceSuffix reports whether key is a choice-element spelling of the
// requested property, e.g. key "valueQuantity" for want "value", and
// returns the type suffix.
func choiceSuffix(key, want string) (string, bool) {
	if !strings.HasPrefix(key, want) || len(key) == len(want) {
		return "", false
	}
	r, _ := utf8.DecodeRuneInString(key[len(want):])
	if !unicode.IsUpper(r) {
		return "", false
	}
	return key[len(want):], true
}

// appendValue appends a JSON value to a collection, flattening arrays
// into their items.
func appendValue(c fhirpath.Collection, value []byte, kind jsonparser.ValueType, typeName string) fhirpath.Collection {
	switch kind {
	case jsonparser.Null, jsonparser.NotExist:
		return c
	case jsonparser.Array:
		_, _ = jsonparser.ArrayEach(value, func(item []byte, itemKind jsonparser.ValueType, _ int, _ error) {
			c = appendValue(c, item, itemKind, typeName)
		})
		return c
	case jsonparser.Object:
		n := Node{raw: value, kind: kind, typeName: typeName}
		if resourceType, err := jsonparser.GetString(value, "resourceType"); err == nil {
			n.typeName = resourceType
		}
		return append(c, n)
	default:
		if typeName != "" {
			// FHIR primitive type names are lower camel (valueString
			// holds a string).
			typeName = strcase.ToLowerCamel(typeName)
		}
		return append(c, Node{raw: value, kind: kind, typeName: typeName})
	}
}

func (n Node) ToBoolean(explicit bool) (fhirpath.Boolean, bool, error) {
	switch n.kind {
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(n.raw)
		if err != nil {
			return false, false, nil
		}
		return fhirpath.Boolean(b), true, nil
	case jsonparser.String:
		if !explicit {
			return false, false, nil
		}
		s, err := jsonparser.ParseString(n.raw)
		if err != nil {
			return false, false, nil
		}
		return fhirpath.String(s).ToBoolean(explicit)
	}
	return false, false, nil
}

func (n Node) ToString(explicit bool) (fhirpath.String, bool, error) {
	switch n.kind {
	case jsonparser.String:
		s, err := jsonparser.ParseString(n.raw)
		if err != nil {
			return "", false, nil
		}
		return fhirpath.String(s), true, nil
	case jsonparser.Number, jsonparser.Boolean:
		if !explicit {
			return "", false, nil
		}
		return fhirpath.String(n.raw), true, nil
	}
	return "", false, nil
}

func (n Node) ToInteger(explicit bool) (fhirpath.Integer, bool, error) {
	if n.kind != jsonparser.Number {
		if explicit && n.kind == jsonparser.String {
			if s, err := jsonparser.ParseString(n.raw); err == nil {
				return fhirpath.String(s).ToInteger(explicit)
			}
		}
		return 0, false, nil
	}
	i, err := strconv.ParseInt(string(n.raw), 10, 32)
	if err != nil {
		return 0, false, nil
	}
	return fhirpath.Integer(i), true, nil
}

func (n Node) ToLong(explicit bool) (fhirpath.Long, bool, error) {
	if n.kind != jsonparser.Number {
		return 0, false, nil
	}
	l, err := strconv.ParseInt(string(n.raw), 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return fhirpath.Long(l), true, nil
}

func (n Node) ToDecimal(explicit bool) (fhirpath.Decimal, bool, error) {
	var text string
	switch n.kind {
	case jsonparser.Number:
		text = string(n.raw)
	case jsonparser.String:
		if !explicit {
			return fhirpath.Decimal{}, false, nil
		}
		s, err := jsonparser.ParseString(n.raw)
		if err != nil {
			return fhirpath.Decimal{}, false, nil
		}
		text = s
	default:
		return fhirpath.Decimal{}, false, nil
	}
	d, _, err := apd.NewFromString(text)
	if err != nil {
		return fhirpath.Decimal{}, false, nil
	}
	return fhirpath.Decimal{Value: d}, true, nil
}

func (n Node) ToDate(explicit bool) (fhirpath.Date, bool, error) {
	s, ok, _ := n.ToString(false)
	if !ok {
		return fhirpath.Date{}, false, nil
	}
	d, err := fhirpath.ParseDate(string(s))
	if err != nil {
		return fhirpath.Date{}, false, nil
	}
	return d, true, nil
}

func (n Node) ToTime(explicit bool) (fhirpath.Time, bool, error) {
	s, ok, _ := n.ToString(false)
	if !ok {
		return fhirpath.Time{}, false, nil
	}
	t, err := fhirpath.ParseTime(string(s))
	if err != nil {
		return fhirpath.Time{}, false, nil
	}
	return t, true, nil
}

func (n Node) ToDateTime(explicit bool) (fhirpath.DateTime, bool, error) {
	s, ok, _ := n.ToString(false)
	if !ok {
		return fhirpath.DateTime{}, false, nil
	}
	dt, err := fhirpath.ParseDateTime(string(s))
	if err != nil {
		return fhirpath.DateTime{}, false, nil
	}
	return dt, true, nil
}

// ToQuantity converts a FHIR Quantity object ({value, unit, code}) or a
// bare number into a system quantity. The UCUM code wins over the
// display unit.
func (n Node) ToQuantity(explicit bool) (fhirpath.Quantity, bool, error) {
	if n.kind == jsonparser.Number {
		d, ok, err := n.ToDecimal(explicit)
		if err != nil || !ok {
			return fhirpath.Quantity{}, false, err
		}
		return fhirpath.Quantity{Value: d, Unit: "1"}, true, nil
	}
	if n.kind != jsonparser.Object {
		return fhirpath.Quantity{}, false, nil
	}

	value, kind, _, err := jsonparser.Get(n.raw, "value")
	if err != nil || kind != jsonparser.Number {
		return fhirpath.Quantity{}, false, nil
	}
	d, _, err := apd.NewFromString(string(value))
	if err != nil {
		return fhirpath.Quantity{}, false, nil
	}

	unit := "1"
	if code, err := jsonparser.GetString(n.raw, "code"); err == nil {
		unit = code
	} else if u, err := jsonparser.GetString(n.raw, "unit"); err == nil {
		unit = u
	}
	return fhirpath.Quantity{Value: fhirpath.Decimal{Value: d}, Unit: fhirpath.String(unit)}, true, nil
}

// primitive unwraps a scalar node to its system value.
func (n Node) primitive() (fhirpath.Element, bool) {
	switch n.kind {
	case jsonparser.Boolean:
		if b, ok, _ := n.ToBoolean(false); ok {
			return b, true
		}
	case jsonparser.String:
		if s, ok, _ := n.ToString(false); ok {
			return s, true
		}
	case jsonparser.Number:
		if i, ok, _ := n.ToInteger(false); ok {
			return i, true
		}
		if d, ok, _ := n.ToDecimal(false); ok {
			return d, true
		}
	}
	return nil, false
}

// Equal implements FHIRPath equality: scalar nodes compare as their
// system values (with date and time coercion against temporal
// operands), object nodes compare structurally.
func (n Node) Equal(other fhirpath.Element) (bool, bool) {
	switch other.(type) {
	case fhirpath.Date:
		if d, ok, _ := n.ToDate(false); ok {
			return d.Equal(other)
		}
	case fhirpath.DateTime:
		if dt, ok, _ := n.ToDateTime(false); ok {
			return dt.Equal(other)
		}
	case fhirpath.Time:
		if t, ok, _ := n.ToTime(false); ok {
			return t.Equal(other)
		}
	case fhirpath.Quantity:
		if q, ok, _ := n.ToQuantity(false); ok {
			return q.Equal(other)
		}
	}

	if p, ok := n.primitive(); ok {
		return p.Equal(other)
	}

	o, ok := other.(Node)
	if !ok {
		return false, true
	}
	return n.structuralEqual(o), true
}

// structuralEqual compares two object nodes property by property.
func (n Node) structuralEqual(o Node) bool {
	if n.kind != o.kind {
		return false
	}
	if n.kind != jsonparser.Object {
		np, nok := n.primitive()
		op, ook := o.primitive()
		if !nok || !ook {
			return false
		}
		eq, ok := np.Equal(op)
		return eq && ok
	}

	names := n.propertyNames()
	otherNames := o.propertyNames()
	if len(names) != len(otherNames) {
		return false
	}
	for _, name := range names {
		left := n.Children(name)
		right := o.Children(name)
		if len(left) != len(right) {
			return false
		}
		for i := range left {
			eq, ok := left[i].Equal(right[i])
			if !eq || !ok {
				return false
			}
		}
	}
	return true
}

func (n Node) propertyNames() []string {
	var names []string
	_ = jsonparser.ObjectEach(n.raw, func(key, _ []byte, _ jsonparser.ValueType, _ int) error {
		k := string(key)
		if k != "resourceType" && !strings.HasPrefix(k, "_") {
			names = append(names, k)
		}
		return nil
	})
	return names
}

// Equivalent mirrors Equal with the looser string and decimal
// equivalence semantics of the system types.
func (n Node) Equivalent(other fhirpath.Element) bool {
	if p, ok := n.primitive(); ok {
		return p.Equivalent(other)
	}
	o, ok := other.(Node)
	if !ok {
		return false
	}
	return n.structuralEqual(o)
}

// Cmp delegates ordering to the system value of the node, coercing
// against temporal and quantity operands the way Equal does.
func (n Node) Cmp(other fhirpath.Element) (int, bool, error) {
	type cmpElement interface {
		Cmp(other fhirpath.Element) (int, bool, error)
	}

	switch other.(type) {
	case fhirpath.Date:
		if d, ok, _ := n.ToDate(false); ok {
			return d.Cmp(other)
		}
	case fhirpath.DateTime:
		if dt, ok, _ := n.ToDateTime(false); ok {
			return dt.Cmp(other)
		}
	case fhirpath.Time:
		if t, ok, _ := n.ToTime(false); ok {
			return t.Cmp(other)
		}
	case fhirpath.Quantity:
		if q, ok, _ := n.ToQuantity(false); ok {
			return q.Cmp(other)
		}
	}

	p, ok := n.primitive()
	if !ok {
		return 0, false, fmt.Errorf("can not compare JSON %s node", n.kind)
	}
	c, ok := p.(cmpElement)
	if !ok {
		return 0, false, fmt.Errorf("can not compare %T", p)
	}
	return c.Cmp(other)
}

// TypeInfo reports the FHIR type tag. Objects without a known tag are
// plain elements; scalars report the FHIR primitive matching their
// JSON kind.
func (n Node) TypeInfo() fhirpath.TypeInfo {
	if n.kind == jsonparser.Object {
		name := n.typeName
		base := fhirpath.TypeSpecifier{Namespace: "FHIR", Name: "Element"}
		if name == "" {
			name = "Element"
			base = fhirpath.TypeSpecifier{Namespace: "System", Name: "Any"}
		} else if n.isResource() {
			base = fhirpath.TypeSpecifier{Namespace: "FHIR", Name: "Resource"}
		}
		return fhirpath.ClassInfo{
			Namespace: "FHIR",
			Name:      name,
			BaseType:  base,
		}
	}

	name := n.typeName
	if name == "" {
		switch n.kind {
		case jsonparser.Boolean:
			name = "boolean"
		case jsonparser.Number:
			if _, ok, _ := n.ToInteger(false); ok {
				name = "integer"
			} else {
				name = "decimal"
			}
		default:
			name = "string"
		}
	}
	return fhirpath.SimpleTypeInfo{
		Namespace: "FHIR",
		Name:      name,
		BaseType:  fhirpath.TypeSpecifier{Namespace: "System", Name: "Any"},
	}
}

func (n Node) isResource() bool {
	_, err := jsonparser.GetString(n.raw, "resourceType")
	return err == nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	switch n.kind {
	case jsonparser.String:
		// raw holds the unquoted but still escaped text.
		return []byte(`"` + string(n.raw) + `"`), nil
	default:
		return n.raw, nil
	}
}

func (n Node) String() string {
	if n.kind == jsonparser.String {
		if s, err := jsonparser.ParseString(n.raw); err == nil {
			return s
		}
	}
	return string(n.raw)
}
