package jsonnode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probemed/fhirpath"
)

const patientJSON = `{
	"resourceType": "Patient",
	"id": "example",
	"active": true,
	"name": [
		{"use": "official", "family": "Chalmers", "given": ["Peter", "James"]},
		{"use": "usual", "given": ["Jim"]}
	],
	"birthDate": "1974-12-25",
	"deceasedBoolean": false,
	"multipleBirthInteger": 2,
	"_birthDate": {"extension": []}
}`

func parseNode(t *testing.T, doc string) Node {
	t.Helper()
	n, err := Parse([]byte(doc))
	require.NoError(t, err)
	return n
}

func TestParse(t *testing.T) {
	n := parseNode(t, patientJSON)
	info, ok := n.TypeInfo().(fhirpath.ClassInfo)
	require.True(t, ok)
	assert.Equal(t, "FHIR", info.Namespace)
	assert.Equal(t, "Patient", info.Name)
	assert.Equal(t, fhirpath.TypeSpecifier{Namespace: "FHIR", Name: "Resource"}, info.BaseType)

	_, err := Parse([]byte(`[1, 2]`))
	assert.Error(t, err)
	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestChildren(t *testing.T) {
	n := parseNode(t, patientJSON)

	id := n.Children("id")
	require.Len(t, id, 1)
	assert.Equal(t, "example", id[0].String())

	names := n.Children("name")
	assert.Len(t, names, 2)

	given := names[0].Children("given")
	require.Len(t, given, 2)
	assert.Equal(t, "Peter", given[0].String())
	assert.Equal(t, "James", given[1].String())

	assert.Empty(t, n.Children("missing"))
	// The type tag and primitive extensions are not elements.
	assert.Empty(t, n.Children("resourceType"))
	assert.Empty(t, n.Children("_birthDate"))
}

func TestChoiceElements(t *testing.T) {
	n := parseNode(t, patientJSON)

	deceased := n.Children("deceased")
	require.Len(t, deceased, 1)
	b, ok, err := deceased[0].ToBoolean(false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fhirpath.Boolean(false), b)

	multiple := n.Children("multipleBirth")
	require.Len(t, multiple, 1)
	info := multiple[0].TypeInfo().(fhirpath.SimpleTypeInfo)
	assert.Equal(t, "integer", info.Name)

	obs := parseNode(t, `{"resourceType": "Observation", "valueQuantity": {"value": 4.5, "unit": "kg", "code": "kg"}}`)
	value := obs.Children("value")
	require.Len(t, value, 1)
	class := value[0].TypeInfo().(fhirpath.ClassInfo)
	assert.Equal(t, "Quantity", class.Name)
}

func TestConversions(t *testing.T) {
	n := parseNode(t, patientJSON)

	active := n.Children("active")[0].(Node)
	b, ok, err := active.ToBoolean(false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fhirpath.Boolean(true), b)

	birthDate := n.Children("birthDate")[0].(Node)
	d, ok, err := birthDate.ToDate(false)
	require.NoError(t, err)
	require.True(t, ok)
	expected, err := fhirpath.ParseDate("1974-12-25")
	require.NoError(t, err)
	eq, defined := d.Equal(expected)
	assert.True(t, defined)
	assert.True(t, eq)

	num := parseNode(t, `{"v": 42}`).Children("v")[0].(Node)
	i, ok, err := num.ToInteger(false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fhirpath.Integer(42), i)

	dec := parseNode(t, `{"v": 4.5}`).Children("v")[0].(Node)
	_, ok, _ = dec.ToInteger(false)
	assert.False(t, ok)
	_, ok, err = dec.ToDecimal(false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestToQuantity(t *testing.T) {
	q := parseNode(t, `{"q": {"value": 4.5, "unit": "kilogram", "code": "kg"}}`).Children("q")[0].(Node)
	quantity, ok, err := q.ToQuantity(false)
	require.NoError(t, err)
	require.True(t, ok)
	// The UCUM code wins over the display unit.
	assert.Equal(t, fhirpath.String("kg"), quantity.Unit)

	bare := parseNode(t, `{"q": 7}`).Children("q")[0].(Node)
	quantity, ok, err = bare.ToQuantity(false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fhirpath.String("1"), quantity.Unit)
}

func TestEqual(t *testing.T) {
	n := parseNode(t, patientJSON)

	id := n.Children("id")[0]
	eq, ok := id.Equal(fhirpath.String("example"))
	assert.True(t, ok)
	assert.True(t, eq)

	left := parseNode(t, `{"a": 1, "b": "x"}`)
	right := parseNode(t, `{"b": "x", "a": 1}`)
	eq, ok = left.Equal(right)
	assert.True(t, ok)
	assert.True(t, eq)

	different := parseNode(t, `{"a": 2, "b": "x"}`)
	eq, _ = left.Equal(different)
	assert.False(t, eq)
}

func TestCmp(t *testing.T) {
	num := parseNode(t, `{"v": 5}`).Children("v")[0].(Node)
	c, ok, err := num.Cmp(fhirpath.Integer(3))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, c)

	obj := parseNode(t, `{"v": {"nested": true}}`).Children("v")[0].(Node)
	_, _, err = obj.Cmp(fhirpath.Integer(3))
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	n := parseNode(t, patientJSON)
	ctx := Context(context.Background(), n)

	tests := []struct {
		expr string
		want string
	}{
		{"Patient.name.given.count()", "{ 3 }"},
		{"name.where(use = 'official').family", "{ Chalmers }"},
		{"birthDate < today()", "{ true }"},
		{"deceased = false", "{ true }"},
		{"Patient.exists()", "{ true }"},
	}
	for _, tt := range tests {
		result, err := fhirpath.EvaluateString(ctx, n, tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, result.String(), tt.expr)
	}
}

func TestExtensionFunction(t *testing.T) {
	n := parseNode(t, `{
		"resourceType": "Patient",
		"extension": [
			{"url": "http://example.org/rank", "valueInteger": 2},
			{"url": "http://example.org/other", "valueString": "x"}
		]
	}`)
	ctx := Context(context.Background(), n)

	result, err := fhirpath.EvaluateString(ctx, n, "extension('http://example.org/rank').value")
	require.NoError(t, err)
	require.Len(t, result, 1)
	eq, ok := result[0].Equal(fhirpath.Integer(2))
	assert.True(t, ok)
	assert.True(t, eq)

	result, err = fhirpath.EvaluateString(ctx, n, "extension('http://example.org/missing')")
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestMarshalJSON(t *testing.T) {
	n := parseNode(t, `{"s": "a\"b", "i": 3}`)

	s, err := n.Children("s")[0].MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"a\"b"`, string(s))

	i, err := n.Children("i")[0].MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "3", string(i))
}
