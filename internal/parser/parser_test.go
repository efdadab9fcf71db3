package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) Node {
	t.Helper()
	node, err := Parse(src)
	require.NoError(t, err, src)
	return node
}

func TestParseLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want Node
	}{
		{"{}", EmptyLit{}},
		{"true", BooleanLit{Value: true}},
		{"false", BooleanLit{Value: false}},
		{"'abc'", StringLit{Value: "abc"}},
		{"42", NumberLit{Text: "42"}},
		{"3.14", NumberLit{Text: "3.14", Decimal: true}},
		{"42L", LongLit{Text: "42"}},
		{"@2020-01-15", DateLit{Text: "@2020-01-15"}},
		{"@2020-01-15T10:30", DateTimeLit{Text: "@2020-01-15T10:30"}},
		{"@T14:34", TimeLit{Text: "@T14:34"}},
		{"5 'mg'", QuantityLit{Value: "5", Unit: "mg"}},
		{"2 years", QuantityLit{Value: "2", Unit: "years", Calendar: true}},
		{"$this", This{}},
		{"$index", Index{}},
		{"$total", Total{}},
		{"%ucum", EnvVar{Name: "ucum"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mustParse(t, tt.src), tt.src)
	}
}

func TestParsePath(t *testing.T) {
	node := mustParse(t, "Patient.name.given")
	want := Path{
		Target: Path{
			Target: Ident{Name: "Patient"},
			Member: Ident{Name: "name"},
		},
		Member: Ident{Name: "given"},
	}
	assert.Equal(t, want, node)
}

func TestParseCallWithArguments(t *testing.T) {
	node := mustParse(t, "name.where(use = 'official')")
	want := Path{
		Target: Ident{Name: "name"},
		Member: Call{
			Name: "where",
			Args: []Argument{{
				Expr: Binary{
					Op:    "=",
					Left:  Ident{Name: "use"},
					Right: StringLit{Value: "official"},
				},
			}},
		},
	}
	assert.Equal(t, want, node)
}

func TestParseSortDirections(t *testing.T) {
	node := mustParse(t, "sort($this desc, $index asc)")
	want := Call{
		Name: "sort",
		Args: []Argument{
			{Expr: This{}, Dir: SortDesc},
			{Expr: Index{}, Dir: SortAsc},
		},
	}
	assert.Equal(t, want, node)
}

func TestParseIndexer(t *testing.T) {
	node := mustParse(t, "name[0]")
	want := Indexer{Target: Ident{Name: "name"}, Index: NumberLit{Text: "0"}}
	assert.Equal(t, want, node)
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want Node
	}{
		{
			"1 + 2 * 3",
			Binary{Op: "+", Left: NumberLit{Text: "1"}, Right: Binary{
				Op: "*", Left: NumberLit{Text: "2"}, Right: NumberLit{Text: "3"},
			}},
		},
		{
			"1 - 2 - 3",
			Binary{Op: "-", Left: Binary{
				Op: "-", Left: NumberLit{Text: "1"}, Right: NumberLit{Text: "2"},
			}, Right: NumberLit{Text: "3"}},
		},
		{
			"1 | 2 + 3",
			Union{Left: NumberLit{Text: "1"}, Right: Binary{
				Op: "+", Left: NumberLit{Text: "2"}, Right: NumberLit{Text: "3"},
			}},
		},
		{
			"a = b and c = d",
			Binary{Op: "and",
				Left:  Binary{Op: "=", Left: Ident{Name: "a"}, Right: Ident{Name: "b"}},
				Right: Binary{Op: "=", Left: Ident{Name: "c"}, Right: Ident{Name: "d"}},
			},
		},
		{
			"a or b implies c",
			Binary{Op: "implies",
				Left:  Binary{Op: "or", Left: Ident{Name: "a"}, Right: Ident{Name: "b"}},
				Right: Ident{Name: "c"},
			},
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mustParse(t, tt.src), tt.src)
	}
}

func TestParseGrouping(t *testing.T) {
	node := mustParse(t, "(1 + 2) * 3")
	want := Binary{Op: "*",
		Left: Group{Expr: Binary{
			Op: "+", Left: NumberLit{Text: "1"}, Right: NumberLit{Text: "2"},
		}},
		Right: NumberLit{Text: "3"},
	}
	assert.Equal(t, want, node)
}

func TestParseUnary(t *testing.T) {
	node := mustParse(t, "-1 + +2")
	want := Binary{Op: "+",
		Left:  Unary{Op: "-", Operand: NumberLit{Text: "1"}},
		Right: Unary{Op: "+", Operand: NumberLit{Text: "2"}},
	}
	assert.Equal(t, want, node)
}

func TestParseTypeOperators(t *testing.T) {
	tests := []struct {
		src  string
		want Node
	}{
		{"1 is Integer", TypeOp{Op: "is", Operand: NumberLit{Text: "1"}, Type: TypeSpec{Name: "Integer"}}},
		{"1 as System.Integer", TypeOp{Op: "as", Operand: NumberLit{Text: "1"}, Type: TypeSpec{Namespace: "System", Name: "Integer"}}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mustParse(t, tt.src), tt.src)
	}
}

func TestContextualOperatorWords(t *testing.T) {
	// Word operators stay usable as member and function names.
	node := mustParse(t, "name.contains('x')")
	want := Path{
		Target: Ident{Name: "name"},
		Member: Call{Name: "contains", Args: []Argument{{Expr: StringLit{Value: "x"}}}},
	}
	assert.Equal(t, want, node)

	binary := mustParse(t, "name contains 'x'")
	assert.Equal(t, Binary{
		Op:    "contains",
		Left:  Ident{Name: "name"},
		Right: StringLit{Value: "x"},
	}, binary)

	div := mustParse(t, "value.div(2)")
	assert.Equal(t, Path{
		Target: Ident{Name: "value"},
		Member: Call{Name: "div", Args: []Argument{{Expr: NumberLit{Text: "2"}}}},
	}, div)
}

func TestParseDelimitedIdent(t *testing.T) {
	node := mustParse(t, "`PID-1`.`given name`")
	want := Path{
		Target: Ident{Name: "PID-1", Delimited: true},
		Member: Ident{Name: "given name", Delimited: true},
	}
	assert.Equal(t, want, node)
}

func TestParseErrors(t *testing.T) {
	invalid := []string{
		"",
		"1 +",
		"(1",
		"a.",
		"a[1",
		"where(",
		"$unknown",
		"1 is",
		"{1}",
		"a = ",
	}
	for _, src := range invalid {
		_, err := Parse(src)
		require.Error(t, err, src)
	}
}

func TestRoundTrip(t *testing.T) {
	sources := []string{
		"name.where(use = 'official').family",
		"(1 + 2) * 3",
		"value is System.Integer",
		"2 years + 3 'mo'",
		"items.sort($this desc)",
		"$this.exists() and %ucum != 'x'",
		"@2020-01-15T10:30:00 < now()",
	}
	for _, src := range sources {
		node := mustParse(t, src)
		again := mustParse(t, node.String())
		assert.Equal(t, node, again, src)
	}
}
