package fhirpath_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cockroachdb/apd/v3"

	"github.com/probemed/fhirpath"
)

func mustEval(t *testing.T, expr string) fhirpath.Collection {
	t.Helper()
	result, err := fhirpath.EvaluateString(context.Background(), nil, expr)
	if err != nil {
		t.Fatalf("evaluating %q: %v", expr, err)
	}
	return result
}

func assertResult(t *testing.T, expr string, want fhirpath.Collection) {
	t.Helper()
	got := mustEval(t, expr)
	if len(want) == 0 {
		if len(got) != 0 {
			t.Errorf("%q: expected empty, got %s", expr, got)
		}
		return
	}
	if eq, ok := got.Equal(want); !ok || !eq {
		t.Errorf("%q:\nexpected: %s\nactual:   %s", expr, want, got)
	}
}

func assertKind(t *testing.T, expr string, kind fhirpath.ErrorKind) {
	t.Helper()
	_, err := fhirpath.EvaluateString(context.Background(), nil, expr)
	if err == nil {
		t.Fatalf("%q: expected error of kind %v", expr, kind)
	}
	if !errors.Is(err, &fhirpath.EvalError{Kind: kind}) {
		t.Errorf("%q: expected kind %v, got %v", expr, kind, err)
	}
}

func dec(s string) fhirpath.Decimal {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return fhirpath.Decimal{Value: d}
}

func TestLiterals(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"{}", nil},
		{"true", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"false", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"'hello'", fhirpath.Collection{fhirpath.String("hello")}},
		{"42", fhirpath.Collection{fhirpath.Integer(42)}},
		{"42L", fhirpath.Collection{fhirpath.Long(42)}},
		{"3.14", fhirpath.Collection{dec("3.14")}},
		{"5 'mg'", fhirpath.Collection{fhirpath.Quantity{Value: dec("5"), Unit: "mg"}}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestTemporalLiterals(t *testing.T) {
	d := mustEval(t, "@2015-02-04")
	want, err := fhirpath.ParseDate("2015-02-04")
	if err != nil {
		t.Fatal(err)
	}
	if eq, ok := d.Equal(fhirpath.Collection{want}); !ok || !eq {
		t.Errorf("expected %s, got %s", want, d)
	}

	assertResult(t, "@2015-02 = @2015-02", fhirpath.Collection{fhirpath.Boolean(true)})
	assertResult(t, "@T12:30 = @T12:30", fhirpath.Collection{fhirpath.Boolean(true)})
	assertResult(t, "@2015-02-04T14:30:00 = @2015-02-04T14:30:00", fhirpath.Collection{fhirpath.Boolean(true)})
}

func TestEmptyPropagation(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"{} + 1", nil},
		{"1 + {}", nil},
		{"{} = 1", nil},
		{"{} != 1", nil},
		{"{} < 1", nil},
		{"{}.empty()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"{}.exists()", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"{}.count()", fhirpath.Collection{fhirpath.Integer(0)}},
		{"{}.first()", nil},
		{"{}.not()", nil},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestThreeValuedLogic(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"true and true", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"true and false", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"true and {}", nil},
		{"false and {}", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"{} and {}", nil},
		{"true or {}", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"false or {}", nil},
		{"false or false", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"true xor false", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"true xor true", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"true xor {}", nil},
		{"false implies {}", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"true implies {}", nil},
		{"true implies false", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"{} implies true", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"true.not()", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"false.not()", fhirpath.Collection{fhirpath.Boolean(true)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"1 + 2", fhirpath.Collection{fhirpath.Integer(3)}},
		{"5 - 7", fhirpath.Collection{fhirpath.Integer(-2)}},
		{"2 * 3", fhirpath.Collection{fhirpath.Integer(6)}},
		{"5 / 2", fhirpath.Collection{dec("2.5")}},
		{"5 div 2", fhirpath.Collection{fhirpath.Integer(2)}},
		{"5 mod 2", fhirpath.Collection{fhirpath.Integer(1)}},
		{"1 + 2.5", fhirpath.Collection{dec("3.5")}},
		{"2.5 * 2", fhirpath.Collection{dec("5.0")}},
		{"1 / 0", nil},
		{"1 div 0", nil},
		{"1 mod 0", nil},
		{"'a' + 'b'", fhirpath.Collection{fhirpath.String("ab")}},
		{"'a' & 'b'", fhirpath.Collection{fhirpath.String("ab")}},
		{"'a' & {}", fhirpath.Collection{fhirpath.String("a")}},
		{"'a' + {}", nil},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestIntegerOverflow(t *testing.T) {
	assertResult(t, "(2147483647 + 1).empty()", fhirpath.Collection{fhirpath.Boolean(true)})
	assertResult(t, "(-2147483647 - 2).empty()", fhirpath.Collection{fhirpath.Boolean(true)})
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"1 < 2", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"2 <= 2", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"3 > 4", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"1.5 >= 1.5", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'abc' < 'abd'", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"@2018-01-01 < @2019-01-01", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(@2018-03 < @2018-03-15).empty()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1 = 1.0", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1 != 2", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1.0 ~ 1.00", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'ABC' ~ 'abc'", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1 !~ 2", fhirpath.Collection{fhirpath.Boolean(true)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestQuantities(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"4 'kg' = 4000 'g'", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1 'cm' < 1 'm'", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"2 'kg' + 2 'kg' = 4 'kg'", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(4 'kg').abs() = 4 'kg'", fhirpath.Collection{fhirpath.Boolean(true)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestCollectionOperators(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"(1 | 2 | 2).count()", fhirpath.Collection{fhirpath.Integer(2)}},
		{"(1 | 2).combine(2).count()", fhirpath.Collection{fhirpath.Integer(3)}},
		{"2 in (1 | 2)", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(1 | 2) contains 3", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"(1 | 2 | 3).intersect(2 | 3 | 4)", fhirpath.Collection{fhirpath.Integer(2), fhirpath.Integer(3)}},
		{"(1 | 2 | 3).exclude(2)", fhirpath.Collection{fhirpath.Integer(1), fhirpath.Integer(3)}},
		{"(1 | 2).subsetOf(1 | 2 | 3)", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(1 | 2 | 3).supersetOf(1 | 2)", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(1 | 2 | 1).distinct().count()", fhirpath.Collection{fhirpath.Integer(2)}},
		{"(1 | 2).isDistinct()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(1.combine(1)).isDistinct()", fhirpath.Collection{fhirpath.Boolean(false)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestIndexingAndSubsetting(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"(10 | 20 | 30)[1]", fhirpath.Collection{fhirpath.Integer(20)}},
		{"(10 | 20)[5]", nil},
		{"(10 | 20 | 30).first()", fhirpath.Collection{fhirpath.Integer(10)}},
		{"(10 | 20 | 30).last()", fhirpath.Collection{fhirpath.Integer(30)}},
		{"(10 | 20 | 30).tail()", fhirpath.Collection{fhirpath.Integer(20), fhirpath.Integer(30)}},
		{"(10 | 20 | 30).skip(2)", fhirpath.Collection{fhirpath.Integer(30)}},
		{"(10 | 20 | 30).take(2)", fhirpath.Collection{fhirpath.Integer(10), fhirpath.Integer(20)}},
		{"(10 | 20 | 30).skip(-1).count()", fhirpath.Collection{fhirpath.Integer(3)}},
		{"10.single()", fhirpath.Collection{fhirpath.Integer(10)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}

	assertKind(t, "(1 | 2).single()", fhirpath.ErrNotSingleton)
}

func TestLambdaFunctions(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"(1 | 2 | 3).where($this > 1).count()", fhirpath.Collection{fhirpath.Integer(2)}},
		{"(1 | 2 | 3).select($this * 2)", fhirpath.Collection{fhirpath.Integer(2), fhirpath.Integer(4), fhirpath.Integer(6)}},
		{"(1 | 2 | 3).all($this > 0)", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(1 | 2 | 3).all($this > 1)", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"(1 | 2 | 3).exists($this > 2)", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(1 | 2 | 3).aggregate($this + $total, 0)", fhirpath.Collection{fhirpath.Integer(6)}},
		{"(3 | 1 | 2).sort()", fhirpath.Collection{fhirpath.Integer(1), fhirpath.Integer(2), fhirpath.Integer(3)}},
		{"(1 | 2 | 3).select($index)", fhirpath.Collection{fhirpath.Integer(0), fhirpath.Integer(1), fhirpath.Integer(2)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestBooleanAggregates(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"(true | false).allTrue()", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"(true.combine(true)).allTrue()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(true | false).anyTrue()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(false.combine(false)).allFalse()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(true | false).anyFalse()", fhirpath.Collection{fhirpath.Boolean(true)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestIif(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"iif(true, 1, 2)", fhirpath.Collection{fhirpath.Integer(1)}},
		{"iif(false, 1, 2)", fhirpath.Collection{fhirpath.Integer(2)}},
		{"iif({}, 1, 2)", fhirpath.Collection{fhirpath.Integer(2)}},
		{"iif(false, 1)", nil},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestTypeOperators(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"1 is Integer", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1 is System.Integer", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"3.14 is Integer", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"1 as Integer", fhirpath.Collection{fhirpath.Integer(1)}},
		{"('a' as Integer).empty()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(1 | 'a').ofType(Integer)", fhirpath.Collection{fhirpath.Integer(1)}},
		{"1.is(Integer)", fhirpath.Collection{fhirpath.Boolean(true)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestConversionFunctions(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"'42'.toInteger()", fhirpath.Collection{fhirpath.Integer(42)}},
		{"'abc'.toInteger().empty()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'1.5'.toDecimal()", fhirpath.Collection{dec("1.5")}},
		{"1.toString()", fhirpath.Collection{fhirpath.String("1")}},
		{"'true'.toBoolean()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'42'.convertsToInteger()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'abc'.convertsToInteger()", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"{}.convertsToInteger()", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"1.convertsToQuantity()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1.toQuantity('kg') = 1 'kg'", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'2015-02-04'.toDate() = @2015-02-04", fhirpath.Collection{fhirpath.Boolean(true)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestStringFunctions(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"'abcdefg'.indexOf('cd')", fhirpath.Collection{fhirpath.Integer(2)}},
		{"'abcdefg'.indexOf('x')", fhirpath.Collection{fhirpath.Integer(-1)}},
		{"'abcabc'.lastIndexOf('b')", fhirpath.Collection{fhirpath.Integer(4)}},
		{"'abcdefg'.substring(3)", fhirpath.Collection{fhirpath.String("defg")}},
		{"'abcdefg'.substring(3, 2)", fhirpath.Collection{fhirpath.String("de")}},
		{"'abcdefg'.substring(9).empty()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'abc'.startsWith('ab')", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'abc'.endsWith('bc')", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'abc'.contains('b')", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'abc'.upper()", fhirpath.Collection{fhirpath.String("ABC")}},
		{"'ABC'.lower()", fhirpath.Collection{fhirpath.String("abc")}},
		{"'abcabc'.replace('b', 'x')", fhirpath.Collection{fhirpath.String("axcaxc")}},
		{"'hello'.matches('ell')", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'hello'.matchesFull('ell')", fhirpath.Collection{fhirpath.Boolean(false)}},
		{"'hello'.matchesFull('hello')", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"'abc'.replaceMatches('b+', 'x')", fhirpath.Collection{fhirpath.String("axc")}},
		{"'abc'.length()", fhirpath.Collection{fhirpath.Integer(3)}},
		{"'ab'.toChars()", fhirpath.Collection{fhirpath.String("a"), fhirpath.String("b")}},
		{"'  a  '.trim()", fhirpath.Collection{fhirpath.String("a")}},
		{"'a,b,c'.split(',')", fhirpath.Collection{fhirpath.String("a"), fhirpath.String("b"), fhirpath.String("c")}},
		{"('a' | 'b').join('-')", fhirpath.Collection{fhirpath.String("a-b")}},
		{"'abc'.encode('base64')", fhirpath.Collection{fhirpath.String("YWJj")}},
		{"'YWJj'.decode('base64')", fhirpath.Collection{fhirpath.String("abc")}},
		{"'abc'.encode('hex')", fhirpath.Collection{fhirpath.String("616263")}},
		{"'<a>'.escape('html')", fhirpath.Collection{fhirpath.String("&lt;a&gt;")}},
		{"'&lt;a&gt;'.unescape('html')", fhirpath.Collection{fhirpath.String("<a>")}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestMathFunctions(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"(-5).abs()", fhirpath.Collection{fhirpath.Integer(5)}},
		{"(-1.5).abs() = 1.5", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1.1.ceiling()", fhirpath.Collection{fhirpath.Integer(2)}},
		{"(-1.1).floor()", fhirpath.Collection{fhirpath.Integer(-2)}},
		{"(-1.5).truncate()", fhirpath.Collection{fhirpath.Integer(-1)}},
		{"3.14159.round(2) = 3.14", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"16.sqrt() = 4.0", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(-1).sqrt().empty()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"2.power(3)", fhirpath.Collection{fhirpath.Integer(8)}},
		{"0.exp() = 1", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1.ln() = 0", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"(-1).ln().empty()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"100.log(10) = 2", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1.58700.precision()", fhirpath.Collection{fhirpath.Integer(5)}},
		{"@2014.precision()", fhirpath.Collection{fhirpath.Integer(4)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestBoundaries(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"1.587.lowBoundary(8) = 1.58650000", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1.587.highBoundary(8) = 1.58750000", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"1.587.lowBoundary(-1).empty()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"@2018.lowBoundary() = @2018-01-01", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"@2018.highBoundary() = @2018-12-31", fhirpath.Collection{fhirpath.Boolean(true)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestTemporalArithmeticAndComponents(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"@2018-03-01 + 1 month = @2018-04-01", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"@2019-01-01 - 1 day = @2018-12-31", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"@2019-07-04.yearOf()", fhirpath.Collection{fhirpath.Integer(2019)}},
		{"@2019-07-04.monthOf()", fhirpath.Collection{fhirpath.Integer(7)}},
		{"@2019-07-04.dayOf()", fhirpath.Collection{fhirpath.Integer(4)}},
		{"@T14:30.hourOf()", fhirpath.Collection{fhirpath.Integer(14)}},
		{"@T14:30.minuteOf()", fhirpath.Collection{fhirpath.Integer(30)}},
		{"@2019-07-04T10:00:00.dateOf() = @2019-07-04", fhirpath.Collection{fhirpath.Boolean(true)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestDurationAndDifference(t *testing.T) {
	tests := []struct {
		expr string
		want fhirpath.Collection
	}{
		{"@2020-03-15.duration(@2021-03-14, 'year')", fhirpath.Collection{fhirpath.Integer(0)}},
		{"@2020-03-15.duration(@2021-03-15, 'year')", fhirpath.Collection{fhirpath.Integer(1)}},
		{"@2020-03-15.difference(@2021-03-14, 'year')", fhirpath.Collection{fhirpath.Integer(1)}},
		{"@2020-01-31.duration(@2020-03-01, 'month')", fhirpath.Collection{fhirpath.Integer(1)}},
		{"@2020-01-01.duration(@2020-01-08, 'day')", fhirpath.Collection{fhirpath.Integer(7)}},
		{"(@2020-03.duration(@2021-03-14, 'day')).empty()", fhirpath.Collection{fhirpath.Boolean(true)}},
		{"@T10:00.duration(@T12:30, 'hour')", fhirpath.Collection{fhirpath.Integer(2)}},
	}
	for _, tt := range tests {
		assertResult(t, tt.expr, tt.want)
	}
}

func TestEvaluationInstantIsPinned(t *testing.T) {
	assertResult(t, "now() = now()", fhirpath.Collection{fhirpath.Boolean(true)})
	assertResult(t, "today() = today()", fhirpath.Collection{fhirpath.Boolean(true)})
	assertResult(t, "now().exists()", fhirpath.Collection{fhirpath.Boolean(true)})
	assertResult(t, "timeOfDay().exists()", fhirpath.Collection{fhirpath.Boolean(true)})
}

func TestEnvironmentVariables(t *testing.T) {
	ctx := fhirpath.WithEnv(context.Background(), "x", fhirpath.Collection{fhirpath.Integer(5)})
	result, err := fhirpath.EvaluateString(ctx, nil, "%x + 1")
	if err != nil {
		t.Fatal(err)
	}
	assertCollection(t, result, fhirpath.Collection{fhirpath.Integer(6)})

	result, err = fhirpath.EvaluateString(context.Background(), nil, "%ucum")
	if err != nil {
		t.Fatal(err)
	}
	assertCollection(t, result, fhirpath.Collection{fhirpath.String("http://unitsofmeasure.org")})

	_, err = fhirpath.EvaluateString(context.Background(), nil, "%nope")
	if !errors.Is(err, &fhirpath.EvalError{Kind: fhirpath.ErrUndefinedVariable}) {
		t.Errorf("expected undefined variable error, got %v", err)
	}
}

func TestContextVariable(t *testing.T) {
	result, err := fhirpath.EvaluateString(context.Background(), fhirpath.String("x"), "%context")
	if err != nil {
		t.Fatal(err)
	}
	assertCollection(t, result, fhirpath.Collection{fhirpath.String("x")})
}

func TestDefineVariable(t *testing.T) {
	result, err := fhirpath.EvaluateString(context.Background(), fhirpath.String("a"),
		"defineVariable('v', 2).select(%v + 1)")
	if err != nil {
		t.Fatal(err)
	}
	assertCollection(t, result, fhirpath.Collection{fhirpath.Integer(3)})
}

func TestTrace(t *testing.T) {
	var traced []string
	ctx := fhirpath.WithTracer(context.Background(), recordingTracer{names: &traced})
	result, err := fhirpath.EvaluateString(ctx, nil, "(1 | 2).trace('items').count()")
	if err != nil {
		t.Fatal(err)
	}
	assertCollection(t, result, fhirpath.Collection{fhirpath.Integer(2)})
	if len(traced) != 1 || traced[0] != "items" {
		t.Errorf("expected one trace named items, got %v", traced)
	}
}

type recordingTracer struct {
	names *[]string
}

func (r recordingTracer) Log(name string, collection fhirpath.Collection) error {
	*r.names = append(*r.names, name)
	return nil
}

func TestCustomFunctions(t *testing.T) {
	ctx := fhirpath.WithFunctions(context.Background(), fhirpath.Functions{
		"double": func(ctx context.Context, root fhirpath.Element, target fhirpath.Collection, inputOrdered bool, parameters []fhirpath.Expression, evaluate fhirpath.EvaluateFunc) (fhirpath.Collection, bool, error) {
			var result fhirpath.Collection
			for _, e := range target {
				i, ok, err := fhirpath.Singleton[fhirpath.Integer](fhirpath.Collection{e})
				if err != nil || !ok {
					return nil, false, err
				}
				result = append(result, i*2)
			}
			return result, inputOrdered, nil
		},
	})
	result, err := fhirpath.EvaluateString(ctx, nil, "(1 | 2).double()")
	if err != nil {
		t.Fatal(err)
	}
	assertCollection(t, result, fhirpath.Collection{fhirpath.Integer(2), fhirpath.Integer(4)})
}

func TestErrors(t *testing.T) {
	assertKind(t, "(1 | 2) + 1", fhirpath.ErrNotSingleton)
	assertKind(t, "1.frobnicate()", fhirpath.ErrUnknownFunction)
	assertKind(t, "1.abs(2)", fhirpath.ErrArityMismatch)
	assertKind(t, "1 + 'a'", fhirpath.ErrTypeMismatch)
	assertKind(t, "$this", fhirpath.ErrUndefinedVariable)
}

func TestMaxDepth(t *testing.T) {
	ctx := fhirpath.WithMaxDepth(context.Background(), 2)
	_, err := fhirpath.EvaluateString(ctx, nil, "(1 + 2) * (3 - 4) + 5")
	if !errors.Is(err, &fhirpath.EvalError{Kind: fhirpath.ErrRecursionLimit}) {
		t.Errorf("expected recursion limit error, got %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	invalid := []string{
		"",
		"1 +",
		"'unterminated",
		"where(",
		"@20x5",
	}
	for _, src := range invalid {
		if _, err := fhirpath.Parse(src); err == nil {
			t.Errorf("expected parse error for %q", src)
		}
	}
}

func TestExpressionString(t *testing.T) {
	expr := fhirpath.MustParse("name.where(use = 'official').family")
	if expr.String() == "" {
		t.Error("expected non-empty canonical form")
	}
	reparsed, err := fhirpath.Parse(expr.String())
	if err != nil {
		t.Fatalf("canonical form %q does not reparse: %v", expr.String(), err)
	}
	if reparsed.String() != expr.String() {
		t.Errorf("canonical form is not stable: %q vs %q", expr.String(), reparsed.String())
	}
}

func assertCollection(t *testing.T, got, want fhirpath.Collection) {
	t.Helper()
	if eq, ok := got.Equal(want); !ok || !eq {
		t.Errorf("expected %s, got %s", want, got)
	}
}
