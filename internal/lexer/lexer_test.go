package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kindsAndTexts(t *testing.T, src string) ([]Kind, []string) {
	t.Helper()
	tokens, err := Tokenize(src)
	require.NoError(t, err)
	var kinds []Kind
	var texts []string
	for _, tok := range tokens {
		if tok.Kind == EOF {
			break
		}
		kinds = append(kinds, tok.Kind)
		texts = append(texts, tok.Text)
	}
	return kinds, texts
}

func TestTokenizeExpression(t *testing.T) {
	kinds, texts := kindsAndTexts(t, "name.where(use = 'official')")
	assert.Equal(t, []Kind{Ident, Symbol, Ident, Symbol, Ident, Symbol, Str, Symbol}, kinds)
	assert.Equal(t, []string{"name", ".", "where", "(", "use", "=", "official", ")"}, texts)
}

func TestTokenizeNumbers(t *testing.T) {
	kinds, texts := kindsAndTexts(t, "42 3.14 42L")
	assert.Equal(t, []Kind{Number, Number, LongNumber}, kinds)
	assert.Equal(t, []string{"42", "3.14", "42"}, texts)
}

func TestNumberFollowedByInvocation(t *testing.T) {
	kinds, texts := kindsAndTexts(t, "1.58700.precision()")
	assert.Equal(t, []Kind{Number, Symbol, Ident, Symbol, Symbol}, kinds)
	assert.Equal(t, "1.58700", texts[0])
}

func TestTokenizeTemporals(t *testing.T) {
	tests := []struct {
		src  string
		kind Kind
		text string
	}{
		{"@2020", Date, "@2020"},
		{"@2020-01", Date, "@2020-01"},
		{"@2020-01-15", Date, "@2020-01-15"},
		{"@2020-01-15T10:30:00", DateTime, "@2020-01-15T10:30:00"},
		{"@2020-01-15T10:30:00.123+02:00", DateTime, "@2020-01-15T10:30:00.123+02:00"},
		{"@T14:34:28", Time, "@T14:34:28"},
	}
	for _, tt := range tests {
		tokens, err := Tokenize(tt.src)
		require.NoError(t, err, tt.src)
		require.Len(t, tokens, 2)
		assert.Equal(t, tt.kind, tokens[0].Kind, tt.src)
		assert.Equal(t, tt.text, tokens[0].Text, tt.src)
	}
}

func TestTemporalFollowedByInvocation(t *testing.T) {
	kinds, texts := kindsAndTexts(t, "@T14:30.hourOf()")
	assert.Equal(t, []Kind{Time, Symbol, Ident, Symbol, Symbol}, kinds)
	assert.Equal(t, "@T14:30", texts[0])

	kinds, texts = kindsAndTexts(t, "@2014.precision()")
	assert.Equal(t, []Kind{Date, Symbol, Ident, Symbol, Symbol}, kinds)
	assert.Equal(t, "@2014", texts[0])
}

func TestTemporalPlusQuantity(t *testing.T) {
	kinds, _ := kindsAndTexts(t, "@T10 + 2")
	assert.Equal(t, []Kind{Time, Symbol, Number}, kinds)
}

func TestTokenizeStringEscapes(t *testing.T) {
	tokens, err := Tokenize(`'a\nb\tA\''`)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\tA'", tokens[0].Text)
}

func TestTokenizeDelimitedIdent(t *testing.T) {
	tokens, err := Tokenize("`strange name`")
	require.NoError(t, err)
	assert.Equal(t, DelimitedIdent, tokens[0].Kind)
	assert.Equal(t, "strange name", tokens[0].Text)
}

func TestTokenizeVariables(t *testing.T) {
	kinds, texts := kindsAndTexts(t, "$this %ucum %`vs-name`")
	assert.Equal(t, []Kind{Var, EnvVar, EnvVar}, kinds)
	assert.Equal(t, []string{"this", "ucum", "vs-name"}, texts)
}

func TestTokenizeComments(t *testing.T) {
	kinds, _ := kindsAndTexts(t, "1 // line comment\n+ /* block */ 2")
	assert.Equal(t, []Kind{Number, Symbol, Number}, kinds)
}

func TestLongestMatchSymbols(t *testing.T) {
	_, texts := kindsAndTexts(t, "a<=b!=c")
	assert.Equal(t, []string{"a", "<=", "b", "!=", "c"}, texts)
}

func TestPositions(t *testing.T) {
	tokens, err := Tokenize("a\n  b")
	require.NoError(t, err)
	assert.Equal(t, Position{Line: 1, Column: 1, Offset: 0}, tokens[0].Pos)
	assert.Equal(t, Position{Line: 2, Column: 3, Offset: 4}, tokens[1].Pos)
}

func TestTokenizeErrors(t *testing.T) {
	invalid := []string{
		"'unterminated",
		`'bad \q escape'`,
		"/* unterminated",
		"@20",
		"`unterminated",
		"#",
	}
	for _, src := range invalid {
		_, err := Tokenize(src)
		require.Error(t, err, src)
		var lexErr *Error
		assert.ErrorAs(t, err, &lexErr, src)
	}
}
