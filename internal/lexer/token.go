// Package lexer turns FHIRPath source text into a token stream.
//
// The scanner is a hand-written left-to-right longest-match lexer.
// Whitespace and comments are elided, but every token keeps the source
// position it started at so parse and evaluation diagnostics can point
// back into the original expression.
package lexer

import "fmt"

// Kind discriminates the lexical classes of FHIRPath.
type Kind uint8

const (
	// EOF marks the end of the token stream.
	EOF Kind = iota
	// Ident is a plain identifier or keyword; keywords are not
	// distinguished lexically because most of them are contextual.
	Ident
	// DelimitedIdent is a backtick-delimited identifier. Text holds the
	// unescaped name without the backticks.
	DelimitedIdent
	// Str is a single-quoted string literal. Text holds the unescaped value.
	Str
	// Number is an integer or decimal literal.
	Number
	// LongNumber is an integer literal with the L suffix. Text holds the
	// digits without the suffix.
	LongNumber
	// Date is an @-prefixed date literal, e.g. @2020-01.
	Date
	// DateTime is an @-prefixed datetime literal, e.g. @2020-01-01T10:30.
	DateTime
	// Time is an @T-prefixed time literal, e.g. @T14:34:28.
	Time
	// Var is a $-variable; Text holds the name without the dollar sign.
	Var
	// EnvVar is a %-external constant; Text holds the name.
	EnvVar
	// Symbol is an operator or punctuation character sequence.
	Symbol
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "end of input"
	case Ident:
		return "identifier"
	case DelimitedIdent:
		return "delimited identifier"
	case Str:
		return "string literal"
	case Number:
		return "number literal"
	case LongNumber:
		return "long number literal"
	case Date:
		return "date literal"
	case DateTime:
		return "datetime literal"
	case Time:
		return "time literal"
	case Var:
		return "$-variable"
	case EnvVar:
		return "%-constant"
	case Symbol:
		return "symbol"
	default:
		return "token"
	}
}

// Position is a location in the source expression.
type Position struct {
	// Line and Column are 1-based.
	Line, Column int
	// Offset is the 0-based byte offset.
	Offset int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is one lexical unit. Tokens are immutable; they are produced once,
// consumed by the parser and then discarded.
type Token struct {
	Kind Kind
	Text string
	Pos  Position
}

func (t Token) String() string {
	if t.Kind == EOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.Text)
}

// Error reports an unrecognized character or malformed token. The scanner
// never silently drops input.
type Error struct {
	Pos  Position
	Char rune
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s: unexpected character %q", e.Pos, e.Char)
}
