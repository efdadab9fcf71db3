package parser

import (
	"fmt"

	"github.com/probemed/fhirpath/internal/lexer"
)

// Error reports grammatically malformed input. It always carries the
// source position and an expected-vs-found description.
type Error struct {
	Pos      lexer.Position
	Expected string
	Found    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: expected %s, found %s", e.Pos, e.Expected, e.Found)
}

// Parse tokenizes and parses a whole FHIRPath expression.
func Parse(src string) (Node, error) {
	tokens, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok.Kind != lexer.EOF {
		return nil, p.errExpected("end of input")
	}
	return expr, nil
}

type parser struct {
	tokens []lexer.Token
	pos    int
}

func (p *parser) current() lexer.Token {
	return p.tokens[p.pos]
}

func (p *parser) advance() lexer.Token {
	tok := p.tokens[p.pos]
	if tok.Kind != lexer.EOF {
		p.pos++
	}
	return tok
}

func (p *parser) errExpected(expected string) *Error {
	tok := p.current()
	return &Error{Pos: tok.Pos, Expected: expected, Found: tok.String()}
}

// binaryPrecedence maps infix operators to their binding strength, low to
// high. All levels associate left; right-hand parses recurse into the
// next tighter level.
var binaryPrecedence = map[string]int{
	"implies": 1,
	"or":      2, "xor": 2,
	"and": 3,
	"in":  4, "contains": 4,
	"=": 5, "!=": 5, "~": 5, "!~": 5,
	"<": 6, "<=": 6, ">": 6, ">=": 6,
	"|": 7,
	"+": 8, "-": 8, "&": 8,
	"*": 9, "/": 9, "div": 9, "mod": 9,
	"is": 10, "as": 10,
}

// binaryOp returns the operator spelling of the current token, if it can
// act as an infix operator here. Word operators are contextual: they are
// ordinary identifiers in member position.
func (p *parser) binaryOp() (string, bool) {
	tok := p.current()
	switch tok.Kind {
	case lexer.Symbol, lexer.Ident:
		if _, ok := binaryPrecedence[tok.Text]; ok {
			return tok.Text, true
		}
	}
	return "", false
}

func (p *parser) parseExpression(minPrec int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.binaryOp()
		if !ok {
			return left, nil
		}
		prec := binaryPrecedence[op]
		if prec < minPrec {
			return left, nil
		}
		p.advance()

		if op == "is" || op == "as" {
			spec, err := p.parseTypeSpec()
			if err != nil {
				return nil, err
			}
			left = TypeOp{Op: op, Operand: left, Type: spec}
			continue
		}

		right, err := p.parseExpression(prec + 1)
		if err != nil {
			return nil, err
		}
		if op == "|" {
			left = Union{Left: left, Right: right}
		} else {
			left = Binary{Op: op, Left: left, Right: right}
		}
	}
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.current()
	if tok.Kind == lexer.Symbol && (tok.Text == "+" || tok.Text == "-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: tok.Text, Operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary expression followed by any chain of path
// steps, indexers and function calls; these bind tightest.
func (p *parser) parsePostfix() (Node, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.current()
		switch {
		case tok.Kind == lexer.Symbol && tok.Text == ".":
			p.advance()
			member, err := p.parseMember()
			if err != nil {
				return nil, err
			}
			expr = Path{Target: expr, Member: member}
		case tok.Kind == lexer.Symbol && tok.Text == "[":
			p.advance()
			index, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol("]"); err != nil {
				return nil, err
			}
			expr = Indexer{Target: expr, Index: index}
		default:
			return expr, nil
		}
	}
}

func (p *parser) expectSymbol(sym string) error {
	tok := p.current()
	if tok.Kind != lexer.Symbol || tok.Text != sym {
		return p.errExpected(fmt.Sprintf("%q", sym))
	}
	p.advance()
	return nil
}

// parseMember parses the name or function call after a dot. Any
// identifier is allowed here, including words that act as operators in
// expression position, so e.g. name.contains('x') parses as a call.
func (p *parser) parseMember() (Node, error) {
	tok := p.current()
	switch tok.Kind {
	case lexer.Ident, lexer.DelimitedIdent:
		return p.parseIdentOrCall()
	default:
		return nil, p.errExpected("member name")
	}
}

func (p *parser) parseIdentOrCall() (Node, error) {
	tok := p.advance()
	ident := Ident{Name: tok.Text, Delimited: tok.Kind == lexer.DelimitedIdent}

	next := p.current()
	if next.Kind != lexer.Symbol || next.Text != "(" || ident.Delimited {
		return ident, nil
	}
	p.advance()

	var args []Argument
	if tok := p.current(); tok.Kind != lexer.Symbol || tok.Text != ")" {
		for {
			expr, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			arg := Argument{Expr: expr}
			if dir := p.current(); dir.Kind == lexer.Ident {
				switch dir.Text {
				case "asc":
					arg.Dir = SortAsc
					p.advance()
				case "desc":
					arg.Dir = SortDesc
					p.advance()
				}
			}
			args = append(args, arg)
			if tok := p.current(); tok.Kind == lexer.Symbol && tok.Text == "," {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return Call{Name: ident.Name, Args: args}, nil
}

// parseTypeSpec parses the qualified type name on the right-hand side of
// is/as. Multi-part names fold all but the last segment into the
// namespace.
func (p *parser) parseTypeSpec() (TypeSpec, error) {
	var parts []string
	for {
		tok := p.current()
		if tok.Kind != lexer.Ident && tok.Kind != lexer.DelimitedIdent {
			return TypeSpec{}, p.errExpected("type name")
		}
		p.advance()
		parts = append(parts, tok.Text)
		if next := p.current(); next.Kind == lexer.Symbol && next.Text == "." {
			p.advance()
			continue
		}
		break
	}
	spec := TypeSpec{Name: parts[len(parts)-1]}
	if len(parts) > 1 {
		ns := parts[0]
		for _, part := range parts[1 : len(parts)-1] {
			ns += "." + part
		}
		spec.Namespace = ns
	}
	return spec, nil
}

// calendarUnits are the duration keywords that turn a number literal into
// a quantity, e.g. `2 years`.
var calendarUnits = map[string]bool{
	"year": true, "years": true,
	"month": true, "months": true,
	"week": true, "weeks": true,
	"day": true, "days": true,
	"hour": true, "hours": true,
	"minute": true, "minutes": true,
	"second": true, "seconds": true,
	"millisecond": true, "milliseconds": true,
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.current()
	switch tok.Kind {
	case lexer.Number:
		p.advance()
		return p.parseQuantityTail(tok)
	case lexer.LongNumber:
		p.advance()
		return LongLit{Text: tok.Text}, nil
	case lexer.Str:
		p.advance()
		return StringLit{Value: tok.Text}, nil
	case lexer.Date:
		p.advance()
		return DateLit{Text: tok.Text}, nil
	case lexer.DateTime:
		p.advance()
		return DateTimeLit{Text: tok.Text}, nil
	case lexer.Time:
		p.advance()
		return TimeLit{Text: tok.Text}, nil
	case lexer.Var:
		p.advance()
		switch tok.Text {
		case "this":
			return This{}, nil
		case "index":
			return Index{}, nil
		case "total":
			return Total{}, nil
		default:
			return nil, &Error{Pos: tok.Pos, Expected: "$this, $index or $total", Found: "$" + tok.Text}
		}
	case lexer.EnvVar:
		p.advance()
		return EnvVar{Name: tok.Text}, nil
	case lexer.Ident:
		switch tok.Text {
		case "true":
			p.advance()
			return BooleanLit{Value: true}, nil
		case "false":
			p.advance()
			return BooleanLit{Value: false}, nil
		}
		return p.parseIdentOrCall()
	case lexer.DelimitedIdent:
		return p.parseIdentOrCall()
	case lexer.Symbol:
		switch tok.Text {
		case "(":
			p.advance()
			expr, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return Group{Expr: expr}, nil
		case "{":
			p.advance()
			if err := p.expectSymbol("}"); err != nil {
				return nil, err
			}
			return EmptyLit{}, nil
		}
	}
	return nil, p.errExpected("expression")
}

// parseQuantityTail upgrades a number literal to a quantity literal when
// a unit follows: a quoted UCUM unit or a calendar duration keyword.
func (p *parser) parseQuantityTail(num lexer.Token) (Node, error) {
	decimal := hasDecimalPoint(num.Text)
	tok := p.current()
	switch {
	case tok.Kind == lexer.Str:
		p.advance()
		return QuantityLit{Value: num.Text, Unit: tok.Text}, nil
	case tok.Kind == lexer.Ident && calendarUnits[tok.Text]:
		p.advance()
		return QuantityLit{Value: num.Text, Unit: tok.Text, Calendar: true}, nil
	}
	return NumberLit{Text: num.Text, Decimal: decimal}, nil
}

func hasDecimalPoint(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}
