package lexer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize scans the whole source expression and returns its tokens,
// excluding whitespace and comments. The returned slice always ends with
// an EOF token carrying the position one past the last input byte.
func Tokenize(src string) ([]Token, error) {
	s := &scanner{src: src, line: 1, column: 1}
	var tokens []Token
	for {
		tok, err := s.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == EOF {
			return tokens, nil
		}
	}
}

type scanner struct {
	src    string
	offset int
	line   int
	column int
}

func (s *scanner) pos() Position {
	return Position{Line: s.line, Column: s.column, Offset: s.offset}
}

func (s *scanner) peek() (rune, bool) {
	if s.offset >= len(s.src) {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(s.src[s.offset:])
	return r, true
}

func (s *scanner) peekAt(n int) (byte, bool) {
	if s.offset+n >= len(s.src) {
		return 0, false
	}
	return s.src[s.offset+n], true
}

func (s *scanner) advance() rune {
	r, size := utf8.DecodeRuneInString(s.src[s.offset:])
	s.offset += size
	if r == '\n' {
		s.line++
		s.column = 1
	} else {
		s.column++
	}
	return r
}

func (s *scanner) errorf(pos Position, char rune, msg string) *Error {
	return &Error{Pos: pos, Char: char, Msg: msg}
}

func (s *scanner) next() (Token, error) {
	if err := s.skipTrivia(); err != nil {
		return Token{}, err
	}

	pos := s.pos()
	r, ok := s.peek()
	if !ok {
		return Token{Kind: EOF, Pos: pos}, nil
	}

	switch {
	case isIdentStart(r):
		return s.scanIdent(pos), nil
	case r >= '0' && r <= '9':
		return s.scanNumber(pos), nil
	case r == '\'':
		return s.scanString(pos)
	case r == '`':
		return s.scanDelimitedIdent(pos)
	case r == '@':
		return s.scanTemporal(pos)
	case r == '$':
		return s.scanVar(pos)
	case r == '%':
		return s.scanEnvVar(pos)
	}

	// Operators and punctuation, longest match first.
	for _, sym := range symbols {
		if strings.HasPrefix(s.src[s.offset:], sym) {
			for range sym {
				s.advance()
			}
			return Token{Kind: Symbol, Text: sym, Pos: pos}, nil
		}
	}

	return Token{}, s.errorf(pos, r, "")
}

// symbols is ordered so that multi-character operators are matched before
// their single-character prefixes.
var symbols = []string{
	"<=", ">=", "!=", "!~",
	"(", ")", "[", "]", "{", "}",
	".", ",", "=", "~", "<", ">",
	"+", "-", "*", "/", "|", "&",
}

func (s *scanner) skipTrivia() error {
	for {
		r, ok := s.peek()
		if !ok {
			return nil
		}
		switch {
		case unicode.IsSpace(r):
			s.advance()
		case r == '/' && s.hasPrefix("//"):
			for {
				r, ok := s.peek()
				if !ok || r == '\n' {
					break
				}
				s.advance()
			}
		case r == '/' && s.hasPrefix("/*"):
			pos := s.pos()
			s.advance()
			s.advance()
			for !s.hasPrefix("*/") {
				if _, ok := s.peek(); !ok {
					return s.errorf(pos, '/', "unterminated block comment")
				}
				s.advance()
			}
			s.advance()
			s.advance()
		default:
			return nil
		}
	}
}

func (s *scanner) hasPrefix(p string) bool {
	return strings.HasPrefix(s.src[s.offset:], p)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (s *scanner) scanIdent(pos Position) Token {
	start := s.offset
	for {
		r, ok := s.peek()
		if !ok || !isIdentPart(r) {
			break
		}
		s.advance()
	}
	return Token{Kind: Ident, Text: s.src[start:s.offset], Pos: pos}
}

func (s *scanner) scanNumber(pos Position) Token {
	start := s.offset
	for {
		r, ok := s.peek()
		if !ok || r < '0' || r > '9' {
			break
		}
		s.advance()
	}
	// A decimal point only belongs to the number when followed by a digit;
	// otherwise it is the path navigation operator.
	if r, ok := s.peek(); ok && r == '.' {
		if d, ok := s.peekAt(1); ok && d >= '0' && d <= '9' {
			s.advance()
			for {
				r, ok := s.peek()
				if !ok || r < '0' || r > '9' {
					break
				}
				s.advance()
			}
			return Token{Kind: Number, Text: s.src[start:s.offset], Pos: pos}
		}
	}
	if r, ok := s.peek(); ok && r == 'L' {
		text := s.src[start:s.offset]
		s.advance()
		return Token{Kind: LongNumber, Text: text, Pos: pos}
	}
	return Token{Kind: Number, Text: s.src[start:s.offset], Pos: pos}
}

func (s *scanner) scanString(pos Position) (Token, error) {
	s.advance() // opening quote
	var b strings.Builder
	for {
		r, ok := s.peek()
		if !ok {
			return Token{}, s.errorf(pos, '\'', "unterminated string literal")
		}
		s.advance()
		switch r {
		case '\'':
			return Token{Kind: Str, Text: b.String(), Pos: pos}, nil
		case '\\':
			esc, err := s.scanEscape(pos)
			if err != nil {
				return Token{}, err
			}
			b.WriteRune(esc)
		default:
			b.WriteRune(r)
		}
	}
}

func (s *scanner) scanEscape(strPos Position) (rune, error) {
	pos := s.pos()
	r, ok := s.peek()
	if !ok {
		return 0, s.errorf(strPos, '\\', "unterminated string literal")
	}
	s.advance()
	switch r {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case 'f':
		return '\f', nil
	case '\'', '"', '`', '\\', '/':
		return r, nil
	case 'u':
		var code rune
		for i := 0; i < 4; i++ {
			h, ok := s.peek()
			if !ok || !isHexDigit(h) {
				return 0, s.errorf(pos, r, "invalid unicode escape")
			}
			s.advance()
			code = code<<4 | hexValue(h)
		}
		return code, nil
	default:
		return 0, s.errorf(pos, r, "invalid escape sequence")
	}
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func hexValue(r rune) rune {
	switch {
	case r >= '0' && r <= '9':
		return r - '0'
	case r >= 'a' && r <= 'f':
		return r - 'a' + 10
	default:
		return r - 'A' + 10
	}
}

func (s *scanner) scanDelimitedIdent(pos Position) (Token, error) {
	s.advance() // opening backtick
	var b strings.Builder
	for {
		r, ok := s.peek()
		if !ok {
			return Token{}, s.errorf(pos, '`', "unterminated delimited identifier")
		}
		s.advance()
		switch r {
		case '`':
			return Token{Kind: DelimitedIdent, Text: b.String(), Pos: pos}, nil
		case '\\':
			esc, err := s.scanEscape(pos)
			if err != nil {
				return Token{}, err
			}
			b.WriteRune(esc)
		default:
			b.WriteRune(r)
		}
	}
}

// scanTemporal scans @-prefixed date, datetime and time literals with
// partial precision, e.g. @2020, @2020-01-01T10:30, @T14:34:28+02:00.
func (s *scanner) scanTemporal(pos Position) (Token, error) {
	start := s.offset
	s.advance() // @

	if r, ok := s.peek(); ok && r == 'T' {
		s.advance()
		s.scanTimePart()
		return Token{Kind: Time, Text: s.src[start:s.offset], Pos: pos}, nil
	}

	digits := s.scanDigits()
	if digits != 4 {
		return Token{}, s.errorf(pos, '@', "invalid date literal")
	}
	for i := 0; i < 2; i++ {
		r, ok := s.peek()
		if !ok || r != '-' {
			break
		}
		if d, ok := s.peekAt(1); !ok || d < '0' || d > '9' {
			break
		}
		s.advance()
		s.scanDigits()
	}

	kind := Date
	if r, ok := s.peek(); ok && r == 'T' {
		kind = DateTime
		s.advance()
		s.scanTimePart()
	}
	return Token{Kind: kind, Text: s.src[start:s.offset], Pos: pos}, nil
}

func (s *scanner) scanDigits() int {
	n := 0
	for {
		r, ok := s.peek()
		if !ok || r < '0' || r > '9' {
			return n
		}
		s.advance()
		n++
	}
}

// scanTimePart consumes HH[:MM[:SS[.fff]]] plus an optional timezone
// suffix. A sign only counts as a timezone when directly followed by a
// digit, so expressions like @T10 + 2 lex as three tokens.
func (s *scanner) scanTimePart() {
	for {
		r, ok := s.peek()
		if !ok {
			return
		}
		if (r >= '0' && r <= '9') || r == ':' {
			s.advance()
			continue
		}
		// A dot only belongs to the literal when it starts a fractional
		// second; otherwise it is a member access on the literal.
		if r == '.' {
			if d, ok := s.peekAt(1); ok && d >= '0' && d <= '9' {
				s.advance()
				continue
			}
		}
		break
	}
	r, ok := s.peek()
	if !ok {
		return
	}
	switch r {
	case 'Z':
		s.advance()
	case '+', '-':
		if d, ok := s.peekAt(1); ok && d >= '0' && d <= '9' {
			s.advance()
			for {
				r, ok := s.peek()
				if !ok || ((r < '0' || r > '9') && r != ':') {
					return
				}
				s.advance()
			}
		}
	}
}

func (s *scanner) scanVar(pos Position) (Token, error) {
	s.advance() // $
	r, ok := s.peek()
	if !ok || !isIdentStart(r) {
		return Token{}, s.errorf(pos, '$', "expected variable name after $")
	}
	tok := s.scanIdent(s.pos())
	return Token{Kind: Var, Text: tok.Text, Pos: pos}, nil
}

func (s *scanner) scanEnvVar(pos Position) (Token, error) {
	s.advance() // %
	r, ok := s.peek()
	if !ok {
		return Token{}, s.errorf(pos, '%', "expected constant name after %")
	}
	if r == '\'' {
		str, err := s.scanString(s.pos())
		if err != nil {
			return Token{}, err
		}
		return Token{Kind: EnvVar, Text: str.Text, Pos: pos}, nil
	}
	if r == '`' {
		ident, err := s.scanDelimitedIdent(s.pos())
		if err != nil {
			return Token{}, err
		}
		return Token{Kind: EnvVar, Text: ident.Text, Pos: pos}, nil
	}
	if !isIdentStart(r) {
		return Token{}, s.errorf(pos, '%', "expected constant name after %")
	}
	tok := s.scanIdent(s.pos())
	return Token{Kind: EnvVar, Text: tok.Text, Pos: pos}, nil
}
