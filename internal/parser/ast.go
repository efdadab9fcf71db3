// Package parser builds FHIRPath abstract syntax trees.
//
// The parser is a hand-written recursive-descent parser with an operator
// precedence table. It performs no semantic checking: unknown function
// names and arity mismatches surface at evaluation time, because an
// expression may be parsed without knowing which functions the evaluating
// engine registers.
//
// Nodes are immutable once built and safe to share across concurrently
// running evaluations. Every node re-serializes to parseable source via
// String, which is used for caching keys and diagnostics.
package parser

import (
	"fmt"
	"strings"
)

// Node is one variant of the FHIRPath abstract syntax tree.
type Node interface {
	fmt.Stringer
	node()
}

// EmptyLit is the empty collection literal `{}`.
type EmptyLit struct{}

// BooleanLit is `true` or `false`.
type BooleanLit struct {
	Value bool
}

// StringLit holds the unescaped value of a single-quoted string.
type StringLit struct {
	Value string
}

// NumberLit holds the literal digits of an integer or decimal; the value
// is materialized by the evaluator so decimals keep their written
// precision.
type NumberLit struct {
	Text    string
	Decimal bool
}

// LongLit holds the digits of an L-suffixed 64-bit integer literal.
type LongLit struct {
	Text string
}

// DateLit, DateTimeLit and TimeLit carry the literal text including the
// @ prefix; the evaluator parses the partial-precision forms.
type DateLit struct{ Text string }
type DateTimeLit struct{ Text string }
type TimeLit struct{ Text string }

// QuantityLit is a number literal followed by a unit: either a
// single-quoted UCUM unit or a calendar duration keyword.
type QuantityLit struct {
	Value string
	Unit  string
	// Calendar marks unquoted duration keywords like `2 years`.
	Calendar bool
}

// Ident is a path step or bare name. Delimited names keep backtick
// quoting on re-serialization so reserved words stay parseable.
type Ident struct {
	Name      string
	Delimited bool
}

// TypeSpec is a possibly qualified type name used by is/as and the type
// functions, e.g. `Boolean` or `System.Boolean`.
type TypeSpec struct {
	Namespace string
	Name      string
}

// This, Index and Total are the special lambda variables $this, $index
// and $total.
type This struct{}
type Index struct{}
type Total struct{}

// EnvVar is an external constant reference %name.
type EnvVar struct {
	Name string
}

// Group is a parenthesized expression. It is kept in the tree so that
// re-serialization round-trips.
type Group struct {
	Expr Node
}

// Path navigates from the result of Target into Member, which is an
// *Ident, *Call or special variable.
type Path struct {
	Target Node
	Member Node
}

// Indexer selects a single item by zero-based index.
type Indexer struct {
	Target Node
	Index  Node
}

// Unary is polarity + or - applied to an operand.
type Unary struct {
	Op      string
	Operand Node
}

// Binary covers all infix operators except union and the type operators.
type Binary struct {
	Op          string
	Left, Right Node
}

// Union is `left | right`: concatenation with duplicate elimination.
type Union struct {
	Left, Right Node
}

// TypeOp is `expr is Type` or `expr as Type`.
type TypeOp struct {
	Op      string
	Operand Node
	Type    TypeSpec
}

// SortDir is the requested ordering of one sort() argument.
type SortDir uint8

const (
	SortDefault SortDir = iota
	SortAsc
	SortDesc
)

// Argument is one function argument: a raw, unevaluated expression, plus
// the sort direction keyword when the enclosing call is sort().
type Argument struct {
	Expr Node
	Dir  SortDir
}

// Call is a function invocation. Arguments stay unevaluated so
// lambda-style functions can bind them per iterated item.
type Call struct {
	Name string
	Args []Argument
}

func (EmptyLit) node()    {}
func (BooleanLit) node()  {}
func (StringLit) node()   {}
func (NumberLit) node()   {}
func (LongLit) node()     {}
func (DateLit) node()     {}
func (DateTimeLit) node() {}
func (TimeLit) node()     {}
func (QuantityLit) node() {}
func (Ident) node()       {}
func (This) node()        {}
func (Index) node()       {}
func (Total) node()       {}
func (EnvVar) node()      {}
func (Group) node()       {}
func (Path) node()        {}
func (Indexer) node()     {}
func (Unary) node()       {}
func (Binary) node()      {}
func (Union) node()       {}
func (TypeOp) node()      {}
func (Call) node()        {}

func (EmptyLit) String() string { return "{ }" }

func (n BooleanLit) String() string {
	if n.Value {
		return "true"
	}
	return "false"
}

func (n StringLit) String() string {
	return "'" + escapeString(n.Value) + "'"
}

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\f", `\f`,
)

func escapeString(s string) string {
	return stringEscaper.Replace(s)
}

func (n NumberLit) String() string   { return n.Text }
func (n LongLit) String() string     { return n.Text + "L" }
func (n DateLit) String() string     { return n.Text }
func (n DateTimeLit) String() string { return n.Text }
func (n TimeLit) String() string     { return n.Text }

func (n QuantityLit) String() string {
	if n.Calendar {
		return fmt.Sprintf("%s %s", n.Value, n.Unit)
	}
	return fmt.Sprintf("%s '%s'", n.Value, escapeString(n.Unit))
}

func (n Ident) String() string {
	if n.Delimited {
		return "`" + escapeString(n.Name) + "`"
	}
	return n.Name
}

func (t TypeSpec) String() string {
	if t.Namespace != "" {
		return t.Namespace + "." + t.Name
	}
	return t.Name
}

func (This) String() string  { return "$this" }
func (Index) String() string { return "$index" }
func (Total) String() string { return "$total" }

func (n EnvVar) String() string { return "%" + n.Name }

func (n Group) String() string { return "(" + n.Expr.String() + ")" }

func (n Path) String() string {
	return n.Target.String() + "." + n.Member.String()
}

func (n Indexer) String() string {
	return n.Target.String() + "[" + n.Index.String() + "]"
}

func (n Unary) String() string { return n.Op + n.Operand.String() }

func (n Binary) String() string {
	return fmt.Sprintf("%s %s %s", n.Left, n.Op, n.Right)
}

func (n Union) String() string {
	return fmt.Sprintf("%s | %s", n.Left, n.Right)
}

func (n TypeOp) String() string {
	return fmt.Sprintf("%s %s %s", n.Operand, n.Op, n.Type)
}

func (n Call) String() string {
	var b strings.Builder
	b.WriteString(n.Name)
	b.WriteByte('(')
	for i, arg := range n.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(arg.Expr.String())
		switch arg.Dir {
		case SortAsc:
			b.WriteString(" asc")
		case SortDesc:
			b.WriteString(" desc")
		}
	}
	b.WriteByte(')')
	return b.String()
}
