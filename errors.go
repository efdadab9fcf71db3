package fhirpath

import (
	"fmt"

	"github.com/probemed/fhirpath/internal/lexer"
	"github.com/probemed/fhirpath/internal/parser"
)

// ErrorKind classifies evaluation failures.
//
// Any evaluation error aborts the whole evaluation; there are no partial
// results. Empty collections are never errors, they are the designed
// representation of "no value".
type ErrorKind uint8

const (
	// ErrNotSingleton reports an operand collection with more than one item
	// supplied to an operator or function that expects a scalar.
	ErrNotSingleton ErrorKind = iota + 1
	// ErrUnknownFunction reports a function name absent from the registry.
	ErrUnknownFunction
	// ErrArityMismatch reports a registered function invoked with an
	// unsupported number of arguments.
	ErrArityMismatch
	// ErrUndefinedVariable reports $this/$index/$total outside their scope
	// or an unbound %-variable.
	ErrUndefinedVariable
	// ErrInvalidArgument reports an argument with the right arity but an
	// unusable value.
	ErrInvalidArgument
	// ErrTypeMismatch reports operands that can never be combined by the
	// attempted operation.
	ErrTypeMismatch
	// ErrRecursionLimit reports that the evaluation depth guard tripped.
	ErrRecursionLimit
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotSingleton:
		return "not singleton"
	case ErrUnknownFunction:
		return "unknown function"
	case ErrArityMismatch:
		return "arity mismatch"
	case ErrUndefinedVariable:
		return "undefined variable"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrTypeMismatch:
		return "type mismatch"
	case ErrRecursionLimit:
		return "recursion limit exceeded"
	default:
		return "evaluation error"
	}
}

// EvalError is the structured error returned by Evaluate.
type EvalError struct {
	Kind ErrorKind
	// Fn names the failing function or operator, when known.
	Fn  string
	msg string
}

func (e *EvalError) Error() string {
	if e.Fn != "" {
		return fmt.Sprintf("%s: %s: %s", e.Fn, e.Kind, e.msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Is makes errors.Is match on the kind: errors.Is(err, &EvalError{Kind: k}).
func (e *EvalError) Is(target error) bool {
	t, ok := target.(*EvalError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Fn == "" || t.Fn == e.Fn)
}

func evalErrorf(kind ErrorKind, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func fnErrorf(kind ErrorKind, fn, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Fn: fn, msg: fmt.Sprintf(format, args...)}
}

// LexError is re-exported so callers can match tokenizer failures without
// importing the internal lexer package.
type LexError = lexer.Error

// ParseError is re-exported so callers can match parser failures without
// importing the internal parser package.
type ParseError = parser.Error
