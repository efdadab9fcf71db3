package fhirpath

import (
	"context"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/probemed/fhirpath/internal/parser"
)

// Decimal values keep 34 digits (roughly Decimal128) so even values
// with large integer components retain at least the 18 fractional
// digits the language guarantees.
const defaultDecimalPrecision uint32 = 34

var defaultAPDContext = apd.BaseContext.WithPrecision(defaultDecimalPrecision)

func apdContextOf(ctx *evalCtx) *apd.Context {
	if ctx != nil && ctx.apd != nil {
		return ctx.apd
	}
	return defaultAPDContext
}

// evalCtx carries the full evaluation state: configuration that is
// fixed for the whole evaluation (precision, tracer, registry, types)
// and the parts that vary per scope (environment variables, the lambda
// scope, recursion depth). Scopes are cheap struct copies, so branches
// that must not leak variables simply evaluate on a copy.
type evalCtx struct {
	ctx      context.Context
	apd      *apd.Context
	tracer   Tracer
	registry *Registry
	resolver Resolver

	root  Element
	env   map[string]Collection
	scope *lambdaScope

	depth    int
	maxDepth int

	now       time.Time
	namespace string
	types     map[TypeSpecifier]TypeInfo
}

const defaultMaxDepth = 512

func (ec *evalCtx) namespaceOrSystem() string {
	if ec.namespace == "" {
		return "System"
	}
	return ec.namespace
}

// withEnvFrame starts an isolated variable scope: writes in the new
// frame are invisible to the parent.
func (ec *evalCtx) withEnvFrame() *evalCtx {
	frame := *ec
	frame.env = maps.Clone(ec.env)
	return &frame
}

func (ec *evalCtx) withScope(scope lambdaScope) *evalCtx {
	frame := *ec
	frame.scope = &scope
	return &frame
}

func (ec *evalCtx) envValue(name string) (Collection, bool) {
	v, ok := ec.env[name]
	return v, ok
}

func (ec *evalCtx) setEnv(name string, value Collection) {
	ec.env[name] = value
}

// evalCtxKey bridges the internal evaluation state through the
// context.Context handed to Function implementations.
type evalCtxKey struct{}

func withEvalCtx(ctx context.Context, ec *evalCtx) context.Context {
	return context.WithValue(ctx, evalCtxKey{}, ec)
}

func evalCtxFrom(ctx context.Context) *evalCtx {
	if ec, ok := ctx.Value(evalCtxKey{}).(*evalCtx); ok {
		return ec
	}
	return newEvalCtx(ctx)
}

// eval walks the syntax tree. target is the input collection of the
// current step, inputOrdered whether its order is defined, and isRoot
// whether an identifier in this position may be the root type check
// (e.g. the leading Patient in Patient.name).
func (ec *evalCtx) eval(
	target Collection,
	inputOrdered bool,
	node parser.Node,
	isRoot bool,
) (result Collection, resultOrdered bool, err error) {
	if ec.depth >= ec.maxDepth {
		return nil, false, evalErrorf(ErrRecursionLimit, "expression nesting exceeds %d levels", ec.maxDepth)
	}
	ec.depth++
	defer func() { ec.depth-- }()

	switch t := node.(type) {
	case parser.EmptyLit:
		return nil, true, nil
	case parser.BooleanLit:
		return Collection{Boolean(t.Value)}, true, nil
	case parser.StringLit:
		return Collection{String(t.Value)}, true, nil
	case parser.NumberLit:
		if t.Decimal {
			d, _, err := apd.NewFromString(t.Text)
			if err != nil {
				return nil, false, err
			}
			return Collection{Decimal{Value: d}}, true, nil
		}
		val, err := strconv.ParseInt(t.Text, 10, 32)
		if err != nil {
			return nil, false, err
		}
		return Collection{Integer(val)}, true, nil
	case parser.LongLit:
		val, err := strconv.ParseInt(strings.TrimSuffix(t.Text, "L"), 10, 64)
		if err != nil {
			return nil, false, err
		}
		return Collection{Long(val)}, true, nil
	case parser.DateLit:
		d, err := ParseDate(t.Text)
		if err != nil {
			return nil, false, err
		}
		return Collection{d}, true, nil
	case parser.DateTimeLit:
		dt, err := ParseDateTime(t.Text)
		if err != nil {
			return nil, false, err
		}
		return Collection{dt}, true, nil
	case parser.TimeLit:
		tm, err := ParseTime(t.Text)
		if err != nil {
			return nil, false, err
		}
		return Collection{tm}, true, nil
	case parser.QuantityLit:
		v, _, err := apd.NewFromString(t.Value)
		if err != nil {
			return nil, false, err
		}
		return Collection{Quantity{Value: Decimal{Value: v}, Unit: String(t.Unit)}}, true, nil

	case parser.This:
		if ec.scope != nil && ec.scope.this != nil {
			return Collection{ec.scope.this}, true, nil
		}
		if ec.root != nil {
			return Collection{ec.root}, true, nil
		}
		return nil, false, evalErrorf(ErrUndefinedVariable, "$this not defined in this scope")
	case parser.Index:
		if ec.scope == nil {
			return nil, false, evalErrorf(ErrUndefinedVariable, "$index not defined outside lambda scope")
		}
		return Collection{Integer(ec.scope.index)}, true, nil
	case parser.Total:
		if ec.scope == nil || !ec.scope.aggregate {
			return nil, false, evalErrorf(ErrUndefinedVariable, "$total only defined in aggregate()")
		}
		return ec.scope.total, true, nil
	case parser.EnvVar:
		value, ok := ec.envValue(t.Name)
		if !ok {
			return nil, false, evalErrorf(ErrUndefinedVariable, "environment variable %%%s undefined", t.Name)
		}
		return value, true, nil

	case parser.Group:
		return ec.eval(target, inputOrdered, t.Expr, isRoot)

	case parser.Ident:
		return ec.evalMember(target, inputOrdered, t, isRoot)
	case parser.Call:
		return ec.callFunc(target, inputOrdered, t.Name, t.Args)

	case parser.Path:
		expr, ordered, err := ec.eval(target, inputOrdered, t.Target, isRoot)
		if err != nil {
			return nil, false, err
		}
		switch member := t.Member.(type) {
		case parser.Ident:
			return ec.evalMember(expr, ordered, member, false)
		case parser.Call:
			return ec.callFunc(expr, ordered, member.Name, member.Args)
		default:
			return nil, false, evalErrorf(ErrInvalidArgument, "unexpected member expression %T", t.Member)
		}

	case parser.Indexer:
		expr, ordered, err := ec.eval(target, inputOrdered, t.Target, isRoot)
		if err != nil {
			return nil, false, err
		}
		if !ordered {
			return nil, false, evalErrorf(ErrInvalidArgument, "can not index into unordered collection")
		}
		indexCollection, _, err := ec.eval(target, inputOrdered, t.Index, false)
		if err != nil {
			return nil, false, err
		}
		index, ok, err := Singleton[Integer](indexCollection)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, true, nil
		}
		i := int(index)
		if i < 0 || i >= len(expr) {
			return nil, true, nil
		}
		return Collection{expr[i]}, true, nil

	case parser.Unary:
		expr, ordered, err := ec.eval(target, inputOrdered, t.Operand, isRoot)
		if err != nil {
			return nil, false, err
		}
		if t.Op == "+" {
			return expr, ordered, nil
		}
		result, err = expr.Multiply(ec, Collection{Integer(-1)})
		return result, true, err

	case parser.Union:
		// Each branch gets its own variable frame so definitions on one
		// side can not leak into the other.
		left, leftOrdered, err := ec.withEnvFrame().eval(target, inputOrdered, t.Left, isRoot)
		if err != nil {
			return nil, false, err
		}
		right, rightOrdered, err := ec.withEnvFrame().eval(target, inputOrdered, t.Right, isRoot)
		if err != nil {
			return nil, false, err
		}
		return left.Union(right), leftOrdered && rightOrdered, nil

	case parser.TypeOp:
		expr, _, err := ec.eval(target, inputOrdered, t.Operand, isRoot)
		if err != nil {
			return nil, false, err
		}
		if len(expr) == 0 {
			return nil, true, nil
		}
		if len(expr) != 1 {
			return nil, false, fnErrorf(ErrNotSingleton, t.Op, "expected single input element, got %d", len(expr))
		}
		spec := TypeSpecifier{Namespace: t.Type.Namespace, Name: t.Type.Name}
		switch t.Op {
		case "is":
			r, err := ec.isType(expr[0], spec)
			if err != nil {
				return nil, false, err
			}
			return Collection{r}, true, nil
		default: // as
			c, err := ec.asType(expr[0], spec)
			if err != nil {
				return nil, false, err
			}
			return c, true, nil
		}

	case parser.Binary:
		return ec.evalBinary(target, inputOrdered, t, isRoot)

	default:
		return nil, false, evalErrorf(ErrInvalidArgument, "unexpected expression %T", node)
	}
}

// evalMember resolves a bare identifier: child navigation, with a
// fallback to the root type check in leading position.
func (ec *evalCtx) evalMember(
	target Collection,
	inputOrdered bool,
	ident parser.Ident,
	isRoot bool,
) (Collection, bool, error) {
	// Field access wins over type names, so an element named like a type
	// (e.g. "id") still navigates.
	var members Collection
	for _, e := range target {
		members = append(members, e.Children(ident.Name)...)
	}
	if len(members) > 0 {
		return members, inputOrdered, nil
	}

	if isRoot && !ident.Delimited && ec.root != nil {
		expectedType, ok := ec.resolveType(TypeSpecifier{Name: ident.Name})
		if ok {
			rootType := ec.root.TypeInfo()
			if !ec.subTypeOf(rootType, expectedType) {
				return nil, false, evalErrorf(ErrTypeMismatch, "expected element of type %s, got %s", expectedType, rootType)
			}
			return Collection{ec.root}, inputOrdered, nil
		}
	}

	return members, inputOrdered, nil
}

func (ec *evalCtx) evalBinary(
	target Collection,
	inputOrdered bool,
	t parser.Binary,
	isRoot bool,
) (result Collection, resultOrdered bool, err error) {
	left, leftOrdered, err := ec.eval(target, inputOrdered, t.Left, isRoot)
	if err != nil {
		return nil, false, err
	}

	// and/or/implies are not short-circuiting: both sides always
	// evaluate, per the three-valued truth tables.
	right, rightOrdered, err := ec.eval(target, inputOrdered, t.Right, isRoot)
	if err != nil {
		return nil, false, err
	}

	switch t.Op {
	case "*":
		result, err = left.Multiply(ec, right)
	case "/":
		result, err = left.Divide(ec, right)
	case "div":
		result, err = left.Div(ec, right)
	case "mod":
		result, err = left.Mod(ec, right)
	case "+":
		result, err = left.Add(ec, right)
	case "-":
		result, err = left.Subtract(ec, right)
	case "&":
		result, err = left.Concat(right)

	case "<", "<=", ">", ">=":
		cmp, ok, err := left.Cmp(right)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, true, nil
		}
		var b bool
		switch t.Op {
		case "<":
			b = cmp < 0
		case "<=":
			b = cmp <= 0
		case ">":
			b = cmp > 0
		case ">=":
			b = cmp >= 0
		}
		return Collection{Boolean(b)}, true, nil

	case "=", "!=":
		if (len(left) > 1 || len(right) > 1) && (!leftOrdered || !rightOrdered) {
			return nil, false, evalErrorf(ErrInvalidArgument, "expected ordered inputs for equality expression")
		}
		eq, ok := left.Equal(right)
		if !ok {
			return nil, true, nil
		}
		if t.Op == "!=" {
			eq = !eq
		}
		return Collection{Boolean(eq)}, true, nil
	case "~", "!~":
		eq := left.Equivalent(right)
		if t.Op == "!~" {
			eq = !eq
		}
		return Collection{Boolean(eq)}, true, nil

	case "in":
		if len(left) == 0 {
			return nil, true, nil
		}
		if len(left) > 1 {
			return nil, false, fnErrorf(ErrNotSingleton, "in", "left operand has %d items", len(left))
		}
		return Collection{Boolean(right.Contains(left[0]))}, true, nil
	case "contains":
		if len(right) == 0 {
			return nil, true, nil
		}
		if len(right) > 1 {
			return nil, false, fnErrorf(ErrNotSingleton, "contains", "right operand has %d items", len(right))
		}
		return Collection{Boolean(left.Contains(right[0]))}, true, nil

	case "and", "or", "xor", "implies":
		return evalLogical(t.Op, left, right)

	default:
		return nil, false, evalErrorf(ErrInvalidArgument, "unexpected operator %q", t.Op)
	}
	return result, true, err
}

// evalLogical implements the three-valued truth tables. Empty operands
// stand for "unknown": false and {} is false, true or {} is true, and
// the rest evaluates to empty.
func evalLogical(op string, left, right Collection) (Collection, bool, error) {
	l, lOK, err := Singleton[Boolean](left)
	if err != nil {
		return nil, false, err
	}
	r, rOK, err := Singleton[Boolean](right)
	if err != nil {
		return nil, false, err
	}

	switch op {
	case "and":
		switch {
		case lOK && rOK && bool(l) && bool(r):
			return Collection{Boolean(true)}, true, nil
		case lOK && !bool(l), rOK && !bool(r):
			return Collection{Boolean(false)}, true, nil
		}
	case "or":
		switch {
		case lOK && bool(l), rOK && bool(r):
			return Collection{Boolean(true)}, true, nil
		case lOK && rOK:
			return Collection{Boolean(false)}, true, nil
		}
	case "xor":
		if lOK && rOK {
			return Collection{Boolean(l != r)}, true, nil
		}
	case "implies":
		switch {
		case lOK && !bool(l):
			return Collection{Boolean(true)}, true, nil
		case lOK && bool(l) && rOK:
			return Collection{r}, true, nil
		case !lOK && rOK && bool(r):
			return Collection{Boolean(true)}, true, nil
		}
	}
	return nil, true, nil
}

// callFunc dispatches a function invocation through the registry and
// wires the lambda evaluation callback the way implementations expect.
func (ec *evalCtx) callFunc(
	target Collection,
	inputOrdered bool,
	name string,
	args []parser.Argument,
) (Collection, bool, error) {
	fn, err := ec.registry.Lookup(name, len(args))
	if err != nil {
		return nil, false, err
	}

	parameters := make([]Expression, 0, len(args))
	for _, arg := range args {
		parameters = append(parameters, Expression{node: arg.Expr, sortDir: arg.Dir})
	}

	evaluate := func(
		ctx context.Context,
		target Collection,
		expr Expression,
		scope *FunctionScope,
	) (Collection, bool, error) {
		frame := evalCtxFrom(ctx).withEnvFrame()

		if scope != nil {
			next := lambdaScope{index: scope.Index}
			if len(target) == 1 {
				next.this = target[0]
			}
			if parent := frame.scope; parent != nil && parent.aggregate {
				next.aggregate = true
				next.total = parent.total
			}
			if name == "aggregate" {
				next.aggregate = true
				next.total = scope.Total
			}
			frame.scope = &next
		}

		// Argument expressions with no explicit target evaluate against
		// $this, falling back to the evaluation root.
		evalTarget := target
		if len(evalTarget) == 0 {
			if s := frame.scope; s != nil && s.this != nil {
				evalTarget = Collection{s.this}
			} else if frame.root != nil {
				evalTarget = Collection{frame.root}
			}
		}

		return frame.eval(evalTarget, true, expr.node, true)
	}

	return fn(withEvalCtx(ec.ctx, ec), ec.root, target, inputOrdered, parameters, evaluate)
}
