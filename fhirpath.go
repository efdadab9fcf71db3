// Package fhirpath evaluates FHIRPath expressions against trees of
// typed elements.
//
// Expressions are parsed once into an immutable Expression and then
// evaluated any number of times, concurrently if desired:
//
//	expr, err := fhirpath.Parse("Patient.name.where(use = 'official').given")
//	if err != nil {
//		// handle error
//	}
//	result, err := fhirpath.Evaluate(ctx, patient, expr)
//
// Every evaluation yields a Collection. Missing values never error;
// they surface as the empty collection and propagate through
// operators. The context configures evaluation: decimal precision,
// trace output, environment variables, custom functions and the type
// model all have With* helpers.
package fhirpath

import (
	"context"
	"maps"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/probemed/fhirpath/internal/parser"
)

// Expression is a parsed FHIRPath expression. It is immutable and safe
// to share between goroutines.
type Expression struct {
	node    parser.Node
	sortDir parser.SortDir
}

// String re-serializes the expression to parseable source.
func (e Expression) String() string {
	if e.node == nil {
		return ""
	}
	return e.node.String()
}

// Parse parses a FHIRPath expression.
//
// Failures are either a *LexError (malformed token) or a *ParseError
// (grammatically invalid input); both carry the source position.
func Parse(expr string) (Expression, error) {
	node, err := parser.Parse(expr)
	if err != nil {
		return Expression{}, err
	}
	return Expression{node: node}, nil
}

// MustParse is Parse for expressions known to be valid, e.g. constants
// in tests. It panics on error.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// Resolver dereferences resource references for the resolve() function.
// A nil element with nil error means the reference could not be
// resolved and is skipped.
type Resolver interface {
	Resolve(uri string) (Element, error)
}

type (
	apdContextKey  struct{}
	tracerKey      struct{}
	envKey         struct{}
	maxDepthKey    struct{}
	namespaceKey   struct{}
	knownTypesKey  struct{}
	functionsKey   struct{}
	registryKey    struct{}
	resolverKey    struct{}
	evalInstantKey struct{}
)

// WithAPDContext overrides the decimal precision used by arithmetic:
//
//	ctx = fhirpath.WithAPDContext(ctx, apd.BaseContext.WithPrecision(10))
func WithAPDContext(ctx context.Context, apdContext *apd.Context) context.Context {
	return context.WithValue(ctx, apdContextKey{}, apdContext)
}

// WithTracer installs the receiver for trace() output. By default
// traces go to stdout.
func WithTracer(ctx context.Context, tracer Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, tracer)
}

// WithEnv binds an environment variable, referenced as %name in
// expressions.
func WithEnv(ctx context.Context, name string, value Collection) context.Context {
	env, ok := ctx.Value(envKey{}).(map[string]Collection)
	if ok {
		env = maps.Clone(env)
	} else {
		env = map[string]Collection{}
	}
	env[name] = value
	return context.WithValue(ctx, envKey{}, env)
}

// WithMaxDepth overrides the expression nesting limit that guards
// against runaway recursion. The default is 512.
func WithMaxDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, maxDepthKey{}, depth)
}

// WithNamespace sets the default namespace for unqualified type names.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, namespaceKey{}, namespace)
}

// WithTypes installs additional known types for is/as and type().
func WithTypes(ctx context.Context, types []TypeInfo) context.Context {
	typeMap, ok := ctx.Value(knownTypesKey{}).(map[TypeSpecifier]TypeInfo)
	if ok {
		typeMap = maps.Clone(typeMap)
	} else {
		typeMap = map[TypeSpecifier]TypeInfo{}
	}
	for _, t := range types {
		qual, ok := t.QualifiedName()
		if !ok {
			continue
		}
		typeMap[qual] = t
	}
	return context.WithValue(ctx, knownTypesKey{}, typeMap)
}

// WithFunctions adds custom functions on top of the builtin library.
// Functions registered this way accept any number of arguments; use
// WithRegistry for precise arity control.
func WithFunctions(ctx context.Context, functions Functions) context.Context {
	fns, ok := ctx.Value(functionsKey{}).(Functions)
	if ok {
		fns = maps.Clone(fns)
	} else {
		fns = Functions{}
	}
	maps.Copy(fns, functions)
	return context.WithValue(ctx, functionsKey{}, fns)
}

// WithRegistry replaces the function registry for the evaluation.
func WithRegistry(ctx context.Context, registry *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, registry)
}

// WithResolver installs the reference resolver backing resolve().
func WithResolver(ctx context.Context, resolver Resolver) context.Context {
	return context.WithValue(ctx, resolverKey{}, resolver)
}

// withEvaluationInstant pins now()/today()/timeOfDay() to a single
// instant so repeated calls within one evaluation agree.
func withEvaluationInstant(ctx context.Context) context.Context {
	if _, ok := ctx.Value(evalInstantKey{}).(time.Time); ok {
		return ctx
	}
	return context.WithValue(ctx, evalInstantKey{}, time.Now())
}

var systemVariables = map[string]Collection{
	"context":      nil,
	"resource":     nil,
	"rootResource": nil,
	"ucum":         {String("http://unitsofmeasure.org")},
	"loinc":        {String("http://loinc.org")},
	"sct":          {String("http://snomed.info/sct")},
}

// newEvalCtx assembles the evaluation state from the configuration
// carried in the context.
func newEvalCtx(ctx context.Context) *evalCtx {
	ec := &evalCtx{
		ctx:      ctx,
		maxDepth: defaultMaxDepth,
		now:      time.Now(),
	}

	if apdCtx, ok := ctx.Value(apdContextKey{}).(*apd.Context); ok && apdCtx != nil {
		ec.apd = apdCtx
	}
	if tracer, ok := ctx.Value(tracerKey{}).(Tracer); ok && tracer != nil {
		ec.tracer = tracer
	} else {
		ec.tracer = StdoutTracer{}
	}
	if depth, ok := ctx.Value(maxDepthKey{}).(int); ok && depth > 0 {
		ec.maxDepth = depth
	}
	if ns, ok := ctx.Value(namespaceKey{}).(string); ok {
		ec.namespace = ns
	}
	if types, ok := ctx.Value(knownTypesKey{}).(map[TypeSpecifier]TypeInfo); ok {
		ec.types = types
	}
	if resolver, ok := ctx.Value(resolverKey{}).(Resolver); ok {
		ec.resolver = resolver
	}
	if instant, ok := ctx.Value(evalInstantKey{}).(time.Time); ok {
		ec.now = instant
	}

	if registry, ok := ctx.Value(registryKey{}).(*Registry); ok && registry != nil {
		ec.registry = registry
	} else {
		ec.registry = DefaultRegistry()
	}
	if fns, ok := ctx.Value(functionsKey{}).(Functions); ok && len(fns) > 0 {
		ec.registry = ec.registry.clone()
		for name, fn := range fns {
			ec.registry.Replace(name, 0, -1, fn)
		}
	}

	ec.env = make(map[string]Collection, len(systemVariables))
	maps.Copy(ec.env, systemVariables)
	if env, ok := ctx.Value(envKey{}).(map[string]Collection); ok {
		maps.Copy(ec.env, env)
	}

	return ec
}

// Evaluate runs a parsed expression against a target element and
// returns the resulting collection. Any error aborts the whole
// evaluation; there are no partial results.
func Evaluate(ctx context.Context, target Element, expr Expression) (Collection, error) {
	if expr.node == nil {
		return nil, evalErrorf(ErrInvalidArgument, "can not evaluate empty expression")
	}

	ctx = withEvaluationInstant(ctx)
	ec := newEvalCtx(ctx)
	ec.root = target

	if target != nil {
		ec.setEnv("context", Collection{target})
		if _, bound := ctx.Value(envKey{}).(map[string]Collection); !bound || ec.env["resource"] == nil {
			ec.setEnv("resource", Collection{target})
		}
		if ec.env["rootResource"] == nil {
			ec.setEnv("rootResource", Collection{target})
		}
	}

	input := Collection{}
	if target != nil {
		input = Collection{target}
	}
	result, _, err := ec.eval(input, true, expr.node, true)
	return result, err
}

// EvaluateString parses and evaluates in one step, for one-shot use.
func EvaluateString(ctx context.Context, target Element, expr string) (Collection, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return Evaluate(ctx, target, e)
}
