package fhirpath

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Tracer receives the output of the trace() function.
type Tracer interface {
	// Log logs a trace message with the given name and collection.
	Log(name string, collection Collection) error
}

// StdoutTracer writes traces to stdout.
type StdoutTracer struct{}

func (w StdoutTracer) Log(name string, collection Collection) error {
	_, err := fmt.Printf("%s: %v\n", name, collection)
	return err
}

// LogTracer writes traces as debug events on a zerolog logger.
type LogTracer struct {
	Logger zerolog.Logger
}

func (t LogTracer) Log(name string, collection Collection) error {
	t.Logger.Debug().
		Str("trace", name).
		Stringer("collection", collection).
		Msg("fhirpath trace")
	return nil
}

// Function is the implementation of a FHIRPath function.
//
// target is the input collection the function was invoked on and root
// the original evaluation target. parameters are the unevaluated
// argument expressions; implementations evaluate them on demand through
// evaluate, which runs an expression against a target collection in an
// isolated variable scope. Lambda-style functions pass a FunctionScope
// to bind $index and $total for the evaluation.
//
// inputOrdered reports whether the target preserves a defined order;
// the returned resultOrdered must report the same for the result.
type Function = func(
	ctx context.Context,
	root Element, target Collection,
	inputOrdered bool,
	parameters []Expression,
	evaluate EvaluateFunc,
) (result Collection, resultOrdered bool, err error)

// EvaluateFunc evaluates an argument expression against a target.
// A nil scope preserves the caller's lambda scope.
type EvaluateFunc = func(
	ctx context.Context,
	target Collection,
	expr Expression,
	scope *FunctionScope,
) (result Collection, resultOrdered bool, err error)

// FunctionScope binds the lambda variables for one evaluation of an
// argument expression. $this is the single element of the target the
// expression is evaluated against.
type FunctionScope struct {
	Index int
	Total Collection
}

// lambdaScope is the resolved scope the evaluator consults for $this,
// $index and $total.
type lambdaScope struct {
	this      Element
	index     int
	aggregate bool
	total     Collection
}

// Functions maps function names to implementations, for registering
// custom functions on an evaluation.
type Functions map[string]Function

// registration is one registered signature of a function name.
type registration struct {
	minArity int
	// maxArity < 0 means variadic.
	maxArity int
	fn       Function
}

func (r registration) accepts(arity int) bool {
	if arity < r.minArity {
		return false
	}
	return r.maxArity < 0 || arity <= r.maxArity
}

// Registry resolves function names and checks arity at dispatch time.
// Registration happens at startup; lookups are read-only afterwards, so
// a populated Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]registration{}}
}

// Register adds a function under the given name. Registering a name
// twice is an error; replacing a builtin must be a deliberate act via
// Replace.
func (r *Registry) Register(name string, minArity, maxArity int, fn Function) error {
	if fn == nil {
		return fmt.Errorf("register %q: nil function", name)
	}
	if maxArity >= 0 && minArity > maxArity {
		return fmt.Errorf("register %q: minArity %d exceeds maxArity %d", name, minArity, maxArity)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("register %q: already registered", name)
	}
	r.entries[name] = registration{minArity: minArity, maxArity: maxArity, fn: fn}
	return nil
}

// Replace adds or overwrites a function under the given name.
func (r *Registry) Replace(name string, minArity, maxArity int, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{minArity: minArity, maxArity: maxArity, fn: fn}
}

// Lookup resolves a function for a call with the given argument count.
// The two failure modes are distinct: an unknown name and a known name
// called with an unsupported number of arguments.
func (r *Registry) Lookup(name string, arity int) (Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	if !ok {
		return nil, fnErrorf(ErrUnknownFunction, name, "function not found")
	}
	if !reg.accepts(arity) {
		if reg.maxArity < 0 {
			return nil, fnErrorf(ErrArityMismatch, name, "expected at least %d arguments, got %d", reg.minArity, arity)
		}
		if reg.minArity == reg.maxArity {
			return nil, fnErrorf(ErrArityMismatch, name, "expected %d arguments, got %d", reg.minArity, arity)
		}
		return nil, fnErrorf(ErrArityMismatch, name, "expected %d to %d arguments, got %d", reg.minArity, reg.maxArity, arity)
	}
	return reg.fn, nil
}

// clone returns a copy of the registry for per-evaluation overrides.
func (r *Registry) clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewRegistry()
	for name, reg := range r.entries {
		clone.entries[name] = reg
	}
	return clone
}

type builtin struct {
	name     string
	minArity int
	maxArity int
	fn       Function
}

func mustRegister(r *Registry, builtins []builtin) {
	for _, b := range builtins {
		if err := r.Register(b.name, b.minArity, b.maxArity, b.fn); err != nil {
			panic(err)
		}
	}
}

// DefaultRegistry returns the registry holding the full builtin
// function library. It is built once and shared; do not mutate it, use
// WithFunctions or a fresh Registry for custom functions.
var DefaultRegistry func() *Registry

func init() {
	DefaultRegistry = sync.OnceValue(func() *Registry {
		r := NewRegistry()
		mustRegister(r, collectionBuiltins)
		mustRegister(r, existenceBuiltins)
		mustRegister(r, typeBuiltins)
		mustRegister(r, stringBuiltins)
		mustRegister(r, mathBuiltins)
		mustRegister(r, conversionBuiltins)
		mustRegister(r, utilityBuiltins)
		return r
	})
}
