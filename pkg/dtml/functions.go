package dtml

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/benjaminschreck/go-dtml/pkg/dtml/pyformat"
)

// Function represents a callable function in expressions
type Function interface {
	// Call executes the function with the given arguments
	Call(args ...any) (any, error)

	// Name returns the function name
	Name() string

	// MinArgs returns the minimum number of arguments required
	MinArgs() int

	// MaxArgs returns the maximum number of arguments allowed (-1 for unlimited)
	MaxArgs() int
}

// NamespaceFunction is a Function that needs the calling namespace, for
// example to go through the engine's access policy.
type NamespaceFunction interface {
	Function
	CallIn(ns *Namespace, args ...any) (any, error)
}

// FunctionRegistry manages the functions an engine adds on top of the
// builtins.
type FunctionRegistry interface {
	// RegisterFunction adds a function to the registry
	RegisterFunction(fn Function) error

	// GetFunction retrieves a function by name
	GetFunction(name string) (Function, bool)

	// ListFunctions returns all registered function names, sorted
	ListFunctions() []string
}

// DefaultFunctionRegistry is the default implementation of FunctionRegistry
type DefaultFunctionRegistry struct {
	functions map[string]Function
	mutex     sync.RWMutex
}

// NewFunctionRegistry creates a new function registry
func NewFunctionRegistry() *DefaultFunctionRegistry {
	return &DefaultFunctionRegistry{
		functions: make(map[string]Function),
	}
}

func (r *DefaultFunctionRegistry) RegisterFunction(fn Function) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	name := fn.Name()
	if name == "" {
		return fmt.Errorf("function name cannot be empty")
	}

	r.functions[name] = fn
	return nil
}

func (r *DefaultFunctionRegistry) GetFunction(name string) (Function, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	fn, exists := r.functions[name]
	return fn, exists
}

func (r *DefaultFunctionRegistry) ListFunctions() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns base extended with every registered function.
func (r *DefaultFunctionRegistry) Snapshot(base *Builtins) *Builtins {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	fns := make([]Function, 0, len(r.functions))
	for _, fn := range r.functions {
		fns = append(fns, fn)
	}
	return base.With(fns...)
}

// SimpleFunctionImpl provides a basic implementation of Function
type SimpleFunctionImpl struct {
	name    string
	minArgs int
	maxArgs int
	handler func(args ...any) (any, error)
}

func NewSimpleFunction(name string, minArgs, maxArgs int, handler func(args ...any) (any, error)) Function {
	return &SimpleFunctionImpl{
		name:    name,
		minArgs: minArgs,
		maxArgs: maxArgs,
		handler: handler,
	}
}

func (f *SimpleFunctionImpl) Call(args ...any) (any, error) {
	if err := checkArgCount(f.name, f.minArgs, f.maxArgs, len(args)); err != nil {
		return nil, err
	}
	return f.handler(args...)
}

func (f *SimpleFunctionImpl) Name() string {
	return f.name
}

func (f *SimpleFunctionImpl) MinArgs() int {
	return f.minArgs
}

func (f *SimpleFunctionImpl) MaxArgs() int {
	return f.maxArgs
}

func checkArgCount(name string, minArgs, maxArgs, argCount int) error {
	if argCount < minArgs {
		return NewException("TypeError", "%s() requires at least %d arguments, got %d", name, minArgs, argCount)
	}
	if maxArgs >= 0 && argCount > maxArgs {
		return NewException("TypeError", "%s() accepts at most %d arguments, got %d", name, maxArgs, argCount)
	}
	return nil
}

type namespaceFunc struct {
	SimpleFunctionImpl
	nsHandler func(ns *Namespace, args ...any) (any, error)
}

// NewNamespaceFunction is NewSimpleFunction for handlers that need the
// calling namespace. Called without one, the default environment is used.
func NewNamespaceFunction(name string, minArgs, maxArgs int, handler func(ns *Namespace, args ...any) (any, error)) NamespaceFunction {
	return &namespaceFunc{
		SimpleFunctionImpl: SimpleFunctionImpl{name: name, minArgs: minArgs, maxArgs: maxArgs},
		nsHandler:          handler,
	}
}

func (f *namespaceFunc) Call(args ...any) (any, error) {
	return f.CallIn(NewNamespace(), args...)
}

func (f *namespaceFunc) CallIn(ns *Namespace, args ...any) (any, error) {
	if err := checkArgCount(f.name, f.minArgs, f.maxArgs, len(args)); err != nil {
		return nil, err
	}
	return f.nsHandler(ns, args...)
}

// Builtins is an immutable table of functions visible to every expression.
// Use With to derive an extended table.
type Builtins struct {
	functions map[string]Function
}

var (
	defaultBuiltins *Builtins
	builtinsOnce    sync.Once
)

// DefaultBuiltins returns the shared table of standard builtins.
func DefaultBuiltins() *Builtins {
	builtinsOnce.Do(func() {
		defaultBuiltins = (&Builtins{}).With(standardFunctions()...)
	})
	return defaultBuiltins
}

// Get returns the function bound to name.
func (b *Builtins) Get(name string) (Function, bool) {
	if b == nil {
		return nil, false
	}
	fn, ok := b.functions[name]
	return fn, ok
}

// With returns a copy of b with fns added. Later functions replace earlier
// ones of the same name.
func (b *Builtins) With(fns ...Function) *Builtins {
	out := &Builtins{functions: make(map[string]Function, len(b.functions)+len(fns))}
	for name, fn := range b.functions {
		out.functions[name] = fn
	}
	for _, fn := range fns {
		out.functions[fn.Name()] = fn
	}
	return out
}

// Names returns the sorted function names.
func (b *Builtins) Names() []string {
	names := make([]string, 0, len(b.functions))
	for name := range b.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func standardFunctions() []Function {
	return []Function{
		NewSimpleFunction("abs", 1, 1, func(args ...any) (any, error) {
			if i, ok := toInt(args[0]); ok {
				if i < 0 {
					return -i, nil
				}
				return i, nil
			}
			if f, ok := toFloat64(args[0]); ok {
				return math.Abs(f), nil
			}
			return nil, NewException("TypeError", "bad operand type for abs(): '%s'", typeName(args[0]))
		}),
		NewSimpleFunction("bool", 0, 1, func(args ...any) (any, error) {
			return len(args) > 0 && isTruthy(args[0]), nil
		}),
		NewSimpleFunction("chr", 1, 1, func(args ...any) (any, error) {
			i, ok := toInt(args[0])
			if !ok {
				return nil, NewException("TypeError", "an integer is required (got type %s)", typeName(args[0]))
			}
			if i < 0 || i > utf8.MaxRune {
				return nil, NewException("ValueError", "chr() arg not in range(0x110000)")
			}
			return string(rune(i)), nil
		}),
		NewSimpleFunction("divmod", 2, 2, func(args ...any) (any, error) {
			q, err := EvaluateBinaryOperation(args[0], "//", args[1])
			if err != nil {
				return nil, err
			}
			m, err := EvaluateBinaryOperation(args[0], "%", args[1])
			if err != nil {
				return nil, err
			}
			return []any{q, m}, nil
		}),
		NewSimpleFunction("float", 0, 1, func(args ...any) (any, error) {
			if len(args) == 0 {
				return 0.0, nil
			}
			if s, ok := args[0].(string); ok {
				f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if err != nil {
					return nil, NewException("ValueError", "could not convert string to float: %s", pyformat.Repr(s))
				}
				return f, nil
			}
			if f, ok := toFloat64(args[0]); ok {
				return f, nil
			}
			return nil, NewException("TypeError", "float() argument must be a string or a number, not '%s'", typeName(args[0]))
		}),
		NewSimpleFunction("int", 0, 2, builtinInt),
		NewSimpleFunction("hex", 1, 1, func(args ...any) (any, error) {
			return formatBase(args[0], 16, "0x")
		}),
		NewSimpleFunction("oct", 1, 1, func(args ...any) (any, error) {
			return formatBase(args[0], 8, "0o")
		}),
		NewSimpleFunction("ord", 1, 1, func(args ...any) (any, error) {
			s, ok := args[0].(string)
			if !ok || utf8.RuneCountInString(s) != 1 {
				return nil, NewException("TypeError", "ord() expected a character")
			}
			r, _ := utf8.DecodeRuneInString(s)
			return int(r), nil
		}),
		NewSimpleFunction("len", 1, 1, func(args ...any) (any, error) {
			return length(args[0])
		}),
		NewSimpleFunction("list", 0, 1, func(args ...any) (any, error) {
			if len(args) == 0 {
				return []any{}, nil
			}
			if s, ok := args[0].(string); ok {
				out := make([]any, 0, len(s))
				for _, r := range s {
					out = append(out, string(r))
				}
				return out, nil
			}
			return materialize(args[0])
		}),
		NewSimpleFunction("max", 1, -1, func(args ...any) (any, error) {
			return extreme("max", args, 1)
		}),
		NewSimpleFunction("min", 1, -1, func(args ...any) (any, error) {
			return extreme("min", args, -1)
		}),
		NewSimpleFunction("pow", 2, 3, func(args ...any) (any, error) {
			v, err := EvaluateBinaryOperation(args[0], "**", args[1])
			if err != nil || len(args) == 2 {
				return v, err
			}
			return EvaluateBinaryOperation(v, "%", args[2])
		}),
		NewSimpleFunction("range", 1, 3, builtinRange),
		NewSimpleFunction("round", 1, 2, builtinRound),
		NewSimpleFunction("sorted", 1, 1, func(args ...any) (any, error) {
			items, err := materialize(args[0])
			if err != nil {
				return nil, err
			}
			out := append([]any(nil), items...)
			var cmpErr error
			sort.SliceStable(out, func(i, j int) bool {
				c, err := compareValues(out[i], out[j])
				if err != nil && cmpErr == nil {
					cmpErr = NewException("TypeError", "%v", err)
				}
				return c < 0
			})
			if cmpErr != nil {
				return nil, cmpErr
			}
			return out, nil
		}),
		NewSimpleFunction("str", 0, 1, func(args ...any) (any, error) {
			if len(args) == 0 {
				return "", nil
			}
			return stringOf(args[0]), nil
		}),
		NewSimpleFunction("repr", 1, 1, func(args ...any) (any, error) {
			return pyformat.Repr(args[0]), nil
		}),
		NewSimpleFunction("sum", 1, 2, func(args ...any) (any, error) {
			items, err := materialize(args[0])
			if err != nil {
				return nil, err
			}
			var total any = 0
			if len(args) == 2 {
				total = args[1]
			}
			for _, item := range items {
				if total, err = EvaluateBinaryOperation(total, "+", item); err != nil {
					return nil, err
				}
			}
			return total, nil
		}),
		// test(cond1, value1, cond2, value2, ..., default)
		NewSimpleFunction("test", 1, -1, func(args ...any) (any, error) {
			for len(args) > 1 {
				if isTruthy(args[0]) {
					return args[1], nil
				}
				args = args[2:]
			}
			if len(args) == 1 {
				return args[0], nil
			}
			return nil, nil
		}),
		NewSimpleFunction("same_type", 1, -1, func(args ...any) (any, error) {
			t := fmt.Sprintf("%T", args[0])
			for _, arg := range args[1:] {
				if fmt.Sprintf("%T", arg) != t {
					return false, nil
				}
			}
			return true, nil
		}),
		// coalesce() function - returns first non-null value
		NewSimpleFunction("coalesce", 1, -1, func(args ...any) (any, error) {
			for _, arg := range args {
				if !isNull(arg) {
					return arg, nil
				}
			}
			return nil, nil
		}),
		NewNamespaceFunction("getattr", 2, 3, func(ns *Namespace, args ...any) (any, error) {
			name, ok := args[1].(string)
			if !ok {
				return nil, NewException("TypeError", "attribute name must be string")
			}
			v, err := getAttribute(ns, args[0], name)
			if err != nil && len(args) == 3 && ErrorType(err) == "AttributeError" {
				return args[2], nil
			}
			return v, err
		}),
		NewNamespaceFunction("hasattr", 2, 2, func(ns *Namespace, args ...any) (any, error) {
			name, ok := args[1].(string)
			if !ok {
				return nil, NewException("TypeError", "attribute name must be string")
			}
			_, err := getAttribute(ns, args[0], name)
			return err == nil, nil
		}),
		NewNamespaceFunction("render", 1, 1, func(ns *Namespace, args ...any) (any, error) {
			return ns.Render(args[0])
		}),
	}
}

func builtinInt(args ...any) (any, error) {
	if len(args) == 0 {
		return 0, nil
	}
	if s, ok := args[0].(string); ok {
		base := 10
		if len(args) == 2 {
			b, ok := toInt(args[1])
			if !ok {
				return nil, NewException("TypeError", "int() base must be an integer")
			}
			base = b
		}
		i, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), base, 64)
		if err != nil {
			return nil, NewException("ValueError", "invalid literal for int() with base %d: %s", base, pyformat.Repr(s))
		}
		return int(i), nil
	}
	if len(args) == 2 {
		return nil, NewException("TypeError", "int() can't convert non-string with explicit base")
	}
	if i, ok := toInt(args[0]); ok {
		return i, nil
	}
	if f, ok := toFloat64(args[0]); ok {
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, NewException("ValueError", "cannot convert float %v to integer", f)
		}
		return int(f), nil
	}
	return nil, NewException("TypeError", "int() argument must be a string or a number, not '%s'", typeName(args[0]))
}

func builtinRange(args ...any) (any, error) {
	bounds := make([]int, len(args))
	for i, arg := range args {
		n, ok := toInt(arg)
		if !ok {
			return nil, NewException("TypeError", "'%s' object cannot be interpreted as an integer", typeName(arg))
		}
		bounds[i] = n
	}
	start, stop, step := 0, 0, 1
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	default:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	}
	if step == 0 {
		return nil, NewException("ValueError", "range() arg 3 must not be zero")
	}
	out := []any{}
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		out = append(out, i)
	}
	return out, nil
}

// builtinRound rounds half to even. Without digits the result is an int.
func builtinRound(args ...any) (any, error) {
	f, ok := toFloat64(args[0])
	if !ok {
		return nil, NewException("TypeError", "type %s doesn't define __round__ method", typeName(args[0]))
	}
	if len(args) == 1 || args[1] == nil {
		if i, ok := toInt(args[0]); ok {
			return i, nil
		}
		return int(math.RoundToEven(f)), nil
	}
	digits, ok := toInt(args[1])
	if !ok {
		return nil, NewException("TypeError", "'%s' object cannot be interpreted as an integer", typeName(args[1]))
	}
	if i, ok := toInt(args[0]); ok && digits >= 0 {
		return i, nil
	}
	scale := math.Pow(10, float64(digits))
	return math.RoundToEven(f*scale) / scale, nil
}

func formatBase(v any, base int, prefix string) (any, error) {
	i, ok := toInt(v)
	if !ok {
		return nil, NewException("TypeError", "'%s' object cannot be interpreted as an integer", typeName(v))
	}
	if i < 0 {
		return "-" + prefix + strconv.FormatInt(int64(-i), base), nil
	}
	return prefix + strconv.FormatInt(int64(i), base), nil
}

func length(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return utf8.RuneCountInString(t), nil
	case interface{ Len() int }:
		return t.Len(), nil
	}
	if isList(v) {
		items, _ := materialize(v)
		return len(items), nil
	}
	if items, err := materialize(v); err == nil {
		return len(items), nil
	}
	return nil, NewException("TypeError", "object of type '%s' has no len()", typeName(v))
}

// extreme implements max (sign 1) and min (sign -1) over either the
// arguments or a single sequence argument.
func extreme(name string, args []any, sign int) (any, error) {
	items := args
	if len(args) == 1 {
		var err error
		if items, err = materialize(args[0]); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		return nil, NewException("ValueError", "%s() arg is an empty sequence", name)
	}
	best := items[0]
	for _, item := range items[1:] {
		c, err := compareValues(item, best)
		if err != nil {
			return nil, NewException("TypeError", "%v", err)
		}
		if c*sign > 0 {
			best = item
		}
	}
	return best, nil
}
