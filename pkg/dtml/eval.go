package dtml

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/benjaminschreck/go-dtml/pkg/dtml/pyformat"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// getAttribute is expression attribute access. The namespace object "_"
// exposes the builtins and a few helper methods; everything else goes
// through the access policy.
func getAttribute(ns *Namespace, obj any, name string) (any, error) {
	if target, ok := obj.(*Namespace); ok {
		if fn, ok := target.env.builtins.Get(name); ok {
			return fn, nil
		}
		if m := namespaceMethod(target, name); m != nil {
			return m, nil
		}
		return nil, NewException("AttributeError", "namespace has no attribute '%s'", name)
	}
	v, err := ns.env.getter.GetAttr(obj, name)
	if err != nil {
		if isNoAttribute(err) {
			return nil, NewException("AttributeError", "'%s' object has no attribute '%s'", typeName(obj), name)
		}
		return nil, err
	}
	return v, nil
}

func namespaceMethod(ns *Namespace, name string) any {
	switch name {
	case "getitem":
		return func(key string, call ...any) (any, error) {
			return ns.Lookup(key, len(call) > 0 && isTruthy(call[0]))
		}
	case "has_key", "has":
		return func(key string) bool { return ns.Has(key) }
	case "get":
		return func(key string, def ...any) (any, error) {
			v, err := ns.Lookup(key, true)
			if IsLookupError(err) {
				if len(def) > 0 {
					return def[0], nil
				}
				return nil, nil
			}
			return v, err
		}
	case "render":
		return func(v any) (any, error) { return ns.Render(v) }
	}
	return nil
}

// EvaluateBinaryOperation evaluates an arithmetic operation between two values
func EvaluateBinaryOperation(left any, operator string, right any) (any, error) {
	switch operator {
	case "+":
		return evaluateAddition(left, right)
	case "-":
		return evaluateArithmetic(left, operator, right)
	case "*":
		return evaluateMultiplication(left, right)
	case "/":
		return evaluateDivision(left, right)
	case "//":
		return evaluateArithmetic(left, operator, right)
	case "%":
		return evaluateModulo(left, right)
	case "**":
		return evaluatePower(left, right)
	default:
		return nil, fmt.Errorf("unknown binary operator: %s", operator)
	}
}

func unsupported(op string, left, right any) error {
	return NewException("TypeError", "unsupported operand type(s) for %s: '%s' and '%s'", op, typeName(left), typeName(right))
}

func evaluateAddition(left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls + rs, nil
		}
		return nil, NewException("TypeError", "can only concatenate str (not \"%s\") to str", typeName(right))
	}
	if isList(left) && isList(right) {
		l, _ := materialize(left)
		r, _ := materialize(right)
		out := make([]any, 0, len(l)+len(r))
		return append(append(out, l...), r...), nil
	}
	return evaluateArithmetic(left, "+", right)
}

// evaluateArithmetic handles +, -, // on numbers. Integer operands give an
// integer result.
func evaluateArithmetic(left any, op string, right any) (any, error) {
	if li, ok := toInt(left); ok {
		if ri, ok := toInt(right); ok {
			switch op {
			case "+":
				return li + ri, nil
			case "-":
				return li - ri, nil
			case "//":
				if ri == 0 {
					return nil, NewException("ZeroDivisionError", "integer division or modulo by zero")
				}
				q := li / ri
				if (li%ri != 0) && ((li < 0) != (ri < 0)) {
					q--
				}
				return q, nil
			}
		}
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, unsupported(op, left, right)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "//":
		if rf == 0 {
			return nil, NewException("ZeroDivisionError", "float floor division by zero")
		}
		return math.Floor(lf / rf), nil
	}
	return nil, unsupported(op, left, right)
}

func evaluateMultiplication(left, right any) (any, error) {
	if n, ok := toInt(right); ok {
		if s, ok := left.(string); ok {
			return strings.Repeat(s, max(n, 0)), nil
		}
		if isList(left) {
			return repeatList(left, n), nil
		}
	}
	if n, ok := toInt(left); ok {
		if s, ok := right.(string); ok {
			return strings.Repeat(s, max(n, 0)), nil
		}
		if isList(right) {
			return repeatList(right, n), nil
		}
	}
	if li, ok := toInt(left); ok {
		if ri, ok := toInt(right); ok {
			return li * ri, nil
		}
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, unsupported("*", left, right)
	}
	return lf * rf, nil
}

func repeatList(list any, n int) []any {
	items, _ := materialize(list)
	out := make([]any, 0, len(items)*max(n, 0))
	for i := 0; i < n; i++ {
		out = append(out, items...)
	}
	return out
}

// evaluateDivision is true division: the result is always a float.
func evaluateDivision(left, right any) (any, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, unsupported("/", left, right)
	}
	if rf == 0 {
		return nil, NewException("ZeroDivisionError", "division by zero")
	}
	return lf / rf, nil
}

// evaluateModulo takes the sign of the divisor. A string left operand is a
// format applied to the right operand.
func evaluateModulo(left, right any) (any, error) {
	if format, ok := left.(string); ok {
		value := right
		if items, ok := right.([]any); ok {
			if len(items) != 1 {
				return nil, NewException("TypeError", "format requires exactly one argument, got %d", len(items))
			}
			value = items[0]
		}
		out, err := pyformat.Format(format, value)
		if err != nil {
			return nil, NewException("TypeError", "%v", err)
		}
		return out, nil
	}
	if li, ok := toInt(left); ok {
		if ri, ok := toInt(right); ok {
			if ri == 0 {
				return nil, NewException("ZeroDivisionError", "integer division or modulo by zero")
			}
			return ((li % ri) + ri) % ri, nil
		}
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, unsupported("%", left, right)
	}
	if rf == 0 {
		return nil, NewException("ZeroDivisionError", "float modulo")
	}
	m := math.Mod(lf, rf)
	if m != 0 && (m < 0) != (rf < 0) {
		m += rf
	}
	return m, nil
}

func evaluatePower(left, right any) (any, error) {
	if li, ok := toInt(left); ok {
		if ri, ok := toInt(right); ok && ri >= 0 {
			result := 1
			for i := 0; i < ri; i++ {
				result *= li
			}
			return result, nil
		}
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, unsupported("**", left, right)
	}
	if lf == 0 && rf < 0 {
		return nil, NewException("ZeroDivisionError", "0.0 cannot be raised to a negative power")
	}
	return math.Pow(lf, rf), nil
}

func evaluateComparison(left any, op string, right any) (bool, error) {
	switch op {
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	case "in":
		return contains(right, left)
	case "not in":
		in, err := contains(right, left)
		return !in, err
	case "is":
		return valuesIdentical(left, right), nil
	case "is not":
		return !valuesIdentical(left, right), nil
	}

	c, err := compareValues(left, right)
	if err != nil {
		return false, NewException("TypeError", "'%s' not supported between instances of '%s' and '%s'", op, typeName(left), typeName(right))
	}
	switch op {
	case "<":
		return c < 0, nil
	case ">":
		return c > 0, nil
	case "<=":
		return c <= 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison operator: %s", op)
}

// valuesEqual compares numbers by value across types and everything else
// structurally.
func valuesEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if li, ok := toInt(left); ok {
		if ri, ok := toInt(right); ok {
			return li == ri
		}
	}
	if lf, ok := toFloat64(left); ok {
		if rf, ok := toFloat64(right); ok {
			return lf == rf
		}
		return false
	}
	if lb, ok := left.([]byte); ok {
		if rb, ok := right.([]byte); ok {
			return bytes.Equal(lb, rb)
		}
	}
	if isList(left) && isList(right) {
		l, _ := materialize(left)
		r, _ := materialize(right)
		if len(l) != len(r) {
			return false
		}
		for i := range l {
			if !valuesEqual(l[i], r[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(left, right)
}

func valuesIdentical(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	lv, rv := reflect.ValueOf(left), reflect.ValueOf(right)
	if lv.Type() != rv.Type() {
		return false
	}
	switch lv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return lv.Pointer() == rv.Pointer()
	}
	return lv.Comparable() && left == right
}

// compareValues orders numbers, strings and lists. Other combinations are
// not ordered and report an error.
func compareValues(left, right any) (int, error) {
	if li, ok := toInt(left); ok {
		if ri, ok := toInt(right); ok {
			return cmpOrdered(li, ri), nil
		}
	}
	if lf, ok := toFloat64(left); ok {
		if rf, ok := toFloat64(right); ok {
			return cmpOrdered(lf, rf), nil
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return strings.Compare(ls, rs), nil
		}
	}
	if isList(left) && isList(right) {
		l, _ := materialize(left)
		r, _ := materialize(right)
		for i := 0; i < len(l) && i < len(r); i++ {
			c, err := compareValues(l[i], r[i])
			if err != nil || c != 0 {
				return c, err
			}
		}
		return cmpOrdered(len(l), len(r)), nil
	}
	return 0, fmt.Errorf("cannot compare %s and %s", typeName(left), typeName(right))
}

func cmpOrdered[T int | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, NewException("TypeError", "'in <string>' requires string as left operand, not %s", typeName(item))
		}
		return strings.Contains(c, s), nil
	case Layer:
		key, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, found, err := c.Resolve(key)
		return found, err
	}

	v := reflect.ValueOf(container)
	switch v.Kind() {
	case reflect.Map:
		k, err := convertArg(item, v.Type().Key())
		if err != nil {
			return false, nil
		}
		return v.MapIndex(k).IsValid(), nil
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if valuesEqual(v.Index(i).Interface(), item) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, NewException("TypeError", "argument of type '%s' is not iterable", typeName(container))
}

// Helper functions for unary operations
func evaluateUnaryMinus(operand any) (any, error) {
	if i, ok := toInt(operand); ok {
		return -i, nil
	}
	if f, ok := toFloat64(operand); ok {
		return -f, nil
	}
	return nil, NewException("TypeError", "bad operand type for unary -: '%s'", typeName(operand))
}

func evaluateUnaryPlus(operand any) (any, error) {
	if i, ok := toInt(operand); ok {
		return i, nil
	}
	if f, ok := toFloat64(operand); ok {
		return f, nil
	}
	return nil, NewException("TypeError", "bad operand type for unary +: '%s'", typeName(operand))
}

// sliceValue applies low:high slicing with clamped bounds.
func sliceValue(obj any, low, high *int) (any, error) {
	bounds := func(n int) (int, int) {
		lo, hi := 0, n
		if low != nil {
			lo = *low
		}
		if high != nil {
			hi = *high
		}
		if lo < 0 {
			lo += n
		}
		if hi < 0 {
			hi += n
		}
		lo = min(max(lo, 0), n)
		hi = min(max(hi, 0), n)
		if hi < lo {
			hi = lo
		}
		return lo, hi
	}

	if s, ok := obj.(string); ok {
		runes := []rune(s)
		lo, hi := bounds(len(runes))
		return string(runes[lo:hi]), nil
	}
	if !isList(obj) {
		return nil, NewException("TypeError", "'%s' object is not subscriptable", typeName(obj))
	}
	items, _ := materialize(obj)
	lo, hi := bounds(len(items))
	out := make([]any, hi-lo)
	copy(out, items[lo:hi])
	return out, nil
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// callFunc calls fn with args, converting arguments to the parameter types.
// A trailing error result is returned as the error. Panics are recovered.
func callFunc(fn any, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, RecoverError(r)
		}
	}()

	if f, ok := fn.(Function); ok {
		return f.Call(args...)
	}

	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, NewException("TypeError", "'%s' object is not callable", typeName(fn))
	}
	t := v.Type()

	fixed := t.NumIn()
	if t.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, NewException("TypeError", "expected at least %d arguments, got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, NewException("TypeError", "expected %d arguments, got %d", fixed, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var pt reflect.Type
		if i < fixed {
			pt = t.In(i)
		} else {
			pt = t.In(fixed).Elem()
		}
		cv, err := convertArg(arg, pt)
		if err != nil {
			return nil, err
		}
		in[i] = cv
	}

	out := v.Call(in)
	if n := len(out); n > 0 && t.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// convertArg converts v to a value assignable to t.
func convertArg(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, NewException("TypeError", "None cannot be used as %s", t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if i, ok := toInt(v); ok {
			return reflect.ValueOf(i).Convert(t), nil
		}
		if f, ok := toFloat64(v); ok && f == math.Trunc(f) {
			return reflect.ValueOf(int(f)).Convert(t), nil
		}
	case reflect.Float32, reflect.Float64:
		if f, ok := toFloat64(v); ok {
			return reflect.ValueOf(f).Convert(t), nil
		}
	case reflect.String:
		if rv.Kind() == reflect.String {
			return rv.Convert(t), nil
		}
	case reflect.Bool:
		return reflect.ValueOf(isTruthy(v)).Convert(t), nil
	case reflect.Slice:
		if isList(v) {
			items, _ := materialize(v)
			out := reflect.MakeSlice(t, len(items), len(items))
			for i, item := range items {
				cv, err := convertArg(item, t.Elem())
				if err != nil {
					return reflect.Value{}, err
				}
				out.Index(i).Set(cv)
			}
			return out, nil
		}
	}
	if rv.Type().ConvertibleTo(t) && rv.Kind() == t.Kind() {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, NewException("TypeError", "argument of type '%s' cannot be used as %s", typeName(v), t)
}

// toInt converts integer kinds and bools. Floats are not integers here.
func toInt(val any) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	if i, ok := toInt(val); ok {
		return float64(i), true
	}
	return 0, false
}

func isNumber(val any) bool {
	_, ok := toFloat64(val)
	return ok
}

func isTruthy(val any) bool {
	if val == nil {
		return false
	}

	switch v := val.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case []byte:
		return len(v) > 0
	case interface{ Len() int }:
		return v.Len() > 0
	}
	if f, ok := toFloat64(val); ok {
		return f != 0
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// isNull reports a value that is false but not zero: None, empty strings
// and empty collections. Zero numbers and false are not null.
func isNull(val any) bool {
	return !isTruthy(val) && !isNumber(val)
}
