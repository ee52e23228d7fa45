package dtml

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/benjaminschreck/go-dtml/pkg/dtml/pyformat"
	"github.com/benjaminschreck/go-dtml/pkg/dtml/quote"
)

var (
	// ErrNoAttribute is returned by an AttributeGetter when the object has
	// no attribute of that name. Instance layers treat it as absence.
	ErrNoAttribute = errors.New("no such attribute")

	// ErrUnauthorized is returned when the access policy refuses a name.
	ErrUnauthorized = errors.New("unauthorized")
)

// AttributeGetter is the policy-checked attribute access used for instance
// layers, expression attribute access and cursor values.
type AttributeGetter interface {
	GetAttr(obj any, name string) (any, error)
}

// ItemGetter is the policy-checked subscript access used for expression
// indexing, mapping items and sort keys.
type ItemGetter interface {
	GetItem(container any, key any) (any, error)
}

// AttributeProvider lets a value expose computed attributes without
// reflection.
type AttributeProvider interface {
	Attribute(name string) (any, bool)
}

// ReflectAccess is the default access policy. It resolves map keys, struct
// fields and methods (by exact name, then with the first letter
// upper-cased), a few string and mapping methods, and AttributeProvider
// attributes. Names starting with an underscore are refused.
type ReflectAccess struct{}

var _ AttributeGetter = ReflectAccess{}
var _ ItemGetter = ReflectAccess{}

func (ReflectAccess) GetAttr(obj any, name string) (any, error) {
	if strings.HasPrefix(name, "_") {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, name)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoAttribute, name)
	}
	if p, ok := obj.(AttributeProvider); ok {
		if v, ok := p.Attribute(name); ok {
			return v, nil
		}
	}
	if s, ok := obj.(string); ok {
		if fn := stringMethod(s, name); fn != nil {
			return fn, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoAttribute, name)
	}

	v := reflect.ValueOf(obj)
	if m := findMethod(v, name); m.IsValid() {
		return m.Interface(), nil
	}
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: %s", ErrNoAttribute, name)
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			if item := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key())); item.IsValid() {
				return item.Interface(), nil
			}
		}
		if fn := mapMethod(v, name); fn != nil {
			return fn, nil
		}
	case reflect.Struct:
		if f := findField(v, name); f.IsValid() {
			return f.Interface(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAttribute, name)
}

func exportedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

func findMethod(v reflect.Value, name string) reflect.Value {
	if !v.IsValid() {
		return reflect.Value{}
	}
	for _, n := range []string{name, exportedName(name)} {
		if m := v.MethodByName(n); m.IsValid() {
			return m
		}
	}
	return reflect.Value{}
}

func findField(v reflect.Value, name string) reflect.Value {
	for _, n := range []string{name, exportedName(name)} {
		sf, ok := v.Type().FieldByName(n)
		if !ok || !sf.IsExported() {
			continue
		}
		return v.FieldByIndex(sf.Index)
	}
	return reflect.Value{}
}

func (ReflectAccess) GetItem(container any, key any) (any, error) {
	switch c := container.(type) {
	case nil:
		return nil, NewException("TypeError", "'NoneType' object is not subscriptable")
	case Layer:
		name, ok := key.(string)
		if !ok {
			return nil, &LookupError{Key: fmt.Sprint(key)}
		}
		b, found, err := c.Resolve(name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, &LookupError{Key: name}
		}
		return b.Value, nil
	case Pair:
		i, ok := toInt(key)
		if !ok {
			return nil, NewException("TypeError", "tuple indices must be integers, not %s", typeName(key))
		}
		switch i {
		case 0, -2:
			return c.Key, nil
		case 1, -1:
			return c.Value, nil
		}
		return nil, NewException("IndexError", "tuple index out of range")
	case string:
		i, ok := toInt(key)
		if !ok {
			return nil, NewException("TypeError", "string indices must be integers")
		}
		runes := []rune(c)
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return nil, NewException("IndexError", "string index out of range")
		}
		return string(runes[i]), nil
	}

	v := reflect.ValueOf(container)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, NewException("TypeError", "'NoneType' object is not subscriptable")
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		k, err := convertArg(key, v.Type().Key())
		if err != nil {
			return nil, &LookupError{Key: fmt.Sprint(key)}
		}
		item := v.MapIndex(k)
		if !item.IsValid() {
			return nil, &LookupError{Key: fmt.Sprint(key)}
		}
		return item.Interface(), nil
	case reflect.Slice, reflect.Array:
		i, ok := toInt(key)
		if !ok {
			return nil, NewException("TypeError", "list indices must be integers, not %s", typeName(key))
		}
		if i < 0 {
			i += v.Len()
		}
		if i < 0 || i >= v.Len() {
			return nil, NewException("IndexError", "list index out of range")
		}
		return v.Index(i).Interface(), nil
	case reflect.Struct:
		if name, ok := key.(string); ok {
			if f := findField(v, name); f.IsValid() {
				return f.Interface(), nil
			}
			return nil, &LookupError{Key: name}
		}
	}
	return nil, NewException("TypeError", "'%s' object is not subscriptable", typeName(container))
}

// stringMethod returns the bound string method name, or nil.
func stringMethod(s, name string) any {
	switch name {
	case "upper":
		return func() string { return strings.ToUpper(s) }
	case "lower":
		return func() string { return strings.ToLower(s) }
	case "capitalize":
		return func() string { return quote.Capitalize(s) }
	case "title":
		return func() string { return titleCase(s) }
	case "strip":
		return func(chars ...string) string {
			if len(chars) > 0 {
				return strings.Trim(s, chars[0])
			}
			return strings.TrimSpace(s)
		}
	case "lstrip":
		return func(chars ...string) string {
			if len(chars) > 0 {
				return strings.TrimLeft(s, chars[0])
			}
			return strings.TrimLeftFunc(s, unicode.IsSpace)
		}
	case "rstrip":
		return func(chars ...string) string {
			if len(chars) > 0 {
				return strings.TrimRight(s, chars[0])
			}
			return strings.TrimRightFunc(s, unicode.IsSpace)
		}
	case "split":
		return func(sep ...string) []any {
			var parts []string
			if len(sep) > 0 {
				parts = strings.Split(s, sep[0])
			} else {
				parts = strings.Fields(s)
			}
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out
		}
	case "join":
		return func(items any) (string, error) {
			seq, err := materialize(items)
			if err != nil {
				return "", err
			}
			parts := make([]string, len(seq))
			for i, item := range seq {
				str, ok := item.(string)
				if !ok {
					return "", NewException("TypeError", "sequence item %d: expected str instance, %s found", i, typeName(item))
				}
				parts[i] = str
			}
			return strings.Join(parts, s), nil
		}
	case "replace":
		return func(old, repl string) string { return strings.ReplaceAll(s, old, repl) }
	case "startswith":
		return func(prefix string) bool { return strings.HasPrefix(s, prefix) }
	case "endswith":
		return func(suffix string) bool { return strings.HasSuffix(s, suffix) }
	case "find":
		return func(sub string) int {
			i := strings.Index(s, sub)
			if i < 0 {
				return -1
			}
			return utf8.RuneCountInString(s[:i])
		}
	case "count":
		return func(sub string) int { return strings.Count(s, sub) }
	}
	return nil
}

func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		b.WriteRune(r)
	}
	return b.String()
}

// mapMethod returns the bound mapping method name of a string-keyed map.
func mapMethod(m reflect.Value, name string) any {
	sortedKeys := func() []reflect.Value {
		keys := m.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		return keys
	}
	switch name {
	case "keys":
		return func() []any {
			var out []any
			for _, k := range sortedKeys() {
				out = append(out, k.Interface())
			}
			return out
		}
	case "values":
		return func() []any {
			var out []any
			for _, k := range sortedKeys() {
				out = append(out, m.MapIndex(k).Interface())
			}
			return out
		}
	case "items":
		return func() []any {
			var out []any
			for _, k := range sortedKeys() {
				out = append(out, Pair{Key: k.Interface(), Value: m.MapIndex(k).Interface()})
			}
			return out
		}
	case "get":
		return func(key string, def ...any) any {
			if item := m.MapIndex(reflect.ValueOf(key).Convert(m.Type().Key())); item.IsValid() {
				return item.Interface()
			}
			if len(def) > 0 {
				return def[0]
			}
			return nil
		}
	case "has_key":
		return func(key string) bool {
			return m.MapIndex(reflect.ValueOf(key).Convert(m.Type().Key())).IsValid()
		}
	}
	return nil
}

// typeName is the short, language-neutral type name used in messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case string:
		return "str"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case []any:
		return "list"
	}
	return fmt.Sprintf("%T", v)
}

// stringOf is the string form used for output and string conversion.
func stringOf(v any) string {
	return pyformat.Str(v)
}

func isNoAttribute(err error) bool {
	return errors.Is(err, ErrNoAttribute)
}
