package dtml

import (
	"fmt"
	"iter"
	"reflect"
	"sort"
	"strings"
)

// Pair is a two-element (key, value) item. Maps iterate as key-sorted
// pairs, and the in tag pushes the value of a pair item.
type Pair struct {
	Key   any
	Value any
}

func (p Pair) String() string {
	return fmt.Sprintf("(%s, %s)", stringOf(p.Key), stringOf(p.Value))
}

// materialize turns a sequence value into a list. Maps become key-sorted
// pairs.
func materialize(v any) ([]any, error) {
	switch s := v.(type) {
	case nil:
		return nil, NewException("TypeError", "'NoneType' object is not iterable")
	case []any:
		return s, nil
	case []Pair:
		out := make([]any, len(s))
		for i, p := range s {
			out[i] = p
		}
		return out, nil
	case string:
		out := make([]any, 0, len(s))
		for _, r := range s {
			out = append(out, string(r))
		}
		return out, nil
	case []byte:
		return nil, NewException("TypeError", "bytes are not allowed as sequence")
	case iter.Seq[any]:
		var out []any
		for item := range s {
			out = append(out, item)
		}
		return out, nil
	case iter.Seq2[any, any]:
		var out []any
		for k, item := range s {
			out = append(out, Pair{Key: k, Value: item})
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.SliceStable(keys, func(i, j int) bool {
			c, err := compareValues(keys[i].Interface(), keys[j].Interface())
			if err != nil {
				return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
			}
			return c < 0
		})
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = Pair{Key: k.Interface(), Value: rv.MapIndex(k).Interface()}
		}
		return out, nil
	}
	return nil, NewException("TypeError", "'%s' object is not iterable", typeName(v))
}

// opt computes the actual 1-based (start, end, size) of a batch window over
// a sequence of n items. Zero means "not given" for start, end and size.
func opt(start, end, size, orphan, n int) (int, int, int) {
	has := func(i int) bool { return i < n && i >= -n }

	if size < 1 {
		if start > 0 && end > 0 && end >= start {
			size = end + 1 - start
		} else {
			size = 7
		}
	}

	switch {
	case start > 0:
		if !has(start - 1) {
			start = n
		}
		if end > 0 {
			if end < start {
				end = start
			}
		} else {
			end = start + size - 1
			if !has(end + orphan - 1) {
				end = n
			}
		}
	case end > 0:
		if !has(end - 1) {
			end = n
		}
		start = end + 1 - size
		if start-1 < orphan {
			start = 1
		}
	default:
		start = 1
		end = start + size - 1
		if !has(end + orphan - 1) {
			end = n
		}
	}
	return start, end, size
}

// Cursor holds the sequence variables of one in tag: sequence-index,
// sequence-item, sequence-number and friends, first-/last-NAME, statistics
// and the batch windows. Most facts are derived from the current index when
// they are looked up. A Cursor is a namespace layer.
type Cursor struct {
	items   []any
	data    map[string]any
	prefix  string
	mapping bool
	batch   bool
	getter  AttributeGetter
	access  ItemGetter
}

var _ Layer = (*Cursor)(nil)
var _ AttributeProvider = (*Cursor)(nil)

func newCursor(items []any, prefix string, getter AttributeGetter, access ItemGetter) *Cursor {
	if getter == nil {
		getter = ReflectAccess{}
	}
	if access == nil {
		access = ReflectAccess{}
	}
	c := &Cursor{
		items:  items,
		getter: getter,
		access: access,
		data: map[string]any{
			"sequence-start": true,
			"sequence-end":   false,
		},
	}
	if prefix != "" {
		c.prefix = prefix + "_"
	}
	return c
}

// enableBatch marks the cursor as belonging to a batched loop, which makes
// the previous-/next- variables available.
func (c *Cursor) enableBatch() {
	c.batch = true
	c.data["previous-sequence"] = false
	c.data["next-sequence"] = false
}

// Set binds key, and its prefixed alias when the loop has a prefix.
func (c *Cursor) Set(key string, value any) {
	c.data[key] = value
	if c.prefix != "" {
		c.data[c.prefix+strings.TrimPrefix(key, "sequence-")] = value
	}
}

func (c *Cursor) Len() int { return 1 }

func (c *Cursor) Resolve(key string) (Binding, bool, error) {
	v, ok, err := c.get(key)
	if err != nil || !ok {
		return Binding{}, false, err
	}
	return Binding{Kind: LiteralBinding, Value: v}, true, nil
}

func (c *Cursor) Attribute(name string) (any, bool) {
	v, ok, err := c.get(name)
	return v, ok && err == nil
}

// Get returns a sequence variable.
func (c *Cursor) Get(key string) (any, error) {
	v, ok, err := c.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &LookupError{Key: key}
	}
	return v, nil
}

type cursorFact func(c *Cursor, index int) (any, error)

var cursorFacts = map[string]cursorFact{
	"number": func(_ *Cursor, i int) (any, error) { return i + 1, nil },
	"even":   func(_ *Cursor, i int) (any, error) { return i%2 == 0, nil },
	"odd":    func(_ *Cursor, i int) (any, error) { return i%2 == 1, nil },
	"letter": func(_ *Cursor, i int) (any, error) { return string(rune('a' + i)), nil },
	"Letter": func(_ *Cursor, i int) (any, error) { return string(rune('A' + i)), nil },
	"roman": func(_ *Cursor, i int) (any, error) {
		r, err := toRoman(i + 1)
		return strings.ToLower(r), err
	},
	"Roman": func(_ *Cursor, i int) (any, error) { return toRoman(i + 1) },
	"key":   (*Cursor).key,
	"item":  (*Cursor).item,
	"length": func(c *Cursor, _ int) (any, error) {
		c.Set("sequence-length", len(c.items))
		return len(c.items), nil
	},
}

func isBatchVariable(key string) bool {
	return strings.HasPrefix(key, "previous-sequence") || strings.HasPrefix(key, "next-sequence") ||
		key == "previous-batches" || key == "next-batches"
}

func (c *Cursor) get(key string) (any, bool, error) {
	if v, ok := c.data[key]; ok {
		return v, true, nil
	}
	if !c.batch && isBatchVariable(key) {
		return nil, false, &StructuralError{Message: fmt.Sprintf("%s is only available in batch mode", key)}
	}

	dash := strings.LastIndex(key, "-")
	if dash < 0 {
		if c.prefix == "" || !strings.HasPrefix(key, c.prefix) {
			return nil, false, nil
		}
		suffix := strings.ReplaceAll(key[len(c.prefix):], "_", "-")
		if strings.Contains(suffix, "-") {
			if v, ok, err := c.get(suffix); ok || err != nil {
				return v, ok, err
			}
		}
		return c.get("sequence-" + suffix)
	}
	prefix, suffix := key[:dash], key[dash+1:]

	if fact, ok := cursorFacts[suffix]; ok {
		if index, ok := c.data[prefix+"-index"].(int); ok {
			v, err := fact(c, index)
			if err != nil {
				if IsLookupError(err) {
					return nil, false, nil
				}
				return nil, false, err
			}
			return v, true, nil
		}
	}

	switch prefix {
	case "first":
		return found(c.first(suffix))
	case "last":
		return found(c.last(suffix))
	case "previous", "next":
		if suffix != "batches" {
			return nil, false, nil
		}
		return found(c.batches(prefix == "next"))
	case "sequence-index", "sequence-index-is":
		return c.get("sequence-" + suffix)
	}
	if isStatistic(prefix) {
		return c.statistic(suffix, key)
	}

	if base, ok := strings.CutSuffix(prefix, "-var"); ok {
		if index, ok := c.data[base+"-index"].(int); ok {
			if v, err := c.value(index, suffix); err == nil {
				return v, true, nil
			}
		}
	}
	return nil, false, nil
}

func found(v any, err error) (any, bool, error) {
	if err != nil {
		if IsLookupError(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (c *Cursor) key(index int) (any, error) {
	return c.access.GetItem(c.items[index], 0)
}

func (c *Cursor) item(index int) (any, error) {
	if p, ok := c.items[index].(Pair); ok {
		return p.Value, nil
	}
	return c.items[index], nil
}

// value returns attribute (or, for mapping loops, key) name of the item at
// index.
func (c *Cursor) value(index int, name string) (any, error) {
	item, _ := c.item(index)
	if c.mapping {
		return c.access.GetItem(item, name)
	}
	return c.getter.GetAttr(item, name)
}

func (c *Cursor) index() (int, error) {
	index, ok := c.data["sequence-index"].(int)
	if !ok {
		return 0, &LookupError{Key: "sequence-index"}
	}
	return index, nil
}

// first reports whether the item starts a run of equal name values.
func (c *Cursor) first(name string) (any, error) {
	if isTruthy(c.data["sequence-start"]) {
		return true, nil
	}
	index, err := c.index()
	if err != nil {
		return nil, err
	}
	if index == 0 {
		return true, nil
	}
	return c.differs(index, index-1, name)
}

// last reports whether the item ends a run of equal name values.
func (c *Cursor) last(name string) (any, error) {
	if isTruthy(c.data["sequence-end"]) {
		return true, nil
	}
	index, err := c.index()
	if err != nil {
		return nil, err
	}
	if index+1 >= len(c.items) {
		return true, nil
	}
	return c.differs(index, index+1, name)
}

func (c *Cursor) differs(i, j int, name string) (any, error) {
	a, err := c.value(i, name)
	if err != nil {
		return nil, err
	}
	b, err := c.value(j, name)
	if err != nil {
		return nil, err
	}
	return !valuesEqual(a, b), nil
}

// batches builds a cursor for every batch after (or before) the current
// one. Each exposes batch-start-index, batch-end-index and batch-size.
func (c *Cursor) batches(next bool) (any, error) {
	flag, key := "previous-sequence", "previous-batches"
	if next {
		flag, key = "next-sequence", "next-batches"
	}
	if !isTruthy(c.data[flag]) {
		return []any{}, nil
	}
	size, _ := c.data["sequence-step-size"].(int)
	start, _ := c.data["sequence-step-start"].(int)
	end, _ := c.data["sequence-step-end"].(int)
	orphan, _ := c.data["sequence-step-orphan"].(int)
	overlap, _ := c.data["sequence-step-overlap"].(int)
	n := len(c.items)

	var out []any
	window := func(s, e int) {
		b := newCursor(c.items, "", c.getter, c.access)
		b.mapping = c.mapping
		b.data["batch-start-index"] = s - 1
		b.data["batch-end-index"] = e - 1
		b.data["batch-size"] = e + 1 - s
		out = append(out, b)
	}
	if next {
		for end < n {
			s, e, _ := opt(end+1-overlap, 0, size, orphan, n)
			if e <= end {
				break
			}
			window(s, e)
			end = e
		}
	} else {
		for start > 1 {
			s, e, _ := opt(0, start-1+overlap, size, orphan, n)
			if s >= start {
				break
			}
			window(s, e)
			start = s
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	c.data[key] = out
	return out, nil
}
