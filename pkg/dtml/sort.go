package dtml

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// sortKey is one field of a sort specification: field/comparator/order.
type sortKey struct {
	field   string
	compare string
	desc    bool
}

// sortSpec is a parsed sort attribute. An empty spec sorts items by
// themselves (pairs by their key).
type sortSpec struct {
	keys []sortKey
}

// parseSortSpec parses "key1,key2" or the extended "key/cmp/order" form.
// Comparators are cmp, nocase, strcoll, strcoll_nocase, locale,
// locale_nocase or the name of a comparison function in the namespace.
func parseSortSpec(text string) (*sortSpec, error) {
	spec := &sortSpec{}
	if strings.TrimSpace(text) == "" {
		return spec, nil
	}
	for _, field := range strings.Split(text, ",") {
		parts := strings.Split(strings.TrimSpace(field), "/")
		if len(parts) > 3 {
			return nil, &ParseError{Message: "sort option must contain no more than 2 slashes", Tag: "in"}
		}
		k := sortKey{field: parts[0], compare: "cmp"}
		if len(parts) > 1 {
			k.compare = parts[1]
		}
		if len(parts) > 2 {
			switch strings.ToLower(parts[2]) {
			case "asc":
			case "desc":
				k.desc = true
			default:
				return nil, &ParseError{Message: "sort order must be either ASC or DESC", Tag: "in"}
			}
		}
		spec.keys = append(spec.keys, k)
	}
	return spec, nil
}

func (s *sortSpec) String() string {
	parts := make([]string, len(s.keys))
	for i, k := range s.keys {
		order := "asc"
		if k.desc {
			order = "desc"
		}
		parts[i] = k.field + "/" + k.compare + "/" + order
	}
	return strings.Join(parts, ",")
}

// keyOf extracts the sort key values of one item.
func (s *sortSpec) keyOf(ns *Namespace, item any, mapping bool) []any {
	v := item
	if p, ok := item.(Pair); ok {
		if len(s.keys) == 0 {
			return []any{p.Key}
		}
		v = p.Value
	}
	if len(s.keys) == 0 {
		return []any{v}
	}

	out := make([]any, len(s.keys))
	for i, k := range s.keys {
		var key any
		var err error
		switch {
		case k.field == "":
			key = v
		case mapping:
			key, err = ns.env.items.GetItem(v, k.field)
		default:
			key, err = ns.env.getter.GetAttr(v, k.field)
		}
		if err != nil {
			key = nil
		}
		if isCallable(key) {
			if called, err := callFunc(key, nil); err == nil {
				key = called
			}
		}
		out[i] = key
	}
	return out
}

type comparator func(a, b any) (int, error)

// comparators resolves the comparison function of every key.
func (s *sortSpec) comparators(ns *Namespace) ([]comparator, error) {
	var collators map[bool]*collate.Collator
	collator := func(nocase bool) *collate.Collator {
		if collators == nil {
			collators = make(map[bool]*collate.Collator)
		}
		if c, ok := collators[nocase]; ok {
			return c
		}
		tag := ns.env.locale
		if tag == language.Und {
			tag = language.English
		}
		var c *collate.Collator
		if nocase {
			c = collate.New(tag, collate.IgnoreCase)
		} else {
			c = collate.New(tag)
		}
		collators[nocase] = c
		return c
	}

	keys := s.keys
	if len(keys) == 0 {
		keys = []sortKey{{compare: "cmp"}}
	}
	out := make([]comparator, len(keys))
	for i, k := range keys {
		switch k.compare {
		case "cmp":
			out[i] = plainCompare
		case "nocase":
			out[i] = nocaseCompare
		case "strcoll", "locale":
			out[i] = collateCompare(collator(false))
		case "strcoll_nocase", "locale_nocase":
			out[i] = collateCompare(collator(true))
		default:
			fn, err := ns.Lookup(k.compare, false)
			if err != nil {
				return nil, err
			}
			out[i] = functionCompare(fn)
		}
		if k.desc {
			asc := out[i]
			out[i] = func(a, b any) (int, error) {
				c, err := asc(a, b)
				return -c, err
			}
		}
	}
	return out, nil
}

func plainCompare(a, b any) (int, error) {
	return sortCompare(a, b), nil
}

func nocaseCompare(a, b any) (int, error) {
	if s, ok := a.(string); ok {
		a = strings.ToLower(s)
	}
	if s, ok := b.(string); ok {
		b = strings.ToLower(s)
	}
	return sortCompare(a, b), nil
}

func collateCompare(c *collate.Collator) comparator {
	return func(a, b any) (int, error) {
		as, aok := a.(string)
		bs, bok := b.(string)
		if aok && bok {
			return c.CompareString(as, bs), nil
		}
		return sortCompare(a, b), nil
	}
}

// functionCompare uses a two-argument function returning a negative, zero
// or positive number.
func functionCompare(fn any) comparator {
	return func(a, b any) (int, error) {
		r, err := callFunc(fn, []any{a, b})
		if err != nil {
			return 0, err
		}
		n, ok := toInt(r)
		if !ok {
			f, ok := toFloat64(r)
			if !ok {
				return 0, NewException("TypeError", "comparison function must return a number, not %s", typeName(r))
			}
			switch {
			case f < 0:
				n = -1
			case f > 0:
				n = 1
			}
		}
		return n, nil
	}
}

// sortItems returns a stably sorted copy of items.
func sortItems(ns *Namespace, items []any, spec *sortSpec, mapping bool) ([]any, error) {
	cmps, err := spec.comparators(ns)
	if err != nil {
		return nil, err
	}

	type keyed struct {
		key  []any
		item any
	}
	rows := make([]keyed, len(items))
	for i, item := range items {
		rows[i] = keyed{key: spec.keyOf(ns, item, mapping), item: item}
	}

	var sortErr error
	slices.SortStableFunc(rows, func(a, b keyed) int {
		for i, cmp := range cmps {
			c, err := cmp(a.key[i], b.key[i])
			if err != nil {
				if sortErr == nil {
					sortErr = err
				}
				return 0
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	if sortErr != nil {
		return nil, sortErr
	}

	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.item
	}
	return out, nil
}
