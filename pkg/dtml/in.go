package dtml

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var inParams = ParamSpec{
	"name":              {},
	"expr":              {},
	"start":             {Default: "1"},
	"end":               {Default: "-1"},
	"size":              {Default: "10"},
	"orphan":            {Default: "0"},
	"overlap":           {Default: "1"},
	"mapping":           flagParam,
	"no_push_item":      flagParam,
	"skip_unauthorized": flagParam,
	"previous":          flagParam,
	"next":              flagParam,
	"sort":              {},
	"reverse":           flagParam,
	"sort_expr":         {},
	"reverse_expr":      {},
	"prefix":            {},
}

var prefixRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// inNode iterates over a sequence, rendering its body once per item with
// the item and a Cursor pushed on the namespace.
type inNode struct {
	name     string
	expr     *Expression
	params   Params
	sort     *sortSpec
	sortExpr *Expression
	reverse  bool
	revExpr  *Expression
	mapping  bool
	noPush   bool
	skip     bool
	batch    bool
	prefix   string
	body     []Node
	elseBody []Node
}

func newInNode(sections []Section) (Node, error) {
	params, err := ParseParams(sections[0].Args, inParams, "in")
	if err != nil {
		return nil, err
	}
	name, expr, err := NameParam(params, "in", true, "name")
	if err != nil {
		return nil, err
	}

	n := &inNode{
		name:    name,
		expr:    expr,
		params:  params,
		reverse: params.Has("reverse"),
		mapping: params.Has("mapping"),
		noPush:  params.Has("no_push_item"),
		skip:    params.Get("skip_unauthorized") != "",
		prefix:  params.Get("prefix"),
		body:    sections[0].Blocks,
	}
	n.batch = params.Has("start") || params.Has("end") || params.Has("size")
	if !n.batch {
		for _, p := range []string{"orphan", "overlap", "previous", "next"} {
			if params.Has(p) {
				return nil, &ParseError{
					Message: fmt.Sprintf("The %s attribute was used but neither of the start, end, or size attributes were used.", p),
					Tag:     "in",
				}
			}
		}
	}

	if params.Has("sort") {
		if n.sort, err = parseSortSpec(params.Get("sort")); err != nil {
			return nil, err
		}
	}
	if params.Has("sort_expr") {
		if _, n.sortExpr, err = compileParam(params.Get("sort_expr"), "in"); err != nil {
			return nil, err
		}
	}
	if params.Has("reverse_expr") {
		if _, n.revExpr, err = compileParam(params.Get("reverse_expr"), "in"); err != nil {
			return nil, err
		}
	}
	if n.prefix != "" && !prefixRegex.MatchString(n.prefix) {
		return nil, &ParseError{Message: "prefix is not a simple name", Tag: "in"}
	}

	if len(sections) > 1 {
		n.elseBody = sections[1].Blocks
		if n.elseBody == nil {
			n.elseBody = []Node{}
		}
	}
	return n, nil
}

func (n *inNode) String() string {
	if n.expr != nil {
		return fmt.Sprintf("In(expr=%q)", n.expr.Source())
	}
	return fmt.Sprintf("In(%s)", n.name)
}

func (n *inNode) renderElse(ns *Namespace) (any, error) {
	if n.elseBody == nil {
		return "", nil
	}
	return renderBlocks(n.elseBody, ns)
}

// sequence resolves, sorts and reverses the items.
func (n *inNode) sequence(ns *Namespace) ([]any, bool, error) {
	var v any
	var err error
	if n.expr != nil {
		v, err = n.expr.Eval(ns)
	} else {
		v, err = ns.Lookup(n.name, true)
	}
	if err != nil {
		return nil, false, err
	}
	if !isTruthy(v) {
		return nil, false, nil
	}
	if _, ok := v.(string); ok {
		return nil, false, &StructuralError{Message: "strings are not allowed as sequence"}
	}
	items, err := materialize(v)
	if err != nil {
		return nil, false, &StructuralError{Message: err.Error()}
	}
	if len(items) == 0 {
		return nil, false, nil
	}

	spec := n.sort
	if n.sortExpr != nil {
		sv, err := n.sortExpr.Eval(ns)
		if err != nil {
			return nil, false, err
		}
		if spec, err = parseSortSpec(stringOf(sv)); err != nil {
			return nil, false, err
		}
	}
	if spec != nil {
		if items, err = sortItems(ns, items, spec, n.mapping); err != nil {
			return nil, false, err
		}
	}

	reverse := n.reverse
	if n.revExpr != nil {
		rv, err := n.revExpr.Eval(ns)
		if err != nil {
			return nil, false, err
		}
		reverse = isTruthy(rv)
	}
	if reverse {
		if spec == nil {
			items = slices.Clone(items)
		}
		slices.Reverse(items)
	}
	return items, true, nil
}

// intParam reads a batch attribute: an integer, or the name of a variable
// holding one.
func (n *inNode) intParam(ns *Namespace, name string) (int, error) {
	text := strings.TrimSpace(n.params.Get(name))
	if text == "" {
		return 0, nil
	}
	if i, err := strconv.Atoi(text); err == nil {
		return i, nil
	}
	v, err := ns.Get(text)
	if err != nil {
		return 0, err
	}
	if s, ok := v.(string); ok {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, NewException("ValueError", "invalid literal for int() with base 10: '%s'", s)
		}
		return i, nil
	}
	if i, ok := toInt(v); ok {
		return i, nil
	}
	if f, ok := toFloat64(v); ok {
		return int(f), nil
	}
	if !isTruthy(v) {
		return 0, nil
	}
	return 0, NewException("TypeError", "%s must be an integer, not %s", name, typeName(v))
}

func (n *inNode) Render(ns *Namespace) (any, error) {
	items, ok, err := n.sequence(ns)
	if err != nil {
		return nil, err
	}
	if !ok {
		return n.renderElse(ns)
	}

	if n.expr == nil {
		ns.Push(MapLayer{n.name: Binding{Kind: LiteralBinding, Value: items}})
		defer ns.Pop(1)
	}

	cursor := newCursor(items, n.prefix, ns.env.getter, ns.env.items)
	cursor.mapping = n.mapping
	ns.Push(cursor)
	defer ns.Pop(1)

	if !n.batch {
		return n.renderItems(ns, cursor, items, 0, len(items), nil)
	}
	return n.renderBatch(ns, cursor, items)
}

// window holds the batch settings of one render.
type window struct {
	start, end, size, orphan, overlap int
}

func (w window) previous(n int) (int, int, bool) {
	if w.start <= 1 {
		return 0, 0, false
	}
	s, e, _ := opt(0, w.start-1+w.overlap, w.size, w.orphan, n)
	return s, e, true
}

func (w window) next(n int) (int, int, bool) {
	if w.end >= n {
		return 0, 0, false
	}
	s, e, _ := opt(w.end+1-w.overlap, 0, w.size, w.orphan, n)
	return s, e, true
}

func (n *inNode) renderBatch(ns *Namespace, cursor *Cursor, items []any) (any, error) {
	start, err := n.intParam(ns, "start")
	if err != nil {
		start = 1
	}
	var w window
	for _, p := range []struct {
		name string
		dst  *int
	}{{"end", &w.end}, {"size", &w.size}, {"overlap", &w.overlap}, {"orphan", &w.orphan}} {
		if *p.dst, err = n.intParam(ns, p.name); err != nil {
			return nil, err
		}
	}
	w.start, w.end, w.size = opt(start, w.end, w.size, w.orphan, len(items))

	cursor.enableBatch()
	d := cursor.data
	d["sequence-step-size"] = w.size
	d["sequence-step-overlap"] = w.overlap
	d["sequence-step-start"] = w.start
	d["sequence-step-end"] = w.end
	d["sequence-step-start-index"] = w.start - 1
	d["sequence-step-end-index"] = w.end - 1
	d["sequence-step-orphan"] = w.orphan

	setWindow := func(which string, s, e int) {
		d[which+"-sequence"] = true
		d[which+"-sequence-start-index"] = s - 1
		d[which+"-sequence-end-index"] = e - 1
		d[which+"-sequence-size"] = e + 1 - s
	}

	switch {
	case n.params.Has("previous"):
		s, e, ok := w.previous(len(items))
		if !ok {
			return n.renderElse(ns)
		}
		setWindow("previous", s, e)
		return renderBlocks(n.body, ns)
	case n.params.Has("next"):
		s, e, ok := w.next(len(items))
		if !ok {
			return n.renderElse(ns)
		}
		setWindow("next", s, e)
		return renderBlocks(n.body, ns)
	}

	end := min(w.end, len(items))
	return n.renderItems(ns, cursor, items, w.start-1, end, func(index int) {
		d["previous-sequence"] = false
		d["next-sequence"] = false
		if index != w.start-1 && index != end-1 {
			return
		}
		if s, e, ok := w.previous(len(items)); ok {
			setWindow("previous", s, e)
			d["previous-sequence"] = index == w.start-1
		}
		if s, e, ok := w.next(len(items)); ok {
			setWindow("next", s, e)
			d["next-sequence"] = index == end-1
		}
	})
}

// renderItems renders the body for items[first:end]. prepare, when set,
// updates the batch variables before each item.
func (n *inNode) renderItems(ns *Namespace, cursor *Cursor, items []any, first, end int, prepare func(int)) (any, error) {
	d := cursor.data
	parts := make([]any, 0, end-first)
	for index := first; index < end; index++ {
		if prepare != nil {
			prepare(index)
		}
		if index == end-1 {
			d["sequence-end"] = true
		}

		client, err := ns.env.items.GetItem(items, index)
		if errors.Is(err, ErrUnauthorized) {
			if n.skip {
				if index == first {
					d["sequence-start"] = false
				}
				continue
			}
			return nil, fmt.Errorf("(item %d): %w", index, err)
		}
		if err != nil {
			return nil, err
		}

		d["sequence-index"] = index
		if p, ok := client.(Pair); ok {
			client = p.Value
		}

		part, err := n.renderItem(ns, client)
		if err != nil {
			return nil, err
		}
		parts = appendFragment(parts, part)
		if index == first {
			d["sequence-start"] = false
		}
	}
	return joinFragments(parts, ns.env.fallback), nil
}

func (n *inNode) renderItem(ns *Namespace, client any) (any, error) {
	var layer Layer
	switch {
	case n.noPush:
	case n.mapping:
		var err error
		if layer, err = mappingLayer(client); err != nil {
			return nil, err
		}
	default:
		if _, ok := client.(string); !ok {
			layer = NewInstanceLayer(client, ns.env.getter)
		}
	}
	if layer != nil {
		ns.Push(layer)
		defer ns.Pop(1)
	}
	return renderBlocks(n.body, ns)
}
