package dtml

import (
	"fmt"
	"reflect"
	"strings"
)

// condition is a guard: a name looked up with call behaviour, or an
// expression.
type condition struct {
	name string
	expr *Expression
}

func newCondition(args, tag string) (condition, error) {
	params, err := ParseParams(args, ParamSpec{"name": {}, "expr": {}}, tag)
	if err != nil {
		return condition{}, err
	}
	name, expr, err := NameParam(params, tag, true, "name")
	if err != nil {
		return condition{}, err
	}
	return condition{name: name, expr: expr}, nil
}

func (c condition) String() string {
	if c.expr != nil {
		return fmt.Sprintf("%q", c.expr.Source())
	}
	return c.name
}

// eval evaluates the guard. A name that is not defined is false; the value
// of a defined name is cached in cache for the extent of the branch.
func (c condition) eval(ns *Namespace, cache MapLayer) (bool, error) {
	if c.expr != nil {
		v, err := c.expr.Eval(ns)
		if err != nil {
			return false, err
		}
		return isTruthy(v), nil
	}
	v, err := ns.Lookup(c.name, true)
	if err != nil {
		if le, ok := err.(*LookupError); ok && le.Key == c.name {
			return false, nil
		}
		return false, err
	}
	cache[c.name] = Binding{Kind: LiteralBinding, Value: v}
	return isTruthy(v), nil
}

// ifNode renders the body of the first true guard, or the else body.
// unless and the standalone else are ifNodes with a nil first body.
type ifNode struct {
	kind     string
	conds    []condition
	bodies   [][]Node
	elseBody []Node
}

func newIfNode(sections []Section) (Node, error) {
	first, err := newCondition(sections[0].Args, "if")
	if err != nil {
		return nil, err
	}
	n := &ifNode{kind: "if", conds: []condition{first}, bodies: [][]Node{sections[0].Blocks}}

	rest := sections[1:]
	if last := len(rest) - 1; last >= 0 && rest[last].Name == "else" {
		params, err := ParseParams(rest[last].Args, ParamSpec{"name": {}}, "else")
		if err != nil {
			return nil, err
		}
		if len(params) > 0 {
			name, _, err := NameParam(params, "else", true, "name")
			if err != nil {
				return nil, err
			}
			if name != sections[0].Args && name != first.name {
				return nil, &ParseError{Message: "name in else does not match if", Tag: "if"}
			}
		}
		n.elseBody = rest[last].Blocks
		if n.elseBody == nil {
			n.elseBody = []Node{}
		}
		rest = rest[:last]
	}

	for _, s := range rest {
		if s.Name == "else" {
			return nil, &ParseError{Message: "more than one else tag for a single if tag", Tag: "if"}
		}
		c, err := newCondition(s.Args, "elif")
		if err != nil {
			return nil, err
		}
		n.conds = append(n.conds, c)
		n.bodies = append(n.bodies, s.Blocks)
	}
	return n, nil
}

func newUnlessNode(sections []Section) (Node, error) {
	return newNegatedNode("unless", sections)
}

func newElseNode(sections []Section) (Node, error) {
	return newNegatedNode("else", sections)
}

func newNegatedNode(kind string, sections []Section) (Node, error) {
	c, err := newCondition(sections[0].Args, kind)
	if err != nil {
		return nil, err
	}
	body := sections[0].Blocks
	if body == nil {
		body = []Node{}
	}
	return &ifNode{kind: kind, conds: []condition{c}, bodies: [][]Node{nil}, elseBody: body}, nil
}

func (n *ifNode) String() string {
	parts := make([]string, len(n.conds))
	for i, c := range n.conds {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s(%s)", strings.ToUpper(n.kind[:1])+n.kind[1:], strings.Join(parts, ", "))
}

func (n *ifNode) Render(ns *Namespace) (any, error) {
	cache := MapLayer{}
	ns.Push(cache)
	defer ns.Pop(1)

	for i, c := range n.conds {
		ok, err := c.eval(ns, cache)
		if err != nil {
			return nil, err
		}
		if ok {
			if n.bodies[i] == nil {
				return "", nil
			}
			return renderBlocks(n.bodies[i], ns)
		}
	}
	if n.elseBody != nil {
		return renderBlocks(n.elseBody, ns)
	}
	return "", nil
}

// letNode binds names in one pushed layer. Each binding sees the ones
// before it.
type letNode struct {
	args     string
	bindings []letBinding
	body     []Node
}

type letBinding struct {
	name string
	ref  string
	expr *Expression
}

func newLetNode(sections []Section) (Node, error) {
	pairs, err := parseLetParams(sections[0].Args)
	if err != nil {
		return nil, err
	}
	n := &letNode{args: sections[0].Args, body: sections[0].Blocks}
	for _, p := range pairs {
		b := letBinding{name: p[0], ref: p[1]}
		if v := p[1]; len(v) > 1 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
			src := v[1 : len(v)-1]
			expr, err := CompileExpression(src)
			if err != nil {
				return nil, &ParseError{Message: fmt.Sprintf("%v in expr, %s", err, src), Tag: "let"}
			}
			b.expr = expr
		}
		n.bindings = append(n.bindings, b)
	}
	return n, nil
}

// parseLetParams splits name=value and name="value" pairs in order.
// Quoted values keep their quotes.
func parseLetParams(text string) ([][2]string, error) {
	var result [][2]string
	for {
		if m := unquotedValueRegex.FindStringSubmatch(text); m != nil {
			result = append(result, [2]string{m[2], m[3]})
			text = text[len(m[1]):]
		} else if m := quotedValueRegex.FindStringSubmatch(text); m != nil {
			result = append(result, [2]string{m[2], `"` + m[3] + `"`})
			text = text[len(m[1]):]
		} else {
			if strings.TrimSpace(text) == "" {
				return result, nil
			}
			return nil, &ParseError{Message: fmt.Sprintf("invalid parameter: \"%s\"", text), Tag: "let"}
		}
		text = strings.TrimSpace(text)
	}
}

func (n *letNode) String() string {
	return fmt.Sprintf("Let(%s)", n.args)
}

func (n *letNode) Render(ns *Namespace) (any, error) {
	layer := MapLayer{}
	ns.Push(layer)
	defer ns.Pop(1)

	for _, b := range n.bindings {
		var v any
		var err error
		if b.expr != nil {
			v, err = b.expr.Eval(ns)
		} else {
			v, err = ns.Lookup(b.ref, true)
		}
		if err != nil {
			return nil, err
		}
		layer.Set(b.name, v)
	}
	return renderBlocks(n.body, ns)
}

// withNode pushes one object for the extent of its body.
type withNode struct {
	cond    condition
	mapping bool
	only    bool
	body    []Node
}

var withParams = ParamSpec{"name": {}, "expr": {}, "mapping": flagParam, "only": flagParam}

func newWithNode(sections []Section) (Node, error) {
	params, err := ParseParams(sections[0].Args, withParams, "with")
	if err != nil {
		return nil, err
	}
	name, expr, err := NameParam(params, "with", true, "name")
	if err != nil {
		return nil, err
	}
	return &withNode{
		cond:    condition{name: name, expr: expr},
		mapping: params.Get("mapping") != "",
		only:    params.Get("only") != "",
		body:    sections[0].Blocks,
	}, nil
}

func (n *withNode) String() string {
	return fmt.Sprintf("With(%s)", n.cond)
}

func (n *withNode) Render(ns *Namespace) (any, error) {
	var v any
	var err error
	if n.cond.expr != nil {
		v, err = n.cond.expr.Eval(ns)
	} else {
		v, err = ns.Lookup(n.cond.name, true)
	}
	if err != nil {
		return nil, err
	}

	var layer Layer
	if n.mapping {
		if layer, err = mappingLayer(v); err != nil {
			return nil, err
		}
	} else {
		if t, ok := v.([]any); ok && len(t) == 1 {
			v = t[0]
		}
		layer = NewInstanceLayer(v, ns.env.getter)
	}

	if n.only {
		ns = ns.fresh()
	}
	ns.Push(layer)
	defer ns.Pop(1)
	return renderBlocks(n.body, ns)
}

// mappingLayer exposes a map, or a value that already is a layer, as a
// namespace layer.
func mappingLayer(v any) (Layer, error) {
	switch m := v.(type) {
	case Layer:
		return m, nil
	case map[string]any:
		return NewMapLayer(m), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, &StructuralError{Message: fmt.Sprintf("a mapping is required, not %s", typeName(v))}
	}
	layer := make(MapLayer, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		layer[iter.Key().String()] = Bind(iter.Value().Interface())
	}
	return layer, nil
}

// returnNode ends the template call with a value.
type returnNode struct {
	cond condition
}

func newReturnNode(args, _ string) (Node, error) {
	c, err := newCondition(args, "return")
	if err != nil {
		return nil, err
	}
	return &returnNode{cond: c}, nil
}

func (n *returnNode) String() string {
	return fmt.Sprintf("Return(%s)", n.cond)
}

func (n *returnNode) Render(ns *Namespace) (any, error) {
	var v any
	var err error
	if n.cond.expr != nil {
		v, err = n.cond.expr.Eval(ns)
	} else {
		v, err = ns.Lookup(n.cond.name, true)
	}
	if err != nil {
		return nil, err
	}
	return nil, &earlyReturn{value: v}
}

// raiseNode raises an error of the named type with the rendered body as
// its message.
type raiseNode struct {
	typ  string
	expr *Expression
	body []Node
}

func newRaiseNode(sections []Section) (Node, error) {
	params, err := ParseParams(sections[0].Args, ParamSpec{"type": {}, "expr": {}}, "raise")
	if err != nil {
		return nil, err
	}
	typ, expr, err := NameParam(params, "raise", true, "type")
	if err != nil {
		return nil, err
	}
	return &raiseNode{typ: typ, expr: expr, body: sections[0].Blocks}, nil
}

func (n *raiseNode) String() string {
	if n.expr != nil {
		return fmt.Sprintf("Raise(%q)", n.expr.Source())
	}
	return fmt.Sprintf("Raise(%s)", n.typ)
}

func (n *raiseNode) Render(ns *Namespace) (any, error) {
	message, err := renderText(n.body, ns)
	if err != nil {
		message = "Invalid Error Value"
	}

	if n.expr == nil {
		return nil, &Exception{Type: n.typ, Message: message}
	}
	v, err := n.expr.Eval(ns)
	if err == nil {
		if e, ok := v.(error); ok {
			return nil, e
		}
	}
	return nil, &Exception{Type: "InvalidErrorTypeExpression", Message: message}
}

// commentNode renders nothing.
type commentNode struct{}

func newCommentNode([]Section) (Node, error) {
	return commentNode{}, nil
}

func (commentNode) String() string {
	return "Comment"
}

func (commentNode) Render(*Namespace) (any, error) {
	return nil, nil
}
