package dtml

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/benjaminschreck/go-dtml/pkg/dtml/pyformat"
	"github.com/benjaminschreck/go-dtml/pkg/dtml/quote"
)

// Tainted is untrusted text. It is always HTML-escaped on output.
type Tainted string

// Quoted returns the escaped text.
func (t Tainted) Quoted() string {
	return quote.HTML(string(t))
}

var varParams = ParamSpec{
	"name":             {},
	"expr":             {},
	"lower":            flagParam,
	"upper":            flagParam,
	"capitalize":       flagParam,
	"spacify":          flagParam,
	"null":             {Default: ""},
	"fmt":              {Default: "s"},
	"size":             {Default: "0"},
	"etc":              {Default: "..."},
	"thousands_commas": flagParam,
	"html_quote":       flagParam,
	"url_quote":        flagParam,
	"sql_quote":        flagParam,
	"url_quote_plus":   flagParam,
	"url_unquote":      flagParam,
	"url_unquote_plus": flagParam,
	"missing":          {Default: ""},
	"default":          requiredParam,
	"newline_to_br":    flagParam,
	"url":              flagParam,
}

type modifier struct {
	name string
	fn   func(string) string
}

// modifiers in the order they are applied.
var modifiers = []modifier{
	{"html_quote", quote.HTML},
	{"url_quote", quote.URL},
	{"url_quote_plus", quote.URLPlus},
	{"url_unquote", quote.Unquote},
	{"url_unquote_plus", quote.UnquotePlus},
	{"newline_to_br", quote.NewlineToBr},
	{"lower", strings.ToLower},
	{"upper", strings.ToUpper},
	{"capitalize", quote.Capitalize},
	{"spacify", quote.Spacify},
	{"thousands_commas", quote.ThousandsCommas},
	{"sql_quote", quote.SQL},
}

type simpleForm int

const (
	notSimple simpleForm = iota
	simplePlain
	simpleHTML
)

// varNode inserts a value.
type varNode struct {
	name      string
	expr      *Expression
	params    Params
	format    string // string-syntax format code, "s" by default
	modifiers []modifier
	size      int
	hasSize   bool
	simple    simpleForm
}

func newVarNode(args, format string) (Node, error) {
	if format == "" {
		format = "s"
	}
	args = strings.TrimPrefix(args, "var ")
	params, err := ParseParams(args, varParams, "var")
	if err != nil {
		return nil, err
	}
	name, expr, err := NameParam(params, "var", true, "name")
	if err != nil {
		return nil, err
	}

	n := &varNode{name: name, expr: expr, params: params, format: format}
	for _, m := range modifiers {
		if v, ok := params[m.name]; ok && v != "" {
			n.modifiers = append(n.modifiers, m)
		}
	}
	if params.Has("size") {
		size, _, err := params.Int("size")
		if err != nil {
			return nil, &ParseError{Message: "a size attribute was used in a var tag with a non-integer value."}
		}
		n.size, n.hasSize = size, true
	}

	if format == "s" {
		switch {
		case len(params) == 1:
			n.simple = simplePlain
		case len(params) == 2 && params.Has("html_quote"):
			n.simple = simpleHTML
		}
	}
	return n, nil
}

func (n *varNode) String() string {
	if n.expr != nil {
		return fmt.Sprintf("Var(expr=%q)", n.expr.Source())
	}
	return fmt.Sprintf("Var(%s)", n.name)
}

func (n *varNode) Render(ns *Namespace) (any, error) {
	if n.simple != notSimple {
		return n.renderSimple(ns)
	}

	if n.expr == nil && !ns.Has(n.name) {
		if v, ok := n.params["missing"]; ok {
			return v, nil
		}
		if v, ok := n.params["default"]; ok {
			return v, nil
		}
		return nil, &LookupError{Key: n.name}
	}
	val, err := n.value(ns)
	if err != nil {
		return nil, err
	}

	if isNull(val) {
		if v, ok := n.params["null"]; ok {
			return v, nil
		}
		if v, ok := n.params["default"]; ok {
			return v, nil
		}
	}

	if fmtAttr, ok := n.params["fmt"]; ok {
		if val, err = n.customFormat(ns, val, fmtAttr); err != nil {
			return n.formatFailed(val, fmtAttr, err)
		}
	}

	var text string
	tainted := false
	switch v := val.(type) {
	case Tainted:
		text, tainted = string(v), true
	case []byte:
		text = decodeBytes(ns.env.charset, v)
	default:
		text = stringOf(val)
	}
	if n.format != "s" {
		out, err := pyformat.FormatWith("%"+n.format, val, stringOf)
		if err != nil {
			return n.formatFailed(val, n.format, err)
		}
		text = out
		tainted = tainted && strings.Contains(text, "<")
	}

	for _, m := range n.modifiers {
		if m.name == "html_quote" && tainted {
			continue
		}
		if m.name == "newline_to_br" && tainted {
			text, tainted = quote.HTML(text), false
		}
		text = m.fn(text)
	}

	if n.hasSize {
		etc := "..."
		if v, ok := n.params["etc"]; ok {
			etc = v
		}
		text = quote.Truncate(text, n.size, etc)
	}

	if tainted {
		return quote.HTML(text), nil
	}
	return text, nil
}

// renderSimple is the fast path for a bare name or expression, optionally
// html-quoted.
func (n *varNode) renderSimple(ns *Namespace) (any, error) {
	val, err := n.value(ns)
	if err != nil {
		return nil, err
	}
	switch v := val.(type) {
	case Tainted:
		return v.Quoted(), nil
	case []byte:
		if n.simple == simplePlain {
			return v, nil
		}
		return quote.HTML(decodeBytes(ns.env.charset, v)), nil
	}
	text := stringOf(val)
	if n.simple == simpleHTML && quote.NeedsHTML(text) {
		text = quote.HTML(text)
	}
	return text, nil
}

func (n *varNode) value(ns *Namespace) (any, error) {
	var val any
	var err error
	url := n.params.Has("url")
	switch {
	case n.expr != nil:
		val, err = n.expr.Eval(ns)
	case url:
		val, err = ns.Lookup(n.name, false)
	default:
		val, err = ns.Lookup(n.name, true)
	}
	if err != nil || !url {
		return val, err
	}
	return callMethod(ns, val, "absolute_url")
}

// customFormat applies a fmt= attribute: a method of the value, a special
// format, the empty format, or a C-style format.
func (n *varNode) customFormat(ns *Namespace, val any, format string) (any, error) {
	if m, err := ns.env.getter.GetAttr(val, format); err == nil && isCallable(m) {
		return callFunc(m, nil)
	}
	if special, ok := ns.env.formats[format]; ok {
		if _, isTainted := val.(Tainted); isTainted && format == "html-quote" {
			return val, nil
		}
		return special(val, n.name, ns)
	}
	if format == "" {
		return "", nil
	}
	out, err := pyformat.FormatWith(format, val, stringOf)
	if err != nil {
		return val, err
	}
	if _, isTainted := val.(Tainted); isTainted {
		return Tainted(out), nil
	}
	return out, nil
}

// formatFailed substitutes null for values that are None or render empty.
func (n *varNode) formatFailed(val any, format string, err error) (any, error) {
	if v, ok := n.params["null"]; ok && (val == nil || stringOf(val) == "") {
		return v, nil
	}
	return nil, &FormatError{Format: format, Name: n.name, Cause: err}
}

func isCallable(v any) bool {
	if _, ok := v.(Function); ok {
		return true
	}
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}

// callMethod calls the zero-argument method name of obj.
func callMethod(ns *Namespace, obj any, name string) (any, error) {
	m, err := getAttribute(ns, obj, name)
	if err != nil {
		return nil, err
	}
	return callFunc(m, nil)
}

// callNode evaluates a name or expression and discards the result.
type callNode struct {
	name string
	expr *Expression
}

var callParams = ParamSpec{"name": {}, "expr": {}}

func newCallNode(args, _ string) (Node, error) {
	params, err := ParseParams(args, callParams, "call")
	if err != nil {
		return nil, err
	}
	name, expr, err := NameParam(params, "call", true, "name")
	if err != nil {
		return nil, err
	}
	return &callNode{name: name, expr: expr}, nil
}

func (n *callNode) String() string {
	if n.expr != nil {
		return fmt.Sprintf("Call(expr=%q)", n.expr.Source())
	}
	return fmt.Sprintf("Call(%s)", n.name)
}

func (n *callNode) Render(ns *Namespace) (any, error) {
	if n.expr != nil {
		_, err := n.expr.Eval(ns)
		return nil, err
	}
	_, err := ns.Lookup(n.name, true)
	return nil, err
}
