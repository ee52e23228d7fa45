package dtml

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/text/encoding"
)

// cookLock serializes compilation of every template in the process.
// Rendering never takes it.
var cookLock sync.Mutex

// ClientChain is a path of client objects. Each is pushed as its own
// attribute layer, outermost first, so the last one is searched first.
type ClientChain []any

// Template is a DTML document. It is compiled on first use and again
// whenever its source or defaults change; the compiled tree is shared by
// concurrent renders.
type Template struct {
	name   string
	syntax Syntax
	path   string
	env    *environment
	output encoding.Encoding

	mu       sync.RWMutex
	source   string
	defaults map[string]any
	vars     map[string]any

	tree atomic.Pointer[[]Node]
}

// TemplateOption configures a template at construction.
type TemplateOption func(*Template)

// WithName sets the name used in error messages.
func WithName(name string) TemplateOption {
	return func(t *Template) {
		t.name = name
	}
}

// WithDefaults sets default values, searched after everything passed to
// a render call.
func WithDefaults(values map[string]any) TemplateOption {
	return func(t *Template) {
		t.defaults = initDefaults(nil, values)
	}
}

// WithEncoding sets the output encoding used by RenderBytes. Unknown
// labels are ignored with a warning.
func WithEncoding(label string) TemplateOption {
	return func(t *Template) {
		enc, err := lookupEncoding(label)
		if err != nil {
			t.env.logger.WithField("encoding", label).Warn("Unknown output encoding: %v", err)
			return
		}
		t.output = enc
	}
}

// WithAccess replaces the attribute and item access policy.
func WithAccess(getter AttributeGetter, items ItemGetter) TemplateOption {
	return func(t *Template) {
		env := *t.env
		if getter != nil {
			env.getter = getter
		}
		if items != nil {
			env.items = items
		}
		t.env = &env
	}
}

// WithLoader sets the loader of a file-backed template.
func WithLoader(loader SourceLoader) TemplateOption {
	return func(t *Template) {
		env := *t.env
		env.loader = loader
		t.env = &env
	}
}

func newTemplate(env *environment, syntax Syntax, source, path string, opts []TemplateOption) *Template {
	t := &Template{
		name:   "<string>",
		syntax: syntax,
		path:   path,
		source: source,
		env:    env,
		output: env.charset,
	}
	if path != "" {
		t.name = path
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewString creates a template in the string syntax, %(name)s.
func NewString(source string, opts ...TemplateOption) *Template {
	return newTemplate(defaultEnv(), StringSyntax, source, "", opts)
}

// NewHTML creates a template in the HTML syntax, <dtml-name>.
func NewHTML(source string, opts ...TemplateOption) *Template {
	return newTemplate(defaultEnv(), HTMLSyntax, source, "", opts)
}

// NewFile creates a string-syntax template read from path when first used.
func NewFile(path string, opts ...TemplateOption) *Template {
	return newTemplate(defaultEnv(), StringSyntax, "", path, opts)
}

// NewHTMLFile creates an HTML-syntax template read from path when first used.
func NewHTMLFile(path string, opts ...TemplateOption) *Template {
	return newTemplate(defaultEnv(), HTMLSyntax, "", path, opts)
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}

// Source returns the template text. A missing file reads as empty unless
// strict mode is on.
func (t *Template) Source() (string, error) {
	t.mu.RLock()
	source, path := t.source, t.path
	t.mu.RUnlock()
	if path == "" {
		return source, nil
	}

	text, err := t.env.loader.Read(path)
	if err != nil {
		if isMissingFile(err) && !t.env.config.StrictMode {
			t.env.logger.WithField("path", path).Warn("file not found: %s", path)
			return "", nil
		}
		return "", err
	}
	return text, nil
}

func (t *Template) String() string {
	s, _ := t.Source()
	return s
}

// cook compiles the current source. Only one template compiles at a time.
func (t *Template) cook() ([]Node, error) {
	cookLock.Lock()
	defer cookLock.Unlock()

	source, err := t.Source()
	if err != nil {
		return nil, err
	}
	t.env.logger.DebugTemplate(t.name, source)

	nodes, err := newParser(t.syntax, t.env.commands, t.name).parse(source, 0)
	if err != nil {
		return nil, err
	}
	t.tree.Store(&nodes)
	return nodes, nil
}

func (t *Template) blocks() ([]Node, error) {
	if tree := t.tree.Load(); tree != nil {
		return *tree, nil
	}
	return t.cook()
}

// Check compiles the template, reporting parse errors without rendering.
func (t *Template) Check() error {
	_, err := t.blocks()
	return err
}

// Compile replaces the source of the template and compiles it. A
// file-backed template keeps the new source instead of its file.
func (t *Template) Compile(source string) error {
	t.mu.Lock()
	t.source = source
	t.path = ""
	t.mu.Unlock()
	_, err := t.cook()
	return err
}

// SetDefaults replaces the defaults with values followed by the entries of
// mapping that values does not set. Keys starting with an underscore in
// mapping are ignored. Template variables are cleared and the template is
// recompiled.
func (t *Template) SetDefaults(mapping map[string]any, values map[string]any) error {
	t.mu.Lock()
	t.defaults = initDefaults(mapping, values)
	t.vars = nil
	t.mu.Unlock()
	_, err := t.cook()
	return err
}

func initDefaults(mapping, values map[string]any) map[string]any {
	out := maps.Clone(values)
	if out == nil {
		out = make(map[string]any, len(mapping))
	}
	for k, v := range mapping {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// SetVar binds a template variable. Variables are searched after the
// keyword values of a call and before its client.
func (t *Template) SetVar(name string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vars == nil {
		t.vars = make(map[string]any)
	}
	t.vars[name] = value
}

// Render renders the template. Values are searched in kw, the template
// variables, client (a single object or a ClientChain), mapping and the
// defaults, in that order. On failure the output is empty.
func (t *Template) Render(client any, mapping any, kw map[string]any) (string, error) {
	v, err := t.Call(client, mapping, kw)
	if err != nil {
		return "", err
	}
	return fragmentText(v, t.env.fallback), nil
}

// RenderBytes is Render encoded with the template's output encoding.
func (t *Template) RenderBytes(client any, mapping any, kw map[string]any) ([]byte, error) {
	s, err := t.Render(client, mapping, kw)
	if err != nil {
		return nil, err
	}
	return encodeString(t.output, s)
}

// Call renders the template and returns the raw result: text, bytes, or
// the value of a return tag. When mapping is a *Namespace the template is
// called as a sub-template and renders against it.
func (t *Template) Call(client any, mapping any, kw map[string]any) (any, error) {
	nodes, err := t.blocks()
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defaults, vars := t.defaults, t.vars
	t.mu.RUnlock()

	pushed := 0
	push := func(ns *Namespace, layer Layer) {
		ns.Push(layer)
		pushed++
	}

	ns, sub := mapping.(*Namespace)
	if sub {
		if len(defaults) > 0 {
			push(ns, NewMapLayer(defaults))
		}
	} else {
		ns = newNamespace(t.env)
		if len(defaults) > 0 {
			ns.Push(NewMapLayer(defaults))
		}
		if mapping != nil {
			layer, err := mappingLayer(mapping)
			if err != nil {
				return nil, err
			}
			ns.Push(layer)
		}
	}
	defer func() { ns.Pop(pushed) }()

	level := ns.level
	if level > ns.env.config.MaxRenderDepth {
		return nil, &RecursionError{Depth: level}
	}
	ns.level = level + 1
	defer func() { ns.level = level }()

	switch c := client.(type) {
	case nil:
	case ClientChain:
		for _, obj := range c {
			push(ns, NewInstanceLayer(obj, ns.env.getter))
		}
	default:
		push(ns, NewInstanceLayer(client, ns.env.getter))
	}
	if len(vars) > 0 {
		push(ns, NewMapLayer(vars))
	}
	if len(kw) > 0 {
		push(ns, NewMapLayer(kw))
	}

	result, err := renderBlocks(nodes, ns)
	if err != nil {
		var r *earlyReturn
		if errors.As(err, &r) {
			return r.value, nil
		}
		return nil, err
	}
	return result, nil
}

// CallTemplate renders the template as a sub-template of ns.
func (t *Template) CallTemplate(client any, ns *Namespace) (any, error) {
	return t.Call(client, ns, nil)
}

// MustRender is Render that panics on error, for examples and tests.
func (t *Template) MustRender(client any, mapping any, kw map[string]any) string {
	s, err := t.Render(client, mapping, kw)
	if err != nil {
		panic(fmt.Sprintf("dtml: %s: %v", t.name, err))
	}
	return s
}
