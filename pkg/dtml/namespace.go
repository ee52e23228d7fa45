package dtml

import (
	"reflect"
	"strings"
)

// BindingKind tags how a value stored in a namespace layer behaves when it
// is looked up with call behaviour enabled.
type BindingKind int

const (
	// LiteralBinding values are returned as they are.
	LiteralBinding BindingKind = iota
	// SubTemplateBinding values are called with no client and the namespace.
	SubTemplateBinding
	// RenderableBinding values render themselves against the namespace.
	RenderableBinding
	// CallableBinding values are zero-argument functions invoked on lookup.
	CallableBinding
)

func (k BindingKind) String() string {
	switch k {
	case LiteralBinding:
		return "literal"
	case SubTemplateBinding:
		return "sub-template"
	case RenderableBinding:
		return "renderable"
	case CallableBinding:
		return "callable"
	default:
		return "unknown"
	}
}

// NamespaceRenderer is implemented by values that render themselves with
// the current namespace when they are referenced by name.
type NamespaceRenderer interface {
	RenderWithNamespace(ns *Namespace) (any, error)
}

// TemplateCaller is implemented by sub-templates. *Template implements it.
type TemplateCaller interface {
	CallTemplate(client any, ns *Namespace) (any, error)
}

// Binding is a value classified at the time it enters a layer.
type Binding struct {
	Kind  BindingKind
	Value any
}

// Bind classifies v. Errors are never auto-invoked.
func Bind(v any) Binding {
	switch t := v.(type) {
	case nil, error:
		return Binding{Kind: LiteralBinding, Value: v}
	case NamespaceRenderer:
		return Binding{Kind: RenderableBinding, Value: t}
	case TemplateCaller:
		return Binding{Kind: SubTemplateBinding, Value: t}
	}
	if fn := reflect.ValueOf(v); fn.Kind() == reflect.Func && !fn.IsNil() {
		if ft := fn.Type(); ft.NumIn() == 0 && !ft.IsVariadic() {
			return Binding{Kind: CallableBinding, Value: v}
		}
	}
	return Binding{Kind: LiteralBinding, Value: v}
}

func (b Binding) resolve(ns *Namespace, call bool) (any, error) {
	if !call {
		return b.Value, nil
	}
	switch b.Kind {
	case RenderableBinding:
		return b.Value.(NamespaceRenderer).RenderWithNamespace(ns)
	case SubTemplateBinding:
		return b.Value.(TemplateCaller).CallTemplate(nil, ns)
	case CallableBinding:
		return callFunc(b.Value, nil)
	}
	return b.Value, nil
}

// Layer is one level of the namespace stack.
type Layer interface {
	// Resolve returns the binding for key and whether the layer has it.
	Resolve(key string) (Binding, bool, error)
}

// MapLayer is a plain mapping layer.
type MapLayer map[string]Binding

// NewMapLayer builds a layer from plain values.
func NewMapLayer(values map[string]any) MapLayer {
	layer := make(MapLayer, len(values))
	for k, v := range values {
		layer[k] = Bind(v)
	}
	return layer
}

func (m MapLayer) Resolve(key string) (Binding, bool, error) {
	b, ok := m[key]
	return b, ok, nil
}

// Set binds value under key.
func (m MapLayer) Set(key string, value any) {
	m[key] = Bind(value)
}

// InstanceLayer exposes the attributes of one object. Resolved attributes
// are cached for the life of the layer.
type InstanceLayer struct {
	obj    any
	getter AttributeGetter
	cache  map[string]Binding
}

// NewInstanceLayer wraps obj. A nil getter means ReflectAccess.
func NewInstanceLayer(obj any, getter AttributeGetter) *InstanceLayer {
	if getter == nil {
		getter = ReflectAccess{}
	}
	return &InstanceLayer{obj: obj, getter: getter, cache: make(map[string]Binding)}
}

// Object returns the wrapped object.
func (l *InstanceLayer) Object() any {
	return l.obj
}

func (l *InstanceLayer) Resolve(key string) (Binding, bool, error) {
	if strings.HasPrefix(key, "_") {
		if key == "__str__" {
			return Binding{Kind: LiteralBinding, Value: stringOf(l.obj)}, true, nil
		}
		return Binding{}, false, nil
	}
	if b, ok := l.cache[key]; ok {
		return b, true, nil
	}
	v, err := l.getter.GetAttr(l.obj, key)
	if err != nil {
		if isNoAttribute(err) {
			return Binding{}, false, nil
		}
		return Binding{}, false, err
	}
	b := Bind(v)
	l.cache[key] = b
	return b, true, nil
}

// Namespace is the render-time scope stack. The most recently pushed layer
// wins. A Namespace belongs to one render call and is not safe for
// concurrent use.
type Namespace struct {
	layers []Layer
	level  int
	env    *environment
}

// NewNamespace returns an empty namespace using the default environment.
func NewNamespace(layers ...Layer) *Namespace {
	return newNamespace(defaultEnv(), layers...)
}

func newNamespace(env *environment, layers ...Layer) *Namespace {
	ns := &Namespace{env: env}
	for _, l := range layers {
		ns.Push(l)
	}
	return ns
}

// Push adds a layer on top of the stack.
func (ns *Namespace) Push(layer Layer) {
	ns.layers = append(ns.layers, layer)
}

// Pop removes the top n layers and returns the last one removed.
func (ns *Namespace) Pop(n int) Layer {
	if n <= 0 || len(ns.layers) == 0 {
		return nil
	}
	if n > len(ns.layers) {
		n = len(ns.layers)
	}
	top := len(ns.layers) - n
	last := ns.layers[top]
	for i := top; i < len(ns.layers); i++ {
		ns.layers[i] = nil
	}
	ns.layers = ns.layers[:top]
	return last
}

// Len returns the number of layers.
func (ns *Namespace) Len() int {
	return len(ns.layers)
}

// Level is the current template call depth.
func (ns *Namespace) Level() int {
	return ns.level
}

// Resolve finds the binding for key without invoking it, which lets a
// namespace be pushed as a layer of another.
func (ns *Namespace) Resolve(key string) (Binding, bool, error) {
	for i := len(ns.layers) - 1; i >= 0; i-- {
		b, ok, err := ns.layers[i].Resolve(key)
		if err != nil {
			return Binding{}, false, err
		}
		if ok {
			return b, true, nil
		}
	}
	return Binding{}, false, nil
}

// Lookup returns the value bound to key. With call set, renderable values,
// sub-templates and zero-argument functions are invoked.
func (ns *Namespace) Lookup(key string, call bool) (any, error) {
	b, ok, err := ns.Resolve(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &LookupError{Key: key}
	}
	return b.resolve(ns, call)
}

// Get is Lookup with call behaviour.
func (ns *Namespace) Get(key string) (any, error) {
	return ns.Lookup(key, true)
}

// Has reports whether any layer binds key.
func (ns *Namespace) Has(key string) bool {
	_, ok, err := ns.Resolve(key)
	return ok && err == nil
}

// fresh returns an empty namespace sharing the environment and call depth.
func (ns *Namespace) fresh() *Namespace {
	return &Namespace{env: ns.env, level: ns.level}
}

// Render renders v the way a name reference would.
func (ns *Namespace) Render(v any) (any, error) {
	return Bind(v).resolve(ns, true)
}
