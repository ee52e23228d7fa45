package dtml

import (
	"errors"
	"testing"
)

type greeter struct{ who string }

func (g greeter) RenderWithNamespace(ns *Namespace) (any, error) {
	v, err := ns.Get("greeting")
	if err != nil {
		return nil, err
	}
	return stringOf(v) + ", " + g.who, nil
}

// countingProvider counts attribute lookups.
type countingProvider struct{ calls *int }

func (p countingProvider) Attribute(name string) (any, bool) {
	*p.calls++
	if name == "title" {
		return "T", true
	}
	return nil, false
}

func TestBindKinds(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  BindingKind
	}{
		{"nil", nil, LiteralBinding},
		{"string", "x", LiteralBinding},
		{"error", errors.New("e"), LiteralBinding},
		{"zero-argument function", func() int { return 1 }, CallableBinding},
		{"function with arguments", func(int) int { return 1 }, LiteralBinding},
		{"variadic function", func(...int) int { return 1 }, LiteralBinding},
		{"template", NewHTML("x"), SubTemplateBinding},
		{"renderer", greeter{}, RenderableBinding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Bind(tt.value).Kind; got != tt.want {
				t.Errorf("Bind kind = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNamespaceStack(t *testing.T) {
	ns := NewNamespace(NewMapLayer(map[string]any{"a": 1, "b": 1}))
	ns.Push(NewMapLayer(map[string]any{"a": 2}))

	if ns.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ns.Len())
	}
	if v, _ := ns.Get("a"); v != 2 {
		t.Errorf("a = %v, want the top layer's 2", v)
	}
	if v, _ := ns.Get("b"); v != 1 {
		t.Errorf("b = %v, want 1", v)
	}

	top := ns.Pop(1)
	if _, ok := top.(MapLayer)["a"]; !ok {
		t.Error("Pop did not return the top layer")
	}
	if v, _ := ns.Get("a"); v != 1 {
		t.Errorf("a after Pop = %v, want 1", v)
	}
	if ns.Pop(0) != nil {
		t.Error("Pop(0) returned a layer")
	}
	ns.Pop(5)
	if ns.Len() != 0 {
		t.Errorf("Len after popping everything = %d", ns.Len())
	}

	_, err := ns.Get("a")
	var le *LookupError
	if !errors.As(err, &le) || le.Key != "a" {
		t.Errorf("lookup on empty namespace = %v", err)
	}
}

func TestNamespaceCallBehaviour(t *testing.T) {
	calls := 0
	fn := func() string {
		calls++
		return "called"
	}
	ns := NewNamespace(NewMapLayer(map[string]any{
		"fn":       fn,
		"greeting": "Hello",
		"g":        greeter{who: "Bob"},
		"sub":      NewHTML(`<dtml-var greeting>!`),
	}))

	if v, _ := ns.Lookup("fn", false); v == nil || calls != 0 {
		t.Errorf("lookup without call invoked the function")
	}
	if v, _ := ns.Get("fn"); v != "called" || calls != 1 {
		t.Errorf("Get(fn) = %v after %d calls", v, calls)
	}
	if v, _ := ns.Get("g"); v != "Hello, Bob" {
		t.Errorf("renderer = %v", v)
	}
	if v, _ := ns.Get("sub"); v != "Hello!" {
		t.Errorf("sub-template = %v", v)
	}
	if !ns.Has("greeting") || ns.Has("missing") {
		t.Error("Has reported the wrong names")
	}
	if v, _ := ns.Render(fn); v != "called" {
		t.Errorf("Render(fn) = %v", v)
	}
}

func TestInstanceLayer(t *testing.T) {
	calls := 0
	layer := NewInstanceLayer(countingProvider{calls: &calls}, nil)

	for i := 0; i < 2; i++ {
		b, ok, err := layer.Resolve("title")
		if err != nil || !ok || b.Value != "T" {
			t.Fatalf("Resolve(title) = %v, %v, %v", b, ok, err)
		}
	}
	if calls != 1 {
		t.Errorf("attribute looked up %d times, want 1", calls)
	}

	if _, ok, err := layer.Resolve("other"); ok || err != nil {
		t.Errorf("Resolve(other) = %v, %v, want absent", ok, err)
	}
	if _, ok, _ := layer.Resolve("_private"); ok {
		t.Error("underscore name resolved")
	}

	str := NewInstanceLayer(account{Name: "n"}, nil)
	if b, ok, _ := str.Resolve("__str__"); !ok || b.Value != "{n 0}" {
		t.Errorf("__str__ = %v, %v", b.Value, ok)
	}
}

func TestNamespaceAsLayer(t *testing.T) {
	inner := NewNamespace(NewMapLayer(map[string]any{"x": "inner"}))
	outer := NewNamespace(NewMapLayer(map[string]any{"x": "outer", "y": "y"}), inner)

	if v, _ := outer.Get("x"); v != "inner" {
		t.Errorf("x = %v, want inner", v)
	}
	if v, _ := outer.Get("y"); v != "y" {
		t.Errorf("y = %v", v)
	}
}
