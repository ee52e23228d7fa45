package dtml

import (
	"bytes"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// renderHTML renders an HTML-syntax source with keyword values and fails
// the test on error.
func renderHTML(t *testing.T, source string, kw map[string]any) string {
	t.Helper()
	out, err := NewHTML(source).Render(nil, nil, kw)
	if err != nil {
		t.Fatalf("Render(%q): %v", source, err)
	}
	return out
}

// renderError renders an HTML-syntax source that must fail.
func renderError(t *testing.T, source string, kw map[string]any) error {
	t.Helper()
	out, err := NewHTML(source).Render(nil, nil, kw)
	if err == nil {
		t.Fatalf("Render(%q) = %q, want an error", source, out)
	}
	return err
}

func TestHelloWorld(t *testing.T) {
	tmpl := NewHTML(`<dtml-var greeting>, <dtml-var name html_quote>!`)
	got, err := tmpl.Render(nil, map[string]any{"greeting": "Hello"}, map[string]any{"name": "<World>"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "Hello, &lt;World&gt;!"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLookupPrecedence(t *testing.T) {
	source := `<dtml-var name>`

	tests := []struct {
		name    string
		kw      bool
		vars    bool
		client  bool
		mapping bool
		want    string
	}{
		{"keywords first", true, true, true, true, "kw"},
		{"then variables", false, true, true, true, "var"},
		{"then client", false, false, true, true, "client"},
		{"then mapping", false, false, false, true, "mapping"},
		{"defaults last", false, false, false, false, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := NewHTML(source, WithDefaults(map[string]any{"name": "default"}))

			var client, mapping any
			var kw map[string]any
			if tt.kw {
				kw = map[string]any{"name": "kw"}
			}
			if tt.vars {
				tmpl.SetVar("name", "var")
			}
			if tt.client {
				client = account{Name: "client"}
			}
			if tt.mapping {
				mapping = map[string]any{"name": "mapping"}
			}

			got, err := tmpl.Render(client, mapping, kw)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientChain(t *testing.T) {
	outer := account{Name: "outer", Balance: 10}
	inner := struct{ Name string }{Name: "inner"}

	got, err := NewHTML(`<dtml-var name> <dtml-var balance>`).Render(ClientChain{outer, inner}, nil, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "inner 10"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSetDefaults(t *testing.T) {
	tmpl := NewHTML(`<dtml-var a> <dtml-var b> <dtml-var _hidden missing="-"> <dtml-var c missing="-">`)
	tmpl.SetVar("c", "var")

	err := tmpl.SetDefaults(
		map[string]any{"a": 1, "b": "mapping", "_hidden": "x"},
		map[string]any{"b": "value"},
	)
	if err != nil {
		t.Fatalf("SetDefaults: %v", err)
	}
	if got, want := tmpl.MustRender(nil, nil, nil), "1 value - -"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCompileReplacesSource(t *testing.T) {
	tmpl := NewHTML(`old`)
	if got := tmpl.MustRender(nil, nil, nil); got != "old" {
		t.Fatalf("got %q, want old", got)
	}
	if err := tmpl.Compile(`new <dtml-var x>`); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := tmpl.MustRender(nil, nil, map[string]any{"x": 1}); got != "new 1" {
		t.Errorf("got %q, want %q", got, "new 1")
	}
	if err := tmpl.Compile(`<dtml-if x>`); !IsParseError(err) {
		t.Errorf("Compile of broken source = %v, want a parse error", err)
	}
}

func TestSubTemplates(t *testing.T) {
	header := NewHTML(`<h1><dtml-var title></h1>`)
	page := NewHTML(`<dtml-var header>body`)

	got, err := page.Render(nil, nil, map[string]any{"header": header, "title": "T"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "<h1>T</h1>body"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	returning := NewHTML(`ignored<dtml-return expr="'x'">`)
	got = renderHTML(t, `a<dtml-var sub>b`, map[string]any{"sub": returning})
	if got != "axb" {
		t.Errorf("return from sub-template = %q, want axb", got)
	}
}

func TestRecursionLimit(t *testing.T) {
	self := NewHTML(`<dtml-var self>`)
	_, err := self.Render(nil, nil, map[string]any{"self": self})
	if !IsRecursionError(err) {
		t.Fatalf("error = %v, want a recursion error", err)
	}
	if got := ErrorType(err); got != "RecursionError" {
		t.Errorf("ErrorType = %q, want RecursionError", got)
	}
}

func TestReturnTag(t *testing.T) {
	v, err := NewHTML(`before<dtml-return expr="42">after`).Call(nil, nil, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != 42 {
		t.Errorf("Call = %#v, want 42", v)
	}

	if got := renderHTML(t, `<dtml-return expr="6 * 7">`, nil); got != "42" {
		t.Errorf("Render = %q, want 42", got)
	}

	got := renderHTML(t, `<dtml-try><dtml-return x><dtml-except>caught</dtml-try>`, map[string]any{"x": "value"})
	if got != "value" {
		t.Errorf("return inside try = %q, want value", got)
	}
}

func TestMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.dtml")

	got, err := NewHTMLFile(path).Render(nil, nil, nil)
	if err != nil {
		t.Fatalf("Render of missing file: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty output", got)
	}

	engine, err := NewWithConfig(&Config{StrictMode: true})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	if _, err := engine.PrepareFile(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("strict PrepareFile error = %v, want fs.ErrNotExist", err)
	}
}

func TestRenderBytes(t *testing.T) {
	kw := map[string]any{"x": "café"}

	utf8, err := NewHTML(`<dtml-var x>`).RenderBytes(nil, nil, kw)
	if err != nil {
		t.Fatalf("RenderBytes: %v", err)
	}
	if diff := cmp.Diff([]byte("café"), utf8); diff != "" {
		t.Errorf("utf-8 mismatch (-want +got):\n%s", diff)
	}

	latin1, err := NewHTML(`<dtml-var x>`, WithEncoding("latin-1")).RenderBytes(nil, nil, kw)
	if err != nil {
		t.Fatalf("RenderBytes: %v", err)
	}
	if diff := cmp.Diff([]byte{'c', 'a', 'f', 0xe9}, latin1); diff != "" {
		t.Errorf("latin-1 mismatch (-want +got):\n%s", diff)
	}
}

func TestMustRenderPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("MustRender did not panic")
		}
		if msg, _ := r.(string); !strings.Contains(msg, "page") {
			t.Errorf("panic %v does not name the template", r)
		}
	}()
	NewHTML(`<dtml-var nope>`, WithName("page")).MustRender(nil, nil, nil)
}

func TestConcurrentRender(t *testing.T) {
	tmpl := NewHTML(`<dtml-in items><dtml-var sequence-item></dtml-in>`)
	items := numbers(5)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := tmpl.Render(nil, nil, map[string]any{"items": items})
			if err != nil {
				errs <- err
				return
			}
			if out != "12345" {
				errs <- errors.New("unexpected output " + out)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestJoinBytesFragments(t *testing.T) {
	kw := map[string]any{
		"raw":  []byte{0xff, 0xe9},
		"more": []byte("ab"),
	}

	if got := renderHTML(t, `text <dtml-var raw>!`, kw); got != "text ÿé!" {
		t.Errorf("mixed fragments = %q, want %q", got, "text ÿé!")
	}

	v, err := NewHTML(`<dtml-var raw><dtml-var more>`).Call(nil, nil, kw)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	b, ok := v.([]byte)
	if !ok {
		t.Fatalf("Call = %T, want []byte", v)
	}
	if !bytes.Equal(b, []byte{0xff, 0xe9, 'a', 'b'}) {
		t.Errorf("Call = %x", b)
	}
}
