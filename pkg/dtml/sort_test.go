package dtml

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseSortSpec(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"name", "name/cmp/asc"},
		{"name,age", "name/cmp/asc,age/cmp/asc"},
		{"name/nocase/desc, age/cmp/ASC", "name/nocase/desc,age/cmp/asc"},
		{"title/locale", "title/locale/asc"},
	}
	for _, tt := range tests {
		spec, err := parseSortSpec(tt.in)
		if err != nil {
			t.Errorf("parseSortSpec(%q): %v", tt.in, err)
			continue
		}
		if got := spec.String(); got != tt.want {
			t.Errorf("parseSortSpec(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSortSpecErrors(t *testing.T) {
	tests := []struct {
		in      string
		message string
	}{
		{"a/cmp/asc/x", "sort option must contain no more than 2 slashes"},
		{"a/cmp/up", "sort order must be either ASC or DESC"},
	}
	for _, tt := range tests {
		_, err := parseSortSpec(tt.in)
		pe, ok := err.(*ParseError)
		if !ok {
			t.Errorf("parseSortSpec(%q) error = %v, want a ParseError", tt.in, err)
			continue
		}
		if pe.Message != tt.message {
			t.Errorf("parseSortSpec(%q) message = %q, want %q", tt.in, pe.Message, tt.message)
		}
	}
}

func sortStrings(t *testing.T, ns *Namespace, items []any, spec string, mapping bool) []any {
	t.Helper()
	s, err := parseSortSpec(spec)
	if err != nil {
		t.Fatalf("parseSortSpec(%q): %v", spec, err)
	}
	out, err := sortItems(ns, items, s, mapping)
	if err != nil {
		t.Fatalf("sortItems(%q): %v", spec, err)
	}
	return out
}

func TestSortItemsStable(t *testing.T) {
	items := []any{
		map[string]any{"k": "c", "id": 1},
		map[string]any{"k": "a", "id": 2},
		map[string]any{"k": "b", "id": 3},
		map[string]any{"k": "a", "id": 4},
	}
	out := sortStrings(t, NewNamespace(), items, "k", true)

	var ids []any
	for _, item := range out {
		ids = append(ids, item.(map[string]any)["id"])
	}
	if diff := cmp.Diff([]any{2, 4, 3, 1}, ids); diff != "" {
		t.Errorf("sorted ids mismatch (-want +got):\n%s", diff)
	}
	if items[0].(map[string]any)["id"] != 1 {
		t.Error("sortItems modified its input")
	}
}

func TestSortItemsComparators(t *testing.T) {
	ns := NewNamespace(NewMapLayer(map[string]any{
		"bylen": func(a, b any) int { return len(a.(string)) - len(b.(string)) },
	}))
	words := []any{"b", "A", "a", "B"}

	tests := []struct {
		name string
		spec string
		in   []any
		want []any
	}{
		{"plain", "", words, []any{"A", "B", "a", "b"}},
		{"nocase", "/nocase", words, []any{"A", "a", "b", "B"}},
		{"descending", "/cmp/desc", words, []any{"b", "a", "B", "A"}},
		{"locale", "/locale", []any{"b", "ä", "a"}, []any{"a", "ä", "b"}},
		{"namespace function", "/bylen", []any{"ccc", "a", "bb"}, []any{"a", "bb", "ccc"}},
		{"nil keys first", "x", []any{map[string]any{"x": 2}, map[string]any{}}, []any{map[string]any{}, map[string]any{"x": 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sortStrings(t, ns, tt.in, tt.spec, false)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSortItemsPairsByKey(t *testing.T) {
	items := []any{Pair{"b", 1}, Pair{"a", 2}}
	got := sortStrings(t, NewNamespace(), items, "", false)
	if diff := cmp.Diff([]any{Pair{"a", 2}, Pair{"b", 1}}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSortItemsUnknownComparator(t *testing.T) {
	spec, _ := parseSortSpec("x/nosuchcmp")
	if _, err := sortItems(NewNamespace(), []any{1, 2}, spec, false); !IsLookupError(err) {
		t.Errorf("error = %v, want a lookup error", err)
	}
}
