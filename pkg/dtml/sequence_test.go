package dtml

import (
	"iter"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOpt(t *testing.T) {
	tests := []struct {
		start, end, size, orphan int
		want                     [3]int
	}{
		{1, 20, 10, 1, [3]int{1, 20, 10}},
		{1, 20, 0, 1, [3]int{1, 20, 20}},
		{0, 20, 10, 1, [3]int{11, 20, 10}},
		{1, 0, 10, 1, [3]int{1, 10, 10}},
		{80, 90, 10, 1, [3]int{52, 90, 10}},
		{1, 80, 10, 1, [3]int{1, 80, 10}},
		{0, 80, 10, 1, [3]int{43, 52, 10}},
		{10, 1, 10, 1, [3]int{10, 10, 10}},
		{0, 0, 10, 1, [3]int{1, 10, 10}},
		{0, 0, 90, 1, [3]int{1, 52, 90}},
		{0, 0, 0, 0, [3]int{1, 7, 7}},
	}
	for _, tt := range tests {
		s, e, size := opt(tt.start, tt.end, tt.size, tt.orphan, 52)
		if got := [3]int{s, e, size}; got != tt.want {
			t.Errorf("opt(%d, %d, %d, %d, 52) = %v, want %v", tt.start, tt.end, tt.size, tt.orphan, got, tt.want)
		}
	}
}

func TestOptOrphan(t *testing.T) {
	// A trailing batch shorter than orphan is merged into the current one.
	if s, e, _ := opt(1, 0, 5, 3, 7); s != 1 || e != 7 {
		t.Errorf("opt with orphan = (%d, %d), want (1, 7)", s, e)
	}
	if s, e, _ := opt(1, 0, 5, 0, 7); s != 1 || e != 5 {
		t.Errorf("opt without orphan = (%d, %d), want (1, 5)", s, e)
	}
}

func TestMaterialize(t *testing.T) {
	seq := iter.Seq[any](func(yield func(any) bool) {
		for _, v := range []any{1, 2} {
			if !yield(v) {
				return
			}
		}
	})

	tests := []struct {
		name string
		in   any
		want []any
	}{
		{"list", []any{1, "a"}, []any{1, "a"}},
		{"typed slice", []int{3, 4}, []any{3, 4}},
		{"array", [2]string{"x", "y"}, []any{"x", "y"}},
		{"string", "hé", []any{"h", "é"}},
		{"map by key", map[string]int{"b": 2, "a": 1}, []any{Pair{"a", 1}, Pair{"b", 2}}},
		{"iterator", seq, []any{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := materialize(tt.in)
			if err != nil {
				t.Fatalf("materialize: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("materialize mismatch (-want +got):\n%s", diff)
			}
		})
	}

	for _, bad := range []any{nil, 42, []byte("ab")} {
		if _, err := materialize(bad); ErrorType(err) != "TypeError" {
			t.Errorf("materialize(%#v) error = %v, want a TypeError", bad, err)
		}
	}
}

func TestCursorFacts(t *testing.T) {
	c := newCursor([]any{"a", "b", Pair{"k", "v"}}, "", nil, nil)
	c.data["sequence-index"] = 1

	tests := []struct {
		key  string
		want any
	}{
		{"sequence-number", 2},
		{"sequence-even", false},
		{"sequence-odd", true},
		{"sequence-letter", "b"},
		{"sequence-Letter", "B"},
		{"sequence-roman", "ii"},
		{"sequence-Roman", "II"},
		{"sequence-item", "b"},
		{"sequence-key", "b"},
		{"sequence-length", 3},
		{"sequence-start", true},
		{"sequence-end", false},
		{"sequence-index-number", 2},
	}
	for _, tt := range tests {
		got, err := c.Get(tt.key)
		if err != nil {
			t.Errorf("Get(%q): %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Get(%q) = %#v, want %#v", tt.key, got, tt.want)
		}
	}

	c.data["sequence-index"] = 2
	if got, _ := c.Get("sequence-key"); got != "k" {
		t.Errorf("pair sequence-key = %v, want k", got)
	}
	if got, _ := c.Get("sequence-item"); got != "v" {
		t.Errorf("pair sequence-item = %v, want v", got)
	}
	if v, ok := c.data["sequence-length"]; !ok || v != 3 {
		t.Errorf("sequence-length was not remembered: %v", v)
	}
}

func TestCursorLetterOverflow(t *testing.T) {
	c := newCursor(make([]any, 30), "", nil, nil)
	c.data["sequence-index"] = 26
	if got, _ := c.Get("sequence-letter"); got != "{" {
		t.Errorf("sequence-letter past z = %q, want {", got)
	}
}

func TestCursorPrefix(t *testing.T) {
	items := []any{map[string]any{"title": "One"}, map[string]any{"title": "Two"}}
	c := newCursor(items, "prf", nil, nil)
	c.Set("sequence-index", 0)

	tests := []struct {
		key  string
		want any
	}{
		{"prf_index", 0},
		{"prf_number", 1},
		{"prf_start", true},
		{"prf_item", items[0]},
		{"prf_var_title", "One"},
		{"sequence-number", 1},
	}
	for _, tt := range tests {
		got, err := c.Get(tt.key)
		if err != nil {
			t.Errorf("Get(%q): %v", tt.key, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Get(%q) mismatch (-want +got):\n%s", tt.key, diff)
		}
	}

	for _, key := range []string{"prf_foo", "prf_sequence-foo", "other_index"} {
		if _, err := c.Get(key); !IsLookupError(err) {
			t.Errorf("Get(%q) error = %v, want a lookup error", key, err)
		}
	}
}

func TestCursorBatchVariablesOutsideBatch(t *testing.T) {
	c := newCursor([]any{1, 2}, "", nil, nil)
	c.data["sequence-index"] = 0
	for _, key := range []string{"previous-sequence", "next-sequence-start-index", "next-batches"} {
		if _, err := c.Get(key); !IsStructuralError(err) {
			t.Errorf("Get(%q) error = %v, want a structural error", key, err)
		}
	}

	c.enableBatch()
	if got, err := c.Get("previous-sequence"); err != nil || got != false {
		t.Errorf("previous-sequence in batch mode = %v, %v", got, err)
	}
}

func TestCursorFirstLast(t *testing.T) {
	items := []any{
		map[string]any{"g": 1},
		map[string]any{"g": 1},
		map[string]any{"g": 2},
	}
	c := newCursor(items, "", nil, nil)
	c.mapping = true
	c.data["sequence-start"] = false
	c.data["sequence-index"] = 1

	if got, _ := c.Get("first-g"); got != false {
		t.Errorf("first-g = %v, want false", got)
	}
	if got, _ := c.Get("last-g"); got != true {
		t.Errorf("last-g = %v, want true", got)
	}

	c.data["sequence-index"] = 0
	if got, _ := c.Get("first-g"); got != true {
		t.Errorf("first-g at index 0 = %v, want true", got)
	}
}

func TestCursorBatches(t *testing.T) {
	items := make([]any, 25)
	for i := range items {
		items[i] = i
	}
	c := newCursor(items, "", nil, nil)
	c.enableBatch()
	c.data["sequence-step-size"] = 10
	c.data["sequence-step-start"] = 11
	c.data["sequence-step-end"] = 20
	c.data["sequence-step-overlap"] = 0
	c.data["sequence-step-orphan"] = 0
	c.data["next-sequence"] = true
	c.data["previous-sequence"] = true

	next, err := c.Get("next-batches")
	if err != nil {
		t.Fatalf("next-batches: %v", err)
	}
	nb := next.([]any)
	if len(nb) != 1 {
		t.Fatalf("len(next-batches) = %d, want 1", len(nb))
	}
	b := nb[0].(*Cursor)
	if b.data["batch-start-index"] != 20 || b.data["batch-end-index"] != 24 || b.data["batch-size"] != 5 {
		t.Errorf("next batch = %v", b.data)
	}

	prev, err := c.Get("previous-batches")
	if err != nil {
		t.Fatalf("previous-batches: %v", err)
	}
	pb := prev.([]any)
	if len(pb) != 1 || pb[0].(*Cursor).data["batch-start-index"] != 0 {
		t.Errorf("previous-batches = %v", pb)
	}
}

func TestToRoman(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "I"}, {4, "IV"}, {9, "IX"}, {14, "XIV"}, {40, "XL"},
		{1994, "MCMXCIV"}, {4999, "MMMMCMXCIX"},
	}
	for _, tt := range tests {
		got, err := toRoman(tt.n)
		if err != nil || got != tt.want {
			t.Errorf("toRoman(%d) = %q, %v, want %q", tt.n, got, err, tt.want)
		}
	}
	for _, n := range []int{0, 5000} {
		if _, err := toRoman(n); ErrorType(err) != "ValueError" {
			t.Errorf("toRoman(%d) error = %v, want a ValueError", n, err)
		}
	}
}
