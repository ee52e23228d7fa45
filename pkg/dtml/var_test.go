package dtml

import "testing"

func TestVarTag(t *testing.T) {
	tests := []struct {
		name   string
		source string
		kw     map[string]any
		want   string
	}{
		{"plain", `<dtml-var x>`, map[string]any{"x": 5}, "5"},
		{"none renders empty", `[<dtml-var x>]`, map[string]any{"x": nil}, "[]"},
		{"html quote", `<dtml-var x html_quote>`, map[string]any{"x": "<b>"}, "&lt;b&gt;"},
		{"entity", `&dtml-x;`, map[string]any{"x": `"a" & b`}, "&quot;a&quot; &amp; b"},
		{"entity modifiers", `&dtml.url_quote-x;`, map[string]any{"x": "a b"}, "a%20b"},
		{"comment syntax", `<!--#var x-->`, map[string]any{"x": "y"}, "y"},
		{"upper", `<dtml-var x upper>`, map[string]any{"x": "hello World"}, "HELLO WORLD"},
		{"lower", `<dtml-var x lower>`, map[string]any{"x": "Hello"}, "hello"},
		{"capitalize", `<dtml-var x capitalize>`, map[string]any{"x": "hELLO"}, "Hello"},
		{"spacify", `<dtml-var x spacify>`, map[string]any{"x": "a_b_c"}, "a b c"},
		{"thousands commas", `<dtml-var x thousands_commas>`, map[string]any{"x": 1234567}, "1,234,567"},
		{"sql quote", `<dtml-var x sql_quote>`, map[string]any{"x": "it's"}, "it''s"},
		{"url quote plus", `<dtml-var x url_quote_plus>`, map[string]any{"x": "a b/c"}, "a+b%2Fc"},
		{"newline to br", `<dtml-var x newline_to_br>`, map[string]any{"x": "a\nb"}, "a<br />\nb"},
		{"quote before newline_to_br", `<dtml-var x html_quote newline_to_br>`, map[string]any{"x": "<\n>"}, "&lt;<br />\n&gt;"},
		{"c format", `<dtml-var x fmt="%.2f">`, map[string]any{"x": 3.14159}, "3.14"},
		{"whole dollars", `<dtml-var x fmt=whole-dollars>`, map[string]any{"x": 12}, "$12"},
		{"dollars and cents", `<dtml-var x fmt=dollars-and-cents>`, map[string]any{"x": 3}, "$3.00"},
		{"dollars with commas", `<dtml-var x fmt=dollars-and-cents-with-commas>`, map[string]any{"x": 1234.5}, "$1,234.50"},
		{"collection length", `<dtml-var x fmt=collection-length>`, map[string]any{"x": []int{1, 2, 3}}, "3"},
		{"method format", `<dtml-var x fmt=upper>`, map[string]any{"x": "abc"}, "ABC"},
		{"null on none", `<dtml-var x null="n/a">`, map[string]any{"x": nil}, "n/a"},
		{"null on empty", `<dtml-var x null="n/a">`, map[string]any{"x": ""}, "n/a"},
		{"zero is not null", `<dtml-var x null="n/a">`, map[string]any{"x": 0}, "0"},
		{"missing", `<dtml-var y missing="?">`, nil, "?"},
		{"missing default", `<dtml-var y missing>`, nil, ""},
		{"truncate at space", `<dtml-var x size=10>`, map[string]any{"x": "The quick brown fox"}, "The quick ..."},
		{"truncate with etc", `<dtml-var x size=4 etc="~">`, map[string]any{"x": "abcdefgh"}, "abcd~"},
		{"short is kept", `<dtml-var x size=40>`, map[string]any{"x": "short"}, "short"},
		{"expression", `<dtml-var expr="x * 2 + 1">`, map[string]any{"x": 4}, "9"},
		{"expression shorthand", `<dtml-var "x[1]">`, map[string]any{"x": []string{"a", "b"}}, "b"},
		{"callable is called", `<dtml-var f>`, map[string]any{"f": func() string { return "called" }}, "called"},
		{"tainted is quoted", `<dtml-var t>`, map[string]any{"t": Tainted("<x>")}, "&lt;x&gt;"},
		{"tainted quoted once", `<dtml-var t html_quote>`, map[string]any{"t": Tainted("<x>")}, "&lt;x&gt;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderHTML(t, tt.source, tt.kw); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStringSyntax(t *testing.T) {
	tests := []struct {
		source string
		kw     map[string]any
		want   string
	}{
		{"Hello %(name)s!", map[string]any{"name": "World"}, "Hello World!"},
		{"%(n)d items", map[string]any{"n": 3}, "3 items"},
		{"%(x)05.1f", map[string]any{"x": 3.14159}, "003.1"},
		{"%(x upper)s", map[string]any{"x": "up"}, "UP"},
		{"%(if x)[yes%(else)[no%(if)]", map[string]any{"x": false}, "no"},
		{"%(in items)[%(sequence-item)s,%(in)]", map[string]any{"items": []int{1, 2}}, "1,2,"},
		{"100%% sure", nil, "100%% sure"},
	}
	for _, tt := range tests {
		out, err := NewString(tt.source).Render(nil, nil, tt.kw)
		if err != nil {
			t.Errorf("Render(%q): %v", tt.source, err)
			continue
		}
		if out != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.source, out, tt.want)
		}
	}
}

func TestVarTagErrors(t *testing.T) {
	err := renderError(t, `<dtml-var y>`, nil)
	if !IsLookupError(err) || ErrorType(err) != "KeyError" {
		t.Errorf("undefined name error = %v (%s)", err, ErrorType(err))
	}

	err = renderError(t, `<dtml-var x fmt="%d">`, map[string]any{"x": "abc"})
	if !IsFormatError(err) {
		t.Errorf("bad format error = %v, want a format error", err)
	}

	if err := NewHTML(`<dtml-var x size=big>`).Check(); !IsParseError(err) {
		t.Errorf("non-integer size error = %v, want a parse error", err)
	}
	if err := NewHTML(`<dtml-var x default>`).Check(); !IsParseError(err) {
		t.Errorf("default without value error = %v, want a parse error", err)
	}
	if err := NewHTML(`<dtml-var x expr="1">`).Check(); !IsParseError(err) {
		t.Errorf("name and expr error = %v, want a parse error", err)
	}
}
