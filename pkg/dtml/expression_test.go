package dtml

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func evalNamespace() *Namespace {
	return NewNamespace(NewMapLayer(map[string]any{
		"x":     nil,
		"s":     "hello",
		"n":     4,
		"items": []any{1, 2, 3},
		"m":     map[string]any{"k": "v"},
		"acct":  account{Name: "alice", Balance: 10},
	}))
}

func TestExpressionEval(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"7 / 2", 3.5},
		{"6 / 3", 2.0},
		{"7 // 2", 3},
		{"-7 // 2", -4},
		{"-7 % 3", 2},
		{"2 ** 10", 1024},
		{"1.5 + 1", 2.5},
		{"'ab' * 2", "abab"},
		{"'a' 'b' + s", "abhello"},
		{"[1, 2] + [3]", []any{1, 2, 3}},
		{"s[1:3]", "el"},
		{"items[-1]", 3},
		{"m['k']", "v"},
		{"acct.name", "alice"},
		{"1 < 2 <= 2", true},
		{"1 < 2 > 3", false},
		{"3 in items", true},
		{"'z' not in s", true},
		{"x is None", true},
		{"not x", true},
		{"0 and n", 0},
		{"x or 'fallback'", "fallback"},
		{"'yes' if x else 'no'", "no"},
		{"len(items) + len(s)", 8},
		{"max(3, 9, 2)", 9},
		{"range(2, 8, 3)", []any{2, 5}},
		{"'%05.1f' % 3.14159", "003.1"},
		{"s.upper()", "HELLO"},
		{"getattr(acct, 'balance')", 10},
		{"_['n'] * 2", 8},
		{"True + True", 2},
	}
	ns := evalNamespace()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			expr, err := CompileExpression(tt.expr)
			if err != nil {
				t.Fatalf("CompileExpression: %v", err)
			}
			got, err := expr.Eval(ns)
			if err != nil {
				t.Fatalf("Eval: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExpressionErrors(t *testing.T) {
	tests := []struct {
		expr    string
		errType string
	}{
		{"1 / 0", "ZeroDivisionError"},
		{"n // 0", "ZeroDivisionError"},
		{"'a' + 1", "TypeError"},
		{"nope + 1", "NameError"},
		{"m['missing']", "KeyError"},
		{"len(n)", "TypeError"},
	}
	ns := evalNamespace()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			expr, err := CompileExpression(tt.expr)
			if err != nil {
				t.Fatalf("CompileExpression: %v", err)
			}
			_, err = expr.Eval(ns)
			if !IsEvaluationError(err) {
				t.Fatalf("Eval error = %v, want an evaluation error", err)
			}
			if got := ErrorType(err); got != tt.errType {
				t.Errorf("ErrorType = %q, want %q", got, tt.errType)
			}
		})
	}
}

func TestExpressionSyntaxErrors(t *testing.T) {
	for _, src := range []string{"1 +", "(1", "a if b", "[1, 2", "", "1 2", "a.", "and"} {
		if _, err := CompileExpression(src); err == nil {
			t.Errorf("CompileExpression(%q) succeeded", src)
		}
	}
}

func TestExpressionInTemplates(t *testing.T) {
	tests := []struct {
		source string
		kw     map[string]any
		want   string
	}{
		{`<dtml-var expr="price * qty">`, map[string]any{"price": 2.5, "qty": 4}, "10"},
		{`<dtml-var "_['name']">`, map[string]any{"name": "n"}, "n"},
		{`<dtml-var "render(t)">`, map[string]any{"t": NewHTML(`<dtml-var v>`), "v": "sub"}, "sub"},
		{`<dtml-var "hasattr(acct, 'label')">`, map[string]any{"acct": account{}}, "True"},
		{`<dtml-var "str(n) + '!'">`, map[string]any{"n": 3}, "3!"},
	}
	for _, tt := range tests {
		if got := renderHTML(t, tt.source, tt.kw); got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestEvaluateBinaryOperation(t *testing.T) {
	got, err := EvaluateBinaryOperation(7, "%", -3)
	if err != nil {
		t.Fatalf("EvaluateBinaryOperation: %v", err)
	}
	if got != -2 {
		t.Errorf("7 %% -3 = %v, want -2", got)
	}
	if _, err := EvaluateBinaryOperation("a", "-", "b"); ErrorType(err) != "TypeError" {
		t.Errorf("'a' - 'b' error = %v, want a TypeError", err)
	}
}
