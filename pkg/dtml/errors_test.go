package dtml

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/benjaminschreck/go-dtml/pkg/dtml/pyformat"
)

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"parse", &ParseError{Message: "m"}, "ParseError"},
		{"lookup", &LookupError{Key: "k"}, "KeyError"},
		{"wrapped lookup", fmt.Errorf("render: %w", &LookupError{Key: "k"}), "KeyError"},
		{"format", &FormatError{Format: "%d"}, "ValueError"},
		{"structural", &StructuralError{Message: "m"}, "ValueError"},
		{"raised", &Exception{Type: "Custom"}, "Custom"},
		{"recursion", &RecursionError{Depth: 3}, "RecursionError"},
		{"evaluation keeps the cause", NewEvaluationError("1/0", NewException("ZeroDivisionError", "division by zero")), "ZeroDivisionError"},
		{"format type error", &pyformat.TypeError{Verb: 'd', Value: "x"}, "TypeError"},
		{"unauthorized", fmt.Errorf("%w: _x", ErrUnauthorized), "Unauthorized"},
		{"no attribute", fmt.Errorf("%w: y", ErrNoAttribute), "AttributeError"},
		{"plain", errors.New("plain"), "Exception"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorType(tt.err); got != tt.want {
				t.Errorf("ErrorType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExceptionTypesChain(t *testing.T) {
	types := DefaultExceptionTypes()

	tests := []struct {
		errType string
		want    []string
	}{
		{"KeyError", []string{"KeyError", "LookupError", "Exception"}},
		{"ParseError", []string{"ParseError", "SyntaxError", "Exception"}},
		{"RecursionError", []string{"RecursionError", "RuntimeError", "Exception"}},
		{"Exception", []string{"Exception"}},
		{"Unknown", []string{"Unknown", "Exception"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, types.Chain(tt.errType)); diff != "" {
			t.Errorf("Chain(%s) mismatch (-want +got):\n%s", tt.errType, diff)
		}
	}
}

func TestExceptionTypesMatches(t *testing.T) {
	types := DefaultExceptionTypes().With("AppError", "ValueError").With("Plain", "")

	tests := []struct {
		errType, handler string
		want             bool
	}{
		{"KeyError", "KeyError", true},
		{"KeyError", "LookupError", true},
		{"KeyError", "IndexError", false},
		{"ZeroDivisionError", "ArithmeticError", true},
		{"AppError", "ValueError", true},
		{"Plain", "ValueError", false},
		{"Plain", "Exception", true},
		{"Whatever", "Exception", true},
	}
	for _, tt := range tests {
		if got := types.Matches(tt.errType, tt.handler); got != tt.want {
			t.Errorf("Matches(%s, %s) = %v, want %v", tt.errType, tt.handler, got, tt.want)
		}
	}

	if DefaultExceptionTypes().Has("AppError") {
		t.Error("With modified the default table")
	}
	if !types.Has("AppError") {
		t.Error("With did not add the type")
	}
	names := types.Names()
	if names[0] != "AppError" {
		t.Errorf("Names not sorted: %v", names)
	}
}

func TestParseErrorMessage(t *testing.T) {
	err := NewParseError("Unexpected tag", "else", 4, "page.dtml")
	if got, want := err.Error(), "Unexpected tag, for tag else, on line 4 of page.dtml"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	plain := &ParseError{Message: "No closing tag", Line: 1}
	if got, want := plain.Error(), "No closing tag, on line 1 of <string>"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestMultiError(t *testing.T) {
	m := NewMultiError()
	if m.Err() != nil {
		t.Error("empty MultiError is not nil")
	}
	m.Add(nil)
	first := &LookupError{Key: "a"}
	m.Add(first)
	if m.Err() != first {
		t.Error("single error was wrapped")
	}
	m.Add(errors.New("second"))
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
	msg := m.Err().Error()
	if !strings.HasPrefix(msg, "2 errors occurred:") || !strings.Contains(msg, "[2] second") {
		t.Errorf("Error() = %q", msg)
	}
	if !IsLookupError(m.Err()) {
		t.Error("collected errors are not reachable with errors.As")
	}
}

func TestRecoverError(t *testing.T) {
	cause := errors.New("cause")
	if err := RecoverError(cause); !errors.Is(err, cause) {
		t.Errorf("RecoverError(error) = %v", err)
	}
	if err := RecoverError("text"); err.Error() != "panic recovered: text" {
		t.Errorf("RecoverError(string) = %v", err)
	}
	if err := RecoverError(42); err.Error() != "panic recovered: 42" {
		t.Errorf("RecoverError(int) = %v", err)
	}
}

func TestPanicInCalledFunction(t *testing.T) {
	kw := map[string]any{"boom": func(any) any { panic("exploded") }}
	err := renderError(t, `<dtml-var "boom(1)">`, kw)
	if !strings.Contains(err.Error(), "exploded") {
		t.Errorf("error = %v, want the panic message", err)
	}
}
