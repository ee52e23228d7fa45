package dtml

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/benjaminschreck/go-dtml/pkg/dtml/pyformat"
)

// typedError is implemented by errors that carry an exception type name used
// for try/except matching.
type typedError interface {
	ExceptionType() string
}

// ErrorType returns the exception type name of err. Errors that do not carry
// a type are reported as "Exception".
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var te typedError
	if errors.As(err, &te) {
		if name := te.ExceptionType(); name != "" {
			return name
		}
	}
	var fe *pyformat.TypeError
	switch {
	case errors.As(err, &fe):
		return "TypeError"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrNoAttribute):
		return "AttributeError"
	}
	return "Exception"
}

// ParseError represents an error during template parsing
type ParseError struct {
	Message  string
	Tag      string
	Line     int
	Template string
}

func (e *ParseError) Error() string {
	name := e.Template
	if name == "" {
		name = "<string>"
	}
	if e.Tag == "" {
		return fmt.Sprintf("%s, on line %d of %s", e.Message, e.Line, name)
	}
	return fmt.Sprintf("%s, for tag %s, on line %d of %s", e.Message, e.Tag, e.Line, name)
}

func (e *ParseError) ExceptionType() string { return "ParseError" }

// NewParseError creates a new parse error
func NewParseError(message, tag string, line int, template string) error {
	return &ParseError{
		Message:  message,
		Tag:      tag,
		Line:     line,
		Template: template,
	}
}

// LookupError reports a name that no namespace layer provides.
type LookupError struct {
	Key string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("key not found: %s", e.Key)
}

func (e *LookupError) ExceptionType() string { return "KeyError" }

// EvaluationError represents an error during expression evaluation
type EvaluationError struct {
	Expression string
	Cause      error
}

func (e *EvaluationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("evaluation error for expression '%s': %v", e.Expression, e.Cause)
	}
	return fmt.Sprintf("evaluation error for expression '%s'", e.Expression)
}

func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

func (e *EvaluationError) ExceptionType() string {
	if e.Cause == nil {
		return "Exception"
	}
	return ErrorType(e.Cause)
}

// NewEvaluationError creates a new evaluation error. Errors that already
// carry evaluation context, and early returns, are passed through.
func NewEvaluationError(expression string, cause error) error {
	var ee *EvaluationError
	if errors.As(cause, &ee) {
		return cause
	}
	if _, ok := cause.(*earlyReturn); ok {
		return cause
	}
	return &EvaluationError{
		Expression: expression,
		Cause:      cause,
	}
}

// FormatError reports a format or transform that cannot apply to a value.
type FormatError struct {
	Format string
	Name   string
	Cause  error
}

func (e *FormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot format %s with %q: %v", e.Name, e.Format, e.Cause)
	}
	return fmt.Sprintf("cannot format %s with %q", e.Name, e.Format)
}

func (e *FormatError) Unwrap() error {
	return e.Cause
}

func (e *FormatError) ExceptionType() string { return "ValueError" }

// StructuralError reports a construct used on the wrong kind of value or in
// the wrong context, such as iterating a string.
type StructuralError struct {
	Message string
}

func (e *StructuralError) Error() string {
	return e.Message
}

func (e *StructuralError) ExceptionType() string { return "ValueError" }

// Exception is an error with an explicit exception type name. It is raised
// by builtins, by the expression language and by the raise tag.
type Exception struct {
	Type    string
	Message string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Message
}

func (e *Exception) ExceptionType() string { return e.Type }

// NewException creates an exception of the given type.
func NewException(typ, format string, args ...interface{}) error {
	return &Exception{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// RecursionError is returned when nested template calls exceed the
// configured depth.
type RecursionError struct {
	Depth int
}

func (e *RecursionError) Error() string {
	return "infinite recursion in document template"
}

func (e *RecursionError) ExceptionType() string { return "RecursionError" }

// ExceptionTypes is an immutable table of exception type names and their
// bases. Handlers match an error when the handler names its type or one of
// its bases.
type ExceptionTypes struct {
	bases map[string]string
}

var defaultExceptionBases = map[string]string{
	"Exception":                  "",
	"LookupError":                "Exception",
	"KeyError":                   "LookupError",
	"IndexError":                 "LookupError",
	"ArithmeticError":            "Exception",
	"ZeroDivisionError":          "ArithmeticError",
	"OverflowError":              "ArithmeticError",
	"ValueError":                 "Exception",
	"TypeError":                  "Exception",
	"NameError":                  "Exception",
	"AttributeError":             "Exception",
	"SyntaxError":                "Exception",
	"ParseError":                 "SyntaxError",
	"InvalidErrorTypeExpression": "Exception",
	"Unauthorized":               "Exception",
	"RuntimeError":               "Exception",
	"RecursionError":             "RuntimeError",
	"NotImplementedError":        "RuntimeError",
}

// DefaultExceptionTypes returns the built-in exception hierarchy.
func DefaultExceptionTypes() *ExceptionTypes {
	bases := make(map[string]string, len(defaultExceptionBases))
	for k, v := range defaultExceptionBases {
		bases[k] = v
	}
	return &ExceptionTypes{bases: bases}
}

// With returns a copy of the table with name added under base.
func (t *ExceptionTypes) With(name, base string) *ExceptionTypes {
	bases := make(map[string]string, len(t.bases)+1)
	for k, v := range t.bases {
		bases[k] = v
	}
	if base == "" {
		base = "Exception"
	}
	bases[name] = base
	return &ExceptionTypes{bases: bases}
}

// Has reports whether name is a known exception type.
func (t *ExceptionTypes) Has(name string) bool {
	_, ok := t.bases[name]
	return ok
}

// Names returns the known type names in sorted order.
func (t *ExceptionTypes) Names() []string {
	names := make([]string, 0, len(t.bases))
	for name := range t.bases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain returns errType followed by its bases, ending with Exception.
// Unknown types derive directly from Exception.
func (t *ExceptionTypes) Chain(errType string) []string {
	var chain []string
	for name := errType; name != ""; name = t.bases[name] {
		chain = append(chain, name)
		if name == "Exception" || len(chain) > len(t.bases) {
			return chain
		}
	}
	return append(chain, "Exception")
}

// Matches reports whether an error of type errType is caught by a handler
// declared for handler.
func (t *ExceptionTypes) Matches(errType, handler string) bool {
	if handler == "Exception" {
		return true
	}
	seen := 0
	for name := errType; name != ""; name = t.bases[name] {
		if name == handler {
			return true
		}
		if seen++; seen > len(t.bases) {
			break
		}
	}
	return false
}

// ValidationIssue represents a single validation problem
type ValidationIssue struct {
	Field   string
	Message string
}

// ValidationError represents multiple validation issues
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation error"
	}

	if len(e.Issues) == 1 {
		return fmt.Sprintf("validation error: %s - %s", e.Issues[0].Field, e.Issues[0].Message)
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("%d validation issues:", len(e.Issues)))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("  %s: %s", issue.Field, issue.Message))
	}
	return strings.Join(parts, "\n")
}

func (e *ValidationError) ExceptionType() string { return "ValueError" }

// MultiError collects multiple errors
type MultiError struct {
	errors []error
}

// NewMultiError creates a new multi-error collector
func NewMultiError() *MultiError {
	return &MultiError{
		errors: make([]error, 0),
	}
}

// Add adds an error to the collection (ignores nil errors)
func (m *MultiError) Add(err error) {
	if err != nil {
		m.errors = append(m.errors, err)
	}
}

// Len returns the number of errors
func (m *MultiError) Len() int {
	return len(m.errors)
}

// Errors returns the collected errors.
func (m *MultiError) Errors() []error {
	return m.errors
}

// Err returns the multi-error or nil if empty
func (m *MultiError) Err() error {
	if len(m.errors) == 0 {
		return nil
	}
	if len(m.errors) == 1 {
		return m.errors[0]
	}
	return m
}

func (m *MultiError) Error() string {
	if len(m.errors) == 0 {
		return "no errors"
	}

	if len(m.errors) == 1 {
		return m.errors[0].Error()
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("%d errors occurred:", len(m.errors)))
	for i, err := range m.errors {
		parts = append(parts, fmt.Sprintf("  [%d] %v", i+1, err))
	}
	return strings.Join(parts, "\n")
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.errors
}

// ContextError adds context to an existing error
type ContextError struct {
	Operation string
	Context   map[string]interface{}
	Cause     error
}

func (e *ContextError) Error() string {
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var contextParts []string
	for _, k := range keys {
		contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
	}

	if len(contextParts) > 0 {
		return fmt.Sprintf("%s [%s]: %v", e.Operation, strings.Join(contextParts, ", "), e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Cause)
}

func (e *ContextError) Unwrap() error {
	return e.Cause
}

// WithContext wraps an error with additional context
func WithContext(err error, operation string, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ContextError{
		Operation: operation,
		Context:   context,
		Cause:     err,
	}
}

// RecoverError converts a panic recovery value to an error
func RecoverError(r interface{}) error {
	switch v := r.(type) {
	case error:
		return fmt.Errorf("panic recovered: %w", v)
	case string:
		return fmt.Errorf("panic recovered: %s", v)
	default:
		return fmt.Errorf("panic recovered: %v", v)
	}
}

// IsParseError checks if an error is a parse error
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsLookupError checks if an error is a missing-name error
func IsLookupError(err error) bool {
	var target *LookupError
	return errors.As(err, &target)
}

// IsEvaluationError checks if an error is an evaluation error
func IsEvaluationError(err error) bool {
	var target *EvaluationError
	return errors.As(err, &target)
}

// IsFormatError checks if an error is a format error
func IsFormatError(err error) bool {
	var target *FormatError
	return errors.As(err, &target)
}

// IsStructuralError checks if an error is a structural error
func IsStructuralError(err error) bool {
	var target *StructuralError
	return errors.As(err, &target)
}

// IsRecursionError checks if an error is a recursion error
func IsRecursionError(err error) bool {
	var target *RecursionError
	return errors.As(err, &target)
}
