// Package pyformat implements the single-argument printf-style formatting used
// by template variable formats such as "%.2f", "$%d" or "%05x".
//
// The conversions follow the C/printf family rather than Go's fmt verbs:
// %d truncates floats, %s uses Str, %r quotes strings, and a format must
// contain exactly one conversion (a literal "%%" does not count).
//
//	s, err := pyformat.Format("$%.2f", 12.5)
//	// s == "$12.50"
package pyformat
