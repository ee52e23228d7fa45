// Package quote provides the string transforms applied by template variable
// modifiers: HTML entity escaping, URL quoting in both directions, SQL string
// quoting, newline conversion, case helpers, digit grouping and truncation.
//
// All functions are pure, operate on UTF-8 text and never fail.
package quote
