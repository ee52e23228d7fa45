package pyformat

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrArgumentCount is returned when a format does not contain exactly one
// conversion for its single argument.
var ErrArgumentCount = errors.New("format requires exactly one conversion")

// TypeError reports a value that a conversion cannot accept.
type TypeError struct {
	Verb  rune
	Value interface{}
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%%%c format: a number is required, not %T", e.Verb, e.Value)
}

type segment struct {
	literal bool
	text    string
	spec    spec
}

type spec struct {
	flags     string
	width     int
	precision int // -1 when absent
	verb      rune
}

var specRegex = regexp.MustCompile(`%([-+ #0]*)(\d+)?(?:\.(\d*))?([diouxXeEfFgGcrsa%])`)

func parse(format string) []segment {
	var segments []segment
	lastEnd := 0

	for _, m := range specRegex.FindAllStringSubmatchIndex(format, -1) {
		if m[0] > lastEnd {
			segments = append(segments, segment{literal: true, text: format[lastEnd:m[0]]})
		}

		s := spec{precision: -1}
		if m[2] >= 0 {
			s.flags = format[m[2]:m[3]]
		}
		if m[4] >= 0 {
			s.width, _ = strconv.Atoi(format[m[4]:m[5]])
		}
		if m[6] >= 0 {
			s.precision, _ = strconv.Atoi(format[m[6]:m[7]])
		}
		s.verb = rune(format[m[8]])

		if s.verb == '%' {
			segments = append(segments, segment{literal: true, text: "%"})
		} else {
			segments = append(segments, segment{spec: s})
		}
		lastEnd = m[1]
	}

	if lastEnd < len(format) {
		segments = append(segments, segment{literal: true, text: format[lastEnd:]})
	}
	return segments
}

// Format applies a printf-style format with exactly one conversion to value,
// following the semantics of the classic `format % value` operator.
func Format(format string, value interface{}) (string, error) {
	return FormatWith(format, value, Str)
}

// FormatWith is Format with a caller supplied string conversion for %s.
func FormatWith(format string, value interface{}, str func(interface{}) string) (string, error) {
	segments := parse(format)

	conversions := 0
	for _, seg := range segments {
		if !seg.literal {
			conversions++
		}
	}
	if conversions != 1 {
		return "", fmt.Errorf("%w: %q has %d", ErrArgumentCount, format, conversions)
	}

	var b strings.Builder
	for _, seg := range segments {
		if seg.literal {
			b.WriteString(seg.text)
			continue
		}
		out, err := convert(seg.spec, value, str)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

func convert(s spec, value interface{}, str func(interface{}) string) (string, error) {
	switch s.verb {
	case 'd', 'i', 'u':
		n, ok := toInteger(value, true)
		if !ok {
			return "", &TypeError{Verb: s.verb, Value: value}
		}
		return formatInteger(s, n, 10, ""), nil
	case 'o', 'x', 'X':
		n, ok := toInteger(value, false)
		if !ok {
			return "", &TypeError{Verb: s.verb, Value: value}
		}
		base, prefix := 16, "0x"
		if s.verb == 'o' {
			base, prefix = 8, "0o"
		}
		if s.verb == 'X' {
			prefix = "0X"
		}
		return formatInteger(s, n, base, prefix), nil
	case 'e', 'E', 'f', 'F', 'g', 'G':
		f, ok := toFloat(value)
		if !ok {
			return "", &TypeError{Verb: s.verb, Value: value}
		}
		return formatFloat(s, f), nil
	case 'c':
		switch v := value.(type) {
		case string:
			if len([]rune(v)) != 1 {
				return "", fmt.Errorf("%%c requires int or char")
			}
			return pad(s, v), nil
		default:
			n, ok := toInteger(value, false)
			if !ok {
				return "", &TypeError{Verb: s.verb, Value: value}
			}
			return pad(s, string(rune(n))), nil
		}
	case 'r', 'a':
		return pad(s, truncate(s, Repr(value))), nil
	default:
		return pad(s, truncate(s, str(value))), nil
	}
}

func truncate(s spec, text string) string {
	if s.precision < 0 {
		return text
	}
	r := []rune(text)
	if len(r) > s.precision {
		return string(r[:s.precision])
	}
	return text
}

func formatInteger(s spec, n int64, base int, prefix string) string {
	neg := n < 0
	var digits string
	if neg {
		digits = strconv.FormatUint(uint64(-n), base)
	} else {
		digits = strconv.FormatInt(n, base)
	}
	if s.verb == 'X' {
		digits = strings.ToUpper(digits)
	}
	if s.precision > len(digits) {
		digits = strings.Repeat("0", s.precision-len(digits)) + digits
	}

	sign := signFor(s, neg)
	if strings.Contains(s.flags, "#") && prefix != "" {
		sign += prefix
	}
	return padNumber(s, sign, digits)
}

func formatFloat(s spec, f float64) string {
	neg := math.Signbit(f) && !math.IsNaN(f)
	abs := math.Abs(f)

	var digits string
	switch {
	case math.IsInf(f, 0):
		digits = "inf"
	case math.IsNaN(f):
		digits = "nan"
	default:
		prec := s.precision
		if prec < 0 {
			prec = 6
		}
		verb := byte(s.verb)
		switch verb {
		case 'F':
			verb = 'f'
		case 'g', 'G':
			if prec == 0 {
				prec = 1
			}
		}
		digits = strconv.FormatFloat(abs, verb, prec, 64)
		if verb == 'e' || verb == 'E' || verb == 'g' || verb == 'G' {
			digits = fixExponent(digits)
		}
	}
	if s.verb == 'E' || s.verb == 'F' || s.verb == 'G' {
		digits = strings.ToUpper(digits)
	}
	return padNumber(s, signFor(s, neg), digits)
}

// fixExponent pads a one digit exponent to two digits as C printf does.
func fixExponent(digits string) string {
	i := strings.IndexAny(digits, "eE")
	if i < 0 || i+2 >= len(digits) {
		return digits
	}
	exp := digits[i+2:]
	if len(exp) == 1 {
		return digits[:i+2] + "0" + exp
	}
	return digits
}

func signFor(s spec, neg bool) string {
	switch {
	case neg:
		return "-"
	case strings.Contains(s.flags, "+"):
		return "+"
	case strings.Contains(s.flags, " "):
		return " "
	}
	return ""
}

func padNumber(s spec, sign, digits string) string {
	width := s.width - len(sign) - len(digits)
	if width <= 0 {
		return sign + digits
	}
	switch {
	case strings.Contains(s.flags, "-"):
		return sign + digits + strings.Repeat(" ", width)
	case strings.Contains(s.flags, "0"):
		return sign + strings.Repeat("0", width) + digits
	default:
		return strings.Repeat(" ", width) + sign + digits
	}
}

func pad(s spec, text string) string {
	width := s.width - len([]rune(text))
	if width <= 0 {
		return text
	}
	if strings.Contains(s.flags, "-") {
		return text + strings.Repeat(" ", width)
	}
	return strings.Repeat(" ", width) + text
}
