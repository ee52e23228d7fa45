package quote

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const upperHex = "0123456789ABCDEF"

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// HTML escapes the characters that are significant in HTML text and
// attribute values, including both quote characters.
func HTML(s string) string {
	return htmlReplacer.Replace(s)
}

// NeedsHTML reports whether s contains a character that HTML would change.
// The single quote is deliberately not considered.
func NeedsHTML(s string) bool {
	return strings.ContainsAny(s, `&<>"`)
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '_' || c == '.' || c == '-' || c == '~'
}

func escape(s, safe string, plus bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case unreserved(c) || strings.IndexByte(safe, c) >= 0:
			b.WriteByte(c)
		case plus && c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&15])
		}
	}
	return b.String()
}

// URL percent-encodes s for use in a URL path; "/" is left alone.
func URL(s string) string {
	return escape(s, "/", false)
}

// URLPlus encodes s for a query string: "/" is encoded and spaces become "+".
func URLPlus(s string) string {
	return escape(s, "", true)
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func unescape(s string, plus bool) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s):
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				buf = append(buf, hi<<4|lo)
				i += 2
				continue
			}
			buf = append(buf, c)
		case c == '+' && plus:
			buf = append(buf, ' ')
		default:
			buf = append(buf, c)
		}
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// Unquote decodes %XX escapes. Malformed escapes are kept as they are and
// invalid UTF-8 is replaced.
func Unquote(s string) string {
	return unescape(s, false)
}

// UnquotePlus is Unquote that also turns "+" into a space.
func UnquotePlus(s string) string {
	return unescape(s, true)
}

var sqlReplacer = strings.NewReplacer("\x00", "", "\x1a", "", "\r", "", "'", "''")

// SQL quotes s for inclusion in a single-quoted SQL literal.
func SQL(s string) string {
	return sqlReplacer.Replace(s)
}

// NewlineToBr converts line breaks into <br /> elements, keeping the newline.
func NewlineToBr(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "<br />\n")
}

// Spacify replaces underscores with spaces.
func Spacify(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

// Capitalize upper-cases the first character and lower-cases the rest.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

var groupRegex = regexp.MustCompile(`([0-9])([0-9][0-9][0-9]([,.]|$))`)

// ThousandsCommas inserts a comma between every group of three digits of the
// integral part. Anything after the first "." is left untouched.
func ThousandsCommas(s string) string {
	head, tail := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		head, tail = s[:i], s[i:]
	}
	for {
		loc := groupRegex.FindStringIndex(head)
		if loc == nil {
			break
		}
		at := loc[0] + 1
		head = head[:at] + "," + head[at:]
	}
	return head + tail
}

// Truncate shortens s to at most size characters. When a space occurs past
// half of the limit the cut backs off to just after it. etc is appended
// whenever s is shortened.
func Truncate(s string, size int, etc string) string {
	r := []rune(s)
	if size < 0 || len(r) <= size {
		return s
	}
	cut := size
	for i := size - 1; i >= 0; i-- {
		if r[i] == ' ' {
			if i > size/2 {
				cut = i + 1
			}
			break
		}
	}
	return string(r[:cut]) + etc
}
