package dtml

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// lookupEncoding resolves an encoding label. The latin-1 family names map to
// true ISO 8859-1; every other label follows the WHATWG index, where
// "iso-8859-1" would otherwise mean windows-1252.
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "latin-1", "latin1", "latin_1", "l1", "iso-8859-1", "iso8859-1", "iso_8859-1":
		return charmap.ISO8859_1, nil
	}
	return htmlindex.Get(name)
}

// decodeBytes decodes b with enc. Bytes the encoding cannot map are replaced,
// so decoding never fails.
func decodeBytes(enc encoding.Encoding, b []byte) string {
	if enc == nil {
		enc = charmap.ISO8859_1
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// encodeString converts rendered text to the template's output encoding.
// UTF-8 output is returned unchanged.
func encodeString(enc encoding.Encoding, s string) ([]byte, error) {
	if enc == nil || enc == encoding.Nop {
		return []byte(s), nil
	}
	return encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(s))
}
