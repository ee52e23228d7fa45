package dtml

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
)

// textNode is literal template text.
type textNode string

func (n textNode) String() string {
	return fmt.Sprintf("Text(%q)", string(n))
}

func (n textNode) Render(*Namespace) (any, error) {
	return string(n), nil
}

// earlyReturn carries the value of a return tag up to the template call
// that owns the namespace. Handlers of the try tag never catch it.
type earlyReturn struct {
	value any
}

func (e *earlyReturn) Error() string {
	return "return tag used outside of a template call"
}

func isEarlyReturn(err error) bool {
	var r *earlyReturn
	return errors.As(err, &r)
}

// renderBlocks renders nodes in order and joins their output.
func renderBlocks(nodes []Node, ns *Namespace) (any, error) {
	var parts []any
	for _, node := range nodes {
		out, err := node.Render(ns)
		if err != nil {
			return nil, err
		}
		parts = appendFragment(parts, out)
	}
	return joinFragments(parts, ns.env.fallback), nil
}

// appendFragment adds a rendered value to parts. Empty output is dropped
// and values other than text and bytes are converted to text.
func appendFragment(parts []any, out any) []any {
	switch v := out.(type) {
	case nil:
	case string:
		if v != "" {
			parts = append(parts, v)
		}
	case []byte:
		if len(v) > 0 {
			parts = append(parts, v)
		}
	default:
		if s := stringOf(v); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// renderText renders nodes to a string.
func renderText(nodes []Node, ns *Namespace) (string, error) {
	out, err := renderBlocks(nodes, ns)
	if err != nil {
		return "", err
	}
	return fragmentText(out, ns.env.fallback), nil
}

// joinFragments concatenates rendered fragments. Only byte fragments join
// to bytes; a mix is joined as text with the bytes decoded by fallback.
func joinFragments(parts []any, fallback encoding.Encoding) any {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}

	allBytes := true
	for _, p := range parts {
		if _, ok := p.([]byte); !ok {
			allBytes = false
			break
		}
	}
	if allBytes {
		var buf bytes.Buffer
		for _, p := range parts {
			buf.Write(p.([]byte))
		}
		return buf.Bytes()
	}

	var b strings.Builder
	for _, p := range parts {
		b.WriteString(fragmentText(p, fallback))
	}
	return b.String()
}

func fragmentText(v any, fallback encoding.Encoding) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return decodeBytes(fallback, t)
	case nil:
		return ""
	}
	return stringOf(v)
}
