package dtml

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Param declares one attribute a command accepts. A bare occurrence of the
// name (no "=value") takes Default, unless Required is set.
type Param struct {
	Default  string
	Required bool
}

// ParamSpec maps attribute names to their declarations.
type ParamSpec map[string]Param

var (
	flagParam     = Param{Default: "1"}
	requiredParam = Param{Required: true}
)

// Params holds parsed attributes. The unnamed value, if any, is stored
// under the empty key; a quoted unnamed value keeps its quotes.
type Params map[string]string

// Has reports whether name was given.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Get returns the value of name, or "".
func (p Params) Get(name string) string {
	return p[name]
}

// Int returns the value of name as an integer.
func (p Params) Int(name string) (int, bool, error) {
	v, ok := p[name]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, true, fmt.Errorf("%s must be an integer, got %q", name, v)
	}
	return i, true, nil
}

// Names returns the sorted attribute names, the unnamed key included.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var (
	unquotedBareRegex  = regexp.MustCompile(`^([\x00- ]*([^\x00- ="]+))`)
	quotedBareRegex    = regexp.MustCompile(`^([\x00- ]*("[^"]*"))`)
	unquotedValueRegex = regexp.MustCompile(`^([\x00- ]*([^\x00- ="]+)=([^\x00- ="]+))`)
	quotedValueRegex   = regexp.MustCompile(`^([\x00- ]*([^\x00- ="]+)="([^"]*)")`)
)

// ParseParams parses a tag's attribute text against spec. One attribute is
// consumed per step: name=value, name="value", a bare token, then a quoted
// bare token. The first bare token, while nothing has been parsed yet, is
// the unnamed value.
func ParseParams(text string, spec ParamSpec, tag string) (Params, error) {
	result := Params{}
	for {
		var name, value string
		if m := unquotedValueRegex.FindStringSubmatch(text); m != nil {
			name, value = strings.ToLower(m[2]), m[3]
			text = text[len(m[1]):]
		} else if m := quotedValueRegex.FindStringSubmatch(text); m != nil {
			name, value = strings.ToLower(m[2]), m[3]
			text = text[len(m[1]):]
		} else if m := unquotedBareRegex.FindStringSubmatch(text); m != nil {
			text = text[len(m[1]):]
			if len(result) == 0 {
				result[""] = m[2]
				continue
			}
			p, ok := spec[m[2]]
			if !ok {
				return nil, &ParseError{Message: fmt.Sprintf("Invalid attribute name, \"%s\"", m[2]), Tag: tag}
			}
			if p.Required {
				return nil, &ParseError{Message: fmt.Sprintf("Attribute %s requires a value", m[2]), Tag: tag}
			}
			result[m[2]] = p.Default
			continue
		} else if m := quotedBareRegex.FindStringSubmatch(text); m != nil {
			text = text[len(m[1]):]
			if len(result) > 0 {
				return nil, &ParseError{Message: fmt.Sprintf("Invalid attribute name, \"%s\"", m[2]), Tag: tag}
			}
			result[""] = m[2]
			continue
		} else {
			if strings.TrimSpace(text) == "" {
				return result, nil
			}
			return nil, &ParseError{Message: fmt.Sprintf("invalid parameter: \"%s\"", text), Tag: tag}
		}

		if _, ok := spec[name]; !ok {
			return nil, &ParseError{Message: fmt.Sprintf("Invalid attribute name, \"%s\"", name), Tag: tag}
		}
		if _, dup := result[name]; dup {
			return nil, &ParseError{Message: fmt.Sprintf("Duplicate values for attribute \"%s\"", name), Tag: tag}
		}
		result[name] = value
		text = strings.TrimSpace(text)
	}
}

// NameParam resolves the name or expression a tag refers to: the unnamed
// value (a quoted one is expression shorthand), the attr attribute, or expr
// when allowExpr is set. Exactly one must be present.
func NameParam(params Params, tag string, allowExpr bool, attr string) (string, *Expression, error) {
	if attr == "" {
		attr = "name"
	}
	fail := func(format string, args ...any) (string, *Expression, error) {
		return "", nil, &ParseError{Message: fmt.Sprintf(format, args...), Tag: tag}
	}

	if v, ok := params[""]; ok {
		if len(v) > 1 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
			if params.Has(attr) {
				return fail("%s and expr given", attr)
			}
			if !allowExpr {
				return fail(`The "..." shorthand for expr was used in a tag that doesn't support expr attributes.`)
			}
			if params.Has("expr") {
				return fail("two exprs given")
			}
			return compileParam(v[1:len(v)-1], tag)
		}
		if params.Has(attr) {
			return fail("Two %s values were given", attr)
		}
		if allowExpr && params.Has("expr") {
			return fail("%s and expr given", attr)
		}
		return v, nil, nil
	}

	if v, ok := params[attr]; ok {
		if allowExpr && params.Has("expr") {
			return fail("%s and expr given", attr)
		}
		return v, nil, nil
	}
	if allowExpr && params.Has("expr") {
		return compileParam(params["expr"], tag)
	}
	return fail("No %s given", attr)
}

func compileParam(source, tag string) (string, *Expression, error) {
	expr, err := CompileExpression(source)
	if err != nil {
		return "", nil, &ParseError{Message: fmt.Sprintf("expression syntax error: %v", err), Tag: tag}
	}
	return source, expr, nil
}
