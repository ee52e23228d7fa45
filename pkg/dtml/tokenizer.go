package dtml

import (
	"regexp"
	"strings"
	"sync"
)

// Syntax selects the tag syntax a template is written in.
type Syntax int

const (
	// StringSyntax is the %(name args)fmt form.
	StringSyntax Syntax = iota
	// HTMLSyntax is the <dtml-name args>, <!--#name args--> and &dtml-name; form.
	HTMLSyntax
)

func (s Syntax) String() string {
	if s == HTMLSyntax {
		return "html"
	}
	return "string"
}

// Tag markers. Any other marker on a string-syntax tag is a format code.
const (
	markerOpen      = "["
	markerClose     = "]"
	markerAlternate = "!"
)

// Token is one tag found in a template source.
type Token struct {
	Tag    string // full tag text
	Name   string
	Args   string
	Marker string
	Offset int
	Line   int
}

// IsClose reports a block-close tag.
func (t Token) IsClose() bool {
	return t.Marker == markerClose
}

// IsValue reports a string-syntax value tag, %(name)s and the like.
func (t Token) IsValue() bool {
	return t.Marker != markerOpen && t.Marker != markerClose && t.Marker != markerAlternate
}

const tagName = `[a-zA-Z0-9_/.-]+`

var tagPatterns = sync.OnceValue(func() map[Syntax]*regexp.Regexp {
	return map[Syntax]*regexp.Regexp{
		StringSyntax: regexp.MustCompile(`(?i)%\((?P<name>` + tagName + `)(?:[\x00- ]+(?P<args>(?:[^)"]+(?:"[^"]*")?)*))?\)(?P<fmt>[0-9]*[.]?[0-9]*[a-z]|[\]!\[])`),
		HTMLSyntax: regexp.MustCompile(
			`<!--#(?P<cend>/)?(?P<cname>[a-zA-Z0-9_.-]+)(?:[\x00- ]+(?P<cargs>(?:[^"]|"[^"]*")*?))?[\x00- ]*-->` +
				`|<(?P<end>/)?(?i:dtml)-(?P<name>[a-zA-Z0-9_.-]+)(?:[\x00- ]+(?P<args>(?:[^>"/]+|"[^"]*"|/)*?))?[\x00- ]*/?>` +
				`|&(?i:dtml)(?P<mods>(?:\.[a-zA-Z0-9_]+)*)-(?P<ename>[a-zA-Z0-9_.-]+);`),
	}
})

// scanner finds the next tag of one syntax.
type scanner struct {
	syntax  Syntax
	pattern *regexp.Regexp
}

func newScanner(syntax Syntax) *scanner {
	return &scanner{syntax: syntax, pattern: tagPatterns()[syntax]}
}

// next returns the first tag at or after start.
func (s *scanner) next(text string, start int) (Token, bool) {
	if start > len(text) {
		return Token{}, false
	}
	loc := s.pattern.FindStringSubmatchIndex(text[start:])
	if loc == nil {
		return Token{}, false
	}
	group := func(name string) string {
		i := s.pattern.SubexpIndex(name)
		if i < 0 || loc[2*i] < 0 {
			return ""
		}
		return text[start+loc[2*i] : start+loc[2*i+1]]
	}

	tok := Token{
		Tag:    text[start+loc[0] : start+loc[1]],
		Offset: start + loc[0],
	}
	tok.Line = strings.Count(text[:tok.Offset], "\n") + 1

	if s.syntax == StringSyntax {
		tok.Name = group("name")
		tok.Args = strings.TrimSpace(group("args"))
		tok.Marker = group("fmt")
		return tok, true
	}

	switch {
	case strings.HasPrefix(tok.Tag, "<!--#"):
		tok.Name = strings.ToLower(group("cname"))
		tok.Args = strings.TrimSpace(group("cargs"))
		tok.Marker = markerOpen
		if group("cend") != "" {
			tok.Marker = markerClose
		}
	case strings.HasPrefix(tok.Tag, "&"):
		// &dtml-name; is an html-quoted var; &dtml.mod1.mod2-name; applies
		// the named modifiers instead.
		tok.Name = "var"
		tok.Args = group("ename") + " html_quote"
		if mods := group("mods"); mods != "" {
			tok.Args = group("ename") + strings.ReplaceAll(mods, ".", " ")
		}
		tok.Marker = markerOpen
	default:
		tok.Name = strings.ToLower(group("name"))
		tok.Args = strings.TrimSpace(group("args"))
		tok.Marker = markerOpen
		if group("end") != "" {
			tok.Marker = markerClose
		}
	}
	return tok, true
}

// Tokenize lists every tag in a template source, in order.
func Tokenize(input string, syntax Syntax) []Token {
	var tokens []Token

	logger := GetLogger()
	if logger.IsDebugMode() {
		logger.WithFields(Fields{
			"input_length": len(input),
			"syntax":       syntax.String(),
		}).Debug("Starting tokenization")
	}

	s := newScanner(syntax)
	for start := 0; ; {
		tok, ok := s.next(input, start)
		if !ok {
			break
		}
		tokens = append(tokens, tok)
		start = tok.Offset + len(tok.Tag)
	}

	if logger.IsDebugMode() {
		logger.WithField("token_count", len(tokens)).Debug("Tokenization complete")
	}
	return tokens
}

// FindTemplateTokens finds all tag texts in a string
// This is a utility function for debugging and analysis
func FindTemplateTokens(input string, syntax Syntax) []string {
	matches := tagPatterns()[syntax].FindAllString(input, -1)
	if matches == nil {
		return []string{}
	}
	return matches
}
