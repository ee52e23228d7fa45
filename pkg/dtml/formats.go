package dtml

import (
	"fmt"
	"sync"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	mdhtml "github.com/gomarkdown/markdown/html"
	mdparser "github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/benjaminschreck/go-dtml/pkg/dtml/pyformat"
	"github.com/benjaminschreck/go-dtml/pkg/dtml/quote"
)

// SpecialFormat is a named fmt= conversion. name is the variable name the
// value was looked up under.
type SpecialFormat func(value any, name string, ns *Namespace) (any, error)

// structuredTextLevel is the heading level a top-level heading renders at.
const structuredTextLevel = 3

var (
	structuredTextPolicyOnce sync.Once
	structuredTextPolicy     *bluemonday.Policy
)

func structuredTextSanitizer() *bluemonday.Policy {
	structuredTextPolicyOnce.Do(func() {
		structuredTextPolicy = bluemonday.UGCPolicy()
	})
	return structuredTextPolicy
}

func stringFormat(fn func(string) string) SpecialFormat {
	return func(v any, _ string, _ *Namespace) (any, error) {
		return fn(stringOf(v)), nil
	}
}

// money formats with format and yields "" when the value is not a number.
func money(format string) func(any) string {
	return func(v any) string {
		out, err := pyformat.Format(format, v)
		if err != nil {
			return ""
		}
		return out
	}
}

func standardFormats() map[string]SpecialFormat {
	wholeDollars := money("$%d")
	dollarsAndCents := money("$%.2f")

	return map[string]SpecialFormat{
		"whole-dollars": func(v any, _ string, _ *Namespace) (any, error) {
			return wholeDollars(v), nil
		},
		"dollars-and-cents": func(v any, _ string, _ *Namespace) (any, error) {
			return dollarsAndCents(v), nil
		},
		"collection-length": func(v any, _ string, _ *Namespace) (any, error) {
			n, err := length(v)
			if err != nil {
				return nil, err
			}
			return stringOf(n), nil
		},
		"structured-text":   structuredText,
		"restructured-text": restructuredText,
		"locale-number":     localeNumber,

		// deprecated aliases of the var modifiers
		"sql-quote":        stringFormat(quote.SQL),
		"html-quote":       stringFormat(quote.HTML),
		"url-quote":        stringFormat(quote.URL),
		"url-quote-plus":   stringFormat(quote.URLPlus),
		"url-unquote":      stringFormat(quote.Unquote),
		"url-unquote-plus": stringFormat(quote.UnquotePlus),
		"multi-line":       newlineToBr,
		"comma-numeric":    stringFormat(quote.ThousandsCommas),
		"dollars-with-commas": func(v any, _ string, _ *Namespace) (any, error) {
			return quote.ThousandsCommas(wholeDollars(v)), nil
		},
		"dollars-and-cents-with-commas": func(v any, _ string, _ *Namespace) (any, error) {
			return quote.ThousandsCommas(dollarsAndCents(v)), nil
		},
	}
}

// newlineToBr quotes tainted input before inserting break tags.
func newlineToBr(v any, _ string, _ *Namespace) (any, error) {
	if t, ok := v.(Tainted); ok {
		return quote.NewlineToBr(t.Quoted()), nil
	}
	return quote.NewlineToBr(stringOf(v)), nil
}

// structuredText renders markdown and sanitizes the resulting HTML.
// Top-level headings render at structuredTextLevel.
func structuredText(v any, _ string, _ *Namespace) (any, error) {
	p := mdparser.NewWithExtensions(mdparser.CommonExtensions | mdparser.AutoHeadingIDs)
	doc := markdown.Parse([]byte(sourceText(v)), p)
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if h, ok := node.(*ast.Heading); ok && entering {
			h.Level = min(h.Level+structuredTextLevel-1, 6)
		}
		return ast.GoToNext
	})
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	out := markdown.Render(doc, renderer)
	return string(structuredTextSanitizer().SanitizeBytes(out)), nil
}

// restructuredText has no renderer available; it logs and yields nothing.
func restructuredText(v any, name string, ns *Namespace) (any, error) {
	ns.env.logger.WithField("name", name).Info("restructured-text is not available, rendering nothing")
	return nil, nil
}

// sourceText is the text of a value; templates contribute their source.
func sourceText(v any) string {
	if t, ok := v.(*Template); ok {
		src, err := t.Source()
		if err == nil {
			return src
		}
	}
	return stringOf(v)
}

// localeNumber groups digits for the configured locale.
func localeNumber(v any, _ string, ns *Namespace) (any, error) {
	if !isNumber(v) {
		return nil, fmt.Errorf("locale-number requires a number, not %s", typeName(v))
	}
	p := message.NewPrinter(ns.env.locale)
	return p.Sprint(number.Decimal(v)), nil
}
