// Package dtml implements DTML, a markup language for generating text and
// HTML from templates.
//
// A template mixes literal text with tags. Tags insert values looked up in
// a layered namespace, evaluate expressions, branch, loop over sequences
// with batching and statistics, and handle exceptions.
//
// # Quick Start
//
//	tmpl := dtml.NewHTML(`<dtml-var greeting>, <dtml-var name html_quote>!`)
//
//	out, err := tmpl.Render(nil, map[string]any{"greeting": "Hello"}, map[string]any{
//	    "name": "<World>",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out) // Hello, &lt;World&gt;!
//
// # Template Syntax
//
// Two tag syntaxes exist. The string syntax is the one of Python format
// strings:
//
//	%(name)s                      - Insert a value
//	%(price fmt="%.2f")s          - Insert with a format
//	%(if x)[ ... %(elif y)[ ... %(else)[ ... %(if)]
//
// The HTML syntax is the everyday one:
//
//	<dtml-var title>                     - Insert a value
//	<dtml-var expr="price * 1.2">        - Insert an expression
//	&dtml-title;                         - Entity form, HTML-quoted
//	<dtml-if x>...<dtml-elif y>...<dtml-else>...</dtml-if>
//	<dtml-unless x>...</dtml-unless>
//	<dtml-in items sort=name>...<dtml-else>...</dtml-in>
//	<dtml-with obj>...</dtml-with>
//	<dtml-let a="1" b="a + 1">...</dtml-let>
//	<dtml-try>...<dtml-except KeyError>...<dtml-else>...</dtml-try>
//	<dtml-try>...<dtml-finally>...</dtml-try>
//	<dtml-raise ValueError>message</dtml-raise>
//	<dtml-call "do_something()">
//	<dtml-return expr="result">
//	<dtml-comment>...</dtml-comment>
//
// # Var Modifiers
//
// The var tag first applies fmt (a method of the value, a special format such
// as whole-dollars or structured-text, or a C-style format), then null and
// default, then the flags in a fixed order: html_quote, the url quotes,
// newline_to_br, lower, upper, capitalize, spacify, thousands_commas and
// sql_quote. A size attribute truncates last, appending etc.
//
// # Iteration
//
// Inside an in tag the cursor exposes sequence-item, sequence-index,
// sequence-number, sequence-start, sequence-end, sequence-roman and the
// other sequence variables. Giving start, end, size, previous or next turns
// on batching:
//
//	<dtml-in items size=10 start=query_start>
//	  <dtml-if sequence-start><dtml-if previous-sequence>...</dtml-if></dtml-if>
//	  <dtml-var sequence-item>
//	</dtml-in>
//
// Statistics over the whole sequence are available as total-price,
// mean-price, count-price, median-price and so on.
//
// # Engines
//
// Package-level constructors use a shared environment. An Engine carries
// its own functions, commands, special formats, exception types and cache:
//
//	engine := dtml.NewWithOptions(dtml.WithCache(50))
//	engine.RegisterFunction(dtml.NewSimpleFunction("greet", 1, 1, func(args ...any) (any, error) {
//	    return fmt.Sprintf("Hello, %v!", args[0]), nil
//	}))
//	tmpl, err := engine.PrepareFile("page.dtml")
//
// # Configuration
//
// Configuration comes from DefaultConfig, the DTML_* environment variables
// or a YAML file read with LoadConfigFile, and is checked by Config.Validate.
//
// # Error Handling
//
// Errors carry an exception type name (see ErrorType) that except clauses
// match against:
//
//   - *ParseError: malformed template text, with tag and line
//   - *LookupError: an undefined name (KeyError)
//   - *EvaluationError: an expression that failed to compile or evaluate
//   - *StructuralError: a misused tag, such as a string given to in
//   - *Exception: raised by a raise tag or a builtin function
//   - *RecursionError: template calls nested too deep
//
// # Thread Safety
//
// A compiled template may be rendered by many goroutines at once. Each
// render call builds its own namespace; compilation is serialized.
package dtml
