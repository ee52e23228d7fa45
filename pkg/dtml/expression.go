package dtml

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ExpressionNode represents a node in the expression AST
type ExpressionNode interface {
	String() string
	Evaluate(ns *Namespace) (any, error)
}

// Expression is a compiled expression attribute, such as expr="a + 1" or
// the "..." shorthand.
type Expression struct {
	source string
	root   ExpressionNode
}

// CompileExpression parses source. The whole input must be consumed.
func CompileExpression(source string) (*Expression, error) {
	root, err := ParseExpression(source)
	if err != nil {
		return nil, err
	}
	return &Expression{source: source, root: root}, nil
}

// Source returns the expression text.
func (e *Expression) Source() string {
	return e.source
}

func (e *Expression) String() string {
	return e.root.String()
}

// Eval evaluates the expression against ns. Failures are wrapped in an
// *EvaluationError that keeps the exception type of the cause.
func (e *Expression) Eval(ns *Namespace) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewEvaluationError(e.source, RecoverError(r))
		}
	}()
	v, err = e.root.Evaluate(ns)
	if err != nil {
		return nil, NewEvaluationError(e.source, err)
	}
	return v, nil
}

// LiteralNode represents a literal value (string, number, boolean, None)
type LiteralNode struct {
	Value any
}

func (n *LiteralNode) String() string {
	if s, ok := n.Value.(string); ok {
		return fmt.Sprintf("Literal(%q)", s)
	}
	return fmt.Sprintf("Literal(%v)", n.Value)
}

func (n *LiteralNode) Evaluate(ns *Namespace) (any, error) {
	return n.Value, nil
}

// VariableNode represents a name reference
type VariableNode struct {
	Name string
}

func (n *VariableNode) String() string {
	return fmt.Sprintf("Variable(%s)", n.Name)
}

// Evaluate resolves the name in the namespace without call behaviour, then
// in the builtins. "_" is the namespace itself.
func (n *VariableNode) Evaluate(ns *Namespace) (any, error) {
	if n.Name == "_" {
		return ns, nil
	}
	v, err := ns.Lookup(n.Name, false)
	if err == nil {
		return v, nil
	}
	if !IsLookupError(err) {
		return nil, err
	}
	if fn, ok := ns.env.builtins.Get(n.Name); ok {
		return fn, nil
	}
	return nil, NewException("NameError", "name '%s' is not defined", n.Name)
}

// BinaryOpNode represents an arithmetic operation
type BinaryOpNode struct {
	Left     ExpressionNode
	Operator string
	Right    ExpressionNode
}

func (n *BinaryOpNode) String() string {
	return fmt.Sprintf("BinaryOp(%s %s %s)", n.Left.String(), n.Operator, n.Right.String())
}

func (n *BinaryOpNode) Evaluate(ns *Namespace) (any, error) {
	left, err := n.Left.Evaluate(ns)
	if err != nil {
		return nil, err
	}
	right, err := n.Right.Evaluate(ns)
	if err != nil {
		return nil, err
	}
	return EvaluateBinaryOperation(left, n.Operator, right)
}

// LogicalNode is a short-circuit and/or. Like the operators it models, it
// yields the deciding operand rather than a bool.
type LogicalNode struct {
	Left     ExpressionNode
	Operator string
	Right    ExpressionNode
}

func (n *LogicalNode) String() string {
	return fmt.Sprintf("Logical(%s %s %s)", n.Left.String(), n.Operator, n.Right.String())
}

func (n *LogicalNode) Evaluate(ns *Namespace) (any, error) {
	left, err := n.Left.Evaluate(ns)
	if err != nil {
		return nil, err
	}
	if isTruthy(left) == (n.Operator == "or") {
		return left, nil
	}
	return n.Right.Evaluate(ns)
}

// CompareNode is a comparison chain such as a < b <= c.
type CompareNode struct {
	Operands  []ExpressionNode
	Operators []string
}

func (n *CompareNode) String() string {
	var b strings.Builder
	b.WriteString("Compare(")
	for i, op := range n.Operands {
		if i > 0 {
			fmt.Fprintf(&b, " %s ", n.Operators[i-1])
		}
		b.WriteString(op.String())
	}
	b.WriteString(")")
	return b.String()
}

func (n *CompareNode) Evaluate(ns *Namespace) (any, error) {
	left, err := n.Operands[0].Evaluate(ns)
	if err != nil {
		return nil, err
	}
	for i, op := range n.Operators {
		right, err := n.Operands[i+1].Evaluate(ns)
		if err != nil {
			return nil, err
		}
		ok, err := evaluateComparison(left, op, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Operator string
	Operand  ExpressionNode
}

func (n *UnaryOpNode) String() string {
	return fmt.Sprintf("UnaryOp(%s %s)", n.Operator, n.Operand.String())
}

func (n *UnaryOpNode) Evaluate(ns *Namespace) (any, error) {
	v, err := n.Operand.Evaluate(ns)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case "not":
		return !isTruthy(v), nil
	case "-":
		return evaluateUnaryMinus(v)
	case "+":
		return evaluateUnaryPlus(v)
	default:
		return nil, fmt.Errorf("unknown unary operator: %s", n.Operator)
	}
}

// ConditionalNode is the "a if cond else b" form.
type ConditionalNode struct {
	Condition ExpressionNode
	Then      ExpressionNode
	Else      ExpressionNode
}

func (n *ConditionalNode) String() string {
	return fmt.Sprintf("Conditional(%s if %s else %s)", n.Then.String(), n.Condition.String(), n.Else.String())
}

func (n *ConditionalNode) Evaluate(ns *Namespace) (any, error) {
	cond, err := n.Condition.Evaluate(ns)
	if err != nil {
		return nil, err
	}
	if isTruthy(cond) {
		return n.Then.Evaluate(ns)
	}
	return n.Else.Evaluate(ns)
}

// ListNode is a list or tuple display. Both evaluate to []any.
type ListNode struct {
	Items []ExpressionNode
}

func (n *ListNode) String() string {
	items := make([]string, len(n.Items))
	for i, item := range n.Items {
		items[i] = item.String()
	}
	return fmt.Sprintf("List([%s])", strings.Join(items, ", "))
}

func (n *ListNode) Evaluate(ns *Namespace) (any, error) {
	out := make([]any, len(n.Items))
	for i, item := range n.Items {
		v, err := item.Evaluate(ns)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// FieldAccessNode represents attribute access (obj.field)
type FieldAccessNode struct {
	Object ExpressionNode
	Field  string
}

func (n *FieldAccessNode) String() string {
	return fmt.Sprintf("FieldAccess(%s.%s)", n.Object.String(), n.Field)
}

func (n *FieldAccessNode) Evaluate(ns *Namespace) (any, error) {
	obj, err := n.Object.Evaluate(ns)
	if err != nil {
		return nil, err
	}
	return getAttribute(ns, obj, n.Field)
}

// IndexAccessNode represents subscripting (obj[index])
type IndexAccessNode struct {
	Object ExpressionNode
	Index  ExpressionNode
}

func (n *IndexAccessNode) String() string {
	return fmt.Sprintf("IndexAccess(%s[%s])", n.Object.String(), n.Index.String())
}

func (n *IndexAccessNode) Evaluate(ns *Namespace) (any, error) {
	obj, err := n.Object.Evaluate(ns)
	if err != nil {
		return nil, err
	}
	index, err := n.Index.Evaluate(ns)
	if err != nil {
		return nil, err
	}
	// _['name'] is a namespace lookup with call behaviour.
	if target, ok := obj.(*Namespace); ok {
		key, ok := index.(string)
		if !ok {
			return nil, NewException("TypeError", "namespace keys must be strings, not %s", typeName(index))
		}
		return target.Lookup(key, true)
	}
	return ns.env.items.GetItem(obj, index)
}

// SliceNode represents obj[low:high].
type SliceNode struct {
	Object ExpressionNode
	Low    ExpressionNode
	High   ExpressionNode
}

func (n *SliceNode) String() string {
	low, high := "", ""
	if n.Low != nil {
		low = n.Low.String()
	}
	if n.High != nil {
		high = n.High.String()
	}
	return fmt.Sprintf("Slice(%s[%s:%s])", n.Object.String(), low, high)
}

func (n *SliceNode) Evaluate(ns *Namespace) (any, error) {
	obj, err := n.Object.Evaluate(ns)
	if err != nil {
		return nil, err
	}
	bound := func(node ExpressionNode) (*int, error) {
		if node == nil {
			return nil, nil
		}
		v, err := node.Evaluate(ns)
		if err != nil || v == nil {
			return nil, err
		}
		i, ok := toInt(v)
		if !ok {
			return nil, NewException("TypeError", "slice indices must be integers")
		}
		return &i, nil
	}
	low, err := bound(n.Low)
	if err != nil {
		return nil, err
	}
	high, err := bound(n.High)
	if err != nil {
		return nil, err
	}
	return sliceValue(obj, low, high)
}

// FunctionCallNode represents a call of any callable value
type FunctionCallNode struct {
	Callee ExpressionNode
	Args   []ExpressionNode
}

func (n *FunctionCallNode) String() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("FunctionCall(%s, [%s])", n.Callee.String(), strings.Join(args, ", "))
}

func (n *FunctionCallNode) Evaluate(ns *Namespace) (any, error) {
	fn, err := n.Callee.Evaluate(ns)
	if err != nil {
		return nil, err
	}

	args := make([]any, len(n.Args))
	for i, arg := range n.Args {
		val, err := arg.Evaluate(ns)
		if err != nil {
			return nil, err
		}
		args[i] = val
	}

	switch f := fn.(type) {
	case NamespaceFunction:
		return f.CallIn(ns, args...)
	case Function:
		return f.Call(args...)
	case TemplateCaller:
		// A sub-template called from an expression renders against the
		// current namespace, optionally with a client.
		var client any
		if len(args) > 0 {
			client = args[0]
		}
		return f.CallTemplate(client, ns)
	}
	return callFunc(fn, args)
}

// ExpressionToken represents a token in an expression
type ExpressionToken struct {
	Type  ExpressionTokenType
	Value string
	Pos   int
}

type ExpressionTokenType int

const (
	ExprTokenIdentifier ExpressionTokenType = iota
	ExprTokenNumber
	ExprTokenString
	ExprTokenOperator
	ExprTokenLeftParen
	ExprTokenRightParen
	ExprTokenComma
	ExprTokenEOF
)

var (
	identifierRegex  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*`)
	numberRegex      = regexp.MustCompile(`^(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][-+]?[0-9]+)?`)
	stringRegex      = regexp.MustCompile(`^"([^"\\]|\\.)*"`)
	singleQuoteRegex = regexp.MustCompile(`^'([^'\\]|\\.)*'`)
	operatorRegex    = regexp.MustCompile(`^(\*\*|//|==|!=|<>|<=|>=|\+|-|\*|/|%|<|>|\.|\[|\]|:)`)
)

var escapeReplacer = strings.NewReplacer(`\\`, `\`, `\'`, `'`, `\"`, `"`, `\n`, "\n", `\t`, "\t", `\r`, "\r")

// TokenizeExpression tokenizes an expression string
func TokenizeExpression(expr string) ([]ExpressionToken, error) {
	var tokens []ExpressionToken
	pos := 0

	for pos < len(expr) {
		if c := expr[pos]; c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			pos++
			continue
		}

		remaining := expr[pos:]

		if match := identifierRegex.FindString(remaining); match != "" {
			tokens = append(tokens, ExpressionToken{Type: ExprTokenIdentifier, Value: match, Pos: pos})
			pos += len(match)
			continue
		}

		if match := numberRegex.FindString(remaining); match != "" {
			tokens = append(tokens, ExpressionToken{Type: ExprTokenNumber, Value: match, Pos: pos})
			pos += len(match)
			continue
		}

		match := stringRegex.FindString(remaining)
		if match == "" {
			match = singleQuoteRegex.FindString(remaining)
		}
		if match != "" {
			tokens = append(tokens, ExpressionToken{
				Type:  ExprTokenString,
				Value: escapeReplacer.Replace(match[1 : len(match)-1]),
				Pos:   pos,
			})
			pos += len(match)
			continue
		}

		if match := operatorRegex.FindString(remaining); match != "" {
			tokens = append(tokens, ExpressionToken{Type: ExprTokenOperator, Value: match, Pos: pos})
			pos += len(match)
			continue
		}

		switch expr[pos] {
		case '(':
			tokens = append(tokens, ExpressionToken{Type: ExprTokenLeftParen, Value: "(", Pos: pos})
		case ')':
			tokens = append(tokens, ExpressionToken{Type: ExprTokenRightParen, Value: ")", Pos: pos})
		case ',':
			tokens = append(tokens, ExpressionToken{Type: ExprTokenComma, Value: ",", Pos: pos})
		default:
			return nil, NewException("SyntaxError", "unexpected character '%c' at position %d", expr[pos], pos)
		}
		pos++
	}

	tokens = append(tokens, ExpressionToken{Type: ExprTokenEOF, Pos: pos})
	return tokens, nil
}

// ParseExpression parses an expression string into an AST. Trailing tokens
// are rejected.
func ParseExpression(expr string) (ExpressionNode, error) {
	tokens, err := TokenizeExpression(expr)
	if err != nil {
		return nil, err
	}

	parser := &ExpressionParser{tokens: tokens}
	node, err := parser.parseExpression()
	if err != nil {
		return nil, err
	}

	if token := parser.current(); token.Type != ExprTokenEOF {
		return nil, parser.errorf("unexpected trailing token %q at position %d", token.Value, token.Pos)
	}
	return node, nil
}

// ExpressionParser parses expressions into AST nodes
type ExpressionParser struct {
	tokens []ExpressionToken
	pos    int
}

func (p *ExpressionParser) current() ExpressionToken {
	if p.pos >= len(p.tokens) {
		return ExpressionToken{Type: ExprTokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *ExpressionParser) peek() ExpressionToken {
	if p.pos+1 >= len(p.tokens) {
		return ExpressionToken{Type: ExprTokenEOF}
	}
	return p.tokens[p.pos+1]
}

func (p *ExpressionParser) advance() {
	if p.pos < len(p.tokens) {
		p.pos++
	}
}

func (p *ExpressionParser) errorf(format string, args ...any) error {
	return NewException("SyntaxError", format, args...)
}

func (p *ExpressionParser) isOperator(values ...string) bool {
	t := p.current()
	if t.Type != ExprTokenOperator {
		return false
	}
	for _, v := range values {
		if t.Value == v {
			return true
		}
	}
	return false
}

func (p *ExpressionParser) isKeyword(word string) bool {
	t := p.current()
	return t.Type == ExprTokenIdentifier && t.Value == word
}

// parseExpression parses a complete expression, including the conditional
// form (lowest precedence)
func (p *ExpressionParser) parseExpression() (ExpressionNode, error) {
	then, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("if") {
		return then, nil
	}
	p.advance()
	cond, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("else") {
		return nil, p.errorf("expected 'else' in conditional expression")
	}
	p.advance()
	otherwise, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &ConditionalNode{Condition: cond, Then: then, Else: otherwise}, nil
}

func (p *ExpressionParser) parseLogicalOr() (ExpressionNode, error) {
	left, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.advance()
		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalNode{Left: left, Operator: "or", Right: right}
	}
	return left, nil
}

func (p *ExpressionParser) parseLogicalAnd() (ExpressionNode, error) {
	left, err := p.parseLogicalNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.advance()
		right, err := p.parseLogicalNot()
		if err != nil {
			return nil, err
		}
		left = &LogicalNode{Left: left, Operator: "and", Right: right}
	}
	return left, nil
}

func (p *ExpressionParser) parseLogicalNot() (ExpressionNode, error) {
	if p.isKeyword("not") {
		p.advance()
		operand, err := p.parseLogicalNot()
		if err != nil {
			return nil, err
		}
		return &UnaryOpNode{Operator: "not", Operand: operand}, nil
	}
	return p.parseComparison()
}

// comparisonOperator consumes a comparison operator, including the two-word
// forms "not in" and "is not".
func (p *ExpressionParser) comparisonOperator() (string, bool) {
	t := p.current()
	switch {
	case t.Type == ExprTokenOperator:
		switch t.Value {
		case "==", "!=", "<>", "<", ">", "<=", ">=":
			p.advance()
			if t.Value == "<>" {
				return "!=", true
			}
			return t.Value, true
		}
	case t.Type == ExprTokenIdentifier && t.Value == "in":
		p.advance()
		return "in", true
	case t.Type == ExprTokenIdentifier && t.Value == "not":
		if next := p.peek(); next.Type == ExprTokenIdentifier && next.Value == "in" {
			p.advance()
			p.advance()
			return "not in", true
		}
	case t.Type == ExprTokenIdentifier && t.Value == "is":
		p.advance()
		if p.isKeyword("not") {
			p.advance()
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *ExpressionParser) parseComparison() (ExpressionNode, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	node := &CompareNode{Operands: []ExpressionNode{first}}
	for {
		op, ok := p.comparisonOperator()
		if !ok {
			break
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		node.Operators = append(node.Operators, op)
		node.Operands = append(node.Operands, right)
	}
	if len(node.Operators) == 0 {
		return first, nil
	}
	return node, nil
}

// parseTerm parses addition and subtraction
func (p *ExpressionParser) parseTerm() (ExpressionNode, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.isOperator("+", "-") {
		op := p.current().Value
		p.advance()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &BinaryOpNode{Left: left, Operator: op, Right: right}
	}
	return left, nil
}

// parseFactor parses multiplication, division, floor division and modulo
func (p *ExpressionParser) parseFactor() (ExpressionNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOperator("*", "/", "//", "%") {
		op := p.current().Value
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOpNode{Left: left, Operator: op, Right: right}
	}
	return left, nil
}

// parseUnary parses unary minus and plus
func (p *ExpressionParser) parseUnary() (ExpressionNode, error) {
	if p.isOperator("-", "+") {
		op := p.current().Value
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOpNode{Operator: op, Operand: operand}, nil
	}
	return p.parsePower()
}

// parsePower parses the right-associative power operator, which binds
// tighter than a unary minus on its left.
func (p *ExpressionParser) parsePower() (ExpressionNode, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.isOperator("**") {
		p.advance()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &BinaryOpNode{Left: base, Operator: "**", Right: exp}, nil
	}
	return base, nil
}

// parsePostfix parses attribute access, subscripts, slices and calls
func (p *ExpressionParser) parsePostfix() (ExpressionNode, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.isOperator("."):
			p.advance()
			if p.current().Type != ExprTokenIdentifier {
				return nil, p.errorf("expected identifier after '.'")
			}
			left = &FieldAccessNode{Object: left, Field: p.current().Value}
			p.advance()
		case p.isOperator("["):
			p.advance()
			left, err = p.parseSubscript(left)
			if err != nil {
				return nil, err
			}
		case p.current().Type == ExprTokenLeftParen:
			p.advance()
			args, err := p.parseList(ExprTokenRightParen)
			if err != nil {
				return nil, err
			}
			left = &FunctionCallNode{Callee: left, Args: args}
		default:
			return left, nil
		}
	}
}

func (p *ExpressionParser) parseSubscript(obj ExpressionNode) (ExpressionNode, error) {
	var low ExpressionNode
	if !p.isOperator(":") {
		index, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if p.isOperator("]") {
			p.advance()
			return &IndexAccessNode{Object: obj, Index: index}, nil
		}
		low = index
	}
	if !p.isOperator(":") {
		return nil, p.errorf("expected ']' after index")
	}
	p.advance()
	var high ExpressionNode
	if !p.isOperator("]") {
		var err error
		if high, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	if !p.isOperator("]") {
		return nil, p.errorf("expected ']' after slice")
	}
	p.advance()
	return &SliceNode{Object: obj, Low: low, High: high}, nil
}

// parseList parses comma separated expressions up to the closing token,
// which it consumes. A trailing comma is allowed.
func (p *ExpressionParser) parseList(closing ExpressionTokenType) ([]ExpressionNode, error) {
	closed := func() bool {
		if closing == ExprTokenRightParen {
			return p.current().Type == ExprTokenRightParen
		}
		return p.isOperator("]")
	}

	var items []ExpressionNode
	for !closed() {
		item, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		items = append(items, item)

		if p.current().Type == ExprTokenComma {
			p.advance()
			continue
		}
		if !closed() {
			return nil, p.errorf("expected ',' or closing bracket")
		}
	}
	p.advance()
	return items, nil
}

// parsePrimary parses literals, names, parenthesized expressions, tuples
// and lists
func (p *ExpressionParser) parsePrimary() (ExpressionNode, error) {
	token := p.current()

	switch token.Type {
	case ExprTokenNumber:
		p.advance()
		if !strings.ContainsAny(token.Value, ".eE") {
			if intVal, err := strconv.Atoi(token.Value); err == nil {
				return &LiteralNode{Value: intVal}, nil
			}
		}
		floatVal, err := strconv.ParseFloat(token.Value, 64)
		if err != nil {
			return nil, p.errorf("invalid number: %s", token.Value)
		}
		return &LiteralNode{Value: floatVal}, nil

	case ExprTokenString:
		p.advance()
		value := token.Value
		// Adjacent string literals concatenate.
		for p.current().Type == ExprTokenString {
			value += p.current().Value
			p.advance()
		}
		return &LiteralNode{Value: value}, nil

	case ExprTokenIdentifier:
		switch token.Value {
		case "True":
			p.advance()
			return &LiteralNode{Value: true}, nil
		case "False":
			p.advance()
			return &LiteralNode{Value: false}, nil
		case "None":
			p.advance()
			return &LiteralNode{Value: nil}, nil
		case "and", "or", "not", "in", "is", "if", "else":
			return nil, p.errorf("unexpected keyword %q at position %d", token.Value, token.Pos)
		}
		p.advance()
		return &VariableNode{Name: token.Value}, nil

	case ExprTokenLeftParen:
		p.advance()
		if p.current().Type == ExprTokenRightParen {
			p.advance()
			return &ListNode{}, nil
		}
		first, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if p.current().Type == ExprTokenRightParen {
			p.advance()
			return first, nil
		}
		if p.current().Type != ExprTokenComma {
			return nil, p.errorf("expected ')' after expression")
		}
		p.advance()
		rest, err := p.parseList(ExprTokenRightParen)
		if err != nil {
			return nil, err
		}
		return &ListNode{Items: append([]ExpressionNode{first}, rest...)}, nil

	case ExprTokenOperator:
		if token.Value == "[" {
			p.advance()
			items, err := p.parseList(ExprTokenOperator)
			if err != nil {
				return nil, err
			}
			return &ListNode{Items: items}, nil
		}
	}

	if token.Type == ExprTokenEOF {
		return nil, p.errorf("unexpected end of expression")
	}
	return nil, p.errorf("unexpected token %q at position %d", token.Value, token.Pos)
}
