package dtml

import (
	"fmt"
	"slices"
	"strings"
)

// tryHandler is one except section. An empty types list is the default
// handler.
type tryHandler struct {
	types []string
	body  []Node
}

// tryNode is either try/except/else or try/finally.
type tryNode struct {
	body        []Node
	handlers    []tryHandler
	elseBody    []Node
	finallyBody []Node
}

func newTryNode(sections []Section) (Node, error) {
	n := &tryNode{body: sections[0].Blocks}
	rest := sections[1:]

	for _, s := range rest {
		if s.Name == "finally" {
			if len(rest) != 1 {
				return nil, &ParseError{Message: "A try..finally combination cannot contain any other else, except or finally blocks", Tag: "try"}
			}
			n.finallyBody = nonNil(s.Blocks)
			return n, nil
		}
	}

	hasDefault := false
	for _, s := range rest {
		switch s.Name {
		case "else":
			if n.elseBody != nil {
				return nil, &ParseError{Message: "No more than one else block is allowed", Tag: "try"}
			}
			n.elseBody = nonNil(s.Blocks)
		case "except":
			if n.elseBody != nil {
				return nil, &ParseError{Message: "The else block should be the last block in a try tag", Tag: "try"}
			}
			types := strings.Fields(s.Args)
			if len(types) == 0 {
				if hasDefault {
					return nil, &ParseError{Message: "Only one default exception handler is allowed", Tag: "try"}
				}
				hasDefault = true
			}
			n.handlers = append(n.handlers, tryHandler{types: types, body: s.Blocks})
		}
	}
	return n, nil
}

func nonNil(nodes []Node) []Node {
	if nodes == nil {
		return []Node{}
	}
	return nodes
}

func (n *tryNode) String() string {
	if n.finallyBody != nil {
		return "Try(finally)"
	}
	var names []string
	for _, h := range n.handlers {
		if len(h.types) == 0 {
			names = append(names, "*")
			continue
		}
		names = append(names, strings.Join(h.types, " "))
	}
	return fmt.Sprintf("Try(except %s)", strings.Join(names, ", "))
}

func (n *tryNode) Render(ns *Namespace) (any, error) {
	if n.finallyBody != nil {
		return n.renderFinally(ns)
	}

	out, err := renderBlocks(n.body, ns)
	if err == nil {
		if n.elseBody == nil {
			return out, nil
		}
		rest, err := renderBlocks(n.elseBody, ns)
		if err != nil {
			return nil, err
		}
		return joinFragments([]any{out, rest}, ns.env.fallback), nil
	}
	if isEarlyReturn(err) {
		return nil, err
	}

	errType := ErrorType(err)
	handler := n.findHandler(ns.env.exceptions, errType)
	if handler == nil {
		return nil, err
	}

	ns.Push(NewMapLayer(map[string]any{
		"error_type":  errType,
		"error_value": err,
		"error_tb":    fmt.Sprintf("%s: %v", errType, err),
	}))
	defer ns.Pop(1)
	return renderBlocks(handler.body, ns)
}

// renderFinally renders the body, then the finally block whatever the
// outcome. An error from the finally block replaces one from the body.
func (n *tryNode) renderFinally(ns *Namespace) (any, error) {
	out, err := renderBlocks(n.body, ns)
	tail, finErr := renderBlocks(n.finallyBody, ns)
	if finErr != nil {
		return nil, finErr
	}
	if err != nil {
		return nil, err
	}
	return joinFragments([]any{out, tail}, ns.env.fallback), nil
}

// findHandler returns the first handler, in source order, that is the
// default handler or names errType or one of its bases.
func (n *tryNode) findHandler(types *ExceptionTypes, errType string) *tryHandler {
	chain := types.Chain(errType)
	for i := range n.handlers {
		h := &n.handlers[i]
		if len(h.types) == 0 {
			return h
		}
		for _, t := range h.types {
			if slices.Contains(chain, t) {
				return h
			}
		}
	}
	return nil
}
