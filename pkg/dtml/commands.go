package dtml

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Node is one element of a compiled block tree.
type Node interface {
	// Render produces a string or []byte fragment.
	Render(ns *Namespace) (any, error)
	String() string
}

// Section is one part of a block tag: the open tag or a continuation
// such as else, with the nodes parsed from its text.
type Section struct {
	Name   string
	Args   string
	Blocks []Node
	Tag    string
	Line   int
}

// Command describes one tag. Simple commands build a node from their
// arguments; block commands build one from their sections.
type Command struct {
	Name string

	// Continuations lists the tags that may split a block, such as else.
	Continuations []string

	// NewSimple builds a simple command. format is the string-syntax
	// format code, "" otherwise.
	NewSimple func(args, format string) (Node, error)

	// NewBlock builds a block command.
	NewBlock func(sections []Section) (Node, error)
}

// IsBlock reports whether the command takes a closing tag.
func (c *Command) IsBlock() bool {
	return c.NewBlock != nil
}

func (c *Command) continues(name string) bool {
	return slices.Contains(c.Continuations, name)
}

// CommandRegistry maps tag names to commands.
type CommandRegistry struct {
	commands map[string]*Command
	mutex    sync.RWMutex
}

// NewCommandRegistry returns a registry holding the standard commands.
func NewCommandRegistry() *CommandRegistry {
	r := &CommandRegistry{commands: make(map[string]*Command)}
	for _, cmd := range standardCommands() {
		r.commands[cmd.Name] = cmd
	}
	return r
}

// Register adds or replaces a command.
func (r *CommandRegistry) Register(cmd *Command) error {
	if cmd == nil || cmd.Name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if (cmd.NewSimple == nil) == (cmd.NewBlock == nil) {
		return fmt.Errorf("command %s must define exactly one of NewSimple and NewBlock", cmd.Name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.commands[cmd.Name] = cmd
	return nil
}

// Lookup returns the command named name.
func (r *CommandRegistry) Lookup(name string) (*Command, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns the sorted command names.
func (r *CommandRegistry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (r *CommandRegistry) Clone() *CommandRegistry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := &CommandRegistry{commands: make(map[string]*Command, len(r.commands))}
	for name, cmd := range r.commands {
		out.commands[name] = cmd
	}
	return out
}

func standardCommands() []*Command {
	return []*Command{
		{Name: "var", NewSimple: newVarNode},
		{Name: "call", NewSimple: newCallNode},
		{Name: "if", Continuations: []string{"elif", "else"}, NewBlock: newIfNode},
		{Name: "unless", NewBlock: newUnlessNode},
		{Name: "else", NewBlock: newElseNode},
		{Name: "in", Continuations: []string{"else"}, NewBlock: newInNode},
		{Name: "with", NewBlock: newWithNode},
		{Name: "let", NewBlock: newLetNode},
		{Name: "try", Continuations: []string{"except", "else", "finally"}, NewBlock: newTryNode},
		{Name: "raise", NewBlock: newRaiseNode},
		{Name: "comment", NewBlock: newCommentNode},
		{Name: "return", NewSimple: newReturnNode},
	}
}
