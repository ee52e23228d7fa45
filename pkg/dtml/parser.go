package dtml

import (
	"errors"
	"regexp"
)

// parser compiles template source into a block tree. It holds no state
// between calls beyond its configuration.
type parser struct {
	scanner  *scanner
	commands *CommandRegistry
	name     string
}

func newParser(syntax Syntax, commands *CommandRegistry, name string) *parser {
	return &parser{scanner: newScanner(syntax), commands: commands, name: name}
}

// parseError builds a ParseError located at offset. The line is counted
// on text, which always starts at the beginning of the source.
func (p *parser) parseError(message, tag, text string, offset int) error {
	line := 1
	for i := 0; i < offset && i < len(text); i++ {
		if text[i] == '\n' {
			line++
		}
	}
	return &ParseError{Message: message, Tag: tag, Line: line, Template: p.name}
}

// locate turns an error from a tag or command constructor into a
// ParseError for that tag. A tag name set by the constructor is kept.
func (p *parser) locate(err error, tag string, tok Token) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		if pe.Tag != "" {
			tag = pe.Tag
		}
		return &ParseError{Message: pe.Message, Tag: tag, Line: tok.Line, Template: p.name}
	}
	return &ParseError{Message: err.Error(), Tag: tag, Line: tok.Line, Template: p.name}
}

// parseTag classifies a tag found inside the block opened by open (nil at
// top level). It returns the command to start, or the continuation name,
// or neither for a close tag. args is the argument string the command is
// built from.
func (p *parser) parseTag(tok Token, open *Command, openArgs string) (cmd *Command, coname, args string, err error) {
	switch tok.Marker {
	case markerClose:
		if open == nil || tok.Name != open.Name {
			return nil, "", "", &ParseError{Message: "unexpected end tag", Tag: tok.Tag}
		}
		return nil, "", tok.Args, nil
	case markerOpen, markerAlternate:
		if open != nil && open.continues(tok.Name) {
			// An else with arguments only continues the open block when
			// they repeat the open tag's arguments; otherwise it is a
			// standalone else.
			if tok.Name == "else" && tok.Args != "" && !elseContinues(tok.Args, openArgs) {
				if cmd, ok := p.commands.Lookup(tok.Name); ok {
					return cmd, "", tok.Args, nil
				}
			}
			return nil, tok.Name, tok.Args, nil
		}
		cmd, ok := p.commands.Lookup(tok.Name)
		if !ok {
			return nil, "", "", &ParseError{Message: "unexpected tag", Tag: tok.Tag}
		}
		return cmd, "", tok.Args, nil
	}

	args = tok.Name
	if tok.Args != "" {
		args = tok.Name + " " + tok.Args
	}
	cmd, ok := p.commands.Lookup("var")
	if !ok {
		return nil, "", "", &ParseError{Message: "unexpected tag", Tag: tok.Tag}
	}
	return cmd, "", args, nil
}

func elseContinues(args, openArgs string) bool {
	if args == openArgs {
		return true
	}
	n := len(args)
	return n < len(openArgs) && openArgs[:n] == args &&
		(openArgs[n] == ' ' || openArgs[n] == '\t' || openArgs[n] == '\n')
}

// parse compiles text[start:] into nodes.
func (p *parser) parse(text string, start int) ([]Node, error) {
	var result []Node
	for {
		tok, ok := p.scanner.next(text, start)
		if !ok {
			break
		}
		cmd, _, args, err := p.parseTag(tok, nil, "")
		if err != nil {
			var pe *ParseError
			errors.As(err, &pe)
			return nil, p.parseError(pe.Message, pe.Tag, text, tok.Offset)
		}

		if tok.Offset > start {
			result = append(result, textNode(text[start:tok.Offset]))
		}
		start = tok.Offset + len(tok.Tag)

		if cmd.IsBlock() {
			if start, err = p.parseBlock(text, start, &result, tok, args, cmd); err != nil {
				return nil, err
			}
			continue
		}

		format := ""
		if tok.IsValue() {
			format = tok.Marker
		}
		node, err := cmd.NewSimple(args, format)
		if err != nil {
			return nil, p.locate(err, tok.Tag, tok)
		}
		result = append(result, node)
	}

	if start < len(text) {
		result = append(result, textNode(text[start:]))
	}
	return result, nil
}

// parseBlock collects the sections of the block opened by open, builds the
// command node and appends it to result. It returns the offset after the
// close tag.
func (p *parser) parseBlock(text string, start int, result *[]Node, open Token, openArgs string, cmd *Command) (int, error) {
	start = skipEOL(text, start)

	var sections []Section
	sectionName, sectionTag, sectionArgs := cmd.Name, open.Tag, openArgs
	sectionLine, sectionStart := open.Line, start
	for {
		tok, ok := p.scanner.next(text, start)
		if !ok {
			return 0, p.parseError("no closing tag", open.Tag, text, open.Offset)
		}
		inner, coname, args, err := p.parseTag(tok, cmd, openArgs)
		if err != nil {
			var pe *ParseError
			errors.As(err, &pe)
			return 0, p.parseError(pe.Message, pe.Tag, text, tok.Offset)
		}

		if inner != nil {
			start = tok.Offset + len(tok.Tag)
			if inner.IsBlock() {
				if start, err = p.parseClose(text, start, tok, args, inner); err != nil {
					return 0, err
				}
			}
			continue
		}

		// A continuation or the close tag ends the current section.
		blocks, err := p.parse(text[:tok.Offset], sectionStart)
		if err != nil {
			return 0, err
		}
		sections = append(sections, Section{
			Name:   sectionName,
			Args:   sectionArgs,
			Blocks: blocks,
			Tag:    sectionTag,
			Line:   sectionLine,
		})
		start = skipEOL(text, tok.Offset+len(tok.Tag))

		if coname != "" {
			sectionName, sectionTag, sectionArgs = coname, tok.Tag, args
			sectionLine, sectionStart = tok.Line, start
			continue
		}

		node, err := cmd.NewBlock(sections)
		if err != nil {
			return 0, p.locate(err, open.Tag, tok)
		}
		*result = append(*result, node)
		return start, nil
	}
}

// parseClose skips past the close tag of a block nested inside a section.
func (p *parser) parseClose(text string, start int, open Token, openArgs string, cmd *Command) (int, error) {
	for {
		tok, ok := p.scanner.next(text, start)
		if !ok {
			return 0, p.parseError("no closing tag", open.Tag, text, open.Offset)
		}
		inner, coname, args, err := p.parseTag(tok, cmd, openArgs)
		if err != nil {
			var pe *ParseError
			errors.As(err, &pe)
			return 0, p.parseError(pe.Message, pe.Tag, text, tok.Offset)
		}

		start = tok.Offset + len(tok.Tag)
		if inner != nil {
			if inner.IsBlock() {
				if start, err = p.parseClose(text, start, tok, args, inner); err != nil {
					return 0, err
				}
			}
		} else if coname == "" {
			return start, nil
		}
	}
}

var eolRegex = regexp.MustCompile(`^[ \t]*\n`)

// skipEOL swallows one trailing end of line after a block tag.
func skipEOL(text string, start int) int {
	if loc := eolRegex.FindStringIndex(text[start:]); loc != nil {
		return start + loc[1]
	}
	return start
}
