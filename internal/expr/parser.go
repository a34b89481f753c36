// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

func NewParser() *Parser {
	return &Parser{}
}

// Parser turns query language text into a Template. It recognises named
// markers (":name"), numbered markers ("?1") and anonymous markers ("?").
// String literals, quoted identifiers and comments are passed through
// untouched.
type Parser struct {
	input string
	pos   int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
	// prevMarkerEnd is the value of pos when we last finished parsing a
	// marker.
	prevMarkerEnd int
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line in the
	// input.
	lineStart int
	// parens records, for each open parenthesis, whether it opens an IN
	// list.
	parens []bool
	// anonymous and numbered are set once the corresponding positional
	// marker style has been seen. The two cannot be mixed.
	anonymous bool
	numbered  bool
	tb        TemplateBuilder
	refs      []reference
}

// reference is one occurrence of a marker in the query.
type reference struct {
	id Identifier
	// inList is true when the marker is a direct element of a parenthesised
	// IN list.
	inList bool
}

// ParsedQuery is the result of parsing a query. It holds the template and the
// markers the query declares.
type ParsedQuery struct {
	template *Template
	decls    []declaration
}

type declaration struct {
	id  Identifier
	tag TypeTag
}

// Template returns the parsed template.
func (pq *ParsedQuery) Template() *Template {
	return pq.template
}

// Declare declares every marker found in the query on the binder. Markers
// that only appear inside IN lists are unconstrained, all others are scalar.
func (pq *ParsedQuery) Declare(b *Binder) error {
	for _, d := range pq.decls {
		if _, err := b.Declare(d.id, d.tag); err != nil {
			return err
		}
	}
	return nil
}

// String returns a textual representation of the parsed query for debugging
// and testing purposes.
func (pq *ParsedQuery) String() string {
	var out bytes.Buffer
	out.WriteString(pq.template.String())
	out.WriteString(" Declare[")
	for i, d := range pq.decls {
		if i > 0 {
			out.WriteString(" ")
		}
		out.WriteString(d.id.String() + " " + d.tag.String())
	}
	out.WriteString("]")
	return out.String()
}

// Parse takes a query string and returns a ParsedQuery.
func (p *Parser) Parse(input string) (pq *ParsedQuery, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse query: %s", err)
		}
	}()

	p.init(input)

	for p.pos < len(p.input) {
		if ok, err := p.skipStringLiteral(); err != nil {
			return nil, err
		} else if ok {
			continue
		}
		if ok := p.skipComment(); ok {
			continue
		}

		switch p.char {
		case '(':
			p.parens = append(p.parens, p.followsIn(p.pos))
			p.advanceChar()
			continue
		case ')':
			if len(p.parens) > 0 {
				p.parens = p.parens[:len(p.parens)-1]
			}
			p.advanceChar()
			continue
		}

		if ok, err := p.parseNamedMarker(); err != nil {
			return nil, err
		} else if ok {
			continue
		}
		if ok, err := p.parsePositionalMarker(); err != nil {
			return nil, err
		} else if ok {
			continue
		}

		p.advanceChar()
	}

	p.tb.WriteSQL(p.input[p.prevMarkerEnd:])
	return &ParsedQuery{template: p.tb.Template(), decls: p.declarations()}, nil
}

// init resets the state of the parser and sets the input string.
func (p *Parser) init(input string) {
	p.input = input
	p.pos = 0
	p.nextPos = 0
	p.char = 0
	p.prevMarkerEnd = 0
	p.lineNum = 1
	p.lineStart = 0
	p.parens = nil
	p.anonymous = false
	p.numbered = false
	p.tb = TemplateBuilder{}
	p.refs = nil
	p.advanceChar()
}

// declarations resolves the marker references into declarations in order of
// first appearance.
func (p *Parser) declarations() []declaration {
	index := map[Identifier]int{}
	var decls []declaration
	for _, r := range p.refs {
		tag := TagScalar
		if r.inList {
			tag = TagUnconstrained
		}
		i, ok := index[r.id]
		if !ok {
			index[r.id] = len(decls)
			decls = append(decls, declaration{id: r.id, tag: tag})
			continue
		}
		// A marker used outside an IN list anywhere must be scalar.
		if tag == TagScalar {
			decls[i].tag = TagScalar
		}
	}
	return decls
}

// addMarker records a marker that spans from start to the current position.
func (p *Parser) addMarker(id Identifier, start int) {
	p.tb.WriteSQL(p.input[p.prevMarkerEnd:start])
	p.tb.WriteMarker(id)
	p.refs = append(p.refs, reference{id: id, inList: p.inList(start)})
	p.prevMarkerEnd = p.pos
}

// colNum calculates the current column number taking into account line breaks.
func (p *Parser) colNum() int {
	return p.pos - p.lineStart + 1
}

// advanceChar moves the parser to the next character in the input. It also
// takes care of updating the line and column numbers if it encounters line
// breaks.
func (p *Parser) advanceChar() bool {
	if p.nextPos >= len(p.input) {
		p.char = 0
		p.pos = p.nextPos
		return false
	}
	if p.char == '\n' {
		p.lineStart = p.nextPos
		p.lineNum++
	}
	var size int
	p.char, size = utf8.DecodeRuneInString(p.input[p.nextPos:])
	p.pos = p.nextPos
	p.nextPos += size
	return true
}

// errorAt wraps an error with line and column information.
func errorAt(err error, line int, column int, input string) error {
	if strings.ContainsRune(input, '\n') {
		return fmt.Errorf("line %d, column %d: %w", line, column, err)
	}
	return fmt.Errorf("column %d: %w", column, err)
}

// A checkpoint struct for saving parser state to restore later.
type checkpoint struct {
	parser    *Parser
	pos       int
	nextPos   int
	char      rune
	lineNum   int
	lineStart int
}

// save takes a snapshot of the position of the parser and returns a pointer
// to a checkpoint that represents it.
func (p *Parser) save() *checkpoint {
	return &checkpoint{
		parser:    p,
		pos:       p.pos,
		nextPos:   p.nextPos,
		char:      p.char,
		lineNum:   p.lineNum,
		lineStart: p.lineStart,
	}
}

// restore sets the position of the parser to the values stored in the
// checkpoint.
func (cp *checkpoint) restore() {
	cp.parser.pos = cp.pos
	cp.parser.nextPos = cp.nextPos
	cp.parser.char = cp.char
	cp.parser.lineNum = cp.lineNum
	cp.parser.lineStart = cp.lineStart
}

// skipComment jumps over "--" and "/* */" comments. If no comment is found
// the parser state is left unchanged.
func (p *Parser) skipComment() bool {
	cp := p.save()
	c := p.char
	if p.skipChar('-') || p.skipChar('/') {
		if (c == '-' && p.skipChar('-')) || (c == '/' && p.skipChar('*')) {
			var end rune
			if c == '-' {
				end = '\n'
			} else {
				end = '*'
			}
			for p.pos < len(p.input) {
				if p.char == end {
					// if end == '\n' (i.e. its a -- comment) dont consume the newline.
					if end == '*' {
						p.advanceChar()
						if !p.skipChar('/') {
							continue
						}
					}
					return true
				}
				p.advanceChar()
			}
			// Reached end of input (valid comment end).
			return true
		}
		cp.restore()
		return false
	}
	return false
}

// skipStringLiteral jumps over single quoted strings and double or back
// quoted identifiers. Doubled up quotes are escaped.
func (p *Parser) skipStringLiteral() (bool, error) {
	cp := p.save()

	c := p.char
	if p.skipChar('"') || p.skipChar('\'') || p.skipChar('`') {
		// We keep track of whether the next quote has been previously
		// escaped. If not, it might be a closing quote.
		maybeCloser := true
		for p.skipCharFind(c) {
			// If this looks like a closing quote, check if it might be an
			// escape for a following quote. If not, we're done.
			if maybeCloser && !p.peekChar(c) {
				return true, nil
			}
			maybeCloser = !maybeCloser
		}

		// Reached end of string and didn't find the closing quote
		cp.restore()
		return false, errorAt(fmt.Errorf("missing closing quote in string literal"), p.lineNum, p.colNum(), p.input)
	}
	return false, nil
}

// peekChar returns true if the current char equals the one passed as parameter.
func (p *Parser) peekChar(c rune) bool {
	return p.pos < len(p.input) && p.char == c
}

// skipChar jumps over the current char if it matches the char passed as a
// parameter. Returns true in that case, false otherwise.
func (p *Parser) skipChar(c rune) bool {
	if p.pos < len(p.input) && p.char == c {
		p.advanceChar()
		return true
	}
	return false
}

// skipCharFind looks for a char that matches the one passed as parameter and
// then advances the parser to jump over it. In that case returns true. If the
// end of the string is reached and no matching char was found, it returns
// false and it does not change the parser.
func (p *Parser) skipCharFind(c rune) bool {
	cp := p.save()
	for p.pos < len(p.input) {
		if p.char == c {
			p.advanceChar()
			return true
		}
		p.advanceChar()
	}
	cp.restore()
	return false
}

// isNameChar returns true if the given char can be part of a name. It returns
// false otherwise.
func isNameChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

// isInitialNameChar returns true if the given char can appear at the start of a
// name. It returns false otherwise.
func isInitialNameChar(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

// Functions with the prefix parse attempt to parse some construct. They return
// an error and/or a bool that indicates if the construct was successfully
// parsed.
//
// Return cases:
//  - bool == true, err == nil
//		The construct was successfully parsed
//  - bool == false, err != nil
//		The construct was recognised but was not correctly formatted
//  - bool == false, err == nil
//		The construct was not the one we are looking for

// parseNamedMarker parses a marker of the form ":name". A double colon, as
// in a Postgres cast "x::int", is skipped.
func (p *Parser) parseNamedMarker() (bool, error) {
	cp := p.save()
	start := p.pos
	if !p.skipChar(':') {
		return false, nil
	}
	if p.skipChar(':') {
		// Cast operator, the type name that follows is not a marker.
		for p.pos < len(p.input) && isNameChar(p.char) {
			p.advanceChar()
		}
		return true, nil
	}
	// A colon directly after a name, as in "a:b", is not a marker.
	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(p.input[:start])
		if isNameChar(prev) {
			cp.restore()
			return false, nil
		}
	}
	if !isInitialNameChar(p.char) {
		cp.restore()
		return false, nil
	}
	nameStart := p.pos
	for p.pos < len(p.input) && isNameChar(p.char) {
		p.advanceChar()
	}
	p.addMarker(Named(p.input[nameStart:p.pos]), start)
	return true, nil
}

// parsePositionalMarker parses a numbered marker "?N" or an anonymous
// marker "?". Anonymous markers are numbered in order of appearance.
func (p *Parser) parsePositionalMarker() (bool, error) {
	startLine, startCol := p.lineNum, p.colNum()
	start := p.pos
	if !p.skipChar('?') {
		return false, nil
	}
	digitsStart := p.pos
	for p.pos < len(p.input) && p.char >= '0' && p.char <= '9' {
		p.advanceChar()
	}

	if p.pos == digitsStart {
		if p.numbered {
			return false, errorAt(fmt.Errorf("cannot mix anonymous and numbered positional parameters"), startLine, startCol, p.input)
		}
		p.anonymous = true
		n := 1
		for _, r := range p.refs {
			if !r.id.IsNamed() {
				n++
			}
		}
		p.addMarker(Positional(n), start)
		return true, nil
	}

	if p.anonymous {
		return false, errorAt(fmt.Errorf("cannot mix anonymous and numbered positional parameters"), startLine, startCol, p.input)
	}
	n, err := strconv.Atoi(p.input[digitsStart:p.pos])
	if err != nil || n < 1 {
		return false, errorAt(fmt.Errorf("invalid positional parameter %q", p.input[start:p.pos]), startLine, startCol, p.input)
	}
	p.numbered = true
	p.addMarker(Positional(n), start)
	return true, nil
}

// followsIn reports whether the text before pos, ignoring blanks, ends with
// the keyword IN.
func (p *Parser) followsIn(pos int) bool {
	s := strings.TrimRightFunc(p.input[:pos], unicode.IsSpace)
	if len(s) < 2 || !strings.EqualFold(s[len(s)-2:], "in") {
		return false
	}
	if len(s) == 2 {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(s[:len(s)-2])
	return !isNameChar(prev)
}

// inList reports whether the marker starting at start and ending at the
// current position is a direct element of a parenthesised IN list. A marker
// directly after IN with no parentheses is not.
func (p *Parser) inList(start int) bool {
	if len(p.parens) == 0 || !p.parens[len(p.parens)-1] {
		return false
	}
	before := strings.TrimRightFunc(p.input[:start], unicode.IsSpace)
	after := strings.TrimLeftFunc(p.input[p.pos:], unicode.IsSpace)
	if before == "" || after == "" {
		return false
	}
	b := before[len(before)-1]
	a := after[0]
	return (b == '(' || b == ',') && (a == ')' || a == ',')
}
