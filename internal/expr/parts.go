// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"bytes"
)

// A part represents a section of a predicate template. The template is
// represented as a list of parts.
type part interface {
	// String returns a string representation of the part for debugging and
	// testing purposes.
	String() string

	// part is a marker method.
	part()
}

// bypassPart represents a part of the template that is passed to the backend
// database verbatim.
type bypassPart struct {
	chunk string
}

func (p *bypassPart) String() string {
	return "Bypass[" + p.chunk + "]"
}

// Marker function for part.
func (p *bypassPart) part() {}

// markerPart is a reference to a declared parameter marker. It is replaced by
// one or more placeholders during expansion.
type markerPart struct {
	id Identifier
}

func (p *markerPart) String() string {
	return "Marker[" + p.id.String() + "]"
}

// Marker function for part.
func (p *markerPart) part() {}

// Template is a predicate template: SQL text with parameter markers in it.
type Template struct {
	parts []part
}

// String returns a textual representation of the template for debugging and
// testing purposes.
func (t *Template) String() string {
	var out bytes.Buffer
	out.WriteString("Template[")
	for i, p := range t.parts {
		if i > 0 {
			out.WriteString(" ")
		}
		out.WriteString(p.String())
	}
	out.WriteString("]")
	return out.String()
}

// References returns the identifiers of the markers referenced by the
// template in order of first appearance.
func (t *Template) References() []Identifier {
	seen := map[Identifier]bool{}
	var ids []Identifier
	for _, p := range t.parts {
		if mp, ok := p.(*markerPart); ok && !seen[mp.id] {
			seen[mp.id] = true
			ids = append(ids, mp.id)
		}
	}
	return ids
}

// TemplateBuilder assembles a Template piece by piece. Consecutive SQL chunks
// are merged into a single bypass part.
type TemplateBuilder struct {
	parts   []part
	pending bytes.Buffer
}

// WriteSQL appends verbatim SQL to the template.
func (tb *TemplateBuilder) WriteSQL(sql string) {
	tb.pending.WriteString(sql)
}

// WriteMarker appends a reference to the marker id.
func (tb *TemplateBuilder) WriteMarker(id Identifier) {
	tb.flush()
	tb.parts = append(tb.parts, &markerPart{id: id})
}

// Template returns the template built so far.
func (tb *TemplateBuilder) Template() *Template {
	tb.flush()
	parts := make([]part, len(tb.parts))
	copy(parts, tb.parts)
	return &Template{parts: parts}
}

func (tb *TemplateBuilder) flush() {
	if tb.pending.Len() == 0 {
		return
	}
	tb.parts = append(tb.parts, &bypassPart{chunk: tb.pending.String()})
	tb.pending.Reset()
}
