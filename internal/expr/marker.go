// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Identifier names a parameter marker. It is either a name or a positional
// index, never both. Identifiers are comparable and can be used as map keys.
type Identifier struct {
	name     string
	position int
}

// Named returns the identifier of a named parameter. The name is normalised
// to Unicode NFC so that composed and decomposed spellings match.
func Named(name string) Identifier {
	return Identifier{name: norm.NFC.String(name)}
}

// Positional returns the identifier of the positional parameter n. Positions
// start at 1.
func Positional(n int) Identifier {
	return Identifier{position: n}
}

// IsNamed reports whether the identifier is a name rather than a position.
func (id Identifier) IsNamed() bool {
	return id.position == 0
}

// Name returns the parameter name, or "" for positional identifiers.
func (id Identifier) Name() string {
	return id.name
}

// Position returns the parameter position, or 0 for named identifiers.
func (id Identifier) Position() int {
	return id.position
}

// String returns the identifier as it is written in the query language.
func (id Identifier) String() string {
	if id.IsNamed() {
		return ":" + id.name
	}
	return "?" + strconv.Itoa(id.position)
}

// TypeTag constrains the shape of the value a marker accepts.
type TypeTag int

const (
	// TagScalar markers only accept single values.
	TagScalar TypeTag = iota
	// TagCollection markers only accept sequences.
	TagCollection
	// TagUnconstrained markers accept either shape. Markers inside IN lists
	// are unconstrained.
	TagUnconstrained
)

func (t TypeTag) String() string {
	switch t {
	case TagScalar:
		return "scalar"
	case TagCollection:
		return "collection"
	case TagUnconstrained:
		return "unconstrained"
	}
	return "TypeTag(" + strconv.Itoa(int(t)) + ")"
}

// accepts reports whether a value of the given shape can be bound to a marker
// with this tag.
func (t TypeTag) accepts(v Value) bool {
	switch t {
	case TagScalar:
		return !v.isSeq
	case TagCollection:
		return v.isSeq
	}
	return true
}

// Marker is a declared parameter placeholder. Markers are immutable.
type Marker struct {
	id  Identifier
	tag TypeTag
	// pos is the declaration order of the marker within its binder.
	pos int
}

func (m *Marker) Identifier() Identifier {
	return m.id
}

func (m *Marker) Tag() TypeTag {
	return m.tag
}

func (m *Marker) String() string {
	return "Marker[" + m.id.String() + " " + m.tag.String() + "]"
}

// Value is a runtime value bound to a marker. It holds either a single
// scalar or an ordered sequence of scalars.
type Value struct {
	scalar any
	seq    []any
	isSeq  bool
}

// ScalarValue returns a value holding the single scalar v. Slices passed here
// are bound as one value, for example []byte blobs.
func ScalarValue(v any) Value {
	return Value{scalar: v}
}

// SequenceValue returns a value holding the elements of vs in order.
func SequenceValue(vs []any) Value {
	seq := make([]any, len(vs))
	copy(seq, vs)
	return Value{seq: seq, isSeq: true}
}

// IsSequence reports whether the value is a sequence.
func (v Value) IsSequence() bool {
	return v.isSeq
}

// Len returns the number of query parameters the value expands to.
func (v Value) Len() int {
	if v.isSeq {
		return len(v.seq)
	}
	return 1
}

// params returns the flat list of query parameters held by the value.
func (v Value) params() []any {
	if v.isSeq {
		return v.seq
	}
	return []any{v.scalar}
}

func (v Value) shape() string {
	if v.isSeq {
		return "sequence"
	}
	return "scalar"
}
