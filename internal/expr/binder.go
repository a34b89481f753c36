// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"

	"github.com/pkg/errors"
)

// State is the lifecycle state of a Binder.
type State int

const (
	// StateDeclared means at least one declared marker has no value.
	StateDeclared State = iota
	// StateBound means every declared marker has a value.
	StateBound
	// StateExpanded means the bindings have been expanded and not changed
	// since.
	StateExpanded
)

func (s State) String() string {
	switch s {
	case StateDeclared:
		return "declared"
	case StateBound:
		return "bound"
	case StateExpanded:
		return "expanded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Binder holds the parameter markers of a single query build and the values
// bound to them. A Binder is owned by one query build and is not safe for
// concurrent use.
type Binder struct {
	markers map[Identifier]*Marker
	order   []*Marker
	values  map[Identifier]Value
	// lastPosition is the highest positional index declared so far.
	lastPosition int
	expanded     bool
}

func NewBinder() *Binder {
	return &Binder{
		markers: map[Identifier]*Marker{},
		values:  map[Identifier]Value{},
	}
}

// Declare registers a marker with the given identifier and type tag. It
// returns ErrDuplicateIdentifier if the identifier is already declared.
func (b *Binder) Declare(id Identifier, tag TypeTag) (*Marker, error) {
	if id.IsNamed() && id.name == "" {
		return nil, fmt.Errorf("cannot declare parameter: empty name")
	}
	if id.position < 0 {
		return nil, fmt.Errorf("cannot declare parameter: invalid position %d", id.position)
	}
	if tag < TagScalar || tag > TagUnconstrained {
		return nil, fmt.Errorf("cannot declare parameter %s: invalid type tag %d", id, int(tag))
	}
	if _, ok := b.markers[id]; ok {
		return nil, errors.Wrapf(ErrDuplicateIdentifier, "cannot declare parameter %s", id)
	}
	m := &Marker{id: id, tag: tag, pos: len(b.order)}
	b.markers[id] = m
	b.order = append(b.order, m)
	if id.position > b.lastPosition {
		b.lastPosition = id.position
	}
	b.expanded = false
	return m, nil
}

// DeclarePositional registers a marker at the next free position. Positional
// markers are always distinct so this cannot fail.
func (b *Binder) DeclarePositional(tag TypeTag) *Marker {
	m, err := b.Declare(Positional(b.lastPosition+1), tag)
	if err != nil {
		panic("internal error: " + err.Error())
	}
	return m
}

// Markers returns the declared markers in declaration order.
func (b *Binder) Markers() []*Marker {
	ms := make([]*Marker, len(b.order))
	copy(ms, b.order)
	return ms
}

// Lookup returns the marker declared with the identifier id.
func (b *Binder) Lookup(id Identifier) (*Marker, bool) {
	m, ok := b.markers[id]
	return m, ok
}

// Bind attaches a value to a declared marker, replacing any previous value.
func (b *Binder) Bind(id Identifier, v Value) error {
	m, ok := b.markers[id]
	if !ok {
		return errors.Wrapf(ErrUnknownParameter, "cannot bind %s", id)
	}
	if !m.tag.accepts(v) {
		return errors.Wrapf(ErrTypeMismatch, "cannot bind %s to %s parameter %s", v.shape(), m.tag, id)
	}
	if v.isSeq && len(v.seq) == 0 {
		return errors.Wrapf(ErrEmptySequence, "cannot bind %s", id)
	}
	b.values[id] = v
	b.expanded = false
	return nil
}

// State returns the lifecycle state of the binder.
func (b *Binder) State() State {
	if len(b.values) < len(b.order) {
		return StateDeclared
	}
	if b.expanded {
		return StateExpanded
	}
	return StateBound
}

// Expand replaces each marker in the template with placeholders and collects
// the query parameters. A scalar value produces one placeholder, a sequence
// of length n produces n placeholders joined by cfg.Combinator. Nothing is
// returned on failure.
func (b *Binder) Expand(t *Template, cfg Config) (e *Expanded, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot expand predicate: %w", err)
		}
	}()
	cfg = cfg.withDefaults()

	for _, m := range b.order {
		if _, ok := b.values[m.id]; !ok {
			return nil, errors.Wrapf(ErrUnboundParameter, "parameter %s", m.id)
		}
	}

	var sb sqlBuilder
	var params []any
	for _, p := range t.parts {
		switch p := p.(type) {
		case *bypassPart:
			sb.write(p.chunk)
		case *markerPart:
			if _, ok := b.markers[p.id]; !ok {
				return nil, errors.Wrapf(ErrUnknownParameter, "parameter %s", p.id)
			}
			v := b.values[p.id]
			if v.isSeq && len(v.seq) == 0 {
				return nil, errors.Wrapf(ErrEmptySequence, "parameter %s", p.id)
			}
			vals := v.params()
			if cfg.MaxParams > 0 && len(params)+len(vals) > cfg.MaxParams {
				return nil, errors.Wrapf(ErrTooManyParams, "parameter %s needs %d more, limit is %d", p.id, len(vals), cfg.MaxParams)
			}
			sb.writePlaceholders(cfg, len(params), len(vals))
			params = append(params, vals...)
		default:
			return nil, fmt.Errorf("internal error: unknown template part %T", p)
		}
	}

	b.expanded = true
	return &Expanded{sql: sb.getSQL(), params: params, placeholders: sb.placeholders}, nil
}
