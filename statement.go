// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlparam

import (
	"github.com/pkg/errors"

	"github.com/canonical/sqlparam/internal/expr"
)

// Error kinds returned by parameter declaration, binding and expansion. Use
// errors.Is to test for them.
var (
	ErrDuplicateIdentifier = expr.ErrDuplicateIdentifier
	ErrUnknownParameter    = expr.ErrUnknownParameter
	ErrTypeMismatch        = expr.ErrTypeMismatch
	ErrUnboundParameter    = expr.ErrUnboundParameter
	ErrEmptySequence       = expr.ErrEmptySequence
	ErrTooManyParams       = expr.ErrTooManyParams
)

// TypeTag constrains the shape of value a parameter accepts.
type TypeTag int

const (
	// TypeScalar parameters accept a single value.
	TypeScalar TypeTag = TypeTag(expr.TagScalar)
	// TypeCollection parameters accept a sequence of values.
	TypeCollection TypeTag = TypeTag(expr.TagCollection)
	// TypeAny parameters accept either a single value or a sequence.
	TypeAny TypeTag = TypeTag(expr.TagUnconstrained)
)

func (t TypeTag) String() string {
	return expr.TypeTag(t).String()
}

// State is the lifecycle state of a statement's parameters.
type State int

const (
	StateDeclared State = State(expr.StateDeclared)
	StateBound    State = State(expr.StateBound)
	StateExpanded State = State(expr.StateExpanded)
)

func (s State) String() string {
	return expr.State(s).String()
}

// Value is a value bound to a parameter. It is either a scalar or a
// sequence.
type Value struct {
	v expr.Value
}

// Scalar returns a Value holding a single query argument.
func Scalar(v any) Value {
	return Value{v: expr.ScalarValue(v)}
}

// Sequence returns a Value holding each of vs as a separate query argument.
// Sequences expand to one placeholder per element.
func Sequence[T any](vs ...T) Value {
	seq := make([]any, len(vs))
	for i, v := range vs {
		seq[i] = v
	}
	return Value{v: expr.SequenceValue(seq)}
}

// IsSequence reports whether v is a sequence.
func (v Value) IsSequence() bool {
	return v.v.IsSequence()
}

// Parameter is a declared parameter of a statement or criteria query.
type Parameter struct {
	m *expr.Marker
}

// Name returns the name of a named parameter, or "".
func (p *Parameter) Name() string {
	return p.m.Identifier().Name()
}

// Position returns the position of a positional parameter, or 0.
func (p *Parameter) Position() int {
	return p.m.Identifier().Position()
}

// Tag returns the type tag the parameter was declared with.
func (p *Parameter) Tag() TypeTag {
	return TypeTag(p.m.Tag())
}

// String returns the parameter as written in the query language, e.g.
// ":name" or "?1".
func (p *Parameter) String() string {
	return p.m.Identifier().String()
}

// Config controls how statements are expanded into SQL.
type Config struct {
	// Dialect selects the placeholder style. The default is SQLite.
	Dialect Dialect
	// Combinator is written between the placeholders of a sequence. If
	// empty, ", " is used.
	Combinator string
	// MaxParams limits the number of placeholders in one statement. Zero or
	// less means unlimited.
	MaxParams int
}

func (c Config) expr() expr.Config {
	return expr.Config{
		Dialect:    expr.Dialect(c.Dialect),
		Combinator: c.Combinator,
		MaxParams:  c.MaxParams,
	}
}

// Dialect selects the placeholder style of the generated SQL.
type Dialect int

const (
	SQLite    Dialect = Dialect(expr.SQLite)
	MySQL     Dialect = Dialect(expr.MySQL)
	Postgres  Dialect = Dialect(expr.Postgres)
	SQLServer Dialect = Dialect(expr.SQLServer)
)

func (d Dialect) String() string {
	return expr.Dialect(d).String()
}

// ParseDialect returns the dialect with the given name. Driver names such as
// "sqlite3" and "pgx" are accepted.
func ParseDialect(name string) (Dialect, error) {
	d, err := expr.ParseDialect(name)
	return Dialect(d), err
}

// Statement is a predicate template together with its parameters and their
// bound values. A Statement belongs to one query build and is not safe for
// concurrent use.
type Statement struct {
	template *expr.Template
	binder   *expr.Binder
}

// Parse parses a query containing named (":name") or positional ("?1", "?")
// parameters. Parameters that appear only as elements of an IN list accept
// scalars and sequences, all others accept scalars only.
func Parse(query string) (*Statement, error) {
	parser := expr.NewParser()
	pq, err := parser.Parse(query)
	if err != nil {
		return nil, err
	}
	binder := expr.NewBinder()
	if err := pq.Declare(binder); err != nil {
		return nil, err
	}
	return &Statement{template: pq.Template(), binder: binder}, nil
}

// MustParse is the same as [Parse] except that it panics on error.
func MustParse(query string) *Statement {
	s, err := Parse(query)
	if err != nil {
		panic(err)
	}
	return s
}

// Parameters returns the statement parameters in declaration order.
func (s *Statement) Parameters() []*Parameter {
	var ps []*Parameter
	for _, m := range s.binder.Markers() {
		ps = append(ps, &Parameter{m: m})
	}
	return ps
}

// Bind binds v to the parameter p.
func (s *Statement) Bind(p *Parameter, v Value) error {
	if p == nil || p.m == nil {
		return errors.Wrap(ErrUnknownParameter, "cannot bind nil parameter")
	}
	m, ok := s.binder.Lookup(p.m.Identifier())
	if !ok || m != p.m {
		return errors.Wrapf(ErrUnknownParameter, "cannot bind %s from another statement", p)
	}
	return s.binder.Bind(p.m.Identifier(), v.v)
}

// BindNamed binds v to the named parameter name.
func (s *Statement) BindNamed(name string, v Value) error {
	return s.binder.Bind(expr.Named(name), v.v)
}

// BindPositional binds v to the positional parameter n.
func (s *Statement) BindPositional(n int, v Value) error {
	return s.binder.Bind(expr.Positional(n), v.v)
}

// State returns the lifecycle state of the statement parameters.
func (s *Statement) State() State {
	return State(s.binder.State())
}

// Expand generates the SQL and the query arguments from the bound values.
// Expanding twice with the same bindings gives identical results.
func (s *Statement) Expand(cfg Config) (*Expanded, error) {
	e, err := s.binder.Expand(s.template, cfg.expr())
	if err != nil {
		return nil, err
	}
	return &Expanded{e: e}, nil
}

// String returns a textual representation of the statement template.
func (s *Statement) String() string {
	return s.template.String()
}

// Expanded is a statement with every parameter replaced by placeholders.
type Expanded struct {
	e *expr.Expanded
}

// SQL returns the generated SQL.
func (e *Expanded) SQL() string {
	return e.e.SQL()
}

// Params returns the query arguments in placeholder order.
func (e *Expanded) Params() []any {
	return e.e.Params()
}

// Placeholders returns the placeholder tokens in the order they appear.
func (e *Expanded) Placeholders() []string {
	return e.e.Placeholders()
}
