// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlparam

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/canonical/sqlparam/internal/expr"
)

// Expression is a value in a criteria predicate: a column, a literal or a
// parameter.
//
// This is a sealed interface, only types in this package implement it.
type Expression interface {
	render(r *renderer, ctx renderContext) error
}

// Predicate is a boolean condition in a criteria query.
//
// This is a sealed interface, only types in this package implement it.
type Predicate interface {
	Expression
	predicateNode()
}

// renderContext tells an expression where it is being rendered.
type renderContext int

const (
	inScalarPosition renderContext = iota
	inListPosition
)

type column struct {
	name string
}

// Column references a column by name, optionally qualified by its table,
// e.g. "data" or "e.data".
func Column(name string) Expression {
	return column{name: name}
}

func (c column) render(r *renderer, _ renderContext) error {
	if c.name == "" {
		return fmt.Errorf("empty column name")
	}
	r.tb.WriteSQL(c.name)
	return nil
}

type literal struct {
	value any
}

// Literal is a constant value. Literals are never written into the SQL, each
// one is passed as a positional query argument.
func Literal(v any) Expression {
	return literal{value: v}
}

// Literals returns a Literal for each of vs.
func Literals[T any](vs ...T) []Expression {
	es := make([]Expression, len(vs))
	for i, v := range vs {
		es[i] = Literal(v)
	}
	return es
}

func (l literal) render(r *renderer, _ renderContext) error {
	m := r.binder.DeclarePositional(expr.TagScalar)
	if err := r.binder.Bind(m.Identifier(), expr.ScalarValue(l.value)); err != nil {
		return err
	}
	r.tb.WriteMarker(m.Identifier())
	return nil
}

func (p *Parameter) render(r *renderer, ctx renderContext) error {
	if p == nil || p.m == nil {
		return errors.Wrap(ErrUnknownParameter, "nil parameter")
	}
	m, ok := r.binder.Lookup(p.m.Identifier())
	if !ok || m != p.m {
		return errors.Wrapf(ErrUnknownParameter, "parameter %s belongs to another query", p)
	}
	if ctx != inListPosition {
		switch p.m.Tag() {
		case expr.TagCollection:
			return errors.Wrapf(ErrTypeMismatch, "collection parameter %s used outside an IN list", p)
		case expr.TagUnconstrained:
			return errors.Wrapf(ErrTypeMismatch, "unconstrained parameter %s used outside an IN list", p)
		}
	}
	r.tb.WriteMarker(p.m.Identifier())
	return nil
}

type comparison struct {
	op          string
	left, right Expression
}

func (comparison) predicateNode() {}

func (c comparison) render(r *renderer, _ renderContext) error {
	if err := c.left.render(r, inScalarPosition); err != nil {
		return err
	}
	r.tb.WriteSQL(" " + c.op + " ")
	return c.right.render(r, inScalarPosition)
}

// Equal is the predicate "left = right".
func Equal(left, right Expression) Predicate {
	return comparison{op: "=", left: left, right: right}
}

// NotEqual is the predicate "left <> right".
func NotEqual(left, right Expression) Predicate {
	return comparison{op: "<>", left: left, right: right}
}

// LessThan is the predicate "left < right".
func LessThan(left, right Expression) Predicate {
	return comparison{op: "<", left: left, right: right}
}

// GreaterThan is the predicate "left > right".
func GreaterThan(left, right Expression) Predicate {
	return comparison{op: ">", left: left, right: right}
}

// InPredicate tests whether an expression is a member of a list of values.
type InPredicate struct {
	expr   Expression
	values []Expression
	not    bool
}

func (*InPredicate) predicateNode() {}

// In is the predicate "e IN (values...)". Values may be literals, scalar
// parameters, or parameters bound to sequences, which expand to one
// placeholder per element.
func In(e Expression, values ...Expression) *InPredicate {
	return &InPredicate{expr: e, values: values}
}

// NotIn is the predicate "e NOT IN (values...)".
func NotIn(e Expression, values ...Expression) *InPredicate {
	return &InPredicate{expr: e, values: values, not: true}
}

// Value adds v to the list of values and returns the predicate.
func (p *InPredicate) Value(v Expression) *InPredicate {
	p.values = append(p.values, v)
	return p
}

func (p *InPredicate) render(r *renderer, _ renderContext) error {
	if len(p.values) == 0 {
		return errors.Wrap(ErrEmptySequence, "IN predicate has no values")
	}
	if err := p.expr.render(r, inScalarPosition); err != nil {
		return err
	}
	if p.not {
		r.tb.WriteSQL(" NOT IN (")
	} else {
		r.tb.WriteSQL(" IN (")
	}
	for i, v := range p.values {
		if i > 0 {
			r.tb.WriteSQL(", ")
		}
		if err := v.render(r, inListPosition); err != nil {
			return err
		}
	}
	r.tb.WriteSQL(")")
	return nil
}

type junction struct {
	op         string
	predicates []Predicate
}

func (junction) predicateNode() {}

// And is true when all of ps are true. An empty And is always true.
func And(ps ...Predicate) Predicate {
	return junction{op: "AND", predicates: ps}
}

// Or is true when any of ps is true. An empty Or is always false.
func Or(ps ...Predicate) Predicate {
	return junction{op: "OR", predicates: ps}
}

func (j junction) render(r *renderer, _ renderContext) error {
	if len(j.predicates) == 0 {
		if j.op == "AND" {
			r.tb.WriteSQL("1 = 1")
		} else {
			r.tb.WriteSQL("1 = 0")
		}
		return nil
	}
	for i, p := range j.predicates {
		if i > 0 {
			r.tb.WriteSQL(" " + j.op + " ")
		}
		if err := renderNested(r, p); err != nil {
			return err
		}
	}
	return nil
}

type negation struct {
	p Predicate
}

func (negation) predicateNode() {}

// Not negates p.
func Not(p Predicate) Predicate {
	return negation{p: p}
}

func (n negation) render(r *renderer, _ renderContext) error {
	r.tb.WriteSQL("NOT (")
	if err := n.p.render(r, inScalarPosition); err != nil {
		return err
	}
	r.tb.WriteSQL(")")
	return nil
}

// renderNested renders p, wrapping it in parentheses if it is itself a
// junction.
func renderNested(r *renderer, p Predicate) error {
	if _, ok := p.(junction); !ok {
		return p.render(r, inScalarPosition)
	}
	r.tb.WriteSQL("(")
	if err := p.render(r, inScalarPosition); err != nil {
		return err
	}
	r.tb.WriteSQL(")")
	return nil
}

// renderer writes a predicate tree into a template, declaring and binding
// literal values on the binder as it goes.
type renderer struct {
	binder *expr.Binder
	tb     expr.TemplateBuilder
}

// CriteriaQuery builds a SELECT statement from a predicate tree. Parameters
// are declared on the query and bound on the Statement it produces. A
// CriteriaQuery builds a single Statement.
type CriteriaQuery struct {
	binder  *expr.Binder
	from    string
	columns []string
	where   Predicate
	orderBy []string
	built   bool
}

func NewCriteriaQuery() *CriteriaQuery {
	return &CriteriaQuery{binder: expr.NewBinder()}
}

// Parameter declares a positional parameter.
func (cq *CriteriaQuery) Parameter(tag TypeTag) *Parameter {
	return &Parameter{m: cq.binder.DeclarePositional(expr.TypeTag(tag))}
}

// NamedParameter declares a named parameter. It returns
// ErrDuplicateIdentifier if the name is already declared.
func (cq *CriteriaQuery) NamedParameter(name string, tag TypeTag) (*Parameter, error) {
	m, err := cq.binder.Declare(expr.Named(name), expr.TypeTag(tag))
	if err != nil {
		return nil, err
	}
	return &Parameter{m: m}, nil
}

// Select sets the table and the columns to fetch. With no columns all
// columns are selected.
func (cq *CriteriaQuery) Select(table string, columns ...string) *CriteriaQuery {
	cq.from = table
	cq.columns = columns
	return cq
}

// Where sets the query predicate.
func (cq *CriteriaQuery) Where(p Predicate) *CriteriaQuery {
	cq.where = p
	return cq
}

// OrderBy sets the columns the results are sorted by.
func (cq *CriteriaQuery) OrderBy(columns ...string) *CriteriaQuery {
	cq.orderBy = columns
	return cq
}

// Statement renders the query into a Statement. Literal values are bound
// already, declared parameters must be bound on the returned Statement.
func (cq *CriteriaQuery) Statement() (s *Statement, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot build criteria query: %w", err)
		}
	}()
	if cq.built {
		return nil, fmt.Errorf("statement already built")
	}
	if cq.from == "" {
		return nil, fmt.Errorf("no table selected")
	}
	cq.built = true

	r := &renderer{binder: cq.binder}
	r.tb.WriteSQL("SELECT ")
	if len(cq.columns) == 0 {
		r.tb.WriteSQL("*")
	} else {
		r.tb.WriteSQL(strings.Join(cq.columns, ", "))
	}
	r.tb.WriteSQL(" FROM " + cq.from)
	if cq.where != nil {
		r.tb.WriteSQL(" WHERE ")
		if err := cq.where.render(r, inScalarPosition); err != nil {
			return nil, err
		}
	}
	if len(cq.orderBy) > 0 {
		r.tb.WriteSQL(" ORDER BY " + strings.Join(cq.orderBy, ", "))
	}

	return &Statement{template: r.tb.Template(), binder: cq.binder}, nil
}
