// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr_test

import (
	"errors"

	. "gopkg.in/check.v1"

	"github.com/canonical/sqlparam/internal/expr"
)

type BinderSuite struct{}

var _ = Suite(&BinderSuite{})

// inTemplate builds the template "data IN (<markers>)".
func inTemplate(ids ...expr.Identifier) *expr.Template {
	var tb expr.TemplateBuilder
	tb.WriteSQL("SELECT * FROM basic_entity WHERE data IN (")
	for i, id := range ids {
		if i > 0 {
			tb.WriteSQL(", ")
		}
		tb.WriteMarker(id)
	}
	tb.WriteSQL(")")
	return tb.Template()
}

// equalTemplate builds the template "data = <marker>".
func equalTemplate(id expr.Identifier) *expr.Template {
	var tb expr.TemplateBuilder
	tb.WriteSQL("SELECT * FROM basic_entity WHERE data = ")
	tb.WriteMarker(id)
	return tb.Template()
}

func (s *BinderSuite) TestNamedCollectionSingleElement(c *C) {
	b := expr.NewBinder()
	m, err := b.Declare(expr.Named("datas"), expr.TagCollection)
	c.Assert(err, IsNil)
	c.Assert(b.Bind(m.Identifier(), expr.SequenceValue([]any{"fe"})), IsNil)

	e, err := b.Expand(inTemplate(m.Identifier()), expr.Config{})
	c.Assert(err, IsNil)
	c.Check(e.SQL(), Equals, "SELECT * FROM basic_entity WHERE data IN (?)")
	c.Check(e.Placeholders(), DeepEquals, []string{"?"})
	c.Check(e.Params(), DeepEquals, []any{"fe"})
}

func (s *BinderSuite) TestPositionalScalar(c *C) {
	b := expr.NewBinder()
	m := b.DeclarePositional(expr.TagScalar)
	c.Assert(m.Identifier(), Equals, expr.Positional(1))
	c.Assert(b.Bind(m.Identifier(), expr.ScalarValue("fe")), IsNil)

	e, err := b.Expand(equalTemplate(m.Identifier()), expr.Config{})
	c.Assert(err, IsNil)
	c.Check(e.SQL(), Equals, "SELECT * FROM basic_entity WHERE data = ?")
	c.Check(e.Params(), DeepEquals, []any{"fe"})
}

func (s *BinderSuite) TestInMarkerSequence(c *C) {
	tests := []struct {
		summary  string
		cfg      expr.Config
		expected string
		tokens   []string
	}{{
		summary:  "default config",
		cfg:      expr.Config{},
		expected: "SELECT * FROM basic_entity WHERE data IN (?, ?, ?, ?)",
		tokens:   []string{"?", "?", "?", "?"},
	}, {
		summary:  "postgres",
		cfg:      expr.Config{Dialect: expr.Postgres},
		expected: "SELECT * FROM basic_entity WHERE data IN ($1, $2, $3, $4)",
		tokens:   []string{"$1", "$2", "$3", "$4"},
	}, {
		summary:  "sqlserver with custom combinator",
		cfg:      expr.Config{Dialect: expr.SQLServer, Combinator: ","},
		expected: "SELECT * FROM basic_entity WHERE data IN (@p1,@p2,@p3,@p4)",
		tokens:   []string{"@p1", "@p2", "@p3", "@p4"},
	}, {
		summary:  "mysql",
		cfg:      expr.Config{Dialect: expr.MySQL},
		expected: "SELECT * FROM basic_entity WHERE data IN (?, ?, ?, ?)",
		tokens:   []string{"?", "?", "?", "?"},
	}}

	for i, t := range tests {
		b := expr.NewBinder()
		m := b.DeclarePositional(expr.TagUnconstrained)
		c.Assert(b.Bind(m.Identifier(), expr.SequenceValue([]any{"fe", "fi", "fo", "fum"})), IsNil)

		e, err := b.Expand(inTemplate(m.Identifier()), t.cfg)
		c.Assert(err, IsNil, Commentf("test %d failed (%s)", i, t.summary))
		c.Check(e.SQL(), Equals, t.expected, Commentf("test %d failed (%s)", i, t.summary))
		c.Check(e.Placeholders(), DeepEquals, t.tokens, Commentf("test %d failed (%s)", i, t.summary))
		c.Check(e.Params(), DeepEquals, []any{"fe", "fi", "fo", "fum"}, Commentf("test %d failed (%s)", i, t.summary))
	}
}

func (s *BinderSuite) TestUnconstrainedAcceptsScalar(c *C) {
	b := expr.NewBinder()
	m := b.DeclarePositional(expr.TagUnconstrained)
	c.Assert(b.Bind(m.Identifier(), expr.ScalarValue("fe")), IsNil)

	e, err := b.Expand(inTemplate(m.Identifier()), expr.Config{})
	c.Assert(err, IsNil)
	c.Check(e.SQL(), Equals, "SELECT * FROM basic_entity WHERE data IN (?)")
	c.Check(e.Params(), DeepEquals, []any{"fe"})
}

func (s *BinderSuite) TestMixedNumbering(c *C) {
	b := expr.NewBinder()
	a := b.DeclarePositional(expr.TagScalar)
	in, err := b.Declare(expr.Named("ids"), expr.TagCollection)
	c.Assert(err, IsNil)
	z := b.DeclarePositional(expr.TagScalar)
	c.Assert(z.Identifier(), Equals, expr.Positional(2))

	c.Assert(b.Bind(a.Identifier(), expr.ScalarValue(1)), IsNil)
	c.Assert(b.Bind(in.Identifier(), expr.SequenceValue([]any{2, 3})), IsNil)
	c.Assert(b.Bind(z.Identifier(), expr.ScalarValue(4)), IsNil)

	var tb expr.TemplateBuilder
	tb.WriteSQL("a = ")
	tb.WriteMarker(a.Identifier())
	tb.WriteSQL(" AND b IN (")
	tb.WriteMarker(in.Identifier())
	tb.WriteSQL(") AND c = ")
	tb.WriteMarker(z.Identifier())

	e, err := b.Expand(tb.Template(), expr.Config{Dialect: expr.Postgres})
	c.Assert(err, IsNil)
	c.Check(e.SQL(), Equals, "a = $1 AND b IN ($2, $3) AND c = $4")
	c.Check(e.Params(), DeepEquals, []any{1, 2, 3, 4})
}

func (s *BinderSuite) TestRepeatedMarkerExpandsEachTime(c *C) {
	b := expr.NewBinder()
	m, err := b.Declare(expr.Named("p"), expr.TagUnconstrained)
	c.Assert(err, IsNil)
	c.Assert(b.Bind(m.Identifier(), expr.SequenceValue([]any{"x", "y"})), IsNil)

	var tb expr.TemplateBuilder
	tb.WriteSQL("a IN (")
	tb.WriteMarker(m.Identifier())
	tb.WriteSQL(") OR b IN (")
	tb.WriteMarker(m.Identifier())
	tb.WriteSQL(")")

	e, err := b.Expand(tb.Template(), expr.Config{Dialect: expr.Postgres})
	c.Assert(err, IsNil)
	c.Check(e.SQL(), Equals, "a IN ($1, $2) OR b IN ($3, $4)")
	c.Check(e.Params(), DeepEquals, []any{"x", "y", "x", "y"})
}

func (s *BinderSuite) TestExpandIdempotent(c *C) {
	b := expr.NewBinder()
	m, err := b.Declare(expr.Named("datas"), expr.TagUnconstrained)
	c.Assert(err, IsNil)
	c.Assert(b.Bind(m.Identifier(), expr.SequenceValue([]any{"fe", "fi"})), IsNil)
	t := inTemplate(m.Identifier())

	e1, err := b.Expand(t, expr.Config{})
	c.Assert(err, IsNil)
	e2, err := b.Expand(t, expr.Config{})
	c.Assert(err, IsNil)
	c.Check(e2.SQL(), Equals, e1.SQL())
	c.Check(e2.Params(), DeepEquals, e1.Params())
	c.Check(e2.Placeholders(), DeepEquals, e1.Placeholders())
}

func (s *BinderSuite) TestSequenceValueIsCopied(c *C) {
	vs := []any{"fe", "fi"}
	v := expr.SequenceValue(vs)
	vs[0] = "changed"

	b := expr.NewBinder()
	m := b.DeclarePositional(expr.TagCollection)
	c.Assert(b.Bind(m.Identifier(), v), IsNil)
	e, err := b.Expand(inTemplate(m.Identifier()), expr.Config{})
	c.Assert(err, IsNil)
	c.Check(e.Params(), DeepEquals, []any{"fe", "fi"})
}

func (s *BinderSuite) TestDuplicateIdentifier(c *C) {
	b := expr.NewBinder()
	_, err := b.Declare(expr.Named("datas"), expr.TagCollection)
	c.Assert(err, IsNil)
	_, err = b.Declare(expr.Named("datas"), expr.TagScalar)
	c.Assert(err, ErrorMatches, "cannot declare parameter :datas: duplicate parameter identifier")
	c.Check(errors.Is(err, expr.ErrDuplicateIdentifier), Equals, true)
	c.Check(b.Markers(), HasLen, 1)
}

func (s *BinderSuite) TestPositionalMarkersAreDistinct(c *C) {
	b := expr.NewBinder()
	m1 := b.DeclarePositional(expr.TagScalar)
	m2 := b.DeclarePositional(expr.TagScalar)
	c.Check(m1.Identifier(), Equals, expr.Positional(1))
	c.Check(m2.Identifier(), Equals, expr.Positional(2))

	// Explicit positions move the allocator forward.
	_, err := b.Declare(expr.Positional(5), expr.TagScalar)
	c.Assert(err, IsNil)
	c.Check(b.DeclarePositional(expr.TagScalar).Identifier(), Equals, expr.Positional(6))
}

func (s *BinderSuite) TestInvalidDeclarations(c *C) {
	b := expr.NewBinder()
	_, err := b.Declare(expr.Named(""), expr.TagScalar)
	c.Check(err, ErrorMatches, "cannot declare parameter: empty name")
	_, err = b.Declare(expr.Positional(-1), expr.TagScalar)
	c.Check(err, ErrorMatches, "cannot declare parameter: invalid position -1")
	_, err = b.Declare(expr.Named("p"), expr.TypeTag(9))
	c.Check(err, ErrorMatches, "cannot declare parameter :p: invalid type tag 9")
}

func (s *BinderSuite) TestBindErrors(c *C) {
	b := expr.NewBinder()
	scalar, err := b.Declare(expr.Named("s"), expr.TagScalar)
	c.Assert(err, IsNil)
	coll, err := b.Declare(expr.Named("c"), expr.TagCollection)
	c.Assert(err, IsNil)
	in, err := b.Declare(expr.Named("i"), expr.TagUnconstrained)
	c.Assert(err, IsNil)

	tests := []struct {
		summary string
		id      expr.Identifier
		value   expr.Value
		err     string
		kind    error
	}{{
		summary: "unknown named parameter",
		id:      expr.Named("missing"),
		value:   expr.ScalarValue(1),
		err:     "cannot bind :missing: unknown parameter",
		kind:    expr.ErrUnknownParameter,
	}, {
		summary: "unknown positional parameter",
		id:      expr.Positional(3),
		value:   expr.ScalarValue(1),
		err:     `cannot bind \?3: unknown parameter`,
		kind:    expr.ErrUnknownParameter,
	}, {
		summary: "sequence to scalar",
		id:      scalar.Identifier(),
		value:   expr.SequenceValue([]any{1, 2}),
		err:     "cannot bind sequence to scalar parameter :s: parameter type mismatch",
		kind:    expr.ErrTypeMismatch,
	}, {
		summary: "scalar to collection",
		id:      coll.Identifier(),
		value:   expr.ScalarValue(1),
		err:     "cannot bind scalar to collection parameter :c: parameter type mismatch",
		kind:    expr.ErrTypeMismatch,
	}, {
		summary: "empty sequence to collection",
		id:      coll.Identifier(),
		value:   expr.SequenceValue(nil),
		err:     "cannot bind :c: empty sequence",
		kind:    expr.ErrEmptySequence,
	}, {
		summary: "empty sequence to IN marker",
		id:      in.Identifier(),
		value:   expr.SequenceValue([]any{}),
		err:     "cannot bind :i: empty sequence",
		kind:    expr.ErrEmptySequence,
	}}

	for i, t := range tests {
		err := b.Bind(t.id, t.value)
		c.Check(err, ErrorMatches, t.err, Commentf("test %d failed (%s)", i, t.summary))
		c.Check(errors.Is(err, t.kind), Equals, true, Commentf("test %d failed (%s)", i, t.summary))
	}
	c.Check(b.State(), Equals, expr.StateDeclared)
}

func (s *BinderSuite) TestExpandUnbound(c *C) {
	b := expr.NewBinder()
	m, err := b.Declare(expr.Named("datas"), expr.TagCollection)
	c.Assert(err, IsNil)

	e, err := b.Expand(inTemplate(m.Identifier()), expr.Config{})
	c.Check(e, IsNil)
	c.Check(err, ErrorMatches, "cannot expand predicate: parameter :datas: unbound parameter")
	c.Check(errors.Is(err, expr.ErrUnboundParameter), Equals, true)
}

func (s *BinderSuite) TestExpandUnboundNotReferenced(c *C) {
	b := expr.NewBinder()
	used := b.DeclarePositional(expr.TagScalar)
	b.DeclarePositional(expr.TagScalar)
	c.Assert(b.Bind(used.Identifier(), expr.ScalarValue("fe")), IsNil)

	_, err := b.Expand(equalTemplate(used.Identifier()), expr.Config{})
	c.Check(err, ErrorMatches, `cannot expand predicate: parameter \?2: unbound parameter`)
	c.Check(errors.Is(err, expr.ErrUnboundParameter), Equals, true)
}

func (s *BinderSuite) TestExpandUndeclaredMarker(c *C) {
	b := expr.NewBinder()
	_, err := b.Expand(equalTemplate(expr.Named("ghost")), expr.Config{})
	c.Check(err, ErrorMatches, "cannot expand predicate: parameter :ghost: unknown parameter")
	c.Check(errors.Is(err, expr.ErrUnknownParameter), Equals, true)
}

func (s *BinderSuite) TestExpandTooManyParams(c *C) {
	b := expr.NewBinder()
	m := b.DeclarePositional(expr.TagCollection)
	c.Assert(b.Bind(m.Identifier(), expr.SequenceValue([]any{1, 2, 3})), IsNil)

	_, err := b.Expand(inTemplate(m.Identifier()), expr.Config{MaxParams: 2})
	c.Check(err, ErrorMatches, `cannot expand predicate: parameter \?1 needs 3 more, limit is 2: too many parameters`)
	c.Check(errors.Is(err, expr.ErrTooManyParams), Equals, true)
	c.Check(b.State(), Equals, expr.StateBound)

	e, err := b.Expand(inTemplate(m.Identifier()), expr.Config{MaxParams: 3})
	c.Assert(err, IsNil)
	c.Check(e.Params(), HasLen, 3)
}

func (s *BinderSuite) TestStateMachine(c *C) {
	b := expr.NewBinder()
	c.Check(b.State(), Equals, expr.StateBound)

	m := b.DeclarePositional(expr.TagScalar)
	c.Check(b.State(), Equals, expr.StateDeclared)

	c.Assert(b.Bind(m.Identifier(), expr.ScalarValue("fe")), IsNil)
	c.Check(b.State(), Equals, expr.StateBound)

	_, err := b.Expand(equalTemplate(m.Identifier()), expr.Config{})
	c.Assert(err, IsNil)
	c.Check(b.State(), Equals, expr.StateExpanded)

	// Rebinding moves back to bound.
	c.Assert(b.Bind(m.Identifier(), expr.ScalarValue("fi")), IsNil)
	c.Check(b.State(), Equals, expr.StateBound)

	// A new declaration needs a value again.
	b.DeclarePositional(expr.TagScalar)
	c.Check(b.State(), Equals, expr.StateDeclared)
	c.Check(b.State().String(), Equals, "declared")
}

func (s *BinderSuite) TestRebindLatestWins(c *C) {
	b := expr.NewBinder()
	m, err := b.Declare(expr.Named("p"), expr.TagUnconstrained)
	c.Assert(err, IsNil)
	c.Assert(b.Bind(m.Identifier(), expr.SequenceValue([]any{"fe", "fi"})), IsNil)
	c.Assert(b.Bind(m.Identifier(), expr.ScalarValue("fo")), IsNil)

	e, err := b.Expand(inTemplate(m.Identifier()), expr.Config{})
	c.Assert(err, IsNil)
	c.Check(e.SQL(), Equals, "SELECT * FROM basic_entity WHERE data IN (?)")
	c.Check(e.Params(), DeepEquals, []any{"fo"})
}

func (s *BinderSuite) TestIdentifiers(c *C) {
	c.Check(expr.Named("datas").String(), Equals, ":datas")
	c.Check(expr.Positional(3).String(), Equals, "?3")
	c.Check(expr.Named("datas").IsNamed(), Equals, true)
	c.Check(expr.Positional(3).IsNamed(), Equals, false)
	c.Check(expr.Positional(3).Position(), Equals, 3)

	// Composed and decomposed spellings are the same name.
	c.Check(expr.Named("cafe\u0301"), Equals, expr.Named("caf\u00e9"))
}

func (s *BinderSuite) TestTemplateReferences(c *C) {
	var tb expr.TemplateBuilder
	tb.WriteSQL("a = ")
	tb.WriteMarker(expr.Named("x"))
	tb.WriteSQL(" AND ")
	tb.WriteSQL("b = ")
	tb.WriteMarker(expr.Positional(1))
	tb.WriteSQL(" OR c = ")
	tb.WriteMarker(expr.Named("x"))
	t := tb.Template()

	c.Check(t.String(), Equals, "Template[Bypass[a = ] Marker[:x] Bypass[ AND b = ] Marker[?1] Bypass[ OR c = ] Marker[:x]]")
	c.Check(t.References(), DeepEquals, []expr.Identifier{expr.Named("x"), expr.Positional(1)})
}
