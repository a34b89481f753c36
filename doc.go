/*
Package sqlparam binds parameter values to SQL predicates and expands
collection values bound to IN predicates into one placeholder per element.

Statements come from a query string or from a criteria query built in Go.
Either way the statement declares its parameters, the caller binds a value to
each of them, and the statement is expanded into SQL plus a flat list of
query arguments for database/sql.

# Query strings

Parameters in query strings are named (":name"), numbered ("?1") or
anonymous ("?"). Anonymous and numbered parameters cannot be mixed in one
query. A parameter that only appears as an element of an IN list accepts
either a scalar or a sequence:

	stmt := sqlparam.MustParse("SELECT id FROM basic_entity WHERE data IN (:datas)")
	err := stmt.BindNamed("datas", sqlparam.Sequence("fe", "fi", "fo", "fum"))

expands with SQLite placeholders to

	SELECT id FROM basic_entity WHERE data IN (?, ?, ?, ?)

with the arguments "fe", "fi", "fo", "fum". Every other parameter accepts a
scalar only.

# Criteria queries

A [CriteriaQuery] builds the same kind of statement from a predicate tree:

	cq := sqlparam.NewCriteriaQuery()
	p := cq.Parameter(sqlparam.TypeCollection)
	cq.Select("basic_entity", "id").Where(sqlparam.In(sqlparam.Column("data"), p))
	stmt, err := cq.Statement()
	err = stmt.Bind(p, sqlparam.Sequence("fe", "fi"))

Literal values in a criteria query are always passed as query arguments.

# Empty sequences

An IN list cannot be empty in SQL. Binding an empty sequence fails with
[ErrEmptySequence] rather than generating invalid SQL.

# Running statements

[DB] and [TX] expand statements with their [Config] and run them:

	db := sqlparam.NewDB(sqldb)
	var ids []int
	err := db.Query(ctx, stmt).GetAll(&ids)
*/
package sqlparam
