/*
Package expr holds parameter markers, the values bound to them and the
predicate templates they appear in. It covers everything between the query
text and the SQL handed to the database, it does not interact with databases.

Work happens in three stages.

# Declaration

Markers are declared on a Binder, either directly or by parsing a query with
the Parser. Each marker has a type tag: scalar, collection or unconstrained.

# Binding

Values are bound to declared markers. A Value is a scalar or a sequence and
its shape is checked against the marker's tag when it is bound.

# Expansion

The Binder walks a Template and writes one placeholder per scalar and one per
sequence element, collecting the query arguments in the same order. Expansion
is computed every time, collection sizes differ between executions.
*/
package expr
