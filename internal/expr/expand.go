// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"bytes"
	"fmt"
	"strconv"
)

// Dialect selects the placeholder token written for each query parameter.
type Dialect int

const (
	// SQLite uses "?" placeholders.
	SQLite Dialect = iota
	// MySQL uses "?" placeholders.
	MySQL
	// Postgres uses numbered "$n" placeholders.
	Postgres
	// SQLServer uses numbered "@pn" placeholders.
	SQLServer
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case MySQL:
		return "mysql"
	case Postgres:
		return "postgres"
	case SQLServer:
		return "sqlserver"
	}
	return fmt.Sprintf("Dialect(%d)", int(d))
}

// ParseDialect returns the dialect with the given name.
func ParseDialect(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3", "":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	}
	return 0, fmt.Errorf("unknown dialect %q", name)
}

// DefaultCombinator joins the placeholders of an expanded sequence.
const DefaultCombinator = ", "

// Config controls how a template is expanded.
type Config struct {
	// Dialect selects the placeholder style.
	Dialect Dialect
	// Combinator is written between the placeholders of a sequence value.
	// If empty, DefaultCombinator is used.
	Combinator string
	// MaxParams limits the number of placeholders in a single expansion.
	// Zero or less means unlimited.
	MaxParams int
}

func (c Config) withDefaults() Config {
	if c.Combinator == "" {
		c.Combinator = DefaultCombinator
	}
	return c
}

// Expanded is a template with every marker replaced by placeholders, along
// with the parameters in placeholder order.
type Expanded struct {
	sql          string
	params       []any
	placeholders []string
}

// SQL returns the expanded SQL.
func (e *Expanded) SQL() string {
	return e.sql
}

// Params returns the query parameters aligned with the placeholders.
func (e *Expanded) Params() []any {
	return e.params
}

// Placeholders returns the placeholder tokens in the order they were written.
func (e *Expanded) Placeholders() []string {
	return e.placeholders
}

// sqlBuilder is used to generate SQL string piece by piece using the struct
// methods.
type sqlBuilder struct {
	buf          bytes.Buffer
	placeholders []string
}

// writePlaceholders writes num placeholders joined by the configured
// combinator. paramCount is the number of parameters already written.
func (b *sqlBuilder) writePlaceholders(cfg Config, paramCount, num int) {
	for i := 0; i < num; i++ {
		if i != 0 {
			b.buf.WriteString(cfg.Combinator)
		}
		p := placeholder(cfg.Dialect, paramCount+i+1)
		b.placeholders = append(b.placeholders, p)
		b.buf.WriteString(p)
	}
}

// write writes the SQL to the sqlBuilder.
func (b *sqlBuilder) write(sql string) {
	b.buf.WriteString(sql)
}

// getSQL returns the generated SQL string
func (b *sqlBuilder) getSQL() string {
	return b.buf.String()
}

// placeholder returns the token for the n-th query parameter, counting
// from 1.
func placeholder(d Dialect, n int) string {
	switch d {
	case Postgres:
		return "$" + strconv.Itoa(n)
	case SQLServer:
		return "@p" + strconv.Itoa(n)
	default:
		return "?"
	}
}
