// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlparam

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync/atomic"
)

var ErrNoRows = sql.ErrNoRows
var ErrTXDone = sql.ErrTxDone

// DB wraps a [sql.DB] and runs Statements on it, expanding their parameters
// with the DB's Config.
type DB struct {
	sqldb *sql.DB
	cfg   Config
}

// NewDB creates a new [DB] from a [sql.DB]. Statements are expanded with
// SQLite placeholders.
func NewDB(sqldb *sql.DB) *DB {
	return NewDBWithConfig(sqldb, Config{})
}

// NewDBWithConfig creates a new [DB] that expands statements with cfg.
func NewDBWithConfig(sqldb *sql.DB, cfg Config) *DB {
	if sqldb == nil {
		return nil
	}
	return &DB{sqldb: sqldb, cfg: cfg}
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	return db.sqldb
}

// Config returns the configuration statements are expanded with.
func (db *DB) Config() Config {
	return db.cfg
}

// Query represents a query on a database. It is designed to be run once.
type Query struct {
	// query and exec run the expanded statement against the DB or the TX.
	query func(context.Context) (*sql.Rows, error)
	exec  func(context.Context) (sql.Result, error)
	ctx   context.Context
	err   error
	e     *Expanded
}

// Iterator is used to iterate over the results of the query.
type Iterator struct {
	rows    *sql.Rows
	cols    []string
	err     error
	started bool
}

// execer is the part of [sql.DB] and [sql.Tx] used to run queries.
type execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func newQuery(ctx context.Context, conn execer, cfg Config, s *Statement) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	if s == nil {
		return &Query{ctx: ctx, err: fmt.Errorf("cannot run query: nil statement")}
	}

	e, err := s.Expand(cfg)
	if err != nil {
		return &Query{ctx: ctx, err: err}
	}

	query := func(innerCtx context.Context) (*sql.Rows, error) {
		return conn.QueryContext(innerCtx, e.SQL(), e.Params()...)
	}
	exec := func(innerCtx context.Context) (sql.Result, error) {
		return conn.ExecContext(innerCtx, e.SQL(), e.Params()...)
	}
	return &Query{query: query, exec: exec, ctx: ctx, e: e}
}

// Query expands the statement and builds a new query from it. The query is
// run on the database when one of [Query.Iter], [Query.Run], [Query.Exec],
// [Query.Get] or [Query.GetAll] is executed. Expansion errors are returned
// from those methods.
func (db *DB) Query(ctx context.Context, s *Statement) *Query {
	return newQuery(ctx, db.sqldb, db.cfg, s)
}

// Expanded returns the expanded statement the query runs.
func (q *Query) Expanded() (*Expanded, error) {
	return q.e, q.err
}

// Run executes the query and disregards any results.
func (q *Query) Run() error {
	_, err := q.Exec()
	return err
}

// Exec executes the query and returns the [sql.Result].
func (q *Query) Exec() (sql.Result, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.exec(q.ctx)
}

// Get runs the query and scans the first row returned into the provided
// destinations, as [sql.Rows.Scan] does. It returns [ErrNoRows] if no
// results were found.
func (q *Query) Get(dest ...any) error {
	if q.err != nil {
		return q.err
	}

	iter := q.Iter()
	if !iter.Next() {
		err := iter.Close()
		if err == nil {
			err = ErrNoRows
		}
		return err
	}
	err := iter.Get(dest...)
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	return err
}

// Iter returns an [Iterator] to iterate through the results row by row.
// [Iterator.Close] must be run once iteration is finished.
func (q *Query) Iter() *Iterator {
	if q.err != nil {
		return &Iterator{err: q.err}
	}

	rows, err := q.query(q.ctx)
	if err != nil {
		return &Iterator{err: err}
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return &Iterator{err: err}
	}
	return &Iterator{rows: rows, cols: cols}
}

// Next prepares the next row for [Iterator.Get]. If an error occurs during
// iteration it will be returned with [Iterator.Close].
func (iter *Iterator) Next() bool {
	iter.started = true
	if iter.err != nil || iter.rows == nil {
		return false
	}
	return iter.rows.Next()
}

// Columns returns the column names of the results.
func (iter *Iterator) Columns() []string {
	return iter.cols
}

// Get scans the row from the previous [Iterator.Next] call into dest.
func (iter *Iterator) Get(dest ...any) (err error) {
	if iter.err != nil {
		return iter.err
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot get result: %w", err)
		}
	}()

	if !iter.started {
		return fmt.Errorf("cannot call Get before Next")
	}
	if iter.rows == nil {
		return fmt.Errorf("iteration ended")
	}
	return iter.rows.Scan(dest...)
}

// Close finishes the iteration and returns any errors encountered. Close can
// be called multiple times on the [Iterator] and the same error will be
// returned.
func (iter *Iterator) Close() error {
	iter.started = true
	if iter.rows == nil {
		return iter.err
	}
	err := iter.rows.Err()
	if cerr := iter.rows.Close(); err == nil {
		err = cerr
	}
	iter.rows = nil
	if iter.err != nil {
		return iter.err
	}
	iter.err = err
	return err
}

// GetAll iterates over the query and appends each column of every row to the
// matching slice. sliceArgs must contain one pointer to a slice per result
// column.
//
// [ErrNoRows] will be returned if no rows are found.
func (q *Query) GetAll(sliceArgs ...any) (err error) {
	if q.err != nil {
		return q.err
	}

	// Check slice inputs are valid using reflection.
	var slicePtrVals = []reflect.Value{}
	var sliceVals = []reflect.Value{}
	for _, ptr := range sliceArgs {
		ptrVal := reflect.ValueOf(ptr)
		if ptrVal.Kind() != reflect.Pointer {
			return fmt.Errorf("need pointer to slice, got %s", ptrVal.Kind())
		}
		if ptrVal.IsNil() {
			return fmt.Errorf("need pointer to slice, got nil")
		}
		slicePtrVals = append(slicePtrVals, ptrVal)
		sliceVal := ptrVal.Elem()
		if sliceVal.Kind() != reflect.Slice {
			return fmt.Errorf("need pointer to slice, got pointer to %s", sliceVal.Kind())
		}
		sliceVals = append(sliceVals, sliceVal)
	}

	// Iterate over the query results.
	rowsReturned := false
	iter := q.Iter()
	for iter.Next() {
		rowsReturned = true
		var dest = []any{}
		for _, sliceVal := range sliceVals {
			dest = append(dest, reflect.New(sliceVal.Type().Elem()).Interface())
		}
		if err := iter.Get(dest...); err != nil {
			iter.Close()
			return err
		}
		for i, d := range dest {
			sliceVals[i] = reflect.Append(sliceVals[i], reflect.ValueOf(d).Elem())
		}
	}
	err = iter.Close()
	if err != nil {
		return err
	} else if !rowsReturned {
		return ErrNoRows
	}

	for i, ptrVal := range slicePtrVals {
		ptrVal.Elem().Set(sliceVals[i])
	}

	return nil
}

// TX represents a transaction on the database.
type TX struct {
	sqltx *sql.Tx
	db    *DB
	done  int32
}

func (tx *TX) isDone() bool {
	return atomic.LoadInt32(&tx.done) == 1
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// Begin starts a transaction. A transaction must be ended
// with a [TX.Commit] or [TX.Rollback].
func (db *DB) Begin(ctx context.Context, opts *TXOptions) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, err := db.sqldb.BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return nil, err
	}
	return &TX{sqltx: sqltx, db: db}, nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Commit()
	}
	return err
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Rollback()
	}
	return err
}

// TXOptions holds the transaction options to be used in [DB.Begin].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Query expands the statement with the configuration of the DB that started
// the transaction and builds a new query from it. The query is run when one
// of [Query.Iter], [Query.Run], [Query.Exec], [Query.Get] or [Query.GetAll]
// is executed.
func (tx *TX) Query(ctx context.Context, s *Statement) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.isDone() {
		return &Query{ctx: ctx, err: ErrTXDone}
	}
	return newQuery(ctx, tx.sqltx, tx.db.cfg, s)
}
