// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/canonical/sqlparam"
)

// ValidDrivers are the database/sql drivers the run command can use.
var ValidDrivers = []string{"sqlite3", "mysql", "pgx"}

type runOptions struct {
	driver string
	dsn    string
	exec   bool
}

// RunResult is the output of the run command.
type RunResult struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected *int64   `json:"rows_affected,omitempty"`
}

// String prints a tab separated table with a header line, or the number of
// affected rows for statements run with --exec.
func (r *RunResult) String() string {
	if r.RowsAffected != nil {
		return fmt.Sprintf("%d rows affected\n", *r.RowsAffected)
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(r.Columns, "\t"))
	sb.WriteString("\n")
	for _, row := range r.Rows {
		for i, v := range row {
			if i > 0 {
				sb.WriteString("\t")
			}
			if v == nil {
				sb.WriteString("NULL")
			} else {
				fmt.Fprintf(&sb, "%v", v)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <binding-file>",
		Short: "Run a bound query against a database",
		Long: `Expand the query of a binding file and run it against a database.

The placeholder dialect defaults to the one of the driver when the binding
file names none.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.driver, "driver", "sqlite3", "database driver (sqlite3|mysql|pgx)")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "data source name (required)")
	cmd.Flags().BoolVar(&opts.exec, "exec", false, "run a statement that returns no rows")
	cmd.MarkFlagRequired("dsn")
	return cmd
}

func runRun(rootOpts *RootOptions, opts *runOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	if !isValidDriver(opts.driver) {
		return WrapExitError(ExitCommandError, "invalid flag",
			fmt.Errorf("invalid driver %q: must be one of %v", opts.driver, ValidDrivers))
	}

	bf, err := LoadBindingFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoad, err)
	}
	cfg, err := bf.Config(opts.driver)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoad, err)
	}
	stmt, err := buildStatement(formatter, bf, cfg)
	if err != nil {
		return err
	}

	sqldb, err := sql.Open(opts.driver, opts.dsn)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRun, err)
	}
	defer sqldb.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter.VerboseLog("running on %s", opts.driver)
	db := sqlparam.NewDBWithConfig(sqldb, cfg)
	q := db.Query(ctx, stmt)
	e, err := q.Expanded()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeExpand, err)
	}
	formatter.VerboseLog("%d placeholders", len(e.Placeholders()))
	result, err := runQuery(q, opts.exec)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRun, err)
	}
	return formatter.Success(result)
}

// runQuery runs q and collects its rows, or the number of affected rows
// when exec is set.
func runQuery(q *sqlparam.Query, exec bool) (*RunResult, error) {
	if exec {
		res, err := q.Exec()
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		return &RunResult{RowsAffected: &n}, nil
	}

	iter := q.Iter()
	result := &RunResult{}
	for iter.Next() {
		cols := iter.Columns()
		vals := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := iter.Get(dest...); err != nil {
			iter.Close()
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, vals)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	result.Columns = iter.Columns()
	return result, nil
}

func isValidDriver(driver string) bool {
	for _, d := range ValidDrivers {
		if d == driver {
			return true
		}
	}
	return false
}
