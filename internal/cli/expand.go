// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canonical/sqlparam"
)

// ExpandResult is the output of the expand command.
type ExpandResult struct {
	SQL          string   `json:"sql"`
	Placeholders []string `json:"placeholders"`
	Params       []any    `json:"params"`
}

// String prints the SQL followed by one comment line per parameter.
func (r *ExpandResult) String() string {
	var sb strings.Builder
	sb.WriteString(r.SQL)
	sb.WriteString("\n")
	for i, p := range r.Params {
		fmt.Fprintf(&sb, "-- %d: %s\n", i+1, formatParam(p))
	}
	return sb.String()
}

func formatParam(p any) string {
	switch p := p.(type) {
	case string:
		return fmt.Sprintf("%q", p)
	case []byte:
		return fmt.Sprintf("%q", string(p))
	case nil:
		return "NULL"
	}
	return fmt.Sprintf("%v", p)
}

// NewExpandCommand creates the expand command.
func NewExpandCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand <binding-file>",
		Short: "Print the SQL and arguments of a bound query",
		Long: `Parse the query of a binding file, bind its values and print the
expanded SQL with the query arguments in placeholder order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpand(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runExpand(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	bf, err := LoadBindingFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoad, err)
	}
	cfg, err := bf.Config("")
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoad, err)
	}
	e, err := expandBindingFile(formatter, bf, cfg)
	if err != nil {
		return err
	}
	return formatter.Success(&ExpandResult{
		SQL:          e.SQL(),
		Placeholders: e.Placeholders(),
		Params:       e.Params(),
	})
}

// expandBindingFile builds the statement of bf and expands it with cfg.
// Failures are reported through formatter.
func expandBindingFile(formatter *OutputFormatter, bf *BindingFile, cfg sqlparam.Config) (*sqlparam.Expanded, error) {
	stmt, err := buildStatement(formatter, bf, cfg)
	if err != nil {
		return nil, err
	}
	e, err := stmt.Expand(cfg)
	if err != nil {
		return nil, formatter.Fail(ExitFailure, ErrCodeExpand, err)
	}
	formatter.VerboseLog("%d placeholders", len(e.Placeholders()))
	return e, nil
}

// buildStatement parses the query of bf and binds its values.
func buildStatement(formatter *OutputFormatter, bf *BindingFile, cfg sqlparam.Config) (*sqlparam.Statement, error) {
	formatter.VerboseLog("dialect %s", cfg.Dialect)
	stmt, err := bf.Statement()
	if err != nil {
		var bindErr *BindError
		if errors.As(err, &bindErr) {
			return nil, formatter.Fail(ExitFailure, ErrCodeBind, bindErr.Err)
		}
		return nil, formatter.Fail(ExitFailure, ErrCodeParse, err)
	}
	for _, p := range stmt.Parameters() {
		formatter.VerboseLog("parameter %s %s", p, p.Tag())
	}
	return stmt, nil
}
