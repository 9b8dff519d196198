package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pthm/sqlguard"
	"github.com/pthm/sqlguard/internal/cli"
)

var (
	queryDB       string
	queryFile     string
	queryFormat   string
	queryArgs     []string
	queryTimeout  time.Duration
	queryReadOnly bool
	queryConfirm  bool
)

var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Run a SQL statement",
	Long: `Run a SQL statement in a transaction and print the result.

With --arg, the statement is a template: each %v is bound to the next
argument as a parameter. Without arguments the text is sent as is.`,
	Example: `  # Print rows as YAML
  sqlguard query "SELECT id, name FROM users LIMIT 5"

  # Bind parameters and print a table
  sqlguard query "SELECT * FROM users WHERE id = %v" --arg 42 -o table

  # Run a script from a file in a read-only transaction
  sqlguard query -f report.sql --read-only`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readStatement(args)
		if err != nil {
			return err
		}

		q, err := buildStatement(text, queryArgs)
		if err != nil {
			return cli.QueryError("building statement", err)
		}

		if queryConfirm && !queryReadOnly {
			ok, err := confirm(text)
			if err != nil {
				return cli.GeneralError("prompt", err)
			}
			if !ok {
				return nil
			}
		}

		return runQuery(cmd.Context(), q)
	},
}

func init() {
	f := queryCmd.Flags()
	f.StringVar(&queryDB, "db", "", "database URL")
	f.StringVarP(&queryFile, "file", "f", "", "read the statement from a file")
	f.StringVarP(&queryFormat, "output", "o", cli.FormatYAML, "output format: yaml, json or table")
	f.StringArrayVar(&queryArgs, "arg", nil, "bind a parameter (repeatable)")
	f.DurationVar(&queryTimeout, "timeout", 0, "statement timeout (default: pool.statement_timeout_ms)")
	f.BoolVar(&queryReadOnly, "read-only", false, "run in a read-only transaction")
	f.BoolVar(&queryConfirm, "confirm", false, "ask before running a writable statement")
}

func readStatement(args []string) (string, error) {
	if queryFile != "" {
		if len(args) > 0 {
			return "", cli.ConfigError("pass either a statement or --file, not both", nil)
		}
		b, err := afero.ReadFile(cli.AppFs, queryFile)
		if err != nil {
			return "", cli.GeneralError("reading statement", err)
		}
		return string(b), nil
	}
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", cli.ConfigError("a statement is required", nil)
	}
	return args[0], nil
}

// buildStatement treats text as a template only when arguments are given,
// so literal percent signs in plain statements need no escaping.
func buildStatement(text string, args []string) (sqlguard.Query, error) {
	if len(args) == 0 {
		return sqlguard.Build([]string{text})
	}
	values := make([]any, len(args))
	for i, a := range args {
		values[i] = a
	}
	return sqlguard.SQL(text, values...)
}

func confirm(text string) (bool, error) {
	ok := false
	err := huh.NewConfirm().
		Title("Run this statement?").
		Description(text).
		Affirmative("Run").
		Negative("Cancel").
		Value(&ok).
		Run()
	return ok, err
}

func runQuery(ctx context.Context, q sqlguard.Query) error {
	pool, err := cli.OpenPool(ctx, cfg, queryDB,
		sqlguard.WithLogger(logger),
		sqlguard.WithInterceptors(sqlguard.LogInterceptor(logger)),
	)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close(context.Background()) }()

	var opts []sqlguard.QueryOption
	if queryTimeout > 0 {
		opts = append(opts, sqlguard.StatementTimeout(queryTimeout))
	}
	var txOpts []sqlguard.TransactionOption
	if queryReadOnly {
		txOpts = append(txOpts, sqlguard.ReadOnly())
	}

	var res *sqlguard.Result
	err = pool.Transaction(ctx, func(ctx context.Context, tx *sqlguard.Transaction) error {
		var err error
		res, err = tx.Query(ctx, q, opts...)
		return err
	}, txOpts...)
	if err != nil {
		return cli.QueryError(fmt.Sprintf("query failed (%s)", sqlguard.KindOf(err)), err)
	}

	if quiet {
		return nil
	}
	return cli.WriteResult(os.Stdout, queryFormat, res)
}
