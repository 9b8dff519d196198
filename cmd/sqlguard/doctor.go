package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/sqlguard"
	"github.com/pthm/sqlguard/internal/cli"
	"github.com/pthm/sqlguard/internal/doctor"
)

var (
	doctorDB      string
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Run health checks on the configured database and pool settings.`,
	Example: `  # Run health checks
  sqlguard doctor --db postgres://localhost/mydb

  # Run with verbose output
  sqlguard doctor --db postgres://localhost/mydb --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verboseFlag := resolveBool(doctorVerbose, cfg.Doctor.Verbose)
		return runDoctor(cmd.Context(), doctorDB, verboseFlag)
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.BoolVar(&doctorVerbose, "verbose", false, "show detailed output")
}

func runDoctor(ctx context.Context, dsn string, verboseFlag bool) error {
	pool, err := cli.OpenPool(ctx, cfg, dsn, sqlguard.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close(context.Background()) }()

	if !quiet {
		fmt.Println("sqlguard doctor - Health Check")
	}

	report, err := doctor.New(pool).Run(ctx)
	if err != nil {
		return cli.GeneralError("running doctor", err)
	}

	if !quiet {
		report.Print(os.Stdout, verboseFlag)
	}

	if report.HasErrors() {
		return cli.UnhealthyError(fmt.Sprintf("%d health checks failed", report.Errors))
	}

	return nil
}
