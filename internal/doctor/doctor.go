// Package doctor provides health checks for a sqlguard connection pool.
//
// The doctor command validates that the database is reachable through the
// configured adapter and that connections, statement timeouts and nested
// transactions behave as sqlguard expects.
//
// Example usage:
//
//	d := doctor.New(pool)
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pthm/sqlguard"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

var (
	categoryStyle = lipgloss.NewStyle().Bold(true)
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C757D"))
	statusStyles  = map[Status]lipgloss.Style{
		StatusPass: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF88")),
		StatusWarn: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB800")),
		StatusFail: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444")).Bold(true),
	}
)

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Connection", "Transactions").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Check returns the result named name, if present.
func (r *Report) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	// Group checks by category
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", categoryStyle.Render(cat))
		for _, check := range categories[cat] {
			symbol := statusStyles[check.Status].Render(check.Status.Symbol())
			_, _ = fmt.Fprintf(w, "  %s %s\n", symbol, check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      %s\n", hintStyle.Render("Fix: "+check.FixHint))
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// SlowConnectThreshold is the acquire-and-ping latency above which the
// connectivity check warns.
const SlowConnectThreshold = 500 * time.Millisecond

// Doctor performs health checks on a sqlguard pool.
type Doctor struct {
	pool *sqlguard.Pool

	// now is replaced in tests.
	now func() time.Time
}

// New creates a new Doctor instance.
func New(pool *sqlguard.Pool) *Doctor {
	return &Doctor{pool: pool, now: time.Now}
}

// Run executes all health checks and returns a report. Checks that need a
// connection are skipped when the database is unreachable.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkConfig(report)
	if !d.checkConnectivity(ctx, report) {
		return report, nil
	}
	d.checkServerVersion(ctx, report)
	d.checkStatementTimeout(ctx, report)
	if err := d.checkSavepoints(ctx, report); err != nil {
		return nil, fmt.Errorf("checking savepoints: %w", err)
	}
	d.checkPoolStats(report)

	return report, nil
}

// checkConfig reviews the pool settings.
func (d *Doctor) checkConfig(report *Report) {
	cfg := d.pool.Config()

	if cfg.StatementTimeout <= 0 {
		report.AddCheck(CheckResult{
			Category: "Configuration",
			Name:     "statement_timeout",
			Status:   StatusWarn,
			Message:  "Statement timeout is disabled",
			FixHint:  "Set pool.statement_timeout_ms so runaway queries are cancelled",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Configuration",
			Name:     "statement_timeout",
			Status:   StatusPass,
			Message:  fmt.Sprintf("Statement timeout is %s", cfg.StatementTimeout),
		})
	}

	if cfg.ConnectionTimeout > 0 && cfg.StatementTimeout > 0 && cfg.ConnectionTimeout > cfg.StatementTimeout {
		report.AddCheck(CheckResult{
			Category: "Configuration",
			Name:     "connection_timeout",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("Connection timeout (%s) exceeds statement timeout (%s)", cfg.ConnectionTimeout, cfg.StatementTimeout),
			FixHint:  "Waiting longer for a connection than a statement may run usually hides pool exhaustion",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Configuration",
			Name:     "connection_timeout",
			Status:   StatusPass,
			Message:  fmt.Sprintf("Connection timeout is %s", cfg.ConnectionTimeout),
		})
	}

	report.AddCheck(CheckResult{
		Category: "Configuration",
		Name:     "retry_limit",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Transactions are retried up to %d times on serialization failure", cfg.TransactionRetryLimit),
	})
}

// checkConnectivity acquires a connection and runs a trivial statement.
func (d *Doctor) checkConnectivity(ctx context.Context, report *Report) bool {
	start := d.now()
	_, err := d.pool.OneFirst(ctx, sqlguard.MustSQL("SELECT 1"))
	elapsed := d.now().Sub(start)

	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Connection",
			Name:     "connect",
			Status:   StatusFail,
			Message:  "Cannot reach the database",
			Details:  fmt.Sprintf("%s: %v", sqlguard.KindOf(err), err),
			FixHint:  "Check database.url or the discrete database.* settings",
		})
		return false
	}

	check := CheckResult{
		Category: "Connection",
		Name:     "connect",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Connected in %s", elapsed.Round(time.Millisecond)),
	}
	if elapsed > SlowConnectThreshold {
		check.Status = StatusWarn
		check.FixHint = "Connection setup is slow; check network latency and pool.max_connections"
	}
	report.AddCheck(check)
	return true
}

// checkServerVersion reports the server version. Backends without
// version() only get a warning.
func (d *Doctor) checkServerVersion(ctx context.Context, report *Report) {
	v, err := sqlguard.OneFirstAs[string](ctx, d.pool, sqlguard.MustSQL("SELECT version()"))
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Connection",
			Name:     "server_version",
			Status:   StatusWarn,
			Message:  "Could not determine the server version",
			Details:  err.Error(),
		})
		return
	}

	short := v
	if fields := strings.Fields(v); len(fields) >= 2 {
		short = fields[0] + " " + fields[1]
	}
	report.AddCheck(CheckResult{
		Category: "Connection",
		Name:     "server_version",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Server is %s", short),
		Details:  v,
	})
}

// checkStatementTimeout runs a statement under a tight per-call timeout and
// expects it to be cancelled. Backends without pg_sleep are skipped.
func (d *Doctor) checkStatementTimeout(ctx context.Context, report *Report) {
	_, err := d.pool.Query(ctx, sqlguard.MustSQL("SELECT pg_sleep(1)"),
		sqlguard.StatementTimeout(50*time.Millisecond))

	switch {
	case sqlguard.IsStatementCancelledErr(err):
		report.AddCheck(CheckResult{
			Category: "Connection",
			Name:     "cancellation",
			Status:   StatusPass,
			Message:  "Long-running statements are cancelled",
		})
	case err == nil:
		report.AddCheck(CheckResult{
			Category: "Connection",
			Name:     "cancellation",
			Status:   StatusFail,
			Message:  "A statement outlived its timeout",
			FixHint:  "The driver ignores context cancellation; use the pgxpool or pgx driver",
		})
	default:
		report.AddCheck(CheckResult{
			Category: "Connection",
			Name:     "cancellation",
			Status:   StatusWarn,
			Message:  "Statement cancellation could not be tested",
			Details:  err.Error(),
		})
	}
}

// checkSavepoints opens a transaction with a nested savepoint and rolls
// both back.
func (d *Doctor) checkSavepoints(ctx context.Context, report *Report) error {
	var depth int
	err := d.pool.Transaction(ctx, func(ctx context.Context, tx *sqlguard.Transaction) error {
		err := tx.Transaction(ctx, func(ctx context.Context, inner *sqlguard.Transaction) error {
			depth = inner.Depth()
			if _, err := inner.Query(ctx, sqlguard.MustSQL("SELECT 1")); err != nil {
				return err
			}
			return sqlguard.ErrRollback
		})
		if err != nil {
			return err
		}
		return sqlguard.ErrRollback
	})

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Transactions",
			Name:     "savepoints",
			Status:   StatusFail,
			Message:  "Nested transactions failed",
			Details:  err.Error(),
			FixHint:  "The backend must support SAVEPOINT inside a transaction",
		})
		return nil
	}

	report.AddCheck(CheckResult{
		Category: "Transactions",
		Name:     "savepoints",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Nested transactions work (savepoint depth %d)", depth),
	})
	return nil
}

// checkPoolStats reports pool occupancy after the checks have run. Every
// connection should be back in the pool.
func (d *Doctor) checkPoolStats(report *Report) {
	s := d.pool.Stats()
	details := fmt.Sprintf("max=%d total=%d idle=%d in_use=%d scopes=%d",
		s.MaxConnections, s.Total, s.Idle, s.InUse, s.ActiveScopes)

	if s.InUse > 0 {
		report.AddCheck(CheckResult{
			Category: "Pool",
			Name:     "occupancy",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d connections are still in use", s.InUse),
			Details:  details,
			FixHint:  "Another process shares this pool, or a scope leaked a connection",
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: "Pool",
		Name:     "occupancy",
		Status:   StatusPass,
		Message:  "All connections returned to the pool",
		Details:  details,
	})
}
