// Package main provides the sqlguard CLI.
//
// The CLI supports:
//   - query: Run a statement through a sqlguard pool and print the rows
//   - doctor: Run health checks against the configured database
//   - config show: Print the effective configuration
//   - version: Print version information
//
// Configuration is read from sqlguard.yaml, SQLGUARD_* environment
// variables and .env files; see internal/cli.
//
// Usage:
//
//	sqlguard [flags] <command>
package main

func main() {
	Execute()
}
