package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/sqlguard/internal/cli"
	"github.com/pthm/sqlguard/internal/update"
	"github.com/pthm/sqlguard/internal/version"
)

var (
	versionShort bool
	versionCheck bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionShort {
			fmt.Println(version.Short())
		} else {
			fmt.Println(version.Info())
		}
		if !versionCheck {
			return nil
		}

		checker, err := update.NewChecker()
		if err != nil {
			return cli.GeneralError("checking for updates", err)
		}
		info, err := checker.CheckWithCache(cmd.Context())
		if err != nil {
			return cli.GeneralError("checking for updates", err)
		}
		if info.UpdateAvailable {
			fmt.Printf("A newer release is available: %s\n", info.LatestVersion)
			if info.ReleaseURL != "" {
				fmt.Println(info.ReleaseURL)
			}
		} else if !quiet {
			fmt.Println("You are running the latest release.")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
}
