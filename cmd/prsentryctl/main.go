package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prsentryctl",
		Short: "Operator CLI for the pull request sentry daemon",
		Long:  "prsentryctl runs one-off administrative operations against the pull request sentry's database and job queue: schema migrations, manual re-summarization, and health checks.",
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(regenerateCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
