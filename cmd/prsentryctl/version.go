package main

import (
	"fmt"

	"github.com/prsentry/prsentry/internal/version"
	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show prsentryctl version",
		Run: func(cmd *cobra.Command, args []string) {
			if verbose {
				fmt.Printf("prsentryctl %s\n", version.Full())
				return
			}
			fmt.Printf("prsentryctl %s\n", version.Version)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include the build commit timestamp")
	return cmd
}
