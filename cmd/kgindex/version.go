package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kgindex/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if OutputFormat(formatFlag) == FormatJSON {
			return printResponse(cmd, map[string]string{
				"version":   version.Version,
				"commit":    version.Commit,
				"buildDate": version.BuildDate,
			})
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
