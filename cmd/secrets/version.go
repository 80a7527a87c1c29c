package main

import (
	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/output"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		output.Print(output.Success("secrets "+output.Version, map[string]interface{}{
			"version": output.Version,
			"commit":  output.Commit,
		}))
	},
}
