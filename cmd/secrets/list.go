package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/daemon"
	"github.com/joelhooks/scoped-secrets/internal/output"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List secrets in a scope",
	Long:    `Display metadata for every secret in the selected scope. Values are never listed.`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sctx, err := contextFromFlags()
		if err != nil {
			return fail(err)
		}

		var result daemon.ListResult
		if err := rpcCall(daemon.MethodList, daemon.ListParams{Context: sctx}, &result); err != nil {
			return fail(fmt.Errorf("failed to list secrets: %w", err))
		}

		if len(result.Secrets) == 0 {
			output.Print(output.Success(
				fmt.Sprintf("No secrets found in %s", sctx),
				nil,
				output.ActionsWhenEmpty(sctx)...,
			))
			return nil
		}

		keys := make([]string, 0, len(result.Secrets))
		for key := range result.Secrets {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var data interface{} = map[string]interface{}{
			"count":   len(result.Secrets),
			"scope":   sctx.String(),
			"secrets": result.Secrets,
		}
		if output.IsHuman() {
			table := output.Table{Headers: []string{"KEY", "TYPE", "STATUS", "ENCRYPTED", "SHARED WITH", "UPDATED"}}
			for _, key := range keys {
				cfg := result.Secrets[key]
				table.Rows = append(table.Rows, []string{
					key,
					string(cfg.Kind),
					string(cfg.Status),
					fmt.Sprintf("%v", cfg.Encrypted),
					strings.Join(cfg.SharedWith, ","),
					cfg.UpdatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			data = table
		}

		output.Print(output.Success(
			fmt.Sprintf("Found %d secret(s) in %s", len(result.Secrets), sctx),
			data,
			output.ActionsForSecrets(keys, sctx)...,
		))
		return nil
	},
}

func init() {
	addScopeFlags(listCmd)
	rootCmd.AddCommand(listCmd)
}
