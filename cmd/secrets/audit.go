package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/daemon"
	"github.com/joelhooks/scoped-secrets/internal/output"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

var (
	auditTail int
	auditKey  string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View access log entries",
	Long: `Display access log entries for secret reads, writes, deletes and shares.
The daemon keeps the most recent 1000 entries in memory.

Use --key to see one secret's history (optionally narrowed with the scope
flags), or --tail to limit the number of entries shown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := daemon.AuditParams{Key: auditKey, Tail: auditTail}
		if auditKey != "" && (scopeWorld != "" || scopeUser != "") {
			sctx, err := contextFromFlags()
			if err != nil {
				return fail(err)
			}
			params.Context = &sctx
		}

		var result daemon.AuditResult
		if err := rpcCall(daemon.MethodAudit, params, &result); err != nil {
			return fail(fmt.Errorf("failed to fetch audit log: %w", err))
		}

		if len(result.Entries) == 0 {
			output.Print(output.Success("No audit entries found", nil))
			return nil
		}

		var data interface{} = map[string]interface{}{
			"entries":     result.Entries,
			"total_shown": len(result.Entries),
		}
		if output.IsHuman() {
			data = auditTable(result.Entries)
		}

		// Suggest filtering actions
		actions := []output.Action{
			output.ActionAuditTail(10),
			output.ActionAuditTail(100),
			output.ActionStatus(),
		}

		output.Print(output.Success("Audit log retrieved", data, actions...))
		return nil
	},
}

func auditTable(entries []types.AccessLogEntry) output.Table {
	table := output.Table{Headers: []string{"TIME", "ACTION", "KEY", "SCOPE", "BY", "OK", "ERROR"}}
	for _, e := range entries {
		table.Rows = append(table.Rows, []string{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			string(e.Action),
			e.SecretKey,
			e.Context.String(),
			e.AccessedBy,
			fmt.Sprintf("%v", e.Success),
			e.Error,
		})
	}
	return table
}

func init() {
	auditCmd.Flags().IntVar(&auditTail, "tail", 50, "Number of recent entries to show")
	auditCmd.Flags().StringVar(&auditKey, "key", "", "Only entries for this secret")
	addScopeFlags(auditCmd)
	rootCmd.AddCommand(auditCmd)
}
