package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/daemon"
	"github.com/joelhooks/scoped-secrets/internal/output"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Display the current status of the daemon, including uptime, secret count, open forms and tunnels.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var result types.DaemonStatus
		if err := rpcCall(daemon.MethodStatus, nil, &result); err != nil {
			return fail(fmt.Errorf("failed to get status: %w", err))
		}

		data := map[string]interface{}{
			"running":         formatBool(result.Running),
			"agent":           result.AgentID,
			"global_secrets":  result.GlobalSecrets,
			"active_sessions": result.ActiveSessions,
			"active_tunnels":  result.ActiveTunnels,
			"audit_entries":   result.AuditEntries,
			"encryption":      formatBool(result.Encryption),
		}
		if result.Running {
			data["started_at"] = result.StartedAt.Format(time.RFC3339)
			data["uptime"] = formatDuration(time.Since(result.StartedAt))
		}

		var actions []output.Action
		if !result.Encryption {
			actions = append(actions, output.Action{
				Name:        "configure_salt",
				Description: "Set encryption.salt in config.yaml or AGENT_SECRETS_ENCRYPTION_SALT to encrypt secrets",
				Command:     "export AGENT_SECRETS_ENCRYPTION_SALT=<salt> && secrets serve",
			})
		}
		actions = append(actions, output.ActionList(types.SecretContext{}), output.ActionAudit(""))

		if output.IsHuman() {
			output.Print(output.Success("Daemon status", data, actions...))
			return nil
		}
		output.Print(output.Success("Daemon status", result, actions...))
		return nil
	},
}

func formatBool(b bool) string {
	if b {
		return "✓ yes"
	}
	return "✗ no"
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else {
		return fmt.Sprintf("%dm", minutes)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
