package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/daemon"
	"github.com/joelhooks/scoped-secrets/internal/output"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

var (
	grantPerms  []string
	grantTTL    string
	revokePerms []string
	checkPerm   string
)

var grantCmd = &cobra.Command{
	Use:   "grant <key> <entity>",
	Short: "Share a secret with another entity",
	Long: `Grant an entity permissions on a secret. Repeated grants merge their
permissions. Use --ttl for a grant that expires on its own.

Examples:
  secrets grant OPENAI_KEY bot-7 --perm read --ttl 1h
  secrets grant DB_URL alice --perm read --perm write --world w1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, entity := args[0], args[1]
		sctx, err := contextFromFlags()
		if err != nil {
			return fail(err)
		}
		perms, err := parseActions(grantPerms)
		if err != nil {
			return fail(err)
		}

		params := daemon.GrantParams{
			Key:         key,
			Context:     sctx,
			EntityID:    entity,
			Permissions: perms,
			TTL:         grantTTL,
		}
		var result daemon.GrantResult
		if err := rpcCall(daemon.MethodGrant, params, &result); err != nil {
			return fail(fmt.Errorf("failed to grant access: %w", err))
		}
		if !result.Success {
			return fail(errors.New(result.Message), output.ActionsWhenDenied(sctx)...)
		}

		output.Print(output.Success(result.Message,
			map[string]interface{}{
				"key":         key,
				"entity":      entity,
				"permissions": perms,
				"ttl":         grantTTL,
			},
			output.ActionRevoke(key, entity, sctx),
			output.ActionAudit(key),
		))
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <key> <entity>",
	Short: "Withdraw an entity's access to a secret",
	Long:  `Remove the listed permissions from an entity's grant, or the whole grant when no --perm is given.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, entity := args[0], args[1]
		sctx, err := contextFromFlags()
		if err != nil {
			return fail(err)
		}
		perms, err := parseActions(revokePerms)
		if err != nil {
			return fail(err)
		}

		params := daemon.RevokeParams{Key: key, Context: sctx, EntityID: entity, Permissions: perms}
		var result daemon.GrantResult
		if err := rpcCall(daemon.MethodRevoke, params, &result); err != nil {
			return fail(fmt.Errorf("failed to revoke access: %w", err))
		}
		if !result.Success {
			return fail(errors.New(result.Message), output.ActionList(sctx))
		}

		output.Print(output.Success(result.Message, nil, output.ActionAudit(key)))
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <key> <entity>",
	Short: "Check whether an entity holds a grant on a secret",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, entity := args[0], args[1]
		sctx, err := contextFromFlags()
		if err != nil {
			return fail(err)
		}
		perms, err := parseActions([]string{checkPerm})
		if err != nil {
			return fail(err)
		}

		params := daemon.CheckParams{Key: key, Context: sctx, EntityID: entity, Permission: perms[0]}
		var result daemon.CheckResult
		if err := rpcCall(daemon.MethodCheck, params, &result); err != nil {
			return fail(fmt.Errorf("failed to check access: %w", err))
		}

		msg := fmt.Sprintf("%s may %s %s", entity, perms[0], key)
		if !result.Allowed {
			msg = fmt.Sprintf("%s may not %s %s", entity, perms[0], key)
		}
		resp := output.Success(msg, map[string]interface{}{"allowed": result.Allowed})
		resp.Raw = fmt.Sprintf("%v", result.Allowed)
		output.Print(resp)
		return nil
	},
}

// parseActions converts permission flag values into actions.
func parseActions(values []string) ([]types.Action, error) {
	actions := make([]types.Action, 0, len(values))
	for _, v := range values {
		a := types.Action(v)
		switch a {
		case types.ActionRead, types.ActionWrite, types.ActionDelete, types.ActionShare:
			actions = append(actions, a)
		default:
			return nil, fmt.Errorf("unknown permission %q (must be read, write, delete or share)", v)
		}
	}
	return actions, nil
}

func init() {
	grantCmd.Flags().StringSliceVar(&grantPerms, "perm", []string{"read"}, "Permission to grant (repeatable)")
	grantCmd.Flags().StringVar(&grantTTL, "ttl", "", "Grant lifetime, e.g. 1h (default: no expiry)")
	addScopeFlags(grantCmd)

	revokeCmd.Flags().StringSliceVar(&revokePerms, "perm", nil, "Permission to withdraw (repeatable, default: all)")
	addScopeFlags(revokeCmd)

	checkCmd.Flags().StringVar(&checkPerm, "perm", "read", "Permission to check")
	addScopeFlags(checkCmd)

	rootCmd.AddCommand(grantCmd, revokeCmd, checkCmd)
}
