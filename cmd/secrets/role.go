package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/daemon"
	"github.com/joelhooks/scoped-secrets/internal/output"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

var roleCmd = &cobra.Command{
	Use:   "role <world> <entity> <role>",
	Short: "Set an entity's role in a world",
	Long: `Record an entity's membership in a world. Members may read world secrets;
admins and owners may also write, delete and share them. Role NONE removes
the membership.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		world, entity := args[0], args[1]
		role := types.Role(strings.ToUpper(args[2]))

		params := daemon.SetRoleParams{WorldID: world, EntityID: entity, Role: role}
		if err := rpcCall(daemon.MethodSetRole, params, nil); err != nil {
			return fail(fmt.Errorf("failed to set role: %w", err))
		}

		sctx := types.SecretContext{Scope: types.ScopeWorld, WorldID: world}
		output.Print(output.Success(
			fmt.Sprintf("%s is now %s in world %s", entity, role, world),
			nil,
			output.ActionList(sctx),
		))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roleCmd)
}
