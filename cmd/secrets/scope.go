package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

var (
	scopeWorld string
	scopeUser  string
	scopeAs    string
)

// addScopeFlags registers the flags selecting a secret's scope.
func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&scopeWorld, "world", "", "Use the world scope with this world id")
	cmd.Flags().StringVar(&scopeUser, "user", "", "Use the user scope with this user id")
	cmd.Flags().StringVar(&scopeAs, "as", "", "Requester identity (default: the agent, or the --user id)")
}

// contextFromFlags builds the request context. The daemon fills in its own
// agent id.
func contextFromFlags() (types.SecretContext, error) {
	if scopeWorld != "" && scopeUser != "" {
		return types.SecretContext{}, errors.New("--world and --user are mutually exclusive")
	}

	sctx := types.SecretContext{Scope: types.ScopeGlobal, RequesterID: scopeAs}
	switch {
	case scopeWorld != "":
		sctx.Scope = types.ScopeWorld
		sctx.WorldID = scopeWorld
	case scopeUser != "":
		sctx.Scope = types.ScopeUser
		sctx.UserID = scopeUser
		if sctx.RequesterID == "" {
			sctx.RequesterID = scopeUser
		}
	}
	return sctx, nil
}
