package main

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/daemon"
	"github.com/joelhooks/scoped-secrets/internal/form"
	"github.com/joelhooks/scoped-secrets/internal/output"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

var (
	formTitle       string
	formDescription string
	formKind        string
	formOptional    []string
	formExpires     string
	formMaxSubmit   int
	formWait        bool
	formExtendBy    string
)

var formCmd = &cobra.Command{
	Use:   "form",
	Short: "Collect secrets from a human through a one-off web form",
}

var formCreateCmd = &cobra.Command{
	Use:   "create <key> [key...]",
	Short: "Open a form asking for one or more secrets",
	Long: `Open a short-lived web form that stores whatever a human submits directly
into the selected scope. The form is reachable through the configured tunnel
and closes after its submissions are used up or it expires.

Examples:
  secrets form create OPENAI_API_KEY --type api_key --title "Connect OpenAI"
  secrets form create DB_URL DB_PASSWORD --world w1 --as alice --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sctx, err := contextFromFlags()
		if err != nil {
			return fail(err)
		}

		secrets := make([]form.SecretRequest, 0, len(args))
		for _, key := range args {
			secrets = append(secrets, form.SecretRequest{
				Key:      key,
				Kind:     types.SecretKind(formKind),
				Required: !slices.Contains(formOptional, key),
			})
		}

		params := daemon.FormCreateParams{
			Title:          formTitle,
			Description:    formDescription,
			Secrets:        secrets,
			ExpiresIn:      formExpires,
			MaxSubmissions: formMaxSubmit,
			Context:        sctx,
		}
		var created form.Created
		if err := rpcCall(daemon.MethodFormCreate, params, &created); err != nil {
			return fail(fmt.Errorf("failed to create form: %w", err))
		}

		resp := output.Success(
			"Form open at "+created.URL,
			map[string]interface{}{
				"session_id": created.SessionID,
				"url":        created.URL,
				"expires_at": created.ExpiresAt.Format(time.RFC3339),
			},
			output.ActionsAfterFormCreate(created.SessionID)...,
		)
		resp.Raw = created.URL
		output.Print(resp)

		if formWait {
			return waitForForm(created.SessionID, args, sctx)
		}
		return nil
	},
}

// waitForForm polls until the session is no longer active, then reports
// which of the requested keys were stored.
func waitForForm(id string, keys []string, sctx types.SecretContext) error {
	for {
		var sess form.Session
		err := rpcCall(daemon.MethodFormGet, daemon.SessionParams{SessionID: id}, &sess)
		var rpcErr *types.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == types.RPCSessionNotFound {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("failed to poll form: %w", err))
		}
		if sess.Status != form.StatusActive {
			break
		}
		time.Sleep(time.Second)
	}

	var list daemon.ListResult
	if err := rpcCall(daemon.MethodList, daemon.ListParams{Context: sctx}, &list); err != nil {
		return fail(fmt.Errorf("failed to list secrets: %w", err))
	}
	var stored, missing []string
	for _, key := range keys {
		if _, ok := list.Secrets[key]; ok {
			stored = append(stored, key)
		} else {
			missing = append(missing, key)
		}
	}

	output.Print(output.Success(
		fmt.Sprintf("Form %s closed", id),
		map[string]interface{}{"stored": stored, "missing": missing},
		output.ActionsForSecrets(stored, sctx)...,
	))
	return nil
}

var formStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a form session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sess form.Session
		if err := rpcCall(daemon.MethodFormGet, daemon.SessionParams{SessionID: args[0]}, &sess); err != nil {
			return fail(fmt.Errorf("failed to get form: %w", err), output.ActionFormCreate(""))
		}

		data := map[string]interface{}{
			"status":      sess.Status,
			"url":         sess.URL,
			"scope":       sess.Context.String(),
			"submissions": len(sess.Submissions),
			"expires_at":  sess.ExpiresAt.Format(time.RFC3339),
		}
		var actions []output.Action
		if sess.Status == form.StatusActive {
			actions = []output.Action{output.ActionFormExtend(sess.ID), output.ActionFormClose(sess.ID)}
		}
		output.Print(output.Success(fmt.Sprintf("Form %s is %s", sess.ID, sess.Status), data, actions...))
		return nil
	},
}

var formListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open form sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var result daemon.FormListResult
		if err := rpcCall(daemon.MethodFormList, nil, &result); err != nil {
			return fail(fmt.Errorf("failed to list forms: %w", err))
		}
		if len(result.Sessions) == 0 {
			output.Print(output.Success("No open forms", nil, output.ActionFormCreate("")))
			return nil
		}

		var data interface{} = result.Sessions
		if output.IsHuman() {
			table := output.Table{Headers: []string{"ID", "STATUS", "SCOPE", "URL", "EXPIRES"}}
			for _, s := range result.Sessions {
				table.Rows = append(table.Rows, []string{
					s.ID, string(s.Status), s.Context.String(), s.URL, s.ExpiresAt.Format(time.RFC3339),
				})
			}
			data = table
		}
		output.Print(output.Success(fmt.Sprintf("%d open form(s)", len(result.Sessions)), data))
		return nil
	},
}

var formExtendCmd = &cobra.Command{
	Use:   "extend <session-id>",
	Short: "Keep a form open longer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sess form.Session
		params := daemon.FormExtendParams{SessionID: args[0], Extra: formExtendBy}
		if err := rpcCall(daemon.MethodFormExtend, params, &sess); err != nil {
			return fail(fmt.Errorf("failed to extend form: %w", err))
		}
		output.Print(output.Success(
			fmt.Sprintf("Form %s now expires at %s", sess.ID, sess.ExpiresAt.Format(time.RFC3339)),
			nil,
			output.ActionFormStatus(sess.ID),
		))
		return nil
	},
}

var formCloseCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Close a form and its tunnel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result daemon.FormCloseResult
		if err := rpcCall(daemon.MethodFormClose, daemon.SessionParams{SessionID: args[0]}, &result); err != nil {
			return fail(fmt.Errorf("failed to close form: %w", err))
		}
		output.Print(output.Success(result.Message, nil))
		return nil
	},
}

func init() {
	formCreateCmd.Flags().StringVar(&formTitle, "title", "", "Form title")
	formCreateCmd.Flags().StringVar(&formDescription, "description", "", "Text shown above the fields")
	formCreateCmd.Flags().StringVar(&formKind, "type", "", "Secret type for every field (default: secret)")
	formCreateCmd.Flags().StringSliceVar(&formOptional, "optional", nil, "Keys the human may leave empty")
	formCreateCmd.Flags().StringVar(&formExpires, "expires", "", "Form lifetime, e.g. 15m (default from config)")
	formCreateCmd.Flags().IntVar(&formMaxSubmit, "max-submissions", 1, "Accepted submissions before the form closes")
	formCreateCmd.Flags().BoolVar(&formWait, "wait", false, "Block until the form closes")
	addScopeFlags(formCreateCmd)

	formExtendCmd.Flags().StringVar(&formExtendBy, "by", "10m", "How much longer to keep the form open")

	formCmd.AddCommand(formCreateCmd, formStatusCmd, formListCmd, formExtendCmd, formCloseCmd)
	rootCmd.AddCommand(formCmd)
}
