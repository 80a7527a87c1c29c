package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joelhooks/scoped-secrets/internal/daemon"
	"github.com/joelhooks/scoped-secrets/internal/output"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

var (
	getExport bool

	setValue       string
	setKind        string
	setDescription string
	setEncrypt     bool
	setRequired    bool
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a secret",
	Long: `Read a secret's value from the selected scope. Global secrets are readable by
anyone; world secrets need a world role; user secrets only by that user.

Use --output raw to print the bare value, or --export for a shell export line.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		sctx, err := contextFromFlags()
		if err != nil {
			return fail(err)
		}

		var result daemon.GetResult
		if err := rpcCall(daemon.MethodGet, daemon.GetParams{Key: key, Context: sctx}, &result); err != nil {
			return fail(fmt.Errorf("failed to read secret: %w", err))
		}
		if !result.Found {
			return fail(fmt.Errorf("secret %q not found in %s scope or access denied", key, sctx.Scope),
				output.ActionsWhenDenied(sctx)...)
		}

		resp := output.Success(
			fmt.Sprintf("Secret '%s' read", key),
			map[string]interface{}{
				"key":   key,
				"value": result.Value,
				"scope": sctx.String(),
			},
		)
		resp.Raw = result.Value
		if getExport {
			resp.Raw = output.BuildEnvExport(key, result.Value)
			resp.Data = resp.Raw
		}
		output.Print(resp)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store a secret",
	Long: `Store a secret in the selected scope. The value can be provided via:
  - The --value flag
  - Piped from stdin (e.g., echo "secret" | secrets set KEY)
  - Interactive prompt (secure, no echo)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		sctx, err := contextFromFlags()
		if err != nil {
			return fail(err)
		}

		value, err := readValue(key, setValue)
		if err != nil {
			return fail(err)
		}

		patch := &types.ConfigPatch{
			Kind:        types.SecretKind(setKind),
			Description: setDescription,
		}
		if cmd.Flags().Changed("encrypt") {
			patch.Encrypted = &setEncrypt
		}
		if cmd.Flags().Changed("required") {
			patch.Required = &setRequired
		}

		var result daemon.SetResult
		params := daemon.SetParams{Key: key, Value: value, Context: sctx, Config: patch}
		if err := rpcCall(daemon.MethodSet, params, &result); err != nil {
			return fail(fmt.Errorf("failed to store secret: %w", err))
		}
		if !result.Success {
			return fail(errors.New(result.Message), output.ActionsWhenDenied(sctx)...)
		}

		output.Print(output.Success(
			result.Message,
			map[string]interface{}{
				"key":   key,
				"scope": sctx.String(),
			},
			output.ActionsAfterSet(key, sctx)...,
		))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Aliases: []string{"rm"},
	Short:   "Delete a secret",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		sctx, err := contextFromFlags()
		if err != nil {
			return fail(err)
		}

		var result daemon.DeleteResult
		if err := rpcCall(daemon.MethodDelete, daemon.DeleteParams{Key: key, Context: sctx}, &result); err != nil {
			return fail(fmt.Errorf("failed to delete secret: %w", err))
		}
		if !result.Success {
			return fail(errors.New(result.Message), output.ActionList(sctx))
		}

		output.Print(output.Success(result.Message, nil, output.ActionList(sctx), output.ActionAudit(key)))
		return nil
	},
}

// readValue returns flagValue, else a line piped on stdin, else a hidden
// interactive prompt.
func readValue(key, flagValue string) (string, error) {
	value := flagValue
	if value == "" {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			// Data is being piped in
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			var lines []string
			for scanner.Scan() {
				lines = append(lines, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("failed to read from stdin: %w", err)
			}
			value = strings.Join(lines, "\n")
		} else {
			// Interactive prompt
			fmt.Fprintf(os.Stderr, "Enter secret value for '%s': ", key)
			byteValue, err := term.ReadPassword(int(os.Stdin.Fd()))
			if err != nil {
				return "", fmt.Errorf("failed to read password: %w", err)
			}
			fmt.Fprintln(os.Stderr) // Add newline after hidden input
			value = string(byteValue)
		}
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("secret value cannot be empty")
	}
	return value, nil
}

func init() {
	getCmd.Flags().BoolVar(&getExport, "export", false, "Print a shell export line")
	addScopeFlags(getCmd)

	setCmd.Flags().StringVar(&setValue, "value", "", "Secret value (if not provided, will prompt or read from stdin)")
	setCmd.Flags().StringVar(&setKind, "type", "", "Secret type: api_key, private_key, public_key, url, credential, config or secret")
	setCmd.Flags().StringVar(&setDescription, "description", "", "Human-readable description")
	setCmd.Flags().BoolVar(&setEncrypt, "encrypt", false, "Encrypt the value with the daemon cipher (default: on for world and user scopes)")
	setCmd.Flags().BoolVar(&setRequired, "required", false, "Mark the secret as required")
	addScopeFlags(setCmd)

	addScopeFlags(deleteCmd)

	rootCmd.AddCommand(getCmd, setCmd, deleteCmd)
}
