package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/config"
	"github.com/joelhooks/scoped-secrets/internal/output"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

var (
	socketPath string
	configPath string
	outputMode string
)

var rootCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Scoped secret storage for AI agents",
	Long: `scoped-secrets keeps an agent's credentials in three scopes: global to the
agent, shared within a world, or private to a user. Values are encrypted at
rest, every access is audited, and humans can hand secrets over through
short-lived web forms.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateMode(outputMode); err != nil {
			return err
		}
		output.Mode = output.OutputMode(outputMode)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "", "Output mode: json, table or raw (default: table on a terminal, json otherwise)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Override Unix socket path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Override config file path")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads --config when given, the default locations otherwise.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	return cfg, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !reported(err) {
			output.Print(output.Error(err))
		}
		os.Exit(types.ExitCodeFromError(err))
	}
}
