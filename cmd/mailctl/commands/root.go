package commands

import (
	"github.com/spf13/cobra"
)

var (
	// logLevel overrides LOG_LEVEL for one invocation.
	logLevel string

	// outputFormat controls output format (text, json).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "mailctl",
	Short: "Operator tool for the mailflow backend",
	Long: `mailctl runs campaigns and mailbox syncs by hand, applies database
migrations and manages the key used to encrypt mailbox secrets.

Configuration is read from .env and the environment, as for the server.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"Log level (default: $LOG_LEVEL)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runDueCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(keyringCmd)
}
