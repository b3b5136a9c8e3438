package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unclebandit/mailflow-backend/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log := loadConfig()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(conn.DB); err != nil {
		return err
	}
	log.Info("schema is up to date")
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
