package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/remit/am"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/pulse/schedule"
	"github.com/teranos/remit/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the remit database",
	Long: sym.DB + ` db — Manage the remit database

Examples:
  remit db migrate                # Apply pending migrations
  remit db cleanup --days 90      # Delete finished attempts older than 90 days`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old settlement attempt history",
	Long: `Delete finished settlement attempts older than the retention period.

Receipts are never deleted; they are the record of what moved.`,
	RunE: runDbCleanup,
}

var cleanupDaysFlag int

func init() {
	dbCleanupCmd.Flags().IntVar(&cleanupDaysFlag, "days", 90, "Retention period in days")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbCleanupCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("%s Database at %s is up to date\n", sym.DB, cfg.GetDatabasePath())
	return nil
}

func runDbCleanup(cmd *cobra.Command, args []string) error {
	if cleanupDaysFlag <= 0 {
		return errors.NewInvalidRequestError("--days must be positive")
	}
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := schedule.NewAttemptStore(database).CleanupOldAttempts(cmd.Context(), cleanupDaysFlag, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("%s Deleted %d attempt(s) older than %d days\n", sym.DB, n, cleanupDaysFlag)
	return nil
}
