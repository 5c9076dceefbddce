package main

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/warp/library-ledger/ledger"
)

var remindDate string

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Run one reminder scan and print its report",
	Long: `remind scans every open issuance once and sends the reminders owed on
the given date (default: today in REMINDER_TIMEZONE). It ignores
REMINDER_ENABLED so it can be driven by cron instead of the scheduler.`,
	Example: "  server remind --date=2025-03-11",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		asOf := a.engine.Today()
		if remindDate != "" {
			if asOf, err = ledger.ParseDate(remindDate); err != nil {
				return err
			}
		}

		report := a.scheduler.RunNow(cmd.Context(), asOf)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if report.Error != "" {
			return errors.New(report.Error)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Ping(cmd.Context()); err != nil {
			return err
		}
		a.logger.Info("schema up to date", slog.String("db", cfg.DatabasePath))
		return nil
	},
}

func init() {
	remindCmd.Flags().StringVar(&remindDate, "date", "", "scan as of this date (YYYY-MM-DD)")
}
