/*
main.go - Application entry point

PURPOSE:
  Initializes the library ledger and runs one of its commands. Handles
  configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve     HTTP API plus the daily reminder scheduler
  remind    One reminder scan, then exit (for cron)
  migrate   Create or upgrade the SQLite schema, then exit

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logger
  3. Open the SQLite store (migrates on open)
  4. Create the ledger engine and the reminder pipeline
  5. Run the command

GLOBAL FLAGS:
  --env    .env file to read (default: .env, missing is fine)
  --db     SQLite database path, overrides DATABASE_PATH
           Use ":memory:" for in-memory database

EXAMPLES:
  ./server serve --port=3000
  ./server remind --date=2025-03-11
  ./server migrate --db=./data/library.db

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - notify/scheduler.go: Reminder scheduler
*/
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/library-ledger/config"
	"github.com/warp/library-ledger/ledger"
	"github.com/warp/library-ledger/notify"
	"github.com/warp/library-ledger/store/sqlite"
)

var (
	envFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Library ledger - book inventory and lending service",
	Long: `server runs the library ledger: the record of every arrival, issuance,
return, loss, write-off and inventory count, with book counters derived from
it and reminders sent to readers who hold books.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", ".env file to read")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DATABASE_PATH)")

	rootCmd.AddCommand(serveCmd, remindCmd, migrateCmd)
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// app is everything a command needs, built from configuration.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *sqlite.Store
	engine    *ledger.Engine
	scheduler *notify.ReminderScheduler
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("db") {
		cfg.DatabasePath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	engine, err := ledger.NewEngine(store,
		ledger.WithLogger(logger),
		ledger.WithLocation(cfg.Location()),
		ledger.WithStoreTimeout(cfg.StoreTimeout))
	if err != nil {
		store.Close()
		return nil, err
	}

	var senders []notify.Sender
	if cfg.EmailEnabled() {
		senders = append(senders, notify.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom))
	}
	if cfg.TelegramEnabled() {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramURL, cfg.TelegramBotToken))
	}
	if len(senders) == 0 {
		logger.Warn("no reminder channel configured, reminders will only be logged")
	}

	scheduler := notify.NewReminderScheduler(engine, notify.NewDispatcher(cfg.NotifyRate, logger, senders...), logger)
	scheduler.Interval = cfg.ReminderInterval
	scheduler.Enabled = cfg.ReminderEnabled

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		engine:    engine,
		scheduler: scheduler,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close database", slog.String("error", err.Error()))
	}
}
