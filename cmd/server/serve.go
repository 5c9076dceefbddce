package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/library-ledger/api"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reminder scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&port, "port", 8080, "HTTP server port (overrides HTTP_PORT)")
}

// runServe blocks until SIGINT/SIGTERM, then stops accepting connections,
// waits up to 30s for active requests and stops the scheduler.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTPPort = port
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	handler := api.NewHandler(a.engine, a.scheduler, a.logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start()
	defer a.scheduler.Stop()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			slog.Int("port", cfg.HTTPPort),
			slog.String("db", cfg.DatabasePath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
