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

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"othello-server/internal/server"
)

const releaseVersion = "0.1.0"

func gracefulShutdown(logger *slog.Logger, customServer *server.Server, httpServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	logger.Info("shutdown signal received, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close clients and flush history before the listener goes away.
	if err := customServer.Shutdown(ctx); err != nil {
		logger.Error("error during custom shutdown", "error", err)
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server forced to shutdown", "error", err)
	}

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func run(ctx context.Context, cfg server.Config, logger *slog.Logger) error {
	customServer, httpServer, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(logger, customServer, httpServer, done)

	logger.Info("listening", "addr", httpServer.Addr, "version", releaseVersion)
	err = httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	// Wait for the graceful shutdown to complete
	<-done
	logger.Info("graceful shutdown complete")
	return nil
}

func main() {
	opts := &options{}
	cobra.CheckErr(newCmd(opts).Execute())
}
