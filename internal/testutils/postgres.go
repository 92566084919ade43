// Package testutils starts throwaway infrastructure for integration tests.
package testutils

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"othello-server/internal/database"
)

// QuietLogger discards everything below error.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// StartPostgres runs a migrated Postgres container for the lifetime of t and
// returns its connection string. Skipped under -short.
func StartPostgres(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Postgres container in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("othello"),
		tcpostgres.WithUsername("othello"),
		tcpostgres.WithPassword("othello"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	if err := database.Migrate(dsn, QuietLogger()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return dsn
}

// NewDatabase starts Postgres and connects a database.Service to it.
func NewDatabase(t testing.TB) database.Service {
	t.Helper()
	dsn := StartPostgres(t)

	db, err := database.New(context.Background(), dsn, QuietLogger())
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}
