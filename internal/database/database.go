// Package database owns the Postgres pool used for match history.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Service represents a service that interacts with a database.
type Service interface {
	Pool() *pgxpool.Pool
	// Health returns a map of health status information.
	Health(ctx context.Context) map[string]string
	Close()
}

type service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(ctx context.Context, databaseURL string, logger *slog.Logger) (Service, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("connected to database", "host", config.ConnConfig.Host, "database", config.ConnConfig.Database)
	return &service{pool: pool, logger: logger}, nil
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stat := s.pool.Stat()
	stats["total_connections"] = strconv.Itoa(int(stat.TotalConns()))
	stats["idle_connections"] = strconv.Itoa(int(stat.IdleConns()))
	stats["acquired_connections"] = strconv.Itoa(int(stat.AcquiredConns()))
	if stat.AcquiredConns() == stat.MaxConns() {
		stats["message"] = "pool exhausted"
	}
	return stats
}

func (s *service) Close() {
	s.pool.Close()
	s.logger.Info("disconnected from database")
}
