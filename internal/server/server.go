package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"othello-server/internal/database"
	"othello-server/internal/lobby"
)

const rateLimitCleanupInterval = time.Minute

type Server struct {
	cfg               Config
	logger            *slog.Logger
	hub               *lobby.Hub
	connectionManager *ConnectionManager
	rateLimiter       *RateLimiter

	// Optional backends; nil when not configured.
	db       database.Service
	history  *HistoryStore
	recorder *HistoryRecorder
	events   *EventPublisher

	closing  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	tasks    sync.WaitGroup
}

// NewServer connects the configured backends, builds the hub and returns the
// HTTP server that exposes it. hubOpts are applied after the options derived
// from cfg.
func NewServer(ctx context.Context, cfg Config, logger *slog.Logger, hubOpts ...lobby.Option) (*Server, *http.Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:               cfg,
		logger:            logger,
		connectionManager: NewConnectionManager(),
		rateLimiter:       NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		stop:              make(chan struct{}),
	}

	var recorders lobby.Recorders
	if cfg.DatabaseURL != "" {
		if err := s.openHistory(ctx); err != nil {
			s.closeBackends(ctx)
			return nil, nil, err
		}
		recorders = append(recorders, s.recorder)
	}
	if cfg.NATSURL != "" {
		events, err := ConnectEvents(cfg.NATSURL, cfg.NATSSubject, logger.With("component", "events"))
		if err != nil {
			s.closeBackends(ctx)
			return nil, nil, err
		}
		s.events = events
		recorders = append(recorders, events)
	}

	opts := []lobby.Option{
		lobby.WithLogger(logger.With("component", "hub")),
		lobby.WithPairingDelay(cfg.PairingDelay),
	}
	if len(recorders) > 0 {
		opts = append(opts, lobby.WithRecorder(recorders))
	}
	s.hub = lobby.NewHub(append(opts, hubOpts...)...)

	s.tasks.Add(1)
	go s.cleanupTask()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, httpServer, nil
}

func (s *Server) openHistory(ctx context.Context) error {
	if err := database.Migrate(s.cfg.DatabaseURL, s.logger.With("component", "migrate")); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.New(ctx, s.cfg.DatabaseURL, s.logger.With("component", "database"))
	if err != nil {
		return err
	}
	s.db = db
	s.history = NewHistoryStore(db.Pool())

	// Nothing survives a restart, so rows left open by the last process are over.
	closed, err := s.history.CloseUnfinished(ctx, EndServerRestart, time.Now())
	if err != nil {
		return err
	}
	if closed > 0 {
		s.logger.Info("closed unfinished matches from previous run", "count", closed)
	}

	s.recorder = NewHistoryRecorder(s.history, s.cfg.HistoryBuffer, s.logger.With("component", "history"))
	return nil
}

// cleanupTask periodically forgets rate limit windows of idle connections.
func (s *Server) cleanupTask() {
	defer s.tasks.Done()

	ticker := time.NewTicker(rateLimitCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.rateLimiter.Cleanup(); removed > 0 {
				s.logger.Debug("rate limiter cleanup", "removed", removed)
			}
		case <-s.stop:
			return
		}
	}
}

// Shutdown refuses new websockets, closes every client, waits for their
// handlers to unwind through the hub, then flushes and closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.stopOnce.Do(func() { close(s.stop) })

	s.hub.Close()
	s.logger.Info("closing clients", "count", s.connectionManager.Count())
	s.connectionManager.CloseAll("server shutting down")

	var errs []error
	if err := s.connectionManager.WaitEmpty(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for clients: %w", err))
	}
	s.tasks.Wait()

	if err := s.closeBackends(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) closeBackends(ctx context.Context) error {
	var errs []error
	if s.recorder != nil {
		if err := s.recorder.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	return errors.Join(errs...)
}
