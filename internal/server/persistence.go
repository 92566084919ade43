package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"othello-server/internal/lobby"
)

// EndServerRestart closes history rows a previous process never finished.
const EndServerRestart lobby.EndReason = "server_restart"

const historyWriteTimeout = 5 * time.Second

// MatchSummary is one row of match history.
type MatchSummary struct {
	ID        uuid.UUID       `json:"id"`
	RoomID    string          `json:"room"`
	Black     lobby.Player    `json:"black"`
	White     lobby.Player    `json:"white"`
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   *time.Time      `json:"endedAt,omitempty"`
	Actions   int             `json:"actions"`
	FinalTurn lobby.Side      `json:"finalTurn,omitempty"`
	EndReason lobby.EndReason `json:"endReason,omitempty"`
}

// HistoryStore reads and writes the matches table.
type HistoryStore struct {
	pool *pgxpool.Pool
}

func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

func (hs *HistoryStore) SaveStarted(ctx context.Context, id uuid.UUID, m lobby.MatchRecord) error {
	_, err := hs.pool.Exec(ctx, `
		INSERT INTO matches (id, room_id, black_id, black_name, white_id, white_name, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, m.RoomID, m.Black.ID, m.Black.Name, m.White.ID, m.White.Name, m.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save started match %s: %w", m.RoomID, err)
	}
	return nil
}

func (hs *HistoryStore) SaveEnded(ctx context.Context, id uuid.UUID, r lobby.MatchResult) error {
	tag, err := hs.pool.Exec(ctx, `
		UPDATE matches
		SET ended_at = $2, actions = $3, final_turn = $4, end_reason = $5
		WHERE id = $1`,
		id, r.EndedAt, r.Actions, string(r.Turn), string(r.Reason),
	)
	if err != nil {
		return fmt.Errorf("failed to save ended match %s: %w", r.RoomID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("match %s (%s) not found", r.RoomID, id)
	}
	return nil
}

// CloseUnfinished ends every row that has no end time. Returns the number of
// rows touched.
func (hs *HistoryStore) CloseUnfinished(ctx context.Context, reason lobby.EndReason, at time.Time) (int64, error) {
	tag, err := hs.pool.Exec(ctx,
		`UPDATE matches SET ended_at = $1, end_reason = $2 WHERE ended_at IS NULL`,
		at, string(reason),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close unfinished matches: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Recent returns up to limit matches, newest first.
func (hs *HistoryStore) Recent(ctx context.Context, limit int) ([]MatchSummary, error) {
	rows, err := hs.pool.Query(ctx, `
		SELECT id, room_id, black_id, black_name, white_id, white_name,
		       started_at, ended_at, actions, COALESCE(final_turn, ''), COALESCE(end_reason, '')
		FROM matches
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MatchSummary, error) {
		var m MatchSummary
		var turn, reason string
		err := row.Scan(&m.ID, &m.RoomID, &m.Black.ID, &m.Black.Name, &m.White.ID, &m.White.Name,
			&m.StartedAt, &m.EndedAt, &m.Actions, &turn, &reason)
		m.FinalTurn = lobby.Side(turn)
		m.EndReason = lobby.EndReason(reason)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan matches: %w", err)
	}
	return matches, nil
}

type historyWriter interface {
	SaveStarted(ctx context.Context, id uuid.UUID, m lobby.MatchRecord) error
	SaveEnded(ctx context.Context, id uuid.UUID, r lobby.MatchResult) error
}

type historyEvent struct {
	started *lobby.MatchRecord
	ended   *lobby.MatchResult
}

// HistoryRecorder implements lobby.Recorder by queueing lifecycle events for a
// single writer goroutine. A full queue drops the event.
type HistoryRecorder struct {
	store  historyWriter
	logger *slog.Logger
	events chan historyEvent
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewHistoryRecorder(store historyWriter, buffer int, logger *slog.Logger) *HistoryRecorder {
	hr := &HistoryRecorder{
		store:  store,
		logger: logger,
		events: make(chan historyEvent, buffer),
		done:   make(chan struct{}),
	}
	go hr.run()
	return hr
}

func (hr *HistoryRecorder) MatchStarted(m lobby.MatchRecord) {
	hr.enqueue(historyEvent{started: &m})
}

func (hr *HistoryRecorder) MatchEnded(r lobby.MatchResult) {
	hr.enqueue(historyEvent{ended: &r})
}

func (hr *HistoryRecorder) enqueue(ev historyEvent) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	if hr.closed {
		return
	}
	select {
	case hr.events <- ev:
	default:
		hr.logger.Warn("history queue full, event dropped")
	}
}

func (hr *HistoryRecorder) run() {
	defer close(hr.done)

	// Room ids restart with the process, so rows are keyed by a fresh uuid.
	ids := make(map[string]uuid.UUID)
	for ev := range hr.events {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		switch {
		case ev.started != nil:
			id := uuid.New()
			if err := hr.store.SaveStarted(ctx, id, *ev.started); err != nil {
				hr.logger.Error("record match start", "room", ev.started.RoomID, "error", err)
			} else {
				ids[ev.started.RoomID] = id
			}
		case ev.ended != nil:
			id, ok := ids[ev.ended.RoomID]
			if !ok {
				hr.logger.Warn("match end without recorded start", "room", ev.ended.RoomID)
				break
			}
			delete(ids, ev.ended.RoomID)
			if err := hr.store.SaveEnded(ctx, id, *ev.ended); err != nil {
				hr.logger.Error("record match end", "room", ev.ended.RoomID, "error", err)
			}
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (hr *HistoryRecorder) Close(ctx context.Context) error {
	hr.mu.Lock()
	if !hr.closed {
		hr.closed = true
		close(hr.events)
	}
	hr.mu.Unlock()

	select {
	case <-hr.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("history flush interrupted"), ctx.Err())
	}
}
