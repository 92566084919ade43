// Package lobby pairs anonymous connections into two-player rooms and gates
// the turn order of the actions relayed between them.
//
// All state (registry, lobby, pending match requests, rooms) lives behind one
// mutex in Hub. Outbound frames are handed to each connection's Sender while
// the lock is held, so every connection observes messages in the order the
// hub produced them.
package lobby

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

type Hub struct {
	mu       sync.Mutex
	registry *registry
	lobby    *lobbySet
	match    *matchmaker
	rooms    map[string]*room
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	closed   bool
}

type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPairingDelay sets the coalescing window for match requests. Zero pairs
// synchronously inside the request's critical section.
func WithPairingDelay(d time.Duration) Option {
	return func(h *Hub) { h.match.delay = d }
}

// WithSideChooser replaces the coin flip that assigns colours. f reports
// whether the earlier-queued member of a new pair plays black.
func WithSideChooser(f func() bool) Option {
	return func(h *Hub) {
		if f != nil {
			h.match.firstIsBlack = f
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(h *Hub) {
		if r != nil {
			h.recorder = r
		}
	}
}

func WithIDGenerator(f func() string) Option {
	return func(h *Hub) {
		if f != nil {
			h.registry.newID = f
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		registry: newRegistry(nil),
		lobby:    newLobbySet(),
		match:    newMatchmaker(),
		rooms:    make(map[string]*room),
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers a new connection, places it in the lobby and pushes the
// refreshed lobby to every lobby member.
func (h *Hub) Connect(sender Sender) Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.registry.register(sender)
	h.lobby.enter(c.session.ID)
	h.logger.Info("connection registered", "conn", c.session.ID, "name", c.session.Name)

	h.broadcastLobbyLocked()
	return c.session
}

// SetName changes a display name. Lobby members see the change immediately;
// a name change inside a room is not broadcast.
func (h *Hub) SetName(id, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.get(id)
	if !ok {
		return ErrUnknownConnection
	}
	old := c.session.Name
	c.session.Name = name
	h.logger.Info("name changed", "conn", id, "from", old, "to", name)

	if !c.session.InRoom() {
		h.broadcastLobbyLocked()
	}
	return nil
}

// SubmitAction relays a move or pass to the opponent if it is the sender's
// turn, flips the turn and tells both members whose turn it is. Rejected
// actions return an error and deliver nothing.
func (h *Hub) SubmitAction(id string, action Action) error {
	if action.Kind != ActionMove && action.Kind != ActionPass {
		return ErrInvalidAction
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.get(id)
	if !ok {
		return ErrUnknownConnection
	}
	if !c.session.InRoom() {
		return ErrNotInRoom
	}
	r, ok := h.rooms[c.session.RoomID]
	if !ok {
		return ErrRoomNotFound
	}
	if r.turn != c.session.Side {
		return ErrNotYourTurn
	}

	if opponent, ok := r.opponentOf(id); ok {
		payload := action.Raw
		if len(payload) == 0 {
			var err error
			if payload, err = json.Marshal(newActionMessage(action)); err != nil {
				h.logger.Error("encode action", "conn", id, "error", err)
				return err
			}
		}
		h.sendLocked(opponent, payload)
	}

	turn := r.advance()
	h.notifyLocked(r.members, TurnUpdateMessage{Type: TypeTurnUpdate, CurrentTurn: turn})
	h.logger.Debug("action relayed", "room", r.id, "conn", id, "kind", action.Kind, "turn", turn)
	return nil
}

// Disconnect closes a connection and cleans up after it: it leaves the lobby,
// its room is torn down and a surviving opponent is returned to the lobby.
// Unknown or already closed ids are ignored.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.get(id)
	if !ok {
		return
	}
	c.session.Open = false
	h.lobby.leave(id)
	h.registry.remove(id)
	h.logger.Info("connection closed", "conn", id, "name", c.session.Name, "room", c.session.RoomID)

	if c.session.InRoom() {
		if r, ok := h.rooms[c.session.RoomID]; ok {
			h.vacateLocked(r, id)
		}
	}

	h.broadcastLobbyLocked()
}

// vacateLocked removes a departing member. The survivor goes back to the
// lobby and the room is deleted, so a room never outlives its first departure.
func (h *Hub) vacateLocked(r *room, leaving string) {
	if remaining := r.removeMember(leaving); remaining != 1 {
		h.logger.Warn("room membership out of sync", "room", r.id, "conn", leaving, "members", remaining)
		if remaining == 0 {
			delete(h.rooms, r.id)
		}
		return
	}

	h.requeueSurvivorLocked(r.members[0])
	delete(h.rooms, r.id)

	result := MatchResult{
		RoomID:    r.id,
		Reason:    EndOpponentLeft,
		Turn:      r.turn,
		Actions:   r.actions,
		StartedAt: r.startedAt,
		EndedAt:   h.now(),
	}
	h.logger.Info("room closed", "room", r.id, "reason", result.Reason, "actions", r.actions)
	h.recorder.MatchEnded(result)
}

func (h *Hub) requeueSurvivorLocked(id string) {
	c, ok := h.registry.get(id)
	if !ok {
		return
	}
	h.notifyLocked([]string{id}, OpponentLeftMessage{Type: TypeOpponentLeft, Message: opponentLeftText})

	c.session.RoomID = ""
	c.session.Side = SideNone
	c.session.MatchRequested = false
	h.lobby.enter(id)
}

func (h *Hub) Session(id string) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.get(id)
	if !ok {
		return Session{}, false
	}
	return c.session, true
}

// Snapshot returns the lobby in display order.
func (h *Hub) Snapshot() []LobbyEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Hub) Room(id string) (RoomInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[id]
	if !ok {
		return RoomInfo{}, false
	}
	return r.info(), true
}

type Stats struct {
	Connections int `json:"connections"`
	Lobby       int `json:"lobby"`
	Rooms       int `json:"rooms"`
	Pending     int `json:"pending"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{
		Connections: h.registry.len(),
		Lobby:       h.lobby.len(),
		Rooms:       len(h.rooms),
		Pending:     len(h.match.pending),
	}
}

// Close stops any scheduled pairing pass. The hub keeps answering reads.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if h.match.timer != nil {
		h.match.timer.Stop()
		h.match.timer = nil
	}
}
