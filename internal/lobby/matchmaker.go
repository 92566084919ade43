package lobby

import (
	"fmt"
	"math/rand"
	"time"
)

// DefaultPairingDelay is the window in which near-simultaneous match requests
// are coalesced into one pairing pass.
const DefaultPairingDelay = 10 * time.Millisecond

type matchmaker struct {
	// pending holds requesters recorded since the last pass, in arrival order.
	pending  []string
	timer    *time.Timer
	delay    time.Duration
	nextRoom uint64
	// firstIsBlack decides the colours of a new pair.
	firstIsBlack func() bool
}

func newMatchmaker() *matchmaker {
	return &matchmaker{
		delay:        DefaultPairingDelay,
		firstIsBlack: func() bool { return rand.Intn(2) == 0 },
	}
}

func (m *matchmaker) allocateRoomID() string {
	m.nextRoom++
	return fmt.Sprintf("room%d", m.nextRoom)
}

// RequestMatch marks id as looking for an opponent and schedules a pairing
// pass. Repeated requests from a requested or matched connection are ignored.
func (h *Hub) RequestMatch(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.get(id)
	if !ok {
		return ErrUnknownConnection
	}
	if c.session.MatchRequested || c.session.InRoom() {
		h.logger.Debug("duplicate match request ignored", "conn", id, "room", c.session.RoomID)
		return nil
	}

	c.session.MatchRequested = true
	h.lobby.requeue(id)
	h.match.pending = append(h.match.pending, id)
	h.logger.Info("match requested", "conn", id, "name", c.session.Name)

	h.schedulePairingLocked()
	return nil
}

func (h *Hub) schedulePairingLocked() {
	if h.match.delay <= 0 {
		h.pairLocked()
		return
	}
	if h.match.timer != nil || h.closed {
		return
	}
	h.match.timer = time.AfterFunc(h.match.delay, h.runPairing)
}

func (h *Hub) runPairing() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.match.timer = nil
	if h.closed {
		return
	}
	h.pairLocked()
}

// pairLocked drains the pending queue: it opens rooms for eligible lobby
// members two at a time in lobby order, tells every drained requester still
// without a room that it is waiting, then refreshes the lobby.
func (h *Hub) pairLocked() {
	requesters := h.match.pending
	h.match.pending = nil

	for {
		first, second, ok := h.nextPairLocked()
		if !ok {
			break
		}
		h.openRoomLocked(first, second)
	}

	told := make(map[string]struct{}, len(requesters))
	for _, id := range requesters {
		if _, dup := told[id]; dup {
			continue
		}
		told[id] = struct{}{}

		c, ok := h.registry.get(id)
		if !ok || !c.session.Open || c.session.InRoom() || !c.session.MatchRequested {
			continue
		}
		h.notifyLocked([]string{id}, WaitingMessage{Type: TypeWaiting, Message: waitingText})
	}

	h.broadcastLobbyLocked()
}

func (h *Hub) nextPairLocked() (*connection, *connection, bool) {
	var found []*connection
	for _, id := range h.lobby.order {
		c, ok := h.registry.get(id)
		if !ok || !c.session.Open || !c.session.MatchRequested || c.session.InRoom() {
			continue
		}
		found = append(found, c)
		if len(found) == 2 {
			return found[0], found[1], true
		}
	}
	return nil, nil, false
}

func (h *Hub) openRoomLocked(first, second *connection) {
	h.lobby.leave(first.session.ID)
	h.lobby.leave(second.session.ID)

	black, white := first, second
	if !h.match.firstIsBlack() {
		black, white = second, first
	}

	id := h.match.allocateRoomID()
	r := newRoom(id,
		Player{ID: black.session.ID, Name: black.session.Name},
		Player{ID: white.session.ID, Name: white.session.Name},
		h.now(),
	)
	h.rooms[id] = r

	black.session.RoomID, black.session.Side = id, SideBlack
	white.session.RoomID, white.session.Side = id, SideWhite

	h.logger.Info("room opened",
		"room", id,
		"black", black.session.Name,
		"white", white.session.Name)

	h.notifyLocked([]string{first.session.ID}, MatchedMessage{
		Type:     TypeMatched,
		Room:     id,
		Opponent: second.session.Name,
		Color:    first.session.Side,
	})
	h.notifyLocked([]string{second.session.ID}, MatchedMessage{
		Type:     TypeMatched,
		Room:     id,
		Opponent: first.session.Name,
		Color:    second.session.Side,
	})

	h.recorder.MatchStarted(MatchRecord{
		RoomID:    id,
		Black:     r.black,
		White:     r.white,
		StartedAt: r.startedAt,
	})
}
