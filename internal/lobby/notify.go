package lobby

import (
	"encoding/json"
)

// Sender is the opaque handle the hub uses to push frames to a connection.
// Send must not block; the transport owns buffering.
type Sender interface {
	Send(data []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(data []byte) error

func (f SenderFunc) Send(data []byte) error {
	return f(data)
}

// sendLocked delivers one frame. Closed or unknown connections are skipped and
// send failures are logged, never returned.
func (h *Hub) sendLocked(id string, data []byte) {
	c, ok := h.registry.get(id)
	if !ok || !c.session.Open || c.sender == nil {
		return
	}
	if err := c.sender.Send(data); err != nil {
		h.logger.Warn("send failed", "conn", id, "error", err)
	}
}

// notifyLocked encodes msg once and fans it out to every target in order.
func (h *Hub) notifyLocked(targets []string, msg any) {
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode outbound message", "error", err)
		return
	}
	for _, id := range targets {
		h.sendLocked(id, data)
	}
}

func (h *Hub) snapshotLocked() []LobbyEntry {
	entries := make([]LobbyEntry, 0, h.lobby.len())
	for _, id := range h.lobby.order {
		c, ok := h.registry.get(id)
		if !ok {
			continue
		}
		entries = append(entries, LobbyEntry{ID: id, Name: c.session.Name})
	}
	return entries
}

// broadcastLobbyLocked pushes a fresh snapshot to every lobby member.
func (h *Hub) broadcastLobbyLocked() {
	entries := h.snapshotLocked()
	h.notifyLocked(h.lobby.members(), LobbyListMessage{Type: TypeLobbyList, Lobby: entries})
	h.logger.Debug("lobby updated", "members", len(entries))
}
