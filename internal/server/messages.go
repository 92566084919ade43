package server

import (
	"encoding/json"
	"fmt"

	"othello-server/internal/lobby"
)

// ClientMessage is every inbound frame. The protocol is flat: fields that do
// not belong to a message type are ignored.
type ClientMessage struct {
	Type     string  `json:"type"`
	Username *string `json:"username,omitempty"`
	X        *int    `json:"x,omitempty"`
	Y        *int    `json:"y,omitempty"`
	// Room is sent by clients with moves but never trusted: the hub uses the
	// sender's own room binding.
	Room string `json:"room,omitempty"`
}

// ServerError is the only outbound frame produced by the transport itself.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func decodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("INVALID_PAYLOAD: %w", err)
	}
	if err := ValidateMessageType(msg.Type); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

// action converts a move or pass frame into a hub action carrying the raw
// frame for verbatim relay. Coordinates are not range-checked; board rules
// belong to the clients.
func (m ClientMessage) action(raw []byte) (lobby.Action, error) {
	switch m.Type {
	case lobby.TypePass:
		a := lobby.Pass()
		a.Raw = raw
		return a, nil
	case lobby.TypeMove:
		if m.X == nil || m.Y == nil {
			return lobby.Action{}, fmt.Errorf("INVALID_PAYLOAD: move requires x and y")
		}
		a := lobby.Move(*m.X, *m.Y)
		a.Raw = raw
		return a, nil
	}
	return lobby.Action{}, fmt.Errorf("INVALID_MESSAGE_TYPE: %q is not an action", m.Type)
}
