package lobby

import "errors"

// Side is the colour a room member plays.
type Side string

const (
	SideNone  Side = ""
	SideBlack Side = "black"
	SideWhite Side = "white"
)

// Opponent returns the other side. SideNone has no opponent.
func (s Side) Opponent() Side {
	switch s {
	case SideBlack:
		return SideWhite
	case SideWhite:
		return SideBlack
	}
	return SideNone
}

// Session is a copy of the attributes the registry keeps for one connection.
// Callers never get a pointer into hub state.
type Session struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	RoomID         string `json:"room,omitempty"`
	Side           Side   `json:"color,omitempty"`
	MatchRequested bool   `json:"matchRequested"`
	Open           bool   `json:"open"`
}

func (s Session) InRoom() bool {
	return s.RoomID != ""
}

// ActionKind is the kind of an in-game action relayed between room members.
type ActionKind string

const (
	ActionMove ActionKind = "move"
	ActionPass ActionKind = "pass"
)

// Action is a move or pass submitted by a room member. Raw, when set, is the
// exact frame the client sent and is what the opponent receives.
type Action struct {
	Kind ActionKind
	X    int
	Y    int
	Raw  []byte
}

func Move(x, y int) Action {
	return Action{Kind: ActionMove, X: x, Y: y}
}

func Pass() Action {
	return Action{Kind: ActionPass}
}

var (
	ErrUnknownConnection = errors.New("UNKNOWN_CONNECTION: connection is not registered")
	ErrNotInRoom         = errors.New("NOT_IN_ROOM: connection has no room")
	ErrRoomNotFound      = errors.New("ROOM_NOT_FOUND: room does not exist")
	ErrNotYourTurn       = errors.New("NOT_YOUR_TURN: action submitted out of turn")
	ErrInvalidAction     = errors.New("INVALID_ACTION: unknown action kind")
)
