package lobby

// Message types on the wire. Every frame is a flat JSON object with a
// "type" discriminator.
const (
	TypeSetUsername  = "setUsername"
	TypeMatchRequest = "matchRequest"
	TypeMove         = "move"
	TypePass         = "pass"

	TypeLobbyList    = "lobbyList"
	TypeWaiting      = "waiting"
	TypeMatched      = "matched"
	TypeTurnUpdate   = "turnUpdate"
	TypeOpponentLeft = "opponentLeft"
)

const (
	waitingText      = "Waiting for an opponent..."
	opponentLeftText = "Your opponent left the game"
)

type LobbyListMessage struct {
	Type  string       `json:"type"`
	Lobby []LobbyEntry `json:"lobby"`
}

type WaitingMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type MatchedMessage struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Opponent string `json:"opponent"`
	Color    Side   `json:"color"`
}

type TurnUpdateMessage struct {
	Type        string `json:"type"`
	CurrentTurn Side   `json:"currentTurn"`
}

type OpponentLeftMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ActionMessage is the encoding used when an action has no raw frame to relay.
type ActionMessage struct {
	Type string `json:"type"`
	X    *int   `json:"x,omitempty"`
	Y    *int   `json:"y,omitempty"`
}

func newActionMessage(a Action) ActionMessage {
	msg := ActionMessage{Type: string(a.Kind)}
	if a.Kind == ActionMove {
		x, y := a.X, a.Y
		msg.X, msg.Y = &x, &y
	}
	return msg
}
