package lobby

import "time"

// Player identifies a room member at the moment the room was opened.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MatchRecord describes a room that was just opened.
type MatchRecord struct {
	RoomID    string    `json:"room"`
	Black     Player    `json:"black"`
	White     Player    `json:"white"`
	StartedAt time.Time `json:"startedAt"`
}

type EndReason string

const (
	// EndOpponentLeft: one member disconnected and the other went back to the lobby.
	EndOpponentLeft EndReason = "opponent_left"
)

// MatchResult describes a room that was just deleted.
type MatchResult struct {
	RoomID    string    `json:"room"`
	Reason    EndReason `json:"reason"`
	Actions   int       `json:"actions"`
	Turn      Side      `json:"turn"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// Recorder observes room lifecycle. Methods run inside the hub's critical
// section and must return without blocking.
type Recorder interface {
	MatchStarted(MatchRecord)
	MatchEnded(MatchResult)
}

// Recorders fans lifecycle events out to several recorders.
type Recorders []Recorder

func (rs Recorders) MatchStarted(m MatchRecord) {
	for _, r := range rs {
		r.MatchStarted(m)
	}
}

func (rs Recorders) MatchEnded(m MatchResult) {
	for _, r := range rs {
		r.MatchEnded(m)
	}
}

type nopRecorder struct{}

func (nopRecorder) MatchStarted(MatchRecord) {}
func (nopRecorder) MatchEnded(MatchResult)   {}
