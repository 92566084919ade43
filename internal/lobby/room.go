package lobby

import "time"

// RoomInfo is a read-only copy of a room.
type RoomInfo struct {
	ID        string    `json:"id"`
	Members   []string  `json:"members"`
	Black     string    `json:"black"`
	White     string    `json:"white"`
	Turn      Side      `json:"turn"`
	Actions   int       `json:"actions"`
	StartedAt time.Time `json:"startedAt"`
}

type room struct {
	id        string
	members   []string
	black     Player
	white     Player
	turn      Side
	actions   int
	startedAt time.Time
}

func newRoom(id string, black, white Player, now time.Time) *room {
	return &room{
		id:        id,
		members:   []string{black.ID, white.ID},
		black:     black,
		white:     white,
		turn:      SideBlack,
		startedAt: now,
	}
}

func (r *room) opponentOf(id string) (string, bool) {
	for _, member := range r.members {
		if member != id {
			return member, true
		}
	}
	return "", false
}

// removeMember drops id from the room and returns how many members remain.
func (r *room) removeMember(id string) int {
	for i, member := range r.members {
		if member == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	return len(r.members)
}

// advance records an accepted action and hands the turn to the other side.
// Passes advance the turn like moves do.
func (r *room) advance() Side {
	r.actions++
	r.turn = r.turn.Opponent()
	return r.turn
}

func (r *room) info() RoomInfo {
	members := make([]string, len(r.members))
	copy(members, r.members)
	return RoomInfo{
		ID:        r.id,
		Members:   members,
		Black:     r.black.ID,
		White:     r.white.ID,
		Turn:      r.turn,
		Actions:   r.actions,
		StartedAt: r.startedAt,
	}
}
