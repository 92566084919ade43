package lobby

// LobbyEntry is one row of a lobby snapshot.
type LobbyEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// lobbySet is the ordered set of connections without a room. Insertion order
// is the display order and the pairing scan order.
type lobbySet struct {
	order []string
	index map[string]struct{}
}

func newLobbySet() *lobbySet {
	return &lobbySet{index: make(map[string]struct{})}
}

// enter adds id at the back. Re-entering is a no-op.
func (l *lobbySet) enter(id string) {
	if _, ok := l.index[id]; ok {
		return
	}
	l.index[id] = struct{}{}
	l.order = append(l.order, id)
}

// requeue moves id to the back, adding it if absent.
func (l *lobbySet) requeue(id string) {
	l.leave(id)
	l.enter(id)
}

func (l *lobbySet) leave(id string) bool {
	if _, ok := l.index[id]; !ok {
		return false
	}
	delete(l.index, id)
	for i, member := range l.order {
		if member == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *lobbySet) contains(id string) bool {
	_, ok := l.index[id]
	return ok
}

func (l *lobbySet) members() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

func (l *lobbySet) len() int {
	return len(l.order)
}
