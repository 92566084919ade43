package lobby

import (
	"github.com/google/uuid"
)

const guestPrefix = "Guest_"

type connection struct {
	session Session
	sender  Sender
}

// registry tracks every live connection. It is owned by the Hub and only
// touched while the Hub lock is held.
type registry struct {
	conns map[string]*connection
	newID func() string
}

func newRegistry(newID func() string) *registry {
	if newID == nil {
		newID = uuid.NewString
	}
	return &registry{
		conns: make(map[string]*connection),
		newID: newID,
	}
}

func (r *registry) register(sender Sender) *connection {
	id := r.newID()
	for _, taken := r.conns[id]; taken; _, taken = r.conns[id] {
		id = r.newID()
	}

	c := &connection{
		session: Session{
			ID:   id,
			Name: DefaultName(id),
			Open: true,
		},
		sender: sender,
	}
	r.conns[id] = c
	return c
}

func (r *registry) get(id string) (*connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) remove(id string) {
	delete(r.conns, id)
}

func (r *registry) len() int {
	return len(r.conns)
}

// DefaultName is the display name a connection has until it sets one.
func DefaultName(id string) string {
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return guestPrefix + id
}
