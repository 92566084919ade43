package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	errSlowConsumer = errors.New("SLOW_CONSUMER: outbound queue full")
	errClientClosed = errors.New("CLIENT_CLOSED: connection already closed")
)

const (
	writeTimeout = 10 * time.Second

	closeReasonSlow = "slow consumer"
)

// client is the hub's handle for one websocket. Send never blocks: frames go
// onto a buffered queue drained by writePump in order.
type client struct {
	id     string
	socket *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	reason    string
}

func newClient(socket *websocket.Conn, buffer int) *client {
	return &client{
		socket: socket,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

func (c *client) Send(data []byte) error {
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.close(closeReasonSlow)
		return errSlowConsumer
	}
}

func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.closed)
	})
}

func (c *client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *client) isSlow() bool {
	return c.isClosed() && c.reason == closeReasonSlow
}

// writePump delivers queued frames and pings the peer until the client is
// closed or a write fails. Frames still queued at close are flushed first,
// except for a slow consumer.
func (c *client) writePump(ctx context.Context, pingInterval time.Duration) error {
	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.send:
			if c.isSlow() {
				return errSlowConsumer
			}
			if err := c.write(ctx, data); err != nil {
				return err
			}
		case <-ping:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.socket.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case <-c.closed:
			if c.isSlow() {
				return errSlowConsumer
			}
			for {
				select {
				case data := <-c.send:
					if err := c.write(ctx, data); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *client) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.socket.Write(ctx, websocket.MessageText, data)
}

// ConnectionManager tracks live websocket clients so shutdown can close them.
type ConnectionManager struct {
	clients map[string]*client // connectionID → client
	mu      sync.RWMutex
	empty   chan struct{}
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*client),
	}
}

func (cm *ConnectionManager) AddConnection(c *client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[c.id] = c
}

func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, id)
	if len(cm.clients) == 0 && cm.empty != nil {
		close(cm.empty)
		cm.empty = nil
	}
}

func (cm *ConnectionManager) GetConnection(id string) (*client, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.clients[id]
	return c, ok
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CloseAll asks every client to finish. Their handlers remove them.
func (cm *ConnectionManager) CloseAll(reason string) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, c := range cm.clients {
		c.close(reason)
	}
}

// WaitEmpty blocks until no clients remain or ctx ends.
func (cm *ConnectionManager) WaitEmpty(ctx context.Context) error {
	cm.mu.Lock()
	if len(cm.clients) == 0 {
		cm.mu.Unlock()
		return nil
	}
	if cm.empty == nil {
		cm.empty = make(chan struct{})
	}
	empty := cm.empty
	cm.mu.Unlock()

	select {
	case <-empty:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
