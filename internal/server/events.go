package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"othello-server/internal/lobby"
)

type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// MatchEvent is the payload published for each room lifecycle change.
type MatchEvent struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Match     any       `json:"match"`
}

// EventPublisher implements lobby.Recorder on top of NATS core publish, which
// only buffers in the client and never waits on the server.
type EventPublisher struct {
	conn    publisher
	subject string
	logger  *slog.Logger
}

func ConnectEvents(url, subject string, logger *slog.Logger) (*EventPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("othello-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("connected to nats", "url", conn.ConnectedUrl(), "subject", subject)
	return newEventPublisher(conn, subject, logger), nil
}

func newEventPublisher(conn publisher, subject string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{conn: conn, subject: subject, logger: logger}
}

func (ep *EventPublisher) MatchStarted(m lobby.MatchRecord) {
	ep.publish("started", m.StartedAt, m)
}

func (ep *EventPublisher) MatchEnded(r lobby.MatchResult) {
	ep.publish("ended", r.EndedAt, r)
}

func (ep *EventPublisher) publish(event string, at time.Time, match any) {
	data, err := json.Marshal(MatchEvent{Event: event, Timestamp: at, Match: match})
	if err != nil {
		ep.logger.Error("encode match event", "event", event, "error", err)
		return
	}
	subject := ep.subject + "." + event
	if err := ep.conn.Publish(subject, data); err != nil {
		ep.logger.Warn("publish match event", "subject", subject, "error", err)
	}
}

// Close flushes pending publishes and closes the connection.
func (ep *EventPublisher) Close() error {
	return ep.conn.Drain()
}
