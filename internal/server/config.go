package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"othello-server/internal/lobby"
)

type Config struct {
	Bind           string
	Port           int
	AllowedOrigins []string

	PairingDelay time.Duration
	RateLimit    int
	RateWindow   time.Duration
	SendBuffer   int
	PingInterval time.Duration

	DatabaseURL   string
	HistoryBuffer int
	NATSURL       string
	NATSSubject   string
}

func DefaultConfig() Config {
	return Config{
		Bind:           "0.0.0.0",
		Port:           3000,
		AllowedOrigins: []string{"*"},
		PairingDelay:   lobby.DefaultPairingDelay,
		RateLimit:      20,
		RateWindow:     time.Second,
		SendBuffer:     64,
		PingInterval:   30 * time.Second,
		HistoryBuffer:  256,
		NATSSubject:    "othello.match",
	}
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.PairingDelay < 0 {
		return errors.New("pairing delay cannot be negative")
	}
	if c.RateLimit < 1 || c.RateWindow <= 0 {
		return fmt.Errorf("invalid rate limit: %d per %s", c.RateLimit, c.RateWindow)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("send buffer must be at least 1, got %d", c.SendBuffer)
	}
	if c.PingInterval < 0 {
		return errors.New("ping interval cannot be negative")
	}
	if c.DatabaseURL != "" && c.HistoryBuffer < 1 {
		return fmt.Errorf("history buffer must be at least 1, got %d", c.HistoryBuffer)
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return errors.New("a NATS subject is required when a NATS URL is set")
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("at least one allowed origin is required")
	}
	return nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}
