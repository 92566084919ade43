package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"othello-server/internal/lobby"
)

const maxUsernameLength = 20

// RateLimiter implements per-connection rate limiting using a sliding window.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID -> timestamps of recent frames
	mu          sync.Mutex
	now         func() time.Time
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow records a frame from connectionID and reports whether it fits in the
// current window.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.prune(r.requests[connectionID], now.Add(-r.window))

	if len(recent) >= r.maxRequests {
		r.requests[connectionID] = recent
		return false
	}
	r.requests[connectionID] = append(recent, now)
	return true
}

// prune drops timestamps at or before cutoff, reusing the slice.
func (r *RateLimiter) prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Cleanup forgets connections with no frame inside the window.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	removed := 0
	for connID, timestamps := range r.requests {
		if recent := r.prune(timestamps, cutoff); len(recent) == 0 {
			delete(r.requests, connID)
			removed++
		} else {
			r.requests[connID] = recent
		}
	}
	return removed
}

func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

func (r *RateLimiter) tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// ValidateMessageType checks if an inbound message type is recognized.
func ValidateMessageType(msgType string) error {
	switch msgType {
	case lobby.TypeSetUsername, lobby.TypeMatchRequest, lobby.TypeMove, lobby.TypePass:
		return nil
	}
	return fmt.Errorf("INVALID_MESSAGE_TYPE: Unknown message type '%s'", msgType)
}

// ValidateUsername trims and checks a requested display name.
func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return "", fmt.Errorf("USERNAME_INVALID: Username cannot be empty")
	}
	if len([]rune(username)) > maxUsernameLength {
		return "", fmt.Errorf("USERNAME_INVALID: Username too long (max %d characters)", maxUsernameLength)
	}
	return username, nil
}
