package server

import "othello-server/internal/lobby"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
const TypeError = "error"

func newServerError(message string) ServerError {
	return ServerError{Type: TypeError, Message: message}
}

// ============================================================================
// HEALTH (GET /health)
// ============================================================================
type HealthResponse struct {
	Status   string            `json:"status"`
	Hub      lobby.Stats       `json:"hub"`
	Clients  int               `json:"clients"`
	Database map[string]string `json:"database,omitempty"`
	Events   string            `json:"events,omitempty"`
}

// ============================================================================
// BANNER (GET /)
// ============================================================================
type BannerResponse struct {
	Service   string `json:"service"`
	Websocket string `json:"websocket"`
}

// ============================================================================
// MATCH HISTORY (GET /matches)
// ============================================================================
type MatchHistoryResponse struct {
	Matches []MatchSummary `json:"matches"`
}
