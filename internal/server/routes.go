package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"othello-server/internal/lobby"
)

const (
	// Frames above maxFrameSize are dropped; only frames above readLimit end
	// the connection.
	maxFrameSize        = 4096
	readLimit           = 1 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.bannerHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /matches", s.matchesHandler)

	mux.HandleFunc("/websocket", s.websocketHandler)
	mux.HandleFunc("/ws", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return "null"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) bannerHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, BannerResponse{
		Service:   "othello-server",
		Websocket: "/websocket",
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Hub:     s.hub.Stats(),
		Clients: s.connectionManager.Count(),
	}
	status := http.StatusOK
	if s.db != nil {
		resp.Database = s.db.Health(r.Context())
		if resp.Database["status"] != "up" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if s.events != nil {
		resp.Events = "enabled"
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) matchesHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, newServerError("HISTORY_DISABLED: no database configured"))
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.writeJSON(w, http.StatusBadRequest,
				newServerError(fmt.Sprintf("INVALID_LIMIT: limit must be between 1 and %d", maxHistoryLimit)))
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	matches, err := s.history.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("load match history", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, newServerError("HISTORY_UNAVAILABLE: failed to load matches"))
		return
	}
	if matches == nil {
		matches = []MatchSummary{}
	}
	s.writeJSON(w, http.StatusOK, MatchHistoryResponse{Matches: matches})
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer socket.CloseNow()
	socket.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newClient(socket, s.cfg.SendBuffer)
	session := s.hub.Connect(c)
	c.id = session.ID
	s.connectionManager.AddConnection(c)
	logger := s.logger.With("conn", c.id)
	logger.Info("websocket connected", "remote", r.RemoteAddr, "name", session.Name)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop(ctx, c, socket, logger)
	}()

	defer func() {
		c.close("connection closed")
		s.hub.Disconnect(c.id)
		s.rateLimiter.RemoveConnection(c.id)
		<-writeDone
		s.connectionManager.RemoveConnection(c.id)
		logger.Info("websocket disconnected")
	}()

	s.readLoop(ctx, c, socket)
}

// writeLoop runs the client's writer and, once it stops, takes the client out
// of the hub before the close handshake so it cannot be paired meanwhile.
func (s *Server) writeLoop(ctx context.Context, c *client, socket *websocket.Conn, logger *slog.Logger) {
	err := c.writePump(ctx, s.cfg.PingInterval)
	c.close("writer stopped")
	s.hub.Disconnect(c.id)

	switch {
	case err == nil:
		socket.Close(websocket.StatusGoingAway, c.reason)
	case errors.Is(err, errSlowConsumer):
		logger.Warn("dropping slow consumer")
		socket.Close(websocket.StatusPolicyViolation, closeReasonSlow)
	default:
		socket.CloseNow()
	}
}

func (s *Server) readLoop(ctx context.Context, c *client, socket *websocket.Conn) {
	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.logger.Debug("client closed connection", "conn", c.id)
			default:
				if !c.isClosed() {
					s.logger.Debug("read failed", "conn", c.id, "error", err)
				}
			}
			return
		}

		if msgType != websocket.MessageText {
			s.logger.Debug("non-text frame dropped", "conn", c.id)
			continue
		}

		if len(data) > maxFrameSize {
			s.logger.Debug("oversized frame dropped", "conn", c.id, "bytes", len(data))
			continue
		}

		if !s.rateLimiter.Allow(c.id) {
			s.logger.Warn("rate limit exceeded", "conn", c.id)
			s.sendError(c, "RATE_LIMIT_EXCEEDED: Too many messages, slow down")
			continue
		}

		s.dispatch(c.id, data)
	}
}

// dispatch routes one inbound frame to the hub. Malformed frames and rejected
// actions are logged and dropped; the client gets no reply.
func (s *Server) dispatch(id string, data []byte) {
	msg, err := decodeClientMessage(data)
	if err != nil {
		s.logger.Debug("malformed frame dropped", "conn", id, "error", err)
		return
	}

	switch msg.Type {
	case lobby.TypeSetUsername:
		s.handleSetUsername(id, msg)
	case lobby.TypeMatchRequest:
		s.handleMatchRequest(id)
	case lobby.TypeMove, lobby.TypePass:
		s.handleAction(id, msg, data)
	}
}

func (s *Server) handleSetUsername(id string, msg ClientMessage) {
	if msg.Username == nil {
		s.logger.Debug("setUsername without username", "conn", id)
		return
	}
	name, err := ValidateUsername(*msg.Username)
	if err != nil {
		s.logger.Debug("username rejected", "conn", id, "error", err)
		return
	}
	if err := s.hub.SetName(id, name); err != nil {
		s.logger.Warn("set name", "conn", id, "error", err)
	}
}

func (s *Server) handleMatchRequest(id string) {
	if err := s.hub.RequestMatch(id); err != nil {
		s.logger.Warn("match request", "conn", id, "error", err)
	}
}

func (s *Server) handleAction(id string, msg ClientMessage, raw []byte) {
	action, err := msg.action(raw)
	if err != nil {
		s.logger.Debug("action dropped", "conn", id, "error", err)
		return
	}
	if err := s.hub.SubmitAction(id, action); err != nil {
		s.logger.Debug("action rejected", "conn", id, "kind", action.Kind, "error", err)
	}
}

func (s *Server) sendError(c *client, message string) {
	data, err := json.Marshal(newServerError(message))
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		s.logger.Debug("send error frame", "conn", c.id, "error", err)
	}
}
