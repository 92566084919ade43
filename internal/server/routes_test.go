package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"othello-server/internal/lobby"
	"othello-server/internal/testutils"
)

const readTimeout = 2 * time.Second

// setupTestServer runs the full route set with synchronous pairing and the
// earlier requester always playing black.
func setupTestServer(mutate ...func(*Config)) (*Server, string, func()) {
	cfg := DefaultConfig()
	cfg.PairingDelay = 0
	cfg.PingInterval = 0
	for _, m := range mutate {
		m(&cfg)
	}

	s, _, err := NewServer(context.Background(), cfg, testutils.QuietLogger(),
		lobby.WithSideChooser(func() bool { return true }))
	if err != nil {
		panic(err)
	}

	server := httptest.NewServer(s.RegisterRoutes())

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		server.Close()
	}

	return s, server.URL, cleanup
}

func wsURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/websocket"
}

type frame struct {
	Type        string             `json:"type"`
	Lobby       []lobby.LobbyEntry `json:"lobby"`
	Message     string             `json:"message"`
	Room        string             `json:"room"`
	Opponent    string             `json:"opponent"`
	Color       lobby.Side         `json:"color"`
	CurrentTurn lobby.Side         `json:"currentTurn"`
	X           *int               `json:"x"`
	Y           *int               `json:"y"`

	raw string
}

func (f frame) names() []string {
	names := make([]string, len(f.Lobby))
	for i, e := range f.Lobby {
		names[i] = e.Name
	}
	return names
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, baseURL string) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(baseURL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) sendRaw(data string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, []byte(data)))
}

func (c *testClient) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	c.sendRaw(string(data))
}

func (c *testClient) read() frame {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	msgType, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	require.Equal(c.t, websocket.MessageText, msgType)

	var f frame
	require.NoError(c.t, json.Unmarshal(data, &f))
	f.raw = string(data)
	return f
}

// expect reads the next frame and requires its type.
func (c *testClient) expect(msgType string) frame {
	c.t.Helper()
	f := c.read()
	require.Equal(c.t, msgType, f.Type, "unexpected frame %s", f.raw)
	return f
}

// readUntil skips frames until one of msgType arrives.
func (c *testClient) readUntil(msgType string) frame {
	c.t.Helper()
	for {
		if f := c.read(); f.Type == msgType {
			return f
		}
	}
}

func strPtr(s string) *string { return &s }

// pairPlayers connects Alice and Bob and matches them; Alice plays black.
func pairPlayers(t *testing.T, baseURL string) (alice, bob *testClient) {
	t.Helper()

	alice = dial(t, baseURL)
	alice.expect(lobby.TypeLobbyList)
	alice.send(ClientMessage{Type: lobby.TypeSetUsername, Username: strPtr("Alice")})
	alice.expect(lobby.TypeLobbyList)

	bob = dial(t, baseURL)
	bob.expect(lobby.TypeLobbyList)
	alice.expect(lobby.TypeLobbyList)
	bob.send(ClientMessage{Type: lobby.TypeSetUsername, Username: strPtr("Bob")})
	bob.expect(lobby.TypeLobbyList)
	alice.expect(lobby.TypeLobbyList)

	alice.send(ClientMessage{Type: lobby.TypeMatchRequest})
	waiting := alice.expect(lobby.TypeWaiting)
	assert.Equal(t, "Waiting for an opponent...", waiting.Message)
	alice.expect(lobby.TypeLobbyList)
	bob.expect(lobby.TypeLobbyList)

	bob.send(ClientMessage{Type: lobby.TypeMatchRequest})
	return alice, bob
}

func TestBannerHandler(t *testing.T) {
	_, baseURL, cleanup := setupTestServer()
	defer cleanup()

	resp, err := http.Get(baseURL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var banner BannerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&banner))
	assert.Equal(t, "othello-server", banner.Service)
	assert.Equal(t, "/websocket", banner.Websocket)
}

func TestUnknownPathIsNotFound(t *testing.T) {
	_, baseURL, cleanup := setupTestServer()
	defer cleanup()

	resp, err := http.Get(baseURL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	_, baseURL, cleanup := setupTestServer(func(c *Config) {
		c.AllowedOrigins = []string{"https://othello.example"}
	})
	defer cleanup()

	req, err := http.NewRequest(http.MethodOptions, baseURL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://othello.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://othello.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthHandler(t *testing.T) {
	s, baseURL, cleanup := setupTestServer()
	defer cleanup()

	c := dial(t, baseURL)
	c.expect(lobby.TypeLobbyList)

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Hub.Connections)
	assert.Equal(t, 1, health.Hub.Lobby)
	assert.Equal(t, 0, health.Hub.Rooms)
	assert.Equal(t, s.connectionManager.Count(), health.Clients)
	assert.Nil(t, health.Database)
}

func TestMatchesHandler_NoDatabase(t *testing.T) {
	_, baseURL, cleanup := setupTestServer()
	defer cleanup()

	resp, err := http.Get(baseURL + "/matches")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "HISTORY_DISABLED")
}

func TestWebSocket_ConnectReceivesLobby(t *testing.T) {
	assert := assert.New(t)
	s, baseURL, cleanup := setupTestServer()
	defer cleanup()

	c := dial(t, baseURL)
	f := c.expect(lobby.TypeLobbyList)

	require.Len(t, f.Lobby, 1)
	entry := f.Lobby[0]
	assert.True(strings.HasPrefix(entry.Name, "Guest_"))
	assert.Equal(lobby.DefaultName(entry.ID), entry.Name)

	session, ok := s.hub.Session(entry.ID)
	assert.True(ok)
	assert.True(session.Open)
}

func TestWebSocket_AliasRoute(t *testing.T) {
	_, baseURL, cleanup := setupTestServer()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(baseURL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"lobbyList"`)
}

func TestWebSocket_SetUsernameBroadcast(t *testing.T) {
	_, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := dial(t, baseURL)
	alice.expect(lobby.TypeLobbyList)
	bob := dial(t, baseURL)
	bob.expect(lobby.TypeLobbyList)
	alice.expect(lobby.TypeLobbyList)

	alice.send(ClientMessage{Type: lobby.TypeSetUsername, Username: strPtr("  Alice ")})

	seen := bob.expect(lobby.TypeLobbyList)
	assert.Contains(t, seen.names(), "Alice")
	own := alice.expect(lobby.TypeLobbyList)
	assert.Equal(t, seen.Lobby, own.Lobby)
}

func TestWebSocket_MatchFlow(t *testing.T) {
	assert := assert.New(t)
	_, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice, bob := pairPlayers(t, baseURL)

	aliceMatch := alice.expect(lobby.TypeMatched)
	assert.Equal("room1", aliceMatch.Room)
	assert.Equal("Bob", aliceMatch.Opponent)
	assert.Equal(lobby.SideBlack, aliceMatch.Color)

	// Bob's request completed the pair, so no waiting precedes his match.
	bobMatch := bob.expect(lobby.TypeMatched)
	assert.Equal("room1", bobMatch.Room)
	assert.Equal("Alice", bobMatch.Opponent)
	assert.Equal(lobby.SideWhite, bobMatch.Color)

	move := `{"type":"move","x":2,"y":3,"room":"room1"}`
	alice.sendRaw(move)

	relayed := bob.read()
	assert.Equal(move, relayed.raw, "move must be relayed verbatim")
	assert.Equal(lobby.SideWhite, bob.expect(lobby.TypeTurnUpdate).CurrentTurn)
	assert.Equal(lobby.SideWhite, alice.expect(lobby.TypeTurnUpdate).CurrentTurn)

	// Out of turn: dropped without a reply.
	alice.sendRaw(`{"type":"move","x":4,"y":4}`)
	time.Sleep(50 * time.Millisecond)

	bob.sendRaw(`{"type":"pass","room":"room1"}`)

	pass := alice.read()
	assert.Equal(lobby.TypePass, pass.Type)
	assert.Equal(`{"type":"pass","room":"room1"}`, pass.raw)
	assert.Equal(lobby.SideBlack, alice.expect(lobby.TypeTurnUpdate).CurrentTurn)
	assert.Equal(lobby.SideBlack, bob.expect(lobby.TypeTurnUpdate).CurrentTurn)
}

func TestWebSocket_OpponentLeft(t *testing.T) {
	assert := assert.New(t)
	s, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice, bob := pairPlayers(t, baseURL)
	alice.expect(lobby.TypeMatched)
	bob.expect(lobby.TypeMatched)

	bob.conn.Close(websocket.StatusNormalClosure, "")

	left := alice.expect(lobby.TypeOpponentLeft)
	assert.Equal("Your opponent left the game", left.Message)
	lobbyList := alice.expect(lobby.TypeLobbyList)
	assert.Equal([]string{"Alice"}, lobbyList.names())

	assert.Equal(0, s.hub.Stats().Rooms)

	// Alice can queue again from the lobby.
	alice.send(ClientMessage{Type: lobby.TypeMatchRequest})
	alice.expect(lobby.TypeWaiting)
}

func TestWebSocket_InvalidFramesIgnored(t *testing.T) {
	_, baseURL, cleanup := setupTestServer()
	defer cleanup()

	c := dial(t, baseURL)
	c.expect(lobby.TypeLobbyList)

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	require.NoError(t, c.conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02}))

	c.sendRaw("junk")
	c.sendRaw(`{"type":"execute_move"}`)
	c.sendRaw(`{"type":"move","x":"a","y":0}`)
	c.sendRaw(`{"type":"move","x":1}`)
	c.sendRaw(`{"type":"pass"}`)
	c.sendRaw(`{"type":"setUsername"}`)
	c.sendRaw(`{"type":"setUsername","username":"   "}`)
	c.send(ClientMessage{Type: lobby.TypeSetUsername, Username: strPtr("Still here")})

	// Frames are handled in order, so the first reply is for the last frame.
	f := c.expect(lobby.TypeLobbyList)
	assert.Equal(t, []string{"Still here"}, f.names())
}

func TestWebSocket_OversizedFrameDropped(t *testing.T) {
	assert := assert.New(t)
	s, baseURL, cleanup := setupTestServer()
	defer cleanup()

	c := dial(t, baseURL)
	c.expect(lobby.TypeLobbyList)

	// Well formed, so only its size keeps it from renaming the player.
	padding := strings.Repeat("x", maxFrameSize)
	c.sendRaw(`{"type":"setUsername","username":"Padded","padding":"` + padding + `"}`)
	c.send(ClientMessage{Type: lobby.TypeSetUsername, Username: strPtr("After")})

	f := c.expect(lobby.TypeLobbyList)
	assert.Equal([]string{"After"}, f.names())
	assert.Equal(1, s.hub.Stats().Connections)
	assert.Equal(1, s.connectionManager.Count())
}

func TestWebSocket_MoveCoordinatesRelayedUnchecked(t *testing.T) {
	_, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice, bob := pairPlayers(t, baseURL)
	alice.expect(lobby.TypeMatched)
	bob.expect(lobby.TypeMatched)

	move := `{"type":"move","x":12,"y":-1}`
	alice.sendRaw(move)

	assert.Equal(t, move, bob.read().raw)
	assert.Equal(t, lobby.SideWhite, bob.expect(lobby.TypeTurnUpdate).CurrentTurn)
}

func TestWebSocket_SlowConsumerLeavesHub(t *testing.T) {
	s, baseURL, cleanup := setupTestServer()
	defer cleanup()

	c := dial(t, baseURL)
	f := c.expect(lobby.TypeLobbyList)
	require.Len(t, f.Lobby, 1)
	id := f.Lobby[0].ID

	conn, ok := s.connectionManager.GetConnection(id)
	require.True(t, ok)
	conn.close(closeReasonSlow)

	// The client never reads, so the close handshake stays open; the hub
	// must let go well before it times out.
	require.Eventually(t, func() bool {
		_, ok := s.hub.Session(id)
		return !ok
	}, 500*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 0, s.hub.Stats().Connections)

	c.conn.CloseNow()
}

func TestWebSocketRateLimiting(t *testing.T) {
	assert := assert.New(t)
	_, baseURL, cleanup := setupTestServer(func(c *Config) {
		c.RateLimit = 3
		c.RateWindow = time.Minute
	})
	defer cleanup()

	c := dial(t, baseURL)
	c.expect(lobby.TypeLobbyList)

	for i := 0; i < 5; i++ {
		c.send(ClientMessage{Type: lobby.TypeSetUsername, Username: strPtr("Spammer")})
	}

	for i := 0; i < 3; i++ {
		c.expect(lobby.TypeLobbyList)
	}
	for i := 0; i < 2; i++ {
		f := c.expect(TypeError)
		assert.True(strings.HasPrefix(f.Message, "RATE_LIMIT_EXCEEDED"), f.Message)
	}
}

func TestWebsocketConnectionRegistration(t *testing.T) {
	s, baseURL, cleanup := setupTestServer()
	defer cleanup()

	assert.Equal(t, 0, s.connectionManager.Count())

	c := dial(t, baseURL)
	c.expect(lobby.TypeLobbyList)
	assert.Equal(t, 1, s.connectionManager.Count())

	c.conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return s.connectionManager.Count() == 0 && s.hub.Stats().Connections == 0
	}, readTimeout, 10*time.Millisecond)
	assert.Equal(t, 0, s.rateLimiter.tracked())
}

func TestShutdown_ClosesClients(t *testing.T) {
	s, baseURL, cleanup := setupTestServer()
	defer cleanup()

	c := dial(t, baseURL)
	c.expect(lobby.TypeLobbyList)

	// The close handshake needs a reader on the client side.
	readErr := make(chan error, 1)
	go func() {
		readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer readCancel()
		_, _, err := c.conn.Read(readCtx)
		readErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	err := <-readErr
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	assert.Equal(t, 0, s.connectionManager.Count())
	assert.Equal(t, 0, s.hub.Stats().Connections)

	_, resp, err := websocket.Dial(ctx, wsURL(baseURL), nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}
