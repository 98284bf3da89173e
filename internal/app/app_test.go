package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchsync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var startTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *AppConfig {
	return &AppConfig{
		LogLevel:         "ERROR",
		Registry:         RegistryMemory,
		SessionTTL:       time.Hour,
		OrphanSessionTTL: time.Minute,
		SendBufferSize:   64,
	}
}

type testServer struct {
	*httptest.Server
	clock *clockwork.FakeClock
}

func newTestServer(t *testing.T, cfg *AppConfig) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(startTime)

	sessionRepo, closeRepo, err := newSessionRepo(context.Background(), cfg, clock, logger)
	require.NoError(t, err)
	t.Cleanup(closeRepo)

	srv := httptest.NewServer(NewHandler(sessionRepo, clock, cfg, logger))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, clock: clock}
}

type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (s *testServer) dial(t *testing.T) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return &wsClient{t: t, ws: ws}
}

func (c *wsClient) send(messageType, requestId string, payload any) {
	c.t.Helper()

	require.NoError(c.t, c.ws.WriteJSON(protocol.Output{Type: messageType, RequestId: requestId, Payload: payload}))
}

func (c *wsClient) read() protocol.Message {
	c.t.Helper()

	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg protocol.Message
	require.NoError(c.t, c.ws.ReadJSON(&msg))

	return msg
}

func (c *wsClient) expect(messageType, requestId string) protocol.Message {
	c.t.Helper()

	msg := c.read()
	require.Equal(c.t, messageType, msg.Type, "payload: %s", msg.Payload)
	assert.Equal(c.t, requestId, msg.RequestId)

	return msg
}

func (c *wsClient) expectState(requestId string) protocol.PlayerState {
	c.t.Helper()

	msg := c.expect(protocol.TypeSetPlayerState, requestId)
	var state protocol.PlayerState
	require.NoError(c.t, json.Unmarshal(msg.Payload, &state))

	return state
}

func (c *wsClient) createAndJoin(sessionId, mediaRef string) {
	c.t.Helper()

	c.send(protocol.TypeCreateSession, "create", protocol.CreateSessionPayload{SessionId: sessionId, MediaRef: mediaRef})
	c.expect(protocol.TypeSessionCreated, "create")
	c.join(sessionId, mediaRef)
}

func (c *wsClient) join(sessionId, mediaRef string) {
	c.t.Helper()

	c.send(protocol.TypeJoinSession, "join", sessionId)
	msg := c.expect(protocol.TypeUpdateURL, "join")
	assert.JSONEq(c.t, strconv.Quote(mediaRef), string(msg.Payload))
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, testConfig())
	a := srv.dial(t)
	b := srv.dial(t)

	a.createAndJoin("movie-night", "https://example.com/a")
	a.send(protocol.TypePlayerStateInit, "init-a", nil)
	a.expect(protocol.TypeStartPlayback, "init-a")

	b.join("movie-night", "https://example.com/a")

	a.send(protocol.TypePlayerStateChanged, "", protocol.PlayerState{Playing: false, Position: protocol.Float(10)})
	state := b.expectState("")
	assert.False(t, state.Playing)
	require.NotNil(t, state.Position)
	assert.Equal(t, 10.0, *state.Position)

	srv.clock.Advance(5 * time.Second)
	b.send(protocol.TypePlayerStateInit, "init-b", nil)
	state = b.expectState("init-b")
	assert.False(t, state.Playing)
	assert.InDelta(t, 10.0, *state.Position, 1e-9)

	a.send(protocol.TypePlayerStateChanged, "", protocol.PlayerState{Playing: true})
	state = b.expectState("")
	assert.True(t, state.Playing)
	assert.Nil(t, state.Position, "toggle is relayed without a position")

	srv.clock.Advance(5 * time.Second)
	b.send(protocol.TypePlayerStateInit, "init-b2", nil)
	state = b.expectState("init-b2")
	assert.True(t, state.Playing)
	assert.InDelta(t, 15.0, *state.Position, 1e-9)

	b.send(protocol.TypeSwitchURL, "", "https://example.com/b")
	for _, c := range []*wsClient{a, b} {
		msg := c.expect(protocol.TypeUpdateURL, "")
		assert.JSONEq(t, `"https://example.com/b"`, string(msg.Payload))
	}

	b.send(protocol.TypePlayerStateInit, "init-b3", nil)
	b.expect(protocol.TypeStartPlayback, "init-b3")
}

func TestSessionRemovedWhenRoomEmpties(t *testing.T) {
	srv := newTestServer(t, testConfig())
	a := srv.dial(t)

	a.createAndJoin("short-lived", "https://example.com/a")
	resp := getSession(t, srv, "short-lived")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.ws.Close())

	assert.Eventually(t, func() bool {
		return getSession(t, srv, "short-lived").StatusCode == http.StatusNotFound
	}, 5*time.Second, 10*time.Millisecond)

	c := srv.dial(t)
	c.send(protocol.TypeJoinSession, "late", "short-lived")
	c.expect(protocol.TypeSessionNotFound, "late")
}

func TestLeaveSession(t *testing.T) {
	srv := newTestServer(t, testConfig())
	a := srv.dial(t)
	b := srv.dial(t)

	a.createAndJoin("pair", "https://example.com/a")
	b.join("pair", "https://example.com/a")

	b.send(protocol.TypeLeaveSession, "", "pair")
	b.send(protocol.TypeJoinSession, "barrier-b", "nope")
	b.expect(protocol.TypeSessionNotFound, "barrier-b")

	a.send(protocol.TypePlayerStateChanged, "", protocol.PlayerState{Playing: false, Position: protocol.Float(3)})
	a.send(protocol.TypeJoinSession, "barrier-a", "nope")
	a.expect(protocol.TypeSessionNotFound, "barrier-a")

	// the state change above must not have reached b
	b.send(protocol.TypeJoinSession, "rejoin", "pair")
	b.expect(protocol.TypeUpdateURL, "rejoin")
}

func TestIncompleteStateChangeIsNotRelayed(t *testing.T) {
	srv := newTestServer(t, testConfig())
	a := srv.dial(t)
	b := srv.dial(t)

	a.createAndJoin("strict", "https://example.com/a")
	b.join("strict", "https://example.com/a")

	a.send(protocol.TypePlayerStateChanged, "empty", nil)
	a.expect(protocol.TypeError, "empty")
	a.send(protocol.TypePlayerStateChanged, "no-playing", map[string]float64{"position": 42})
	a.expect(protocol.TypeError, "no-playing")

	a.send(protocol.TypePlayerStateChanged, "", protocol.PlayerState{Playing: false, Position: protocol.Float(5)})

	// the rejected messages must not have reached b before this one
	state := b.expectState("")
	assert.False(t, state.Playing)
	require.NotNil(t, state.Position)
	assert.Equal(t, 5.0, *state.Position)

	srv.clock.Advance(time.Second)
	b.send(protocol.TypePlayerStateInit, "init", nil)
	state = b.expectState("init")
	assert.False(t, state.Playing)
	assert.InDelta(t, 5.0, *state.Position, 1e-9)
}

func TestInvalidMessages(t *testing.T) {
	srv := newTestServer(t, testConfig())
	a := srv.dial(t)

	tests := []struct {
		name        string
		messageType string
		payload     any
		code        string
	}{
		{"unknown type", "launch_rockets", nil, protocol.CodeUnknownType},
		{"missing session id", protocol.TypeCreateSession, protocol.CreateSessionPayload{MediaRef: "m"}, protocol.CodeInvalidPayload},
		{"wrong payload shape", protocol.TypeJoinSession, map[string]int{"x": 1}, protocol.CodeInvalidPayload},
		{"negative position", protocol.TypePlayerStateChanged, protocol.PlayerState{Position: protocol.Float(-1)}, protocol.CodeInvalidPayload},
		{"state change without payload", protocol.TypePlayerStateChanged, nil, protocol.CodeInvalidPayload},
		{"state change without playing", protocol.TypePlayerStateChanged, map[string]float64{"position": 42}, protocol.CodeInvalidPayload},
		{"state change with non-bool playing", protocol.TypePlayerStateChanged, map[string]string{"playing": "yes"}, protocol.CodeInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.send(tt.messageType, tt.name, tt.payload)
			msg := a.expect(protocol.TypeError, tt.name)

			var payload protocol.ErrorPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &payload))
			assert.Equal(t, tt.code, payload.Code)
		})
	}

	a.send(protocol.TypeCreateSession, "dup-1", protocol.CreateSessionPayload{SessionId: "dup", MediaRef: "m"})
	a.expect(protocol.TypeSessionCreated, "dup-1")
	a.send(protocol.TypeCreateSession, "dup-2", protocol.CreateSessionPayload{SessionId: "dup", MediaRef: "m"})
	msg := a.expect(protocol.TypeError, "dup-2")
	assert.Contains(t, string(msg.Payload), protocol.CodeAlreadyExists)
}

func postSession(t *testing.T, srv *testServer, body string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Post(srv.URL+"/api/v1/sessions/", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))

	return resp, decoded
}

func getSession(t *testing.T, srv *testServer, sessionId string) *http.Response {
	t.Helper()

	resp, err := http.Get(srv.URL + "/api/v1/sessions/" + sessionId)
	require.NoError(t, err)
	resp.Body.Close()

	return resp
}

func testRESTSessions(t *testing.T, cfg *AppConfig) {
	srv := newTestServer(t, cfg)

	resp, body := postSession(t, srv, `{"media_ref":"https://example.com/a"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	generated := body["data"].(map[string]any)["session_id"].(string)
	assert.NotEmpty(t, generated)

	resp, _ = postSession(t, srv, `{"session_id":"named","media_ref":"https://example.com/b"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = postSession(t, srv, `{"session_id":"named","media_ref":"https://example.com/b"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = postSession(t, srv, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = postSession(t, srv, `{"media_ref":`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	a := srv.dial(t)
	a.join("named", "https://example.com/b")
	srv.clock.Advance(3 * time.Second)

	httpResp, err := http.Get(srv.URL + "/api/v1/sessions/named")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var described struct {
		Data struct {
			SessionId string  `json:"session_id"`
			MediaRef  string  `json:"media_ref"`
			Playing   bool    `json:"playing"`
			Position  float64 `json:"position"`
			Started   bool    `json:"started"`
			Members   int     `json:"members"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&described))
	assert.Equal(t, "named", described.Data.SessionId)
	assert.Equal(t, "https://example.com/b", described.Data.MediaRef)
	assert.True(t, described.Data.Playing)
	assert.InDelta(t, 3.0, described.Data.Position, 1e-9)
	assert.False(t, described.Data.Started)
	assert.Equal(t, 1, described.Data.Members)

	assert.Equal(t, http.StatusNotFound, getSession(t, srv, "missing").StatusCode)
}

func TestRESTSessions_Memory(t *testing.T) {
	testRESTSessions(t, testConfig())
}

func TestRESTSessions_Redis(t *testing.T) {
	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Registry = RegistryRedis
	cfg.RedisHost = s.Host()
	cfg.RedisPort = port

	testRESTSessions(t, cfg)
}

func TestRedisRegistryUsesConfiguredDB(t *testing.T) {
	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Registry = RegistryRedis
	cfg.RedisHost = s.Host()
	cfg.RedisPort = port
	cfg.RedisDB = 3
	srv := newTestServer(t, cfg)

	resp, _ := postSession(t, srv, `{"session_id":"in-db-3","media_ref":"https://example.com/a"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.True(t, s.DB(3).Exists("session:in-db-3"))
	assert.False(t, s.DB(0).Exists("session:in-db-3"))
}

func TestAppConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{"defaults", func(*AppConfig) {}, false},
		{"bad port", func(c *AppConfig) { c.Port = 70000 }, true},
		{"bad log level", func(c *AppConfig) { c.LogLevel = "loud" }, true},
		{"lowercase log level", func(c *AppConfig) { c.LogLevel = "debug" }, false},
		{"unknown registry", func(c *AppConfig) { c.Registry = "etcd" }, true},
		{"redis without host", func(c *AppConfig) { c.Registry = RegistryRedis }, true},
		{"redis with host", func(c *AppConfig) { c.Registry = RegistryRedis; c.RedisHost = "localhost" }, false},
		{"redis without ttl", func(c *AppConfig) {
			c.Registry = RegistryRedis
			c.RedisHost = "localhost"
			c.SessionTTL = 0
		}, true},
		{"redis negative db", func(c *AppConfig) {
			c.Registry = RegistryRedis
			c.RedisHost = "localhost"
			c.RedisDB = -1
		}, true},
		{"negative orphan ttl", func(c *AppConfig) { c.OrphanSessionTTL = -time.Second }, true},
		{"zero send buffer", func(c *AppConfig) { c.SendBufferSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
