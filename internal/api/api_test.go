package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alexbotov/rgsclient/internal/auth"
	"github.com/alexbotov/rgsclient/internal/config"
	"github.com/alexbotov/rgsclient/internal/controller"
	"github.com/alexbotov/rgsclient/internal/domain"
	"github.com/alexbotov/rgsclient/internal/rgstest"
	"github.com/alexbotov/rgsclient/pkg/rgs"
)

const testSession = "session-1"

func ptr[T any](v T) *T { return &v }

// testBridge wires a fake RGS, the controller and the bridge router
type testBridge struct {
	RGS  *rgstest.Server
	Srv  *httptest.Server
	Ctrl *controller.Controller
}

func newTestBridge(t *testing.T, bridgeCfg config.BridgeConfig) *testBridge {
	t.Helper()

	fake := rgstest.New(testSession, 100_000_000)
	t.Cleanup(fake.Close)

	client := rgs.NewClient(&rgs.ClientConfig{
		BaseURL:   fake.URL,
		SessionID: testSession,
		Timeout:   5 * time.Second,
	})
	ctrl := controller.New(client, nil, domain.DefaultConverter())

	if bridgeCfg.TokenTTL == 0 {
		bridgeCfg.TokenTTL = time.Hour
	}
	h := New(ctrl, auth.New(&bridgeCfg), zerolog.Nop())

	srv := httptest.NewServer(h.SetupRouter())
	t.Cleanup(srv.Close)

	return &testBridge{RGS: fake, Srv: srv, Ctrl: ctrl}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func (b *testBridge) do(t *testing.T, method, path string, body interface{}, token string) (int, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, b.Srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decodeState(t *testing.T, raw json.RawMessage) StateView {
	t.Helper()
	var v StateView
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealth(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})

	status, resp := b.do(t, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)
	assert.Contains(t, string(resp.Data), `"healthy"`)
}

func TestNotFound(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})

	status, resp := b.do(t, "GET", "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestRoundLifecycle(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})

	status, resp := b.do(t, "GET", "/api/v1/state", nil, "")
	require.Equal(t, http.StatusOK, status)
	st := decodeState(t, resp.Data)
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Nil(t, st.Balance)

	status, resp = b.do(t, "POST", "/api/v1/initialize", nil, "")
	require.Equal(t, http.StatusOK, status, "error: %+v", resp.Error)
	st = decodeState(t, resp.Data)
	require.NotNil(t, st.Balance)
	assert.Equal(t, 100.0, *st.Balance)
	assert.Equal(t, "USD", st.Currency)
	assert.True(t, st.CanPlay)

	// Losing bet returns straight to idle
	status, resp = b.do(t, "POST", "/api/v1/bet", BetRequest{Amount: 1, Mode: "BASE"}, "")
	require.Equal(t, http.StatusOK, status, "error: %+v", resp.Error)
	st = decodeState(t, resp.Data)
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Equal(t, 99.0, *st.Balance)
	assert.Nil(t, st.CurrentRound)

	// Winning bet waits for end-round
	b.RGS.QueuePayouts(ptr(2.5))
	status, resp = b.do(t, "POST", "/api/v1/bet", BetRequest{Amount: 2, Mode: "BASE"}, "")
	require.Equal(t, http.StatusOK, status, "error: %+v", resp.Error)
	st = decodeState(t, resp.Data)
	assert.Equal(t, domain.PhasePlaying, st.Phase)
	assert.True(t, st.NeedsEndRound)
	assert.Equal(t, 2.5, st.LastWin)
	require.NotNil(t, st.CurrentRound)
	assert.Equal(t, "active", st.CurrentRound.State)

	status, resp = b.do(t, "POST", "/api/v1/event", EventRequest{Event: "1"}, "")
	require.Equal(t, http.StatusOK, status, "error: %+v", resp.Error)

	status, resp = b.do(t, "POST", "/api/v1/end-round", nil, "")
	require.Equal(t, http.StatusOK, status, "error: %+v", resp.Error)
	st = decodeState(t, resp.Data)
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Equal(t, 102.0, *st.Balance)

	status, resp = b.do(t, "POST", "/api/v1/balance/refresh", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 102.0, *decodeState(t, resp.Data).Balance)

	assert.Equal(t, 2, b.RGS.Count(rgs.PathPlay))
	assert.Equal(t, 1, b.RGS.Count(rgs.PathEndRound))
	assert.Equal(t, 1, b.RGS.Count(rgs.PathEvent))
}

func TestPreconditionFailure(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})

	status, resp := b.do(t, "POST", "/api/v1/end-round", nil, "")
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodePrecondition, resp.Error.Code)
	assert.Equal(t, "No active round to end", resp.Error.Message)
	assert.Zero(t, b.RGS.Count(rgs.PathEndRound))

	status, resp = b.do(t, "POST", "/api/v1/bet", BetRequest{Amount: 1}, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Cannot place bet in current state", resp.Error.Message)
}

func TestBetOutsideLimits(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})
	status, _ := b.do(t, "POST", "/api/v1/initialize", nil, "")
	require.Equal(t, http.StatusOK, status)

	status, resp := b.do(t, "POST", "/api/v1/bet", BetRequest{Amount: 0.05, Mode: "BASE"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidBet, resp.Error.Code)
	assert.Zero(t, b.RGS.Count(rgs.PathPlay))

	status, _ = b.do(t, "POST", "/api/v1/bet", "not an object", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServerDeclaredFailure(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})
	status, _ := b.do(t, "POST", "/api/v1/initialize", nil, "")
	require.Equal(t, http.StatusOK, status)

	b.RGS.FailNext(rgs.PathPlay, &rgs.Error{Code: "ERR_GEN", Message: "game unavailable"})
	status, resp := b.do(t, "POST", "/api/v1/bet", BetRequest{Amount: 1, Mode: "BASE"}, "")
	assert.Equal(t, http.StatusBadGateway, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ERR_GEN", resp.Error.Code)
	assert.Equal(t, "Bet failed: game unavailable", resp.Error.Message)

	_, resp = b.do(t, "GET", "/api/v1/state", nil, "")
	st := decodeState(t, resp.Data)
	assert.Equal(t, domain.PhaseError, st.Phase)
	assert.Nil(t, st.CurrentRound)

	// Re-authentication recovers
	status, resp = b.do(t, "POST", "/api/v1/initialize", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.PhaseIdle, decodeState(t, resp.Data).Phase)
}

func TestRefreshFailureKeepsPhase(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})
	status, _ := b.do(t, "POST", "/api/v1/initialize", nil, "")
	require.Equal(t, http.StatusOK, status)

	b.RGS.FailNextStatus(rgs.PathBalance, http.StatusServiceUnavailable)
	status, resp := b.do(t, "POST", "/api/v1/balance/refresh", nil, "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, rgs.ErrCodeNetwork, resp.Error.Code)
	assert.Equal(t, "Balance refresh failed: HTTP 503: Service Unavailable", resp.Error.Message)

	_, resp = b.do(t, "GET", "/api/v1/state", nil, "")
	assert.Equal(t, domain.PhaseIdle, decodeState(t, resp.Data).Phase)
}

func TestEventRequiresName(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})

	status, resp := b.do(t, "POST", "/api/v1/event", EventRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestLimits(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})

	status, resp := b.do(t, "GET", "/api/v1/limits", nil, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeNotInitialized, resp.Error.Code)

	status, _ = b.do(t, "POST", "/api/v1/initialize", nil, "")
	require.Equal(t, http.StatusOK, status)

	status, resp = b.do(t, "GET", "/api/v1/limits", nil, "")
	require.Equal(t, http.StatusOK, status)
	var summary struct {
		MinBet     float64 `json:"minBet"`
		MaxBet     float64 `json:"maxBet"`
		DefaultBet float64 `json:"defaultBet"`
		Levels     []struct {
			Level  int     `json:"level"`
			Amount float64 `json:"amount"`
		} `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Equal(t, 0.1, summary.MinBet)
	assert.Equal(t, 100.0, summary.MaxBet)
	assert.Equal(t, 1.0, summary.DefaultBet)
	assert.Len(t, summary.Levels, 3)
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)
	b := newTestBridge(t, config.BridgeConfig{JWTSecret: "bridge-secret", PasswordHash: string(hash)})

	status, resp := b.do(t, "GET", "/api/v1/state", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, CodeNoToken, resp.Error.Code)

	status, resp = b.do(t, "GET", "/api/v1/state", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, CodeInvalidToken, resp.Error.Code)

	status, resp = b.do(t, "POST", "/auth/token", TokenRequest{Password: "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, CodeInvalidLogin, resp.Error.Code)

	status, resp = b.do(t, "POST", "/auth/token", TokenRequest{Password: "letmein"}, "")
	require.Equal(t, http.StatusOK, status)
	var tok struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &tok))
	require.NotEmpty(t, tok.Token)

	status, _ = b.do(t, "GET", "/api/v1/state", nil, tok.Token)
	assert.Equal(t, http.StatusOK, status)

	// Health stays public
	status, _ = b.do(t, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestTokenWhenAuthDisabled(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})

	status, resp := b.do(t, "POST", "/auth/token", TokenRequest{Password: "x"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeAuthDisabled, resp.Error.Code)
}

// WebSocket helpers

func dialWS(t *testing.T, b *testBridge, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(b.Srv.URL, "http") + "/api/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until match returns true
func readUntil(t *testing.T, conn *websocket.Conn, match func(WSMessage) bool) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func stateMatching(t *testing.T, pred func(StateView) bool) func(WSMessage) bool {
	return func(msg WSMessage) bool {
		if msg.Type != "state" {
			return false
		}
		return pred(decodeState(t, msg.Payload))
	}
}

func TestWebSocketStateFeed(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})
	conn := dialWS(t, b, "")

	first := readUntil(t, conn, func(WSMessage) bool { return true })
	require.Equal(t, "state", first.Type)
	assert.Equal(t, domain.PhaseIdle, decodeState(t, first.Payload).Phase)

	status, _ := b.do(t, "POST", "/api/v1/initialize", nil, "")
	require.Equal(t, http.StatusOK, status)
	readUntil(t, conn, stateMatching(t, func(v StateView) bool { return v.Balance != nil && *v.Balance == 100 }))

	b.RGS.QueuePayouts(ptr(3.0))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "play",
		"payload": map[string]interface{}{"amount": 1, "mode": "BASE"},
	}))
	readUntil(t, conn, stateMatching(t, func(v StateView) bool { return v.NeedsEndRound }))

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "end_round"}))
	readUntil(t, conn, stateMatching(t, func(v StateView) bool {
		return v.Phase == domain.PhaseIdle && v.Balance != nil && *v.Balance == 102
	}))

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ping"}))
	readUntil(t, conn, func(m WSMessage) bool { return m.Type == "pong" })
}

func TestWebSocketErrors(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{})
	conn := dialWS(t, b, "")

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "end_round"}))
	msg := readUntil(t, conn, func(m WSMessage) bool { return m.Type == "error" })
	var apiErr APIError
	require.NoError(t, json.Unmarshal(msg.Payload, &apiErr))
	assert.Equal(t, CodePrecondition, apiErr.Code)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "dance"}))
	msg = readUntil(t, conn, func(m WSMessage) bool { return m.Type == "error" })
	require.NoError(t, json.Unmarshal(msg.Payload, &apiErr))
	assert.Equal(t, "UNKNOWN_MESSAGE", apiErr.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msg = readUntil(t, conn, func(m WSMessage) bool { return m.Type == "error" })
	require.NoError(t, json.Unmarshal(msg.Payload, &apiErr))
	assert.Equal(t, CodeInvalidRequest, apiErr.Code)
}

func TestWebSocketRequiresToken(t *testing.T) {
	b := newTestBridge(t, config.BridgeConfig{JWTSecret: "bridge-secret"})

	url := "ws" + strings.TrimPrefix(b.Srv.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, _, err := auth.New(&config.BridgeConfig{JWTSecret: "bridge-secret", TokenTTL: time.Hour}).IssueToken(auth.Subject)
	require.NoError(t, err)
	conn := dialWS(t, b, "?token="+token)
	first := readUntil(t, conn, func(WSMessage) bool { return true })
	assert.Equal(t, "state", first.Type)
}
