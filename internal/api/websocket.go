package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alexbotov/rgsclient/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the bridge is a local tool
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSClient represents a WebSocket client connection
type WSClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// HandleWebSocket handles GET /api/v1/ws. Every state snapshot is pushed
// as a "state" message, starting with the current one.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	unsubscribe := h.ctrl.Store().Subscribe(func(st domain.ClientState) {
		h.sendMessage(client, "state", h.view(st))
	})

	go client.writePump()
	go h.readPump(client, unsubscribe)
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket connection to the handler
func (h *Handler) readPump(c *WSClient, unsubscribe func()) {
	defer func() {
		unsubscribe()
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("websocket error")
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(c, CodeInvalidRequest, "Invalid message format")
			continue
		}

		h.handleWSMessage(c, &msg)
	}
}

// handleWSMessage processes incoming WebSocket messages. Results arrive as
// state pushes; only failures get a direct reply.
func (h *Handler) handleWSMessage(c *WSClient, msg *WSMessage) {
	ctx := context.Background()

	switch msg.Type {
	case "play":
		var payload BetRequest
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(c, CodeInvalidRequest, "Invalid bet payload")
			return
		}
		if err := h.checkBet(payload.Amount); err != nil {
			h.sendError(c, CodeInvalidBet, err.Error())
			return
		}
		h.runWS(c, func() error { return h.ctrl.PlaceBet(ctx, payload.Amount, payload.Mode) })

	case "end_round":
		h.runWS(c, func() error { return h.ctrl.EndRound(ctx) })

	case "balance":
		h.runWS(c, func() error { return h.ctrl.RefreshBalance(ctx) })

	case "ping":
		h.sendMessage(c, "pong", map[string]interface{}{
			"timestamp": time.Now().Unix(),
		})

	default:
		h.sendError(c, "UNKNOWN_MESSAGE", "Unknown message type: "+msg.Type)
	}
}

func (h *Handler) runWS(c *WSClient, op func() error) {
	h.opMu.Lock()
	err := op()
	msg := h.ctrl.Store().State().ErrorMessage()
	h.opMu.Unlock()

	if err != nil {
		_, code := classify(err)
		if msg == "" {
			msg = err.Error()
		}
		h.sendError(c, code, msg)
	}
}

// sendMessage queues a message; it is dropped when the client is closed or
// its buffer is full
func (h *Handler) sendMessage(c *WSClient, msgType string, payload interface{}) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("failed to encode websocket payload")
		return
	}
	msgBytes, _ := json.Marshal(WSMessage{
		Type:    msgType,
		Payload: payloadBytes,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- msgBytes:
	default:
		h.logger.Warn().Str("type", msgType).Msg("websocket buffer full, message dropped")
	}
}

// sendError sends an error message to the client
func (h *Handler) sendError(c *WSClient, code, message string) {
	h.sendMessage(c, "error", APIError{
		Code:    code,
		Message: message,
	})
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
