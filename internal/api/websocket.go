package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mssola/useragent"

	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/operation"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`              // Message type
	ID      string          `json:"id,omitempty"`      // Request ID for request/response matching
	Payload json.RawMessage `json:"payload,omitempty"` // Message payload
	Error   string          `json:"error,omitempty"`   // Error message if any
}

// OperationEvent is broadcast to every client when any invocation finishes.
type OperationEvent struct {
	InvocationID string           `json:"invocationId"`
	Kind         operation.Kind   `json:"kind"`
	Status       operation.Status `json:"status"`
	Label        string           `json:"label,omitempty"`
	DurationMS   int64            `json:"durationMs"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *WSHub
	server *Server
	label  string

	mu     sync.Mutex // guards closed and sends on send
	closed bool
}

type pendingInvocation struct {
	client *WSClient
	msgID  string
}

// WSHub manages all WebSocket connections and the invocations they are waiting for.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex

	pendingMu sync.Mutex
	pending   map[uuid.UUID]pendingInvocation
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		pending:    make(map[uuid.UUID]pendingInvocation),
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) {
	// a hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.drop(client)
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.enqueue(message) {
					// slow consumer
					client.close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *WSHub) drop(client *WSClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()

	h.pendingMu.Lock()
	for id, p := range h.pending {
		if p.client == client {
			delete(h.pending, id)
		}
	}
	h.pendingMu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) track(id uuid.UUID, client *WSClient, msgID string) {
	h.pendingMu.Lock()
	h.pending[id] = pendingInvocation{client: client, msgID: msgID}
	h.pendingMu.Unlock()
}

func (h *WSHub) take(id uuid.UUID) (pendingInvocation, bool) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	p, ok := h.pending[id]
	delete(h.pending, id)
	return p, ok
}

// Deliver routes a completion event: the client that submitted the invocation
// receives the full result, every client receives a summary.
func (s *Server) Deliver(ev operation.Event) {
	if p, ok := s.hub.take(ev.Invocation.ID); ok {
		sent := p.client.sendResponse(p.msgID, "result", map[string]any{
			"invocationId": ev.Invocation.ID.String(),
			"kind":         ev.Invocation.Kind,
			"result":       ev.Result,
		})
		if !sent {
			logging.Warn(logging.CatWebSocket, "Dropped result frame", map[string]any{
				"invocationId": ev.Invocation.ID.String(),
				"kind":         ev.Invocation.Kind,
				"status":       ev.Result.Status,
				"client":       p.client.label,
			})
		}
	}

	summary, _ := json.Marshal(WSMessage{
		Type: "operation_completed",
		Payload: mustJSON(OperationEvent{
			InvocationID: ev.Invocation.ID.String(),
			Kind:         ev.Invocation.Kind,
			Status:       ev.Result.Status,
			Label:        ev.Invocation.Label,
			DurationMS:   ev.Finished.Sub(ev.Started).Milliseconds(),
		}),
	})
	select {
	case s.hub.broadcast <- summary:
	default:
		logging.Debug(logging.CatWebSocket, "Dropped completion broadcast", map[string]any{
			"kind": ev.Invocation.Kind,
		})
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// describeClient renders a user agent as e.g. "Firefox 128 on Linux x86_64".
func describeClient(userAgent string) string {
	if userAgent == "" {
		return "unknown client"
	}
	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	if major, _, ok := strings.Cut(version, "."); ok {
		version = major
	}
	desc := strings.TrimSpace(browser + " " + version)
	if osName := ua.OS(); osName != "" {
		desc += " on " + osName
	}
	return desc
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
			"error":      err.Error(),
			"remoteAddr": r.RemoteAddr,
		})
		return
	}

	client := &WSClient{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    s.hub,
		server: s,
		label:  "ws:" + r.RemoteAddr,
	}
	logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
		"remoteAddr": r.RemoteAddr,
		"client":     describeClient(r.UserAgent()),
	})

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket readPump", false)
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxBodyBytes)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"error": err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", nil)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket writePump", false)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"type": msg.Type,
		"id":   msg.ID,
	})

	switch msg.Type {
	case "perform":
		c.handlePerform(msg.ID, msg.Payload)
	case "version":
		c.sendResponse(msg.ID, "version", map[string]string{
			"version":   Version,
			"buildTime": BuildTime,
			"gitCommit": GitCommit,
		})
	case "health":
		c.sendResponse(msg.ID, "health", map[string]any{
			"ready":      c.server.Ready(),
			"operations": c.server.opts.Factory.Kinds(),
		})
	default:
		logging.Warn(logging.CatWebSocket, "Unknown message type", map[string]any{
			"type": msg.Type,
		})
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handlePerform submits the requested operation. The client gets "accepted"
// right away and "result" when the invocation completes.
func (c *WSClient) handlePerform(id string, payload json.RawMessage) {
	if !c.server.Ready() || c.server.opts.Runner == nil {
		c.sendError(id, "agent is not ready")
		return
	}

	var req PerformRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid perform payload")
		return
	}
	inv, err := req.Invocation(c.label)
	if err != nil {
		c.sendResponse(id, "result", map[string]any{
			"kind":   req.Kind,
			"result": operation.Exception(err),
		})
		return
	}

	// registered before submitting so a fast completion cannot be missed
	c.hub.track(inv.ID, c, id)
	if _, err := c.server.opts.Runner.Submit(inv); err != nil {
		c.hub.take(inv.ID)
		c.sendError(id, err.Error())
		return
	}
	c.sendResponse(id, "accepted", map[string]string{
		"invocationId": inv.ID.String(),
		"kind":         string(inv.Kind),
	})
}

// enqueue queues a frame without blocking. It reports false when the client
// is closed or its queue is full.
func (c *WSClient) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close closes the send queue, ending writePump. It is safe to call twice.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) sendResponse(id string, msgType string, payload any) bool {
	frame, _ := json.Marshal(WSMessage{
		Type:    msgType,
		ID:      id,
		Payload: mustJSON(payload),
	})
	return c.enqueue(frame)
}

func (c *WSClient) sendError(id string, errMsg string) bool {
	frame, _ := json.Marshal(WSMessage{
		Type:  "error",
		ID:    id,
		Error: errMsg,
	})
	return c.enqueue(frame)
}
