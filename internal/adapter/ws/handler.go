// Package ws streams training events to UI clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	// queueSize is the number of messages buffered per client. A client that
	// falls further behind loses messages instead of stalling the runs.
	queueSize    = 256
	writeTimeout = 5 * time.Second
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one WebSocket subscriber. An empty runID follows every run and an
// empty types set receives every message type.
type client struct {
	ws      *websocket.Conn
	cancel  context.CancelFunc
	runID   string
	types   map[string]bool
	queue   chan []byte
	dropped atomic.Int64
}

func (c *client) wants(runID, msgType string) bool {
	if c.runID != "" && runID != "" && c.runID != runID {
		return false
	}
	return len(c.types) == 0 || c.types[msgType]
}

// Hub fans messages out to the connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// HandleWS upgrades the request to a WebSocket subscription. The optional
// run_id query parameter restricts the stream to one run and types takes a
// comma-separated list of message types.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	// The subscription outlives the upgrade request.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &client{
		ws:     ws,
		cancel: cancel,
		runID:  r.URL.Query().Get("run_id"),
		types:  parseTypes(r.URL.Query().Get("types")),
		queue:  make(chan []byte, queueSize),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("websocket connected", "remote", r.RemoteAddr, "run_id", c.runID)

	// Clients only listen; CloseRead handles control frames and cancels
	// readCtx once the peer goes away.
	readCtx := ws.CloseRead(ctx)
	go h.write(readCtx, c)
}

// write delivers queued messages to c until the connection ends.
func (h *Hub) write(ctx context.Context, c *client) {
	defer func() {
		h.remove(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.queue:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "run_id", c.runID, "error", err)
				return
			}
		}
	}
}

// BroadcastToRun sends msg to the clients following runID and to the
// unfiltered clients. An empty runID reaches every client.
func (h *Hub) BroadcastToRun(runID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(runID, msg.Type) {
			continue
		}
		select {
		case c.queue <- data:
		default:
			if c.dropped.Add(1) == 1 {
				slog.Warn("websocket client too slow, dropping messages", "run_id", c.runID)
			}
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		c.cancel()
		delete(h.clients, c)
		slog.Info("websocket disconnected", "run_id", c.runID, "dropped", c.dropped.Load())
	}
}

func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	types := make(map[string]bool)
	for t := range strings.SplitSeq(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}
