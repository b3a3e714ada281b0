// Package ws pushes the chat render state to connected browsers over
// WebSocket. The hub broadcasts the full StateView after every store
// mutation, replacing client-side polling.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/akarpov/minichat/internal/chat"
	"github.com/coder/websocket"
)

// writeTimeout bounds a single broadcast write per connection.
const writeTimeout = 5 * time.Second

// Hub tracks connected clients and fans state updates out to them.
type Hub struct {
	state func() chat.StateView

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates a hub. The state function supplies the current render
// state for newly connected clients.
func NewHub(state func() chat.StateView) *Hub {
	return &Hub{
		state: state,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Broadcast sends the view to every connected client. Connections that
// fail to accept the write are closed and dropped.
func (h *Hub) Broadcast(view chat.StateView) {
	data, err := json.Marshal(view)
	if err != nil {
		slog.Error("Failed to encode state update", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("Dropping slow or closed WebSocket client", "error", err)
			_ = conn.Close(websocket.StatusPolicyViolation, "write failed")
			delete(h.conns, conn)
		}
	}
}

// ServeHTTP upgrades the request and streams state updates until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}

	// Send the current state immediately so the client can render without
	// waiting for the next mutation.
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	initial, err := json.Marshal(h.state())
	if err == nil {
		err = conn.Write(ctx, websocket.MessageText, initial)
	}
	cancel()
	if err != nil {
		slog.Debug("Failed to send initial state", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "initial state failed")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	slog.Info("WebSocket client connected", "ip", r.RemoteAddr)

	// Drain incoming frames; the feed is one-way and the read loop only
	// serves to detect disconnection.
	readCtx := r.Context()
	for {
		if _, _, err := conn.Read(readCtx); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	slog.Info("WebSocket client disconnected", "ip", r.RemoteAddr)
}
