package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"automation-gateway/api"
	"automation-gateway/internal/logging"
)

const eventWriteTimeout = 500 * time.Millisecond

// EventHub fans gateway events out to websocket subscribers. A subscriber
// receives gateway.ready on connect followed by every event published
// while it stays connected.
type EventHub struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	seq     atomic.Uint64
}

func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{logger: logging.OrDiscard(logger), clients: map[*websocket.Conn]struct{}{}}
}

func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Debug("events upgrade failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ready, err := h.encode(api.EventReady, nil)
	if err != nil || h.write(r.Context(), conn, ready) != nil {
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	defer h.drop(conn)

	// Subscribers only listen; reading surfaces the close frame.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Publish sends an event to every subscriber. Its signature matches
// term.EventFunc.
func (h *EventHub) Publish(typ string, data map[string]any) {
	msg, err := h.encode(typ, data)
	if err != nil {
		h.logger.Warn("event encode failed", "type", typ, "err", err)
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := h.write(context.Background(), c, msg); err != nil {
			h.drop(c)
			_ = c.Close(websocket.StatusPolicyViolation, "write failed")
		}
	}
}

// Subscribers reports the number of connected clients.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) encode(typ string, data map[string]any) ([]byte, error) {
	return json.Marshal(api.Event{
		Seq:  h.seq.Add(1),
		Type: typ,
		Time: time.Now().UTC().Format(time.RFC3339Nano),
		Data: data,
	})
}

func (h *EventHub) write(ctx context.Context, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, msg)
}

func (h *EventHub) drop(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
