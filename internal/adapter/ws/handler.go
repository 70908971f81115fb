// Package ws serves observers over WebSocket. Every connection is attached to
// the coordinator as a broadcast sink and may send resolutions back.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/hitl/internal/domain/event"
	"github.com/Strob0t/hitl/internal/port/broadcast"
)

const (
	readLimit           = 64 << 10
	defaultWriteTimeout = 10 * time.Second
)

// Message is the envelope for all WebSocket messages in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Coordinator is the part of the service the WebSocket adapter drives.
type Coordinator interface {
	Attach(ctx context.Context, sink broadcast.Sink) error
	Detach(sink broadcast.Sink)
	Approve(ctx context.Context, id string, mods map[string]any) bool
	Deny(ctx context.Context, id string) bool
	SubmitResponse(ctx context.Context, id, text string) bool
}

// conn wraps a single WebSocket connection and implements broadcast.Sink.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	remote string
}

func (c *conn) Send(ctx context.Context, ev event.Event) error {
	data, err := encode(ev)
	if err != nil {
		// A payload that cannot be encoded is not the connection's fault.
		slog.Error("websocket marshal failed", "type", ev.Type, "error", err)
		return nil
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Evicted is called by the fan-out hub when this connection is dropped.
func (c *conn) Evicted(reason error) {
	slog.Debug("websocket evicted", "remote", c.remote, "error", reason)
	c.cancel()
}

func encode(ev event.Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: string(ev.Type), Payload: payload})
}

// Hub accepts WebSocket connections and tracks the live ones.
type Hub struct {
	coord          Coordinator
	originPatterns []string

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub. originPatterns restricts cross-origin upgrades; an
// empty list or "*" accepts any origin (CORS is handled by middleware).
func NewHub(coord Coordinator, originPatterns ...string) *Hub {
	return &Hub{
		coord:          coord,
		originPatterns: originPatterns,
		conns:          make(map[*conn]struct{}),
	}
}

func (h *Hub) acceptOptions() *websocket.AcceptOptions {
	if len(h.originPatterns) == 0 || (len(h.originPatterns) == 1 && h.originPatterns[0] == "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
}

// HandleWS upgrades the request and serves the connection until it closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c := &conn{ws: ws, cancel: cancel, remote: r.RemoteAddr}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	defer h.remove(c)

	if err := h.coord.Attach(ctx, c); err != nil {
		slog.Warn("websocket attach failed", "remote", c.remote, "error", err)
		_ = ws.Close(websocket.StatusTryAgainLater, "server shutting down")
		return
	}
	defer h.coord.Detach(c)

	slog.Info("websocket connected", "remote", c.remote)
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				slog.Debug("websocket read ended", "remote", c.remote, "error", err)
			}
			_ = ws.Close(websocket.StatusNormalClosure, "")
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := h.dispatch(ctx, data); err != nil {
			slog.Warn("websocket message rejected", "remote", c.remote, "error", err)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "remote", c.remote)
	}
}

// Client message types.
const (
	MsgUserResponse = "user_response"
	MsgApprove      = "approve"
	MsgDeny         = "deny"
)

type userResponsePayload struct {
	Text       string `json:"text"`
	QuestionID string `json:"question_id"`
}

type approvePayload struct {
	ID            string         `json:"id"`
	Modifications map[string]any `json:"modifications"`
}

type denyPayload struct {
	ID string `json:"id"`
}

func (h *Hub) dispatch(ctx context.Context, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch msg.Type {
	case MsgUserResponse:
		var p userResponsePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		h.coord.SubmitResponse(ctx, p.QuestionID, p.Text)
	case MsgApprove:
		var p approvePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		if !h.coord.Approve(ctx, p.ID, p.Modifications) {
			slog.Debug("approve for unknown id", "call_id", p.ID)
		}
	case MsgDeny:
		var p denyPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		if !h.coord.Deny(ctx, p.ID) {
			slog.Debug("deny for unknown id", "call_id", p.ID)
		}
	default:
		slog.Info("unhandled websocket message type", "type", msg.Type)
	}
	return nil
}
