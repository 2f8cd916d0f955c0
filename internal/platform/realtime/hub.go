package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteWait    = 10 * time.Second
	maxInboundMessage   = 512
)

var clientMessageTypes = map[string]string{
	EventOrderStatusUpdate: "order_update",
	EventNewOrderCreated:   "new_order",
}

// Envelope is the payload the broadcaster publishes on the fabric.
type Envelope struct {
	Event string          `json:"event"`
	Order json.RawMessage `json:"order"`
}

// ClientMessage is the frame written to websocket clients.
type ClientMessage struct {
	Type  string          `json:"type"`
	Order json.RawMessage `json:"order"`
}

// ToClientMessage maps a fabric envelope to the socket frame. Unknown events are dropped.
func ToClientMessage(payload []byte) ([]byte, bool) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, false
	}
	kind, ok := clientMessageTypes[env.Event]
	if !ok {
		return nil, false
	}
	out, err := json.Marshal(ClientMessage{Type: kind, Order: env.Order})
	if err != nil {
		return nil, false
	}
	return out, true
}

// Hub tracks live websocket connections and pumps fabric messages into them.
type Hub struct {
	fabric       Subscriber
	logger       *zap.Logger
	pingInterval time.Duration
	writeWait    time.Duration
	gauge        func(delta float64)

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// HubOption customises the hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPingInterval sets the keepalive period. The read deadline is twice the interval.
func WithPingInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithWriteWait bounds each frame write.
func WithWriteWait(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.writeWait = d
		}
	}
}

// WithClientGauge receives +1/-1 as connections come and go.
func WithClientGauge(fn func(delta float64)) HubOption {
	return func(h *Hub) { h.gauge = fn }
}

// NewHub constructs a hub reading from fabric.
func NewHub(fabric Subscriber, opts ...HubOption) *Hub {
	h := &Hub{
		fabric:       fabric,
		logger:       zap.NewNop(),
		pingInterval: defaultPingInterval,
		writeWait:    defaultWriteWait,
		clients:      make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ErrHubClosed is returned by Serve after Close.
var ErrHubClosed = errors.New("realtime: hub closed")

// Serve owns conn until the client disconnects, ctx ends or the hub closes.
// It always closes conn before returning.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, channels []string) error {
	if !h.register(conn) {
		_ = conn.Close()
		return ErrHubClosed
	}
	defer h.unregister(conn)

	sub, err := h.fabric.Subscribe(ctx, channels...)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(h.writeWait))
		_ = conn.Close()
		return err
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.readPump(conn, cancel)

	err = h.writePump(ctx, conn, sub)
	_ = conn.Close()
	return err
}

// readPump discards inbound frames; its only jobs are pong handling and noticing disconnects.
func (h *Hub) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	pongWait := 2 * h.pingInterval
	conn.SetReadLimit(maxInboundMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(ctx context.Context, conn *websocket.Conn, sub Subscription) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeWait))
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			frame, ok := ToClientMessage(msg.Payload)
			if !ok {
				h.logger.Debug("realtime: dropping unknown event", zap.String("channel", msg.Channel))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait)); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[conn] = struct{}{}
	if h.gauge != nil {
		h.gauge(1)
	}
	return true
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	if h.gauge != nil {
		h.gauge(-1)
	}
}

// Count reports live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.writeWait))
		_ = conn.Close()
	}
}
