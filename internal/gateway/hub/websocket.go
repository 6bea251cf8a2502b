package hub

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tanay1904/Drone/internal/gateway/session"
	"github.com/tanay1904/Drone/internal/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// wsClient is one connected WebSocket client. Only the write loop writes to conn.
type wsClient struct {
	id     string
	remote string
	conn   *websocket.Conn
	out    *outbox[[]byte]

	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.out.close()
		_ = c.conn.Close()
	})
}

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(h.allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(h.allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// ServeWS upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	c := &wsClient{
		id:     session.NewKey(),
		remote: r.RemoteAddr,
		conn:   conn,
		out:    newOutbox[[]byte](h.queueSize, h.queueSize),
	}

	// The handler context ends with the request; the client outlives it.
	ctx := context.WithoutCancel(r.Context())
	h.register(ctx, c)

	go h.writeLoop(c)
	h.readLoop(ctx, c)
}

func (h *Hub) register(ctx context.Context, c *wsClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	metrics.HubSinks.WithLabelValues(TransportWebSocket).Set(float64(n))
	h.log.Info("WebSocket client connected", "session", c.id, "remote", c.remote)

	info := session.Info{
		Transport:   TransportWebSocket,
		Remote:      c.remote,
		Server:      h.cluster.ActiveName(),
		ConnectedAt: h.clock.Now(),
	}
	if err := h.sessions.Put(ctx, c.id, info.Encode()); err != nil {
		h.log.Error(err, "Failed to register session", "session", c.id)
	}

	if b, err := h.stateEnvelope(true); err == nil {
		_, _ = c.out.pushState(b)
	}
}

func (h *Hub) unregister(ctx context.Context, c *wsClient) {
	c.close()

	h.mu.Lock()
	if h.clients[c.id] != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	metrics.HubSinks.WithLabelValues(TransportWebSocket).Set(float64(n))
	if err := h.sessions.Delete(ctx, c.id); err != nil {
		h.log.Error(err, "Failed to remove session", "session", c.id)
	}
	h.log.Info("WebSocket client disconnected", "session", c.id)
}

func (h *Hub) readLoop(ctx context.Context, c *wsClient) {
	defer h.unregister(ctx, c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("WebSocket read failed", "session", c.id, "error", err.Error())
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		h.Dispatch(ctx, Message{
			Kind:     KindOf(data),
			Source:   Source{Transport: TransportWebSocket, ID: c.id},
			DeviceID: h.deviceID,
			Payload:  data,
		})
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.out.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-c.out.ready:
			for {
				b, lane, ok := c.out.pop()
				if !ok {
					break
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
					if !errors.Is(err, websocket.ErrCloseSent) {
						h.log.Debug("WebSocket write failed", "session", c.id, "error", err.Error())
					}
					return
				}
				metrics.HubDeliveredTotal.WithLabelValues(TransportWebSocket, lane).Inc()
			}
		}
	}
}
