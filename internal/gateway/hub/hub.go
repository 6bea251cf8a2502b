package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/tanay1904/Drone/internal/gateway/cluster"
	"github.com/tanay1904/Drone/internal/gateway/session"
	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/metrics"
	"github.com/tanay1904/Drone/pkg/log"
)

// Snapshotter provides the state to broadcast.
type Snapshotter interface {
	Snapshot() *state.VehicleState
}

// ClusterView provides the cluster data included in STATE envelopes.
type ClusterView interface {
	ActiveName() string
	Members() []cluster.Member
}

type Config struct {
	DeviceID       string
	State          Snapshotter
	Cluster        ClusterView
	Sessions       session.Store
	Bus            *Bus
	QueueSize      int
	AllowedOrigins []string
	Clock          clock.PassiveClock
}

// Hub fans state out to every connected sink and feeds inbound traffic from
// every transport to one Handler.
type Hub struct {
	deviceID       string
	state          Snapshotter
	cluster        ClusterView
	sessions       session.Store
	bus            *Bus
	queueSize      int
	allowedOrigins []string
	clock          clock.PassiveClock
	log            log.Logger

	handler Handler

	mu      sync.RWMutex
	clients map[string]*wsClient
}

var _ cluster.Notifier = (*Hub)(nil)

func New(cfg Config) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewMemoryStore()
	}
	return &Hub{
		deviceID:       cfg.DeviceID,
		state:          cfg.State,
		cluster:        cfg.Cluster,
		sessions:       cfg.Sessions,
		bus:            cfg.Bus,
		queueSize:      cfg.QueueSize,
		allowedOrigins: cfg.AllowedOrigins,
		clock:          cfg.Clock,
		log:            log.WithName("hub"),
		clients:        make(map[string]*wsClient),
	}
}

// SetCluster installs the cluster view reported in state envelopes. Like
// SetHandler it must be called before any transport starts.
func (h *Hub) SetCluster(view ClusterView) {
	h.cluster = view
}

// SetHandler installs the consumer of inbound messages. It must be called
// before any transport starts.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// Dispatch hands msg to the handler. A failure is reported back to the
// source when it is a live client.
func (h *Hub) Dispatch(ctx context.Context, msg Message) {
	if h.handler == nil {
		return
	}
	err := h.handler.Handle(ctx, msg)
	if err == nil {
		return
	}

	h.log.Warn("Inbound message failed", "kind", msg.Kind, "source", msg.Source.Transport, "id", msg.Source.ID, "error", err.Error())
	if msg.Source.Transport != TransportWebSocket {
		return
	}
	reply := ErrorReply{Type: TypeError, Kind: msg.Kind, Message: err.Error()}
	if serr := h.SendTo(ctx, msg.Source.ID, reply); serr != nil && !errors.Is(serr, ErrSinkClosed) {
		h.log.Warn("Failed to report error to client", "session", msg.Source.ID, "error", serr.Error())
	}
}

// Broadcast sends the current snapshot to every client and to the bus state
// topic. Slow sinks lose older snapshots, never the newest.
func (h *Hub) Broadcast() {
	env, err := h.stateEnvelope(false)
	if err != nil {
		h.log.Error(err, "Failed to encode state")
		return
	}

	for _, c := range h.snapshotClients() {
		dropped, err := c.out.pushState(env)
		if err != nil {
			continue
		}
		if dropped > 0 {
			metrics.HubDroppedTotal.WithLabelValues(TransportWebSocket).Add(float64(dropped))
		}
	}

	if h.bus != nil {
		if b, err := json.Marshal(h.state.Snapshot()); err == nil {
			h.bus.PublishState(b)
		}
	}
}

// SendControl queues v for every client, waiting for room until ctx ends.
// Clients that have gone away are skipped; every other failure is returned.
func (h *Hub) SendControl(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range h.snapshotClients() {
		if err := c.out.pushControl(ctx, b); err != nil && !errors.Is(err, ErrSinkClosed) {
			errs = append(errs, fmt.Errorf("client %s: %w", c.id, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}

// SendTo queues v for one client.
func (h *Hub) SendTo(ctx context.Context, clientID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.sendBytes(ctx, clientID, b)
}

// SendState queues the current snapshot, with the cluster table, for one client.
func (h *Hub) SendState(ctx context.Context, clientID string) error {
	b, err := h.stateEnvelope(true)
	if err != nil {
		return err
	}
	return h.sendBytes(ctx, clientID, b)
}

func (h *Hub) sendBytes(ctx context.Context, clientID string, b []byte) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSinkClosed, clientID)
	}
	return c.out.pushControl(ctx, b)
}

// Publish sends v to a bus topic and waits for the broker.
func (h *Hub) Publish(ctx context.Context, topic string, v any) error {
	if h.bus == nil {
		return fmt.Errorf("%w: no bus configured", ErrSinkClosed)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, topic, b)
}

// PublishRaw sends payload to a bus topic unchanged.
func (h *Hub) PublishRaw(ctx context.Context, topic string, payload []byte) error {
	if h.bus == nil {
		return fmt.Errorf("%w: no bus configured", ErrSinkClosed)
	}
	return h.bus.Publish(ctx, topic, payload)
}

// SwitchNotice sends the advisory to every transport without waiting.
func (h *Hub) SwitchNotice(_ context.Context, from string, to cluster.Member) {
	b, err := json.Marshal(SwitchNotice{Type: TypeServerSwitch, From: from, To: to.Name, URL: to.URL})
	if err != nil {
		return
	}

	for _, c := range h.snapshotClients() {
		if err := c.out.tryControl(b); err != nil && !errors.Is(err, ErrSinkClosed) {
			h.log.Debug("Switch notice not delivered", "session", c.id, "error", err.Error())
		}
	}
	if h.bus != nil {
		h.bus.Advise(b)
	}
}

// Repoint tells every client to reconnect to the member and moves the bus to
// the member's broker.
func (h *Hub) Repoint(ctx context.Context, to cluster.Member) error {
	var errs []error
	if err := h.SendControl(ctx, Reconnect{Type: TypeReconnect, URL: to.URL}); err != nil {
		errs = append(errs, err)
	}
	if h.bus != nil {
		if err := h.bus.Repoint(ctx, to.Broker); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Clients returns the number of connected WebSocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BusConnected reports whether the bus sink is connected.
func (h *Hub) BusConnected() bool {
	return h.bus != nil && h.bus.Connected()
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.snapshotClients() {
		c.close()
	}
}

func (h *Hub) snapshotClients() []*wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) stateEnvelope(withCluster bool) ([]byte, error) {
	env := StateEnvelope{
		Type:      TypeState,
		Data:      h.state.Snapshot(),
		Server:    h.cluster.ActiveName(),
		Timestamp: h.clock.Now().UnixMilli(),
	}
	if withCluster {
		env.Cluster = h.cluster.Members()
	}
	return json.Marshal(env)
}
