package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tanay1904/Drone/internal/gateway/hub"
	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/metrics"
	"github.com/tanay1904/Drone/internal/pkg/mqtt/paths"
	"github.com/tanay1904/Drone/pkg/log"
	"github.com/tanay1904/Drone/pkg/mqtt/topic"
)

var ErrMalformedMessage = errors.New("malformed message")

// Results recorded per inbound message.
const (
	resultHandled   = "handled"
	resultForwarded = "forwarded"
	resultIgnored   = "ignored"
	resultMalformed = "malformed"
	resultFailed    = "failed"
)

// Outbound is the part of the hub the router answers through.
type Outbound interface {
	Broadcast()
	SendTo(ctx context.Context, clientID string, v any) error
	SendState(ctx context.Context, clientID string) error
}

// Publisher re-publishes client commands on the bus.
type Publisher interface {
	PublishRaw(ctx context.Context, topic string, payload []byte) error
}

// Vehicle is the serial link to the flight controller.
type Vehicle interface {
	Connect(ctx context.Context, port string) error
	Disconnect() error
	Connected() bool
	Send(frame any) error
}

// Cellular is the modem controller.
type Cellular interface {
	Connect(ctx context.Context) error
	SwitchProfile(ctx context.Context, profileID string) error
}

// Selector performs operator switches of the active cluster member.
type Selector interface {
	Select(ctx context.Context, name string) error
}

// Signaling manages peer connections for video.
type Signaling interface {
	Init(ctx context.Context, droneID string, reply func(hub.Signal))
	Accept(droneID string, raw json.RawMessage) error
}

type Config struct {
	DeviceID string
	Topics   *topic.Builder
	State    *state.Store
	Outbound Outbound

	// Optional collaborators. A nil value disables the messages that need it.
	Publisher Publisher
	Vehicle   Vehicle
	Cellular  Cellular
	Cluster   Selector
	Signaling Signaling
}

type handlerFunc func(ctx context.Context, msg hub.Message) error

// Router applies inbound messages to the state store and the domain
// collaborators. Every message is followed by a broadcast.
type Router struct {
	deviceID string
	topics   *topic.Builder
	state    *state.Store
	out      Outbound

	publisher Publisher
	vehicle   Vehicle
	cellular  Cellular
	cluster   Selector
	signaling Signaling

	log log.Logger

	// commands handles client envelopes, feeds bus topics and frames serial frames.
	commands map[string]handlerFunc
	feeds    map[string]handlerFunc
	frames   map[string]handlerFunc

	// publishTo names the bus topic kind a command is re-published on.
	publishTo map[string]string
}

var _ hub.Handler = (*Router)(nil)

func New(cfg Config) *Router {
	r := &Router{
		deviceID:  cfg.DeviceID,
		topics:    cfg.Topics,
		state:     cfg.State,
		out:       cfg.Outbound,
		publisher: cfg.Publisher,
		vehicle:   cfg.Vehicle,
		cellular:  cfg.Cellular,
		cluster:   cfg.Cluster,
		signaling: cfg.Signaling,
		log:       log.WithName("router"),
	}
	r.commands = r.commandTable()
	r.feeds = r.feedTable()
	r.frames = r.frameTable()
	r.publishTo = publishTable()
	return r
}

// Handle dispatches msg by kind. Malformed messages are logged and dropped;
// any other handler failure is returned to the hub so the sender learns of it.
func (r *Router) Handle(ctx context.Context, msg hub.Message) error {
	defer r.out.Broadcast()

	result, err := r.dispatch(ctx, msg)
	if errors.Is(err, ErrMalformedMessage) {
		r.log.Warn("Dropping malformed message", "kind", msg.Kind, "source", msg.Source.Transport, "error", err.Error())
		metrics.RouterMessagesTotal.WithLabelValues(kindLabel(msg.Kind), resultMalformed).Inc()
		return nil
	}
	if err != nil {
		metrics.RouterMessagesTotal.WithLabelValues(kindLabel(msg.Kind), resultFailed).Inc()
		return err
	}
	metrics.RouterMessagesTotal.WithLabelValues(kindLabel(msg.Kind), result).Inc()
	return nil
}

func (r *Router) dispatch(ctx context.Context, msg hub.Message) (string, error) {
	if !json.Valid(msg.Payload) {
		return "", fmt.Errorf("%w: payload is not JSON", ErrMalformedMessage)
	}

	switch msg.Source.Transport {
	case hub.TransportBus:
		h, ok := r.feeds[msg.Kind]
		if !ok {
			r.log.Debug("Ignoring bus publication", "kind", msg.Kind, "topic", msg.Source.ID)
			return resultIgnored, nil
		}
		return resultHandled, h(ctx, msg)

	case hub.TransportSerial:
		h, ok := r.frames[msg.Kind]
		if !ok {
			r.log.Debug("Ignoring vehicle frame", "kind", msg.Kind)
			return resultIgnored, nil
		}
		return resultHandled, h(ctx, msg)
	}

	if msg.Kind == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if h, ok := r.commands[msg.Kind]; ok {
		return resultHandled, r.command(ctx, msg, h)
	}
	if h, ok := r.feeds[msg.Kind]; ok && msg.Source.Transport == hub.TransportHTTP {
		return resultHandled, h(ctx, msg)
	}
	return resultForwarded, r.forward(ctx, msg)
}

// command runs a client command and re-publishes it on the bus. Commands
// that arrived from the bus are never published back.
func (r *Router) command(ctx context.Context, msg hub.Message, h handlerFunc) error {
	if err := h(ctx, msg); err != nil {
		return err
	}

	kind, ok := r.publishTo[msg.Kind]
	if !ok || msg.Source.Transport == hub.TransportBus {
		return nil
	}
	return r.publish(ctx, r.topics.Build(kind, r.deviceID), msg.Payload)
}

// forward publishes an unknown client message verbatim on the catch-all
// command topic.
func (r *Router) forward(ctx context.Context, msg hub.Message) error {
	return r.publish(ctx, r.topics.Sub(paths.Command, r.deviceID, msg.Kind), msg.Payload)
}

func (r *Router) publish(ctx context.Context, t string, payload []byte) error {
	if r.publisher == nil {
		return nil
	}
	if err := r.publisher.PublishRaw(ctx, t, payload); err != nil {
		return fmt.Errorf("re-publish on %s: %w", t, err)
	}
	return nil
}

// decode adapts a typed handler, rejecting payloads that do not decode into T.
func decode[T any](fn func(ctx context.Context, msg hub.Message, req *T) error) handlerFunc {
	return func(ctx context.Context, msg hub.Message) error {
		req := new(T)
		if err := json.Unmarshal(msg.Payload, req); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		return fn(ctx, msg, req)
	}
}

// async runs fn without holding up the sender's read loop. A failure is
// reported to the sender.
func (r *Router) async(ctx context.Context, msg hub.Message, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := fn(ctx); err != nil {
			r.log.Error(err, "Command failed", "kind", msg.Kind, "source", msg.Source.ID)
			r.reply(ctx, msg, hub.ErrorReply{Type: hub.TypeError, Kind: msg.Kind, Message: err.Error()})
		}
		r.out.Broadcast()
	}()
}

func (r *Router) reply(ctx context.Context, msg hub.Message, v any) {
	if msg.Source.Transport != hub.TransportWebSocket {
		return
	}
	if err := r.out.SendTo(ctx, msg.Source.ID, v); err != nil && !errors.Is(err, hub.ErrSinkClosed) {
		r.log.Warn("Failed to reply to client", "session", msg.Source.ID, "error", err.Error())
	}
}

// kindLabel bounds the metric label set to the known vocabulary.
func kindLabel(kind string) string {
	switch {
	case kind == "":
		return "none"
	case isKnownKind(kind):
		return kind
	default:
		return "other"
	}
}
