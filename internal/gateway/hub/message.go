package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tanay1904/Drone/internal/gateway/cluster"
	"github.com/tanay1904/Drone/internal/gateway/state"
)

var (
	ErrSinkClosed = errors.New("sink closed")
	ErrQueueFull  = errors.New("sink queue full")
)

// Transports a message can arrive on.
const (
	TransportWebSocket = "websocket"
	TransportBus       = "bus"
	TransportSerial    = "serial"
	TransportHTTP      = "http"
)

// Outbound envelope types.
const (
	TypeState        = "STATE"
	TypeServerSwitch = "SERVER_SWITCH"
	TypeReconnect    = "RECONNECT"
	TypeError        = "ERROR"
	TypeWebRTCSignal = "WEBRTC_SIGNAL"
)

// Source identifies where an inbound message came from. For WebSocket
// clients ID is the session key, for the bus it is the topic.
type Source struct {
	Transport string `json:"transport"`
	ID        string `json:"id"`
}

// Message is the normalized form of inbound traffic from every transport.
type Message struct {
	Kind     string
	Source   Source
	DeviceID string
	Payload  json.RawMessage
}

// Handler consumes normalized inbound messages.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// StateEnvelope is the snapshot broadcast to clients.
type StateEnvelope struct {
	Type      string              `json:"type"`
	Data      *state.VehicleState `json:"data"`
	Server    string              `json:"server"`
	Timestamp int64               `json:"timestamp"`
	Cluster   []cluster.Member    `json:"cluster,omitempty"`
}

// SwitchNotice is the advisory sent before the active member changes.
type SwitchNotice struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
	URL  string `json:"url"`
}

// Reconnect directs a client to the new active member.
type Reconnect struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ErrorReply reports a failed inbound message back to its sender.
type ErrorReply struct {
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// SignalEnvelope carries peer signaling to a client.
type SignalEnvelope struct {
	Type    string `json:"type"`
	DroneID string `json:"droneId"`
	Signal  any    `json:"signal"`
}

// KindOf extracts the envelope type of a client message. It returns "" when
// the payload is not a JSON object with a string type.
func KindOf(payload []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	return env.Type
}
