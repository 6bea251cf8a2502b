package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tanay1904/Drone/internal/gateway/hub"
	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/mqtt/paths"
)

// Frame types sent by the flight controller over the serial link.
const (
	FrameTelemetry = "TELEMETRY"
	FrameStatus    = "STATUS"
	FrameGPS       = "GPS"
	FrameAttitude  = "ATTITUDE"
	FrameSensor    = "SENSOR"
)

// feedTable handles bus publications. Payloads are VehicleState blocks:
// telemetry and status carry top-level fields, mission and video carry
// the mission and camera blocks.
func (r *Router) feedTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		paths.Telemetry: r.merge(state.OriginTelemetry, ""),
		paths.Status:    r.merge(state.OriginStatus, ""),
		paths.Mission:   r.merge(state.OriginMission, "mission"),
		paths.Video:     r.merge(state.OriginStatus, "camera"),
		paths.Command:   r.handleBusCommand,
	}
}

// frameTable handles serial frames of the form {"type": ..., "data": {...}}.
func (r *Router) frameTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		FrameTelemetry: r.frame(state.OriginTelemetry, ""),
		FrameStatus:    r.frame(state.OriginStatus, ""),
		FrameGPS:       r.frame(state.OriginTelemetry, "gps"),
		FrameAttitude:  r.frame(state.OriginTelemetry, "attitude"),
		FrameSensor:    r.frame(state.OriginTelemetry, "sensors"),
	}
}

// merge applies the payload as a delta, nested under block when set.
func (r *Router) merge(origin state.Origin, block string) handlerFunc {
	return func(_ context.Context, msg hub.Message) error {
		return r.mergeRaw(origin, block, msg.Payload)
	}
}

func (r *Router) frame(origin state.Origin, block string) handlerFunc {
	return decode(func(_ context.Context, _ hub.Message, f *struct {
		Data json.RawMessage `json:"data"`
	}) error {
		if len(f.Data) == 0 {
			return fmt.Errorf("%w: frame has no data", ErrMalformedMessage)
		}
		return r.mergeRaw(origin, block, f.Data)
	})
}

func (r *Router) mergeRaw(origin state.Origin, block string, raw json.RawMessage) error {
	var d state.Delta
	if err := json.Unmarshal(raw, &d); err != nil || d == nil {
		return fmt.Errorf("%w: state payload must be a JSON object", ErrMalformedMessage)
	}
	if block != "" {
		d = state.Delta{block: map[string]any(d)}
	}
	r.state.Merge(origin, d)
	return nil
}

// handleBusCommand applies a client envelope received on the command topic.
// Unknown types are ignored: the bus already carries them.
func (r *Router) handleBusCommand(ctx context.Context, msg hub.Message) error {
	kind := hub.KindOf(msg.Payload)
	h, ok := r.commands[kind]
	if !ok {
		r.log.Debug("Ignoring bus command", "type", kind)
		return nil
	}
	msg.Kind = kind
	return r.command(ctx, msg, h)
}
