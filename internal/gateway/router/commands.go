package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tanay1904/Drone/internal/gateway/hub"
	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/mqtt/paths"
)

// Client message types.
const (
	KindConnect         = "CONNECT"
	KindConnectSerial   = "CONNECT_SERIAL"
	KindDisconnect      = "DISCONNECT"
	KindConnectCellular = "CONNECT_CELLULAR"
	KindSwitchNetwork   = "SWITCH_NETWORK"
	KindArm             = "ARM"
	KindDisarm          = "DISARM"
	KindTakeoff         = "TAKEOFF"
	KindLand            = "LAND"
	KindRTH             = "RTH"
	KindEmergency       = "EMERGENCY"
	KindControl         = "CONTROL"
	KindSetMode         = "SET_MODE"
	KindWaypoint        = "WAYPOINT"
	KindMission         = "MISSION"
	KindCamera          = "CAMERA"
	KindServerSelect    = "SERVER_SELECT"
	KindWebRTCInit      = "WEBRTC_INIT"
	KindWebRTCSignal    = "WEBRTC_SIGNAL"
	KindGetState        = "GET_STATE"
	KindESIMSwitch      = "ESIM_SWITCH"
)

const defaultTakeoffAltitude = 2.0

var errUnavailable = errors.New("not available on this gateway")

// Frame is a command written to the flight controller.
type Frame map[string]any

func (r *Router) commandTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		KindConnect:         decode(r.handleConnect),
		KindConnectSerial:   decode(r.handleConnect),
		KindDisconnect:      r.handleDisconnect,
		KindConnectCellular: r.handleConnectCellular,
		KindSwitchNetwork:   decode(r.handleSwitchNetwork),
		KindArm:             r.simple(Frame{"cmd": "ARM"}, func(v *state.VehicleState) { v.Armed = true }),
		KindDisarm:          r.simple(Frame{"cmd": "DISARM"}, func(v *state.VehicleState) { v.Armed = false }),
		KindTakeoff:         decode(r.handleTakeoff),
		KindLand:            r.simple(Frame{"cmd": "LAND"}, func(v *state.VehicleState) { v.Flying = false }),
		KindRTH:             r.simple(Frame{"cmd": "RTH"}, nil),
		KindEmergency: r.simple(Frame{"cmd": "EMERGENCY_STOP"}, func(v *state.VehicleState) {
			v.Flying = false
			v.Armed = false
		}),
		KindControl:      decode(r.handleControl),
		KindSetMode:      decode(r.handleSetMode),
		KindWaypoint:     decode(r.handleWaypoint),
		KindMission:      decode(r.handleMission),
		KindCamera:       decode(r.handleCamera),
		KindServerSelect: decode(r.handleServerSelect),
		KindWebRTCInit:   decode(r.handleWebRTCInit),
		KindWebRTCSignal: decode(r.handleWebRTCSignal),
		KindGetState:     r.handleGetState,
		KindESIMSwitch:   decode(r.handleESIMSwitch),
	}
}

// publishTable maps re-published commands to their bus topic kind.
func publishTable() map[string]string {
	out := make(map[string]string)
	for _, k := range []string{KindArm, KindDisarm, KindTakeoff, KindLand, KindRTH, KindEmergency, KindControl, KindSetMode} {
		out[k] = paths.Command
	}
	out[KindWaypoint] = paths.Mission
	out[KindMission] = paths.Mission
	out[KindCamera] = paths.Camera
	return out
}

func isKnownKind(kind string) bool {
	switch kind {
	case KindConnect, KindConnectSerial, KindDisconnect, KindConnectCellular, KindSwitchNetwork,
		KindArm, KindDisarm, KindTakeoff, KindLand, KindRTH, KindEmergency, KindControl, KindSetMode,
		KindWaypoint, KindMission, KindCamera, KindServerSelect, KindWebRTCInit, KindWebRTCSignal,
		KindGetState, KindESIMSwitch,
		paths.Telemetry, paths.Status, paths.Mission, paths.Video, paths.Command,
		FrameTelemetry, FrameStatus, FrameGPS, FrameAttitude, FrameSensor:
		return true
	}
	return false
}

// toVehicle writes frame to the flight controller when the link is up.
// Without a link the command still reaches the vehicle over the bus.
func (r *Router) toVehicle(frame Frame) error {
	if r.vehicle == nil || !r.vehicle.Connected() {
		r.log.Debug("Vehicle link down, command not written", "cmd", frame["cmd"])
		return nil
	}
	return r.vehicle.Send(frame)
}

// simple handles commands without arguments.
func (r *Router) simple(frame Frame, apply func(v *state.VehicleState)) handlerFunc {
	return func(context.Context, hub.Message) error {
		if err := r.toVehicle(frame); err != nil {
			return err
		}
		if apply != nil {
			r.state.Update(apply)
		}
		return nil
	}
}

type connectRequest struct {
	Port string `json:"port"`
}

func (r *Router) handleConnect(ctx context.Context, _ hub.Message, req *connectRequest) error {
	if r.vehicle == nil {
		return fmt.Errorf("vehicle link %w", errUnavailable)
	}
	return r.vehicle.Connect(ctx, req.Port)
}

func (r *Router) handleDisconnect(context.Context, hub.Message) error {
	if r.vehicle == nil {
		return nil
	}
	return r.vehicle.Disconnect()
}

func (r *Router) handleConnectCellular(ctx context.Context, _ hub.Message) error {
	if r.cellular == nil {
		return fmt.Errorf("cellular modem %w", errUnavailable)
	}
	return r.cellular.Connect(ctx)
}

type switchNetworkRequest struct {
	NetworkType string `json:"networkType"`
}

func (r *Router) handleSwitchNetwork(ctx context.Context, msg hub.Message, req *switchNetworkRequest) error {
	switch req.NetworkType {
	case "wifi":
		r.state.Update(func(v *state.VehicleState) { v.ConnectionType = state.ConnectionWiFi })
	case "satellite":
		r.state.Update(func(v *state.VehicleState) { v.ConnectionType = state.ConnectionSatellite })
	case "cellular":
		return r.handleConnectCellular(ctx, msg)
	default:
		return fmt.Errorf("%w: unknown network type %q", ErrMalformedMessage, req.NetworkType)
	}
	return nil
}

type takeoffRequest struct {
	Altitude float64 `json:"altitude"`
}

func (r *Router) handleTakeoff(_ context.Context, _ hub.Message, req *takeoffRequest) error {
	alt := req.Altitude
	if alt <= 0 {
		alt = defaultTakeoffAltitude
	}
	if err := r.toVehicle(Frame{"cmd": "TAKEOFF", "altitude": alt}); err != nil {
		return err
	}
	r.state.Update(func(v *state.VehicleState) { v.Flying = true })
	return nil
}

type controlRequest struct {
	Throttle float64 `json:"throttle"`
	Yaw      float64 `json:"yaw"`
	Pitch    float64 `json:"pitch"`
	Roll     float64 `json:"roll"`
}

func (r *Router) handleControl(_ context.Context, _ hub.Message, req *controlRequest) error {
	return r.toVehicle(Frame{
		"cmd":      "CONTROL",
		"throttle": req.Throttle,
		"yaw":      req.Yaw,
		"pitch":    req.Pitch,
		"roll":     req.Roll,
	})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (r *Router) handleSetMode(_ context.Context, _ hub.Message, req *setModeRequest) error {
	if req.Mode == "" {
		return fmt.Errorf("%w: mode is required", ErrMalformedMessage)
	}
	if err := r.toVehicle(Frame{"cmd": "SET_MODE", "mode": req.Mode}); err != nil {
		return err
	}
	r.state.Update(func(v *state.VehicleState) { v.Mode = req.Mode })
	return nil
}

type waypointRequest struct {
	Action   string          `json:"action"`
	Waypoint *state.Waypoint `json:"waypoint"`
	Index    *int            `json:"index"`
}

func (r *Router) handleWaypoint(_ context.Context, _ hub.Message, req *waypointRequest) error {
	var (
		frame  Frame
		status state.MissionStatus
	)

	switch req.Action {
	case "ADD":
		if req.Waypoint == nil {
			return fmt.Errorf("%w: waypoint is required", ErrMalformedMessage)
		}
		wp := *req.Waypoint
		r.state.Update(func(v *state.VehicleState) { v.Mission.Waypoints = append(v.Mission.Waypoints, wp) })
		return nil

	case "REMOVE":
		if req.Index == nil {
			return fmt.Errorf("%w: index is required", ErrMalformedMessage)
		}
		i := *req.Index
		var outOfRange bool
		r.state.Update(func(v *state.VehicleState) {
			if i < 0 || i >= len(v.Mission.Waypoints) {
				outOfRange = true
				return
			}
			v.Mission.Waypoints = append(v.Mission.Waypoints[:i], v.Mission.Waypoints[i+1:]...)
		})
		if outOfRange {
			return fmt.Errorf("%w: waypoint index %d out of range", ErrMalformedMessage, i)
		}
		return nil

	case "CLEAR":
		r.state.Update(func(v *state.VehicleState) {
			v.Mission.Waypoints = []state.Waypoint{}
			v.Mission.CurrentWaypoint = 0
		})
		return nil

	case "START":
		frame = Frame{"cmd": "MISSION_START", "waypoints": r.state.Snapshot().Mission.Waypoints}
		status = state.MissionActive
	case "PAUSE":
		frame, status = Frame{"cmd": "MISSION_PAUSE"}, state.MissionPaused
	case "RESUME":
		frame, status = Frame{"cmd": "MISSION_RESUME"}, state.MissionActive
	case "STOP":
		frame, status = Frame{"cmd": "MISSION_STOP"}, state.MissionIdle
	default:
		return fmt.Errorf("%w: unknown waypoint action %q", ErrMalformedMessage, req.Action)
	}

	if err := r.toVehicle(frame); err != nil {
		return err
	}
	r.state.Update(func(v *state.VehicleState) { v.Mission.Status = status })
	return nil
}

type missionRequest struct {
	Waypoints []state.Waypoint `json:"waypoints"`
}

// handleMission replaces the waypoint plan. The mission starts idle.
func (r *Router) handleMission(_ context.Context, _ hub.Message, req *missionRequest) error {
	if req.Waypoints == nil {
		return fmt.Errorf("%w: waypoints are required", ErrMalformedMessage)
	}
	r.state.Update(func(v *state.VehicleState) {
		v.Mission.Waypoints = req.Waypoints
		v.Mission.CurrentWaypoint = 0
		v.Mission.Progress = 0
		v.Mission.Status = state.MissionIdle
	})
	return nil
}

type cameraRequest struct {
	Action string   `json:"action"`
	Pitch  *float64 `json:"pitch"`
	Roll   *float64 `json:"roll"`
	Yaw    *float64 `json:"yaw"`
}

func (r *Router) handleCamera(_ context.Context, _ hub.Message, req *cameraRequest) error {
	switch req.Action {
	case "START_RECORDING", "STOP_RECORDING":
		recording := req.Action == "START_RECORDING"
		action := "STOP"
		if recording {
			action = "START"
		}
		if err := r.toVehicle(Frame{"cmd": "CAMERA_RECORD", "action": action}); err != nil {
			return err
		}
		r.state.Update(func(v *state.VehicleState) { v.Camera.Recording = recording })

	case "TAKE_PHOTO":
		return r.toVehicle(Frame{"cmd": "CAMERA_PHOTO"})

	case "GIMBAL":
		frame := Frame{"cmd": "GIMBAL_CONTROL"}
		for name, val := range map[string]*float64{"pitch": req.Pitch, "roll": req.Roll, "yaw": req.Yaw} {
			if val != nil {
				frame[name] = *val
			}
		}
		if err := r.toVehicle(frame); err != nil {
			return err
		}
		r.state.Update(func(v *state.VehicleState) {
			if req.Pitch != nil {
				v.Camera.Gimbal.Pitch = *req.Pitch
			}
			if req.Roll != nil {
				v.Camera.Gimbal.Roll = *req.Roll
			}
			if req.Yaw != nil {
				v.Camera.Gimbal.Yaw = *req.Yaw
			}
		})

	default:
		return fmt.Errorf("%w: unknown camera action %q", ErrMalformedMessage, req.Action)
	}
	return nil
}

type serverSelectRequest struct {
	Server string `json:"server"`
}

func (r *Router) handleServerSelect(ctx context.Context, msg hub.Message, req *serverSelectRequest) error {
	if r.cluster == nil {
		return fmt.Errorf("cluster %w", errUnavailable)
	}
	if req.Server == "" {
		return fmt.Errorf("%w: server is required", ErrMalformedMessage)
	}
	r.async(ctx, msg, func(ctx context.Context) error {
		return r.cluster.Select(ctx, req.Server)
	})
	return nil
}

type webRTCRequest struct {
	DroneID string          `json:"droneId"`
	Signal  json.RawMessage `json:"signal"`
}

// handleWebRTCInit starts a peer connection; the offer reaches the sender
// as a WEBRTC_SIGNAL message once ICE gathering completes.
func (r *Router) handleWebRTCInit(ctx context.Context, msg hub.Message, req *webRTCRequest) error {
	if r.signaling == nil {
		return fmt.Errorf("video signaling %w", errUnavailable)
	}
	droneID := req.DroneID
	if droneID == "" {
		droneID = r.deviceID
	}

	ctx = context.WithoutCancel(ctx)
	r.signaling.Init(ctx, droneID, func(sig hub.Signal) {
		r.reply(ctx, msg, hub.SignalEnvelope{Type: hub.TypeWebRTCSignal, DroneID: droneID, Signal: sig})
	})
	return nil
}

func (r *Router) handleWebRTCSignal(_ context.Context, _ hub.Message, req *webRTCRequest) error {
	if r.signaling == nil {
		return fmt.Errorf("video signaling %w", errUnavailable)
	}
	if len(req.Signal) == 0 {
		return fmt.Errorf("%w: signal is required", ErrMalformedMessage)
	}
	droneID := req.DroneID
	if droneID == "" {
		droneID = r.deviceID
	}
	return r.signaling.Accept(droneID, req.Signal)
}

func (r *Router) handleGetState(ctx context.Context, msg hub.Message) error {
	if msg.Source.Transport != hub.TransportWebSocket {
		return nil
	}
	return r.out.SendState(ctx, msg.Source.ID)
}

type esimSwitchRequest struct {
	ProfileID string `json:"profileId"`
}

func (r *Router) handleESIMSwitch(ctx context.Context, msg hub.Message, req *esimSwitchRequest) error {
	if r.cellular == nil {
		return fmt.Errorf("cellular modem %w", errUnavailable)
	}
	if req.ProfileID == "" {
		return fmt.Errorf("%w: profileId is required", ErrMalformedMessage)
	}
	r.async(ctx, msg, func(ctx context.Context) error {
		return r.cellular.SwitchProfile(ctx, req.ProfileID)
	})
	return nil
}
