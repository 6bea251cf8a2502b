package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tanay1904/Drone/internal/gateway/cluster"
	"github.com/tanay1904/Drone/internal/gateway/hub"
	"github.com/tanay1904/Drone/internal/gateway/modem"
	"github.com/tanay1904/Drone/internal/gateway/router"
	"github.com/tanay1904/Drone/internal/gateway/session"
	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/mqtt/paths"
)

const maxBodySize = 1 << 20

// Inbound kinds the REST routes translate to.
const (
	kindWebRTCSignal = router.KindWebRTCSignal
	kindMission      = router.KindMission
	kindTelemetry    = paths.Telemetry
)

type statusResponse struct {
	DeviceID     string              `json:"deviceId"`
	State        *state.VehicleState `json:"state"`
	Server       string              `json:"server"`
	Clients      int                 `json:"clients"`
	BusConnected bool                `json:"busConnected"`
	Timestamp    int64               `json:"timestamp"`
}

type serversResponse struct {
	Active  string           `json:"active"`
	Local   bool             `json:"local"`
	Servers []cluster.Member `json:"servers"`
}

type cellularResponse struct {
	Modem    modem.Status   `json:"modem"`
	Cellular state.Cellular `json:"cellular"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Uptime       int64  `json:"uptime"`
	Clients      int    `json:"clients"`
	BusConnected bool   `json:"busConnected"`
	Server       string `json:"server"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Active  string `json:"active,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Uptime:       int64(s.clock.Since(s.started).Seconds()),
		Clients:      s.hub.Clients(),
		BusConnected: s.hub.BusConnected(),
		Server:       s.cluster.ActiveName(),
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		DeviceID:     s.deviceID,
		State:        s.state.Snapshot(),
		Server:       s.cluster.ActiveName(),
		Clients:      s.hub.Clients(),
		BusConnected: s.hub.BusConnected(),
		Timestamp:    s.clock.Now().UnixMilli(),
	})
}

func (s *Server) servers(w http.ResponseWriter, _ *http.Request) {
	active := s.cluster.ActiveName()
	writeJSON(w, http.StatusOK, serversResponse{
		Active:  active,
		Local:   active == "",
		Servers: s.cluster.Members(),
	})
}

func (s *Server) switchServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Server string `json:"server"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Server == "" {
		writeError(w, http.StatusBadRequest, errors.New("server is required"))
		return
	}

	if err := s.cluster.Select(r.Context(), req.Server); err != nil {
		writeError(w, selectStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Active: s.cluster.ActiveName()})
}

func selectStatus(err error) int {
	switch {
	case errors.Is(err, cluster.ErrUnknownMember):
		return http.StatusNotFound
	case errors.Is(err, cluster.ErrSwitchInProgress):
		return http.StatusConflict
	case errors.Is(err, cluster.ErrMemberUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) cellularStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cellularResponse{
		Modem:    s.modem.Status(),
		Cellular: s.state.Snapshot().Cellular,
	})
}

func (s *Server) switchProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileID string `json:"profileId"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.ProfileID == "" {
		writeError(w, http.StatusBadRequest, errors.New("profileId is required"))
		return
	}

	err := s.modem.SwitchProfile(r.Context(), req.ProfileID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	case errors.Is(err, modem.ErrNotESIM):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, modem.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, modem.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

// command hands the request body to the router as an inbound message of kind.
func (s *Server) command(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if !readJSON(w, r, &body) {
			return
		}
		if body == nil {
			writeError(w, http.StatusBadRequest, errors.New("request body must be a JSON object"))
			return
		}
		if kind != kindTelemetry {
			body["type"] = kind
		}
		payload, err := json.Marshal(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		msg := hub.Message{
			Kind:     kind,
			Source:   hub.Source{Transport: hub.TransportHTTP, ID: r.RemoteAddr},
			DeviceID: s.deviceID,
			Payload:  payload,
		}
		if err := s.handler.Handle(r.Context(), msg); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

// replicate stores a session copied from a peer member. Storing the same
// key twice overwrites it.
func (s *Server) replicate(w http.ResponseWriter, r *http.Request) {
	var req session.ReplicateRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := session.ValidateKey(req.Key); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sessions.Put(r.Context(), req.Key, req.Data); err != nil {
		s.log.Error(err, "Failed to store replicated session", "key", req.Key)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
