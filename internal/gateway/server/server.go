// Package server exposes the gateway over HTTP: a thin REST surface, the
// WebSocket endpoint, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	"github.com/tanay1904/Drone/internal/gateway/cluster"
	"github.com/tanay1904/Drone/internal/gateway/hub"
	"github.com/tanay1904/Drone/internal/gateway/modem"
	"github.com/tanay1904/Drone/internal/gateway/session"
	middleware "github.com/tanay1904/Drone/internal/pkg/middleware/http"
	"github.com/tanay1904/Drone/pkg/log"
	"github.com/tanay1904/Drone/pkg/options"
)

// Hub is the part of the transport hub the server exposes.
type Hub interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Clients() int
	BusConnected() bool
}

// Cluster is the cluster manager view used by the status and switch routes.
type Cluster interface {
	ActiveName() string
	Members() []cluster.Member
	Select(ctx context.Context, name string) error
}

// Modem is the cellular controller view.
type Modem interface {
	Status() modem.Status
	SwitchProfile(ctx context.Context, profileID string) error
}

type Config struct {
	Options  *options.HttpOptions
	DeviceID string
	State    hub.Snapshotter
	Hub      Hub
	Cluster  Cluster
	Modem    Modem
	Sessions session.Store

	// Handler receives REST commands as inbound messages.
	Handler hub.Handler

	Clock clock.PassiveClock
}

type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration

	deviceID string
	state    hub.Snapshotter
	hub      Hub
	cluster  Cluster
	modem    Modem
	sessions session.Store
	handler  hub.Handler
	clock    clock.PassiveClock
	started  time.Time
	log      log.Logger
}

func NewServer(cfg Config) *Server {
	opts := cfg.Options
	if opts == nil {
		opts = options.NewHttpOptions()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	s := &Server{
		shutdownTimeout: opts.ShutdownTimeout,
		deviceID:        cfg.DeviceID,
		state:           cfg.State,
		hub:             cfg.Hub,
		cluster:         cfg.Cluster,
		modem:           cfg.Modem,
		sessions:        cfg.Sessions,
		handler:         cfg.Handler,
		clock:           cfg.Clock,
		started:         cfg.Clock.Now(),
		log:             log.WithName("http"),
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	return s
}

// Routes returns the gateway's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Logging(s.log))

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
	r.HandleFunc(session.ReplicatePath, s.replicate).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Timeout(middleware.DefaultRequestTimeout))

	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/servers", s.servers).Methods(http.MethodGet)
	api.HandleFunc("/server/switch", s.switchServer).Methods(http.MethodPost)
	api.HandleFunc("/cellular/status", s.cellularStatus).Methods(http.MethodGet)
	api.HandleFunc("/cellular/esim/profile", s.switchProfile).Methods(http.MethodPost)
	api.HandleFunc("/webrtc/signal", s.command(kindWebRTCSignal)).Methods(http.MethodPost)
	api.HandleFunc("/mission/upload", s.command(kindMission)).Methods(http.MethodPost)
	api.HandleFunc("/telemetry", s.command(kindTelemetry)).Methods(http.MethodPost)

	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting HTTP server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
