// Package gateway wires the vehicle gateway together: state store, transport
// hub, router, cluster manager, modem, vehicle link and the HTTP surface.
package gateway

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tanay1904/Drone/internal/gateway/archive"
	"github.com/tanay1904/Drone/internal/gateway/cluster"
	"github.com/tanay1904/Drone/internal/gateway/hub"
	"github.com/tanay1904/Drone/internal/gateway/modem"
	"github.com/tanay1904/Drone/internal/gateway/router"
	"github.com/tanay1904/Drone/internal/gateway/server"
	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/gateway/vehiclelink"
	"github.com/tanay1904/Drone/pkg/log"
)

// component is anything the gateway runs until shutdown.
type component interface {
	Run(ctx context.Context) error
}

type runFunc func(ctx context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

type Gateway struct {
	deviceID    string
	autoConnect bool

	state     *state.Store
	hub       *hub.Hub
	bus       *hub.Bus
	signaling *hub.Signaling
	router    *router.Router
	cluster   *cluster.Manager
	modem     *modem.Controller
	vehicle   *vehiclelink.Link
	archive   *archive.Uploader
	server    *server.Server
	redis     *redis.Client
}

// Run starts every component and blocks until ctx ends or one of them fails.
func (g *Gateway) Run(ctx context.Context) error {
	log.Info("Starting drone-gateway", "deviceID", g.deviceID)
	defer g.shutdown()

	if g.redis != nil {
		if err := g.redis.Ping(ctx).Err(); err != nil {
			log.Warn("Session store unreachable, sessions will not replicate until it recovers", "error", err.Error())
		}
	}

	if err := g.bus.Start(ctx, g.hub.Dispatch); err != nil {
		return err
	}

	components := []component{
		runFunc(g.bus.Run),
		runFunc(g.cluster.Run),
		runFunc(g.vehicle.Run),
		runFunc(g.server.Start),
	}
	if g.archive != nil {
		components = append(components, runFunc(g.archive.Run))
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range components {
		eg.Go(func() error {
			return c.Run(ctx)
		})
	}

	if g.autoConnect {
		eg.Go(func() error {
			if err := g.modem.Connect(ctx); err != nil {
				log.Error(err, "Modem auto-connect failed")
			}
			return nil
		})
	}

	log.Info("All components starting...")
	return eg.Wait()
}

// SetOptimizeMargin applies a reloaded optimization margin.
func (g *Gateway) SetOptimizeMargin(d time.Duration) {
	if g.cluster.Margin() == d {
		return
	}
	g.cluster.SetMargin(d)
	log.Info("Cluster optimization margin updated", "margin", d.String())
}

// onActiveChange marks local mode in the connection type and pushes the
// new active member to every client.
func (g *Gateway) onActiveChange(name string) {
	vehicleUp := g.vehicle.Connected()
	g.state.Update(func(v *state.VehicleState) {
		if name == "" {
			v.ConnectionType = state.ConnectionLocal
			return
		}
		if v.ConnectionType != state.ConnectionLocal {
			return
		}
		v.ConnectionType = state.ConnectionNone
		if vehicleUp {
			v.ConnectionType = state.ConnectionSerial
		}
	})
	g.hub.Broadcast()
}

// onModemState records the cellular data path in the connection type.
func (g *Gateway) onModemState(st string) {
	g.state.Update(func(v *state.VehicleState) {
		switch {
		case st == modem.StateDataActive:
			v.ConnectionType = state.ConnectionLTE
		case v.ConnectionType == state.ConnectionLTE:
			v.ConnectionType = state.ConnectionNone
		}
	})
	g.hub.Broadcast()
}

func (g *Gateway) shutdown() {
	if err := g.modem.Close(); err != nil {
		log.Warn("Failed to close modem", "error", err.Error())
	}
	g.signaling.CloseAll()
	g.hub.Close()
	if g.redis != nil {
		_ = g.redis.Close()
	}
	log.Info("drone-gateway stopped")
}
