package app

import (
	"fmt"
	"sync/atomic"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/tanay1904/Drone/cmd/drone-gateway/app/options"
	"github.com/tanay1904/Drone/internal/gateway"
	"github.com/tanay1904/Drone/pkg/app"
	"github.com/tanay1904/Drone/pkg/log"
)

const (
	commandName = "drone-gateway"
	commandDesc = `The drone gateway bridges a vehicle's serial link, cellular modem and
message bus to browser clients, keeping one state snapshot and following the
healthiest backend cluster member without dropping connected clients.`
)

func NewApp() *app.App {
	opts := options.NewGatewayOptions()
	var running atomic.Pointer[gateway.Gateway]

	application := app.NewApp(
		commandName,
		"Launch the drone gateway",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithLogOptions(opts.Log),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts, &running)),
		app.WithReloadFunc(reload(opts, &running)),
		app.WithCommands(newClustersCommand()),
	)
	return application
}

func run(opts *options.GatewayOptions, running *atomic.Pointer[gateway.Gateway]) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		gw, err := cfg.NewGateway()
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}
		running.Store(gw)

		return gw.Run(ctx)
	}
}

// reload applies the settings that can change without a restart.
func reload(opts *options.GatewayOptions, running *atomic.Pointer[gateway.Gateway]) app.ReloadFunc {
	return func() {
		log.SetLevel(opts.Log.Level)
		if gw := running.Load(); gw != nil {
			gw.SetOptimizeMargin(opts.ClusterOptions.OptimizeMargin)
		}
	}
}
