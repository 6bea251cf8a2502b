package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HubOptions)(nil)

// HubOptions sizes the per-sink outbound queues and the telemetry history.
type HubOptions struct {
	// WebSocketQueue is the number of pending messages per WebSocket client.
	WebSocketQueue int `json:"websocket-queue" mapstructure:"websocket-queue"`

	// BusQueue is the number of pending state publications for the bus sink.
	BusQueue int `json:"bus-queue" mapstructure:"bus-queue"`

	// HistorySize caps the in-memory telemetry history.
	HistorySize int `json:"history-size" mapstructure:"history-size"`
}

func NewHubOptions() *HubOptions {
	return &HubOptions{
		WebSocketQueue: 16,
		BusQueue:       64,
		HistorySize:    1000,
	}
}

func (o *HubOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.WebSocketQueue < 1 {
		errs = append(errs, errors.New("--hub.websocket-queue must be at least 1"))
	}
	if o.BusQueue < 1 {
		errs = append(errs, errors.New("--hub.bus-queue must be at least 1"))
	}
	if o.HistorySize < 1 {
		errs = append(errs, errors.New("--hub.history-size must be at least 1"))
	}
	return errs
}

func (o *HubOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.WebSocketQueue, "hub.websocket-queue", o.WebSocketQueue, "Pending messages kept per WebSocket client.")
	fs.IntVar(&o.BusQueue, "hub.bus-queue", o.BusQueue, "Pending state publications kept for the bus.")
	fs.IntVar(&o.HistorySize, "hub.history-size", o.HistorySize, "Maximum number of telemetry history entries.")
}
