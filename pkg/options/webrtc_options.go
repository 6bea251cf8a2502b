package options

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

var _ IOptions = (*WebRTCOptions)(nil)

// WebRTCOptions configures the peer signaling registry.
type WebRTCOptions struct {
	ICEServers []string `json:"ice-servers" mapstructure:"ice-servers"`

	// IncludeLoopback also gathers loopback candidates, useful on a bench without a LAN.
	IncludeLoopback bool `json:"include-loopback" mapstructure:"include-loopback"`
}

func NewWebRTCOptions() *WebRTCOptions {
	return &WebRTCOptions{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
	}
}

func (o *WebRTCOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	for _, s := range o.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			errs = append(errs, fmt.Errorf("ice server %q must use a stun:, turn: or turns: scheme", s))
		}
	}
	return errs
}

func (o *WebRTCOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.ICEServers, "webrtc.ice-servers", o.ICEServers, "STUN/TURN servers offered to peers.")
	fs.BoolVar(&o.IncludeLoopback, "webrtc.include-loopback", o.IncludeLoopback, "Gather loopback ICE candidates.")
}

// ToConfiguration converts the options into a peer connection configuration.
func (o *WebRTCOptions) ToConfiguration() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(o.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: o.ICEServers}}
	}
	return cfg
}
