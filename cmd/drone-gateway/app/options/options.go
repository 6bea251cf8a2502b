package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/tanay1904/Drone/internal/gateway"
	"github.com/tanay1904/Drone/pkg/app"
	"github.com/tanay1904/Drone/pkg/log"
	"github.com/tanay1904/Drone/pkg/options"
)

type GatewayOptions struct {
	HttpOptions    *options.HttpOptions    `json:"http" mapstructure:"http"`
	MqttOptions    *options.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	ClusterOptions *options.ClusterOptions `json:"cluster" mapstructure:"cluster"`
	ModemOptions   *options.ModemOptions   `json:"modem" mapstructure:"modem"`
	SerialOptions  *options.SerialOptions  `json:"serial" mapstructure:"serial"`
	HubOptions     *options.HubOptions     `json:"hub" mapstructure:"hub"`
	RedisOptions   *options.RedisOptions   `json:"redis" mapstructure:"redis"`
	S3Options      *options.S3Options      `json:"s3" mapstructure:"s3"`
	WebRTCOptions  *options.WebRTCOptions  `json:"webrtc" mapstructure:"webrtc"`
	Log            *log.Options            `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*GatewayOptions)(nil)

func NewGatewayOptions() *GatewayOptions {
	return &GatewayOptions{
		HttpOptions:    options.NewHttpOptions(),
		MqttOptions:    options.NewMqttOptions(),
		ClusterOptions: options.NewClusterOptions(),
		ModemOptions:   options.NewModemOptions(),
		SerialOptions:  options.NewSerialOptions(),
		HubOptions:     options.NewHubOptions(),
		RedisOptions:   options.NewRedisOptions(),
		S3Options:      options.NewS3Options(),
		WebRTCOptions:  options.NewWebRTCOptions(),
		Log:            log.NewOptions(),
	}
}

func (o *GatewayOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.ClusterOptions.AddFlags(fss.FlagSet("cluster"))
	o.ModemOptions.AddFlags(fss.FlagSet("modem"))
	o.SerialOptions.AddFlags(fss.FlagSet("serial"))
	o.HubOptions.AddFlags(fss.FlagSet("hub"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.WebRTCOptions.AddFlags(fss.FlagSet("webrtc"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *GatewayOptions) Complete() error {
	return o.ClusterOptions.Complete()
}

func (o *GatewayOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.ClusterOptions.Validate()...)
	errs = append(errs, o.ModemOptions.Validate()...)
	errs = append(errs, o.SerialOptions.Validate()...)
	errs = append(errs, o.HubOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.WebRTCOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *GatewayOptions) Config() (*gateway.Config, error) {
	return &gateway.Config{
		HttpOptions:    o.HttpOptions,
		MqttOptions:    o.MqttOptions,
		ClusterOptions: o.ClusterOptions,
		ModemOptions:   o.ModemOptions,
		SerialOptions:  o.SerialOptions,
		HubOptions:     o.HubOptions,
		RedisOptions:   o.RedisOptions,
		S3Options:      o.S3Options,
		WebRTCOptions:  o.WebRTCOptions,
	}, nil
}
