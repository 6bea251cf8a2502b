package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ModemOptions)(nil)

// ModemOptions configures the cellular modem command link.
type ModemOptions struct {
	// Port is the serial device of the modem AT interface. Empty disables the modem.
	Port     string `json:"port" mapstructure:"port"`
	BaudRate int    `json:"baud-rate" mapstructure:"baud-rate"`

	// APN is written into the PDP context during bring-up.
	APN string `json:"apn" mapstructure:"apn"`

	CommandTimeout time.Duration `json:"command-timeout" mapstructure:"command-timeout"`
	RetryBudget    int           `json:"retry-budget" mapstructure:"retry-budget"`

	// AutoConnect starts bring-up when the gateway starts.
	AutoConnect bool `json:"auto-connect" mapstructure:"auto-connect"`
}

func NewModemOptions() *ModemOptions {
	return &ModemOptions{
		Port:           "",
		BaudRate:       115200,
		APN:            "internet",
		CommandTimeout: 500 * time.Millisecond,
		RetryBudget:    3,
	}
}

func (o *ModemOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.BaudRate <= 0 {
		errs = append(errs, errors.New("--modem.baud-rate must be positive"))
	}
	if o.CommandTimeout <= 0 {
		errs = append(errs, errors.New("--modem.command-timeout must be positive"))
	}
	if o.RetryBudget < 1 {
		errs = append(errs, errors.New("--modem.retry-budget must be at least 1"))
	}
	if o.AutoConnect && o.Port == "" {
		errs = append(errs, errors.New("--modem.auto-connect requires --modem.port"))
	}

	return errs
}

func (o *ModemOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Port, "modem.port", o.Port, "Serial device of the modem AT interface (e.g. /dev/ttyUSB2).")
	fs.IntVar(&o.BaudRate, "modem.baud-rate", o.BaudRate, "Baud rate of the modem AT interface.")
	fs.StringVar(&o.APN, "modem.apn", o.APN, "Access point name used for the data context.")
	fs.DurationVar(&o.CommandTimeout, "modem.command-timeout", o.CommandTimeout, "Time to wait for the response to a single AT command.")
	fs.IntVar(&o.RetryBudget, "modem.retry-budget", o.RetryBudget, "Number of timed-out attempts allowed per command before giving up.")
	fs.BoolVar(&o.AutoConnect, "modem.auto-connect", o.AutoConnect, "Start modem bring-up on startup.")
}
