package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SerialOptions)(nil)

// SerialOptions configures the link to the vehicle flight controller.
type SerialOptions struct {
	// Port is opened at startup when set; clients may also request a port with CONNECT_SERIAL.
	Port     string `json:"port" mapstructure:"port"`
	BaudRate int    `json:"baud-rate" mapstructure:"baud-rate"`
}

func NewSerialOptions() *SerialOptions {
	return &SerialOptions{
		BaudRate: 115200,
	}
}

func (o *SerialOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.BaudRate <= 0 {
		errs = append(errs, errors.New("--serial.baud-rate must be positive"))
	}
	return errs
}

func (o *SerialOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Port, "serial.port", o.Port, "Serial device of the flight controller (e.g. /dev/ttyACM0). Empty waits for CONNECT_SERIAL.")
	fs.IntVar(&o.BaudRate, "serial.baud-rate", o.BaudRate, "Baud rate of the flight controller link.")
}
