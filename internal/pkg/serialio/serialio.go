// Package serialio opens serial devices shared by the modem and vehicle links.
package serialio

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Dialer opens a byte stream to a device.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Port returns a Dialer for a serial device configured as 8N1 at baud.
func Port(name string, baud int) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := serial.Open(name, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", name, err)
		}
		return p, nil
	}
}

// List returns the serial devices present on the host.
func List() ([]string, error) {
	return serial.GetPortsList()
}
