// Package vehiclelink talks to the flight controller over a serial line
// carrying newline-delimited JSON in both directions.
package vehiclelink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tanay1904/Drone/internal/gateway/hub"
	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/serialio"
	"github.com/tanay1904/Drone/pkg/log"
)

const maxFrameSize = 1 << 20

var (
	ErrNotConnected = errors.New("vehicle link not connected")
	ErrNoPort       = errors.New("no serial port configured")
)

// Opener returns a Dialer for a named device; serialio.Port in production.
type Opener func(name string, baud int) serialio.Dialer

// StateWriter is the part of the state store the link writes.
type StateWriter interface {
	Update(fn func(v *state.VehicleState)) *state.VehicleState
}

type Config struct {
	Port     string
	BaudRate int
	DeviceID string
	Open     Opener
	State    StateWriter

	// Inbound receives every frame read from the vehicle.
	Inbound func(ctx context.Context, msg hub.Message)

	// OnChange is called after the connected flag changes.
	OnChange func()
}

// Link is the serial connection to the flight controller. At most one port
// is open at a time.
type Link struct {
	defaultPort string
	baud        int
	deviceID    string
	open        Opener
	state       StateWriter
	inbound     func(context.Context, hub.Message)
	onChange    func()
	log         log.Logger

	// opMu serializes Connect and Disconnect.
	opMu sync.Mutex

	mu   sync.Mutex
	conn *conn
}

type conn struct {
	name string
	rwc  io.ReadWriteCloser
	done chan struct{}
}

func New(cfg Config) *Link {
	if cfg.Open == nil {
		cfg.Open = serialio.Port
	}
	if cfg.Inbound == nil {
		cfg.Inbound = func(context.Context, hub.Message) {}
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func() {}
	}
	return &Link{
		defaultPort: cfg.Port,
		baud:        cfg.BaudRate,
		deviceID:    cfg.DeviceID,
		open:        cfg.Open,
		state:       cfg.State,
		inbound:     cfg.Inbound,
		onChange:    cfg.OnChange,
		log:         log.WithName("vehiclelink"),
	}
}

// Run opens the configured port, if any, and closes the link when ctx ends.
// A port that fails to open is logged; clients can retry with CONNECT_SERIAL.
func (l *Link) Run(ctx context.Context) error {
	if l.defaultPort != "" {
		if err := l.Connect(ctx, ""); err != nil {
			l.log.Error(err, "Failed to open vehicle link", "port", l.defaultPort)
		}
	}
	<-ctx.Done()
	return l.Disconnect()
}

// Connect opens port, or the configured port when empty, replacing any
// open connection.
func (l *Link) Connect(ctx context.Context, port string) error {
	if port == "" {
		port = l.defaultPort
	}
	if port == "" {
		return ErrNoPort
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	if c := l.current(); c != nil {
		if c.name == port {
			return nil
		}
		l.closeConn(c)
	}

	rwc, err := l.open(port, l.baud)(ctx)
	if err != nil {
		return err
	}

	c := &conn{name: port, rwc: rwc, done: make(chan struct{})}
	l.mu.Lock()
	l.conn = c
	l.mu.Unlock()

	l.setConnected(true)
	l.log.Info("Vehicle link connected", "port", port)

	go l.readLoop(c)
	return nil
}

// Disconnect closes the open port, if any.
func (l *Link) Disconnect() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	c := l.current()
	if c == nil {
		return nil
	}
	return l.closeConn(c)
}

// Connected reports whether a port is open.
func (l *Link) Connected() bool {
	return l.current() != nil
}

// Port returns the open port, or "".
func (l *Link) Port() string {
	if c := l.current(); c != nil {
		return c.name
	}
	return ""
}

// Send writes frame as one JSON line.
func (l *Link) Send(frame any) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding vehicle frame: %w", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	if _, err := l.conn.rwc.Write(b); err != nil {
		return fmt.Errorf("writing to %s: %w", l.conn.name, err)
	}
	return nil
}

func (l *Link) current() *conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// closeConn closes c and waits for its read loop, which clears the state.
func (l *Link) closeConn(c *conn) error {
	err := c.rwc.Close()
	<-c.done
	return err
}

func (l *Link) readLoop(c *conn) {
	defer close(c.done)
	defer l.detach(c)

	ctx := context.Background()
	scanner := bufio.NewScanner(c.rwc)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		payload := make([]byte, len(line))
		copy(payload, line)

		l.inbound(ctx, hub.Message{
			Kind:     hub.KindOf(payload),
			Source:   hub.Source{Transport: hub.TransportSerial, ID: c.name},
			DeviceID: l.deviceID,
			Payload:  payload,
		})
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		l.log.Warn("Vehicle link read failed", "port", c.name, "error", err.Error())
	}
}

func (l *Link) detach(c *conn) {
	l.mu.Lock()
	if l.conn != c {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.mu.Unlock()

	_ = c.rwc.Close()
	l.setConnected(false)
	l.log.Info("Vehicle link disconnected", "port", c.name)
}

func (l *Link) setConnected(connected bool) {
	l.state.Update(func(v *state.VehicleState) {
		v.Connected = connected
		switch {
		case connected && v.ConnectionType == state.ConnectionNone:
			v.ConnectionType = state.ConnectionSerial
		case !connected && v.ConnectionType == state.ConnectionSerial:
			v.ConnectionType = state.ConnectionNone
		}
	})
	l.onChange()
}
