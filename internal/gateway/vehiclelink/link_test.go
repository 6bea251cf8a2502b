package vehiclelink

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tanay1904/Drone/internal/gateway/hub"
	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/serialio"
)

// pipeLink is the gateway end of an in-memory serial line.
type pipeLink struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (l *pipeLink) Read(p []byte) (int, error)  { return l.r.Read(p) }
func (l *pipeLink) Write(p []byte) (int, error) { return l.w.Write(p) }
func (l *pipeLink) Close() error {
	_ = l.r.Close()
	return l.w.Close()
}

// device is the flight controller end.
type device struct {
	out *io.PipeWriter
	in  *bufio.Reader
}

type fixture struct {
	link    *Link
	store   *state.Store
	inbound chan hub.Message
	changes atomic.Int32

	mu      sync.Mutex
	devices map[string]*device
	opened  []string
}

func newFixture(t *testing.T, port string) *fixture {
	t.Helper()
	f := &fixture{
		store:   state.NewStore(10),
		inbound: make(chan hub.Message, 8),
		devices: map[string]*device{},
	}
	f.link = New(Config{
		Port:     port,
		BaudRate: 115200,
		DeviceID: "d1",
		Open:     f.open,
		State:    f.store,
		Inbound:  func(_ context.Context, msg hub.Message) { f.inbound <- msg },
		OnChange: func() { f.changes.Add(1) },
	})
	t.Cleanup(func() { _ = f.link.Disconnect() })
	return f
}

func (f *fixture) open(name string, _ int) serialio.Dialer {
	return func(context.Context) (io.ReadWriteCloser, error) {
		if name == "/dev/missing" {
			return nil, errors.New("no such device")
		}
		toGateway, fromDevice := io.Pipe()
		toDevice, fromGateway := io.Pipe()

		f.mu.Lock()
		f.devices[name] = &device{out: fromDevice, in: bufio.NewReader(toDevice)}
		f.opened = append(f.opened, name)
		f.mu.Unlock()

		return &pipeLink{r: toGateway, w: fromGateway}, nil
	}
}

func (f *fixture) device(name string) *device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[name]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectReadsFrames(t *testing.T) {
	f := newFixture(t, "/dev/ttyACM0")

	if err := f.link.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	v := f.store.Snapshot()
	if !v.Connected || v.ConnectionType != state.ConnectionSerial {
		t.Errorf("state after connect: connected=%v type=%s", v.Connected, v.ConnectionType)
	}

	frame := `{"type":"TELEMETRY","data":{"altitude":3}}`
	go func() { _, _ = io.WriteString(f.device("/dev/ttyACM0").out, "\n"+frame+"\n") }()

	select {
	case msg := <-f.inbound:
		want := hub.Message{
			Kind:     "TELEMETRY",
			Source:   hub.Source{Transport: hub.TransportSerial, ID: "/dev/ttyACM0"},
			DeviceID: "d1",
			Payload:  []byte(frame),
		}
		if diff := cmp.Diff(want, msg); diff != "" {
			t.Errorf("inbound mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestSendWritesJSONLines(t *testing.T) {
	f := newFixture(t, "")

	if err := f.link.Send(map[string]any{"cmd": "ARM"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() before connect = %v, want ErrNotConnected", err)
	}

	if err := f.link.Connect(context.Background(), "/dev/ttyACM1"); err != nil {
		t.Fatal(err)
	}

	line := make(chan string, 1)
	go func() {
		s, _ := f.device("/dev/ttyACM1").in.ReadString('\n')
		line <- s
	}()

	if err := f.link.Send(map[string]any{"cmd": "TAKEOFF", "altitude": 2}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := <-line; got != `{"altitude":2,"cmd":"TAKEOFF"}`+"\n" {
		t.Errorf("device read %q", got)
	}
}

func TestConnectErrors(t *testing.T) {
	f := newFixture(t, "")

	if err := f.link.Connect(context.Background(), ""); !errors.Is(err, ErrNoPort) {
		t.Errorf("Connect() without port = %v, want ErrNoPort", err)
	}
	if err := f.link.Connect(context.Background(), "/dev/missing"); err == nil {
		t.Error("Connect() to a missing device succeeded")
	}
	if f.link.Connected() || f.store.Snapshot().Connected {
		t.Error("link reports connected after failures")
	}
}

func TestDeviceHangupDisconnects(t *testing.T) {
	f := newFixture(t, "/dev/ttyACM0")
	if err := f.link.Connect(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	_ = f.device("/dev/ttyACM0").out.Close()

	waitFor(t, "disconnect", func() bool { return !f.link.Connected() })
	v := f.store.Snapshot()
	if v.Connected || v.ConnectionType != state.ConnectionNone {
		t.Errorf("state after hangup: connected=%v type=%s", v.Connected, v.ConnectionType)
	}
	if got := f.changes.Load(); got != 2 {
		t.Errorf("change notifications = %d, want 2", got)
	}
	if err := f.link.Send(map[string]any{"cmd": "LAND"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after hangup = %v, want ErrNotConnected", err)
	}
}

func TestConnectReplacesPort(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	for _, port := range []string{"/dev/ttyACM0", "/dev/ttyACM0", "/dev/ttyUSB0"} {
		if err := f.link.Connect(ctx, port); err != nil {
			t.Fatalf("Connect(%s) error = %v", port, err)
		}
	}

	if got := f.link.Port(); got != "/dev/ttyUSB0" {
		t.Errorf("Port() = %q, want /dev/ttyUSB0", got)
	}
	f.mu.Lock()
	opened := append([]string(nil), f.opened...)
	f.mu.Unlock()
	if diff := cmp.Diff([]string{"/dev/ttyACM0", "/dev/ttyUSB0"}, opened); diff != "" {
		t.Errorf("opened ports mismatch (-want +got):\n%s", diff)
	}
	if !f.store.Snapshot().Connected {
		t.Error("state not connected after replacing the port")
	}

	if err := f.link.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if f.link.Connected() || f.store.Snapshot().Connected {
		t.Error("still connected after Disconnect")
	}
}
