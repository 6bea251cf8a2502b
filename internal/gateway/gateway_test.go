package gateway

import (
	"testing"
	"time"

	"github.com/tanay1904/Drone/internal/gateway/modem"
	"github.com/tanay1904/Drone/internal/gateway/session"
	"github.com/tanay1904/Drone/internal/gateway/state"
	mqtttopic "github.com/tanay1904/Drone/pkg/mqtt/topic"
	"github.com/tanay1904/Drone/pkg/options"
)

func newTestConfig() *Config {
	return &Config{
		HttpOptions:    options.NewHttpOptions(),
		MqttOptions:    options.NewMqttOptions(),
		ClusterOptions: options.NewClusterOptions(),
		ModemOptions:   options.NewModemOptions(),
		SerialOptions:  options.NewSerialOptions(),
		HubOptions:     options.NewHubOptions(),
		RedisOptions:   options.NewRedisOptions(),
		S3Options:      options.NewS3Options(),
		WebRTCOptions:  options.NewWebRTCOptions(),
	}
}

func TestNewGatewayDefaults(t *testing.T) {
	g, err := newTestConfig().NewGateway()
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	if g.deviceID != "drone-001" {
		t.Errorf("deviceID = %q", g.deviceID)
	}
	if g.redis != nil {
		t.Error("redis client created without an address")
	}
	if g.archive != nil {
		t.Error("archive enabled without an S3 endpoint")
	}
	if got := g.state.HistoryCapacity(); got != 1000 {
		t.Errorf("history capacity = %d, want 1000", got)
	}
	if got := len(g.cluster.Members()); got != 4 {
		t.Errorf("cluster members = %d, want 4", got)
	}
}

func TestNewGatewayWithArchiveAndRedis(t *testing.T) {
	cfg := newTestConfig()
	cfg.S3Options.Endpoint = "minio.local:9000"
	cfg.RedisOptions.Addr = "127.0.0.1:6379"

	g, err := cfg.NewGateway()
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	t.Cleanup(func() { _ = g.redis.Close() })

	if g.archive == nil {
		t.Error("archive disabled despite an S3 endpoint")
	}
	if g.redis == nil {
		t.Error("no redis client for a configured address")
	}
}

func TestSessionStoreSelection(t *testing.T) {
	cfg := newTestConfig()

	store, client := cfg.newSessionStore()
	if _, ok := store.(*session.MemoryStore); !ok || client != nil {
		t.Errorf("without redis: store = %T, client = %v", store, client)
	}

	cfg.RedisOptions.Addr = "127.0.0.1:6379"
	store, client = cfg.newSessionStore()
	t.Cleanup(func() { _ = client.Close() })
	if _, ok := store.(*session.RedisStore); !ok || client == nil {
		t.Errorf("with redis: store = %T, client = %v", store, client)
	}
}

func TestBusConfig(t *testing.T) {
	cfg := newTestConfig()
	topics := mqtttopic.NewBuilder("device")

	c := cfg.newBusConfig("drone-7", topics)
	if c.WillTopic != "device/drone-7/gateway" || string(c.WillPayload) != `{"online":false}` || !c.WillRetain || c.WillQoS != 1 {
		t.Errorf("will = %s %s retain=%v qos=%d", c.WillTopic, c.WillPayload, c.WillRetain, c.WillQoS)
	}
	if c.ClientID == "" {
		t.Error("client id not generated")
	}
	if !c.NoLocal {
		t.Error("bus subscriptions must not echo the gateway's own publications")
	}

	cfg.MqttOptions.ClientID = "fixed"
	if got := cfg.newBusConfig("drone-7", topics).ClientID; got != "fixed" {
		t.Errorf("configured client id replaced with %q", got)
	}
}

func TestActiveChangeTracksLocalMode(t *testing.T) {
	g, err := newTestConfig().NewGateway()
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		active string
		want   string
	}{
		{active: "", want: state.ConnectionLocal},
		{active: "primary", want: state.ConnectionNone},
		{active: "secondary", want: state.ConnectionNone},
	}
	for _, s := range steps {
		g.onActiveChange(s.active)
		if got := g.state.Snapshot().ConnectionType; got != s.want {
			t.Errorf("after switch to %q: connection type = %s, want %s", s.active, got, s.want)
		}
	}

	g.state.Update(func(v *state.VehicleState) { v.ConnectionType = state.ConnectionLTE })
	g.onActiveChange("primary")
	if got := g.state.Snapshot().ConnectionType; got != state.ConnectionLTE {
		t.Errorf("switch between members overwrote %s with %s", state.ConnectionLTE, got)
	}
}

func TestModemStateTracksLTE(t *testing.T) {
	g, err := newTestConfig().NewGateway()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		initial string
		modem   string
		want    string
	}{
		{name: "data active", initial: state.ConnectionNone, modem: modem.StateDataActive, want: state.ConnectionLTE},
		{name: "error drops lte", initial: state.ConnectionLTE, modem: modem.StateError, want: state.ConnectionNone},
		{name: "reset drops lte", initial: state.ConnectionLTE, modem: modem.StateInit, want: state.ConnectionNone},
		{name: "bring-up keeps serial", initial: state.ConnectionSerial, modem: modem.StateRegistering, want: state.ConnectionSerial},
		{name: "error keeps wifi", initial: state.ConnectionWiFi, modem: modem.StateError, want: state.ConnectionWiFi},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.state.Update(func(v *state.VehicleState) { v.ConnectionType = tt.initial })
			g.onModemState(tt.modem)
			if got := g.state.Snapshot().ConnectionType; got != tt.want {
				t.Errorf("connection type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSetOptimizeMargin(t *testing.T) {
	g, err := newTestConfig().NewGateway()
	if err != nil {
		t.Fatal(err)
	}

	g.SetOptimizeMargin(120 * time.Millisecond)
	if got := g.cluster.Margin(); got != 120*time.Millisecond {
		t.Errorf("Margin() = %v, want 120ms", got)
	}
}
