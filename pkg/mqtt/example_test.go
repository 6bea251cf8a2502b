package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/tanay1904/Drone/pkg/log"
	"github.com/tanay1904/Drone/pkg/mqtt"
	"github.com/tanay1904/Drone/pkg/mqtt/topic"
)

// ExampleClient shows how the gateway connects to the device bus, listens to
// telemetry from every vehicle and publishes a command to one of them.
func ExampleClient() {
	topics := topic.NewBuilder("device")

	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "drone-gateway-example",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		CleanStart:     true,
		WillTopic:      topics.Build("gateway", "drone-001"),
		WillPayload:    []byte(`{"online":false}`),
		WillQoS:        1,
		WillRetain:     true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// Start returns immediately; the connection is made and kept in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	onTelemetry := func(ctx context.Context, t string, payload []byte) {
		fmt.Printf("telemetry on %s: %s\n", t, payload)
	}

	// Subscriptions survive reconnects.
	if err := client.Subscribe(ctx, topics.Wildcard("telemetry"), 1, onTelemetry); err != nil {
		log.Error(err, "Failed to subscribe")
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	cmd := []byte(`{"type":"ARM"}`)
	if err := client.Publish(ctx, topics.Build("command", "drone-001"), 1, false, cmd); err != nil {
		log.Error(err, "Failed to publish command")
	}

	client.Disconnect(ctx)
}
