package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tanay1904/Drone/internal/pkg/metrics"
	"github.com/tanay1904/Drone/internal/pkg/mqtt/paths"
	"github.com/tanay1904/Drone/pkg/log"
	"github.com/tanay1904/Drone/pkg/mqtt"
	"github.com/tanay1904/Drone/pkg/mqtt/topic"
)

// ClientFactory creates a bus client; mqtt.NewClient in production.
type ClientFactory func(cfg *mqtt.ClientConfig) (mqtt.Client, error)

type publication struct {
	topic   string
	payload []byte
}

// Bus is the publish/subscribe sink. State publications go through a
// drop-oldest queue; control publications are sent synchronously so the
// caller sees the broker's answer.
type Bus struct {
	deviceID  string
	topics    *topic.Builder
	newClient ClientFactory
	log       log.Logger

	out *outbox[publication]

	// base is the lifetime of every client the bus creates.
	base    context.Context
	inbound func(ctx context.Context, msg Message)

	// repointMu serializes Repoint; mu guards the fields below.
	repointMu sync.Mutex
	mu        sync.RWMutex
	cfg       *mqtt.ClientConfig
	client    mqtt.Client
}

func NewBus(cfg *mqtt.ClientConfig, topics *topic.Builder, deviceID string, queue int, factory ClientFactory) *Bus {
	if factory == nil {
		factory = mqtt.NewClient
	}
	return &Bus{
		deviceID:  deviceID,
		topics:    topics,
		newClient: factory,
		log:       log.WithName("bus"),
		out:       newOutbox[publication](queue, 1),
		cfg:       cfg,
	}
}

// Start connects to the broker and subscribes to the device topics. inbound
// receives every publication as a normalized message. Start does not wait
// for the broker; subscriptions are renewed whenever the connection comes up.
func (b *Bus) Start(ctx context.Context, inbound func(ctx context.Context, msg Message)) error {
	b.base = ctx
	b.inbound = inbound

	client, err := b.connect(b.cfg)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()

	b.subscribe(ctx, client)
	return nil
}

// Run publishes queued state until ctx ends, then disconnects.
func (b *Bus) Run(ctx context.Context) error {
	defer func() {
		b.out.close()
		if c := b.current(); c != nil {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			b.announce(dctx, c, false)
			c.Disconnect(dctx)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.out.ready:
			for {
				p, lane, ok := b.out.pop()
				if !ok {
					break
				}
				b.publishQueued(ctx, p, lane)
			}
		}
	}
}

// PublishState queues the bare snapshot for the device state topic.
func (b *Bus) PublishState(payload []byte) {
	b.enqueue(publication{topic: b.topics.Build(paths.State, b.deviceID), payload: payload})
}

// Advise queues an advisory notice on the gateway topic.
func (b *Bus) Advise(payload []byte) {
	b.enqueue(publication{topic: b.topics.Build(paths.Gateway, b.deviceID), payload: payload})
}

func (b *Bus) enqueue(p publication) {
	dropped, err := b.out.pushState(p)
	if err != nil {
		return
	}
	if dropped > 0 {
		metrics.HubDroppedTotal.WithLabelValues(TransportBus).Add(float64(dropped))
	}
}

// Publish sends a control publication at QoS 1 and returns once the broker
// has accepted it.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	c := b.current()
	if c == nil {
		return fmt.Errorf("%w: bus not started", ErrSinkClosed)
	}
	if err := c.Publish(ctx, topic, 1, false, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.HubDeliveredTotal.WithLabelValues(TransportBus, laneControl).Inc()
	return nil
}

// Repoint moves the bus to another broker. The old connection is kept until
// the new one is up; on failure nothing changes.
func (b *Bus) Repoint(ctx context.Context, broker string) error {
	b.repointMu.Lock()
	defer b.repointMu.Unlock()

	b.mu.RLock()
	cfg, old := b.cfg, b.client
	b.mu.RUnlock()

	if broker == "" || broker == cfg.BrokerURL {
		return nil
	}
	if old == nil {
		return fmt.Errorf("%w: bus not started", ErrSinkClosed)
	}

	next := cfg.WithBroker(broker)
	client, err := b.connect(next)
	if err != nil {
		return err
	}

	timeout := next.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.AwaitConnection(actx); err != nil {
		client.Disconnect(context.Background())
		return fmt.Errorf("connect to broker %s: %w", broker, err)
	}
	b.subscribe(actx, client)

	b.mu.Lock()
	b.cfg, b.client = next, client
	b.mu.Unlock()

	old.Disconnect(ctx)
	b.log.Info("Bus repointed", "from", cfg.BrokerURL, "to", broker)
	return nil
}

// Connected reports whether the current client is connected.
func (b *Bus) Connected() bool {
	c := b.current()
	return c != nil && c.IsConnected()
}

// Broker returns the broker in use.
func (b *Bus) Broker() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.BrokerURL
}

func (b *Bus) current() mqtt.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func (b *Bus) connect(cfg *mqtt.ClientConfig) (mqtt.Client, error) {
	client, err := b.newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus client: %w", err)
	}
	if err := client.Start(b.base); err != nil {
		return nil, fmt.Errorf("failed to start bus client: %w", err)
	}
	return client, nil
}

func (b *Bus) subscribe(ctx context.Context, client mqtt.Client) {
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, kind := range paths.Subscribed {
		t := b.topics.Build(kind, b.deviceID)
		if err := client.Subscribe(sctx, t, 1, b.receive); err != nil {
			// The client renews stored subscriptions when it connects.
			b.log.Warn("Subscription deferred until the bus connects", "topic", t, "error", err.Error())
		}
	}
	b.announce(sctx, client, true)
}

func (b *Bus) receive(ctx context.Context, t string, payload []byte) {
	deviceID, kind, _, ok := b.topics.Parse(t)
	if !ok {
		b.log.Debug("Ignoring publication on foreign topic", "topic", t)
		return
	}
	if b.inbound == nil {
		return
	}
	b.inbound(ctx, Message{
		Kind:     kind,
		Source:   Source{Transport: TransportBus, ID: t},
		DeviceID: deviceID,
		Payload:  payload,
	})
}

func (b *Bus) publishQueued(ctx context.Context, p publication, lane string) {
	c := b.current()
	if c == nil || !c.IsConnected() {
		metrics.HubDroppedTotal.WithLabelValues(TransportBus).Inc()
		return
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Publish(pctx, p.topic, 0, false, p.payload); err != nil {
		if !errors.Is(err, context.Canceled) {
			b.log.Debug("State publication failed", "topic", p.topic, "error", err.Error())
		}
		metrics.HubDroppedTotal.WithLabelValues(TransportBus).Inc()
		return
	}
	metrics.HubDeliveredTotal.WithLabelValues(TransportBus, lane).Inc()
}

// announce publishes the retained online flag of the gateway. The will
// message clears it when the connection drops.
func (b *Bus) announce(ctx context.Context, client mqtt.Client, online bool) {
	payload := []byte(`{"online":false}`)
	if online {
		payload = []byte(`{"online":true}`)
	}
	if !client.IsConnected() {
		return
	}
	if err := client.Publish(ctx, b.topics.Build(paths.Gateway, b.deviceID), 1, true, payload); err != nil {
		b.log.Debug("Failed to publish gateway presence", "online", online, "error", err.Error())
	}
}
