package gateway

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tanay1904/Drone/internal/gateway/archive"
	"github.com/tanay1904/Drone/internal/gateway/cluster"
	"github.com/tanay1904/Drone/internal/gateway/hub"
	"github.com/tanay1904/Drone/internal/gateway/modem"
	"github.com/tanay1904/Drone/internal/gateway/router"
	"github.com/tanay1904/Drone/internal/gateway/server"
	"github.com/tanay1904/Drone/internal/gateway/session"
	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/gateway/vehiclelink"
	"github.com/tanay1904/Drone/internal/pkg/mqtt/paths"
	"github.com/tanay1904/Drone/internal/pkg/serialio"
	"github.com/tanay1904/Drone/pkg/mqtt"
	mqtttopic "github.com/tanay1904/Drone/pkg/mqtt/topic"
	"github.com/tanay1904/Drone/pkg/options"
)

// sessionTTL bounds how long a session outlives a gateway that died
// without removing it.
const sessionTTL = 24 * time.Hour

type Config struct {
	HttpOptions    *options.HttpOptions
	MqttOptions    *options.MqttOptions
	ClusterOptions *options.ClusterOptions
	ModemOptions   *options.ModemOptions
	SerialOptions  *options.SerialOptions
	HubOptions     *options.HubOptions
	RedisOptions   *options.RedisOptions
	S3Options      *options.S3Options
	WebRTCOptions  *options.WebRTCOptions
}

func (cfg *Config) NewGateway() (*Gateway, error) {
	deviceID := cfg.MqttOptions.DeviceID
	topics := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)
	store := state.NewStore(cfg.HubOptions.HistorySize)

	sessions, redisClient := cfg.newSessionStore()

	bus := hub.NewBus(cfg.newBusConfig(deviceID, topics), topics, deviceID, cfg.HubOptions.BusQueue, mqtt.NewClient)
	h := hub.New(hub.Config{
		DeviceID:       deviceID,
		State:          store,
		Sessions:       sessions,
		Bus:            bus,
		QueueSize:      cfg.HubOptions.WebSocketQueue,
		AllowedOrigins: cfg.HttpOptions.AllowedOrigins,
	})

	g := &Gateway{
		deviceID:    deviceID,
		state:       store,
		hub:         h,
		bus:         bus,
		redis:       redisClient,
		autoConnect: cfg.ModemOptions.AutoConnect,
		signaling:   hub.NewSignaling(cfg.WebRTCOptions.ToConfiguration(), cfg.WebRTCOptions.IncludeLoopback),
	}

	g.cluster = cluster.NewManager(cluster.Config{
		Members:        cluster.MembersFromOptions(cfg.ClusterOptions.Members),
		Interval:       cfg.ClusterOptions.HealthInterval,
		ProbeTimeout:   cfg.ClusterOptions.ProbeTimeout,
		Concurrency:    cfg.ClusterOptions.ProbeConcurrency,
		Margin:         cfg.ClusterOptions.OptimizeMargin,
		Prober:         cluster.NewHTTPProber(),
		Notifier:       h,
		Migrator:       session.NewMigrator(sessions, session.NewHTTPReplicator(cfg.ClusterOptions.ReplicateTimeout)),
		OnActiveChange: g.onActiveChange,
	})
	h.SetCluster(g.cluster)

	g.modem = modem.New(modem.Config{
		Dial:           serialio.Port(cfg.ModemOptions.Port, cfg.ModemOptions.BaudRate),
		APN:            cfg.ModemOptions.APN,
		CommandTimeout: cfg.ModemOptions.CommandTimeout,
		RetryBudget:    cfg.ModemOptions.RetryBudget,
		Cellular:       store,
		OnStateChange:  g.onModemState,
	})

	g.vehicle = vehiclelink.New(vehiclelink.Config{
		Port:     cfg.SerialOptions.Port,
		BaudRate: cfg.SerialOptions.BaudRate,
		DeviceID: deviceID,
		State:    store,
		Inbound:  h.Dispatch,
		OnChange: h.Broadcast,
	})

	g.router = router.New(router.Config{
		DeviceID:  deviceID,
		Topics:    topics,
		State:     store,
		Outbound:  h,
		Publisher: h,
		Vehicle:   g.vehicle,
		Cellular:  g.modem,
		Cluster:   g.cluster,
		Signaling: g.signaling,
	})
	h.SetHandler(g.router)

	minioClient, err := archive.NewClient(cfg.S3Options)
	if err != nil {
		return nil, err
	}
	if minioClient != nil {
		g.archive = archive.New(archive.Config{
			Client:     minioClient,
			BucketName: cfg.S3Options.BucketName,
			Region:     cfg.S3Options.Region,
			DeviceID:   deviceID,
			Interval:   cfg.S3Options.Interval,
			History:    store,
		})
	}

	g.server = server.NewServer(server.Config{
		Options:  cfg.HttpOptions,
		DeviceID: deviceID,
		State:    store,
		Hub:      h,
		Cluster:  g.cluster,
		Modem:    g.modem,
		Sessions: sessions,
		Handler:  g.router,
	})

	return g, nil
}

// newSessionStore returns the Redis-backed session table, or an in-memory
// one when no Redis address is configured.
func (cfg *Config) newSessionStore() (session.Store, *redis.Client) {
	client := cfg.RedisOptions.NewClient()
	if client == nil {
		return session.NewMemoryStore(), nil
	}
	return session.NewRedisStore(client, sessionTTL), client
}

func (cfg *Config) newBusConfig(deviceID string, topics *mqtttopic.Builder) *mqtt.ClientConfig {
	c := cfg.MqttOptions.ToClientConfig()
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("drone-gateway-%s-%s", deviceID, uuid.NewString()[:8])
	}

	// Cleared by the broker when the gateway drops without saying goodbye.
	c.WillTopic = topics.Build(paths.Gateway, deviceID)
	c.WillPayload = []byte(`{"online":false}`)
	c.WillQoS = 1
	c.WillRetain = true
	return c
}
