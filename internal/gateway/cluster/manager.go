package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/tanay1904/Drone/internal/pkg/metrics"
	"github.com/tanay1904/Drone/pkg/log"
)

var (
	ErrProbeFailed       = errors.New("health probe failed")
	ErrMigrationFailed   = errors.New("session migration failed")
	ErrUnknownMember     = errors.New("unknown cluster member")
	ErrMemberUnavailable = errors.New("cluster member unavailable")
	ErrSwitchInProgress  = errors.New("cluster switch already in progress")
)

// Switch reasons, used in logs and metrics.
const (
	reasonFailover = "failover"
	reasonOptimize = "optimize"
	reasonOperator = "operator"
	reasonRecover  = "recover"
)

// Notifier tells the transports about a switch.
type Notifier interface {
	// SwitchNotice sends the advisory broadcast that precedes a switch.
	// from is empty when leaving local mode.
	SwitchNotice(ctx context.Context, from string, to Member)
	// Repoint sends reconnect directives to live clients and moves the bus
	// connection to the member.
	Repoint(ctx context.Context, to Member) error
}

// Migrator copies the live sessions to a member.
type Migrator interface {
	Migrate(ctx context.Context, memberURL string) (int, error)
}

type Config struct {
	Members      []Member
	Interval     time.Duration
	ProbeTimeout time.Duration
	Concurrency  int
	Margin       time.Duration

	Prober   Prober
	Notifier Notifier
	Migrator Migrator
	Clock    clock.WithTicker

	// OnActiveChange is called after every committed switch. name is empty
	// when the manager enters local mode.
	OnActiveChange func(name string)
}

// Manager keeps exactly one active member, or none in local mode.
type Manager struct {
	interval     time.Duration
	probeTimeout time.Duration
	concurrency  int
	margin       atomic.Int64

	prober         Prober
	notifier       Notifier
	migrator       Migrator
	clock          clock.WithTicker
	onActiveChange func(string)
	log            log.Logger

	names []string

	mu      sync.RWMutex
	members []Member
	active  string
	local   bool

	// inFlight admits one switch attempt at a time.
	inFlight atomic.Bool
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Prober == nil {
		cfg.Prober = NewHTTPProber()
	}

	m := &Manager{
		interval:       cfg.Interval,
		probeTimeout:   cfg.ProbeTimeout,
		concurrency:    cfg.Concurrency,
		prober:         cfg.Prober,
		notifier:       cfg.Notifier,
		migrator:       cfg.Migrator,
		clock:          cfg.Clock,
		onActiveChange: cfg.OnActiveChange,
		log:            log.WithName("cluster"),
		members:        slices.Clone(cfg.Members),
	}
	for _, mem := range cfg.Members {
		m.names = append(m.names, mem.Name)
	}
	m.margin.Store(int64(cfg.Margin))
	return m
}

// Run probes every interval until ctx ends. The first round runs immediately
// and selects the initial active member.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("Starting cluster health loop", "members", len(m.names), "interval", m.interval.String())

	m.Tick(ctx)

	t := m.clock.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Cluster health loop stopped")
			return nil
		case <-t.C():
			m.Tick(ctx)
		}
	}
}

// Tick runs one probe round and acts on the result.
func (m *Manager) Tick(ctx context.Context) {
	m.probeAll(ctx)

	active, ok := m.activeMember()
	switch {
	case !ok:
		m.failover(ctx, reasonRecover)
	case !active.Available:
		m.log.Warn("Active member is unavailable, initiating failover", "member", active.Name)
		m.failover(ctx, reasonFailover)
	default:
		m.optimize(ctx, active)
	}
}

// Select switches to name on operator request.
func (m *Manager) Select(ctx context.Context, name string) error {
	target, ok := m.member(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMember, name)
	}
	if name == m.ActiveName() {
		return nil
	}
	if !target.Available {
		return fmt.Errorf("%w: %s", ErrMemberUnavailable, name)
	}

	if !m.inFlight.CompareAndSwap(false, true) {
		metrics.FailoverTotal.WithLabelValues(reasonOperator, "coalesced").Inc()
		return ErrSwitchInProgress
	}
	defer m.inFlight.Store(false)

	return m.switchTo(ctx, reasonOperator, target)
}

// ActiveName returns the active member, or "" in local mode.
func (m *Manager) ActiveName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Local reports whether no member is usable.
func (m *Manager) Local() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.local
}

// Members returns a copy of the member table in configuration order.
func (m *Manager) Members() []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := slices.Clone(m.members)
	for i := range out {
		out[i].Active = out[i].Name == m.active
		out[i].LatencyMS = out[i].Latency.Milliseconds()
	}
	return out
}

// SetMargin changes the latency improvement an optimization switch needs.
func (m *Manager) SetMargin(d time.Duration) {
	if old := time.Duration(m.margin.Swap(int64(d))); old != d {
		m.log.Info("Optimization margin changed", "from", old.String(), "to", d.String())
	}
}

func (m *Manager) Margin() time.Duration {
	return time.Duration(m.margin.Load())
}

func (m *Manager) probeAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(m.concurrency)

	for _, mem := range m.Members() {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
			defer cancel()

			latency, err := m.prober.Probe(pctx, mem.URL)
			m.record(mem.Name, latency, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) record(name string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.members, func(mem Member) bool { return mem.Name == name })
	if i < 0 {
		return
	}
	mem := &m.members[i]

	if err != nil {
		if mem.Available {
			m.log.Warn("Cluster member became unavailable", "member", name, "error", err.Error())
		}
		mem.Available = false
		metrics.ProbeTotal.WithLabelValues(name, "failed").Inc()
		metrics.ClusterAvailable.WithLabelValues(name).Set(0)
		return
	}

	if !mem.Available {
		m.log.Info("Cluster member available", "member", name, "latency", latency.String())
	}
	mem.Available = true
	mem.Latency = latency
	metrics.ProbeTotal.WithLabelValues(name, "success").Inc()
	metrics.ClusterAvailable.WithLabelValues(name).Set(1)
	metrics.ClusterLatency.WithLabelValues(name).Set(latency.Seconds())
}

func (m *Manager) member(name string) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mem := range m.members {
		if mem.Name == name {
			return mem, true
		}
	}
	return Member{}, false
}

func (m *Manager) activeMember() (Member, bool) {
	name := m.ActiveName()
	if name == "" {
		return Member{}, false
	}
	return m.member(name)
}
