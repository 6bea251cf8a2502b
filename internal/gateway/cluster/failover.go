package cluster

import (
	"context"
	"fmt"

	"github.com/tanay1904/Drone/internal/pkg/metrics"
)

// failover moves to the best available member other than the current one.
// Candidates are tried in order; when none can be committed the manager
// enters local mode.
func (m *Manager) failover(ctx context.Context, reason string) {
	if !m.inFlight.CompareAndSwap(false, true) {
		metrics.FailoverTotal.WithLabelValues(reason, "coalesced").Inc()
		m.log.Debug("Failover already in progress", "reason", reason)
		return
	}
	defer m.inFlight.Store(false)

	current := m.ActiveName()
	for _, cand := range ranked(m.Members(), current) {
		err := m.switchTo(ctx, reason, cand)
		if err == nil {
			return
		}
		m.log.Error(err, "Failover candidate rejected", "member", cand.Name)
		if ctx.Err() != nil {
			return
		}
	}

	if active, ok := m.activeMember(); ok && active.Available {
		return
	}
	m.enterLocal(reason)
}

// optimize switches to a member that is no less preferred than the active one
// and faster by at least the margin.
func (m *Manager) optimize(ctx context.Context, active Member) {
	margin := m.Margin()

	for _, cand := range ranked(m.Members(), active.Name) {
		if cand.Priority > active.Priority || cand.Latency > active.Latency-margin {
			continue
		}

		if !m.inFlight.CompareAndSwap(false, true) {
			metrics.FailoverTotal.WithLabelValues(reasonOptimize, "coalesced").Inc()
			return
		}
		defer m.inFlight.Store(false)

		m.log.Info("Found better cluster member",
			"member", cand.Name, "latency", cand.Latency.String(),
			"active", active.Name, "activeLatency", active.Latency.String())
		if err := m.switchTo(ctx, reasonOptimize, cand); err != nil {
			m.log.Error(err, "Optimization switch failed", "member", cand.Name)
		}
		return
	}
}

// switchTo runs the switch procedure. The caller holds the in-flight guard.
// A failure after the advisory notice restores the previous active member.
func (m *Manager) switchTo(ctx context.Context, reason string, to Member) error {
	m.mu.RLock()
	prevName, prevLocal := m.active, m.local
	m.mu.RUnlock()
	prev, hadPrev := m.activeMember()

	m.log.Info("Switching cluster member", "from", prevName, "to", to.Name, "reason", reason)

	m.notifier.SwitchNotice(ctx, prevName, to)

	if _, err := m.migrator.Migrate(ctx, to.URL); err != nil {
		metrics.FailoverTotal.WithLabelValues(reason, "failed").Inc()
		return fmt.Errorf("%w: %s: %w", ErrMigrationFailed, to.Name, err)
	}

	m.mu.Lock()
	m.active, m.local = to.Name, false
	m.mu.Unlock()

	if err := m.notifier.Repoint(ctx, to); err != nil {
		m.mu.Lock()
		m.active, m.local = prevName, prevLocal
		m.mu.Unlock()

		if hadPrev {
			if rerr := m.notifier.Repoint(ctx, prev); rerr != nil {
				m.log.Error(rerr, "Failed to repoint back to previous member", "member", prev.Name)
			}
		}
		metrics.FailoverTotal.WithLabelValues(reason, "failed").Inc()
		return fmt.Errorf("repoint to %s: %w", to.Name, err)
	}

	metrics.FailoverTotal.WithLabelValues(reason, "success").Inc()
	metrics.SetActiveMember(to.Name, m.names)
	m.log.Info("Cluster member switched", "from", prevName, "to", to.Name)

	if m.onActiveChange != nil {
		m.onActiveChange(to.Name)
	}
	return nil
}

func (m *Manager) enterLocal(reason string) {
	m.mu.Lock()
	already := m.local
	m.active, m.local = "", true
	m.mu.Unlock()

	if already {
		return
	}

	m.log.Warn("No cluster member available, entering local mode", "reason", reason)
	metrics.FailoverTotal.WithLabelValues(reason, "local").Inc()
	metrics.SetActiveMember("", m.names)

	if m.onActiveChange != nil {
		m.onActiveChange("")
	}
}
