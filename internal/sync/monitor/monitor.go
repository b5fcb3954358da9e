// Package monitor provides connectivity and timer driven sync triggers.
//
// Two producers feed one debounced trigger: connectivity transitions
// (offline to online requests an immediate pass) and a periodic ticker
// that requests a pass while online when work is pending. The
// orchestrator coalesces overlapping requests, so firing a trigger
// while a pass runs is safe.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jjperez22/the-ERP-sub000/internal/logging"
)

// SyncRequester is the single trigger surface exposed by the
// orchestrator.
type SyncRequester interface {
	RequestSync(ctx context.Context) bool
}

// QueueInspector reports whether dispatchable work is waiting. Actions
// sitting out a backoff delay do not count; the tick would only spin
// on them.
type QueueInspector interface {
	HasEligible() bool
}

// ProbeFunc checks reachability of the remote endpoint. Optional; when
// set, the periodic loop refreshes the online flag from it.
type ProbeFunc func(ctx context.Context) bool

// Config holds monitor configuration.
type Config struct {
	// Interval is how often to request a sync pass while online.
	Interval time.Duration

	// Probe, when non-nil, refreshes connectivity on every tick.
	Probe ProbeFunc
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

// Monitor owns the isOnline flag and the periodic trigger loop.
type Monitor struct {
	requester SyncRequester
	queue     QueueInspector
	cfg       Config

	mu        sync.Mutex
	isOnline  bool
	isRunning bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Monitor. The monitor starts offline until a
// connectivity signal or probe reports otherwise.
func New(requester SyncRequester, queue QueueInspector, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Monitor{
		requester: requester,
		queue:     queue,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the periodic trigger loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)

	logging.Info("network monitor started",
		map[string]interface{}{"interval": m.cfg.Interval.String()})
}

// Stop shuts the monitor down and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	logging.Info("network monitor stopped")
}

// IsOnline reports current connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOnline
}

// SetOnline updates connectivity from a platform signal. An offline to
// online transition requests an immediate sync pass.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.isOnline
	m.isOnline = online
	m.mu.Unlock()

	if wasOnline == online {
		return
	}

	logging.Info("connectivity changed",
		map[string]interface{}{"was_online": wasOnline, "is_online": online})

	if online {
		m.RequestSync(ctx)
	}
}

// RequestSync forwards a trigger to the orchestrator. Requests while a
// pass is in flight coalesce into one follow-up pass there.
func (m *Monitor) RequestSync(ctx context.Context) bool {
	return m.requester.RequestSync(ctx)
}

// loop ticks at the configured interval, optionally refreshing
// connectivity from the probe, and requests a pass while online with
// queued work waiting.
func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.cfg.Probe != nil {
				m.SetOnline(ctx, m.cfg.Probe(ctx))
			}
			if m.IsOnline() && m.queue.HasEligible() {
				m.RequestSync(ctx)
			}
		}
	}
}
