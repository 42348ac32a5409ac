// Package connectivity implements the reachability monitor: a periodic HEAD
// probe against a small known resource, producing the tri-state signal the
// synchronization driver consults before attempting a network pass. The
// monitor is purely advisory; it never gates storage operations.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/asemenov-dev/inspectsync/internal/logging"
	"github.com/asemenov-dev/inspectsync/internal/netx"
)

// State is the connectivity signal.
type State string

const (
	StateChecking State = "checking"
	StateOnline   State = "online"
	StateOffline  State = "offline"
)

const defaultProbeTimeout = 3 * time.Second

// Monitor probes a URL on a fixed interval. The initial state is always
// StateChecking; it is never persisted and is re-derived by an immediate
// probe on Start.
type Monitor struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	log      logging.Logger

	mu          sync.Mutex
	state       State
	lastChecked time.Time
	stopped     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor returns a Monitor in StateChecking. Start must be called to
// begin probing.
func NewMonitor(url string, interval time.Duration, client *http.Client, log logging.Logger) *Monitor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Monitor{
		url:      url,
		interval: interval,
		timeout:  defaultProbeTimeout,
		client:   client,
		log:      log,
		state:    StateChecking,
	}
}

// Start launches the probe loop: one immediate probe, then one per interval,
// until Stop is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		m.probe(loopCtx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.probe(loopCtx)
			case <-loopCtx.Done():
				return
			}
		}
	}()
}

// Stop tears the monitor down. A probe that is in flight when Stop is called
// has its result discarded: no state mutation is observable after Stop
// returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// State returns the current connectivity state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the last completed probe succeeded.
func (m *Monitor) Online() bool {
	return m.State() == StateOnline
}

// LastCheckedAt returns the wall-clock time of the most recent completed
// probe, regardless of its outcome. Zero until the first probe completes.
func (m *Monitor) LastCheckedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChecked
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	ok, err := netx.Probe(probeCtx, m.client, m.url)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		// The owning scope is gone; a late result must not mutate state.
		return
	}

	prev := m.state
	if err == nil && ok {
		m.state = StateOnline
	} else {
		m.state = StateOffline
	}
	m.lastChecked = time.Now()

	if m.state != prev {
		m.log.Info(ctx, "connectivity changed", "from", string(prev), "to", string(m.state))
	}
}
