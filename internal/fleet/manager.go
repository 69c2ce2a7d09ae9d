// ABOUTME: Fleet manager: builds one agent per identity and orchestrates their lifecycle.
// ABOUTME: Staggered connects, pooled poll loops, and bounded graceful shutdown.

package fleet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ztfn-6/sora-fleet/internal/agent"
	"github.com/ztfn-6/sora-fleet/internal/dedupe"
	"github.com/ztfn-6/sora-fleet/internal/halt"
	"github.com/ztfn-6/sora-fleet/internal/pool"
)

// eventBuffer sizes the agent→observer channel. Posting is non-blocking,
// so the buffer only needs to absorb bursts within one observer iteration.
const eventBuffer = 256

// Config holds the fleet's orchestration settings.
type Config struct {
	StopOnFirst    bool
	Workers        int           // bounded pool shared by connects and poll loops
	BaseInterval   time.Duration // default per-agent poll interval
	Tick           time.Duration // poll-loop scheduling tick
	ConnectStagger time.Duration // delay between successive connect submissions
	SettleDelay    time.Duration // pause between the connect and poll phases
	DrainTimeout   time.Duration // per-agent disconnect budget during shutdown
}

// ConnFactory builds the realtime connection for one identity.
type ConnFactory func(identity string) agent.Conn

// Manager owns the collection of agents, the worker pool that runs their
// connect and poll tasks, and the coordination around the global stop flag.
// The fleet is fixed size after construction.
type Manager struct {
	cfg    Config
	stop   *halt.Flag
	seen   *dedupe.Cache
	logger *slog.Logger

	agents  []*agent.Agent
	events  chan agent.Event
	sinks   []DiscoverySink
	obsDone chan struct{}
}

// New constructs one agent per identity. sinks receive each newly accepted
// discovery in observer order.
func New(cfg Config, identities []string, factory ConnFactory, seen *dedupe.Cache, stop *halt.Flag, logger *slog.Logger, sinks ...DiscoverySink) *Manager {
	m := &Manager{
		cfg:     cfg,
		stop:    stop,
		seen:    seen,
		logger:  logger,
		events:  make(chan agent.Event, eventBuffer),
		sinks:   sinks,
		obsDone: make(chan struct{}),
	}

	m.agents = make([]*agent.Agent, 0, len(identities))
	for i, id := range identities {
		conn := factory(id)
		m.agents = append(m.agents, agent.New(i+1, id, conn, seen, stop, m.events, cfg.BaseInterval, logger))
	}
	return m
}

// Agents returns the fleet's agents.
func (m *Manager) Agents() []*agent.Agent {
	return m.agents
}

// StateCounts summarizes agent states, for the final report.
func (m *Manager) StateCounts() map[agent.State]int {
	counts := make(map[agent.State]int)
	for _, a := range m.agents {
		counts[a.State()]++
	}
	return counts
}

// Run drives the fleet until the stop flag fires (first discovery in
// stop-on-first mode, or external cancellation via ctx), then drains every
// agent. It returns the IDs of agents that exceeded the drain timeout.
// Run may be called once.
func (m *Manager) Run(ctx context.Context) []string {
	go m.observe(ctx)

	workers := pool.New(m.cfg.Workers)

	// Phase 1: staggered connects. Connect is non-blocking, so the stagger
	// between submissions is the stagger between handshake initiations.
	m.logger.Info("connecting agents",
		"count", len(m.agents),
		"stagger", m.cfg.ConnectStagger,
	)
	for _, a := range m.agents {
		if m.stop.IsSet() || ctx.Err() != nil {
			break
		}
		a := a
		workers.Go(func() { a.Connect(ctx) })
		if !m.sleep(ctx, m.cfg.ConnectStagger) {
			break
		}
	}

	m.sleep(ctx, m.cfg.SettleDelay)

	// Phase 2: poll loops on the same pool. Submission runs on its own
	// goroutine because with more agents than workers it blocks for
	// back-pressure; queued loops observe the stop flag on entry.
	m.logger.Info("starting poll loops",
		"count", len(m.agents),
		"tick", m.cfg.Tick,
	)
	go func() {
		for _, a := range m.agents {
			if m.stop.IsSet() || ctx.Err() != nil {
				return
			}
			a := a
			workers.Go(func() { a.RunLoop(ctx, m.cfg.Tick) })
		}
	}()

	select {
	case <-m.stop.Done():
		m.logger.Info("stop flag observed", "reason", m.stop.Reason())
	case <-ctx.Done():
		m.stop.Set("external cancellation")
	}

	// Shutdown gets a context detached from the external cancellation so
	// draining keeps its own bounded budget.
	missed := m.Shutdown(context.WithoutCancel(ctx))
	workers.Wait()
	close(m.obsDone)
	return missed
}

// Shutdown sets the stop flag if not already set and drains every agent
// concurrently, waiting up to the drain timeout for each. It returns the
// IDs of agents that missed the deadline; every agent still ends Closed.
func (m *Manager) Shutdown(ctx context.Context) []string {
	m.stop.Set("shutdown requested")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var missed []string

	for _, a := range m.agents {
		wg.Add(1)
		go func(a *agent.Agent) {
			defer wg.Done()
			if err := a.Drain(ctx, m.cfg.DrainTimeout); err != nil {
				m.logger.Warn("drain exceeded timeout",
					"agent", a.Idx(),
					"error", err,
				)
				mu.Lock()
				missed = append(missed, a.ID())
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()

	m.logger.Info("fleet drained",
		"agents", len(m.agents),
		"missed", len(missed),
	)
	return missed
}

// observe consumes agent events sequentially. This is the only place the
// stop-on-first decision is made, decoupled from connection callbacks.
func (m *Manager) observe(ctx context.Context) {
	for {
		select {
		case ev := <-m.events:
			m.handleEvent(ev)
		case <-ctx.Done():
			return
		case <-m.obsDone:
			// Flush anything already queued before leaving.
			for {
				select {
				case ev := <-m.events:
					m.handleEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) handleEvent(ev agent.Event) {
	switch ev.Kind {
	case agent.EventDiscovered:
		m.logger.Info("code discovered", "agent", ev.Idx, "code", ev.Code)
		for _, s := range m.sinks {
			if err := s.Mirror(ev.Code); err != nil {
				m.logger.Warn("mirroring discovery", "error", err)
			}
		}
		if m.cfg.StopOnFirst {
			m.stop.Set("first code found")
		}
	case agent.EventThrottled:
		m.logger.Debug("agent throttled",
			"agent", ev.Idx,
			"delay", ev.Delay,
			"advisory", ev.Advisory,
		)
	case agent.EventIgnored:
		m.logger.Debug("advisory without schedule effect",
			"agent", ev.Idx,
			"advisory", ev.Advisory,
		)
	}
}

// sleep waits for d, returning false if the stop flag or ctx ended first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-m.stop.Done():
		return false
	case <-time.After(d):
		return true
	}
}
