// ABOUTME: One client agent: a connection, an adaptive poll schedule, and response handling.
// ABOUTME: Owns its identity exclusively; shares only the dedup cache and the stop flag.

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ztfn-6/sora-fleet/internal/dedupe"
	"github.com/ztfn-6/sora-fleet/internal/halt"
)

// State is an agent's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the slice of the realtime connection an agent drives. Connect is
// non-blocking; completion arrives via the OnConnect callback, transport
// drops via OnDisconnect. Reconnection after a drop belongs to the
// connection layer, not the agent.
type Conn interface {
	On(event string, fn func(data json.RawMessage))
	OnConnect(fn func())
	OnDisconnect(fn func())
	Connect(ctx context.Context)
	Emit(ctx context.Context, event string) error
	Close(ctx context.Context) error
}

// waitPattern extracts an embedded wait-duration from a throttle advisory,
// e.g. "please retry in 45 seconds".
var waitPattern = regexp.MustCompile(`(?i)(\d+)\s*seconds?`)

// Agent is one independently scheduled client bound to a single identity.
// Its poll schedule is mutated only by its own scheduler and its own
// response handler, under the agent's lock; no cross-agent mutation exists.
type Agent struct {
	id       string
	idx      int
	identity string

	conn         Conn
	seen         *dedupe.Cache
	stop         *halt.Flag
	events       chan<- Event
	baseInterval time.Duration
	logger       *slog.Logger

	mu           sync.Mutex
	state        State
	nextPollAt   time.Time
	lastAdvisory string
}

// New creates an agent for identity and installs its response handlers on
// conn. The agent reports discoveries through the shared dedup cache and
// posts Discovered/Throttled/Ignored events to events.
func New(idx int, identity string, conn Conn, seen *dedupe.Cache, stop *halt.Flag, events chan<- Event, baseInterval time.Duration, logger *slog.Logger) *Agent {
	a := &Agent{
		id:           uuid.New().String(),
		idx:          idx,
		identity:     identity,
		conn:         conn,
		seen:         seen,
		stop:         stop,
		events:       events,
		baseInterval: baseInterval,
		state:        StateDisconnected,
		logger:       logger.With("agent", idx),
	}
	a.installHandlers()
	return a
}

func (a *Agent) installHandlers() {
	a.conn.OnConnect(func() {
		a.mu.Lock()
		if a.state == StateDisconnected || a.state == StateConnecting {
			a.state = StateConnected
		}
		a.mu.Unlock()
		a.logger.Debug("connected")
	})

	a.conn.OnDisconnect(func() {
		a.mu.Lock()
		if a.state == StateConnected || a.state == StateConnecting {
			a.state = StateDisconnected
		}
		a.mu.Unlock()
		a.logger.Debug("disconnected")
	})

	a.conn.On(eventCodeResponse, a.handleCodeResponse)

	a.conn.On(eventError, func(data json.RawMessage) {
		// Diagnostic only; no scheduling effect.
		a.logger.Warn("server error event", "payload", string(data))
	})

	// Informational counters: accepted, not handled.
	a.conn.On(eventInviteCount, func(json.RawMessage) {})
	a.conn.On(eventUserCount, func(json.RawMessage) {})
}

// Connect issues the handshake and returns immediately.
func (a *Agent) Connect(ctx context.Context) {
	a.mu.Lock()
	if a.state == StateDisconnected {
		a.state = StateConnecting
	}
	a.mu.Unlock()

	a.conn.Connect(ctx)
}

// Poll emits one zero-payload request if the agent is connected and the
// poll is due. The next-allowed-poll-time is reset to now+baseInterval
// before the emit, whether or not the emit succeeds, so progress is
// guaranteed and retry storms stay bounded under transient emit failure.
// A later server advisory may override the reset.
func (a *Agent) Poll(ctx context.Context, now time.Time) {
	a.mu.Lock()
	if a.state != StateConnected || now.Before(a.nextPollAt) {
		a.mu.Unlock()
		return
	}
	a.nextPollAt = now.Add(a.baseInterval)
	a.mu.Unlock()

	if err := a.conn.Emit(ctx, eventRequest); err != nil {
		// Transient; the schedule already advanced, the next due poll retries.
		a.logger.Debug("poll emit failed", "error", err)
	}
}

// handleCodeResponse is the single mutation point for poll scheduling and
// discovery.
func (a *Agent) handleCodeResponse(data json.RawMessage) {
	var resp codeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		a.logger.Debug("unparseable response payload", "error", err)
		return
	}

	if resp.Success {
		if resp.Code == "" {
			// Success flag without a value is not a discovery.
			a.logger.Debug("success response with empty code")
			return
		}
		accepted, err := a.seen.TryInsert(resp.Code)
		if err != nil {
			// Degraded mode: the acceptance stands, durability did not.
			a.logger.Error("persisting discovery", "error", err)
		}
		if !accepted {
			// Another agent got here first. Common near the end of a run.
			return
		}
		a.post(Event{Kind: EventDiscovered, AgentID: a.id, Idx: a.idx, Code: resp.Code})
		return
	}

	if resp.Message == "" {
		// Neither success nor advisory: ignore silently.
		return
	}

	a.mu.Lock()
	a.lastAdvisory = resp.Message
	a.mu.Unlock()

	if delay, ok := parseWaitDuration(resp.Message); ok {
		a.mu.Lock()
		a.nextPollAt = time.Now().Add(delay)
		a.mu.Unlock()
		a.post(Event{Kind: EventThrottled, AgentID: a.id, Idx: a.idx, Delay: delay, Advisory: resp.Message})
		return
	}

	// Advisory with no parsable duration: default interval stands.
	a.post(Event{Kind: EventIgnored, AgentID: a.id, Idx: a.idx, Advisory: resp.Message})
}

// post delivers an event to the fleet observer without ever blocking the
// connection's read loop.
func (a *Agent) post(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.logger.Warn("event channel full, dropping event", "kind", ev.Kind.String())
	}
}

// RunLoop polls once per tick until the stop flag or ctx ends the run. The
// tick is the loop's only voluntary blocking point, so an agent observes
// the stop flag within one tick of it being set.
func (a *Agent) RunLoop(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		if a.stop.IsSet() || ctx.Err() != nil {
			return
		}
		a.Poll(ctx, time.Now())

		select {
		case <-ctx.Done():
			return
		case <-a.stop.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain disconnects the agent, waiting at most timeout. The agent always
// ends in StateClosed; a non-nil error means the disconnect missed the
// deadline and was forced.
func (a *Agent) Drain(ctx context.Context, timeout time.Duration) error {
	a.mu.Lock()
	if a.state == StateClosed || a.state == StateDraining {
		a.mu.Unlock()
		return nil
	}
	a.state = StateDraining
	a.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := a.conn.Close(dctx)

	a.mu.Lock()
	a.state = StateClosed
	a.mu.Unlock()

	return err
}

// ID returns the agent's instance ID.
func (a *Agent) ID() string {
	return a.id
}

// Idx returns the agent's ordinal within the fleet.
func (a *Agent) Idx() int {
	return a.idx
}

// Identity returns the identity token this agent is bound to.
func (a *Agent) Identity() string {
	return a.identity
}

// State returns the current connection state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// NextPollAt returns the earliest time the next poll may fire.
func (a *Agent) NextPollAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextPollAt
}

// LastAdvisory returns the most recent server advisory, for diagnostics.
func (a *Agent) LastAdvisory() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAdvisory
}

// parseWaitDuration scans an advisory for an embedded wait-duration: a
// decimal number followed by a unit word meaning seconds.
func parseWaitDuration(msg string) (time.Duration, bool) {
	m := waitPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
