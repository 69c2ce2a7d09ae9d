// ABOUTME: Tests for the client agent state machine and poll scheduling.
// ABOUTME: Covers due-time resets, throttle advisories, discovery dedup, and drain.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ztfn-6/sora-fleet/internal/dedupe"
	"github.com/ztfn-6/sora-fleet/internal/halt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn implements Conn and lets tests drive callbacks directly.
type fakeConn struct {
	mu           sync.Mutex
	handlers     map[string]func(json.RawMessage)
	onConnect    func()
	onDisconnect func()
	connectCalls int
	emits        []string
	emitErr      error
	closeErr     error
	closed       bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]func(json.RawMessage))}
}

func (c *fakeConn) On(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

func (c *fakeConn) OnConnect(fn func())    { c.mu.Lock(); defer c.mu.Unlock(); c.onConnect = fn }
func (c *fakeConn) OnDisconnect(fn func()) { c.mu.Lock(); defer c.mu.Unlock(); c.onDisconnect = fn }

func (c *fakeConn) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
}

func (c *fakeConn) Emit(ctx context.Context, event string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emits = append(c.emits, event)
	return nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

func (c *fakeConn) emitted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.emits))
	copy(out, c.emits)
	return out
}

// goOnline simulates a completed handshake.
func (c *fakeConn) goOnline() {
	c.mu.Lock()
	fn := c.onConnect
	c.mu.Unlock()
	fn()
}

// drop simulates a transport drop.
func (c *fakeConn) drop() {
	c.mu.Lock()
	fn := c.onDisconnect
	c.mu.Unlock()
	fn()
}

// fire delivers a named server event to the agent's handler.
func (c *fakeConn) fire(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	c.mu.Lock()
	fn := c.handlers[event]
	c.mu.Unlock()
	require.NotNil(t, fn, "no handler registered for %q", event)
	fn(data)
}

type fixture struct {
	agent  *Agent
	conn   *fakeConn
	seen   *dedupe.Cache
	stop   *halt.Flag
	events chan Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := newFakeConn()
	seen := dedupe.New(nil)
	stop := halt.NewFlag()
	events := make(chan Event, 16)
	a := New(1, "identity-1", conn, seen, stop, events, time.Second, discardLogger())
	return &fixture{agent: a, conn: conn, seen: seen, stop: stop, events: events}
}

func (f *fixture) online(ctx context.Context) {
	f.agent.Connect(ctx)
	f.conn.goOnline()
}

func TestAgent_StateTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, StateDisconnected, f.agent.State())

	f.agent.Connect(ctx)
	assert.Equal(t, StateConnecting, f.agent.State())
	assert.Equal(t, 1, f.conn.connectCalls)

	f.conn.goOnline()
	assert.Equal(t, StateConnected, f.agent.State())

	f.conn.drop()
	assert.Equal(t, StateDisconnected, f.agent.State())

	// The connection layer reconnects on its own; the agent just observes.
	f.conn.goOnline()
	assert.Equal(t, StateConnected, f.agent.State())
}

func TestAgent_PollOnlyWhenConnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.agent.Poll(ctx, time.Now())
	assert.Empty(t, f.conn.emitted(), "disconnected agent must not poll")

	f.online(ctx)
	f.agent.Poll(ctx, time.Now())
	assert.Equal(t, []string{"getCode"}, f.conn.emitted())
}

func TestAgent_PollResetsSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	now := time.Now()
	f.agent.Poll(ctx, now)

	next := f.agent.NextPollAt()
	assert.WithinDuration(t, now.Add(time.Second), next, 100*time.Millisecond)

	// Not due yet: no second emit, no further schedule movement.
	f.agent.Poll(ctx, now.Add(200*time.Millisecond))
	assert.Len(t, f.conn.emitted(), 1)
	assert.Equal(t, next, f.agent.NextPollAt())

	// Due again.
	f.agent.Poll(ctx, next.Add(time.Millisecond))
	assert.Len(t, f.conn.emitted(), 2)
}

func TestAgent_PollAdvancesScheduleOnEmitFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)
	f.conn.emitErr = errors.New("transport hiccup")

	now := time.Now()
	f.agent.Poll(ctx, now)

	// Forward progress is guaranteed even when the emit fails.
	assert.WithinDuration(t, now.Add(time.Second), f.agent.NextPollAt(), 100*time.Millisecond)
}

func TestAgent_ThrottleAdvisoryOverridesSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	f.agent.Poll(ctx, time.Now())

	before := time.Now()
	f.conn.fire(t, "codeResponse", codeResponse{
		Success: false,
		Message: "please retry in 45 seconds",
	})

	next := f.agent.NextPollAt()
	assert.WithinDuration(t, before.Add(45*time.Second), next, time.Second,
		"advisory duration must override the default interval")
	assert.Equal(t, "please retry in 45 seconds", f.agent.LastAdvisory())

	ev := <-f.events
	assert.Equal(t, EventThrottled, ev.Kind)
	assert.Equal(t, 45*time.Second, ev.Delay)
}

func TestAgent_AdvisoryWithoutDurationKeepsDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	now := time.Now()
	f.agent.Poll(ctx, now)
	next := f.agent.NextPollAt()

	f.conn.fire(t, "codeResponse", codeResponse{
		Success: false,
		Message: "slow down please",
	})

	assert.Equal(t, next, f.agent.NextPollAt(), "default interval stands")
	assert.Equal(t, "slow down please", f.agent.LastAdvisory())

	ev := <-f.events
	assert.Equal(t, EventIgnored, ev.Kind)
}

func TestAgent_Discovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	f.conn.fire(t, "codeResponse", codeResponse{Success: true, Code: "SORA-123"})

	ev := <-f.events
	assert.Equal(t, EventDiscovered, ev.Kind)
	assert.Equal(t, "SORA-123", ev.Code)
	assert.True(t, f.seen.Seen("SORA-123"))
}

func TestAgent_DuplicateDiscoveryIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	accepted, err := f.seen.TryInsert("SORA-123")
	require.NoError(t, err)
	require.True(t, accepted)

	// A duplicate is the common case near the end of a run, never an error.
	f.conn.fire(t, "codeResponse", codeResponse{Success: true, Code: "SORA-123"})

	select {
	case ev := <-f.events:
		t.Fatalf("unexpected event for duplicate discovery: %+v", ev)
	default:
	}
}

func TestAgent_MalformedSuccessIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	f.conn.fire(t, "codeResponse", codeResponse{Success: true})

	select {
	case ev := <-f.events:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
	assert.Equal(t, 0, f.seen.Len())
}

func TestAgent_UnrecognizedShapeIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	now := time.Now()
	f.agent.Poll(ctx, now)
	next := f.agent.NextPollAt()

	// Neither a success flag nor an advisory string.
	f.conn.fire(t, "codeResponse", map[string]any{"something": "else"})

	select {
	case ev := <-f.events:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
	assert.Equal(t, next, f.agent.NextPollAt(), "scheduler must not be destabilized")
}

func TestAgent_ServerErrorEventHasNoSchedulingEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	f.agent.Poll(ctx, time.Now())
	next := f.agent.NextPollAt()

	f.conn.fire(t, "sora_error", map[string]string{"detail": "boom"})
	f.conn.fire(t, "inviteCount", 17)
	f.conn.fire(t, "userCount", 42)

	assert.Equal(t, next, f.agent.NextPollAt())
}

func TestAgent_RunLoopPollsAndStops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	done := make(chan struct{})
	go func() {
		f.agent.RunLoop(ctx, 5*time.Millisecond)
		close(done)
	}()

	// Let at least one poll fire.
	assert.Eventually(t, func() bool {
		return len(f.conn.emitted()) >= 1
	}, time.Second, 5*time.Millisecond)

	f.stop.Set("test stop")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not observe the stop flag within a tick")
	}
}

func TestAgent_Drain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)

	require.NoError(t, f.agent.Drain(ctx, time.Second))
	assert.Equal(t, StateClosed, f.agent.State())
	assert.True(t, f.conn.closed)

	// Drain is idempotent.
	require.NoError(t, f.agent.Drain(ctx, time.Second))
	assert.Equal(t, StateClosed, f.agent.State())
}

func TestAgent_DrainReportsTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(ctx)
	f.conn.closeErr = context.DeadlineExceeded

	err := f.agent.Drain(ctx, 10*time.Millisecond)
	assert.Error(t, err)
	// A blown deadline still lands the agent in Closed; it just gets reported.
	assert.Equal(t, StateClosed, f.agent.State())
}

func TestParseWaitDuration(t *testing.T) {
	tests := []struct {
		msg  string
		want time.Duration
		ok   bool
	}{
		{"please retry in 45 seconds", 45 * time.Second, true},
		{"wait 1 second", time.Second, true},
		{"RATE LIMITED: 10 SECONDS", 10 * time.Second, true},
		{"30seconds left", 30 * time.Second, true},
		{"try again soon", 0, false},
		{"wait 5s", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseWaitDuration(tt.msg)
		assert.Equal(t, tt.ok, ok, "msg=%q", tt.msg)
		assert.Equal(t, tt.want, got, "msg=%q", tt.msg)
	}
}
