// ABOUTME: Realtime event connection: JSON event frames over a websocket.
// ABOUTME: Handles auth-on-connect, handler dispatch, auto-reconnect, and bounded close.

package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrNotConnected indicates an emit was attempted without a live connection.
var ErrNotConnected = errors.New("not connected")

// authEvent is the first frame sent after every successful dial.
const authEvent = "auth"

// Handler processes the data payload of one named server event.
type Handler func(data json.RawMessage)

// frame is the wire shape of every message, both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outFrame is the write-side twin of frame, letting callers pass any payload.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Options tunes connection behavior. Zero values select the defaults.
type Options struct {
	ReconnectDelay time.Duration // delay between reconnect attempts (default 1s)
	WriteTimeout   time.Duration // per-frame write deadline (default 5s)
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Conn is one client connection to the realtime endpoint. Connect is
// non-blocking: the handshake and read loop run on their own goroutine,
// and a dropped transport reconnects itself until Close. Handlers must be
// registered before Connect.
type Conn struct {
	url    string
	auth   any
	opts   Options
	logger *slog.Logger

	mu           sync.RWMutex
	ws           *websocket.Conn
	connected    bool
	closed       bool
	started      bool
	handlers     map[string]Handler
	onConnect    func()
	onDisconnect func()

	cancel  context.CancelFunc
	runDone chan struct{}
}

// New creates a connection to url. auth is sent as the payload of the first
// frame after every successful dial.
func New(url string, auth any, logger *slog.Logger, opts Options) *Conn {
	return &Conn{
		url:      url,
		auth:     auth,
		opts:     opts.withDefaults(),
		logger:   logger,
		handlers: make(map[string]Handler),
		runDone:  make(chan struct{}),
	}
}

// On registers a handler for a named server event. Events with no handler
// are dropped silently.
func (c *Conn) On(event string, h func(data json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// OnConnect registers a callback fired after each successful handshake.
func (c *Conn) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// OnDisconnect registers a callback fired after each transport drop.
func (c *Conn) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// Connected reports whether a handshake has completed and the transport is up.
func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Connect starts the dial/read goroutine and returns immediately. Completion
// is signaled through the OnConnect callback. Calling Connect more than once
// is a no-op.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
}

// Emit sends a zero-payload request frame for the named event.
func (c *Conn) Emit(ctx context.Context, event string) error {
	c.mu.RLock()
	ws, ok := c.ws, c.connected
	c.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, ws, outFrame{Event: event})
}

// Close shuts the connection down for good: no reconnects follow. It
// attempts a graceful websocket close but gives up when ctx expires, so it
// never blocks shutdown indefinitely.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		started := c.started
		c.mu.Unlock()
		if !started {
			return nil
		}
		<-c.runDone
		return nil
	}
	c.closed = true
	ws := c.ws
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	if ws != nil {
		go func() {
			_ = ws.Close(websocket.StatusNormalClosure, "shutting down")
		}()
	}
	if cancel != nil {
		cancel()
	}
	if !started {
		return nil
	}

	select {
	case <-c.runDone:
		return nil
	case <-ctx.Done():
		if ws != nil {
			_ = ws.CloseNow()
		}
		return ctx.Err()
	}
}

// run owns the dial/auth/read cycle, reconnecting after drops until the
// connection is closed or ctx ends.
func (c *Conn) run(ctx context.Context) {
	defer close(c.runDone)

	for {
		if c.isClosed() || ctx.Err() != nil {
			return
		}

		ws, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			c.logger.Debug("dial failed", "url", c.url, "error", err)
			if !c.sleep(ctx, c.opts.ReconnectDelay) {
				return
			}
			continue
		}

		if err := c.writeAuth(ctx, ws); err != nil {
			c.logger.Debug("auth frame failed", "error", err)
			_ = ws.CloseNow()
			if !c.sleep(ctx, c.opts.ReconnectDelay) {
				return
			}
			continue
		}

		c.setConnected(ws)
		err = c.readLoop(ctx, ws)
		c.setDisconnected()
		_ = ws.CloseNow()

		if c.isClosed() || ctx.Err() != nil {
			return
		}
		c.logger.Debug("connection dropped, reconnecting", "error", err)
		if !c.sleep(ctx, c.opts.ReconnectDelay) {
			return
		}
	}
}

// writeAuth sends the auth frame that must precede all other traffic.
func (c *Conn) writeAuth(ctx context.Context, ws *websocket.Conn) error {
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, ws, outFrame{Event: authEvent, Data: c.auth})
}

// readLoop reads frames until the transport fails, dispatching each to its
// registered handler on this goroutine. Handlers therefore run sequentially
// per connection.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		var f frame
		if err := wsjson.Read(ctx, ws, &f); err != nil {
			return err
		}
		c.dispatch(f)
	}
}

func (c *Conn) dispatch(f frame) {
	c.mu.RLock()
	h := c.handlers[f.Event]
	c.mu.RUnlock()

	if h == nil {
		c.logger.Debug("dropping unhandled event", "event", f.Event)
		return
	}
	h(f.Data)
}

func (c *Conn) setConnected(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.connected = true
	fn := c.onConnect
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (c *Conn) setDisconnected() {
	c.mu.Lock()
	c.ws = nil
	c.connected = false
	fn := c.onDisconnect
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// sleep waits for d, returning false if ctx ended first.
func (c *Conn) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
