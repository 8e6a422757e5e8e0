// Package realtime maintains the single player-addressed WebSocket channel
// used for session push events. The channel is a transport multiplexer: it
// parses and tags frames but never interprets events.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/playperu/geoquest/internal/geoquest"
)

// DefaultReconnectDelay is the fixed wait before the single reconnect
// attempt that follows an unexpected close.
const DefaultReconnectDelay = 5 * time.Second

// State is the lifecycle of the channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	}
	return "unknown"
}

// IdentitySource supplies the credentials the channel is addressed by.
type IdentitySource interface {
	Token() (string, bool)
	PlayerID() (geoquest.PlayerID, error)
}

// Listener receives every parsed inbound message.
type Listener func(Message)

// ListenerID identifies a registered listener.
type ListenerID uint64

// Timer is a pending reconnect.
type Timer interface {
	Stop() bool
}

// Option configures a Channel.
type Option func(*Channel)

func WithLogger(l *slog.Logger) Option { return func(c *Channel) { c.logger = l } }

func WithDialer(d Dialer) Option { return func(c *Channel) { c.dialer = d } }

func WithReconnectDelay(d time.Duration) Option { return func(c *Channel) { c.reconnectDelay = d } }

func WithWriteTimeout(d time.Duration) Option { return func(c *Channel) { c.writeTimeout = d } }

// WithAfterFunc replaces time.AfterFunc for scheduling reconnects.
func WithAfterFunc(fn func(time.Duration, func()) Timer) Option {
	return func(c *Channel) { c.afterFunc = fn }
}

// Channel is the process-wide realtime connection. The zero value is not
// usable; create one with New and dispose of it with Close.
type Channel struct {
	base           string
	ids            IdentitySource
	dialer         Dialer
	logger         *slog.Logger
	reconnectDelay time.Duration
	writeTimeout   time.Duration
	afterFunc      func(time.Duration, func()) Timer

	mu        sync.Mutex
	state     State
	addr      string
	target    geoquest.PlayerID
	conn      Conn
	cancel    context.CancelFunc
	gen       uint64
	reconnect Timer
	closed    bool

	lmu       sync.RWMutex
	listeners map[ListenerID]Listener
	nextID    ListenerID
}

// New creates a disconnected channel for the WebSocket base URL.
func New(baseURL string, ids IdentitySource, opts ...Option) *Channel {
	c := &Channel{
		base:           strings.TrimRight(baseURL, "/"),
		ids:            ids,
		dialer:         WebSocketDialer{},
		logger:         slog.Default(),
		reconnectDelay: DefaultReconnectDelay,
		writeTimeout:   10 * time.Second,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		listeners: make(map[ListenerID]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the channel addressed by the caller's identity, optionally
// joined to target's channel. It is a no-op when the same address is
// already connecting or connected, and it never reports failure: without a
// token it logs and returns.
func (c *Channel) Connect(target geoquest.PlayerID) {
	token, ok := c.ids.Token()
	if !ok {
		c.logger.Error("cannot connect realtime channel: no authentication token")
		return
	}
	self, err := c.ids.PlayerID()
	if err != nil {
		c.logger.Error("cannot connect realtime channel: unknown player", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.Warn("connect on closed realtime channel ignored")
		return
	}
	addr := c.address(self, target)
	if addr == c.addr && (c.state == Connecting || c.state == Connected) {
		return
	}

	c.stopReconnectLocked()
	c.teardownLocked()
	c.target = target
	c.dialLocked(addr, token)
}

// Disconnect closes the active connection and cancels a pending reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopReconnectLocked()
	c.teardownLocked()
}

// Close disconnects and refuses further Connect calls.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopReconnectLocked()
	c.teardownLocked()
	return nil
}

// Send writes msg if the channel is connected and silently drops it
// otherwise.
func (c *Channel) Send(msg Message) {
	data, err := Encode(msg)
	if err != nil {
		c.logger.Error("encoding realtime message", "error", err)
		return
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != Connected || conn == nil {
		c.logger.Debug("realtime channel not connected, dropping message", "event", msg.Event())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		c.logger.Warn("realtime write failed", "event", msg.Event(), "error", err)
	}
}

// AddListener registers fn for all future inbound messages.
func (c *Channel) AddListener(fn Listener) ListenerID {
	c.lmu.Lock()
	defer c.lmu.Unlock()

	c.nextID++
	c.listeners[c.nextID] = fn
	return c.nextID
}

// RemoveListener deregisters a listener. Unknown ids are ignored.
func (c *Channel) RemoveListener(id ListenerID) {
	c.lmu.Lock()
	delete(c.listeners, id)
	c.lmu.Unlock()
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the address of the current or last connection attempt.
func (c *Channel) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *Channel) address(self, target geoquest.PlayerID) string {
	if target == "" || target == self {
		return c.base + "/ws/player/" + url.PathEscape(string(self))
	}
	return c.base + "/ws/player/" + url.PathEscape(string(target)) +
		"?player2_id=" + url.QueryEscape(string(self))
}

func (c *Channel) dialLocked(addr, token string) {
	ctx, cancel := context.WithCancel(context.Background())
	c.gen++
	c.state = Connecting
	c.addr = addr
	c.cancel = cancel

	go c.run(ctx, c.gen, addr, token)
}

// teardownLocked invalidates the current generation so its goroutine exits
// without scheduling a reconnect.
func (c *Channel) teardownLocked() {
	if c.cancel == nil && c.conn == nil {
		c.state = Disconnected
		return
	}
	c.state = Closing
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		go conn.Close()
	}
	c.gen++
	c.state = Disconnected
}

func (c *Channel) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Channel) run(ctx context.Context, gen uint64, addr, token string) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, err := c.dialer.Dial(ctx, addr, header)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("realtime dial failed", "addr", addr, "error", err)
		}
		c.lost(gen)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.logger.Info("realtime channel connected", "addr", addr)
	c.read(ctx, conn)
	conn.Close()
	c.lost(gen)
}

func (c *Channel) read(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Info("realtime channel read ended", "error", err)
			}
			return
		}

		msg, err := Parse(data)
		if err != nil {
			c.logger.Warn("dropping realtime frame", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch delivers msg to listeners in registration order.
func (c *Channel) dispatch(msg Message) {
	c.lmu.RLock()
	ids := make([]ListenerID, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Listener, len(ids))
	for i, id := range ids {
		fns[i] = c.listeners[id]
	}
	c.lmu.RUnlock()

	for _, fn := range fns {
		c.deliver(fn, msg)
	}
}

func (c *Channel) deliver(fn Listener, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("realtime listener panicked", "event", msg.Event(), "panic", r)
		}
	}()
	fn(msg)
}

// lost handles an unexpected close of generation gen by scheduling exactly
// one reconnect.
func (c *Channel) lost(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.closed {
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.conn = nil
	c.state = Disconnected
	c.logger.Info("realtime channel disconnected, scheduling reconnect", "delay", c.reconnectDelay)

	if c.reconnect == nil {
		c.reconnect = c.afterFunc(c.reconnectDelay, func() { c.fireReconnect(gen) })
	}
}

func (c *Channel) fireReconnect(gen uint64) {
	token, ok := c.ids.Token()
	self, err := c.ids.PlayerID()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Disconnect or a fresh Connect cleared the timer or moved on.
	if c.reconnect == nil || gen != c.gen || c.closed {
		return
	}
	c.reconnect = nil

	if !ok || err != nil {
		c.logger.Error("cannot reconnect realtime channel: no identity")
		return
	}
	c.dialLocked(c.address(self, c.target), token)
}
