// Package feed manages the live trade stream: one websocket transport driven
// by an explicit state machine (connect, authenticate, subscribe, reconnect
// with backoff) and a throttled emitter that coalesces trades per symbol.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"chartfeed/internal/model"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Status maps a feed state to the session-level connection status.
func (s State) Status() model.ConnectionStatus {
	switch s {
	case StateSubscribed:
		return model.StatusConnected
	case StateConnecting, StateAuthenticating, StateReconnecting:
		return model.StatusReconnecting
	}
	return model.StatusDisconnected
}

const (
	DefaultThrottle = 300 * time.Millisecond
	MinThrottle     = 50 * time.Millisecond
)

// ErrAlreadyStarted is returned by Start on anything but an idle connection.
var ErrAlreadyStarted = errors.New("feed already started")

var errClosed = errors.New("feed closed")

// Config configures a Connection.
type Config struct {
	URL string

	// Credentials switch the connection to direct mode (auth handshake).
	// Nil means proxy mode: the upstream is already authenticated.
	Credentials *model.Credentials

	// Throttle is the coalescing window. Values below MinThrottle are raised
	// to it; zero uses DefaultThrottle.
	Throttle time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) defaults() {
	if c.Throttle == 0 {
		c.Throttle = DefaultThrottle
	}
	if c.Throttle < MinThrottle {
		c.Throttle = MinThrottle
	}
}

type transition struct{ from, to State }

// Connection is a single live-feed connection. Safe for concurrent use.
type Connection struct {
	cfg    Config
	dialer Dialer
	log    *slog.Logger
	after  func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	state     State
	conn      Conn
	backoff   *Backoff
	subs      map[string]struct{}
	pending   map[string]model.Trade
	order     []string // pending symbols in first-arrival order
	listeners map[int]func(model.Trade)
	nextID    int
	events    []transition
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once

	// Hooks (optional, set before Start). Called without internal locks held.
	OnState         func(from, to State)
	OnReconnect     func(delay time.Duration)
	OnProtocolError func(err error)
	OnTrade         func(symbol string)
}

// New creates an idle connection.
func New(cfg Config, dialer Dialer, log *slog.Logger) *Connection {
	cfg.defaults()
	if dialer == nil {
		dialer = WSDialer{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Connection{
		cfg:       cfg,
		dialer:    dialer,
		log:       log.With(slog.String("component", "feed")),
		after:     time.After,
		backoff:   NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		subs:      make(map[string]struct{}),
		pending:   make(map[string]model.Trade),
		listeners: make(map[int]func(model.Trade)),
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection loop has exited after Stop.
func (c *Connection) Done() <-chan struct{} { return c.done }

// AddListener registers fn for coalesced trades and returns a remover.
// Listeners run on the flush goroutine and must not block for long.
func (c *Connection) AddListener(fn func(model.Trade)) (remove func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Start moves Idle -> Connecting and runs the connection until Stop or ctx
// cancellation. It does not block.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.setStateLocked(StateConnecting)
	c.unlockAndNotify()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.run(ctx) }()
	go func() { defer wg.Done(); c.flushLoop(ctx) }()
	go func() {
		wg.Wait()
		close(c.done)
	}()
	return nil
}

// Stop closes the connection. Idempotent and safe from any state: it
// cancels the reconnect timer and flush ticker, closes the transport and
// clears listeners, subscriptions and pending updates.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		started := c.cancel != nil
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.setStateLocked(StateClosed)
		c.subs = make(map[string]struct{})
		c.pending = make(map[string]model.Trade)
		c.order = nil
		c.listeners = make(map[int]func(model.Trade))
		c.unlockAndNotify()

		if !started {
			close(c.done)
		}
		c.log.Info("feed stopped")
	})
}

// Subscribe adds symbol to the subscription set. When subscribed it is sent
// immediately; otherwise it goes out with the next connect's subscribe.
func (c *Connection) Subscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	if _, ok := c.subs[symbol]; ok {
		return
	}
	c.subs[symbol] = struct{}{}
	if c.state == StateSubscribed && c.conn != nil {
		c.writeLocked(subscriptionMsg{Action: "subscribe", Trades: []string{symbol}})
	}
}

// Unsubscribe removes symbol. A pending coalesced update for it is dropped.
func (c *Connection) Unsubscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[symbol]; !ok {
		return
	}
	delete(c.subs, symbol)
	if _, ok := c.pending[symbol]; ok {
		delete(c.pending, symbol)
		for i, s := range c.order {
			if s == symbol {
				c.order = append(c.order[:i:i], c.order[i+1:]...)
				break
			}
		}
	}
	if c.state == StateSubscribed && c.conn != nil {
		c.writeLocked(subscriptionMsg{Action: "unsubscribe", Trades: []string{symbol}})
	}
}

// Subscriptions returns the subscribed symbols, sorted.
func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedSubsLocked()
}

func (c *Connection) sortedSubsLocked() []string {
	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// run is the supervisor: dial, open, read, and on failure wait out the
// backoff. Only one transport is ever open.
func (c *Connection) run(ctx context.Context) {
	defer c.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.setStateLocked(StateConnecting)
		c.unlockAndNotify()

		conn, err := c.dialer.Dial(ctx, c.cfg.URL)
		if err == nil {
			err = c.open(conn)
			if err == nil {
				err = c.readLoop(ctx, conn)
			}
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()
		}
		if ctx.Err() != nil || errors.Is(err, errClosed) {
			return
		}

		c.mu.Lock()
		c.setStateLocked(StateReconnecting)
		delay := c.backoff.Next()
		c.unlockAndNotify()

		c.log.Warn("feed disconnected, reconnecting",
			slog.Any("error", err),
			slog.Duration("delay", delay))
		if c.OnReconnect != nil {
			c.OnReconnect(delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.after(delay):
		}
	}
}

// open performs the handshake on a fresh transport: auth in direct mode,
// then one subscribe for the whole set. Holding the lock across the writes
// makes concurrent Subscribe calls land either in this message or after it.
func (c *Connection) open(conn Conn) error {
	c.mu.Lock()
	defer c.unlockAndNotify()
	if c.state == StateClosed {
		return errClosed
	}
	c.conn = conn

	if creds := c.cfg.Credentials; creds != nil {
		c.setStateLocked(StateAuthenticating)
		if err := c.writeLocked(authMsg{Action: "auth", Key: creds.APIKey, Secret: creds.APISecret}); err != nil {
			return err
		}
	}
	if syms := c.sortedSubsLocked(); len(syms) > 0 {
		if err := c.writeLocked(subscriptionMsg{Action: "subscribe", Trades: syms}); err != nil {
			return err
		}
	}
	c.setStateLocked(StateSubscribed)
	c.backoff.Reset()
	c.log.Info("feed subscribed",
		slog.String("url", c.cfg.URL),
		slog.Bool("direct", c.cfg.Credentials != nil),
		slog.Int("symbols", len(c.subs)))
	return nil
}

func (c *Connection) readLoop(ctx context.Context, conn Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return errors.Join(model.ErrConnectionLost, err)
		}
		c.handleFrame(raw)
	}
}

func (c *Connection) handleFrame(raw []byte) {
	elems, err := decodeFrame(raw)
	if err != nil {
		c.protocolError(raw, err)
		return
	}
	for _, elem := range elems {
		var m serverMsg
		if err := json.Unmarshal(elem, &m); err != nil {
			c.protocolError(elem, err)
			continue
		}
		switch {
		case isTrade(m.T):
			t, err := toTrade(m, elem)
			if err != nil {
				c.protocolError(elem, err)
				continue
			}
			c.enqueue(t)
		case m.T == "error":
			c.log.Error("feed server error", slog.Int("code", m.Code), slog.String("msg", m.Msg))
		case m.T == "success" || m.T == "subscription":
			c.log.Debug("feed control message", slog.String("type", m.T), slog.String("msg", m.Msg))
		case m.T == "":
			c.protocolError(elem, errMissingField)
		}
	}
}

func (c *Connection) protocolError(raw []byte, err error) {
	perr := &model.ProtocolError{Raw: append([]byte(nil), raw...), Err: err}
	c.log.Warn("dropping malformed feed message", slog.Any("error", err), slog.Int("bytes", len(raw)))
	if c.OnProtocolError != nil {
		c.OnProtocolError(perr)
	}
}

// enqueue records t as the latest value for its symbol in this window.
func (c *Connection) enqueue(t model.Trade) {
	c.mu.Lock()
	if _, ok := c.subs[t.Symbol]; !ok {
		c.mu.Unlock()
		return
	}
	if _, ok := c.pending[t.Symbol]; !ok {
		c.order = append(c.order, t.Symbol)
	}
	c.pending[t.Symbol] = t
	c.mu.Unlock()

	if c.OnTrade != nil {
		c.OnTrade(t.Symbol)
	}
}

func (c *Connection) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Throttle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

// flush delivers each pending symbol once, in first-arrival order, to every
// listener, then clears the window.
func (c *Connection) flush() int {
	c.mu.Lock()
	if len(c.order) == 0 {
		c.mu.Unlock()
		return 0
	}
	batch := make([]model.Trade, 0, len(c.order))
	for _, sym := range c.order {
		batch = append(batch, c.pending[sym])
	}
	c.pending = make(map[string]model.Trade, len(batch))
	c.order = c.order[:0:0]

	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(model.Trade), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, t := range batch {
		for _, fn := range fns {
			fn(t)
		}
	}
	return len(batch)
}

func (c *Connection) writeLocked(v any) error {
	if c.conn == nil {
		return model.ErrConnectionLost
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(b); err != nil {
		c.log.Warn("feed write failed", slog.Any("error", err))
		return errors.Join(model.ErrConnectionLost, err)
	}
	return nil
}

// setStateLocked records a transition. Closed is terminal.
func (c *Connection) setStateLocked(to State) {
	from := c.state
	if from == to || from == StateClosed {
		return
	}
	c.state = to
	c.events = append(c.events, transition{from: from, to: to})
}

// unlockAndNotify releases c.mu and reports queued transitions to OnState.
func (c *Connection) unlockAndNotify() {
	events := c.events
	c.events = nil
	c.mu.Unlock()
	if c.OnState == nil {
		return
	}
	for _, e := range events {
		c.OnState(e.from, e.to)
	}
}
