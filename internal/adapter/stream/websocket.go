package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/singleflight"

	"candleflow/internal/domain/model"
)

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

const maxReconnectDelay = 30 * time.Second

type Options struct {
	URL                  string
	ConnectionTimeout    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
	Codec                Codec
}

func (o Options) withDefaults() Options {
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = 10 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Codec == nil {
		o.Codec = JSONCodec{}
	}
	return o
}

type Stats struct {
	State        string `json:"state"`
	Session      string `json:"session,omitempty"`
	Attempts     int    `json:"attempts"`
	Reconnects   int    `json:"reconnects"`
	ParseErrors  int    `json:"parse_errors"`
	SendFailures int    `json:"send_failures"`
	Delivered    uint64 `json:"delivered"`
	Queued       int    `json:"queued"`
	LastError    string `json:"last_error,omitempty"`
}

// WebSocketClient is a reconnecting duplex channel. Requests sent while the
// socket is down are queued and flushed in order once it opens.
type WebSocketClient struct {
	opts    Options
	log     *slog.Logger
	dialer  *websocket.Dialer
	backoff backoff.Backoff
	group   singleflight.Group

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	session  string
	state    State
	manual   bool
	gen      uint64
	attempts int
	timer    *time.Timer
	queue    []model.SubscribeRequest
	subs     map[uint64]func(model.SymbolDataMessage)
	nextSub  uint64
	stats    Stats
}

func NewWebSocketClient(opts Options, log *slog.Logger) *WebSocketClient {
	opts = opts.withDefaults()
	return &WebSocketClient{
		opts:   opts,
		log:    log.With("component", "stream", "url", opts.URL),
		dialer: &websocket.Dialer{Proxy: websocket.DefaultDialer.Proxy},
		backoff: backoff.Backoff{
			Min:    opts.ReconnectDelay,
			Max:    maxReconnectDelay,
			Factor: 1.5,
			Jitter: false,
		},
		subs: make(map[uint64]func(model.SymbolDataMessage)),
	}
}

func (c *WebSocketClient) Name() string { return "websocket" }

// Connect opens the socket. Concurrent callers share one dial.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	c.mu.Unlock()

	_, err, _ := c.group.Do("connect", func() (interface{}, error) {
		return nil, c.dial(ctx)
	})
	return err
}

// Reconnect is the manual recovery action: the attempt budget starts over.
func (c *WebSocketClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.attempts = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.Connect(ctx)
}

func (c *WebSocketClient) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	startGen := c.gen
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectionTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.opts.URL, nil)
	if err != nil {
		if isTimeout(err) || errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrConnectionTimeout, c.opts.ConnectionTimeout, err)
		}

		c.mu.Lock()
		stale := startGen != c.gen
		manual := c.manual
		if !stale {
			c.state = StateClosed
		}
		c.stats.LastError = err.Error()
		c.mu.Unlock()

		c.log.Error("stream dial failed", "error", err)
		if !stale && !manual {
			c.scheduleReconnect()
		}
		return err
	}

	c.mu.Lock()
	if c.manual || startGen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrTransportClosed
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.session = uuid.NewString()
	session := c.session
	queued := c.queue
	c.queue = nil
	// flush before any concurrent Send can write
	c.writeMu.Lock()
	c.mu.Unlock()

	c.log.Info("stream connected", "session", session, "queued", len(queued))
	go c.readLoop(conn, gen, session)

	failed := c.flush(conn, queued)
	c.writeMu.Unlock()

	if len(failed) > 0 {
		c.mu.Lock()
		c.queue = append(failed, c.queue...)
		c.mu.Unlock()
	}
	return nil
}

func (c *WebSocketClient) flush(conn *websocket.Conn, queued []model.SubscribeRequest) []model.SubscribeRequest {
	var failed []model.SubscribeRequest
	for _, req := range queued {
		if err := c.writeLocked(conn, req); err != nil {
			c.log.Error("failed to send queued request", "symbol", req.Symbol, "timeframe", req.Timeframe.String(), "error", err)
			failed = append(failed, req)
		}
	}
	return failed
}

// Send transmits immediately when open. Otherwise the request is queued and a
// connect is started in the background; Send never waits for the dial.
func (c *WebSocketClient) Send(req model.SubscribeRequest) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.queue = append(c.queue, req)
		gen := c.gen
		c.mu.Unlock()

		go c.connectFrom(gen)
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.writeLocked(conn, req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		c.queue = append([]model.SubscribeRequest{req}, c.queue...)
		c.stats.SendFailures++
		c.stats.LastError = err.Error()
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	return nil
}

// connectFrom dials unless a Disconnect or another connection happened since
// gen was observed.
func (c *WebSocketClient) connectFrom(gen uint64) {
	c.mu.Lock()
	superseded := gen != c.gen
	c.mu.Unlock()
	if superseded {
		return
	}
	if err := c.Connect(context.Background()); err != nil {
		c.log.Error("failed to connect while sending", "error", err)
	}
}

// writeLocked must be called with writeMu held.
func (c *WebSocketClient) writeLocked(conn *websocket.Conn, req model.SubscribeRequest) error {
	data, err := c.opts.Codec.Encode(req)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe registers fn for every decoded frame. The returned func may be
// called any number of times, including from inside fn.
func (c *WebSocketClient) Subscribe(fn func(model.SymbolDataMessage)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *WebSocketClient) readLoop(conn *websocket.Conn, gen uint64, session string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, session, err)
			return
		}

		msg, err := c.opts.Codec.Decode(data)
		if err != nil {
			c.mu.Lock()
			c.stats.ParseErrors++
			c.stats.LastError = err.Error()
			c.mu.Unlock()
			c.log.Warn("dropping frame", "session", session, "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *WebSocketClient) dispatch(msg model.SymbolDataMessage) {
	c.mu.Lock()
	subs := make([]func(model.SymbolDataMessage), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.stats.Delivered++
	c.mu.Unlock()

	for _, fn := range subs {
		c.deliver(fn, msg)
	}
}

func (c *WebSocketClient) deliver(fn func(model.SymbolDataMessage), msg model.SymbolDataMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("subscriber panicked", "symbol", msg.Symbol, "panic", r)
		}
	}()
	fn(msg)
}

func (c *WebSocketClient) handleClose(gen uint64, session string, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		// superseded by Disconnect or a newer connection
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.state = StateClosed
	c.stats.LastError = cause.Error()
	manual := c.manual
	c.mu.Unlock()

	c.log.Info("stream closed", "session", session, "reason", cause)
	if !manual {
		c.scheduleReconnect()
	}
}

func (c *WebSocketClient) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manual {
		return
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.log.Warn("reconnect budget exhausted", "attempts", c.attempts)
		return
	}

	delay := c.reconnectDelay(c.attempts)
	c.log.Info("scheduling reconnect", "delay", delay, "attempt", c.attempts+1)

	if c.timer != nil {
		c.timer.Stop()
	}
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.manual || gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.attempts++
		c.stats.Reconnects++
		c.mu.Unlock()

		if err := c.Connect(context.Background()); err != nil {
			c.log.Error("reconnect attempt failed", "error", err)
		}
	})
}

// reconnectDelay is base * 1.5^attempt capped at 30s.
func (c *WebSocketClient) reconnectDelay(attempt int) time.Duration {
	return c.backoff.ForAttempt(float64(attempt))
}

// Disconnect closes the socket and suppresses reconnection until the next
// explicit Connect.
func (c *WebSocketClient) Disconnect() error {
	c.mu.Lock()
	c.manual = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.state = StateClosing
	} else {
		c.state = StateClosed
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := conn.Close()

	c.mu.Lock()
	if c.state == StateClosing {
		c.state = StateClosed
	}
	c.mu.Unlock()

	c.log.Info("stream disconnected")
	return err
}

func (c *WebSocketClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WebSocketClient) IsConnected() bool {
	return c.State() == StateOpen
}

func (c *WebSocketClient) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *WebSocketClient) ClearQueue() {
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
}

func (c *WebSocketClient) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.State = c.state.String()
	s.Session = c.session
	s.Attempts = c.attempts
	s.Queued = len(c.queue)
	return s
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
