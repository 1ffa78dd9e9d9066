package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/examwatch/examwatch/internal/core/domain"
	"github.com/examwatch/examwatch/internal/core/port"
)

// State is the channel's explicit connection state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultSendWait       = 5 * time.Second
	DefaultBackoffBase    = time.Second
	DefaultMaxReconnects  = 5
)

type Options struct {
	// ConnectTimeout bounds the websocket handshake (default 5s).
	ConnectTimeout time.Duration
	// SendWait bounds how long Send suspends across a reconnect (default 5s).
	SendWait time.Duration
	// BackoffBase scales the reconnect delay: delay = base * attempt.
	BackoffBase time.Duration
	// MaxReconnects caps automatic reconnect attempts before the channel
	// is declared permanently failed (default 5).
	MaxReconnects int
	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.SendWait <= 0 {
		o.SendWait = DefaultSendWait
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = DefaultMaxReconnects
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Channel is a reconnecting signaling channel over a websocket, keyed by
// a session id passed as the endpoint's sessionId query parameter.
// It implements port.SignalTransport.
//
// On an unexpected close it reconnects with linearly growing delay
// (base x attempt) up to MaxReconnects attempts, then stays Failed until
// an explicit Connect. The initial Connect is never retried internally.
type Channel struct {
	endpoint string
	opts     Options
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	sessionID domain.SessionID
	conn      *websocket.Conn
	handler   func(domain.SignalMessage)
	openCh    chan struct{} // closed while the channel is Open
	gen       int           // connection generation; stale loops bail out

	wmu sync.Mutex // serializes writes on conn
}

var _ port.SignalTransport = (*Channel)(nil)

// NewChannel builds a channel for the given ws endpoint, e.g.
// "ws://signal.example.com/ws".
func NewChannel(endpoint string, log zerolog.Logger, opts Options) *Channel {
	opts.withDefaults()
	return &Channel{
		endpoint: endpoint,
		opts:     opts,
		log:      log.With().Str("component", "signal_channel").Logger(),
		state:    StateIdle,
		openCh:   make(chan struct{}),
	}
}

// State reports the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) sessionURL(sessionID domain.SessionID) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("sessionId", sessionID.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens the channel. Idempotent while already Open for the same
// session id. An explicit Connect also recovers a permanently Failed
// channel.
func (c *Channel) Connect(ctx context.Context, sessionID domain.SessionID) error {
	c.mu.Lock()
	if c.state == StateOpen && c.sessionID == sessionID {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return fmt.Errorf("%w: connect already in progress", domain.ErrChannelNotReady)
	}
	if c.state == StateOpen {
		// Rebinding to a different session id: drop the old connection.
		c.gen++
		c.conn.Close()
		c.conn = nil
		c.openCh = make(chan struct{})
	}
	c.state = StateConnecting
	c.sessionID = sessionID
	c.mu.Unlock()

	conn, err := c.dial(ctx, sessionID)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.gen++
	close(c.openCh)
	gen := c.gen
	c.mu.Unlock()

	c.log.Info().Str("session_id", sessionID.String()).Msg("Signaling channel open")
	go c.readLoop(gen, conn)
	return nil
}

func (c *Channel) dial(ctx context.Context, sessionID domain.SessionID) (*websocket.Conn, error) {
	target, err := c.sessionURL(sessionID)
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.opts.Dialer.DialContext(dctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || dctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConnectTimeout, err)
		}
		return nil, fmt.Errorf("dial signaling endpoint: %w", err)
	}
	return conn, nil
}

// Send stamps the message with the channel's session id (and a default
// target equal to it) and writes it out. If the channel is mid-reconnect
// it suspends until the channel reopens or the wait budget elapses.
func (c *Channel) Send(ctx context.Context, msg domain.SignalMessage) error {
	c.mu.Lock()
	msg.SessionID = c.sessionID
	if msg.TargetSessionID == "" {
		msg.TargetSessionID = c.sessionID
	}

	switch c.state {
	case StateOpen:
		conn := c.conn
		c.mu.Unlock()
		return c.write(conn, msg)

	case StateConnecting, StateReconnecting:
		openCh := c.openCh
		c.mu.Unlock()

		select {
		case <-openCh:
		case <-time.After(c.opts.SendWait):
			return fmt.Errorf("%w: channel did not reopen within %s", domain.ErrChannelNotReady, c.opts.SendWait)
		case <-ctx.Done():
			return ctx.Err()
		}

		c.mu.Lock()
		if c.state != StateOpen {
			c.mu.Unlock()
			return domain.ErrChannelNotReady
		}
		conn := c.conn
		c.mu.Unlock()
		return c.write(conn, msg)

	default:
		// Idle or permanently Failed: fail fast, never hang.
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: channel is %s", domain.ErrChannelNotReady, state)
	}
}

func (c *Channel) write(conn *websocket.Conn, msg domain.SignalMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write signal: %w", err)
	}
	return nil
}

// SetHandler registers the inbound handler. The single read loop calls
// it synchronously, so messages arrive one at a time in wire order.
func (c *Channel) SetHandler(handler func(domain.SignalMessage)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *Channel) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onReadClosed(gen, err)
			return
		}

		msg, err := domain.DecodeSignal(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("Dropping undecodable signal")
			continue
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

func (c *Channel) onReadClosed(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen {
		// A newer connection superseded this one, or Disconnect ran.
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	c.openCh = make(chan struct{})
	c.conn.Close()
	c.conn = nil
	sessionID := c.sessionID
	c.mu.Unlock()

	c.log.Warn().Err(err).Msg("Signaling channel closed unexpectedly, reconnecting")
	go c.reconnectLoop(gen, sessionID)
}

func (c *Channel) reconnectLoop(gen int, sessionID domain.SessionID) {
	for attempt := 1; attempt <= c.opts.MaxReconnects; attempt++ {
		time.Sleep(c.opts.BackoffBase * time.Duration(attempt))

		c.mu.Lock()
		if gen != c.gen || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := c.dial(context.Background(), sessionID)
		if err != nil {
			c.log.Warn().Err(err).
				Int("attempt", attempt).
				Int("max", c.opts.MaxReconnects).
				Msg("Reconnect attempt failed")
			continue
		}

		c.mu.Lock()
		if gen != c.gen || c.state != StateReconnecting {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.state = StateOpen
		c.gen++
		newGen := c.gen
		close(c.openCh)
		c.mu.Unlock()

		c.log.Info().Int("attempt", attempt).Msg("Signaling channel reopened")
		go c.readLoop(newGen, conn)
		return
	}

	c.mu.Lock()
	if gen == c.gen && c.state == StateReconnecting {
		c.state = StateFailed
	}
	c.mu.Unlock()
	// Reported once; no further attempts until an explicit Connect.
	c.log.Error().Int("attempts", c.opts.MaxReconnects).Msg("Signaling channel permanently failed")
}

// Disconnect closes the channel, clears the handler and resets reconnect
// state. Idempotent.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++ // invalidate read/reconnect loops
	c.handler = nil
	if c.state == StateOpen {
		c.openCh = make(chan struct{})
	}
	c.state = StateIdle
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
