// Package channel provides the duplex realtime channel client used for
// server-pushed notifications and client-origin status reports.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"
)

const (
	dialTimeout      = 10 * time.Second
	writeTimeout     = 5 * time.Second
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	closeGracePeriod = time.Second
)

// Envelope is the wire frame: an event name plus an untyped payload.
// Payloads are validated and coerced at the ingestion boundary, not here.
type Envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// Handler consumes the raw payload of one inbound event. Handlers run on
// the single read goroutine, preserving inbound event order.
type Handler func(data map[string]any)

// Config holds channel client configuration.
type Config struct {
	URL   string // websocket endpoint
	Token string // optional bearer token, sent as a query parameter
}

// Client maintains one websocket connection with automatic reconnect and
// capped exponential backoff.
type Client struct {
	cfg    Config
	dialer websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	onConnectivity func(connected bool)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client. Register handlers before calling Start.
func New(cfg Config) *Client {
	return &Client{
		cfg:      cfg,
		dialer:   websocket.Dialer{HandshakeTimeout: dialTimeout},
		handlers: map[string][]Handler{},
		done:     make(chan struct{}),
	}
}

// On registers a handler for an inbound event name.
func (c *Client) On(event string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// OnConnectivity registers a callback fired on connect and disconnect.
func (c *Client) OnConnectivity(fn func(connected bool)) {
	c.onConnectivity = fn
}

// Start runs the connect/read/reconnect loop until the context is
// cancelled or Close is called.
func (c *Client) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
}

func (c *Client) run() {
	defer close(c.done)

	backoff := initialBackoff
	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(c.ctx, c.cfg.dialURL(), nil)
		if err != nil {
			zlog.Warn().Err(err).Str("url", c.cfg.URL).Msg("channel: connect failed")
			if !c.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.notifyConnectivity(true)
		zlog.Info().Str("url", c.cfg.URL).Msg("channel: connected")

		c.readLoop(conn)

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		c.notifyConnectivity(false)

		if c.ctx.Err() != nil {
			return
		}
		if !c.sleep(backoff) {
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// readLoop dispatches inbound envelopes until the connection drops.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || c.ctx.Err() != nil {
				return
			}
			zlog.Warn().Err(err).Msg("channel: read failed, reconnecting")
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	c.handlersMu.RLock()
	handlers := c.handlers[env.Event]
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		zlog.Debug().Str("event", env.Event).Msg("channel: no handler for event")
		return
	}
	for _, h := range handlers {
		h(env.Data)
	}
}

// Emit sends an envelope to the server. Returns an error when the
// channel is currently disconnected.
func (c *Client) Emit(event string, data map[string]any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return errors.New("channel is not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		return errors.Wrap(err, "channel write failed")
	}
	return nil
}

// Close performs the close handshake and stops the reconnect loop.
func (c *Client) Close() {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		_ = c.conn.Close()
	}
	c.connMu.Unlock()

	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *Client) notifyConnectivity(connected bool) {
	if c.onConnectivity != nil {
		c.onConnectivity(connected)
	}
}

func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (cfg Config) dialURL() string {
	if cfg.Token == "" {
		return cfg.URL
	}
	return cfg.URL + "?token=" + cfg.Token
}
