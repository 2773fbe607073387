package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luciancaetano/wschan"
	"github.com/luciancaetano/wschan/internal/emitter"
	"github.com/luciancaetano/wschan/internal/observability"
	"github.com/luciancaetano/wschan/internal/protocol"
)

var _ wschan.Channel = (*Channel)(nil)

// Channel implements wschan.Channel
type Channel struct {
	id     string
	cfg    *ChannelConfig
	logger zerolog.Logger

	mu         sync.Mutex
	state      wschan.State
	sess       *session
	address    string
	remoteAddr string
	url        *url.URL
	host       string
	closing    bool // Close or Terminate was called
	attempts   int
	retry      *time.Timer

	handlersMu  sync.RWMutex
	handlers    map[string]wschan.Handler
	interceptor wschan.Handler

	pending pendingMap

	qmu        sync.Mutex
	queue      []frame
	processing bool
	paused     bool

	events emitter.Emitter[wschan.Event]
}

func newChannel(cfg *ChannelConfig, state wschan.State) *Channel {
	cfg = cfg.withDefaults()

	id := uuid.New().String()
	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}

	return &Channel{
		id:       id,
		cfg:      cfg,
		logger:   base.With().Str("component", "channel").Str("channel_id", id).Logger(),
		state:    state,
		handlers: make(map[string]wschan.Handler),
	}
}

// NewClient creates a client channel. It stays in StateConnecting until Connect succeeds.
func NewClient(cfg *ChannelConfig) *Channel {
	if cfg == nil {
		cfg = DefaultChannelConfig()
	}
	return newChannel(cfg, wschan.StateConnecting)
}

// newAccepted wraps an accepted connection. The channel is open right away
// but does not read until serve is called.
func newAccepted(conn Conn, remoteAddr string, cfg *ChannelConfig) *Channel {
	c := newChannel(cfg, wschan.StateOpen)
	c.remoteAddr = remoteAddr
	c.sess = newSession(c, conn)
	return c
}

func (c *Channel) serve() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s != nil {
		s.start()
	}
}

// ID returns a unique identifier for the channel
func (c *Channel) ID() string {
	return c.id
}

// RemoteAddr returns the peer address
func (c *Channel) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// URL returns the request URL of the upgrade for accepted channels, or the
// dialed address for client channels. It is nil before the first connect.
func (c *Channel) URL() *url.URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.url == nil {
		return nil
	}
	u := *c.url
	return &u
}

// Host returns the Host header of the upgrade request, or the dialed host.
func (c *Channel) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// State returns the current connection state
func (c *Channel) State() wschan.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsAlive returns true if the connection is open
func (c *Channel) IsAlive() bool {
	return c.State() == wschan.StateOpen
}

func (c *Channel) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// On registers a listener for a channel event
func (c *Channel) On(event string, fn func(wschan.Event)) wschan.ListenerID {
	return c.events.On(event, fn)
}

// Once registers a listener that is removed after its first call
func (c *Channel) Once(event string, fn func(wschan.Event)) wschan.ListenerID {
	return c.events.Once(event, fn)
}

// Off removes a listener
func (c *Channel) Off(event string, id wschan.ListenerID) {
	c.events.Off(event, id)
}

// Connect dials address and blocks until the connection is open.
func (c *Channel) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.state == wschan.StateOpen {
		c.mu.Unlock()
		return wschan.ErrAlreadyConnected
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.address = address
	c.closing = false
	c.attempts = 0
	c.state = wschan.StateConnecting
	c.mu.Unlock()

	return c.dial(ctx, address)
}

func (c *Channel) dial(ctx context.Context, address string) error {
	conn, err := c.cfg.Dialer.Dial(ctx, address)
	if err != nil {
		c.logger.Debug().Err(err).Str("address", address).Msg("connect failed")
		c.scheduleReconnect()
		return fmt.Errorf("connect %s: %w", address, err)
	}

	c.mu.Lock()
	switch {
	case c.closing || c.address != address:
		c.mu.Unlock()
		conn.Close()
		return wschan.ErrChannelClosed
	case c.state == wschan.StateOpen:
		c.mu.Unlock()
		conn.Close()
		return wschan.ErrAlreadyConnected
	}
	s := newSession(c, conn)
	c.sess = s
	c.state = wschan.StateOpen
	c.attempts = 0
	c.remoteAddr = address
	if u, err := url.Parse(address); err == nil {
		c.url, c.host = u, u.Host
	}
	c.mu.Unlock()

	s.start()
	c.logger.Info().Str("address", address).Msg("connected")
	c.events.Emit(wschan.EventOpen, wschan.Event{Name: wschan.EventOpen})
	return nil
}

// scheduleReconnect arms the next reconnect attempt if the channel has an
// address and was not closed on purpose.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing || c.address == "" || c.retry != nil || c.state == wschan.StateOpen {
		return
	}

	c.attempts++
	delay, ok := c.cfg.Reconnect(c.attempts)
	if !ok {
		c.logger.Info().Int("attempts", c.attempts-1).Msg("reconnect given up")
		c.state = wschan.StateClosed
		return
	}

	c.state = wschan.StateConnecting
	address := c.address
	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retry = nil
		stale := c.closing || c.state == wschan.StateOpen || c.address != address
		c.mu.Unlock()
		if stale {
			return
		}

		observability.RecordReconnect()
		c.logger.Debug().Str("address", address).Msg("reconnecting")
		_ = c.dial(context.Background(), address)
	})
}

// handleClose runs once per session when its transport is gone.
func (c *Channel) handleClose(s *session, code int, reason string) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	wasOpen := c.state == wschan.StateOpen
	invalidSession := code == wschan.CloseInvalidSessionCode && reason == wschan.CloseInvalidSessionReason
	reconnect := c.address != "" && !c.closing && !invalidSession
	if reconnect {
		c.state = wschan.StateConnecting
	} else {
		c.state = wschan.StateClosed
		if c.retry != nil {
			c.retry.Stop()
			c.retry = nil
		}
	}
	c.mu.Unlock()

	rejected := c.pending.rejectAll(wschan.ErrChannelClosed)
	c.logger.Info().Int("code", code).Str("reason", reason).Int("rejected", rejected).Bool("reconnect", reconnect).Msg("disconnected")

	if wasOpen {
		c.events.Emit(wschan.EventClose, wschan.Event{Name: wschan.EventClose, Code: code, Reason: reason})
	}
	if reconnect {
		c.scheduleReconnect()
	}
}

// Say encodes and sends a notification with the given name and data
func (c *Channel) Say(ctx context.Context, name string, data any) error {
	payload, err := protocol.EncodeRequest(0, name, data)
	if err != nil {
		return fmt.Errorf("say %q: %w", name, err)
	}

	s := c.current()
	if s == nil {
		return fmt.Errorf("say %q: %w", name, wschan.ErrNotConnected)
	}
	if err := s.send(ctx, payload); err != nil {
		c.sendFailed(name, err)
		return fmt.Errorf("say %q: %w", name, err)
	}
	return nil
}

// Ask sends a request and waits for the matching reply.
func (c *Channel) Ask(ctx context.Context, name string, data any) (json.RawMessage, error) {
	s := c.current()
	if s == nil {
		return nil, fmt.Errorf("ask %q: %w", name, wschan.ErrNotConnected)
	}

	id, result := c.pending.add()
	payload, err := protocol.EncodeRequest(id, name, data)
	if err != nil {
		c.pending.remove(id)
		return nil, fmt.Errorf("ask %q: %w", name, err)
	}

	start := time.Now()
	if err := s.send(ctx, payload); err != nil {
		c.pending.remove(id)
		c.sendFailed(name, err)
		observability.RecordAsk(observability.AskSendError, time.Since(start))
		return nil, fmt.Errorf("ask %q: %w", name, err)
	}

	select {
	case res := <-result:
		observability.RecordAsk(askOutcome(res.err), time.Since(start))
		return res.data, res.err
	case <-ctx.Done():
		if !c.pending.remove(id) {
			// the reply won the race
			res := <-result
			observability.RecordAsk(askOutcome(res.err), time.Since(start))
			return res.data, res.err
		}
		observability.RecordAsk(observability.AskCancelled, time.Since(start))
		return nil, ctx.Err()
	}
}

func askOutcome(err error) string {
	switch {
	case err == nil:
		return observability.AskOK
	case errors.Is(err, wschan.ErrChannelClosed):
		return observability.AskClosed
	default:
		return observability.AskFailed
	}
}

func (c *Channel) sendFailed(name string, err error) {
	observability.RecordChannelError(observability.KindSendFailure)
	c.logger.Warn().Err(err).Str("kind", observability.KindSendFailure).Str("event", name).Msg("send failed")
}

// OnSay registers a notification handler
func (c *Channel) OnSay(name string, handler wschan.SayHandler) error {
	if handler == nil {
		return fmt.Errorf("on say %q: nil handler", name)
	}
	return c.register(name, func(ctx context.Context, req *wschan.Request) (any, error) {
		return nil, handler(ctx, req)
	})
}

// OnAsk registers a request handler
func (c *Channel) OnAsk(name string, handler wschan.Handler) error {
	if handler == nil {
		return fmt.Errorf("on ask %q: nil handler", name)
	}
	return c.register(name, handler)
}

func (c *Channel) register(name string, handler wschan.Handler) error {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	if _, exists := c.handlers[name]; exists {
		c.logger.Error().Str("event", name).Msg("handler already exists")
		return fmt.Errorf("%w for %q", wschan.ErrHandlerExists, name)
	}
	c.handlers[name] = handler
	return nil
}

// OffEvent removes the handler registered for name
func (c *Channel) OffEvent(name string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.handlers, name)
}

// SetInterceptor installs a handler that receives every inbound request. nil removes it.
func (c *Channel) SetInterceptor(handler wschan.Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.interceptor = handler
}

// Ping sends a websocket ping to the peer
func (c *Channel) Ping(ctx context.Context) error {
	s := c.current()
	if s == nil {
		return wschan.ErrNotConnected
	}
	return s.ping(ctx)
}

// Close closes the channel connection
func (c *Channel) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason
// and waits until it is closed or ctx is done.
func (c *Channel) CloseWithCode(ctx context.Context, code int, reason string) error {
	s := c.shutdown()
	if s == nil {
		return nil
	}

	if err := s.closeWithCode(code, reason); err != nil {
		c.logger.Debug().Err(err).Msg("close handshake failed")
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate drops the connection immediately
func (c *Channel) Terminate() error {
	s := c.shutdown()
	if s == nil {
		return nil
	}
	return s.terminate()
}

// shutdown marks the channel as closed on purpose and returns the live
// session, if any. Without a session the channel is closed right here.
func (c *Channel) shutdown() *session {
	c.mu.Lock()
	c.closing = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	s := c.sess
	if s != nil {
		c.mu.Unlock()
		return s
	}
	wasClosed := c.state == wschan.StateClosed
	c.state = wschan.StateClosed
	c.mu.Unlock()

	if !wasClosed {
		c.pending.rejectAll(wschan.ErrChannelClosed)
	}
	return nil
}
