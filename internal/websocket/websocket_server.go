package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luciancaetano/wschan"
	"github.com/luciancaetano/wschan/internal/emitter"
	"github.com/luciancaetano/wschan/internal/observability"
	"github.com/luciancaetano/wschan/internal/protocol"
)

var _ wschan.Server = (*Server)(nil)

// tracked is a channel in the active set plus its liveness mark.
type tracked struct {
	ch    *Channel
	alive atomic.Bool
}

// Server implements the wschan.Server interface
type Server struct {
	addr     string
	path     string
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
	cfg      *ServerConfig

	mu         sync.RWMutex
	running    bool
	stopSweep  context.CancelFunc
	sweepDone  chan struct{}
	upgrader   websocket.Upgrader
	pingPeriod time.Duration

	setMu    sync.Mutex
	channels map[string]*tracked

	handlersMu  sync.RWMutex
	handlers    map[string]wschan.Handler
	interceptor wschan.Handler

	events emitter.Emitter[wschan.Channel]
}

// New creates a new server instance with the specified configuration.
//
// The server uses the Gorilla WebSocket library with read/write buffer sizes
// of 1024 bytes. Rate limiting, when configured, is applied per channel
// using a token bucket.
func New(cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}

	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}

	return &Server{
		addr:       cfg.Addr,
		path:       cfg.Path,
		cfg:        cfg,
		logger:     base.With().Str("component", "server").Logger(),
		pingPeriod: cfg.PingInterval,
		channels:   make(map[string]*tracked),
		handlers:   make(map[string]wschan.Handler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Start starts listening and the liveness sweep
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return wschan.ErrServerAlreadyRunning
	}

	ln := s.cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.addr, err)
		}
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	if s.cfg.MetricsPath != "" {
		observability.RegisterMetrics()
		mux.Handle(s.cfg.MetricsPath, promhttp.Handler())
	}
	s.server = &http.Server{Handler: mux}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("serve failed")
		}
	}(s.server)

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.stopSweep = cancel
	s.sweepDone = make(chan struct{})
	go s.sweepLoop(sweepCtx, s.sweepDone)

	s.running = true
	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.path).Msg("listening")
	return nil
}

// Stop closes every channel in the active set, including channels handed to
// Accept directly, and stops the listener and the sweep if they run.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	var srv *http.Server
	var sweepDone chan struct{}
	if s.running {
		s.running = false
		s.stopSweep()
		sweepDone = s.sweepDone
		srv = s.server
	}
	s.mu.Unlock()

	if sweepDone != nil {
		<-sweepDone
	}

	var wg sync.WaitGroup
	for _, t := range s.snapshot() {
		wg.Add(1)
		go func(ch *Channel) {
			defer wg.Done()
			if err := ch.CloseWithCode(ctx, websocket.CloseGoingAway, "server stopping"); err != nil {
				ch.Terminate()
			}
		}(t.ch)
	}
	wg.Wait()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// OnSay registers a notification handler installed on every accepted channel
func (s *Server) OnSay(name string, handler wschan.SayHandler) error {
	if handler == nil {
		return fmt.Errorf("on say %q: nil handler", name)
	}
	return s.register(name, func(ctx context.Context, req *wschan.Request) (any, error) {
		return nil, handler(ctx, req)
	})
}

// OnAsk registers a request handler installed on every accepted channel
func (s *Server) OnAsk(name string, handler wschan.Handler) error {
	if handler == nil {
		return fmt.Errorf("on ask %q: nil handler", name)
	}
	return s.register(name, handler)
}

func (s *Server) register(name string, handler wschan.Handler) error {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	if _, exists := s.handlers[name]; exists {
		s.logger.Error().Str("event", name).Msg("handler already exists")
		return fmt.Errorf("%w for %q", wschan.ErrHandlerExists, name)
	}
	s.handlers[name] = handler
	return nil
}

// SetInterceptor installs an interceptor on every channel accepted afterwards
func (s *Server) SetInterceptor(handler wschan.Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.interceptor = handler
}

// On registers a listener for EventConnection or EventConnectionClosed
func (s *Server) On(event string, fn func(wschan.Channel)) wschan.ListenerID {
	return s.events.On(event, fn)
}

// Once registers a listener that is removed after its first call
func (s *Server) Once(event string, fn func(wschan.Channel)) wschan.ListenerID {
	return s.events.Once(event, fn)
}

// Off removes a listener
func (s *Server) Off(event string, id wschan.ListenerID) {
	s.events.Off(event, id)
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	conn.SetReadLimit(protocol.MaxFrameSize)

	s.Accept(conn, r)
}

func (s *Server) channelConfig() *ChannelConfig {
	return &ChannelConfig{
		Logger:       s.cfg.Logger,
		Reconnect:    NoReconnect(),
		WriteTimeout: s.cfg.WriteTimeout,
		RateLimit:    s.cfg.RateLimitConfig,
	}
}

// Accept wraps conn into an open channel, installs the server-wide handlers,
// adds it to the active set and announces it before it starts reading.
// r is the upgrade request; its URL, Host and RemoteAddr stay readable on
// the channel.
func (s *Server) Accept(conn Conn, r *http.Request) *Channel {
	var remoteAddr string
	if r != nil {
		remoteAddr = r.RemoteAddr
	}
	ch := newAccepted(conn, remoteAddr, s.channelConfig())
	if r != nil {
		u := *r.URL
		ch.url, ch.host = &u, r.Host
	}

	s.handlersMu.RLock()
	for name, h := range s.handlers {
		ch.register(name, h)
	}
	if s.interceptor != nil {
		ch.SetInterceptor(s.interceptor)
	}
	s.handlersMu.RUnlock()

	t := &tracked{ch: ch}
	t.alive.Store(true)
	ch.On(wschan.EventPong, func(wschan.Event) {
		t.alive.Store(true)
	})
	ch.On(wschan.EventClose, func(e wschan.Event) {
		s.remove(t, e)
	})

	s.setMu.Lock()
	s.channels[ch.ID()] = t
	n := len(s.channels)
	s.setMu.Unlock()
	observability.SetServerChannels(n)

	s.logger.Debug().Str("channel_id", ch.ID()).Str("remote_addr", remoteAddr).Msg("channel accepted")

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(ch)
	}
	s.events.Emit(wschan.EventConnection, ch)

	ch.serve()
	return ch
}

func (s *Server) remove(t *tracked, e wschan.Event) {
	s.setMu.Lock()
	_, ok := s.channels[t.ch.ID()]
	delete(s.channels, t.ch.ID())
	n := len(s.channels)
	s.setMu.Unlock()
	if !ok {
		return
	}
	observability.SetServerChannels(n)

	voluntary := e.Code == websocket.CloseNormalClosure || e.Code == websocket.CloseGoingAway
	s.logger.Debug().Str("channel_id", t.ch.ID()).Int("code", e.Code).Bool("voluntary", voluntary).Msg("channel closed")

	if s.cfg.OnClientDisconnect != nil {
		s.cfg.OnClientDisconnect(t.ch, voluntary)
	}
	s.events.Emit(wschan.EventConnectionClosed, t.ch)
}

// snapshot copies the active set so callers can iterate without holding the lock.
func (s *Server) snapshot() []*tracked {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	out := make([]*tracked, 0, len(s.channels))
	for _, t := range s.channels {
		out = append(out, t)
	}
	return out
}

// Channels returns the open channels
func (s *Server) Channels() []wschan.Channel {
	snap := s.snapshot()
	out := make([]wschan.Channel, len(snap))
	for i, t := range snap {
		out[i] = t.ch
	}
	return out
}

// Len returns the number of open channels
func (s *Server) Len() int {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	return len(s.channels)
}

// GetChannel returns a channel by ID
func (s *Server) GetChannel(id string) (*Channel, bool) {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	if t, ok := s.channels[id]; ok {
		return t.ch, true
	}
	return nil, false
}

// Broadcast says name to every open channel
func (s *Server) Broadcast(ctx context.Context, name string, data any) error {
	var errs []error
	for _, t := range s.snapshot() {
		if err := t.ch.Say(ctx, name, data); err != nil {
			observability.RecordBroadcastFailure()
			s.logger.Warn().Err(err).Str("channel_id", t.ch.ID()).Str("event", name).Msg("broadcast delivery failed")
			errs = append(errs, fmt.Errorf("channel %s: %w", t.ch.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweep terminates channels that did not answer the previous ping, then
// marks the rest unconfirmed and pings them.
func (s *Server) sweep(ctx context.Context) {
	for _, t := range s.snapshot() {
		if !t.alive.Swap(false) {
			observability.RecordSweepTermination()
			s.logger.Info().Str("channel_id", t.ch.ID()).Msg("no pong since last sweep, terminating")
			t.ch.Terminate()
			continue
		}

		if err := t.ch.Ping(ctx); err != nil {
			s.logger.Debug().Err(err).Str("channel_id", t.ch.ID()).Msg("ping failed")
		}
	}
}
