package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wschan"
)

type outbound struct {
	data   []byte
	result chan error
}

// session is one transport connection of a channel. A client channel gets a
// new session on every reconnect.
type session struct {
	ch          *Channel
	conn        Conn
	logger      zerolog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan outbound
	done        chan struct{}
	rateLimiter *rate.Limiter // Rate limiter for incoming messages

	writeTimeout     time.Duration
	heartbeatTimeout time.Duration

	mu          sync.Mutex
	heartbeat   *time.Timer
	closing     bool
	localCode   int
	localReason string
}

func newSession(ch *Channel, conn Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		ch:               ch,
		conn:             conn,
		logger:           ch.logger,
		ctx:              ctx,
		cancel:           cancel,
		sendCh:           make(chan outbound, ch.cfg.SendBuffer),
		done:             make(chan struct{}),
		rateLimiter:      ch.cfg.RateLimit.limiter(),
		writeTimeout:     ch.cfg.WriteTimeout,
		heartbeatTimeout: ch.cfg.HeartbeatTimeout,
	}
}

// start installs the control frame handlers and starts the pumps.
func (s *session) start() {
	s.conn.SetPingHandler(s.onPing)
	s.conn.SetPongHandler(s.onPong)
	s.armHeartbeat()

	go s.writePump()
	go s.readPump()
}

// send queues data and waits until it was written to the connection.
// ctx only bounds the wait for a queue slot: once queued, the frame is
// written and send reports the write result.
func (s *session) send(ctx context.Context, data []byte) error {
	ob := outbound{data: data, result: make(chan error, 1)}

	select {
	case s.sendCh <- ob:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return wschan.ErrNotConnected
	}

	select {
	case err := <-ob.result:
		return err
	case <-s.ctx.Done():
		return wschan.ErrNotConnected
	}
}

// writePump pumps frames from the send channel to the websocket connection.
// A failed write is reported to its sender only; the read side notices a
// broken connection on its own.
func (s *session) writePump() {
	for {
		select {
		case ob := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := s.conn.WriteMessage(websocket.TextMessage, ob.data)
			if err == nil {
				s.logger.Trace().Str("dir", "out").Bytes("frame", ob.data).Msg("frame")
			}
			ob.result <- err

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *session) readPump() {
	defer s.conn.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("unexpected close")
			}
			code, reason := closeStatus(err)
			s.finish(code, reason)
			return
		}

		s.logger.Trace().Str("dir", "in").Bytes("frame", data).Msg("frame")

		// Check rate limit before queueing the frame
		if s.rateLimiter != nil && !s.rateLimiter.Allow() {
			s.logger.Warn().Msg("rate limit exceeded")
			s.closeWithCode(websocket.ClosePolicyViolation, "Rate limit exceeded")
			continue
		}

		s.ch.enqueue(frame{sess: s, data: data})
	}
}

// finish tears the session down once the transport is gone and hands the
// close over to the channel.
func (s *session) finish(code int, reason string) {
	s.mu.Lock()
	if s.localCode != 0 {
		code, reason = s.localCode, s.localReason
	}
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	s.ch.handleClose(s, code, reason)
	close(s.done)
}

func (s *session) onPing(appData string) error {
	s.armHeartbeat()

	err := s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.writeTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug().Err(err).Msg("pong failed")
	}
	return nil
}

func (s *session) onPong(string) error {
	s.ch.events.Emit(wschan.EventPong, wschan.Event{Name: wschan.EventPong})
	return nil
}

// armHeartbeat (re)starts the liveness timer. When the peer stops pinging
// the connection is terminated rather than closed: a peer that does not
// ping will not answer a close handshake either.
func (s *session) armHeartbeat() {
	if s.heartbeatTimeout <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if s.heartbeat == nil {
		s.heartbeat = time.AfterFunc(s.heartbeatTimeout, func() {
			s.logger.Warn().Dur("timeout", s.heartbeatTimeout).Msg("peer not alive, terminating")
			s.terminate()
		})
		return
	}
	s.heartbeat.Reset(s.heartbeatTimeout)
}

func (s *session) ping(ctx context.Context) error {
	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// closeWithCode starts the close handshake. The connection is dropped if the
// peer does not complete it within closeGracePeriod.
func (s *session) closeWithCode(code int, reason string) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.localCode, s.localReason = code, reason
	s.mu.Unlock()

	message := websocket.FormatCloseMessage(code, reason)
	err := s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGracePeriod))
	if err != nil {
		s.conn.Close()
		return err
	}

	time.AfterFunc(closeGracePeriod, func() { s.conn.Close() })
	return nil
}

// terminate drops the connection without a close handshake.
func (s *session) terminate() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return s.conn.Close()
}
