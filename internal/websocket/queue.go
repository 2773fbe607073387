package websocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/luciancaetano/wschan"
	"github.com/luciancaetano/wschan/internal/observability"
	"github.com/luciancaetano/wschan/internal/protocol"
)

// frame is a raw inbound message and the session it arrived on.
type frame struct {
	sess *session
	data []byte
}

// enqueue appends f to the inbound queue and starts the drain loop unless it
// is already running or the channel is paused.
func (c *Channel) enqueue(f frame) {
	c.qmu.Lock()
	c.queue = append(c.queue, f)
	start := !c.processing && !c.paused
	if start {
		c.processing = true
	}
	c.qmu.Unlock()

	if start {
		go c.drain()
	}
}

// drain interprets queued frames one at a time until the queue is empty or
// the channel is paused. Only one drain loop runs per channel.
func (c *Channel) drain() {
	for {
		c.qmu.Lock()
		if c.paused || len(c.queue) == 0 {
			c.processing = false
			c.qmu.Unlock()
			return
		}
		f := c.queue[0]
		c.queue[0] = frame{}
		c.queue = c.queue[1:]
		c.qmu.Unlock()

		c.interpret(f)
	}
}

// StopHandleEvents pauses inbound processing after the frame in progress.
func (c *Channel) StopHandleEvents() {
	c.qmu.Lock()
	c.paused = true
	c.qmu.Unlock()
}

// StartHandleEvents resumes inbound processing of queued frames.
func (c *Channel) StartHandleEvents() {
	c.qmu.Lock()
	c.paused = false
	start := !c.processing && len(c.queue) > 0
	if start {
		c.processing = true
	}
	c.qmu.Unlock()

	if start {
		go c.drain()
	}
}

func (c *Channel) queued() int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return len(c.queue)
}

func (c *Channel) interpret(f frame) {
	env, err := protocol.Decode(f.data)
	if err != nil {
		c.protocolError(f.sess, err)
		return
	}

	if env.IsReply() {
		c.settle(env)
		return
	}
	c.dispatch(f.sess, env)
}

// protocolError logs a malformed frame and answers it with a Wrong JSON reply
// when the request id survived. Frames without a recoverable id are dropped;
// the channel stays open either way.
func (c *Channel) protocolError(s *session, err error) {
	observability.RecordChannelError(observability.KindProtocol)

	var derr *protocol.DecodeError
	if !errors.As(err, &derr) || !derr.HasID {
		c.logger.Error().Err(err).Str("kind", observability.KindProtocol).Msg("malformed frame dropped")
		return
	}

	c.logger.Error().Err(err).Str("kind", observability.KindProtocol).Uint64("id", derr.ID).Msg("malformed frame")
	payload, encErr := protocol.EncodeFailure(derr.ID, wschan.CodeWrongJSON, "", nil)
	if encErr != nil {
		return
	}
	if sendErr := s.send(context.Background(), payload); sendErr != nil {
		c.sendFailed(wschan.CodeWrongJSON, sendErr)
	}
}

func (c *Channel) settle(env *protocol.Envelope) {
	res := askResult{data: env.Data}
	if !env.OK {
		res = askResult{err: replyToError(env)}
	}

	if !c.pending.settle(env.ReplyTo, res) {
		observability.RecordChannelError(observability.KindOrphanReply)
		c.logger.Warn().Str("kind", observability.KindOrphanReply).Uint64("reply_to", env.ReplyTo).Msg("no pending request for reply")
	}
}

// resolve picks the interceptor when one is installed, the named handler
// otherwise.
func (c *Channel) resolve(name string) (wschan.Handler, bool) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()

	if c.interceptor != nil {
		return c.interceptor, true
	}
	h, ok := c.handlers[name]
	return h, ok
}

func (c *Channel) dispatch(s *session, env *protocol.Envelope) {
	req := &wschan.Request{
		Channel: c,
		Event:   env.Name,
		Data:    env.Data,
		ID:      env.ID,
	}

	var (
		result any
		err    error
	)
	if h, ok := c.resolve(env.Name); ok {
		result, err = invoke(h, req)
	} else {
		observability.RecordChannelError(observability.KindEventNotFound)
		c.logger.Warn().Str("kind", observability.KindEventNotFound).Str("event", env.Name).Msg("no handler for event")
		err = wschan.NewError(wschan.CodeEventNotExists, fmt.Sprintf("no handler for event %q", env.Name), nil)
	}

	if err != nil {
		c.handlerFailed(s, req, err)
		return
	}
	if !req.Expects() {
		return
	}

	payload, encErr := protocol.EncodeResult(env.ID, result)
	if encErr != nil {
		c.handlerFailed(s, req, encErr)
		return
	}
	c.reply(s, req, payload)
}

// invoke runs a handler, turning a panic into an error.
func invoke(h wschan.Handler, req *wschan.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, recovered(r)
		}
	}()
	return h(context.Background(), req)
}

func (c *Channel) handlerFailed(s *session, req *wschan.Request, err error) {
	var domain *wschan.Error
	if !errors.As(err, &domain) || domain.Code != wschan.CodeEventNotExists {
		observability.RecordChannelError(observability.KindHandler)
		c.logger.Error().Err(err).Str("kind", observability.KindHandler).Str("event", req.Event).Msg("handler failed")
	}
	if !req.Expects() {
		return
	}

	re := classify(err)
	payload, encErr := protocol.EncodeFailure(req.ID, re.code, re.description, re.data)
	if encErr != nil {
		// error data would not marshal; send the code alone
		payload, encErr = protocol.EncodeFailure(req.ID, re.code, re.description, nil)
		if encErr != nil {
			return
		}
	}
	c.reply(s, req, payload)
}

func (c *Channel) reply(s *session, req *wschan.Request, payload []byte) {
	if err := s.send(context.Background(), payload); err != nil {
		c.sendFailed(req.Event, err)
	}
}
