package wschan

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/luciancaetano/wschan/internal/emitter"
)

// Channel events.
const (
	EventOpen  = "open"
	EventClose = "close"
	EventPong  = "pong"
)

// Server events.
const (
	EventConnection       = "connection"
	EventConnectionClosed = "connection-closed"
)

// ListenerID identifies a listener registered with On or Once.
type ListenerID = emitter.ListenerID

// State is the connection state of a Channel.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered to channel listeners. Code and Reason are only set for EventClose.
type Event struct {
	Name   string
	Code   int
	Reason string
}

// Request is an inbound say or ask as seen by a handler or interceptor.
type Request struct {
	Channel Channel
	Event   string
	Data    json.RawMessage
	// ID is zero for say requests.
	ID uint64
}

// Decode unmarshals the request data into v.
func (r *Request) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Expects reports whether the sender is waiting for a reply.
func (r *Request) Expects() bool {
	return r.ID != 0
}

// Handler processes a request. The returned value becomes the reply data when
// the request was an ask; a returned error is classified into a reply error.
//
// Handlers run one at a time per channel: the next inbound frame is not
// interpreted until the handler returns.
type Handler func(ctx context.Context, req *Request) (any, error)

// SayHandler processes a notification. It may still be invoked by an ask, in
// which case the reply carries no data.
type SayHandler func(ctx context.Context, req *Request) error

// Channel is one protocol engine bound to one WebSocket connection, in either
// client or server role.
//
// Example usage:
//
//	ch := ws.NewClient(ws.DefaultChannelConfig())
//	if err := ch.Connect(ctx, "ws://localhost:8080/ws"); err != nil {
//	    return err
//	}
//
//	ch.OnSay("chat", func(ctx context.Context, req *wschan.Request) error {
//	    var msg ChatMessage
//	    return req.Decode(&msg)
//	})
//
//	raw, err := ch.Ask(ctx, "users", nil)
type Channel interface {
	// ID returns a unique identifier for the channel. It survives reconnects.
	ID() string

	// RemoteAddr returns the peer address, or the dialed address for client channels.
	RemoteAddr() string

	// URL returns the upgrade request URL on accepted channels, so handlers
	// can read query parameters such as a session id. On client channels it
	// is the dialed address. Nil before the first connect.
	URL() *url.URL

	// Host returns the Host of the upgrade request, or the dialed host.
	Host() string

	// State returns the current connection state.
	State() State

	// IsAlive returns true while the channel is open.
	IsAlive() bool

	// Connect dials address and returns once the connection is open.
	//
	// The address is remembered: whenever the connection drops, the channel
	// dials it again according to its reconnect policy until Close or
	// Terminate is called, or the peer closes with an invalid session.
	Connect(ctx context.Context, address string) error

	// Say sends a notification. It returns once the frame was written to the
	// connection; no reply is ever produced.
	Say(ctx context.Context, name string, data any) error

	// Ask sends a request and waits for its reply.
	//
	// There is no built-in timeout. When ctx is done the pending request is
	// dropped and a reply arriving later is discarded as an orphan. When the
	// connection closes first Ask returns ErrChannelClosed. A failed reply
	// is returned as *Error.
	Ask(ctx context.Context, name string, data any) (json.RawMessage, error)

	// OnSay registers a handler for notifications named name.
	// Returns ErrHandlerExists if name already has a handler.
	OnSay(name string, handler SayHandler) error

	// OnAsk registers a handler for requests named name.
	// Returns ErrHandlerExists if name already has a handler.
	OnAsk(name string, handler Handler) error

	// OffEvent removes the handler registered for name.
	OffEvent(name string)

	// SetInterceptor installs a handler that receives every inbound request
	// instead of the per-name handlers. A nil interceptor removes it.
	SetInterceptor(handler Handler)

	// StopHandleEvents pauses inbound processing. Frames keep accumulating.
	StopHandleEvents()

	// StartHandleEvents resumes inbound processing.
	StartHandleEvents()

	// Ping sends a WebSocket ping to the peer.
	Ping(ctx context.Context) error

	// Close closes the connection gracefully with websocket.CloseNormalClosure.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection gracefully with a specific close code and reason.
	CloseWithCode(ctx context.Context, code int, reason string) error

	// Terminate drops the connection without a close handshake.
	Terminate() error

	// On registers a listener for EventOpen, EventClose or EventPong.
	On(event string, fn func(Event)) ListenerID

	// Once registers a listener that is removed after its first call.
	Once(event string, fn func(Event)) ListenerID

	// Off removes a listener.
	Off(event string, id ListenerID)
}

// Server accepts WebSocket connections and wraps each one into a Channel.
//
// Example usage:
//
//	server := ws.NewServer(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//
//	server.OnAsk("time", func(ctx context.Context, req *wschan.Request) (any, error) {
//	    return time.Now(), nil
//	})
//
//	server.On(wschan.EventConnection, func(ch wschan.Channel) {
//	    ch.Say(ctx, "welcome", nil)
//	})
//
//	server.Start(ctx)
type Server interface {
	// Start starts listening. Returns an error if the server is already
	// running or the address cannot be bound.
	Start(ctx context.Context) error

	// Stop closes every channel and shuts the listener down.
	Stop(ctx context.Context) error

	// Addr returns the bound address once started.
	Addr() string

	// OnSay registers a notification handler on every channel accepted afterwards.
	OnSay(name string, handler SayHandler) error

	// OnAsk registers a request handler on every channel accepted afterwards.
	OnAsk(name string, handler Handler) error

	// SetInterceptor installs an interceptor on every channel accepted afterwards.
	SetInterceptor(handler Handler)

	// Broadcast says name to every open channel. A failure on one channel
	// does not stop delivery to the others; all failures are joined into
	// the returned error.
	Broadcast(ctx context.Context, name string, data any) error

	// Channels returns a snapshot of the open channels.
	Channels() []Channel

	// On registers a listener for EventConnection or EventConnectionClosed.
	On(event string, fn func(Channel)) ListenerID

	// Once registers a listener that is removed after its first call.
	Once(event string, fn func(Channel)) ListenerID

	// Off removes a listener.
	Off(event string, id ListenerID)
}
