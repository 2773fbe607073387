// Package wschan provides a bidirectional message channel over WebSocket for
// services and real-time applications.
//
// Both ends of a connection are peers: either side can send a notification
// (say) or a request that expects a reply (ask), and either side can register
// handlers for the other's messages. The same engine runs in client and server
// role; a client channel additionally reconnects, a server keeps a registry of
// accepted channels that it can broadcast to and sweeps for dead peers.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/wschan"
//	    "github.com/luciancaetano/wschan/ws"
//	)
//
//	// Server
//	server := ws.NewServer(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//
//	server.OnAsk("time", func(ctx context.Context, req *wschan.Request) (any, error) {
//	    return time.Now().Unix(), nil
//	})
//
//	server.Start(ctx)
//
//	// Client
//	ch := ws.NewClient(ws.DefaultChannelConfig())
//	ch.Connect(ctx, "ws://localhost:8080/ws")
//
//	raw, err := ch.Ask(ctx, "time", nil)
//
// # Protocol Format
//
// Every frame is a text frame holding one JSON object.
//
//	{"name":"chat","data":{...}}                     say
//	{"id":7,"name":"time","data":{...}}              ask
//	{"replyTo":7,"ok":true,"data":...}               successful reply
//	{"replyTo":7,"ok":false,"error":"CODE",
//	 "errorMsg":"...","errorData":...}               failed reply
//
// Request ids are unique among a channel's outstanding asks. A frame that is
// not a well-formed envelope is answered with the "Wrong JSON" error when its
// id can still be read, and dropped otherwise. The connection stays open.
//
// # Errors
//
// What a handler returns decides what the asking side sees:
//
//	wschan.Code("E")                 error "E"
//	wschan.NewError("E", "msg", d)   error "E", errorMsg "msg", errorData d
//	any other error                  error "INTERNAL_SERVER_ERROR"
//
// The message of an unclassified error is logged and never sent. Ask returns
// every failed reply as *wschan.Error.
//
// # Ordering
//
// Inbound frames of a channel are interpreted one at a time in arrival order.
// A handler that blocks holds back every frame behind it, replies included,
// so a handler must not Ask on its own channel. StopHandleEvents and
// StartHandleEvents pause and resume processing without losing frames.
//
// # Liveness
//
// The server pings every channel each PingInterval (30s by default) and
// terminates a channel that did not answer the previous ping. A client channel
// expects those pings and terminates its connection when none arrived for 31
// seconds; it then reconnects unless it was closed on purpose or the server
// closed it with code 1000 and reason "SESSIONID_NOT_VALID".
//
// # Rate Limiting
//
// Each server channel has an independent token bucket for inbound frames:
//
//	// Default: 100 messages/second, burst 200
//	rateLimitConfig := ws.DefaultRateLimitConfig()
//
//	// Custom: 50 messages/second, burst 100
//	rateLimitConfig := &ws.RateLimitConfig{
//	    MessagesPerSecond: 50,
//	    Burst:             100,
//	    Enabled:           true,
//	}
//
// When the limit is exceeded the channel is closed with code 1008 (Policy Violation).
//
// # Important
//
//   - Maximum frame size: 10MB
//   - Configure CheckOriginFn in production (never use ws.AllOrigins() in production)
package wschan
