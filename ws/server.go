package ws

import (
	"net/http"
	"time"

	"github.com/luciancaetano/wschan"
	"github.com/luciancaetano/wschan/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type ServerConfig = *websocket.ServerConfig
type ChannelConfig = *websocket.ChannelConfig
type ReconnectPolicy = websocket.ReconnectPolicy
type Dialer = websocket.Dialer
type DialerFunc = websocket.DialerFunc
type Conn = websocket.Conn

// NewServer creates a WebSocket server that wraps every accepted connection
// into a channel.
//
// Handlers registered on the server with OnSay, OnAsk and SetInterceptor are
// installed on each channel as it is accepted. Per-channel handlers can be
// added from the OnConnect callback or an EventConnection listener.
//
// Example:
//
//	cfg := ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), func(ch wschan.Channel) {
//	    log.Info().Str("channel_id", ch.ID()).Msg("connected")
//	}, nil)
//	server := ws.NewServer(cfg)
func NewServer(cfg ServerConfig) wschan.Server {
	return websocket.New(cfg)
}

// NewConfig returns a server configuration.
//
// Parameters:
//   - addr: The server address (e.g., ":8080" or "localhost:8080")
//   - rateLimitConfig: Rate limiting configuration. Use DefaultRateLimitConfig() or NoRateLimit()
//   - checkOrigin: Function to validate WebSocket origins. Use AllOrigins() to allow all (dev only)
//   - onConnect: Optional callback for every accepted channel. Can be nil.
//   - onDisconnect: Optional callback for every closed channel. Can be nil.
//
// The remaining fields (Path, MetricsPath, PingInterval, WriteTimeout,
// Logger, Listener) can be set on the returned value.
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		RateLimitConfig:    rateLimitConfig,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
	}
}

// NewClient creates a client channel. Call Connect to open it.
//
// Example:
//
//	ch := ws.NewClient(ws.DefaultChannelConfig())
//	if err := ch.Connect(ctx, "ws://localhost:8080/ws"); err != nil {
//	    return err
//	}
func NewClient(cfg ChannelConfig) wschan.Channel {
	return websocket.NewClient(cfg)
}

// DefaultChannelConfig reconnects every second and terminates the connection
// when the server has not pinged for 31 seconds.
func DefaultChannelConfig() ChannelConfig {
	return websocket.DefaultChannelConfig()
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// FixedReconnect retries forever with the same delay.
func FixedReconnect(delay time.Duration) ReconnectPolicy {
	return websocket.FixedReconnect(delay)
}

// BackoffReconnect doubles the delay from initial up to max. maxAttempts <= 0 retries forever.
func BackoffReconnect(initial, max time.Duration, maxAttempts int) ReconnectPolicy {
	return websocket.BackoffReconnect(initial, max, maxAttempts)
}

// NoReconnect never reconnects.
func NoReconnect() ReconnectPolicy {
	return websocket.NoReconnect()
}
