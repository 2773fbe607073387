package websocket

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wschan"
)

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultHeartbeatTimeout = 30*time.Second + time.Second
	defaultReconnectDelay   = time.Second
	defaultPingInterval     = 30 * time.Second
	defaultPath             = "/ws"
	defaultSendBuffer       = 256
	closeGracePeriod        = time.Second
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called for every accepted channel after the server-wide
// handlers were installed and before the channel starts reading. This is the
// place to register per-channel handlers, send welcome messages or track
// connections.
//
// Note: This function is called synchronously during connection setup.
// Avoid long-running operations that could block new connections.
type OnConnectFn = func(ch wschan.Channel)

// OnClientDisconnectFn is called when an accepted channel closes. voluntary is
// true when the peer closed with a normal or going-away status.
type OnClientDisconnectFn = func(ch wschan.Channel, voluntary bool)

// ReconnectPolicy returns the delay before reconnect attempt number attempt
// (starting at 1), or false to give up. The counter resets on every
// successful open.
type ReconnectPolicy func(attempt int) (time.Duration, bool)

// FixedReconnect retries forever with the same delay.
func FixedReconnect(delay time.Duration) ReconnectPolicy {
	return func(int) (time.Duration, bool) {
		return delay, true
	}
}

// BackoffReconnect doubles the delay from initial up to max. maxAttempts <= 0 retries forever.
func BackoffReconnect(initial, max time.Duration, maxAttempts int) ReconnectPolicy {
	return func(attempt int) (time.Duration, bool) {
		if maxAttempts > 0 && attempt > maxAttempts {
			return 0, false
		}
		d := initial
		for i := 1; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d, true
	}
}

// NoReconnect never reconnects.
func NoReconnect() ReconnectPolicy {
	return func(int) (time.Duration, bool) {
		return 0, false
	}
}

// RateLimitConfig defines rate limiting configuration for inbound frames
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a peer can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

func (c *RateLimitConfig) limiter() *rate.Limiter {
	if c == nil || !c.Enabled {
		return nil
	}
	return rate.NewLimiter(c.MessagesPerSecond, c.Burst)
}

// ChannelConfig configures a channel. Zero fields take their defaults.
type ChannelConfig struct {
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
	// Dialer is used by Connect. Defaults to a gorilla dialer with a 10s handshake timeout.
	Dialer Dialer
	// Reconnect defaults to FixedReconnect(time.Second).
	Reconnect ReconnectPolicy
	// HeartbeatTimeout terminates the connection when the peer sends no ping
	// for this long. Zero disables the heartbeat.
	HeartbeatTimeout time.Duration
	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration
	// RateLimit limits inbound frames. Nil disables it.
	RateLimit *RateLimitConfig
	// SendBuffer is the outbound queue length.
	SendBuffer int
}

// DefaultChannelConfig returns the configuration used for client channels:
// reconnect every second and a heartbeat slightly longer than the server's
// default ping interval.
func DefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		Reconnect:        FixedReconnect(defaultReconnectDelay),
		HeartbeatTimeout: defaultHeartbeatTimeout,
		WriteTimeout:     defaultWriteTimeout,
		RateLimit:        NoRateLimit(),
		SendBuffer:       defaultSendBuffer,
	}
}

func (c *ChannelConfig) withDefaults() *ChannelConfig {
	out := ChannelConfig{}
	if c != nil {
		out = *c
	}
	if out.Dialer == nil {
		out.Dialer = NewDialer(nil)
	}
	if out.Reconnect == nil {
		out.Reconnect = FixedReconnect(defaultReconnectDelay)
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaultWriteTimeout
	}
	if out.SendBuffer <= 0 {
		out.SendBuffer = defaultSendBuffer
	}
	return &out
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Addr is the listen address, ignored when Listener is set.
	Addr     string
	Listener net.Listener
	// Path is the upgrade endpoint, "/ws" by default.
	Path string
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
	// PingInterval is the liveness sweep period. A channel that does not
	// answer a ping before the next sweep is terminated.
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	Logger             *zerolog.Logger
}
