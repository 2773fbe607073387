package websocket

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// TestDefaultRateLimitConfig tests the default rate limit configuration
func TestDefaultRateLimitConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRateLimitConfig()

	if config == nil {
		t.Fatal("DefaultRateLimitConfig() returned nil")
	}

	if !config.Enabled {
		t.Error("Expected rate limiting to be enabled by default")
	}

	if config.MessagesPerSecond != 100 {
		t.Errorf("MessagesPerSecond = %v, want 100", config.MessagesPerSecond)
	}

	if config.Burst != 200 {
		t.Errorf("Burst = %v, want 200", config.Burst)
	}
}

// TestRateLimitConfigLimiter tests which configurations produce a limiter
func TestRateLimitConfigLimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		config    *RateLimitConfig
		wantNil   bool
		wantLimit rate.Limit
		wantBurst int
	}{
		{
			name:      "default config",
			config:    DefaultRateLimitConfig(),
			wantLimit: 100,
			wantBurst: 200,
		},
		{
			name:    "no rate limit",
			config:  NoRateLimit(),
			wantNil: true,
		},
		{
			name:    "nil config",
			config:  nil,
			wantNil: true,
		},
		{
			name: "custom config",
			config: &RateLimitConfig{
				MessagesPerSecond: 50,
				Burst:             100,
				Enabled:           true,
			},
			wantLimit: 50,
			wantBurst: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := tt.config.limiter()
			if tt.wantNil {
				if l != nil {
					t.Fatal("expected no limiter")
				}
				return
			}
			if l == nil {
				t.Fatal("expected a limiter")
			}
			if l.Limit() != tt.wantLimit {
				t.Errorf("Limit() = %v, want %v", l.Limit(), tt.wantLimit)
			}
			if l.Burst() != tt.wantBurst {
				t.Errorf("Burst() = %v, want %v", l.Burst(), tt.wantBurst)
			}
		})
	}
}

// TestRateLimiterBurst tests that the limiter rejects frames past the burst
func TestRateLimiterBurst(t *testing.T) {
	t.Parallel()

	l := (&RateLimitConfig{MessagesPerSecond: 1, Burst: 3, Enabled: true}).limiter()

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("frame %d rejected inside burst", i)
		}
	}
	if l.Allow() {
		t.Error("frame past burst was allowed")
	}
}

// TestReconnectPolicies tests the delays and give-up points of the built-in policies
func TestReconnectPolicies(t *testing.T) {
	t.Parallel()

	type step struct {
		attempt   int
		wantDelay time.Duration
		wantOK    bool
	}

	tests := []struct {
		name   string
		policy ReconnectPolicy
		steps  []step
	}{
		{
			name:   "fixed",
			policy: FixedReconnect(time.Second),
			steps: []step{
				{1, time.Second, true},
				{50, time.Second, true},
			},
		},
		{
			name:   "none",
			policy: NoReconnect(),
			steps: []step{
				{1, 0, false},
			},
		},
		{
			name:   "backoff",
			policy: BackoffReconnect(100*time.Millisecond, time.Second, 0),
			steps: []step{
				{1, 100 * time.Millisecond, true},
				{2, 200 * time.Millisecond, true},
				{3, 400 * time.Millisecond, true},
				{4, 800 * time.Millisecond, true},
				{5, time.Second, true},
				{40, time.Second, true},
			},
		},
		{
			name:   "backoff with limit",
			policy: BackoffReconnect(time.Second, 4*time.Second, 2),
			steps: []step{
				{1, time.Second, true},
				{2, 2 * time.Second, true},
				{3, 0, false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for _, s := range tt.steps {
				delay, ok := tt.policy(s.attempt)
				if ok != s.wantOK {
					t.Errorf("attempt %d: ok = %v, want %v", s.attempt, ok, s.wantOK)
				}
				if ok && delay != s.wantDelay {
					t.Errorf("attempt %d: delay = %v, want %v", s.attempt, delay, s.wantDelay)
				}
			}
		})
	}
}

// TestChannelConfigDefaults tests that zero fields are filled in
func TestChannelConfigDefaults(t *testing.T) {
	t.Parallel()

	var nilConfig *ChannelConfig
	cfg := nilConfig.withDefaults()

	if cfg.Dialer == nil {
		t.Error("Dialer not defaulted")
	}
	if cfg.Reconnect == nil {
		t.Error("Reconnect not defaulted")
	} else if d, ok := cfg.Reconnect(1); !ok || d != defaultReconnectDelay {
		t.Errorf("Reconnect(1) = %v, %v, want %v, true", d, ok, defaultReconnectDelay)
	}
	if cfg.WriteTimeout != defaultWriteTimeout {
		t.Errorf("WriteTimeout = %v, want %v", cfg.WriteTimeout, defaultWriteTimeout)
	}
	if cfg.SendBuffer != defaultSendBuffer {
		t.Errorf("SendBuffer = %v, want %v", cfg.SendBuffer, defaultSendBuffer)
	}
	if cfg.HeartbeatTimeout != 0 {
		t.Errorf("HeartbeatTimeout = %v, want disabled", cfg.HeartbeatTimeout)
	}

	def := DefaultChannelConfig()
	if def.HeartbeatTimeout != defaultHeartbeatTimeout {
		t.Errorf("default HeartbeatTimeout = %v, want %v", def.HeartbeatTimeout, defaultHeartbeatTimeout)
	}
	if def.HeartbeatTimeout <= defaultPingInterval {
		t.Error("heartbeat must outlast the server ping interval")
	}
}

// TestChannelConfigDefaultsDoNotMutate tests that withDefaults copies its receiver
func TestChannelConfigDefaultsDoNotMutate(t *testing.T) {
	t.Parallel()

	cfg := &ChannelConfig{SendBuffer: 8}
	out := cfg.withDefaults()

	if cfg.WriteTimeout != 0 {
		t.Error("withDefaults modified its receiver")
	}
	if out.SendBuffer != 8 {
		t.Errorf("SendBuffer = %v, want 8", out.SendBuffer)
	}
}
