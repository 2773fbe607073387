package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wschan/ws"
)

// Config is the chatd runtime configuration.
type Config struct {
	Addr           string
	Path           string
	MetricsPath    string
	PingInterval   time.Duration
	RateLimit      *ws.RateLimitConfig
	LogLevel       string
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		Path:         "/ws",
		MetricsPath:  "/metrics",
		PingInterval: 30 * time.Second,
		RateLimit:    ws.DefaultRateLimitConfig(),
		LogLevel:     "info",
	}
}

type rateLimitFile struct {
	Enabled           bool    `toml:"enabled"`
	MessagesPerSecond float64 `toml:"messages_per_second"`
	Burst             int     `toml:"burst"`
}

type fileConfig struct {
	Addr           string        `toml:"addr"`
	Path           string        `toml:"path"`
	MetricsPath    string        `toml:"metrics_path"`
	PingInterval   string        `toml:"ping_interval"`
	PingIntervalMS int64         `toml:"ping_interval_ms"`
	LogLevel       string        `toml:"log_level"`
	AllowedOrigins []string      `toml:"allowed_origins"`
	RateLimit      rateLimitFile `toml:"rate_limit"`
}

func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load chatd config: %w", err)
	}

	if meta.IsDefined("addr") {
		if addr := strings.TrimSpace(raw.Addr); addr != "" {
			cfg.Addr = addr
		}
	}

	if meta.IsDefined("path") {
		p := strings.TrimSpace(raw.Path)
		if !strings.HasPrefix(p, "/") {
			return Config{}, fmt.Errorf("parse path: %q must start with /", p)
		}
		cfg.Path = p
	}

	if meta.IsDefined("metrics_path") {
		// an empty value disables the endpoint
		cfg.MetricsPath = strings.TrimSpace(raw.MetricsPath)
	}

	if meta.IsDefined("ping_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PingInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse ping_interval: %w", err)
		}
		cfg.PingInterval = d
	}

	if meta.IsDefined("ping_interval_ms") {
		cfg.PingInterval = time.Duration(raw.PingIntervalMS) * time.Millisecond
	}

	if cfg.PingInterval <= 0 {
		return Config{}, fmt.Errorf("ping interval must be positive, got %v", cfg.PingInterval)
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("allowed_origins") {
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	}

	if meta.IsDefined("rate_limit", "enabled") {
		cfg.RateLimit.Enabled = raw.RateLimit.Enabled
	}

	if meta.IsDefined("rate_limit", "messages_per_second") {
		cfg.RateLimit.MessagesPerSecond = rate.Limit(raw.RateLimit.MessagesPerSecond)
	}

	if meta.IsDefined("rate_limit", "burst") {
		cfg.RateLimit.Burst = raw.RateLimit.Burst
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimRight(strings.TrimSpace(origin), "/")
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// checkOrigin builds the upgrade origin check. No configured origins keeps
// the same-host check of the websocket library; "*" allows every origin.
func (c Config) checkOrigin() ws.CheckOriginFn {
	if len(c.AllowedOrigins) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return ws.AllOrigins()
		}
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := allowed[r.Header.Get("Origin")]
		return ok
	}
}
