package main

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.Path != "/chat" {
		t.Fatalf("unexpected path: %q", cfg.Path)
	}
	if cfg.MetricsPath != "/metrics" {
		t.Fatalf("unexpected metrics path: %q", cfg.MetricsPath)
	}
	if cfg.PingInterval != 15*time.Second {
		t.Fatalf("unexpected ping interval: %v", cfg.PingInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "http://localhost:3000" || cfg.AllowedOrigins[1] != "https://chat.example.com" {
		t.Fatalf("unexpected origins: %+v", cfg.AllowedOrigins)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatalf("expected rate limit to stay enabled")
	}
	if cfg.RateLimit.MessagesPerSecond != 20 || cfg.RateLimit.Burst != 40 {
		t.Fatalf("unexpected rate limit: %+v", *cfg.RateLimit)
	}
}

func TestLoadConfigEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := DefaultConfig()
	if cfg.Addr != def.Addr || cfg.Path != def.Path || cfg.MetricsPath != def.MetricsPath {
		t.Fatalf("defaults changed: %+v", cfg)
	}
	if cfg.PingInterval != def.PingInterval {
		t.Fatalf("unexpected ping interval: %v", cfg.PingInterval)
	}
	if cfg.RateLimit.MessagesPerSecond != 100 || cfg.RateLimit.Burst != 200 || !cfg.RateLimit.Enabled {
		t.Fatalf("unexpected rate limit: %+v", *cfg.RateLimit)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "ping interval in milliseconds wins",
			body: "ping_interval = \"10s\"\nping_interval_ms = 250\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.PingInterval != 250*time.Millisecond {
					t.Fatalf("unexpected ping interval: %v", cfg.PingInterval)
				}
			},
		},
		{
			name: "empty metrics path disables metrics",
			body: "metrics_path = \"\"\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.MetricsPath != "" {
					t.Fatalf("unexpected metrics path: %q", cfg.MetricsPath)
				}
			},
		},
		{
			name: "rate limit disabled",
			body: "[rate_limit]\nenabled = false\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.RateLimit.Enabled {
					t.Fatalf("expected rate limit disabled")
				}
				if cfg.RateLimit.Burst != 200 {
					t.Fatalf("unexpected burst: %d", cfg.RateLimit.Burst)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := loadConfig(writeConfig(t, tt.body))
			if err != nil {
				t.Fatalf("load config: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "bad duration", body: "ping_interval = \"soon\"\n"},
		{name: "zero interval", body: "ping_interval_ms = 0\n"},
		{name: "relative path", body: "path = \"ws\"\n"},
		{name: "not toml", body: "addr = \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := loadConfig(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	request := func(origin string) *http.Request {
		r, _ := http.NewRequest(http.MethodGet, "http://localhost/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	if fn := (Config{}).checkOrigin(); fn != nil {
		t.Fatal("expected the library default without configured origins")
	}

	all := Config{AllowedOrigins: []string{"*"}}.checkOrigin()
	if !all(request("http://evil.example")) {
		t.Fatal("wildcard rejected an origin")
	}

	listed := Config{AllowedOrigins: []string{"http://localhost:3000"}}.checkOrigin()
	if !listed(request("http://localhost:3000")) {
		t.Fatal("listed origin rejected")
	}
	if listed(request("http://evil.example")) {
		t.Fatal("unlisted origin allowed")
	}
	if listed(request("")) {
		t.Fatal("missing origin allowed")
	}
}
