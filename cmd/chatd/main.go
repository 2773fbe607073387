package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luciancaetano/wschan/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadConfig(*configPath)
		if err != nil {
			return err
		}
	}

	logger := observability.InitLogger("chatd", cfg.LogLevel)

	chat, err := NewChatServer(cfg)
	if err != nil {
		return fmt.Errorf("create chat server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := chat.Start(ctx); err != nil {
		return fmt.Errorf("start chat server: %w", err)
	}
	logger.Info().Str("addr", chat.Addr()).Str("path", cfg.Path).Str("metrics", cfg.MetricsPath).Msg("chatd running")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return chat.Stop(shutdownCtx)
}
