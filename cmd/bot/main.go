package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bloomdevelop/weasel/internal/driver"
	"github.com/bloomdevelop/weasel/internal/plugin/exchange"
)

func main() {
	if exchange.IsWorker() {
		if err := runWorker(); err != nil {
			slog.Error("discovery worker exited with error", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("bot exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}
	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout belongs to the console driver and to discovery workers.
	logger := newLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	assembled, err := assemble(ctx, logger, cfg, registry)
	if err != nil {
		return err
	}
	defer assembled.close()

	return assembled.run(ctx)
}

// runWorker answers one discovery request on stdin and stdout.
func runWorker() error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}
	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(os.Stderr, cfg.LogLevel).With("component", "discovery-worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return exchange.Serve(ctx, os.Stdin, os.Stdout, newDiscoverer(logger, cfg))
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
