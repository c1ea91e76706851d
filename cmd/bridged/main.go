package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentbridge/agentbridge/internal/app"
	"github.com/agentbridge/agentbridge/internal/observability"
)

// bridged is the non-interactive daemon build of the bridge. It takes all of
// its configuration from the environment (plus an optional TOML file named
// by AGENTBRIDGE_CONFIG), which suits containerized deployments; the
// bridgectl binary carries the interactive commands.

func main() {
	// Enable graceful shutdown via OS signals; context cancellation propagates to all commands.
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,    // SIGINT: Ctrl+C (cross-platform)
		syscall.SIGTERM, // SIGTERM: Docker/k8s termination (Unix-only)
	)
	defer stop()

	if err := run(ctx); err != nil {
		slog.ErrorContext(ctx, "Application failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(envOr("AGENTBRIDGE_LOG_LEVEL", slog.LevelInfo.String()))); err != nil {
		return fmt.Errorf("invalid AGENTBRIDGE_LOG_LEVEL: %w", err)
	}

	// Set up observability before creating app
	if err := observability.Instrument(level, envOr("AGENTBRIDGE_LOG_FORMAT", "json")); err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}

	cfg, err := app.LoadConfig(os.Getenv("AGENTBRIDGE_CONFIG"), os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
