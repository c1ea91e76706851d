// Package app wires the bridge's components together and runs their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentbridge/agentbridge/internal/bridge"
	"github.com/agentbridge/agentbridge/internal/engine"
	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/server"
	"github.com/agentbridge/agentbridge/internal/session"
	"github.com/agentbridge/agentbridge/internal/tokenstore"
	"github.com/agentbridge/agentbridge/internal/tool"
)

// App orchestrates the lifecycle of the HTTP server and related services.
type App struct {
	cfg      Config
	server   *server.Server
	sessions *session.Registry
	bus      *event.Bus
	health   *Health
}

// New builds the application from its configuration.
func New(cfg Config) (*App, error) {
	bus := event.NewBus(slog.Default())
	sessions := session.NewRegistry(cfg.Session.TTL, bus)

	tools := tool.NewRegistry()
	for _, d := range tool.Defaults() {
		tools.Register(d)
	}
	for _, name := range cfg.Tools.Extra {
		tools.Register(tool.Descriptor{Name: name})
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	adapter := bridge.New(eng, sessions, tools, bridge.WithWorkdir(cfg.Engine.Workdir))

	health := NewHealth()
	srv, err := server.New(server.Config{
		Adapter:          adapter,
		Sessions:         sessions,
		Bus:              bus,
		Health:           health,
		RequestSizeLimit: cfg.Server.RequestSizeLimit,
		EnableCORS:       cfg.Server.EnableCORS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &App{
		cfg:      cfg,
		server:   srv,
		sessions: sessions,
		bus:      bus,
		health:   health,
	}, nil
}

// newEngine builds the engine implementation the configuration selects.
func newEngine(cfg Config) (engine.Engine, error) {
	switch cfg.Engine.Type {
	case EngineTypeLocal:
		return engine.NewLocal(engine.LocalConfig{
			Command: cfg.Engine.Command,
			Args:    cfg.Engine.Args,
			Workdir: cfg.Engine.Workdir,
		}), nil

	case EngineTypeRemote:
		if cfg.Auth.Storage == TokenStorageTypeNone {
			return engine.NewRemote(cfg.Engine.URL, nil), nil
		}
		store, err := cfg.Auth.NewTokenStore()
		if err != nil {
			return nil, fmt.Errorf("failed to create token store: %w", err)
		}
		return engine.NewRemote(cfg.Engine.URL, tokenstore.NewSource(store)), nil

	default:
		return nil, fmt.Errorf("unknown engine type %q (expected: local, remote)", cfg.Engine.Type)
	}
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting server", "addr", a.cfg.Server.Addr, "engine", a.cfg.Engine.Type)
	serverErrCh, err := a.server.Start(gCtx, a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		// Closing the bus ends open event streams so server shutdown does
		// not wait on idle SSE connections.
		return a.bus.Close()
	})

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		return a.sessions.RunSweeper(gCtx, a.cfg.Session.SweepInterval)
	})

	a.health.SetReady(true)

	runtimeErr := g.Wait()
	a.health.SetReady(false)

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
