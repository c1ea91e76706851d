// Package server exposes the bridge over HTTP: the OpenAI-compatible chat
// completions endpoint plus session inspection, the lifecycle event feed,
// model listing, and health probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/agentbridge/agentbridge/internal/bridge"
	"github.com/agentbridge/agentbridge/internal/event"
	obsmw "github.com/agentbridge/agentbridge/internal/observability/middleware"
	"github.com/agentbridge/agentbridge/internal/session"
)

// DefaultRequestSizeLimit bounds request bodies when the configuration does
// not say otherwise. Chat histories with inline file content get large;
// 10 MiB leaves room without letting a single request exhaust memory.
const DefaultRequestSizeLimit = 10 << 20

// Config carries the server's dependencies and HTTP settings.
type Config struct {
	Adapter  bridge.ChatCompletionAdapter
	Sessions *session.Registry
	Bus      *event.Bus
	Health   ReadinessChecker

	// RequestSizeLimit is the maximum request body size in bytes.
	// Zero means DefaultRequestSizeLimit.
	RequestSizeLimit int64
	// EnableCORS allows browser clients from any origin.
	EnableCORS bool
}

// Server is the HTTP front of the bridge.
type Server struct {
	router chi.Router
	http   *http.Server
	addr   string
}

// New assembles the router and middleware stack. The server starts serving
// on Start.
func New(cfg Config) (*Server, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("adapter is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session registry is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("event bus is required")
	}
	if cfg.Health == nil {
		return nil, errors.New("readiness checker is required")
	}
	sizeLimit := cfg.RequestSizeLimit
	if sizeLimit <= 0 {
		sizeLimit = DefaultRequestSizeLimit
	}

	r := chi.NewRouter()
	r.Use(obsmw.RequestIDGeneration)
	if cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
	r.Use(obsmw.Logging(slog.Default()))
	r.Use(obsmw.RequestIDPropagation)
	r.Use(obsmw.TraceContextExtraction)
	r.Use(Recovery)
	r.Use(RequestSizeLimit(sizeLimit))

	r.Get("/healthz", livenessHandler())
	r.Get("/readyz", readinessHandler(cfg.Health))

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/chat/completions", &ChatCompletionsHandler{Adapter: cfg.Adapter})
		r.Get("/models", modelsHandler())
		r.Get("/events", eventsHandler(cfg.Bus))

		sessions := &SessionsHandler{Registry: cfg.Sessions}
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessions.List)
			r.Get("/stats", sessions.Stats)
			r.Get("/{sessionID}", sessions.Get)
			r.Delete("/{sessionID}", sessions.Delete)
		})
	})

	return &Server{router: r}, nil
}

// Handler returns the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds addr and serves until Shutdown or a listener failure. The
// returned channel reports a serve failure and is closed when serving ends.
func (s *Server) Start(ctx context.Context, addr string) (<-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout bounds the whole response including long SSE runs.
		WriteTimeout: 30 * time.Minute,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.InfoContext(ctx, "server listening", "addr", s.addr)
	return errCh, nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
