// Package server wires the relay's HTTP surface: REST API, live events,
// health and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shaharia-lab/notifyrelay/internal/api"
	"github.com/shaharia-lab/notifyrelay/internal/build"
)

const healthTimeout = 2 * time.Second

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the server's collaborators.
type Config struct {
	API *api.Server
	// Queue is pinged by /health.
	Queue Pinger
	// Metrics serves /metrics; omitted when nil.
	Metrics http.Handler
	Port    int
	// AllowedOrigins enables CORS for the dashboard when non-empty.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is the HTTP server for the notification relay.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a new Server.
func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		cfg.API.Mount(r)
	})

	// Live status feed for observers
	r.Get("/events", cfg.API.HandleEvents)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           otelhttp.NewHandler(r, "notifyrelay"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler (tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Queue   string `json:"queue"`
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}

// handleHealth reports ok only when the queue answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Queue: "ok", Version: build.Version}
	status := http.StatusOK

	if s.cfg.Queue != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.cfg.Queue.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			resp.Status = "unavailable"
			resp.Queue = "unreachable"
			resp.Error = "queue ping failed"
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// requestLogger is a chi middleware that logs each incoming request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
