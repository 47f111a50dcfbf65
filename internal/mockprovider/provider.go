// Package mockprovider is a stand-in notification provider for local runs
// and load tests. POST /send answers with a fixed random mix of rate limits,
// server errors, slow successes and fast successes.
package mockprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Outcome thresholds on a roll in [0, 100).
const (
	rateLimitBelow   = 30
	serverErrorBelow = 35
	slowBelow        = 55

	// DefaultSlowDelay is how long a slow success waits before answering.
	DefaultSlowDelay = 5 * time.Second

	retryAfterSeconds = 30
)

// Options configures the Provider. Zero values select production behavior.
type Options struct {
	// Roll returns a number in [0, 100).
	Roll      func() float64
	SlowDelay time.Duration
	Port      int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Provider is the mock provider HTTP server.
type Provider struct {
	opts       Options
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a Provider.
func New(opts Options) *Provider {
	if opts.Roll == nil {
		opts.Roll = func() float64 { return rand.Float64() * 100 } //nolint:gosec // simulation only
	}
	if opts.SlowDelay <= 0 {
		opts.SlowDelay = DefaultSlowDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Provider{opts: opts, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.AllowAll().Handler)
	r.Get("/health", p.handleHealth)
	r.Post("/send", p.handleSend)

	p.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return p
}

// Handler returns the root handler (tests).
func (p *Provider) Handler() http.Handler {
	return p.httpServer.Handler
}

// Run starts the provider and blocks until ctx is canceled.
func (p *Provider) Run(ctx context.Context) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", p.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", p.httpServer.Addr, err)
	}
	p.logger.Info("mock provider listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := p.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Slow responses may be in flight; give them time to finish.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), p.opts.SlowDelay+time.Second)
		defer cancel()
		p.logger.Info("shutting down mock provider")
		return p.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type sendRequest struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

func (p *Provider) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (p *Provider) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	// The body is informational; a malformed one still gets a random outcome.
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req)

	roll := p.opts.Roll()
	log := p.logger.With("type", req.Type, "recipient", req.Recipient, "roll", roll)

	switch {
	case roll < rateLimitBelow:
		log.Warn("rate limit exceeded")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "Too Many Requests",
			"message":    "Rate limit exceeded",
			"retryAfter": retryAfterSeconds,
		})
	case roll < serverErrorBelow:
		log.Error("simulated internal server error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal Server Error",
			"message": "Something went wrong",
			"errorId": strconv.FormatInt(p.opts.Now().UnixMilli(), 36),
		})
	case roll < slowBelow:
		log.Info("simulating delayed response", "delay", p.opts.SlowDelay)
		timer := time.NewTimer(p.opts.SlowDelay)
		defer timer.Stop()
		select {
		case <-r.Context().Done():
			return
		case <-timer.C:
		}
		p.writeSuccess(w, "Delayed response")
	default:
		log.Info("notification processed")
		p.writeSuccess(w, "Notification processed successfully")
	}
}

func (p *Provider) writeSuccess(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     msg,
		"processedAt": p.opts.Now().UTC().Format(time.RFC3339Nano),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
