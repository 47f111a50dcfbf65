// Package api implements the relay's REST and live-event handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shaharia-lab/notifyrelay/internal/breaker"
	"github.com/shaharia-lab/notifyrelay/internal/broadcast"
	"github.com/shaharia-lab/notifyrelay/internal/service"
)

const (
	errInvalidJSONBody = "invalid JSON body"
	maxBodyBytes       = 64 << 10
	defaultHeartbeat   = 15 * time.Second
)

// BreakerSource reports the state of every delivery breaker.
type BreakerSource interface {
	Breakers() []breaker.Snapshot
}

// EventSource is the observer registry behind the live event stream.
type EventSource interface {
	Subscribe(buffer int) (*broadcast.Subscription, error)
	Unsubscribe(s *broadcast.Subscription)
}

// Server holds all dependencies for the REST API handlers.
type Server struct {
	notificationSvc service.NotificationService
	breakers        BreakerSource
	events          EventSource
	logger          *slog.Logger
	heartbeat       time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithHeartbeat sets the interval of keep-alive comments on the event stream.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// New creates a new API Server backed by the provided services.
func New(
	notificationSvc service.NotificationService,
	breakers BreakerSource,
	events EventSource,
	logger *slog.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		notificationSvc: notificationSvc,
		breakers:        breakers,
		events:          events,
		logger:          logger,
		heartbeat:       defaultHeartbeat,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Mount registers the versioned REST routes under the given router.
func (s *Server) Mount(r chi.Router) {
	// Notifications
	r.Post("/notifications", s.handleIngestNotification)
	r.Get("/notifications", s.handleListNotifications)
	r.Get("/notifications/{id}", s.handleGetNotification)

	// Delivery health
	r.Get("/breakers", s.handleListBreakers)
}

// ─── Shared helpers ───────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	b, _ := json.Marshal(data)
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(b))
	if flusher != nil {
		flusher.Flush()
	}
}

// httpErr maps service errors to HTTP status codes.
func httpErr(w http.ResponseWriter, err error) {
	var (
		notFound    *service.NotFoundError
		invalid     *service.ValidationError
		unavailable *service.UnavailableError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &unavailable):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, unavailable.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
