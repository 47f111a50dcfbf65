package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/notifyrelay/internal/api"
	"github.com/shaharia-lab/notifyrelay/internal/breaker"
	"github.com/shaharia-lab/notifyrelay/internal/broadcast"
	"github.com/shaharia-lab/notifyrelay/internal/metrics"
	"github.com/shaharia-lab/notifyrelay/internal/server"
	svcmocks "github.com/shaharia-lab/notifyrelay/internal/service/mocks"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type noBreakers struct{}

func (noBreakers) Breakers() []breaker.Snapshot { return []breaker.Snapshot{} }

func newServer(t *testing.T, q server.Pinger, origins []string) *server.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := broadcast.New(logger, broadcast.Options{})
	apiSrv := api.New(new(svcmocks.MockNotificationService), noBreakers{}, events, logger)
	return server.New(server.Config{
		API:            apiSrv,
		Queue:          q,
		Metrics:        metrics.New().Handler(),
		AllowedOrigins: origins,
		Logger:         logger,
	})
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		queueErr   error
		wantStatus int
		wantQueue  string
	}{
		{"queue reachable", nil, http.StatusOK, "ok"},
		{"queue down", errors.New("dial tcp: connection refused"), http.StatusServiceUnavailable, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, pinger{err: tt.queueErr}, nil)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantQueue, body["queue"])
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t, pinger{}, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAPIRoutesMounted(t *testing.T) {
	srv := newServer(t, pinger{}, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestCORS(t *testing.T) {
	srv := newServer(t, pinger{}, []string{"http://dashboard.local"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/notifications", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://dashboard.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRun_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := broadcast.New(logger, broadcast.Options{})
	srv := server.New(server.Config{
		API:    api.New(new(svcmocks.MockNotificationService), noBreakers{}, events, logger),
		Queue:  pinger{},
		Port:   port,
		Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
