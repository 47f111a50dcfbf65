package mockprovider_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/notifyrelay/internal/delivery"
	"github.com/shaharia-lab/notifyrelay/internal/mockprovider"
	"github.com/shaharia-lab/notifyrelay/internal/model"
)

func newProvider(roll float64, delay time.Duration) *mockprovider.Provider {
	return mockprovider.New(mockprovider.Options{
		Roll:      func() float64 { return roll },
		SlowDelay: delay,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func send(t *testing.T, h http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	body := strings.NewReader(`{"type":"sms","recipient":"+15550100","message":"hi"}`)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", body))
	return w
}

func TestSend_OutcomeDistribution(t *testing.T) {
	tests := []struct {
		name       string
		roll       float64
		wantStatus int
		wantField  string
	}{
		{"rate limited low edge", 0, http.StatusTooManyRequests, "retryAfter"},
		{"rate limited high edge", 29.99, http.StatusTooManyRequests, "retryAfter"},
		{"server error", 30, http.StatusInternalServerError, "errorId"},
		{"server error high edge", 34.99, http.StatusInternalServerError, "errorId"},
		{"slow success", 35, http.StatusOK, "processedAt"},
		{"fast success", 55, http.StatusOK, "processedAt"},
		{"fast success high edge", 99.99, http.StatusOK, "processedAt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := send(t, newProvider(tt.roll, time.Millisecond).Handler())
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body, tt.wantField)
		})
	}
}

func TestSend_RateLimitSetsRetryAfter(t *testing.T) {
	w := send(t, newProvider(10, time.Millisecond).Handler())
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestSend_SlowSuccessWaits(t *testing.T) {
	p := newProvider(40, 80*time.Millisecond)
	start := time.Now()
	w := send(t, p.Handler())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Contains(t, w.Body.String(), "Delayed response")
}

func TestSend_MalformedBodyStillAnswers(t *testing.T) {
	w := httptest.NewRecorder()
	newProvider(90, time.Millisecond).Handler().ServeHTTP(w,
		httptest.NewRequest(http.MethodPost, "/send", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	newProvider(0, time.Millisecond).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestDeliveryClassification(t *testing.T) {
	tests := []struct {
		name     string
		roll     float64
		wantKind delivery.Kind
	}{
		{"rate limit is retryable", 5, delivery.KindRetryable},
		{"server error is retryable", 32, delivery.KindRetryable},
		{"slow success times out", 45, delivery.KindTimeout},
		{"fast success", 70, delivery.KindSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(newProvider(tt.roll, 2*time.Second).Handler())
			defer srv.Close()

			client := delivery.NewHTTPClient(srv.URL+"/send", delivery.WithTimeout(100*time.Millisecond))
			out := client.Deliver(context.Background(), model.Notification{
				ID: "n1", Type: model.TypeSMS, Recipient: "+15550100", Message: "hi",
			})
			assert.Equal(t, tt.wantKind, out.Kind, out.Reason)
		})
	}
}
