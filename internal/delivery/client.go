// Package delivery performs single outbound calls to the notification
// provider and classifies each result into an Outcome. Clients are stateless
// and never mutate the notification.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shaharia-lab/notifyrelay/internal/model"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 5 * time.Second

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 64 << 10

// Client delivers one notification per call.
type Client interface {
	// Name identifies the delivery target (used for breakers, logs, metrics).
	Name() string
	// Deliver performs exactly one provider call.
	Deliver(ctx context.Context, n model.Notification) Outcome
}

// HTTPClient posts notifications as JSON to a provider endpoint.
type HTTPClient struct {
	name     string
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

// HTTPOption customizes an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithName overrides the target name (default "provider").
func WithName(name string) HTTPOption {
	return func(c *HTTPClient) { c.name = name }
}

// NewHTTPClient creates a client for the given provider endpoint.
func NewHTTPClient(endpoint string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		name:     "provider",
		endpoint: endpoint,
		timeout:  DefaultTimeout,
		http:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the target name.
func (c *HTTPClient) Name() string { return c.name }

// Deliver posts n to the provider and classifies the response:
// 2xx success, 429/5xx retryable, other 4xx fatal, deadline exceeded timeout.
func (c *HTTPClient) Deliver(ctx context.Context, n model.Notification) Outcome {
	body, err := json.Marshal(n)
	if err != nil {
		return Fatal(0, fmt.Sprintf("encoding notification: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Fatal(0, fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Timeout(fmt.Sprintf("no response within %s", c.timeout))
		}
		return Fatal(0, fmt.Sprintf("calling provider: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if readErr != nil && isTimeout(ctx, readErr) {
		return Timeout(fmt.Sprintf("response body not received within %s", c.timeout))
	}

	return Classify(resp.StatusCode, payload)
}

// Classify maps a provider HTTP status to an Outcome.
func Classify(status int, payload []byte) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Success(status, payload)
	case status == http.StatusTooManyRequests:
		return Retryable(status, "provider rate limited the request")
	case status >= 500:
		return Retryable(status, fmt.Sprintf("provider error: %d %s", status, http.StatusText(status)))
	case status >= 400:
		return Fatal(status, fmt.Sprintf("provider rejected request: %d %s", status, http.StatusText(status)))
	default:
		return Fatal(status, fmt.Sprintf("unexpected provider status %d", status))
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
