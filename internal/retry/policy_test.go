package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shaharia-lab/notifyrelay/internal/delivery"
	"github.com/shaharia-lab/notifyrelay/internal/retry"
)

func TestPolicy_ShouldRetry(t *testing.T) {
	p := retry.Default()
	tests := []struct {
		name    string
		attempt int
		out     delivery.Outcome
		want    bool
	}{
		{"retryable first attempt", 1, delivery.Retryable(429, "rate"), true},
		{"retryable second attempt", 2, delivery.Retryable(500, "err"), true},
		{"retryable exhausted", 3, delivery.Retryable(500, "err"), false},
		{"timeout retried", 1, delivery.Timeout("slow"), true},
		{"timeout exhausted", 3, delivery.Timeout("slow"), false},
		{"fatal never retried", 1, delivery.Fatal(400, "bad"), false},
		{"success not retried", 1, delivery.Success(200, nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRetry(tt.attempt, tt.out))
		})
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := retry.Default()
	assert.Zero(t, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 6*time.Second, p.Delay(3))

	assert.Zero(t, retry.Policy{BaseDelay: 0}.Delay(3))
	assert.Zero(t, retry.Policy{BaseDelay: -time.Second}.Delay(3))
}

func TestPolicy_ZeroValueUsesDefaultAttempts(t *testing.T) {
	var p retry.Policy
	assert.True(t, p.ShouldRetry(2, delivery.Timeout("x")))
	assert.False(t, p.ShouldRetry(3, delivery.Timeout("x")))
}

func TestSleep(t *testing.T) {
	assert.NoError(t, retry.Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, retry.Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, retry.Sleep(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, retry.Sleep(ctx, 0), context.Canceled)
}
