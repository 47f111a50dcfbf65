package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wneessen/go-mail"
)

type replyError struct {
	temp bool
	code int
}

func (e *replyError) Error() string  { return fmt.Sprintf("%d smtp reply", e.code) }
func (e *replyError) IsTemp() bool   { return e.temp }
func (e *replyError) ErrorCode() int { return e.code }

func TestClassifySMTP(t *testing.T) {
	expired, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-expired.Done()

	tests := []struct {
		name       string
		ctx        context.Context
		err        error
		wantKind   Kind
		wantStatus int
		unhealthy  bool
	}{
		{"temporary reply", context.Background(), &replyError{temp: true, code: 451}, KindRetryable, 451, true},
		{"wrapped temporary reply", context.Background(), fmt.Errorf("sending: %w", &replyError{temp: true, code: 421}), KindRetryable, 421, true},
		{"permanent reply", context.Background(), &replyError{code: 553}, KindFatal, 553, false},
		{"send error without server reply", context.Background(), &mail.SendError{Reason: mail.ErrSMTPRcptTo}, KindFatal, 0, true},
		{"deadline exceeded", context.Background(), context.DeadlineExceeded, KindTimeout, 0, true},
		{"dial error after deadline", expired, errors.New("dial tcp 10.0.0.1:587: i/o timeout"), KindTimeout, 0, true},
		{"connection refused", context.Background(), errors.New("dial tcp 127.0.0.1:587: connect: connection refused"), KindFatal, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classifySMTP(tt.ctx, tt.err)
			assert.Equal(t, tt.wantKind, out.Kind, out.Reason)
			assert.Equal(t, tt.wantStatus, out.StatusCode)
			assert.Equal(t, tt.unhealthy, out.Unhealthy())
			assert.NotEmpty(t, out.Reason)
		})
	}
}
