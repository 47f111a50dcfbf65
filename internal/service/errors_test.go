package service_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shaharia-lab/notifyrelay/internal/service"
)

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *service.NotFoundError
		expected string
	}{
		{
			name:     "typical resource",
			err:      &service.NotFoundError{Resource: "notification", ID: "6f1c2a9e"},
			expected: `notification "6f1c2a9e" not found`,
		},
		{
			name:     "different resource type",
			err:      &service.NotFoundError{Resource: "breaker", ID: "smtp"},
			expected: `breaker "smtp" not found`,
		},
		{
			name:     "empty ID",
			err:      &service.NotFoundError{Resource: "notification", ID: ""},
			expected: `notification "" not found`,
		},
		{
			name:     "empty resource",
			err:      &service.NotFoundError{Resource: "", ID: "some-id"},
			expected: ` "some-id" not found`,
		},
		{
			name:     "both empty",
			err:      &service.NotFoundError{Resource: "", ID: ""},
			expected: ` "" not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNotFoundError_implements_error(t *testing.T) {
	var err error = &service.NotFoundError{Resource: "notification", ID: "x"}
	assert.Error(t, err)
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *service.ValidationError
		expected string
	}{
		{
			name:     "with field and message",
			err:      &service.ValidationError{Field: "recipient", Message: "recipient is required"},
			expected: `validation error for "recipient": recipient is required`,
		},
		{
			name:     "without field - returns message only",
			err:      &service.ValidationError{Field: "", Message: "invalid request body"},
			expected: "invalid request body",
		},
		{
			name:     "empty message with field",
			err:      &service.ValidationError{Field: "type", Message: ""},
			expected: `validation error for "type": `,
		},
		{
			name:     "both empty",
			err:      &service.ValidationError{Field: "", Message: ""},
			expected: "",
		},
		{
			name:     "field with special characters",
			err:      &service.ValidationError{Field: "campaign.id", Message: "bad format"},
			expected: `validation error for "campaign.id": bad format`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestValidationError_implements_error(t *testing.T) {
	var err error = &service.ValidationError{Field: "x", Message: "bad"}
	assert.Error(t, err)
}

func TestUnavailableError(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	err := &service.UnavailableError{Op: "enqueue notification", Err: cause}

	assert.Equal(t, "enqueue notification: service temporarily unavailable", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, err.Error(), "6379", "store details stay out of the message")
}
