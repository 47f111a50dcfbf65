package delivery

import "fmt"

// Kind classifies the result of a single delivery attempt.
type Kind int

// Outcome kinds.
const (
	KindSuccess Kind = iota
	KindRetryable
	KindFatal
	KindTimeout
	// KindBreakerOpen is produced by the dispatcher when the circuit breaker
	// refused admission; the client was never called.
	KindBreakerOpen
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	case KindTimeout:
		return "timeout"
	case KindBreakerOpen:
		return "breaker_open"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the classified result of one Deliver call.
type Outcome struct {
	Kind Kind
	// StatusCode is the provider's HTTP status, 0 when no response arrived.
	StatusCode int
	// Reason describes a failure. Empty on success.
	Reason string
	// Payload is the provider's response body on success.
	Payload []byte
}

// Success builds a successful outcome.
func Success(status int, payload []byte) Outcome {
	return Outcome{Kind: KindSuccess, StatusCode: status, Payload: payload}
}

// Retryable builds a failure worth retrying.
func Retryable(status int, reason string) Outcome {
	return Outcome{Kind: KindRetryable, StatusCode: status, Reason: reason}
}

// Fatal builds a failure that must not be retried.
func Fatal(status int, reason string) Outcome {
	return Outcome{Kind: KindFatal, StatusCode: status, Reason: reason}
}

// Timeout builds an outcome for a call that did not complete in time.
func Timeout(reason string) Outcome {
	return Outcome{Kind: KindTimeout, Reason: reason}
}

// Retryable reports whether the retry policy applies to o.
func (o Outcome) Retryable() bool {
	return o.Kind == KindRetryable || o.Kind == KindTimeout
}

// Unhealthy reports whether o counts against the provider's health. A fatal
// outcome with a response (a 4xx) says the request was bad, not the provider;
// a fatal outcome without one (connection refused) does count.
func (o Outcome) Unhealthy() bool {
	switch o.Kind {
	case KindRetryable, KindTimeout:
		return true
	case KindFatal:
		return o.StatusCode == 0
	default:
		return false
	}
}
