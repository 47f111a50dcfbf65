package service

import "fmt"

// NotFoundError is returned when a requested resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ValidationError is returned when request data fails validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
	}
	return e.Message
}

// UnavailableError is returned when a backing dependency (the queue) cannot
// be reached. The request may be retried later.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: service temporarily unavailable", e.Op)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
