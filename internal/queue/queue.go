// Package queue provides the durable FIFO buffer of pending notifications
// that sits between ingestion and the dispatcher.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaharia-lab/notifyrelay/internal/model"
)

// DefaultName is the Redis list key used when no queue name is configured.
const DefaultName = "notification_queue"

var (
	// ErrEmpty is returned by Dequeue when nothing arrived within the wait.
	ErrEmpty = errors.New("queue empty")

	// ErrCorrupt is returned by Dequeue when the removed entry could not be
	// decoded. The entry is gone; the caller should log and move on.
	ErrCorrupt = errors.New("corrupt queue entry")

	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue closed")
)

// TransientError wraps a connectivity failure of the underlying store.
// Callers retry after a fixed delay instead of surfacing it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Queue is the contract between producers and the dispatcher.
//
// Entries are served in enqueue order and each entry is handed to at most
// one Dequeue caller.
type Queue interface {
	// Enqueue appends n to the tail of the queue.
	Enqueue(ctx context.Context, n model.Notification) error
	// Dequeue removes and returns the head entry, waiting up to wait for one
	// to arrive. It returns ErrEmpty when the wait elapses.
	Dequeue(ctx context.Context, wait time.Duration) (model.Notification, error)
	// Len returns the number of pending entries.
	Len(ctx context.Context) (int64, error)
	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
	// Close releases the backing store.
	Close() error
}
