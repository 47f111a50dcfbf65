package queue

import (
	"context"
	"sync"
	"time"

	"github.com/shaharia-lab/notifyrelay/internal/model"
)

// MemoryQueue is an in-process Queue. It is not durable and is meant for
// tests and single-process development runs.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []model.Notification
	notify chan struct{}
	closed bool
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

// Enqueue appends n to the tail.
func (q *MemoryQueue) Enqueue(_ context.Context, n model.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, n)
	q.signal()
	return nil
}

// signal wakes one waiting Dequeue. Callers must hold q.mu.
func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue removes the head entry, waiting up to wait for one to arrive.
func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (model.Notification, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return model.Notification{}, ErrClosed
		}
		if len(q.items) > 0 {
			n := q.items[0]
			q.items[0] = model.Notification{}
			q.items = q.items[1:]
			if len(q.items) > 0 {
				// Pass the wake-up on to another waiter.
				q.signal()
			}
			q.mu.Unlock()
			return n, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.Notification{}, ctx.Err()
		case <-timer.C:
			return model.Notification{}, ErrEmpty
		case <-q.notify:
		}
	}
}

// Len returns the number of pending entries.
func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Ping always succeeds unless the queue is closed.
func (q *MemoryQueue) Ping(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

// Close drops pending entries and wakes every waiter.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.items = nil
	close(q.notify)
	return nil
}
