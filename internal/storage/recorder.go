package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaharia-lab/notifyrelay/internal/broadcast"
)

const (
	recorderBuffer       = 1024
	recorderWriteTimeout = 5 * time.Second
)

// EventSource is the subscription side of the broadcaster.
type EventSource interface {
	Subscribe(buffer int) (*broadcast.Subscription, error)
}

// Recorder persists every published status transition into a HistoryStore.
type Recorder struct {
	store  HistoryStore
	logger *slog.Logger
}

// NewRecorder creates a Recorder writing into store.
func NewRecorder(store HistoryStore, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.With("component", "history_recorder")}
}

// Run subscribes to src and records events until the broadcaster stops or
// ctx is cancelled. If the recorder falls behind and is evicted it
// subscribes again; transitions published in between are lost.
func (r *Recorder) Run(ctx context.Context, src EventSource) {
	for {
		sub, err := src.Subscribe(recorderBuffer)
		if err != nil {
			if !errors.Is(err, broadcast.ErrClosed) {
				r.logger.Error("subscribing to broadcaster", "error", err)
			}
			return
		}
		r.drain(sub)
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("history recorder fell behind and was evicted, resubscribing")
	}
}

// drain records events until the subscription is closed. Buffered events
// are still written after shutdown begins.
func (r *Recorder) drain(sub *broadcast.Subscription) {
	for ev := range sub.Events() {
		ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
		if err := r.store.Upsert(ctx, ev.Notification); err != nil {
			r.logger.Error("recording notification", "notification_id", ev.Notification.ID,
				"status", string(ev.Notification.Status), "error", err)
		}
		cancel()
	}
}
