package service

import "github.com/shaharia-lab/notifyrelay/internal/model"

// EventPublisher is the interface for publishing notification status changes.
// Services use this interface to emit events without depending on the
// concrete broadcaster.
type EventPublisher interface {
	Publish(n model.Notification)
}
