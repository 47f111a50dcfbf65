package storage

import (
	"context"
	"time"

	"github.com/shaharia-lab/notifyrelay/internal/model"
)

// DefaultListLimit and MaxListLimit bound ListNotifications.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// HistoryFilter narrows ListNotifications.
type HistoryFilter struct {
	// Status, when set, keeps only notifications currently in that status.
	Status model.Status
	// CampaignID, when set, keeps only notifications of that campaign.
	CampaignID string
	// Limit caps the result; 0 uses DefaultListLimit.
	Limit int
}

// HistoryStore is the audit record of notifications as observed through
// their status transitions.
type HistoryStore interface {
	// Upsert records the latest known state of n. A state older than the one
	// already stored (lower status, or any change to a terminal row) is
	// ignored.
	Upsert(ctx context.Context, n model.Notification) error
	// GetNotification returns the stored notification, or nil if unknown.
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	// ListNotifications returns notifications newest first.
	ListNotifications(ctx context.Context, f HistoryFilter) ([]model.Notification, error)
	// PruneTerminalBefore deletes sent/failed rows last updated before cutoff
	// and returns how many were removed.
	PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
