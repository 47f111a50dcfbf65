package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/notifyrelay/internal/model"
	"github.com/shaharia-lab/notifyrelay/internal/storage"
)

// MockHistoryStore is a mock implementation of storage.HistoryStore.
type MockHistoryStore struct {
	mock.Mock
}

//nolint:revive
func (m *MockHistoryStore) Upsert(ctx context.Context, n model.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

//nolint:revive
func (m *MockHistoryStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Notification), args.Error(1)
}

//nolint:revive
func (m *MockHistoryStore) ListNotifications(ctx context.Context, f storage.HistoryFilter) ([]model.Notification, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Notification), args.Error(1)
}

//nolint:revive
func (m *MockHistoryStore) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
