package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/notifyrelay/internal/model"
	"github.com/shaharia-lab/notifyrelay/internal/service"
	"github.com/shaharia-lab/notifyrelay/internal/storage"
)

// MockNotificationService is a mock implementation of service.NotificationService.
type MockNotificationService struct {
	mock.Mock
}

//nolint:revive
func (m *MockNotificationService) Ingest(ctx context.Context, req service.IngestRequest) (*model.Notification, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Notification), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) Get(ctx context.Context, id string) (*model.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Notification), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) List(ctx context.Context, filter storage.HistoryFilter) ([]model.Notification, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Notification), args.Error(1)
}
