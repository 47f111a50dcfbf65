package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/shaharia-lab/notifyrelay/internal/metrics"
	"github.com/shaharia-lab/notifyrelay/internal/model"
	"github.com/shaharia-lab/notifyrelay/internal/queue"
	"github.com/shaharia-lab/notifyrelay/internal/storage"
)

const (
	maxRecipientLength = 320
	maxMessageLength   = 10000
)

var campaignIDRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// IngestRequest is a producer's notification request before validation.
type IngestRequest struct {
	Type       string
	Recipient  string
	Message    string
	CampaignID string
}

// NotificationService accepts notifications for delivery and exposes their
// recorded history.
type NotificationService interface {
	// Ingest validates req, assigns an id and enqueues the notification with
	// status queued.
	Ingest(ctx context.Context, req IngestRequest) (*model.Notification, error)
	// Get returns a notification from the history.
	Get(ctx context.Context, id string) (*model.Notification, error)
	// List returns notifications from the history, newest first.
	List(ctx context.Context, filter storage.HistoryFilter) ([]model.Notification, error)
}

// notificationServiceImpl implements NotificationService.
type notificationServiceImpl struct {
	queue     queue.Queue
	store     storage.HistoryStore
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewNotificationService creates a new NotificationService. publisher and m
// may be nil.
func NewNotificationService(
	q queue.Queue,
	store storage.HistoryStore,
	publisher EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) NotificationService {
	return &notificationServiceImpl{
		queue:     q,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

func (s *notificationServiceImpl) Ingest(ctx context.Context, req IngestRequest) (*model.Notification, error) {
	typ, err := validateIngest(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	n := model.Notification{
		ID:         s.newID(),
		Type:       typ,
		Recipient:  strings.TrimSpace(req.Recipient),
		Message:    req.Message,
		CampaignID: req.CampaignID,
		Status:     model.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Published before the entry becomes visible so observers always see
	// queued ahead of the dispatcher's sending. A failed enqueue leaves that
	// event without a follow-up.
	if s.publisher != nil {
		s.publisher.Publish(n)
	}

	if err := s.queue.Enqueue(ctx, n); err != nil {
		s.metrics.QueueError("enqueue")
		if queue.IsTransient(err) || errors.Is(err, queue.ErrClosed) {
			s.logger.Error("queue unavailable, rejecting notification", "error", err)
			return nil, &UnavailableError{Op: "enqueue notification", Err: err}
		}
		return nil, fmt.Errorf("enqueueing notification: %w", err)
	}

	s.metrics.NotificationIngested(string(n.Type))
	s.logger.Info("notification queued", "notification_id", n.ID,
		"type", string(n.Type), "campaign_id", n.CampaignID)
	return &n, nil
}

func validateIngest(req IngestRequest) (model.Type, error) {
	if strings.TrimSpace(req.Type) == "" {
		return "", &ValidationError{Field: "type", Message: "type is required"}
	}
	typ, err := model.ParseType(req.Type)
	if err != nil {
		return "", &ValidationError{Field: "type", Message: "type must be one of: email, sms"}
	}

	recipient := strings.TrimSpace(req.Recipient)
	switch {
	case recipient == "":
		return "", &ValidationError{Field: "recipient", Message: "recipient is required"}
	case len(recipient) > maxRecipientLength:
		return "", &ValidationError{Field: "recipient",
			Message: fmt.Sprintf("recipient must be at most %d characters", maxRecipientLength)}
	}
	if typ == model.TypeEmail {
		if _, err := mail.ParseAddress(recipient); err != nil {
			return "", &ValidationError{Field: "recipient", Message: "recipient must be a valid email address"}
		}
	}

	switch {
	case strings.TrimSpace(req.Message) == "":
		return "", &ValidationError{Field: "message", Message: "message is required"}
	case utf8.RuneCountInString(req.Message) > maxMessageLength:
		return "", &ValidationError{Field: "message",
			Message: fmt.Sprintf("message must be at most %d characters", maxMessageLength)}
	}

	if req.CampaignID == "" {
		return "", &ValidationError{Field: "campaignId", Message: "campaignId is required"}
	}
	if !campaignIDRE.MatchString(req.CampaignID) {
		return "", &ValidationError{Field: "campaignId",
			Message: "campaignId must be 1-64 letters, digits, '.', '_' or '-' and start with a letter or digit"}
	}
	return typ, nil
}

func (s *notificationServiceImpl) Get(ctx context.Context, id string) (*model.Notification, error) {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading notification: %w", err)
	}
	if n == nil {
		return nil, &NotFoundError{Resource: "notification", ID: id}
	}
	return n, nil
}

func (s *notificationServiceImpl) List(ctx context.Context, filter storage.HistoryFilter) ([]model.Notification, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &ValidationError{Field: "status",
			Message: "status must be one of: queued, sending, sent, failed"}
	}
	if filter.Limit < 0 || filter.Limit > storage.MaxListLimit {
		return nil, &ValidationError{Field: "limit",
			Message: fmt.Sprintf("limit must be between 1 and %d", storage.MaxListLimit)}
	}
	list, err := s.store.ListNotifications(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return list, nil
}
