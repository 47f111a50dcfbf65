// Package model defines the notification record that flows through the
// relay: ingestion, queue, dispatcher, broadcaster and history store all
// share this type.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the delivery channel of a notification.
type Type string

// Supported notification types.
const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
)

// ParseType normalizes s (case-insensitive, surrounding space ignored) into a
// known Type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeEmail, TypeSMS:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported notification type %q", s)
	}
}

// Status is the lifecycle state of a notification.
type Status string

// Notification statuses. Order: queued < sending < {sent, failed}.
const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ErrInvalidTransition is returned when a status change would regress, skip
// sending, or leave a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusSending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a notification in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusSending
	case StatusSending:
		return next == StatusSent || next == StatusFailed
	default:
		return false
	}
}

// Notification is the unit of work relayed to the delivery provider.
type Notification struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Recipient  string    `json:"recipient"`
	Message    string    `json:"message"`
	CampaignID string    `json:"campaignId"`
	Status     Status    `json:"status"`
	Attempt    int       `json:"attempt"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Transition moves n to the next status and stamps UpdatedAt. Reason is
// replaced with the given value (empty clears it).
func (n *Notification) Transition(next Status, reason string, now time.Time) error {
	if !n.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, next)
	}
	n.Status = next
	n.Reason = reason
	n.UpdatedAt = now
	return nil
}
