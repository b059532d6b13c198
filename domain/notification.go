package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "Unread"
	NotificationRead   NotificationStatus = "Read"
)

type NotificationType string

const (
	NotificationSubmissionPublished NotificationType = "SubmissionPublished"
	NotificationQuoteReceived       NotificationType = "QuoteReceived"
	NotificationMessageReceived     NotificationType = "MessageReceived"
)

// Notification is the durable record of an alert addressed to one user.
// Its only mutation is the Unread -> Read transition.
type Notification struct {
	Recorder `json:"-"`

	ID          int64              `json:"id"`
	UserID      string             `json:"userId"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Type        NotificationType   `json:"type"`
	Status      NotificationStatus `json:"status"`
	Created     time.Time          `json:"created"`
	Modified    time.Time          `json:"modified"`
	Data        json.RawMessage    `json:"data,omitempty"`
}

// CreateNotification creates an unread notification and records NotificationCreated.
func CreateNotification(id int64, userID, title, description string, typ NotificationType, data json.RawMessage, actor Actor, now time.Time) (*Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("notification recipient: %w", ErrInvalidInput)
	}
	n := &Notification{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: description,
		Type:        typ,
		Status:      NotificationUnread,
		Created:     now.UTC(),
		Modified:    now.UTC(),
		Data:        data,
	}
	n.record(Event{
		Kind:         NotificationCreated,
		EntityID:     n.ID,
		UserID:       n.UserID,
		Actor:        actor,
		OccurredAt:   now.UTC(),
		Notification: n.Snapshot(),
	})
	return n, nil
}

// MarkRead transitions an unread notification to Read and records
// NotificationStatusUpdated. Marking a read notification is a no-op.
func (n *Notification) MarkRead(actor Actor, now time.Time) bool {
	if n.Status == NotificationRead {
		return false
	}
	n.Status = NotificationRead
	n.Modified = now.UTC()
	n.record(Event{
		Kind:       NotificationStatusUpdated,
		EntityID:   n.ID,
		UserID:     n.UserID,
		Actor:      actor,
		OccurredAt: now.UTC(),
	})
	return true
}

func (n *Notification) Snapshot() NotificationSnapshot {
	data := make(json.RawMessage, len(n.Data))
	copy(data, n.Data)
	return NotificationSnapshot{
		ID:          n.ID,
		UserID:      n.UserID,
		Title:       n.Title,
		Description: n.Description,
		Type:        n.Type,
		Status:      n.Status,
		Created:     n.Created,
		Data:        data,
	}
}

// NotificationDraft holds the caller-supplied fields of a new notification.
type NotificationDraft struct {
	UserID      string
	Title       string
	Description string
	Type        NotificationType
	Data        json.RawMessage
}
