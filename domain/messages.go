package domain

import (
	"encoding/json"
	"time"
)

// MessageKind tags a cross-process message.
type MessageKind string

const (
	IndexSubmissionKind                   MessageKind = "IndexSubmission"
	IndexSubmissionQuoteKind              MessageKind = "IndexSubmissionQuote"
	IndexQuoteMessageKind                 MessageKind = "IndexQuoteMessage"
	IndexNotificationKind                 MessageKind = "IndexNotification"
	RebuildSubmissionIndexKind            MessageKind = "RebuildSubmissionIndex"
	RebuildQuoteIndexKind                 MessageKind = "RebuildQuoteIndex"
	RebuildQuoteMessageIndexKind          MessageKind = "RebuildQuoteMessageIndex"
	NewSubmissionKind                     MessageKind = "NewSubmission"
	NewSubmissionQuoteKind                MessageKind = "NewSubmissionQuote"
	NewQuoteMessageKind                   MessageKind = "NewQuoteMessage"
	NewNotificationKind                   MessageKind = "NewNotification"
	UserCreatedKind                       MessageKind = "UserCreated"
	NotificationsMarkAllAsReadForUserKind MessageKind = "NotificationsMarkAllAsReadForUser"
)

// Message is a payload that can be published on the bus. Payloads carry ids
// and scalar values only.
type Message interface {
	MessageKind() MessageKind
}

type IndexSubmission struct {
	SubmissionID int64 `json:"submissionId"`
}

type IndexSubmissionQuote struct {
	QuoteID int64 `json:"quoteId"`
}

type IndexQuoteMessage struct {
	QuoteMessageID int64 `json:"quoteMessageId"`
}

type IndexNotification struct {
	NotificationID int64 `json:"notificationId"`
}

type RebuildSubmissionIndex struct{}

type RebuildQuoteIndex struct{}

type RebuildQuoteMessageIndex struct{}

// NewSubmission is consumed by the alerting consumer.
type NewSubmission struct {
	SubmissionID int64 `json:"submissionId"`
}

// NewSubmissionQuote is consumed by the alerting consumer.
type NewSubmissionQuote struct {
	QuoteID int64 `json:"quoteId"`
}

// NewQuoteMessage is consumed by the alerting consumer.
type NewQuoteMessage struct {
	QuoteMessageID int64 `json:"quoteMessageId"`
}

// NewNotification is relayed to the recipient's live connections.
type NewNotification struct {
	ID          int64              `json:"id"`
	UserID      string             `json:"userId"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Type        NotificationType   `json:"type"`
	Status      NotificationStatus `json:"status"`
	Created     time.Time          `json:"created"`
	Data        json.RawMessage    `json:"data,omitempty"`
}

// UserCreated triggers the e-mail verification flow.
type UserCreated struct {
	FirstName             string `json:"firstName"`
	LastName              string `json:"lastName"`
	Email                 string `json:"email"`
	EmailVerificationCode string `json:"emailVerificationCode"`
	UID                   string `json:"uid"`
}

// NotificationsMarkAllAsReadForUser marks the listed notifications read.
type NotificationsMarkAllAsReadForUser struct {
	NotificationIDs []int64 `json:"notificationIds"`
}

func (IndexSubmission) MessageKind() MessageKind          { return IndexSubmissionKind }
func (IndexSubmissionQuote) MessageKind() MessageKind     { return IndexSubmissionQuoteKind }
func (IndexQuoteMessage) MessageKind() MessageKind        { return IndexQuoteMessageKind }
func (IndexNotification) MessageKind() MessageKind        { return IndexNotificationKind }
func (RebuildSubmissionIndex) MessageKind() MessageKind   { return RebuildSubmissionIndexKind }
func (RebuildQuoteIndex) MessageKind() MessageKind        { return RebuildQuoteIndexKind }
func (RebuildQuoteMessageIndex) MessageKind() MessageKind { return RebuildQuoteMessageIndexKind }
func (NewSubmission) MessageKind() MessageKind            { return NewSubmissionKind }
func (NewSubmissionQuote) MessageKind() MessageKind       { return NewSubmissionQuoteKind }
func (NewQuoteMessage) MessageKind() MessageKind          { return NewQuoteMessageKind }
func (NewNotification) MessageKind() MessageKind          { return NewNotificationKind }
func (UserCreated) MessageKind() MessageKind              { return UserCreatedKind }
func (NotificationsMarkAllAsReadForUser) MessageKind() MessageKind {
	return NotificationsMarkAllAsReadForUserKind
}

// NewNotificationMessage builds the push payload from a created notification.
func NewNotificationMessage(n NotificationSnapshot) NewNotification {
	return NewNotification{
		ID:          n.ID,
		UserID:      n.UserID,
		Title:       n.Title,
		Description: n.Description,
		Type:        n.Type,
		Status:      n.Status,
		Created:     n.Created,
		Data:        n.Data,
	}
}
