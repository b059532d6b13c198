package search

import (
	"strconv"
	"strings"
	"time"
)

// Index names.
const (
	SubmissionsIndex   = "submissions"
	QuotesIndex        = "submission-quotes"
	QuoteMessagesIndex = "quote-messages"
	NotificationsIndex = "notifications"
)

// Document is a flattened projection stored under its entity id.
type Document interface {
	DocumentID() int64
	// SearchText is the text matched by full-text queries.
	SearchText() string
	// Keywords are the exact-match filter fields.
	Keywords() map[string]string
	CreatedAt() time.Time
}

// SubmissionDocument projects a submission with its quote statistics.
type SubmissionDocument struct {
	ID                 int64          `json:"id"`
	OwnerUserID        string         `json:"ownerUserId"`
	OwnerCompanyName   string         `json:"ownerCompanyName"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Status             string         `json:"status"`
	Deadline           time.Time      `json:"deadline"`
	Created            time.Time      `json:"created"`
	Modified           time.Time      `json:"modified"`
	QuoteCount         int            `json:"quoteCount"`
	QuoteCountByStatus map[string]int `json:"quoteCountByStatus"`
}

func (d SubmissionDocument) DocumentID() int64    { return d.ID }
func (d SubmissionDocument) CreatedAt() time.Time { return d.Created }
func (d SubmissionDocument) SearchText() string {
	return strings.Join([]string{d.Title, d.Description, d.OwnerCompanyName}, " ")
}
func (d SubmissionDocument) Keywords() map[string]string {
	return map[string]string{
		"ownerUserId": d.OwnerUserID,
		"status":      d.Status,
	}
}

// LastMessage is the newest message on a quote thread.
type LastMessage struct {
	ID           int64     `json:"id"`
	SenderUserID string    `json:"senderUserId"`
	Body         string    `json:"body"`
	Created      time.Time `json:"created"`
}

// QuoteDocument projects a quote joined with its submission, supplier and thread.
type QuoteDocument struct {
	ID                    int64        `json:"id"`
	SubmissionID          int64        `json:"submissionId"`
	SubmissionTitle       string       `json:"submissionTitle"`
	SubmissionOwnerUserID string       `json:"submissionOwnerUserId"`
	SupplierUserID        string       `json:"supplierUserId"`
	SupplierCompanyName   string       `json:"supplierCompanyName"`
	Amount                float64      `json:"amount"`
	Currency              string       `json:"currency"`
	Notes                 string       `json:"notes"`
	Status                string       `json:"status"`
	Created               time.Time    `json:"created"`
	Modified              time.Time    `json:"modified"`
	MessageCount          int          `json:"messageCount"`
	LastMessage           *LastMessage `json:"lastMessage,omitempty"`
}

func (d QuoteDocument) DocumentID() int64    { return d.ID }
func (d QuoteDocument) CreatedAt() time.Time { return d.Created }
func (d QuoteDocument) SearchText() string {
	parts := []string{d.SubmissionTitle, d.SupplierCompanyName, d.Notes}
	if d.LastMessage != nil {
		parts = append(parts, d.LastMessage.Body)
	}
	return strings.Join(parts, " ")
}
func (d QuoteDocument) Keywords() map[string]string {
	return map[string]string{
		"submissionId":          strconv.FormatInt(d.SubmissionID, 10),
		"submissionOwnerUserId": d.SubmissionOwnerUserID,
		"supplierUserId":        d.SupplierUserID,
		"status":                d.Status,
		"currency":              d.Currency,
	}
}

// QuoteMessageDocument projects a single thread message.
type QuoteMessageDocument struct {
	ID           int64     `json:"id"`
	QuoteID      int64     `json:"quoteId"`
	SubmissionID int64     `json:"submissionId"`
	SenderUserID string    `json:"senderUserId"`
	Body         string    `json:"body"`
	Created      time.Time `json:"created"`
}

func (d QuoteMessageDocument) DocumentID() int64    { return d.ID }
func (d QuoteMessageDocument) CreatedAt() time.Time { return d.Created }
func (d QuoteMessageDocument) SearchText() string   { return d.Body }
func (d QuoteMessageDocument) Keywords() map[string]string {
	return map[string]string{
		"quoteId":      strconv.FormatInt(d.QuoteID, 10),
		"submissionId": strconv.FormatInt(d.SubmissionID, 10),
		"senderUserId": d.SenderUserID,
	}
}

// NotificationDocument projects a notification including its read status.
type NotificationDocument struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

func (d NotificationDocument) DocumentID() int64    { return d.ID }
func (d NotificationDocument) CreatedAt() time.Time { return d.Created }
func (d NotificationDocument) SearchText() string {
	return d.Title + " " + d.Description
}
func (d NotificationDocument) Keywords() map[string]string {
	return map[string]string{
		"userId": d.UserID,
		"type":   d.Type,
		"status": d.Status,
	}
}
