package domain

import (
	"fmt"
	"strings"
	"time"
)

type QuoteStatus string

const (
	QuotePending   QuoteStatus = "Pending"
	QuoteAccepted  QuoteStatus = "Accepted"
	QuoteRejected  QuoteStatus = "Rejected"
	QuoteWithdrawn QuoteStatus = "Withdrawn"
)

// QuoteStatuses lists every quote status in display order.
var QuoteStatuses = []QuoteStatus{QuotePending, QuoteAccepted, QuoteRejected, QuoteWithdrawn}

// SubmissionQuote is a supplier's offer against a submission.
type SubmissionQuote struct {
	Recorder `json:"-"`

	ID             int64       `json:"id"`
	SubmissionID   int64       `json:"submissionId"`
	SupplierUserID string      `json:"supplierUserId"`
	Amount         float64     `json:"amount"`
	Currency       string      `json:"currency"`
	Notes          string      `json:"notes"`
	Status         QuoteStatus `json:"status"`
	Created        time.Time   `json:"created"`
	Modified       time.Time   `json:"modified"`
	CreatedBy      string      `json:"createdBy"`
	ModifiedBy     string      `json:"modifiedBy"`
}

// CreateSubmissionQuote creates a pending quote for an open submission and
// records SubmissionQuoteCreated.
func CreateSubmissionQuote(id int64, sub *Submission, actor Actor, amount float64, currency, notes string, now time.Time) (*SubmissionQuote, error) {
	if sub == nil {
		return nil, fmt.Errorf("quote submission: %w", ErrNotFound)
	}
	if sub.Status != SubmissionOpen {
		return nil, fmt.Errorf("quote on closed submission %d: %w", sub.ID, ErrInvalidTransition)
	}
	if amount < 0 {
		return nil, fmt.Errorf("quote amount: %w", ErrInvalidInput)
	}
	if actor.UserID == "" {
		return nil, fmt.Errorf("quote supplier: %w", ErrInvalidInput)
	}
	q := &SubmissionQuote{
		ID:             id,
		SubmissionID:   sub.ID,
		SupplierUserID: actor.UserID,
		Amount:         amount,
		Currency:       strings.ToUpper(strings.TrimSpace(currency)),
		Notes:          notes,
		Status:         QuotePending,
		Created:        now.UTC(),
		Modified:       now.UTC(),
		CreatedBy:      actor.String(),
		ModifiedBy:     actor.String(),
	}
	q.raise(SubmissionQuoteCreated, actor, now)
	return q, nil
}

// Revise changes the price or notes of a pending quote.
func (q *SubmissionQuote) Revise(actor Actor, amount float64, notes string, now time.Time) (bool, error) {
	if q.Status != QuotePending {
		return false, fmt.Errorf("revise quote %d in status %s: %w", q.ID, q.Status, ErrInvalidTransition)
	}
	if amount < 0 {
		return false, fmt.Errorf("quote amount: %w", ErrInvalidInput)
	}
	if amount == q.Amount && notes == q.Notes {
		return false, nil
	}
	q.Amount = amount
	q.Notes = notes
	q.touch(actor, now)
	q.raise(SubmissionQuoteUpdated, actor, now)
	return true, nil
}

// SetStatus moves a pending quote to a terminal status.
func (q *SubmissionQuote) SetStatus(actor Actor, status QuoteStatus, now time.Time) (bool, error) {
	if status == q.Status {
		return false, nil
	}
	if q.Status != QuotePending {
		return false, fmt.Errorf("quote %d %s -> %s: %w", q.ID, q.Status, status, ErrInvalidTransition)
	}
	switch status {
	case QuoteAccepted, QuoteRejected, QuoteWithdrawn:
	default:
		return false, fmt.Errorf("quote %d %s -> %s: %w", q.ID, q.Status, status, ErrInvalidTransition)
	}
	q.Status = status
	q.touch(actor, now)
	q.raise(SubmissionQuoteUpdated, actor, now)
	return true, nil
}

func (q *SubmissionQuote) touch(actor Actor, now time.Time) {
	q.Modified = now.UTC()
	q.ModifiedBy = actor.String()
}

func (q *SubmissionQuote) raise(kind EventKind, actor Actor, now time.Time) {
	q.record(Event{
		Kind:         kind,
		EntityID:     q.ID,
		UserID:       q.SupplierUserID,
		SubmissionID: q.SubmissionID,
		QuoteID:      q.ID,
		Actor:        actor,
		OccurredAt:   now.UTC(),
	})
}

// QuoteMessage is a single message exchanged on a quote thread.
type QuoteMessage struct {
	Recorder `json:"-"`

	ID           int64     `json:"id"`
	QuoteID      int64     `json:"quoteId"`
	SubmissionID int64     `json:"submissionId"`
	SenderUserID string    `json:"senderUserId"`
	Body         string    `json:"body"`
	Created      time.Time `json:"created"`
}

// PostQuoteMessage creates a message on the quote thread and records QuoteMessageCreated.
func PostQuoteMessage(id int64, quote *SubmissionQuote, actor Actor, body string, now time.Time) (*QuoteMessage, error) {
	if quote == nil {
		return nil, fmt.Errorf("message quote: %w", ErrNotFound)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("message body: %w", ErrInvalidInput)
	}
	if actor.UserID == "" {
		return nil, fmt.Errorf("message sender: %w", ErrInvalidInput)
	}
	m := &QuoteMessage{
		ID:           id,
		QuoteID:      quote.ID,
		SubmissionID: quote.SubmissionID,
		SenderUserID: actor.UserID,
		Body:         body,
		Created:      now.UTC(),
	}
	m.record(Event{
		Kind:         QuoteMessageCreated,
		EntityID:     m.ID,
		UserID:       m.SenderUserID,
		SubmissionID: m.SubmissionID,
		QuoteID:      m.QuoteID,
		Actor:        actor,
		OccurredAt:   now.UTC(),
	})
	return m, nil
}
