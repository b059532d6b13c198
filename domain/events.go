package domain

import (
	"encoding/json"
	"time"
)

// EventKind discriminates domain events.
type EventKind string

const (
	SubmissionCreated         EventKind = "submission-created"
	SubmissionUpdated         EventKind = "submission-updated"
	SubmissionDeleted         EventKind = "submission-deleted"
	SubmissionQuoteCreated    EventKind = "submission-quote-created"
	SubmissionQuoteUpdated    EventKind = "submission-quote-updated"
	QuoteMessageCreated       EventKind = "quote-message-created"
	NotificationCreated       EventKind = "notification-created"
	NotificationStatusUpdated EventKind = "notification-status-updated"
	UserCompanyDetailsCreated EventKind = "user-company-details-created"
	UserCompanyDetailsUpdated EventKind = "user-company-details-updated"
)

// Event is a fact about a committed state change. It carries ids and
// flattened values only, never a reference to the entity that raised it.
type Event struct {
	Kind         EventKind
	EntityID     int64
	UserID       string
	SubmissionID int64
	QuoteID      int64
	Actor        Actor
	OccurredAt   time.Time

	// Set for NotificationCreated.
	Notification NotificationSnapshot
	// Set for UserCompanyDetailsCreated and UserCompanyDetailsUpdated.
	User UserSnapshot
}

// NotificationSnapshot is the notification state at the time it was created.
type NotificationSnapshot struct {
	ID          int64
	UserID      string
	Title       string
	Description string
	Type        NotificationType
	Status      NotificationStatus
	Created     time.Time
	Data        json.RawMessage
}

// UserSnapshot carries the user fields needed by downstream handlers.
type UserSnapshot struct {
	UserID                string
	FirstName             string
	LastName              string
	Email                 string
	CompanyName           string
	EmailVerificationCode string
}

// Recorder queues events raised by an entity until the unit of work commits.
type Recorder struct {
	pending []Event
}

func (r *Recorder) record(ev Event) {
	r.pending = append(r.pending, ev)
}

// PendingEvents returns a copy of the queued events without clearing them.
func (r *Recorder) PendingEvents() []Event {
	out := make([]Event, len(r.pending))
	copy(out, r.pending)
	return out
}

// PullEvents returns the queued events and clears the queue.
func (r *Recorder) PullEvents() []Event {
	out := r.pending
	r.pending = nil
	return out
}
