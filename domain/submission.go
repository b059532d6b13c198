package domain

import (
	"fmt"
	"strings"
	"time"
)

type SubmissionStatus string

const (
	SubmissionOpen   SubmissionStatus = "Open"
	SubmissionClosed SubmissionStatus = "Closed"
)

// Submission is a buyer's request for quotes.
type Submission struct {
	Recorder `json:"-"`

	ID          int64            `json:"id"`
	OwnerUserID string           `json:"ownerUserId"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Status      SubmissionStatus `json:"status"`
	Deadline    time.Time        `json:"deadline"`
	Created     time.Time        `json:"created"`
	Modified    time.Time        `json:"modified"`
	CreatedBy   string           `json:"createdBy"`
	ModifiedBy  string           `json:"modifiedBy"`
}

// SubmissionChanges lists the optional fields of a submission update.
type SubmissionChanges struct {
	Title       *string
	Description *string
	Deadline    *time.Time
}

// OpenSubmission creates an open submission and records SubmissionCreated.
func OpenSubmission(id int64, actor Actor, title, description string, deadline, now time.Time) (*Submission, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("submission title: %w", ErrInvalidInput)
	}
	if actor.UserID == "" {
		return nil, fmt.Errorf("submission owner: %w", ErrInvalidInput)
	}
	s := &Submission{
		ID:          id,
		OwnerUserID: actor.UserID,
		Title:       title,
		Description: description,
		Status:      SubmissionOpen,
		Deadline:    deadline.UTC(),
		Created:     now.UTC(),
		Modified:    now.UTC(),
		CreatedBy:   actor.String(),
		ModifiedBy:  actor.String(),
	}
	s.raise(SubmissionCreated, actor, now)
	return s, nil
}

// Update applies the changes and records SubmissionUpdated when anything changed.
func (s *Submission) Update(actor Actor, ch SubmissionChanges, now time.Time) (bool, error) {
	if s.Status == SubmissionClosed {
		return false, fmt.Errorf("update closed submission %d: %w", s.ID, ErrInvalidTransition)
	}
	changed := false
	if ch.Title != nil {
		t := strings.TrimSpace(*ch.Title)
		if t == "" {
			return false, fmt.Errorf("submission title: %w", ErrInvalidInput)
		}
		if t != s.Title {
			s.Title = t
			changed = true
		}
	}
	if ch.Description != nil && *ch.Description != s.Description {
		s.Description = *ch.Description
		changed = true
	}
	if ch.Deadline != nil && !ch.Deadline.UTC().Equal(s.Deadline) {
		s.Deadline = ch.Deadline.UTC()
		changed = true
	}
	if !changed {
		return false, nil
	}
	s.touch(actor, now)
	s.raise(SubmissionUpdated, actor, now)
	return true, nil
}

// Close moves an open submission to Closed. Closing a closed submission is a no-op.
func (s *Submission) Close(actor Actor, now time.Time) bool {
	if s.Status == SubmissionClosed {
		return false
	}
	s.Status = SubmissionClosed
	s.touch(actor, now)
	s.raise(SubmissionUpdated, actor, now)
	return true
}

// MarkDeleted records SubmissionDeleted; the store removes the row.
func (s *Submission) MarkDeleted(actor Actor, now time.Time) {
	s.raise(SubmissionDeleted, actor, now)
}

// Expired reports whether an open submission's deadline has passed.
func (s *Submission) Expired(now time.Time) bool {
	return s.Status == SubmissionOpen && !s.Deadline.IsZero() && now.After(s.Deadline)
}

func (s *Submission) touch(actor Actor, now time.Time) {
	s.Modified = now.UTC()
	s.ModifiedBy = actor.String()
}

func (s *Submission) raise(kind EventKind, actor Actor, now time.Time) {
	s.record(Event{
		Kind:         kind,
		EntityID:     s.ID,
		UserID:       s.OwnerUserID,
		SubmissionID: s.ID,
		Actor:        actor,
		OccurredAt:   now.UTC(),
	})
}
