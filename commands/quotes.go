package commands

import (
	"context"
	"fmt"

	"rfq-sync/domain"
)

func (s *Service) CreateQuote(ctx context.Context, actingAs domain.Actor, submissionID int64, amount float64, currency, notes string) (*domain.SubmissionQuote, error) {
	sub, err := s.submission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.OwnerUserID == actingAs.UserID {
		return nil, fmt.Errorf("quote on own submission %d: %w", submissionID, domain.ErrForbidden)
	}
	id, err := s.nextID(ctx, domain.QuoteSequence)
	if err != nil {
		return nil, err
	}
	q, err := domain.CreateSubmissionQuote(id, sub, actingAs, amount, currency, notes, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveQuote(ctx, q); err != nil {
		return nil, fmt.Errorf("save quote %d: %w", id, err)
	}
	s.commit(ctx, q)
	return q, nil
}

func (s *Service) ReviseQuote(ctx context.Context, actingAs domain.Actor, id int64, amount float64, notes string) (*domain.SubmissionQuote, error) {
	q, err := s.quote(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actingAs, q.SupplierUserID); err != nil {
		return nil, err
	}
	changed, err := q.Revise(actingAs, amount, notes, s.now())
	if err != nil || !changed {
		return q, err
	}
	if err := s.store.SaveQuote(ctx, q); err != nil {
		return nil, fmt.Errorf("save quote %d: %w", id, err)
	}
	s.commit(ctx, q)
	return q, nil
}

// SetQuoteStatus accepts or rejects a quote on behalf of the submission
// owner, or withdraws it on behalf of the supplier.
func (s *Service) SetQuoteStatus(ctx context.Context, actingAs domain.Actor, id int64, status domain.QuoteStatus) (*domain.SubmissionQuote, error) {
	q, err := s.quote(ctx, id)
	if err != nil {
		return nil, err
	}
	if status == domain.QuoteWithdrawn {
		err = authorize(actingAs, q.SupplierUserID)
	} else {
		var sub *domain.Submission
		if sub, err = s.submission(ctx, q.SubmissionID); err != nil {
			return nil, err
		}
		err = authorize(actingAs, sub.OwnerUserID)
	}
	if err != nil {
		return nil, err
	}
	changed, err := q.SetStatus(actingAs, status, s.now())
	if err != nil || !changed {
		return q, err
	}
	if err := s.store.SaveQuote(ctx, q); err != nil {
		return nil, fmt.Errorf("save quote %d: %w", id, err)
	}
	s.commit(ctx, q)
	return q, nil
}

// PostQuoteMessage adds a message to the quote thread. Only the supplier and
// the submission owner take part in a thread.
func (s *Service) PostQuoteMessage(ctx context.Context, actingAs domain.Actor, quoteID int64, body string) (*domain.QuoteMessage, error) {
	q, err := s.quote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	sub, err := s.submission(ctx, q.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actingAs, q.SupplierUserID, sub.OwnerUserID); err != nil {
		return nil, err
	}
	id, err := s.nextID(ctx, domain.QuoteMessageSequence)
	if err != nil {
		return nil, err
	}
	m, err := domain.PostQuoteMessage(id, q, actingAs, body, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveQuoteMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("save quote message %d: %w", id, err)
	}
	s.commit(ctx, m)
	return m, nil
}
