package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"rfq-sync/domain"
)

func (s *Service) CreateSubmission(ctx context.Context, actingAs domain.Actor, title, description string, deadline time.Time) (*domain.Submission, error) {
	id, err := s.nextID(ctx, domain.SubmissionSequence)
	if err != nil {
		return nil, err
	}
	sub, err := domain.OpenSubmission(id, actingAs, title, description, deadline, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("save submission %d: %w", id, err)
	}
	s.commit(ctx, sub)
	return sub, nil
}

func (s *Service) UpdateSubmission(ctx context.Context, actingAs domain.Actor, id int64, ch domain.SubmissionChanges) (*domain.Submission, error) {
	sub, err := s.submission(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actingAs, sub.OwnerUserID); err != nil {
		return nil, err
	}
	changed, err := sub.Update(actingAs, ch, s.now())
	if err != nil || !changed {
		return sub, err
	}
	if err := s.store.SaveSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("save submission %d: %w", id, err)
	}
	s.commit(ctx, sub)
	return sub, nil
}

// CloseSubmission closes an open submission. Closing a closed one is a no-op.
func (s *Service) CloseSubmission(ctx context.Context, actingAs domain.Actor, id int64) error {
	sub, err := s.submission(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actingAs, sub.OwnerUserID); err != nil {
		return err
	}
	return s.close(ctx, actingAs, sub)
}

func (s *Service) close(ctx context.Context, actingAs domain.Actor, sub *domain.Submission) error {
	if !sub.Close(actingAs, s.now()) {
		return nil
	}
	if err := s.store.SaveSubmission(ctx, sub); err != nil {
		return fmt.Errorf("save submission %d: %w", sub.ID, err)
	}
	s.commit(ctx, sub)
	return nil
}

func (s *Service) DeleteSubmission(ctx context.Context, actingAs domain.Actor, id int64) error {
	sub, err := s.submission(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actingAs, sub.OwnerUserID); err != nil {
		return err
	}
	sub.MarkDeleted(actingAs, s.now())
	if err := s.store.DeleteSubmission(ctx, id); err != nil {
		return fmt.Errorf("delete submission %d: %w", id, err)
	}
	s.commit(ctx, sub)
	return nil
}

// CloseExpiredSubmissions closes every open submission whose deadline has
// passed and returns how many were closed. A failure on one submission does
// not stop the others.
func (s *Service) CloseExpiredSubmissions(ctx context.Context, actingAs domain.Actor) (int, error) {
	subs, err := s.store.ListSubmissions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list submissions: %w", err)
	}
	now := s.now()
	closed := 0
	var errs []error
	for i := range subs {
		sub := &subs[i]
		if !sub.Expired(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		if err := s.close(ctx, actingAs, sub); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	s.logger.WithFields(log.Fields{"closed": closed, "failed": len(errs), "actor": actingAs.String()}).Info("expired submissions closed")
	return closed, errors.Join(errs...)
}
