// Package commands applies marketplace mutations to the write model and hands
// the resulting events to the dispatcher once the write has committed.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"rfq-sync/domain"
)

type dispatcher interface {
	Dispatch(ctx context.Context, events ...domain.Event) error
}

type publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// Service runs commands. Every method takes the acting identity explicitly.
type Service struct {
	store    domain.Store
	dispatch dispatcher
	bus      publisher
	logger   log.FieldLogger
	now      func() time.Time
	newCode  func() string
}

func New(store domain.Store, d dispatcher, p publisher, logger log.FieldLogger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:    store,
		dispatch: d,
		bus:      p,
		logger:   logger,
		now:      time.Now,
		newCode:  uuid.NewString,
	}
}

type recorder interface {
	PullEvents() []domain.Event
}

// commit dispatches the events raised by the saved entities. Handler failures
// are logged and leave the write in place.
func (s *Service) commit(ctx context.Context, entities ...recorder) {
	var events []domain.Event
	for _, e := range entities {
		events = append(events, e.PullEvents()...)
	}
	if len(events) == 0 || s.dispatch == nil {
		return
	}
	if err := s.dispatch.Dispatch(ctx, events...); err != nil {
		s.logger.WithError(err).WithField("events", len(events)).Warn("post-commit handlers failed")
	}
}

func authorize(actingAs domain.Actor, owners ...string) error {
	if actingAs.System {
		return nil
	}
	for _, o := range owners {
		if o != "" && o == actingAs.UserID {
			return nil
		}
	}
	return domain.ErrForbidden
}

func (s *Service) submission(ctx context.Context, id int64) (*domain.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load submission %d: %w", id, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %d: %w", id, domain.ErrNotFound)
	}
	return sub, nil
}

func (s *Service) quote(ctx context.Context, id int64) (*domain.SubmissionQuote, error) {
	q, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load quote %d: %w", id, err)
	}
	if q == nil {
		return nil, fmt.Errorf("quote %d: %w", id, domain.ErrNotFound)
	}
	return q, nil
}

func (s *Service) nextID(ctx context.Context, seq string) (int64, error) {
	id, err := s.store.NextID(ctx, seq)
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", seq, err)
	}
	return id, nil
}
