package pipeline

import (
	"context"
	"errors"

	"rfq-sync/domain"
	"rfq-sync/scheduler"
)

// Scheduled job names.
const (
	RebuildIndexesJob = "rebuild-search-indexes"
	CloseExpiredJob   = "close-expired-submissions"
)

// Jobs returns the maintenance jobs of the worker.
func (s *System) Jobs(rebuildSchedule, closeExpiredSchedule string) []scheduler.Job {
	return []scheduler.Job{
		{Name: RebuildIndexesJob, Schedule: rebuildSchedule, Run: s.requestRebuild},
		{Name: CloseExpiredJob, Schedule: closeExpiredSchedule, Run: s.closeExpired},
	}
}

// requestRebuild asks the consumers to rebuild the submission, quote and
// quote message indexes. Notifications are kept current per change.
func (s *System) requestRebuild(ctx context.Context, _ domain.Actor) error {
	return errors.Join(
		s.Publisher.Publish(ctx, domain.RebuildSubmissionIndex{}),
		s.Publisher.Publish(ctx, domain.RebuildQuoteIndex{}),
		s.Publisher.Publish(ctx, domain.RebuildQuoteMessageIndex{}),
	)
}

func (s *System) closeExpired(ctx context.Context, actingAs domain.Actor) error {
	_, err := s.Commands.CloseExpiredSubmissions(ctx, actingAs)
	return err
}
