package indexing

import (
	"context"

	"rfq-sync/bus"
	"rfq-sync/domain"
)

// Routes registers the index and rebuild consumers. Notification index
// requests go through c when it is not nil.
func (ix *Indexer) Routes(r *bus.Router, c *Coalescer) {
	notify := ix.Notifications.IndexOne
	if c != nil {
		notify = c.IndexOne
	}
	r.Handle(domain.IndexSubmissionKind, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.IndexSubmission) error {
		return ix.Submissions.IndexOne(ctx, m.SubmissionID)
	}))
	r.Handle(domain.IndexSubmissionQuoteKind, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.IndexSubmissionQuote) error {
		return ix.Quotes.IndexOne(ctx, m.QuoteID)
	}))
	r.Handle(domain.IndexQuoteMessageKind, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.IndexQuoteMessage) error {
		return ix.QuoteMessages.IndexOne(ctx, m.QuoteMessageID)
	}))
	r.Handle(domain.IndexNotificationKind, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.IndexNotification) error {
		return notify(ctx, m.NotificationID)
	}))
	r.Handle(domain.RebuildSubmissionIndexKind, func(ctx context.Context, _ bus.Envelope) error {
		return ix.Submissions.RebuildAll(ctx)
	})
	r.Handle(domain.RebuildQuoteIndexKind, func(ctx context.Context, _ bus.Envelope) error {
		return ix.Quotes.RebuildAll(ctx)
	})
	r.Handle(domain.RebuildQuoteMessageIndexKind, func(ctx context.Context, _ bus.Envelope) error {
		return ix.QuoteMessages.RebuildAll(ctx)
	})
}
