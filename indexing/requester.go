package indexing

import (
	"context"

	"rfq-sync/domain"
)

// Requester asks for an entity to be reindexed. Event handlers use it so the
// wiring decides whether indexing runs inline or through the bus.
type Requester interface {
	Submission(ctx context.Context, id int64) error
	Quote(ctx context.Context, id int64) error
	QuoteMessage(ctx context.Context, id int64) error
	Notification(ctx context.Context, id int64) error
}

type publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// Async publishes Index* messages for a consumer to execute.
type Async struct {
	bus publisher
}

func NewAsync(p publisher) *Async { return &Async{bus: p} }

func (a *Async) Submission(ctx context.Context, id int64) error {
	return a.bus.Publish(ctx, domain.IndexSubmission{SubmissionID: id})
}

func (a *Async) Quote(ctx context.Context, id int64) error {
	return a.bus.Publish(ctx, domain.IndexSubmissionQuote{QuoteID: id})
}

func (a *Async) QuoteMessage(ctx context.Context, id int64) error {
	return a.bus.Publish(ctx, domain.IndexQuoteMessage{QuoteMessageID: id})
}

func (a *Async) Notification(ctx context.Context, id int64) error {
	return a.bus.Publish(ctx, domain.IndexNotification{NotificationID: id})
}

// Inline indexes within the calling request.
type Inline struct {
	ix            *Indexer
	notifications *Coalescer
}

// NewInline indexes notifications through c when it is not nil.
func NewInline(ix *Indexer, c *Coalescer) *Inline {
	return &Inline{ix: ix, notifications: c}
}

func (i *Inline) Submission(ctx context.Context, id int64) error {
	return i.ix.Submissions.IndexOne(ctx, id)
}

func (i *Inline) Quote(ctx context.Context, id int64) error {
	return i.ix.Quotes.IndexOne(ctx, id)
}

func (i *Inline) QuoteMessage(ctx context.Context, id int64) error {
	return i.ix.QuoteMessages.IndexOne(ctx, id)
}

func (i *Inline) Notification(ctx context.Context, id int64) error {
	if i.notifications != nil {
		return i.notifications.IndexOne(ctx, id)
	}
	return i.ix.Notifications.IndexOne(ctx, id)
}
