// Package pipeline wires committed domain events to their downstream effects:
// cache invalidation, search indexing and cross-process messages.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"rfq-sync/cache"
	"rfq-sync/dispatch"
	"rfq-sync/domain"
	"rfq-sync/indexing"
)

type invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// relations lists the entities whose documents embed data of another entity.
type relations interface {
	ListQuotesBySubmission(ctx context.Context, submissionID int64) ([]domain.SubmissionQuote, error)
	ListSubmissionsByOwner(ctx context.Context, userID string) ([]domain.Submission, error)
	ListQuotesBySupplier(ctx context.Context, userID string) ([]domain.SubmissionQuote, error)
}

// Deps are the collaborators of the event handlers.
type Deps struct {
	Store relations
	Index indexing.Requester
	Cache invalidator
	Bus   publisher
}

// Table builds the dispatch table. Handlers for one event are independent:
// a failing invalidation never prevents indexing or publishing.
func Table(d Deps) *dispatch.Table {
	h := handlers{Deps: d}
	t := dispatch.NewTable()

	t.On(domain.SubmissionCreated,
		h.invalidate(submissionKeys),
		h.index("index-submission", d.Index.Submission, entityID),
		h.publish("publish-new-submission", func(ev domain.Event) domain.Message {
			return domain.NewSubmission{SubmissionID: ev.EntityID}
		}),
	)
	t.On(domain.SubmissionUpdated,
		h.invalidate(submissionKeys),
		h.index("index-submission", d.Index.Submission, entityID),
		dispatch.Handler{Name: "index-submission-quotes", Fn: h.indexSubmissionQuotes},
	)
	t.On(domain.SubmissionDeleted,
		h.invalidate(submissionKeys),
		h.index("index-submission", d.Index.Submission, entityID),
		dispatch.Handler{Name: "index-submission-quotes", Fn: h.indexSubmissionQuotes},
	)

	t.On(domain.SubmissionQuoteCreated,
		h.invalidate(quoteKeys),
		h.index("index-quote", d.Index.Quote, entityID),
		h.index("index-quoted-submission", d.Index.Submission, submissionID),
		h.publish("publish-new-submission-quote", func(ev domain.Event) domain.Message {
			return domain.NewSubmissionQuote{QuoteID: ev.EntityID}
		}),
	)
	t.On(domain.SubmissionQuoteUpdated,
		h.invalidate(quoteKeys),
		h.index("index-quote", d.Index.Quote, entityID),
		h.index("index-quoted-submission", d.Index.Submission, submissionID),
	)

	t.On(domain.QuoteMessageCreated,
		h.invalidate(func(ev domain.Event) []string {
			return []string{
				cache.EntityKey(cache.QuoteMessageKind, ev.EntityID),
				cache.EntityKey(cache.SubmissionQuoteKind, ev.QuoteID),
			}
		}),
		h.index("index-quote-message", d.Index.QuoteMessage, entityID),
		h.index("index-messaged-quote", d.Index.Quote, quoteID),
		h.publish("publish-new-quote-message", func(ev domain.Event) domain.Message {
			return domain.NewQuoteMessage{QuoteMessageID: ev.EntityID}
		}),
	)

	t.On(domain.NotificationCreated,
		h.invalidate(notificationKeys),
		h.index("index-notification", d.Index.Notification, entityID),
		h.publish("publish-new-notification", func(ev domain.Event) domain.Message {
			return domain.NewNotificationMessage(ev.Notification)
		}),
	)
	t.On(domain.NotificationStatusUpdated,
		h.invalidate(notificationKeys),
		h.index("index-notification", d.Index.Notification, entityID),
	)

	t.On(domain.UserCompanyDetailsCreated,
		h.invalidate(userKeys),
		h.publish("publish-user-created", func(ev domain.Event) domain.Message {
			return domain.UserCreated{
				FirstName:             ev.User.FirstName,
				LastName:              ev.User.LastName,
				Email:                 ev.User.Email,
				EmailVerificationCode: ev.User.EmailVerificationCode,
				UID:                   ev.User.UserID,
			}
		}),
	)
	t.On(domain.UserCompanyDetailsUpdated,
		h.invalidate(userKeys),
		dispatch.Handler{Name: "index-company-documents", Fn: h.indexCompanyDocuments},
	)
	return t
}

func entityID(ev domain.Event) int64     { return ev.EntityID }
func submissionID(ev domain.Event) int64 { return ev.SubmissionID }
func quoteID(ev domain.Event) int64      { return ev.QuoteID }

func submissionKeys(ev domain.Event) []string {
	return []string{
		cache.EntityKey(cache.SubmissionKind, ev.EntityID),
		cache.AllSubmissionsKey,
		cache.SubmissionsReportKey,
	}
}

func quoteKeys(ev domain.Event) []string {
	return []string{
		cache.EntityKey(cache.SubmissionQuoteKind, ev.EntityID),
		cache.EntityKey(cache.SubmissionKind, ev.SubmissionID),
		cache.AllSubmissionsKey,
		cache.SubmissionsReportKey,
	}
}

func notificationKeys(ev domain.Event) []string {
	return []string{cache.EntityKey(cache.NotificationKind, ev.EntityID)}
}

func userKeys(ev domain.Event) []string {
	return []string{cache.UserKey(cache.UserCompanyDetailsKind, ev.UserID)}
}

type handlers struct {
	Deps
}

func (h handlers) invalidate(keys func(domain.Event) []string) dispatch.Handler {
	return dispatch.Handler{Name: "invalidate-cache", Fn: func(ctx context.Context, ev domain.Event) error {
		return h.Cache.Invalidate(ctx, keys(ev)...)
	}}
}

func (h handlers) index(name string, req func(context.Context, int64) error, id func(domain.Event) int64) dispatch.Handler {
	return dispatch.Handler{Name: name, Fn: func(ctx context.Context, ev domain.Event) error {
		return req(ctx, id(ev))
	}}
}

func (h handlers) publish(name string, build func(domain.Event) domain.Message) dispatch.Handler {
	return dispatch.Handler{Name: name, Fn: func(ctx context.Context, ev domain.Event) error {
		return h.Bus.Publish(ctx, build(ev))
	}}
}

// indexSubmissionQuotes refreshes quote documents, which embed the
// submission title and owner.
func (h handlers) indexSubmissionQuotes(ctx context.Context, ev domain.Event) error {
	quotes, err := h.Store.ListQuotesBySubmission(ctx, ev.EntityID)
	if err != nil {
		return fmt.Errorf("list quotes of submission %d: %w", ev.EntityID, err)
	}
	var errs []error
	for _, q := range quotes {
		errs = append(errs, h.Index.Quote(ctx, q.ID))
	}
	return errors.Join(errs...)
}

// indexCompanyDocuments refreshes the documents that embed the company name.
func (h handlers) indexCompanyDocuments(ctx context.Context, ev domain.Event) error {
	subs, err := h.Store.ListSubmissionsByOwner(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("list submissions of %s: %w", ev.UserID, err)
	}
	quotes, err := h.Store.ListQuotesBySupplier(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("list quotes of %s: %w", ev.UserID, err)
	}
	var errs []error
	for _, s := range subs {
		errs = append(errs, h.Index.Submission(ctx, s.ID))
	}
	for _, q := range quotes {
		errs = append(errs, h.Index.Quote(ctx, q.ID))
	}
	return errors.Join(errs...)
}
