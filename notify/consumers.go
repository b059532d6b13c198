package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"rfq-sync/bus"
	"rfq-sync/domain"
)

// Routes registers the alert, push relay, mark-all-read and verification
// consumers on r.
func Routes(r *bus.Router, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	alerts := NewAlerts(deps.Commands, deps.Source, logger)
	mailer := deps.Mailer
	if mailer == nil {
		mailer = LogMailer{Logger: logger}
	}
	once := func(scope string, h bus.Handler) bus.Handler {
		if deps.Deduper == nil {
			return h
		}
		return bus.Once(deps.Deduper, scope, logger, h)
	}

	r.Handle(domain.NewSubmissionKind, once(NewSubmissionScope, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.NewSubmission) error {
		return alerts.NewSubmission(ctx, m)
	})))
	r.Handle(domain.NewSubmissionQuoteKind, once(NewSubmissionQuoteScope, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.NewSubmissionQuote) error {
		return alerts.NewSubmissionQuote(ctx, m)
	})))
	r.Handle(domain.NewQuoteMessageKind, once(NewQuoteMessageScope, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.NewQuoteMessage) error {
		return alerts.NewQuoteMessage(ctx, m)
	})))
	r.Handle(domain.UserCreatedKind, once(UserCreatedScope, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.UserCreated) error {
		return SendVerification(ctx, mailer, m)
	})))
	r.Handle(domain.NotificationsMarkAllAsReadForUserKind, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.NotificationsMarkAllAsReadForUser) error {
		return MarkAllRead(ctx, deps.Commands, m)
	}))
	r.Handle(domain.NewNotificationKind, bus.Typed(func(ctx context.Context, _ bus.Envelope, m domain.NewNotification) error {
		return Relay(ctx, deps.Push, m)
	}))
}
