// Package notify turns marketplace activity into user notifications and
// relays them to live connections.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"rfq-sync/bus"
	"rfq-sync/domain"
	"rfq-sync/push"
)

// Commands are the write operations the consumers call.
type Commands interface {
	CreateNotification(ctx context.Context, actingAs domain.Actor, d domain.NotificationDraft) (*domain.Notification, error)
	MarkNotificationRead(ctx context.Context, actingAs domain.Actor, id int64) error
}

// Source reads the entities an alert is about.
type Source interface {
	GetSubmission(ctx context.Context, id int64) (*domain.Submission, error)
	GetQuote(ctx context.Context, id int64) (*domain.SubmissionQuote, error)
	GetQuoteMessage(ctx context.Context, id int64) (*domain.QuoteMessage, error)
}

// Dedup scopes for the non-idempotent consumers.
const (
	NewSubmissionScope      = "alert-new-submission"
	NewSubmissionQuoteScope = "alert-new-submission-quote"
	NewQuoteMessageScope    = "alert-new-quote-message"
	UserCreatedScope        = "user-created-verification"
)

// Deps bundles the collaborators of the notification consumers.
type Deps struct {
	Commands Commands
	Source   Source
	Push     push.Channel
	Mailer   Mailer
	// Deduper may be nil, in which case redelivered alerts are applied again.
	Deduper bus.Deduper
	Logger  log.FieldLogger
}

// Alerts creates a notification for each marketplace message.
type Alerts struct {
	cmd    Commands
	src    Source
	logger log.FieldLogger
}

func NewAlerts(cmd Commands, src Source, logger log.FieldLogger) *Alerts {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Alerts{cmd: cmd, src: src, logger: logger}
}

// NewSubmission confirms to the owner that the submission is published.
func (a *Alerts) NewSubmission(ctx context.Context, m domain.NewSubmission) error {
	s, err := a.src.GetSubmission(ctx, m.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission %d: %w", m.SubmissionID, err)
	}
	if s == nil {
		a.gone("submission", m.SubmissionID)
		return nil
	}
	return a.create(ctx, domain.NotificationDraft{
		UserID:      s.OwnerUserID,
		Title:       "Submission published",
		Description: fmt.Sprintf("Your submission %q is open for quotes.", s.Title),
		Type:        domain.NotificationSubmissionPublished,
	}, map[string]int64{"submissionId": s.ID})
}

// NewSubmissionQuote tells the submission owner a quote arrived.
func (a *Alerts) NewSubmissionQuote(ctx context.Context, m domain.NewSubmissionQuote) error {
	q, err := a.src.GetQuote(ctx, m.QuoteID)
	if err != nil {
		return fmt.Errorf("load quote %d: %w", m.QuoteID, err)
	}
	if q == nil {
		a.gone("quote", m.QuoteID)
		return nil
	}
	s, err := a.src.GetSubmission(ctx, q.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission %d: %w", q.SubmissionID, err)
	}
	if s == nil {
		a.gone("submission", q.SubmissionID)
		return nil
	}
	return a.create(ctx, domain.NotificationDraft{
		UserID:      s.OwnerUserID,
		Title:       "New quote received",
		Description: fmt.Sprintf("A quote of %.2f %s was submitted for %q.", q.Amount, q.Currency, s.Title),
		Type:        domain.NotificationQuoteReceived,
	}, map[string]int64{"submissionId": s.ID, "quoteId": q.ID})
}

// NewQuoteMessage tells the other party of the quote thread about a message.
func (a *Alerts) NewQuoteMessage(ctx context.Context, m domain.NewQuoteMessage) error {
	msg, err := a.src.GetQuoteMessage(ctx, m.QuoteMessageID)
	if err != nil {
		return fmt.Errorf("load quote message %d: %w", m.QuoteMessageID, err)
	}
	if msg == nil {
		a.gone("quote message", m.QuoteMessageID)
		return nil
	}
	q, err := a.src.GetQuote(ctx, msg.QuoteID)
	if err != nil {
		return fmt.Errorf("load quote %d: %w", msg.QuoteID, err)
	}
	if q == nil {
		a.gone("quote", msg.QuoteID)
		return nil
	}
	s, err := a.src.GetSubmission(ctx, q.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission %d: %w", q.SubmissionID, err)
	}
	if s == nil {
		a.gone("submission", q.SubmissionID)
		return nil
	}

	recipient := q.SupplierUserID
	if msg.SenderUserID == q.SupplierUserID {
		recipient = s.OwnerUserID
	}
	if recipient == msg.SenderUserID {
		return nil
	}
	return a.create(ctx, domain.NotificationDraft{
		UserID:      recipient,
		Title:       "New message",
		Description: fmt.Sprintf("You have a new message about %q.", s.Title),
		Type:        domain.NotificationMessageReceived,
	}, map[string]int64{"submissionId": s.ID, "quoteId": q.ID, "quoteMessageId": msg.ID})
}

func (a *Alerts) create(ctx context.Context, d domain.NotificationDraft, data map[string]int64) error {
	raw, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}
	d.Data = raw
	n, err := a.cmd.CreateNotification(ctx, domain.SystemIdentity, d)
	if err != nil {
		return fmt.Errorf("create %s notification: %w", d.Type, err)
	}
	a.logger.WithFields(log.Fields{"notification_id": n.ID, "user_id": n.UserID, "type": n.Type}).Debug("notification created")
	return nil
}

func (a *Alerts) gone(what string, id int64) {
	a.logger.WithFields(log.Fields{"entity": what, "entity_id": id}).Info("alert target no longer exists, skipping")
}

// MarkAllRead marks each listed notification read. Missing and already read
// notifications are skipped.
func MarkAllRead(ctx context.Context, cmd Commands, m domain.NotificationsMarkAllAsReadForUser) error {
	var errs []error
	for _, id := range m.NotificationIDs {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		err := cmd.MarkNotificationRead(ctx, domain.SystemIdentity, id)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("mark notification %d read: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Relay forwards a created notification to the recipient's push group.
func Relay(ctx context.Context, ch push.Channel, m domain.NewNotification) error {
	msg, err := push.NewMessage(m.UserID, push.NotificationEvent, m)
	if err != nil {
		return err
	}
	return ch.Send(ctx, msg)
}
