package indexing

import (
	"context"

	log "github.com/sirupsen/logrus"

	"rfq-sync/domain"
	"rfq-sync/search"
)

// Source is the read side of the write model needed to build documents.
type Source interface {
	GetSubmission(ctx context.Context, id int64) (*domain.Submission, error)
	ListSubmissions(ctx context.Context) ([]domain.Submission, error)
	GetQuote(ctx context.Context, id int64) (*domain.SubmissionQuote, error)
	ListQuoteIDs(ctx context.Context) ([]int64, error)
	ListQuotesBySubmission(ctx context.Context, submissionID int64) ([]domain.SubmissionQuote, error)
	GetQuoteMessage(ctx context.Context, id int64) (*domain.QuoteMessage, error)
	ListQuoteMessageIDs(ctx context.Context) ([]int64, error)
	ListMessagesByQuote(ctx context.Context, quoteID int64) ([]domain.QuoteMessage, error)
	GetNotification(ctx context.Context, id int64) (*domain.Notification, error)
	ListNotificationIDs(ctx context.Context) ([]int64, error)
	GetCompanyDetails(ctx context.Context, userID string) (*domain.UserCompanyDetails, error)
}

// Indexer holds the pipeline of every indexed kind.
type Indexer struct {
	Submissions   *Pipeline
	Quotes        *Pipeline
	QuoteMessages *Pipeline
	Notifications *Pipeline
}

func NewIndexer(src Source, client search.Client, logger log.FieldLogger) *Indexer {
	b := builders{src: src}
	return &Indexer{
		Submissions:   NewPipeline(search.SubmissionsIndex, client, b.submission, b.submissionIDs, logger),
		Quotes:        NewPipeline(search.QuotesIndex, client, b.quote, src.ListQuoteIDs, logger),
		QuoteMessages: NewPipeline(search.QuoteMessagesIndex, client, b.quoteMessage, src.ListQuoteMessageIDs, logger),
		Notifications: NewPipeline(search.NotificationsIndex, client, b.notification, src.ListNotificationIDs, logger),
	}
}

// EnsureIndexes creates every index up front.
func (ix *Indexer) EnsureIndexes(ctx context.Context) error {
	for _, p := range []*Pipeline{ix.Submissions, ix.Quotes, ix.QuoteMessages, ix.Notifications} {
		if err := p.EnsureIndexExists(ctx); err != nil {
			return err
		}
	}
	return nil
}

type builders struct {
	src Source
}

func (b builders) companyName(ctx context.Context, userID string) (string, error) {
	d, err := b.src.GetCompanyDetails(ctx, userID)
	if err != nil || d == nil {
		return "", err
	}
	return d.CompanyName, nil
}

func (b builders) submissionIDs(ctx context.Context) ([]int64, error) {
	subs, err := b.src.ListSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	return ids, nil
}

func (b builders) submission(ctx context.Context, id int64) (search.Document, bool, error) {
	s, err := b.src.GetSubmission(ctx, id)
	if err != nil || s == nil {
		return nil, false, err
	}
	quotes, err := b.src.ListQuotesBySubmission(ctx, id)
	if err != nil {
		return nil, false, err
	}
	byStatus := make(map[string]int, len(domain.QuoteStatuses))
	for _, st := range domain.QuoteStatuses {
		byStatus[string(st)] = 0
	}
	for _, q := range quotes {
		byStatus[string(q.Status)]++
	}
	company, err := b.companyName(ctx, s.OwnerUserID)
	if err != nil {
		return nil, false, err
	}
	return search.SubmissionDocument{
		ID:                 s.ID,
		OwnerUserID:        s.OwnerUserID,
		OwnerCompanyName:   company,
		Title:              s.Title,
		Description:        s.Description,
		Status:             string(s.Status),
		Deadline:           s.Deadline,
		Created:            s.Created,
		Modified:           s.Modified,
		QuoteCount:         len(quotes),
		QuoteCountByStatus: byStatus,
	}, true, nil
}

func (b builders) quote(ctx context.Context, id int64) (search.Document, bool, error) {
	q, err := b.src.GetQuote(ctx, id)
	if err != nil || q == nil {
		return nil, false, err
	}
	doc := search.QuoteDocument{
		ID:             q.ID,
		SubmissionID:   q.SubmissionID,
		SupplierUserID: q.SupplierUserID,
		Amount:         q.Amount,
		Currency:       q.Currency,
		Notes:          q.Notes,
		Status:         string(q.Status),
		Created:        q.Created,
		Modified:       q.Modified,
	}
	sub, err := b.src.GetSubmission(ctx, q.SubmissionID)
	if err != nil {
		return nil, false, err
	}
	if sub != nil {
		doc.SubmissionTitle = sub.Title
		doc.SubmissionOwnerUserID = sub.OwnerUserID
	}
	if doc.SupplierCompanyName, err = b.companyName(ctx, q.SupplierUserID); err != nil {
		return nil, false, err
	}
	msgs, err := b.src.ListMessagesByQuote(ctx, q.ID)
	if err != nil {
		return nil, false, err
	}
	doc.MessageCount = len(msgs)
	if last := latest(msgs); last != nil {
		doc.LastMessage = &search.LastMessage{
			ID:           last.ID,
			SenderUserID: last.SenderUserID,
			Body:         last.Body,
			Created:      last.Created,
		}
	}
	return doc, true, nil
}

func latest(msgs []domain.QuoteMessage) *domain.QuoteMessage {
	var out *domain.QuoteMessage
	for i := range msgs {
		m := &msgs[i]
		if out == nil || m.Created.After(out.Created) || (m.Created.Equal(out.Created) && m.ID > out.ID) {
			out = m
		}
	}
	return out
}

func (b builders) quoteMessage(ctx context.Context, id int64) (search.Document, bool, error) {
	m, err := b.src.GetQuoteMessage(ctx, id)
	if err != nil || m == nil {
		return nil, false, err
	}
	return search.QuoteMessageDocument{
		ID:           m.ID,
		QuoteID:      m.QuoteID,
		SubmissionID: m.SubmissionID,
		SenderUserID: m.SenderUserID,
		Body:         m.Body,
		Created:      m.Created,
	}, true, nil
}

func (b builders) notification(ctx context.Context, id int64) (search.Document, bool, error) {
	n, err := b.src.GetNotification(ctx, id)
	if err != nil || n == nil {
		return nil, false, err
	}
	return search.NotificationDocument{
		ID:          n.ID,
		UserID:      n.UserID,
		Title:       n.Title,
		Description: n.Description,
		Type:        string(n.Type),
		Status:      string(n.Status),
		Created:     n.Created,
		Modified:    n.Modified,
	}, true, nil
}
