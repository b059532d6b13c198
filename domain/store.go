package domain

import "context"

// Sequence names used with Store.NextID.
const (
	SubmissionSequence   = "submission"
	QuoteSequence        = "quote"
	QuoteMessageSequence = "quote-message"
	NotificationSequence = "notification"
)

// Store is the write model. Getters return nil, nil when the entity does not exist.
type Store interface {
	NextID(ctx context.Context, sequence string) (int64, error)

	GetSubmission(ctx context.Context, id int64) (*Submission, error)
	SaveSubmission(ctx context.Context, s *Submission) error
	DeleteSubmission(ctx context.Context, id int64) error
	ListSubmissions(ctx context.Context) ([]Submission, error)
	ListSubmissionsByOwner(ctx context.Context, userID string) ([]Submission, error)

	GetQuote(ctx context.Context, id int64) (*SubmissionQuote, error)
	SaveQuote(ctx context.Context, q *SubmissionQuote) error
	ListQuoteIDs(ctx context.Context) ([]int64, error)
	ListQuotesBySubmission(ctx context.Context, submissionID int64) ([]SubmissionQuote, error)
	ListQuotesBySupplier(ctx context.Context, userID string) ([]SubmissionQuote, error)

	GetQuoteMessage(ctx context.Context, id int64) (*QuoteMessage, error)
	SaveQuoteMessage(ctx context.Context, m *QuoteMessage) error
	ListQuoteMessageIDs(ctx context.Context) ([]int64, error)
	ListMessagesByQuote(ctx context.Context, quoteID int64) ([]QuoteMessage, error)

	GetNotification(ctx context.Context, id int64) (*Notification, error)
	SaveNotification(ctx context.Context, n *Notification) error
	ListNotificationIDs(ctx context.Context) ([]int64, error)
	ListNotificationsByUser(ctx context.Context, userID string) ([]Notification, error)

	GetCompanyDetails(ctx context.Context, userID string) (*UserCompanyDetails, error)
	SaveCompanyDetails(ctx context.Context, d *UserCompanyDetails) error
}
