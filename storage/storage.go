package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"rfq-sync/domain"
)

// TableNames configures the Azure tables backing the write model.
type TableNames struct {
	Submissions    string
	Quotes         string
	QuoteMessages  string
	Notifications  string
	CompanyDetails string
	Sequences      string
}

// All returns the configured table names in creation order.
func (n TableNames) All() []string {
	return []string{n.Submissions, n.Quotes, n.QuoteMessages, n.Notifications, n.CompanyDetails, n.Sequences}
}

// Tables implements domain.Store on Azure Table Storage.
type Tables struct {
	svc            *aztables.ServiceClient
	names          TableNames
	submissions    *aztables.Client
	quotes         *aztables.Client
	quoteMessages  *aztables.Client
	notifications  *aztables.Client
	companyDetails *aztables.Client
	sequences      *aztables.Client
}

var _ domain.Store = (*Tables)(nil)

// New creates a Tables store from the given connection string.
func New(connStr string, names TableNames) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{
		svc:            svc,
		names:          names,
		submissions:    svc.NewClient(names.Submissions),
		quotes:         svc.NewClient(names.Quotes),
		quoteMessages:  svc.NewClient(names.QuoteMessages),
		notifications:  svc.NewClient(names.Notifications),
		companyDetails: svc.NewClient(names.CompanyDetails),
		sequences:      svc.NewClient(names.Sequences),
	}, nil
}

// EnsureTables creates every configured table that does not exist yet.
func (s *Tables) EnsureTables(ctx context.Context) error {
	for _, name := range s.names.All() {
		if name == "" {
			continue
		}
		_, err := s.svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
				continue
			}
			return err
		}
		log.WithField("table", name).Info("table created")
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && (respErr.StatusCode == http.StatusConflict || respErr.StatusCode == http.StatusPreconditionFailed)
}

// quote escapes a value for use inside an OData string literal.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func getEntity[T any](ctx context.Context, c *aztables.Client, pk, rk string) (*T, error) {
	resp, err := c.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent T
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &ent, nil
}

func upsertEntity(ctx context.Context, c *aztables.Client, ent any) error {
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = c.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}

func listEntities[T any](ctx context.Context, c *aztables.Client, filter string) ([]T, error) {
	pager := c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []T{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent T
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

func listIDs(ctx context.Context, c *aztables.Client, partition string) ([]int64, error) {
	filter := "PartitionKey eq " + quote(partition)
	sel := "RowKey"
	pager := c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	ids := []int64{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent aztables.Entity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			id, err := parseRowKey(ent.RowKey)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetSubmission retrieves a submission if present.
func (s *Tables) GetSubmission(ctx context.Context, id int64) (*domain.Submission, error) {
	ent, err := getEntity[submissionEntity](ctx, s.submissions, submissionPartition, rowKey(id))
	if err != nil || ent == nil {
		return nil, err
	}
	sub, err := ent.toDomain()
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// SaveSubmission creates or replaces a submission.
func (s *Tables) SaveSubmission(ctx context.Context, sub *domain.Submission) error {
	return upsertEntity(ctx, s.submissions, toSubmissionEntity(sub))
}

// DeleteSubmission removes a submission. Deleting a missing row is not an error.
func (s *Tables) DeleteSubmission(ctx context.Context, id int64) error {
	_, err := s.submissions.DeleteEntity(ctx, submissionPartition, rowKey(id), nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Tables) ListSubmissions(ctx context.Context) ([]domain.Submission, error) {
	return s.submissionsWhere(ctx, "PartitionKey eq "+quote(submissionPartition))
}

func (s *Tables) ListSubmissionsByOwner(ctx context.Context, userID string) ([]domain.Submission, error) {
	return s.submissionsWhere(ctx, "PartitionKey eq "+quote(submissionPartition)+" and OwnerUserId eq "+quote(userID))
}

func (s *Tables) submissionsWhere(ctx context.Context, filter string) ([]domain.Submission, error) {
	ents, err := listEntities[submissionEntity](ctx, s.submissions, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Submission, 0, len(ents))
	for _, e := range ents {
		sub, err := e.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *Tables) GetQuote(ctx context.Context, id int64) (*domain.SubmissionQuote, error) {
	ent, err := getEntity[quoteEntity](ctx, s.quotes, quotePartition, rowKey(id))
	if err != nil || ent == nil {
		return nil, err
	}
	q, err := ent.toDomain()
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Tables) SaveQuote(ctx context.Context, q *domain.SubmissionQuote) error {
	return upsertEntity(ctx, s.quotes, toQuoteEntity(q))
}

func (s *Tables) ListQuoteIDs(ctx context.Context) ([]int64, error) {
	return listIDs(ctx, s.quotes, quotePartition)
}

func (s *Tables) ListQuotesBySubmission(ctx context.Context, submissionID int64) ([]domain.SubmissionQuote, error) {
	return s.quotesWhere(ctx, "PartitionKey eq "+quote(quotePartition)+" and SubmissionId eq "+int64Literal(submissionID))
}

func (s *Tables) ListQuotesBySupplier(ctx context.Context, userID string) ([]domain.SubmissionQuote, error) {
	return s.quotesWhere(ctx, "PartitionKey eq "+quote(quotePartition)+" and SupplierUserId eq "+quote(userID))
}

func (s *Tables) quotesWhere(ctx context.Context, filter string) ([]domain.SubmissionQuote, error) {
	ents, err := listEntities[quoteEntity](ctx, s.quotes, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SubmissionQuote, 0, len(ents))
	for _, e := range ents {
		q, err := e.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *Tables) GetQuoteMessage(ctx context.Context, id int64) (*domain.QuoteMessage, error) {
	ent, err := getEntity[quoteMessageEntity](ctx, s.quoteMessages, quoteMessagePartition, rowKey(id))
	if err != nil || ent == nil {
		return nil, err
	}
	m, err := ent.toDomain()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Tables) SaveQuoteMessage(ctx context.Context, m *domain.QuoteMessage) error {
	return upsertEntity(ctx, s.quoteMessages, toQuoteMessageEntity(m))
}

func (s *Tables) ListQuoteMessageIDs(ctx context.Context) ([]int64, error) {
	return listIDs(ctx, s.quoteMessages, quoteMessagePartition)
}

func (s *Tables) ListMessagesByQuote(ctx context.Context, quoteID int64) ([]domain.QuoteMessage, error) {
	filter := "PartitionKey eq " + quote(quoteMessagePartition) + " and QuoteId eq " + int64Literal(quoteID)
	ents, err := listEntities[quoteMessageEntity](ctx, s.quoteMessages, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QuoteMessage, 0, len(ents))
	for _, e := range ents {
		m, err := e.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Tables) GetNotification(ctx context.Context, id int64) (*domain.Notification, error) {
	ent, err := getEntity[notificationEntity](ctx, s.notifications, notificationPartition, rowKey(id))
	if err != nil || ent == nil {
		return nil, err
	}
	n, err := ent.toDomain()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Tables) SaveNotification(ctx context.Context, n *domain.Notification) error {
	return upsertEntity(ctx, s.notifications, toNotificationEntity(n))
}

func (s *Tables) ListNotificationIDs(ctx context.Context) ([]int64, error) {
	return listIDs(ctx, s.notifications, notificationPartition)
}

func (s *Tables) ListNotificationsByUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	filter := "PartitionKey eq " + quote(notificationPartition) + " and UserId eq " + quote(userID)
	ents, err := listEntities[notificationEntity](ctx, s.notifications, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(ents))
	for _, e := range ents {
		n, err := e.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Tables) GetCompanyDetails(ctx context.Context, userID string) (*domain.UserCompanyDetails, error) {
	ent, err := getEntity[companyEntity](ctx, s.companyDetails, companyPartition, userID)
	if err != nil || ent == nil {
		return nil, err
	}
	d := ent.toDomain()
	return &d, nil
}

func (s *Tables) SaveCompanyDetails(ctx context.Context, d *domain.UserCompanyDetails) error {
	return upsertEntity(ctx, s.companyDetails, toCompanyEntity(d))
}
