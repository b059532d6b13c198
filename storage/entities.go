package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"rfq-sync/domain"
)

const (
	edmInt64 = "Edm.Int64"

	submissionPartition   = "submission"
	quotePartition        = "quote"
	quoteMessagePartition = "quote-message"
	notificationPartition = "notification"
	companyPartition      = "company"
	sequencePartition     = "sequence"
)

// rowKey zero-pads ids so lexical order matches numeric order.
func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func parseRowKey(rk string) (int64, error) {
	return strconv.ParseInt(rk, 10, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

type submissionEntity struct {
	aztables.Entity
	OwnerUserID string `json:"OwnerUserId"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Deadline    string `json:"Deadline"`
	Created     string `json:"Created"`
	Modified    string `json:"Modified"`
	CreatedBy   string `json:"CreatedBy"`
	ModifiedBy  string `json:"ModifiedBy"`
}

func toSubmissionEntity(s *domain.Submission) submissionEntity {
	return submissionEntity{
		Entity:      aztables.Entity{PartitionKey: submissionPartition, RowKey: rowKey(s.ID)},
		OwnerUserID: s.OwnerUserID,
		Title:       s.Title,
		Description: s.Description,
		Status:      string(s.Status),
		Deadline:    formatTime(s.Deadline),
		Created:     formatTime(s.Created),
		Modified:    formatTime(s.Modified),
		CreatedBy:   s.CreatedBy,
		ModifiedBy:  s.ModifiedBy,
	}
}

func (e submissionEntity) toDomain() (domain.Submission, error) {
	id, err := parseRowKey(e.RowKey)
	if err != nil {
		return domain.Submission{}, err
	}
	return domain.Submission{
		ID:          id,
		OwnerUserID: e.OwnerUserID,
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.SubmissionStatus(e.Status),
		Deadline:    parseTime(e.Deadline),
		Created:     parseTime(e.Created),
		Modified:    parseTime(e.Modified),
		CreatedBy:   e.CreatedBy,
		ModifiedBy:  e.ModifiedBy,
	}, nil
}

type quoteEntity struct {
	aztables.Entity
	SubmissionID     int64   `json:"SubmissionId,string"`
	SubmissionIDType string  `json:"SubmissionId@odata.type"`
	SupplierUserID   string  `json:"SupplierUserId"`
	Amount           float64 `json:"Amount"`
	Currency         string  `json:"Currency"`
	Notes            string  `json:"Notes"`
	Status           string  `json:"Status"`
	Created          string  `json:"Created"`
	Modified         string  `json:"Modified"`
	CreatedBy        string  `json:"CreatedBy"`
	ModifiedBy       string  `json:"ModifiedBy"`
}

func toQuoteEntity(q *domain.SubmissionQuote) quoteEntity {
	return quoteEntity{
		Entity:           aztables.Entity{PartitionKey: quotePartition, RowKey: rowKey(q.ID)},
		SubmissionID:     q.SubmissionID,
		SubmissionIDType: edmInt64,
		SupplierUserID:   q.SupplierUserID,
		Amount:           q.Amount,
		Currency:         q.Currency,
		Notes:            q.Notes,
		Status:           string(q.Status),
		Created:          formatTime(q.Created),
		Modified:         formatTime(q.Modified),
		CreatedBy:        q.CreatedBy,
		ModifiedBy:       q.ModifiedBy,
	}
}

func (e quoteEntity) toDomain() (domain.SubmissionQuote, error) {
	id, err := parseRowKey(e.RowKey)
	if err != nil {
		return domain.SubmissionQuote{}, err
	}
	return domain.SubmissionQuote{
		ID:             id,
		SubmissionID:   e.SubmissionID,
		SupplierUserID: e.SupplierUserID,
		Amount:         e.Amount,
		Currency:       e.Currency,
		Notes:          e.Notes,
		Status:         domain.QuoteStatus(e.Status),
		Created:        parseTime(e.Created),
		Modified:       parseTime(e.Modified),
		CreatedBy:      e.CreatedBy,
		ModifiedBy:     e.ModifiedBy,
	}, nil
}

type quoteMessageEntity struct {
	aztables.Entity
	QuoteID          int64  `json:"QuoteId,string"`
	QuoteIDType      string `json:"QuoteId@odata.type"`
	SubmissionID     int64  `json:"SubmissionId,string"`
	SubmissionIDType string `json:"SubmissionId@odata.type"`
	SenderUserID     string `json:"SenderUserId"`
	Body             string `json:"Body"`
	Created          string `json:"Created"`
}

func toQuoteMessageEntity(m *domain.QuoteMessage) quoteMessageEntity {
	return quoteMessageEntity{
		Entity:           aztables.Entity{PartitionKey: quoteMessagePartition, RowKey: rowKey(m.ID)},
		QuoteID:          m.QuoteID,
		QuoteIDType:      edmInt64,
		SubmissionID:     m.SubmissionID,
		SubmissionIDType: edmInt64,
		SenderUserID:     m.SenderUserID,
		Body:             m.Body,
		Created:          formatTime(m.Created),
	}
}

func (e quoteMessageEntity) toDomain() (domain.QuoteMessage, error) {
	id, err := parseRowKey(e.RowKey)
	if err != nil {
		return domain.QuoteMessage{}, err
	}
	return domain.QuoteMessage{
		ID:           id,
		QuoteID:      e.QuoteID,
		SubmissionID: e.SubmissionID,
		SenderUserID: e.SenderUserID,
		Body:         e.Body,
		Created:      parseTime(e.Created),
	}, nil
}

type notificationEntity struct {
	aztables.Entity
	UserID      string `json:"UserId"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Type        string `json:"Type"`
	Status      string `json:"Status"`
	Created     string `json:"Created"`
	Modified    string `json:"Modified"`
	Data        string `json:"Data,omitempty"`
}

func toNotificationEntity(n *domain.Notification) notificationEntity {
	return notificationEntity{
		Entity:      aztables.Entity{PartitionKey: notificationPartition, RowKey: rowKey(n.ID)},
		UserID:      n.UserID,
		Title:       n.Title,
		Description: n.Description,
		Type:        string(n.Type),
		Status:      string(n.Status),
		Created:     formatTime(n.Created),
		Modified:    formatTime(n.Modified),
		Data:        string(n.Data),
	}
}

func (e notificationEntity) toDomain() (domain.Notification, error) {
	id, err := parseRowKey(e.RowKey)
	if err != nil {
		return domain.Notification{}, err
	}
	n := domain.Notification{
		ID:          id,
		UserID:      e.UserID,
		Title:       e.Title,
		Description: e.Description,
		Type:        domain.NotificationType(e.Type),
		Status:      domain.NotificationStatus(e.Status),
		Created:     parseTime(e.Created),
		Modified:    parseTime(e.Modified),
	}
	if e.Data != "" {
		n.Data = json.RawMessage(e.Data)
	}
	return n, nil
}

type companyEntity struct {
	aztables.Entity
	FirstName             string `json:"FirstName"`
	LastName              string `json:"LastName"`
	Email                 string `json:"Email"`
	CompanyName           string `json:"CompanyName"`
	EmailVerificationCode string `json:"EmailVerificationCode,omitempty"`
	Created               string `json:"Created"`
	Modified              string `json:"Modified"`
}

func toCompanyEntity(d *domain.UserCompanyDetails) companyEntity {
	return companyEntity{
		Entity:                aztables.Entity{PartitionKey: companyPartition, RowKey: d.UserID},
		FirstName:             d.FirstName,
		LastName:              d.LastName,
		Email:                 d.Email,
		CompanyName:           d.CompanyName,
		EmailVerificationCode: d.EmailVerificationCode,
		Created:               formatTime(d.Created),
		Modified:              formatTime(d.Modified),
	}
}

func (e companyEntity) toDomain() domain.UserCompanyDetails {
	return domain.UserCompanyDetails{
		UserID:                e.RowKey,
		FirstName:             e.FirstName,
		LastName:              e.LastName,
		Email:                 e.Email,
		CompanyName:           e.CompanyName,
		EmailVerificationCode: e.EmailVerificationCode,
		Created:               parseTime(e.Created),
		Modified:              parseTime(e.Modified),
	}
}

type sequenceEntity struct {
	aztables.Entity
	Value     int64  `json:"Value,string"`
	ValueType string `json:"Value@odata.type"`
}
