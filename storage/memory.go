package storage

import (
	"context"
	"sort"
	"sync"

	"rfq-sync/domain"
)

// Memory is an in-process domain.Store used by tests and local runs.
type Memory struct {
	mu            sync.RWMutex
	sequences     map[string]int64
	submissions   map[int64]domain.Submission
	quotes        map[int64]domain.SubmissionQuote
	quoteMessages map[int64]domain.QuoteMessage
	notifications map[int64]domain.Notification
	companies     map[string]domain.UserCompanyDetails
}

var _ domain.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		sequences:     map[string]int64{},
		submissions:   map[int64]domain.Submission{},
		quotes:        map[int64]domain.SubmissionQuote{},
		quoteMessages: map[int64]domain.QuoteMessage{},
		notifications: map[int64]domain.Notification{},
		companies:     map[string]domain.UserCompanyDetails{},
	}
}

func (m *Memory) NextID(_ context.Context, sequence string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[sequence]++
	return m.sequences[sequence], nil
}

func (m *Memory) GetSubmission(_ context.Context, id int64) (*domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) SaveSubmission(_ context.Context, s *domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Recorder = domain.Recorder{}
	m.submissions[s.ID] = cp
	return nil
}

func (m *Memory) DeleteSubmission(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.submissions, id)
	return nil
}

func (m *Memory) ListSubmissions(_ context.Context) ([]domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.submissions, nil), nil
}

func (m *Memory) ListSubmissionsByOwner(_ context.Context, userID string) ([]domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.submissions, func(s domain.Submission) bool { return s.OwnerUserID == userID }), nil
}

func (m *Memory) GetQuote(_ context.Context, id int64) (*domain.SubmissionQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (m *Memory) SaveQuote(_ context.Context, q *domain.SubmissionQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *q
	cp.Recorder = domain.Recorder{}
	m.quotes[q.ID] = cp
	return nil
}

func (m *Memory) ListQuoteIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.quotes), nil
}

func (m *Memory) ListQuotesBySubmission(_ context.Context, submissionID int64) ([]domain.SubmissionQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.quotes, func(q domain.SubmissionQuote) bool { return q.SubmissionID == submissionID }), nil
}

func (m *Memory) ListQuotesBySupplier(_ context.Context, userID string) ([]domain.SubmissionQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.quotes, func(q domain.SubmissionQuote) bool { return q.SupplierUserID == userID }), nil
}

func (m *Memory) GetQuoteMessage(_ context.Context, id int64) (*domain.QuoteMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qm, ok := m.quoteMessages[id]
	if !ok {
		return nil, nil
	}
	return &qm, nil
}

func (m *Memory) SaveQuoteMessage(_ context.Context, qm *domain.QuoteMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *qm
	cp.Recorder = domain.Recorder{}
	m.quoteMessages[qm.ID] = cp
	return nil
}

func (m *Memory) ListQuoteMessageIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.quoteMessages), nil
}

func (m *Memory) ListMessagesByQuote(_ context.Context, quoteID int64) ([]domain.QuoteMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.quoteMessages, func(qm domain.QuoteMessage) bool { return qm.QuoteID == quoteID }), nil
}

func (m *Memory) GetNotification(_ context.Context, id int64) (*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (m *Memory) SaveNotification(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	cp.Recorder = domain.Recorder{}
	m.notifications[n.ID] = cp
	return nil
}

func (m *Memory) ListNotificationIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.notifications), nil
}

func (m *Memory) ListNotificationsByUser(_ context.Context, userID string) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.notifications, func(n domain.Notification) bool { return n.UserID == userID }), nil
}

func (m *Memory) GetCompanyDetails(_ context.Context, userID string) (*domain.UserCompanyDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.companies[userID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) SaveCompanyDetails(_ context.Context, d *domain.UserCompanyDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.Recorder = domain.Recorder{}
	m.companies[d.UserID] = cp
	return nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedValues[V any](m map[int64]V, keep func(V) bool) []V {
	out := make([]V, 0, len(m))
	for _, id := range sortedKeys(m) {
		v := m[id]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}
