package cache

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"rfq-sync/domain"
)

type backend interface {
	GetSubmission(ctx context.Context, id int64) (*domain.Submission, error)
	ListSubmissions(ctx context.Context) ([]domain.Submission, error)
	ListQuotesBySubmission(ctx context.Context, submissionID int64) ([]domain.SubmissionQuote, error)
	GetCompanyDetails(ctx context.Context, userID string) (*domain.UserCompanyDetails, error)
}

// Report summarises all submissions and their quotes.
type Report struct {
	Submissions    int            `json:"submissions"`
	Open           int            `json:"open"`
	Closed         int            `json:"closed"`
	Quotes         int            `json:"quotes"`
	QuotesByStatus map[string]int `json:"quotesByStatus"`
}

// Views serves read-through cached views over the write model.
type Views struct {
	base  backend
	redis redis.UniversalClient
	ttl   time.Duration
}

func NewViews(base backend, client redis.UniversalClient, ttl time.Duration) *Views {
	if base == nil {
		panic("cache.NewViews: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Views{base: base, redis: client, ttl: ttl}
}

// Submission returns the submission or nil when it does not exist.
func (v *Views) Submission(ctx context.Context, id int64) (*domain.Submission, error) {
	key := EntityKey(SubmissionKind, id)
	var cached domain.Submission
	if v.load(ctx, key, &cached) {
		return &cached, nil
	}
	s, err := v.base.GetSubmission(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	v.store(ctx, key, s)
	return s, nil
}

func (v *Views) AllSubmissions(ctx context.Context) ([]domain.Submission, error) {
	var cached []domain.Submission
	if v.load(ctx, AllSubmissionsKey, &cached) {
		return cached, nil
	}
	subs, err := v.base.ListSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	v.store(ctx, AllSubmissionsKey, subs)
	return subs, nil
}

func (v *Views) SubmissionsReport(ctx context.Context) (Report, error) {
	var cached Report
	if v.load(ctx, SubmissionsReportKey, &cached) {
		return cached, nil
	}
	subs, err := v.base.ListSubmissions(ctx)
	if err != nil {
		return Report{}, err
	}
	r := Report{Submissions: len(subs), QuotesByStatus: make(map[string]int, len(domain.QuoteStatuses))}
	for _, st := range domain.QuoteStatuses {
		r.QuotesByStatus[string(st)] = 0
	}
	for _, s := range subs {
		if s.Status == domain.SubmissionClosed {
			r.Closed++
		} else {
			r.Open++
		}
		quotes, err := v.base.ListQuotesBySubmission(ctx, s.ID)
		if err != nil {
			return Report{}, err
		}
		r.Quotes += len(quotes)
		for _, q := range quotes {
			r.QuotesByStatus[string(q.Status)]++
		}
	}
	v.store(ctx, SubmissionsReportKey, r)
	return r, nil
}

// CompanyDetails returns the user's company details or nil.
func (v *Views) CompanyDetails(ctx context.Context, userID string) (*domain.UserCompanyDetails, error) {
	key := UserKey(UserCompanyDetailsKind, userID)
	var cached domain.UserCompanyDetails
	if v.load(ctx, key, &cached) {
		return &cached, nil
	}
	d, err := v.base.GetCompanyDetails(ctx, userID)
	if err != nil || d == nil {
		return nil, err
	}
	v.store(ctx, key, d)
	return d, nil
}

func (v *Views) load(ctx context.Context, key string, out any) bool {
	if v.redis == nil {
		return false
	}
	data, err := v.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the store without failing.
			_ = v.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		_ = v.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

// store is an unversioned SET. A read that loaded val before a concurrent
// write can land after that write's invalidation and cache the stale value
// until ttl expires, so ttl bounds staleness for read-through views.
func (v *Views) store(ctx context.Context, key string, val any) {
	if v.redis == nil || v.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(val)
	if err != nil {
		return
	}
	_ = v.redis.Set(ctx, key, data, v.ttl).Err()
}
