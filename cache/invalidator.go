// Package cache holds cached read views and their coarse invalidation.
package cache

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Entity kinds used in cache keys.
const (
	SubmissionKind         = "Submission"
	SubmissionQuoteKind    = "SubmissionQuote"
	QuoteMessageKind       = "QuoteMessage"
	NotificationKind       = "Notification"
	UserCompanyDetailsKind = "UserCompanyDetails"
)

// Aggregate keys hold views derived from many entities.
const (
	AllSubmissionsKey    = "all-submissions"
	SubmissionsReportKey = "submissions-report"
)

// EntityKey returns "{kind}-{id}".
func EntityKey(kind string, id int64) string {
	return kind + "-" + strconv.FormatInt(id, 10)
}

// UserKey returns "{kind}-{userID}" for entities keyed by user.
func UserKey(kind, userID string) string {
	return kind + "-" + userID
}

// Invalidator removes cache entries after a mutation.
type Invalidator struct {
	redis  redis.UniversalClient
	logger log.FieldLogger
}

func NewInvalidator(client redis.UniversalClient, logger log.FieldLogger) *Invalidator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Invalidator{redis: client, logger: logger}
}

// Invalidate deletes keys. Failures are logged and not returned: a stale
// entry is repaired by the next successful invalidation or by expiry.
func (i *Invalidator) Invalidate(ctx context.Context, keys ...string) error {
	if i == nil || i.redis == nil || len(keys) == 0 {
		return nil
	}
	if err := i.redis.Del(ctx, keys...).Err(); err != nil {
		i.logger.WithError(err).WithField("keys", keys).Warn("cache invalidation failed")
	}
	return nil
}
