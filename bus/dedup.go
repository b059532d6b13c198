package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ErrInProgress is returned for a message another consumer has claimed but
// not finished. The consumer retries it without dead-lettering.
var ErrInProgress = errors.New("message claimed by another consumer")

// ClaimState is the outcome of Deduper.Claim.
type ClaimState int

const (
	// Claimed means the caller owns the key and must Confirm or Release it.
	Claimed ClaimState = iota
	// InProgress means a claim is held and has not expired yet.
	InProgress
	// Done means the message was already applied.
	Done
)

// Deduper records processed message ids so a redelivered message is not
// applied twice. A claim expires on its own, so a consumer that dies while
// holding one does not block the message forever.
type Deduper interface {
	Claim(ctx context.Context, scope, key string) (ClaimState, error)
	Confirm(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

const (
	claimValue = "processing"
	doneValue  = "done"

	defaultClaimTTL = 30 * time.Second
)

// RedisDeduper stores processed keys in Redis so every worker instance
// shares the same view.
type RedisDeduper struct {
	client   redis.UniversalClient
	claimTTL time.Duration
	ttl      time.Duration
}

// NewRedisDeduper keeps claims for claimTTL and confirmed keys for ttl.
// claimTTL must exceed the longest expected handler run.
func NewRedisDeduper(client redis.UniversalClient, claimTTL, ttl time.Duration) *RedisDeduper {
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &RedisDeduper{client: client, claimTTL: claimTTL, ttl: ttl}
}

func (r *RedisDeduper) key(scope, key string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, key)
}

// Claim takes the key for processing unless it is claimed or done.
func (r *RedisDeduper) Claim(ctx context.Context, scope, key string) (ClaimState, error) {
	k := r.key(scope, key)
	ok, err := r.client.SetNX(ctx, k, claimValue, r.claimTTL).Result()
	if err != nil {
		return InProgress, err
	}
	if ok {
		return Claimed, nil
	}
	v, err := r.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between the two calls; the next delivery claims it.
		return InProgress, nil
	case err != nil:
		return InProgress, err
	case v == doneValue:
		return Done, nil
	}
	return InProgress, nil
}

// Confirm marks a claimed key done for the full ttl.
func (r *RedisDeduper) Confirm(ctx context.Context, scope, key string) error {
	return r.client.Set(ctx, r.key(scope, key), doneValue, r.ttl).Err()
}

// Release deletes a claim so a failed message can be retried.
func (r *RedisDeduper) Release(ctx context.Context, scope, key string) error {
	return r.client.Del(ctx, r.key(scope, key)).Err()
}

// Once wraps h so that each message id is applied at most once per scope.
// The claim is released when h fails and confirmed when it succeeds. A
// message whose claim is still held is retried later.
func Once(d Deduper, scope string, logger log.FieldLogger, h Handler) Handler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return func(ctx context.Context, env Envelope) error {
		fields := log.Fields{"kind": env.Kind, "message_id": env.ID, "scope": scope}
		state, err := d.Claim(ctx, scope, env.ID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.ID, err)
		}
		switch state {
		case Done:
			logger.WithFields(fields).Debug("duplicate message skipped")
			return nil
		case InProgress:
			return fmt.Errorf("%w: %s", ErrInProgress, env.ID)
		}
		if err := h(ctx, env); err != nil {
			if rmErr := d.Release(context.WithoutCancel(ctx), scope, env.ID); rmErr != nil {
				logger.WithError(rmErr).WithFields(fields).Warn("failed to release dedup key")
			}
			return err
		}
		if err := d.Confirm(context.WithoutCancel(ctx), scope, env.ID); err != nil {
			logger.WithError(err).WithFields(fields).Warn("failed to confirm dedup key")
		}
		return nil
	}
}
