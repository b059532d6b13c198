package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"rfq-sync/domain"
	"rfq-sync/storage"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type countingBackend struct {
	*storage.Memory
	gets  int
	lists int
}

func (c *countingBackend) GetSubmission(ctx context.Context, id int64) (*domain.Submission, error) {
	c.gets++
	return c.Memory.GetSubmission(ctx, id)
}

func (c *countingBackend) ListSubmissions(ctx context.Context) ([]domain.Submission, error) {
	c.lists++
	return c.Memory.ListSubmissions(ctx)
}

func TestEntityKeys(t *testing.T) {
	if got := EntityKey(SubmissionKind, 5); got != "Submission-5" {
		t.Fatalf("unexpected key %s", got)
	}
	if got := UserKey(UserCompanyDetailsKind, "u1"); got != "UserCompanyDetails-u1" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestViewsMissThenHit(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	be := &countingBackend{Memory: storage.NewMemory()}
	_ = be.SaveSubmission(ctx, &domain.Submission{ID: 5, Title: "Steel", Status: domain.SubmissionOpen})
	views := NewViews(be, client, time.Minute)

	for i := 0; i < 2; i++ {
		s, err := views.Submission(ctx, 5)
		if err != nil || s == nil || s.Title != "Steel" {
			t.Fatalf("submission: %+v %v", s, err)
		}
	}
	if be.gets != 1 {
		t.Fatalf("expected 1 backend read, got %d", be.gets)
	}
	if ttl := mr.TTL("Submission-5"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestInvalidateMakesMutationVisible(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	be := &countingBackend{Memory: storage.NewMemory()}
	_ = be.SaveSubmission(ctx, &domain.Submission{ID: 5, Title: "Before", Status: domain.SubmissionOpen})
	views := NewViews(be, client, time.Hour)
	inv := NewInvalidator(client, nil)

	if s, _ := views.Submission(ctx, 5); s.Title != "Before" {
		t.Fatalf("unexpected title %q", s.Title)
	}
	if subs, _ := views.AllSubmissions(ctx); len(subs) != 1 {
		t.Fatalf("unexpected list %v", subs)
	}

	_ = be.SaveSubmission(ctx, &domain.Submission{ID: 5, Title: "After", Status: domain.SubmissionOpen})
	if err := inv.Invalidate(ctx, EntityKey(SubmissionKind, 5), AllSubmissionsKey, SubmissionsReportKey); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if s, _ := views.Submission(ctx, 5); s.Title != "After" {
		t.Fatalf("stale cached value returned after invalidation: %q", s.Title)
	}
	subs, _ := views.AllSubmissions(ctx)
	if len(subs) != 1 || subs[0].Title != "After" {
		t.Fatalf("stale aggregate returned after invalidation: %+v", subs)
	}
	if be.lists != 2 {
		t.Fatalf("expected aggregate reloaded, lists=%d", be.lists)
	}
}

func TestLateReadThroughStaysBoundedByTTL(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	be := &countingBackend{Memory: storage.NewMemory()}
	stale := &domain.Submission{ID: 5, Title: "Before", Status: domain.SubmissionOpen}
	_ = be.SaveSubmission(ctx, stale)
	views := NewViews(be, client, time.Minute)
	inv := NewInvalidator(client, nil)
	key := EntityKey(SubmissionKind, 5)

	// A reader loaded "Before", then a write and its invalidation run before
	// the reader stores what it loaded.
	_ = be.SaveSubmission(ctx, &domain.Submission{ID: 5, Title: "After", Status: domain.SubmissionOpen})
	if err := inv.Invalidate(ctx, key); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	views.store(ctx, key, stale)

	if s, _ := views.Submission(ctx, 5); s.Title != "Before" {
		t.Fatalf("expected the late store to be served until expiry, got %q", s.Title)
	}
	mr.FastForward(time.Minute + time.Second)
	if s, _ := views.Submission(ctx, 5); s.Title != "After" {
		t.Fatalf("stale value outlived the cache ttl: %q", s.Title)
	}
}

func TestInvalidateLogsAndSwallowsErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	logger, hook := test.NewNullLogger()
	inv := NewInvalidator(client, logger)
	mr.Close()

	if err := inv.Invalidate(context.Background(), "Submission-1"); err != nil {
		t.Fatalf("invalidation failures must not be returned: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warning log, got %+v", entry)
	}
}

func TestSubmissionsReport(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	mem := storage.NewMemory()
	_ = mem.SaveSubmission(ctx, &domain.Submission{ID: 1, Status: domain.SubmissionOpen})
	_ = mem.SaveSubmission(ctx, &domain.Submission{ID: 2, Status: domain.SubmissionClosed})
	_ = mem.SaveQuote(ctx, &domain.SubmissionQuote{ID: 10, SubmissionID: 1, Status: domain.QuotePending})
	_ = mem.SaveQuote(ctx, &domain.SubmissionQuote{ID: 11, SubmissionID: 2, Status: domain.QuoteAccepted})

	r, err := NewViews(mem, client, time.Minute).SubmissionsReport(ctx)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if r.Submissions != 2 || r.Open != 1 || r.Closed != 1 || r.Quotes != 2 || r.QuotesByStatus["Accepted"] != 1 || r.QuotesByStatus["Withdrawn"] != 0 {
		t.Fatalf("unexpected report %+v", r)
	}
}
