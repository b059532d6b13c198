package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"rfq-sync/domain"
)

func TestRowKeyOrdering(t *testing.T) {
	if rowKey(9) >= rowKey(10) {
		t.Fatalf("row keys must sort numerically: %q >= %q", rowKey(9), rowKey(10))
	}
	id, err := parseRowKey(rowKey(42))
	if err != nil || id != 42 {
		t.Fatalf("round trip: got %d, %v", id, err)
	}
}

func TestQuoteEscapesODataLiteral(t *testing.T) {
	if got := quote("o'neil"); got != "'o''neil'" {
		t.Fatalf("unexpected literal %s", got)
	}
	if got := int64Literal(7); got != "7L" {
		t.Fatalf("unexpected int64 literal %s", got)
	}
}

func TestQuoteEntityEncodesInt64AsEdm(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	q := &domain.SubmissionQuote{ID: 42, SubmissionID: 7, SupplierUserID: "s1", Amount: 12.5, Status: domain.QuotePending, Created: now}
	raw, err := json.Marshal(toQuoteEntity(q))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["SubmissionId"] != "7" || m["SubmissionId@odata.type"] != edmInt64 {
		t.Fatalf("unexpected int64 encoding: %v", m)
	}

	var ent quoteEntity
	if err := json.Unmarshal(raw, &ent); err != nil {
		t.Fatalf("decode entity: %v", err)
	}
	back, err := ent.toDomain()
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if back.ID != 42 || back.SubmissionID != 7 || !back.Created.Equal(now) {
		t.Fatalf("unexpected round trip %+v", back)
	}
}

func TestMemoryGetMissingReturnsNil(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sub, err := m.GetSubmission(ctx, 1)
	if err != nil || sub != nil {
		t.Fatalf("expected nil, nil; got %v, %v", sub, err)
	}
	n, err := m.GetNotification(ctx, 1)
	if err != nil || n != nil {
		t.Fatalf("expected nil, nil; got %v, %v", n, err)
	}
}

func TestMemoryNextIDPerSequence(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, _ := m.NextID(ctx, domain.SubmissionSequence)
		if got != want {
			t.Fatalf("submission sequence: want %d got %d", want, got)
		}
	}
	if got, _ := m.NextID(ctx, domain.QuoteSequence); got != 1 {
		t.Fatalf("quote sequence must be independent, got %d", got)
	}
}

func TestMemorySaveDropsPendingEvents(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	sub, err := domain.OpenSubmission(7, domain.UserActor("owner"), "Steel", "", now.Add(time.Hour), now)
	if err != nil {
		t.Fatalf("new submission: %v", err)
	}
	if err := m.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ := m.GetSubmission(ctx, 7)
	if got == nil || got.Title != "Steel" {
		t.Fatalf("unexpected stored submission %+v", got)
	}
	if len(got.PendingEvents()) != 0 {
		t.Fatalf("stored copy must not carry events")
	}
	if len(sub.PendingEvents()) != 1 {
		t.Fatalf("caller's events must be untouched")
	}
}

func TestMemoryListFilters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i, sub := range []string{"a", "b", "a"} {
		_ = m.SaveQuote(ctx, &domain.SubmissionQuote{ID: int64(i + 1), SubmissionID: 7, SupplierUserID: sub})
	}
	_ = m.SaveQuote(ctx, &domain.SubmissionQuote{ID: 10, SubmissionID: 8, SupplierUserID: "a"})

	bySub, _ := m.ListQuotesBySubmission(ctx, 7)
	if len(bySub) != 3 {
		t.Fatalf("expected 3 quotes for submission 7, got %d", len(bySub))
	}
	bySupplier, _ := m.ListQuotesBySupplier(ctx, "a")
	if len(bySupplier) != 3 || bySupplier[0].ID != 1 || bySupplier[2].ID != 10 {
		t.Fatalf("unexpected supplier quotes %+v", bySupplier)
	}
	ids, _ := m.ListQuoteIDs(ctx)
	if len(ids) != 4 || ids[3] != 10 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := m.DeleteSubmission(ctx, 99); err != nil {
		t.Fatalf("deleting missing submission: %v", err)
	}
}
