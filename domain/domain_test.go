package domain

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func kinds(evs []Event) []EventKind {
	out := make([]EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestNotificationReadIsMonotonic(t *testing.T) {
	n, err := CreateNotification(3, "buyer", "t", "", NotificationQuoteReceived, nil, SystemIdentity, now)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	if !n.MarkRead(UserActor("buyer"), now) {
		t.Fatal("first MarkRead must change the status")
	}
	if n.MarkRead(UserActor("buyer"), now.Add(time.Minute)) {
		t.Fatal("second MarkRead must be a no-op")
	}
	got := kinds(n.PullEvents())
	if len(got) != 2 || got[0] != NotificationCreated || got[1] != NotificationStatusUpdated {
		t.Fatalf("unexpected events %v", got)
	}
	if len(n.PullEvents()) != 0 {
		t.Fatal("PullEvents must clear the queue")
	}
}

func TestNotificationSnapshotCopiesData(t *testing.T) {
	n, _ := CreateNotification(1, "buyer", "t", "", NotificationQuoteReceived, []byte(`{"quoteId":42}`), SystemIdentity, now)
	snap := n.PendingEvents()[0].Notification
	n.Data[2] = 'X'
	if string(snap.Data) != `{"quoteId":42}` {
		t.Fatalf("snapshot shares data with entity: %s", snap.Data)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	owner := UserActor("buyer")
	s, err := OpenSubmission(7, owner, "  Steel  ", "", now.Add(time.Hour), now)
	if err != nil || s.Title != "Steel" {
		t.Fatalf("new submission: %+v %v", s, err)
	}
	title := "Steel"
	if changed, _ := s.Update(owner, SubmissionChanges{Title: &title}, now); changed {
		t.Fatal("identical title must not count as a change")
	}
	if s.Expired(now) || !s.Expired(now.Add(2*time.Hour)) {
		t.Fatal("unexpected expiry")
	}
	if !s.Close(SystemIdentity, now) || s.Close(SystemIdentity, now) {
		t.Fatal("close must apply once")
	}
	if s.ModifiedBy != SystemIdentity.String() {
		t.Fatalf("modified by %q", s.ModifiedBy)
	}
	if _, err := s.Update(owner, SubmissionChanges{Title: &title}, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("update closed submission: %v", err)
	}
	if _, err := CreateSubmissionQuote(1, s, UserActor("supplier"), 10, "eur", "", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("quote on closed submission: %v", err)
	}
	got := kinds(s.PullEvents())
	if len(got) != 2 || got[0] != SubmissionCreated || got[1] != SubmissionUpdated {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestQuoteStatusTransitions(t *testing.T) {
	s, _ := OpenSubmission(7, UserActor("buyer"), "Steel", "", time.Time{}, now)
	tests := []struct {
		name    string
		from    QuoteStatus
		to      QuoteStatus
		changed bool
		wantErr error
	}{
		{"accept pending", QuotePending, QuoteAccepted, true, nil},
		{"same status", QuoteRejected, QuoteRejected, false, nil},
		{"reopen accepted", QuoteAccepted, QuotePending, false, ErrInvalidTransition},
		{"pending to unknown", QuotePending, QuoteStatus("Lost"), false, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := CreateSubmissionQuote(42, s, UserActor("supplier"), 100, " eur ", "", now)
			if err != nil {
				t.Fatalf("new quote: %v", err)
			}
			if q.Currency != "EUR" {
				t.Fatalf("currency %q", q.Currency)
			}
			q.Status = tt.from
			changed, err := q.SetStatus(UserActor("buyer"), tt.to, now)
			if changed != tt.changed || !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetStatus = %v, %v", changed, err)
			}
		})
	}
}

func TestActorString(t *testing.T) {
	if SystemIdentity.String() == UserActor("system").String() {
		t.Fatal("system identity must be distinguishable from a user named system")
	}
	if !(Actor{}).IsZero() || SystemIdentity.IsZero() {
		t.Fatal("unexpected IsZero")
	}
}
