package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"rfq-sync/domain"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "req-1")
	env, err := NewEnvelope(ctx, domain.IndexSubmissionQuote{QuoteID: 42}, time.Now())
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	body, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != env.ID || got.Kind != domain.IndexSubmissionQuoteKind || got.CorrelationID != "req-1" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	msg, err := DecodePayload[domain.IndexSubmissionQuote](got)
	if err != nil || msg.QuoteID != 42 {
		t.Fatalf("payload: %+v, %v", msg, err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, body := range []string{"not json", `{"kind":"IndexSubmission"}`, `{"id":"x"}`} {
		if _, err := Decode([]byte(body)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: expected ErrMalformed, got %v", body, err)
		}
	}
	env := Envelope{ID: "1", Kind: domain.IndexSubmissionKind, Payload: []byte(`{"submissionId":"x"}`)}
	if _, err := DecodePayload[domain.IndexSubmission](env); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for bad payload, got %v", err)
	}
}

func publish(t *testing.T, tr Transport, msg domain.Message) {
	t.Helper()
	if err := NewPublisher(tr, nil).Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func receiveOne(t *testing.T, tr *Memory) Delivery {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ds, err := tr.Receive(context.Background(), 1)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if len(ds) == 1 {
			return ds[0]
		}
	}
	t.Fatalf("no delivery within deadline")
	return nil
}

func TestConsumerAcksOnSuccess(t *testing.T) {
	tr := NewMemory()
	var got int64
	r := NewRouter().Handle(domain.IndexSubmissionKind, Typed(func(_ context.Context, _ Envelope, m domain.IndexSubmission) error {
		got = m.SubmissionID
		return nil
	}))
	logger, hook := test.NewNullLogger()
	c := NewConsumer(tr, r, ConsumerConfig{}, logger)

	publish(t, tr, domain.IndexSubmission{SubmissionID: 5})
	c.Process(context.Background(), receiveOne(t, tr))

	if got != 5 {
		t.Fatalf("handler not called with payload, got %d", got)
	}
	if len(tr.Pending()) != 0 || len(tr.DeadLetters()) != 0 {
		t.Fatalf("expected message settled")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "bus.consume.metrics" || entry.Data["outcome"] != "ack" {
		t.Fatalf("unexpected metrics entry %+v", entry)
	}
}

func TestConsumerRetriesThenDeadLetters(t *testing.T) {
	tr := NewMemory()
	boom := errors.New("search unavailable")
	var calls int
	r := NewRouter().Handle(domain.IndexSubmissionKind, func(context.Context, Envelope) error {
		calls++
		return boom
	})
	logger, hook := test.NewNullLogger()
	c := NewConsumer(tr, r, ConsumerConfig{MaxAttempts: 3, RetryInitial: time.Millisecond, RetryMax: 2 * time.Millisecond}, logger)

	publish(t, tr, domain.IndexSubmission{SubmissionID: 5})
	for i := 0; i < 3; i++ {
		c.Process(context.Background(), receiveOne(t, tr))
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	dead := tr.DeadLetters()
	if len(dead) != 1 || dead[0].Attempt != 3 || dead[0].Reason != boom.Error() {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
	if entry := hook.LastEntry(); entry.Level != log.ErrorLevel || entry.Data["outcome"] != "dead_letter" {
		t.Fatalf("unexpected final log entry %+v", entry)
	}
}

func TestConsumerDeadLettersMalformedImmediately(t *testing.T) {
	tr := NewMemory()
	_ = tr.Send(context.Background(), []byte("{broken"))
	logger, _ := test.NewNullLogger()
	c := NewConsumer(tr, NewRouter(), ConsumerConfig{}, logger)
	c.Process(context.Background(), receiveOne(t, tr))
	if dead := tr.DeadLetters(); len(dead) != 1 || dead[0].Attempt != 1 {
		t.Fatalf("expected immediate dead letter, got %+v", dead)
	}
}

func TestConsumerRetriesUnknownKind(t *testing.T) {
	tr := NewMemory()
	logger, _ := test.NewNullLogger()
	c := NewConsumer(tr, NewRouter(), ConsumerConfig{MaxAttempts: 2, RetryInitial: time.Millisecond, RetryMax: time.Millisecond}, logger)
	publish(t, tr, domain.RebuildQuoteIndex{})
	c.Process(context.Background(), receiveOne(t, tr))
	if len(tr.DeadLetters()) != 0 {
		t.Fatalf("first unknown-kind failure must be retried")
	}
	c.Process(context.Background(), receiveOne(t, tr))
	dead := tr.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("expected dead letter after max attempts, got %d", len(dead))
	}
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	tr := NewMemory()
	r := NewRouter().Handle(domain.IndexSubmissionKind, func(context.Context, Envelope) error { panic("nil map") })
	logger, _ := test.NewNullLogger()
	c := NewConsumer(tr, r, ConsumerConfig{MaxAttempts: 1}, logger)
	publish(t, tr, domain.IndexSubmission{SubmissionID: 1})
	c.Process(context.Background(), receiveOne(t, tr))
	if len(tr.DeadLetters()) != 1 {
		t.Fatalf("panicking handler should fail the delivery")
	}
}

func TestConsumerRecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	}()

	tr := NewMemory()
	r := NewRouter().Handle(domain.IndexSubmissionKind, func(context.Context, Envelope) error { return nil })
	logger, _ := test.NewNullLogger()
	c := NewConsumer(tr, r, ConsumerConfig{}, logger)
	publish(t, tr, domain.IndexSubmission{SubmissionID: 1})
	c.Process(context.Background(), receiveOne(t, tr))

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "bus.consume" {
		t.Fatalf("expected one bus.consume span, got %+v", spans)
	}
}

func TestConsumerRunProcessesConcurrently(t *testing.T) {
	tr := NewMemory()
	var inFlight, peak, done int32
	var mu sync.Mutex
	r := NewRouter().Handle(domain.IndexNotificationKind, func(context.Context, Envelope) error {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&done, 1)
		return nil
	})
	logger, _ := test.NewNullLogger()
	c := NewConsumer(tr, r, ConsumerConfig{Workers: 4, BatchSize: 4}, logger)
	for i := 0; i < 8; i++ {
		publish(t, tr, domain.IndexNotification{NotificationID: int64(i)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&done) < 8 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
	if done != 8 {
		t.Fatalf("expected 8 processed, got %d", done)
	}
	if peak < 2 {
		t.Fatalf("expected concurrent handling, peak %d", peak)
	}
}

func TestOnceSkipsDuplicatesAndReleasesOnFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	d := NewRedisDeduper(client, time.Minute, time.Hour)

	var calls int
	fail := true
	h := Once(d, "alerts", nil, func(context.Context, Envelope) error {
		calls++
		if fail {
			return errors.New("store down")
		}
		return nil
	})
	env := Envelope{ID: "m-1", Kind: domain.NewSubmissionQuoteKind}
	ctx := context.Background()

	if err := h(ctx, env); err == nil {
		t.Fatalf("expected failure to propagate")
	}
	if mr.Exists("dedup:alerts:m-1") {
		t.Fatalf("key must be released after failure")
	}
	fail = false
	if err := h(ctx, env); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := h(ctx, env); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice (fail + success), got %d", calls)
	}
}

func TestOnceRecoversClaimAfterCrash(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	d := NewRedisDeduper(client, 30*time.Second, time.Hour)
	ctx := context.Background()

	// A consumer claims the message and dies before settling it.
	if state, err := d.Claim(ctx, "alerts", "m-1"); err != nil || state != Claimed {
		t.Fatalf("claim = %v, %v", state, err)
	}

	var calls int
	h := Once(d, "alerts", nil, func(context.Context, Envelope) error {
		calls++
		return nil
	})
	env := Envelope{ID: "m-1", Kind: domain.NewSubmissionQuoteKind}

	if err := h(ctx, env); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress while claim is held, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("handler must not run while claimed, ran %d times", calls)
	}

	mr.FastForward(31 * time.Second)
	if err := h(ctx, env); err != nil {
		t.Fatalf("redelivery after claim expiry: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if v, _ := mr.Get("dedup:alerts:m-1"); v != "done" {
		t.Fatalf("expected confirmed key, got %q", v)
	}
	if ttl := mr.TTL("dedup:alerts:m-1"); ttl != time.Hour {
		t.Fatalf("confirmed key ttl = %v, want 1h", ttl)
	}

	if err := h(ctx, env); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("duplicate must be skipped, handler ran %d times", calls)
	}
}

func TestConsumerRetriesClaimedMessagePastAttemptLimit(t *testing.T) {
	tr := NewMemory()
	r := NewRouter().Handle(domain.IndexSubmissionKind, func(context.Context, Envelope) error {
		return fmt.Errorf("%w: m-1", ErrInProgress)
	})
	logger, _ := test.NewNullLogger()
	c := NewConsumer(tr, r, ConsumerConfig{MaxAttempts: 1, RetryInitial: time.Millisecond, RetryMax: time.Millisecond}, logger)

	publish(t, tr, domain.IndexSubmission{SubmissionID: 5})
	c.Process(context.Background(), receiveOne(t, tr))
	d := receiveOne(t, tr)
	if d.Attempt() != 2 {
		t.Fatalf("expected redelivery with attempt 2, got %d", d.Attempt())
	}
	if dead := tr.DeadLetters(); len(dead) != 0 {
		t.Fatalf("claimed message must not be dead-lettered: %+v", dead)
	}
}
