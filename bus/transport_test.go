package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"

	"rfq-sync/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	dequeue  []*azqueue.DequeuedMessage
	deleted  []string
	updated  map[string]int32
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{updated: map[string]int32{}}
}

func (f *fakeQueue) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) DequeueMessages(_ context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.dequeue)
	if o != nil && o.NumberOfMessages != nil && int(*o.NumberOfMessages) < n {
		n = int(*o.NumberOfMessages)
	}
	msgs := f.dequeue[:n]
	f.dequeue = f.dequeue[n:]
	return azqueue.DequeueMessagesResponse{Messages: msgs}, nil
}

func (f *fakeQueue) DeleteMessage(_ context.Context, id, _ string, _ *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return azqueue.DeleteMessageResponse{}, nil
}

func (f *fakeQueue) UpdateMessage(_ context.Context, id, _ string, _ string, o *azqueue.UpdateMessageOptions) (azqueue.UpdateMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o != nil && o.VisibilityTimeout != nil {
		f.updated[id] = *o.VisibilityTimeout
	}
	return azqueue.UpdateMessageResponse{}, nil
}

func TestAzureQueueSettlement(t *testing.T) {
	q, poison := newFakeQueue(), newFakeQueue()
	q.dequeue = []*azqueue.DequeuedMessage{
		{MessageID: to.Ptr("a"), PopReceipt: to.Ptr("r1"), MessageText: to.Ptr("body-a"), DequeueCount: to.Ptr(int64(1))},
		{MessageID: to.Ptr("b"), PopReceipt: to.Ptr("r2"), MessageText: to.Ptr("body-b"), DequeueCount: to.Ptr(int64(4))},
		{MessageID: to.Ptr("c"), PopReceipt: to.Ptr("r3"), MessageText: to.Ptr("body-c"), DequeueCount: to.Ptr(int64(2))},
	}
	tr := newAzureQueue(q, poison, AzureQueueConfig{Queue: "messages"}, nil)
	ctx := context.Background()

	ds, err := tr.Receive(ctx, 10)
	if err != nil || len(ds) != 3 {
		t.Fatalf("receive: %d, %v", len(ds), err)
	}
	if ds[1].Attempt() != 4 || string(ds[1].Body()) != "body-b" {
		t.Fatalf("unexpected delivery %d %q", ds[1].Attempt(), ds[1].Body())
	}
	if err := ds[0].Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := ds[1].DeadLetter(ctx, errors.New("gave up")); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if err := ds[2].Retry(ctx, 1500*time.Millisecond); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if len(q.deleted) != 2 || q.deleted[0] != "a" || q.deleted[1] != "b" {
		t.Fatalf("unexpected deletes %v", q.deleted)
	}
	if len(poison.enqueued) != 1 || poison.enqueued[0] != "body-b" {
		t.Fatalf("unexpected poison queue %v", poison.enqueued)
	}
	if q.updated["c"] != 2 {
		t.Fatalf("retry visibility should round up to 2s, got %d", q.updated["c"])
	}
}

func TestAzureQueueEmptyReceiveWaitsPollInterval(t *testing.T) {
	tr := newAzureQueue(newFakeQueue(), newFakeQueue(), AzureQueueConfig{Queue: "q", PollInterval: 10 * time.Millisecond}, nil)
	start := time.Now()
	ds, err := tr.Receive(context.Background(), 1)
	if err != nil || len(ds) != 0 {
		t.Fatalf("expected empty receive, got %d, %v", len(ds), err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("empty receive should wait for the poll interval")
	}
}

type fakeCreator struct{ err error }

func (f fakeCreator) Create(context.Context, *azqueue.CreateOptions) (azqueue.CreateResponse, error) {
	return azqueue.CreateResponse{}, f.err
}

func TestCreateQueueToleratesExisting(t *testing.T) {
	if err := createQueue(context.Background(), fakeCreator{err: &azcore.ResponseError{ErrorCode: "QueueAlreadyExists"}}); err != nil {
		t.Fatalf("existing queue must not fail: %v", err)
	}
	boom := errors.New("forbidden")
	if err := createQueue(context.Background(), fakeCreator{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

type fakeKafka struct {
	mu        sync.Mutex
	written   []kafka.Message
	fetch     []kafka.Message
	committed []int64
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, msgs...)
	return nil
}

func (f *fakeKafka) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.fetch) > 0 {
		m := f.fetch[0]
		f.fetch = f.fetch[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeKafka) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeKafka) Close() error { return nil }

func TestKafkaRetryRepublishesWithAttempt(t *testing.T) {
	fk := &fakeKafka{fetch: []kafka.Message{{Topic: "rfq", Offset: 7, Value: []byte("body")}}}
	tr := newKafka(fk, fk, KafkaConfig{Topic: "rfq", PollWait: 10 * time.Millisecond}, nil)
	clock := time.Now()
	tr.now = func() time.Time { return clock }
	ctx := context.Background()

	ds, err := tr.Receive(ctx, 5)
	if err != nil || len(ds) != 1 {
		t.Fatalf("receive: %d, %v", len(ds), err)
	}
	if ds[0].Attempt() != 1 {
		t.Fatalf("first delivery attempt should be 1, got %d", ds[0].Attempt())
	}
	if err := ds[0].Retry(ctx, time.Millisecond); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(fk.committed) != 1 || fk.committed[0] != 7 {
		t.Fatalf("original offset must be committed, got %v", fk.committed)
	}
	if len(fk.written) != 1 || headerInt(fk.written[0].Headers, attemptHeader, 0) != 2 {
		t.Fatalf("unexpected republish %+v", fk.written)
	}

	fk.fetch = append(fk.fetch, fk.written[0])
	clock = clock.Add(2 * time.Millisecond)
	ds, err = tr.Receive(ctx, 1)
	if err != nil || len(ds) != 1 || ds[0].Attempt() != 2 {
		t.Fatalf("redelivery: %v %v", ds, err)
	}
	if err := ds[0].DeadLetter(ctx, errors.New("boom")); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	last := fk.written[len(fk.written)-1]
	if last.Topic != "rfq.dlq" {
		t.Fatalf("expected dead letter topic, got %s", last.Topic)
	}
	if v, _ := headerValue(last.Headers, reasonHeader); v != "boom" {
		t.Fatalf("unexpected reason header %q", v)
	}
}

func (f *fakeKafka) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func kafkaEnvelope(t *testing.T, offset int64, msg domain.Message) kafka.Message {
	t.Helper()
	env, err := NewEnvelope(context.Background(), msg, time.Now())
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	body, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return kafka.Message{Topic: "rfq", Partition: 0, Offset: offset, Value: body}
}

func TestKafkaCommitsOnlySettledPrefix(t *testing.T) {
	fk := &fakeKafka{fetch: []kafka.Message{
		kafkaEnvelope(t, 1, domain.IndexSubmission{SubmissionID: 1}),
		kafkaEnvelope(t, 2, domain.IndexSubmission{SubmissionID: 2}),
	}}
	tr := newKafka(fk, fk, KafkaConfig{Topic: "rfq", PollWait: 10 * time.Millisecond}, nil)

	release := make(chan struct{})
	fastDone := make(chan struct{})
	r := NewRouter().Handle(domain.IndexSubmissionKind, Typed(func(_ context.Context, _ Envelope, m domain.IndexSubmission) error {
		if m.SubmissionID == 1 {
			<-release
			return nil
		}
		close(fastDone)
		return nil
	}))
	logger, _ := test.NewNullLogger()
	c := NewConsumer(tr, r, ConsumerConfig{Workers: 2, BatchSize: 2}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast message was not handled")
	}
	// Give the fast delivery time to settle.
	time.Sleep(50 * time.Millisecond)
	if got := fk.commits(); len(got) != 0 {
		t.Fatalf("committed %v while offset 1 is still in flight", got)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for len(fk.commits()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fk.commits(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected a single commit of offset 2, got %v", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestKafkaCommitOutOfOrderAcks(t *testing.T) {
	fk := &fakeKafka{fetch: []kafka.Message{
		{Topic: "rfq", Partition: 0, Offset: 10},
		{Topic: "rfq", Partition: 0, Offset: 11},
		{Topic: "rfq", Partition: 1, Offset: 3},
		{Topic: "rfq", Partition: 0, Offset: 12},
	}}
	tr := newKafka(fk, fk, KafkaConfig{Topic: "rfq", PollWait: 10 * time.Millisecond}, nil)
	ctx := context.Background()
	ds, err := tr.Receive(ctx, 4)
	if err != nil || len(ds) != 4 {
		t.Fatalf("receive: %d, %v", len(ds), err)
	}

	steps := []struct {
		ack  int
		want []int64
	}{
		{3, nil},                // offset 12 waits for 10 and 11
		{2, []int64{3}},         // partition 1 is independent
		{0, []int64{3, 10}},     // 10 settled, 11 still open
		{1, []int64{3, 10, 12}}, // 11 releases everything up to 12
	}
	for _, st := range steps {
		if err := ds[st.ack].Ack(ctx); err != nil {
			t.Fatalf("ack: %v", err)
		}
		got := fk.commits()
		if len(got) != len(st.want) {
			t.Fatalf("after ack %d: committed %v, want %v", st.ack, got, st.want)
		}
		for i := range got {
			if got[i] != st.want[i] {
				t.Fatalf("after ack %d: committed %v, want %v", st.ack, got, st.want)
			}
		}
	}
}

func TestKafkaDelayedRetryDoesNotBlockReceive(t *testing.T) {
	clock := time.Now()
	notBefore := clock.Add(time.Minute).UTC().Format(time.RFC3339Nano)
	fk := &fakeKafka{fetch: []kafka.Message{
		{Topic: "rfq", Offset: 1, Value: []byte("retried"), Headers: []kafka.Header{
			{Key: attemptHeader, Value: []byte("2")},
			{Key: notBeforeHeader, Value: []byte(notBefore)},
		}},
		{Topic: "rfq", Offset: 2, Value: []byte("fresh")},
	}}
	tr := newKafka(fk, fk, KafkaConfig{Topic: "rfq", PollWait: 10 * time.Millisecond}, nil)
	tr.now = func() time.Time { return clock }
	ctx := context.Background()

	start := time.Now()
	ds, err := tr.Receive(ctx, 2)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("receive blocked for %v", elapsed)
	}
	if len(ds) != 1 || string(ds[0].Body()) != "fresh" {
		t.Fatalf("expected only the fresh message, got %d deliveries", len(ds))
	}
	if err := ds[0].Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if got := fk.commits(); len(got) != 0 {
		t.Fatalf("held retry must keep the partition uncommitted, got %v", got)
	}

	clock = clock.Add(2 * time.Minute)
	ds, err = tr.Receive(ctx, 2)
	if err != nil || len(ds) != 1 || string(ds[0].Body()) != "retried" || ds[0].Attempt() != 2 {
		t.Fatalf("expected the held retry once due, got %d deliveries, %v", len(ds), err)
	}
	if err := ds[0].Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if got := fk.commits(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected commit of offset 2, got %v", got)
	}
}
