package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

const (
	attemptHeader   = "rfq-attempt"
	notBeforeHeader = "rfq-not-before"
	reasonHeader    = "rfq-dead-letter-reason"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka transport.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// DeadLetterTopic defaults to "{Topic}.dlq".
	DeadLetterTopic string
	// PollWait bounds how long Receive waits for the first message.
	PollWait time.Duration
}

// Kafka is a Transport on a single topic. Retries are re-published with an
// attempt counter and a not-before time; the original offset is committed.
//
// Kafka commits are per-partition high-water marks, so an offset is only
// committed once every earlier offset fetched from its partition has been
// settled. Deliveries may still be settled in any order.
type Kafka struct {
	writer   kafkaWriter
	reader   kafkaReader
	topic    string
	dlq      string
	pollWait time.Duration
	logger   log.FieldLogger
	now      func() time.Time

	mu      sync.Mutex
	offsets map[int]*partitionOffsets
	// held are fetched retries whose not-before time has not passed yet.
	held []*kafkaDelivery
}

// partitionOffsets tracks fetched offsets of one partition in fetch order.
type partitionOffsets struct {
	inFlight []int64
	settled  map[int64]kafka.Message
}

func NewKafka(cfg KafkaConfig, logger log.FieldLogger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka transport requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka transport requires a topic")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka transport requires group id")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return newKafka(w, r, cfg, logger), nil
}

func newKafka(w kafkaWriter, r kafkaReader, cfg KafkaConfig, logger log.FieldLogger) *Kafka {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = cfg.Topic + ".dlq"
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 250 * time.Millisecond
	}
	return &Kafka{
		writer:   w,
		reader:   r,
		topic:    cfg.Topic,
		dlq:      cfg.DeadLetterTopic,
		pollWait: cfg.PollWait,
		logger:   logger,
		now:      time.Now,
		offsets:  make(map[int]*partitionOffsets),
	}
}

func (k *Kafka) Send(ctx context.Context, body []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Value: body,
		Time:  k.now().UTC(),
	})
}

// Receive fetches until limit messages are read or the poll wait elapses.
// A retried message fetched before its not-before time is held back and
// returned by a later call once it is due.
func (k *Kafka) Receive(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 1
	}
	out := k.releaseDue(limit)
	for len(out) < limit {
		readCtx, cancel := context.WithTimeout(ctx, k.pollWait)
		msg, err := k.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				return out, nil
			case ctx.Err() != nil:
				return out, ctx.Err()
			default:
				return out, err
			}
		}
		d := &kafkaDelivery{k: k, msg: msg, attempt: headerInt(msg.Headers, attemptHeader, 1)}
		k.track(msg)
		if nb, ok := headerTime(msg.Headers, notBeforeHeader); ok && nb.After(k.now()) {
			d.notBefore = nb
			k.hold(d)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (k *Kafka) hold(d *kafkaDelivery) {
	k.mu.Lock()
	k.held = append(k.held, d)
	k.mu.Unlock()
}

// releaseDue removes up to limit held deliveries that are due.
func (k *Kafka) releaseDue(limit int) []Delivery {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]Delivery, 0, limit)
	now := k.now()
	kept := k.held[:0]
	for _, d := range k.held {
		if len(out) < limit && !d.notBefore.After(now) {
			out = append(out, d)
			continue
		}
		kept = append(kept, d)
	}
	k.held = kept
	return out
}

func (k *Kafka) track(msg kafka.Message) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.offsets[msg.Partition]
	if !ok {
		p = &partitionOffsets{settled: make(map[int64]kafka.Message)}
		k.offsets[msg.Partition] = p
	}
	p.inFlight = append(p.inFlight, msg.Offset)
}

// commit marks msg settled and commits the highest offset of its partition
// whose predecessors are all settled. The lock is held across the commit so
// commits of one transport never go backwards. A delivery whose settlement
// failed is never marked, which keeps its partition uncommitted from there
// on and lets a restart redeliver it.
func (k *Kafka) commit(ctx context.Context, msg kafka.Message) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.offsets[msg.Partition]
	if !ok {
		return k.reader.CommitMessages(ctx, msg)
	}
	p.settled[msg.Offset] = msg
	var (
		last  kafka.Message
		ready bool
	)
	for len(p.inFlight) > 0 {
		m, done := p.settled[p.inFlight[0]]
		if !done {
			break
		}
		delete(p.settled, p.inFlight[0])
		p.inFlight = p.inFlight[1:]
		last, ready = m, true
	}
	if !ready {
		return nil
	}
	return k.reader.CommitMessages(ctx, last)
}

func (k *Kafka) Close() error {
	return errors.Join(k.reader.Close(), k.writer.Close())
}

func headerValue(hs []kafka.Header, key string) (string, bool) {
	for _, h := range hs {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func headerInt(hs []kafka.Header, key string, def int) int {
	v, ok := headerValue(hs, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func headerTime(hs []kafka.Header, key string) (time.Time, bool) {
	v, ok := headerValue(hs, key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	return t, err == nil
}

type kafkaDelivery struct {
	k         *Kafka
	msg       kafka.Message
	attempt   int
	notBefore time.Time
}

func (d *kafkaDelivery) Body() []byte { return d.msg.Value }
func (d *kafkaDelivery) Attempt() int { return d.attempt }

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	return d.k.commit(ctx, d.msg)
}

func (d *kafkaDelivery) Retry(ctx context.Context, delay time.Duration) error {
	err := d.k.writer.WriteMessages(ctx, kafka.Message{
		Topic: d.k.topic,
		Key:   d.msg.Key,
		Value: d.msg.Value,
		Time:  d.k.now().UTC(),
		Headers: []kafka.Header{
			{Key: attemptHeader, Value: []byte(strconv.Itoa(d.attempt + 1))},
			{Key: notBeforeHeader, Value: []byte(d.k.now().Add(delay).UTC().Format(time.RFC3339Nano))},
		},
	})
	if err != nil {
		return err
	}
	return d.Ack(ctx)
}

func (d *kafkaDelivery) DeadLetter(ctx context.Context, reason error) error {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	err := d.k.writer.WriteMessages(ctx, kafka.Message{
		Topic: d.k.dlq,
		Key:   d.msg.Key,
		Value: d.msg.Value,
		Time:  d.k.now().UTC(),
		Headers: []kafka.Header{
			{Key: attemptHeader, Value: []byte(strconv.Itoa(d.attempt))},
			{Key: reasonHeader, Value: []byte(msg)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", d.k.dlq, err)
	}
	d.k.logger.WithError(reason).WithFields(log.Fields{
		"topic":     d.msg.Topic,
		"partition": d.msg.Partition,
		"offset":    d.msg.Offset,
	}).Warn("message moved to dead letter topic")
	return d.Ack(ctx)
}
