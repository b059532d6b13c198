package bus

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"rfq-sync/domain"
)

// Delivery is a received message that must be settled exactly once by the
// consumer: acknowledged, scheduled for redelivery, or dead-lettered.
type Delivery interface {
	Body() []byte
	// Attempt is the 1-based delivery count reported by the transport.
	Attempt() int
	Ack(ctx context.Context) error
	Retry(ctx context.Context, delay time.Duration) error
	DeadLetter(ctx context.Context, reason error) error
}

// Transport moves encoded envelopes between processes.
type Transport interface {
	Send(ctx context.Context, body []byte) error
	// Receive returns up to max deliveries. It may block until at least one
	// message is available or the transport's poll wait elapses.
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Close() error
}

// Publisher encodes messages and hands them to a transport. A failed publish
// is returned to the caller and never retried here.
type Publisher struct {
	transport Transport
	logger    log.FieldLogger
	now       func() time.Time
}

func NewPublisher(t Transport, logger log.FieldLogger) *Publisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Publisher{transport: t, logger: logger, now: time.Now}
}

// Publish sends msg wrapped in a new envelope.
func (p *Publisher) Publish(ctx context.Context, msg domain.Message) error {
	env, err := NewEnvelope(ctx, msg, p.now())
	if err != nil {
		return err
	}
	body, err := Encode(env)
	if err != nil {
		return err
	}
	if err := p.transport.Send(ctx, body); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"kind":       env.Kind,
			"message_id": env.ID,
		}).Warn("publish failed")
		return err
	}
	p.logger.WithFields(log.Fields{"kind": env.Kind, "message_id": env.ID}).Debug("message published")
	return nil
}
