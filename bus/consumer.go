package bus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rfq-sync/domain"
)

const tracerName = "rfq-sync/bus"

// Handler executes the command carried by a message. Handlers must be safe
// to run more than once for the same envelope.
type Handler func(ctx context.Context, env Envelope) error

// Typed adapts a handler of a concrete payload type.
func Typed[T any](fn func(ctx context.Context, env Envelope, msg T) error) Handler {
	return func(ctx context.Context, env Envelope) error {
		msg, err := DecodePayload[T](env)
		if err != nil {
			return err
		}
		return fn(ctx, env, msg)
	}
}

// Router maps message kinds to handlers.
type Router struct {
	handlers map[domain.MessageKind]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[domain.MessageKind]Handler)}
}

// Handle registers h for kind. Registering a kind twice panics.
func (r *Router) Handle(kind domain.MessageKind, h Handler) *Router {
	if _, dup := r.handlers[kind]; dup {
		panic(fmt.Sprintf("bus: handler for %s already registered", kind))
	}
	r.handlers[kind] = h
	return r
}

// Kinds lists the routed kinds in lexical order.
func (r *Router) Kinds() []domain.MessageKind {
	out := make([]domain.MessageKind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Route runs the handler registered for env.Kind.
func (r *Router) Route(ctx context.Context, env Envelope) error {
	h, ok := r.handlers[env.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, env.Kind)
	}
	return h(ctx, env)
}

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	Workers       int
	BatchSize     int
	MaxAttempts   int
	RetryInitial  time.Duration
	RetryMax      time.Duration
	SettleTimeout time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = c.Workers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = time.Minute
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 10 * time.Second
	}
	return c
}

// Consumer receives deliveries from a transport and settles each one after
// routing it: ack on success, delayed redelivery on failure, dead letter
// once the attempt limit is reached. Malformed bodies are dead-lettered
// immediately; messages claimed by another consumer are always retried.
type Consumer struct {
	transport Transport
	router    *Router
	cfg       ConsumerConfig
	logger    *log.Logger
	tracer    trace.Tracer
}

func NewConsumer(t Transport, r *Router, cfg ConsumerConfig, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Consumer{
		transport: t,
		router:    r,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Run consumes until ctx is cancelled, then waits for in-flight deliveries.
func (c *Consumer) Run(ctx context.Context) error {
	sem := make(chan struct{}, c.cfg.Workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		deliveries, err := c.transport.Receive(ctx, c.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			delay := exponentialBackoff(failures, c.cfg.RetryInitial, c.cfg.RetryMax)
			c.logger.WithError(err).WithField("retry_in", delay.String()).Error("receive failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		for _, d := range deliveries {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func(d Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				c.Process(ctx, d)
			}(d)
		}
	}
}

// Process handles and settles a single delivery.
func (c *Consumer) Process(ctx context.Context, d Delivery) {
	m := newConsumeMetrics(c.logger, d.Attempt())

	decodeStart := time.Now()
	env, err := Decode(d.Body())
	m.ObserveDecode(time.Since(decodeStart))
	if err != nil {
		m.SetOutcome("dead_letter")
		c.settle(ctx, func(sctx context.Context) error { return d.DeadLetter(sctx, err) }, m)
		m.Log(err)
		return
	}
	m.SetEnvelope(env)

	ctx, span := c.tracer.Start(ctx, "bus.consume", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message.kind", string(env.Kind)),
			attribute.String("messaging.message.id", env.ID),
			attribute.Int("messaging.delivery.attempt", d.Attempt()),
		))
	defer span.End()
	if env.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, env.CorrelationID)
	}

	handleStart := time.Now()
	err = c.safeRoute(ctx, env)
	m.ObserveHandle(time.Since(handleStart))

	switch {
	case err == nil:
		m.SetOutcome("ack")
		c.settle(ctx, d.Ack, m)
	case errors.Is(err, ErrMalformed):
		m.SetOutcome("dead_letter")
		c.settle(ctx, func(sctx context.Context) error { return d.DeadLetter(sctx, err) }, m)
	case d.Attempt() >= c.cfg.MaxAttempts && !errors.Is(err, ErrInProgress):
		m.SetOutcome("dead_letter")
		c.settle(ctx, func(sctx context.Context) error { return d.DeadLetter(sctx, err) }, m)
	default:
		delay := exponentialBackoff(d.Attempt(), c.cfg.RetryInitial, c.cfg.RetryMax)
		m.SetOutcome("retry")
		m.SetRetryDelay(delay)
		c.settle(ctx, func(sctx context.Context) error { return d.Retry(sctx, delay) }, m)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	m.Log(err)
}

func (c *Consumer) safeRoute(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", env.Kind, r)
		}
	}()
	return c.router.Route(ctx, env)
}

// settle runs fn on a context that survives shutdown so in-flight messages
// are not left unsettled.
func (c *Consumer) settle(ctx context.Context, fn func(context.Context) error, m *consumeMetrics) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.SettleTimeout)
	defer cancel()
	if err := fn(sctx); err != nil {
		m.SetSettleError(err)
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial <= 0 {
			return time.Second
		}
		return initial
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
