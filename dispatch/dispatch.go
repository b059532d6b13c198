// Package dispatch fans committed domain events out to in-process handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rfq-sync/domain"
)

// Handler reacts to one domain event. Name identifies it in logs.
type Handler struct {
	Name string
	Fn   func(ctx context.Context, ev domain.Event) error
}

// Table maps event kinds to ordered handler lists. It is built once at
// startup and read-only afterwards.
type Table struct {
	handlers map[domain.EventKind][]Handler
}

func NewTable() *Table {
	return &Table{handlers: make(map[domain.EventKind][]Handler)}
}

// On appends handlers for kind, preserving registration order.
func (t *Table) On(kind domain.EventKind, hs ...Handler) *Table {
	for _, h := range hs {
		if h.Fn == nil {
			panic(fmt.Sprintf("dispatch: nil handler %q for %s", h.Name, kind))
		}
	}
	t.handlers[kind] = append(t.handlers[kind], hs...)
	return t
}

// Handlers returns the handlers registered for kind.
func (t *Table) Handlers(kind domain.EventKind) []Handler {
	return t.handlers[kind]
}

// Dispatcher runs the handlers of a Table.
type Dispatcher struct {
	table  *Table
	logger log.FieldLogger
	tracer trace.Tracer
}

func New(table *Table, logger log.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Dispatcher{table: table, logger: logger, tracer: otel.Tracer("rfq-sync/dispatch")}
}

// Dispatch invokes every handler registered for each event in order. A
// failing handler is logged and does not stop the others. Cancellation stops
// the remaining handlers; the returned error joins ctx.Err with the
// collected handler errors.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, span := d.tracer.Start(ctx, "dispatch", trace.WithAttributes(attribute.Int("events", len(events))))
	defer span.End()

	var errs []error
	for _, ev := range events {
		for _, h := range d.table.Handlers(ev.Kind) {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				return d.finish(span, errs)
			}
			if err := d.run(ctx, h, ev); err != nil {
				d.logger.WithError(err).WithFields(log.Fields{
					"event":     ev.Kind,
					"entity_id": ev.EntityID,
					"handler":   h.Name,
				}).Error("event handler failed")
				span.AddEvent("handler failed", trace.WithAttributes(
					attribute.String("handler", h.Name),
					attribute.String("event", string(ev.Kind)),
				))
				errs = append(errs, fmt.Errorf("%s on %s: %w", h.Name, ev.Kind, err))
			}
		}
	}
	return d.finish(span, errs)
}

func (d *Dispatcher) run(ctx context.Context, h Handler, ev domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Fn(ctx, ev)
}

func (d *Dispatcher) finish(span trace.Span, errs []error) error {
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
