package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"rfq-sync/domain"
)

var (
	// ErrMalformed is returned when a message body or payload cannot be decoded.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownKind is returned when no handler is routed for a message kind.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Envelope is the wire form of a published message.
type Envelope struct {
	ID            string             `json:"id"`
	Kind          domain.MessageKind `json:"kind"`
	Payload       json.RawMessage    `json:"payload"`
	PublishedAt   time.Time          `json:"publishedAt"`
	CorrelationID string             `json:"correlationId,omitempty"`
}

// NewEnvelope wraps msg with a fresh message id.
func NewEnvelope(ctx context.Context, msg domain.Message, now time.Time) (Envelope, error) {
	payload, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", msg.MessageKind(), err)
	}
	return Envelope{
		ID:            uuid.NewString(),
		Kind:          msg.MessageKind(),
		Payload:       payload,
		PublishedAt:   now.UTC(),
		CorrelationID: CorrelationID(ctx),
	}, nil
}

// Encode serialises the envelope.
func Encode(env Envelope) ([]byte, error) {
	return sonic.ConfigStd.Marshal(env)
}

// Decode parses a message body. A body without id or kind is malformed.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.ConfigStd.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.ID == "" || env.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing id or kind", ErrMalformed)
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into T.
func DecodePayload[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("%w: %s has empty payload", ErrMalformed, env.Kind)
	}
	if err := sonic.ConfigStd.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Kind, err)
	}
	return v, nil
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id that Publish copies onto envelopes.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id carried by ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
