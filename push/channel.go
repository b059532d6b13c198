// Package push delivers live notifications to connected users.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// NotificationEvent is the SSE event name used for new notifications.
const NotificationEvent = "notification"

// ErrEmptyGroup is returned when a message has no target group.
var ErrEmptyGroup = errors.New("push message without group")

// Message is addressed to every live connection of a group. Groups are
// named by user id.
type Message struct {
	Group string          `json:"group"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessage encodes data as the payload of event for group.
func NewMessage(group, event string, data any) (Message, error) {
	if group == "" {
		return Message{}, ErrEmptyGroup
	}
	raw, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode push payload: %w", err)
	}
	return Message{Group: group, Event: event, Data: raw}, nil
}

// Channel sends messages to live connections. Messages for a group without
// connections are dropped.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// RedisChannel publishes messages on a redis pub/sub channel so that any
// stream service instance holding the user's connection can forward them.
type RedisChannel struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisChannel(client redis.UniversalClient, channel string) *RedisChannel {
	return &RedisChannel{client: client, channel: channel}
}

func (r *RedisChannel) Send(ctx context.Context, msg Message) error {
	if msg.Group == "" {
		return ErrEmptyGroup
	}
	body, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}
