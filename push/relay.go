package push

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const relayReconnectDelay = time.Second

// Relay forwards messages published on a redis channel into dst until ctx
// is cancelled. A closed subscription is re-established.
func Relay(ctx context.Context, client redis.UniversalClient, channel string, dst Channel, logger log.FieldLogger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger = logger.WithField("channel", channel)
	for {
		sub := client.Subscribe(ctx, channel)
		forward(ctx, sub.Channel(), dst, logger)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(relayReconnectDelay):
		}
	}
}

func forward(ctx context.Context, ch <-chan *redis.Message, dst Channel, logger log.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := sonic.UnmarshalString(m.Payload, &msg); err != nil {
				logger.WithError(err).Error("unable to parse push message")
				continue
			}
			if err := dst.Send(ctx, msg); err != nil {
				logger.WithError(err).WithField("group", msg.Group).Error("forward push message")
			}
		}
	}
}
