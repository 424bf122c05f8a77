package logpipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// ChannelSink publishes each Log record as JSON to a Redis channel,
// letting a live log tail subscribe without touching the database.
type ChannelSink struct {
	client  *redis.Client
	channel string
}

// NewChannelSink builds a ChannelSink publishing to channel.
func NewChannelSink(client *redis.Client, channel string) *ChannelSink {
	return &ChannelSink{client: client, channel: channel}
}

func (s *ChannelSink) Write(ctx context.Context, l model.Log) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshaling log for publish: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing log to %s: %w", s.channel, err)
	}
	return nil
}

func (s *ChannelSink) Close() error { return nil }
