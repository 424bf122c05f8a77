package logpipeline

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/netraven-io/netraven-core/pkg/model"
)

func TestChannelSinkPublishesJSON(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "netraven:logs")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Receive (subscribe confirm): %v", err)
	}

	sink := NewChannelSink(client, "netraven:logs")
	jobID := int64(42)
	if err := sink.Write(ctx, model.Log{Message: "hello", JobID: &jobID}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.Channel != "netraven:logs" {
		t.Errorf("Channel = %q", msg.Channel)
	}
	if msg.Payload == "" {
		t.Errorf("expected non-empty published payload")
	}
}
