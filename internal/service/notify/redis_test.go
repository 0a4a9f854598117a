package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

// testContext mirrors testing.T.Context (Go 1.24+): canceled when the test's cleanups run.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// asyncReceive must start before Publish; miniredis delivers synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func TestPublishSendsJSONEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	pub, err := NewRedisPublisher(client, "")
	if err != nil {
		t.Fatalf("NewRedisPublisher err: %v", err)
	}
	if pub.Channel() != DefaultChannel {
		t.Fatalf("expected default channel, got %s", pub.Channel())
	}

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	event := Event{ID: "c1-s1", CandidateID: "c1", SessionID: "s1", Outcome: "completed", Chunks: 2, Bytes: 6}
	if err := pub.Publish(testContext(t), event); err != nil {
		t.Fatalf("Publish err: %v", err)
	}

	var msg miniredis.PubsubMessage
	select {
	case msg = <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
	}

	var received Event
	if err := json.Unmarshal([]byte(msg.Message), &received); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if received.EventType != EventType {
		t.Fatalf("expected event type %s, got %s", EventType, received.EventType)
	}
	if received.ID != "c1-s1" || received.Bytes != 6 {
		t.Fatalf("unexpected event: %+v", received)
	}
	if received.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be filled")
	}
}

func TestPublishReportsConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = client.Close() }()

	pub, err := NewRedisPublisher(client, "custom")
	if err != nil {
		t.Fatalf("NewRedisPublisher err: %v", err)
	}

	mr.Close()

	if err := pub.Publish(testContext(t), Event{ID: "x"}); err == nil {
		t.Fatal("expected publish error after server shutdown")
	}
}

func TestNewRedisPublisherRequiresClient(t *testing.T) {
	if _, err := NewRedisPublisher(nil, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
}
