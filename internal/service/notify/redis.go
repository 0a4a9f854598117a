// Package notify publishes upload completion events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "recstream:upload_finished"

// DefaultTimeout bounds a single publish.
const DefaultTimeout = 5 * time.Second

// EventType identifies the event payload.
const EventType = "upload_finished"

// Event is published once per finished upload session.
type Event struct {
	EventType       string    `json:"event_type"`
	ID              string    `json:"id"`
	CandidateID     string    `json:"candidate_id"`
	SessionID       string    `json:"session_id"`
	File            string    `json:"file"`
	Outcome         string    `json:"outcome"`
	Error           string    `json:"error,omitempty"`
	Chunks          int       `json:"chunks"`
	Bytes           int64     `json:"bytes"`
	DurationMs      int64     `json:"duration_ms"`
	ArchiveLocation string    `json:"archive_location,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// RedisPublisher publishes events as JSON via Redis PUBLISH.
type RedisPublisher struct {
	client  goredis.UniversalClient
	channel string
	timeout time.Duration
}

// NewRedisPublisher wraps an existing client. An empty channel falls back to
// DefaultChannel.
func NewRedisPublisher(client goredis.UniversalClient, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("notify: redis client required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, timeout: DefaultTimeout}, nil
}

// Publish sends event to the configured channel.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.EventType == "" {
		event.EventType = EventType
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", p.channel, err)
	}
	return nil
}

// Channel returns the channel events are published to.
func (p *RedisPublisher) Channel() string {
	return p.channel
}
