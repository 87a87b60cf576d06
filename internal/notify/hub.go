// Package notify carries live UI updates over Redis pub/sub and turns
// queued notification jobs into inbox rows. Both paths are best-effort:
// callers log failures and move on, the database rows written by the
// primary action are the source of truth.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ChannelApprovals is the shared topic for approval lifecycle
	// events; clients filter on TargetUserID.
	ChannelApprovals = "approvals"

	userChannelPrefix = "user:"
)

// Event is the payload published on a channel. TargetUserID lets
// clients on the shared channel discard events meant for someone else.
type Event struct {
	Type         string         `json:"type"`
	TargetUserID string         `json:"targetUserId,omitempty"`
	DocumentID   string         `json:"documentId,omitempty"`
	RevisionID   string         `json:"revisionId,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurredAt"`
}

type Hub struct {
	client *redis.Client
}

func NewHub(client *redis.Client) *Hub {
	return &Hub{client: client}
}

func NewHubFromURL(redisURL string) (*Hub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewHub(client), nil
}

func (h *Hub) Close() error {
	return h.client.Close()
}

func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

func (h *Hub) Publish(ctx context.Context, channel string, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe delivers events from the given channels until the context
// is cancelled. Undecodable messages are dropped.
func (h *Hub) Subscribe(ctx context.Context, channels ...string) (<-chan Event, func()) {
	sub := h.client.Subscribe(ctx, channels...)
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, func() { _ = sub.Close() }
}
