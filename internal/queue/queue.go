// Package queue is a Redis-backed job queue for the best-effort side
// channels (email and in-app notifications). Jobs are retried a few
// times and then dropped; the database rows written by the primary
// action remain the source of truth either way.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docuflow/api/internal/util"
)

const (
	JobEmail        = "email"
	JobNotification = "notification"

	defaultKey = "docuflow:jobs"
)

type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

type EmailJob struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	HTML    bool     `json:"html"`
}

type NotificationJob struct {
	UserID     string            `json:"userId"`
	Type       string            `json:"type"`
	TitleKey   string            `json:"titleKey"`
	Params     map[string]string `json:"params"`
	DocumentID string            `json:"documentId,omitempty"`
	RevisionID string            `json:"revisionId,omitempty"`
}

type Queue struct {
	client *redis.Client
	key    string
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client, key: defaultKey}
}

func NewFromURL(redisURL string) (*Queue, error) {
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
	return New(client), nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) enqueue(ctx context.Context, jobType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	job := Job{
		ID:         util.NewID("job"),
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: time.Now(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	return nil
}

func (q *Queue) EnqueueEmail(ctx context.Context, job EmailJob) error {
	if len(job.To) == 0 {
		return nil
	}
	return q.enqueue(ctx, JobEmail, job)
}

func (q *Queue) EnqueueNotification(ctx context.Context, job NotificationJob) error {
	return q.enqueue(ctx, JobNotification, job)
}

// Len reports the number of waiting jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
