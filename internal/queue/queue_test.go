package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupQueue(t *testing.T) *Queue {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestEnqueueAndProcessEmail(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	err := q.EnqueueEmail(ctx, EmailJob{
		To:      []string{"approver@example.com"},
		Subject: "Approval requested",
		Body:    "Please review DOC-001",
	})
	if err != nil {
		t.Fatalf("EnqueueEmail failed: %v", err)
	}

	var got EmailJob
	worker := NewWorker(q, func(ctx context.Context, job Job) error {
		if job.Type != JobEmail {
			t.Errorf("expected email job, got %s", job.Type)
		}
		return json.Unmarshal(job.Payload, &got)
	})

	processed, err := worker.ProcessOne(ctx)
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if !processed {
		t.Fatal("expected a job to be processed")
	}
	if len(got.To) != 1 || got.To[0] != "approver@example.com" {
		t.Errorf("unexpected recipients %v", got.To)
	}
	if got.Subject != "Approval requested" {
		t.Errorf("unexpected subject %q", got.Subject)
	}
}

func TestEnqueueEmailSkipsEmptyRecipients(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	if err := q.EnqueueEmail(ctx, EmailJob{Subject: "no one"}); err != nil {
		t.Fatalf("EnqueueEmail failed: %v", err)
	}
	length, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if length != 0 {
		t.Errorf("expected empty queue, got %d jobs", length)
	}
}

func TestWorkerRetriesThenDrops(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	if err := q.EnqueueNotification(ctx, NotificationJob{UserID: "usr_1", Type: "APPROVAL_REQUESTED", TitleKey: "notif.approval.requested"}); err != nil {
		t.Fatalf("EnqueueNotification failed: %v", err)
	}

	calls := 0
	worker := NewWorker(q, func(ctx context.Context, job Job) error {
		calls++
		return errors.New("smtp down")
	})
	worker.BackoffBase = time.Millisecond

	// Attempt 1 and 2 requeue, attempt 3 drops.
	for i := 0; i < 3; i++ {
		processed, err := worker.ProcessOne(ctx)
		if err != nil {
			t.Fatalf("ProcessOne %d failed: %v", i, err)
		}
		if !processed {
			t.Fatalf("expected job on attempt %d", i)
		}
	}
	if calls != 3 {
		t.Errorf("expected 3 handler calls, got %d", calls)
	}

	length, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if length != 0 {
		t.Errorf("expected job to be dropped after max attempts, %d left", length)
	}
}

func TestProcessOneEmptyQueue(t *testing.T) {
	q := setupQueue(t)
	worker := NewWorker(q, func(ctx context.Context, job Job) error {
		t.Fatal("handler should not run on an empty queue")
		return nil
	})

	processed, err := worker.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if processed {
		t.Error("expected no job to be processed")
	}
}
