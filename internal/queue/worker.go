package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxAttempts = 3

// Handler processes one job; returning an error triggers a retry with
// exponential backoff up to maxAttempts.
type Handler func(ctx context.Context, job Job) error

type Worker struct {
	queue   *Queue
	handler Handler
	// BackoffBase scales the retry delay; tests shrink it.
	BackoffBase time.Duration
}

func NewWorker(queue *Queue, handler Handler) *Worker {
	return &Worker{queue: queue, handler: handler, BackoffBase: time.Second}
}

// Run blocks until the context is cancelled, popping and processing
// jobs one at a time.
func (w *Worker) Run(ctx context.Context) {
	for {
		processed, err := w.ProcessOne(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("queue: process job: %v", err)
		}
		if !processed && err == nil {
			// BRPop timed out; loop again.
			continue
		}
	}
}

// ProcessOne pops a single job and runs the handler. Failed jobs are
// re-enqueued with an attempt counter; jobs that exhaust their attempts
// are logged and dropped.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	values, err := w.queue.client.BRPop(ctx, time.Second, w.queue.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pop job: %w", err)
	}
	if len(values) != 2 {
		return false, fmt.Errorf("unexpected BRPOP reply of %d values", len(values))
	}

	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return true, fmt.Errorf("unmarshal job: %w", err)
	}

	if err := w.handler(ctx, job); err != nil {
		job.Attempts++
		if job.Attempts >= maxAttempts {
			log.Printf("queue: dropping %s job %s after %d attempts: %v", job.Type, job.ID, job.Attempts, err)
			return true, nil
		}
		// Exponential backoff before the retry becomes visible again.
		time.Sleep(w.BackoffBase * time.Duration(1<<job.Attempts))
		data, marshalErr := json.Marshal(job)
		if marshalErr != nil {
			return true, fmt.Errorf("re-marshal job: %w", marshalErr)
		}
		if pushErr := w.queue.client.LPush(ctx, w.queue.key, data).Err(); pushErr != nil {
			return true, fmt.Errorf("requeue job: %w", pushErr)
		}
		return true, nil
	}
	return true, nil
}
