package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"docuflow/api/internal/queue"
	"docuflow/api/internal/store"
)

type notificationStore interface {
	InsertNotification(ctx context.Context, item store.Notification) error
}

type mailer interface {
	SendEmail(ctx context.Context, to []string, subject, body string) error
	SendHTMLEmail(ctx context.Context, to []string, subject, htmlBody string) error
	IsConfigured(ctx context.Context) bool
}

// Dispatcher is the queue-worker handler: it persists notification rows,
// pushes the matching live event, and sends queued emails.
type Dispatcher struct {
	store  notificationStore
	hub    *Hub
	mailer mailer
}

func NewDispatcher(store notificationStore, hub *Hub, mailer mailer) *Dispatcher {
	return &Dispatcher{store: store, hub: hub, mailer: mailer}
}

func (d *Dispatcher) Handle(ctx context.Context, job queue.Job) error {
	switch job.Type {
	case queue.JobNotification:
		var payload queue.NotificationJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode notification job: %w", err)
		}
		return d.handleNotification(ctx, payload)
	case queue.JobEmail:
		var payload queue.EmailJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode email job: %w", err)
		}
		return d.handleEmail(ctx, payload)
	default:
		// Unknown job types are dropped rather than retried.
		log.Printf("notify: unknown job type %q", job.Type)
		return nil
	}
}

func (d *Dispatcher) handleNotification(ctx context.Context, payload queue.NotificationJob) error {
	params, err := json.Marshal(payload.Params)
	if err != nil {
		return fmt.Errorf("marshal notification params: %w", err)
	}
	item := store.Notification{
		UserID:   payload.UserID,
		Type:     payload.Type,
		TitleKey: payload.TitleKey,
		Params:   string(params),
	}
	if payload.DocumentID != "" {
		item.DocumentID = &payload.DocumentID
	}
	if payload.RevisionID != "" {
		item.RevisionID = &payload.RevisionID
	}
	if err := d.store.InsertNotification(ctx, item); err != nil {
		return err
	}

	// Live push is best-effort even inside the job.
	if d.hub != nil {
		event := Event{
			Type:         payload.Type,
			TargetUserID: payload.UserID,
			DocumentID:   payload.DocumentID,
			RevisionID:   payload.RevisionID,
		}
		if err := d.hub.Publish(ctx, UserChannel(payload.UserID), event); err != nil {
			log.Printf("notify: publish user event: %v", err)
		}
	}
	return nil
}

func (d *Dispatcher) handleEmail(ctx context.Context, payload queue.EmailJob) error {
	if d.mailer == nil || !d.mailer.IsConfigured(ctx) {
		log.Printf("notify: email not configured, dropping %q to %v", payload.Subject, payload.To)
		return nil
	}
	if payload.HTML {
		return d.mailer.SendHTMLEmail(ctx, payload.To, payload.Subject, payload.Body)
	}
	return d.mailer.SendEmail(ctx, payload.To, payload.Subject, payload.Body)
}
