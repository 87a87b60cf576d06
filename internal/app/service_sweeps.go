package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"docuflow/api/internal/email"
	"docuflow/api/internal/queue"
	"docuflow/api/internal/store"
)

// reminderWindow suppresses repeat reminders for the same row within a
// day, however often the sweep runs.
const reminderWindow = 24 * time.Hour

type SweepResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Errors    int `json:"errors"`
}

type EscalationResult struct {
	Processed int `json:"processed"`
	Escalated int `json:"escalated"`
	Errors    int `json:"errors"`
}

type CronResult struct {
	Duration            string           `json:"duration"`
	ApprovalReminders   SweepResult      `json:"approvalReminders"`
	ApprovalEscalations EscalationResult `json:"approvalEscalations"`
	ReadReminders       SweepResult      `json:"readReminders"`
}

// ApprovalReminderSweep nudges approvers whose approvals have been
// pending longer than the reminder threshold. Each approval is reminded
// at most once per window.
func (s *Service) ApprovalReminderSweep(ctx context.Context, now time.Time) SweepResult {
	days := s.settingInt(ctx, "default_reminder_days", s.cfg.ReminderDays)
	items, err := s.store.ListStaleApprovals(ctx, now.AddDate(0, 0, -days), now.Add(-reminderWindow))
	if err != nil {
		log.Printf("sweep: list stale approvals: %v", err)
		return SweepResult{Errors: 1}
	}

	result := SweepResult{Processed: len(items)}
	for _, item := range items {
		pendingDays := int(now.Sub(item.CreatedAt).Hours() / 24)

		s.notifyUser(ctx, queue.NotificationJob{
			UserID:     item.ApproverID,
			Type:       "APPROVAL_REMINDER",
			TitleKey:   "notification.approval_reminder",
			Params:     map[string]string{"code": item.DocumentCode, "title": item.RevisionTitle},
			DocumentID: item.DocumentID,
			RevisionID: item.RevisionID,
		})
		subject, html, err := email.RenderReminder(email.ReminderData{
			ApproverName: item.ApproverName,
			DocumentCode: item.DocumentCode,
			Title:        item.RevisionTitle,
			PendingDays:  pendingDays,
		})
		if err != nil {
			log.Printf("sweep: render reminder mail: %v", err)
			result.Errors++
			continue
		}
		s.mailUser(ctx, item.ApproverEmail, subject, html)

		if err := s.store.MarkApprovalReminded(ctx, item.ID, now); err != nil {
			log.Printf("sweep: mark approval %s reminded: %v", item.ID, err)
			result.Errors++
			continue
		}
		result.Sent++
	}
	return result
}

// ApprovalEscalationSweep escalates approvals pending beyond the
// escalation threshold to the approver's department manager, or to any
// active admin when the manager is absent or is the approver. Each
// approval escalates at most once, ever.
func (s *Service) ApprovalEscalationSweep(ctx context.Context, now time.Time) EscalationResult {
	days := s.settingInt(ctx, "default_escalation_days", s.cfg.EscalationDays)
	items, err := s.store.ListEscalatableApprovals(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		log.Printf("sweep: list escalatable approvals: %v", err)
		return EscalationResult{Errors: 1}
	}

	result := EscalationResult{Processed: len(items)}
	for _, item := range items {
		target, err := s.escalationTarget(ctx, item)
		if err != nil {
			log.Printf("sweep: no escalation target for approval %s: %v", item.ID, err)
			result.Errors++
			continue
		}

		escalated, err := s.store.MarkApprovalEscalated(ctx, item.ID, now)
		if err != nil {
			log.Printf("sweep: mark approval %s escalated: %v", item.ID, err)
			result.Errors++
			continue
		}
		if !escalated {
			continue
		}

		pendingDays := int(now.Sub(item.CreatedAt).Hours() / 24)
		s.notifyUser(ctx, queue.NotificationJob{
			UserID:     target.ID,
			Type:       "APPROVAL_ESCALATED",
			TitleKey:   "notification.approval_escalated",
			Params:     map[string]string{"code": item.DocumentCode, "title": item.RevisionTitle, "approver": item.ApproverName},
			DocumentID: item.DocumentID,
			RevisionID: item.RevisionID,
		})
		subject, html, err := email.RenderEscalation(email.EscalationData{
			ManagerName:  target.DisplayName,
			ApproverName: item.ApproverName,
			DocumentCode: item.DocumentCode,
			Title:        item.RevisionTitle,
			PendingDays:  pendingDays,
		})
		if err != nil {
			log.Printf("sweep: render escalation mail: %v", err)
		} else {
			s.mailUser(ctx, target.Email, subject, html)
		}

		s.notifyUser(ctx, queue.NotificationJob{
			UserID:     item.ApproverID,
			Type:       "APPROVAL_ESCALATED",
			TitleKey:   "notification.approval_escalated_self",
			Params:     map[string]string{"code": item.DocumentCode, "title": item.RevisionTitle},
			DocumentID: item.DocumentID,
			RevisionID: item.RevisionID,
		})
		s.notifyUser(ctx, queue.NotificationJob{
			UserID:     item.PreparerID,
			Type:       "APPROVAL_ESCALATED",
			TitleKey:   "notification.approval_escalated_uploader",
			Params:     map[string]string{"code": item.DocumentCode, "title": item.RevisionTitle},
			DocumentID: item.DocumentID,
			RevisionID: item.RevisionID,
		})
		result.Escalated++
	}
	return result
}

// escalationTarget resolves who receives an escalation: the approver's
// department manager when one exists and is not the approver themselves,
// otherwise any active admin.
func (s *Service) escalationTarget(ctx context.Context, item store.PendingApprovalItem) (store.User, error) {
	if item.ApproverDeptID != nil {
		manager, err := s.store.DepartmentManager(ctx, *item.ApproverDeptID)
		if err == nil && manager.ID != item.ApproverID {
			return manager, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return store.User{}, err
		}
	}
	return s.store.AnyActiveAdmin(ctx)
}

// ReadReminderSweep nudges distribution targets who have not confirmed
// reading a published revision within the read-reminder threshold.
func (s *Service) ReadReminderSweep(ctx context.Context, now time.Time) SweepResult {
	days := s.settingInt(ctx, "read_reminder_days", s.cfg.ReadReminderDays)
	items, err := s.store.ListStaleReadConfirmations(ctx, now.AddDate(0, 0, -days), now.Add(-reminderWindow))
	if err != nil {
		log.Printf("sweep: list stale read confirmations: %v", err)
		return SweepResult{Errors: 1}
	}

	result := SweepResult{Processed: len(items)}
	for _, item := range items {
		s.notifyUser(ctx, queue.NotificationJob{
			UserID:     item.UserID,
			Type:       "READ_REMINDER",
			TitleKey:   "notification.read_reminder",
			Params:     map[string]string{"code": item.DocumentCode, "title": item.RevisionTitle},
			DocumentID: item.DocumentID,
			RevisionID: item.RevisionID,
		})
		subject, html, err := email.RenderReadReminder(email.ReadReminderData{
			UserName:     item.UserName,
			DocumentCode: item.DocumentCode,
			Title:        item.RevisionTitle,
		})
		if err != nil {
			log.Printf("sweep: render read reminder mail: %v", err)
			result.Errors++
			continue
		}
		s.mailUser(ctx, item.UserEmail, subject, html)

		if err := s.store.MarkReadReminded(ctx, item.ID, now); err != nil {
			log.Printf("sweep: mark read confirmation %s reminded: %v", item.ID, err)
			result.Errors++
			continue
		}
		result.Sent++
	}
	return result
}

// RunCron runs the three sweeps concurrently and reports their results
// together.
func (s *Service) RunCron(ctx context.Context) CronResult {
	started := time.Now()
	var result CronResult

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		result.ApprovalReminders = s.ApprovalReminderSweep(ctx, started)
	}()
	go func() {
		defer wg.Done()
		result.ApprovalEscalations = s.ApprovalEscalationSweep(ctx, started)
	}()
	go func() {
		defer wg.Done()
		result.ReadReminders = s.ReadReminderSweep(ctx, started)
	}()
	wg.Wait()

	result.Duration = time.Since(started).Round(time.Millisecond).String()
	return result
}
