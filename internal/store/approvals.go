package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const approvalColumns = `id, revision_id, approver_id, step, status, comment,
	responded_at, reminder_sent_at, escalated_at, created_at`

func scanApproval(row interface{ Scan(...any) error }) (Approval, error) {
	var a Approval
	err := row.Scan(&a.ID, &a.RevisionID, &a.ApproverID, &a.Step, &a.Status, &a.Comment,
		&a.RespondedAt, &a.ReminderSentAt, &a.EscalatedAt, &a.CreatedAt)
	return a, err
}

func insertApproval(ctx context.Context, tx *sql.Tx, a Approval) (Approval, error) {
	row := tx.QueryRowContext(ctx, `
		INSERT INTO approvals (revision_id, approver_id, step, status)
		VALUES ($1, $2, $3, 'PENDING')
		RETURNING `+approvalColumns+`
	`, a.RevisionID, a.ApproverID, a.Step)
	created, err := scanApproval(row)
	if err != nil {
		return Approval{}, fmt.Errorf("insert approval: %w", err)
	}
	return created, nil
}

// GetPendingApproval loads an approval addressed to the given approver
// that is still PENDING, joined with its revision context. A resolved or
// foreign approval surfaces as sql.ErrNoRows, which the service reports
// as not-found.
func (s *PostgresStore) GetPendingApproval(ctx context.Context, approvalID, approverID string) (PendingApprovalItem, Revision, error) {
	var item PendingApprovalItem
	var rev Revision
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.revision_id, a.approver_id, a.step, a.status, a.comment,
			a.responded_at, a.reminder_sent_at, a.escalated_at, a.created_at,
			d.id, d.code, r.title, r.revision_number, r.preparer_id,
			u.email, u.display_name, u.department_id,
			r.id, r.document_id, r.revision_number, r.status, r.title, r.description, r.doc_type,
			r.preparer_id, r.approver_id, r.department_id, r.file_path, r.file_name, r.file_size, r.mime_type,
			r.change_notes, r.published_at, r.created_at, r.updated_at
		FROM approvals a
		JOIN document_revisions r ON r.id = a.revision_id
		JOIN documents d ON d.id = r.document_id
		JOIN users u ON u.id = a.approver_id
		WHERE a.id=$1 AND a.approver_id=$2 AND a.status='PENDING'
	`, approvalID, approverID).Scan(
		&item.ID, &item.RevisionID, &item.ApproverID, &item.Step, &item.Status, &item.Comment,
		&item.RespondedAt, &item.ReminderSentAt, &item.EscalatedAt, &item.CreatedAt,
		&item.DocumentID, &item.DocumentCode, &item.RevisionTitle, &item.RevisionNumber, &item.PreparerID,
		&item.ApproverEmail, &item.ApproverName, &item.ApproverDeptID,
		&rev.ID, &rev.DocumentID, &rev.Number, &rev.Status, &rev.Title, &rev.Description, &rev.DocType,
		&rev.PreparerID, &rev.ApproverID, &rev.DepartmentID, &rev.FilePath, &rev.FileName, &rev.FileSize, &rev.MimeType,
		&rev.ChangeNotes, &rev.PublishedAt, &rev.CreatedAt, &rev.UpdatedAt,
	)
	if err != nil {
		return PendingApprovalItem{}, Revision{}, err
	}
	return item, rev, nil
}

func (s *PostgresStore) ListPendingApprovalsFor(ctx context.Context, approverID string) ([]PendingApprovalItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.revision_id, a.approver_id, a.step, a.status, a.comment,
			a.responded_at, a.reminder_sent_at, a.escalated_at, a.created_at,
			d.id, d.code, r.title, r.revision_number, r.preparer_id,
			u.email, u.display_name, u.department_id
		FROM approvals a
		JOIN document_revisions r ON r.id = a.revision_id
		JOIN documents d ON d.id = r.document_id
		JOIN users u ON u.id = a.approver_id
		WHERE a.approver_id=$1 AND a.status='PENDING'
		ORDER BY a.created_at
	`, approverID)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()
	return collectPendingItems(rows)
}

func (s *PostgresStore) ListApprovalsForRevision(ctx context.Context, revisionID string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM approvals WHERE revision_id=$1 ORDER BY created_at
	`, revisionID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	items := make([]Approval, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return items, nil
}

// ApprovalDecision describes one resolved approval step: the terminal
// approval update, the revision status it implies, and (for a first-step
// approval with a distinct final approver) the next approval to spawn.
type ApprovalDecision struct {
	ApprovalID     string
	ApproverID     string
	Status         string
	Comment        string
	RevisionID     string
	RevisionStatus string
	NextApproval   *Approval
	Activity       ActivityEntry
}

// ApplyApprovalDecision applies a decision atomically. The update is
// guarded on PENDING status and the acting approver, so a double submit
// or a stale decision resolves to sql.ErrNoRows without side effects.
func (s *PostgresStore) ApplyApprovalDecision(ctx context.Context, d ApprovalDecision) (*Approval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE approvals SET status=$3, comment=$4, responded_at=NOW()
		WHERE id=$1 AND approver_id=$2 AND status='PENDING'
	`, d.ApprovalID, d.ApproverID, d.Status, d.Comment)
	if err != nil {
		return nil, fmt.Errorf("update approval: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update approval: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE document_revisions SET status=$2, updated_at=NOW() WHERE id=$1
	`, d.RevisionID, d.RevisionStatus); err != nil {
		return nil, fmt.Errorf("update revision status: %w", err)
	}

	var next *Approval
	if d.NextApproval != nil {
		created, err := insertApproval(ctx, tx, *d.NextApproval)
		if err != nil {
			return nil, err
		}
		next = &created
	}

	if err := insertActivity(ctx, tx, d.Activity); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decision: %w", err)
	}
	return next, nil
}

// ListPublishTargets resolves the distinct union of distribution targets
// for a revision: active users of the given role whose department is on
// the department list, plus individually listed users of that role.
func (s *PostgresStore) ListPublishTargets(ctx context.Context, revisionID, role string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.email, u.display_name, u.password_hash, u.role, u.department_id, u.is_active, u.created_at
		FROM users u
		WHERE u.is_active AND u.role=$2 AND (
			u.department_id IN (SELECT department_id FROM distribution_departments WHERE revision_id=$1)
			OR u.id IN (SELECT user_id FROM distribution_users WHERE revision_id=$1)
		)
	`, revisionID, role)
	if err != nil {
		return nil, fmt.Errorf("list publish targets: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan publish target: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publish targets: %w", err)
	}
	return items, nil
}

// PublishRevision marks an APPROVED revision PUBLISHED and creates one
// read-confirmation obligation per target, atomically. The unique
// (revision, user) constraint makes the fan-out idempotent. Returns the
// number of obligations created.
func (s *PostgresStore) PublishRevision(ctx context.Context, revisionID string, publishedAt time.Time, targetUserIDs []string, activity ActivityEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE document_revisions SET status='PUBLISHED', published_at=$2, updated_at=NOW()
		WHERE id=$1 AND status='APPROVED'
	`, revisionID, publishedAt)
	if err != nil {
		return 0, fmt.Errorf("publish revision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("publish revision: %w", err)
	}
	if affected == 0 {
		return 0, sql.ErrNoRows
	}

	created := 0
	for _, userID := range targetUserIDs {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO read_confirmations (revision_id, user_id)
			VALUES ($1, $2) ON CONFLICT (revision_id, user_id) DO NOTHING
		`, revisionID, userID)
		if err != nil {
			return 0, fmt.Errorf("insert read confirmation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert read confirmation: %w", err)
		}
		created += int(rows)
	}

	if err := insertActivity(ctx, tx, activity); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit publish: %w", err)
	}
	return created, nil
}

// ConfirmRead stamps confirmed_at exactly once. A second call finds no
// unconfirmed row and returns sql.ErrNoRows.
func (s *PostgresStore) ConfirmRead(ctx context.Context, revisionID, userID string, activity ActivityEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin confirm read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE read_confirmations SET confirmed_at=NOW()
		WHERE revision_id=$1 AND user_id=$2 AND confirmed_at IS NULL
	`, revisionID, userID)
	if err != nil {
		return fmt.Errorf("confirm read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm read: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := insertActivity(ctx, tx, activity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit confirm read: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReadStats(ctx context.Context, revisionID string) (total, confirmed int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(confirmed_at)
		FROM read_confirmations
		WHERE revision_id=$1
	`, revisionID).Scan(&total, &confirmed)
	if err != nil {
		return 0, 0, fmt.Errorf("read stats: %w", err)
	}
	return total, confirmed, nil
}

func (s *PostgresStore) ListReadConfirmations(ctx context.Context, revisionID string) ([]ReadConfirmation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, revision_id, user_id, confirmed_at, reminder_sent_at, created_at
		FROM read_confirmations
		WHERE revision_id=$1
		ORDER BY created_at
	`, revisionID)
	if err != nil {
		return nil, fmt.Errorf("list read confirmations: %w", err)
	}
	defer rows.Close()

	items := make([]ReadConfirmation, 0)
	for rows.Next() {
		var item ReadConfirmation
		if err := rows.Scan(&item.ID, &item.RevisionID, &item.UserID, &item.ConfirmedAt, &item.ReminderSentAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan read confirmation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate read confirmations: %w", err)
	}
	return items, nil
}

// ListStaleApprovals selects PENDING approvals created before olderThan
// whose last reminder is absent or older than remindedBefore (the
// anti-spam window).
func (s *PostgresStore) ListStaleApprovals(ctx context.Context, olderThan, remindedBefore time.Time) ([]PendingApprovalItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.revision_id, a.approver_id, a.step, a.status, a.comment,
			a.responded_at, a.reminder_sent_at, a.escalated_at, a.created_at,
			d.id, d.code, r.title, r.revision_number, r.preparer_id,
			u.email, u.display_name, u.department_id
		FROM approvals a
		JOIN document_revisions r ON r.id = a.revision_id
		JOIN documents d ON d.id = r.document_id
		JOIN users u ON u.id = a.approver_id
		WHERE a.status='PENDING'
			AND a.created_at < $1
			AND (a.reminder_sent_at IS NULL OR a.reminder_sent_at < $2)
		ORDER BY a.created_at
	`, olderThan, remindedBefore)
	if err != nil {
		return nil, fmt.Errorf("list stale approvals: %w", err)
	}
	defer rows.Close()
	return collectPendingItems(rows)
}

func (s *PostgresStore) MarkApprovalReminded(ctx context.Context, approvalID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET reminder_sent_at=$2 WHERE id=$1
	`, approvalID, at)
	if err != nil {
		return fmt.Errorf("mark approval reminded: %w", err)
	}
	return nil
}

// ListEscalatableApprovals selects PENDING approvals created before
// olderThan that have never been escalated.
func (s *PostgresStore) ListEscalatableApprovals(ctx context.Context, olderThan time.Time) ([]PendingApprovalItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.revision_id, a.approver_id, a.step, a.status, a.comment,
			a.responded_at, a.reminder_sent_at, a.escalated_at, a.created_at,
			d.id, d.code, r.title, r.revision_number, r.preparer_id,
			u.email, u.display_name, u.department_id
		FROM approvals a
		JOIN document_revisions r ON r.id = a.revision_id
		JOIN documents d ON d.id = r.document_id
		JOIN users u ON u.id = a.approver_id
		WHERE a.status='PENDING'
			AND a.created_at < $1
			AND a.escalated_at IS NULL
		ORDER BY a.created_at
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list escalatable approvals: %w", err)
	}
	defer rows.Close()
	return collectPendingItems(rows)
}

// MarkApprovalEscalated stamps escalated_at at most once. Returns false
// when another sweep already escalated the approval.
func (s *PostgresStore) MarkApprovalEscalated(ctx context.Context, approvalID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET escalated_at=$2 WHERE id=$1 AND escalated_at IS NULL
	`, approvalID, at)
	if err != nil {
		return false, fmt.Errorf("mark approval escalated: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark approval escalated: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListStaleReadConfirmations(ctx context.Context, olderThan, remindedBefore time.Time) ([]StaleReadConfirmation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rc.id, rc.revision_id, rc.user_id, rc.confirmed_at, rc.reminder_sent_at, rc.created_at,
			d.id, d.code, r.title, u.email, u.display_name
		FROM read_confirmations rc
		JOIN document_revisions r ON r.id = rc.revision_id
		JOIN documents d ON d.id = r.document_id
		JOIN users u ON u.id = rc.user_id
		WHERE rc.confirmed_at IS NULL
			AND rc.created_at < $1
			AND (rc.reminder_sent_at IS NULL OR rc.reminder_sent_at < $2)
		ORDER BY rc.created_at
	`, olderThan, remindedBefore)
	if err != nil {
		return nil, fmt.Errorf("list stale read confirmations: %w", err)
	}
	defer rows.Close()

	items := make([]StaleReadConfirmation, 0)
	for rows.Next() {
		var item StaleReadConfirmation
		if err := rows.Scan(&item.ID, &item.RevisionID, &item.UserID, &item.ConfirmedAt, &item.ReminderSentAt, &item.CreatedAt,
			&item.DocumentID, &item.DocumentCode, &item.RevisionTitle, &item.UserEmail, &item.UserName); err != nil {
			return nil, fmt.Errorf("scan stale read confirmation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale read confirmations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkReadReminded(ctx context.Context, readConfirmationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE read_confirmations SET reminder_sent_at=$2 WHERE id=$1
	`, readConfirmationID, at)
	if err != nil {
		return fmt.Errorf("mark read reminded: %w", err)
	}
	return nil
}

func collectPendingItems(rows *sql.Rows) ([]PendingApprovalItem, error) {
	items := make([]PendingApprovalItem, 0)
	for rows.Next() {
		var item PendingApprovalItem
		if err := rows.Scan(
			&item.ID, &item.RevisionID, &item.ApproverID, &item.Step, &item.Status, &item.Comment,
			&item.RespondedAt, &item.ReminderSentAt, &item.EscalatedAt, &item.CreatedAt,
			&item.DocumentID, &item.DocumentCode, &item.RevisionTitle, &item.RevisionNumber, &item.PreparerID,
			&item.ApproverEmail, &item.ApproverName, &item.ApproverDeptID,
		); err != nil {
			return nil, fmt.Errorf("scan pending approval: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending approvals: %w", err)
	}
	return items, nil
}
