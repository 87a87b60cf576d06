package store

import (
	"context"
	"database/sql"
	"fmt"
)

const revisionColumns = `id, document_id, revision_number, status, title, description, doc_type,
	preparer_id, approver_id, department_id, file_path, file_name, file_size, mime_type,
	change_notes, published_at, created_at, updated_at`

func scanRevision(row interface{ Scan(...any) error }) (Revision, error) {
	var rev Revision
	err := row.Scan(
		&rev.ID, &rev.DocumentID, &rev.Number, &rev.Status, &rev.Title, &rev.Description, &rev.DocType,
		&rev.PreparerID, &rev.ApproverID, &rev.DepartmentID, &rev.FilePath, &rev.FileName, &rev.FileSize, &rev.MimeType,
		&rev.ChangeNotes, &rev.PublishedAt, &rev.CreatedAt, &rev.UpdatedAt,
	)
	return rev, err
}

// DocumentWithRevision pairs a document with its current revision for
// list views.
type DocumentWithRevision struct {
	Document Document
	Revision Revision
}

// CreateDocumentWithRevision inserts a document and its first revision
// in one transaction and points the document at it.
func (s *PostgresStore) CreateDocumentWithRevision(ctx context.Context, doc Document, rev Revision, activity ActivityEntry) (Document, Revision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, Revision{}, fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO documents (code, created_by, current_revision)
		VALUES ($1, $2, 1)
		RETURNING id, code, current_revision_id, current_revision, created_by, deleted_at, created_at
	`, doc.Code, doc.CreatedBy).Scan(
		&doc.ID, &doc.Code, &doc.CurrentRevisionID, &doc.CurrentRevision, &doc.CreatedBy, &doc.DeletedAt, &doc.CreatedAt,
	)
	if err != nil {
		return Document{}, Revision{}, fmt.Errorf("insert document: %w", err)
	}

	rev.DocumentID = doc.ID
	rev.Number = 1
	created, err := insertRevision(ctx, tx, rev)
	if err != nil {
		return Document{}, Revision{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET current_revision_id=$2, current_revision=$3 WHERE id=$1
	`, doc.ID, created.ID, created.Number); err != nil {
		return Document{}, Revision{}, fmt.Errorf("point current revision: %w", err)
	}
	doc.CurrentRevisionID = &created.ID
	doc.CurrentRevision = created.Number

	activity.DocumentID = doc.ID
	activity.RevisionID = created.ID
	if err := insertActivity(ctx, tx, activity); err != nil {
		return Document{}, Revision{}, err
	}

	if err := tx.Commit(); err != nil {
		return Document{}, Revision{}, fmt.Errorf("commit create document: %w", err)
	}
	return doc, created, nil
}

func insertRevision(ctx context.Context, tx *sql.Tx, rev Revision) (Revision, error) {
	row := tx.QueryRowContext(ctx, `
		INSERT INTO document_revisions
			(document_id, revision_number, status, title, description, doc_type,
			 preparer_id, approver_id, department_id, file_path, file_name, file_size, mime_type, change_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+revisionColumns+`
	`, rev.DocumentID, rev.Number, orDefault(rev.Status, "DRAFT"), rev.Title, rev.Description, orDefault(rev.DocType, "GENERAL"),
		rev.PreparerID, rev.ApproverID, rev.DepartmentID, rev.FilePath, rev.FileName, rev.FileSize, rev.MimeType, rev.ChangeNotes,
	)
	created, err := scanRevision(row)
	if err != nil {
		return Revision{}, fmt.Errorf("insert revision: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, current_revision_id, current_revision, created_by, deleted_at, created_at
		FROM documents
		WHERE id=$1 AND deleted_at IS NULL
	`, documentID).Scan(&doc.ID, &doc.Code, &doc.CurrentRevisionID, &doc.CurrentRevision, &doc.CreatedBy, &doc.DeletedAt, &doc.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) GetDocumentByCode(ctx context.Context, code string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, current_revision_id, current_revision, created_by, deleted_at, created_at
		FROM documents
		WHERE code=$1 AND deleted_at IS NULL
	`, code).Scan(&doc.ID, &doc.Code, &doc.CurrentRevisionID, &doc.CurrentRevision, &doc.CreatedBy, &doc.DeletedAt, &doc.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, status string, limit int) ([]DocumentWithRevision, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.code, d.current_revision_id, d.current_revision, d.created_by, d.deleted_at, d.created_at,
			r.id, r.document_id, r.revision_number, r.status, r.title, r.description, r.doc_type,
			r.preparer_id, r.approver_id, r.department_id, r.file_path, r.file_name, r.file_size, r.mime_type,
			r.change_notes, r.published_at, r.created_at, r.updated_at
		FROM documents d
		JOIN document_revisions r ON r.id = d.current_revision_id
		WHERE d.deleted_at IS NULL AND ($1 = '' OR r.status = $1)
		ORDER BY r.updated_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentWithRevision, 0)
	for rows.Next() {
		var item DocumentWithRevision
		if err := rows.Scan(
			&item.Document.ID, &item.Document.Code, &item.Document.CurrentRevisionID, &item.Document.CurrentRevision,
			&item.Document.CreatedBy, &item.Document.DeletedAt, &item.Document.CreatedAt,
			&item.Revision.ID, &item.Revision.DocumentID, &item.Revision.Number, &item.Revision.Status,
			&item.Revision.Title, &item.Revision.Description, &item.Revision.DocType,
			&item.Revision.PreparerID, &item.Revision.ApproverID, &item.Revision.DepartmentID,
			&item.Revision.FilePath, &item.Revision.FileName, &item.Revision.FileSize, &item.Revision.MimeType,
			&item.Revision.ChangeNotes, &item.Revision.PublishedAt, &item.Revision.CreatedAt, &item.Revision.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, documentID)
	if err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetRevision(ctx context.Context, revisionID string) (Revision, error) {
	return scanRevision(s.db.QueryRowContext(ctx, `
		SELECT `+revisionColumns+` FROM document_revisions WHERE id=$1
	`, revisionID))
}

func (s *PostgresStore) ListRevisions(ctx context.Context, documentID string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+revisionColumns+`
		FROM document_revisions
		WHERE document_id=$1
		ORDER BY revision_number DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	items := make([]Revision, 0)
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		items = append(items, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return items, nil
}

// UpdateDraftRevision overwrites a DRAFT revision in place (the REVISE
// action on an unsubmitted revision). Returns sql.ErrNoRows when the
// revision is no longer a draft.
func (s *PostgresStore) UpdateDraftRevision(ctx context.Context, rev Revision, activity ActivityEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update draft: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE document_revisions
		SET title=$2, description=$3, doc_type=$4, approver_id=$5, department_id=$6,
			file_path=$7, file_name=$8, file_size=$9, mime_type=$10, change_notes=$11, updated_at=NOW()
		WHERE id=$1 AND status='DRAFT'
	`, rev.ID, rev.Title, rev.Description, rev.DocType, rev.ApproverID, rev.DepartmentID,
		rev.FilePath, rev.FileName, rev.FileSize, rev.MimeType, rev.ChangeNotes)
	if err != nil {
		return fmt.Errorf("update draft revision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update draft revision: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := insertActivity(ctx, tx, activity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update draft: %w", err)
	}
	return nil
}

// ForkRevision creates the next revision of a document and moves the
// current-revision pointer to it. The document row is locked so revision
// numbers stay monotonic under concurrent revise calls.
func (s *PostgresStore) ForkRevision(ctx context.Context, rev Revision, activity ActivityEntry) (Revision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Revision{}, fmt.Errorf("begin fork revision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var nextNumber int
	err = tx.QueryRowContext(ctx, `
		SELECT current_revision + 1 FROM documents WHERE id=$1 AND deleted_at IS NULL FOR UPDATE
	`, rev.DocumentID).Scan(&nextNumber)
	if err != nil {
		return Revision{}, err
	}

	rev.Number = nextNumber
	rev.Status = "DRAFT"
	created, err := insertRevision(ctx, tx, rev)
	if err != nil {
		return Revision{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET current_revision_id=$2, current_revision=$3 WHERE id=$1
	`, rev.DocumentID, created.ID, created.Number); err != nil {
		return Revision{}, fmt.Errorf("point current revision: %w", err)
	}

	activity.DocumentID = rev.DocumentID
	activity.RevisionID = created.ID
	if err := insertActivity(ctx, tx, activity); err != nil {
		return Revision{}, err
	}

	if err := tx.Commit(); err != nil {
		return Revision{}, fmt.Errorf("commit fork revision: %w", err)
	}
	return created, nil
}

// SubmitRevision moves a DRAFT revision into PENDING_APPROVAL and
// creates the first approval of the chain, atomically.
func (s *PostgresStore) SubmitRevision(ctx context.Context, revisionID string, approval Approval, activity ActivityEntry) (Approval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Approval{}, fmt.Errorf("begin submit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE document_revisions SET status='PENDING_APPROVAL', updated_at=NOW()
		WHERE id=$1 AND status='DRAFT'
	`, revisionID)
	if err != nil {
		return Approval{}, fmt.Errorf("submit revision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Approval{}, fmt.Errorf("submit revision: %w", err)
	}
	if affected == 0 {
		return Approval{}, sql.ErrNoRows
	}

	created, err := insertApproval(ctx, tx, approval)
	if err != nil {
		return Approval{}, err
	}
	if err := insertActivity(ctx, tx, activity); err != nil {
		return Approval{}, err
	}
	if err := tx.Commit(); err != nil {
		return Approval{}, fmt.Errorf("commit submit: %w", err)
	}
	return created, nil
}

// CancelRevision marks a revision CANCELLED and resolves any still
// pending approvals so the sweeps stop considering them.
func (s *PostgresStore) CancelRevision(ctx context.Context, revisionID string, activity ActivityEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE document_revisions SET status='CANCELLED', updated_at=NOW()
		WHERE id=$1 AND status IN ('DRAFT', 'PENDING_APPROVAL', 'PREPARER_APPROVED', 'APPROVED')
	`, revisionID)
	if err != nil {
		return fmt.Errorf("cancel revision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel revision: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE approvals SET status='REJECTED', comment='Revision cancelled', responded_at=NOW()
		WHERE revision_id=$1 AND status='PENDING'
	`, revisionID); err != nil {
		return fmt.Errorf("resolve pending approvals: %w", err)
	}

	if err := insertActivity(ctx, tx, activity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}
	return nil
}

// ReplaceDistribution swaps the full distribution target set of a
// revision.
func (s *PostgresStore) ReplaceDistribution(ctx context.Context, revisionID string, departmentIDs, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin distribution: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM distribution_departments WHERE revision_id=$1`, revisionID); err != nil {
		return fmt.Errorf("clear department distribution: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM distribution_users WHERE revision_id=$1`, revisionID); err != nil {
		return fmt.Errorf("clear user distribution: %w", err)
	}
	for _, departmentID := range departmentIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO distribution_departments (revision_id, department_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, revisionID, departmentID); err != nil {
			return fmt.Errorf("insert department distribution: %w", err)
		}
	}
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO distribution_users (revision_id, user_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, revisionID, userID); err != nil {
			return fmt.Errorf("insert user distribution: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit distribution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDistribution(ctx context.Context, revisionID string) (DistributionList, error) {
	var list DistributionList

	rows, err := s.db.QueryContext(ctx, `SELECT department_id FROM distribution_departments WHERE revision_id=$1`, revisionID)
	if err != nil {
		return DistributionList{}, fmt.Errorf("list department distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return DistributionList{}, fmt.Errorf("scan department distribution: %w", err)
		}
		list.DepartmentIDs = append(list.DepartmentIDs, id)
	}
	if err := rows.Err(); err != nil {
		return DistributionList{}, fmt.Errorf("iterate department distribution: %w", err)
	}

	userRows, err := s.db.QueryContext(ctx, `SELECT user_id FROM distribution_users WHERE revision_id=$1`, revisionID)
	if err != nil {
		return DistributionList{}, fmt.Errorf("list user distribution: %w", err)
	}
	defer userRows.Close()
	for userRows.Next() {
		var id string
		if err := userRows.Scan(&id); err != nil {
			return DistributionList{}, fmt.Errorf("scan user distribution: %w", err)
		}
		list.UserIDs = append(list.UserIDs, id)
	}
	if err := userRows.Err(); err != nil {
		return DistributionList{}, fmt.Errorf("iterate user distribution: %w", err)
	}
	return list, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
