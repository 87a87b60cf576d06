package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"docuflow/api/internal/email"
	"docuflow/api/internal/notify"
	"docuflow/api/internal/queue"
	"docuflow/api/internal/rbac"
	"docuflow/api/internal/search"
	"docuflow/api/internal/store"
)

const (
	stepPreparer = "PREPARER"
	stepApprover = "APPROVER"

	minRejectCommentLen = 10
)

// CreateDocumentInput carries the multipart upload fields for a new
// document and its first revision.
type CreateDocumentInput struct {
	Code         string
	Title        string
	Description  string
	DocType      string
	ApproverID   *string
	DepartmentID *string
	ChangeNotes  string

	DistributionDepartmentIDs []string
	DistributionUserIDs       []string

	File     io.Reader
	FileName string
	MimeType string
}

// ReviseInput carries the fields of a revise call. A nil File keeps the
// current file when updating a draft in place.
type ReviseInput struct {
	Title        string
	Description  string
	DocType      string
	ApproverID   *string
	DepartmentID *string
	ChangeNotes  string

	DistributionDepartmentIDs []string
	DistributionUserIDs       []string

	File     io.Reader
	FileName string
	MimeType string
}

// CreateDocument registers a document with its first revision, stores
// the uploaded file, records the distribution list, and submits the
// revision for approval when an approver was named.
func (s *Service) CreateDocument(ctx context.Context, session Session, in CreateDocumentInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionUpload) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You are not allowed to upload documents", nil)
	}
	in.Code = strings.TrimSpace(in.Code)
	in.Title = strings.TrimSpace(in.Title)
	if details := validateDocumentFields(in.Code, in.Title, in.File != nil); details != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid document fields", details)
	}
	if _, err := s.store.GetDocumentByCode(ctx, in.Code); err == nil {
		return nil, domainError(http.StatusConflict, "DUPLICATE_CODE", "A document with this code already exists", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	saved, err := s.files.Save(ctx, in.File, in.Code, in.FileName, in.MimeType)
	if err != nil {
		return nil, err
	}

	doc, rev, err := s.store.CreateDocumentWithRevision(ctx,
		store.Document{Code: in.Code, CreatedBy: session.UserID},
		store.Revision{
			Title:        in.Title,
			Description:  in.Description,
			DocType:      in.DocType,
			PreparerID:   session.UserID,
			ApproverID:   in.ApproverID,
			DepartmentID: in.DepartmentID,
			FilePath:     saved.Path,
			FileName:     saved.FileName,
			FileSize:     saved.Size,
			MimeType:     saved.MimeType,
			ChangeNotes:  in.ChangeNotes,
		},
		store.ActivityEntry{UserID: session.UserID, Action: "UPLOADED", Detail: in.Title},
	)
	if err != nil {
		return nil, err
	}

	if len(in.DistributionDepartmentIDs) > 0 || len(in.DistributionUserIDs) > 0 {
		if err := s.store.ReplaceDistribution(ctx, rev.ID, in.DistributionDepartmentIDs, in.DistributionUserIDs); err != nil {
			return nil, err
		}
	}

	if _, err := s.routeApproval(ctx, doc, rev, session); err != nil {
		return nil, err
	}
	rev, err = s.store.GetRevision(ctx, rev.ID)
	if err != nil {
		return nil, err
	}

	s.indexRevision(doc, rev)
	return map[string]any{"document": documentJSON(doc), "revision": revisionJSON(rev)}, nil
}

// routeApproval starts the approval chain for a freshly drafted
// revision. Without a named approver the revision stays a draft and no
// approval is created. When the preparer is also the approver the
// self-check step is skipped and a single final-step approval is
// created; otherwise the chain opens with a preparer-step approval
// addressed to the preparer.
func (s *Service) routeApproval(ctx context.Context, doc store.Document, rev store.Revision, session Session) (*store.Approval, error) {
	if rev.ApproverID == nil || *rev.ApproverID == "" {
		return nil, nil
	}

	step := stepPreparer
	assigneeID := rev.PreparerID
	if *rev.ApproverID == rev.PreparerID {
		step = stepApprover
		assigneeID = *rev.ApproverID
	}

	approval, err := s.store.SubmitRevision(ctx, rev.ID,
		store.Approval{RevisionID: rev.ID, ApproverID: assigneeID, Step: step},
		store.ActivityEntry{DocumentID: doc.ID, RevisionID: rev.ID, UserID: session.UserID, Action: "SUBMITTED", Detail: step},
	)
	if err != nil {
		return nil, err
	}

	s.notifyApprovalRequested(ctx, doc, rev, approval, session.UserName)
	return &approval, nil
}

// Submit moves a draft revision into the approval flow. With no
// approver named the call is a no-op and the revision stays a draft.
func (s *Service) Submit(ctx context.Context, session Session, revisionID string) (map[string]any, error) {
	rev, err := s.store.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if rev.PreparerID != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the preparer may submit this revision", nil)
	}
	if rev.Status != "DRAFT" {
		return nil, domainError(http.StatusConflict, "INVALID_STATUS", "Only draft revisions can be submitted", map[string]any{"status": rev.Status})
	}

	doc, err := s.store.GetDocument(ctx, rev.DocumentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.routeApproval(ctx, doc, rev, session); err != nil {
		return nil, err
	}

	rev, err = s.store.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	s.indexRevision(doc, rev)
	return map[string]any{"revision": revisionJSON(rev)}, nil
}

// RespondToApproval resolves one pending approval step. A rejection
// requires a comment of at least ten characters, checked before any
// state is touched, and sends the revision back to draft from either
// step.
func (s *Service) RespondToApproval(ctx context.Context, session Session, approvalID, action, comment string) (map[string]any, error) {
	action = strings.ToUpper(strings.TrimSpace(action))
	if action != "APPROVE" && action != "REJECT" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "action must be APPROVE or REJECT", nil)
	}
	comment = strings.TrimSpace(comment)
	if action == "REJECT" && len([]rune(comment)) < minRejectCommentLen {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "A rejection comment of at least 10 characters is required", nil)
	}

	item, rev, err := s.store.GetPendingApproval(ctx, approvalID, session.UserID)
	if err != nil {
		return nil, err
	}

	decision := store.ApprovalDecision{
		ApprovalID: approvalID,
		ApproverID: session.UserID,
		Comment:    comment,
		RevisionID: rev.ID,
		Activity: store.ActivityEntry{
			DocumentID: item.DocumentID,
			RevisionID: rev.ID,
			UserID:     session.UserID,
			Detail:     item.Step,
		},
	}

	switch {
	case action == "REJECT":
		decision.Status = "REJECTED"
		decision.RevisionStatus = "DRAFT"
		decision.Activity.Action = "REJECTED"
	case item.Step == stepPreparer && rev.ApproverID != nil && *rev.ApproverID != session.UserID:
		decision.Status = "APPROVED"
		decision.RevisionStatus = "PREPARER_APPROVED"
		decision.Activity.Action = "APPROVED"
		decision.NextApproval = &store.Approval{RevisionID: rev.ID, ApproverID: *rev.ApproverID, Step: stepApprover}
	default:
		decision.Status = "APPROVED"
		decision.RevisionStatus = "APPROVED"
		decision.Activity.Action = "APPROVED"
	}

	next, err := s.store.ApplyApprovalDecision(ctx, decision)
	if err != nil {
		return nil, err
	}

	doc := store.Document{ID: item.DocumentID, Code: item.DocumentCode}
	if next != nil {
		s.notifyApprovalRequested(ctx, doc, rev, *next, session.UserName)
	} else {
		s.notifyApprovalResult(ctx, doc, rev, action == "APPROVE", session.UserName, comment)
	}
	s.publishEvent(ctx, notify.ChannelApprovals, notify.Event{
		Type:         "approval." + strings.ToLower(decision.Status),
		TargetUserID: rev.PreparerID,
		DocumentID:   item.DocumentID,
		RevisionID:   rev.ID,
		OccurredAt:   time.Now(),
	})

	rev, err = s.store.GetRevision(ctx, rev.ID)
	if err != nil {
		return nil, err
	}
	s.indexRevision(doc, rev)

	result := map[string]any{"revision": revisionJSON(rev)}
	if next != nil {
		result["nextApproval"] = approvalJSON(*next)
	}
	return result, nil
}

// Publish releases an approved revision to its distribution list. Only
// the revision's approver or an admin may publish. Targets are the
// distinct managers reached by the department and individual lists;
// each gets a read-confirmation obligation.
func (s *Service) Publish(ctx context.Context, session Session, revisionID string) (map[string]any, error) {
	rev, err := s.store.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	isApprover := rev.ApproverID != nil && *rev.ApproverID == session.UserID
	if !isApprover && !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the approver or an admin may publish", nil)
	}
	if rev.Status != "APPROVED" {
		return nil, domainError(http.StatusConflict, "INVALID_STATUS", "Only approved revisions can be published", map[string]any{"status": rev.Status})
	}
	doc, err := s.store.GetDocument(ctx, rev.DocumentID)
	if err != nil {
		return nil, err
	}

	targets, err := s.store.ListPublishTargets(ctx, revisionID, string(rbac.RoleManager))
	if err != nil {
		return nil, err
	}
	targetIDs := make([]string, 0, len(targets))
	for _, target := range targets {
		targetIDs = append(targetIDs, target.ID)
	}

	created, err := s.store.PublishRevision(ctx, revisionID, time.Now(), targetIDs,
		store.ActivityEntry{DocumentID: doc.ID, RevisionID: revisionID, UserID: session.UserID, Action: "PUBLISHED", Detail: rev.Title},
	)
	if err != nil {
		// The store guard backstops the pre-check under concurrency.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusConflict, "INVALID_STATUS", "Only approved revisions can be published", nil)
		}
		return nil, err
	}

	for _, target := range targets {
		s.notifyPublished(ctx, doc, rev, target)
	}
	if rev.PreparerID != session.UserID {
		s.notifyUser(ctx, queue.NotificationJob{
			UserID:     rev.PreparerID,
			Type:       "DOCUMENT_PUBLISHED",
			TitleKey:   "notification.document_published",
			Params:     map[string]string{"code": doc.Code, "title": rev.Title},
			DocumentID: doc.ID,
			RevisionID: rev.ID,
		})
	}
	s.publishEvent(ctx, notify.ChannelApprovals, notify.Event{
		Type:       "document.published",
		DocumentID: doc.ID,
		RevisionID: rev.ID,
		OccurredAt: time.Now(),
	})

	rev, err = s.store.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	s.indexRevision(doc, rev)
	return map[string]any{"revision": revisionJSON(rev), "readConfirmations": created}, nil
}

// ConfirmRead stamps the caller's read obligation for a published
// revision and pings the preparer. Confirming twice, or confirming
// without an obligation, reports a conflict.
func (s *Service) ConfirmRead(ctx context.Context, session Session, revisionID string) error {
	rev, err := s.store.GetRevision(ctx, revisionID)
	if err != nil {
		return err
	}
	err = s.store.ConfirmRead(ctx, revisionID, session.UserID,
		store.ActivityEntry{DocumentID: rev.DocumentID, RevisionID: revisionID, UserID: session.UserID, Action: "READ", Detail: rev.Title},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusConflict, "ALREADY_CONFIRMED", "No unconfirmed read obligation for this revision", nil)
	}
	if err != nil {
		return err
	}

	doc, err := s.store.GetDocument(ctx, rev.DocumentID)
	if err != nil {
		log.Printf("app: load document %s: %v", rev.DocumentID, err)
		return nil
	}
	if rev.PreparerID != session.UserID {
		s.notifyUser(ctx, queue.NotificationJob{
			UserID:     rev.PreparerID,
			Type:       "READ_CONFIRMED",
			TitleKey:   "notification.read_confirmed",
			Params:     map[string]string{"code": doc.Code, "title": rev.Title, "reader": session.UserName},
			DocumentID: doc.ID,
			RevisionID: rev.ID,
		})
	}
	s.publishEvent(ctx, notify.ChannelApprovals, notify.Event{
		Type:         "document.read",
		TargetUserID: rev.PreparerID,
		DocumentID:   doc.ID,
		RevisionID:   rev.ID,
		OccurredAt:   time.Now(),
	})
	return nil
}

// Revise updates a document's content. A draft current revision is
// edited in place; any other status forks the next revision number as a
// new draft.
func (s *Service) Revise(ctx context.Context, session Session, documentID string, in ReviseInput) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.CurrentRevisionID == nil {
		return nil, sql.ErrNoRows
	}
	current, err := s.store.GetRevision(ctx, *doc.CurrentRevisionID)
	if err != nil {
		return nil, err
	}
	if current.PreparerID != session.UserID && doc.CreatedBy != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the preparer may revise this document", nil)
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	saved := store.Revision{
		FilePath: current.FilePath,
		FileName: current.FileName,
		FileSize: current.FileSize,
		MimeType: current.MimeType,
	}
	if in.File != nil {
		file, err := s.files.Save(ctx, in.File, doc.Code, in.FileName, in.MimeType)
		if err != nil {
			return nil, err
		}
		saved = store.Revision{FilePath: file.Path, FileName: file.FileName, FileSize: file.Size, MimeType: file.MimeType}
	}

	next := store.Revision{
		DocumentID:   doc.ID,
		Title:        in.Title,
		Description:  in.Description,
		DocType:      orFallback(in.DocType, current.DocType),
		PreparerID:   session.UserID,
		ApproverID:   in.ApproverID,
		DepartmentID: in.DepartmentID,
		FilePath:     saved.FilePath,
		FileName:     saved.FileName,
		FileSize:     saved.FileSize,
		MimeType:     saved.MimeType,
		ChangeNotes:  in.ChangeNotes,
	}

	var rev store.Revision
	if current.Status == "DRAFT" {
		next.ID = current.ID
		next.PreparerID = current.PreparerID
		if err := s.store.UpdateDraftRevision(ctx, next,
			store.ActivityEntry{DocumentID: doc.ID, RevisionID: current.ID, UserID: session.UserID, Action: "REVISED", Detail: in.Title},
		); err != nil {
			return nil, err
		}
		rev, err = s.store.GetRevision(ctx, current.ID)
		if err != nil {
			return nil, err
		}
	} else {
		rev, err = s.store.ForkRevision(ctx, next,
			store.ActivityEntry{UserID: session.UserID, Action: "REVISED", Detail: in.Title},
		)
		if err != nil {
			return nil, err
		}
	}

	if len(in.DistributionDepartmentIDs) > 0 || len(in.DistributionUserIDs) > 0 {
		if err := s.store.ReplaceDistribution(ctx, rev.ID, in.DistributionDepartmentIDs, in.DistributionUserIDs); err != nil {
			return nil, err
		}
	}

	s.indexRevision(doc, rev)
	return map[string]any{"revision": revisionJSON(rev)}, nil
}

// CancelRevision withdraws a revision from the flow and resolves its
// pending approvals.
func (s *Service) CancelRevision(ctx context.Context, session Session, revisionID string) error {
	rev, err := s.store.GetRevision(ctx, revisionID)
	if err != nil {
		return err
	}
	if rev.PreparerID != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the preparer may cancel this revision", nil)
	}
	return s.store.CancelRevision(ctx, revisionID,
		store.ActivityEntry{DocumentID: rev.DocumentID, RevisionID: revisionID, UserID: session.UserID, Action: "CANCELLED", Detail: rev.Title},
	)
}

// DeleteDocument soft-deletes a document. Stored files are kept for the
// revision history.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.CreatedBy != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the uploader or an admin may delete this document", nil)
	}
	if err := s.store.SoftDeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	return nil
}

func (s *Service) ListDocuments(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	items, err := s.store.ListDocuments(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := documentJSON(item.Document)
		entry["revision"] = revisionJSON(item.Revision)
		list = append(list, entry)
	}
	return list, nil
}

// DocumentDetail assembles the document view: current revision, full
// revision history, the current revision's approvals, distribution, and
// read statistics.
func (s *Service) DocumentDetail(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	revisions, err := s.store.ListRevisions(ctx, documentID)
	if err != nil {
		return nil, err
	}

	detail := documentJSON(doc)
	history := make([]map[string]any, 0, len(revisions))
	for _, rev := range revisions {
		history = append(history, revisionJSON(rev))
	}
	detail["revisions"] = history

	if doc.CurrentRevisionID != nil {
		rev, err := s.store.GetRevision(ctx, *doc.CurrentRevisionID)
		if err != nil {
			return nil, err
		}
		detail["revision"] = revisionJSON(rev)

		approvals, err := s.store.ListApprovalsForRevision(ctx, rev.ID)
		if err != nil {
			return nil, err
		}
		chain := make([]map[string]any, 0, len(approvals))
		for _, a := range approvals {
			chain = append(chain, approvalJSON(a))
		}
		detail["approvals"] = chain

		distribution, err := s.store.GetDistribution(ctx, rev.ID)
		if err != nil {
			return nil, err
		}
		detail["distribution"] = map[string]any{
			"departmentIds": nonNilStrings(distribution.DepartmentIDs),
			"userIds":       nonNilStrings(distribution.UserIDs),
		}

		total, confirmed, err := s.store.ReadStats(ctx, rev.ID)
		if err != nil {
			return nil, err
		}
		detail["readStats"] = map[string]any{"total": total, "confirmed": confirmed}
	}
	return detail, nil
}

func (s *Service) ListRevisionApprovals(ctx context.Context, revisionID string) ([]map[string]any, error) {
	approvals, err := s.store.ListApprovalsForRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(approvals))
	for _, a := range approvals {
		items = append(items, approvalJSON(a))
	}
	return items, nil
}

func (s *Service) ListMyApprovals(ctx context.Context, userID string) ([]map[string]any, error) {
	items, err := s.store.ListPendingApprovalsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := approvalJSON(item.Approval)
		entry["documentId"] = item.DocumentID
		entry["documentCode"] = item.DocumentCode
		entry["revisionTitle"] = item.RevisionTitle
		entry["revisionNumber"] = item.RevisionNumber
		list = append(list, entry)
	}
	return list, nil
}

func (s *Service) ListReadConfirmations(ctx context.Context, revisionID string) ([]map[string]any, error) {
	items, err := s.store.ListReadConfirmations(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]any, 0, len(items))
	for _, item := range items {
		list = append(list, map[string]any{
			"id":             item.ID,
			"revisionId":     item.RevisionID,
			"userId":         item.UserID,
			"confirmedAt":    item.ConfirmedAt,
			"reminderSentAt": item.ReminderSentAt,
			"createdAt":      item.CreatedAt,
		})
	}
	return list, nil
}

func (s *Service) ListActivity(ctx context.Context, documentID string, limit int) ([]map[string]any, error) {
	entries, err := s.store.ListActivity(ctx, documentID, limit)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		list = append(list, map[string]any{
			"id":         entry.ID,
			"documentId": entry.DocumentID,
			"revisionId": entry.RevisionID,
			"userId":     entry.UserID,
			"action":     entry.Action,
			"detail":     entry.Detail,
			"createdAt":  entry.CreatedAt,
		})
	}
	return list, nil
}

// OpenFile streams the stored file of a revision.
func (s *Service) OpenFile(ctx context.Context, revisionID string) (io.ReadCloser, int64, string, string, error) {
	rev, err := s.store.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, 0, "", "", err
	}
	reader, size, mimeType, err := s.files.Open(ctx, rev.FilePath)
	if err != nil {
		return nil, 0, "", "", err
	}
	if mimeType == "" {
		mimeType = rev.MimeType
	}
	return reader, size, mimeType, rev.FileName, nil
}

func (s *Service) notifyApprovalRequested(ctx context.Context, doc store.Document, rev store.Revision, approval store.Approval, preparerName string) {
	s.notifyUser(ctx, queue.NotificationJob{
		UserID:     approval.ApproverID,
		Type:       "APPROVAL_REQUESTED",
		TitleKey:   "notification.approval_requested",
		Params:     map[string]string{"code": doc.Code, "title": rev.Title, "step": approval.Step},
		DocumentID: doc.ID,
		RevisionID: rev.ID,
	})
	s.publishEvent(ctx, notify.ChannelApprovals, notify.Event{
		Type:         "approval.requested",
		TargetUserID: approval.ApproverID,
		DocumentID:   doc.ID,
		RevisionID:   rev.ID,
		OccurredAt:   time.Now(),
	})

	assignee, err := s.store.GetUserByID(ctx, approval.ApproverID)
	if err != nil {
		log.Printf("app: load approval assignee %s: %v", approval.ApproverID, err)
		return
	}
	subject, html, err := email.RenderApprovalRequest(email.ApprovalRequestData{
		ApproverName: assignee.DisplayName,
		DocumentCode: doc.Code,
		Title:        rev.Title,
		PreparerName: preparerName,
		Step:         approval.Step,
	})
	if err != nil {
		log.Printf("app: render approval request mail: %v", err)
		return
	}
	s.mailUser(ctx, assignee.Email, subject, html)
}

func (s *Service) notifyApprovalResult(ctx context.Context, doc store.Document, rev store.Revision, approved bool, approverName, comment string) {
	notificationType := "APPROVAL_REJECTED"
	titleKey := "notification.approval_rejected"
	if approved {
		notificationType = "APPROVAL_APPROVED"
		titleKey = "notification.approval_approved"
	}
	s.notifyUser(ctx, queue.NotificationJob{
		UserID:     rev.PreparerID,
		Type:       notificationType,
		TitleKey:   titleKey,
		Params:     map[string]string{"code": doc.Code, "title": rev.Title},
		DocumentID: doc.ID,
		RevisionID: rev.ID,
	})

	preparer, err := s.store.GetUserByID(ctx, rev.PreparerID)
	if err != nil {
		log.Printf("app: load preparer %s: %v", rev.PreparerID, err)
		return
	}
	subject, html, err := email.RenderApprovalResult(email.ApprovalResultData{
		PreparerName: preparer.DisplayName,
		DocumentCode: doc.Code,
		Title:        rev.Title,
		Approved:     approved,
		ApproverName: approverName,
		Comment:      comment,
	})
	if err != nil {
		log.Printf("app: render approval result mail: %v", err)
		return
	}
	s.mailUser(ctx, preparer.Email, subject, html)
}

func (s *Service) notifyPublished(ctx context.Context, doc store.Document, rev store.Revision, target store.User) {
	s.notifyUser(ctx, queue.NotificationJob{
		UserID:     target.ID,
		Type:       "DOCUMENT_PUBLISHED",
		TitleKey:   "notification.read_requested",
		Params:     map[string]string{"code": doc.Code, "title": rev.Title},
		DocumentID: doc.ID,
		RevisionID: rev.ID,
	})
	subject, html, err := email.RenderPublished(email.PublishedData{
		UserName:     target.DisplayName,
		DocumentCode: doc.Code,
		Title:        rev.Title,
		Revision:     rev.Number,
	})
	if err != nil {
		log.Printf("app: render published mail: %v", err)
		return
	}
	s.mailUser(ctx, target.Email, subject, html)
}

func (s *Service) indexRevision(doc store.Document, rev store.Revision) {
	if s.search == nil {
		return
	}
	record := search.DocumentRecord{
		ID:          doc.ID,
		Code:        doc.Code,
		Title:       rev.Title,
		Description: rev.Description,
		DocType:     rev.DocType,
		Status:      rev.Status,
		RevisionID:  rev.ID,
	}
	if rev.DepartmentID != nil {
		record.DepartmentID = *rev.DepartmentID
	}
	s.search.IndexDocument(record)
}

func validateDocumentFields(code, title string, hasFile bool) map[string]string {
	details := map[string]string{}
	if code == "" {
		details["code"] = "required"
	}
	if title == "" {
		details["title"] = "required"
	}
	if !hasFile {
		details["file"] = "required"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func documentJSON(doc store.Document) map[string]any {
	return map[string]any{
		"id":                doc.ID,
		"code":              doc.Code,
		"currentRevisionId": doc.CurrentRevisionID,
		"currentRevision":   doc.CurrentRevision,
		"createdBy":         doc.CreatedBy,
		"createdAt":         doc.CreatedAt,
	}
}

func revisionJSON(rev store.Revision) map[string]any {
	return map[string]any{
		"id":           rev.ID,
		"documentId":   rev.DocumentID,
		"number":       rev.Number,
		"status":       rev.Status,
		"title":        rev.Title,
		"description":  rev.Description,
		"docType":      rev.DocType,
		"preparerId":   rev.PreparerID,
		"approverId":   rev.ApproverID,
		"departmentId": rev.DepartmentID,
		"fileName":     rev.FileName,
		"fileSize":     rev.FileSize,
		"mimeType":     rev.MimeType,
		"changeNotes":  rev.ChangeNotes,
		"publishedAt":  rev.PublishedAt,
		"createdAt":    rev.CreatedAt,
		"updatedAt":    rev.UpdatedAt,
	}
}

func approvalJSON(a store.Approval) map[string]any {
	return map[string]any{
		"id":             a.ID,
		"revisionId":     a.RevisionID,
		"approverId":     a.ApproverID,
		"step":           a.Step,
		"status":         a.Status,
		"comment":        a.Comment,
		"respondedAt":    a.RespondedAt,
		"reminderSentAt": a.ReminderSentAt,
		"escalatedAt":    a.EscalatedAt,
		"createdAt":      a.CreatedAt,
	}
}

func nonNilStrings(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func orFallback(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
