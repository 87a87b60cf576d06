package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"docuflow/api/internal/config"
	"docuflow/api/internal/files"
	"docuflow/api/internal/queue"
	"docuflow/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn                func(context.Context, string) (store.User, error)
	getUserByEmailFn             func(context.Context, string) (store.User, error)
	getDocumentFn                func(context.Context, string) (store.Document, error)
	getDocumentByCodeFn          func(context.Context, string) (store.Document, error)
	getRevisionFn                func(context.Context, string) (store.Revision, error)
	createDocumentWithRevisionFn func(context.Context, store.Document, store.Revision, store.ActivityEntry) (store.Document, store.Revision, error)
	updateDraftRevisionFn        func(context.Context, store.Revision, store.ActivityEntry) error
	forkRevisionFn               func(context.Context, store.Revision, store.ActivityEntry) (store.Revision, error)
	submitRevisionFn             func(context.Context, string, store.Approval, store.ActivityEntry) (store.Approval, error)
	cancelRevisionFn             func(context.Context, string, store.ActivityEntry) error
	replaceDistributionFn        func(context.Context, string, []string, []string) error
	getPendingApprovalFn         func(context.Context, string, string) (store.PendingApprovalItem, store.Revision, error)
	applyApprovalDecisionFn      func(context.Context, store.ApprovalDecision) (*store.Approval, error)
	listPublishTargetsFn         func(context.Context, string, string) ([]store.User, error)
	publishRevisionFn            func(context.Context, string, time.Time, []string, store.ActivityEntry) (int, error)
	confirmReadFn                func(context.Context, string, string, store.ActivityEntry) error
	getSettingFn                 func(context.Context, string) (string, error)
	listStaleApprovalsFn         func(context.Context, time.Time, time.Time) ([]store.PendingApprovalItem, error)
	markApprovalRemindedFn       func(context.Context, string, time.Time) error
	listEscalatableApprovalsFn   func(context.Context, time.Time) ([]store.PendingApprovalItem, error)
	markApprovalEscalatedFn      func(context.Context, string, time.Time) (bool, error)
	departmentManagerFn          func(context.Context, string) (store.User, error)
	anyActiveAdminFn             func(context.Context) (store.User, error)
	listStaleReadsFn             func(context.Context, time.Time, time.Time) ([]store.StaleReadConfirmation, error)
	markReadRemindedFn           func(context.Context, string, time.Time) error
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, DisplayName: id, Role: testRole(id), IsActive: true}, nil
}

// testRole keeps the HTTP fixtures short: "root" is an admin, "bob" a
// manager, everyone else a regular user.
func testRole(id string) string {
	switch id {
	case "root":
		return "ADMIN"
	case "bob":
		return "MANAGER"
	default:
		return "USER"
	}
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	return user, nil
}
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error        { return nil }
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error { return nil }
func (f *fakeStore) ListUsers(context.Context) ([]store.User, error)     { return nil, nil }
func (f *fakeStore) SetUserActive(context.Context, string, bool) error   { return nil }
func (f *fakeStore) DepartmentManager(ctx context.Context, departmentID string) (store.User, error) {
	if f.departmentManagerFn != nil {
		return f.departmentManagerFn(ctx, departmentID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) AnyActiveAdmin(ctx context.Context) (store.User, error) {
	if f.anyActiveAdminFn != nil {
		return f.anyActiveAdminFn(ctx)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) ListDepartments(context.Context) ([]store.Department, error) { return nil, nil }
func (f *fakeStore) CreateDepartment(ctx context.Context, dept store.Department) (store.Department, error) {
	return dept, nil
}
func (f *fakeStore) UpdateDepartmentManager(context.Context, string, *string) error { return nil }

func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error        { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeStore) CreateDocumentWithRevision(ctx context.Context, doc store.Document, rev store.Revision, activity store.ActivityEntry) (store.Document, store.Revision, error) {
	if f.createDocumentWithRevisionFn != nil {
		return f.createDocumentWithRevisionFn(ctx, doc, rev, activity)
	}
	doc.ID = "doc-1"
	rev.ID = "rev-1"
	rev.DocumentID = doc.ID
	rev.Number = 1
	rev.Status = "DRAFT"
	doc.CurrentRevisionID = &rev.ID
	doc.CurrentRevision = 1
	return doc, rev, nil
}
func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, id)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) GetDocumentByCode(ctx context.Context, code string) (store.Document, error) {
	if f.getDocumentByCodeFn != nil {
		return f.getDocumentByCodeFn(ctx, code)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) ListDocuments(context.Context, string, int) ([]store.DocumentWithRevision, error) {
	return nil, nil
}
func (f *fakeStore) SoftDeleteDocument(context.Context, string) error { return nil }
func (f *fakeStore) GetRevision(ctx context.Context, id string) (store.Revision, error) {
	if f.getRevisionFn != nil {
		return f.getRevisionFn(ctx, id)
	}
	return store.Revision{}, sql.ErrNoRows
}
func (f *fakeStore) ListRevisions(context.Context, string) ([]store.Revision, error) {
	return nil, nil
}
func (f *fakeStore) UpdateDraftRevision(ctx context.Context, rev store.Revision, activity store.ActivityEntry) error {
	if f.updateDraftRevisionFn != nil {
		return f.updateDraftRevisionFn(ctx, rev, activity)
	}
	return nil
}
func (f *fakeStore) ForkRevision(ctx context.Context, rev store.Revision, activity store.ActivityEntry) (store.Revision, error) {
	if f.forkRevisionFn != nil {
		return f.forkRevisionFn(ctx, rev, activity)
	}
	rev.ID = "rev-next"
	rev.Status = "DRAFT"
	return rev, nil
}
func (f *fakeStore) SubmitRevision(ctx context.Context, revisionID string, approval store.Approval, activity store.ActivityEntry) (store.Approval, error) {
	if f.submitRevisionFn != nil {
		return f.submitRevisionFn(ctx, revisionID, approval, activity)
	}
	approval.ID = "appr-1"
	approval.Status = "PENDING"
	return approval, nil
}
func (f *fakeStore) CancelRevision(ctx context.Context, revisionID string, activity store.ActivityEntry) error {
	if f.cancelRevisionFn != nil {
		return f.cancelRevisionFn(ctx, revisionID, activity)
	}
	return nil
}
func (f *fakeStore) ReplaceDistribution(ctx context.Context, revisionID string, departmentIDs, userIDs []string) error {
	if f.replaceDistributionFn != nil {
		return f.replaceDistributionFn(ctx, revisionID, departmentIDs, userIDs)
	}
	return nil
}
func (f *fakeStore) GetDistribution(context.Context, string) (store.DistributionList, error) {
	return store.DistributionList{}, nil
}

func (f *fakeStore) GetPendingApproval(ctx context.Context, approvalID, approverID string) (store.PendingApprovalItem, store.Revision, error) {
	if f.getPendingApprovalFn != nil {
		return f.getPendingApprovalFn(ctx, approvalID, approverID)
	}
	return store.PendingApprovalItem{}, store.Revision{}, sql.ErrNoRows
}
func (f *fakeStore) ListPendingApprovalsFor(context.Context, string) ([]store.PendingApprovalItem, error) {
	return nil, nil
}
func (f *fakeStore) ListApprovalsForRevision(context.Context, string) ([]store.Approval, error) {
	return nil, nil
}
func (f *fakeStore) ApplyApprovalDecision(ctx context.Context, d store.ApprovalDecision) (*store.Approval, error) {
	if f.applyApprovalDecisionFn != nil {
		return f.applyApprovalDecisionFn(ctx, d)
	}
	return nil, nil
}
func (f *fakeStore) ListPublishTargets(ctx context.Context, revisionID, role string) ([]store.User, error) {
	if f.listPublishTargetsFn != nil {
		return f.listPublishTargetsFn(ctx, revisionID, role)
	}
	return nil, nil
}
func (f *fakeStore) PublishRevision(ctx context.Context, revisionID string, publishedAt time.Time, targetUserIDs []string, activity store.ActivityEntry) (int, error) {
	if f.publishRevisionFn != nil {
		return f.publishRevisionFn(ctx, revisionID, publishedAt, targetUserIDs, activity)
	}
	return len(targetUserIDs), nil
}
func (f *fakeStore) ConfirmRead(ctx context.Context, revisionID, userID string, activity store.ActivityEntry) error {
	if f.confirmReadFn != nil {
		return f.confirmReadFn(ctx, revisionID, userID, activity)
	}
	return nil
}
func (f *fakeStore) ReadStats(context.Context, string) (int, int, error) { return 0, 0, nil }
func (f *fakeStore) ListReadConfirmations(context.Context, string) ([]store.ReadConfirmation, error) {
	return nil, nil
}

func (f *fakeStore) ListStaleApprovals(ctx context.Context, olderThan, remindedBefore time.Time) ([]store.PendingApprovalItem, error) {
	if f.listStaleApprovalsFn != nil {
		return f.listStaleApprovalsFn(ctx, olderThan, remindedBefore)
	}
	return nil, nil
}
func (f *fakeStore) MarkApprovalReminded(ctx context.Context, approvalID string, at time.Time) error {
	if f.markApprovalRemindedFn != nil {
		return f.markApprovalRemindedFn(ctx, approvalID, at)
	}
	return nil
}
func (f *fakeStore) ListEscalatableApprovals(ctx context.Context, olderThan time.Time) ([]store.PendingApprovalItem, error) {
	if f.listEscalatableApprovalsFn != nil {
		return f.listEscalatableApprovalsFn(ctx, olderThan)
	}
	return nil, nil
}
func (f *fakeStore) MarkApprovalEscalated(ctx context.Context, approvalID string, at time.Time) (bool, error) {
	if f.markApprovalEscalatedFn != nil {
		return f.markApprovalEscalatedFn(ctx, approvalID, at)
	}
	return true, nil
}
func (f *fakeStore) ListStaleReadConfirmations(ctx context.Context, olderThan, remindedBefore time.Time) ([]store.StaleReadConfirmation, error) {
	if f.listStaleReadsFn != nil {
		return f.listStaleReadsFn(ctx, olderThan, remindedBefore)
	}
	return nil, nil
}
func (f *fakeStore) MarkReadReminded(ctx context.Context, readConfirmationID string, at time.Time) error {
	if f.markReadRemindedFn != nil {
		return f.markReadRemindedFn(ctx, readConfirmationID, at)
	}
	return nil
}

func (f *fakeStore) ListNotifications(context.Context, string, int) ([]store.Notification, error) {
	return nil, nil
}
func (f *fakeStore) MarkNotificationRead(context.Context, string, string) error { return nil }
func (f *fakeStore) UnreadNotificationCount(context.Context, string) (int, error) {
	return 0, nil
}
func (f *fakeStore) ListActivity(context.Context, string, int) ([]store.ActivityEntry, error) {
	return nil, nil
}

func (f *fakeStore) GetSetting(ctx context.Context, key string) (string, error) {
	if f.getSettingFn != nil {
		return f.getSettingFn(ctx, key)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) UpsertSetting(context.Context, string, string) error { return nil }
func (f *fakeStore) ListSettings(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

type fakeQueue struct {
	emails        []queue.EmailJob
	notifications []queue.NotificationJob
}

func (q *fakeQueue) EnqueueEmail(_ context.Context, job queue.EmailJob) error {
	q.emails = append(q.emails, job)
	return nil
}
func (q *fakeQueue) EnqueueNotification(_ context.Context, job queue.NotificationJob) error {
	q.notifications = append(q.notifications, job)
	return nil
}

type fakeFiles struct{}

func (fakeFiles) Save(_ context.Context, r io.Reader, _, fileName, mimeType string) (files.SavedFile, error) {
	data, _ := io.ReadAll(r)
	return files.SavedFile{Path: "files/" + fileName, FileName: fileName, Size: int64(len(data)), MimeType: mimeType}, nil
}
func (fakeFiles) Open(context.Context, string) (io.ReadCloser, int64, string, error) {
	return io.NopCloser(bytes.NewReader(nil)), 0, "", nil
}
func (fakeFiles) Delete(context.Context, string) error { return nil }

func newTestService(fs *fakeStore, q *fakeQueue) *Service {
	cfg := config.Config{
		JWTSecret:        "test-secret",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       30 * 24 * time.Hour,
		ReminderDays:     3,
		EscalationDays:   7,
		ReadReminderDays: 3,
	}
	var jobs jobQueue
	if q != nil {
		jobs = q
	}
	return New(cfg, fs, Options{Queue: jobs, Files: fakeFiles{}})
}

func approverID(id string) *string { return &id }

func TestCreateDocumentStartsTwoStepChain(t *testing.T) {
	var submitted *store.Approval
	fs := &fakeStore{
		submitRevisionFn: func(_ context.Context, revisionID string, approval store.Approval, _ store.ActivityEntry) (store.Approval, error) {
			approval.ID = "appr-1"
			approval.Status = "PENDING"
			submitted = &approval
			return approval, nil
		},
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, Status: "PENDING_APPROVAL", PreparerID: "alice"}, nil
		},
	}
	q := &fakeQueue{}
	svc := newTestService(fs, q)

	_, err := svc.CreateDocument(context.Background(), Session{UserID: "alice", Role: "USER"}, CreateDocumentInput{
		Code:       "SOP-001",
		Title:      "Handling procedure",
		ApproverID: approverID("bob"),
		File:       strings.NewReader("content"),
		FileName:   "sop.pdf",
		MimeType:   "application/pdf",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if submitted == nil {
		t.Fatal("expected an approval to be created")
	}
	if submitted.Step != "PREPARER" {
		t.Fatalf("first step = %q, want PREPARER", submitted.Step)
	}
	if submitted.ApproverID != "alice" {
		t.Fatalf("first approval addressed to %q, want the preparer", submitted.ApproverID)
	}
	if len(q.notifications) == 0 {
		t.Fatal("expected the assignee to be notified")
	}
}

func TestCreateDocumentSelfApproverSkipsFirstStep(t *testing.T) {
	var submitted *store.Approval
	fs := &fakeStore{
		submitRevisionFn: func(_ context.Context, revisionID string, approval store.Approval, _ store.ActivityEntry) (store.Approval, error) {
			approval.ID = "appr-1"
			submitted = &approval
			return approval, nil
		},
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, Status: "PENDING_APPROVAL", PreparerID: "alice"}, nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	_, err := svc.CreateDocument(context.Background(), Session{UserID: "alice", Role: "USER"}, CreateDocumentInput{
		Code:       "SOP-002",
		Title:      "Self approved",
		ApproverID: approverID("alice"),
		File:       strings.NewReader("content"),
		FileName:   "sop.pdf",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if submitted == nil {
		t.Fatal("expected an approval to be created")
	}
	if submitted.Step != "APPROVER" {
		t.Fatalf("step = %q, want APPROVER when preparer is approver", submitted.Step)
	}
	if submitted.ApproverID != "alice" {
		t.Fatalf("approval addressed to %q, want alice", submitted.ApproverID)
	}
}

func TestCreateDocumentWithoutApproverStaysDraft(t *testing.T) {
	submitCalls := 0
	fs := &fakeStore{
		submitRevisionFn: func(_ context.Context, _ string, approval store.Approval, _ store.ActivityEntry) (store.Approval, error) {
			submitCalls++
			return approval, nil
		},
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, Status: "DRAFT", PreparerID: "alice"}, nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	payload, err := svc.CreateDocument(context.Background(), Session{UserID: "alice", Role: "USER"}, CreateDocumentInput{
		Code:     "SOP-003",
		Title:    "No approver yet",
		File:     strings.NewReader("content"),
		FileName: "sop.pdf",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if submitCalls != 0 {
		t.Fatalf("expected no approval chain, got %d submit calls", submitCalls)
	}
	rev := payload["revision"].(map[string]any)
	if rev["status"] != "DRAFT" {
		t.Fatalf("revision status = %v, want DRAFT", rev["status"])
	}
}

func TestCreateDocumentDuplicateCode(t *testing.T) {
	fs := &fakeStore{
		getDocumentByCodeFn: func(_ context.Context, code string) (store.Document, error) {
			return store.Document{ID: "doc-0", Code: code}, nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	_, err := svc.CreateDocument(context.Background(), Session{UserID: "alice", Role: "USER"}, CreateDocumentInput{
		Code:     "SOP-001",
		Title:    "Duplicate",
		File:     strings.NewReader("content"),
		FileName: "sop.pdf",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "DUPLICATE_CODE" {
		t.Fatalf("err = %v, want DUPLICATE_CODE", err)
	}
}

func TestRejectRequiresComment(t *testing.T) {
	reads := 0
	fs := &fakeStore{
		getPendingApprovalFn: func(context.Context, string, string) (store.PendingApprovalItem, store.Revision, error) {
			reads++
			return store.PendingApprovalItem{}, store.Revision{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	_, err := svc.RespondToApproval(context.Background(), Session{UserID: "bob"}, "appr-1", "REJECT", "too short")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if reads != 0 {
		t.Fatal("rejection comment must be validated before any lookup")
	}
}

func TestRejectReturnsRevisionToDraft(t *testing.T) {
	var applied store.ApprovalDecision
	fs := &fakeStore{
		getPendingApprovalFn: func(context.Context, string, string) (store.PendingApprovalItem, store.Revision, error) {
			item := store.PendingApprovalItem{DocumentID: "doc-1", DocumentCode: "SOP-001"}
			item.ID = "appr-1"
			item.Step = "APPROVER"
			return item, store.Revision{ID: "rev-1", PreparerID: "alice", ApproverID: approverID("bob"), Status: "PREPARER_APPROVED"}, nil
		},
		applyApprovalDecisionFn: func(_ context.Context, d store.ApprovalDecision) (*store.Approval, error) {
			applied = d
			return nil, nil
		},
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, Status: "DRAFT", PreparerID: "alice"}, nil
		},
	}
	q := &fakeQueue{}
	svc := newTestService(fs, q)

	_, err := svc.RespondToApproval(context.Background(), Session{UserID: "bob", UserName: "Bob"}, "appr-1", "REJECT", "needs a full rework")
	if err != nil {
		t.Fatalf("RespondToApproval: %v", err)
	}
	if applied.Status != "REJECTED" {
		t.Fatalf("approval status = %q, want REJECTED", applied.Status)
	}
	if applied.RevisionStatus != "DRAFT" {
		t.Fatalf("revision status = %q, want DRAFT", applied.RevisionStatus)
	}
	if applied.NextApproval != nil {
		t.Fatal("rejection must not spawn a next approval")
	}
	if len(q.notifications) == 0 || q.notifications[0].UserID != "alice" {
		t.Fatal("expected the preparer to be notified of the rejection")
	}
}

func TestApprovePreparerStepSpawnsFinalStep(t *testing.T) {
	var applied store.ApprovalDecision
	fs := &fakeStore{
		getPendingApprovalFn: func(context.Context, string, string) (store.PendingApprovalItem, store.Revision, error) {
			item := store.PendingApprovalItem{DocumentID: "doc-1", DocumentCode: "SOP-001"}
			item.ID = "appr-1"
			item.Step = "PREPARER"
			return item, store.Revision{ID: "rev-1", PreparerID: "alice", ApproverID: approverID("bob"), Status: "PENDING_APPROVAL"}, nil
		},
		applyApprovalDecisionFn: func(_ context.Context, d store.ApprovalDecision) (*store.Approval, error) {
			applied = d
			if d.NextApproval == nil {
				return nil, nil
			}
			next := *d.NextApproval
			next.ID = "appr-2"
			next.Status = "PENDING"
			return &next, nil
		},
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, Status: "PREPARER_APPROVED", PreparerID: "alice"}, nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	payload, err := svc.RespondToApproval(context.Background(), Session{UserID: "alice", UserName: "Alice"}, "appr-1", "APPROVE", "")
	if err != nil {
		t.Fatalf("RespondToApproval: %v", err)
	}
	if applied.RevisionStatus != "PREPARER_APPROVED" {
		t.Fatalf("revision status = %q, want PREPARER_APPROVED", applied.RevisionStatus)
	}
	if applied.NextApproval == nil {
		t.Fatal("expected the final approval step to be spawned")
	}
	if applied.NextApproval.Step != "APPROVER" || applied.NextApproval.ApproverID != "bob" {
		t.Fatalf("next approval = %+v, want APPROVER step addressed to bob", applied.NextApproval)
	}
	if _, ok := payload["nextApproval"]; !ok {
		t.Fatal("response should include the spawned approval")
	}
}

func TestApproveFinalStepApprovesRevision(t *testing.T) {
	var applied store.ApprovalDecision
	fs := &fakeStore{
		getPendingApprovalFn: func(context.Context, string, string) (store.PendingApprovalItem, store.Revision, error) {
			item := store.PendingApprovalItem{DocumentID: "doc-1", DocumentCode: "SOP-001"}
			item.ID = "appr-2"
			item.Step = "APPROVER"
			return item, store.Revision{ID: "rev-1", PreparerID: "alice", ApproverID: approverID("bob"), Status: "PREPARER_APPROVED"}, nil
		},
		applyApprovalDecisionFn: func(_ context.Context, d store.ApprovalDecision) (*store.Approval, error) {
			applied = d
			return nil, nil
		},
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, Status: "APPROVED", PreparerID: "alice"}, nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	_, err := svc.RespondToApproval(context.Background(), Session{UserID: "bob", UserName: "Bob"}, "appr-2", "APPROVE", "")
	if err != nil {
		t.Fatalf("RespondToApproval: %v", err)
	}
	if applied.RevisionStatus != "APPROVED" {
		t.Fatalf("revision status = %q, want APPROVED", applied.RevisionStatus)
	}
	if applied.NextApproval != nil {
		t.Fatal("final approval must not spawn another step")
	}
}

func TestRespondToResolvedApprovalIsNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeQueue{})

	_, err := svc.RespondToApproval(context.Background(), Session{UserID: "bob"}, "appr-1", "APPROVE", "")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows for an already resolved approval", err)
	}
}

func TestPublishRequiresApproverOrAdmin(t *testing.T) {
	fs := &fakeStore{
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, DocumentID: "doc-1", Status: "APPROVED", PreparerID: "alice", ApproverID: approverID("bob")}, nil
		},
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, Code: "SOP-001"}, nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	_, err := svc.Publish(context.Background(), Session{UserID: "mallory", Role: "MANAGER"}, "rev-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("err = %v, want FORBIDDEN", err)
	}

	if _, err := svc.Publish(context.Background(), Session{UserID: "root", Role: "ADMIN"}, "rev-1"); err != nil {
		t.Fatalf("admin publish: %v", err)
	}
}

func TestPublishRejectsUnapprovedRevision(t *testing.T) {
	fs := &fakeStore{
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, Status: "PENDING_APPROVAL", PreparerID: "alice", ApproverID: approverID("bob")}, nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	_, err := svc.Publish(context.Background(), Session{UserID: "bob", Role: "MANAGER"}, "rev-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_STATUS" {
		t.Fatalf("err = %v, want INVALID_STATUS", err)
	}
}

func TestPublishFansOutToManagerTargets(t *testing.T) {
	var publishedTargets []string
	statuses := map[string]string{"rev-1": "APPROVED"}
	fs := &fakeStore{
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, DocumentID: "doc-1", Status: statuses[id], PreparerID: "alice", ApproverID: approverID("bob"), Title: "Handling"}, nil
		},
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, Code: "SOP-001"}, nil
		},
		listPublishTargetsFn: func(_ context.Context, _, role string) ([]store.User, error) {
			if role != "MANAGER" {
				t.Fatalf("targets filtered by role %q, want MANAGER", role)
			}
			return []store.User{
				{ID: "m1", Email: "m1@example.com", DisplayName: "M One"},
				{ID: "m2", Email: "m2@example.com", DisplayName: "M Two"},
			}, nil
		},
		publishRevisionFn: func(_ context.Context, revisionID string, _ time.Time, targetUserIDs []string, _ store.ActivityEntry) (int, error) {
			publishedTargets = targetUserIDs
			statuses[revisionID] = "PUBLISHED"
			return len(targetUserIDs), nil
		},
	}
	q := &fakeQueue{}
	svc := newTestService(fs, q)

	payload, err := svc.Publish(context.Background(), Session{UserID: "bob", UserName: "Bob", Role: "MANAGER"}, "rev-1")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(publishedTargets) != 2 {
		t.Fatalf("published to %d targets, want 2", len(publishedTargets))
	}
	if payload["readConfirmations"] != 2 {
		t.Fatalf("readConfirmations = %v, want 2", payload["readConfirmations"])
	}

	// Two target notifications plus one to the preparer.
	if len(q.notifications) != 3 {
		t.Fatalf("got %d notifications, want 3", len(q.notifications))
	}
	if q.notifications[2].UserID != "alice" {
		t.Fatalf("last notification to %q, want the preparer", q.notifications[2].UserID)
	}
	if len(q.emails) != 2 {
		t.Fatalf("got %d emails, want 2", len(q.emails))
	}
}

func TestConfirmReadTwiceConflicts(t *testing.T) {
	confirmed := map[string]bool{}
	fs := &fakeStore{
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, DocumentID: "doc-1", Status: "PUBLISHED", Title: "Handling"}, nil
		},
		confirmReadFn: func(_ context.Context, revisionID, userID string, _ store.ActivityEntry) error {
			key := revisionID + "/" + userID
			if confirmed[key] {
				return sql.ErrNoRows
			}
			confirmed[key] = true
			return nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})
	session := Session{UserID: "m1"}

	if err := svc.ConfirmRead(context.Background(), session, "rev-1"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	err := svc.ConfirmRead(context.Background(), session, "rev-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "ALREADY_CONFIRMED" {
		t.Fatalf("second confirm err = %v, want ALREADY_CONFIRMED", err)
	}
}

func TestConfirmReadNotifiesUploader(t *testing.T) {
	fs := &fakeStore{
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, DocumentID: "doc-1", Status: "PUBLISHED", Title: "Handling", PreparerID: "alice"}, nil
		},
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, Code: "SOP-001"}, nil
		},
		confirmReadFn: func(context.Context, string, string, store.ActivityEntry) error {
			return nil
		},
	}
	q := &fakeQueue{}
	svc := newTestService(fs, q)

	if err := svc.ConfirmRead(context.Background(), Session{UserID: "m1", UserName: "M One"}, "rev-1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(q.notifications) != 1 {
		t.Fatalf("got %d notifications, want one for the uploader", len(q.notifications))
	}
	if q.notifications[0].UserID != "alice" || q.notifications[0].Type != "READ_CONFIRMED" {
		t.Fatalf("notification = %+v, want READ_CONFIRMED for alice", q.notifications[0])
	}
}

func TestConfirmReadByUploaderSkipsSelfNotification(t *testing.T) {
	fs := &fakeStore{
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, DocumentID: "doc-1", Status: "PUBLISHED", Title: "Handling", PreparerID: "alice"}, nil
		},
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, Code: "SOP-001"}, nil
		},
		confirmReadFn: func(context.Context, string, string, store.ActivityEntry) error {
			return nil
		},
	}
	q := &fakeQueue{}
	svc := newTestService(fs, q)

	if err := svc.ConfirmRead(context.Background(), Session{UserID: "alice"}, "rev-1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(q.notifications) != 0 {
		t.Fatalf("got %d notifications, want none when the uploader confirms their own document", len(q.notifications))
	}
}

func TestReviseDraftUpdatesInPlace(t *testing.T) {
	updated := false
	forked := false
	revID := "rev-1"
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, Code: "SOP-001", CreatedBy: "alice", CurrentRevisionID: &revID, CurrentRevision: 1}, nil
		},
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, DocumentID: "doc-1", Status: "DRAFT", PreparerID: "alice", Number: 1}, nil
		},
		updateDraftRevisionFn: func(context.Context, store.Revision, store.ActivityEntry) error {
			updated = true
			return nil
		},
		forkRevisionFn: func(_ context.Context, rev store.Revision, _ store.ActivityEntry) (store.Revision, error) {
			forked = true
			return rev, nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	_, err := svc.Revise(context.Background(), Session{UserID: "alice", Role: "USER"}, "doc-1", ReviseInput{Title: "Updated"})
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if !updated || forked {
		t.Fatalf("updated=%v forked=%v, want in-place update of a draft", updated, forked)
	}
}

func TestRevisePublishedForksNextRevision(t *testing.T) {
	forked := false
	revID := "rev-1"
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, Code: "SOP-001", CreatedBy: "alice", CurrentRevisionID: &revID, CurrentRevision: 1}, nil
		},
		getRevisionFn: func(_ context.Context, id string) (store.Revision, error) {
			return store.Revision{ID: id, DocumentID: "doc-1", Status: "PUBLISHED", PreparerID: "alice", Number: 1}, nil
		},
		forkRevisionFn: func(_ context.Context, rev store.Revision, _ store.ActivityEntry) (store.Revision, error) {
			forked = true
			rev.ID = "rev-2"
			rev.Number = 2
			rev.Status = "DRAFT"
			return rev, nil
		},
	}
	svc := newTestService(fs, &fakeQueue{})

	payload, err := svc.Revise(context.Background(), Session{UserID: "alice", Role: "USER"}, "doc-1", ReviseInput{Title: "Second edition"})
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if !forked {
		t.Fatal("expected a new revision to be forked")
	}
	rev := payload["revision"].(map[string]any)
	if rev["status"] != "DRAFT" {
		t.Fatalf("forked revision status = %v, want DRAFT", rev["status"])
	}
}
