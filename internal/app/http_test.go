package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docuflow/api/internal/auth"
	"docuflow/api/internal/config"
	"docuflow/api/internal/store"
)

func issueTestToken(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  userID,
		Name: userID,
		Role: role,
		JTI:  "jti-" + userID,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func newTestServer(fs *fakeStore) *HTTPServer {
	return NewHTTPServer(newTestService(fs, &fakeQueue{}), "*", "cron-secret")
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v, want ok=true", body)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server := newTestServer(&fakeStore{})
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/documents", nil))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestCronRequiresSecret(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/cron", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/cron", nil)
	request.Header.Set("Authorization", "Bearer wrong-secret")
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/api/cron", nil)
	request.Header.Set("Authorization", "Bearer cron-secret")
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", recorder.Code)
	}

	var body CronResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode cron result: %v", err)
	}
	if body.Duration == "" {
		t.Fatal("cron result should report a duration")
	}
}

func TestApprovalDecisionOverHTTP(t *testing.T) {
	var applied store.ApprovalDecision
	fs := &fakeStore{
		getPendingApprovalFn: func(_ context.Context, approvalID, actorID string) (store.PendingApprovalItem, store.Revision, error) {
			if actorID != "bob" {
				return store.PendingApprovalItem{}, store.Revision{}, sql.ErrNoRows
			}
			item := store.PendingApprovalItem{DocumentID: "doc-1", DocumentCode: "SOP-001"}
			item.ID = approvalID
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
	server := newTestServer(fs)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/approvals/appr-2", strings.NewReader(`{"action":"APPROVE"}`))
	request.Header.Set("Authorization", "Bearer "+issueTestToken(t, "bob", "MANAGER"))
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", recorder.Code, recorder.Body.String())
	}
	if applied.Status != "APPROVED" || applied.RevisionStatus != "APPROVED" {
		t.Fatalf("applied = %+v, want final approval", applied)
	}
}

func TestRejectWithoutCommentOverHTTP(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/approvals/appr-1", strings.NewReader(`{"action":"REJECT","comment":"nope"}`))
	request.Header.Set("Authorization", "Bearer "+issueTestToken(t, "bob", "MANAGER"))
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", recorder.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &body)
	if body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("code = %v, want VALIDATION_ERROR", body["code"])
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/admin/settings", nil)
	request.Header.Set("Authorization", "Bearer "+issueTestToken(t, "alice", "USER"))
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("user role: status = %d, want 403", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/api/admin/settings", nil)
	request.Header.Set("Authorization", "Bearer "+issueTestToken(t, "root", "ADMIN"))
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("admin role: status = %d, want 200", recorder.Code)
	}
}

func TestPasswordResetTokenHiddenOutsideDevMode(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "alice", Email: email, DisplayName: "Alice", IsActive: true}, nil
		},
	}
	body := `{"email":"alice@example.com"}`

	server := newTestServer(fs)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/auth/reset-password/request", strings.NewReader(body)))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var response map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &response)
	if _, leaked := response["devResetToken"]; leaked {
		t.Fatal("reset token must not appear in the response outside dev mode")
	}

	devCfg := config.Config{JWTSecret: "test-secret", DevMode: true}
	devServer := NewHTTPServer(New(devCfg, fs, Options{Queue: &fakeQueue{}, Files: fakeFiles{}}), "*", "cron-secret")
	recorder = httptest.NewRecorder()
	devServer.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/auth/reset-password/request", strings.NewReader(body)))
	response = map[string]any{}
	_ = json.Unmarshal(recorder.Body.Bytes(), &response)
	if token, _ := response["devResetToken"].(string); token == "" {
		t.Fatal("dev mode should surface the reset token when mail is unavailable")
	}
}

func TestSessionEndpointWithoutToken(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &body)
	if body["authenticated"] != false {
		t.Fatalf("authenticated = %v, want false", body["authenticated"])
	}
}
