// Package app holds the document lifecycle service and its HTTP
// surface. All state lives in Postgres; Redis carries the best-effort
// side channels (job queue, live events) and optionally refresh
// sessions.
package app

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"docuflow/api/internal/auth"
	"docuflow/api/internal/authpw"
	"docuflow/api/internal/config"
	"docuflow/api/internal/email"
	"docuflow/api/internal/files"
	"docuflow/api/internal/notify"
	"docuflow/api/internal/queue"
	"docuflow/api/internal/rbac"
	"docuflow/api/internal/search"
	"docuflow/api/internal/store"
	"docuflow/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) (store.User, error)
	UpdateUserPassword(context.Context, string, string) error
	CreatePasswordReset(context.Context, string, string, time.Time) error
	GetPasswordReset(context.Context, string) (string, error)
	MarkPasswordResetUsed(context.Context, string) error
	ListUsers(context.Context) ([]store.User, error)
	SetUserActive(context.Context, string, bool) error
	DepartmentManager(context.Context, string) (store.User, error)
	AnyActiveAdmin(context.Context) (store.User, error)
	ListDepartments(context.Context) ([]store.Department, error)
	CreateDepartment(context.Context, store.Department) (store.Department, error)
	UpdateDepartmentManager(context.Context, string, *string) error

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateDocumentWithRevision(context.Context, store.Document, store.Revision, store.ActivityEntry) (store.Document, store.Revision, error)
	GetDocument(context.Context, string) (store.Document, error)
	GetDocumentByCode(context.Context, string) (store.Document, error)
	ListDocuments(context.Context, string, int) ([]store.DocumentWithRevision, error)
	SoftDeleteDocument(context.Context, string) error
	GetRevision(context.Context, string) (store.Revision, error)
	ListRevisions(context.Context, string) ([]store.Revision, error)
	UpdateDraftRevision(context.Context, store.Revision, store.ActivityEntry) error
	ForkRevision(context.Context, store.Revision, store.ActivityEntry) (store.Revision, error)
	SubmitRevision(context.Context, string, store.Approval, store.ActivityEntry) (store.Approval, error)
	CancelRevision(context.Context, string, store.ActivityEntry) error
	ReplaceDistribution(context.Context, string, []string, []string) error
	GetDistribution(context.Context, string) (store.DistributionList, error)

	GetPendingApproval(context.Context, string, string) (store.PendingApprovalItem, store.Revision, error)
	ListPendingApprovalsFor(context.Context, string) ([]store.PendingApprovalItem, error)
	ListApprovalsForRevision(context.Context, string) ([]store.Approval, error)
	ApplyApprovalDecision(context.Context, store.ApprovalDecision) (*store.Approval, error)
	ListPublishTargets(context.Context, string, string) ([]store.User, error)
	PublishRevision(context.Context, string, time.Time, []string, store.ActivityEntry) (int, error)
	ConfirmRead(context.Context, string, string, store.ActivityEntry) error
	ReadStats(context.Context, string) (int, int, error)
	ListReadConfirmations(context.Context, string) ([]store.ReadConfirmation, error)

	ListStaleApprovals(context.Context, time.Time, time.Time) ([]store.PendingApprovalItem, error)
	MarkApprovalReminded(context.Context, string, time.Time) error
	ListEscalatableApprovals(context.Context, time.Time) ([]store.PendingApprovalItem, error)
	MarkApprovalEscalated(context.Context, string, time.Time) (bool, error)
	ListStaleReadConfirmations(context.Context, time.Time, time.Time) ([]store.StaleReadConfirmation, error)
	MarkReadReminded(context.Context, string, time.Time) error

	ListNotifications(context.Context, string, int) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string) error
	UnreadNotificationCount(context.Context, string) (int, error)
	ListActivity(context.Context, string, int) ([]store.ActivityEntry, error)

	GetSetting(context.Context, string) (string, error)
	UpsertSetting(context.Context, string, string) error
	ListSettings(context.Context) (map[string]string, error)
}

// refreshStore is the refresh-token backend. Postgres implements it
// directly; the Redis session store implements it when REDIS_URL is
// configured.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type jobQueue interface {
	EnqueueEmail(context.Context, queue.EmailJob) error
	EnqueueNotification(context.Context, queue.NotificationJob) error
}

type liveHub interface {
	Publish(ctx context.Context, channel string, event notify.Event) error
	Subscribe(ctx context.Context, channels ...string) (<-chan notify.Event, func())
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	files    files.Storage
	queue    jobQueue
	hub      liveHub
	search   searchIndex
	authpw   *authpw.Service
	email    *email.Service
}

// New wires the service. sessions, queue, hub, searchSvc, and emailSvc
// may be nil; the corresponding feature degrades (Postgres refresh
// sessions, no async jobs, no live events, Postgres-only search, no
// mail).
func New(cfg config.Config, st dataStore, opts Options) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: opts.Sessions,
		files:    opts.Files,
		queue:    opts.Queue,
		hub:      opts.Hub,
		search:   opts.Search,
		authpw:   authpw.NewService(st),
		email:    opts.Email,
	}
}

// Options carries the optional collaborators of the service.
type Options struct {
	Sessions refreshStore
	Files    files.Storage
	Queue    jobQueue
	Hub      liveHub
	Search   searchIndex
	Email    *email.Service
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) refreshBackend() refreshStore {
	if s.sessions != nil {
		return s.sessions
	}
	return s.store
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: emailAddr, Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	backend := s.refreshBackend()
	owner, err := backend.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := backend.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refreshBackend().SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refreshBackend().RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// notifyUser enqueues an in-app notification. Failures are logged and
// swallowed; the rows written by the primary action are the source of
// truth.
func (s *Service) notifyUser(ctx context.Context, job queue.NotificationJob) {
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueNotification(ctx, job); err != nil {
		log.Printf("app: enqueue notification for %s: %v", job.UserID, err)
	}
}

func (s *Service) mailUser(ctx context.Context, to, subject, htmlBody string) {
	if s.queue == nil || to == "" {
		return
	}
	if err := s.queue.EnqueueEmail(ctx, queue.EmailJob{To: []string{to}, Subject: subject, Body: htmlBody, HTML: true}); err != nil {
		log.Printf("app: enqueue email to %s: %v", to, err)
	}
}

func (s *Service) publishEvent(ctx context.Context, channel string, event notify.Event) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, channel, event); err != nil {
		log.Printf("app: publish event %s: %v", event.Type, err)
	}
}

// settingInt reads an integer system setting with a fallback default.
func (s *Service) settingInt(ctx context.Context, key string, fallback int) int {
	value, err := s.store.GetSetting(ctx, key)
	if err != nil || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (s *Service) Notifications(ctx context.Context, userID string, limit int) (map[string]any, error) {
	items, err := s.store.ListNotifications(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.UnreadNotificationCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]any, 0, len(items))
	for _, item := range items {
		list = append(list, map[string]any{
			"id":         item.ID,
			"type":       item.Type,
			"titleKey":   item.TitleKey,
			"params":     item.Params,
			"isRead":     item.IsRead,
			"documentId": item.DocumentID,
			"revisionId": item.RevisionID,
			"createdAt":  item.CreatedAt,
		})
	}
	return map[string]any{"notifications": list, "unread": unread}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	return s.store.MarkNotificationRead(ctx, notificationID, userID)
}

func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	return s.store.ListSettings(ctx)
}

// SaveSetting stores one key/value row. Saving an email_* key drops the
// cached SMTP config so the next send re-reads it.
func (s *Service) SaveSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "setting key is required", nil)
	}
	if err := s.store.UpsertSetting(ctx, key, value); err != nil {
		return err
	}
	if s.email != nil && len(key) > 6 && key[:6] == "email_" {
		s.email.Invalidate()
	}
	return nil
}

// EmailConfigSource reads SMTP settings from system_settings email_*
// rows with environment fallbacks; the email service caches the result.
func EmailConfigSource(cfg config.Config, st *store.PostgresStore) email.ConfigSource {
	return func(ctx context.Context) (email.Config, error) {
		settings, err := st.ListSettings(ctx)
		if err != nil {
			return email.Config{}, err
		}
		pick := func(key, fallback string) string {
			if v, ok := settings[key]; ok && v != "" {
				return v
			}
			return fallback
		}
		return email.Config{
			Host:     pick("email_host", cfg.SMTPHost),
			Port:     pick("email_port", cfg.SMTPPort),
			Username: pick("email_username", cfg.SMTPUsername),
			Password: pick("email_password", cfg.SMTPPassword),
			From:     pick("email_from", cfg.SMTPFrom),
			FromName: pick("email_from_name", cfg.SMTPFromName),
		}, nil
	}
}

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{
			"id":           user.ID,
			"email":        user.Email,
			"displayName":  user.DisplayName,
			"role":         user.Role,
			"departmentId": user.DepartmentID,
			"isActive":     user.IsActive,
			"createdAt":    user.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) SetUserActive(ctx context.Context, userID string, active bool) error {
	return s.store.SetUserActive(ctx, userID, active)
}

func (s *Service) ListDepartments(ctx context.Context) ([]store.Department, error) {
	return s.store.ListDepartments(ctx)
}

func (s *Service) CreateDepartment(ctx context.Context, name string, managerID *string) (store.Department, error) {
	if name == "" {
		return store.Department{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "department name is required", nil)
	}
	return s.store.CreateDepartment(ctx, store.Department{Name: name, ManagerID: managerID})
}

func (s *Service) SetDepartmentManager(ctx context.Context, departmentID string, managerID *string) error {
	return s.store.UpdateDepartmentManager(ctx, departmentID, managerID)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// SubscribeEvents attaches a live-event listener for one user: their
// private channel plus the shared approvals topic.
func (s *Service) SubscribeEvents(ctx context.Context, userID string) (<-chan notify.Event, func(), bool) {
	if s.hub == nil {
		return nil, nil, false
	}
	events, stop := s.hub.Subscribe(ctx, notify.UserChannel(userID), notify.ChannelApprovals)
	return events, stop, true
}
