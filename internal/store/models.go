package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	DepartmentID *string
	IsActive     bool
	CreatedAt    time.Time
}

type Department struct {
	ID        string
	Name      string
	ManagerID *string
	CreatedAt time.Time
}

// Document is the stable identity; all content lives on revisions. The
// current-revision pointer selects exactly one revision at a time.
type Document struct {
	ID                string
	Code              string
	CurrentRevisionID *string
	CurrentRevision   int
	CreatedBy         string
	DeletedAt         *time.Time
	CreatedAt         time.Time
}

type Revision struct {
	ID           string
	DocumentID   string
	Number       int
	Status       string
	Title        string
	Description  string
	DocType      string
	PreparerID   string
	ApproverID   *string
	DepartmentID *string
	FilePath     string
	FileName     string
	FileSize     int64
	MimeType     string
	ChangeNotes  string
	PublishedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Approval is one step of the two-stage chain. Step is PREPARER for the
// first step and APPROVER for the final one. ReminderSentAt and
// EscalatedAt are stamped by the sweeps to suppress duplicate sends.
type Approval struct {
	ID             string
	RevisionID     string
	ApproverID     string
	Step           string
	Status         string
	Comment        string
	RespondedAt    *time.Time
	ReminderSentAt *time.Time
	EscalatedAt    *time.Time
	CreatedAt      time.Time
}

type ReadConfirmation struct {
	ID             string
	RevisionID     string
	UserID         string
	ConfirmedAt    *time.Time
	ReminderSentAt *time.Time
	CreatedAt      time.Time
}

type ActivityEntry struct {
	ID         int64
	DocumentID string
	RevisionID string
	UserID     string
	Action     string
	Detail     string
	CreatedAt  time.Time
}

// Notification params are stored as a JSON bag so the client can render
// the title key in the viewer's locale.
type Notification struct {
	ID         string
	UserID     string
	Type       string
	TitleKey   string
	Params     string
	IsRead     bool
	DocumentID *string
	RevisionID *string
	CreatedAt  time.Time
}

// PendingApprovalItem is an approval joined with its revision context,
// as shown in an approver's inbox and consumed by the sweeps.
type PendingApprovalItem struct {
	Approval
	DocumentID     string
	DocumentCode   string
	RevisionTitle  string
	RevisionNumber int
	PreparerID     string
	ApproverEmail  string
	ApproverName   string
	ApproverDeptID *string
}

// StaleReadConfirmation is an unconfirmed obligation joined with the
// reader and revision context for the read-reminder sweep.
type StaleReadConfirmation struct {
	ReadConfirmation
	DocumentID    string
	DocumentCode  string
	RevisionTitle string
	UserEmail     string
	UserName      string
}

type DistributionList struct {
	DepartmentIDs []string
	UserIDs       []string
}
