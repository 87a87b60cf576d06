package email

import (
	"bytes"
	"fmt"
	"html/template"
)

const appName = "DocuFlow"

// ApprovalRequestData holds data for the approval request email.
type ApprovalRequestData struct {
	AppName      string
	ApproverName string
	DocumentCode string
	Title        string
	PreparerName string
	Step         string
}

type ApprovalResultData struct {
	AppName      string
	PreparerName string
	DocumentCode string
	Title        string
	Approved     bool
	ApproverName string
	Comment      string
}

type PublishedData struct {
	AppName      string
	UserName     string
	DocumentCode string
	Title        string
	Revision     int
}

type ReminderData struct {
	AppName      string
	ApproverName string
	DocumentCode string
	Title        string
	PendingDays  int
}

type EscalationData struct {
	AppName      string
	ManagerName  string
	ApproverName string
	DocumentCode string
	Title        string
	PendingDays  int
}

type ReadReminderData struct {
	AppName      string
	UserName     string
	DocumentCode string
	Title        string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

// RenderApprovalRequest builds the subject and HTML body for a new
// approval assignment.
func RenderApprovalRequest(data ApprovalRequestData) (string, string, error) {
	data.AppName = appName
	subject := fmt.Sprintf("Approval requested: %s %s", data.DocumentCode, data.Title)
	html, err := renderTemplate(approvalRequestTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render approval request template: %w", err)
	}
	return subject, html, nil
}

func RenderApprovalResult(data ApprovalResultData) (string, string, error) {
	data.AppName = appName
	verdict := "approved"
	if !data.Approved {
		verdict = "rejected"
	}
	subject := fmt.Sprintf("Document %s: %s %s", verdict, data.DocumentCode, data.Title)
	html, err := renderTemplate(approvalResultTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render approval result template: %w", err)
	}
	return subject, html, nil
}

func RenderPublished(data PublishedData) (string, string, error) {
	data.AppName = appName
	subject := fmt.Sprintf("Please read: %s %s (rev %d)", data.DocumentCode, data.Title, data.Revision)
	html, err := renderTemplate(publishedTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render published template: %w", err)
	}
	return subject, html, nil
}

func RenderReminder(data ReminderData) (string, string, error) {
	data.AppName = appName
	subject := fmt.Sprintf("Reminder: approval pending for %s %s", data.DocumentCode, data.Title)
	html, err := renderTemplate(reminderTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render reminder template: %w", err)
	}
	return subject, html, nil
}

func RenderEscalation(data EscalationData) (string, string, error) {
	data.AppName = appName
	subject := fmt.Sprintf("Escalation: approval overdue for %s %s", data.DocumentCode, data.Title)
	html, err := renderTemplate(escalationTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render escalation template: %w", err)
	}
	return subject, html, nil
}

func RenderReadReminder(data ReadReminderData) (string, string, error) {
	data.AppName = appName
	subject := fmt.Sprintf("Reminder: please confirm reading %s %s", data.DocumentCode, data.Title)
	html, err := renderTemplate(readReminderTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render read reminder template: %w", err)
	}
	return subject, html, nil
}

func RenderPasswordReset(data PasswordResetData) (string, string, error) {
	data.AppName = appName
	subject := fmt.Sprintf("Reset your %s password", appName)
	html, err := renderTemplate(passwordResetTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render password reset template: %w", err)
	}
	return subject, html, nil
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const emailStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .doc { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .comment { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
`

const approvalRequestTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Approval requested</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Approval requested</h2>

    <p>Hi {{.ApproverName}},</p>

    <p>{{.PreparerName}} has submitted a document for your approval ({{.Step}} step).</p>

    <div class="doc">
        <strong>{{.DocumentCode}}</strong> {{.Title}}
    </div>

    <p>Please sign in to review and approve or reject it.</p>

    <div class="footer">
        <p>You received this email because you are an approver on this document.</p>
    </div>
</body>
</html>`

const approvalResultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Approval result</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    {{if .Approved}}
    <h2>Document approved</h2>
    <p>Hi {{.PreparerName}},</p>
    <p>{{.ApproverName}} has approved your document.</p>
    {{else}}
    <h2>Document rejected</h2>
    <p>Hi {{.PreparerName}},</p>
    <p>{{.ApproverName}} has rejected your document. It has been returned to draft.</p>
    {{end}}

    <div class="doc">
        <strong>{{.DocumentCode}}</strong> {{.Title}}
    </div>

    {{if .Comment}}
    <div class="comment">
        <strong>Comment:</strong> {{.Comment}}
    </div>
    {{end}}

    <div class="footer">
        <p>You received this email because you prepared this document.</p>
    </div>
</body>
</html>`

const publishedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Document published</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>New document published</h2>

    <p>Hi {{.UserName}},</p>

    <p>A document has been published to you. Please read it and confirm.</p>

    <div class="doc">
        <strong>{{.DocumentCode}}</strong> {{.Title}} (revision {{.Revision}})
    </div>

    <div class="footer">
        <p>You received this email because you are on this document's distribution list.</p>
    </div>
</body>
</html>`

const reminderTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Approval reminder</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Approval still pending</h2>

    <p>Hi {{.ApproverName}},</p>

    <p>This approval has been waiting for {{.PendingDays}} days or more.</p>

    <div class="doc">
        <strong>{{.DocumentCode}}</strong> {{.Title}}
    </div>

    <p>Please sign in to review it.</p>

    <div class="footer">
        <p>You received this email because you are an approver on this document.</p>
    </div>
</body>
</html>`

const escalationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Approval escalation</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Approval overdue</h2>

    <p>Hi {{.ManagerName}},</p>

    <p>An approval assigned to {{.ApproverName}} has been pending for {{.PendingDays}} days or more and is being escalated to you.</p>

    <div class="doc">
        <strong>{{.DocumentCode}}</strong> {{.Title}}
    </div>

    <div class="footer">
        <p>You received this email because you manage the approver's department.</p>
    </div>
</body>
</html>`

const readReminderTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Read confirmation reminder</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Read confirmation outstanding</h2>

    <p>Hi {{.UserName}},</p>

    <p>You have not yet confirmed reading this published document.</p>

    <div class="doc">
        <strong>{{.DocumentCode}}</strong> {{.Title}}
    </div>

    <p>Please sign in, read it, and confirm.</p>

    <div class="footer">
        <p>You received this email because you are on this document's distribution list.</p>
    </div>
</body>
</html>`

const passwordResetTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Password Reset Request</h2>

    <p>Hi {{.UserName}},</p>

    <p>We received a request to reset your password. Open the link below to create a new password:</p>

    <p><a href="{{.ResetURL}}">{{.ResetURL}}</a></p>

    <div class="comment">
        <strong>Important:</strong> This reset link will expire in 1 hour.
    </div>

    <div class="footer">
        <p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p>
    </div>
</body>
</html>`
