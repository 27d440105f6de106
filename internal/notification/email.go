package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/protocol"
	"github.com/smukkama/egg-grader/pkg/config"
)

var emailTemplate = template.Must(template.New("alert").Parse(`
{{.Title}}
{{.Underline}}

Device: {{.DeviceID}}
Load Cell: {{.LoadCell}}
Weight: {{printf "%.1f" .Weight}} g
Severity: {{.Severity}}
Detected At: {{.CreatedAt.Format "2006-01-02 15:04:05 MST"}}
Notification ID: {{.ID}}

{{.Body}}

---
Egg Grader Notification System
`))

type emailData struct {
	*protocol.NotificationRequest
	LoadCell  int
	Underline string
}

// EmailNotifier sends notifications over SMTP
type EmailNotifier struct {
	config *config.SMTPConfig
	log    *zap.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, log *zap.Logger) *EmailNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailNotifier{config: cfg, log: log, send: smtp.SendMail}
}

// Name implements Notifier
func (e *EmailNotifier) Name() string { return "email" }

// Configured reports whether SMTP credentials are set
func (e *EmailNotifier) Configured() bool {
	return e.config.Username != "" && e.config.Password != ""
}

// Notify implements Notifier
func (e *EmailNotifier) Notify(ctx context.Context, req *protocol.NotificationRequest) error {
	subject := fmt.Sprintf("[%s] %s - %s", req.Severity, req.Title, req.DeviceID)
	body, err := RenderEmail(req)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	return e.sendEmail(subject, body)
}

// RenderEmail renders the plain-text email body for a notification
func RenderEmail(req *protocol.NotificationRequest) (string, error) {
	data := emailData{
		NotificationRequest: req,
		LoadCell:            req.Slot + 1,
		Underline:           strings.Repeat("=", len(req.Title)),
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	if !e.Configured() {
		e.log.Info("smtp not configured, skipping email", zap.String("subject", subject))
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", e.config.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.log.Info("email sent", zap.String("subject", subject))
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if !e.Configured() {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	return nil
}
