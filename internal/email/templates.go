package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var emailTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type followUpEmailData struct {
	Title            string
	RecipientName    string
	Paragraphs       []string
	OrderRef         string
	PartNumber       string
	ExpectedDelivery string
}

type escalationAlertEmailData struct {
	Title        string
	OrderRef     string
	Reason       string
	Notes        string
	AttemptCount int
	OrderURL     string
}

func renderEmailTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// paragraphs splits a plain-text message body on blank lines.
func paragraphs(body string) []string {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	parts := strings.Split(normalized, "\n\n")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func renderFollowUp(msg FollowUpEmail) (string, error) {
	return renderEmailTemplate("followup.html", followUpEmailData{
		Title:            msg.Subject,
		RecipientName:    msg.ToName,
		Paragraphs:       paragraphs(msg.Body),
		OrderRef:         msg.OrderRef,
		PartNumber:       msg.PartNumber,
		ExpectedDelivery: msg.ExpectedDelivery,
	})
}

func renderEscalationAlert(alert EscalationAlert) (string, string, error) {
	subject := fmt.Sprintf(subjectEscalationAlertFmt, alert.OrderRef)
	content, err := renderEmailTemplate("escalation_alert.html", escalationAlertEmailData{
		Title:        subject,
		OrderRef:     alert.OrderRef,
		Reason:       alert.Reason,
		Notes:        alert.Notes,
		AttemptCount: alert.AttemptCount,
		OrderURL:     alert.OrderURL,
	})
	return subject, content, err
}
