package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const brevoSendURL = "https://api.brevo.com/v3/smtp/email"

type BrevoSender struct {
	apiKey    string
	fromName  string
	fromEmail string
	replyTo   string
	endpoint  string
	client    *http.Client
}

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoEmailRequest struct {
	Sender      brevoAddress      `json:"sender"`
	To          []brevoAddress    `json:"to"`
	ReplyTo     *brevoAddress     `json:"replyTo,omitempty"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	TextContent string            `json:"textContent,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

type brevoEmailResponse struct {
	MessageID string `json:"messageId"`
}

func NewBrevoSender(apiKey, fromEmail, fromName, replyTo string) *BrevoSender {
	return &BrevoSender{
		apiKey:    apiKey,
		fromName:  fromName,
		fromEmail: fromEmail,
		replyTo:   replyTo,
		endpoint:  brevoSendURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BrevoSender) SendFollowUpEmail(ctx context.Context, msg FollowUpEmail) (string, error) {
	content, err := renderFollowUp(msg)
	if err != nil {
		return "", err
	}
	payload := b.newRequest(msg.ToEmail, msg.ToName, msg.Subject, content)
	payload.TextContent = msg.Body
	payload.Tags = []string{"followup"}
	payload.Headers = map[string]string{"X-Order-Ref": msg.OrderRef}
	return b.send(ctx, payload)
}

func (b *BrevoSender) SendEscalationAlert(ctx context.Context, toEmail string, alert EscalationAlert) error {
	subject, content, err := renderEscalationAlert(alert)
	if err != nil {
		return err
	}
	payload := b.newRequest(toEmail, "", subject, content)
	payload.Tags = []string{"escalation"}
	_, err = b.send(ctx, payload)
	return err
}

func (b *BrevoSender) newRequest(toEmail, toName, subject, htmlContent string) brevoEmailRequest {
	payload := brevoEmailRequest{
		Sender:      brevoAddress{Name: b.fromName, Email: b.fromEmail},
		To:          []brevoAddress{{Name: toName, Email: toEmail}},
		Subject:     subject,
		HTMLContent: htmlContent,
	}
	if b.replyTo != "" {
		payload.ReplyTo = &brevoAddress{Email: b.replyTo}
	}
	return payload
}

func (b *BrevoSender) send(ctx context.Context, payload brevoEmailRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("brevo send failed: status %d: %s", resp.StatusCode, string(data))
	}

	var out brevoEmailResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("brevo send: decode response: %w", err)
	}
	return NormalizeMessageID(out.MessageID), nil
}

// NormalizeMessageID strips the angle brackets RFC 5322 puts around Message-IDs,
// so stored ids compare equal to the forms vendors echo back in webhooks.
func NormalizeMessageID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}
