// Package email delivers follow-up and alert emails through Brevo or SMTP.
package email

import (
	"context"
	"fmt"

	"procurement_followup/platform/config"
)

// FollowUpEmail is one outbound follow-up to a provider contact.
type FollowUpEmail struct {
	ToEmail          string
	ToName           string
	Subject          string
	Body             string
	OrderRef         string
	PartNumber       string
	ExpectedDelivery string
}

// EscalationAlert tells the operations inbox an order needs a human.
type EscalationAlert struct {
	OrderRef     string
	Reason       string
	Notes        string
	AttemptCount int
	OrderURL     string
}

type Sender interface {
	// SendFollowUpEmail returns the provider message id used to correlate later webhooks.
	SendFollowUpEmail(ctx context.Context, msg FollowUpEmail) (string, error)
	SendEscalationAlert(ctx context.Context, toEmail string, alert EscalationAlert) error
}

type NoopSender struct{}

func (NoopSender) SendFollowUpEmail(context.Context, FollowUpEmail) (string, error) {
	return "", nil
}

func (NoopSender) SendEscalationAlert(context.Context, string, EscalationAlert) error {
	return nil
}

// SenderConfig combines the settings needed by every email backend.
type SenderConfig interface {
	config.EmailConfig
	config.SMTPConfig
}

// NewSender picks the backend named by EMAIL_PROVIDER. Disabled email yields a NoopSender.
func NewSender(cfg SenderConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}

	switch cfg.GetEmailProvider() {
	case "brevo":
		return NewBrevoSender(cfg.GetBrevoAPIKey(), cfg.GetEmailFromAddress(), cfg.GetEmailFromName(), cfg.GetEmailReplyTo()), nil
	case "smtp":
		return NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
			cfg.GetEmailFromAddress(), cfg.GetEmailFromName(), cfg.GetEmailReplyTo()), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.GetEmailProvider())
	}
}
