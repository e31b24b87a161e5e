package email

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender implements the Sender interface using a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	replyTo   string
}

// NewSMTPSender creates a new SMTPSender with the given SMTP credentials.
func NewSMTPSender(host string, port int, username, password, fromEmail, fromName, replyTo string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
		replyTo:   replyTo,
	}
}

func (s *SMTPSender) SendFollowUpEmail(ctx context.Context, msg FollowUpEmail) (string, error) {
	content, err := renderFollowUp(msg)
	if err != nil {
		return "", err
	}
	return s.send(ctx, msg.ToEmail, msg.Subject, msg.Body, content)
}

func (s *SMTPSender) SendEscalationAlert(ctx context.Context, toEmail string, alert EscalationAlert) error {
	subject, content, err := renderEscalationAlert(alert)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, toEmail, subject, "", content)
	return err
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, textContent, htmlContent string) (string, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return "", fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return "", fmt.Errorf("smtp to: %w", err)
	}
	if s.replyTo != "" {
		if err := msg.ReplyTo(s.replyTo); err != nil {
			return "", fmt.Errorf("smtp reply-to: %w", err)
		}
	}
	msg.Subject(subject)
	msg.SetMessageID()
	if textContent != "" {
		msg.SetBodyString(gomail.TypeTextPlain, textContent)
		msg.AddAlternativeString(gomail.TypeTextHTML, htmlContent)
	} else {
		msg.SetBodyString(gomail.TypeTextHTML, htmlContent)
	}

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}

	return NormalizeMessageID(msg.GetMessageID()), nil
}
