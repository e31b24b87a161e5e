package channel

import (
	"context"
	"time"

	"procurement_followup/internal/email"
	"procurement_followup/internal/twilio"
)

// EmailTransport sends follow-ups through the configured email backend.
type EmailTransport struct {
	sender email.Sender
}

func NewEmailTransport(sender email.Sender) *EmailTransport {
	return &EmailTransport{sender: sender}
}

func (t *EmailTransport) Channel() Channel { return Email }

func (t *EmailTransport) Send(ctx context.Context, msg Message) (SendResult, error) {
	queuedAt := time.Now()
	id, err := t.sender.SendFollowUpEmail(ctx, email.FollowUpEmail{
		ToEmail:          msg.To,
		ToName:           msg.ToName,
		Subject:          msg.Subject,
		Body:             msg.Content,
		OrderRef:         msg.OrderRef,
		PartNumber:       msg.PartNumber,
		ExpectedDelivery: msg.ExpectedDelivery,
	})
	if err != nil {
		return SendResult{Channel: Email, Status: SendFailed, QueuedAt: queuedAt, Error: err.Error()}, err
	}
	return SendResult{MessageID: id, Channel: Email, Status: SendSent, QueuedAt: queuedAt}, nil
}

// twilioAPI is the part of the Twilio client the SMS and voice transports use.
type twilioAPI interface {
	SendSMS(ctx context.Context, to, body string) (twilio.Resource, error)
	PlaceCall(ctx context.Context, to, message string) (twilio.Resource, error)
}

// SMSTransport sends follow-ups as text messages.
type SMSTransport struct {
	client twilioAPI
}

func NewSMSTransport(client twilioAPI) *SMSTransport {
	return &SMSTransport{client: client}
}

func (t *SMSTransport) Channel() Channel { return SMS }

func (t *SMSTransport) Send(ctx context.Context, msg Message) (SendResult, error) {
	queuedAt := time.Now()
	res, err := t.client.SendSMS(ctx, msg.To, msg.Content)
	if err != nil {
		return SendResult{Channel: SMS, Status: SendFailed, QueuedAt: queuedAt, Error: err.Error()}, err
	}
	return SendResult{MessageID: res.SID, Channel: SMS, Status: twilioSendStatus(res.Status), QueuedAt: queuedAt}, nil
}

// VoiceTransport places a call that reads the follow-up aloud.
type VoiceTransport struct {
	client twilioAPI
}

func NewVoiceTransport(client twilioAPI) *VoiceTransport {
	return &VoiceTransport{client: client}
}

func (t *VoiceTransport) Channel() Channel { return Voice }

func (t *VoiceTransport) Send(ctx context.Context, msg Message) (SendResult, error) {
	queuedAt := time.Now()
	res, err := t.client.PlaceCall(ctx, msg.To, msg.Content)
	if err != nil {
		return SendResult{Channel: Voice, Status: SendFailed, QueuedAt: queuedAt, Error: err.Error()}, err
	}
	return SendResult{MessageID: res.SID, Channel: Voice, Status: twilioSendStatus(res.Status), QueuedAt: queuedAt}, nil
}

func twilioSendStatus(status string) SendStatus {
	switch status {
	case "queued", "accepted", "scheduled", "initiated", "ringing":
		return SendQueued
	case "failed", "undelivered", "canceled":
		return SendFailed
	default:
		return SendSent
	}
}
