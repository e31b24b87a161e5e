package channel

import (
	"procurement_followup/internal/email"
	"procurement_followup/internal/twilio"
	"procurement_followup/platform/logger"
)

// BuildRegistry decides once at startup which channels have a working transport.
// emailEnabled reflects EMAIL_ENABLED plus a configured backend; twilioClient is nil when Twilio is off.
func BuildRegistry(emailEnabled bool, sender email.Sender, twilioClient *twilio.Client, breaker BreakerSettings, log *logger.Logger) *Registry {
	transports := make([]Transport, 0, len(All))

	if emailEnabled && sender != nil {
		transports = append(transports, WithBreaker(NewEmailTransport(sender), breaker))
	} else {
		transports = append(transports, NewUnavailable(Email, "email disabled"))
	}

	if twilioClient != nil {
		transports = append(transports,
			WithBreaker(NewSMSTransport(twilioClient), breaker),
			WithBreaker(NewVoiceTransport(twilioClient), breaker),
		)
	} else {
		transports = append(transports,
			NewUnavailable(SMS, "twilio not configured"),
			NewUnavailable(Voice, "twilio not configured"),
		)
	}

	registry := NewRegistry(transports...)
	for _, ch := range All {
		log.Info("channel transport", "channel", ch, "available", registry.Available(ch))
	}
	return registry
}
