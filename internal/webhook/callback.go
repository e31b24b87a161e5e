// Package webhook turns vendor delivery and reply webhooks into canonical
// channel callbacks and hands them to the reply correlator.
package webhook

import (
	"time"

	"procurement_followup/internal/channel"
	"procurement_followup/internal/followup"
)

// Provider names the vendor that sent a webhook.
type Provider string

const (
	ProviderResend   Provider = "resend"
	ProviderSendGrid Provider = "sendgrid"
	ProviderMailgun  Provider = "mailgun"
	ProviderBrevo    Provider = "brevo"
	ProviderTwilio   Provider = "twilio"
	ProviderGeneric  Provider = "generic"
	ProviderUnknown  Provider = "unknown"
)

// Metadata keys carried on a Callback.
const (
	MetaProvider      = "provider"
	MetaEventType     = "eventType"
	MetaSubject       = "subject"
	MetaFrom          = "from"
	MetaTo            = "to"
	MetaInReplyTo     = "inReplyTo"
	MetaContentID     = "contentId"
	MetaRawPayloadKey = "rawPayloadKey"
	MetaContentFetch  = "contentFetchError"
)

// Callback is a provider-agnostic delivery or reply event.
type Callback struct {
	Provider  Provider
	MessageID string
	Channel   channel.Channel
	Status    followup.Status
	Timestamp time.Time
	Response  string
	Error     string
	Metadata  map[string]any
}

// Meta returns a string metadata value.
func (c Callback) Meta(key string) string {
	if c.Metadata == nil {
		return ""
	}
	v, _ := c.Metadata[key].(string)
	return v
}

// IsReply reports whether the callback carries provider-authored content.
func (c Callback) IsReply() bool {
	return c.Status == followup.StatusReplied
}

func (c *Callback) setMeta(key, value string) {
	if value == "" {
		return
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata[key] = value
}
