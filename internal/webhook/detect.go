package webhook

import (
	"net/http"
	"strings"

	"procurement_followup/internal/channel"
)

// detector recognises one vendor. Detectors are evaluated in order and the
// first match wins; adding a vendor means adding a detector and a normalizer.
type detector struct {
	provider  Provider
	userAgent []string
	headers   []string
	body      func(p payload) bool
}

var detectors = []detector{
	{
		provider:  ProviderTwilio,
		userAgent: []string{"twilioproxy", "twilio"},
		headers:   []string{"X-Twilio-Signature"},
		body: func(p payload) bool {
			return p.has("MessageSid", "SmsSid", "CallSid") && p.has("AccountSid", "MessageStatus", "SmsStatus", "CallStatus", "Body", "SpeechResult")
		},
	},
	{
		provider:  ProviderResend,
		userAgent: []string{"resend", "svix"},
		headers:   []string{"Svix-Id"},
		body: func(p payload) bool {
			return strings.HasPrefix(p.str("type"), "email.") && p.obj("data") != nil
		},
	},
	{
		provider:  ProviderSendGrid,
		userAgent: []string{"sendgrid"},
		body: func(p payload) bool {
			return p.has("sg_message_id", "sg_event_id") || (p.has("envelope") && p.has("dkim", "SPF", "charsets"))
		},
	},
	{
		provider:  ProviderMailgun,
		userAgent: []string{"mailgun"},
		body: func(p payload) bool {
			return (p.obj("signature") != nil && p.obj("event-data") != nil) || (p.has("body-plain", "stripped-text") && p.has("token", "signature"))
		},
	},
	{
		provider:  ProviderBrevo,
		userAgent: []string{"brevo", "sendinblue"},
		body: func(p payload) bool {
			if p.has("message-id") && p.has("event") {
				return true
			}
			items := p.list("items")
			if len(items) == 0 {
				return false
			}
			first, ok := items[0].(map[string]any)
			return ok && payload(first).has("RawTextBody", "RawHtmlBody", "ExtractedMarkdownMessage")
		},
	},
	{
		provider: ProviderGeneric,
		body: func(p payload) bool {
			_, ok := channel.Parse(p.str("channel"))
			return ok && p.has("messageId", "message_id") && p.has("status")
		},
	},
}

// detectProvider checks the User-Agent and signature headers first, then the
// body shape. Returns ProviderUnknown when nothing matches.
func detectProvider(p payload, headers http.Header) Provider {
	ua := strings.ToLower(headers.Get("User-Agent"))
	if ua != "" {
		for _, d := range detectors {
			for _, needle := range d.userAgent {
				if strings.Contains(ua, needle) {
					return d.provider
				}
			}
		}
	}
	for _, d := range detectors {
		for _, h := range d.headers {
			if headers.Get(h) != "" {
				return d.provider
			}
		}
	}
	for _, d := range detectors {
		if d.body(p) {
			return d.provider
		}
	}
	return ProviderUnknown
}

// detectChannel honours an explicit channel field, then applies the vendor's
// own rule. The second return is false when no channel applies.
func detectChannel(p payload, provider Provider) (channel.Channel, bool) {
	if ch, ok := channel.Parse(p.str("channel")); ok {
		return ch, true
	}
	switch provider {
	case ProviderResend, ProviderSendGrid, ProviderMailgun, ProviderBrevo:
		return channel.Email, true
	case ProviderTwilio:
		if p.has("MessageSid", "SmsSid") {
			return channel.SMS, true
		}
		if p.has("CallSid") {
			return channel.Voice, true
		}
	}
	return "", false
}
