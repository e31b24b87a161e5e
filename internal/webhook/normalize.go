package webhook

import (
	"net/http"
	"strings"

	"procurement_followup/internal/channel"
	"procurement_followup/internal/followup"
	"procurement_followup/platform/phone"
	"procurement_followup/platform/sanitize"
)

// statusTable maps lower-cased vendor event names to canonical statuses.
// Events missing from a table are treated as DELIVERED.
type statusTable map[string]followup.Status

func (t statusTable) lookup(event string) followup.Status {
	if s, ok := t[strings.ToLower(strings.TrimSpace(event))]; ok {
		return s
	}
	return followup.StatusDelivered
}

var (
	resendStatuses = statusTable{
		"email.sent":             followup.StatusDelivered,
		"email.delivered":        followup.StatusDelivered,
		"email.delivery_delayed": followup.StatusDelivered,
		"email.bounced":          followup.StatusFailed,
		"email.complained":       followup.StatusFailed,
		"email.failed":           followup.StatusFailed,
		"email.opened":           followup.StatusRead,
		"email.clicked":          followup.StatusRead,
		"email.received":         followup.StatusReplied,
	}
	sendGridStatuses = statusTable{
		"processed":  followup.StatusDelivered,
		"delivered":  followup.StatusDelivered,
		"deferred":   followup.StatusDelivered,
		"bounce":     followup.StatusBounced,
		"dropped":    followup.StatusBounced,
		"spamreport": followup.StatusFailed,
		"open":       followup.StatusRead,
		"click":      followup.StatusRead,
		"inbound":    followup.StatusReplied,
	}
	mailgunStatuses = statusTable{
		"accepted":     followup.StatusDelivered,
		"delivered":    followup.StatusDelivered,
		"failed":       followup.StatusFailed,
		"rejected":     followup.StatusFailed,
		"complained":   followup.StatusFailed,
		"opened":       followup.StatusRead,
		"clicked":      followup.StatusRead,
		"stored":       followup.StatusReplied,
		"inbound":      followup.StatusReplied,
		"unsubscribed": followup.StatusDelivered,
	}
	brevoStatuses = statusTable{
		"request":       followup.StatusDelivered,
		"sent":          followup.StatusDelivered,
		"delivered":     followup.StatusDelivered,
		"deferred":      followup.StatusDelivered,
		"hard_bounce":   followup.StatusBounced,
		"soft_bounce":   followup.StatusBounced,
		"blocked":       followup.StatusFailed,
		"invalid_email": followup.StatusFailed,
		"error":         followup.StatusFailed,
		"spam":          followup.StatusFailed,
		"complaint":     followup.StatusFailed,
		"opened":        followup.StatusRead,
		"unique_opened": followup.StatusRead,
		"click":         followup.StatusRead,
		"inbound":       followup.StatusReplied,
	}
	twilioMessageStatuses = statusTable{
		"accepted":    followup.StatusDelivered,
		"queued":      followup.StatusDelivered,
		"sending":     followup.StatusDelivered,
		"sent":        followup.StatusDelivered,
		"delivered":   followup.StatusDelivered,
		"undelivered": followup.StatusFailed,
		"failed":      followup.StatusFailed,
		"read":        followup.StatusRead,
		"receiving":   followup.StatusReplied,
		"received":    followup.StatusReplied,
	}
	twilioCallStatuses = statusTable{
		"queued":      followup.StatusDelivered,
		"initiated":   followup.StatusDelivered,
		"ringing":     followup.StatusDelivered,
		"in-progress": followup.StatusDelivered,
		"completed":   followup.StatusDelivered,
		"busy":        followup.StatusFailed,
		"no-answer":   followup.StatusFailed,
		"failed":      followup.StatusFailed,
		"canceled":    followup.StatusFailed,
		"answered":    followup.StatusReplied,
	}
	genericStatuses = statusTable{
		"sent":      followup.StatusDelivered,
		"delivered": followup.StatusDelivered,
		"failed":    followup.StatusFailed,
		"bounced":   followup.StatusBounced,
		"bounce":    followup.StatusBounced,
		"read":      followup.StatusRead,
		"opened":    followup.StatusRead,
		"replied":   followup.StatusReplied,
		"received":  followup.StatusReplied,
		"reply":     followup.StatusReplied,
	}
)

type normalizeFunc func(p payload, ch channel.Channel) []Callback

var normalizers = map[Provider]normalizeFunc{
	ProviderResend:   normalizeResend,
	ProviderSendGrid: normalizeSendGrid,
	ProviderMailgun:  normalizeMailgun,
	ProviderBrevo:    normalizeBrevo,
	ProviderTwilio:   normalizeTwilio,
	ProviderGeneric:  normalizeGeneric,
}

// Normalizer maps raw webhook bodies to canonical callbacks.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize decodes the body and returns one callback per vendor event. An
// empty result means the payload could not be classified into any channel.
func (n *Normalizer) Normalize(contentType string, raw []byte, headers http.Header) (Provider, []Callback) {
	items, err := parsePayloads(contentType, raw)
	if err != nil || len(items) == 0 {
		return ProviderUnknown, nil
	}

	provider := ProviderUnknown
	var out []Callback
	for _, item := range items {
		p := detectProvider(item, headers)
		if p == ProviderUnknown {
			continue
		}
		ch, ok := detectChannel(item, p)
		if !ok {
			continue
		}
		normalize, ok := normalizers[p]
		if !ok {
			continue
		}
		for _, cb := range normalize(item, ch) {
			cb.Provider = p
			cb.setMeta(MetaProvider, string(p))
			out = append(out, cb)
		}
		provider = p
	}
	return provider, out
}

func normalizeResend(p payload, ch channel.Channel) []Callback {
	data := p.obj("data")
	if data == nil {
		data = payload{}
	}
	event := p.str("type")
	cb := Callback{
		MessageID: data.str("email_id", "id"),
		Channel:   ch,
		Status:    resendStatuses.lookup(event),
		Timestamp: p.timestamp("created_at"),
	}
	cb.setMeta(MetaEventType, event)
	cb.setMeta(MetaSubject, data.str("subject"))
	cb.setMeta(MetaFrom, emailAddress(data.str("from")))
	cb.setMeta(MetaTo, strings.Join(data.strList("to"), ","))

	if bounce := data.obj("bounce"); bounce != nil {
		cb.Error = bounce.str("message", "subType", "type")
	}
	if cb.IsReply() {
		cb.Response = emailReplyText(data.str("text"), data.str("html"))
		if cb.Response == "" {
			cb.setMeta(MetaContentID, data.str("email_id", "id"))
		}
		inReplyTo := data.str("in_reply_to")
		if headers := data.obj("headers"); headers != nil && inReplyTo == "" {
			inReplyTo = headers.str("in-reply-to")
		}
		cb.setMeta(MetaInReplyTo, inReplyTo)
	}
	return []Callback{cb}
}

func normalizeSendGrid(p payload, ch channel.Channel) []Callback {
	if p.has("envelope") && !p.has("sg_message_id", "event") {
		cb := Callback{
			Channel:   ch,
			Status:    followup.StatusReplied,
			Timestamp: p.timestamp("timestamp"),
			Response:  emailReplyText(p.str("text"), p.str("html")),
		}
		headers := parseHeaderBlock(p.str("headers"))
		cb.MessageID = headers.Get("Message-Id")
		cb.setMeta(MetaEventType, "inbound")
		cb.setMeta(MetaSubject, p.str("subject"))
		cb.setMeta(MetaFrom, emailAddress(p.str("from")))
		cb.setMeta(MetaTo, p.str("to"))
		cb.setMeta(MetaInReplyTo, headers.Get("In-Reply-To"))
		return []Callback{cb}
	}

	event := p.str("event")
	// sg_message_id is the X-Message-Id returned at send time plus a filter suffix.
	messageID := p.str("sg_message_id")
	if idx := strings.Index(messageID, "."); idx > 0 {
		messageID = messageID[:idx]
	}
	if messageID == "" {
		messageID = p.str("smtp-id")
	}
	cb := Callback{
		MessageID: messageID,
		Channel:   ch,
		Status:    sendGridStatuses.lookup(event),
		Timestamp: p.timestamp("timestamp"),
		Error:     p.str("reason", "response"),
	}
	cb.setMeta(MetaEventType, event)
	cb.setMeta(MetaTo, p.str("email"))
	return []Callback{cb}
}

func normalizeMailgun(p payload, ch channel.Channel) []Callback {
	data := p.obj("event-data")
	if data == nil {
		cb := Callback{
			MessageID: p.str("Message-Id"),
			Channel:   ch,
			Status:    followup.StatusReplied,
			Timestamp: p.timestamp("timestamp"),
			Response:  firstNonBlank(sanitize.PlainReply(p.str("stripped-text")), emailReplyText(p.str("body-plain"), p.str("body-html"))),
		}
		cb.setMeta(MetaEventType, "inbound")
		cb.setMeta(MetaSubject, p.str("subject", "Subject"))
		cb.setMeta(MetaFrom, emailAddress(p.str("sender", "from")))
		cb.setMeta(MetaTo, p.str("recipient", "To"))
		cb.setMeta(MetaInReplyTo, p.str("In-Reply-To"))
		return []Callback{cb}
	}

	event := data.str("event")
	status := mailgunStatuses.lookup(event)
	if status == followup.StatusFailed && strings.EqualFold(data.str("severity"), "permanent") {
		status = followup.StatusBounced
	}

	var messageID, subject, from string
	if message := data.obj("message"); message != nil {
		if headers := message.obj("headers"); headers != nil {
			messageID = headers.str("message-id")
			subject = headers.str("subject")
			from = headers.str("from")
		}
	}
	cb := Callback{
		MessageID: messageID,
		Channel:   ch,
		Status:    status,
		Timestamp: data.timestamp("timestamp"),
	}
	if delivery := data.obj("delivery-status"); delivery != nil {
		cb.Error = firstNonBlank(delivery.str("description"), delivery.str("message"))
	}
	cb.setMeta(MetaEventType, event)
	cb.setMeta(MetaSubject, subject)
	cb.setMeta(MetaFrom, emailAddress(from))
	cb.setMeta(MetaTo, data.str("recipient"))
	return []Callback{cb}
}

func normalizeBrevo(p payload, ch channel.Channel) []Callback {
	if items := p.list("items"); len(items) > 0 {
		out := make([]Callback, 0, len(items))
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ip := payload(item)
			var from string
			if sender := ip.obj("From"); sender != nil {
				from = sender.str("Address")
			}
			cb := Callback{
				MessageID: ip.str("MessageId"),
				Channel:   ch,
				Status:    followup.StatusReplied,
				Timestamp: ip.timestamp("SentAtDate"),
				Response: firstNonBlank(
					sanitize.PlainReply(ip.str("ExtractedMarkdownMessage")),
					emailReplyText(ip.str("RawTextBody"), ip.str("RawHtmlBody")),
				),
			}
			cb.setMeta(MetaEventType, "inbound")
			cb.setMeta(MetaSubject, ip.str("Subject"))
			cb.setMeta(MetaFrom, emailAddress(from))
			cb.setMeta(MetaTo, strings.Join(ip.strList("To"), ","))
			cb.setMeta(MetaInReplyTo, ip.str("InReplyTo"))
			out = append(out, cb)
		}
		return out
	}

	event := p.str("event")
	cb := Callback{
		MessageID: p.str("message-id"),
		Channel:   ch,
		Status:    brevoStatuses.lookup(event),
		Timestamp: p.timestamp("date", "ts_event"),
		Error:     p.str("reason"),
	}
	cb.setMeta(MetaEventType, event)
	cb.setMeta(MetaSubject, p.str("subject"))
	cb.setMeta(MetaTo, p.str("email"))
	return []Callback{cb}
}

func normalizeTwilio(p payload, ch channel.Channel) []Callback {
	cb := Callback{
		Channel:   ch,
		Timestamp: p.timestamp("Timestamp"),
		Error:     strings.TrimSpace(p.str("ErrorMessage") + " " + p.str("ErrorCode")),
	}
	cb.setMeta(MetaFrom, phone.NormalizeE164(p.str("From", "Caller")))
	cb.setMeta(MetaTo, phone.NormalizeE164(p.str("To", "Called")))

	switch ch {
	case channel.Voice:
		cb.MessageID = p.str("CallSid")
		event := p.str("CallStatus")
		cb.Status = twilioCallStatuses.lookup(event)
		if speech := p.str("SpeechResult"); speech != "" {
			cb.Status = followup.StatusReplied
			cb.Response = speech
			event = "speech"
		}
		cb.setMeta(MetaEventType, event)
	default:
		cb.MessageID = p.str("MessageSid", "SmsSid")
		event := p.str("MessageStatus", "SmsStatus")
		if event == "" && p.has("Body") {
			event = "received"
		}
		cb.Status = twilioMessageStatuses.lookup(event)
		if cb.IsReply() {
			cb.Response = p.str("Body")
		}
		cb.setMeta(MetaEventType, event)
	}
	return []Callback{cb}
}

func normalizeGeneric(p payload, ch channel.Channel) []Callback {
	rawStatus := p.str("status")
	status, ok := followup.ParseStatus(rawStatus)
	if !ok || status == followup.StatusPending || status == followup.StatusSent {
		status = genericStatuses.lookup(rawStatus)
	}
	cb := Callback{
		MessageID: p.str("messageId", "message_id"),
		Channel:   ch,
		Status:    status,
		Timestamp: p.timestamp("timestamp"),
		Response:  p.str("response", "reply"),
		Error:     p.str("error"),
	}
	if meta := p.obj("metadata"); meta != nil {
		for k, v := range meta {
			if s, ok := v.(string); ok {
				cb.setMeta(k, s)
			}
		}
	}
	cb.setMeta(MetaEventType, rawStatus)
	return []Callback{cb}
}

func emailReplyText(text, html string) string {
	if strings.TrimSpace(text) != "" {
		return sanitize.PlainReply(text)
	}
	return sanitize.ReplyText(html)
}

// parseHeaderBlock reads a raw "Key: value" header block.
func parseHeaderBlock(block string) http.Header {
	h := http.Header{}
	for _, line := range strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return h
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
