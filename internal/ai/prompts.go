package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"procurement_followup/internal/channel"
	"procurement_followup/internal/orders"
)

const decisionInstruction = `You are a procurement follow-up assistant. You decide whether a supplier
should be contacted about an open purchase order and draft the message.

Rules:
- Only follow up when the order is at risk: no recent information, an expected delivery date
  that is close or past, a DELAYED status without a reason, or an unanswered previous attempt.
- Pick a channel from availableChannels. Prefer preferredChannel unless earlier attempts on it failed.
- Keep messages short, polite and specific: reference the order id and part number, ask for the
  current status and a confirmed delivery date.
- Never invent facts about the order.

Answer with a single JSON object:
{"shouldFollowUp": bool, "channel": "EMAIL|SMS|VOICE", "message": string, "priority": "LOW|NORMAL|HIGH|URGENT", "reasoning": string}`

const analysisInstruction = `You review an open purchase order and say whether the supplier should be
asked for an update. Answer with a single JSON object:
{"shouldFollowUp": bool, "reasoning": string}`

const replyInstruction = `You read a supplier's reply about a purchase order and extract what changed.

Return a single JSON object:
{"summary": string, "status": "PENDING|IN_TRANSIT|DELIVERED|DELAYED|CANCELLED" or null,
 "expectedDeliveryDate": "YYYY-MM-DD" or null, "priority": "LOW|NORMAL|HIGH|URGENT" or null,
 "delayReason": string or null}

Only set a field when the reply clearly states it. Use DELAYED when the supplier reports a later
date than expected. Put the stated cause of a delay in delayReason.`

func snapshotJSON(snap OrderSnapshot) string {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decisionPrompt(snap OrderSnapshot) string {
	return fmt.Sprintf("Order context:\n%s\n\nDecide whether to follow up now.", snapshotJSON(snap))
}

func analysisPrompt(snap OrderSnapshot) string {
	return fmt.Sprintf("Order context:\n%s\n\nShould the supplier be asked for an update?", snapshotJSON(snap))
}

func replyPrompt(snap OrderSnapshot, reply ReplyInput) string {
	return fmt.Sprintf("Order context:\n%s\n\nReply received via %s from %s\nSubject: %s\n\n%s",
		snapshotJSON(snap), reply.Channel, reply.From, reply.Subject, reply.Text)
}

// rawDecision is the model's JSON answer before validation.
type rawDecision struct {
	ShouldFollowUp bool   `json:"shouldFollowUp"`
	Channel        string `json:"channel"`
	Message        string `json:"message"`
	Priority       string `json:"priority"`
	Reasoning      string `json:"reasoning"`
}

type rawReplyAnalysis struct {
	Summary              string  `json:"summary"`
	Status               *string `json:"status"`
	ExpectedDeliveryDate *string `json:"expectedDeliveryDate"`
	Priority             *string `json:"priority"`
	DelayReason          *string `json:"delayReason"`
}

// extractJSON decodes the first JSON object in text, tolerating code fences
// and surrounding prose.
func extractJSON(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model output")
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

// normalizeDecision validates the channel against the provider's contacts,
// falling back to the preferred channel.
func normalizeDecision(raw rawDecision, provider orders.Provider) Decision {
	d := Decision{
		ShouldFollowUp: raw.ShouldFollowUp,
		Message:        strings.TrimSpace(raw.Message),
		Reasoning:      strings.TrimSpace(raw.Reasoning),
	}
	if p, ok := orders.ParsePriority(raw.Priority); ok {
		d.Priority = p
	}
	ch, ok := channel.Parse(raw.Channel)
	if !ok {
		ch = provider.PreferredChannel
	}
	if _, has := provider.ContactFor(ch); !has {
		ch = provider.PreferredChannel
	}
	if d.ShouldFollowUp {
		d.Channel = ch
	}
	return d
}

func normalizeReplyAnalysis(raw rawReplyAnalysis) ReplyAnalysis {
	a := ReplyAnalysis{Summary: strings.TrimSpace(raw.Summary)}
	if raw.Status != nil {
		if s, ok := orders.ParseStatus(*raw.Status); ok {
			a.Status = &s
		}
	}
	if raw.Priority != nil {
		if p, ok := orders.ParsePriority(*raw.Priority); ok {
			a.Priority = &p
		}
	}
	if raw.ExpectedDeliveryDate != nil {
		if t, ok := parseDate(*raw.ExpectedDeliveryDate); ok {
			a.ExpectedDeliveryDate = &t
		}
	}
	if raw.DelayReason != nil {
		if reason := strings.TrimSpace(*raw.DelayReason); reason != "" {
			a.DelayReason = &reason
		}
	}
	return a
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
