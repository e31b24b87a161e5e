package orders

import (
	"testing"

	"procurement_followup/internal/channel"
)

func TestNextConversationTurnIsSequentialPerOrder(t *testing.T) {
	maxTurn := map[string]int{}
	sequence := []string{"a", "b", "a", "a", "b", "c", "a"}
	want := map[string][]int{"a": {1, 2, 3, 4}, "b": {1, 2}, "c": {1}}
	got := map[string][]int{}

	for _, order := range sequence {
		turn := NextConversationTurn(maxTurn[order], nil)
		maxTurn[order] = turn
		got[order] = append(got[order], turn)
	}

	for order, turns := range want {
		if len(got[order]) != len(turns) {
			t.Fatalf("order %s: expected %v, got %v", order, turns, got[order])
		}
		for i := range turns {
			if got[order][i] != turns[i] {
				t.Fatalf("order %s: expected %v, got %v", order, turns, got[order])
			}
		}
	}
}

func TestNextConversationTurnHonorsSuppliedValue(t *testing.T) {
	supplied := 7
	if got := NextConversationTurn(2, &supplied); got != 7 {
		t.Fatalf("expected supplied turn 7, got %d", got)
	}
	zero := 0
	if got := NextConversationTurn(2, &zero); got != 3 {
		t.Fatalf("expected auto-assigned turn 3, got %d", got)
	}
}

func TestDecodeContactInfoKeepsKnownChannels(t *testing.T) {
	contacts, err := decodeContactInfo([]byte(`{"email":"ops@supplier.com","SMS":"+16502530000","fax":"123"}`))
	if err != nil {
		t.Fatalf("decodeContactInfo: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %v", contacts)
	}
	if contacts[channel.Email] != "ops@supplier.com" {
		t.Fatalf("email contact missing: %v", contacts)
	}
}

func TestProviderContactForIgnoresBlank(t *testing.T) {
	p := Provider{ContactInfo: map[channel.Channel]string{channel.Email: "  "}}
	if _, ok := p.ContactFor(channel.Email); ok {
		t.Fatalf("blank contact must not resolve")
	}
}

func TestParseStatusAndPriority(t *testing.T) {
	if s, ok := ParseStatus("in_transit"); !ok || s != StatusInTransit {
		t.Fatalf("expected IN_TRANSIT, got %q", s)
	}
	if _, ok := ParseStatus("LOST"); ok {
		t.Fatalf("LOST must not parse")
	}
	if p, ok := ParsePriority("Urgent"); !ok || p != PriorityUrgent {
		t.Fatalf("expected URGENT, got %q", p)
	}
}

func TestPrefixColumns(t *testing.T) {
	if got := prefixColumns("o", "id, status"); got != "o.id, o.status" {
		t.Fatalf("unexpected %q", got)
	}
}
