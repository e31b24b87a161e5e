package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBrevoSendFollowUpReturnsMessageID(t *testing.T) {
	var captured brevoEmailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "key-123" {
			t.Errorf("missing api-key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<202501011200.123@smtp-relay.mailin.fr>"}`))
	}))
	defer srv.Close()

	sender := NewBrevoSender("key-123", "ops@example.com", "Procurement", "replies@example.com")
	sender.endpoint = srv.URL

	id, err := sender.SendFollowUpEmail(context.Background(), FollowUpEmail{
		ToEmail:  "supplier@example.com",
		Subject:  "Order Update: PT-TBL-HYD",
		Body:     "Could you confirm the ship date?\n\nThanks.",
		OrderRef: "PT-TBL-HYD",
	})
	if err != nil {
		t.Fatalf("SendFollowUpEmail: %v", err)
	}
	if id != "202501011200.123@smtp-relay.mailin.fr" {
		t.Fatalf("unexpected message id %q", id)
	}
	if captured.Subject != "Order Update: PT-TBL-HYD" {
		t.Fatalf("unexpected subject %q", captured.Subject)
	}
	if captured.ReplyTo == nil || captured.ReplyTo.Email != "replies@example.com" {
		t.Fatalf("expected reply-to to be set")
	}
	if !strings.Contains(captured.HTMLContent, "Could you confirm the ship date?") {
		t.Fatalf("html body missing message text")
	}
}

func TestBrevoSendSurfacesVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_parameter"}`))
	}))
	defer srv.Close()

	sender := NewBrevoSender("key", "ops@example.com", "Procurement", "")
	sender.endpoint = srv.URL

	_, err := sender.SendFollowUpEmail(context.Background(), FollowUpEmail{ToEmail: "a@b.c", Subject: "s", Body: "b"})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestParagraphs(t *testing.T) {
	got := paragraphs("one\r\n\r\ntwo\n\n\n  \nthree")
	if len(got) != 3 || got[2] != "three" {
		t.Fatalf("unexpected paragraphs %v", got)
	}
}
