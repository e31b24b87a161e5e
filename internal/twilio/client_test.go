package twilio

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"procurement_followup/platform/logger"
)

func newTestClient(baseURL string) *Client {
	return &Client{
		baseURL:     baseURL,
		accountSID:  "AC123",
		authToken:   "secret",
		from:        "+16502530000",
		callbackURL: "https://hooks.example.com/api/v1/webhooks/channels",
		region:      "US",
		http:        &http.Client{Timeout: time.Second},
		log:         logger.NewWithHandler(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSendSMSPostsFormAndReturnsSID(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		_ = r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).SendSMS(context.Background(), "(650) 253-0001", "Any update on PT-1?")
	if err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if res.SID != "SM42" {
		t.Fatalf("expected SM42, got %q", res.SID)
	}
	if form.Get("To") != "+16502530001" || form.Get("Body") != "Any update on PT-1?" {
		t.Fatalf("unexpected form %v", form)
	}
	if form.Get("StatusCallback") == "" {
		t.Fatalf("expected status callback to be set")
	}
}

func TestSendSMSReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SendSMS(context.Background(), "123", "hi")
	if err == nil || !strings.Contains(err.Error(), "21211") {
		t.Fatalf("expected twilio error code in %v", err)
	}
}

func TestBuildGatherTwiMLEscapesMessage(t *testing.T) {
	twiml := BuildGatherTwiML("Order <PT-1> & status?", "https://hooks.example.com/cb")
	if !strings.Contains(twiml, "Order &lt;PT-1&gt; &amp; status?") {
		t.Fatalf("message not escaped: %s", twiml)
	}
	if !strings.Contains(twiml, `input="speech"`) || !strings.Contains(twiml, `method="POST"`) {
		t.Fatalf("gather attributes missing: %s", twiml)
	}
}
