package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestObjectKeyIsDatePartitioned(t *testing.T) {
	id := uuid.MustParse("7b0d5c0e-3f0a-4c7e-9a43-1b2c3d4e5f60")
	at := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("CET", 3600))

	got := ObjectKey(" Twilio ", at, id)
	want := "webhooks/twilio/2026/03/07/7b0d5c0e-3f0a-4c7e-9a43-1b2c3d4e5f60.json"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestObjectKeyUnknownProvider(t *testing.T) {
	got := ObjectKey("", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), uuid.New())
	if !strings.HasPrefix(got, "webhooks/unknown/2026/01/01/") {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestValidatePayload(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		size        int64
		wantErr     bool
	}{
		{name: "json with charset", contentType: "application/json; charset=utf-8", size: 10},
		{name: "twilio form", contentType: "application/x-www-form-urlencoded", size: 10},
		{name: "missing header", contentType: "", size: 10},
		{name: "empty body", contentType: "application/json", size: 0, wantErr: true},
		{name: "too large", contentType: "application/json", size: MaxPayloadSize + 1, wantErr: true},
		{name: "binary", contentType: "application/octet-stream", size: 10, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePayload(tc.contentType, tc.size)
			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}
