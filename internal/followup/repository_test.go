package followup

import (
	"strings"
	"testing"
	"time"

	"procurement_followup/internal/channel"

	"github.com/google/uuid"
)

func TestPendingQueryAppliesFiltersAndCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sqlText, args, err := pendingQuery(PendingFilter{Channel: channel.SMS, MaxAge: time.Hour}, now).ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}

	for _, fragment := range []string{"success = $1", "channel = $2", "created_at <= $3", "ORDER BY created_at DESC", "LIMIT 100"} {
		if !strings.Contains(sqlText, fragment) {
			t.Fatalf("expected %q in %s", fragment, sqlText)
		}
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %v", args)
	}
	if cutoff, ok := args[2].(time.Time); !ok || !cutoff.Equal(now.Add(-time.Hour)) {
		t.Fatalf("unexpected cutoff arg %v", args[2])
	}
}

func TestPendingQueryWithoutFilters(t *testing.T) {
	sqlText, args, err := pendingQuery(PendingFilter{}, time.Now()).ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	for _, fragment := range []string{"channel = $", "created_at <="} {
		if strings.Contains(sqlText, fragment) {
			t.Fatalf("unexpected %q in %s", fragment, sqlText)
		}
	}
	if len(args) != 1 {
		t.Fatalf("expected only the success arg, got %v", args)
	}
}

func TestMatchMessageIDIgnoresBracketsAndCase(t *testing.T) {
	attempts := []Attempt{
		{ID: uuid.New(), ProviderMessageID: nil},
		{ID: uuid.New(), ProviderMessageID: String("<ABC123@mail.example>")},
		{ID: uuid.New(), ProviderMessageID: String("abc123@mail.example")},
	}

	got := MatchMessageID(attempts, "abc123@MAIL.example")
	if got == nil || got.ID != attempts[1].ID {
		t.Fatalf("expected first matching attempt, got %+v", got)
	}
	if MatchMessageID(attempts, "") != nil {
		t.Fatalf("blank id must not match")
	}
	if MatchMessageID(attempts, "missing") != nil {
		t.Fatalf("unknown id must not match")
	}
}

func TestStatusSuccessful(t *testing.T) {
	for _, s := range []Status{StatusSent, StatusDelivered, StatusRead, StatusReplied} {
		if !s.Successful() {
			t.Fatalf("%s should count as successful", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusFailed, StatusBounced} {
		if s.Successful() {
			t.Fatalf("%s should not count as successful", s)
		}
	}
}

func TestStringHelperDropsBlank(t *testing.T) {
	if String("  ") != nil {
		t.Fatalf("blank string should map to nil")
	}
	if v := String("x"); v == nil || *v != "x" {
		t.Fatalf("unexpected %v", v)
	}
}

func TestCreateAttemptNumbersInsideInsert(t *testing.T) {
	if !strings.Contains(lockOrderAttemptsSQL, "pg_advisory_xact_lock") {
		t.Fatalf("attempt inserts must hold the per-order advisory lock: %s", lockOrderAttemptsSQL)
	}
	for _, fragment := range []string{"COALESCE(MAX(attempt_number), 0) + 1", "WHERE order_id = $1"} {
		if !strings.Contains(createAttemptSQL, fragment) {
			t.Fatalf("expected %q in %s", fragment, createAttemptSQL)
		}
	}
}
