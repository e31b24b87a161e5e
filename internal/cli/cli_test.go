package cli

import (
	"bytes"
	"strings"
	"testing"
)

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"run", "process", "sweep", "pending", "analyze", "send", "migrate"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("command %q not registered", name)
		}
	}
}

func TestProcessRejectsInvalidOrderID(t *testing.T) {
	_, err := execute("process", "not-a-uuid")
	if err == nil || !strings.Contains(err.Error(), "invalid order id") {
		t.Fatalf("expected invalid order id error, got %v", err)
	}
}

func TestSendRejectsUnknownChannel(t *testing.T) {
	_, err := execute("send", "PO-1", "--channel", "fax", "--message", "hi")
	if err == nil || !strings.Contains(err.Error(), "unknown channel") {
		t.Fatalf("expected unknown channel error, got %v", err)
	}
}

func TestSendRequiresMessage(t *testing.T) {
	_, err := execute("send", "PO-1", "--channel", "sms")
	if err == nil || !strings.Contains(err.Error(), "--message") {
		t.Fatalf("expected missing message error, got %v", err)
	}
}

func TestMigrateRejectsUnknownAction(t *testing.T) {
	if _, err := execute("migrate", "down"); err == nil {
		t.Fatalf("expected invalid argument error")
	}
}
