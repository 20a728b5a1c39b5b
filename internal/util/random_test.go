package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomHex(t *testing.T) {
	hex := GenerateRandomHex(32)
	if len(hex) != 32 {
		t.Errorf("expected length 32, got %d", len(hex))
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("unexpected character %q in hex string", c)
		}
	}
	if GenerateRandomHex(0) != "" {
		t.Error("expected empty string for zero length")
	}
	if GenerateRandomHex(-5) != "" {
		t.Error("expected empty string for negative length")
	}
}

func TestGenerateTicketID(t *testing.T) {
	id := GenerateTicketID()
	if !strings.HasPrefix(id, "TKT-") {
		t.Errorf("expected TKT- prefix, got %q", id)
	}
	if len(id) != len("TKT-")+12 {
		t.Errorf("unexpected ticket id length: %q", id)
	}
	other := GenerateTicketID()
	if id == other {
		t.Error("consecutive ticket ids should differ")
	}
}

func TestGenerateTaskID(t *testing.T) {
	id := GenerateTaskID()
	if !strings.HasPrefix(id, "task_") {
		t.Errorf("expected task_ prefix, got %q", id)
	}
}
