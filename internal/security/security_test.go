package security

import (
	"strings"
	"testing"
	"time"
)

func newTestGate(now *time.Time) *Gate {
	return NewGate(
		WithEncryptionKey("test-secret"),
		WithClock(func() time.Time { return *now }),
	)
}

func TestLockoutAfterThreeFailures(t *testing.T) {
	now := time.Now()
	g := newTestGate(&now)

	if !g.RecordAuthAttempt("+57300", false) {
		t.Error("first failure should allow retry")
	}
	if g.RemainingAttempts("+57300") != 2 {
		t.Errorf("expected 2 remaining, got %d", g.RemainingAttempts("+57300"))
	}
	if !g.RecordAuthAttempt("+57300", false) {
		t.Error("second failure should allow retry")
	}
	if g.RecordAuthAttempt("+57300", false) {
		t.Error("third failure should lock the identity")
	}

	blocked, minutes := g.IsBlocked("+57300")
	if !blocked {
		t.Fatal("identity should be blocked")
	}
	if minutes != 15 {
		t.Errorf("expected 15 minutes remaining, got %d", minutes)
	}

	// Attempts during the lockout are rejected without counting.
	if g.RecordAuthAttempt("+57300", true) {
		t.Error("attempts during lockout must be rejected")
	}

	// The block releases after the window.
	now = now.Add(16 * time.Minute)
	if blocked, _ := g.IsBlocked("+57300"); blocked {
		t.Error("block should expire after the lockout duration")
	}
}

func TestSuccessResetsAttempts(t *testing.T) {
	now := time.Now()
	g := newTestGate(&now)

	g.RecordAuthAttempt("+57300", false)
	g.RecordAuthAttempt("+57300", true)
	if g.RemainingAttempts("+57300") != DefaultMaxAuthAttempts {
		t.Error("success should reset the failure counter")
	}
}

func TestSessionLifetimes(t *testing.T) {
	now := time.Now()
	g := newTestGate(&now)

	g.CreateSession("+57111", false)
	g.CreateSession("+57222", true)

	nominal := g.ValidateSession("+57111")
	restricted := g.ValidateSession("+57222")
	if !nominal.Valid || nominal.Restricted {
		t.Errorf("expected valid unrestricted session, got %+v", nominal)
	}
	if !restricted.Valid || !restricted.Restricted {
		t.Errorf("expected valid restricted session, got %+v", restricted)
	}

	// The restricted session expires first.
	now = now.Add(31 * time.Minute)
	if g.ValidateSession("+57222").Valid {
		t.Error("restricted session should expire after 30 minutes")
	}
	if !g.ValidateSession("+57111").Valid {
		t.Error("nominal session should still be valid after 31 minutes")
	}

	now = now.Add(2 * time.Hour)
	if g.ValidateSession("+57111").Valid {
		t.Error("nominal session should expire after 2 hours")
	}
}

func TestInvalidateSession(t *testing.T) {
	now := time.Now()
	g := newTestGate(&now)
	g.CreateSession("+57111", false)
	g.InvalidateSession("+57111")
	if g.ValidateSession("+57111").Valid {
		t.Error("invalidated session must not validate")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	now := time.Now()
	g := newTestGate(&now)

	plaintext := `{"customerId":"C-123","customerName":"Ana","document":"1032456789"}`
	blob, err := g.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("unexpected encrypt error: %v", err)
	}
	if strings.Contains(blob, "Ana") || strings.Contains(blob, "1032456789") {
		t.Error("sealed blob must not contain plaintext fields")
	}

	got, err := g.Decrypt(blob)
	if err != nil {
		t.Fatalf("unexpected decrypt error: %v", err)
	}
	if got != plaintext {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	now := time.Now()
	g := newTestGate(&now)

	blob, err := g.Encrypt("secret profile")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tampered := blob[:len(blob)-2] + "00"
	if _, err := g.Decrypt(tampered); err == nil {
		t.Error("tampered blob must fail to decrypt")
	}
	if _, err := g.Decrypt("not-a-blob"); err == nil {
		t.Error("malformed blob must fail to decrypt")
	}
}
