package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/conecta2tel/conectabot/internal/models"
)

func TestMediaSourceResolveRemembered(t *testing.T) {
	mime := "image/jpeg"
	s := NewMediaSource(nil)
	s.RememberImage("MSG1", &waE2E.ImageMessage{Mimetype: &mime})

	id, gotMime, err := s.ResolveDownloadURL(context.Background(), "MSG1")
	if err != nil {
		t.Fatal(err)
	}
	if id != "MSG1" || gotMime != "image/jpeg" {
		t.Errorf("resolved %q/%q", id, gotMime)
	}
}

func TestMediaSourceUnknownReferenceIsExpired(t *testing.T) {
	s := NewMediaSource(nil)
	_, _, err := s.ResolveDownloadURL(context.Background(), "never-seen")
	if !errors.Is(err, models.ErrMediaExpired) {
		t.Fatalf("err = %v, want ErrMediaExpired", err)
	}
}

func TestMediaSourceStaleReferenceIsExpired(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := NewMediaSource(nil, WithNowFunc(clock))

	mime := "image/jpeg"
	s.RememberImage("MSG1", &waE2E.ImageMessage{Mimetype: &mime})

	now = now.Add(DefaultReferenceLifetime + time.Second)
	if _, _, err := s.ResolveDownloadURL(context.Background(), "MSG1"); !errors.Is(err, models.ErrMediaExpired) {
		t.Fatalf("stale reference err = %v, want ErrMediaExpired", err)
	}

	if removed := s.Sweep(); removed != 1 {
		t.Errorf("sweep removed %d, want 1", removed)
	}
}
