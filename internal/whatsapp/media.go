package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/conecta2tel/conectabot/internal/models"
)

// DefaultReferenceLifetime is how long a remembered image reference stays
// downloadable. WhatsApp media keys are single-use and short-lived; once the
// window passes the reference is treated as expired, never retried.
const DefaultReferenceLifetime = 5 * time.Minute

type imageRef struct {
	msg       *waE2E.ImageMessage
	expiresAt time.Time
}

// MediaSource resolves media ids captured from incoming messages to bytes
// using the whatsmeow download API. It satisfies the attachment store's
// Source contract: resolution of a forgotten or stale id reports
// models.ErrMediaExpired so the store fails fast instead of retrying.
type MediaSource struct {
	client *whatsmeow.Client

	mu       sync.Mutex
	refs     map[string]imageRef
	lifetime time.Duration
	now      func() time.Time
}

// MediaSourceOption configures a MediaSource.
type MediaSourceOption func(*MediaSource)

// WithReferenceLifetime overrides how long remembered references stay valid.
func WithReferenceLifetime(d time.Duration) MediaSourceOption {
	return func(s *MediaSource) { s.lifetime = d }
}

// WithNowFunc injects a time source for tests.
func WithNowFunc(now func() time.Time) MediaSourceOption {
	return func(s *MediaSource) { s.now = now }
}

// NewMediaSource creates a MediaSource backed by the given client.
func NewMediaSource(client *whatsmeow.Client, opts ...MediaSourceOption) *MediaSource {
	s := &MediaSource{
		client:   client,
		refs:     make(map[string]imageRef),
		lifetime: DefaultReferenceLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RememberImage records an incoming image message under its message id so a
// later download request can resolve it.
func (s *MediaSource) RememberImage(messageID string, msg *waE2E.ImageMessage) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[messageID] = imageRef{msg: msg, expiresAt: s.now().Add(s.lifetime)}
}

// ResolveDownloadURL checks that the media id is still resolvable. The
// returned "URL" is the media id itself; FetchBytes performs the download.
func (s *MediaSource) ResolveDownloadURL(_ context.Context, mediaID string) (string, string, error) {
	s.mu.Lock()
	ref, ok := s.refs[mediaID]
	s.mu.Unlock()
	if !ok || s.now().After(ref.expiresAt) {
		slog.Warn("MediaSource reference unknown or stale", "media_id", mediaID, "known", ok)
		return "", "", fmt.Errorf("%w: reference %s is no longer resolvable", models.ErrMediaExpired, mediaID)
	}
	return mediaID, ref.msg.GetMimetype(), nil
}

// FetchBytes downloads the image bytes for a previously resolved media id.
func (s *MediaSource) FetchBytes(ctx context.Context, mediaID string) ([]byte, error) {
	s.mu.Lock()
	ref, ok := s.refs[mediaID]
	s.mu.Unlock()
	if !ok || s.now().After(ref.expiresAt) {
		return nil, fmt.Errorf("%w: reference %s is no longer resolvable", models.ErrMediaExpired, mediaID)
	}

	data, err := s.client.Download(ctx, ref.msg)
	if err != nil {
		return nil, fmt.Errorf("failed to download media %s: %w", mediaID, err)
	}
	slog.Debug("MediaSource downloaded image", "media_id", mediaID, "size", len(data))
	return data, nil
}

// Sweep drops stale references. Wired to the maintenance scheduler.
func (s *MediaSource) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, ref := range s.refs {
		if now.After(ref.expiresAt) {
			delete(s.refs, id)
			removed++
		}
	}
	return removed
}
