package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
)

// Retry policy for transient fetch failures. Expired references are never
// retried.
const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 2 * time.Second
	// DefaultMaxAge is how long downloaded files are kept before garbage
	// collection.
	DefaultMaxAge = 30 * 24 * time.Hour
	// DefaultDirPermissions defines the permissions for storage directories.
	DefaultDirPermissions = 0o755
)

// MetadataRepo persists attachment rows. Implemented by the store layer.
type MetadataRepo interface {
	SaveAttachment(att models.Attachment) error
	DeleteAttachmentsBefore(cutoff time.Time) (int, error)
	CountAttachments() (total int, receipts int, err error)
}

// Store downloads media through a Source and persists bytes to the local
// filesystem plus a metadata row. Writes are append-only: every fetch gets
// its own file, no path is ever written twice.
type Store struct {
	source     Source
	repo       MetadataRepo
	dir        string
	maxRetries int
	backoff    time.Duration
	maxAge     time.Duration
	sleep      func(time.Duration)
	now        func() time.Time
}

// StoreOption configures a media Store.
type StoreOption func(*Store)

// WithMaxRetries overrides the transient retry count.
func WithMaxRetries(n int) StoreOption {
	return func(s *Store) { s.maxRetries = n }
}

// WithRetryBackoff overrides the fixed backoff between transient retries.
func WithRetryBackoff(d time.Duration) StoreOption {
	return func(s *Store) { s.backoff = d }
}

// WithMaxAge overrides the garbage-collection age threshold.
func WithMaxAge(d time.Duration) StoreOption {
	return func(s *Store) { s.maxAge = d }
}

// WithSleep injects the backoff sleeper for tests.
func WithSleep(sleep func(time.Duration)) StoreOption {
	return func(s *Store) { s.sleep = sleep }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a media store rooted at dir, with receipts/ and general/
// subdirectories.
func NewStore(source Source, repo MetadataRepo, dir string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		source:     source,
		repo:       repo,
		dir:        dir,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		maxAge:     DefaultMaxAge,
		sleep:      time.Sleep,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, sub := range []string{"receipts", "general"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create media directory: %w", err)
		}
	}
	return s, nil
}

// Download resolves the media id, fetches the bytes with bounded retries for
// transient failures, and persists them. An expired reference returns
// models.ErrMediaExpired immediately, with zero retries.
func (s *Store) Download(ctx context.Context, mediaID, owner string, purpose models.AttachmentPurpose) (*models.Attachment, error) {
	slog.Debug("Media Store Download invoked", "media_id", mediaID, "owner", owner, "purpose", purpose)

	url, mimeType, err := s.withRetries(ctx, func() (string, string, error) {
		return s.source.ResolveDownloadURL(ctx, mediaID)
	})
	if err != nil {
		return nil, err
	}

	var data []byte
	_, _, err = s.withRetries(ctx, func() (string, string, error) {
		var fetchErr error
		data, fetchErr = s.source.FetchBytes(ctx, url)
		return "", "", fetchErr
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := "general"
	if purpose == models.PurposePaymentReceipt {
		sub = "receipts"
	}
	filename := fmt.Sprintf("%s_%d_%s%s", sanitizeOwner(owner), now.UnixMilli(), sanitizeMediaID(mediaID), extensionForMime(mimeType))
	localPath := filepath.Join(s.dir, sub, filename)

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to persist attachment: %w", err)
	}

	att := models.Attachment{
		MediaID:   mediaID,
		LocalPath: localPath,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		Owner:     owner,
		Purpose:   purpose,
		CreatedAt: now,
	}
	if s.repo != nil {
		if err := s.repo.SaveAttachment(att); err != nil {
			slog.Error("Media Store failed to save attachment metadata", "error", err, "media_id", mediaID)
			return nil, fmt.Errorf("failed to save attachment metadata: %w", err)
		}
	}

	slog.Info("Media Store attachment persisted", "media_id", mediaID, "path", localPath, "size_kb", att.SizeBytes/1024)
	return &att, nil
}

// withRetries runs op, retrying transient failures up to maxRetries times
// with a fixed backoff. An expired reference aborts immediately.
func (s *Store) withRetries(ctx context.Context, op func() (string, string, error)) (string, string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.sleep(s.backoff)
		}
		a, b, err := op()
		if err == nil {
			return a, b, nil
		}

		var expired *expiredError
		if errors.As(err, &expired) {
			slog.Warn("Media Store reference expired, not retrying", "error", err)
			return "", "", fmt.Errorf("%w: %s", models.ErrMediaExpired, expired.Error())
		}
		if errors.Is(err, models.ErrMediaExpired) {
			slog.Warn("Media Store reference expired, not retrying", "error", err)
			return "", "", err
		}

		lastErr = err
		slog.Warn("Media Store transient fetch failure", "attempt", attempt+1, "error", err)

		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
	}
	return "", "", fmt.Errorf("fetch failed after %d retries: %w", s.maxRetries, lastErr)
}

// Cleanup removes files older than the configured age, along with their
// metadata rows. Wired to the maintenance scheduler; attachment lifetime is
// independent of conversation lifecycle.
func (s *Store) Cleanup() (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	removed := 0

	for _, sub := range []string{"receipts", "general"} {
		dir := filepath.Join(s.dir, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				path := filepath.Join(dir, entry.Name())
				if err := os.Remove(path); err != nil {
					slog.Error("Media Store cleanup failed to remove file", "error", err, "path", path)
					continue
				}
				removed++
			}
		}
	}

	if s.repo != nil {
		if _, err := s.repo.DeleteAttachmentsBefore(cutoff); err != nil {
			slog.Error("Media Store cleanup failed to prune metadata", "error", err)
		}
	}

	if removed > 0 {
		slog.Info("Media Store cleanup removed old attachments", "count", removed)
	}
	return removed, nil
}

// Stats reports stored attachment counts from the metadata repo.
func (s *Store) Stats() (total int, receipts int, err error) {
	if s.repo == nil {
		return 0, 0, nil
	}
	return s.repo.CountAttachments()
}

// mimeExtensions maps mime types to file extensions, defaulting to .jpg.
var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

func extensionForMime(mimeType string) string {
	if ext, ok := mimeExtensions[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return ".jpg"
}

func sanitizeOwner(owner string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		default:
			return -1
		}
	}, owner)
}

// sanitizeMediaID makes a media reference safe to embed in a filename. Some
// channels hand over a full URL as the reference (Twilio's MediaUrl), which
// contains path separators; those collapse to a trailing fragment plus a
// hash of the original so distinct references stay distinct.
func sanitizeMediaID(mediaID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
			return r
		default:
			return -1
		}
	}, mediaID)
	if safe == mediaID && len(safe) <= 64 {
		return safe
	}

	sum := sha256.Sum256([]byte(mediaID))
	if len(safe) > 24 {
		safe = safe[len(safe)-24:]
	}
	if safe == "" {
		return hex.EncodeToString(sum[:8])
	}
	return safe + "_" + hex.EncodeToString(sum[:8])
}
