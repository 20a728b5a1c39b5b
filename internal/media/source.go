// Package media implements the attachment store: resolving perishable
// remote media references to bytes and persisting them locally.
//
// The core correctness property is failure classification: a reference that
// the channel reports as gone ("object does not exist" and friends) is
// terminal and re-raised immediately as models.ErrMediaExpired with zero
// retries, because a perished single-use reference can never be fetched
// again. Only transient failures (network, timeout, 5xx) are retried.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Source resolves a media id to a download URL and fetches its bytes.
type Source interface {
	ResolveDownloadURL(ctx context.Context, mediaID string) (url, mimeType string, err error)
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// expiredSignatures are the downstream error-body fragments that identify a
// perished media reference. Matching is case-insensitive.
var expiredSignatures = []string{
	"object does not exist",
	"media not found",
	"invalid media id",
	"url expired",
	"media id is not valid",
}

// isExpiredBody reports whether an error body matches a terminal-expired
// signature.
func isExpiredBody(body string) bool {
	lower := strings.ToLower(body)
	for _, sig := range expiredSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// Default Cloud API configuration.
const (
	DefaultGraphBaseURL = "https://graph.facebook.com"
	DefaultGraphVersion = "v19.0"
	defaultHTTPTimeout  = 30 * time.Second
)

// CloudAPISource fetches media through the WhatsApp Cloud (Graph) API:
// GET /{version}/{media-id} returns metadata with a short-lived download
// URL, then the URL is fetched with the same bearer token.
type CloudAPISource struct {
	baseURL     string
	version     string
	accessToken string
	httpClient  *http.Client
}

// CloudAPIOption configures a CloudAPISource.
type CloudAPIOption func(*CloudAPISource)

// WithGraphBaseURL overrides the Graph API base URL (used by tests).
func WithGraphBaseURL(url string) CloudAPIOption {
	return func(s *CloudAPISource) { s.baseURL = strings.TrimRight(url, "/") }
}

// WithGraphVersion overrides the Graph API version path segment.
func WithGraphVersion(v string) CloudAPIOption {
	return func(s *CloudAPISource) { s.version = v }
}

// WithHTTPClient injects the HTTP client.
func WithHTTPClient(c *http.Client) CloudAPIOption {
	return func(s *CloudAPISource) { s.httpClient = c }
}

// NewCloudAPISource creates a Cloud API media source with the given access
// token.
func NewCloudAPISource(accessToken string, opts ...CloudAPIOption) *CloudAPISource {
	s := &CloudAPISource{
		baseURL:     DefaultGraphBaseURL,
		version:     DefaultGraphVersion,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mediaMetadata is the Graph API media lookup response.
type mediaMetadata struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// ResolveDownloadURL implements Source. Expired references surface as
// models.ErrMediaExpired via classify.
func (s *CloudAPISource) ResolveDownloadURL(ctx context.Context, mediaID string) (string, string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", s.baseURL, s.version, mediaID)
	body, err := s.get(ctx, endpoint)
	if err != nil {
		return "", "", err
	}

	var meta mediaMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", "", fmt.Errorf("failed to parse media metadata: %w", err)
	}
	if meta.URL == "" {
		return "", "", fmt.Errorf("media metadata missing download url")
	}
	if meta.MimeType == "" {
		meta.MimeType = "image/jpeg"
	}
	slog.Debug("CloudAPISource resolved media", "media_id", mediaID, "mime_type", meta.MimeType)
	return meta.URL, meta.MimeType, nil
}

// FetchBytes implements Source.
func (s *CloudAPISource) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return s.get(ctx, url)
}

// get performs an authorized GET and classifies non-2xx responses: bodies
// matching an expired signature become classifyErr{expired}, everything
// else stays a plain, retryable error.
func (s *CloudAPISource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if isExpiredBody(string(body)) {
			return nil, &expiredError{status: resp.StatusCode, body: string(body)}
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// DirectURLSource handles channels whose media reference is already a full
// download URL (Twilio hands the webhook a MediaUrl directly). Resolution is
// the identity; the optional basic-auth credentials cover Twilio-protected
// media endpoints.
type DirectURLSource struct {
	username   string
	password   string
	httpClient *http.Client
}

// NewDirectURLSource creates a source that fetches media references as-is.
// username and password may be empty for unauthenticated URLs.
func NewDirectURLSource(username, password string) *DirectURLSource {
	return &DirectURLSource{
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// ResolveDownloadURL implements Source. The media id already is the URL; the
// mime type is discovered during the fetch and left empty here.
func (s *DirectURLSource) ResolveDownloadURL(_ context.Context, mediaID string) (string, string, error) {
	if !strings.HasPrefix(mediaID, "http://") && !strings.HasPrefix(mediaID, "https://") {
		return "", "", fmt.Errorf("media reference %q is not a URL", mediaID)
	}
	return mediaID, "", nil
}

// FetchBytes implements Source.
func (s *DirectURLSource) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, &expiredError{status: resp.StatusCode, body: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// expiredError marks a terminal-expired downstream failure before it is
// mapped onto models.ErrMediaExpired by the store.
type expiredError struct {
	status int
	body   string
}

func (e *expiredError) Error() string {
	return fmt.Sprintf("media expired (status %d): %s", e.status, truncate(e.body, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
