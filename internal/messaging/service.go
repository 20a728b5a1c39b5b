// Package messaging provides the pluggable message delivery abstraction:
// sending text and menus to a recipient, and a channel of normalized inbound
// messages for the dispatcher to consume.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the buffer size for the inbound message channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Each transport implements its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain text message to a recipient.
	SendText(ctx context.Context, to string, body string) error

	// SendMenu sends an interactive menu. Transports without native
	// interactive messages degrade it to numbered text.
	SendMenu(ctx context.Context, to string, menu models.Menu) error

	// Start begins background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Messages returns the channel of normalized inbound messages.
	Messages() <-chan models.Message
}

// canonicalizePhone strips every non-digit and validates minimum length.
// Shared by the transports.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// renderMenuText degrades a structured menu to numbered text for transports
// without interactive message support.
func renderMenuText(menu models.Menu) string {
	body := menu.Title
	if menu.Body != "" {
		if body != "" {
			body += "\n\n"
		}
		body += menu.Body
	}
	for i, opt := range menu.Options {
		body += fmt.Sprintf("\n%d. %s", i+1, opt.Title)
		if opt.Description != "" {
			body += " - " + opt.Description
		}
	}
	return body
}
