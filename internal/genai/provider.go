// Package genai provides the generative-AI capability layer: uniform
// provider wrappers and the primary/fallback router.
//
// Every provider call is a total function: whatever the backend does, the
// outcome comes back as a models.ProviderResult and never as a panic or an
// escaping error.
package genai

import (
	"context"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
)

// DefaultCallTimeout bounds every provider call. A timed-out provider is
// treated exactly like an unavailable one.
const DefaultCallTimeout = 30 * time.Second

// Provider is the uniform capability wrapper around one generative/vision
// backend.
type Provider interface {
	// Name identifies the provider in results and status maps.
	Name() string

	// IsAvailable reports whether the provider is configured and reachable
	// enough to attempt a call.
	IsAvailable(ctx context.Context) bool

	// GenerateText produces a text completion for the prompt.
	GenerateText(ctx context.Context, prompt string) models.ProviderResult

	// GenerateVision produces a text completion for an image plus an
	// instruction prompt. Consumed by the payment receipt pipeline.
	GenerateVision(ctx context.Context, image []byte, mimeType string, prompt string) models.ProviderResult
}

// failure builds the uniform failed result for a provider.
func failure(name, reason string) models.ProviderResult {
	return models.ProviderResult{Success: false, ErrorReason: reason, ProviderName: name}
}

// success builds the uniform successful result for a provider.
func success(name, text string) models.ProviderResult {
	return models.ProviderResult{Success: true, Text: text, ProviderName: name}
}

// callContext derives the bounded per-call context.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
