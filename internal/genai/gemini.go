package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	gogenai "google.golang.org/genai"

	"github.com/conecta2tel/conectabot/internal/models"
)

// geminiModel is the Gemini model used for both text and vision calls.
const geminiModel = "gemini-2.0-flash"

// geminiService defines the minimal content generation surface, for mocking.
type geminiService interface {
	GenerateContent(ctx context.Context, model string, contents []*gogenai.Content) (string, error)
}

type geminiClient struct {
	client *gogenai.Client
}

func (c *geminiClient) GenerateContent(ctx context.Context, model string, contents []*gogenai.Content) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

// GeminiProvider wraps the Google Gemini API for text and vision.
type GeminiProvider struct {
	svc     geminiService
	timeout time.Duration
}

// GeminiOption configures a GeminiProvider.
type GeminiOption func(*GeminiProvider)

// WithGeminiTimeout overrides the per-call timeout.
func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(p *GeminiProvider) { p.timeout = d }
}

// NewGeminiProvider initializes the provider from the GEMINI_API_KEY
// environment variable.
func NewGeminiProvider(ctx context.Context, opts ...GeminiOption) (*GeminiProvider, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	client, err := gogenai.NewClient(ctx, &gogenai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	p := &GeminiProvider{svc: &geminiClient{client: client}, timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// IsAvailable implements Provider.
func (p *GeminiProvider) IsAvailable(ctx context.Context) bool {
	return p.svc != nil
}

// GenerateText implements Provider.
func (p *GeminiProvider) GenerateText(ctx context.Context, prompt string) models.ProviderResult {
	if p.svc == nil {
		return failure(p.Name(), "client not configured")
	}
	callCtx, cancel := callContext(ctx, p.timeout)
	defer cancel()

	text, err := p.svc.GenerateContent(callCtx, geminiModel, gogenai.Text(prompt))
	if err != nil {
		slog.Error("GeminiProvider GenerateText failed", "error", err)
		return failure(p.Name(), err.Error())
	}
	return success(p.Name(), text)
}

// GenerateVision implements Provider.
func (p *GeminiProvider) GenerateVision(ctx context.Context, image []byte, mimeType string, prompt string) models.ProviderResult {
	if p.svc == nil {
		return failure(p.Name(), "client not configured")
	}
	if len(image) == 0 {
		return failure(p.Name(), "empty image")
	}
	callCtx, cancel := callContext(ctx, p.timeout)
	defer cancel()

	parts := []*gogenai.Part{
		gogenai.NewPartFromBytes(image, mimeType),
		gogenai.NewPartFromText(prompt),
	}
	contents := []*gogenai.Content{gogenai.NewContentFromParts(parts, gogenai.RoleUser)}
	text, err := p.svc.GenerateContent(callCtx, geminiModel, contents)
	if err != nil {
		slog.Error("GeminiProvider GenerateVision failed", "error", err)
		return failure(p.Name(), err.Error())
	}
	return success(p.Name(), text)
}
