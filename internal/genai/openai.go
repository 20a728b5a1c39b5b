package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/conecta2tel/conectabot/internal/models"
)

// OpenAI model selection.
const (
	openAITextModel   = openai.ChatModelGPT4oMini
	openAIVisionModel = openai.ChatModelGPT4o
)

// chatService defines the minimal chat completion surface, for mocking.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type openAIChat struct {
	client openai.Client
}

func (c *openAIChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// OpenAIProvider wraps the OpenAI chat completion API for text and vision.
type OpenAIProvider struct {
	chat    chatService
	timeout time.Duration
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAITimeout overrides the per-call timeout.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(p *OpenAIProvider) { p.timeout = d }
}

// NewOpenAIProvider initializes the provider from the OPENAI_API_KEY
// environment variable.
func NewOpenAIProvider(opts ...OpenAIOption) (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	p := &OpenAIProvider{chat: &openAIChat{client: cli}, timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// IsAvailable implements Provider.
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return p.chat != nil
}

// GenerateText implements Provider.
func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string) models.ProviderResult {
	if p.chat == nil {
		return failure(p.Name(), "client not configured")
	}
	callCtx, cancel := callContext(ctx, p.timeout)
	defer cancel()

	resp, err := p.chat.Create(callCtx, openai.ChatCompletionNewParams{
		Model: openAITextModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		slog.Error("OpenAIProvider GenerateText failed", "error", err)
		return failure(p.Name(), err.Error())
	}
	if len(resp.Choices) == 0 {
		return failure(p.Name(), "no choices returned")
	}
	return success(p.Name(), resp.Choices[0].Message.Content)
}

// GenerateVision implements Provider. The image travels as a base64 data URL
// content part alongside the instruction text.
func (p *OpenAIProvider) GenerateVision(ctx context.Context, image []byte, mimeType string, prompt string) models.ProviderResult {
	if p.chat == nil {
		return failure(p.Name(), "client not configured")
	}
	if len(image) == 0 {
		return failure(p.Name(), "empty image")
	}
	callCtx, cancel := callContext(ctx, p.timeout)
	defer cancel()

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	resp, err := p.chat.Create(callCtx, openai.ChatCompletionNewParams{
		Model: openAIVisionModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		slog.Error("OpenAIProvider GenerateVision failed", "error", err)
		return failure(p.Name(), err.Error())
	}
	if len(resp.Choices) == 0 {
		return failure(p.Name(), "no choices returned")
	}
	return success(p.Name(), resp.Choices[0].Message.Content)
}
