package genai

import (
	"context"
	"strings"
	"testing"

	"github.com/conecta2tel/conectabot/internal/models"
)

// stubProvider is a configurable in-package Provider fake.
type stubProvider struct {
	name      string
	available bool
	text      models.ProviderResult
	vision    models.ProviderResult
	calls     int
}

func (s *stubProvider) Name() string                          { return s.name }
func (s *stubProvider) IsAvailable(ctx context.Context) bool  { return s.available }
func (s *stubProvider) GenerateText(ctx context.Context, prompt string) models.ProviderResult {
	s.calls++
	return s.text
}
func (s *stubProvider) GenerateVision(ctx context.Context, image []byte, mimeType string, prompt string) models.ProviderResult {
	s.calls++
	return s.vision
}

func TestRespondTextUsesPrimary(t *testing.T) {
	primary := &stubProvider{name: "openai", available: true, text: models.ProviderResult{Success: true, Text: "hola", ProviderName: "openai"}}
	fallback := &stubProvider{name: "gemini", available: true, text: models.ProviderResult{Success: true, Text: "fallback", ProviderName: "gemini"}}
	r := NewRouter(primary, fallback)

	got := r.RespondText(context.Background(), "Hola")
	if got != "hola" {
		t.Errorf("expected primary response, got %q", got)
	}
	if fallback.calls != 0 {
		t.Error("fallback must not be consulted when primary succeeds")
	}
}

func TestRespondTextFallsBack(t *testing.T) {
	primary := &stubProvider{name: "openai", available: false}
	fallback := &stubProvider{name: "gemini", available: true, text: models.ProviderResult{Success: true, Text: "desde gemini", ProviderName: "gemini"}}
	r := NewRouter(primary, fallback)

	got := r.RespondText(context.Background(), "Hola")
	if got != "desde gemini" {
		t.Errorf("expected fallback response, got %q", got)
	}
	if primary.calls != 0 {
		t.Error("unavailable primary must not receive a generate call")
	}
}

func TestRespondTextNeverThrows(t *testing.T) {
	primary := &stubProvider{name: "openai", available: false}
	fallback := &stubProvider{name: "gemini", available: false}
	r := NewRouter(primary, fallback, WithPicker(func(n int) int { return 1 }))

	got := r.RespondText(context.Background(), "Hola")
	if got == "" {
		t.Fatal("router must always return a non-empty string")
	}
	if !strings.Contains(got, "menu") && !strings.Contains(got, "agente") && !strings.Contains(got, "soporte") {
		t.Errorf("default response must point to menu/agente/soporte, got %q", got)
	}
}

func TestRespondTextNilProviders(t *testing.T) {
	r := NewRouter(nil, nil, WithPicker(func(n int) int { return 0 }))
	if got := r.RespondText(context.Background(), "Hola"); got == "" {
		t.Error("router with no providers must still answer")
	}
}

func TestRespondVisionFailsWithoutDefault(t *testing.T) {
	primary := &stubProvider{name: "openai", available: true, vision: models.ProviderResult{Success: false, ErrorReason: "boom", ProviderName: "openai"}}
	fallback := &stubProvider{name: "gemini", available: true, vision: models.ProviderResult{Success: false, ErrorReason: "boom", ProviderName: "gemini"}}
	r := NewRouter(primary, fallback)

	res := r.RespondVision(context.Background(), []byte{1}, "image/jpeg", "extrae")
	if res.Success {
		t.Error("expected unsuccessful result when both vision calls fail")
	}
	if res.ErrorReason == "" {
		t.Error("error reason must be populated, never a raw fault")
	}
}

func TestServiceStatus(t *testing.T) {
	primary := &stubProvider{name: "openai", available: true}
	fallback := &stubProvider{name: "gemini", available: false}
	r := NewRouter(primary, fallback)

	status := r.ServiceStatus(context.Background())
	if !status["openai"] || status["gemini"] {
		t.Errorf("unexpected status map: %v", status)
	}
}
