package genai

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/conecta2tel/conectabot/internal/models"
)

// defaultResponses are the user-visible fallbacks when both providers fail.
// One is chosen pseudo-randomly to avoid repeating the same apology.
var defaultResponses = []string{
	"No pude procesar tu consulta en este momento. Escribe \"menu\" para ver las opciones disponibles o \"agente\" para hablar con soporte.",
	"Disculpa, tengo dificultades técnicas. Escribe \"menu\" para ver las opciones o \"agente\" para contactar a un representante.",
	"Lo siento, no puedo ayudarte con eso ahora. Escribe \"menu\" para ver qué puedo hacer o \"agente\" para hablar con una persona.",
	"Tengo problemas para procesar tu mensaje. Escribe \"menu\" para ver las opciones disponibles o \"agente\" para asistencia humana.",
}

// Router selects between a primary and a fallback provider. All router
// methods are total: a provider fault is captured in the result, never
// propagated.
type Router struct {
	primary  Provider
	fallback Provider
	pick     func(n int) int
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithPicker injects the canned-response selector for tests.
func WithPicker(pick func(n int) int) RouterOption {
	return func(r *Router) { r.pick = pick }
}

// NewRouter creates a Router. fallback may be nil when only one provider is
// configured.
func NewRouter(primary, fallback Provider, opts ...RouterOption) *Router {
	r := &Router{primary: primary, fallback: fallback, pick: rand.IntN}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// tryText attempts one provider's availability check and text generation.
func (r *Router) tryText(ctx context.Context, p Provider, prompt string) models.ProviderResult {
	if p == nil {
		return models.ProviderResult{Success: false, ErrorReason: "provider not configured"}
	}
	if !p.IsAvailable(ctx) {
		return failure(p.Name(), "provider not available")
	}
	return p.GenerateText(ctx, prompt)
}

// RespondText returns a reply for the prompt, trying primary then fallback,
// and a canned default when both fail. It never returns an error.
func (r *Router) RespondText(ctx context.Context, prompt string) string {
	res := r.tryText(ctx, r.primary, prompt)
	if res.Success {
		slog.Debug("Router text response from primary", "provider", res.ProviderName)
		return res.Text
	}
	slog.Warn("Router primary provider failed", "provider", res.ProviderName, "reason", res.ErrorReason)

	res = r.tryText(ctx, r.fallback, prompt)
	if res.Success {
		slog.Debug("Router text response from fallback", "provider", res.ProviderName)
		return res.Text
	}
	slog.Error("Router fallback provider failed", "provider", res.ProviderName, "reason", res.ErrorReason)

	return defaultResponses[r.pick(len(defaultResponses))]
}

// RespondVision returns the vision extraction result, trying primary then
// fallback. Unlike RespondText there is no canned default: the caller (the
// receipt pipeline) fails closed on an unsuccessful result.
func (r *Router) RespondVision(ctx context.Context, image []byte, mimeType string, prompt string) models.ProviderResult {
	try := func(p Provider) models.ProviderResult {
		if p == nil {
			return models.ProviderResult{Success: false, ErrorReason: "provider not configured"}
		}
		if !p.IsAvailable(ctx) {
			return failure(p.Name(), "provider not available")
		}
		return p.GenerateVision(ctx, image, mimeType, prompt)
	}

	res := try(r.primary)
	if res.Success {
		return res
	}
	slog.Warn("Router primary vision failed", "provider", res.ProviderName, "reason", res.ErrorReason)

	res = try(r.fallback)
	if !res.Success {
		slog.Error("Router fallback vision failed", "provider", res.ProviderName, "reason", res.ErrorReason)
	}
	return res
}

// ServiceStatus reports availability per provider name.
func (r *Router) ServiceStatus(ctx context.Context) map[string]bool {
	status := make(map[string]bool)
	for _, p := range []Provider{r.primary, r.fallback} {
		if p != nil {
			status[p.Name()] = p.IsAvailable(ctx)
		}
	}
	return status
}
