package flow

import (
	"context"
	"log/slog"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/session"
)

const authPromptText = "Puedes ingresar:\n" +
	"• Tu número de cédula/documento de identidad\n" +
	"• Tu ID de servicio (número de cliente)\n\n" +
	"Por favor, ingresa solo los números (sin espacios ni guiones):"

// PrivacyPolicyFlow gates every service behind data-treatment consent.
// It claims messages once a service was selected and the policy is still
// pending; anything that is not a clear accept/reject re-shows the policy.
type PrivacyPolicyFlow struct {
	messenger Messenger
}

func NewPrivacyPolicyFlow(messenger Messenger) *PrivacyPolicyFlow {
	return &PrivacyPolicyFlow{messenger: messenger}
}

func (f *PrivacyPolicyFlow) Name() string { return privacyPolicyName }

func (f *PrivacyPolicyFlow) CanHandle(_ context.Context, user *models.User, msg *models.Message, state *session.State) bool {
	if user.AcceptedPolicy {
		return false
	}
	return state.Get(initialSelectionName, selectedServiceKey) != ""
}

func (f *PrivacyPolicyFlow) Handle(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	body := msg.Body()
	switch {
	case commands.Is(body, commands.CmdAcceptPolicy):
		return f.accept(ctx, user, state)
	case commands.Is(body, commands.CmdRejectPolicy):
		return f.reject(ctx, user)
	default:
		return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, privacyPolicyMenu())
	}
}

func (f *PrivacyPolicyFlow) accept(ctx context.Context, user *models.User, state *session.State) (Outcome, error) {
	user.AcceptedPolicy = true
	slog.Info("PrivacyPolicyFlow Handle policy accepted", "phone", user.PhoneNumber)

	if state.Get(initialSelectionName, selectedServiceKey) == "soporte" {
		user.AwaitingDocument = true
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"✅ Gracias por aceptar nuestras políticas.\n\n"+
				"Ahora necesito autenticarte para brindarte soporte personalizado.\n\n"+
				authPromptText)
	}

	// Sales: hand the conversation to the sales assistant.
	if err := f.messenger.SendText(ctx, user.PhoneNumber,
		"✅ Gracias por aceptar nuestras políticas.\n\n"+
			"🛒 ¡Perfecto! Te conectaré con nuestro departamento de ventas..."); err != nil {
		return OutcomeHandled, err
	}
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		"¿En qué producto o servicio estás interesado? Nuestro equipo de ventas está listo para ayudarte.")
}

func (f *PrivacyPolicyFlow) reject(ctx context.Context, user *models.User) (Outcome, error) {
	slog.Info("PrivacyPolicyFlow Handle policy rejected", "phone", user.PhoneNumber)
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		"🙏 Gracias por tu tiempo.\n\n"+
			"Respetamos tu decisión de no autorizar el tratamiento de tus datos personales.\n\n"+
			"Sin esta autorización no podemos brindarte nuestros servicios de soporte personalizado a través de este canal.\n\n"+
			"Si cambias de opinión en el futuro, puedes contactarnos nuevamente.\n\n"+
			"¡Que tengas un excelente día! 😊")
}
