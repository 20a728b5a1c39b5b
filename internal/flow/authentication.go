package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/security"
	"github.com/conecta2tel/conectabot/internal/session"
)

// Directory is the customer-lookup boundary the authentication flow needs.
// Satisfied by directory.Client.
type Directory interface {
	Authenticate(ctx context.Context, identifier string) (*models.CustomerProfile, error)
}

var documentPattern = regexp.MustCompile(`^\d{1,12}$`)

const documentFormatText = "❌ El formato debe contener entre 1 y 12 dígitos numéricos.\n\n" + authPromptText

// AuthenticationFlow resolves a cédula or service id against the customer
// directory, enforces the lockout policy and opens a security session.
// Active customers get the 2-hour session and the full menu; suspended
// customers get a restricted 30-minute session and the limited menu.
type AuthenticationFlow struct {
	messenger Messenger
	gate      *security.Gate
	directory Directory
}

func NewAuthenticationFlow(messenger Messenger, gate *security.Gate, directory Directory) *AuthenticationFlow {
	return &AuthenticationFlow{messenger: messenger, gate: gate, directory: directory}
}

func (f *AuthenticationFlow) Name() string { return authenticationName }

func (f *AuthenticationFlow) CanHandle(_ context.Context, user *models.User, msg *models.Message, state *session.State) bool {
	if user.Authenticated || !user.AcceptedPolicy {
		return false
	}
	if user.AwaitingDocument {
		return true
	}
	return state.Get(initialSelectionName, selectedServiceKey) == "soporte" ||
		commands.Is(msg.Body(), commands.CmdSupport)
}

func (f *AuthenticationFlow) Handle(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	if blocked, minutes := f.gate.IsBlocked(user.PhoneNumber); blocked {
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			fmt.Sprintf("🔒 Tu cuenta está bloqueada temporalmente por seguridad.\n\n"+
				"Podrás intentar nuevamente en %d minutos.\n\n"+
				"Si necesitas ayuda inmediata, contacta a nuestro equipo de soporte.", minutes))
	}

	body := msg.Body()
	if !documentPattern.MatchString(body) {
		user.AwaitingDocument = true
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber, documentFormatText)
	}
	user.AwaitingDocument = false

	profile, err := f.directory.Authenticate(ctx, body)
	switch {
	case errors.Is(err, models.ErrCustomerNotFound):
		return f.handleFailed(ctx, user)
	case err != nil:
		slog.Error("AuthenticationFlow Handle directory lookup failed", "phone", user.PhoneNumber, "error", err)
		f.gate.RecordAuthAttempt(user.PhoneNumber, false)
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"Error en la autenticación. Intenta nuevamente en unos momentos.")
	case profile.Inactive:
		return f.handleInactive(ctx, user, profile)
	default:
		return f.handleSuccess(ctx, user, profile)
	}
}

func (f *AuthenticationFlow) handleSuccess(ctx context.Context, user *models.User, profile *models.CustomerProfile) (Outcome, error) {
	f.gate.RecordAuthAttempt(user.PhoneNumber, true)

	user.Authenticated = true
	user.CustomerID = profile.ID
	sessionID, expiresAt := f.gate.CreateSession(user.PhoneNumber, false)
	user.SessionID = sessionID
	user.SessionExpiresAt = &expiresAt
	if err := sealProfile(f.gate, user, profile); err != nil {
		slog.Error("AuthenticationFlow Handle profile sealing failed", "phone", user.PhoneNumber, "error", err)
	}
	slog.Info("AuthenticationFlow Handle authenticated", "phone", user.PhoneNumber, "customer_id", profile.ID)

	if err := f.messenger.SendText(ctx, user.PhoneNumber,
		fmt.Sprintf("✅ ¡Hola %s!\n\n", displayName(profile.Name))+
			"Autenticación exitosa. Tu sesión estará activa por 2 horas.\n\n"+
			"🔒 Sesión segura iniciada\n"+
			"⏰ Expiración automática por seguridad"); err != nil {
		return OutcomeHandled, err
	}
	return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, mainMenu())
}

func (f *AuthenticationFlow) handleInactive(ctx context.Context, user *models.User, profile *models.CustomerProfile) (Outcome, error) {
	f.gate.RecordAuthAttempt(user.PhoneNumber, true)

	user.Authenticated = true
	user.CustomerID = profile.ID
	sessionID, expiresAt := f.gate.CreateSession(user.PhoneNumber, true)
	user.SessionID = sessionID
	user.SessionExpiresAt = &expiresAt
	if err := sealProfile(f.gate, user, profile); err != nil {
		slog.Error("AuthenticationFlow Handle profile sealing failed", "phone", user.PhoneNumber, "error", err)
	}
	slog.Info("AuthenticationFlow Handle authenticated restricted", "phone", user.PhoneNumber, "customer_id", profile.ID, "status", profile.Status)

	if err := f.messenger.SendText(ctx, user.PhoneNumber,
		fmt.Sprintf("⚠️ Hola %s,\n\n", displayName(profile.Name))+
			fmt.Sprintf("Hemos identificado que tu servicio se encuentra actualmente inactivo (Estado: %s).\n\n", profile.Status)+
			"Para reactivar tu servicio o resolver cualquier inconveniente con tu cuenta, por favor:\n\n"+
			"1️⃣ Contacta a nuestro equipo de atención al cliente\n"+
			"2️⃣ Verifica si tienes pagos pendientes\n"+
			"3️⃣ Consulta el estado de tu facturación\n\n"+
			"¿Deseas que te ayude a revisar tu estado de cuenta?"); err != nil {
		return OutcomeHandled, err
	}
	return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, restrictedMenu())
}

func (f *AuthenticationFlow) handleFailed(ctx context.Context, user *models.User) (Outcome, error) {
	canRetry := f.gate.RecordAuthAttempt(user.PhoneNumber, false)
	if !canRetry {
		slog.Warn("AuthenticationFlow Handle identity locked", "phone", user.PhoneNumber)
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"🔒 Demasiados intentos fallidos de autenticación.\n\n"+
				"Tu cuenta ha sido bloqueada temporalmente por 15 minutos por seguridad.\n\n"+
				"Si necesitas ayuda inmediata, contacta a nuestro equipo de soporte.")
	}

	remaining := f.gate.RemainingAttempts(user.PhoneNumber)
	user.AwaitingDocument = true
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		"❌ No pude encontrar tu información con esos datos.\n\n"+
			"Verifica que hayas ingresado correctamente:\n"+
			"• Tu número de cédula/documento de identidad, O\n"+
			"• Tu ID de servicio (número de cliente)\n\n"+
			fmt.Sprintf("⚠️ Intentos restantes: %d\n\n", remaining)+
			"Si continúas teniendo problemas, escribe \"ayuda\" para contactar a un agente.")
}
