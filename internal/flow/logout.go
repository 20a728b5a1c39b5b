package flow

import (
	"context"
	"log/slog"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/security"
	"github.com/conecta2tel/conectabot/internal/session"
)

// LogoutFlow closes the security session and wipes the user record and the
// whole conversation state synchronously, before the goodbye is even read.
type LogoutFlow struct {
	messenger Messenger
	gate      *security.Gate
	sessions  *session.Store
}

func NewLogoutFlow(messenger Messenger, gate *security.Gate, sessions *session.Store) *LogoutFlow {
	return &LogoutFlow{messenger: messenger, gate: gate, sessions: sessions}
}

func (f *LogoutFlow) Name() string { return logoutName }

func (f *LogoutFlow) CanHandle(_ context.Context, user *models.User, msg *models.Message, _ *session.State) bool {
	return user.Authenticated && commands.Is(msg.Body(), commands.CmdLogout)
}

func (f *LogoutFlow) Handle(ctx context.Context, user *models.User, _ *models.Message, state *session.State) (Outcome, error) {
	f.gate.InvalidateSession(user.PhoneNumber)
	f.sessions.Clear(user.PhoneNumber)

	user.Authenticated = false
	user.AcceptedPolicy = false
	user.AwaitingDocument = false
	user.CustomerID = ""
	user.SessionID = ""
	user.SessionExpiresAt = nil
	user.EncryptedProfile = ""
	state.ActiveFlow = ""

	slog.Info("LogoutFlow Handle session closed", "phone", user.PhoneNumber)
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		"👋 **¡Sesión Finalizada!**\n\n"+
			"Has cerrado tu sesión correctamente.\n\n"+
			"🔒 Por seguridad, toda tu información ha sido eliminada de nuestra memoria temporal.\n\n"+
			"💬 Escribe \"Soporte\" cuando quieras volver a usar nuestros servicios.")
}
