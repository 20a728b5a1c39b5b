package flow

import (
	"context"
	"log/slog"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/security"
	"github.com/conecta2tel/conectabot/internal/session"
)

const helpText = "ℹ️ **¿En qué puedo ayudarte?**\n\n" +
	"Estos son los comandos que entiendo:\n\n" +
	"• \"menu\" - Ver el menú principal\n" +
	"• \"deuda\" - Consultar tu saldo pendiente\n" +
	"• \"facturas\" - Ver tus facturas\n" +
	"• \"puntos de pago\" - Medios y puntos de pago\n" +
	"• \"comprobante\" - Enviar comprobante de pago\n" +
	"• \"ticket\" - Reportar un problema técnico\n" +
	"• \"mejorar plan\" - Opciones de upgrade\n" +
	"• \"agente\" - Hablar con una persona\n" +
	"• \"salir\" - Cerrar tu sesión\n\n" +
	"También puedes escribirme tu pregunta y te responderé."

// MainMenuFlow answers the navigation commands for authenticated users.
// It recognizes the ticket command but only does the bookkeeping: it marks
// the ticket flow as active and defers, so the specialized flow later in
// the registry owns the wizard from its first message.
type MainMenuFlow struct {
	messenger Messenger
	gate      *security.Gate
}

func NewMainMenuFlow(messenger Messenger, gate *security.Gate) *MainMenuFlow {
	return &MainMenuFlow{messenger: messenger, gate: gate}
}

func (f *MainMenuFlow) Name() string { return mainMenuName }

func (f *MainMenuFlow) CanHandle(_ context.Context, user *models.User, msg *models.Message, state *session.State) bool {
	if !user.Authenticated || state.ActiveFlow != "" {
		return false
	}
	cmd, ok := commands.Match(msg.Body())
	if !ok {
		return false
	}
	switch cmd {
	case commands.CmdMenu, commands.CmdHelp, commands.CmdTicket:
		return true
	}
	return false
}

func (f *MainMenuFlow) Handle(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	cmd, _ := commands.Match(msg.Body())
	switch cmd {
	case commands.CmdMenu:
		menu := mainMenu()
		if f.gate.ValidateSession(user.PhoneNumber).Restricted {
			menu = restrictedMenu()
		}
		return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, menu)
	case commands.CmdHelp:
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber, helpText)
	case commands.CmdTicket:
		state.ActiveFlow = ticketCreationName
		slog.Debug("MainMenuFlow Handle deferring to ticket flow", "phone", user.PhoneNumber)
		return OutcomeDeferred, nil
	}
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber, helpText)
}
