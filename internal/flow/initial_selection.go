package flow

import (
	"context"
	"log/slog"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/session"
)

// InitialSelectionFlow greets first contact and asks whether the user wants
// sales or is already a customer. The choice lands in this flow's namespace
// under selectedServiceKey for the privacy and authentication flows to read.
type InitialSelectionFlow struct {
	messenger Messenger
}

func NewInitialSelectionFlow(messenger Messenger) *InitialSelectionFlow {
	return &InitialSelectionFlow{messenger: messenger}
}

func (f *InitialSelectionFlow) Name() string { return initialSelectionName }

func (f *InitialSelectionFlow) CanHandle(_ context.Context, user *models.User, msg *models.Message, state *session.State) bool {
	if user.Authenticated {
		return false
	}
	if state.ActiveFlow == initialSelectionName {
		return true
	}
	// First contact: nothing chosen yet and no other flow engaged.
	return state.ActiveFlow == "" && !user.AcceptedPolicy &&
		state.Get(initialSelectionName, selectedServiceKey) == ""
}

func (f *InitialSelectionFlow) Handle(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	if state.ActiveFlow == initialSelectionName {
		return f.handleSelection(ctx, user, msg, state)
	}
	return f.showOptions(ctx, user, state)
}

func (f *InitialSelectionFlow) showOptions(ctx context.Context, user *models.User, state *session.State) (Outcome, error) {
	if err := f.messenger.SendMenu(ctx, user.PhoneNumber, welcomeMenu()); err != nil {
		return OutcomeHandled, err
	}
	state.ActiveFlow = initialSelectionName
	slog.Info("InitialSelectionFlow Handle welcome sent", "phone", user.PhoneNumber)
	return OutcomeHandled, nil
}

func (f *InitialSelectionFlow) handleSelection(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	body := msg.Body()
	switch {
	case commands.Is(body, commands.CmdSales) || commands.Mentions(body, commands.CmdSales):
		state.Set(initialSelectionName, selectedServiceKey, "ventas")
		state.ActiveFlow = ""
		slog.Info("InitialSelectionFlow Handle service selected", "phone", user.PhoneNumber, "service", "ventas")
		return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, privacyPolicyMenu())
	case commands.Is(body, commands.CmdSupport) || commands.Mentions(body, commands.CmdSupport):
		state.Set(initialSelectionName, selectedServiceKey, "soporte")
		state.ActiveFlow = ""
		slog.Info("InitialSelectionFlow Handle service selected", "phone", user.PhoneNumber, "service", "soporte")
		return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, privacyPolicyMenu())
	default:
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ Por favor, selecciona una opción válida:\n\n"+
				"🛒 Escribe \"Ventas\" para servicios de venta\n"+
				"🔧 Escribe \"Soporte\" para acceder como cliente")
	}
}
