package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/session"
	"github.com/conecta2tel/conectabot/internal/ticket"
)

// PlanDirectory lists the plans offered for upgrades. Satisfied by
// directory.Client.
type PlanDirectory interface {
	GetPlans(ctx context.Context) ([]models.Plan, error)
}

const (
	upgradeStepSelection = "selection"
	upgradeStepConfirm   = "confirm"

	upgradeOptionPrefix = "upgrade_"
)

var upgradeConfirmOptions = []models.MenuOption{
	{ID: "confirmar_upgrade", Title: "✅ Confirmar"},
	{ID: "cancelar", Title: "❌ Cancelar"},
}

// planUpgradeOptions builds the selection menu options in listing order, so
// a numbered reply over a text-only transport picks the same plan the list
// showed at that position.
func planUpgradeOptions(plans []models.Plan) []models.MenuOption {
	options := make([]models.MenuOption, 0, len(plans))
	for _, plan := range plans {
		options = append(options, models.MenuOption{
			ID:    upgradeOptionPrefix + plan.ID,
			Title: "📈 " + plan.Name,
		})
	}
	return options
}

// PlanUpgradeFlow is the upgrade wizard: list available plans, take a
// selection, confirm, and open a commercial ticket for the change.
type PlanUpgradeFlow struct {
	messenger Messenger
	directory PlanDirectory
	tickets   ticket.Service
}

func NewPlanUpgradeFlow(messenger Messenger, directory PlanDirectory, tickets ticket.Service) *PlanUpgradeFlow {
	return &PlanUpgradeFlow{messenger: messenger, directory: directory, tickets: tickets}
}

func (f *PlanUpgradeFlow) Name() string { return planUpgradeName }

func (f *PlanUpgradeFlow) CanHandle(_ context.Context, user *models.User, msg *models.Message, state *session.State) bool {
	if !user.Authenticated {
		return false
	}
	return state.ActiveFlow == planUpgradeName || commands.Is(msg.Body(), commands.CmdPlanUpgrade)
}

func (f *PlanUpgradeFlow) Handle(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	if state.ActiveFlow != planUpgradeName {
		return f.start(ctx, user, state)
	}

	switch state.Step(planUpgradeName) {
	case upgradeStepSelection:
		return f.handleSelection(ctx, user, msg, state)
	case upgradeStepConfirm:
		return f.handleConfirmation(ctx, user, msg, state)
	default:
		return f.start(ctx, user, state)
	}
}

func (f *PlanUpgradeFlow) start(ctx context.Context, user *models.User, state *session.State) (Outcome, error) {
	plans, err := f.directory.GetPlans(ctx)
	if err != nil || len(plans) == 0 {
		if err != nil {
			slog.Error("PlanUpgradeFlow Handle plan listing failed", "phone", user.PhoneNumber, "error", err)
		}
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ No pude consultar los planes disponibles en este momento.\n\n"+
				"Por favor, contacta a nuestro equipo comercial para más información.")
	}
	if len(plans) > 3 {
		plans = plans[:3]
	}

	var body strings.Builder
	body.WriteString("⬆️ **Opciones de Upgrade Disponibles**\n\n**Planes disponibles:**\n\n")
	for i, plan := range plans {
		fmt.Fprintf(&body, "%d. **%s**\n", i+1, plan.Name)
		if plan.Speed != "" {
			fmt.Fprintf(&body, "   🚀 Velocidad: %s\n", plan.Speed)
		}
		fmt.Fprintf(&body, "   💰 Precio: $%s\n", formatMoney(plan.Price))
		if plan.Description != "" {
			fmt.Fprintf(&body, "   📝 %s\n", plan.Description)
		}
		body.WriteString("\n")
	}
	body.WriteString("🎁 **Beneficios del upgrade:**\n" +
		"• Instalación gratuita\n" +
		"• Sin permanencia adicional\n" +
		"• Soporte técnico prioritario\n\n" +
		"Selecciona el plan que más te convenga:")

	if err := f.messenger.SendText(ctx, user.PhoneNumber, body.String()); err != nil {
		return OutcomeHandled, err
	}
	if err := f.messenger.SendMenu(ctx, user.PhoneNumber, models.Menu{
		Title:   "📈 Seleccionar Plan",
		Body:    "¿Cuál plan te interesa?",
		Options: planUpgradeOptions(plans),
	}); err != nil {
		return OutcomeHandled, err
	}

	state.ActiveFlow = planUpgradeName
	state.SetStep(planUpgradeName, upgradeStepSelection)
	return OutcomeHandled, nil
}

func (f *PlanUpgradeFlow) handleSelection(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	body := msg.Body()
	if commands.Is(body, commands.CmdCancel) {
		return f.cancel(ctx, user, state)
	}
	plans, err := f.directory.GetPlans(ctx)
	if err != nil {
		slog.Error("PlanUpgradeFlow Handle plan listing failed", "phone", user.PhoneNumber, "error", err)
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ Error procesando la solicitud de upgrade. Contacta a nuestro equipo comercial.")
	}
	if len(plans) > 3 {
		plans = plans[:3]
	}
	choice := resolveMenuReply(planUpgradeOptions(plans), body)
	if !strings.HasPrefix(choice, upgradeOptionPrefix) {
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❓ Por favor, selecciona una de las opciones de upgrade del menú.")
	}

	planID := strings.TrimPrefix(choice, upgradeOptionPrefix)
	var selected *models.Plan
	for i := range plans {
		if plans[i].ID == planID {
			selected = &plans[i]
			break
		}
	}
	if selected == nil {
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ Plan no encontrado. Por favor, intenta nuevamente.")
	}

	state.Set(planUpgradeName, "plan_id", selected.ID)
	state.Set(planUpgradeName, "plan_name", selected.Name)
	state.Set(planUpgradeName, "plan_price", formatMoney(selected.Price))
	state.SetStep(planUpgradeName, upgradeStepConfirm)

	return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, models.Menu{
		Title: "✅ Confirmar Upgrade",
		Body: fmt.Sprintf("📋 **Resumen del Upgrade**\n\n"+
			"📈 Plan seleccionado: %s\n"+
			"💰 Precio: $%s\n\n"+
			"¿Deseas solicitar este cambio de plan?", selected.Name, formatMoney(selected.Price)),
		Options: upgradeConfirmOptions,
	})
}

func (f *PlanUpgradeFlow) handleConfirmation(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	body := msg.Body()
	if commands.Is(body, commands.CmdCancel) {
		return f.cancel(ctx, user, state)
	}
	switch resolveMenuReply(upgradeConfirmOptions, body) {
	case "cancelar":
		return f.cancel(ctx, user, state)
	case "confirmar_upgrade":
	default:
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❓ No entendí tu respuesta. Por favor, selecciona una de las opciones del menú.")
	}

	planName := state.Get(planUpgradeName, "plan_name")
	planPrice := state.Get(planUpgradeName, "plan_price")
	req := models.TicketRequest{
		CustomerID: user.CustomerID,
		Category:   "mejora_plan",
		Description: fmt.Sprintf("**SOLICITUD DE CAMBIO DE PLAN**\n\n"+
			"**Cliente:** %s\n"+
			"**Plan solicitado:** %s\n"+
			"**Precio:** $%s\n"+
			"**Fecha solicitud:** %s", user.PhoneNumber, planName, planPrice,
			time.Now().Format("02/01/2006 15:04")),
		Priority: "media",
		Source:   "whatsapp",
		Metadata: map[string]interface{}{
			"plan_id":   state.Get(planUpgradeName, "plan_id"),
			"plan_name": planName,
		},
	}

	ticketID, err := f.tickets.CreateTicket(ctx, req)
	if err != nil {
		slog.Error("PlanUpgradeFlow Handle ticket creation failed", "phone", user.PhoneNumber, "error", err)
		state.ClearNamespace(planUpgradeName)
		state.ActiveFlow = ""
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ Error procesando el upgrade. Por favor, contacta a nuestro equipo comercial.")
	}

	state.ClearNamespace(planUpgradeName)
	state.ActiveFlow = ""
	slog.Info("PlanUpgradeFlow Handle upgrade requested", "phone", user.PhoneNumber, "ticket_id", ticketID, "plan", planName)
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		fmt.Sprintf("🎉 **¡Solicitud de Upgrade Registrada!**\n\n"+
			"🔍 **Ticket ID:** %s\n"+
			"📈 **Plan solicitado:** %s\n\n"+
			"👨‍💻 Nuestro equipo comercial te contactará para coordinar el cambio.\n"+
			"⏱️ Tiempo estimado de respuesta: 24 horas.", ticketID, planName))
}

func (f *PlanUpgradeFlow) cancel(ctx context.Context, user *models.User, state *session.State) (Outcome, error) {
	state.ClearNamespace(planUpgradeName)
	state.ActiveFlow = ""
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		"❌ Solicitud de upgrade cancelada.\n\nEscribe \"menu\" para ver las opciones disponibles.")
}
