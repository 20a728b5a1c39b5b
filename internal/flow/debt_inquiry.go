package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/session"
)

// DebtDirectory is the billing-lookup boundary for debt and invoice
// inquiries. Satisfied by directory.Client.
type DebtDirectory interface {
	GetDebt(ctx context.Context, customerID string) (*models.DebtInfo, error)
}

// DebtInquiryFlow answers the deuda/facturas commands with the customer's
// outstanding balance, pending invoices and next due date.
type DebtInquiryFlow struct {
	messenger Messenger
	directory DebtDirectory
}

func NewDebtInquiryFlow(messenger Messenger, directory DebtDirectory) *DebtInquiryFlow {
	return &DebtInquiryFlow{messenger: messenger, directory: directory}
}

func (f *DebtInquiryFlow) Name() string { return debtInquiryName }

func (f *DebtInquiryFlow) CanHandle(_ context.Context, user *models.User, msg *models.Message, _ *session.State) bool {
	if !user.Authenticated {
		return false
	}
	body := msg.Body()
	return commands.Is(body, commands.CmdDebt) || commands.Is(body, commands.CmdInvoices)
}

func (f *DebtInquiryFlow) Handle(ctx context.Context, user *models.User, _ *models.Message, _ *session.State) (Outcome, error) {
	debt, err := f.directory.GetDebt(ctx, user.CustomerID)
	if err != nil {
		slog.Error("DebtInquiryFlow Handle lookup failed", "phone", user.PhoneNumber, "customer_id", user.CustomerID, "error", err)
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ Lo siento, no pude obtener la información de tu deuda en este momento.\n\n"+
				"Por favor, intenta nuevamente más tarde o contacta a nuestro servicio al cliente.")
	}

	if debt.TotalAmount == 0 {
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"✅ *¡Felicitaciones!*\n\n"+
				"🎉 No tienes deudas pendientes\n"+
				"📊 Tu cuenta está al día")
	}

	dueDate := "No disponible"
	if !debt.NextDueDate.IsZero() {
		dueDate = debt.NextDueDate.Format("02/01/2006")
	}
	summary := "💰 *Resumen de Deuda*\n\n" +
		fmt.Sprintf("🔴 Total adeudado: $%s\n", formatMoney(debt.TotalAmount)) +
		fmt.Sprintf("📄 Facturas pendientes: %d\n", debt.PendingInvoices) +
		fmt.Sprintf("📅 Próxima fecha límite: %s\n\n", dueDate) +
		"💡 Paga antes del vencimiento para evitar suspensión del servicio."
	if err := f.messenger.SendText(ctx, user.PhoneNumber, summary); err != nil {
		return OutcomeHandled, err
	}

	return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, models.Menu{
		Body: "¿Te ayudo con algo más sobre tu deuda?",
		Options: []models.MenuOption{
			{ID: "puntos_pago", Title: "📍 Ver Formas de Pago"},
			{ID: "verificar_pago", Title: "💳 Validar Pago"},
			{ID: "menu", Title: "🏠 Menú Principal"},
		},
	})
}
