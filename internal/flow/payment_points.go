package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/payment"
	"github.com/conecta2tel/conectabot/internal/session"
)

// paymentPoints are the physical locations that take cash payments.
var paymentPoints = []models.PaymentPoint{
	{
		Name:    "Oficina Principal Conecta2",
		Address: "Calle 10 #5-23, Centro",
		Hours:   "Lun-Vie 8:00-18:00, Sáb 8:00-12:00",
		Phone:   "3242156679",
	},
	{
		Name:    "Corresponsal Bancolombia",
		Address: "Cualquier corresponsal del país",
		Hours:   "Según horario del establecimiento",
	},
}

// PaymentPointsFlow answers the puntos_pago command with the electronic
// payment means, the authorized accounts and the physical payment points.
// It needs no authentication: prospects also ask where to pay.
type PaymentPointsFlow struct {
	messenger Messenger
}

func NewPaymentPointsFlow(messenger Messenger) *PaymentPointsFlow {
	return &PaymentPointsFlow{messenger: messenger}
}

func (f *PaymentPointsFlow) Name() string { return paymentPointsName }

func (f *PaymentPointsFlow) CanHandle(_ context.Context, _ *models.User, msg *models.Message, _ *session.State) bool {
	return commands.Is(msg.Body(), commands.CmdPaymentPoints)
}

func (f *PaymentPointsFlow) Handle(ctx context.Context, user *models.User, _ *models.Message, _ *session.State) (Outcome, error) {
	var b strings.Builder
	b.WriteString("💳 *MEDIOS DE PAGO ELECTRÓNICOS*\n\n")
	b.WriteString(payment.AuthorizedAccountsInfo())
	b.WriteString("\n\n📷 *VALIDACIÓN DE PAGO:*\n")
	b.WriteString("Enviar foto del comprobante para validar el pago\n")
	b.WriteString("**WhatsApp:** 3242156679\n\n")
	b.WriteString("📍 *PUNTOS DE PAGO PRESENCIALES:*\n\n")
	for _, p := range paymentPoints {
		fmt.Fprintf(&b, "🏢 *%s*\n• Dirección: %s\n• Horario: %s\n", p.Name, p.Address, p.Hours)
		if p.Phone != "" {
			fmt.Fprintf(&b, "• Teléfono: %s\n", p.Phone)
		}
		b.WriteString("\n")
	}
	b.WriteString("⚠️ *IMPORTANTE:*\n**RECONEXIÓN DE $7.000 DESPUÉS DEL DÍA 15**\n\n")
	b.WriteString("O mediante: https://clientes.portalinternet.app/saldo/conecta2tel/")

	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber, b.String())
}
