package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/media"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/payment"
	"github.com/conecta2tel/conectabot/internal/session"
	"github.com/conecta2tel/conectabot/internal/ticket"
)

const awaitingReceiptKey = "awaiting_receipt"

// ReceiptVerificationFlow runs the payment-receipt pipeline: download the
// attachment, extract the fields with the vision model, validate them
// against the authorized accounts and open a verification ticket. Invalid
// receipts keep the flow armed so the user can resubmit a corrected image.
type ReceiptVerificationFlow struct {
	messenger Messenger
	media     *media.Store
	verifier  *payment.Verifier
	tickets   ticket.Service
}

func NewReceiptVerificationFlow(messenger Messenger, mediaStore *media.Store, verifier *payment.Verifier, tickets ticket.Service) *ReceiptVerificationFlow {
	return &ReceiptVerificationFlow{messenger: messenger, media: mediaStore, verifier: verifier, tickets: tickets}
}

func (f *ReceiptVerificationFlow) Name() string { return receiptVerificationName }

func (f *ReceiptVerificationFlow) CanHandle(_ context.Context, user *models.User, msg *models.Message, state *session.State) bool {
	if msg.Type == models.MessageTypeImage {
		return true
	}
	if msg.HasAttachment() {
		return state.Get(receiptVerificationName, awaitingReceiptKey) == "1"
	}
	body := msg.Body()
	return commands.Is(body, commands.CmdReceipt) || commands.Mentions(body, commands.CmdReceipt)
}

func (f *ReceiptVerificationFlow) Handle(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	if msg.HasAttachment() {
		return f.handleReceiptImage(ctx, user, msg, state)
	}
	return f.handleInquiry(ctx, user, state)
}

// handleInquiry arms the flow and tells the user how to submit a receipt.
func (f *ReceiptVerificationFlow) handleInquiry(ctx context.Context, user *models.User, state *session.State) (Outcome, error) {
	state.Set(receiptVerificationName, awaitingReceiptKey, "1")
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		"💳 **ENVÍO DE COMPROBANTES DE PAGO**\n\n"+
			"Para validar tu pago, envía una foto clara de tu comprobante.\n\n"+
			"📋 El comprobante debe mostrar:\n"+
			"• Monto pagado\n"+
			"• Fecha del pago (mes actual)\n"+
			"• Cuenta de destino\n"+
			"• Banco o medio de pago\n\n"+
			payment.AuthorizedAccountsInfo())
}

func (f *ReceiptVerificationFlow) handleReceiptImage(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	if err := f.messenger.SendText(ctx, user.PhoneNumber,
		"📄 Recibido comprobante de pago. Analizando imagen...\n\nEsto puede tomar unos segundos."); err != nil {
		return OutcomeHandled, err
	}

	mediaID, err := extractMediaID(msg)
	if err != nil {
		slog.Warn("ReceiptVerificationFlow Handle no media reference", "phone", user.PhoneNumber, "message_id", msg.ID)
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ No pude identificar la imagen en tu mensaje.\n\n"+
				"Por favor envía el comprobante como una foto adjunta.")
	}

	att, err := f.media.Download(ctx, mediaID, user.PhoneNumber, models.PurposePaymentReceipt)
	switch {
	case errors.Is(err, models.ErrMediaExpired):
		slog.Warn("ReceiptVerificationFlow Handle media expired", "phone", user.PhoneNumber, "media_id", mediaID)
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"⏰ La imagen ya no está disponible para descarga.\n\n"+
				"Los enlaces de WhatsApp caducan rápidamente. Por favor, envía nuevamente el comprobante.")
	case err != nil:
		slog.Error("ReceiptVerificationFlow Handle download failed", "phone", user.PhoneNumber, "media_id", mediaID, "error", err)
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ No pude descargar la imagen. Por favor intenta nuevamente.")
	}

	result := f.verifier.Verify(ctx, att)
	if !result.IsValid {
		// Keep the flow armed: the user corrects the problem and resends.
		state.Set(receiptVerificationName, awaitingReceiptKey, "1")
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber, invalidReceiptText(result))
	}

	req := payment.BuildTicketRequest(user.PhoneNumber, user.CustomerID, result, att)
	ticketID, err := f.tickets.CreateTicket(ctx, req)
	if err != nil {
		slog.Error("ReceiptVerificationFlow Handle ticket creation failed", "phone", user.PhoneNumber, "error", err)
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ Tu comprobante es válido pero no pude registrar la verificación.\n\n"+
				"Por favor intenta nuevamente en unos minutos.")
	}

	state.ClearNamespace(receiptVerificationName)
	if state.ActiveFlow == receiptVerificationName {
		state.ActiveFlow = ""
	}
	slog.Info("ReceiptVerificationFlow Handle receipt accepted", "phone", user.PhoneNumber, "ticket_id", ticketID, "confidence", result.Confidence)
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber, validReceiptText(result, ticketID))
}

func validReceiptText(result *models.ReceiptValidation, ticketID string) string {
	amount := "No detectado"
	if result.Extracted.Amount != nil {
		amount = "$" + formatMoney(*result.Extracted.Amount)
	}
	date := "No detectada"
	if result.Extracted.Date != nil && *result.Extracted.Date != "" {
		date = *result.Extracted.Date
	}
	bank := "No detectado"
	if result.Extracted.Bank != nil && *result.Extracted.Bank != "" {
		bank = *result.Extracted.Bank
	}
	return "✅ **COMPROBANTE VÁLIDO**\n\n" +
		"🎯 **Detalles detectados:**\n" +
		fmt.Sprintf("💰 Monto: %s\n", amount) +
		fmt.Sprintf("📅 Fecha: %s\n", date) +
		fmt.Sprintf("🏦 Banco: %s\n", bank) +
		fmt.Sprintf("📊 Confianza: %d%%\n\n", int(result.Confidence*100+0.5)) +
		fmt.Sprintf("📋 **Ticket creado:** #%s\n", ticketID) +
		"⏱️ Tu pago será verificado en las próximas horas.\n\n" +
		"¡Gracias por tu pago! 🙏"
}

func invalidReceiptText(result *models.ReceiptValidation) string {
	return "❌ **COMPROBANTE NO VÁLIDO**\n\n" +
		"🚨 **Problemas detectados:**\n• " + strings.Join(result.Errors, "\n• ") + "\n\n" +
		"💡 **Sugerencias:**\n• " + strings.Join(result.Suggestions, "\n• ") + "\n\n" +
		"📋 **Cuentas autorizadas:**\n" + payment.AuthorizedAccountsInfo() + "\n\n" +
		"Por favor corrige estos problemas y envía un nuevo comprobante."
}

// extractMediaID locates the provider media id. Known payload shapes come
// first; when they all miss, the raw payload is walked for any string field
// whose key is "id" or ends in "Id"/"_id", deepest maps last and keys in
// sorted order so the walk is deterministic.
func extractMediaID(msg *models.Message) (string, error) {
	for _, ref := range []*models.MediaRef{msg.Image, msg.Document, msg.Audio, msg.Video} {
		if ref != nil && ref.ID != "" {
			return ref.ID, nil
		}
	}
	if id := deepMediaID(msg.Raw); id != "" {
		return id, nil
	}
	return "", models.ErrNoMediaReference
}

func deepMediaID(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s, ok := t[k].(string)
			if !ok || s == "" {
				continue
			}
			if k == "id" || strings.HasSuffix(k, "Id") || strings.HasSuffix(k, "_id") {
				return s
			}
		}
		for _, k := range keys {
			if id := deepMediaID(t[k]); id != "" {
				return id
			}
		}
	case []interface{}:
		for _, item := range t {
			if id := deepMediaID(item); id != "" {
				return id
			}
		}
	}
	return ""
}
