package payment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/conecta2tel/conectabot/internal/models"
)

// VisionResponder is the slice of the AI router the verifier consumes.
type VisionResponder interface {
	RespondVision(ctx context.Context, image []byte, mimeType string, prompt string) models.ProviderResult
}

// Verifier runs the extract-and-validate stages of the receipt pipeline
// over a downloaded attachment.
type Verifier struct {
	vision    VisionResponder
	validator *Validator
}

// NewVerifier creates a Verifier.
func NewVerifier(vision VisionResponder, validator *Validator) *Verifier {
	return &Verifier{vision: vision, validator: validator}
}

// Verify reads the stored image, asks the vision capability for the strict
// extraction JSON and applies the business rules. Analysis failures fail
// closed: the returned validation is invalid with actionable errors, and no
// guess is ever made about unreadable content.
func (v *Verifier) Verify(ctx context.Context, att *models.Attachment) *models.ReceiptValidation {
	slog.Debug("Verifier Verify invoked", "path", att.LocalPath, "owner", att.Owner)

	image, err := os.ReadFile(att.LocalPath)
	if err != nil {
		slog.Error("Verifier failed to read stored attachment", "error", err, "path", att.LocalPath)
		return failedClosed("Archivo de imagen no encontrado")
	}

	res := v.vision.RespondVision(ctx, image, att.MimeType, extractionPrompt())
	if !res.Success {
		slog.Error("Verifier vision analysis failed", "provider", res.ProviderName, "reason", res.ErrorReason)
		return failedClosed("No se pudo analizar la imagen")
	}

	ext, err := ParseExtraction(res.Text)
	if err != nil {
		slog.Error("Verifier extraction reply unparseable", "error", err, "provider", res.ProviderName)
		return failedClosed("No pude leer la imagen del comprobante")
	}

	validation := v.validator.Validate(ext)
	slog.Info("Verifier receipt validated", "valid", validation.IsValid, "confidence", validation.Confidence, "provider", res.ProviderName)
	return validation
}

// failedClosed builds the invalid result used when the image could not be
// analyzed at all.
func failedClosed(reason string) *models.ReceiptValidation {
	return &models.ReceiptValidation{
		IsValid:      false,
		Confidence:   0,
		ImageQuality: models.ImageQualityPoor,
		Errors:       []string{"Error procesando imagen: " + reason},
		Suggestions: []string{
			"Envía una imagen más clara del comprobante",
			"Asegúrate de que toda la información esté visible",
			"Intenta con mejor iluminación",
		},
	}
}

// BuildTicketRequest assembles the verification ticket payload for a valid
// receipt.
func BuildTicketRequest(phoneNumber, customerID string, res *models.ReceiptValidation, att *models.Attachment) models.TicketRequest {
	if customerID == "" {
		customerID = phoneNumber
	}

	var desc strings.Builder
	desc.WriteString("*SOLICITUD DE VERIFICACIÓN DE COMPROBANTE DE PAGO*\n\n")
	desc.WriteString(fmt.Sprintf("*Cliente:* %s\n\n", phoneNumber))
	desc.WriteString("*Detalles del Comprobante:*\n")
	desc.WriteString(fmt.Sprintf("• Monto: %s\n", formatAmount(res.Extracted.Amount)))
	desc.WriteString(fmt.Sprintf("• Fecha: %s\n", orNotDetected(res.Extracted.Date)))
	desc.WriteString(fmt.Sprintf("• Banco: %s\n", orNotDetected(res.Extracted.Bank)))
	desc.WriteString(fmt.Sprintf("• Cuenta: %s\n", orNotDetected(res.Extracted.AccountNumber)))
	desc.WriteString(fmt.Sprintf("• Referencia: %s\n", orNotDetected(res.Extracted.ReferenceNumber)))
	desc.WriteString(fmt.Sprintf("• Método: %s\n\n", orNotDetected(res.Extracted.PaymentMethod)))
	desc.WriteString("*Validación IA:*\n")
	desc.WriteString(fmt.Sprintf("• Confianza: %d%%\n", int(res.Confidence*100+0.5)))
	desc.WriteString(fmt.Sprintf("• Calidad de imagen: %s\n\n", res.ImageQuality))
	desc.WriteString(fmt.Sprintf("*Archivo:* %s\n\n", att.LocalPath))
	desc.WriteString("*ACCIÓN REQUERIDA:* Verificar manualmente el comprobante de pago y aplicar el pago correspondiente.")

	return models.TicketRequest{
		CustomerID:  customerID,
		Category:    "facturacion",
		Description: desc.String(),
		Priority:    "media",
		Source:      "whatsapp",
		Metadata: map[string]interface{}{
			"payment_validation":   res,
			"attachment_media_id":  att.MediaID,
			"attachment_path":      att.LocalPath,
			"automatic_validation": true,
		},
	}
}

func formatAmount(amount *float64) string {
	if amount == nil {
		return "No detectado"
	}
	return fmt.Sprintf("$%.0f", *amount)
}

func orNotDetected(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "No detectado"
	}
	return *s
}
