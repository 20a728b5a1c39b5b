package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
)

// MinPlausibleAmount is the floor below which an extracted amount is not
// accepted as a service payment.
const MinPlausibleAmount = 1000

// Confidence blend weights: the model's self-reported confidence carries the
// minority share, the four rule outcomes the majority.
const (
	weightModelConfidence = 0.40
	weightAmount          = 0.20
	weightDate            = 0.15
	weightAccount         = 0.15
	weightBank            = 0.10
)

// ParseExtraction parses the model's untrusted reply into a strict
// extraction object. Markdown code fences are tolerated; anything that does
// not unmarshal as the expected JSON fails, and the caller must fail closed.
func ParseExtraction(reply string) (*models.ReceiptExtraction, error) {
	cleaned := stripCodeFences(reply)
	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("reply contains no JSON object")
	}

	var ext models.ReceiptExtraction
	dec := json.NewDecoder(strings.NewReader(cleaned[start : end+1]))
	if err := dec.Decode(&ext); err != nil {
		return nil, fmt.Errorf("reply is not valid extraction JSON: %w", err)
	}
	if ext.Confidence < 0 || ext.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", ext.Confidence)
	}
	switch ext.ImageQuality {
	case models.ImageQualityExcellent, models.ImageQualityGood, models.ImageQualityFair, models.ImageQualityPoor:
	case "":
		ext.ImageQuality = models.ImageQualityFair
	default:
		return nil, fmt.Errorf("unknown image quality %q", ext.ImageQuality)
	}
	return &ext, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// Validator evaluates the business rules over an extraction. Every rule is
// applied independently of the model's self-reported confidence.
type Validator struct {
	now func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a Validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the four rules over the extraction and blends the final
// confidence. IsValid is the AND of the rule outcomes.
func (v *Validator) Validate(ext *models.ReceiptExtraction) *models.ReceiptValidation {
	res := &models.ReceiptValidation{
		Extracted:    *ext,
		ImageQuality: ext.ImageQuality,
	}

	res.HasValidAmount = v.validateAmount(ext, res)
	res.HasCurrentDate = v.validateDate(ext, res)
	res.HasValidAccount = v.validateAccount(ext, res)
	res.HasValidBank = v.validateBank(ext, res)

	res.IsValid = res.HasValidAmount && res.HasCurrentDate && res.HasValidAccount && res.HasValidBank
	res.Confidence = blendConfidence(ext.Confidence, res)
	return res
}

func (v *Validator) validateAmount(ext *models.ReceiptExtraction, res *models.ReceiptValidation) bool {
	if ext.Amount == nil || *ext.Amount <= 0 {
		res.Errors = append(res.Errors, "No se pudo detectar un monto válido")
		res.Suggestions = append(res.Suggestions, "Asegúrate de que el monto esté claramente visible")
		return false
	}
	if *ext.Amount < MinPlausibleAmount {
		res.Errors = append(res.Errors, "El monto parece muy bajo para un pago de servicios")
		res.Suggestions = append(res.Suggestions, "Verifica que el monto mostrado sea correcto")
		return false
	}
	return true
}

func (v *Validator) validateDate(ext *models.ReceiptExtraction, res *models.ReceiptValidation) bool {
	if ext.Date == nil || strings.TrimSpace(*ext.Date) == "" {
		res.Errors = append(res.Errors, "No se pudo detectar la fecha del pago")
		res.Suggestions = append(res.Suggestions, "Asegúrate de que la fecha esté claramente visible")
		return false
	}

	paid, err := time.ParseInLocation("02/01/2006", strings.TrimSpace(*ext.Date), time.Local)
	if err != nil {
		res.Errors = append(res.Errors, "Formato de fecha inválido")
		res.Suggestions = append(res.Suggestions, "La fecha debe estar en formato DD/MM/YYYY")
		return false
	}

	now := v.now()
	if paid.Month() != now.Month() || paid.Year() != now.Year() {
		res.Errors = append(res.Errors, fmt.Sprintf("El pago debe ser del mes actual (%s %d)", monthName(now.Month()), now.Year()))
		res.Suggestions = append(res.Suggestions, "Solo se aceptan pagos del mes en curso")
		return false
	}
	if paid.After(now) {
		res.Errors = append(res.Errors, "La fecha del pago no puede ser futura")
		res.Suggestions = append(res.Suggestions, "Verifica que la fecha mostrada sea correcta")
		return false
	}
	return true
}

func (v *Validator) validateAccount(ext *models.ReceiptExtraction, res *models.ReceiptValidation) bool {
	if ext.AccountNumber == nil || strings.TrimSpace(*ext.AccountNumber) == "" {
		res.Errors = append(res.Errors, "No se pudo detectar el número de cuenta")
		res.Suggestions = append(res.Suggestions, "Asegúrate de que el número de cuenta esté visible")
		return false
	}
	digits := digitsOnly(*ext.AccountNumber)
	if !accountAllowed(digits) {
		res.Errors = append(res.Errors, "Número de cuenta no válido para Conecta2 Telecomunicaciones")
		res.Suggestions = append(res.Suggestions, "Verifica que hayas pagado a una de nuestras cuentas oficiales")
		return false
	}
	return true
}

func (v *Validator) validateBank(ext *models.ReceiptExtraction, res *models.ReceiptValidation) bool {
	if ext.Bank == nil || strings.TrimSpace(*ext.Bank) == "" {
		res.Errors = append(res.Errors, "No se pudo detectar el banco")
		res.Suggestions = append(res.Suggestions, "Asegúrate de que el nombre del banco esté visible")
		return false
	}
	if !bankAllowed(*ext.Bank) {
		res.Errors = append(res.Errors, "Banco no reconocido como válido para pagos")
		res.Suggestions = append(res.Suggestions, "Verifica que el pago se haya realizado a través de nuestros bancos autorizados")
		return false
	}
	return true
}

// blendConfidence combines the model's self-reported confidence (minority
// weight) with the rule outcomes (majority weight), clamped to [0,1].
func blendConfidence(modelConfidence float64, res *models.ReceiptValidation) float64 {
	c := modelConfidence * weightModelConfidence
	if res.HasValidAmount {
		c += weightAmount
	}
	if res.HasCurrentDate {
		c += weightDate
	}
	if res.HasValidAccount {
		c += weightAccount
	}
	if res.HasValidBank {
		c += weightBank
	}
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var spanishMonths = [...]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

func monthName(m time.Month) string {
	return spanishMonths[int(m)-1]
}
