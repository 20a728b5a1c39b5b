package payment

import (
	"strings"
	"testing"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

// goodExtraction is a receipt that satisfies every rule against the given
// reference time.
func goodExtraction(now time.Time) *models.ReceiptExtraction {
	return &models.ReceiptExtraction{
		Amount:          f64Ptr(58900),
		Date:            strPtr(now.Format("02/01/2006")),
		AccountNumber:   strPtr("26100006596"),
		Bank:            strPtr("Bancolombia"),
		ReferenceNumber: strPtr("987654321"),
		PaymentMethod:   strPtr("transferencia"),
		Confidence:      0.9,
		ImageQuality:    models.ImageQualityGood,
	}
}

func TestValidateAcceptsCompliantReceipt(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	v := NewValidator(WithClock(fixedClock(now)))

	res := v.Validate(goodExtraction(now))
	if !res.IsValid {
		t.Fatalf("expected valid receipt, got errors %v", res.Errors)
	}
	if !res.HasValidAmount || !res.HasCurrentDate || !res.HasValidAccount || !res.HasValidBank {
		t.Fatalf("expected all rules to pass: %+v", res)
	}
	want := 0.9*0.40 + 0.20 + 0.15 + 0.15 + 0.10
	if diff := res.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("blended confidence = %v, want %v", res.Confidence, want)
	}
}

func TestValidateRejectsPreviousMonthDate(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	v := NewValidator(WithClock(fixedClock(now)))

	ext := goodExtraction(now)
	ext.Date = strPtr("28/02/2026")

	res := v.Validate(ext)
	if res.IsValid {
		t.Fatal("expected previous-month receipt to be invalid")
	}
	if res.HasCurrentDate {
		t.Error("date rule should have failed")
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "mes actual") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected current-month error, got %v", res.Errors)
	}
}

func TestValidateRejectsFutureDate(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	v := NewValidator(WithClock(fixedClock(now)))

	ext := goodExtraction(now)
	ext.Date = strPtr("20/03/2026")

	res := v.Validate(ext)
	if res.IsValid || res.HasCurrentDate {
		t.Fatalf("expected future-dated receipt to be invalid: %+v", res)
	}
}

func TestValidateRejectsUnknownAccountRegardlessOfConfidence(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	v := NewValidator(WithClock(fixedClock(now)))

	ext := goodExtraction(now)
	ext.AccountNumber = strPtr("99999999999")
	ext.Confidence = 1.0

	res := v.Validate(ext)
	if res.IsValid {
		t.Fatal("a receipt paid to an unlisted account must never be valid")
	}
	if res.HasValidAccount {
		t.Error("account rule should have failed")
	}
}

func TestValidateAmountFloor(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	v := NewValidator(WithClock(fixedClock(now)))

	cases := []struct {
		amount *float64
		ok     bool
	}{
		{nil, false},
		{f64Ptr(0), false},
		{f64Ptr(500), false},
		{f64Ptr(1000), true},
		{f64Ptr(58900), true},
	}
	for _, tc := range cases {
		ext := goodExtraction(now)
		ext.Amount = tc.amount
		res := v.Validate(ext)
		if res.HasValidAmount != tc.ok {
			t.Errorf("amount %v: rule = %v, want %v", tc.amount, res.HasValidAmount, tc.ok)
		}
	}
}

func TestValidateAccountIgnoresFormatting(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	v := NewValidator(WithClock(fixedClock(now)))

	ext := goodExtraction(now)
	ext.AccountNumber = strPtr("261-0000-6596")
	ext.Bank = strPtr("BANCOLOMBIA S.A.")

	res := v.Validate(ext)
	if !res.HasValidAccount {
		t.Errorf("formatted account number should match: %v", res.Errors)
	}
	if !res.HasValidBank {
		t.Errorf("bank with suffix should match: %v", res.Errors)
	}
}

func TestValidateNequiAccount(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	v := NewValidator(WithClock(fixedClock(now)))

	ext := goodExtraction(now)
	ext.AccountNumber = strPtr("3242156679")
	ext.Bank = strPtr("Nequi")

	res := v.Validate(ext)
	if !res.IsValid {
		t.Errorf("Nequi receipt should validate: %v", res.Errors)
	}
}

func TestParseExtractionStrictJSON(t *testing.T) {
	_, err := ParseExtraction("lo siento, no puedo leer la imagen")
	if err == nil {
		t.Fatal("prose reply must not parse")
	}

	_, err = ParseExtraction(`{"amount": "mucho"}`)
	if err == nil {
		t.Fatal("wrong field type must not parse")
	}

	_, err = ParseExtraction(`{"amount": 1000, "confidence": 3.5}`)
	if err == nil {
		t.Fatal("out-of-range confidence must not parse")
	}
}

func TestParseExtractionToleratesCodeFences(t *testing.T) {
	reply := "```json\n" + `{"amount": 58900, "date": "14/03/2026", "accountNumber": "26100006596", "bank": "Bancolombia", "referenceNumber": null, "paymentMethod": "PSE", "confidence": 0.85, "imageQuality": "good"}` + "\n```"
	ext, err := ParseExtraction(reply)
	if err != nil {
		t.Fatalf("fenced JSON should parse: %v", err)
	}
	if ext.Amount == nil || *ext.Amount != 58900 {
		t.Errorf("amount = %v", ext.Amount)
	}
	if ext.ReferenceNumber != nil {
		t.Errorf("null reference should stay nil, got %v", *ext.ReferenceNumber)
	}
	if ext.ImageQuality != models.ImageQualityGood {
		t.Errorf("imageQuality = %q", ext.ImageQuality)
	}
}

func TestParseExtractionDefaultsImageQuality(t *testing.T) {
	ext, err := ParseExtraction(`{"amount": 5000, "confidence": 0.5}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ext.ImageQuality != models.ImageQualityFair {
		t.Errorf("missing imageQuality should default to fair, got %q", ext.ImageQuality)
	}
}

func TestBlendConfidenceClamped(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	v := NewValidator(WithClock(fixedClock(now)))

	ext := goodExtraction(now)
	ext.Confidence = 1.0
	res := v.Validate(ext)
	if res.Confidence > 1.0 {
		t.Errorf("confidence must be clamped to 1, got %v", res.Confidence)
	}

	ext = &models.ReceiptExtraction{Confidence: 0}
	res = v.Validate(ext)
	if res.Confidence != 0 {
		t.Errorf("all-failed confidence = %v, want 0", res.Confidence)
	}
	if res.IsValid {
		t.Error("empty extraction must be invalid")
	}
}

func TestAuthorizedAccountsInfoListsAccounts(t *testing.T) {
	info := AuthorizedAccountsInfo()
	for _, want := range []string{"26100006596", "3242156679", "0488403242917", "94375"} {
		if !strings.Contains(info, want) {
			t.Errorf("accounts info missing %s", want)
		}
	}
}

func TestMonthNameSpanish(t *testing.T) {
	for i, want := range []string{"Enero", "Diciembre"} {
		m := []time.Month{time.January, time.December}[i]
		if got := monthName(m); got != want {
			t.Errorf("monthName(%v) = %q, want %q", m, got, want)
		}
	}
}
