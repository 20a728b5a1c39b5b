package payment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
)

type stubVision struct {
	result models.ProviderResult
	calls  int
	image  []byte
	prompt string
}

func (s *stubVision) RespondVision(_ context.Context, image []byte, _ string, prompt string) models.ProviderResult {
	s.calls++
	s.image = image
	s.prompt = prompt
	return s.result
}

func writeTempImage(t *testing.T, content []byte) *models.Attachment {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receipt.jpg")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return &models.Attachment{
		MediaID:   "media-1",
		LocalPath: path,
		MimeType:  "image/jpeg",
		Owner:     "573001112233",
		Purpose:   models.PurposePaymentReceipt,
	}
}

func TestVerifyValidReceipt(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	reply := `{"amount": 58900, "date": "` + now.Format("02/01/2006") + `", "accountNumber": "26100006596", "bank": "Bancolombia", "referenceNumber": "123", "paymentMethod": "PSE", "confidence": 0.9, "imageQuality": "good"}`
	vision := &stubVision{result: models.ProviderResult{Success: true, Text: reply, ProviderName: "openai"}}
	ver := NewVerifier(vision, NewValidator(WithClock(fixedClock(now))))

	att := writeTempImage(t, []byte("jpeg-bytes"))
	res := ver.Verify(context.Background(), att)

	if !res.IsValid {
		t.Fatalf("expected valid, errors %v", res.Errors)
	}
	if vision.calls != 1 {
		t.Errorf("vision calls = %d, want 1", vision.calls)
	}
	if string(vision.image) != "jpeg-bytes" {
		t.Error("verifier must pass the stored image bytes to the model")
	}
	if !strings.Contains(vision.prompt, "JSON") {
		t.Error("extraction prompt must demand JSON output")
	}
}

func TestVerifyFailsClosedOnVisionFailure(t *testing.T) {
	vision := &stubVision{result: models.ProviderResult{Success: false, ErrorReason: "all providers down"}}
	ver := NewVerifier(vision, NewValidator())

	res := ver.Verify(context.Background(), writeTempImage(t, []byte("x")))
	if res.IsValid {
		t.Fatal("vision failure must produce an invalid result")
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", res.Confidence)
	}
	if len(res.Errors) == 0 || len(res.Suggestions) == 0 {
		t.Error("failed-closed result must carry errors and suggestions")
	}
}

func TestVerifyFailsClosedOnUnparseableReply(t *testing.T) {
	vision := &stubVision{result: models.ProviderResult{Success: true, Text: "no veo ningún comprobante aquí"}}
	ver := NewVerifier(vision, NewValidator())

	res := ver.Verify(context.Background(), writeTempImage(t, []byte("x")))
	if res.IsValid {
		t.Fatal("unparseable reply must produce an invalid result")
	}
}

func TestVerifyFailsClosedOnMissingFile(t *testing.T) {
	vision := &stubVision{result: models.ProviderResult{Success: true, Text: "{}"}}
	ver := NewVerifier(vision, NewValidator())

	att := &models.Attachment{LocalPath: filepath.Join(t.TempDir(), "missing.jpg")}
	res := ver.Verify(context.Background(), att)
	if res.IsValid {
		t.Fatal("missing file must produce an invalid result")
	}
	if vision.calls != 0 {
		t.Error("vision must not be called when the file cannot be read")
	}
}

func TestBuildTicketRequestDescribesReceipt(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.Local)
	v := NewValidator(WithClock(fixedClock(now)))
	res := v.Validate(goodExtraction(now))

	att := &models.Attachment{MediaID: "media-9", LocalPath: "/data/receipts/a.jpg"}
	req := BuildTicketRequest("573001112233", "CUST-7", res, att)

	if req.CustomerID != "CUST-7" {
		t.Errorf("customer id = %q", req.CustomerID)
	}
	if req.Category != "facturacion" || req.Source != "whatsapp" {
		t.Errorf("category/source = %q/%q", req.Category, req.Source)
	}
	for _, want := range []string{"$58900", "26100006596", "Bancolombia", "/data/receipts/a.jpg"} {
		if !strings.Contains(req.Description, want) {
			t.Errorf("description missing %q", want)
		}
	}
	if req.Metadata["attachment_media_id"] != "media-9" {
		t.Error("metadata must reference the media id")
	}
}

func TestBuildTicketRequestFallsBackToPhone(t *testing.T) {
	res := &models.ReceiptValidation{}
	req := BuildTicketRequest("573001112233", "", res, &models.Attachment{})
	if req.CustomerID != "573001112233" {
		t.Errorf("customer id = %q, want phone fallback", req.CustomerID)
	}
}
