package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/conecta2tel/conectabot/internal/media"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/payment"
	"github.com/conecta2tel/conectabot/internal/session"
)

type fakeMediaSource struct {
	payload []byte
	mime    string
	err     error
}

func (s *fakeMediaSource) ResolveDownloadURL(_ context.Context, mediaID string) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return "https://media.test/" + mediaID, s.mime, nil
}

func (s *fakeMediaSource) FetchBytes(_ context.Context, _ string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

type nullRepo struct{}

func (nullRepo) SaveAttachment(models.Attachment) error             { return nil }
func (nullRepo) DeleteAttachmentsBefore(time.Time) (int, error)     { return 0, nil }
func (nullRepo) CountAttachments() (total, receipts int, err error) { return 0, 0, nil }

type stubVision struct {
	result models.ProviderResult
	calls  int
}

func (v *stubVision) RespondVision(_ context.Context, _ []byte, _ string, _ string) models.ProviderResult {
	v.calls++
	return v.result
}

func validExtractionJSON() string {
	today := time.Now().Format("02/01/2006")
	return fmt.Sprintf(`{"amount": 58900, "date": %q, "accountNumber": "26100006596", "bank": "Bancolombia", "referenceNumber": "REF-123", "paymentMethod": "transferencia", "confidence": 0.9, "imageQuality": "good"}`, today)
}

func invalidAccountExtractionJSON() string {
	today := time.Now().Format("02/01/2006")
	return fmt.Sprintf(`{"amount": 58900, "date": %q, "accountNumber": "9999999999", "bank": "Bancolombia", "confidence": 0.9, "imageQuality": "good"}`, today)
}

type receiptHarness struct {
	messenger *fakeMessenger
	tickets   *fakeTickets
	vision    *stubVision
	sessions  *session.Store
	flow      *ReceiptVerificationFlow
	user      *models.User
}

func newReceiptHarness(t *testing.T, source media.Source) *receiptHarness {
	t.Helper()
	store, err := media.NewStore(source, nullRepo{}, t.TempDir(),
		media.WithMaxRetries(0), media.WithSleep(func(time.Duration) {}))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := &receiptHarness{
		messenger: &fakeMessenger{},
		tickets:   &fakeTickets{id: "WH-4451"},
		vision:    &stubVision{},
		sessions:  session.NewStore(),
		user:      &models.User{PhoneNumber: testPhone, Authenticated: true, CustomerID: "CUST-88"},
	}
	verifier := payment.NewVerifier(h.vision, payment.NewValidator())
	h.flow = NewReceiptVerificationFlow(h.messenger, store, verifier, h.tickets)
	return h
}

func (h *receiptHarness) handle(t *testing.T, msg *models.Message) Outcome {
	t.Helper()
	state := h.sessions.Get(h.user.PhoneNumber)
	if !h.flow.CanHandle(context.Background(), h.user, msg, state) {
		t.Fatalf("flow did not claim message %+v", msg)
	}
	outcome, err := h.flow.Handle(context.Background(), h.user, msg, state)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	return outcome
}

func imageMessage(mediaID string) *models.Message {
	return &models.Message{
		From:      testPhone,
		ID:        "wamid.img",
		Timestamp: time.Now(),
		Type:      models.MessageTypeImage,
		Image:     &models.MediaRef{ID: mediaID, MimeType: "image/jpeg"},
	}
}

func TestReceiptInquiryArmsFlow(t *testing.T) {
	h := newReceiptHarness(t, &fakeMediaSource{})

	h.handle(t, textMessage(testPhone, "quiero enviar mi comprobante de pago"))

	body := h.messenger.lastText()
	if !strings.Contains(body, "ENVÍO DE COMPROBANTES DE PAGO") {
		t.Errorf("expected instructions, got %q", body)
	}
	state := h.sessions.Peek(testPhone)
	if state.Get(receiptVerificationName, awaitingReceiptKey) != "1" {
		t.Error("flow should be armed for the next attachment")
	}
}

func TestReceiptValidCreatesTicketAndEchoesID(t *testing.T) {
	h := newReceiptHarness(t, &fakeMediaSource{payload: []byte("jpeg-bytes"), mime: "image/jpeg"})
	h.vision.result = models.ProviderResult{Success: true, Text: validExtractionJSON(), ProviderName: "openai"}
	h.tickets.id = "WH-20417"

	h.handle(t, imageMessage("MEDIA-1"))

	if h.vision.calls != 1 {
		t.Fatalf("vision calls = %d, want 1", h.vision.calls)
	}
	if len(h.tickets.reqs) != 1 {
		t.Fatalf("expected 1 verification ticket, got %d", len(h.tickets.reqs))
	}
	req := h.tickets.reqs[0]
	if req.Category != "facturacion" || req.CustomerID != "CUST-88" {
		t.Errorf("unexpected ticket %+v", req)
	}

	final := h.messenger.lastText()
	if !strings.Contains(final, "COMPROBANTE VÁLIDO") {
		t.Errorf("expected valid verdict, got %q", final)
	}
	// The ticketing system's id is echoed verbatim, never reformatted.
	if !strings.Contains(final, "#WH-20417") {
		t.Errorf("expected verbatim ticket id, got %q", final)
	}
	if !strings.Contains(final, "$58.900") {
		t.Errorf("expected amount, got %q", final)
	}
	if h.sessions.Peek(testPhone).Get(receiptVerificationName, awaitingReceiptKey) != "" {
		t.Error("flow state should be cleared after acceptance")
	}
}

func TestReceiptInvalidKeepsFlowArmed(t *testing.T) {
	h := newReceiptHarness(t, &fakeMediaSource{payload: []byte("jpeg-bytes"), mime: "image/jpeg"})
	h.vision.result = models.ProviderResult{Success: true, Text: invalidAccountExtractionJSON(), ProviderName: "openai"}

	h.handle(t, imageMessage("MEDIA-2"))

	if len(h.tickets.reqs) != 0 {
		t.Fatal("invalid receipt must not create a ticket")
	}
	final := h.messenger.lastText()
	if !strings.Contains(final, "COMPROBANTE NO VÁLIDO") {
		t.Errorf("expected invalid verdict, got %q", final)
	}
	if !strings.Contains(final, "Problemas detectados") || !strings.Contains(final, "Sugerencias") {
		t.Errorf("expected itemized errors and suggestions, got %q", final)
	}
	if !strings.Contains(final, "26100006596") {
		t.Errorf("expected authorized accounts, got %q", final)
	}
	// Resubmission loop: the user corrects the image and sends again.
	if h.sessions.Peek(testPhone).Get(receiptVerificationName, awaitingReceiptKey) != "1" {
		t.Error("flow should stay armed for resubmission")
	}
}

func TestReceiptExpiredMediaAsksForResend(t *testing.T) {
	source := &fakeMediaSource{err: fmt.Errorf("%w: download url no longer valid", models.ErrMediaExpired)}
	h := newReceiptHarness(t, source)

	h.handle(t, imageMessage("MEDIA-3"))

	if h.vision.calls != 0 {
		t.Fatal("vision must not run without bytes")
	}
	if !strings.Contains(h.messenger.lastText(), "envía nuevamente el comprobante") {
		t.Errorf("expected resend request, got %q", h.messenger.lastText())
	}
}

func TestReceiptTransientDownloadFailure(t *testing.T) {
	h := newReceiptHarness(t, &fakeMediaSource{err: errors.New("connection reset")})

	h.handle(t, imageMessage("MEDIA-4"))

	if !strings.Contains(h.messenger.lastText(), "No pude descargar la imagen") {
		t.Errorf("expected download failure reply, got %q", h.messenger.lastText())
	}
}

func TestReceiptMissingMediaReference(t *testing.T) {
	h := newReceiptHarness(t, &fakeMediaSource{})
	msg := &models.Message{
		From:  testPhone,
		ID:    "wamid.img",
		Type:  models.MessageTypeImage,
		Image: &models.MediaRef{},
	}

	h.handle(t, msg)

	if !strings.Contains(h.messenger.lastText(), "No pude identificar la imagen") {
		t.Errorf("expected missing-reference reply, got %q", h.messenger.lastText())
	}
}

func TestExtractMediaIDKnownShapes(t *testing.T) {
	msg := imageMessage("MEDIA-9")
	id, err := extractMediaID(msg)
	if err != nil || id != "MEDIA-9" {
		t.Fatalf("extractMediaID = %q, %v", id, err)
	}

	doc := &models.Message{Type: models.MessageTypeDocument, Document: &models.MediaRef{ID: "DOC-7"}}
	id, err = extractMediaID(doc)
	if err != nil || id != "DOC-7" {
		t.Fatalf("extractMediaID(document) = %q, %v", id, err)
	}
}

func TestExtractMediaIDDeepSearch(t *testing.T) {
	msg := &models.Message{
		Type: models.MessageTypeImage,
		Raw: map[string]interface{}{
			"entry": []interface{}{
				map[string]interface{}{
					"changes": map[string]interface{}{
						"imageId": "DEEP-42",
					},
				},
			},
		},
	}
	id, err := extractMediaID(msg)
	if err != nil || id != "DEEP-42" {
		t.Fatalf("deep extractMediaID = %q, %v", id, err)
	}

	none := &models.Message{Type: models.MessageTypeImage, Raw: map[string]interface{}{"caption": "foto"}}
	if _, err := extractMediaID(none); !errors.Is(err, models.ErrNoMediaReference) {
		t.Fatalf("expected ErrNoMediaReference, got %v", err)
	}
}
