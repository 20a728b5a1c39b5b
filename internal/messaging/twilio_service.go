package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound traffic arrives through the webhook handler rather than a live
// socket.
type TwilioService struct {
	client   twiliowhatsapp.Sender
	messages chan models.Message
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewTwilioService creates a TwilioService around the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:   client,
		messages: make(chan models.Message, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient strips formatting and validates the number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op for Twilio; inbound arrives via webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.messages)
	}()
	return nil
}

// SendText sends a message via Twilio.
func (s *TwilioService) SendText(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, "+"+canonical, body)
}

// SendMenu degrades the menu to numbered text; the Twilio Go SDK has no
// WhatsApp interactive message support.
func (s *TwilioService) SendMenu(ctx context.Context, to string, menu models.Menu) error {
	return s.SendText(ctx, to, renderMenuText(menu))
}

// Messages returns the channel of normalized inbound messages.
func (s *TwilioService) Messages() <-chan models.Message {
	return s.messages
}

// WebhookHandler handles inbound Twilio webhook requests, normalizing them
// into Messages on the inbound channel.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	from = strings.TrimPrefix(from, "+")
	body := r.FormValue("Body")
	numMedia := r.FormValue("NumMedia")

	if from == "" {
		slog.Warn("Twilio webhook missing sender")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	msg := models.Message{
		From:      from,
		ID:        r.FormValue("MessageSid"),
		Timestamp: time.Now(),
	}

	switch {
	case numMedia != "" && numMedia != "0":
		msg.Type = models.MessageTypeImage
		msg.Image = &models.MediaRef{
			ID:       r.FormValue("MediaUrl0"),
			MimeType: r.FormValue("MediaContentType0"),
			Caption:  body,
		}
	case body != "":
		msg.Type = models.MessageTypeText
		msg.Text = body
	default:
		slog.Warn("Twilio webhook without body or media", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	s.emit(msg)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *TwilioService) emit(msg models.Message) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.messages <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.From, "type", msg.Type)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService messages channel blocked, dropping message", "from", msg.From)
	}
}
