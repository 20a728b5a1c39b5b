package messaging

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // full client for event handling, nil for mocks
	media    *whatsapp.MediaSource
	messages chan models.Message
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a WhatsAppService wrapping the given Sender.
// When the sender is a full client, incoming events are translated into
// normalized messages and image references are remembered in media.
func NewWhatsAppService(client whatsapp.Sender, media *whatsapp.MediaSource) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		media:    media,
		messages: make(chan models.Message, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient strips formatting and validates the number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
	}
	return nil
}

// Stop stops background processing. Whatsmeow events can still fire while
// the client disconnects, so the messages channel is closed after a grace
// period and emit drops anything arriving once the stopped flag is set.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.messages)
	}()
	return nil
}

// SendText sends a plain text message.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendText validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "to", canonical)
		return err
	}
	slog.Info("WhatsAppService message sent", "to", canonical)
	return nil
}

// SendMenu degrades the menu to numbered text; whatsmeow personal accounts
// cannot send Cloud API interactive lists.
func (s *WhatsAppService) SendMenu(ctx context.Context, to string, menu models.Menu) error {
	return s.SendText(ctx, to, renderMenuText(menu))
}

// Messages returns the channel of normalized inbound messages.
func (s *WhatsAppService) Messages() <-chan models.Message {
	return s.messages
}

// handleEvents registers the event handler and keeps it running until the
// context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if v, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(v)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage normalizes a whatsmeow event into a Message and
// forwards it to the dispatcher channel.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	msg := models.Message{
		From:      evt.Info.Sender.User,
		ID:        evt.Info.ID,
		Timestamp: evt.Info.Timestamp,
	}

	switch {
	case evt.Message.GetConversation() != "":
		msg.Type = models.MessageTypeText
		msg.Text = evt.Message.GetConversation()

	case evt.Message.GetExtendedTextMessage().GetText() != "":
		msg.Type = models.MessageTypeText
		msg.Text = evt.Message.GetExtendedTextMessage().GetText()

	case evt.Message.GetImageMessage() != nil:
		img := evt.Message.GetImageMessage()
		if s.media != nil {
			s.media.RememberImage(evt.Info.ID, img)
		}
		msg.Type = models.MessageTypeImage
		msg.Image = &models.MediaRef{
			ID:       evt.Info.ID,
			MimeType: img.GetMimetype(),
			SHA256:   hex.EncodeToString(img.GetFileSHA256()),
			Caption:  img.GetCaption(),
		}

	case evt.Message.GetDocumentMessage() != nil:
		doc := evt.Message.GetDocumentMessage()
		msg.Type = models.MessageTypeDocument
		msg.Document = &models.MediaRef{
			ID:       evt.Info.ID,
			MimeType: doc.GetMimetype(),
			Filename: doc.GetFileName(),
		}

	case evt.Message.GetListResponseMessage() != nil:
		reply := evt.Message.GetListResponseMessage()
		msg.Type = models.MessageTypeInteractive
		msg.Interactive = &models.InteractiveReply{
			Kind:  "list_reply",
			ID:    reply.GetSingleSelectReply().GetSelectedRowID(),
			Title: reply.GetTitle(),
		}

	case evt.Message.GetButtonsResponseMessage() != nil:
		reply := evt.Message.GetButtonsResponseMessage()
		msg.Type = models.MessageTypeInteractive
		msg.Interactive = &models.InteractiveReply{
			Kind:  "button_reply",
			ID:    reply.GetSelectedButtonID(),
			Title: reply.GetSelectedDisplayText(),
		}

	case evt.Message.GetLocationMessage() != nil:
		loc := evt.Message.GetLocationMessage()
		msg.Type = models.MessageTypeLocation
		msg.Location = &models.Location{
			Latitude:  loc.GetDegreesLatitude(),
			Longitude: loc.GetDegreesLongitude(),
			Name:      loc.GetName(),
			Address:   loc.GetAddress(),
		}

	case evt.Message.GetAudioMessage() != nil:
		msg.Type = models.MessageTypeAudio
		msg.Audio = &models.MediaRef{ID: evt.Info.ID, MimeType: evt.Message.GetAudioMessage().GetMimetype()}

	case evt.Message.GetVideoMessage() != nil:
		msg.Type = models.MessageTypeVideo
		msg.Video = &models.MediaRef{ID: evt.Info.ID, MimeType: evt.Message.GetVideoMessage().GetMimetype()}

	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", msg.From)
		return
	}

	s.emit(msg)
}

func (s *WhatsAppService) emit(msg models.Message) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.messages <- msg:
		slog.Info("WhatsAppService incoming message forwarded", "from", msg.From, "type", msg.Type)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService messages channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}
