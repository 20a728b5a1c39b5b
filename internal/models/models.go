// Package models defines the core data structures for ConectaBot.
//
// It includes the normalized inbound message, user identity, AI provider
// results, downloaded attachments and the payment receipt types shared
// across modules.
package models

import (
	"errors"
	"time"
)

// MessageType identifies the kind of payload carried by an inbound message.
type MessageType string

const (
	// MessageTypeText is a plain text message.
	MessageTypeText MessageType = "text"
	// MessageTypeInteractive is a button or list reply.
	MessageTypeInteractive MessageType = "interactive"
	// MessageTypeImage is an image attachment.
	MessageTypeImage MessageType = "image"
	// MessageTypeDocument is a document attachment.
	MessageTypeDocument MessageType = "document"
	// MessageTypeAudio is an audio attachment.
	MessageTypeAudio MessageType = "audio"
	// MessageTypeVideo is a video attachment.
	MessageTypeVideo MessageType = "video"
	// MessageTypeLocation is a shared location.
	MessageTypeLocation MessageType = "location"
)

// AttachmentPurpose tags why an attachment was downloaded.
type AttachmentPurpose string

const (
	// PurposePaymentReceipt marks attachments submitted as payment proof.
	PurposePaymentReceipt AttachmentPurpose = "payment_receipt"
	// PurposeGeneral marks any other attachment.
	PurposeGeneral AttachmentPurpose = "general"
)

// Error variables for failure classes that callers branch on.
var (
	// ErrMediaExpired signals a perished single-use media reference. Retrying
	// the fetch can never succeed; the user must resend the attachment.
	ErrMediaExpired = errors.New("media reference expired")
	// ErrCustomerNotFound signals that the directory has no record for the
	// presented document or service id.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrSessionExpired signals that the security session elapsed and the
	// user must authenticate again.
	ErrSessionExpired = errors.New("session expired")
	// ErrIdentityLocked signals that authentication is temporarily blocked
	// after too many failed attempts.
	ErrIdentityLocked = errors.New("identity locked")
	// ErrNoMediaReference signals that no media identifier could be located
	// inside an attachment message payload.
	ErrNoMediaReference = errors.New("no media reference in message")
)

// MediaRef carries the remote identifier of an attachment. The reference is
// single-use and time-bound on the provider side.
type MediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// InteractiveReply carries the id and title of a tapped button or list row.
type InteractiveReply struct {
	Kind  string `json:"kind"` // button_reply or list_reply
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Location carries shared coordinates.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Message is the normalized inbound message handed to the dispatcher.
// Exactly one payload field matching Type is populated.
type Message struct {
	From        string            `json:"from"`
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        MessageType       `json:"type"`
	Text        string            `json:"text,omitempty"`
	Interactive *InteractiveReply `json:"interactive,omitempty"`
	Image       *MediaRef         `json:"image,omitempty"`
	Document    *MediaRef         `json:"document,omitempty"`
	Audio       *MediaRef         `json:"audio,omitempty"`
	Video       *MediaRef         `json:"video,omitempty"`
	Location    *Location         `json:"location,omitempty"`
	// Raw holds the unparsed provider payload for deep media-id extraction
	// when none of the known shapes matched.
	Raw map[string]interface{} `json:"-"`
}

// Body returns the text a flow should match against: the text body for text
// messages, or the reply id for interactive messages.
func (m *Message) Body() string {
	switch m.Type {
	case MessageTypeText:
		return m.Text
	case MessageTypeInteractive:
		if m.Interactive != nil {
			return m.Interactive.ID
		}
	}
	return ""
}

// HasAttachment reports whether the message carries downloadable media.
func (m *Message) HasAttachment() bool {
	switch m.Type {
	case MessageTypeImage, MessageTypeDocument, MessageTypeAudio, MessageTypeVideo:
		return true
	}
	return false
}

// User is the per-identity record keyed by channel address. Sensitive profile
// fields live only inside EncryptedProfile; plaintext copies are never stored
// on the identity.
type User struct {
	PhoneNumber      string     `json:"phone_number"`
	Authenticated    bool       `json:"authenticated"`
	AcceptedPolicy   bool       `json:"accepted_policy"`
	AwaitingDocument bool       `json:"awaiting_document"`
	CustomerID       string     `json:"customer_id,omitempty"`
	SessionID        string     `json:"session_id,omitempty"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
	EncryptedProfile string     `json:"encrypted_profile,omitempty"`
}

// CustomerProfile is the directory's view of a customer. It is sealed into
// User.EncryptedProfile after authentication and decoded on demand.
type CustomerProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Document  string `json:"document,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Status    string `json:"status,omitempty"`
	Inactive  bool   `json:"inactive,omitempty"`
}

// ProviderResult is the total-function outcome of a single AI provider call.
// Providers never let an error escape as a panic or raw failure; every
// outcome is captured here.
type ProviderResult struct {
	Success      bool   `json:"success"`
	Text         string `json:"text,omitempty"`
	ErrorReason  string `json:"error_reason,omitempty"`
	ProviderName string `json:"provider_name"`
}

// Attachment describes a downloaded media object persisted to local storage.
// Rows are append-only per submission and garbage collected by age,
// independent of the conversation lifecycle.
type Attachment struct {
	MediaID   string            `json:"media_id"`
	LocalPath string            `json:"local_path"`
	MimeType  string            `json:"mime_type"`
	SizeBytes int64             `json:"size_bytes"`
	Owner     string            `json:"owner"`
	Purpose   AttachmentPurpose `json:"purpose"`
	CreatedAt time.Time         `json:"created_at"`
}

// ImageQuality is the model's self-reported readability of a receipt image.
type ImageQuality string

const (
	ImageQualityExcellent ImageQuality = "excellent"
	ImageQualityGood      ImageQuality = "good"
	ImageQualityFair      ImageQuality = "fair"
	ImageQualityPoor      ImageQuality = "poor"
)

// ReceiptExtraction is the strict JSON object the vision model must return
// for a payment receipt. Unreadable fields are null.
type ReceiptExtraction struct {
	Amount          *float64     `json:"amount"`
	Date            *string      `json:"date"` // DD/MM/YYYY
	AccountNumber   *string      `json:"accountNumber"`
	Bank            *string      `json:"bank"`
	ReferenceNumber *string      `json:"referenceNumber"`
	PaymentMethod   *string      `json:"paymentMethod"`
	Confidence      float64      `json:"confidence"`
	ImageQuality    ImageQuality `json:"imageQuality"`
}

// ReceiptValidation is the outcome of running the business rules over an
// extraction. Rule outcomes are independent of the model's self-reported
// confidence; IsValid is the AND of the four rule booleans.
type ReceiptValidation struct {
	IsValid         bool              `json:"is_valid"`
	Confidence      float64           `json:"confidence"`
	Extracted       ReceiptExtraction `json:"extracted"`
	HasValidAmount  bool              `json:"has_valid_amount"`
	HasCurrentDate  bool              `json:"has_current_date"`
	HasValidAccount bool              `json:"has_valid_account"`
	HasValidBank    bool              `json:"has_valid_bank"`
	ImageQuality    ImageQuality      `json:"image_quality"`
	Errors          []string          `json:"errors"`
	Suggestions     []string          `json:"suggestions"`
}

// TicketRequest is the payload handed to the ticketing collaborator.
type TicketRequest struct {
	CustomerID  string                 `json:"customer_id"`
	Category    string                 `json:"category"`
	Description string                 `json:"description"`
	Priority    string                 `json:"priority"`
	Source      string                 `json:"source"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// DebtInfo summarizes a customer's outstanding balance.
type DebtInfo struct {
	TotalAmount     float64   `json:"total_amount"`
	PendingInvoices int       `json:"pending_invoices"`
	NextDueDate     time.Time `json:"next_due_date"`
	Status          string    `json:"status"` // pending, overdue, critical
}

// Plan describes a service plan offered for upgrades.
type Plan struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Speed       string  `json:"speed,omitempty"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
}

// PaymentPoint is an authorized physical payment location.
type PaymentPoint struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Hours   string `json:"hours"`
	Phone   string `json:"phone,omitempty"`
}

// Menu is a structured interactive menu for the outbound channel. Transports
// without native interactive messages degrade it to numbered text.
type Menu struct {
	Title   string       `json:"title"`
	Body    string       `json:"body"`
	Options []MenuOption `json:"options"`
}

// MenuOption is a single selectable menu row.
type MenuOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}
