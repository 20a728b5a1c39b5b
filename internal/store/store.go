// Package store provides storage backends for the bot.
//
// It persists attachment metadata, locally issued tickets and scheduled
// follow-up records. Conversation state is deliberately not stored here:
// sessions live in memory and die with their TTL.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
)

// FollowUp is a scheduled outbound nudge that survives restarts.
type FollowUp struct {
	ID        string
	Recipient string
	Kind      string
	Payload   string
	RunAt     time.Time
	CreatedAt time.Time
}

// TicketRecord is a locally issued ticket row.
type TicketRecord struct {
	ID        string
	Request   models.TicketRequest
	CreatedAt time.Time
}

// Store is the persistence boundary shared by the sqlite, postgres and
// in-memory backends.
type Store interface {
	SaveAttachment(att models.Attachment) error
	ListAttachmentsByOwner(owner string) ([]models.Attachment, error)
	DeleteAttachmentsBefore(cutoff time.Time) (int, error)
	CountAttachments() (total int, receipts int, err error)

	SaveTicket(id string, req models.TicketRequest) error
	GetTicket(id string) (*TicketRecord, error)

	SaveFollowUp(f FollowUp) error
	DeleteFollowUp(id string) error
	ListPendingFollowUps() ([]FollowUp, error)

	Close() error
}

// InMemoryStore keeps everything in process memory. Used in tests and when
// no DSN is configured.
type InMemoryStore struct {
	mu          sync.Mutex
	attachments []models.Attachment
	tickets     map[string]TicketRecord
	followUps   map[string]FollowUp
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tickets:   make(map[string]TicketRecord),
		followUps: make(map[string]FollowUp),
	}
}

func (s *InMemoryStore) SaveAttachment(att models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = append(s.attachments, att)
	return nil
}

func (s *InMemoryStore) ListAttachmentsByOwner(owner string) ([]models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Attachment
	for _, att := range s.attachments {
		if att.Owner == owner {
			out = append(out, att)
		}
	}
	return out, nil
}

func (s *InMemoryStore) DeleteAttachmentsBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.attachments[:0]
	removed := 0
	for _, att := range s.attachments {
		if att.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, att)
	}
	s.attachments = kept
	return removed, nil
}

func (s *InMemoryStore) CountAttachments() (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	receipts := 0
	for _, att := range s.attachments {
		if att.Purpose == models.PurposePaymentReceipt {
			receipts++
		}
	}
	return len(s.attachments), receipts, nil
}

func (s *InMemoryStore) SaveTicket(id string, req models.TicketRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[id] = TicketRecord{ID: id, Request: req, CreatedAt: time.Now()}
	return nil
}

func (s *InMemoryStore) GetTicket(id string) (*TicketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tickets[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) SaveFollowUp(f FollowUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	s.followUps[f.ID] = f
	return nil
}

func (s *InMemoryStore) DeleteFollowUp(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.followUps, id)
	return nil
}

func (s *InMemoryStore) ListPendingFollowUps() ([]FollowUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FollowUp, 0, len(s.followUps))
	for _, f := range s.followUps {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
