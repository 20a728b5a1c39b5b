// Package ticket creates support tickets in the ticketing system. Receipt
// verification and advisor handover both end in a ticket, so ticket identity
// is the contract the user is read back verbatim.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/util"
)

// Service creates tickets. CreateTicket returns the authoritative ticket id;
// callers must echo that id to the user unchanged.
type Service interface {
	CreateTicket(ctx context.Context, req models.TicketRequest) (string, error)
}

// HTTPService files tickets against the ticketing API.
type HTTPService struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// HTTPOption configures an HTTPService.
type HTTPOption func(*HTTPService)

// WithHTTPClient injects the HTTP client used for ticketing calls.
func WithHTTPClient(h *http.Client) HTTPOption {
	return func(s *HTTPService) { s.http = h }
}

// NewHTTPService creates a ticketing client against the given endpoint.
func NewHTTPService(baseURL, apiKey string, opts ...HTTPOption) (*HTTPService, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ticketing base URL is required")
	}
	s := &HTTPService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateTicket posts the ticket and returns the id assigned by the system.
func (s *HTTPService) CreateTicket(ctx context.Context, req models.TicketRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode ticket request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/tickets/", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build ticket request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Api-Key "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ticket request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("HTTPService CreateTicket non-2xx", "status", resp.StatusCode)
		return "", fmt.Errorf("ticketing returned status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode ticket response: %w", err)
	}
	if body.Data.ID == "" {
		return "", fmt.Errorf("ticketing returned no ticket id")
	}
	slog.Info("HTTPService CreateTicket created", "ticket_id", body.Data.ID, "category", req.Category)
	return body.Data.ID, nil
}

// Repo persists locally issued tickets. Implemented by the store layer.
type Repo interface {
	SaveTicket(id string, req models.TicketRequest) error
}

// LocalService issues ticket ids itself and records the ticket in the local
// store. Used when no external ticketing system is configured.
type LocalService struct {
	repo  Repo
	newID func() string
}

// NewLocalService creates a store-backed ticket service.
func NewLocalService(repo Repo) *LocalService {
	return &LocalService{repo: repo, newID: util.GenerateTicketID}
}

// CreateTicket issues an id and persists the ticket.
func (s *LocalService) CreateTicket(_ context.Context, req models.TicketRequest) (string, error) {
	id := s.newID()
	if err := s.repo.SaveTicket(id, req); err != nil {
		return "", fmt.Errorf("failed to save ticket: %w", err)
	}
	slog.Info("LocalService CreateTicket created", "ticket_id", id, "category", req.Category)
	return id, nil
}
