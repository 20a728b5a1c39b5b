package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conecta2tel/conectabot/internal/genai"
	"github.com/conecta2tel/conectabot/internal/messaging"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/scheduler"
	"github.com/conecta2tel/conectabot/internal/session"
	"github.com/conecta2tel/conectabot/internal/store"
)

// server carries the handler dependencies for the HTTP surface.
type server struct {
	engine   *Engine
	router   *genai.Router
	st       store.Store
	sessions *session.Store
	sched    *scheduler.Scheduler
}

// newServer builds the HTTP server: the health endpoint plus the Twilio
// inbound webhook when that transport is active.
func newServer(addr string, engine *Engine, router *genai.Router, st store.Store, sessions *session.Store, sched *scheduler.Scheduler, twilioSvc *messaging.TwilioService) *http.Server {
	s := &server{engine: engine, router: router, st: st, sessions: sessions, sched: sched}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/tickets/", s.ticketHandler)
	mux.HandleFunc("/attachments/", s.attachmentsHandler)
	if twilioSvc != nil {
		mux.HandleFunc("/webhook/twilio", twilioSvc.WebhookHandler)
		slog.Info("Twilio webhook mounted", "path", "/webhook/twilio")
	}

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// statusResponse is the health endpoint payload.
type statusResponse struct {
	Status         string          `json:"status"`
	Uptime         string          `json:"uptime"`
	Providers      map[string]bool `json:"providers"`
	ActiveUsers    int             `json:"active_users"`
	LiveSessions   int             `json:"live_sessions"`
	Attachments    int             `json:"attachments"`
	ReceiptsStored int             `json:"receipts_stored"`
	PendingTasks   int             `json:"pending_tasks"`
}

func (s *server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	total, receipts, err := s.st.CountAttachments()
	if err != nil {
		slog.Error("Status handler failed to count attachments", "error", err)
	}

	pending := 0
	if s.sched != nil {
		pending = len(s.sched.Pending())
	}

	resp := statusResponse{
		Status:         "ok",
		Uptime:         time.Since(s.engine.StartedAt()).Round(time.Second).String(),
		Providers:      s.router.ServiceStatus(r.Context()),
		ActiveUsers:    s.engine.ActiveUsers(),
		LiveSessions:   s.sessions.Len(),
		Attachments:    total,
		ReceiptsStored: receipts,
		PendingTasks:   pending,
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// ticketResponse is a locally issued ticket as seen by operators.
type ticketResponse struct {
	ID        string               `json:"id"`
	Request   models.TicketRequest `json:"request"`
	CreatedAt time.Time            `json:"created_at"`
}

// ticketHandler serves GET /tickets/{id} so support staff can look up
// locally issued tickets without shell access to the database.
func (s *server) ticketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/tickets/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{Error: "ticket id required"})
		return
	}

	rec, err := s.st.GetTicket(id)
	if err != nil {
		slog.Error("Ticket lookup failed", "ticket_id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "ticket lookup failed"})
		return
	}
	if rec == nil {
		writeJSONResponse(w, http.StatusNotFound, errorResponse{Error: "ticket not found"})
		return
	}
	writeJSONResponse(w, http.StatusOK, ticketResponse{ID: rec.ID, Request: rec.Request, CreatedAt: rec.CreatedAt})
}

// attachmentsResponse lists one identity's stored attachments.
type attachmentsResponse struct {
	Owner       string              `json:"owner"`
	Count       int                 `json:"count"`
	Attachments []models.Attachment `json:"attachments"`
}

// attachmentsHandler serves GET /attachments/{owner}: the receipts and other
// media stored for one phone number, newest metadata included.
func (s *server) attachmentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	owner := strings.TrimPrefix(r.URL.Path, "/attachments/")
	if owner == "" || strings.Contains(owner, "/") {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{Error: "owner required"})
		return
	}

	atts, err := s.st.ListAttachmentsByOwner(owner)
	if err != nil {
		slog.Error("Attachment listing failed", "owner", owner, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "attachment listing failed"})
		return
	}
	writeJSONResponse(w, http.StatusOK, attachmentsResponse{Owner: owner, Count: len(atts), Attachments: atts})
}
