// Package api wires the bot's modules together and runs the service: the
// messaging transport, the conversation engine, the maintenance jobs and the
// HTTP surface (health endpoint plus the Twilio inbound webhook).
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/conecta2tel/conectabot/internal/directory"
	"github.com/conecta2tel/conectabot/internal/flow"
	"github.com/conecta2tel/conectabot/internal/genai"
	"github.com/conecta2tel/conectabot/internal/lockfile"
	"github.com/conecta2tel/conectabot/internal/media"
	"github.com/conecta2tel/conectabot/internal/messaging"
	"github.com/conecta2tel/conectabot/internal/payment"
	"github.com/conecta2tel/conectabot/internal/scheduler"
	"github.com/conecta2tel/conectabot/internal/security"
	"github.com/conecta2tel/conectabot/internal/session"
	"github.com/conecta2tel/conectabot/internal/store"
	"github.com/conecta2tel/conectabot/internal/ticket"
	"github.com/conecta2tel/conectabot/internal/twiliowhatsapp"
	"github.com/conecta2tel/conectabot/internal/util"
	"github.com/conecta2tel/conectabot/internal/whatsapp"
)

// Default configuration values.
const (
	DefaultAddr     = ":8080"
	DefaultStateDir = "/var/lib/conectabot"

	// Cron expressions for the maintenance jobs.
	sessionSweepSchedule = "*/5 * * * *"
	attachmentGCSchedule = "30 3 * * *"

	shutdownTimeout = 10 * time.Second
)

// Opts holds API server configuration.
type Opts struct {
	Addr     string
	StateDir string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the directory for attachments and the instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// Run assembles the modules and serves until interrupted. It blocks for the
// lifetime of the process.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, StateDir: DefaultStateDir}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	defer lock.Release()

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := buildAIRouter(ctx)
	gate := buildGate()
	sessions := session.NewStore()
	sched := scheduler.NewScheduler(scheduler.WithJournal(st))
	defer sched.Stop()

	transport, err := buildTransport(waOpts)
	if err != nil {
		return fmt.Errorf("failed to build messaging transport: %w", err)
	}

	mediaStore, err := media.NewStore(transport.mediaSource, st, filepath.Join(cfg.StateDir, "attachments"))
	if err != nil {
		return fmt.Errorf("failed to open attachment store: %w", err)
	}

	dir, err := buildDirectory()
	if err != nil {
		return fmt.Errorf("failed to build customer directory client: %w", err)
	}
	tickets := buildTicketService(st)
	verifier := payment.NewVerifier(router, payment.NewValidator())

	registry := flow.DefaultRegistry(flow.RegistryDeps{
		Messenger: transport.svc,
		Gate:      gate,
		Sessions:  sessions,
		Directory: dir,
		Media:     mediaStore,
		Verifier:  verifier,
		Tickets:   tickets,
		Scheduler: sched,
	})
	dispatcher := flow.NewDispatcher(transport.svc, router, registry, flow.WithTaskCanceler(sched))
	engine := NewEngine(dispatcher, transport.svc, sessions, gate,
		WithRateLimit(
			util.ParseIntEnv("RATE_LIMIT_MESSAGES", DefaultRateLimit),
			util.ParseDurationEnv("RATE_LIMIT_WINDOW", DefaultRateWindow),
		))

	registerMaintenanceJobs(sched, sessions, gate, mediaStore, transport.waMedia)

	if err := transport.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer transport.svc.Stop()

	restorePendingFollowUps(sched, st, transport.svc)

	go engine.Run(ctx)

	srv := newServer(cfg.Addr, engine, router, st, sessions, sched, transport.twilioSvc)
	errc := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}
	slog.Info("API server stopped")
	return nil
}

// transportBundle groups the messaging service with the media source that
// matches its channel. waMedia and twilioSvc are nil for the transport not
// in use.
type transportBundle struct {
	svc         messaging.Service
	mediaSource media.Source
	waMedia     *whatsapp.MediaSource
	twilioSvc   *messaging.TwilioService
}

// buildTransport selects the messaging channel: Twilio when its credentials
// are configured, the Whatsmeow client otherwise.
func buildTransport(waOpts []whatsapp.Option) (*transportBundle, error) {
	if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
		slog.Info("Messaging transport selected", "transport", "twilio")
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		svc := messaging.NewTwilioService(client)
		return &transportBundle{
			svc:         svc,
			mediaSource: media.NewDirectURLSource(os.Getenv("TWILIO_ACCOUNT_SID"), os.Getenv("TWILIO_AUTH_TOKEN")),
			twilioSvc:   svc,
		}, nil
	}

	slog.Info("Messaging transport selected", "transport", "whatsmeow")
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	waMedia := whatsapp.NewMediaSource(client.GetClient())
	return &transportBundle{
		svc:         messaging.NewWhatsAppService(client, waMedia),
		mediaSource: waMedia,
		waMedia:     waMedia,
	}, nil
}

// buildStore opens the configured backend; with no DSN everything stays in
// memory.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var opts store.Opts
	for _, opt := range storeOpts {
		opt(&opts)
	}
	switch {
	case opts.DSN == "":
		slog.Warn("No database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(opts.DSN) == "postgres":
		return store.NewPostgresStore(storeOpts...)
	default:
		return store.NewSQLiteStore(storeOpts...)
	}
}

// buildAIRouter assembles the provider failover chain: OpenAI primary,
// Gemini fallback. A provider whose key is missing is simply absent; the
// router degrades to canned responses when both are.
func buildAIRouter(ctx context.Context) *genai.Router {
	var primary, fallback genai.Provider

	if p, err := genai.NewOpenAIProvider(); err != nil {
		slog.Warn("OpenAI provider not configured", "error", err)
	} else {
		primary = p
	}
	if p, err := genai.NewGeminiProvider(ctx); err != nil {
		slog.Warn("Gemini provider not configured", "error", err)
	} else {
		fallback = p
	}

	if primary == nil && fallback == nil {
		slog.Warn("No AI provider configured, conversational responses will be canned")
	}
	if primary == nil {
		primary, fallback = fallback, nil
	}
	return genai.NewRouter(primary, fallback)
}

// buildGate configures the security gate. Without SESSION_ENCRYPTION_KEY a
// random per-boot secret is generated; sealed profiles then do not survive a
// restart, which matches the in-memory session lifetime anyway.
func buildGate() *security.Gate {
	secret := os.Getenv("SESSION_ENCRYPTION_KEY")
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("failed to generate session secret: %v", err))
		}
		secret = hex.EncodeToString(buf)
		slog.Warn("SESSION_ENCRYPTION_KEY not set, generated ephemeral secret")
	}
	return security.NewGate(security.WithEncryptionKey(secret))
}

// buildDirectory creates the customer-directory client from CONECTA2_API_KEY
// and the optional CONECTA2_API_URL override.
func buildDirectory() (*directory.Client, error) {
	var opts []directory.Option
	if base := os.Getenv("CONECTA2_API_URL"); base != "" {
		opts = append(opts, directory.WithBaseURL(base))
	}
	return directory.NewClient(os.Getenv("CONECTA2_API_KEY"), opts...)
}

// buildTicketService uses the external ticketing API when configured and
// falls back to locally issued tickets recorded in the store.
func buildTicketService(st store.Store) ticket.Service {
	baseURL := os.Getenv("TICKET_API_URL")
	if baseURL == "" {
		slog.Info("No ticket API configured, issuing tickets locally")
		return ticket.NewLocalService(st)
	}
	svc, err := ticket.NewHTTPService(baseURL, os.Getenv("TICKET_API_KEY"))
	if err != nil {
		slog.Warn("Ticket API misconfigured, issuing tickets locally", "error", err)
		return ticket.NewLocalService(st)
	}
	return svc
}

// registerMaintenanceJobs wires the recurring cleanups: stale conversation
// sessions and expired auth state every few minutes, old attachments daily.
// The whatsmeow media reference table rides the session sweep.
func registerMaintenanceJobs(sched *scheduler.Scheduler, sessions *session.Store, gate *security.Gate, mediaStore *media.Store, waMedia *whatsapp.MediaSource) {
	if err := sched.AddJob(sessionSweepSchedule, func() {
		evicted := sessions.Sweep()
		if len(evicted) > 0 {
			slog.Debug("Maintenance swept conversation sessions", "count", len(evicted))
		}
		if cleaned := gate.Sweep(); cleaned > 0 {
			slog.Debug("Maintenance swept auth sessions and lockouts", "count", cleaned)
		}
		if waMedia != nil {
			waMedia.Sweep()
		}
	}); err != nil {
		slog.Error("Failed to register session sweep job", "error", err)
	}

	if err := sched.AddJob(attachmentGCSchedule, func() {
		removed, err := mediaStore.Cleanup()
		if err != nil {
			slog.Error("Attachment cleanup failed", "error", err)
			return
		}
		if removed > 0 {
			slog.Info("Maintenance removed old attachments", "count", removed)
		}
	}); err != nil {
		slog.Error("Failed to register attachment cleanup job", "error", err)
	}
}

// restorePendingFollowUps reschedules the journaled follow-up reminders that
// had not fired when the previous process stopped. Rescheduling writes a
// fresh journal record, so the old one is removed first. Overdue reminders
// go out shortly after start rather than being dropped.
func restorePendingFollowUps(sched *scheduler.Scheduler, st store.Store, svc messaging.Service) {
	pending, err := st.ListPendingFollowUps()
	if err != nil {
		slog.Error("Failed to list journaled follow-ups", "error", err)
		return
	}

	restored := 0
	for _, f := range pending {
		if err := st.DeleteFollowUp(f.ID); err != nil {
			slog.Warn("Failed to drop stale follow-up record", "task_id", f.ID, "error", err)
		}
		if f.Recipient == "" || f.Payload == "" {
			slog.Warn("Skipping journaled follow-up without recipient or payload", "task_id", f.ID, "kind", f.Kind)
			continue
		}
		delay := time.Until(f.RunAt)
		if delay < 0 {
			delay = 0
		}
		sched.Schedule(f.Kind, f.Recipient, f.Payload, delay, func(string) {
			if err := svc.SendText(context.Background(), f.Recipient, f.Payload); err != nil {
				slog.Error("Restored follow-up send failed", "to", f.Recipient, "error", err)
			}
		})
		restored++
	}
	if restored > 0 {
		slog.Info("Restored journaled follow-ups", "count", restored)
	}
}
