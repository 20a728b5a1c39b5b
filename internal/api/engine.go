package api

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/conecta2tel/conectabot/internal/flow"
	"github.com/conecta2tel/conectabot/internal/messaging"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/security"
	"github.com/conecta2tel/conectabot/internal/session"
)

// Engine rate and ordering policy.
const (
	// DefaultRateLimit is the number of inbound messages an identity may
	// send per window before being throttled.
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute

	// expiryWarningThreshold is the remaining session time at which the
	// user gets a heads-up before re-authentication is required.
	expiryWarningThreshold = 15

	workerQueueSize = 16
)

const (
	sessionExpiredText = "⏰ Tu sesión ha expirado por seguridad.\n\n" +
		"Por favor, ingresa nuevamente tu número de cédula o ID de servicio para continuar:"
	rateLimitedText = "⚠️ Has enviado demasiados mensajes en poco tiempo.\n\n" +
		"Por favor espera un momento antes de continuar."
)

// Engine consumes the transport's inbound messages and feeds the dispatcher.
// Messages from the same identity are processed strictly in order on a
// dedicated worker; different identities proceed concurrently.
type Engine struct {
	dispatcher *flow.Dispatcher
	svc        messaging.Service
	sessions   *session.Store
	gate       *security.Gate
	limiter    *rateLimiter
	now        func() time.Time

	mu      sync.Mutex
	users   map[string]*models.User
	workers map[string]chan models.Message
	// warnedSessions remembers which session ids already got the expiry
	// heads-up so it is sent at most once per session.
	warnedSessions map[string]string

	startedAt time.Time
	wg        sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRateLimit overrides the per-identity message rate policy.
func WithRateLimit(limit int, window time.Duration) EngineOption {
	return func(e *Engine) { e.limiter = newRateLimiter(limit, window, e.now) }
}

// WithEngineClock injects a time source for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
		e.limiter = newRateLimiter(e.limiter.limit, e.limiter.window, now)
	}
}

// NewEngine creates an Engine over the dispatcher and transport.
func NewEngine(dispatcher *flow.Dispatcher, svc messaging.Service, sessions *session.Store, gate *security.Gate, opts ...EngineOption) *Engine {
	e := &Engine{
		dispatcher:     dispatcher,
		svc:            svc,
		sessions:       sessions,
		gate:           gate,
		now:            time.Now,
		users:          make(map[string]*models.User),
		workers:        make(map[string]chan models.Message),
		warnedSessions: make(map[string]string),
		startedAt:      time.Now(),
	}
	e.limiter = newRateLimiter(DefaultRateLimit, DefaultRateWindow, e.now)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run consumes inbound messages until the context is cancelled or the
// transport channel closes. It blocks; run it on its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("Engine started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Engine stopping", "reason", ctx.Err())
			e.wg.Wait()
			return
		case msg, ok := <-e.svc.Messages():
			if !ok {
				slog.Info("Engine inbound channel closed")
				e.wg.Wait()
				return
			}
			e.route(ctx, msg)
		}
	}
}

// route hands the message to the identity's worker, creating it on first
// contact. A full worker queue drops the message rather than stalling every
// other conversation.
func (e *Engine) route(ctx context.Context, msg models.Message) {
	if msg.From == "" {
		slog.Warn("Engine dropping message without sender", "message_id", msg.ID)
		return
	}

	e.mu.Lock()
	queue, ok := e.workers[msg.From]
	if !ok {
		queue = make(chan models.Message, workerQueueSize)
		e.workers[msg.From] = queue
		e.wg.Add(1)
		go e.worker(ctx, queue)
	}
	e.mu.Unlock()

	select {
	case queue <- msg:
	default:
		slog.Warn("Engine worker queue full, dropping message", "phone", msg.From, "message_id", msg.ID)
	}
}

func (e *Engine) worker(ctx context.Context, queue <-chan models.Message) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			e.HandleMessage(ctx, &msg)
		}
	}
}

// HandleMessage runs the full per-message policy: rate limiting, session
// expiry, then flow dispatch. Exported for the webhook-driven transport
// tests; the worker loop is the production caller.
func (e *Engine) HandleMessage(ctx context.Context, msg *models.Message) {
	phone := msg.From

	allowed, justExceeded := e.limiter.Allow(phone)
	if !allowed {
		// Notify once per burst, then drop silently until the window clears.
		if justExceeded {
			slog.Warn("Engine rate limit exceeded", "phone", phone)
			if err := e.svc.SendText(ctx, phone, rateLimitedText); err != nil {
				slog.Error("Engine rate limit notice failed", "phone", phone, "error", err)
			}
		}
		return
	}

	user := e.userFor(phone)

	if user.Authenticated {
		status := e.gate.ValidateSession(phone)
		if !status.Valid {
			e.expireUser(ctx, user)
			return
		}
		e.maybeWarnExpiry(ctx, user, status)
	}

	now := e.now()
	user.LastActivity = &now

	state := e.sessions.Get(phone)
	e.dispatcher.Dispatch(ctx, user, msg, state)
}

// userFor returns the identity's user record, creating it on first contact.
func (e *Engine) userFor(phone string) *models.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	user, ok := e.users[phone]
	if !ok {
		user = &models.User{PhoneNumber: phone}
		e.users[phone] = user
		slog.Debug("Engine created user record", "phone", phone)
	}
	return user
}

// expireUser clears the authenticated state but keeps the accepted policy:
// the next message only needs to re-authenticate, not re-consent.
func (e *Engine) expireUser(ctx context.Context, user *models.User) {
	slog.Info("Engine session expired", "phone", user.PhoneNumber)
	user.Authenticated = false
	user.AwaitingDocument = true
	user.CustomerID = ""
	user.SessionID = ""
	user.SessionExpiresAt = nil
	user.EncryptedProfile = ""

	if state := e.sessions.Peek(user.PhoneNumber); state != nil {
		state.ActiveFlow = ""
	}

	if err := e.svc.SendText(ctx, user.PhoneNumber, sessionExpiredText); err != nil {
		slog.Error("Engine expiry notice failed", "phone", user.PhoneNumber, "error", err)
	}
}

// maybeWarnExpiry sends the near-expiry heads-up at most once per session.
func (e *Engine) maybeWarnExpiry(ctx context.Context, user *models.User, status security.SessionStatus) {
	if status.RemainingMinutes > expiryWarningThreshold {
		return
	}

	e.mu.Lock()
	already := e.warnedSessions[user.PhoneNumber] == user.SessionID
	if !already {
		e.warnedSessions[user.PhoneNumber] = user.SessionID
	}
	e.mu.Unlock()
	if already {
		return
	}

	text := "⏰ Tu sesión expirará en " + formatMinutes(status.RemainingMinutes) + ".\n\n" +
		"Si necesitas más tiempo, vuelve a autenticarte cuando expire."
	if err := e.svc.SendText(ctx, user.PhoneNumber, text); err != nil {
		slog.Error("Engine expiry warning failed", "phone", user.PhoneNumber, "error", err)
	}
}

func formatMinutes(n int) string {
	if n == 1 {
		return "1 minuto"
	}
	return strconv.Itoa(n) + " minutos"
}

// ActiveUsers reports the number of known identities. Used by the status
// endpoint.
func (e *Engine) ActiveUsers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.users)
}

// StartedAt reports when the engine was constructed.
func (e *Engine) StartedAt() time.Time {
	return e.startedAt
}

// rateLimiter enforces a sliding-window message cap per identity.
type rateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func newRateLimiter(limit int, window time.Duration, now func() time.Time) *rateLimiter {
	return &rateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    now,
	}
}

// Allow records a hit and reports whether the identity is within its cap.
// justExceeded is true only for the first rejected message of a burst, so
// the caller can notify once instead of echoing every dropped message.
func (l *rateLimiter) Allow(id string) (allowed, justExceeded bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.hits[id][:0]
	for _, t := range l.hits[id] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	l.hits[id] = kept

	if len(kept) <= l.limit {
		return true, false
	}
	return false, len(kept) == l.limit+1
}
