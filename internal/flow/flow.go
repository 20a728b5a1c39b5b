// Package flow implements the conversational engine: a fixed ordered
// registry of flows scanned per inbound message, each flow a small state
// machine over the identity's namespaced session bags.
package flow

import (
	"context"
	"log/slog"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/session"
)

// Outcome is what a flow reports after handling a message it claimed.
type Outcome int

const (
	// OutcomeHandled means the message was fully consumed; dispatch stops.
	OutcomeHandled Outcome = iota
	// OutcomeDeferred means the flow did its bookkeeping but another flow
	// later in the registry owns the reply; the scan continues from the
	// next position.
	OutcomeDeferred
)

// Messenger is the outbound surface flows reply through.
type Messenger interface {
	SendText(ctx context.Context, to string, body string) error
	SendMenu(ctx context.Context, to string, menu models.Menu) error
}

// TextResponder produces a free-text reply for messages no flow claims.
// Satisfied by genai.Router.
type TextResponder interface {
	RespondText(ctx context.Context, prompt string) string
}

// TaskCanceler cancels pending scheduled tasks by kind. Satisfied by
// scheduler.Scheduler.
type TaskCanceler interface {
	CancelKind(kind string) int
}

// Flow is one conversational concern. CanHandle must be cheap and free of
// side effects; Handle may mutate the user record and the flow's own
// session namespace.
type Flow interface {
	Name() string
	CanHandle(ctx context.Context, user *models.User, msg *models.Message, state *session.State) bool
	Handle(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error)
}

const apologyText = "❌ Lo siento, ha ocurrido un error. Por favor, intenta nuevamente."

const defaultHelpText = "🤖 Hola, soy el asistente virtual de Conecta2 Telecomunicaciones.\n\n" +
	"🛒 Escribe \"Ventas\" si quieres contratar nuestros servicios\n" +
	"🔧 Escribe \"Soporte\" si ya eres cliente\n\n" +
	"Estoy aquí para ayudarte. 😊"

// Dispatcher scans the registry in order and routes each inbound message to
// the first flow that claims it.
type Dispatcher struct {
	flows     []Flow
	messenger Messenger
	ai        TextResponder
	tasks     TaskCanceler
}

// DispatcherOption configures optional dispatcher collaborators.
type DispatcherOption func(*Dispatcher)

// WithTaskCanceler lets the dispatcher cancel pending handover reminders
// when a paused conversation resumes.
func WithTaskCanceler(t TaskCanceler) DispatcherOption {
	return func(d *Dispatcher) { d.tasks = t }
}

// NewDispatcher builds a dispatcher over the given registry. Order is
// significant: flows are scanned exactly as passed.
func NewDispatcher(messenger Messenger, ai TextResponder, flows []Flow, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{flows: flows, messenger: messenger, ai: ai}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch routes one inbound message. The caller guarantees at most one
// in-flight message per identity, so state needs no locking here.
func (d *Dispatcher) Dispatch(ctx context.Context, user *models.User, msg *models.Message, state *session.State) {
	if state.Get(advisorOwner, pausedKey) == "1" {
		if !commands.Is(msg.Body(), commands.CmdMenu) {
			slog.Debug("Dispatcher Dispatch conversation paused for human agent", "phone", user.PhoneNumber)
			return
		}
		state.ClearNamespace(advisorOwner)
		if d.tasks != nil {
			d.tasks.CancelKind(reminderKind(user.PhoneNumber))
		}
		slog.Info("Dispatcher Dispatch conversation resumed", "phone", user.PhoneNumber)
	}

	for _, f := range d.flows {
		if !f.CanHandle(ctx, user, msg, state) {
			continue
		}
		outcome, ok := d.handleSafely(ctx, f, user, msg, state)
		if !ok || outcome == OutcomeHandled {
			return
		}
		slog.Debug("Dispatcher Dispatch flow deferred", "flow", f.Name(), "phone", user.PhoneNumber)
	}

	d.handleUnclaimed(ctx, user, msg)
}

// handleSafely runs one flow's Handle with panic containment. A panic or
// error yields the generic apology, a log entry and a wiped flow namespace
// so the next message starts the flow from a clean slate.
func (d *Dispatcher) handleSafely(ctx context.Context, f Flow, user *models.User, msg *models.Message, state *session.State) (outcome Outcome, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher Dispatch flow panicked", "flow", f.Name(), "phone", user.PhoneNumber, "panic", r)
			state.ClearNamespace(f.Name())
			if state.ActiveFlow == f.Name() {
				state.ActiveFlow = ""
			}
			d.sendText(ctx, user.PhoneNumber, apologyText)
			ok = false
		}
	}()

	outcome, err := f.Handle(ctx, user, msg, state)
	if err != nil {
		slog.Error("Dispatcher Dispatch flow failed", "flow", f.Name(), "phone", user.PhoneNumber, "error", err)
		state.ClearNamespace(f.Name())
		if state.ActiveFlow == f.Name() {
			state.ActiveFlow = ""
		}
		d.sendText(ctx, user.PhoneNumber, apologyText)
		return outcome, false
	}
	return outcome, true
}

// handleUnclaimed replies to a message no registered flow wanted.
// Authenticated users get an AI response; everyone else gets the default
// orientation text.
func (d *Dispatcher) handleUnclaimed(ctx context.Context, user *models.User, msg *models.Message) {
	if !user.Authenticated {
		d.sendText(ctx, user.PhoneNumber, defaultHelpText)
		return
	}
	prompt := msg.Body()
	if prompt == "" {
		d.sendText(ctx, user.PhoneNumber, defaultHelpText)
		return
	}
	reply := d.ai.RespondText(ctx, prompt)
	d.sendText(ctx, user.PhoneNumber, reply)
}

func (d *Dispatcher) sendText(ctx context.Context, to, body string) {
	if err := d.messenger.SendText(ctx, to, body); err != nil {
		slog.Error("Dispatcher sendText failed", "to", to, "error", err)
	}
}
