package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/scheduler"
	"github.com/conecta2tel/conectabot/internal/security"
	"github.com/conecta2tel/conectabot/internal/session"
	"github.com/conecta2tel/conectabot/internal/ticket"
)

// DefaultReminderDelay is how long after a handover the follow-up reminder
// fires unless an agent resumed the conversation first.
const DefaultReminderDelay = 10 * time.Minute

const reminderTaskKey = "reminder_task"

// handoverReminderText doubles as the journaled payload, so a reminder
// restored after a restart sends the same nudge.
const handoverReminderText = "👨‍💼 Seguimos trabajando para conectarte con un agente.\n\n" +
	"Si tu consulta ya fue resuelta o prefieres volver al asistente virtual, escribe \"menu\"."

// AdvisorHandoverFlow transfers the conversation to a human: it opens a
// high-priority ticket, pauses the bot for this identity and schedules a
// cancellable follow-up reminder. Writing "menu" resumes the bot, which
// also cancels the pending reminder.
type AdvisorHandoverFlow struct {
	messenger     Messenger
	gate          *security.Gate
	tickets       ticket.Service
	sched         *scheduler.Scheduler
	reminderDelay time.Duration
}

// AdvisorOption configures the handover flow.
type AdvisorOption func(*AdvisorHandoverFlow)

// WithReminderDelay overrides the follow-up reminder delay.
func WithReminderDelay(d time.Duration) AdvisorOption {
	return func(f *AdvisorHandoverFlow) { f.reminderDelay = d }
}

func NewAdvisorHandoverFlow(messenger Messenger, gate *security.Gate, tickets ticket.Service, sched *scheduler.Scheduler, opts ...AdvisorOption) *AdvisorHandoverFlow {
	f := &AdvisorHandoverFlow{
		messenger:     messenger,
		gate:          gate,
		tickets:       tickets,
		sched:         sched,
		reminderDelay: DefaultReminderDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *AdvisorHandoverFlow) Name() string { return advisorOwner }

func (f *AdvisorHandoverFlow) CanHandle(_ context.Context, _ *models.User, msg *models.Message, _ *session.State) bool {
	body := msg.Body()
	return commands.Is(body, commands.CmdAgent) || commands.Mentions(body, commands.CmdAgent)
}

func (f *AdvisorHandoverFlow) Handle(ctx context.Context, user *models.User, _ *models.Message, state *session.State) (Outcome, error) {
	if !user.Authenticated {
		return f.handleUnauthenticated(ctx, user)
	}
	return f.initiateHandover(ctx, user, state)
}

// handleUnauthenticated offers alternatives without forcing the login.
func (f *AdvisorHandoverFlow) handleUnauthenticated(ctx context.Context, user *models.User) (Outcome, error) {
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		"👨‍💼 **¡Hola! Quieres hablar con un agente.**\n\n"+
			"🔧 **Si ya eres cliente:**\n"+
			"Escribe \"soporte\" y autentícate con tu número de cédula\n\n"+
			"🛒 **Si acabas de contratar o eres nuevo:**\n"+
			"Escribe \"ventas\" y te conectaré con nuestro equipo comercial\n\n"+
			"📞 **Llamada directa:**\n"+
			"Llama al **3242156679** (disponible 24/7)")
}

func (f *AdvisorHandoverFlow) initiateHandover(ctx context.Context, user *models.User, state *session.State) (Outcome, error) {
	profile := decodeProfile(f.gate, user)
	suspended := profile != nil && profile.Inactive

	ticketID, err := f.tickets.CreateTicket(ctx, f.buildHandoverTicket(user, profile, suspended))
	if err != nil {
		slog.Error("AdvisorHandoverFlow Handle ticket creation failed", "phone", user.PhoneNumber, "error", err)
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ Ocurrió un error al intentar conectarte con un agente. Por favor intenta nuevamente.")
	}

	// Pause the bot for this identity before confirming, so the agent owns
	// the conversation from the next inbound message.
	state.Set(advisorOwner, pausedKey, "1")
	task := f.sched.Schedule(reminderKind(user.PhoneNumber), user.PhoneNumber, handoverReminderText, f.reminderDelay, func(string) {
		err := f.messenger.SendText(context.Background(), user.PhoneNumber, handoverReminderText)
		if err != nil {
			slog.Error("AdvisorHandoverFlow reminder send failed", "phone", user.PhoneNumber, "error", err)
		}
	})
	state.Set(advisorOwner, reminderTaskKey, task.ID)

	slog.Info("AdvisorHandoverFlow Handle handover initiated", "phone", user.PhoneNumber, "ticket_id", ticketID, "suspended", suspended)
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber, handoverConfirmationText(ticketID, suspended))
}

func (f *AdvisorHandoverFlow) buildHandoverTicket(user *models.User, profile *models.CustomerProfile, suspended bool) models.TicketRequest {
	customerName := "No proporcionado"
	if profile != nil && profile.Name != "" {
		customerName = profile.Name
	}
	requestedAt := time.Now().Format("02/01/2006 15:04")

	category := "soporte_agente"
	description := "**SOLICITUD DE AGENTE HUMANO**\n\n" +
		fmt.Sprintf("**Cliente:** %s\n", user.PhoneNumber) +
		fmt.Sprintf("**Nombre:** %s\n", customerName) +
		fmt.Sprintf("**Fecha solicitud:** %s\n\n", requestedAt) +
		"**ACCIÓN REQUERIDA:** Cliente solicita atención por agente humano."
	if suspended {
		category = "reactivacion_servicio"
		description = "**SOLICITUD DE REACTIVACIÓN DE SERVICIO**\n\n" +
			fmt.Sprintf("**Cliente:** %s\n", user.PhoneNumber) +
			fmt.Sprintf("**Nombre:** %s\n", customerName) +
			"**Estado del servicio:** SUSPENDIDO\n" +
			fmt.Sprintf("**Fecha solicitud:** %s\n\n", requestedAt) +
			"**ACCIÓN REQUERIDA:** Cliente con servicio suspendido solicita reactivación."
	}

	customerID := user.CustomerID
	if customerID == "" {
		customerID = user.PhoneNumber
	}
	return models.TicketRequest{
		CustomerID:  customerID,
		Category:    category,
		Description: description,
		Priority:    "alta",
		Source:      "whatsapp",
		Metadata: map[string]interface{}{
			"handover_request":  true,
			"service_suspended": suspended,
			"customer_name":     customerName,
			"phone":             user.PhoneNumber,
		},
	}
}

func handoverConfirmationText(ticketID string, suspended bool) string {
	now := time.Now().Format("15:04")
	if suspended {
		return "👨‍💼 **CONECTANDO CON AGENTE - SERVICIO SUSPENDIDO**\n\n" +
			"⚠️ **Tu servicio requiere reactivación**\n" +
			fmt.Sprintf("🎫 **Ticket:** #%s\n", ticketID) +
			fmt.Sprintf("⏰ **Hora:** %s\n\n", now) +
			"🔄 **¿Qué sigue?**\n" +
			"• Un agente especializado en reactivaciones te contactará\n" +
			"• Revisará tu cuenta y opciones de pago\n" +
			"• Te ayudará a reactivar tu servicio\n\n" +
			"📞 **¿Es urgente?** Llama al **3242156679**\n\n" +
			"⏳ **Tiempo estimado de respuesta:** 5-10 minutos\n" +
			"(En horario laboral: Lun-Vie 8:00-18:00, Sáb 8:00-12:00)"
	}
	return "👨‍💼 **CONECTANDO CON AGENTE HUMANO**\n\n" +
		"✅ **Tu solicitud ha sido procesada**\n" +
		fmt.Sprintf("🎫 **Ticket:** #%s\n", ticketID) +
		fmt.Sprintf("⏰ **Hora:** %s\n\n", now) +
		"🔄 **¿Qué sigue?**\n" +
		"• Un agente será notificado inmediatamente\n" +
		"• Te contactará por este mismo chat\n" +
		"• Mantén esta conversación abierta\n\n" +
		"📞 **¿Es urgente?** Llama al **3242156679**\n\n" +
		"⏳ **Tiempo estimado de respuesta:** 5-10 minutos\n" +
		"(En horario laboral: Lun-Vie 8:00-18:00, Sáb 8:00-12:00)"
}
