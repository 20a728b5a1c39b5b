package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/security"
	"github.com/conecta2tel/conectabot/internal/session"
	"github.com/conecta2tel/conectabot/internal/ticket"
)

const (
	ticketStepCategory     = "category"
	ticketStepDescription  = "description"
	ticketStepConfirmation = "confirmation"

	minDescriptionLength = 10
)

var ticketCategories = map[string]string{
	"sin_internet":    "Sin Internet",
	"internet_lento":  "Internet Lento",
	"intermitente":    "Conexión Intermitente",
	"router_problema": "Problema con Router",
	"cables_danados":  "Cables Dañados",
	"configuracion":   "Configuración de Red",
	"facturacion":     "Facturación",
	"otro":            "Otro Problema",
}

func ticketCategoryMenu(clientName string) models.Menu {
	return models.Menu{
		Title: "🎫 Crear Ticket de Soporte",
		Body: fmt.Sprintf("Hola %s, vamos a crear un ticket de soporte técnico para resolver tu problema.\n\n"+
			"🔧 Selecciona la categoría que mejor describe tu situación:", clientName),
		Options: []models.MenuOption{
			{ID: "sin_internet", Title: "🚫 Sin Internet", Description: "No hay conexión a internet"},
			{ID: "internet_lento", Title: "🐌 Internet Lento", Description: "Velocidad menor a la contratada"},
			{ID: "intermitente", Title: "📶 Conexión Intermitente", Description: "Se corta constantemente"},
			{ID: "router_problema", Title: "📡 Problema con Router", Description: "Router no funciona correctamente"},
			{ID: "cables_danados", Title: "🔌 Cables Dañados", Description: "Problemas físicos de cableado"},
			{ID: "configuracion", Title: "⚙️ Configuración", Description: "Ayuda con configuración de red"},
			{ID: "facturacion", Title: "💰 Facturación", Description: "Problemas con cobros"},
			{ID: "otro", Title: "❓ Otro", Description: "Problema diferente"},
		},
	}
}

var ticketConfirmOptions = []models.MenuOption{
	{ID: "confirm_ticket", Title: "✅ Crear Ticket"},
	{ID: "cancel_ticket", Title: "❌ Cancelar"},
}

// TicketCreationFlow is the support ticket wizard: category, free-text
// description, confirmation, create. MainMenuFlow marks this flow active
// and defers, so the wizard also answers the very message that invoked it.
type TicketCreationFlow struct {
	messenger Messenger
	gate      *security.Gate
	tickets   ticket.Service
}

func NewTicketCreationFlow(messenger Messenger, gate *security.Gate, tickets ticket.Service) *TicketCreationFlow {
	return &TicketCreationFlow{messenger: messenger, gate: gate, tickets: tickets}
}

func (f *TicketCreationFlow) Name() string { return ticketCreationName }

func (f *TicketCreationFlow) CanHandle(_ context.Context, user *models.User, msg *models.Message, state *session.State) bool {
	if !user.Authenticated {
		return false
	}
	return state.ActiveFlow == ticketCreationName || commands.Is(msg.Body(), commands.CmdTicket)
}

func (f *TicketCreationFlow) Handle(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	profile := decodeProfile(f.gate, user)
	if profile != nil && profile.Inactive {
		state.ClearNamespace(ticketCreationName)
		state.ActiveFlow = ""
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"⚠️ Tu servicio está actualmente inactivo.\n\n"+
				"Para crear tickets de soporte técnico, primero debes regularizar tu cuenta.\n\n"+
				"Te recomendamos:\n"+
				"1️⃣ Verificar el estado de tu facturación\n"+
				"2️⃣ Realizar el pago pendiente si lo hubiera\n"+
				"3️⃣ Contactar a nuestro equipo de atención al cliente\n\n"+
				"Escribe \"agente\" para más información.")
	}

	switch state.Step(ticketCreationName) {
	case ticketStepCategory:
		return f.handleCategory(ctx, user, msg, state)
	case ticketStepDescription:
		return f.handleDescription(ctx, user, msg, state)
	case ticketStepConfirmation:
		return f.handleConfirmation(ctx, user, msg, state)
	default:
		return f.start(ctx, user, profile, state)
	}
}

func (f *TicketCreationFlow) start(ctx context.Context, user *models.User, profile *models.CustomerProfile, state *session.State) (Outcome, error) {
	clientName := "cliente"
	if profile != nil {
		clientName = firstName(profile.Name)
	}

	state.ActiveFlow = ticketCreationName
	state.SetStep(ticketCreationName, ticketStepCategory)
	state.Set(ticketCreationName, "client_name", clientName)

	return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, ticketCategoryMenu(clientName))
}

func (f *TicketCreationFlow) handleCategory(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	body := msg.Body()
	if commands.Is(body, commands.CmdCancel) {
		return f.cancel(ctx, user, state)
	}
	choice := resolveMenuReply(ticketCategoryMenu(state.Get(ticketCreationName, "client_name")).Options, body)
	categoryName, ok := ticketCategories[choice]
	if !ok {
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ Categoría no válida. Por favor, selecciona una opción del menú.")
	}

	state.Set(ticketCreationName, "category", choice)
	state.SetStep(ticketCreationName, ticketStepDescription)

	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		fmt.Sprintf("📝 Perfecto, seleccionaste: **%s**\n\n", categoryName)+
			"Ahora describe detalladamente tu problema:\n\n"+
			"💡 **Incluye información importante:**\n"+
			"• ¿Cuándo comenzó el problema?\n"+
			"• ¿Con qué frecuencia ocurre?\n"+
			"• ¿Qué has intentado hacer para solucionarlo?\n"+
			"• ¿Hay algún mensaje de error específico?\n"+
			"• ¿Afecta a todos los dispositivos o solo algunos?\n\n"+
			"✍️ Escribe tu descripción completa:")
}

func (f *TicketCreationFlow) handleDescription(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	body := msg.Body()
	if commands.Is(body, commands.CmdCancel) {
		return f.cancel(ctx, user, state)
	}
	if len(body) < minDescriptionLength {
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ La descripción es muy corta. Por favor, proporciona más detalles para que podamos ayudarte mejor.\n\n"+
				"Describe tu problema con al menos 10 caracteres:")
	}

	state.Set(ticketCreationName, "description", body)
	state.SetStep(ticketCreationName, ticketStepConfirmation)

	category := state.Get(ticketCreationName, "category")
	return OutcomeHandled, f.messenger.SendMenu(ctx, user.PhoneNumber, models.Menu{
		Title: "✅ Confirmar Ticket",
		Body: fmt.Sprintf("📋 **Resumen del Ticket**\n\n"+
			"👤 Cliente: %s\n"+
			"📂 Categoría: %s\n"+
			"📝 Descripción: %s\n\n"+
			"¿Deseas crear este ticket de soporte?",
			state.Get(ticketCreationName, "client_name"), ticketCategories[category], body),
		Options: ticketConfirmOptions,
	})
}

func (f *TicketCreationFlow) handleConfirmation(ctx context.Context, user *models.User, msg *models.Message, state *session.State) (Outcome, error) {
	body := msg.Body()
	if commands.Is(body, commands.CmdCancel) {
		return f.cancel(ctx, user, state)
	}
	switch resolveMenuReply(ticketConfirmOptions, body) {
	case "cancel_ticket":
		return f.cancel(ctx, user, state)
	case "confirm_ticket":
		return f.create(ctx, user, state)
	default:
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❓ No entendí tu respuesta. Por favor, selecciona una de las opciones del menú.")
	}
}

func (f *TicketCreationFlow) create(ctx context.Context, user *models.User, state *session.State) (Outcome, error) {
	category := state.Get(ticketCreationName, "category")
	if category == "" {
		category = "otro"
	}
	description := state.Get(ticketCreationName, "description")
	if description == "" {
		description = "Sin descripción"
	}

	req := models.TicketRequest{
		CustomerID:  user.CustomerID,
		Category:    category,
		Description: description,
		Priority:    "media",
		Source:      "whatsapp",
		Metadata: map[string]interface{}{
			"client_name": state.Get(ticketCreationName, "client_name"),
			"phone":       user.PhoneNumber,
		},
	}

	ticketID, err := f.tickets.CreateTicket(ctx, req)
	if err != nil {
		slog.Error("TicketCreationFlow Handle ticket creation failed", "phone", user.PhoneNumber, "error", err)
		state.ClearNamespace(ticketCreationName)
		state.ActiveFlow = ""
		return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
			"❌ Error al crear el ticket. Por favor, intenta nuevamente en unos minutos.\n\n"+
				"Si el problema persiste, contacta directamente a nuestro equipo de soporte.")
	}

	state.ClearNamespace(ticketCreationName)
	state.ActiveFlow = ""
	slog.Info("TicketCreationFlow Handle ticket created", "phone", user.PhoneNumber, "ticket_id", ticketID, "category", category)

	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		"🎉 **¡Ticket Creado Exitosamente!**\n\n"+
			fmt.Sprintf("🔍 **Ticket ID:** %s\n", ticketID)+
			fmt.Sprintf("📂 **Categoría:** %s\n", ticketCategories[category])+
			fmt.Sprintf("📅 **Fecha:** %s\n\n", time.Now().Format("02/01/2006"))+
			"👨‍💻 **Próximos Pasos:**\n"+
			"• Tu ticket será revisado por nuestro equipo técnico\n"+
			"• Recibirás actualizaciones por WhatsApp\n"+
			"• Tiempo estimado de respuesta: 2-4 horas\n\n"+
			"📞 **¿Necesitas atención urgente?** Escribe \"agente\" para soporte inmediato.")
}

func (f *TicketCreationFlow) cancel(ctx context.Context, user *models.User, state *session.State) (Outcome, error) {
	state.ClearNamespace(ticketCreationName)
	state.ActiveFlow = ""
	return OutcomeHandled, f.messenger.SendText(ctx, user.PhoneNumber,
		"❌ Creación de ticket cancelada.\n\n"+
			"Si necesitas ayuda más tarde, puedes crear un nuevo ticket desde el menú de soporte técnico.")
}
