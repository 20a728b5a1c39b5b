package flow

import "github.com/conecta2tel/conectabot/internal/models"

// Option ids are taken from the command table's synonym lists so a button
// tap and the typed keyword resolve to the same canonical command.

func welcomeMenu() models.Menu {
	return models.Menu{
		Title: "🌟 ¡Bienvenido a Conecta2 Telecomunicaciones!",
		Body: "¡Hola! Soy tu asistente virtual de Conecta2 Telecomunicaciones. " +
			"¿En qué puedo ayudarte hoy? 😊\n\nSelecciona una opción:",
		Options: []models.MenuOption{
			{ID: "ventas", Title: "🛒 Ventas"},
			{ID: "soporte", Title: "🔧 Ya soy cliente"},
		},
	}
}

func privacyPolicyMenu() models.Menu {
	return models.Menu{
		Title: "🛡️ Conecta2 Telecomunicaciones",
		Body: "Bienvenido a Conecta2 Telecomunicaciones SAS.\n\n" +
			"Para brindarte el mejor servicio, necesitamos tu autorización para el " +
			"tratamiento de tus datos personales según nuestra política de privacidad.\n\n" +
			"📋 Tus datos serán utilizados únicamente para:\n" +
			"• Gestión de tu cuenta y servicios\n" +
			"• Soporte técnico personalizado\n" +
			"• Facturación y pagos\n" +
			"• Comunicaciones importantes\n\n" +
			"📄 *Marco Legal:*\n" +
			"• Ley 1581 de 2012 - Protección de Datos Personales\n" +
			"• Decreto 1377 de 2013\n\n" +
			"🔗 *Política de Privacidad:*\n" +
			"https://conecta2telecomunicaciones.com/legal/politica-de-privacidad\n\n" +
			"¿Autorizas el tratamiento de tus datos personales?",
		Options: []models.MenuOption{
			{ID: "accept_privacy", Title: "Acepto"},
			{ID: "reject_privacy", Title: "No acepto"},
		},
	}
}

func mainMenu() models.Menu {
	return models.Menu{
		Title: "🌐 Conecta2 - Menú Principal",
		Body:  "Selecciona la opción que necesitas:",
		Options: []models.MenuOption{
			{ID: "crear_ticket", Title: "🔧 Soporte Técnico", Description: "Reportar problemas técnicos"},
			{ID: "factura", Title: "📄 Mi Factura", Description: "Consultar y descargar facturas"},
			{ID: "deuda", Title: "💰 Consultar Deuda", Description: "Ver saldo pendiente"},
			{ID: "puntos_pago", Title: "📍 Puntos de Pago", Description: "Ubicaciones para pagar"},
			{ID: "mejorar_plan", Title: "⬆️ Mejorar Plan", Description: "Upgrade de velocidad"},
			{ID: "verificar_pago", Title: "💳 Validar Pago", Description: "Subir comprobante de pago"},
			{ID: "agente", Title: "👨‍💼 Hablar con Agente", Description: "Contactar soporte humano"},
			{ID: "logout", Title: "👋 Cerrar Sesión", Description: "Finalizar sesión actual"},
		},
	}
}

// restrictedMenu is what inactive (suspended) customers see: billing and
// reactivation paths only.
func restrictedMenu() models.Menu {
	return models.Menu{
		Title: "🔶 Opciones Disponibles",
		Body:  "Tu servicio está inactivo. Estas son las opciones disponibles:",
		Options: []models.MenuOption{
			{ID: "factura", Title: "📄 Mi Factura", Description: "Consultar y descargar facturas"},
			{ID: "deuda", Title: "💰 Consultar Deuda", Description: "Ver saldo pendiente"},
			{ID: "puntos_pago", Title: "📍 Puntos de Pago", Description: "Ubicaciones para pagar"},
			{ID: "agente", Title: "👨‍💼 Hablar con Agente", Description: "Contactar soporte humano"},
			{ID: "logout", Title: "👋 Cerrar Sesión", Description: "Finalizar sesión actual"},
		},
	}
}
