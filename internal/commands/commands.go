// Package commands provides the declarative command-normalization table used
// by every conversation flow.
//
// All keyword matching goes through this table: one canonical command mapped
// to its accepted literal and synonym inputs. Normalization strips emoji,
// punctuation and accents so "📋 Menú!" and "menu" resolve identically. This
// replaces per-flow string heuristics and is unit-testable independently of
// any flow.
package commands

import (
	"strings"
	"unicode"
)

// Command is a canonical conversational command.
type Command string

const (
	CmdMenu          Command = "menu"
	CmdSupport       Command = "soporte"
	CmdSales         Command = "ventas"
	CmdAgent         Command = "agente"
	CmdLogout        Command = "salir"
	CmdInvoices      Command = "facturas"
	CmdDebt          Command = "deuda"
	CmdPlanUpgrade   Command = "mejorar_plan"
	CmdPaymentPoints Command = "puntos_pago"
	CmdReceipt       Command = "comprobante"
	CmdTicket        Command = "ticket"
	CmdAcceptPolicy  Command = "acepto"
	CmdRejectPolicy  Command = "no_acepto"
	CmdCancel        Command = "cancelar"
	CmdHelp          Command = "ayuda"
)

// synonyms maps each canonical command to the normalized inputs it accepts.
// Interactive reply ids are included alongside typed keywords so button taps
// and free text resolve to the same command.
var synonyms = map[Command][]string{
	CmdMenu:          {"menu", "inicio", "opciones", "volver", "menu principal"},
	CmdSupport:       {"soporte", "soporte tecnico", "tecnico", "support"},
	CmdSales:         {"ventas", "comprar", "contratar", "sales"},
	CmdAgent:         {"agente", "asesor", "humano", "persona", "hablar con agente", "hablar con asesor"},
	CmdLogout:        {"salir", "cerrar sesion", "logout", "terminar"},
	CmdInvoices:      {"facturas", "factura", "mis facturas", "consultar facturas", "invoices"},
	CmdDebt:          {"deuda", "saldo", "cuanto debo", "estado de cuenta", "debt_inquiry"},
	CmdPlanUpgrade:   {"mejorar plan", "mejorar_plan", "cambiar plan", "upgrade", "plan"},
	CmdPaymentPoints: {"puntos de pago", "puntos_pago", "donde pagar", "puntos", "payment_points"},
	CmdReceipt:       {"comprobante", "comprobante de pago", "verificar pago", "verificar_pago", "enviar comprobante", "enviar_comprobante", "comprobante_pago", "pague", "ya pague"},
	CmdTicket:        {"ticket", "crear ticket", "crear_ticket", "reportar", "reportar falla", "nuevo ticket"},
	CmdAcceptPolicy:  {"acepto", "si acepto", "accept_privacy", "aceptar"},
	CmdRejectPolicy:  {"no acepto", "reject_privacy", "rechazar"},
	CmdCancel:        {"cancelar", "cancel", "atras", "regresar"},
	CmdHelp:          {"ayuda", "help", "que puedes hacer"},
}

// lookup is the inverted table built once at init: normalized input -> command.
var lookup = func() map[string]Command {
	m := make(map[string]Command)
	for cmd, inputs := range synonyms {
		for _, in := range inputs {
			m[in] = cmd
		}
	}
	return m
}()

// accentFolds maps accented runes used in Spanish input to their base form.
var accentFolds = map[rune]rune{
	'á': 'a', 'é': 'e', 'í': 'i', 'ó': 'o', 'ú': 'u', 'ü': 'u', 'ñ': 'n',
	'Á': 'a', 'É': 'e', 'Í': 'i', 'Ó': 'o', 'Ú': 'u', 'Ü': 'u', 'Ñ': 'n',
}

// Normalize lowercases the input, folds accents, strips emoji, symbols and
// punctuation, and collapses runs of whitespace to single spaces.
func Normalize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(input)) {
		if folded, ok := accentFolds[r]; ok {
			r = folded
		}
		switch {
		case unicode.IsLetter(r) && r < 0x2000, unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case r == '_':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// emoji, punctuation, symbols: dropped
		}
	}
	return strings.TrimSpace(b.String())
}

// Match resolves the input to a canonical command via exact normalized match.
func Match(input string) (Command, bool) {
	cmd, ok := lookup[Normalize(input)]
	return cmd, ok
}

// Is reports whether the input resolves exactly to the given command.
func Is(input string, cmd Command) bool {
	got, ok := Match(input)
	return ok && got == cmd
}

// Mentions reports whether any synonym of the command appears as a word
// inside the normalized input. Used by flows that recognize a topic within a
// longer sentence ("quiero enviar mi comprobante de pago").
func Mentions(input string, cmd Command) bool {
	norm := " " + Normalize(input) + " "
	for _, syn := range synonyms[cmd] {
		if strings.Contains(norm, " "+syn+" ") {
			return true
		}
	}
	return false
}
