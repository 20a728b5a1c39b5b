package flow

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/conecta2tel/conectabot/internal/commands"
	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/security"
)

// Flow names double as session namespace owners. MainMenuFlow sets the
// ticket flow's name as ActiveFlow before deferring, so the names are
// package constants rather than per-struct literals.
const (
	initialSelectionName    = "initial_selection"
	privacyPolicyName       = "privacy_policy"
	authenticationName      = "authentication"
	logoutName              = "logout"
	mainMenuName            = "main_menu"
	debtInquiryName         = "debt_inquiry"
	planUpgradeName         = "plan_upgrade"
	paymentPointsName       = "payment_points"
	receiptVerificationName = "receipt_verification"
	ticketCreationName      = "ticket_creation"
	advisorOwner            = "advisor_handover"
)

// pausedKey marks a conversation handed over to a human agent.
const pausedKey = "bot_paused"

// reminderKind is the scheduler task kind for one identity's handover
// follow-up, so resuming cancels only that identity's reminders.
func reminderKind(phoneNumber string) string {
	return "handover_reminder:" + phoneNumber
}

// selectedServiceKey holds the ventas/soporte choice in the initial
// selection flow's namespace. Later flows read it, never write it.
const selectedServiceKey = "service"

// resolveMenuReply maps a reply to the ID of the menu option it names.
// Interactive transports echo option IDs back verbatim, but text-only
// transports degrade menus to numbered lists, so users answer with the
// option's number or its title instead. Unrecognized input is returned
// trimmed, letting callers reject it with their own prompt.
func resolveMenuReply(options []models.MenuOption, body string) string {
	reply := strings.TrimSpace(body)
	if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(options) {
		return options[n-1].ID
	}
	norm := commands.Normalize(reply)
	for _, opt := range options {
		if norm == opt.ID || norm == commands.Normalize(opt.Title) {
			return opt.ID
		}
	}
	return reply
}

// displayName returns a greeting-safe customer name.
func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "Cliente" {
		return "estimado(a) cliente"
	}
	return name
}

// firstName returns the leading word of a full name for informal greetings.
func firstName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "Cliente" {
		return "cliente"
	}
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}

// formatMoney renders an amount with thousands separators, es-CO style.
func formatMoney(amount float64) string {
	s := strconv.FormatFloat(amount, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// decodeProfile opens the sealed customer snapshot stored on the user
// record. Returns nil when there is no snapshot or it cannot be opened.
func decodeProfile(gate *security.Gate, user *models.User) *models.CustomerProfile {
	if user.EncryptedProfile == "" {
		return nil
	}
	plain, err := gate.Decrypt(user.EncryptedProfile)
	if err != nil {
		slog.Error("flow decodeProfile decrypt failed", "phone", user.PhoneNumber, "error", err)
		return nil
	}
	var profile models.CustomerProfile
	if err := json.Unmarshal([]byte(plain), &profile); err != nil {
		slog.Error("flow decodeProfile unmarshal failed", "phone", user.PhoneNumber, "error", err)
		return nil
	}
	return &profile
}

// sealProfile encrypts the directory profile into the user record.
func sealProfile(gate *security.Gate, user *models.User, profile *models.CustomerProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	blob, err := gate.Encrypt(string(raw))
	if err != nil {
		return err
	}
	user.EncryptedProfile = blob
	return nil
}
