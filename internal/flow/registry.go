package flow

import (
	"github.com/conecta2tel/conectabot/internal/media"
	"github.com/conecta2tel/conectabot/internal/payment"
	"github.com/conecta2tel/conectabot/internal/scheduler"
	"github.com/conecta2tel/conectabot/internal/security"
	"github.com/conecta2tel/conectabot/internal/session"
	"github.com/conecta2tel/conectabot/internal/ticket"
)

// DirectoryService is the full customer-directory surface the registry
// needs. Satisfied by directory.Client.
type DirectoryService interface {
	Directory
	DebtDirectory
	PlanDirectory
}

// RegistryDeps carries every collaborator the standard registry wires into
// its flows. All dependencies are injected here; flows never construct
// their own.
type RegistryDeps struct {
	Messenger Messenger
	Gate      *security.Gate
	Sessions  *session.Store
	Directory DirectoryService
	Media     *media.Store
	Verifier  *payment.Verifier
	Tickets   ticket.Service
	Scheduler *scheduler.Scheduler
}

// DefaultRegistry returns the production flows in their pinned scan order.
// The order is load-bearing: the menu flow defers the ticket command to the
// specialized wizard registered after it, and the selection/privacy/auth
// chain gates everything behind consent.
func DefaultRegistry(d RegistryDeps) []Flow {
	return []Flow{
		NewInitialSelectionFlow(d.Messenger),
		NewPrivacyPolicyFlow(d.Messenger),
		NewAuthenticationFlow(d.Messenger, d.Gate, d.Directory),
		NewLogoutFlow(d.Messenger, d.Gate, d.Sessions),
		NewMainMenuFlow(d.Messenger, d.Gate),
		NewDebtInquiryFlow(d.Messenger, d.Directory),
		NewPlanUpgradeFlow(d.Messenger, d.Directory, d.Tickets),
		NewPaymentPointsFlow(d.Messenger),
		NewReceiptVerificationFlow(d.Messenger, d.Media, d.Verifier, d.Tickets),
		NewTicketCreationFlow(d.Messenger, d.Gate, d.Tickets),
		NewAdvisorHandoverFlow(d.Messenger, d.Gate, d.Tickets, d.Scheduler),
	}
}
