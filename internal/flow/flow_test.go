package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
	"github.com/conecta2tel/conectabot/internal/scheduler"
	"github.com/conecta2tel/conectabot/internal/security"
	"github.com/conecta2tel/conectabot/internal/session"
)

type sentText struct {
	to   string
	body string
}

type fakeMessenger struct {
	texts []sentText
	menus []models.Menu
}

func (m *fakeMessenger) SendText(_ context.Context, to, body string) error {
	m.texts = append(m.texts, sentText{to: to, body: body})
	return nil
}

func (m *fakeMessenger) SendMenu(_ context.Context, to string, menu models.Menu) error {
	m.menus = append(m.menus, menu)
	return nil
}

func (m *fakeMessenger) lastText() string {
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1].body
}

func (m *fakeMessenger) lastMenu() models.Menu {
	if len(m.menus) == 0 {
		return models.Menu{}
	}
	return m.menus[len(m.menus)-1]
}

type fakeAI struct {
	reply   string
	prompts []string
}

func (a *fakeAI) RespondText(_ context.Context, prompt string) string {
	a.prompts = append(a.prompts, prompt)
	return a.reply
}

type fakeDirectory struct {
	profiles map[string]*models.CustomerProfile
	debt     *models.DebtInfo
	debtErr  error
	plans    []models.Plan
	plansErr error
}

func (d *fakeDirectory) Authenticate(_ context.Context, identifier string) (*models.CustomerProfile, error) {
	if p, ok := d.profiles[identifier]; ok {
		return p, nil
	}
	return nil, models.ErrCustomerNotFound
}

func (d *fakeDirectory) GetDebt(_ context.Context, _ string) (*models.DebtInfo, error) {
	return d.debt, d.debtErr
}

func (d *fakeDirectory) GetPlans(_ context.Context) ([]models.Plan, error) {
	return d.plans, d.plansErr
}

type fakeTickets struct {
	id   string
	err  error
	reqs []models.TicketRequest
}

func (t *fakeTickets) CreateTicket(_ context.Context, req models.TicketRequest) (string, error) {
	t.reqs = append(t.reqs, req)
	if t.err != nil {
		return "", t.err
	}
	return t.id, nil
}

// manualTimers replaces the scheduler's timers so tests fire them by hand.
type manualTimers struct {
	fns     []func()
	stopped []bool
}

func (m *manualTimers) afterFunc(_ time.Duration, fn func()) func() bool {
	i := len(m.fns)
	m.fns = append(m.fns, fn)
	m.stopped = append(m.stopped, false)
	return func() bool {
		if m.stopped[i] {
			return false
		}
		m.stopped[i] = true
		return true
	}
}

func (m *manualTimers) fire(i int) {
	if !m.stopped[i] {
		m.stopped[i] = true
		m.fns[i]()
	}
}

func textMessage(from, body string) *models.Message {
	return &models.Message{
		From:      from,
		ID:        "wamid.test",
		Timestamp: time.Now(),
		Type:      models.MessageTypeText,
		Text:      body,
	}
}

func interactiveMessage(from, replyID string) *models.Message {
	return &models.Message{
		From:      from,
		ID:        "wamid.test",
		Timestamp: time.Now(),
		Type:      models.MessageTypeInteractive,
		Interactive: &models.InteractiveReply{
			Kind: "button_reply",
			ID:   replyID,
		},
	}
}

const testPhone = "573001112233"

type harness struct {
	messenger *fakeMessenger
	ai        *fakeAI
	directory *fakeDirectory
	tickets   *fakeTickets
	gate      *security.Gate
	sessions  *session.Store
	sched     *scheduler.Scheduler
	timers    *manualTimers
	disp      *Dispatcher
	user      *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		messenger: &fakeMessenger{},
		ai:        &fakeAI{reply: "Respuesta generada."},
		directory: &fakeDirectory{profiles: map[string]*models.CustomerProfile{}},
		tickets:   &fakeTickets{id: "WH-4451"},
		gate:      security.NewGate(security.WithEncryptionKey("test-secret")),
		sessions:  session.NewStore(),
		timers:    &manualTimers{},
		user:      &models.User{PhoneNumber: testPhone},
	}
	h.sched = scheduler.NewScheduler(scheduler.WithAfterFunc(h.timers.afterFunc))
	t.Cleanup(h.sched.Stop)

	flows := DefaultRegistry(RegistryDeps{
		Messenger: h.messenger,
		Gate:      h.gate,
		Sessions:  h.sessions,
		Directory: h.directory,
		Tickets:   h.tickets,
		Scheduler: h.sched,
	})
	// The receipt flow needs a media store; dispatcher tests that exercise
	// it build their own registry (see receipt tests).
	kept := flows[:0]
	for _, f := range flows {
		if f.Name() != receiptVerificationName {
			kept = append(kept, f)
		}
	}
	h.disp = NewDispatcher(h.messenger, h.ai, kept, WithTaskCanceler(h.sched))
	return h
}

func (h *harness) dispatch(msg *models.Message) {
	h.disp.Dispatch(context.Background(), h.user, msg, h.sessions.Get(h.user.PhoneNumber))
}

// authenticate walks the selection/privacy/authentication chain so later
// tests start from a logged-in user.
func (h *harness) authenticate(t *testing.T, profile *models.CustomerProfile) {
	t.Helper()
	h.directory.profiles["1094123456"] = profile
	h.dispatch(textMessage(testPhone, "hola"))
	h.dispatch(interactiveMessage(testPhone, "soporte"))
	h.dispatch(interactiveMessage(testPhone, "accept_privacy"))
	h.dispatch(textMessage(testPhone, "1094123456"))
	if !h.user.Authenticated {
		t.Fatalf("authentication chain did not authenticate the user; last reply %q", h.messenger.lastText())
	}
}

func activeProfile() *models.CustomerProfile {
	return &models.CustomerProfile{
		ID:       "CUST-88",
		Name:     "Laura Gómez",
		Document: "1094123456",
		Status:   "Activo",
	}
}

func TestFirstContactSendsWelcomeMenu(t *testing.T) {
	h := newHarness(t)

	h.dispatch(textMessage(testPhone, "hola"))

	if len(h.messenger.menus) != 1 {
		t.Fatalf("expected 1 menu, got %d", len(h.messenger.menus))
	}
	menu := h.messenger.lastMenu()
	if !strings.Contains(menu.Title, "Bienvenido") {
		t.Errorf("unexpected welcome title %q", menu.Title)
	}
	ids := []string{menu.Options[0].ID, menu.Options[1].ID}
	if ids[0] != "ventas" || ids[1] != "soporte" {
		t.Errorf("unexpected option ids %v", ids)
	}
	state := h.sessions.Peek(testPhone)
	if state.ActiveFlow != initialSelectionName {
		t.Errorf("ActiveFlow = %q, want %q", state.ActiveFlow, initialSelectionName)
	}
}

func TestServiceSelectionLeadsToPrivacyPolicy(t *testing.T) {
	h := newHarness(t)
	h.dispatch(textMessage(testPhone, "hola"))

	h.dispatch(interactiveMessage(testPhone, "soporte"))

	menu := h.messenger.lastMenu()
	if !strings.Contains(menu.Body, "tratamiento de tus datos personales") {
		t.Errorf("expected privacy policy menu, got body %q", menu.Body)
	}
	state := h.sessions.Peek(testPhone)
	if got := state.Get(initialSelectionName, selectedServiceKey); got != "soporte" {
		t.Errorf("selected service = %q, want soporte", got)
	}
}

func TestInvalidSelectionRepromptsOptions(t *testing.T) {
	h := newHarness(t)
	h.dispatch(textMessage(testPhone, "hola"))

	h.dispatch(textMessage(testPhone, "quiero pizza"))

	if !strings.Contains(h.messenger.lastText(), "selecciona una opción válida") {
		t.Errorf("expected reprompt, got %q", h.messenger.lastText())
	}
}

func TestPrivacyAcceptanceAsksForDocument(t *testing.T) {
	h := newHarness(t)
	h.dispatch(textMessage(testPhone, "hola"))
	h.dispatch(interactiveMessage(testPhone, "soporte"))

	h.dispatch(interactiveMessage(testPhone, "accept_privacy"))

	if !h.user.AcceptedPolicy {
		t.Fatal("AcceptedPolicy should be true")
	}
	if !h.user.AwaitingDocument {
		t.Fatal("AwaitingDocument should be true")
	}
	if !strings.Contains(h.messenger.lastText(), "cédula") {
		t.Errorf("expected document prompt, got %q", h.messenger.lastText())
	}
}

func TestPrivacyRejectionEndsConversation(t *testing.T) {
	h := newHarness(t)
	h.dispatch(textMessage(testPhone, "hola"))
	h.dispatch(interactiveMessage(testPhone, "ventas"))

	h.dispatch(interactiveMessage(testPhone, "reject_privacy"))

	if h.user.AcceptedPolicy {
		t.Fatal("AcceptedPolicy should stay false")
	}
	if !strings.Contains(h.messenger.lastText(), "Respetamos tu decisión") {
		t.Errorf("expected rejection text, got %q", h.messenger.lastText())
	}
}

func TestAuthenticationSuccessOpensSession(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t, activeProfile())

	if h.user.CustomerID != "CUST-88" {
		t.Errorf("CustomerID = %q, want CUST-88", h.user.CustomerID)
	}
	if h.user.EncryptedProfile == "" {
		t.Error("EncryptedProfile should be sealed")
	}
	if h.user.SessionExpiresAt == nil {
		t.Fatal("SessionExpiresAt should be set")
	}
	status := h.gate.ValidateSession(testPhone)
	if !status.Valid || status.Restricted {
		t.Errorf("session status = %+v, want valid unrestricted", status)
	}
	// Greeting then main menu.
	var greeting string
	for _, s := range h.messenger.texts {
		if strings.Contains(s.body, "Autenticación exitosa") {
			greeting = s.body
		}
	}
	if !strings.Contains(greeting, "Laura Gómez") || !strings.Contains(greeting, "2 horas") {
		t.Errorf("unexpected greeting %q", greeting)
	}
	if !strings.Contains(h.messenger.lastMenu().Title, "Menú Principal") {
		t.Errorf("expected main menu, got %q", h.messenger.lastMenu().Title)
	}
}

func TestAuthenticationRejectsBadFormat(t *testing.T) {
	h := newHarness(t)
	h.dispatch(textMessage(testPhone, "hola"))
	h.dispatch(interactiveMessage(testPhone, "soporte"))
	h.dispatch(interactiveMessage(testPhone, "accept_privacy"))

	h.dispatch(textMessage(testPhone, "abc-123"))

	if h.user.Authenticated {
		t.Fatal("user should not be authenticated")
	}
	if !strings.Contains(h.messenger.lastText(), "entre 1 y 12 dígitos") {
		t.Errorf("expected format error, got %q", h.messenger.lastText())
	}
}

func TestAuthenticationFailureCountsAttempts(t *testing.T) {
	h := newHarness(t)
	h.dispatch(textMessage(testPhone, "hola"))
	h.dispatch(interactiveMessage(testPhone, "soporte"))
	h.dispatch(interactiveMessage(testPhone, "accept_privacy"))

	h.dispatch(textMessage(testPhone, "999999"))

	if !strings.Contains(h.messenger.lastText(), "Intentos restantes: 2") {
		t.Errorf("expected 2 remaining attempts, got %q", h.messenger.lastText())
	}

	h.dispatch(textMessage(testPhone, "999999"))
	h.dispatch(textMessage(testPhone, "999999"))

	if !strings.Contains(h.messenger.lastText(), "bloqueada temporalmente por 15 minutos") {
		t.Errorf("expected lockout text, got %q", h.messenger.lastText())
	}

	// While locked even a valid document is refused.
	h.directory.profiles["1094123456"] = activeProfile()
	h.dispatch(textMessage(testPhone, "1094123456"))
	if h.user.Authenticated {
		t.Fatal("locked identity must not authenticate")
	}
	if !strings.Contains(h.messenger.lastText(), "bloqueada temporalmente") {
		t.Errorf("expected blocked reply, got %q", h.messenger.lastText())
	}
}

func TestAuthenticationInactiveCustomerGetsRestrictedSession(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t, &models.CustomerProfile{
		ID:       "CUST-44",
		Name:     "Carlos Ruiz",
		Status:   "Suspendido",
		Inactive: true,
	})

	status := h.gate.ValidateSession(testPhone)
	if !status.Valid || !status.Restricted {
		t.Fatalf("session status = %+v, want valid restricted", status)
	}
	var warning string
	for _, s := range h.messenger.texts {
		if strings.Contains(s.body, "inactivo") {
			warning = s.body
		}
	}
	if !strings.Contains(warning, "Estado: Suspendido") {
		t.Errorf("expected status in warning, got %q", warning)
	}
	if !strings.Contains(h.messenger.lastMenu().Body, "servicio está inactivo") {
		t.Errorf("expected restricted menu, got %q", h.messenger.lastMenu().Body)
	}
}

func TestLogoutWipesUserAndNamespaces(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t, activeProfile())
	state := h.sessions.Get(testPhone)
	state.Set("some_flow", "key", "value")

	h.dispatch(textMessage(testPhone, "salir"))

	if h.user.Authenticated || h.user.EncryptedProfile != "" || h.user.CustomerID != "" {
		t.Errorf("user record not wiped: %+v", h.user)
	}
	if h.gate.ValidateSession(testPhone).Valid {
		t.Error("security session should be invalidated")
	}
	if h.sessions.Peek(testPhone) != nil {
		t.Error("conversation state should be cleared")
	}
	if !strings.Contains(h.messenger.lastText(), "Sesión Finalizada") {
		t.Errorf("expected goodbye, got %q", h.messenger.lastText())
	}
}

func TestUnclaimedAuthenticatedMessageGoesToAI(t *testing.T) {
	h := newHarness(t)
	h.authenticate(t, activeProfile())

	h.dispatch(textMessage(testPhone, "mi internet anda raro desde ayer por la noche"))

	if len(h.ai.prompts) != 1 {
		t.Fatalf("expected 1 AI prompt, got %d", len(h.ai.prompts))
	}
	if h.messenger.lastText() != "Respuesta generada." {
		t.Errorf("expected AI reply, got %q", h.messenger.lastText())
	}
}

func TestUnclaimedUnauthenticatedMessageGetsHelp(t *testing.T) {
	h := newHarness(t)
	// Past the selection gate but unauthenticated and without claims.
	h.user.AcceptedPolicy = true
	h.sessions.Get(testPhone).Set(initialSelectionName, selectedServiceKey, "ventas")

	h.dispatch(textMessage(testPhone, "9999999999999999999"))

	if len(h.ai.prompts) != 0 {
		t.Fatal("AI must not answer unauthenticated users")
	}
	if !strings.Contains(h.messenger.lastText(), "asistente virtual de Conecta2") {
		t.Errorf("expected default help, got %q", h.messenger.lastText())
	}
}

type panicFlow struct{}

func (panicFlow) Name() string { return "panic_flow" }
func (panicFlow) CanHandle(context.Context, *models.User, *models.Message, *session.State) bool {
	return true
}
func (panicFlow) Handle(context.Context, *models.User, *models.Message, *session.State) (Outcome, error) {
	panic("boom")
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	messenger := &fakeMessenger{}
	sessions := session.NewStore()
	disp := NewDispatcher(messenger, &fakeAI{}, []Flow{panicFlow{}})
	user := &models.User{PhoneNumber: testPhone}
	state := sessions.Get(testPhone)
	state.Set("panic_flow", "partial", "state")

	disp.Dispatch(context.Background(), user, textMessage(testPhone, "hola"), state)

	if messenger.lastText() != apologyText {
		t.Errorf("expected apology, got %q", messenger.lastText())
	}
	if state.Get("panic_flow", "partial") != "" {
		t.Error("panicking flow's namespace should be cleared")
	}
}

type errorFlow struct{}

func (errorFlow) Name() string { return "error_flow" }
func (errorFlow) CanHandle(context.Context, *models.User, *models.Message, *session.State) bool {
	return true
}
func (errorFlow) Handle(context.Context, *models.User, *models.Message, *session.State) (Outcome, error) {
	return OutcomeHandled, errors.New("downstream unavailable")
}

func TestDispatcherSendsApologyOnFlowError(t *testing.T) {
	messenger := &fakeMessenger{}
	sessions := session.NewStore()
	disp := NewDispatcher(messenger, &fakeAI{}, []Flow{errorFlow{}})
	user := &models.User{PhoneNumber: testPhone}

	disp.Dispatch(context.Background(), user, textMessage(testPhone, "hola"), sessions.Get(testPhone))

	if messenger.lastText() != apologyText {
		t.Errorf("expected apology, got %q", messenger.lastText())
	}
}

func TestFormatMoney(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.000"},
		{58900, "58.900"},
		{117800, "117.800"},
		{1234567, "1.234.567"},
	}
	for _, tc := range cases {
		if got := formatMoney(tc.in); got != tc.want {
			t.Errorf("formatMoney(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := displayName(""); got != "estimado(a) cliente" {
		t.Errorf("displayName(empty) = %q", got)
	}
	if got := displayName("Cliente"); got != "estimado(a) cliente" {
		t.Errorf("displayName(Cliente) = %q", got)
	}
	if got := displayName("Laura Gómez"); got != "Laura Gómez" {
		t.Errorf("displayName = %q", got)
	}
	if got := firstName("Laura Gómez"); got != "Laura" {
		t.Errorf("firstName = %q", got)
	}
}
