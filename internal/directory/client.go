// Package directory talks to the customer directory (CRM) that owns customer
// identity, debt, plan and outage data. The bot never stores directory data
// beyond the encrypted per-session profile.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
)

// DefaultBaseURL is the production directory endpoint.
const DefaultBaseURL = "https://api.wisphub.app"

// DefaultTimeout bounds every directory call.
const DefaultTimeout = 30 * time.Second

var documentPattern = regexp.MustCompile(`^\d{6,12}$`)

// Client is an HTTP client for the customer directory API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the directory endpoint (sandbox, tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient injects the HTTP client used for directory calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a directory client. The API key is required.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("directory API key is required")
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// customerRecord is the directory's wire shape for a customer.
type customerRecord struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Document  string `json:"document"`
	IPAddress string `json:"ip_address"`
	Status    string `json:"status"`
	PlanName  string `json:"plan_name"`
}

// Authenticate resolves an identifier (phone number or identity document) to
// a customer profile. Unknown identifiers return models.ErrCustomerNotFound;
// a found-but-suspended customer is returned with Inactive set so the caller
// can restrict the session rather than reject it.
func (c *Client) Authenticate(ctx context.Context, identifier string) (*models.CustomerProfile, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, models.ErrCustomerNotFound
	}

	rec, err := c.findCustomer(ctx, "phone", normalizePhone(identifier))
	if err != nil {
		return nil, err
	}
	if rec == nil && documentPattern.MatchString(identifier) {
		rec, err = c.findCustomer(ctx, "document", identifier)
		if err != nil {
			return nil, err
		}
	}
	if rec == nil {
		slog.Info("Client Authenticate customer not found", "identifier", identifier)
		return nil, models.ErrCustomerNotFound
	}

	profile := &models.CustomerProfile{
		ID:        rec.ID,
		Name:      strings.TrimSpace(rec.FirstName + " " + rec.LastName),
		Email:     rec.Email,
		Document:  rec.Document,
		IPAddress: rec.IPAddress,
		Status:    rec.Status,
		Inactive:  isInactiveStatus(rec.Status),
	}
	slog.Debug("Client Authenticate resolved customer", "customer_id", profile.ID, "inactive", profile.Inactive)
	return profile, nil
}

func (c *Client) findCustomer(ctx context.Context, field, value string) (*customerRecord, error) {
	var body struct {
		Data []customerRecord `json:"data"`
	}
	q := url.Values{field: {value}}
	if err := c.get(ctx, "/api/clientes/", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// invoiceRecord is the directory's wire shape for an invoice.
type invoiceRecord struct {
	ID      string  `json:"id"`
	Amount  float64 `json:"amount"`
	DueDate string  `json:"due_date"`
	Status  string  `json:"status"`
}

// GetDebt aggregates the customer's unpaid invoices into a debt summary.
func (c *Client) GetDebt(ctx context.Context, customerID string) (*models.DebtInfo, error) {
	var body struct {
		Data []invoiceRecord `json:"data"`
	}
	q := url.Values{"customer_id": {customerID}, "status": {"unpaid"}}
	if err := c.get(ctx, "/api/facturas/", q, &body); err != nil {
		return nil, err
	}

	debt := &models.DebtInfo{PendingInvoices: len(body.Data), Status: "pending"}
	now := time.Now()
	for _, inv := range body.Data {
		debt.TotalAmount += inv.Amount
		if due, err := time.Parse("2006-01-02", inv.DueDate); err == nil {
			if debt.NextDueDate.IsZero() || due.Before(debt.NextDueDate) {
				debt.NextDueDate = due
			}
			if due.Before(now) {
				debt.Status = "overdue"
			}
		}
	}
	if debt.PendingInvoices >= 3 {
		debt.Status = "critical"
	}
	return debt, nil
}

// GetPlans lists the service plans offered for upgrades.
func (c *Client) GetPlans(ctx context.Context) ([]models.Plan, error) {
	var body struct {
		Data []models.Plan `json:"data"`
	}
	if err := c.get(ctx, "/api/planes/", nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ServiceStatus reports the provisioning state of a customer's service.
func (c *Client) ServiceStatus(ctx context.Context, customerID string) (string, error) {
	var body struct {
		Data customerRecord `json:"data"`
	}
	if err := c.get(ctx, "/api/clientes/"+url.PathEscape(customerID)+"/", nil, &body); err != nil {
		return "", err
	}
	return body.Data.Status, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Client directory call returned non-2xx", "status", resp.StatusCode, "path", path)
		return fmt.Errorf("directory returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode directory response: %w", err)
	}
	return nil
}

// normalizePhone strips the Colombian international prefix so directory
// lookups match locally stored numbers.
func normalizePhone(phone string) string {
	phone = strings.TrimPrefix(phone, "+")
	phone = strings.TrimPrefix(phone, "57")
	return phone
}

func isInactiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "suspended", "suspendido", "inactive", "inactivo", "cortado":
		return true
	}
	return false
}
