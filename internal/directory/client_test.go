package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conecta2tel/conectabot/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestAuthenticateByPhone(t *testing.T) {
	var gotAuth, gotPhone string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPhone = r.URL.Query().Get("phone")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{
				"id": "CUST-1", "first_name": "Ana", "last_name": "Gómez",
				"status": "active", "document": "1020304050",
			}},
		})
	})

	profile, err := c.Authenticate(context.Background(), "+573001112233")
	if err != nil {
		t.Fatal(err)
	}
	if profile.ID != "CUST-1" || profile.Name != "Ana Gómez" {
		t.Errorf("profile = %+v", profile)
	}
	if profile.Inactive {
		t.Error("active customer must not be flagged inactive")
	}
	if gotAuth != "Api-Key test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotPhone != "3001112233" {
		t.Errorf("phone param = %q, want international prefix stripped", gotPhone)
	}
}

func TestAuthenticateFallsBackToDocument(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if doc := r.URL.Query().Get("document"); doc == "1020304050" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{"id": "CUST-2", "first_name": "Luis", "status": "suspended"}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	})

	profile, err := c.Authenticate(context.Background(), "1020304050")
	if err != nil {
		t.Fatal(err)
	}
	if profile.ID != "CUST-2" {
		t.Errorf("profile = %+v", profile)
	}
	if !profile.Inactive {
		t.Error("suspended customer must be flagged inactive")
	}
}

func TestAuthenticateUnknownCustomer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	})

	_, err := c.Authenticate(context.Background(), "3009998877")
	if !errors.Is(err, models.ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}
}

func TestAuthenticatePropagatesServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Authenticate(context.Background(), "3009998877")
	if err == nil || errors.Is(err, models.ErrCustomerNotFound) {
		t.Fatalf("server error must not be reported as not-found, got %v", err)
	}
}

func TestGetDebtAggregatesInvoices(t *testing.T) {
	overdue := time.Now().AddDate(0, 0, -10).Format("2006-01-02")
	upcoming := time.Now().AddDate(0, 0, 10).Format("2006-01-02")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "unpaid" {
			t.Errorf("status param = %q", r.URL.Query().Get("status"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "F1", "amount": 58900.0, "due_date": overdue, "status": "unpaid"},
				{"id": "F2", "amount": 58900.0, "due_date": upcoming, "status": "unpaid"},
			},
		})
	})

	debt, err := c.GetDebt(context.Background(), "CUST-1")
	if err != nil {
		t.Fatal(err)
	}
	if debt.TotalAmount != 117800 {
		t.Errorf("total = %v", debt.TotalAmount)
	}
	if debt.PendingInvoices != 2 {
		t.Errorf("pending = %d", debt.PendingInvoices)
	}
	if debt.Status != "overdue" {
		t.Errorf("status = %q, want overdue", debt.Status)
	}
	if got := debt.NextDueDate.Format("2006-01-02"); got != overdue {
		t.Errorf("next due = %s, want earliest invoice %s", got, overdue)
	}
}

func TestGetPlans(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "P1", "name": "Fibra 100", "speed": "100 Mbps", "price": 58900.0},
			},
		})
	})

	plans, err := c.GetPlans(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 1 || plans[0].Name != "Fibra 100" {
		t.Errorf("plans = %+v", plans)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Fatal("empty API key must be rejected")
	}
}
