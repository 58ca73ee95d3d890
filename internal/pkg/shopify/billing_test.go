package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(ctx context.Context, shop string) (string, error) {
	return s.token, s.err
}

func TestCreateCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/admin/api/2024-10/application_charges.json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Shopify-Access-Token") != "shpat_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var env chargeEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !env.ApplicationCharge.Price.Equal(decimal.RequireFromString("4.99")) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"application_charge":{"id":1017262355,"name":"10 credits","price":"4.99","status":"pending","confirmation_url":"https://demo.myshopify.com/admin/charges/1017262355/confirm","test":true}}`))
	}))
	t.Cleanup(server.Close)

	test := true
	client := NewBillingClient("2024-10", staticTokens{token: "shpat_test"}, time.Second).WithBaseURL(server.URL)
	charge, err := client.CreateCharge(context.Background(), "demo.myshopify.com", ApplicationCharge{
		Name:      "10 credits",
		Price:     decimal.RequireFromString("4.99"),
		ReturnURL: "https://app.example.com/billing/callback",
		Test:      &test,
	})
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if charge.IDString() != "1017262355" || charge.Status != "pending" {
		t.Fatalf("unexpected charge: %+v", charge)
	}
	if !strings.HasSuffix(charge.ConfirmationURL, "/confirm") {
		t.Fatalf("unexpected confirmation url %q", charge.ConfirmationURL)
	}
}

func TestGetChargeNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":"Not Found"}`))
	}))
	t.Cleanup(server.Close)

	client := NewBillingClient("2024-10", staticTokens{token: "t"}, time.Second).WithBaseURL(server.URL)
	_, err := client.GetCharge(context.Background(), "demo.myshopify.com", "42")
	if !errors.Is(err, ErrChargeNotFound) {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestGetChargeUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := NewBillingClient("2024-10", staticTokens{token: "t"}, time.Second).WithBaseURL(server.URL)
	_, err := client.GetCharge(context.Background(), "demo.myshopify.com", "42")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTokenErrorIsWrapped(t *testing.T) {
	missing := errors.New("not installed")
	client := NewBillingClient("2024-10", staticTokens{err: missing}, time.Second)

	_, err := client.GetCharge(context.Background(), "demo.myshopify.com", "42")
	if !errors.Is(err, missing) {
		t.Fatalf("expected wrapped token error, got %v", err)
	}
}

func TestGetChargeTimeoutClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := NewBillingClient("2024-10", staticTokens{token: "t"}, 50*time.Millisecond).WithBaseURL(server.URL)
	_, err := client.GetCharge(context.Background(), "demo.myshopify.com", "42")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
