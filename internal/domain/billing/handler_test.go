package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fitroom/fitroom-api/internal/middleware"
	"github.com/fitroom/fitroom-api/internal/pkg/shopify"
)

func TestHandlerBuyCredits(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	h := NewHandler(f.svc, "api-key")

	tests := []struct {
		name     string
		body     string
		ctype    string
		wantCode int
	}{
		{"json pack", `{"pack_id":"pack_10"}`, "application/json", http.StatusOK},
		{"legacy amount", `{"amount":30}`, "application/json", http.StatusOK},
		{"form custom", "pack_id=custom&custom_amount=300", "application/x-www-form-urlencoded", http.StatusOK},
		{"below minimum", `{"pack_id":"custom","custom_amount":20}`, "application/json", http.StatusBadRequest},
		{"unknown pack", `{"pack_id":"gold"}`, "application/json", http.StatusBadRequest},
		{"broken json", `{`, "application/json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/buy-credits", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.ctype)
			req = req.WithContext(middleware.WithShop(req.Context(), testShop))
			rec := httptest.NewRecorder()

			h.BuyCredits(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var body struct {
				Data Purchase `json:"data"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Data.ChargeID == "" || body.Data.ConfirmationURL == "" {
				t.Fatalf("unexpected purchase: %+v", body.Data)
			}
		})
	}
}

func TestHandlerCallback(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	h := NewHandler(f.svc, "api-key")
	ctx := context.Background()

	p, err := f.svc.InitiatePurchase(ctx, testShop, "pack_30", 0)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	call := func(query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.Callback(rec, httptest.NewRequest(http.MethodGet, "/billing/callback?"+query, nil))
		return rec
	}

	if rec := call("shop=demo&charge_id=" + p.ChargeID + "&amt=30"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending charge, got %d", rec.Code)
	}
	if rec := call("shop=demo&charge_id=777&amt=30"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown charge, got %d", rec.Code)
	}
	if rec := call("charge_id=" + p.ChargeID); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without shop, got %d", rec.Code)
	}

	f.gateway.setStatus(p.ChargeID, StatusActive)
	for i := 0; i < 2; i++ {
		rec := call("shop=demo&chargeId=" + p.ChargeID + "&amt=30")
		if rec.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
		}
		if want := "https://demo.myshopify.com/admin/apps/api-key?purchase=success"; rec.Header().Get("Location") != want {
			t.Fatalf("expected redirect to %s, got %s", want, rec.Header().Get("Location"))
		}
	}

	balance, err := f.ledger.Balance(ctx, testShop)
	if err != nil || balance != 40 {
		t.Fatalf("expected balance 40 after duplicate callbacks, got %d, %v", balance, err)
	}
}

type staticTokens string

func (s staticTokens) AccessToken(ctx context.Context, shop string) (string, error) {
	return string(s), nil
}

func TestShopifyGatewayMapsStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/2024-10/application_charges/55.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"application_charge":{"id":55,"name":"10 credits","price":"4.99","status":"accepted","test":true}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := shopify.NewBillingClient("2024-10", staticTokens("shpat"), time.Second).WithBaseURL(server.URL)
	gw := NewShopifyGateway(client)

	c, err := gw.FindCharge(context.Background(), testShop, "55")
	if err != nil {
		t.Fatalf("find charge: %v", err)
	}
	if c.ID != "55" || c.Status != StatusAccepted || !c.Test {
		t.Fatalf("unexpected charge: %+v", c)
	}

	if _, err := gw.FindCharge(context.Background(), testShop, "56"); err != ErrChargeNotFound {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}
