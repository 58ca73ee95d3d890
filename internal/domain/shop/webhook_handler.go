package shop

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fitroom/fitroom-api/internal/pkg/errorhandler"
	"github.com/fitroom/fitroom-api/internal/pkg/logger"
	"github.com/fitroom/fitroom-api/internal/pkg/response"
	"github.com/fitroom/fitroom-api/internal/pkg/shopify"
)

const maxWebhookBody = 1 << 20

// Eraser removes everything a component stores about a shop.
type Eraser interface {
	Erase(ctx context.Context, shop string) error
}

type WebhookHandler struct {
	svc     *Service
	secret  string
	erasers []Eraser
}

// NewWebhookHandler builds the compliance and lifecycle webhook receiver.
// erasers run in order on shop/redact, followed by the shop's own records.
func NewWebhookHandler(svc *Service, apiSecret string, erasers ...Eraser) *WebhookHandler {
	return &WebhookHandler{svc: svc, secret: apiSecret, erasers: erasers}
}

func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/app/uninstalled", h.verified(h.appUninstalled))
	r.Post("/shop/redact", h.verified(h.shopRedact))
	r.Post("/customers/data_request", h.verified(h.acknowledge))
	r.Post("/customers/redact", h.verified(h.acknowledge))
	return r
}

type webhookFunc func(w http.ResponseWriter, r *http.Request, shop string)

// verified checks X-Shopify-Hmac-Sha256 against the raw body before anything
// is parsed.
func (h *WebhookHandler) verified(next webhookFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			response.BadRequest(w, "Failed to read body")
			return
		}

		if !shopify.VerifyWebhookHMAC(body, r.Header.Get("X-Shopify-Hmac-Sha256"), h.secret) {
			errorhandler.HandleError(r.Context(), w, http.StatusUnauthorized, response.CodeUnauthorized, "Invalid webhook signature", ErrInvalidHMAC)
			return
		}

		raw := r.Header.Get("X-Shopify-Shop-Domain")
		if raw == "" {
			var payload struct {
				ShopDomain string `json:"shop_domain"`
			}
			_ = json.Unmarshal(body, &payload)
			raw = payload.ShopDomain
		}

		shop, err := Resolve(raw)
		if err != nil {
			response.BadRequest(w, "A valid shop domain is required")
			return
		}

		next(w, r, shop)
	}
}

func (h *WebhookHandler) appUninstalled(w http.ResponseWriter, r *http.Request, shop string) {
	if err := h.svc.MarkUninstalled(r.Context(), shop); err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, response.CodeInternal, "Failed to record uninstall", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) shopRedact(w http.ResponseWriter, r *http.Request, shop string) {
	ctx := r.Context()
	for _, e := range h.erasers {
		if err := e.Erase(ctx, shop); err != nil {
			errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Failed to erase shop data", err)
			return
		}
	}
	if err := h.svc.Erase(ctx, shop); err != nil {
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Failed to erase shop data", err)
		return
	}

	logger.FromContext(ctx).Info().Str("shop", shop).Msg("shop redacted")
	w.WriteHeader(http.StatusOK)
}

// acknowledge answers customer privacy requests. No shopper data is kept.
func (h *WebhookHandler) acknowledge(w http.ResponseWriter, r *http.Request, shop string) {
	logger.FromContext(r.Context()).Info().Str("shop", shop).Str("topic", r.URL.Path).Msg("privacy webhook acknowledged")
	w.WriteHeader(http.StatusOK)
}
