package billing

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/domain/shop"
	"github.com/fitroom/fitroom-api/internal/middleware"
	"github.com/fitroom/fitroom-api/internal/pkg/errorhandler"
	"github.com/fitroom/fitroom-api/internal/pkg/response"
)

const (
	CodeChargeNotFound    = "CHARGE_NOT_FOUND"
	CodeChargeDeclined    = "CHARGE_DECLINED"
	CodeChargeNotApproved = "CHARGE_NOT_APPROVED"
)

type Handler struct {
	svc    *Service
	apiKey string
}

func NewHandler(svc *Service, apiKey string) *Handler {
	return &Handler{svc: svc, apiKey: apiKey}
}

// BuyCreditsRequest accepts pack_id and custom_amount; a bare amount is the
// older dashboard's way of asking for a pack or a custom number of credits.
type BuyCreditsRequest struct {
	PackID       string `json:"pack_id"`
	CustomAmount int    `json:"custom_amount"`
	Amount       int    `json:"amount"`
}

// BuyCredits handles POST /api/buy-credits
func (h *Handler) BuyCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shopKey := middleware.GetShop(ctx)
	if shopKey == "" {
		response.Unauthorized(w, "Shop session required")
		return
	}

	req, err := decodeBuyRequest(r)
	if err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	amount := req.CustomAmount
	if amount == 0 {
		amount = req.Amount
	}

	purchase, err := h.svc.InitiatePurchase(ctx, shopKey, req.PackID, amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownPack):
			response.BadRequest(w, "Unknown credit pack")
		case errors.Is(err, ErrCustomBelowMinimum):
			response.BadRequest(w, err.Error())
		case errors.Is(err, shop.ErrNotInstalled):
			response.Unauthorized(w, "App is not installed for this shop")
		case errors.Is(err, ErrGatewayFailure):
			errorhandler.HandleError(ctx, w, http.StatusBadGateway, response.CodeGatewayFailure, "Billing is temporarily unavailable", err)
		default:
			errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Failed to create charge", err)
		}
		return
	}

	response.OK(w, purchase)
}

// Callback handles GET /billing/callback, the return URL of a charge.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	shopKey, err := shop.Resolve(q.Get("shop"))
	if err != nil {
		response.BadRequest(w, "A valid shop domain is required")
		return
	}

	chargeID := q.Get("charge_id")
	if chargeID == "" {
		chargeID = q.Get("chargeId")
	}
	amt, _ := strconv.Atoi(q.Get("amt"))

	if _, err := h.svc.Reconcile(ctx, chargeID, shopKey, amt); err != nil {
		switch {
		case errors.Is(err, ErrInvalidChargeID):
			response.BadRequest(w, "A valid charge_id is required")
		case errors.Is(err, ErrAmountMismatch):
			errorhandler.HandleError(ctx, w, http.StatusBadRequest, response.CodeInvalidInput, "Charge does not match the requested credits", err)
		case errors.Is(err, ErrChargeNotFound):
			response.NotFound(w, CodeChargeNotFound, "Charge not found")
		case errors.Is(err, ErrChargeDeclined):
			response.Error(w, http.StatusPaymentRequired, CodeChargeDeclined, "The charge was declined")
		case errors.Is(err, ErrChargeNotApproved):
			response.Conflict(w, CodeChargeNotApproved, "The charge has not been approved yet")
		case errors.Is(err, credit.ErrReferenceConflict):
			errorhandler.HandleError(ctx, w, http.StatusConflict, response.CodeCreditConflict, "Charge was already applied with a different amount", err)
		case errors.Is(err, shop.ErrNotInstalled):
			response.Unauthorized(w, "App is not installed for this shop")
		case errors.Is(err, ErrGatewayFailure):
			errorhandler.HandleError(ctx, w, http.StatusBadGateway, response.CodeGatewayFailure, "Billing is temporarily unavailable", err)
		default:
			errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Failed to apply purchase", err)
		}
		return
	}

	http.Redirect(w, r, shop.EmbeddedAppURL(shopKey, h.apiKey, url.Values{"purchase": {"success"}}), http.StatusFound)
}

func decodeBuyRequest(r *http.Request) (BuyCreditsRequest, error) {
	var req BuyCreditsRequest

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		req.PackID = r.FormValue("pack_id")
		req.CustomAmount, _ = strconv.Atoi(r.FormValue("custom_amount"))
		req.Amount, _ = strconv.Atoi(r.FormValue("amount"))
		return req, nil
	default:
		err := response.DecodeJSON(r.Body, &req)
		return req, err
	}
}
