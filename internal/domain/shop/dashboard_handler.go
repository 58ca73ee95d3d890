package shop

import (
	"context"
	"net/http"

	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/middleware"
	"github.com/fitroom/fitroom-api/internal/pkg/errorhandler"
	"github.com/fitroom/fitroom-api/internal/pkg/response"
	"github.com/fitroom/fitroom-api/internal/pkg/validator"
)

// AccountReader returns the ledger account of a shop.
type AccountReader interface {
	Account(ctx context.Context, shop string) (*credit.Account, error)
}

type DashboardHandler struct {
	svc      *Service
	accounts AccountReader
}

func NewDashboardHandler(svc *Service, accounts AccountReader) *DashboardHandler {
	return &DashboardHandler{svc: svc, accounts: accounts}
}

type StatsResponse struct {
	Credits          int      `json:"credits"`
	LifetimeCredits  int      `json:"lifetime_credits"`
	TotalGenerations int      `json:"total_generations"`
	Settings         Settings `json:"settings"`
}

// Stats handles GET /api/stats
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shop := middleware.GetShop(ctx)
	if shop == "" {
		response.Unauthorized(w, "Shop session required")
		return
	}

	acc, err := h.accounts.Account(ctx, shop)
	if err != nil {
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Failed to load account", err)
		return
	}
	settings, err := h.svc.Settings(ctx, shop)
	if err != nil {
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Failed to load settings", err)
		return
	}

	response.OK(w, StatsResponse{
		Credits:          acc.Balance,
		LifetimeCredits:  acc.LifetimeCredits,
		TotalGenerations: acc.TotalGenerations,
		Settings:         settings,
	})
}

// SaveSettings handles POST /api/save-settings
func (h *DashboardHandler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shop := middleware.GetShop(ctx)
	if shop == "" {
		response.Unauthorized(w, "Shop session required")
		return
	}

	var req SettingsRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	settings, err := h.svc.UpdateSettings(ctx, shop, req)
	if err != nil {
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Failed to save settings", err)
		return
	}

	response.OK(w, settings)
}
