package credit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fitroom/fitroom-api/internal/middleware"
	"github.com/fitroom/fitroom-api/internal/pkg/errorhandler"
	"github.com/fitroom/fitroom-api/internal/pkg/response"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// GetCredits handles GET /api/get-credits
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	shop := middleware.GetShop(r.Context())
	if shop == "" {
		response.Unauthorized(w, "Shop session required")
		return
	}

	balance, err := h.ledger.Balance(r.Context(), shop)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response.OK(w, map[string]int{"credits": balance})
}

// History handles GET /api/credit-history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	shop := middleware.GetShop(r.Context())
	if shop == "" {
		response.Unauthorized(w, "Shop session required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	p := Pagination{Limit: limit, Offset: offset}.normalize()

	entries, err := h.ledger.History(r.Context(), shop, p)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response.WithMeta(w, entries, response.Meta{
		Limit:  p.Limit,
		Offset: p.Offset,
		Count:  len(entries),
	})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMissingShop):
		response.BadRequest(w, "shop is required")
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, response.CodeInternal, "Failed to load credits", err)
	}
}
