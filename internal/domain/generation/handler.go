package generation

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/middleware"
	"github.com/fitroom/fitroom-api/internal/pkg/errorhandler"
	"github.com/fitroom/fitroom-api/internal/pkg/imaging"
	"github.com/fitroom/fitroom-api/internal/pkg/response"
)

// MaxRequestSize bounds a multipart try-on request (two images plus fields).
const MaxRequestSize = 2*imaging.MaxFileSize + 1<<20

type Handler struct {
	gate *Gate
}

func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

// Generate handles POST /api/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shop := middleware.GetShop(ctx)
	if shop == "" {
		response.Unauthorized(w, "Shop session required")
		return
	}

	if err := r.ParseMultipartForm(MaxRequestSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.PayloadTooLarge(w, "Images must be JPEG or PNG up to 10MB each")
			return
		}
		response.BadRequest(w, "Expected a multipart form with person_image and garment_image")
		return
	}
	defer r.MultipartForm.RemoveAll()

	person, err := readImage(r, "person_image", "human_img")
	if err != nil {
		response.BadRequest(w, "Failed to read person_image")
		return
	}
	garment, err := readImage(r, "garment_image", "cloth_img")
	if err != nil {
		response.BadRequest(w, "Failed to read garment_image")
		return
	}
	if len(garment.Data) == 0 {
		garment.URL = r.FormValue("garment_url")
	}

	result, err := h.gate.Run(ctx, Request{
		ShopKey:  shop,
		ClientIP: middleware.ClientIP(r),
		Person:   person,
		Garment:  garment,
		Category: r.FormValue("category"),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingPerson), errors.Is(err, ErrMissingGarment):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ErrInvalidCategory):
			response.ValidationError(w, map[string]string{"category": "Invalid category. Must be: upper_body, lower_body, or dresses"})
		case errors.Is(err, ErrInvalidImage):
			errorhandler.HandleError(ctx, w, http.StatusBadRequest, response.CodeInvalidInput, "Images must be JPEG or PNG up to 10MB", err)
		case errors.Is(err, credit.ErrInsufficientBalance):
			response.PaymentRequired(w, "No credits left. Buy more credits to continue.")
		case errors.Is(err, ErrRateLimited):
			response.TooManyRequests(w, "Daily try-on limit reached")
		case errors.Is(err, ErrProviderFailure):
			errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeProviderFailure, "Generation failed, no credit was used", err)
		case errors.Is(err, ErrCreditRace):
			errorhandler.HandleError(ctx, w, http.StatusConflict, response.CodeCreditConflict, "Credits were used by another request", err)
		default:
			errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Generation failed", err)
		}
		return
	}

	response.OK(w, result)
}

// readImage reads the first present file field; a missing field is an empty Image.
func readImage(r *http.Request, fields ...string) (Image, error) {
	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return Image{}, err
		}
		return readFile(file, header)
	}
	return Image{}, nil
}

func readFile(file multipart.File, header *multipart.FileHeader) (Image, error) {
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, imaging.MaxFileSize+1))
	if err != nil {
		return Image{}, err
	}
	return Image{Data: data, Filename: header.Filename}, nil
}
