package shop

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/fitroom/fitroom-api/internal/pkg/errorhandler"
	"github.com/fitroom/fitroom-api/internal/pkg/logger"
	"github.com/fitroom/fitroom-api/internal/pkg/response"
	"github.com/fitroom/fitroom-api/internal/pkg/shopify"
)

// AccountOpener opens the ledger account so a fresh install gets its welcome
// grant immediately.
type AccountOpener interface {
	Balance(ctx context.Context, shop string) (int, error)
}

type OAuthConfig struct {
	APIKey    string
	APISecret string
	Scopes    []string
	AppURL    string
}

type OAuthHandler struct {
	svc      *Service
	state    *StateSigner
	accounts AccountOpener
	cfg      OAuthConfig
	client   *http.Client

	// shopBaseURL maps a shop key to the origin serving its OAuth endpoints.
	shopBaseURL func(shop string) string
}

func NewOAuthHandler(svc *Service, state *StateSigner, accounts AccountOpener, cfg OAuthConfig) *OAuthHandler {
	return &OAuthHandler{
		svc:      svc,
		state:    state,
		accounts: accounts,
		cfg:      cfg,
		client:   &http.Client{Timeout: 15 * time.Second},
		shopBaseURL: func(shop string) string {
			return "https://" + shop
		},
	}
}

func (h *OAuthHandler) oauthConfig(shop string) *oauth2.Config {
	return shopify.OAuthConfig(h.shopBaseURL(shop), h.cfg.APIKey, h.cfg.APISecret, h.cfg.Scopes, h.cfg.AppURL+"/auth/callback")
}

// Install handles GET /auth/install
func (h *OAuthHandler) Install(w http.ResponseWriter, r *http.Request) {
	shop, err := Resolve(r.URL.Query().Get("shop"))
	if err != nil {
		response.BadRequest(w, "A valid shop domain is required")
		return
	}

	state, err := h.state.Issue(shop)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, response.CodeInternal, "Failed to start installation", err)
		return
	}

	http.Redirect(w, r, h.oauthConfig(shop).AuthCodeURL(state), http.StatusFound)
}

// Callback handles GET /auth/callback
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if !shopify.VerifyQueryHMAC(q, h.cfg.APISecret) {
		errorhandler.HandleError(ctx, w, http.StatusUnauthorized, response.CodeUnauthorized, "Invalid signature", ErrInvalidHMAC)
		return
	}

	shop, err := Resolve(q.Get("shop"))
	if err != nil {
		response.BadRequest(w, "A valid shop domain is required")
		return
	}
	if err := h.state.Verify(q.Get("state"), shop); err != nil {
		errorhandler.HandleError(ctx, w, http.StatusUnauthorized, response.CodeUnauthorized, "Invalid or expired state", err)
		return
	}
	code := q.Get("code")
	if code == "" {
		response.BadRequest(w, "code is required")
		return
	}

	token, err := h.oauthConfig(shop).Exchange(context.WithValue(ctx, oauth2.HTTPClient, h.client), code)
	if err != nil {
		errorhandler.HandleError(ctx, w, http.StatusBadGateway, response.CodeGatewayFailure, "Failed to exchange authorization code", err)
		return
	}

	if err := h.svc.Install(ctx, shop, token.AccessToken, shopify.GrantedScope(token)); err != nil {
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Failed to save installation", err)
		return
	}

	balance, err := h.accounts.Balance(ctx, shop)
	if err != nil {
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "Failed to open credit account", err)
		return
	}
	logger.FromContext(ctx).Info().Str("shop", shop).Int("balance", balance).Msg("installation completed")

	http.Redirect(w, r, EmbeddedAppURL(shop, h.cfg.APIKey, nil), http.StatusFound)
}

// EmbeddedAppURL is the admin URL of the app inside the shop's admin.
func EmbeddedAppURL(shop, apiKey string, params url.Values) string {
	u := url.URL{
		Scheme: "https",
		Host:   shop,
		Path:   "/admin/apps/" + apiKey,
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}
