package middleware

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/fitroom/fitroom-api/internal/pkg/errorhandler"
	"github.com/fitroom/fitroom-api/internal/pkg/response"
	"github.com/fitroom/fitroom-api/internal/pkg/shopify"
)

type contextKey string

const ShopKey contextKey = "shop"

// formMemory is the part of a multipart body kept in memory; the rest spills
// to temp files.
const formMemory = 32 << 20

// shopDomainHeader lets the storefront widget name its shop without a body.
const shopDomainHeader = "X-Shopify-Shop-Domain"

// SessionVerifier validates App Bridge session tokens.
type SessionVerifier interface {
	Verify(token string) (*shopify.SessionClaims, error)
}

// InstallChecker reports whether a shop has a live installation.
type InstallChecker interface {
	IsInstalled(ctx context.Context, shop string) (bool, error)
}

// ShopResolver turns a raw shop identifier into the canonical shop key.
type ShopResolver func(raw string) (string, error)

// ShopAuth identifies the calling shop. A session token in the Authorization
// header (or the token query parameter, for websocket upgrades) wins;
// otherwise the shop parameter is resolved and must belong to an installed
// shop.
func ShopAuth(verifier SessionVerifier, installs InstallChecker, resolve ShopResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""

			if token := sessionToken(r); token != "" {
				claims, err := verifier.Verify(token)
				if err != nil {
					if errors.Is(err, shopify.ErrExpiredSessionToken) {
						response.Unauthorized(w, "Session token expired")
					} else {
						response.Unauthorized(w, "Invalid session token")
					}
					return
				}
				raw = claims.ShopHost()
			} else {
				var err error
				raw, err = shopParam(r)
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					response.PayloadTooLarge(w, "Request body too large")
					return
				}
			}

			shop, err := resolve(raw)
			if err != nil {
				response.BadRequest(w, "A valid shop domain is required")
				return
			}

			installed, err := installs.IsInstalled(r.Context(), shop)
			if err != nil {
				errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, response.CodeInternal, "Failed to check installation", err)
				return
			}
			if !installed {
				response.Unauthorized(w, "App is not installed for this shop")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithShop(r.Context(), shop)))
		})
	}
}

// BodyLimit caps the request body size.
func BodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// WithShop stores the authenticated shop key in ctx.
func WithShop(ctx context.Context, shop string) context.Context {
	return context.WithValue(ctx, ShopKey, shop)
}

// GetShop extracts the shop key from context
func GetShop(ctx context.Context) string {
	if shop, ok := ctx.Value(ShopKey).(string); ok {
		return shop
	}
	return ""
}

func sessionToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

// shopParam looks for the shop in the query, the header and finally the form
// body. The body is parsed here, so callers must cap it with BodyLimit first;
// a parse error is returned only when that cap was hit.
func shopParam(r *http.Request) (string, error) {
	if shop := r.URL.Query().Get("shop"); shop != "" {
		return shop, nil
	}
	if shop := r.Header.Get(shopDomainHeader); shop != "" {
		return shop, nil
	}

	if r.Method != http.MethodPost {
		return "", nil
	}

	var err error
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "multipart/form-data":
		err = r.ParseMultipartForm(formMemory)
	case "application/x-www-form-urlencoded":
		err = r.ParseForm()
	default:
		return "", nil
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", err
		}
		return "", nil
	}
	return r.FormValue("shop"), nil
}
