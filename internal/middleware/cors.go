package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSHandler serves both the storefront widget and the embedded admin. A
// bare "*" origin (storefronts on custom domains) disables credentials since
// browsers refuse that combination; shop identity then travels in the
// X-Shopify-Shop-Domain header or the form.
func CORSHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			break
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader, shopDomainHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
