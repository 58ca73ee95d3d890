package middleware

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fitroom/fitroom-api/internal/pkg/shopify"
)

const (
	testAPIKey    = "api-key"
	testAPISecret = "api-secret"
)

type fakeInstalls map[string]bool

func (f fakeInstalls) IsInstalled(ctx context.Context, shop string) (bool, error) {
	if shop == "broken.myshopify.com" {
		return false, errors.New("store down")
	}
	return f[shop], nil
}

func lowerResolve(raw string) (string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", errors.New("no shop")
	}
	if !strings.Contains(raw, ".") {
		raw += ".myshopify.com"
	}
	return raw, nil
}

func sessionTokenFor(t *testing.T, dest, aud string) string {
	t.Helper()
	claims := shopify.SessionClaims{
		Dest: dest,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAPISecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestShopAuth(t *testing.T) {
	installs := fakeInstalls{"demo.myshopify.com": true}
	mw := ShopAuth(shopify.NewSessionVerifier(testAPIKey, testAPISecret), installs, lowerResolve)

	var seen string
	protected := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetShop(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		build    func() *http.Request
		wantCode int
		wantShop string
	}{
		{
			name: "shop query param",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/get-credits?shop=DEMO", nil)
			},
			wantCode: http.StatusOK,
			wantShop: "demo.myshopify.com",
		},
		{
			name: "form value",
			build: func() *http.Request {
				form := url.Values{"shop": {"demo.myshopify.com"}}
				req := httptest.NewRequest(http.MethodPost, "/api/buy-credits", strings.NewReader(form.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			wantCode: http.StatusOK,
			wantShop: "demo.myshopify.com",
		},
		{
			name: "session token",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
				req.Header.Set("Authorization", "Bearer "+sessionTokenFor(t, "https://demo.myshopify.com", testAPIKey))
				return req
			},
			wantCode: http.StatusOK,
			wantShop: "demo.myshopify.com",
		},
		{
			name: "session token wrong audience",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
				req.Header.Set("Authorization", "Bearer "+sessionTokenFor(t, "https://demo.myshopify.com", "other-app"))
				return req
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "missing shop",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/get-credits", nil)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "not installed",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/get-credits?shop=stranger", nil)
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "install store failure",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/get-credits?shop=broken", nil)
			},
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			w := httptest.NewRecorder()
			protected.ServeHTTP(w, tt.build())

			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if seen != tt.wantShop {
				t.Fatalf("expected shop %q, got %q", tt.wantShop, seen)
			}
		})
	}
}

func TestShopAuthFormBodyCapped(t *testing.T) {
	installs := fakeInstalls{"demo.myshopify.com": true}
	called := false
	h := BodyLimit(1024)(ShopAuth(shopify.NewSessionVerifier(testAPIKey, testAPISecret), installs, lowerResolve)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
	))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("shop", "demo.myshopify.com")
	part, _ := mw.CreateFormFile("person_image", "person.png")
	_, _ = part.Write(bytes.Repeat([]byte{0xff}, 4096))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/generate", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if called {
		t.Fatal("handler must not run for an oversized body")
	}
}

func TestRequestIDPropagates(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") != "abc" {
			t.Errorf("expected request id on request header")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "abc" {
		t.Fatalf("expected X-Request-ID abc, got %q", got)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	if got := ClientIP(req); got != "10.0.0.7" {
		t.Fatalf("expected port stripped, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Real-IP", "203.0.113.10")
	if got := ClientIP(req); got != "10.0.0.7" {
		t.Fatalf("expected forwarding headers ignored, got %q", got)
	}
}
