package shopify

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSessionToken = errors.New("invalid session token")
	ErrExpiredSessionToken = errors.New("session token expired")
)

// SessionClaims are the claims App Bridge puts in embedded-app session tokens.
type SessionClaims struct {
	Dest string `json:"dest"`
	SID  string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// ShopHost returns the host part of the dest claim, e.g. "demo.myshopify.com".
func (c *SessionClaims) ShopHost() string {
	u, err := url.Parse(c.Dest)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(c.Dest, "https://"), "http://")
	}
	return u.Host
}

// SessionVerifier validates session tokens signed with the app secret.
type SessionVerifier struct {
	apiKey string
	secret []byte
}

func NewSessionVerifier(apiKey, apiSecret string) *SessionVerifier {
	return &SessionVerifier{apiKey: apiKey, secret: []byte(apiSecret)}
}

// Verify parses the token and checks signature, expiry and audience.
func (v *SessionVerifier) Verify(tokenString string) (*SessionClaims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, ErrInvalidSessionToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSessionToken
		}
		return v.secret, nil
	},
		jwt.WithAudience(v.apiKey),
		jwt.WithLeeway(5*time.Second),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredSessionToken
		}
		return nil, ErrInvalidSessionToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Dest == "" {
		return nil, ErrInvalidSessionToken
	}
	return claims, nil
}
