package shop

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const stateTTL = 10 * time.Minute

type stateClaims struct {
	Shop string `json:"shop"`
	jwt.RegisteredClaims
}

// StateSigner issues and checks the OAuth state parameter. The state is a
// short lived HS256 token bound to the shop, so no server side nonce store
// is needed.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

func (s *StateSigner) Issue(shop string) (string, error) {
	now := s.now()
	claims := stateClaims{
		Shop: shop,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the state and that it was issued for shop.
func (s *StateSigner) Verify(state, shop string) error {
	token, err := jwt.ParseWithClaims(state, &stateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return ErrInvalidState
	}

	claims, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid || claims.Shop != shop {
		return ErrInvalidState
	}
	return nil
}
