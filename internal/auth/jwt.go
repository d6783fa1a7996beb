// Package auth issues and validates the bearer tokens that scope API
// requests to one shop.
package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a token is malformed, expired, signed
// with another key or issued by someone else.
var ErrInvalidToken = errors.New("invalid or expired token")

// ShopClaims are the claims of a shop token.
type ShopClaims struct {
	ShopID uuid.UUID `json:"shop_id"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates HS256 shop tokens.
type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTManager creates a manager. ttl is the lifetime of issued tokens.
func NewJWTManager(secret, issuer string, ttl time.Duration) *JWTManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a token for the shop.
func (m *JWTManager) Issue(shopID uuid.UUID) (string, error) {
	now := m.now()
	claims := ShopClaims{
		ShopID: shopID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   shopID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Validate parses a token and returns its claims.
func (m *JWTManager) Validate(token string) (*ShopClaims, error) {
	claims := &ShopClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid || claims.ShopID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
