package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueValidate(t *testing.T) {
	m := NewJWTManager("secret", "vatease", time.Hour)
	shopID := uuid.New()

	token, err := m.Issue(shopID)
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, shopID, claims.ShopID)
	assert.Equal(t, shopID.String(), claims.Subject)
}

func TestValidate_Rejects(t *testing.T) {
	m := NewJWTManager("secret", "vatease", time.Hour)
	shopID := uuid.New()

	other := NewJWTManager("other-secret", "vatease", time.Hour)
	wrongKey, err := other.Issue(shopID)
	require.NoError(t, err)

	foreign := NewJWTManager("secret", "someone-else", time.Hour)
	wrongIssuer, err := foreign.Issue(shopID)
	require.NoError(t, err)

	past := NewJWTManager("secret", "vatease", time.Minute)
	past.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := past.Issue(shopID)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, ShopClaims{ShopID: shopID}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noShop, err := m.Issue(uuid.Nil)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"alg none":     none,
		"no shop":      noShop,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Validate(token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
