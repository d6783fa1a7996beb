package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/euvatease/api/internal/auth"
)

const shopIDKey contextKey = "shop_id"

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.ShopClaims, error)
}

// RequireShopAuth validates the bearer token and scopes the request to its
// shop. Requests without a valid token get a 401.
func RequireShopAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header")
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				WriteJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization format")
				return
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				WriteJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			if info := infoFrom(r.Context()); info != nil {
				info.shopID = claims.ShopID
			}
			ctx := context.WithValue(r.Context(), shopIDKey, claims.ShopID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ShopFromContext returns the authenticated shop.
func ShopFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(shopIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// WithShop returns a context scoped to shopID, as RequireShopAuth does.
func WithShop(ctx context.Context, shopID uuid.UUID) context.Context {
	return context.WithValue(ctx, shopIDKey, shopID)
}
