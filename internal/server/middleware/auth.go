package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/loothing/lodestone/internal/auth"
)

// Authenticator validates a raw streaming secret.
type Authenticator interface {
	Authenticate(ctx context.Context, secret string) (*auth.AuthResult, error)
}

// APIKey authenticates requests with a streaming key passed as either
// "Authorization: Bearer <key>" or "X-API-Key: <key>". When capability
// is non-empty the credential must also grant it. On success the auth
// result and client id are stored in the request context.
func APIKey(authSvc Authenticator, capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := extractKey(r)
			if secret == "" {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing API key"}`, http.StatusUnauthorized)
				return
			}

			result, err := authSvc.Authenticate(r.Context(), secret)
			if err != nil {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"invalid API key"}`, http.StatusUnauthorized)
				return
			}

			if capability != "" && !result.HasCapability(capability) {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"missing capability"}`, http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAuth, result)
			ctx = context.WithValue(ctx, ContextKeyClientID, result.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
