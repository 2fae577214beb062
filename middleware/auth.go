package middleware

import (
	"context"
	"devsync-server/core"
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

type contextKey string

const IdentityContextKey = contextKey("identity")

// AuthJWT verifies the bearer token once per request and stores the
// resulting *core.Identity in the request context.
func AuthJWT(verifier core.IdentityVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header is required"})
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
				return
			}

			identity, err := verifier.Verify(r.Context(), parts[1])
			if err != nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Invalid token"})
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithIdentity(ctx context.Context, identity *core.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// IdentityFrom returns the identity AuthJWT stored, or nil.
func IdentityFrom(ctx context.Context) *core.Identity {
	identity, _ := ctx.Value(IdentityContextKey).(*core.Identity)
	return identity
}
