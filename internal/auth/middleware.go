package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const userIDKey contextKey = "user_id"

// TokenVerifier checks a raw bearer token's signature and returns the
// subject it was issued for. Every path that turns a token into a user
// identity goes through one of these; nothing reads claims unverified.
type TokenVerifier func(ctx context.Context, rawToken string) (string, error)

// NewOIDCVerifier builds a TokenVerifier against the OIDC_ISSUER provider.
// Panics when the issuer is missing or unreachable, like the rest of the
// startup wiring.
func NewOIDCVerifier() TokenVerifier {
	issuer := os.Getenv("OIDC_ISSUER")
	if issuer == "" {
		panic("OIDC_ISSUER env var not set")
	}

	provider, err := oidc.NewProvider(context.Background(), issuer)
	if err != nil {
		panic(fmt.Sprintf("Failed to create OIDC provider: %v", err))
	}

	verifier := provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	return func(ctx context.Context, rawToken string) (string, error) {
		idToken, err := verifier.Verify(ctx, rawToken)
		if err != nil {
			return "", fmt.Errorf("invalid token: %w", err)
		}

		var claims struct {
			Sub string `json:"sub"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", errors.New("failed to parse claims")
		}
		if claims.Sub == "" {
			return "", errors.New("subject claim not found in token")
		}
		return claims.Sub, nil
	}
}

// Middleware verifies bearer tokens and places the subject into the
// request context.
func Middleware(verify TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			sub, err := verify(r.Context(), rawToken)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated user from the context. Empty when the
// request did not pass the middleware.
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}

// WithUserID injects a user into a context, used by handlers under test.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
