package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type ctxKey struct{}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClaimsFrom returns the claims stored by RequireBearer.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(Claims)
	return c, ok
}

// AccountID returns the authenticated account id, or "".
func AccountID(ctx context.Context) string {
	c, _ := ClaimsFrom(ctx)
	return c.AccountID
}

// RequireBearer rejects requests without a valid bearer token. reject writes
// the failure response; the reason is "missing bearer token" or "invalid token".
func RequireBearer(v Verifier, now func() time.Time, reject func(w http.ResponseWriter, reason string)) func(http.Handler) http.Handler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				reject(w, "missing bearer token")
				return
			}
			claims, err := v.Verify(token, now())
			if err != nil {
				reject(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
