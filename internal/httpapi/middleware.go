package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type claimsKey struct{}

// SessionClaims are the backend-issued token claims the service consumes.
type SessionClaims struct {
	UserID string
	Email  string
}

// ClaimsFromContext returns the session claims set by BearerAuth.
func ClaimsFromContext(ctx context.Context) (SessionClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(SessionClaims)
	return claims, ok
}

// BearerAuth validates the backend-issued access token (HS256, signed with
// the backend's JWT secret) and stores its claims on the request context.
func BearerAuth(jwtSecret string) func(next http.Handler) http.Handler {
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Fail closed on a missing secret: HS256 against an empty key
			// would accept tokens anyone can forge.
			if jwtSecret == "" {
				writeUnauthorized(w, "session validation unavailable")
				return
			}
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			raw := strings.TrimPrefix(authHeader, "Bearer ")

			var claims jwt.MapClaims = map[string]any{}
			token, err := jwt.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !token.Valid {
				writeUnauthorized(w, "invalid token")
				return
			}

			session := SessionClaims{}
			if sub, err := claims.GetSubject(); err == nil {
				session.UserID = sub
			}
			if email, ok := claims["email"].(string); ok {
				session.Email = email
			}
			if session.UserID == "" {
				writeUnauthorized(w, "token carries no subject")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error": {"message": %q, "type": "unauthorized"}}`, msg)
}
