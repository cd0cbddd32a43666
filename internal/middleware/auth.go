// Package middleware provides HTTP middleware: authentication, request IDs,
// and rate limiting.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type identityKey struct{}

// WithIdentity stores the authenticated principal identifier in the context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext extracts the principal identifier from the context.
// Returns "" for anonymous requests.
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)
	return identity
}

// Auth maps request credentials to a principal identifier and stores it in
// the context. Bearer JWTs (HS256, when a secret is configured) yield
// "account:<sub>"; Basic credentials yield "basic:<sha256(user:pass)>" so
// the store never sees raw passwords. Requests without credentials proceed
// anonymously; invalid credentials are rejected with 401.
func Auth(jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			if strings.HasPrefix(header, "Bearer ") && len(jwtSecret) > 0 {
				tokenStr := strings.TrimPrefix(header, "Bearer ")
				token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
					return jwtSecret, nil
				}, jwt.WithValidMethods([]string{"HS256"}))
				if err == nil && token.Valid {
					if claims, ok := token.Claims.(jwt.MapClaims); ok {
						if sub, ok := claims["sub"].(string); ok && sub != "" {
							ctx := WithIdentity(r.Context(), "account:"+sub)
							next.ServeHTTP(w, r.WithContext(ctx))
							return
						}
					}
				}
				unauthorized(w)
				return
			}

			if user, pass, ok := r.BasicAuth(); ok && user != "" {
				digest := sha256.Sum256([]byte(user + ":" + pass))
				ctx := WithIdentity(r.Context(), "basic:"+hex.EncodeToString(digest[:]))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":401,"message":"unauthorized: invalid credentials"}`))
}
