// Package middleware holds the HTTP middleware for the webhook and
// debug surfaces: request logging, panic recovery, per-IP rate
// limiting, and JWT bearer auth for the operator endpoints.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// operatorTokenTTL is the lifetime of an operator debug token.
const operatorTokenTTL = 24 * time.Hour

// OperatorClaims holds the JWT claims for operator debug access.
type OperatorClaims struct {
	jwt.RegisteredClaims
}

// GenerateOperatorToken creates a signed JWT granting debug access.
func GenerateOperatorToken(secret []byte) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(operatorTokenTTL)

	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			// A per-token ID so individual tokens show up distinctly in
			// access logs.
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "halpline",
			Subject:   "operator",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// RequireOperator returns middleware that validates JWT bearer tokens
// on the debug endpoints.
func RequireOperator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeMiddlewareError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeMiddlewareError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &OperatorClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("operator auth: invalid jwt", "error", err)
				writeMiddlewareError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// middlewareEnvelope matches the api package's envelope for error
// responses without importing it.
type middlewareEnvelope struct {
	Error string `json:"error,omitempty"`
}

func writeMiddlewareError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(middlewareEnvelope{Error: msg}) //nolint:errcheck
}
