// ABOUTME: HTTP middleware for JWT authentication on API and websocket endpoints
// ABOUTME: Accepts a bearer header or access_token query parameter and adds the user to context

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/chathub/internal/store"
)

// UserLookup resolves the user a token was issued for
type UserLookup interface {
	GetUser(ctx context.Context, username string) (*store.User, error)
}

// AccessTokenParam is the query parameter browsers use to pass a token on
// websocket upgrades, where they cannot set headers.
const AccessTokenParam = "access_token"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// extractToken prefers the Authorization header and falls back to the
// access_token query parameter.
func extractToken(r *http.Request) (string, string) {
	if r.Header.Get("Authorization") == "" {
		if token := r.URL.Query().Get(AccessTokenParam); token != "" {
			return token, ""
		}
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// HTTPAuthMiddleware creates an HTTP middleware that validates JWT tokens,
// resolves the token subject to a known user and adds an AuthContext to the
// request context.
func HTTPAuthMiddleware(users UserLookup, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractToken(r)
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "token expired"
				}
				logger.Debug("rejected token", "path", r.URL.Path, "error", err)
				writeAuthError(w, http.StatusUnauthorized, msg)
				return
			}

			username := strings.ToLower(strings.TrimSpace(subject))
			user, err := users.GetUser(r.Context(), username)
			if errors.Is(err, store.ErrNotFound) {
				writeAuthError(w, http.StatusUnauthorized, "user not found")
				return
			}
			if err != nil {
				logger.Error("failed to look up user", "username", username, "error", err)
				writeAuthError(w, http.StatusInternalServerError, "internal error")
				return
			}

			authCtx := &AuthContext{Username: user.Username, KnownAs: user.DisplayName()}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
