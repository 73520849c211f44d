package myMiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserKey contextKey = "user_id"
	RoleKey contextKey = "role"
)

const RoleAdmin = "admin"

// TokenValidator is what we need from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (userID, username, role string, err error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle rejects requests without a valid token.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Missing authentication token")
			return
		}

		ctx, err := am.authenticate(r.Context(), tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional injects the identity when a valid token is present and lets the
// request through either way.
func (am *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenString := extractToken(r); tokenString != "" {
			if ctx, err := am.authenticate(r.Context(), tokenString); err == nil {
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole must run after Handle.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, _ := r.Context().Value(RoleKey).(string); got != role {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserID returns the authenticated user id, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserKey).(string)
	return id, ok && id != ""
}

func (am *AuthMiddleware) authenticate(ctx context.Context, tokenString string) (context.Context, error) {
	userID, _, role, err := am.validator.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, UserKey, userID)
	ctx = context.WithValue(ctx, RoleKey, role)
	return ctx, nil
}

// extractToken reads a Bearer header, falling back to the `token` query
// param since browsers cannot set headers on websocket upgrades.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
