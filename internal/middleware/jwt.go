package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

type contextKey string

// Values Handle stores on the request context. Both are strings.
const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// UserFrom returns the authenticated user id stored by Handle.
func UserFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserKey).(string)
	return id, ok && id != ""
}

// TokenValidator resolves a bearer token to (userID, username).
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter; browsers can't set headers on a websocket upgrade.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") && token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// Handle rejects requests without a valid token with 401.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, username, err := am.validator.ValidateToken(token)
		if err != nil {
			log.Debug().Err(err).Str("module", "middleware.auth").Str("path", r.URL.Path).Msg("token rejected")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
