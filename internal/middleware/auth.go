// Package middleware содержит HTTP middleware сервиса bchgate.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mmeshcher/bchgate-system/internal/token"
)

type contextKey string

const userIDKey contextKey = "userID"

// AuthMiddleware выполняет аутентификацию пользователя по заголовку
// Authorization с Bearer JWT.
type AuthMiddleware struct {
	signer *token.Signer
}

// NewAuthMiddleware создаёт AuthMiddleware, проверяющий токены указанным Signer.
func NewAuthMiddleware(signer *token.Signer) *AuthMiddleware {
	return &AuthMiddleware{signer: signer}
}

// Middleware проверяет Bearer-токен и добавляет идентификатор пользователя в
// контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		claims, err := a.signer.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}
