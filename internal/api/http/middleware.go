package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// AdminTokenHeader заголовок с токеном администратора
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken пропускает запрос только с верным X-Admin-Token.
// Пустой token закрывает admin-маршруты полностью.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "admin token is required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
