package middleware

import (
	"net/http"
	"strings"

	"bilimpay-be/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware parses a bearer token if present and stores the user identity
// in the request context. Requests without a token pass through anonymously;
// handlers that need an identity reject them. A malformed or badly signed
// token is rejected here.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				uid, _ := claims["user_id"].(float64)
				email, _ := claims["email"].(string)
				role, _ := claims["role"].(string)
				ctx := utils.SetUserContext(r.Context(), uint(uid), email, role)
				r = r.WithContext(ctx)
			}

			next.ServeHTTP(w, r)
		})
	}
}
