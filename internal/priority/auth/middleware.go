package auth

import (
	"context"
	"net/http"
)

// protectedRoutes maps HTTP routes to the protected gRPC methods they mirror.
var protectedRoutes = map[string]string{
	http.MethodPost + " /v1/cache/clear":  ClearCacheMethod,
	http.MethodPost + " /v1/model/reload": ReloadModelMethod,
}

func HTTPMiddleware(next http.Handler, jwtSecret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isProtectedRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := extractTokenFromHeader(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := validateToken(tokenString, jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractTokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errAuthorizationRequired
	}
	return bearerToken(authHeader)
}

func isProtectedRequest(r *http.Request) bool {
	_, ok := protectedRoutes[r.Method+" "+r.URL.Path]
	return ok
}
