package server

import (
	"net/http"
	"strings"
)

// authMiddleware checks the admin token: Bearer header for API clients,
// with a query-param fallback for curl convenience.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			if strings.TrimPrefix(header, "Bearer ") == s.token {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if r.URL.Query().Get("token") == s.token {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
