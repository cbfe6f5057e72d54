package server

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// authMiddleware protects operational endpoints with basic auth. Only the
// password matters, validated against the configured bcrypt hash; the user
// part of the credentials is ignored.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, password, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword([]byte(s.authHash), []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="reportd", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
