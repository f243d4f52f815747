// Package middleware provides HTTP middleware for the relay API.
package middleware

import (
	"net/http"
	"strings"
)

// CORS returns middleware that handles CORS headers. An entry of "*" allows
// any origin; an entry ending in "*" allows any origin with that prefix.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed, explicit := matchOrigin(allowedOrigins, origin)
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-OGPT-Port-ID")
				w.Header().Add("Vary", "Origin")
				// Only allow credentials for explicit origins, not wildcard matches.
				// Setting Allow-Credentials with a wildcard-echoed origin enables CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed reports whether origin matches the allow-list.
func OriginAllowed(allowedOrigins []string, origin string) bool {
	ok, _ := matchOrigin(allowedOrigins, origin)
	return ok
}

func matchOrigin(allowedOrigins []string, origin string) (allowed, explicit bool) {
	if origin == "" {
		return false, false
	}
	for _, o := range allowedOrigins {
		switch {
		case o == origin:
			return true, true
		case o == "*":
			allowed = true
		case strings.HasSuffix(o, "*") && strings.HasPrefix(origin, strings.TrimSuffix(o, "*")):
			allowed = true
		}
	}
	return allowed, false
}
