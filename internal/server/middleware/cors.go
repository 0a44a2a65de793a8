package middleware

import (
	"net/http"
	"strings"
)

// The API is read-only apart from cancel-all, and requests carry no body.
const (
	corsMethods = "GET, DELETE, OPTIONS"
	corsHeaders = "Authorization, X-API-Key"
	corsMaxAge  = "600"
)

// CORS lets the dashboard origins from server.cors_origins call the API from a
// browser. An empty list or a "*" entry admits any origin. Preflight requests
// are answered here and never reach the mux.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	anyOrigin := len(allowedOrigins) == 0
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		origins[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origin != "" {
				_, ok := origins[strings.ToLower(origin)]
				if anyOrigin || ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Max-Age", corsMaxAge)
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
