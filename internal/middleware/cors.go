package middleware

import "net/http"

// CORS applies the proxy's CORS header set to every response and
// short-circuits OPTIONS requests with a bare 204.
type CORS struct {
	AllowOrigin string
}

func NewCORS(allowOrigin string) *CORS {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return &CORS{AllowOrigin: allowOrigin}
}

func (c *CORS) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.setHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (c *CORS) setHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", c.AllowOrigin)
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Origin")
	h.Set("Access-Control-Expose-Headers", "X-Cache, X-Cache-Lookup")
}
