// Package middleware provides the HTTP decorators the proxy server chains in
// front of its core handler: rate limiting, metrics, CORS and request-id
// stamping.
package middleware

import "net/http"

// Middleware wraps a handler with request/response processing that runs
// before and after it, composing via the decorator pattern.
type Middleware interface {
	// Wrap returns a new handler that applies this middleware's logic
	// around next.
	Wrap(next http.Handler) http.Handler
}

// Chain composes middlewares in order: the first wraps outermost, so it
// sees a request first and a response last.
func Chain(handler http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i].Wrap(handler)
	}
	return handler
}
