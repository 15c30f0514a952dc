package middleware

import (
	"net/http"

	"github.com/WillKirkmanM/proxy/internal/metrics"
)

// metricsMiddleware adapts *metrics.Metrics into Middleware.
type metricsMiddleware struct {
	m *metrics.Metrics
}

func NewMetricsMiddleware(m *metrics.Metrics) Middleware {
	return &metricsMiddleware{m: m}
}

func (mm *metricsMiddleware) Wrap(next http.Handler) http.Handler {
	return mm.m.Middleware("proxy")(next)
}
