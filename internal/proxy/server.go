package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/WillKirkmanM/proxy/internal/cache"
	"github.com/WillKirkmanM/proxy/internal/config"
	"github.com/WillKirkmanM/proxy/internal/loadbalancer"
	"github.com/WillKirkmanM/proxy/internal/logging"
	"github.com/WillKirkmanM/proxy/internal/metrics"
	"github.com/WillKirkmanM/proxy/internal/middleware"
	"github.com/WillKirkmanM/proxy/internal/proxyerr"
)

// Server is the proxy's HTTP front-end: it owns the one process-lifetime
// LRUCache, routes requests, terminates CORS preflight, and dispatches
// /proxy to the Pipeline.
type Server struct {
	httpServer *http.Server
	cache      *cache.LRUCache
	pipeline   *Pipeline
	dispatcher *OriginDispatcher
	config     *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	startedAt  time.Time
	running    bool
}

// NewServer wires every component — cache, pipeline, middleware chain,
// optional origin dispatcher — from cfg.
func NewServer(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*Server, error) {
	c := cache.New(cache.Options{
		MaxBytes:      cfg.Cache.MaxBytes,
		MaxEntryBytes: cfg.Cache.MaxEntryBytes,
		StatsInterval: cfg.Cache.StatsInterval,
		Reporter:      multiReporter{logger, m},
	})

	var dispatcher *OriginDispatcher
	if len(cfg.LoadBalance.Backends) > 1 {
		lb, err := loadbalancer.NewLoadBalancer(cfg.LoadBalance.Algorithm, cfg.LoadBalance.Backends)
		if err != nil {
			return nil, fmt.Errorf("building load balancer: %w", err)
		}
		host, err := hostOf(cfg.LoadBalance.Backends[0].URL)
		if err != nil {
			return nil, fmt.Errorf("parsing backend host: %w", err)
		}
		dispatcher = NewOriginDispatcher(host, lb, len(cfg.LoadBalance.Backends))
	}

	var dispatcherArg Dispatcher
	if dispatcher != nil {
		dispatcherArg = dispatcher
	}

	pipeline := NewPipeline(c, logger, cfg.Cache.RequestTimeout, dispatcherArg)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s := &Server{
		httpServer: httpServer,
		cache:      c,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
		metrics:    m,
	}
	httpServer.Handler = s.buildHandler()
	return s, nil
}

func hostOf(rawURL string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	return req.URL.Host, nil
}

// multiReporter fans a cache.Stats snapshot out to both the logger and the
// metrics collector, so neither has to know about the other.
type multiReporter struct {
	logger *logging.Logger
	m      *metrics.Metrics
}

func (r multiReporter) ReportCacheStats(stats cache.Stats) {
	r.logger.ReportCacheStats(stats)
	r.m.ReportCacheStats(stats)
}

// buildHandler wraps the router with CORS, request-id, rate-limit and
// metrics middleware, outermost first.
func (s *Server) buildHandler() http.Handler {
	var router http.Handler = http.HandlerFunc(s.route)

	mws := []middleware.Middleware{
		middleware.NewCORS(s.config.Server.AllowOrigin),
		middleware.NewRequestID(),
	}
	if s.config.RateLimit.Enabled {
		mws = append(mws, middleware.NewRateLimiter(s.config.RateLimit))
	}
	mws = append(mws, middleware.NewMetricsMiddleware(s.metrics))

	handler := middleware.Chain(router, mws...)
	return s.recoverPanics(s.logger.HTTPRequestLogger()(handler))
}

// recoverPanics guarantees the server survives a per-request panic and
// still responds with 500 when headers have not been sent.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error(r.Context(), "panic recovered", fmt.Errorf("%v", rec))
				proxyerr.New(proxyerr.Internal, "internal server error").WriteJSON(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// route implements the spec's path table. CORS headers are already applied
// by the CORS middleware by the time route runs.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Proxy server is running",
			"status":  "ok",
		})
	case "/status":
		s.writeStatus(w)
	case "/favicon.ico":
		w.WriteHeader(http.StatusNoContent)
	case "/proxy":
		if r.Method != http.MethodGet {
			proxyerr.New(proxyerr.NotFound, "not found").WriteJSON(w)
			return
		}
		s.pipeline.Handle(w, r)
	case "/metrics":
		s.metrics.Handler().ServeHTTP(w, r)
	default:
		proxyerr.New(proxyerr.NotFound, "not found").WriteJSON(w)
	}
}

func (s *Server) writeStatus(w http.ResponseWriter) {
	status := "Disconnected"
	if s.running {
		status = "Connected"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"port":      s.config.Server.Port,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Start binds the listener and begins accepting; health checks for any
// configured origin mirrors run alongside.
func (s *Server) Start(ctx context.Context) error {
	s.running = true
	s.startedAt = time.Now()

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	if s.dispatcher != nil && s.config.Health.Enabled {
		go s.startHealthChecks(ctx)
	}

	select {
	case err := <-errChan:
		s.running = false
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drains the HTTP server and stops the cache's background
// reporter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running = false
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.cache.Close()
	return nil
}

func (s *Server) startHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(s.config.Health.Interval)
	defer ticker.Stop()

	s.performHealthChecks()
	for {
		select {
		case <-ticker.C:
			s.performHealthChecks()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) performHealthChecks() {
	for _, backend := range s.dispatcher.Backends() {
		go func(b loadbalancer.Backend) {
			healthy := s.checkBackendHealth(b)
			s.dispatcher.UpdateBackendHealth(b.GetURL(), healthy)
			s.metrics.UpdateBackendHealth(b.GetURL(), healthy)
		}(backend)
	}
}

func (s *Server) checkBackendHealth(backend loadbalancer.Backend) bool {
	client := &http.Client{Timeout: s.config.Health.Timeout}

	resp, err := client.Get(backend.GetURL() + s.config.Health.Path)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
