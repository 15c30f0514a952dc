// Package proxy implements the forward-proxy request pipeline and its HTTP
// front-end: parse and normalize the target URL, consult the shared
// LRUCache, and on a miss fetch the origin, buffer its body, and store it
// before replying.
package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/WillKirkmanM/proxy/internal/cache"
	"github.com/WillKirkmanM/proxy/internal/logging"
	"github.com/WillKirkmanM/proxy/internal/proxyerr"
)

const userAgent = "go-cache-proxy/1.0"

var schemePattern = regexp.MustCompile(`(?i)^https?://`)

// Dispatcher fetches a target URL across a configured set of origin
// mirrors. The pipeline only consults it when the target's host matches one
// it was built for; every other host bypasses it and is fetched directly.
type Dispatcher interface {
	Host() string
	Dispatch(ctx context.Context, target *url.URL) (*http.Response, error)
}

// Pipeline runs the PARSE -> LOOKUP -> (SERVE_HIT | FETCH -> BUFFER ->
// STORE_AND_SERVE) state machine for one /proxy request.
type Pipeline struct {
	cache      *cache.LRUCache
	logger     *logging.Logger
	client     *http.Client
	dispatcher Dispatcher
}

// NewPipeline builds a Pipeline over the given cache. requestTimeout is the
// total deadline for a direct origin fetch, body read included (default
// 30s); it is not an idle timeout. dispatcher may be nil,
// in which case every fetch goes straight to the target URL's own host.
func NewPipeline(c *cache.LRUCache, logger *logging.Logger, requestTimeout time.Duration, dispatcher Dispatcher) *Pipeline {
	return &Pipeline{
		cache:  c,
		logger: logger,
		client: &http.Client{
			Timeout: requestTimeout,
		},
		dispatcher: dispatcher,
	}
}

// Handle serves one /proxy request end to end. It writes directly to w and
// never returns an error after the first byte of the response has been
// written — per spec, failures past that point are logged and dropped.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, perr := normalizeTargetURL(r.URL.Query().Get("targetUrl"))
	if perr != nil {
		p.logger.Warn(ctx, "rejected proxy request", slog.String("reason", perr.Message))
		perr.WriteJSON(w)
		return
	}

	if entry, ok := p.cache.Find(key); ok {
		p.logger.Debug(ctx, "cache hit", slog.String("key", key))
		p.serveHit(w, entry, key)
		return
	}

	// A client disconnect cancels only the write phase: the fetch is detached
	// from the request's cancellation so it can still complete and populate
	// the cache.
	resp, perr := p.fetch(context.WithoutCancel(ctx), key)
	if perr != nil {
		p.logger.Error(ctx, "origin fetch failed", perr, slog.String("key", key))
		perr.WriteJSON(w)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Error(ctx, "reading origin body failed", err, slog.String("key", key))
		proxyerr.New(proxyerr.BadGateway, err.Error()).WriteJSON(w)
		return
	}

	p.storeAndServe(ctx, w, resp, body, key)
}

// normalizeTargetURL implements Phase 1: trim, tolerate a re-wrapped
// /proxy?targetUrl= value, default the scheme, strip trailing slashes, and
// parse as an absolute URL. The canonical string returned is the cache key.
func normalizeTargetURL(raw string) (string, *proxyerr.Error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", proxyerr.New(proxyerr.BadRequest, "No target URL provided")
	}

	if idx := strings.Index(raw, "/proxy?targetUrl="); idx != -1 {
		if unwrapped, err := url.QueryUnescape(raw[idx+len("/proxy?targetUrl="):]); err == nil {
			raw = strings.TrimSpace(unwrapped)
		}
	}

	if !schemePattern.MatchString(raw) {
		raw = "http://" + raw
	}

	raw = strings.TrimRight(raw, "/")

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", proxyerr.New(proxyerr.BadRequest, "Invalid target URL")
	}

	return parsed.String(), nil
}

func (p *Pipeline) serveHit(w http.ResponseWriter, entry cache.Entry, key string) {
	h := w.Header()
	h.Set("X-Cache", "HIT")
	h.Set("X-Cache-Date", entry.InsertedAt.UTC().Format(time.RFC3339))
	h.Set("X-Cache-Lookup", key)
	h.Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	w.Write(entry.Data)
}

// fetch implements Phase 3: dispatch to a configured mirror when one exists
// for this host, otherwise fetch key directly. Transport failures and the
// request timeout both surface as BadGateway.
func (p *Pipeline) fetch(ctx context.Context, key string) (*http.Response, *proxyerr.Error) {
	target, err := url.Parse(key)
	if err != nil {
		return nil, proxyerr.New(proxyerr.Internal, "cache key is not a valid URL")
	}

	if p.dispatcher != nil && p.dispatcher.Host() == target.Host {
		resp, derr := p.dispatcher.Dispatch(ctx, target)
		if derr != nil {
			return nil, proxyerr.New(proxyerr.BadGateway, derr.Error())
		}
		return resp, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, proxyerr.New(proxyerr.Internal, err.Error())
	}
	req.Header.Set("Host", target.Host)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, proxyerr.New(proxyerr.BadGateway, err.Error())
	}
	return resp, nil
}

// storeAndServe implements Phase 4: insert the buffered body into the cache
// (rejection is not an error), then respond with the origin's status,
// merged headers, X-Cache: MISS, and the body.
func (p *Pipeline) storeAndServe(ctx context.Context, w http.ResponseWriter, origin *http.Response, body []byte, key string) {
	h := w.Header()
	for name, values := range origin.Header {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	h.Set("X-Cache", "MISS")
	h.Set("X-Cache-Lookup", key)
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "text/html")
	}

	// LRUCache.Add only ever returns false for capacity rejection (the
	// entry alone exceeds maxEntryBytes) — it does no I/O under its lock and
	// cannot fail. That's not an error: the response is still served, it
	// simply won't be served from cache next time. X-Cache-Error is reserved
	// for a genuine write failure, which this cache can't produce, so none is
	// set here; a debug log is enough to see it happening.
	if !p.cache.Add(body, key) {
		p.logger.Debug(ctx, "cache insert skipped: entry exceeds max entry size", slog.String("key", key), slog.Int("size", len(body)+len(key)))
	}

	w.WriteHeader(origin.StatusCode)
	w.Write(body)
}
