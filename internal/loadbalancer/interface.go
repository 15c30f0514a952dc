// Package loadbalancer selects among configured origin mirrors for a single
// target host. It only engages when a host has more than one configured
// backend; the common case of one unconfigured origin bypasses it entirely
// and the pipeline fetches the target URL directly.
package loadbalancer

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
)

// Backend is one origin mirror candidate for a fetch.
type Backend interface {
	GetURL() string
	IsHealthy() bool
	SetHealthy(bool)
	// Fetch issues a GET against this mirror for the given path (plus
	// query), returning the raw response for the pipeline's BUFFER phase
	// to consume. The caller owns resp.Body.
	Fetch(ctx context.Context, path string) (*http.Response, error)
	GetConnections() int64
	IncrementConnections()
	DecrementConnections()
	GetWeight() int
	SetWeight(int)
}

// LoadBalancer abstracts the mirror-selection strategy. exclude names
// backend URLs SelectBackend must skip for this call even if they are
// healthy — origin_dispatch.go passes the mirrors already tried during the
// current fetch's retry budget, so a retry never lands on the same mirror
// twice in one request. Pass nil when there is nothing to exclude.
type LoadBalancer interface {
	SelectBackend(req *http.Request, exclude map[string]struct{}) (Backend, error)
	UpdateBackendHealth(string, bool)
	GetBackends() []Backend
}

// excluded reports whether backend's URL is in the exclude set. A nil set
// excludes nothing.
func excluded(exclude map[string]struct{}, backend Backend) bool {
	if exclude == nil {
		return false
	}
	_, ok := exclude[backend.GetURL()]
	return ok
}

// HTTPBackend is a Backend fronting a single origin mirror over HTTP.
type HTTPBackend struct {
	url         *url.URL
	healthy     bool
	client      *http.Client
	connections int64
	weight      int
}

func NewHTTPBackend(backendURL string, weight int) (*HTTPBackend, error) {
	parsed, err := url.Parse(backendURL)
	if err != nil {
		return nil, err
	}

	if weight <= 0 {
		weight = 1
	}

	return &HTTPBackend{
		url:     parsed,
		healthy: true,
		client:  &http.Client{},
		weight:  weight,
	}, nil
}

func (b *HTTPBackend) GetURL() string { return b.url.String() }

func (b *HTTPBackend) IsHealthy() bool { return b.healthy }

func (b *HTTPBackend) SetHealthy(healthy bool) { b.healthy = healthy }

func (b *HTTPBackend) GetConnections() int64 { return atomic.LoadInt64(&b.connections) }

func (b *HTTPBackend) IncrementConnections() { atomic.AddInt64(&b.connections, 1) }

func (b *HTTPBackend) DecrementConnections() { atomic.AddInt64(&b.connections, -1) }

func (b *HTTPBackend) GetWeight() int { return b.weight }

// SetWeight changes this mirror's weight for the weighted algorithm;
// non-positive values are clamped to 1.
func (b *HTTPBackend) SetWeight(weight int) {
	if weight <= 0 {
		weight = 1
	}
	b.weight = weight
}

// Fetch mirrors the given path onto this backend's scheme and host and
// issues the GET, tracking in-flight connections for the least-connections
// algorithm.
func (b *HTTPBackend) Fetch(ctx context.Context, path string) (*http.Response, error) {
	b.IncrementConnections()
	defer b.DecrementConnections()

	rel, err := url.Parse(path)
	if err != nil {
		return nil, err
	}

	target := *b.url
	target.Path = rel.Path
	target.RawQuery = rel.RawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}

	return b.client.Do(req)
}
