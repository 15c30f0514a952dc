package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/WillKirkmanM/proxy/internal/loadbalancer"
)

// OriginDispatcher fetches through a set of mirrors configured for one
// origin host, retrying across mirrors on failure. It only engages for
// requests whose host matches Host(); every other host bypasses it and the
// pipeline fetches the target URL directly, preserving the spec's default
// "no retries" single-origin path.
type OriginDispatcher struct {
	host    string
	lb      loadbalancer.LoadBalancer
	retries int
}

// NewOriginDispatcher wraps lb for the given origin host. maxRetries bounds
// how many mirrors are tried for one request before giving up.
func NewOriginDispatcher(host string, lb loadbalancer.LoadBalancer, maxRetries int) *OriginDispatcher {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &OriginDispatcher{host: host, lb: lb, retries: maxRetries}
}

// Host is the origin host this dispatcher serves.
func (d *OriginDispatcher) Host() string { return d.host }

// Backends exposes the underlying mirrors for health-check monitoring.
func (d *OriginDispatcher) Backends() []loadbalancer.Backend { return d.lb.GetBackends() }

// UpdateBackendHealth forwards a health-check outcome to the underlying
// load balancer.
func (d *OriginDispatcher) UpdateBackendHealth(url string, healthy bool) {
	d.lb.UpdateBackendHealth(url, healthy)
}

// Dispatch fetches target's path+query across up to d.retries mirrors,
// backing off between attempts. It returns the first successful response;
// once a response is returned the caller owns its body.
//
// tried accumulates the mirrors this call has already failed against and is
// fed back into SelectBackend on every attempt, so a single request's retry
// budget never lands on the same mirror twice even if the health-check
// ticker hasn't yet caught up with the failure. UpdateBackendHealth still
// flags the mirror unhealthy for the benefit of other, unrelated requests.
func (d *OriginDispatcher) Dispatch(ctx context.Context, target *url.URL) (*http.Response, error) {
	path := target.Path
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}

	tried := make(map[string]struct{})

	operation := func() (*http.Response, error) {
		backend, err := d.lb.SelectBackend(&http.Request{URL: target}, tried)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := backend.Fetch(ctx, path)
		if err != nil {
			tried[backend.GetURL()] = struct{}{}
			d.lb.UpdateBackendHealth(backend.GetURL(), false)
			return nil, fmt.Errorf("mirror %s: %w", backend.GetURL(), err)
		}
		return resp, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithMaxTries(uint(d.retries)),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(10*time.Second),
	)
}
