package loadbalancer

import (
	"fmt"
	"net/http/httptest"
	"testing"
)

func makeBackends(n int) []Backend {
	backends := make([]Backend, n)
	for i := 0; i < n; i++ {
		backend, _ := NewHTTPBackend(fmt.Sprintf("http://example.com:%d", 8080+i), 1)
		backends[i] = backend
	}
	return backends
}

func TestRoundRobinDistributesEvenly(t *testing.T) {
	backends := makeBackends(3)
	lb := NewRoundRobinBalancer(backends)
	req := httptest.NewRequest("GET", "/", nil)

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		b, err := lb.SelectBackend(req, nil)
		if err != nil {
			t.Fatalf("SelectBackend: %v", err)
		}
		seen[b.GetURL()]++
	}

	for url, count := range seen {
		if count != 3 {
			t.Errorf("backend %s selected %d times, want 3", url, count)
		}
	}
}

func TestRoundRobinSkipsUnhealthy(t *testing.T) {
	backends := makeBackends(3)
	backends[1].SetHealthy(false)
	lb := NewRoundRobinBalancer(backends)
	req := httptest.NewRequest("GET", "/", nil)

	for i := 0; i < 6; i++ {
		b, err := lb.SelectBackend(req, nil)
		if err != nil {
			t.Fatalf("SelectBackend: %v", err)
		}
		if b.GetURL() == backends[1].GetURL() {
			t.Fatalf("selected unhealthy backend %s", b.GetURL())
		}
	}
}

func TestRoundRobinAllUnhealthyErrors(t *testing.T) {
	backends := makeBackends(2)
	for _, b := range backends {
		b.SetHealthy(false)
	}
	lb := NewRoundRobinBalancer(backends)
	req := httptest.NewRequest("GET", "/", nil)

	if _, err := lb.SelectBackend(req, nil); err == nil {
		t.Fatal("expected error when all backends unhealthy")
	}
}

func TestRoundRobinSkipsExcludedWithoutTouchingHealth(t *testing.T) {
	backends := makeBackends(3)
	lb := NewRoundRobinBalancer(backends)
	req := httptest.NewRequest("GET", "/", nil)

	exclude := map[string]struct{}{backends[0].GetURL(): {}}
	for i := 0; i < 6; i++ {
		b, err := lb.SelectBackend(req, exclude)
		if err != nil {
			t.Fatalf("SelectBackend: %v", err)
		}
		if b.GetURL() == backends[0].GetURL() {
			t.Fatalf("selected excluded backend %s", b.GetURL())
		}
	}
	if !backends[0].IsHealthy() {
		t.Fatal("exclude must not mark a backend unhealthy")
	}
}

func TestRoundRobinAllExcludedErrors(t *testing.T) {
	backends := makeBackends(2)
	lb := NewRoundRobinBalancer(backends)
	req := httptest.NewRequest("GET", "/", nil)

	exclude := map[string]struct{}{
		backends[0].GetURL(): {},
		backends[1].GetURL(): {},
	}
	if _, err := lb.SelectBackend(req, exclude); err == nil {
		t.Fatal("expected error when every backend is excluded")
	}
}

func BenchmarkRoundRobinSelection(b *testing.B) {
	backends := makeBackends(10)
	lb := NewRoundRobinBalancer(backends)
	req := httptest.NewRequest("GET", "/", nil)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := lb.SelectBackend(req, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRoundRobinConcurrent(b *testing.B) {
	backends := makeBackends(10)
	lb := NewRoundRobinBalancer(backends)
	req := httptest.NewRequest("GET", "/", nil)

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := lb.SelectBackend(req, nil); err != nil {
				b.Fatal(err)
			}
		}
	})
}
