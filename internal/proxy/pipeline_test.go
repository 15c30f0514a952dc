package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/WillKirkmanM/proxy/internal/cache"
	"github.com/WillKirkmanM/proxy/internal/logging"
)

func newTestPipeline() *Pipeline {
	c := cache.New(cache.Options{})
	logger := logging.New("test", false)
	return NewPipeline(c, logger, 5*time.Second, nil)
}

func TestPipelineErrorEnvelopeOnMissingTargetURL(t *testing.T) {
	p := newTestPipeline()

	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	rec := httptest.NewRecorder()

	p.Handle(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	want := `{"error":"No target URL provided","status":"error","statusCode":400}` + "\n"
	if rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestPipelineMissThenHit(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer origin.Close()

	p := newTestPipeline()
	target := url.QueryEscape(origin.URL + "/x")

	req1 := httptest.NewRequest(http.MethodGet, "/proxy?targetUrl="+target, nil)
	rec1 := httptest.NewRecorder()
	p.Handle(rec1, req1)

	if rec1.Code != http.StatusOK {
		t.Fatalf("first response status = %d, want 200", rec1.Code)
	}
	if got := rec1.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("first X-Cache = %q, want MISS", got)
	}
	if rec1.Body.String() != "OK" {
		t.Fatalf("first body = %q, want OK", rec1.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/proxy?targetUrl="+target, nil)
	rec2 := httptest.NewRecorder()
	p.Handle(rec2, req2)

	if got := rec2.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("second X-Cache = %q, want HIT", got)
	}
	if rec2.Body.String() != "OK" {
		t.Fatalf("second body = %q, want OK", rec2.Body.String())
	}
	if rec2.Header().Get("X-Cache-Date") == "" {
		t.Fatal("expected X-Cache-Date on hit")
	}
}

func TestNormalizeTargetURLEquivalence(t *testing.T) {
	cases := []string{
		"example.test/y",
		"http://example.test/y",
		"http://example.test/y/",
	}

	var keys []string
	for _, c := range cases {
		key, perr := normalizeTargetURL(c)
		if perr != nil {
			t.Fatalf("normalizeTargetURL(%q): %v", c, perr)
		}
		keys = append(keys, key)
	}

	for i := 1; i < len(keys); i++ {
		if keys[i] != keys[0] {
			t.Fatalf("keys[%d] = %q, want %q", i, keys[i], keys[0])
		}
	}
}

func TestNormalizeTargetURLRejectsInvalid(t *testing.T) {
	if _, perr := normalizeTargetURL(""); perr == nil {
		t.Fatal("expected error for empty targetUrl")
	}
	if _, perr := normalizeTargetURL("   "); perr == nil {
		t.Fatal("expected error for blank targetUrl")
	}
}

func TestNormalizeTargetURLToleratesDoubleWrap(t *testing.T) {
	inner := url.QueryEscape("http://example.test/y")
	wrapped := "/proxy?targetUrl=" + inner

	key, perr := normalizeTargetURL(wrapped)
	if perr != nil {
		t.Fatalf("normalizeTargetURL: %v", perr)
	}
	if key != "http://example.test/y" {
		t.Fatalf("key = %q, want http://example.test/y", key)
	}
}
