package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newRouter(m *Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/greetings", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":"hi"}`))
	})
	return r
}

func TestMiddlewareCountsByRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())
	router := newRouter(m)

	for range 3 {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/greetings", nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/greetings", "200")); got != 3 {
		t.Fatalf("expected 3 greeting requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, unmatchedRoute, "404")); got != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("expected no requests in flight, got %v", got)
	}
}

func TestRateLimitRejected(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RateLimitRejected()
	m.RateLimitRejected()

	if got := testutil.ToFloat64(m.rateLimitRejects); got != 2 {
		t.Fatalf("expected 2 rejects, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	newRouter(m).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/greetings", nil))

	resp := httptest.NewRecorder()
	m.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`greetings_http_requests_total{method="GET",route="/greetings",status="200"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected exposition to contain %q", want)
		}
	}
}

func TestMiddlewareBoundsMethodLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())
	router := newRouter(m)

	for i := range 50 {
		req := httptest.NewRequest("JUNK"+strconv.Itoa(i), "/greetings", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.CollectAndCount(m.requests); got != 1 {
		t.Fatalf("expected unknown methods to share 1 series, got %d", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Fatalf("expected 1 duration series, got %d", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(otherMethod, unmatchedRoute, "405")); got != 50 {
		t.Fatalf("expected 50 requests labelled other, got %v", got)
	}
}

func TestMethodLabel(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{http.MethodGet, http.MethodGet},
		{http.MethodHead, http.MethodHead},
		{http.MethodOptions, http.MethodOptions},
		{"get", otherMethod},
		{"PROPFIND", otherMethod},
		{"", otherMethod},
	}
	for _, tt := range tests {
		if got := methodLabel(tt.method); got != tt.want {
			t.Errorf("methodLabel(%q) = %q, want %q", tt.method, got, tt.want)
		}
	}
}
