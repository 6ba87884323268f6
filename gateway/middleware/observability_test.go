package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservabilityRecordsRequests(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true}, nil)
	handler := obs.Middleware("orders.get")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/orders/x", nil))
	}
	if got := testutil.ToFloat64(obs.requests.WithLabelValues("orders.get", http.MethodGet, "404")); got != 2 {
		t.Fatalf("expected 2 requests recorded, got %v", got)
	}

	res := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), "escrow_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestObservabilityDisabledSkipsMetrics(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{}, nil)
	handler := obs.Middleware("orders.get")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/orders/x", nil))
	if got := testutil.CollectAndCount(obs.requests); got != 0 {
		t.Fatalf("expected no series, got %d", got)
	}
}

func TestObservabilityImpliedStatus(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true}, nil)
	handler := obs.Middleware("rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	if got := testutil.ToFloat64(obs.requests.WithLabelValues("rpc", http.MethodPost, "200")); got != 1 {
		t.Fatalf("expected implicit 200, got %v", got)
	}
	if got := testutil.ToFloat64(obs.inflight.WithLabelValues("rpc")); got != 0 {
		t.Fatalf("in-flight gauge not released: %v", got)
	}
}
