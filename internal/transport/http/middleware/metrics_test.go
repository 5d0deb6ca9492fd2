package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newMetricsRouter(t *testing.T, reg *prometheus.Registry) (*gin.Engine, *HTTPMetrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: reg, Namespace: "post_service"})
	if err != nil {
		t.Fatalf("failed to create http metrics: %v", err)
	}

	router := gin.New()
	router.Use(metrics.Handler())
	router.GET("/api/posts/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	return router, metrics
}

func TestHTTPMetricsLabelsRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	router, metrics := newMetricsRouter(t, reg)

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/posts/"+id, nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	}

	labels := prometheus.Labels{"method": http.MethodGet, "route": "/api/posts/:id", "status": "404"}
	if got := testutil.ToFloat64(metrics.Requests.With(labels)); got != 2 {
		t.Fatalf("expected request counter 2, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.InFlight); got != 0 {
		t.Fatalf("expected in-flight gauge to return to 0, got %f", got)
	}

	expected := `
# HELP post_service_http_in_flight_requests Current number of in-flight HTTP requests.
# TYPE post_service_http_in_flight_requests gauge
post_service_http_in_flight_requests 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "post_service_http_in_flight_requests"); err != nil {
		t.Fatalf("unexpected gauge exposition: %v", err)
	}
}

func TestHTTPMetricsUnmatchedRoute(t *testing.T) {
	router, metrics := newMetricsRouter(t, prometheus.NewRegistry())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))

	labels := prometheus.Labels{"method": http.MethodGet, "route": unmatchedRoute, "status": "404"}
	if got := testutil.ToFloat64(metrics.Requests.With(labels)); got != 1 {
		t.Fatalf("expected unmatched counter 1, got %f", got)
	}
}

func TestHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, first := newMetricsRouter(t, reg)
	_, second := newMetricsRouter(t, reg)

	if first.Requests != second.Requests {
		t.Fatal("expected the second engine to reuse the registered counter")
	}
}

func TestHTTPMetricsHandlerNoopWhenNil(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use((*HTTPMetrics)(nil).Handler())
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
