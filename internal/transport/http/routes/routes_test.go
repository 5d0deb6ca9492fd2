package routes_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/gateway"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/handlers"
	httproutes "github.com/dhruv-khokhar/ChatterNet/internal/transport/http/routes"
	"github.com/dhruv-khokhar/ChatterNet/internal/usecase"
)

func newEngine(t *testing.T, deps httproutes.Dependencies) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if deps.Config == nil {
		deps.Config = &config.AppConfig{App: config.AppSettings{Name: "post-service", Env: "test"}}
	}
	deps.Logger = zaptest.NewLogger(t)
	deps.Registry = prometheus.NewRegistry()

	r, err := httproutes.Register(deps)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	return r
}

func TestHealthEndpoint(t *testing.T) {
	r := newEngine(t, httproutes.Dependencies{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected a trace id on every response")
	}
}

type failingPing struct{}

func (failingPing) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadinessReportsBus(t *testing.T) {
	r := newEngine(t, httproutes.Dependencies{Bus: failingPing{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection refused") {
		t.Fatalf("expected bus failure in body, got %s", w.Body.String())
	}
}

func TestMetricsEndpointExposesServiceNamespace(t *testing.T) {
	r := newEngine(t, httproutes.Dependencies{})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "post_service_http_requests_total") {
		t.Fatalf("expected namespaced request counter, got:\n%s", w.Body.String())
	}
}

type unreachablePosts struct{ t *testing.T }

func (u unreachablePosts) Create(context.Context, usecase.CreatePostInput) (domain.Post, error) {
	u.t.Fatal("post service must not be reached")
	return domain.Post{}, nil
}
func (u unreachablePosts) List(context.Context, int, int) (domain.PostPage, error) {
	u.t.Fatal("post service must not be reached")
	return domain.PostPage{}, nil
}
func (u unreachablePosts) Get(context.Context, string) (domain.Post, error) {
	u.t.Fatal("post service must not be reached")
	return domain.Post{}, nil
}
func (u unreachablePosts) Delete(context.Context, string, string) error {
	u.t.Fatal("post service must not be reached")
	return nil
}

func TestPostRoutesRequireUserHeader(t *testing.T) {
	r := newEngine(t, httproutes.Dependencies{
		Handlers: httproutes.HandlerSet{Posts: handlers.NewPostHandler(unreachablePosts{t: t}, nil)},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/posts/all-posts", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

type teapotStage struct{}

func (teapotStage) Name() string { return "teapot" }
func (teapotStage) Run(ex *gateway.Exchange) gateway.Result {
	return gateway.Terminal(http.StatusTeapot, gateway.ErrorBody{Message: ex.Request.URL.Path})
}

func TestGatewayMountedUnderV1(t *testing.T) {
	cfg := &config.AppConfig{
		App:     config.AppSettings{Name: "api-gateway", Env: "test"},
		Gateway: config.GatewaySettings{AllowedOrigins: []string{"*"}},
	}
	r := newEngine(t, httproutes.Dependencies{
		Config:   cfg,
		Handlers: httproutes.HandlerSet{Gateway: gateway.NewPipeline(nil, teapotStage{})},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/posts/42", nil))

	if w.Code != http.StatusTeapot {
		t.Fatalf("expected the pipeline to answer, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/v1/posts/42") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}
