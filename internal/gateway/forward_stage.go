package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	applogger "github.com/dhruv-khokhar/ChatterNet/internal/infra/logger"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/middleware"
)

// ForwardStage proxies the request to the resolved route. Bodies are
// streamed untouched in both directions and upstream calls are never
// retried.
type ForwardStage struct {
	proxies  map[string]*httputil.ReverseProxy
	timeout  time.Duration
	upstream *prometheus.CounterVec
	logger   *zap.Logger
}

// ForwardOptions configures the proxy stage.
type ForwardOptions struct {
	Transport  http.RoundTripper
	Timeout    time.Duration
	Registerer prometheus.Registerer
}

func NewForwardStage(routes []Route, opts ForwardOptions, logger *zap.Logger) (*ForwardStage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	upstream := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "upstream_responses_total",
		Help:      "Responses returned by upstream services partitioned by route and status code.",
	}, []string{"route", "status"})
	if err := reg.Register(upstream); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("register upstream collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing upstream collector has unexpected type %T", already.ExistingCollector)
		}
		upstream = existing
	}

	s := &ForwardStage{
		proxies:  make(map[string]*httputil.ReverseProxy, len(routes)),
		timeout:  opts.Timeout,
		upstream: upstream,
		logger:   logger,
	}
	for _, r := range routes {
		s.proxies[r.Name] = s.newProxy(r, opts.Transport)
	}
	return s, nil
}

func (s *ForwardStage) Name() string { return "forward" }

func (s *ForwardStage) Run(ex *Exchange) Result {
	if ex.Route == nil {
		return Terminal(http.StatusNotFound, errorBody("Route not found"))
	}
	proxy, ok := s.proxies[ex.Route.Name]
	if !ok {
		return Terminal(http.StatusNotFound, errorBody("Route not found"))
	}

	// The upstream call outlives a disconnecting client; only the timeout
	// bounds it. The context must have a Done channel, otherwise the proxy
	// falls back to cancelling on client close notification.
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ex.Request.Context()), s.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.WithoutCancel(ex.Request.Context()))
	}
	defer cancel()

	req := ex.Request.WithContext(ctx)
	defaultJSONContentType(req)
	if ex.TraceID != "" {
		req.Header.Set(middleware.TraceIDHeader, ex.TraceID)
	}
	if reqID := applogger.RequestIDFromContext(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	proxy.ServeHTTP(ex.Writer, req)
	return Served()
}

func (s *ForwardStage) newProxy(route Route, transport http.RoundTripper) *httputil.ReverseProxy {
	target := route.Target
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			status := strconv.Itoa(resp.StatusCode)
			s.upstream.WithLabelValues(route.Name, status).Inc()
			s.logger.Info("upstream responded",
				zap.String("route", route.Name),
				zap.String("path", resp.Request.URL.Path),
				zap.Int("status", resp.StatusCode),
			)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.upstream.WithLabelValues(route.Name, strconv.Itoa(http.StatusBadGateway)).Inc()
			s.logger.Error("upstream request failed",
				zap.String("route", route.Name),
				zap.String("path", r.URL.Path),
				zap.String("trace_id", r.Header.Get(middleware.TraceIDHeader)),
				zap.Error(err),
			)
			writeJSON(w, http.StatusBadGateway, errorBody("Upstream service unavailable"))
		},
	}
}

// defaultJSONContentType marks body-carrying requests without a content
// type as JSON. Explicit types, multipart included, are left alone.
func defaultJSONContentType(r *http.Request) {
	if r.Header.Get("Content-Type") != "" || r.Body == nil || r.Body == http.NoBody {
		return
	}
	r.Header.Set("Content-Type", "application/json")
}
