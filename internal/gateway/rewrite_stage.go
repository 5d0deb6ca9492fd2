package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Route maps an external prefix onto a service.
type Route struct {
	Name           string
	Prefix         string
	Target         *url.URL
	InternalPrefix string
	Protected      bool
}

// NewRoute parses target and builds a route.
func NewRoute(name, prefix, target, internalPrefix string, protected bool) (Route, error) {
	u, err := url.Parse(target)
	if err != nil {
		return Route{}, fmt.Errorf("route %s: parse target: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Route{}, fmt.Errorf("route %s: target %q must be an absolute url", name, target)
	}
	return Route{Name: name, Prefix: prefix, Target: u, InternalPrefix: internalPrefix, Protected: protected}, nil
}

// ProtectedPrefixes lists the prefixes of routes that require a token.
func ProtectedPrefixes(routes []Route) []string {
	out := make([]string, 0, len(routes))
	for _, r := range routes {
		if r.Protected {
			out = append(out, r.Prefix)
		}
	}
	return out
}

// RewriteStage resolves the route and rewrites /v1/<svc>/... to the
// service's internal path.
type RewriteStage struct {
	routes []Route
	logger *zap.Logger
}

func NewRewriteStage(routes []Route, logger *zap.Logger) *RewriteStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RewriteStage{routes: routes, logger: logger}
}

func (s *RewriteStage) Name() string { return "rewrite" }

func (s *RewriteStage) Run(ex *Exchange) Result {
	path := ex.Request.URL.Path
	for i := range s.routes {
		route := &s.routes[i]
		if !matchPrefix(path, route.Prefix) {
			continue
		}
		ex.Route = route
		ex.Request.URL.Path = route.InternalPrefix + strings.TrimPrefix(path, route.Prefix)
		ex.Request.URL.RawPath = rewriteRawPath(ex.Request.URL.RawPath, route)
		return Continue()
	}

	s.logger.Debug("no route", zap.String("path", path), zap.String("trace_id", ex.TraceID))
	return Terminal(http.StatusNotFound, errorBody("Route not found"))
}

// rewriteRawPath keeps escapes such as %2F intact across the prefix swap.
// An escaped form that does not start with the public prefix is dropped and
// the upstream sees the decoded path re-encoded.
func rewriteRawPath(raw string, route *Route) string {
	if raw == "" || !matchPrefix(raw, route.Prefix) {
		return ""
	}
	return route.InternalPrefix + strings.TrimPrefix(raw, route.Prefix)
}
