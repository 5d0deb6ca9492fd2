// Package gateway implements the public entry point: every inbound request
// passes an ordered list of stages before it is proxied to a service.
package gateway

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/middleware"
)

// ErrorBody is the JSON body of every response the gateway produces itself.
type ErrorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func errorBody(message string) ErrorBody {
	return ErrorBody{Success: false, Message: message}
}

// Exchange is the per-request state handed from stage to stage.
type Exchange struct {
	Writer    http.ResponseWriter
	Request   *http.Request
	ClientIP  string
	TraceID   string
	Route     *Route
	Principal *domain.Principal
}

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeTerminal
	outcomeServed
)

// Result tells the driver whether to run the next stage.
type Result struct {
	outcome outcome
	status  int
	body    any
}

// Continue passes the exchange to the next stage.
func Continue() Result {
	return Result{outcome: outcomeContinue}
}

// Terminal ends the pipeline; the driver writes status and body as JSON.
func Terminal(status int, body any) Result {
	return Result{outcome: outcomeTerminal, status: status, body: body}
}

// Served ends the pipeline after a stage wrote the response itself.
func Served() Result {
	return Result{outcome: outcomeServed}
}

// IsTerminal reports whether the pipeline stops at this result.
func (r Result) IsTerminal() bool {
	return r.outcome != outcomeContinue
}

// Status is the status a Terminal result responds with.
func (r Result) Status() int {
	return r.status
}

// Stage is one step of the gateway pipeline.
type Stage interface {
	Name() string
	Run(ex *Exchange) Result
}

// Pipeline drives stages in order until one of them is terminal.
type Pipeline struct {
	stages []Stage
	logger *zap.Logger
}

func NewPipeline(logger *zap.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// ServeHTTP runs the pipeline outside gin.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	p.run(&Exchange{Writer: w, Request: r, ClientIP: ip, TraceID: r.Header.Get(middleware.TraceIDHeader)})
}

// Handle mounts the pipeline on a gin engine.
func (p *Pipeline) Handle(c *gin.Context) {
	ex := &Exchange{
		Writer:   c.Writer,
		Request:  c.Request,
		ClientIP: c.ClientIP(),
		TraceID:  middleware.GetTraceID(c),
	}
	p.run(ex)
	if ex.Principal != nil {
		c.Set(middleware.UserIDKey, ex.Principal.UserID)
	}
	c.Abort()
}

func (p *Pipeline) run(ex *Exchange) {
	for _, stage := range p.stages {
		res := stage.Run(ex)
		switch res.outcome {
		case outcomeContinue:
			continue
		case outcomeTerminal:
			p.logger.Debug("pipeline stopped",
				zap.String("stage", stage.Name()),
				zap.Int("status", res.status),
				zap.String("path", ex.Request.URL.Path),
				zap.String("trace_id", ex.TraceID),
			)
			writeJSON(ex.Writer, res.status, res.body)
			return
		case outcomeServed:
			return
		}
	}

	p.logger.Error("pipeline finished without a response", zap.String("path", ex.Request.URL.Path))
	writeJSON(ex.Writer, http.StatusInternalServerError, errorBody("Internal server error"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
