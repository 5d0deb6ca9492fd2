// Package app assembles each ChatterNet service from configuration and runs
// its HTTP server and event subscriptions until the context ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/eventbus"
)

const shutdownTimeout = 10 * time.Second

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Application is one running service: an HTTP engine, the subscriptions
// feeding its consumers and the resources they share.
type Application struct {
	cfg     *config.AppConfig
	engine  *gin.Engine
	logger  *zap.Logger
	subs    []*eventbus.Subscription
	closers []closer
}

// Engine exposes the HTTP handler, mainly for tests.
func (a *Application) Engine() http.Handler {
	return a.engine
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.release()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting service",
		zap.String("service", a.cfg.App.Name),
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.Int("subscriptions", len(a.subs)),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("service stopped", zap.String("service", a.cfg.App.Name))
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// release stops consumers first, then closes resources in reverse order of
// acquisition.
func (a *Application) release() {
	for _, s := range a.subs {
		s.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeAll(ctx, a.logger, a.closers)
}

func closeAll(ctx context.Context, log *zap.Logger, closers []closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			log.Warn("failed to release resource", zap.String("resource", c.name), zap.Error(err))
		}
	}
}
