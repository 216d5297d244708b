// Package httpapi exposes a small operator-facing HTTP surface (health and
// metrics) on a separate address from the chat listener. It is adapted from
// the teacher's api.go, re-keyed from room/voice state to the group
// registry and relay counters.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/htrefil/multichat/internal/group"
	"github.com/htrefil/multichat/internal/metrics"
)

// Server is the admin Echo application.
type Server struct {
	echo     *echo.Echo
	registry *group.Registry
	counters *metrics.Counters
}

// New constructs the admin HTTP application.
func New(registry *group.Registry, counters *metrics.Counters) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger())

	s := &Server{echo: e, registry: registry, counters: counters}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			slog.Debug("admin http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/metrics", s.handleMetrics)
}

// Run starts the admin server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutCtx)
	}
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleMetrics(c echo.Context) error {
	snap := metrics.Snapshot{
		ActiveConnections: s.counters.ActiveConnections.Load(),
		ActiveGroups:      s.registry.GroupCount(),
		MessagesRelayed:   s.counters.MessagesRelayed.Load(),
		BytesRelayed:      s.counters.BytesRelayed.Load(),
		LaggedDisconnects: s.counters.LaggedDisconnects.Load(),
	}
	return c.JSON(http.StatusOK, snap)
}
