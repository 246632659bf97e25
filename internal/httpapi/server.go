// Package httpapi exposes the operational HTTP surface: health, a small
// state summary, and Prometheus metrics. It never speaks the session
// protocol; clients of the writing app connect over TCP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inksprint/server/internal/registry"
)

// Server serves the operational endpoints.
type Server struct {
	echo *echo.Echo
	reg  *registry.Registry
	log  *slog.Logger
}

type stateResponse struct {
	SessionsOnline int     `json:"sessions_online"`
	OnlineUserIDs  []int64 `json:"online_user_ids"`
	Time           string  `json:"time"`
}

func New(reg *registry.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, reg: reg, log: log}
	e.GET("/health", s.handleHealth)
	e.GET("/api/state", s.handleState)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return s
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(c echo.Context) error {
	ids := s.reg.OnlineIDs()
	return c.JSON(http.StatusOK, stateResponse{
		SessionsOnline: len(ids),
		OnlineUserIDs:  ids,
		Time:           time.Now().UTC().Format(time.RFC3339),
	})
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()

	s.log.Info("http api listening", "addr", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
