// Package ops serves the operator HTTP endpoints that sit beside the RPC
// listener: liveness, database health and connection-pool statistics.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/telehealth/internal/platform/db"
	"github.com/ehr/telehealth/internal/platform/middleware"
	"github.com/ehr/telehealth/internal/platform/rpc"
)

// StatsFunc reports the RPC pool counters.
type StatsFunc func() rpc.Stats

// Server is the ops HTTP server.
type Server struct {
	echo     *echo.Echo
	addr     string
	listener net.Listener
	logger   zerolog.Logger
	started  time.Time
}

// Config wires the endpoints. DB and PoolStats are nil for the memory store,
// in which case /health/db reports the store kind instead of pinging.
type Config struct {
	Addr       string
	Store      string
	Stats      StatsFunc
	Operations []string
	DB         db.Pinger
	PoolStats  func() *db.PoolStats
}

func New(cfg Config, logger zerolog.Logger) *Server {
	log := logger.With().Str("component", "ops").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(log, "/health", "/health/db"))
	e.Use(middleware.Recovery(log))
	e.Use(middleware.SecurityHeaders())

	s := &Server{echo: e, addr: cfg.Addr, logger: log, started: time.Now()}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.DB != nil {
		e.GET("/health/db", db.HealthHandler(cfg.DB, cfg.PoolStats))
	} else {
		e.GET("/health/db", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "store": cfg.Store})
		})
	}

	e.GET("/stats", func(c echo.Context) error {
		body := map[string]interface{}{
			"store":          cfg.Store,
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
		}
		if cfg.Stats != nil {
			body["rpc"] = cfg.Stats()
		}
		if cfg.Operations != nil {
			body["operations"] = cfg.Operations
		}
		if cfg.PoolStats != nil {
			body["db_pool"] = cfg.PoolStats()
		}
		return c.JSON(http.StatusOK, body)
	})

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ops: failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.echo.Listener = ln

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("ops server stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("ops server listening")
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
