// Package http provides the HTTP surface for hermesindex.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hermesindex/hermesindex/internal/enrichment"
	"github.com/hermesindex/hermesindex/internal/herrors"
	"github.com/hermesindex/hermesindex/internal/logging"
	"github.com/hermesindex/hermesindex/internal/search"
	"github.com/hermesindex/hermesindex/internal/source"
	"github.com/hermesindex/hermesindex/internal/statestore"
	"github.com/hermesindex/hermesindex/internal/vectorstore"
)

// Server provides the hermesindex HTTP API (§4.10).
type Server struct {
	echo         *echo.Echo
	orchestrator *search.Orchestrator
	readers      map[string]source.Reader
	state        statestore.Store
	vectors      vectorstore.Store
	enrichment   enrichment.Store
	sourceNames  []string
	logger       *logging.Logger
	config       *Config
	metrics      *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// ExcludeNSFWDefault and NSFWThreshold mirror search.exclude_nsfw_default
	// and search.nsfw_threshold (§6) so /search doesn't hardcode them.
	ExcludeNSFWDefault bool
	NSFWThreshold      float32
}

// Deps bundles the orchestrator's collaborators the HTTP layer needs
// directly (for /search_keyword, /hydrate, and /status).
type Deps struct {
	Orchestrator *search.Orchestrator
	Readers      map[string]source.Reader
	State        statestore.Store
	Vectors      vectorstore.Store
	Enrichment   enrichment.Store
	SourceNames  []string
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "0.0.0.0", Port: 9090, NSFWThreshold: 0.7}
	}
	if cfg.NSFWThreshold == 0 {
		cfg.NSFWThreshold = 0.7
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	httpMetrics := NewHTTPMetrics(logger.Underlying())

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(httpMetrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:         e,
		orchestrator: deps.Orchestrator,
		readers:      deps.Readers,
		state:        deps.State,
		vectors:      deps.Vectors,
		enrichment:   deps.Enrichment,
		sourceNames:  deps.SourceNames,
		logger:       logger,
		config:       cfg,
		metrics:      httpMetrics,
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/search", s.handleSearch)
	s.echo.GET("/search_keyword", s.handleSearchKeyword)
	s.echo.GET("/hydrate", s.handleHydrate)
	s.echo.GET("/status", s.handleStatus)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// writeError writes the uniform {error:{kind,message}} body (§4.10), mapping
// the error's herrors.Kind onto an HTTP status.
func writeError(c echo.Context, err error) error {
	kind, ok := herrors.KindOf(err)
	if !ok {
		return c.JSON(http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{Kind: "UNKNOWN", Message: err.Error()}})
	}

	status := http.StatusInternalServerError
	switch kind {
	case herrors.KindEmptyQuery:
		status = http.StatusBadRequest
	case herrors.KindNotFound:
		status = http.StatusNotFound
	case herrors.KindEmbedUnavailable, herrors.KindVectorUnavailable, herrors.KindEmbedBusy, herrors.KindDBUnavailable:
		status = http.StatusServiceUnavailable
	case herrors.KindCancelled:
		status = 499
	case herrors.KindConfigInvalid, herrors.KindDimMismatch, herrors.KindVersionMismatch:
		status = http.StatusInternalServerError
	}

	return c.JSON(status, ErrorBody{Error: ErrorDetail{Kind: string(kind), Message: err.Error()}})
}

func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryInt64(c echo.Context, name string, def int64) int64 {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func queryBool(c echo.Context, name string, def bool) bool {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
