// Package server exposes the HTTP API: enqueue document ingestion, answer
// questions over the knowledge graph, report health.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/graphloom/loom/internal/queue"
	mid "github.com/graphloom/loom/internal/server/middleware"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/query"
)

// QueryService answers one question. Satisfied by *query.Client.
type QueryService interface {
	Ask(ctx context.Context, question string, opts ...query.AskOption) (query.Answer, error)
}

// Params configures the server. Queries and Ingest are mandatory.
type Params struct {
	Queries QueryService
	Ingest  queue.Publisher

	// Ping checks collaborators for the health endpoint. Optional.
	Ping func(ctx context.Context) error

	// JWKSURL enables bearer-token auth on the API routes when set.
	JWKSURL string

	// BodyLimit caps request bodies. Default "2M"; the API carries refs,
	// not document content.
	BodyLimit string
}

// Server is the configured HTTP API.
type Server struct {
	echo    *echo.Echo
	queries QueryService
	ingest  queue.Publisher
	ping    func(ctx context.Context) error
}

// CustomValidator adapts go-playground/validator to echo's Validator
// interface, turning validation failures into 400s.
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// New assembles the echo app: request logging, recovery, CORS, body
// limit, optional JWKS bearer auth, and the API routes.
func New(p Params) (*Server, error) {
	if p.Queries == nil {
		return nil, errors.New("server: needs a query service")
	}
	if p.Ingest == nil {
		return nil, errors.New("server: needs an ingest publisher")
	}
	if p.BodyLimit == "" {
		p.BodyLimit = "2M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("[Server] Request",
				"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency", v.Latency, "remote", v.RemoteIP)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(p.BodyLimit))

	s := &Server{echo: e, queries: p.Queries, ingest: p.Ingest, ping: p.Ping}

	var guards []echo.MiddlewareFunc
	if p.JWKSURL != "" {
		k, err := keyfunc.NewDefault([]string{p.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("server: loading jwks: %w", err)
		}
		guards = append(guards, mid.BearerAuth(k))
	}
	s.registerRoutes(guards...)
	return s, nil
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
// with a 10 second drain window.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("[Server] Listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("[Server] Shutting down")
	return s.echo.Shutdown(shutdownCtx)
}
